package store

import (
	"encoding/binary"
	"fmt"
	"path"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/srand/jolt/bridge/pkg/ids"
	"github.com/srand/jolt/bridge/pkg/log"
	"github.com/srand/jolt/bridge/pkg/utils"
)

// Spill configuration
type SpillConfig interface {
	// Maximum allowed size of spilled objects in bytes, after compression.
	// Objects that would exceed it stay in memory.
	MaxSize() int64
}

// ErrSpillFull is returned by Write when the object does not fit.
var ErrSpillFull = fmt.Errorf("%w: spill cache is full", utils.ErrStoreFailure)

// Spill statistics
type SpillStats struct {
	// Number of spilled objects on disk
	Objects int64

	// Number of successful reads
	Hits int64

	// Number of reads of objects not on disk
	Misses int64

	// Number of writes refused because the cache was full
	Rejected int64

	// Compressed size of all spilled objects in bytes
	Size int64
}

type spillItem struct {
	id   ids.ObjectID
	path string
	size int64
}

func (i *spillItem) Key() ids.ObjectID {
	return i.id
}

func (i *spillItem) Size() int64 {
	return i.size
}

// SpillCache keeps objects evicted from memory as zstd compressed files.
// The store owns every spilled object, so nothing is dropped until the store
// removes it.
type SpillCache struct {
	sync.Mutex

	config  SpillConfig
	fs      utils.Fs
	objects *utils.LRU[ids.ObjectID, *spillItem]
	stats   SpillStats
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewSpillCache(fs utils.Fs, config SpillConfig) (*SpillCache, error) {
	log.Info("Maximum spill size:", utils.HumanByteSize(config.MaxSize()))

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, err
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}

	cache := &SpillCache{
		config:  config,
		fs:      fs,
		encoder: encoder,
		decoder: decoder,
	}

	cache.objects = utils.NewLRU[ids.ObjectID, *spillItem](0, nil)

	if err := cache.clean(); err != nil {
		return nil, err
	}

	return cache, nil
}

func (c *SpillCache) pathFromID(id ids.ObjectID) string {
	hex := id.Hex()
	return path.Join("objects", hex[:2], hex[2:6], hex[6:])
}

// Has returns true if the object is spilled.
func (c *SpillCache) Has(id ids.ObjectID) bool {
	c.Lock()
	defer c.Unlock()

	_, found := c.objects.Peek(id)
	return found
}

// Write an object to disk, replacing any earlier copy.
// Fails with ErrSpillFull if the compressed object does not fit.
func (c *SpillCache) Write(id ids.ObjectID, data, meta []byte) error {
	c.Lock()
	defer c.Unlock()

	// Layout: uvarint metadata length, metadata, payload.
	frame := binary.AppendUvarint(make([]byte, 0, binary.MaxVarintLen64+len(meta)+len(data)), uint64(len(meta)))
	frame = append(frame, meta...)
	frame = append(frame, data...)
	compressed := c.encoder.EncodeAll(frame, nil)

	used := c.objects.Size()
	if old, ok := c.objects.Peek(id); ok {
		used -= old.size
	}
	if limit := c.config.MaxSize(); limit > 0 && used+int64(len(compressed)) > limit {
		c.stats.Rejected++
		return fmt.Errorf("%w: %s needs %s, %s of %s in use", ErrSpillFull, id.Hex(),
			utils.HumanByteSize(int64(len(compressed))), utils.HumanByteSize(used), utils.HumanByteSize(limit))
	}

	path := c.pathFromID(id)
	dirpath := filepath.Dir(path)
	if err := c.fs.MkdirAll(dirpath, 0777); err != nil {
		return errors.Wrapf(err, "spilling %s", id.Hex())
	}

	file, err := afero.TempFile(c.fs, dirpath, "")
	if err != nil {
		return errors.Wrapf(err, "spilling %s", id.Hex())
	}

	if _, err := file.Write(compressed); err != nil {
		file.Close()
		c.fs.Remove(file.Name())
		return errors.Wrapf(err, "spilling %s", id.Hex())
	}

	if err := file.Close(); err != nil {
		c.fs.Remove(file.Name())
		return errors.Wrapf(err, "spilling %s", id.Hex())
	}

	if err := c.fs.Rename(file.Name(), path); err != nil {
		c.fs.Remove(file.Name())
		return errors.Wrapf(err, "spilling %s", id.Hex())
	}

	c.objects.Add(&spillItem{
		id:   id,
		path: path,
		size: int64(len(compressed)),
	})

	return nil
}

// Read a spilled object back.
func (c *SpillCache) Read(id ids.ObjectID) (data, meta []byte, err error) {
	c.Lock()
	defer c.Unlock()

	path := c.pathFromID(id)

	if _, ok := c.objects.Get(id); !ok {
		c.stats.Misses++
		return nil, nil, utils.ErrNotFound
	}

	compressed, err := afero.ReadFile(c.fs, path)
	if err != nil {
		log.Warn("inconsistent spill cache: file not found on disk:", path)
		c.objects.Remove(id)
		c.stats.Misses++
		return nil, nil, errors.Wrap(err, "restoring spilled object")
	}

	frame, err := c.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: corrupt spilled object %s: %v", utils.ErrStoreFailure, id.Hex(), err)
	}

	size, n := binary.Uvarint(frame)
	if n <= 0 || uint64(len(frame)-n) < size {
		return nil, nil, fmt.Errorf("%w: corrupt spilled object %s", utils.ErrStoreFailure, id.Hex())
	}

	c.stats.Hits++

	frame = frame[n:]
	return frame[size:], frame[:size:size], nil
}

// Remove a spilled object.
func (c *SpillCache) Remove(id ids.ObjectID) error {
	c.Lock()
	defer c.Unlock()

	path := c.pathFromID(id)
	if _, ok := c.objects.Remove(id); !ok {
		return utils.ErrNotFound
	}
	return c.fs.Remove(path)
}

// Returns statistics about the cache.
func (c *SpillCache) Statistics() SpillStats {
	c.Lock()
	defer c.Unlock()

	c.stats.Objects = int64(c.objects.Count())
	c.stats.Size = c.objects.Size()
	return c.stats
}

// Objects spilled by an earlier process can never be referenced again.
func (c *SpillCache) clean() error {
	if err := c.fs.RemoveAll("objects"); err != nil {
		return err
	}
	log.Debug("Removed stale spilled objects")
	return nil
}
