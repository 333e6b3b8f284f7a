package store

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/apache/arrow/go/v11/arrow/memory"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/srand/jolt/bridge/pkg/buffer"
	"github.com/srand/jolt/bridge/pkg/ids"
	"github.com/srand/jolt/bridge/pkg/log"
	"github.com/srand/jolt/bridge/pkg/utils"
)

type MockSpillConfig struct {
	mock.Mock
}

func (m *MockSpillConfig) MaxSize() int64 {
	args := m.Called()
	return int64(args.Int(0))
}

type StoreTestSuite struct {
	suite.Suite
	mem  *memory.CheckedAllocator
	task ids.TaskID
}

func (s *StoreTestSuite) SetupTest() {
	log.SetLevel(log.TraceLevel)
	s.mem = memory.NewCheckedAllocator(memory.NewGoAllocator())
	s.task = ids.NewTaskID(ids.NewJobID(1))
}

func (s *StoreTestSuite) id(i int) ids.ObjectID {
	return ids.ObjectIDForReturn(s.task, i)
}

func (s *StoreTestSuite) put(store *MemoryStore, id ids.ObjectID, data, meta string) {
	var m []byte
	if meta != "" {
		m = []byte(meta)
	}
	s.Require().NoError(store.Put(id, buffer.BorrowValue([]byte(data), m), nil))
}

func (s *StoreTestSuite) TestRoundTrip() {
	store := NewMemoryStore(s.mem, 0, nil)

	w, err := store.Create(s.id(0), 5, []byte("text"), nil)
	s.Require().NoError(err)
	s.Equal(5, w.Data().Len())
	copy(w.Data().Bytes(), "hello")
	s.False(store.Contains(s.id(0)))
	s.Require().NoError(w.Seal())
	s.True(store.Contains(s.id(0)))

	objects, err := store.Get(context.Background(), []ids.ObjectID{s.id(0)}, 0)
	s.Require().NoError(err)
	s.Require().Len(objects, 1)
	s.Equal([]byte("hello"), objects[0].Data.Bytes())
	s.Equal([]byte("text"), objects[0].Meta.Bytes())
	s.False(objects[0].Data.Owned())

	s.Require().NoError(store.Delete(s.id(0)))
	s.mem.AssertSize(s.T(), 0)
}

func (s *StoreTestSuite) TestMissingMetaIsNil() {
	store := NewMemoryStore(s.mem, 0, nil)
	s.put(store, s.id(0), "hello", "")

	objects, err := store.Get(context.Background(), []ids.ObjectID{s.id(0)}, 0)
	s.Require().NoError(err)
	s.Nil(objects[0].Meta)
	s.False(objects[0].Value().HasMeta())
}

func (s *StoreTestSuite) TestCreateIsNotIdempotent() {
	store := NewMemoryStore(s.mem, 0, nil)

	w, err := store.Create(s.id(0), 1, nil, nil)
	s.Require().NoError(err)

	_, err = store.Create(s.id(0), 1, nil, nil)
	s.ErrorIs(err, ErrObjectExists)
	s.ErrorIs(err, utils.ErrStoreFailure)

	s.Require().NoError(w.Seal())
	s.Error(w.Seal())
	s.Error(w.Abort())
}

func (s *StoreTestSuite) TestAbort() {
	store := NewMemoryStore(s.mem, 0, nil)

	w, err := store.Create(s.id(0), 16, []byte("m"), nil)
	s.Require().NoError(err)
	s.Require().NoError(w.Abort())
	s.False(store.Contains(s.id(0)))
	s.mem.AssertSize(s.T(), 0)

	_, err = store.Create(s.id(0), 1, nil, nil)
	s.NoError(err, "aborted objects can be created again")
}

func (s *StoreTestSuite) TestGetPollDoesNotWait() {
	store := NewMemoryStore(s.mem, 0, nil)

	start := time.Now()
	_, err := store.Get(context.Background(), []ids.ObjectID{s.id(0)}, 0)
	s.ErrorIs(err, utils.ErrTimeout)
	s.Less(time.Since(start), time.Second)
	s.Equal(int64(0), store.Statistics().Objects)
}

func (s *StoreTestSuite) TestGetTimeout() {
	store := NewMemoryStore(s.mem, 0, nil)

	_, err := store.Get(context.Background(), []ids.ObjectID{s.id(0)}, 10*time.Millisecond)
	s.ErrorIs(err, utils.ErrTimeout)
	s.NotErrorIs(err, utils.ErrStoreFailure)
}

func (s *StoreTestSuite) TestGetFailsWholeBatch() {
	store := NewMemoryStore(s.mem, 0, nil)
	s.put(store, s.id(0), "present", "")

	objects, err := store.Get(context.Background(), []ids.ObjectID{s.id(0), s.id(1)}, 0)
	s.ErrorIs(err, utils.ErrTimeout)
	s.Nil(objects)
}

func (s *StoreTestSuite) TestGetBlocksUntilSealed() {
	store := NewMemoryStore(s.mem, 0, nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		s.put(store, s.id(0), "late", "")
	}()

	objects, err := store.Get(context.Background(), []ids.ObjectID{s.id(0)}, -1)
	s.Require().NoError(err)
	s.Equal([]byte("late"), objects[0].Data.Bytes())
}

func (s *StoreTestSuite) TestGetBlockingHonoursContext() {
	store := NewMemoryStore(s.mem, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := store.Get(ctx, []ids.ObjectID{s.id(0)}, -1)
	s.ErrorIs(err, context.Canceled)
	s.NotErrorIs(err, utils.ErrTimeout)
}

func (s *StoreTestSuite) TestGetPreservesOrder() {
	store := NewMemoryStore(s.mem, 0, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, i := range []int{2, 0, 1} {
			time.Sleep(5 * time.Millisecond)
			s.put(store, s.id(i), string(rune('a'+i)), "")
		}
	}()

	objects, err := store.Get(context.Background(), []ids.ObjectID{s.id(0), s.id(1), s.id(2)}, time.Minute)
	<-done
	s.Require().NoError(err)
	s.Require().Len(objects, 3)
	for i, obj := range objects {
		s.Equal(s.id(i), obj.ID)
		s.Equal([]byte{byte('a' + i)}, obj.Data.Bytes())
	}
}

func (s *StoreTestSuite) TestDeleteWakesWaiters() {
	store := NewMemoryStore(s.mem, 0, nil)
	w, err := store.Create(s.id(0), 1, nil, nil)
	s.Require().NoError(err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		assert.NoError(s.T(), store.Delete(s.id(0)))
	}()

	_, err = store.Get(context.Background(), []ids.ObjectID{s.id(0)}, time.Minute)
	s.ErrorIs(err, utils.ErrNotFound)
	s.Error(w.Seal())

	s.ErrorIs(store.Delete(s.id(0)), utils.ErrNotFound)
}

func (s *StoreTestSuite) TestStoreFull() {
	store := NewMemoryStore(s.mem, 8, nil)

	s.put(store, s.id(0), "12345", "")
	_, err := store.Create(s.id(1), 4, nil, nil)
	s.ErrorIs(err, ErrStoreFull)
	s.ErrorIs(err, utils.ErrStoreFailure)

	s.Require().NoError(store.Delete(s.id(0)))
	_, err = store.Create(s.id(1), 4, nil, nil)
	s.NoError(err)
}

func (s *StoreTestSuite) newSpill() *SpillCache {
	config := &MockSpillConfig{}
	config.On("MaxSize").Return(1 << 20)

	spill, err := NewSpillCache(afero.NewMemMapFs(), config)
	s.Require().NoError(err)
	return spill
}

func (s *StoreTestSuite) TestSpillAndRestore() {
	store := NewMemoryStore(s.mem, 8, s.newSpill())

	s.put(store, s.id(0), "first", "m1")
	s.put(store, s.id(1), "second", "")

	stats := store.Statistics()
	s.Equal(int64(2), stats.Objects)
	s.Equal(int64(1), stats.Spilled)
	s.Equal(int64(1), stats.Spill.Objects)
	s.LessOrEqual(stats.Size, int64(8))

	objects, err := store.Get(context.Background(), []ids.ObjectID{s.id(0)}, 0)
	s.Require().NoError(err)
	s.Equal([]byte("first"), objects[0].Data.Bytes())
	s.Equal([]byte("m1"), objects[0].Meta.Bytes())

	stats = store.Statistics()
	s.Equal(int64(1), stats.Restored)
	s.Equal(int64(2), stats.Spilled, "second object makes room for the first")

	s.Require().NoError(store.Delete(s.id(0)))
	s.Require().NoError(store.Delete(s.id(1)))
	s.Equal(int64(0), store.Statistics().Spill.Objects)
	s.mem.AssertSize(s.T(), 0)
}

func (s *StoreTestSuite) TestOversizedObjectIsServedFromSpill() {
	store := NewMemoryStore(s.mem, 4, s.newSpill())

	s.put(store, s.id(0), "much too large", "")
	s.True(store.Contains(s.id(0)))

	objects, err := store.Get(context.Background(), []ids.ObjectID{s.id(0)}, 0)
	s.Require().NoError(err)
	s.Equal([]byte("much too large"), objects[0].Data.Bytes())
	s.Equal(int64(1), store.Statistics().Spill.Objects)
}

func (s *StoreTestSuite) TestSpillPressureKeepsObjects() {
	config := &MockSpillConfig{}
	config.On("MaxSize").Return(150)

	spill, err := NewSpillCache(afero.NewMemMapFs(), config)
	s.Require().NoError(err)
	store := NewMemoryStore(s.mem, 128, spill)

	random := rand.New(rand.NewSource(42))
	payloads := make([][]byte, 3)
	objectIDs := make([]ids.ObjectID, 3)
	for i := range payloads {
		payloads[i] = make([]byte, 100)
		_, err := random.Read(payloads[i])
		s.Require().NoError(err)
		objectIDs[i] = s.id(i)
		s.Require().NoError(store.Put(objectIDs[i], buffer.BorrowValue(payloads[i], nil), nil))
	}

	stats := store.Statistics()
	s.Equal(int64(3), stats.Objects)
	s.Equal(int64(1), stats.Spill.Objects, "only one compressed payload fits")
	s.Greater(stats.Spill.Rejected, int64(0))

	for i, id := range objectIDs {
		s.True(store.Contains(id))
		objects, err := store.Get(context.Background(), []ids.ObjectID{id}, 0)
		s.Require().NoError(err, "object %d", i)
		s.Equal(payloads[i], objects[0].Data.Bytes())
	}

	for _, id := range objectIDs {
		s.Require().NoError(store.Delete(id))
	}
	s.Equal(int64(0), store.Statistics().Spill.Objects)
	s.mem.AssertSize(s.T(), 0)
}

func TestStore(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func TestSpillCache(t *testing.T) {
	config := &MockSpillConfig{}
	config.On("MaxSize").Return(1 << 20)

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "objects/aa/bbbb/stale", []byte("x"), 0644))

	spill, err := NewSpillCache(fs, config)
	require.NoError(t, err)

	exists, _ := afero.Exists(fs, "objects/aa/bbbb/stale")
	assert.False(t, exists, "stale objects are removed on start")

	id := ids.ObjectIDForPut(ids.NewTaskID(ids.NewJobID(1)), 1)
	assert.False(t, spill.Has(id))

	_, _, err = spill.Read(id)
	assert.ErrorIs(t, err, utils.ErrNotFound)

	payload := make([]byte, 4096)
	require.NoError(t, spill.Write(id, payload, []byte("meta")))
	assert.True(t, spill.Has(id))

	data, meta, err := spill.Read(id)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Equal(t, []byte("meta"), meta)

	stats := spill.Statistics()
	assert.Equal(t, int64(1), stats.Objects)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Less(t, stats.Size, int64(len(payload)), "payload is compressed")

	require.NoError(t, spill.Remove(id))
	assert.True(t, errors.Is(spill.Remove(id), utils.ErrNotFound))
}

func TestSpillCacheRefusesWhenFull(t *testing.T) {
	config := &MockSpillConfig{}
	config.On("MaxSize").Return(64)

	spill, err := NewSpillCache(afero.NewMemMapFs(), config)
	require.NoError(t, err)

	task := ids.NewTaskID(ids.NewJobID(1))
	first, second := ids.ObjectIDForPut(task, 1), ids.ObjectIDForPut(task, 2)
	require.NoError(t, spill.Write(first, []byte("a"), nil))

	noise := make([]byte, 256)
	_, err = rand.New(rand.NewSource(1)).Read(noise)
	require.NoError(t, err)

	err = spill.Write(second, noise, nil)
	assert.ErrorIs(t, err, ErrSpillFull)
	assert.ErrorIs(t, err, utils.ErrStoreFailure)
	assert.False(t, spill.Has(second))

	assert.True(t, spill.Has(first), "written objects are never dropped")
	data, _, err := spill.Read(first)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), data)

	stats := spill.Statistics()
	assert.Equal(t, int64(1), stats.Objects)
	assert.Equal(t, int64(1), stats.Rejected)

	require.NoError(t, spill.Write(first, []byte("b"), nil), "replacing an object reuses its space")
	data, _, err = spill.Read(first)
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), data)
}
