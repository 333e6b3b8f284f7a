// Package ids implements the fixed-size binary identifiers exchanged with the
// runtime.
//
// Identifiers are value types compared by byte equality. Any byte slice that
// crosses the bridge boundary must be exactly Size bytes long; FromBinary
// functions reject other lengths and the Must variants panic, since a
// malformed identifier is a wiring bug rather than a recoverable condition.
//
// Layout:
//
//	JobID    [4]  job number, little endian
//	ActorID  [16] 12 unique bytes + JobID
//	TaskID   [24] 8 unique bytes + ActorID
//	ObjectID [28] TaskID + 4 byte little endian index
//	NodeID   [28] unique
//	WorkerID [28] unique
//	PlacementGroupID [18] 14 unique bytes + JobID
package ids

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	JobIDSize    = 4
	ActorIDSize  = 12 + JobIDSize
	TaskIDSize   = 8 + ActorIDSize
	ObjectIDSize = TaskIDSize + 4
	UniqueIDSize = 28
	NodeIDSize   = UniqueIDSize
	WorkerIDSize = UniqueIDSize

	PlacementGroupIDSize = 14 + JobIDSize
)

// Objects created by Put carry this bit in their index.
const putIndexFlag = uint32(1) << 31

var ErrInvalidSize = errors.New("invalid identifier size")

type (
	JobID    [JobIDSize]byte
	ActorID  [ActorIDSize]byte
	TaskID   [TaskIDSize]byte
	ObjectID [ObjectIDSize]byte
	NodeID   [NodeIDSize]byte
	WorkerID [WorkerIDSize]byte

	PlacementGroupID [PlacementGroupIDSize]byte
)

func checkSize(kind string, data []byte, size int) error {
	if len(data) != size {
		return errors.Wrapf(ErrInvalidSize, "%s must be %d bytes, got %d", kind, size, len(data))
	}
	return nil
}

func decodeHex(kind string, s string, size int) ([]byte, error) {
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid %s hex string", kind)
	}
	return data, checkSize(kind, data, size)
}

// random fills dst with bytes from random v4 UUIDs.
func random(dst []byte) {
	for off := 0; off < len(dst); {
		u := uuid.New()
		off += copy(dst[off:], u[:])
	}
}

func must[T any](id T, err error) T {
	if err != nil {
		panic(err)
	}
	return id
}

// JobID

func NewJobID(n uint32) JobID {
	var id JobID
	binary.LittleEndian.PutUint32(id[:], n)
	return id
}

func JobIDFromBinary(data []byte) (JobID, error) {
	var id JobID
	if err := checkSize("JobID", data, JobIDSize); err != nil {
		return id, err
	}
	copy(id[:], data)
	return id, nil
}

func MustJobIDFromBinary(data []byte) JobID {
	return must(JobIDFromBinary(data))
}

func (id JobID) Uint32() uint32 { return binary.LittleEndian.Uint32(id[:]) }
func (id JobID) Size() int { return JobIDSize }
func (id JobID) Binary() []byte { return append([]byte(nil), id[:]...) }
func (id JobID) Hex() string { return hex.EncodeToString(id[:]) }
func (id JobID) String() string { return fmt.Sprintf("JobID(%s)", id.Hex()) }
func (id JobID) IsNil() bool { return id == JobID{} }

// ActorID

// NewActorID creates a random actor identifier belonging to a job.
func NewActorID(job JobID) ActorID {
	var id ActorID
	random(id[:ActorIDSize-JobIDSize])
	copy(id[ActorIDSize-JobIDSize:], job[:])
	return id
}

// NilActorID is the actor of tasks that do not belong to an actor.
func NilActorID(job JobID) ActorID {
	var id ActorID
	copy(id[ActorIDSize-JobIDSize:], job[:])
	return id
}

func ActorIDFromBinary(data []byte) (ActorID, error) {
	var id ActorID
	if err := checkSize("ActorID", data, ActorIDSize); err != nil {
		return id, err
	}
	copy(id[:], data)
	return id, nil
}

func MustActorIDFromBinary(data []byte) ActorID {
	return must(ActorIDFromBinary(data))
}

func (id ActorID) JobID() JobID {
	var job JobID
	copy(job[:], id[ActorIDSize-JobIDSize:])
	return job
}

func (id ActorID) Size() int { return ActorIDSize }
func (id ActorID) Binary() []byte { return append([]byte(nil), id[:]...) }
func (id ActorID) Hex() string { return hex.EncodeToString(id[:]) }
func (id ActorID) String() string { return fmt.Sprintf("ActorID(%s)", id.Hex()) }
func (id ActorID) IsNil() bool { return id == ActorID{} }

// TaskID

// NewTaskID creates a random identifier for a normal task of a job.
func NewTaskID(job JobID) TaskID {
	var id TaskID
	random(id[:TaskIDSize-ActorIDSize])
	actor := NilActorID(job)
	copy(id[TaskIDSize-ActorIDSize:], actor[:])
	return id
}

func TaskIDFromBinary(data []byte) (TaskID, error) {
	var id TaskID
	if err := checkSize("TaskID", data, TaskIDSize); err != nil {
		return id, err
	}
	copy(id[:], data)
	return id, nil
}

func MustTaskIDFromBinary(data []byte) TaskID {
	return must(TaskIDFromBinary(data))
}

func (id TaskID) ActorID() ActorID {
	var actor ActorID
	copy(actor[:], id[TaskIDSize-ActorIDSize:])
	return actor
}

func (id TaskID) JobID() JobID { return id.ActorID().JobID() }
func (id TaskID) Size() int { return TaskIDSize }
func (id TaskID) Binary() []byte { return append([]byte(nil), id[:]...) }
func (id TaskID) Hex() string { return hex.EncodeToString(id[:]) }
func (id TaskID) String() string { return fmt.Sprintf("TaskID(%s)", id.Hex()) }
func (id TaskID) IsNil() bool { return id == TaskID{} }

// ObjectID

func objectIDFromIndex(task TaskID, index uint32) ObjectID {
	var id ObjectID
	copy(id[:], task[:])
	binary.LittleEndian.PutUint32(id[TaskIDSize:], index)
	return id
}

// ObjectIDForReturn returns the identifier of the i:th (zero based) return
// value of a task.
func ObjectIDForReturn(task TaskID, i int) ObjectID {
	return objectIDFromIndex(task, uint32(i+1))
}

// ObjectIDForPut returns the identifier of the n:th object put by a task.
func ObjectIDForPut(task TaskID, n uint32) ObjectID {
	return objectIDFromIndex(task, putIndexFlag|n)
}

func ObjectIDFromBinary(data []byte) (ObjectID, error) {
	var id ObjectID
	if err := checkSize("ObjectID", data, ObjectIDSize); err != nil {
		return id, err
	}
	copy(id[:], data)
	return id, nil
}

func MustObjectIDFromBinary(data []byte) ObjectID {
	return must(ObjectIDFromBinary(data))
}

func ObjectIDFromHex(s string) (ObjectID, error) {
	data, err := decodeHex("ObjectID", s, ObjectIDSize)
	if err != nil {
		return ObjectID{}, err
	}
	return ObjectIDFromBinary(data)
}

// The task that created the object.
func (id ObjectID) TaskID() TaskID {
	var task TaskID
	copy(task[:], id[:TaskIDSize])
	return task
}

// Index of the object within its task, without the put flag.
func (id ObjectID) Index() uint32 {
	return binary.LittleEndian.Uint32(id[TaskIDSize:]) &^ putIndexFlag
}

// True if the object was created by Put rather than returned by a task.
func (id ObjectID) IsPut() bool {
	return binary.LittleEndian.Uint32(id[TaskIDSize:])&putIndexFlag != 0
}

func (id ObjectID) Size() int { return ObjectIDSize }
func (id ObjectID) Binary() []byte { return append([]byte(nil), id[:]...) }
func (id ObjectID) Hex() string { return hex.EncodeToString(id[:]) }
func (id ObjectID) String() string { return fmt.Sprintf("ObjectID(%s)", id.Hex()) }
func (id ObjectID) IsNil() bool { return id == ObjectID{} }

func (id ObjectID) MarshalText() ([]byte, error) {
	return []byte(id.Hex()), nil
}

func (id *ObjectID) UnmarshalText(text []byte) error {
	parsed, err := ObjectIDFromHex(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// NodeID

func NewNodeID() NodeID {
	var id NodeID
	random(id[:])
	return id
}

func NodeIDFromBinary(data []byte) (NodeID, error) {
	var id NodeID
	if err := checkSize("NodeID", data, NodeIDSize); err != nil {
		return id, err
	}
	copy(id[:], data)
	return id, nil
}

func MustNodeIDFromBinary(data []byte) NodeID {
	return must(NodeIDFromBinary(data))
}

func NodeIDFromHex(s string) (NodeID, error) {
	data, err := decodeHex("NodeID", s, NodeIDSize)
	if err != nil {
		return NodeID{}, err
	}
	return NodeIDFromBinary(data)
}

func (id NodeID) Binary() []byte { return append([]byte(nil), id[:]...) }
func (id NodeID) Hex() string { return hex.EncodeToString(id[:]) }
func (id NodeID) String() string { return fmt.Sprintf("NodeID(%s)", id.Hex()) }
func (id NodeID) IsNil() bool { return id == NodeID{} }

// WorkerID

func NewWorkerID() WorkerID {
	var id WorkerID
	random(id[:])
	return id
}

func WorkerIDFromBinary(data []byte) (WorkerID, error) {
	var id WorkerID
	if err := checkSize("WorkerID", data, WorkerIDSize); err != nil {
		return id, err
	}
	copy(id[:], data)
	return id, nil
}

func (id WorkerID) Binary() []byte { return append([]byte(nil), id[:]...) }
func (id WorkerID) Hex() string { return hex.EncodeToString(id[:]) }
func (id WorkerID) String() string { return fmt.Sprintf("WorkerID(%s)", id.Hex()) }
func (id WorkerID) IsNil() bool { return id == WorkerID{} }

// PlacementGroupID

// NewPlacementGroupID creates a random placement group identifier of a job.
func NewPlacementGroupID(job JobID) PlacementGroupID {
	var id PlacementGroupID
	random(id[:PlacementGroupIDSize-JobIDSize])
	copy(id[PlacementGroupIDSize-JobIDSize:], job[:])
	return id
}

func PlacementGroupIDFromBinary(data []byte) (PlacementGroupID, error) {
	var id PlacementGroupID
	if err := checkSize("PlacementGroupID", data, PlacementGroupIDSize); err != nil {
		return id, err
	}
	copy(id[:], data)
	return id, nil
}

func (id PlacementGroupID) JobID() JobID {
	var job JobID
	copy(job[:], id[PlacementGroupIDSize-JobIDSize:])
	return job
}

func (id PlacementGroupID) Binary() []byte { return append([]byte(nil), id[:]...) }
func (id PlacementGroupID) Hex() string { return hex.EncodeToString(id[:]) }
func (id PlacementGroupID) String() string { return fmt.Sprintf("PlacementGroupID(%s)", id.Hex()) }
func (id PlacementGroupID) IsNil() bool { return id == PlacementGroupID{} }
