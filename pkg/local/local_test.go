package local

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srand/jolt/bridge/pkg/buffer"
	"github.com/srand/jolt/bridge/pkg/core"
	"github.com/srand/jolt/bridge/pkg/ids"
	"github.com/srand/jolt/bridge/pkg/store"
	"github.com/srand/jolt/bridge/pkg/task"
	"github.com/srand/jolt/bridge/pkg/utils"
)

func testNode() *Node {
	n := NewNode()
	n.ID = ids.NewNodeID()
	n.Resources["CPU"] = 2
	return n
}

func newWorker(t *testing.T, threshold int64) *CoreWorker {
	w := NewCoreWorker(store.NewMemoryStore(nil, 0, nil), Config{
		JobID:           ids.NewJobID(7),
		Node:            testNode(),
		InlineThreshold: threshold,
		Threads:         2,
	})
	w.Start()
	t.Cleanup(w.Stop)
	return w
}

func sealReturn(w *CoreWorker, id ids.ObjectID, data string, inlined *int64) error {
	obj, err := w.AllocateReturnObject(id, len(data), nil, nil, inlined)
	if err != nil {
		return err
	}
	copy(obj.Data.Bytes(), data)
	return w.SealReturnObject(obj)
}

func TestNode(t *testing.T) {
	n := testNode()
	assert.True(t, n.Fulfills(task.Resources{"CPU": 2}))
	assert.False(t, n.Fulfills(task.Resources{"CPU": 3}))
	assert.False(t, n.Fulfills(task.Resources{"GPU": 1}))
	assert.True(t, n.Fulfills(task.Resources{"GPU": 0}))

	require.NoError(t, n.AddResources([]string{"GPU=1", "CPU=8"}))
	assert.True(t, n.Fulfills(task.Resources{"CPU": 8, "GPU": 1}))
	assert.Error(t, n.AddResources([]string{"GPU"}))

	lines := strings.Split(strings.TrimSpace(n.String()), "\n")
	assert.Equal(t, []string{"node.id=" + n.ID.Hex(), "CPU=8", "GPU=1"}, lines)
}

func TestNodeWithDefaults(t *testing.T) {
	n := NewNodeWithDefaults()
	assert.False(t, n.ID.IsNil())
	assert.Greater(t, n.Resources["CPU"], 0.0)
}

func TestPutAndGet(t *testing.T) {
	w := newWorker(t, 0)

	id, err := w.Put(buffer.BorrowValue([]byte("data"), []byte("meta")), nil)
	require.NoError(t, err)
	assert.True(t, id.IsPut())
	assert.Equal(t, w.JobID(), id.TaskID().JobID())

	owner, err := w.GetOwnerAddress(id)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), owner)

	objects, err := w.Get(context.Background(), []ids.ObjectID{id}, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), objects[0].Data.Bytes())
	assert.Equal(t, []byte("meta"), objects[0].Meta.Bytes())

	next, err := w.Put(buffer.BorrowValue([]byte("data"), nil), nil)
	require.NoError(t, err)
	assert.NotEqual(t, id, next)
}

func TestUnknownOwner(t *testing.T) {
	w := newWorker(t, 0)

	_, err := w.GetOwnerAddress(ids.ObjectIDForPut(ids.NewTaskID(w.JobID()), 1))
	assert.ErrorIs(t, err, utils.ErrNotFound)

	_, err = w.GetObjectRefs([]ids.ObjectID{ids.ObjectIDForPut(ids.NewTaskID(w.JobID()), 1)})
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestReferencesCollectObjects(t *testing.T) {
	w := newWorker(t, 0)

	id, err := w.Put(buffer.BorrowValue([]byte("data"), nil), nil)
	require.NoError(t, err)

	require.NoError(t, w.AddLocalReference(id))
	require.NoError(t, w.AddLocalReference(id))
	require.NoError(t, w.RemoveLocalReference(id))
	assert.True(t, w.Store().Contains(id))

	require.NoError(t, w.RemoveLocalReference(id))
	assert.False(t, w.Store().Contains(id))
	assert.ErrorIs(t, w.RemoveLocalReference(id), utils.ErrNoReference)

	_, err = w.GetOwnerAddress(id)
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestSubmitTask(t *testing.T) {
	w := newWorker(t, 0)

	var seen *task.Spec
	w.SetTaskHandler(func(ctx context.Context, spec *task.Spec, args []*core.Object) error {
		seen = spec
		var inlined int64
		for i, id := range spec.ReturnIDs {
			if err := sealReturn(w, id, string(args[i].Data.Bytes())+"!", &inlined); err != nil {
				return err
			}
		}
		return nil
	})

	args := []task.Arg{
		task.ByValue(buffer.BorrowValue([]byte("a"), nil)),
		task.ByValue(buffer.BorrowValue([]byte("b"), nil)),
	}
	returnIDs, err := w.SubmitTask(task.FunctionDescriptor{Name: "bang"}, args, task.Options{NumReturns: 2, MaxRetries: 1, ConcurrencyGroup: "io"}, task.SchedulingStrategy{})
	require.NoError(t, err)
	require.Len(t, returnIDs, 2)

	for _, id := range returnIDs {
		assert.Equal(t, 1, w.ReferenceCount(id))
		owner, err := w.GetOwnerAddress(id)
		require.NoError(t, err)
		assert.Equal(t, w.Address(), owner)
	}

	objects, err := w.Get(context.Background(), returnIDs, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("a!"), objects[0].Data.Bytes())
	assert.Equal(t, []byte("b!"), objects[1].Data.Bytes())

	w.Wait()
	assert.Equal(t, "bang", seen.Function.Name)
	assert.Equal(t, "io", seen.ConcurrencyGroup)
	assert.Equal(t, w.Address(), seen.Caller)
	assert.Equal(t, returnIDs, seen.ReturnIDs)

	stats := w.Statistics()
	assert.Equal(t, int64(1), stats.TasksSubmitted)
	assert.Equal(t, int64(1), stats.TasksFinished)
}

func TestSubmitValidation(t *testing.T) {
	w := newWorker(t, 0)

	_, err := w.SubmitTask(task.FunctionDescriptor{}, nil, task.Options{NumReturns: 1}, task.SchedulingStrategy{})
	assert.ErrorIs(t, err, utils.ErrBadRequest)

	_, err = w.SubmitTask(task.FunctionDescriptor{Name: "f"}, nil, task.Options{NumReturns: -1}, task.SchedulingStrategy{})
	assert.ErrorIs(t, err, utils.ErrBadRequest)

	_, err = w.SubmitTask(task.FunctionDescriptor{Name: "f"}, nil, task.Options{Resources: task.Resources{"CPU": -1}}, task.SchedulingStrategy{})
	assert.ErrorIs(t, err, utils.ErrBadRequest)

	_, err = w.SubmitTask(task.FunctionDescriptor{Name: "f"}, nil, task.Options{Resources: task.Resources{"CPU": 16}}, task.SchedulingStrategy{})
	assert.ErrorIs(t, err, utils.ErrUnschedulable)

	assert.Equal(t, int64(0), w.Statistics().TasksSubmitted)
}

func TestFailedTaskStoresErrors(t *testing.T) {
	w := newWorker(t, 0)

	w.SetTaskHandler(func(ctx context.Context, spec *task.Spec, args []*core.Object) error {
		if err := sealReturn(w, spec.ReturnIDs[0], "ok", nil); err != nil {
			return err
		}
		if _, err := w.AllocateReturnObject(spec.ReturnIDs[1], 3, nil, nil, nil); err != nil {
			return err
		}
		return errors.New("crashed")
	})

	returnIDs, err := w.SubmitTask(task.FunctionDescriptor{Name: "crash"}, nil, task.Options{NumReturns: 3}, task.SchedulingStrategy{})
	require.NoError(t, err)

	objects, err := w.Get(context.Background(), returnIDs[:1], 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), objects[0].Data.Bytes())

	for _, id := range returnIDs[1:] {
		_, err := w.Get(context.Background(), []ids.ObjectID{id}, 5*time.Second)
		assert.ErrorIs(t, err, utils.ErrTaskFailed)
		assert.Contains(t, err.Error(), "crashed")
	}

	objects, err = w.Store().Get(context.Background(), returnIDs[2:], 0)
	require.NoError(t, err)
	assert.True(t, objects[0].IsError())
}

func TestMissingHandlerFailsTask(t *testing.T) {
	w := newWorker(t, 0)

	returnIDs, err := w.SubmitTask(task.FunctionDescriptor{Name: "f"}, nil, task.Options{NumReturns: 1}, task.SchedulingStrategy{})
	require.NoError(t, err)

	_, err = w.Get(context.Background(), returnIDs, 5*time.Second)
	assert.ErrorIs(t, err, utils.ErrTaskFailed)
}

func TestInlineThreshold(t *testing.T) {
	w := newWorker(t, 10)

	var inlined []bool
	w.SetTaskHandler(func(ctx context.Context, spec *task.Spec, args []*core.Object) error {
		var total int64
		for _, id := range spec.ReturnIDs {
			obj, err := w.AllocateReturnObject(id, 6, nil, nil, &total)
			if err != nil {
				return err
			}
			inlined = append(inlined, obj.Inlined)
			if err := w.SealReturnObject(obj); err != nil {
				return err
			}
		}
		return nil
	})

	returnIDs, err := w.SubmitTask(task.FunctionDescriptor{Name: "f"}, nil, task.Options{NumReturns: 2}, task.SchedulingStrategy{})
	require.NoError(t, err)
	_, err = w.Get(context.Background(), returnIDs, 5*time.Second)
	require.NoError(t, err)

	w.Wait()
	assert.Equal(t, []bool{true, false}, inlined)
	assert.Equal(t, int64(1), w.Statistics().ReturnsInlined)
}

func TestReferencedArgumentsArePinned(t *testing.T) {
	w := newWorker(t, 0)

	put, err := w.Put(buffer.BorrowValue([]byte("arg"), nil), nil)
	require.NoError(t, err)
	require.NoError(t, w.AddLocalReference(put))

	var during int
	w.SetTaskHandler(func(ctx context.Context, spec *task.Spec, args []*core.Object) error {
		during = w.ReferenceCount(put)
		return sealReturn(w, spec.ReturnIDs[0], string(args[0].Data.Bytes()), nil)
	})

	returnIDs, err := w.SubmitTask(task.FunctionDescriptor{Name: "f"}, []task.Arg{task.ByReference(put, w.Address())}, task.Options{NumReturns: 1}, task.SchedulingStrategy{})
	require.NoError(t, err)

	objects, err := w.Get(context.Background(), returnIDs, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("arg"), objects[0].Data.Bytes())

	w.Wait()
	assert.Equal(t, 2, during)
	assert.Equal(t, 1, w.ReferenceCount(put))
}

func TestSealWithoutAllocate(t *testing.T) {
	w := newWorker(t, 0)

	err := w.SealReturnObject(&core.ReturnObject{ID: ids.ObjectIDForReturn(ids.NewTaskID(w.JobID()), 0)})
	assert.ErrorIs(t, err, utils.ErrStoreFailure)
}

func TestSubmitAfterStop(t *testing.T) {
	w := newWorker(t, 0)
	w.SetTaskHandler(func(ctx context.Context, spec *task.Spec, args []*core.Object) error {
		t.Error("task executed after stop")
		return nil
	})
	w.Stop()

	returnIDs, err := w.SubmitTask(task.FunctionDescriptor{Name: "late"}, nil, task.Options{NumReturns: 1}, task.SchedulingStrategy{})
	require.NoError(t, err)

	_, err = w.Get(context.Background(), returnIDs, 0)
	assert.ErrorIs(t, err, utils.ErrTaskFailed)
	assert.Contains(t, err.Error(), "worker stopped")
	assert.Equal(t, int64(1), w.Statistics().TasksFailed)
}

func TestSubmitDoesNotWaitForExecution(t *testing.T) {
	w := NewCoreWorker(store.NewMemoryStore(nil, 0, nil), Config{
		JobID:   ids.NewJobID(7),
		Node:    testNode(),
		Threads: 1,
	})
	w.Start()
	t.Cleanup(w.Stop)

	gate := make(chan struct{})
	w.SetTaskHandler(func(ctx context.Context, spec *task.Spec, args []*core.Object) error {
		<-gate
		return sealReturn(w, spec.ReturnIDs[0], "done", nil)
	})

	submitted := make(chan []ids.ObjectID)
	go func() {
		var returnIDs []ids.ObjectID
		for i := 0; i < 3; i++ {
			out, err := w.SubmitTask(task.FunctionDescriptor{Name: "blocked"}, nil, task.Options{NumReturns: 1}, task.SchedulingStrategy{})
			assert.NoError(t, err)
			returnIDs = append(returnIDs, out...)
		}
		submitted <- returnIDs
	}()

	var returnIDs []ids.ObjectID
	select {
	case returnIDs = <-submitted:
	case <-time.After(5 * time.Second):
		close(gate)
		t.Fatal("SubmitTask waited for a busy worker")
	}
	require.Len(t, returnIDs, 3)

	_, err := w.Get(context.Background(), returnIDs, 0)
	assert.ErrorIs(t, err, utils.ErrTimeout, "returns are unresolved until the tasks run")

	close(gate)
	objects, err := w.Get(context.Background(), returnIDs, 5*time.Second)
	require.NoError(t, err)
	for _, obj := range objects {
		assert.Equal(t, []byte("done"), obj.Data.Bytes())
	}
}
