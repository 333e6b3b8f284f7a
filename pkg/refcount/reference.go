package refcount

import (
	"sync"

	"github.com/srand/jolt/bridge/pkg/ids"
	"github.com/srand/jolt/bridge/pkg/utils"
)

// Reference is a held local reference. Release gives it back exactly once.
type Reference struct {
	id      ids.ObjectID
	once    sync.Once
	release func(ids.ObjectID) error
}

// NewReference wraps an already acquired reference.
func NewReference(id ids.ObjectID, release func(ids.ObjectID) error) *Reference {
	return &Reference{id: id, release: release}
}

func (r *Reference) ID() ids.ObjectID {
	return r.id
}

// Release the reference. Calls after the first return ErrReleased.
func (r *Reference) Release() error {
	err := utils.ErrReleased
	r.once.Do(func() {
		err = r.release(r.id)
	})
	return err
}
