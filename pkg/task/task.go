package task

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/srand/jolt/bridge/pkg/buffer"
	"github.com/srand/jolt/bridge/pkg/ids"
	"github.com/srand/jolt/bridge/pkg/utils"
)

type Type int

const (
	Normal Type = iota
	ActorCreation
	ActorTask
)

func (t Type) String() string {
	switch t {
	case Normal:
		return "NORMAL_TASK"
	case ActorCreation:
		return "ACTOR_CREATION_TASK"
	case ActorTask:
		return "ACTOR_TASK"
	default:
		return fmt.Sprintf("TaskType(%d)", int(t))
	}
}

// FunctionDescriptor identifies the function a task runs.
// Only a single flat name is supported.
type FunctionDescriptor struct {
	Name string
}

// Names returns the descriptor as a one element name list.
func (d FunctionDescriptor) Names() buffer.Slice[string] {
	return buffer.SliceOf(d.Name)
}

func (d FunctionDescriptor) String() string {
	return d.Name
}

// Resources maps resource names to required quantities.
type Resources map[string]float64

func (r Resources) Validate() error {
	for name, quantity := range r {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: empty resource name", utils.ErrBadRequest)
		}
		if quantity < 0 {
			return fmt.Errorf("%w: negative quantity %v for resource %s", utils.ErrBadRequest, quantity, name)
		}
	}
	return nil
}

// Fits returns true if the requirements can be satisfied by the available
// resources. Zero quantities are always satisfied.
func (r Resources) Fits(available Resources) bool {
	for name, quantity := range r {
		if quantity == 0 {
			continue
		}
		if available[name] < quantity {
			return false
		}
	}
	return true
}

func (r Resources) Clone() Resources {
	if r == nil {
		return nil
	}
	c := make(Resources, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// ParseResources parses "name=quantity" entries.
func ParseResources(entries []string) (Resources, error) {
	r := Resources{}
	for _, entry := range entries {
		name, value, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("%w: resource %q: expected name=quantity", utils.ErrParse, entry)
		}
		quantity, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: resource %q: %v", utils.ErrParse, entry, err)
		}
		r[strings.TrimSpace(name)] = quantity
	}
	return r, r.Validate()
}

// Arg is a task argument, either a value or a reference to a stored object.
type Arg struct {
	value *buffer.DataValue
	ref   *reference
}

type reference struct {
	id    ids.ObjectID
	owner Address
}

func ByValue(v buffer.DataValue) Arg {
	return Arg{value: &v}
}

// ByReference creates an argument referring to an object.
// The owner is normally left empty and resolved at submission.
func ByReference(id ids.ObjectID, owner Address) Arg {
	return Arg{ref: &reference{id: id, owner: owner}}
}

func (a Arg) IsByReference() bool {
	return a.ref != nil
}

// Value returns the payload of a by-value argument.
func (a Arg) Value() (buffer.DataValue, bool) {
	if a.value == nil {
		return buffer.DataValue{}, false
	}
	return *a.value, true
}

// Reference returns the object id and owner of a by-reference argument.
func (a Arg) Reference() (ids.ObjectID, Address, bool) {
	if a.ref == nil {
		return ids.ObjectID{}, Address{}, false
	}
	return a.ref.id, a.ref.owner, true
}

// WithOwner returns a copy of a by-reference argument with the owner replaced.
func (a Arg) WithOwner(owner Address) Arg {
	if a.ref == nil {
		return a
	}
	return ByReference(a.ref.id, owner)
}

func (a Arg) String() string {
	switch {
	case a.ref != nil:
		return fmt.Sprintf("ByReference(%s, owner=%s)", a.ref.id.Hex(), a.ref.owner)
	case a.value != nil:
		return fmt.Sprintf("ByValue(%s)", a.value)
	default:
		return "Arg(empty)"
	}
}

// SchedulingStrategy selects where a task is placed.
// The zero value is the runtime's default placement.
type SchedulingStrategy struct {
	PlacementGroup *PlacementGroup
}

type PlacementGroup struct {
	ID                ids.PlacementGroupID
	BundleIndex       int
	CaptureChildTasks bool
}

func (s SchedulingStrategy) IsDefault() bool {
	return s.PlacementGroup == nil
}

func (s SchedulingStrategy) String() string {
	if s.PlacementGroup == nil {
		return "default"
	}
	return fmt.Sprintf("placement_group(%s, bundle=%d)", s.PlacementGroup.ID.Hex(), s.PlacementGroup.BundleIndex)
}

type Options struct {
	Name             string
	NumReturns       int
	Resources        Resources
	MaxRetries       int
	ConcurrencyGroup string
}

// Spec is a fully resolved task ready to be dispatched.
type Spec struct {
	ID               ids.TaskID
	Type             Type
	Function         FunctionDescriptor
	Args             []Arg
	ReturnIDs        []ids.ObjectID
	Resources        Resources
	Strategy         SchedulingStrategy
	ConcurrencyGroup string
	MaxRetries       int
	Caller           Address
}

func (s *Spec) String() string {
	return fmt.Sprintf("%s %s(%d args) -> %d returns", s.ID.Hex(), s.Function.Name, len(s.Args), len(s.ReturnIDs))
}
