// Package reconcile applies staged dimension snapshots to the warehouse,
// either overwriting attributes in place or keeping a versioned history
package reconcile

import (
	"errors"
	"fmt"
	"slices"

	"github.com/ethpandaops/medallion/pkg/warehouse"
)

// Define static errors
var (
	// ErrInvalidEntity is returned for an entity that cannot be reconciled
	ErrInvalidEntity = errors.New("invalid entity")
	// ErrUnknownPolicy is returned for a policy value outside the known set
	ErrUnknownPolicy = errors.New("unknown reconciliation policy")
	// ErrRowShape is returned when a staged row does not match the columns
	ErrRowShape = errors.New("row does not match entity columns")
)

// Policy selects how a dimension's changes are applied
type Policy int

const (
	// Overwrite replaces attributes of an existing key in place (SCD type 1)
	Overwrite Policy = iota
	// Versioned closes the current version of a changed key and opens a new
	// one (SCD type 2)
	Versioned
)

func (p Policy) String() string {
	switch p {
	case Overwrite:
		return "overwrite"
	case Versioned:
		return "versioned"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Default names of the history columns of a versioned dimension
const (
	DefaultValidFrom   = "valid_from"
	DefaultValidTo     = "valid_to"
	DefaultCurrentFlag = "is_current"
)

// Entity describes a dimension table and how it is reconciled
type Entity struct {
	Name    string
	Target  warehouse.Table
	Staging warehouse.Table
	// Key is the business key, a subset of Columns
	Key []string
	// Columns are the staged columns, in the order of the rows handed to
	// Reconcile
	Columns []string
	// Tracked columns are compared to detect a change. Defaults to every
	// non-key column.
	Tracked []string
	Policy  Policy

	ValidFrom   string
	ValidTo     string
	CurrentFlag string
}

// Validate checks the entity and fills defaulted fields
func (e *Entity) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidEntity)
	}

	if len(e.Key) == 0 || len(e.Columns) == 0 {
		return fmt.Errorf("%w: %s needs key and columns", ErrInvalidEntity, e.Name)
	}

	for _, k := range e.Key {
		if !slices.Contains(e.Columns, k) {
			return fmt.Errorf("%w: %s key column %q is not staged", ErrInvalidEntity, e.Name, k)
		}
	}

	if len(e.Tracked) == 0 {
		e.Tracked = e.attributes()
	}

	for _, c := range e.Tracked {
		if !slices.Contains(e.Columns, c) {
			return fmt.Errorf("%w: %s tracked column %q is not staged", ErrInvalidEntity, e.Name, c)
		}
	}

	switch e.Policy {
	case Overwrite:
	case Versioned:
		if e.ValidFrom == "" {
			e.ValidFrom = DefaultValidFrom
		}

		if e.ValidTo == "" {
			e.ValidTo = DefaultValidTo
		}

		if e.CurrentFlag == "" {
			e.CurrentFlag = DefaultCurrentFlag
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownPolicy, e.Policy)
	}

	return nil
}

// attributes returns the non-key columns
func (e *Entity) attributes() []string {
	var out []string

	for _, c := range e.Columns {
		if !slices.Contains(e.Key, c) {
			out = append(out, c)
		}
	}

	return out
}

// positions returns the index of each name within Columns
func (e *Entity) positions(names []string) []int {
	out := make([]int, len(names))
	for i, name := range names {
		out[i] = slices.Index(e.Columns, name)
	}

	return out
}
