// Package idalloc assigns compact internal ids to data store contexts,
// §4.I. Three disjoint namespaces are used: a detached counter encoded
// base36, an attached numeric id re-encoded base36, and an attached
// UUID carried verbatim. Collision between compact-encoded ids and
// user-chosen aliases is a known, accepted hazard — not prevented here,
// per §4.I and §9.
package idalloc

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Allocator hands out ids for newly created data store contexts.
type Allocator struct {
	count uint64
}

// New returns an Allocator starting its detached counter at zero.
func New() *Allocator {
	return &Allocator{}
}

// NextDetached returns the next detached id: 2 * count_of_contexts,
// base36-encoded, then advances the counter.
func (a *Allocator) NextDetached() string {
	id := 2 * a.count
	a.count++
	return strconv.FormatUint(id, 36)
}

// AssignAttached computes the compact internal id for an attached
// context given what the runtime supplied: a numeric id (encoded as
// 2n+1, base36) or a UUID (carried verbatim). Any other type is a usage
// error — the runtime contract only ever hands back one of these two
// shapes.
func AssignAttached(raw any) (string, error) {
	switch v := raw.(type) {
	case uint64:
		return strconv.FormatUint(2*v+1, 36), nil
	case uint:
		return strconv.FormatUint(2*uint64(v)+1, 36), nil
	case int:
		if v < 0 {
			return "", fmt.Errorf("idalloc: negative numeric id %d", v)
		}
		return strconv.FormatUint(2*uint64(v)+1, 36), nil
	case string:
		if _, err := uuid.Parse(v); err != nil {
			return "", fmt.Errorf("idalloc: attached id %q is neither numeric nor a uuid: %w", v, err)
		}
		return v, nil
	default:
		return "", fmt.Errorf("idalloc: unsupported attached id type %T", raw)
	}
}

// NewDocumentUniqueID mints a fresh UUID for Upstream.GenerateDocumentUniqueID
// implementations that choose the uuid namespace.
func NewDocumentUniqueID() string {
	return uuid.NewString()
}
