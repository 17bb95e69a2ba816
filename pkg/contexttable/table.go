// Package contexttable implements ContextTable and DataStoreContext
// (§4.A, §4.B): the indexed collection of per-store state, partitioned
// into unbound / bound-or-remoted / deleted, plus the cooperative
// get_bound_or_remoted(wait) suspension point.
package contexttable

import (
	"context"
	"sync"

	"github.com/fluidmesh/chancol/pkg/future"
	"github.com/fluidmesh/chancol/pkg/types"
)

// Table is the ContextTable, §4.A. Every id appears in at most one of
// {unbound, addressable (bound ∪ remoted)}; deleted ids are removed
// entirely and recorded as tombstone markers so a concurrent waiter can
// observe the deletion instead of blocking forever.
type Table struct {
	mu sync.Mutex

	unbound     map[string]*Context
	addressable map[string]*Context
	deletedIDs  map[string]struct{}

	waiters map[string][]*future.Future[*Context]
}

// New returns an empty ContextTable.
func New() *Table {
	return &Table{
		unbound:     make(map[string]*Context),
		addressable: make(map[string]*Context),
		deletedIDs:  make(map[string]struct{}),
		waiters:     make(map[string][]*future.Future[*Context]),
	}
}

// AddUnbound registers a newly created local context in the unbound
// partition.
func (t *Table) AddUnbound(c *Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unbound[c.ID()] = c
}

// AddBoundOrRemoted registers a context directly into the addressable
// partition — used for remote stores, which are Bound+Attached from
// the moment they're constructed, and for recovery/restore paths.
func (t *Table) AddBoundOrRemoted(c *Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addressable[c.ID()] = c
	t.wakeWaitersLocked(c.ID(), c)
}

// Bind moves a context from unbound to addressable, marking it Bound.
// Returns false if the id was not in the unbound partition.
func (t *Table) Bind(id string) bool {
	t.mu.Lock()
	c, ok := t.unbound[id]
	if !ok {
		t.mu.Unlock()
		return false
	}
	delete(t.unbound, id)
	t.addressable[id] = c
	t.mu.Unlock()

	c.SetBinding(types.Bound)
	t.mu.Lock()
	t.wakeWaitersLocked(id, c)
	t.mu.Unlock()
	return true
}

// Get returns the context for id from either partition, if present.
func (t *Table) Get(id string) (*Context, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.addressable[id]; ok {
		return c, true
	}
	if c, ok := t.unbound[id]; ok {
		return c, true
	}
	return nil, false
}

// GetUnbound returns the context for id from the unbound partition only.
func (t *Table) GetUnbound(id string) (*Context, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.unbound[id]
	return c, ok
}

// GetBoundOrRemoted returns the context for id from the addressable
// partition. If absent and wait is true, the caller suspends until the
// id becomes addressable or a deletion marker is installed for it, per
// §4.A and the suspension points enumerated in §5. Returns (nil, false)
// on a deletion observation or context cancellation.
func (t *Table) GetBoundOrRemoted(ctx context.Context, id string, wait bool) (*Context, bool) {
	t.mu.Lock()
	if c, ok := t.addressable[id]; ok {
		t.mu.Unlock()
		return c, true
	}
	if _, deleted := t.deletedIDs[id]; deleted {
		t.mu.Unlock()
		return nil, false
	}
	if !wait {
		t.mu.Unlock()
		return nil, false
	}

	f := future.New[*Context]()
	t.waiters[id] = append(t.waiters[id], f)
	t.mu.Unlock()

	c, err := f.Wait(ctx)
	if err != nil || c == nil {
		return nil, false
	}
	return c, true
}

// wakeWaitersLocked resolves every Future blocked on id. Called with
// t.mu held; c is nil to signal a deletion.
func (t *Table) wakeWaitersLocked(id string, c *Context) {
	for _, f := range t.waiters[id] {
		f.Resolve(c, nil)
	}
	delete(t.waiters, id)
}

// Delete removes id from whichever partition holds it and installs a
// deletion marker so pending GetBoundOrRemoted(wait=true) callers wake
// up with a miss instead of blocking forever.
func (t *Table) Delete(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.unbound, id)
	delete(t.addressable, id)
	t.deletedIDs[id] = struct{}{}
	t.wakeWaitersLocked(id, nil)
}

// DisposeAll force-transitions every context in either partition to
// deleted and moves its id into the tombstone set, waking any
// GetBoundOrRemoted waiters with a miss. Called once, from
// Collection.Dispose, to give every store a terminal state on shutdown
// rather than leaving it reachable against a store that's already gone.
func (t *Table) DisposeAll() {
	t.mu.Lock()
	contexts := make([]*Context, 0, len(t.unbound)+len(t.addressable))
	for id, c := range t.unbound {
		contexts = append(contexts, c)
		delete(t.unbound, id)
		t.deletedIDs[id] = struct{}{}
		t.wakeWaitersLocked(id, nil)
	}
	for id, c := range t.addressable {
		contexts = append(contexts, c)
		delete(t.addressable, id)
		t.deletedIDs[id] = struct{}{}
		t.wakeWaitersLocked(id, nil)
	}
	t.mu.Unlock()

	for _, c := range contexts {
		c.Delete()
	}
}

// WasDeleted reports whether id was once live and has since been
// removed via Delete, distinguishing a tombstoned address (post-GC
// sweep) from one that never existed at all.
func (t *Table) WasDeleted(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.deletedIDs[id]
	return ok
}

// Size returns the total number of live contexts across both partitions.
func (t *Table) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.unbound) + len(t.addressable)
}

// NotBoundLength returns the count of contexts still in the unbound
// partition — the fixed-point signal SummaryBuilder.GetAttachSummary
// iterates on (§4.H).
func (t *Table) NotBoundLength() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.unbound)
}

// ForEach calls fn for every live context in both partitions. fn must
// not call back into Table; ForEach holds no lock while fn runs, so
// results reflect a point-in-time snapshot of the partition contents.
func (t *Table) ForEach(fn func(*Context)) {
	t.mu.Lock()
	snapshot := make([]*Context, 0, len(t.unbound)+len(t.addressable))
	for _, c := range t.unbound {
		snapshot = append(snapshot, c)
	}
	for _, c := range t.addressable {
		snapshot = append(snapshot, c)
	}
	t.mu.Unlock()

	for _, c := range snapshot {
		fn(c)
	}
}

// ForEachAddressable calls fn for every context in the addressable
// (bound ∪ remoted) partition only.
func (t *Table) ForEachAddressable(fn func(*Context)) {
	t.mu.Lock()
	snapshot := make([]*Context, 0, len(t.addressable))
	for _, c := range t.addressable {
		snapshot = append(snapshot, c)
	}
	t.mu.Unlock()

	for _, c := range snapshot {
		fn(c)
	}
}

// ForEachUnbound calls fn for every context in the unbound partition only.
func (t *Table) ForEachUnbound(fn func(*Context)) {
	t.mu.Lock()
	snapshot := make([]*Context, 0, len(t.unbound))
	for _, c := range t.unbound {
		snapshot = append(snapshot, c)
	}
	t.mu.Unlock()

	for _, c := range snapshot {
		fn(c)
	}
}
