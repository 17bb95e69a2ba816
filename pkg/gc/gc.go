// Package gc implements GCInterface (§4.G): the outbound-route graph
// producer and the used/tombstoned/sweep-ready route consumers that
// drive garbage collection of data store contexts.
package gc

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fluidmesh/chancol/pkg/contexttable"
	"github.com/fluidmesh/chancol/pkg/log"
	"github.com/fluidmesh/chancol/pkg/metrics"
	"github.com/fluidmesh/chancol/pkg/types"
)

// Interface is the GCInterface.
type Interface struct {
	table *contexttable.Table

	mu                sync.Mutex
	newSinceLastGC    []string
	summarizerDeleter func(id string)
	onTombstoned      func(ids []string)
	onDeleted         func(id string)
}

// New constructs a GCInterface. summarizerDeleter is the parent
// runtime's DeleteChildSummarizerNode, called during sweep.
func New(table *contexttable.Table, summarizerDeleter func(id string)) *Interface {
	return &Interface{table: table, summarizerDeleter: summarizerDeleter}
}

// OnTombstoned registers fn to be called, with the ids newly or still
// marked tombstoned, after every UpdateTombstonedRoutes call.
func (g *Interface) OnTombstoned(fn func(ids []string)) {
	g.onTombstoned = fn
}

// OnDeleted registers fn to be called, with each store's id, as
// DeleteSweepReadyNodes actually removes it from the table.
func (g *Interface) OnDeleted(fn func(id string)) {
	g.onDeleted = fn
}

// RecordNewSinceLastGC records an id observed since the last GC cycle —
// called by the collection after AttachProtocol successfully processes
// an inbound Attach.
func (g *Interface) RecordNewSinceLastGC(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.newSinceLastGC = append(g.newSinceLastGC, id)
}

// GetGCData collects the outbound-route graph across every Attached
// context, prefixing each node id into an absolute path from the
// container root, plus a synthetic "/" node whose routes are the
// absolute paths of every root data store. Fails deterministically if
// any context is Attaching.
func (g *Interface) GetGCData(fullGC bool) ([]types.GCNode, error) {
	var nodes []types.GCNode
	var rootRoutes []string
	var failure error

	g.table.ForEachAddressable(func(c *contexttable.Context) {
		if failure != nil {
			return
		}
		if c.IsDeleted() {
			return
		}
		if c.AttachState() == types.Attaching {
			failure = types.NewDataProcessingError("gc.get_gc_data",
				fmt.Errorf("context %s is Attaching during GC collection", c.ID()))
			return
		}
		if c.AttachState() != types.Attached {
			return
		}

		data, err := c.GetGCData(fullGC)
		if err != nil {
			failure = err
			return
		}
		for _, n := range data.Nodes {
			nodes = append(nodes, types.GCNode{
				ID:             "/" + c.ID() + n.ID,
				OutboundRoutes: n.OutboundRoutes,
			})
		}
		if c.IsRoot() {
			rootRoutes = append(rootRoutes, "/"+c.ID())
		}
	})
	if failure != nil {
		return nil, failure
	}

	nodes = append(nodes, types.GCNode{ID: "/", OutboundRoutes: rootRoutes})
	return nodes, nil
}

// UpdateStateBeforeGC emits an outbound edge from the container handle
// to every root store recorded since the last GC cycle, then clears
// the list, per §4.G.
func (g *Interface) UpdateStateBeforeGC(sink types.GCSink) {
	g.mu.Lock()
	ids := g.newSinceLastGC
	g.newSinceLastGC = nil
	g.mu.Unlock()

	for _, id := range ids {
		c, ok := g.table.Get(id)
		if !ok || !c.IsRoot() {
			continue
		}
		sink.AddedOutboundReference("/", "/"+id)
	}
}

// UpdateUsedRoutes partitions routes by first path segment, verifies
// each segment names a known store, and forwards the sub-routes to that
// context. Stores with no routes in the set receive an empty call
// (their graph is entirely unused).
func (g *Interface) UpdateUsedRoutes(routes []string) error {
	byStore := make(map[string][]string)
	for _, route := range routes {
		segs := splitRoute(route)
		if len(segs) == 0 {
			continue
		}
		storeID := segs[0]
		byStore[storeID] = append(byStore[storeID], route)
	}

	var firstErr error
	for storeID, subRoutes := range byStore {
		c, ok := g.table.Get(storeID)
		if !ok {
			if firstErr == nil {
				firstErr = types.NewDataProcessingError("gc.update_used_routes",
					fmt.Errorf("used route for unknown store %s", storeID))
			}
			continue
		}
		if err := c.UpdateUsedRoutes(subRoutes); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	g.table.ForEach(func(c *contexttable.Context) {
		if _, used := byStore[c.ID()]; used {
			return
		}
		if err := c.UpdateUsedRoutes(nil); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	return firstErr
}

// UpdateTombstonedRoutes marks a store tombstoned iff the exact route
// /id (a single segment after split) appears in routes; sub-routes do
// not tombstone the parent store.
func (g *Interface) UpdateTombstonedRoutes(routes []string) {
	tombstoned := make(map[string]struct{})
	for _, route := range routes {
		segs := splitRoute(route)
		if len(segs) == 1 {
			tombstoned[segs[0]] = struct{}{}
		}
	}

	var tombstonedIDs []string
	g.table.ForEach(func(c *contexttable.Context) {
		_, isTombstoned := tombstoned[c.ID()]
		c.SetTombstone(isTombstoned)
		if isTombstoned {
			tombstonedIDs = append(tombstonedIDs, c.ID())
		}
	})
	metrics.GCTombstonedTotal.Set(float64(len(tombstonedIDs)))
	if g.onTombstoned != nil && len(tombstonedIDs) > 0 {
		g.onTombstoned(tombstonedIDs)
	}
}

// DeleteSweepReadyNodes deletes every data-store-scoped route (ignoring
// sub-paths), logging at info severity for an already-deleted target
// and at error severity otherwise, but never failing the call. Returns
// every input route, per §4.G's "return all input routes as deleted".
func (g *Interface) DeleteSweepReadyNodes(routes []string) []string {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.GCSweepDuration)

	for _, route := range routes {
		segs := splitRoute(route)
		if len(segs) != 1 {
			continue
		}
		storeID := segs[0]
		c, ok := g.table.Get(storeID)
		if !ok {
			if g.table.WasDeleted(storeID) {
				log.WithStoreID(storeID).Info().Msg("sweep: store already deleted")
			} else {
				log.WithStoreID(storeID).Error().Msg("sweep: unknown store")
			}
			continue
		}
		if c.IsDeleted() {
			log.WithStoreID(storeID).Info().Msg("sweep: store already deleted")
			continue
		}

		c.Delete()
		g.table.Delete(storeID)
		if g.summarizerDeleter != nil {
			g.summarizerDeleter(storeID)
		}
		if g.onDeleted != nil {
			g.onDeleted(storeID)
		}
		metrics.GCNodesSweptTotal.Inc()
		metrics.ContextsDeletedTotal.Inc()
	}
	return routes
}

// splitRoute splits a route like "/3/dds/x" into non-empty segments
// ["3","dds","x"]. A store-exact route "/id" yields one segment, so
// callers distinguish a sub-route from an exact route by len(segs)==2
// after accounting for the conventional leading slash: segs here holds
// only the path components, so an exact store route has len(segs)==1
// and one level below it has len(segs)==2.
func splitRoute(route string) []string {
	parts := strings.Split(route, "/")
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
