// Package summary implements SummaryBuilder (§4.H): the operational
// summary over an attached container's Attached contexts, and the
// fixed-point attach summary a detached container assembles before its
// first attach.
package summary

import (
	"fmt"
	"sync"

	"github.com/fluidmesh/chancol/pkg/contexttable"
	"github.com/fluidmesh/chancol/pkg/metrics"
	"github.com/fluidmesh/chancol/pkg/types"
)

// Builder is the SummaryBuilder.
type Builder struct {
	table *contexttable.Table

	// pendingAttach reports whether an Attach op has already been fired
	// for an id — attach.Protocol.PendingAttach, injected to avoid an
	// import cycle. Nil is treated as "never pending".
	pendingAttach func(id string) bool
}

// New constructs a SummaryBuilder.
func New(table *contexttable.Table, pendingAttach func(id string) bool) *Builder {
	return &Builder{table: table, pendingAttach: pendingAttach}
}

// Summarize produces the operational summary over every Attached
// context, in parallel, keyed by internal id. Any Attaching context
// aborts the whole summary with a data-processing error, per §4.H.
func (b *Builder) Summarize(fullTree, trackState bool) (map[string]types.SummaryTree, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SummarizeDuration)

	var mu sync.Mutex
	result := make(map[string]types.SummaryTree)
	var failure error
	var wg sync.WaitGroup

	b.table.ForEachAddressable(func(c *contexttable.Context) {
		mu.Lock()
		if failure != nil {
			mu.Unlock()
			return
		}
		mu.Unlock()

		if c.IsDeleted() {
			return
		}
		if c.AttachState() == types.Attaching {
			mu.Lock()
			if failure == nil {
				failure = types.NewDataProcessingError("summary.summarize",
					fmt.Errorf("context %s is Attaching", c.ID()))
			}
			mu.Unlock()
			return
		}
		if c.AttachState() != types.Attached {
			return
		}

		wg.Add(1)
		go func(c *contexttable.Context) {
			defer wg.Done()
			tree, err := c.Summarize(fullTree, trackState)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if failure == nil {
					failure = err
				}
				return
			}
			result[c.ID()] = tree
			var bytes int
			for _, e := range tree.Entries {
				bytes += len(e.Blob)
			}
			metrics.SummaryBytesTotal.Add(float64(bytes))
		}(c)
	})

	wg.Wait()
	if failure != nil {
		return nil, failure
	}
	return result, nil
}

// GetAttachSummary assembles the detached container's attach summary by
// iterating to a fixed point: each pass summarizes every bound,
// not-already-summarized, not-attach-op-fired context, since
// summarizing one store can transitively bind others reachable only
// through its handles. Iteration stops once the table's not-bound
// length is stable across a pass. Not-yet-loaded contexts contribute
// their base snapshot verbatim instead of being realized.
func (b *Builder) GetAttachSummary() (map[string]types.SummaryTree, error) {
	summarized := make(map[string]bool)
	result := make(map[string]types.SummaryTree)
	iterations := 0

	for {
		iterations++
		notBoundBefore := b.table.NotBoundLength()

		var pending []*contexttable.Context
		b.table.ForEachAddressable(func(c *contexttable.Context) {
			if summarized[c.ID()] {
				return
			}
			if c.IsDeleted() {
				return
			}
			if b.pendingAttach != nil && b.pendingAttach(c.ID()) {
				return
			}
			pending = append(pending, c)
		})

		for _, c := range pending {
			tree, err := b.summarizeOne(c)
			if err != nil {
				return nil, err
			}
			result[c.ID()] = tree
			summarized[c.ID()] = true
		}

		notBoundAfter := b.table.NotBoundLength()
		if notBoundAfter == notBoundBefore {
			break
		}
	}

	metrics.AttachSummaryFixedPointIterations.Observe(float64(iterations))
	return result, nil
}

func (b *Builder) summarizeOne(c *contexttable.Context) (types.SummaryTree, error) {
	if !c.IsLoaded() {
		snap, err := c.AttachData(false)
		if err != nil {
			return types.SummaryTree{}, err
		}
		return types.SummaryTree{Entries: snap.Entries}, nil
	}
	return c.Summarize(false, false)
}
