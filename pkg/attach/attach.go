// Package attach implements AttachProtocol (§4.C): converts a locally
// visible store into an outbound Attach message, and processes inbound
// Attach ops — both the local ack path and the remote-store
// construction path — reconciling the pending-attach bookkeeping set
// along the way.
package attach

import (
	"fmt"
	"sync"

	"github.com/fluidmesh/chancol/pkg/contexttable"
	"github.com/fluidmesh/chancol/pkg/log"
	"github.com/fluidmesh/chancol/pkg/metrics"
	"github.com/fluidmesh/chancol/pkg/types"
)

// RemoteContextFactory constructs the Context for a newly observed
// remote store. The attach package does not know how to wire a
// blob-storage wrapper or a channel factory itself — that's collection
// wiring — so it delegates construction back to the caller.
type RemoteContextFactory func(id string, pkgPath []string, snapshot *types.Snapshot) *contexttable.Context

// Protocol is the AttachProtocol.
type Protocol struct {
	table    *contexttable.Table
	upstream types.Upstream
	gcSink   types.GCSink
	knownID  func(id string) bool
	newCtx   RemoteContextFactory

	mu            sync.Mutex
	pendingAttach map[string]struct{}
	sampledOnce   sync.Once
	onRollback    func(id string)
}

// New constructs an AttachProtocol. knownID should report whether id is
// already present in the table or the alias map — used to reject a
// duplicate remote Attach.
func New(table *contexttable.Table, upstream types.Upstream, gcSink types.GCSink, knownID func(string) bool, newCtx RemoteContextFactory) *Protocol {
	return &Protocol{
		table:         table,
		upstream:      upstream,
		gcSink:        gcSink,
		knownID:       knownID,
		newCtx:        newCtx,
		pendingAttach: make(map[string]struct{}),
	}
}

// PendingAttach reports whether id currently has an outstanding,
// unacknowledged outbound Attach op.
func (p *Protocol) PendingAttach(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pendingAttach[id]
	return ok
}

// MakeVisible converts context c, currently Unbound+Detached, into an
// outbound Attach message, provided the container itself is not
// Detached. It binds the context, marks it Attaching, records the
// pending-attach entry, and submits the message upstream.
func (p *Protocol) MakeVisible(c *contexttable.Context) error {
	if p.upstream.AttachState() == types.Detached {
		return types.NewInternalConsistencyError("attach.make_visible",
			fmt.Errorf("container is Detached; store %s should bind instead of attach", c.ID()))
	}

	snap, err := c.AttachData(true)
	if err != nil {
		return err
	}

	pkg := c.PackagePath()
	msgType := ""
	if len(pkg) > 0 {
		msgType = pkg[len(pkg)-1]
	}

	msg := types.AttachMessage{ID: c.ID(), Type: msgType, Snapshot: &snap}

	if !p.table.Bind(c.ID()) {
		p.table.AddBoundOrRemoted(c)
		c.SetBinding(types.Bound)
	}
	if err := c.SetAttachState(types.Attaching, false); err != nil {
		return err
	}

	p.mu.Lock()
	p.pendingAttach[c.ID()] = struct{}{}
	p.mu.Unlock()

	timer := metrics.NewTimer()
	metrics.AttachOpsSentTotal.Inc()
	localMeta := attachLocalMeta{id: c.ID(), timer: timer}
	if err := p.upstream.SubmitMessage(types.MessageAttach, msg, localMeta); err != nil {
		p.mu.Lock()
		delete(p.pendingAttach, c.ID())
		p.mu.Unlock()
		return err
	}
	return nil
}

type attachLocalMeta struct {
	id    string
	timer *metrics.Timer
}

// OnRollback registers fn to be called, with the reverted store's id,
// after every successful Rollback. Used by collection wiring to publish
// a lifecycle notification without this package depending on the event
// bus.
func (p *Protocol) OnRollback(fn func(id string)) {
	p.onRollback = fn
}

// Rollback reverts a store whose Attach op was submitted but never
// acked (the connection dropped first): the pending-attach entry is
// cleared and the context returns to Unbound+Detached.
func (p *Protocol) Rollback(c *contexttable.Context) error {
	p.mu.Lock()
	delete(p.pendingAttach, c.ID())
	p.mu.Unlock()

	metrics.AttachRollbacksTotal.Inc()
	c.SetBinding(types.Unbound)
	if err := c.SetAttachState(types.Detached, true); err != nil {
		return err
	}
	if p.onRollback != nil {
		p.onRollback(c.ID())
	}
	return nil
}

// ProcessInbound implements the five inbound steps of §4.C.
func (p *Protocol) ProcessInbound(msg types.AttachMessage, local bool, localMeta any) error {
	p.sampledOnce.Do(func() {
		log.WithComponent("attach").Info().Msg("first attach op processed")
	})

	if msg.Snapshot != nil {
		for _, node := range msg.Snapshot.GCNodes {
			for _, target := range node.OutboundRoutes {
				from := "/" + msg.ID + node.ID
				p.gcSink.AddedOutboundReference(from, target)
				metrics.GCOutboundReferencesTotal.Inc()
			}
		}
	}

	if local {
		if !p.PendingAttach(msg.ID) {
			return types.NewInternalConsistencyError("attach.process_inbound",
				fmt.Errorf("local attach ack for %s with no pending entry", msg.ID))
		}
		c, ok := p.table.Get(msg.ID)
		if !ok {
			return types.NewInternalConsistencyError("attach.process_inbound",
				fmt.Errorf("local attach ack for %s but no context", msg.ID))
		}
		if err := c.SetAttachState(types.Attached, false); err != nil {
			return err
		}
		p.mu.Lock()
		delete(p.pendingAttach, msg.ID)
		p.mu.Unlock()

		metrics.AttachOpsProcessedTotal.WithLabelValues("true").Inc()
		if lm, ok := localMeta.(attachLocalMeta); ok && lm.timer != nil {
			lm.timer.ObserveDuration(metrics.AttachDuration)
		}
		return nil
	}

	if p.knownID(msg.ID) {
		return types.NewDataCorruptionError("attach.process_inbound",
			fmt.Errorf("duplicate data store id on remote attach: %s", msg.ID))
	}

	remoteCtx := p.newCtx(msg.ID, splitPackagePath(msg.Type), msg.Snapshot)
	p.table.AddBoundOrRemoted(remoteCtx)
	metrics.AttachOpsProcessedTotal.WithLabelValues("false").Inc()
	return nil
}

// splitPackagePath reconstructs a single-element package path from the
// wire-level type string, which only ever carries the last path
// segment (§4.C "type = last element of package_path"). A remote
// context's full registry path is not recoverable from the wire
// message alone; callers that need it resolve it via their own
// registry lookup keyed on this final segment.
func splitPackagePath(msgType string) []string {
	if msgType == "" {
		return nil
	}
	return []string{msgType}
}
