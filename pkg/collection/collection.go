// Package collection assembles the channel collection subsystem: the
// context table, the attach/alias protocols, the channel-op router, the
// GC interface, the summary builder, and the request router, sequenced
// by a raft.Raft log in place of the single external container runtime
// the original design assumes. This is the collection's Manager
// equivalent, grounded in the teacher's pkg/manager wiring.
package collection

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fluidmesh/chancol/pkg/alias"
	"github.com/fluidmesh/chancol/pkg/attach"
	"github.com/fluidmesh/chancol/pkg/contexttable"
	"github.com/fluidmesh/chancol/pkg/events"
	"github.com/fluidmesh/chancol/pkg/future"
	"github.com/fluidmesh/chancol/pkg/gc"
	"github.com/fluidmesh/chancol/pkg/idalloc"
	"github.com/fluidmesh/chancol/pkg/log"
	"github.com/fluidmesh/chancol/pkg/metrics"
	"github.com/fluidmesh/chancol/pkg/request"
	"github.com/fluidmesh/chancol/pkg/router"
	"github.com/fluidmesh/chancol/pkg/storage"
	"github.com/fluidmesh/chancol/pkg/summary"
	"github.com/fluidmesh/chancol/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// Config configures a Collection's construction, carrying the ambient
// behavior flags plus the raft cluster wiring the teacher's Manager
// otherwise opens inline in NewManager/Bootstrap.
type Config struct {
	NodeID      string
	BindAddr    string
	DataDir     string
	SweepPeriod time.Duration

	types.Config
}

// Collection is the assembled subsystem.
type Collection struct {
	cfg Config

	Table    *contexttable.Table
	Attach   *attach.Protocol
	Alias    *alias.Protocol
	Router   *router.Router
	GC       *gc.Interface
	Summary  *summary.Builder
	Requests *request.Router
	IDAlloc  *idalloc.Allocator
	Registry *Registry
	Events   *events.Broker

	store       storage.Store
	raft        *raft.Raft
	fsm         *FSM
	up          *RaftUpstream
	sweeper     *gc.Sweeper
	metricsTk   *time.Ticker
	metricsDone chan struct{}
}

// New assembles a Collection and starts its embedded single-node raft
// cluster rooted at cfg.DataDir, grounded in the teacher's
// NewManager+Bootstrap pair.
func New(cfg Config) (*Collection, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	table := contexttable.New()
	idAlloc := idalloc.New()
	registry := NewRegistry()
	localCmds := &sync.Map{}

	broker := events.NewBroker()
	broker.Start()

	col := &Collection{
		cfg:      cfg,
		Table:    table,
		IDAlloc:  idAlloc,
		Registry: registry,
		Events:   broker,
		store:    store,
	}

	col.up = NewRaftUpstream(nil, localCmds, idAlloc)

	gcSink := col // Collection itself implements types.GCSink, forwarding to col.GC below.
	onSwept := func(id string) {
		col.up.DeleteChildSummarizerNode(id)
		broker.Publish(&events.Event{Type: events.EventGCSwept, Message: id})
	}
	gcIface := gc.New(table, onSwept)
	gcIface.OnTombstoned(func(ids []string) {
		for _, id := range ids {
			broker.Publish(&events.Event{Type: events.EventGCTombstoned, Message: id})
		}
	})
	gcIface.OnDeleted(func(id string) {
		broker.Publish(&events.Event{Type: events.EventStoreDeleted, Message: id})
	})
	col.GC = gcIface

	var aliasProto *alias.Protocol
	knownID := func(id string) bool {
		if aliasProto != nil {
			return aliasProto.AlreadyProcessed(id)
		}
		_, ok := table.Get(id)
		return ok
	}
	newCtx := func(id string, pkgPath []string, snapshot *types.Snapshot) *contexttable.Context {
		factory, err := registry.Resolve(pkgPath)
		if err != nil {
			log.WithStoreID(id).Error().Err(err).Msg("remote attach references unregistered package path")
		}
		return contexttable.New(contexttable.NewOpts{
			ID:          id,
			PackagePath: pkgPath,
			Factory:     factory,
			Storage:     storageAdapter{store},
			Upstream:    col.up,
			GCSink:      gcSink,
			AttachState: types.Attached,
			Binding:     types.Bound,
			BaseSnapshot: snapshot,
		})
	}

	attachProto := attach.New(table, col.up, gcSink, knownID, newCtx)
	attachProto.OnRollback(func(id string) {
		broker.Publish(&events.Event{Type: events.EventAttachRolledBack, Message: id})
	})
	col.Attach = attachProto

	aliasProto = alias.New(table, col.up, gcSink, attachProto.MakeVisible)
	col.Alias = aliasProto

	// Recording into new_since_last_gc happens alongside the attach
	// protocol's own inbound processing rather than inside it, since
	// AttachProtocol has no dependency on GCInterface (§4.G is one
	// level up in the dependency graph from §4.C).
	onAttachInbound := func(msg types.AttachMessage, local bool, localMeta any) error {
		if err := attachProto.ProcessInbound(msg, local, localMeta); err != nil {
			return err
		}
		gcIface.RecordNewSinceLastGC(msg.ID)
		broker.Publish(&events.Event{Type: events.EventStoreAttached, Message: msg.ID})
		return nil
	}
	onAliasInbound := func(msg types.AliasMessage, local bool, localMeta any) error {
		err := aliasProto.ProcessInbound(msg, local, localMeta)
		evtType := events.EventAliasCommitted
		if err != nil || aliasProto.Resolve(msg.Alias) != msg.InternalID {
			evtType = events.EventAliasConflicted
		}
		broker.Publish(&events.Event{Type: evtType, Message: msg.Alias, Metadata: map[string]string{"internalId": msg.InternalID}})
		return err
	}

	col.Router = router.New(table, gcSink, cfg.Config, onAttachInbound, onAliasInbound)
	col.Summary = summary.New(table, attachProto.PendingAttach)
	col.Requests = request.New(table, aliasProto, gcSink)

	col.fsm = NewFSM(col.Router, localCmds)

	r, err := bootstrapRaft(cfg, col.fsm)
	if err != nil {
		return nil, err
	}
	col.raft = r
	col.up.raft = r

	period := cfg.SweepPeriod
	if period <= 0 {
		period = 30 * time.Second
	}
	col.sweeper = gc.NewSweeper(gcIface, func() gc.GCSink { return gcSink }, period)
	col.sweeper.Start()

	col.startMetricsCollector()

	return col, nil
}

// startMetricsCollector periodically republishes raft leadership and
// applied-index gauges, the same ticker-loop idiom as the teacher's
// manager.MetricsCollector but scoped to the two raft signals this
// collection exposes that aren't already updated inline.
func (c *Collection) startMetricsCollector() {
	c.metricsTk = time.NewTicker(15 * time.Second)
	c.metricsDone = make(chan struct{})
	collect := func() {
		if c.IsLeader() {
			metrics.RaftIsLeader.Set(1)
		} else {
			metrics.RaftIsLeader.Set(0)
		}
		metrics.RaftAppliedIndex.Set(float64(c.AppliedIndex()))
	}
	go func() {
		collect()
		for {
			select {
			case <-c.metricsTk.C:
				collect()
			case <-c.metricsDone:
				return
			}
		}
	}()
}

// AddedOutboundReference makes Collection itself a types.GCSink. The
// outbound-route graph a real parent runtime maintains from these
// events is out of this collection's scope (§6 "Upstream — consumed");
// each channel already reports its own graph via GetGCData, so this
// call site exists for observability rather than state.
func (c *Collection) AddedOutboundReference(fromHandle, toHandle string) {
	log.WithRoute(fromHandle).Debug().Str("to", toHandle).Msg("outbound reference added")
}

// NodeUpdated is currently informational only; a concrete summarizer
// tree owner would use it to mark nodes dirty for the next summary.
func (c *Collection) NodeUpdated(path, reason string, at time.Time) {
	log.WithRoute(path).Debug().Str("reason", reason).Time("at", at).Msg("node updated")
}

// CreateDetachedContext allocates a fresh detached context with a
// compact even-numbered id and registers it in the unbound partition,
// the entry point for §4.I's detached-id namespace.
func (c *Collection) CreateDetachedContext(pkgPath []string, root bool) (*contexttable.Context, error) {
	factory, err := c.Registry.Resolve(pkgPath)
	if err != nil {
		return nil, err
	}
	id := c.IDAlloc.NextDetached()
	ctx := contexttable.New(contexttable.NewOpts{
		ID:          id,
		PackagePath: pkgPath,
		Factory:     factory,
		Storage:     storageAdapter{c.store},
		Upstream:    c.up,
		GCSink:      c,
		AttachState: types.Detached,
		Binding:     types.Unbound,
		Root:        root,
	})
	c.Table.AddUnbound(ctx)
	c.Events.Publish(&events.Event{Type: events.EventStoreCreated, Message: id})
	return ctx, nil
}

// MakeVisible attaches id, per §4.C.
func (c *Collection) MakeVisible(id string) error {
	ctx, ok := c.Table.GetUnbound(id)
	if !ok {
		return types.NewInternalConsistencyError("collection.make_visible",
			fmt.Errorf("context %s is not unbound", id))
	}
	return c.Attach.MakeVisible(ctx)
}

// AliasStore reserves and submits desiredAlias for id, per §4.D.
func (c *Collection) AliasStore(id, desiredAlias string) (*future.Future[types.AliasResult], error) {
	ctx, ok := c.Table.Get(id)
	if !ok {
		return nil, types.NewInternalConsistencyError("collection.alias_store",
			fmt.Errorf("context %s not found", id))
	}
	return c.Alias.Alias(ctx, desiredAlias)
}

// Request dispatches one inbound request through the RequestRouter.
func (c *Collection) Request(ctx context.Context, path string, headers types.RequestHeaders) (types.Response, error) {
	return c.Requests.Dispatch(ctx, path, headers)
}

// SetContainerAttachState records the outer container runtime's attach
// state, see RaftUpstream.SetAttachState.
func (c *Collection) SetContainerAttachState(s types.AttachState) {
	c.up.SetAttachState(s)
}

// AppliedIndex exposes the FSM's last-applied raft log index, for
// metrics.RaftAppliedIndex.
func (c *Collection) AppliedIndex() uint64 {
	return c.fsm.AppliedIndex()
}

// IsLeader reports whether this node currently holds the raft leader
// role, grounded in the teacher's Manager.IsLeader.
func (c *Collection) IsLeader() bool {
	if c.raft == nil {
		return false
	}
	return c.raft.State() == raft.Leader
}

// Dispose shuts the collection's background work down and closes its
// storage, per the lifecycle §5/§12 describe for the subsystem as a
// whole. Before tearing down raft and storage it forces every context
// to a terminal (deleted) state and resolves any alias reservation
// still awaiting its commit, so no caller is left blocked on a
// collection that no longer exists.
func (c *Collection) Dispose() error {
	if c.metricsTk != nil {
		c.metricsTk.Stop()
		close(c.metricsDone)
	}
	if c.sweeper != nil {
		c.sweeper.Stop()
	}
	if c.Alias != nil {
		c.Alias.Dispose()
	}
	if c.Table != nil {
		c.Table.DisposeAll()
	}
	if c.Events != nil {
		c.Events.Stop()
	}
	if c.raft != nil {
		if err := c.raft.Shutdown().Error(); err != nil {
			log.WithComponent("collection").Error().Err(err).Msg("raft shutdown failed")
		}
	}
	return c.store.Close()
}

func bootstrapRaft(cfg Config, fsm *FSM) (*raft.Raft, error) {
	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create raft transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("create raft log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("create raft stable store: %w", err)
	}

	r, err := raft.NewRaft(raftCfg, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("create raft instance: %w", err)
	}

	bootstrapFuture := r.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{{ID: raftCfg.LocalID, Address: transport.LocalAddr()}},
	})
	if err := bootstrapFuture.Error(); err != nil && err != raft.ErrCantBootstrap {
		return nil, fmt.Errorf("bootstrap raft cluster: %w", err)
	}

	return r, nil
}

type storageAdapter struct{ store storage.Store }

func (s storageAdapter) ReadBlob(id string) ([]byte, error) {
	return s.store.GetBlob(id)
}
