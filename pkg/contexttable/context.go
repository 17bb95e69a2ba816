package contexttable

import (
	"fmt"
	"sync"

	"github.com/fluidmesh/chancol/pkg/types"
)

// Context is a DataStoreContext, §4.B: the per-store state the
// collection holds — attach state, package path, the lazily-realized
// channel, and the GC/root flags layered on top.
type Context struct {
	mu sync.Mutex

	id          string
	packagePath []string
	factory     types.Factory
	storage     types.BlobStorage
	upstream    types.Upstream
	gcSink      types.GCSink

	attachState types.AttachState
	binding     types.Binding
	root        bool
	loaded      bool
	tombstoned  bool
	deleted     bool

	channel        types.Channel
	summarizerNode types.SummarizerNode

	baseSnapshot *types.Snapshot
}

// NewOpts configures a freshly allocated context.
type NewOpts struct {
	ID           string
	PackagePath  []string
	Factory      types.Factory
	Storage      types.BlobStorage
	Upstream     types.Upstream
	GCSink       types.GCSink
	AttachState  types.AttachState
	Binding      types.Binding
	Root         bool
	BaseSnapshot *types.Snapshot
}

// New constructs a context in the given initial state. It does not
// register the context in any table partition; callers do that via
// Table.AddUnbound / Table.AddBoundOrRemoted.
func New(o NewOpts) *Context {
	return &Context{
		id:           o.ID,
		packagePath:  o.PackagePath,
		factory:      o.Factory,
		storage:      o.Storage,
		upstream:     o.Upstream,
		gcSink:       o.GCSink,
		attachState:  o.AttachState,
		binding:      o.Binding,
		root:         o.Root,
		baseSnapshot: o.BaseSnapshot,
	}
}

func (c *Context) ID() string { return c.id }

func (c *Context) PackagePath() []string { return c.packagePath }

func (c *Context) AttachState() types.AttachState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attachState
}

func (c *Context) Binding() types.Binding {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.binding
}

// SetBinding transitions the context's binding (Unbound -> Bound).
// Called by Table.Bind when a local store is made visible.
func (c *Context) SetBinding(b types.Binding) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.binding = b
}

// SetAttachState transitions the context's attach state. The transition
// is monotone (Detached -> Attaching -> Attached) with one documented
// exception: Rollback (pkg/attach) reverts Attaching back to Detached
// after a disconnect before ack, which calls this with force=true.
func (c *Context) SetAttachState(newState types.AttachState, force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleted {
		return types.ErrDeleted
	}
	if !force && newState < c.attachState {
		return types.NewInternalConsistencyError("set_attach_state",
			fmt.Errorf("non-monotone transition %s -> %s for %s", c.attachState, newState, c.id))
	}
	c.attachState = newState
	return nil
}

// Realize idempotently materializes the channel, instantiating it from
// the factory on first call. Subsequent calls return the cached value.
func (c *Context) Realize() (types.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleted {
		return nil, types.ErrDeleted
	}
	if c.loaded {
		return c.channel, nil
	}
	if c.factory == nil {
		return nil, types.NewDataProcessingError("realize", fmt.Errorf("no factory registered for %s", c.id))
	}
	ch, err := c.factory.Instantiate()
	if err != nil {
		return nil, types.NewDataProcessingError("realize", err)
	}
	c.channel = ch
	c.loaded = true
	if c.root {
		ch.SetInMemoryRoot()
	}
	return ch, nil
}

// Process delivers a channel op, realizing the channel first if needed.
func (c *Context) Process(contents types.EnvelopeContents, local bool, localMeta any) error {
	ch, err := c.realizeForOp()
	if err != nil {
		return err
	}
	return ch.Process(contents, local, localMeta)
}

// ProcessSignal delivers a signal, realizing the channel first if needed.
func (c *Context) ProcessSignal(content any, local bool) error {
	ch, err := c.realizeForOp()
	if err != nil {
		return err
	}
	return ch.ProcessSignal(content, local)
}

// ApplyStashedOp replays a locally stashed op against the realized channel.
func (c *Context) ApplyStashedOp(content any) error {
	ch, err := c.realizeForOp()
	if err != nil {
		return err
	}
	return ch.ApplyStashedOp(content)
}

// Resubmit re-submits a pending local op after reconnection.
func (c *Context) Resubmit(opType string, content any, localMeta any) error {
	ch, err := c.realizeForOp()
	if err != nil {
		return err
	}
	return ch.Resubmit(opType, content, localMeta)
}

// Rollback reverts a locally submitted, not-yet-acked op.
func (c *Context) Rollback(opType string, content any, localMeta any) error {
	ch, err := c.realizeForOp()
	if err != nil {
		return err
	}
	return ch.Rollback(opType, content, localMeta)
}

// SetConnectionState forwards a connection-state transition to the
// channel, if realized; unrealized contexts have nothing to notify.
func (c *Context) SetConnectionState(connected bool, clientID string) {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch != nil {
		ch.SetConnectionState(connected, clientID)
	}
}

func (c *Context) realizeForOp() (types.Channel, error) {
	c.mu.Lock()
	if c.deleted {
		c.mu.Unlock()
		return nil, types.ErrDeleted
	}
	c.mu.Unlock()
	return c.Realize()
}

// Summarize produces this context's summary tree, failing if the
// context is still Attaching (§4.H).
func (c *Context) Summarize(fullTree, trackState bool) (types.SummaryTree, error) {
	c.mu.Lock()
	if c.deleted {
		c.mu.Unlock()
		return types.SummaryTree{}, types.ErrDeleted
	}
	if c.attachState == types.Attaching {
		c.mu.Unlock()
		return types.SummaryTree{}, types.NewDataProcessingError("summarize",
			fmt.Errorf("context %s is Attaching", c.id))
	}
	c.mu.Unlock()

	ch, err := c.Realize()
	if err != nil {
		return types.SummaryTree{}, err
	}
	return ch.Summarize(fullTree, trackState)
}

// AttachData returns the snapshot to embed in an outbound Attach
// message: the realized channel's own attach data when loaded, or the
// unmodified base snapshot slice for a not-yet-loaded context.
func (c *Context) AttachData(includeGC bool) (types.Snapshot, error) {
	c.mu.Lock()
	loaded := c.loaded
	base := c.baseSnapshot
	c.mu.Unlock()

	if !loaded {
		if base != nil {
			return *base, nil
		}
		return types.Snapshot{}, nil
	}
	ch, err := c.Realize()
	if err != nil {
		return types.Snapshot{}, err
	}
	return ch.AttachData(includeGC)
}

// GetGCData returns this context's outbound-route graph, failing if the
// context is Attaching.
func (c *Context) GetGCData(fullGC bool) (types.GCData, error) {
	c.mu.Lock()
	if c.attachState == types.Attaching {
		c.mu.Unlock()
		return types.GCData{}, types.NewDataProcessingError("get_gc_data",
			fmt.Errorf("context %s is Attaching", c.id))
	}
	c.mu.Unlock()

	ch, err := c.Realize()
	if err != nil {
		return types.GCData{}, err
	}
	return ch.GetGCData(fullGC)
}

// UpdateUsedRoutes returns ErrDeleted for a deleted context and nil
// otherwise. The routes are not forwarded to the channel.
func (c *Context) UpdateUsedRoutes(routes []string) error {
	c.mu.Lock()
	deleted := c.deleted
	c.mu.Unlock()
	if deleted {
		return types.ErrDeleted
	}
	_ = routes
	return nil
}

// SetTombstone sets or clears the GC tombstone flag.
func (c *Context) SetTombstone(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tombstoned = v
}

func (c *Context) IsLoaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

func (c *Context) IsTombstoned() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tombstoned
}

// IsRoot reports whether the store is reachable from the container root
// (aliased or explicitly marked in-memory root).
func (c *Context) IsRoot() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.root
}

// SetInMemoryRoot marks the store root, false->true only. Called when
// an Alias commit targets this context.
func (c *Context) SetInMemoryRoot() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.root = true
	if c.channel != nil {
		c.channel.SetInMemoryRoot()
	}
}

// InitialSnapshotDetails returns the attributes blob shape persisted
// alongside a store's snapshot sub-tree, §6 "Persisted layout".
type InitialSnapshotDetails struct {
	Pkg             []string `json:"pkg"`
	IsRootDataStore bool     `json:"isRootDataStore"`
}

func (c *Context) InitialSnapshotDetails() InitialSnapshotDetails {
	c.mu.Lock()
	defer c.mu.Unlock()
	return InitialSnapshotDetails{Pkg: c.packagePath, IsRootDataStore: c.root}
}

// Delete marks the context deleted. Every subsequent operation on it
// fails with ErrDeleted. The caller (GCInterface) is responsible for
// removing it from the ContextTable and its summarizer node.
func (c *Context) Delete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = true
}

func (c *Context) IsDeleted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleted
}

func (c *Context) SummarizerNode() types.SummarizerNode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summarizerNode
}

func (c *Context) SetSummarizerNode(n types.SummarizerNode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summarizerNode = n
}

// Storage exposes the blob-fetch seam for a remote context's storage
// wrapper (pkg/attach constructs one that wraps the parent's storage).
func (c *Context) Storage() types.BlobStorage { return c.storage }

// Upstream exposes the parent-runtime seam, used by Realize's channel
// for submitting further ops.
func (c *Context) Upstream() types.Upstream { return c.upstream }
