// Package alias implements AliasProtocol (§4.D): reserves, submits, and
// resolves Alias ops, enforcing the global alreadyProcessed(x) =
// aliases.contains(x) || contexts.contains(x) uniqueness predicate
// against both existing internal ids and prior aliases.
package alias

import (
	"context"
	"fmt"
	"sync"

	"github.com/fluidmesh/chancol/pkg/contexttable"
	"github.com/fluidmesh/chancol/pkg/future"
	"github.com/fluidmesh/chancol/pkg/log"
	"github.com/fluidmesh/chancol/pkg/metrics"
	"github.com/fluidmesh/chancol/pkg/types"
)

// Protocol is the AliasProtocol. It owns the aliases map exclusively —
// AttachProtocol's duplicate-id check and RequestRouter's id resolution
// both read it through Resolve/AlreadyProcessed.
type Protocol struct {
	table    *contexttable.Table
	upstream types.Upstream
	gcSink   types.GCSink
	makeVisible func(*contexttable.Context) error

	mu             sync.Mutex
	aliases        map[string]string
	pendingAliases map[string]*future.Future[types.AliasResult]
}

// New constructs an AliasProtocol. makeVisible is AttachProtocol.MakeVisible,
// injected to avoid a direct dependency cycle between the two packages.
func New(table *contexttable.Table, upstream types.Upstream, gcSink types.GCSink, makeVisible func(*contexttable.Context) error) *Protocol {
	return &Protocol{
		table:          table,
		upstream:       upstream,
		gcSink:         gcSink,
		makeVisible:    makeVisible,
		aliases:        make(map[string]string),
		pendingAliases: make(map[string]*future.Future[types.AliasResult]),
	}
}

// AlreadyProcessed is the canonical global-uniqueness predicate, §4.D:
// alreadyProcessed(x) = aliases.contains_key(x) || contexts.contains(x).
func (p *Protocol) AlreadyProcessed(x string) bool {
	p.mu.Lock()
	_, aliased := p.aliases[x]
	p.mu.Unlock()
	if aliased {
		return true
	}
	_, exists := p.table.Get(x)
	return exists
}

// Resolve returns the internal id for alias, or alias itself if no
// mapping exists (RequestRouter's id.unwrap_or(id) fallback, §4.J).
func (p *Protocol) Resolve(aliasOrID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if internal, ok := p.aliases[aliasOrID]; ok {
		return internal
	}
	return aliasOrID
}

// WaitIfPendingAlias suspends until alias's in-flight commit resolves,
// or returns Success immediately if no entry is pending — the
// documented historical contract (§9 Open Questions) that conflates
// "no such alias in flight" with "alias succeeded". Preserved here for
// compatibility; new call sites should prefer Resolve plus an explicit
// AlreadyProcessed check when that ambiguity is unacceptable.
func (p *Protocol) WaitIfPendingAlias(ctx context.Context, aliasName string) (types.AliasResult, error) {
	p.mu.Lock()
	f, ok := p.pendingAliases[aliasName]
	p.mu.Unlock()
	if !ok {
		return types.AliasSuccess, nil
	}
	return f.Wait(ctx)
}

// Alias reserves desiredAlias for internalID: if the context isn't yet
// bound it is made locally visible first, then an Alias op is submitted
// carrying the resolver as local metadata. The returned Future resolves
// once the op round-trips.
func (p *Protocol) Alias(c *contexttable.Context, desiredAlias string) (*future.Future[types.AliasResult], error) {
	if c.Binding() == types.Unbound {
		if err := p.makeVisible(c); err != nil {
			return nil, err
		}
	}

	f := future.New[types.AliasResult]()
	p.mu.Lock()
	p.pendingAliases[desiredAlias] = f
	p.mu.Unlock()

	metrics.AliasAttemptsTotal.Inc()
	timer := metrics.NewTimer()
	msg := types.AliasMessage{Type: types.MessageAlias, InternalID: c.ID(), Alias: desiredAlias}
	meta := aliasLocalMeta{alias: desiredAlias, future: f, timer: timer}
	if err := p.upstream.SubmitMessage(types.MessageAlias, msg, meta); err != nil {
		p.mu.Lock()
		delete(p.pendingAliases, desiredAlias)
		p.mu.Unlock()
		return nil, err
	}
	return f, nil
}

type aliasLocalMeta struct {
	alias  string
	future *future.Future[types.AliasResult]
	timer  *metrics.Timer
}

// ProcessInbound commits an Alias op per §4.D.
func (p *Protocol) ProcessInbound(msg types.AliasMessage, local bool, localMeta any) error {
	if msg.Type != types.MessageAlias {
		return types.NewDataCorruptionError("alias.process_inbound",
			fmt.Errorf("malformed alias message type %q", msg.Type))
	}

	result, resolveErr := p.commit(msg)

	metrics.AliasOutcomesTotal.WithLabelValues(string(result)).Inc()
	if lm, ok := localMeta.(aliasLocalMeta); ok {
		if lm.timer != nil {
			lm.timer.ObserveDuration(metrics.AliasCommitDuration)
		}
	}

	if local {
		p.mu.Lock()
		f := p.pendingAliases[msg.Alias]
		delete(p.pendingAliases, msg.Alias)
		p.mu.Unlock()
		if f != nil {
			f.Resolve(result, nil)
		}
	}

	return resolveErr
}

// Dispose resolves every alias reservation still awaiting its commit
// round trip with an error, unblocking any caller parked in
// WaitIfPendingAlias or Alias's returned Future during collection
// shutdown (§12).
func (p *Protocol) Dispose() {
	p.mu.Lock()
	pending := p.pendingAliases
	p.pendingAliases = make(map[string]*future.Future[types.AliasResult])
	p.mu.Unlock()

	err := types.NewInternalConsistencyError("alias.dispose", fmt.Errorf("collection disposed with alias reservation pending"))
	for _, f := range pending {
		f.Resolve(types.AliasConflict, err)
	}
}

func (p *Protocol) commit(msg types.AliasMessage) (types.AliasResult, error) {
	if p.AlreadyProcessed(msg.Alias) {
		return types.AliasConflict, nil
	}

	c, ok := p.table.Get(msg.InternalID)
	if !ok {
		log.WithAlias(msg.Alias).Error().Str("internal_id", msg.InternalID).Msg("alias commit for unknown internal id")
		return types.AliasConflict, types.NewDataProcessingError("alias.commit",
			fmt.Errorf("no context for internal id %s", msg.InternalID))
	}

	p.mu.Lock()
	alreadyAliased := false
	for _, id := range p.aliases {
		if id == msg.InternalID {
			alreadyAliased = true
			break
		}
	}
	p.aliases[msg.Alias] = msg.InternalID
	p.mu.Unlock()

	c.SetInMemoryRoot()
	p.gcSink.AddedOutboundReference("/", "/"+msg.InternalID)

	if alreadyAliased {
		return types.AliasAlreadyAliased, nil
	}
	return types.AliasSuccess, nil
}
