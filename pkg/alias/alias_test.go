package alias

import (
	"context"
	"testing"
	"time"

	"github.com/fluidmesh/chancol/pkg/contexttable"
	"github.com/fluidmesh/chancol/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUpstream struct {
	sent []types.AliasMessage
}

func (f *fakeUpstream) SubmitMessage(msgType string, content any, localMeta any) error {
	f.sent = append(f.sent, content.(types.AliasMessage))
	return nil
}
func (f *fakeUpstream) SubmitSignal(string, any, string) error { return nil }
func (f *fakeUpstream) AttachState() types.AttachState         { return types.Attached }
func (f *fakeUpstream) GenerateDocumentUniqueID() (any, error) { return uint64(1), nil }
func (f *fakeUpstream) GetCreateChildSummarizerNodeFn(string, string) func() types.SummarizerNode {
	return func() types.SummarizerNode { return nil }
}
func (f *fakeUpstream) DeleteChildSummarizerNode(string) {}

type fakeGCSink struct{ refs int }

func (f *fakeGCSink) AddedOutboundReference(string, string) { f.refs++ }
func (f *fakeGCSink) NodeUpdated(string, string, time.Time) {}

func newTestProtocol() (*Protocol, *contexttable.Table, *fakeUpstream) {
	table := contexttable.New()
	up := &fakeUpstream{}
	sink := &fakeGCSink{}
	makeVisible := func(c *contexttable.Context) error {
		table.Bind(c.ID())
		return nil
	}
	return New(table, up, sink, makeVisible), table, up
}

func TestAliasReservesAndSubmits(t *testing.T) {
	p, table, up := newTestProtocol()
	c := contexttable.New(contexttable.NewOpts{ID: "1", AttachState: types.Attached, Binding: types.Unbound})
	table.AddUnbound(c)

	f, err := p.Alias(c, "root")
	require.NoError(t, err)
	require.NotNil(t, f)
	require.Len(t, up.sent, 1)
	assert.Equal(t, "root", up.sent[0].Alias)
	assert.Equal(t, types.Bound, c.Binding())
}

func TestAliasRoundTripResolvesSuccess(t *testing.T) {
	p, table, _ := newTestProtocol()
	c := contexttable.New(contexttable.NewOpts{ID: "1", AttachState: types.Attached, Binding: types.Bound})
	table.AddBoundOrRemoted(c)

	f, err := p.Alias(c, "root")
	require.NoError(t, err)

	require.NoError(t, p.ProcessInbound(types.AliasMessage{Type: types.MessageAlias, InternalID: "1", Alias: "root"}, true, nil))

	result, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.AliasSuccess, result)
	assert.Equal(t, "1", p.Resolve("root"))
}

func TestConcurrentAliasesOnlyOneWins(t *testing.T) {
	p, table, _ := newTestProtocol()
	c1 := contexttable.New(contexttable.NewOpts{ID: "1", AttachState: types.Attached, Binding: types.Bound})
	c2 := contexttable.New(contexttable.NewOpts{ID: "2", AttachState: types.Attached, Binding: types.Bound})
	table.AddBoundOrRemoted(c1)
	table.AddBoundOrRemoted(c2)

	f1, err := p.Alias(c1, "root")
	require.NoError(t, err)
	f2, err := p.Alias(c2, "root")
	require.NoError(t, err)

	// Lower sequence number processes first (S3): remote op for "2" lands
	// before the local op for "1".
	require.NoError(t, p.ProcessInbound(types.AliasMessage{Type: types.MessageAlias, InternalID: "2", Alias: "root"}, false, nil))
	require.NoError(t, p.ProcessInbound(types.AliasMessage{Type: types.MessageAlias, InternalID: "1", Alias: "root"}, true, nil))

	r1, _ := f1.Wait(context.Background())
	assert.Equal(t, types.AliasConflict, r1)

	assert.Equal(t, "2", p.Resolve("root"))
	_ = f2
}

func TestAlreadyProcessedChecksBothAliasesAndContexts(t *testing.T) {
	p, table, _ := newTestProtocol()
	c := contexttable.New(contexttable.NewOpts{ID: "1", AttachState: types.Attached, Binding: types.Bound})
	table.AddBoundOrRemoted(c)

	assert.True(t, p.AlreadyProcessed("1"))
	assert.False(t, p.AlreadyProcessed("root"))

	require.NoError(t, p.ProcessInbound(types.AliasMessage{Type: types.MessageAlias, InternalID: "1", Alias: "root"}, false, nil))
	assert.True(t, p.AlreadyProcessed("root"))
}

func TestResolveFallsBackToRawID(t *testing.T) {
	p, _, _ := newTestProtocol()
	assert.Equal(t, "unknown-id", p.Resolve("unknown-id"))
}

func TestWaitIfPendingAliasNoEntryResolvesSuccess(t *testing.T) {
	p, _, _ := newTestProtocol()
	result, err := p.WaitIfPendingAlias(context.Background(), "never-requested")
	require.NoError(t, err)
	assert.Equal(t, types.AliasSuccess, result)
}

func TestSecondAliasForSameInternalIDIsAlreadyAliased(t *testing.T) {
	p, table, _ := newTestProtocol()
	c := contexttable.New(contexttable.NewOpts{ID: "1", AttachState: types.Attached, Binding: types.Bound})
	table.AddBoundOrRemoted(c)

	require.NoError(t, p.ProcessInbound(types.AliasMessage{Type: types.MessageAlias, InternalID: "1", Alias: "first"}, false, nil))

	f, err := p.Alias(c, "second")
	require.NoError(t, err)
	require.NoError(t, p.ProcessInbound(types.AliasMessage{Type: types.MessageAlias, InternalID: "1", Alias: "second"}, true, nil))

	result, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.AliasAlreadyAliased, result)

	assert.Equal(t, "1", p.Resolve("first"))
	assert.Equal(t, "1", p.Resolve("second"))
}

func TestFirstAliasOnRootContextIsSuccessNotAlreadyAliased(t *testing.T) {
	p, table, _ := newTestProtocol()
	c := contexttable.New(contexttable.NewOpts{ID: "1", AttachState: types.Attached, Binding: types.Bound, Root: true})
	table.AddBoundOrRemoted(c)

	f, err := p.Alias(c, "root")
	require.NoError(t, err)
	require.NoError(t, p.ProcessInbound(types.AliasMessage{Type: types.MessageAlias, InternalID: "1", Alias: "root"}, true, nil))

	result, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.AliasSuccess, result)
}

func TestDisposeResolvesOutstandingPendingAliases(t *testing.T) {
	p, table, _ := newTestProtocol()
	c := contexttable.New(contexttable.NewOpts{ID: "1", AttachState: types.Attached, Binding: types.Bound})
	table.AddBoundOrRemoted(c)

	f, err := p.Alias(c, "root")
	require.NoError(t, err)

	p.Dispose()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, waitErr := f.Wait(ctx)
	assert.Error(t, waitErr)

	result, err := p.WaitIfPendingAlias(context.Background(), "root")
	require.NoError(t, err)
	assert.Equal(t, types.AliasSuccess, result)
}

func TestCommitOnUnknownInternalIDIsLoggedNotFatal(t *testing.T) {
	p, _, _ := newTestProtocol()
	err := p.ProcessInbound(types.AliasMessage{Type: types.MessageAlias, InternalID: "ghost", Alias: "root"}, false, nil)
	assert.True(t, types.Is(err, types.KindDataProcessing))
}
