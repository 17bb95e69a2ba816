package attach

import (
	"errors"
	"testing"
	"time"

	"github.com/fluidmesh/chancol/pkg/contexttable"
	"github.com/fluidmesh/chancol/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUpstream struct {
	state    types.AttachState
	sent     []types.AttachMessage
	sentMeta []any
	failNext bool
}

func (f *fakeUpstream) SubmitMessage(msgType string, content any, localMeta any) error {
	if f.failNext {
		f.failNext = false
		return assertErr
	}
	f.sent = append(f.sent, content.(types.AttachMessage))
	f.sentMeta = append(f.sentMeta, localMeta)
	return nil
}
func (f *fakeUpstream) SubmitSignal(string, any, string) error { return nil }
func (f *fakeUpstream) AttachState() types.AttachState         { return f.state }
func (f *fakeUpstream) GenerateDocumentUniqueID() (any, error) { return uint64(1), nil }
func (f *fakeUpstream) GetCreateChildSummarizerNodeFn(string, string) func() types.SummarizerNode {
	return func() types.SummarizerNode { return nil }
}
func (f *fakeUpstream) DeleteChildSummarizerNode(string) {}

var assertErr = errors.New("submit failed")

type fakeGCSink struct {
	refs []struct{ from, to string }
}

func (f *fakeGCSink) AddedOutboundReference(from, to string) {
	f.refs = append(f.refs, struct{ from, to string }{from, to})
}
func (f *fakeGCSink) NodeUpdated(string, string, time.Time) {}

func newTestProtocol(state types.AttachState) (*Protocol, *contexttable.Table, *fakeUpstream, *fakeGCSink) {
	table := contexttable.New()
	up := &fakeUpstream{state: state}
	sink := &fakeGCSink{}
	known := func(id string) bool {
		_, ok := table.Get(id)
		return ok
	}
	newCtx := func(id string, pkg []string, snap *types.Snapshot) *contexttable.Context {
		return contexttable.New(contexttable.NewOpts{
			ID: id, PackagePath: pkg, AttachState: types.Attached, Binding: types.Bound,
		})
	}
	p := New(table, up, sink, known, newCtx)
	return p, table, up, sink
}

func TestMakeVisibleSubmitsAttachAndTracksPending(t *testing.T) {
	p, table, up, _ := newTestProtocol(types.Attached)
	c := contexttable.New(contexttable.NewOpts{ID: "1", PackagePath: []string{"ns", "Thing"}, AttachState: types.Detached, Binding: types.Unbound})
	table.AddUnbound(c)

	require.NoError(t, p.MakeVisible(c))

	require.Len(t, up.sent, 1)
	assert.Equal(t, "1", up.sent[0].ID)
	assert.Equal(t, "Thing", up.sent[0].Type)
	assert.True(t, p.PendingAttach("1"))
	assert.Equal(t, types.Attaching, c.AttachState())
	assert.Equal(t, types.Bound, c.Binding())
}

func TestMakeVisibleRejectedWhenContainerDetached(t *testing.T) {
	p, table, _, _ := newTestProtocol(types.Detached)
	c := contexttable.New(contexttable.NewOpts{ID: "1", AttachState: types.Detached, Binding: types.Unbound})
	table.AddUnbound(c)

	err := p.MakeVisible(c)
	assert.Error(t, err)
}

func TestProcessInboundLocalAckTransitionsToAttached(t *testing.T) {
	p, table, _, _ := newTestProtocol(types.Attached)
	c := contexttable.New(contexttable.NewOpts{ID: "1", AttachState: types.Detached, Binding: types.Unbound})
	table.AddUnbound(c)
	require.NoError(t, p.MakeVisible(c))

	err := p.ProcessInbound(types.AttachMessage{ID: "1", Type: "Thing"}, true, attachLocalMeta{id: "1"})
	require.NoError(t, err)
	assert.Equal(t, types.Attached, c.AttachState())
	assert.False(t, p.PendingAttach("1"))
}

func TestProcessInboundLocalAckWithoutPendingIsInternalConsistency(t *testing.T) {
	p, _, _, _ := newTestProtocol(types.Attached)
	err := p.ProcessInbound(types.AttachMessage{ID: "ghost"}, true, nil)
	assert.True(t, types.Is(err, types.KindInternalConsistency))
}

func TestProcessInboundRemoteConstructsContext(t *testing.T) {
	p, table, _, _ := newTestProtocol(types.Attached)
	err := p.ProcessInbound(types.AttachMessage{ID: "99", Type: "Thing"}, false, nil)
	require.NoError(t, err)

	c, ok := table.Get("99")
	require.True(t, ok)
	assert.Equal(t, types.Attached, c.AttachState())
}

func TestProcessInboundRemoteDuplicateIsDataCorruption(t *testing.T) {
	p, table, _, _ := newTestProtocol(types.Attached)
	table.AddBoundOrRemoted(contexttable.New(contexttable.NewOpts{ID: "1", AttachState: types.Attached, Binding: types.Bound}))

	err := p.ProcessInbound(types.AttachMessage{ID: "1", Type: "Thing"}, false, nil)
	assert.True(t, types.Is(err, types.KindDataCorruption))
}

func TestProcessInboundEmitsOutboundReferencesFromGCNodes(t *testing.T) {
	p, _, _, sink := newTestProtocol(types.Attached)
	msg := types.AttachMessage{
		ID:   "1",
		Type: "Thing",
		Snapshot: &types.Snapshot{
			GCNodes: []types.GCNode{{ID: "/dds0", OutboundRoutes: []string{"/2/dds1"}}},
		},
	}
	require.NoError(t, p.ProcessInbound(msg, false, nil))

	require.Len(t, sink.refs, 1)
	assert.Equal(t, "/1/dds0", sink.refs[0].from)
	assert.Equal(t, "/2/dds1", sink.refs[0].to)
}

func TestRollbackRevertsToUnboundDetached(t *testing.T) {
	p, table, _, _ := newTestProtocol(types.Attached)
	c := contexttable.New(contexttable.NewOpts{ID: "1", AttachState: types.Detached, Binding: types.Unbound})
	table.AddUnbound(c)
	require.NoError(t, p.MakeVisible(c))

	require.NoError(t, p.Rollback(c))
	assert.Equal(t, types.Detached, c.AttachState())
	assert.Equal(t, types.Unbound, c.Binding())
	assert.False(t, p.PendingAttach("1"))
}
