package summary

import (
	"testing"

	"github.com/fluidmesh/chancol/pkg/contexttable"
	"github.com/fluidmesh/chancol/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	tree        types.SummaryTree
	onSummarize func()
}

func (f *fakeChannel) Process(types.EnvelopeContents, bool, any) error { return nil }
func (f *fakeChannel) ProcessSignal(any, bool) error                   { return nil }
func (f *fakeChannel) ApplyStashedOp(any) error                        { return nil }
func (f *fakeChannel) Resubmit(string, any, any) error                 { return nil }
func (f *fakeChannel) Rollback(string, any, any) error                 { return nil }
func (f *fakeChannel) SetConnectionState(bool, string)                 {}
func (f *fakeChannel) GetGCData(bool) (types.GCData, error)            { return types.GCData{}, nil }
func (f *fakeChannel) Summarize(fullTree, trackState bool) (types.SummaryTree, error) {
	if f.onSummarize != nil {
		f.onSummarize()
	}
	return f.tree, nil
}
func (f *fakeChannel) AttachData(bool) (types.Snapshot, error) { return types.Snapshot{}, nil }
func (f *fakeChannel) Request(types.RequestObject) (types.Response, error) {
	return types.Response{}, nil
}
func (f *fakeChannel) IsRoot() bool     { return false }
func (f *fakeChannel) SetInMemoryRoot() {}

type fakeFactory struct{ ch *fakeChannel }

func (f *fakeFactory) PackagePath() []string               { return []string{"ns", "Thing"} }
func (f *fakeFactory) Instantiate() (types.Channel, error) { return f.ch, nil }

func newBoundContext(table *contexttable.Table, id string, ch *fakeChannel) *contexttable.Context {
	c := contexttable.New(contexttable.NewOpts{
		ID:          id,
		Factory:     &fakeFactory{ch: ch},
		AttachState: types.Detached,
		Binding:     types.Bound,
	})
	table.AddBoundOrRemoted(c)
	return c
}

func newUnboundContext(table *contexttable.Table, id string, ch *fakeChannel) *contexttable.Context {
	c := contexttable.New(contexttable.NewOpts{
		ID:          id,
		Factory:     &fakeFactory{ch: ch},
		AttachState: types.Detached,
		Binding:     types.Unbound,
	})
	table.AddUnbound(c)
	return c
}

// TestGetAttachSummaryFixedPointResolvesTransitiveBinds directly
// implements scenario S1: X is unbound, Y holds a handle to X and is
// already locally bound. Summarizing Y transitively binds X; the
// fixed-point loop must run a second pass to pick X up.
func TestGetAttachSummaryFixedPointResolvesTransitiveBinds(t *testing.T) {
	table := contexttable.New()
	chX := &fakeChannel{tree: types.SummaryTree{Entries: []types.SnapshotEntry{{Path: "x"}}}}
	newUnboundContext(table, "X", chX)

	chY := &fakeChannel{tree: types.SummaryTree{Entries: []types.SnapshotEntry{{Path: "y"}}}}
	chY.onSummarize = func() { table.Bind("X") }
	y := newBoundContext(table, "Y", chY)
	_, err := y.Realize()
	require.NoError(t, err)

	b := New(table, nil)
	result, err := b.GetAttachSummary()
	require.NoError(t, err)

	assert.Contains(t, result, "X")
	assert.Contains(t, result, "Y")
	assert.Equal(t, 0, table.NotBoundLength())
}

func TestGetAttachSummarySkipsPendingAttachContexts(t *testing.T) {
	table := contexttable.New()
	ch := &fakeChannel{}
	newBoundContext(table, "1", ch)

	b := New(table, func(id string) bool { return id == "1" })
	result, err := b.GetAttachSummary()
	require.NoError(t, err)
	assert.NotContains(t, result, "1")
}

func TestGetAttachSummaryReusesBaseSnapshotForUnloadedContext(t *testing.T) {
	table := contexttable.New()
	base := &types.Snapshot{Entries: []types.SnapshotEntry{{Path: "base"}}}
	c := contexttable.New(contexttable.NewOpts{
		ID:           "1",
		AttachState:  types.Detached,
		Binding:      types.Bound,
		BaseSnapshot: base,
	})
	table.AddBoundOrRemoted(c)

	b := New(table, nil)
	result, err := b.GetAttachSummary()
	require.NoError(t, err)
	require.Contains(t, result, "1")
	assert.Equal(t, base.Entries, result["1"].Entries)
}

func TestSummarizeAbortsOnAttachingContext(t *testing.T) {
	table := contexttable.New()
	c := contexttable.New(contexttable.NewOpts{ID: "1", AttachState: types.Attaching, Binding: types.Bound})
	table.AddBoundOrRemoted(c)

	b := New(table, nil)
	_, err := b.Summarize(false, false)
	assert.True(t, types.Is(err, types.KindDataProcessing))
}

func TestSummarizeCoversOnlyAttachedContexts(t *testing.T) {
	table := contexttable.New()
	chA := &fakeChannel{tree: types.SummaryTree{Entries: []types.SnapshotEntry{{Path: "a"}}}}
	a := contexttable.New(contexttable.NewOpts{ID: "a", Factory: &fakeFactory{ch: chA}, AttachState: types.Attached, Binding: types.Bound})
	table.AddBoundOrRemoted(a)

	b := contexttable.New(contexttable.NewOpts{ID: "b", AttachState: types.Detached, Binding: types.Unbound})
	table.AddUnbound(b)

	builder := New(table, nil)
	result, err := builder.Summarize(false, false)
	require.NoError(t, err)
	assert.Contains(t, result, "a")
	assert.NotContains(t, result, "b")
}
