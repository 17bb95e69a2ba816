package collection

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/fluidmesh/chancol/pkg/contexttable"
	"github.com/fluidmesh/chancol/pkg/router"
	"github.com/fluidmesh/chancol/pkg/types"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sinkAdapter struct{}

func (sinkAdapter) AddedOutboundReference(string, string)         {}
func (sinkAdapter) NodeUpdated(path, reason string, at time.Time) {}

func newTestRouter() (*router.Router, *contexttable.Table, *int, *int) {
	table := contexttable.New()
	attachCalls := 0
	aliasCalls := 0
	onAttach := func(msg types.AttachMessage, local bool, localMeta any) error {
		attachCalls++
		return nil
	}
	onAlias := func(msg types.AliasMessage, local bool, localMeta any) error {
		aliasCalls++
		return nil
	}
	r := router.New(table, sinkAdapter{}, types.Config{}, onAttach, onAlias)
	return r, table, &attachCalls, &aliasCalls
}

type testLocalMeta struct{}

func TestFSMApplyDispatchesLocalCommand(t *testing.T) {
	r, _, attachCalls, _ := newTestRouter()
	localCmds := &sync.Map{}
	fsm := NewFSM(r, localCmds)

	localCmds.Store("cmd-1", testLocalMeta{})

	msg := types.AttachMessage{ID: "1", Type: "Thing"}
	data, _ := json.Marshal(msg)
	cmd := Command{Op: types.MessageAttach, CommandID: "cmd-1", Data: data}
	raw, _ := json.Marshal(cmd)

	result := fsm.Apply(&raft.Log{Index: 1, Data: raw})
	require.Nil(t, result)
	assert.Equal(t, 1, *attachCalls)
	assert.Equal(t, uint64(1), fsm.AppliedIndex())

	_, stillPresent := localCmds.Load("cmd-1")
	assert.False(t, stillPresent)
}

func TestFSMApplyRemoteCommandHasNoLocalMeta(t *testing.T) {
	r, _, _, aliasCalls := newTestRouter()
	localCmds := &sync.Map{}
	fsm := NewFSM(r, localCmds)

	msg := types.AliasMessage{Type: types.MessageAlias, InternalID: "1", Alias: "root"}
	data, _ := json.Marshal(msg)
	cmd := Command{Op: types.MessageAlias, CommandID: "cmd-remote", Data: data}
	raw, _ := json.Marshal(cmd)

	result := fsm.Apply(&raft.Log{Index: 2, Data: raw})
	require.Nil(t, result)
	assert.Equal(t, 1, *aliasCalls)
}

func TestFSMApplyMalformedCommandReturnsError(t *testing.T) {
	r, _, _, _ := newTestRouter()
	fsm := NewFSM(r, &sync.Map{})

	result := fsm.Apply(&raft.Log{Index: 1, Data: []byte("not json")})
	_, ok := result.(error)
	assert.True(t, ok)
}
