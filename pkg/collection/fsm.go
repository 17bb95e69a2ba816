package collection

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/fluidmesh/chancol/pkg/router"
	"github.com/hashicorp/raft"
)

// Command is one raft log entry: a wire message tagged with the op
// type it carries and the CommandID SubmitMessage minted for it,
// grounded in the teacher's WarrenFSM Command{Op, Data}.
type Command struct {
	Op        string          `json:"op"`
	CommandID string          `json:"commandId"`
	Data      json.RawMessage `json:"data"`
}

// FSM is the collection's raft.FSM: every committed Command is routed
// through the same Router every other inbound message uses, with
// locality decided by CommandID membership in localCmds rather than by
// which node happens to be leader.
type FSM struct {
	mu         sync.Mutex
	router     *router.Router
	localCmds  *sync.Map
	appliedIdx uint64
}

// NewFSM constructs a collection FSM. localCmds must be the same map
// instance given to RaftUpstream.
func NewFSM(r *router.Router, localCmds *sync.Map) *FSM {
	return &FSM{router: r, localCmds: localCmds}
}

// Apply applies one committed log entry to the FSM.
func (f *FSM) Apply(l *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(l.Data, &cmd); err != nil {
		return fmt.Errorf("collection fsm: unmarshal command: %w", err)
	}

	f.mu.Lock()
	f.appliedIdx = l.Index
	f.mu.Unlock()

	localMeta, local := f.localCmds.Load(cmd.CommandID)
	if local {
		defer f.localCmds.Delete(cmd.CommandID)
	}

	return f.router.Dispatch(cmd.Op, cmd.Data, local, localMeta)
}

// AppliedIndex returns the highest log index this FSM has applied.
func (f *FSM) AppliedIndex() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appliedIdx
}

// Snapshot is a no-op: the collection's durable state lives in the
// blob/snapshot store (pkg/storage), addressed by context id rather
// than by raft log position, so raft only needs to replay the Attach
// and Alias ops since the last storage-level summary. The alias table
// and pending-attach set are not persisted here, and nothing in this
// module restores them from a snapshot.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	return emptySnapshot{}, nil
}

// Restore is a no-op complement to Snapshot.
func (f *FSM) Restore(rc io.ReadCloser) error {
	return rc.Close()
}

type emptySnapshot struct{}

func (emptySnapshot) Persist(sink raft.SnapshotSink) error { return sink.Close() }
func (emptySnapshot) Release()                             {}
