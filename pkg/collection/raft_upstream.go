package collection

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluidmesh/chancol/pkg/idalloc"
	"github.com/fluidmesh/chancol/pkg/log"
	"github.com/fluidmesh/chancol/pkg/metrics"
	"github.com/fluidmesh/chancol/pkg/types"
	"github.com/google/uuid"
	"github.com/hashicorp/raft"
)

// RaftUpstream implements types.Upstream by sequencing every outbound
// collection message through a raft.Raft log, grounded in the teacher's
// Manager.Apply. Every node in the cluster observes the same command at
// the same log index; localCmds lets the node that originated a command
// recognize its own op when the FSM replays it, without requiring the
// FSM itself to know about raft.Raft or this type.
type RaftUpstream struct {
	raft      *raft.Raft
	localCmds *sync.Map
	idAlloc   *idalloc.Allocator

	mu                   sync.Mutex
	containerAttachState types.AttachState

	commandSeq uint64
}

// NewRaftUpstream constructs a RaftUpstream. localCmds is shared with
// the CollectionFSM so Apply can tell a local command from a remote
// one by CommandID membership.
func NewRaftUpstream(r *raft.Raft, localCmds *sync.Map, idAlloc *idalloc.Allocator) *RaftUpstream {
	return &RaftUpstream{raft: r, localCmds: localCmds, idAlloc: idAlloc}
}

// SetAttachState records whatever attach state the real container
// runtime reports; it is reached through Collection.SetContainerAttachState.
// Until it is called, AttachState reports Detached (the zero value); the
// collection otherwise has no way to observe the outer container.
func (u *RaftUpstream) SetAttachState(s types.AttachState) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.containerAttachState = s
}

// AttachState implements types.Upstream.
func (u *RaftUpstream) AttachState() types.AttachState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.containerAttachState
}

// SubmitMessage sequences content through the raft log as one Command
// tagged with msgType, per §6. The local node's localMeta rides along
// in localCmds rather than on the wire, since raft.Log entries must be
// identical on every replica.
func (u *RaftUpstream) SubmitMessage(msgType string, content any, localMeta any) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftApplyDuration)

	data, err := json.Marshal(content)
	if err != nil {
		return types.NewInternalConsistencyError("raft_upstream.submit_message",
			fmt.Errorf("marshal %s content: %w", msgType, err))
	}

	commandID := fmt.Sprintf("%s-%d", uuid.NewString(), atomic.AddUint64(&u.commandSeq, 1))
	if localMeta != nil {
		u.localCmds.Store(commandID, localMeta)
	}

	cmd := Command{Op: msgType, CommandID: commandID, Data: data}
	raw, err := json.Marshal(cmd)
	if err != nil {
		u.localCmds.Delete(commandID)
		return types.NewInternalConsistencyError("raft_upstream.submit_message", err)
	}

	if u.raft == nil {
		u.localCmds.Delete(commandID)
		return types.NewTransientError("raft_upstream.submit_message", fmt.Errorf("raft not initialized"))
	}

	f := u.raft.Apply(raw, 5*time.Second)
	if err := f.Error(); err != nil {
		u.localCmds.Delete(commandID)
		return types.NewTransientError("raft_upstream.submit_message", fmt.Errorf("raft apply: %w", err))
	}

	if resp := f.Response(); resp != nil {
		if applyErr, ok := resp.(error); ok && applyErr != nil {
			return applyErr
		}
	}
	return nil
}

// SubmitSignal sends an ephemeral, non-sequenced signal. Signals are
// not raft-replicated per §6 ("no ordering/durability guarantee beyond
// delivery-to-target"); a real deployment wires this to whatever
// unicast transport the parent runtime provides. Logged and dropped
// here, since this collection owns no such transport itself.
func (u *RaftUpstream) SubmitSignal(msgType string, content any, targetClient string) error {
	log.WithComponent("raft-upstream").Debug().
		Str("target", targetClient).
		Str("type", msgType).
		Msg("signal submitted with no external transport wired, dropping")
	return nil
}

// GenerateDocumentUniqueID implements types.Upstream by minting a UUID
// from the collection's own id namespace.
func (u *RaftUpstream) GenerateDocumentUniqueID() (any, error) {
	return idalloc.NewDocumentUniqueID(), nil
}

// GetCreateChildSummarizerNodeFn returns a constructor for a
// SummarizerNode. The concrete summarizer tree is owned by the parent
// runtime; this collection only carries the opaque handle it's handed
// back, so the stand-in constructor returns an id-tagged placeholder.
func (u *RaftUpstream) GetCreateChildSummarizerNodeFn(id string, source string) func() types.SummarizerNode {
	return func() types.SummarizerNode {
		return summarizerNodeHandle{id: id, source: source}
	}
}

// DeleteChildSummarizerNode implements types.Upstream. No local
// summarizer tree is owned here; this only exists so GC's sweep path
// has a real call site to notify once a concrete upstream is wired.
func (u *RaftUpstream) DeleteChildSummarizerNode(id string) {
	log.WithStoreID(id).Debug().Msg("summarizer node delete requested, no summarizer tree owner wired")
}

type summarizerNodeHandle struct {
	id     string
	source string
}
