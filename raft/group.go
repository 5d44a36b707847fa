// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package raft

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"
	"go.etcd.io/etcd/raft/v3"
	"go.etcd.io/etcd/raft/v3/raftpb"
)

type Group interface {
	Propose(ctx context.Context, data []byte) (ProposalResponse, error)
	LeaderTransfer(ctx context.Context, peerID uint64) error
	MemberChange(ctx context.Context, mc *Member) error
	Campaign(ctx context.Context) error
	IsLeader() bool
	LeaderID() uint64
	Members() []Member
	Stat() (*Stat, error)
	Close() error
}

type group struct {
	id            uint64
	nodeID        uint64
	leader        uint64
	closed        int32
	tickInterval  time.Duration
	unreachableMu struct {
		sync.Mutex
		remotes map[uint64]struct{}
	}
	rawNodeMu struct {
		sync.Mutex
		rawNode *raft.RawNode
	}
	notifies sync.Map
	// hints resolves peers not yet known from the group membership
	hints map[uint64]Member

	proposalQueue proposalQueue
	signalc       chan struct{}
	stopc         chan struct{}
	done          chan struct{}

	sm          StateMachine
	storage     *storage
	idGenerator *idGenerator
	transport   *transport
}

func (g *group) Propose(ctx context.Context, data []byte) (resp ProposalResponse, err error) {
	notifyID := g.idGenerator.Next()
	n := newNotify()
	g.addNotify(notifyID, n)
	defer g.notifies.Delete(notifyID)

	pd := ProposalData{Data: data, notifyID: notifyID}
	if err = g.push(ctx, proposalRequest{entryType: raftpb.EntryNormal, notifyID: notifyID, data: pd.Marshal()}); err != nil {
		return
	}

	ret, err := n.Wait(ctx)
	if err != nil {
		return
	}
	if ret.err != nil {
		return resp, ret.err
	}
	return ProposalResponse{Data: ret.reply}, nil
}

func (g *group) LeaderTransfer(ctx context.Context, peerID uint64) error {
	if !g.IsLeader() {
		return ErrNotLeader
	}
	if peerID == g.nodeID {
		return nil
	}
	if _, ok := g.storage.Member(peerID); !ok {
		return ErrMemberNotExist
	}
	(*internalGroupProcessor)(g).WithRaftRawNodeLocked(func(rn *raft.RawNode) error {
		rn.TransferLeader(peerID)
		return nil
	})
	g.signal()

	// the transfer is acknowledged once this replica observes the new leader
	ticker := time.NewTicker(g.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ErrLeaderTransferTimeout
		case <-g.stopc:
			return ErrRaftGroupDeleted
		case <-ticker.C:
			if g.LeaderID() == peerID {
				return nil
			}
		}
	}
}

func (g *group) MemberChange(ctx context.Context, mc *Member) error {
	_, exist := g.storage.Member(mc.NodeID)
	var ccType raftpb.ConfChangeType
	switch mc.Type {
	case MemberChangeType_AddMember:
		if exist {
			return ErrMemberExist
		}
		ccType = raftpb.ConfChangeAddNode
	case MemberChangeType_RemoveMember:
		if !exist {
			return ErrMemberNotExist
		}
		ccType = raftpb.ConfChangeRemoveNode
	default:
		return errors.New("unknown member change type")
	}

	data, err := mc.Marshal()
	if err != nil {
		return err
	}
	notifyID := g.idGenerator.Next()
	n := newNotify()
	g.addNotify(notifyID, n)
	defer g.notifies.Delete(notifyID)

	if err = g.push(ctx, proposalRequest{
		entryType: raftpb.EntryConfChange,
		notifyID:  notifyID,
		cc: raftpb.ConfChange{
			Type:    ccType,
			NodeID:  mc.NodeID,
			Context: append(notifyIDToBytes(notifyID), data...),
		},
	}); err != nil {
		return err
	}

	ret, err := n.Wait(ctx)
	if err != nil {
		return err
	}
	return ret.err
}

func (g *group) Campaign(ctx context.Context) error {
	err := (*internalGroupProcessor)(g).WithRaftRawNodeLocked(func(rn *raft.RawNode) error {
		return rn.Campaign()
	})
	g.signal()
	return err
}

func (g *group) IsLeader() bool {
	return g.LeaderID() == g.nodeID
}

func (g *group) LeaderID() uint64 {
	return atomic.LoadUint64(&g.leader)
}

func (g *group) Members() []Member {
	return g.storage.Members()
}

func (g *group) Stat() (*Stat, error) {
	var st raft.Status
	(*internalGroupProcessor)(g).WithRaftRawNodeLocked(func(rn *raft.RawNode) error {
		st = rn.Status()
		return nil
	})
	members := g.storage.Members()
	peers := make([]uint64, 0, len(members))
	for _, m := range members {
		peers = append(peers, m.NodeID)
	}
	return &Stat{
		ID:             g.id,
		NodeID:         g.nodeID,
		Term:           st.Term,
		Vote:           st.Vote,
		Commit:         st.Commit,
		Leader:         st.Lead,
		RaftState:      st.RaftState.String(),
		Applied:        g.storage.AppliedIndex(),
		LeadTransferee: st.LeadTransferee,
		Peers:          peers,
	}, nil
}

func (g *group) Close() error {
	if !atomic.CompareAndSwapInt32(&g.closed, 0, 1) {
		return nil
	}
	close(g.stopc)
	<-g.done
	g.notifies.Range(func(key, _ interface{}) bool {
		g.doNotify(key.(uint64), proposalResult{err: ErrRaftGroupDeleted})
		return true
	})
	return nil
}

func (g *group) push(ctx context.Context, req proposalRequest) error {
	if atomic.LoadInt32(&g.closed) == 1 {
		return ErrRaftGroupDeleted
	}
	if err := g.proposalQueue.Push(ctx, req); err != nil {
		return err
	}
	g.signal()
	return nil
}

func (g *group) signal() {
	select {
	case g.signalc <- struct{}{}:
	default:
	}
}

func (g *group) step(ctx context.Context, msg raftpb.Message) error {
	if atomic.LoadInt32(&g.closed) == 1 {
		return ErrRaftGroupDeleted
	}
	err := (*internalGroupProcessor)(g).WithRaftRawNodeLocked(func(rn *raft.RawNode) error {
		return rn.Step(msg)
	})
	g.signal()
	if err == raft.ErrStepPeerNotFound {
		return nil
	}
	return err
}

// resolve returns the host of a peer from the membership or the join hints.
func (g *group) resolve(nodeID uint64) (string, bool) {
	if m, ok := g.storage.Member(nodeID); ok {
		return m.Host, true
	}
	m, ok := g.hints[nodeID]
	return m.Host, ok
}

func (g *group) addNotify(notifyID uint64, n notify) {
	g.notifies.Store(notifyID, n)
}

func (g *group) doNotify(notifyID uint64, ret proposalResult) {
	n, ok := g.notifies.LoadAndDelete(notifyID)
	if !ok {
		return
	}
	n.(notify).Notify(ret)
}

func (g *group) run() {
	defer close(g.done)
	span, ctx := trace.StartSpanFromContext(context.Background(), "")
	ticker := time.NewTicker(g.tickInterval)
	defer ticker.Stop()

	p := (*internalGroupProcessor)(g)
	for {
		select {
		case <-g.stopc:
			return
		case <-ticker.C:
			p.Tick()
		case <-g.signalc:
		}
		p.ProcessProposals(ctx)
		if err := p.ProcessReady(ctx); err != nil {
			span.Fatalf("group[%d] process ready failed: %s", g.id, errors.Detail(err))
		}
	}
}

type internalGroupProcessor group

func (g *internalGroupProcessor) WithRaftRawNodeLocked(f func(rn *raft.RawNode) error) error {
	g.rawNodeMu.Lock()
	defer g.rawNodeMu.Unlock()

	return f(g.rawNodeMu.rawNode)
}

func (g *internalGroupProcessor) ProcessProposals(ctx context.Context) {
	var failed []proposalRequest
	g.WithRaftRawNodeLocked(func(rn *raft.RawNode) error {
		g.proposalQueue.Iter(func(m proposalRequest) bool {
			var err error
			if m.entryType == raftpb.EntryConfChange {
				err = rn.ProposeConfChange(m.cc)
			} else {
				err = rn.Propose(m.data)
			}
			if err != nil {
				m.err = err
				failed = append(failed, m)
			}
			return true
		})
		return nil
	})
	for _, m := range failed {
		(*group)(g).doNotify(m.notifyID, proposalResult{err: m.err})
	}
}

func (g *internalGroupProcessor) ProcessReady(ctx context.Context) error {
	var (
		rd       raft.Ready
		hasReady bool
	)
	g.WithRaftRawNodeLocked(func(rn *raft.RawNode) error {
		if hasReady = rn.HasReady(); hasReady {
			rd = rn.Ready()
		}
		return nil
	})
	if !hasReady {
		return nil
	}

	if rd.SoftState != nil {
		if old := atomic.SwapUint64(&g.leader, rd.SoftState.Lead); old != rd.SoftState.Lead {
			if err := g.ApplyLeaderChange(rd.SoftState.Lead); err != nil {
				return errors.Info(err, "apply leader change failed")
			}
		}
	}
	if err := g.storage.SaveHardStateAndEntries(rd.HardState, rd.Entries); err != nil {
		return errors.Info(err, "save hard state and entries failed")
	}
	g.ProcessSendRaftMessage(ctx, rd.Messages)
	if err := g.ApplyCommittedEntries(ctx, rd.CommittedEntries); err != nil {
		return err
	}

	g.WithRaftRawNodeLocked(func(rn *raft.RawNode) error {
		rn.Advance(rd)
		return nil
	})
	return nil
}

func (g *internalGroupProcessor) ProcessSendRaftMessage(ctx context.Context, messages []raftpb.Message) {
	span := trace.SpanFromContext(ctx)
	for i := range messages {
		msg := &messages[i]
		addr, ok := (*group)(g).resolve(msg.To)
		if !ok {
			span.Warnf("group[%d] can't resolve node[%d]", g.id, msg.To)
			g.AddUnreachableRemoteReplica(msg.To)
			continue
		}
		data, err := msg.Marshal()
		if err != nil {
			span.Errorf("marshal raft message failed: %s", err)
			continue
		}
		if err = g.transport.SendAsync(ctx, addr, &RaftMessageRequest{GroupID: g.id, To: msg.To, Data: data}); err != nil {
			g.AddUnreachableRemoteReplica(msg.To)
			span.Warnf("handle send raft message request failed: %s", err)
		}
	}
}

func (g *internalGroupProcessor) ApplyLeaderChange(nodeID uint64) error {
	return g.sm.LeaderChange(nodeID)
}

func (g *internalGroupProcessor) ApplyCommittedEntries(ctx context.Context, entries []raftpb.Entry) (err error) {
	allProposalData := make([]ProposalData, 0, len(entries))
	latestIndex := uint64(0)

	apply := func() error {
		if len(allProposalData) == 0 {
			return nil
		}
		rets, err := g.sm.Apply(ctx, allProposalData, latestIndex)
		if err != nil {
			return errors.Info(err, "apply to state machine failed")
		}
		for j, ret := range rets {
			result := proposalResult{reply: ret}
			if e, ok := ret.(error); ok {
				result = proposalResult{err: e}
			}
			(*group)(g).doNotify(allProposalData[j].notifyID, result)
		}
		allProposalData = allProposalData[:0]
		return nil
	}

	for i := range entries {
		switch entries[i].Type {
		case raftpb.EntryConfChange:
			// apply the previous committed entries first before apply conf change
			if err = apply(); err != nil {
				return
			}
			if err = g.applyConfChange(ctx, entries[i]); err != nil {
				return errors.Info(err, "apply conf change to state machine failed")
			}
		case raftpb.EntryNormal:
			if len(entries[i].Data) == 0 {
				break
			}
			var pd ProposalData
			if err = pd.Unmarshal(entries[i].Data); err != nil {
				return errors.Info(err, "unmarshal proposal data failed")
			}
			allProposalData = append(allProposalData, pd)
		}
		latestIndex = entries[i].Index
	}
	if err = apply(); err != nil {
		return
	}

	if latestIndex > 0 {
		g.storage.SetAppliedIndex(latestIndex)
	}
	return
}

func (g *internalGroupProcessor) Tick() {
	g.unreachableMu.Lock()
	remotes := g.unreachableMu.remotes
	g.unreachableMu.remotes = nil
	g.unreachableMu.Unlock()

	g.WithRaftRawNodeLocked(func(rn *raft.RawNode) error {
		for remote := range remotes {
			rn.ReportUnreachable(remote)
		}
		rn.Tick()
		return nil
	})
}

func (g *internalGroupProcessor) AddUnreachableRemoteReplica(remote uint64) {
	g.unreachableMu.Lock()
	if g.unreachableMu.remotes == nil {
		g.unreachableMu.remotes = make(map[uint64]struct{})
	}
	g.unreachableMu.remotes[remote] = struct{}{}
	g.unreachableMu.Unlock()
}

func (g *internalGroupProcessor) applyConfChange(ctx context.Context, entry raftpb.Entry) error {
	var (
		cc   raftpb.ConfChange
		span = trace.SpanFromContext(ctx)
	)
	if err := cc.Unmarshal(entry.Data); err != nil {
		span.Fatalf("unmarshal conf change failed: %s", err)
		return err
	}

	// apply conf change to raft state machine
	g.WithRaftRawNodeLocked(func(rn *raft.RawNode) error {
		rn.ApplyConfChange(cc)
		return nil
	})

	if len(cc.Context) < 8 {
		return errors.New("conf change context too short")
	}
	notifyID := bytesToNotifyID(cc.Context)
	member := &Member{}
	if err := member.Unmarshal(cc.Context[8:]); err != nil {
		return err
	}
	member.NodeID = cc.NodeID
	if cc.Type == raftpb.ConfChangeRemoveNode {
		member.Type = MemberChangeType_RemoveMember
	} else {
		member.Type = MemberChangeType_AddMember
	}
	if err := g.sm.ApplyMemberChange(member, entry.Index); err != nil {
		return err
	}
	g.storage.MemberChange(member)
	span.Infof("group[%d] applied member change %+v at index %d", g.id, member, entry.Index)
	(*group)(g).doNotify(notifyID, proposalResult{})
	return nil
}
