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

package consensus

import (
	"context"
	"sort"
	"sync"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"
	"github.com/cubefs/cubefs/blobstore/util/log"
	apierrors "github.com/cubefs/datanode/errors"
	"github.com/cubefs/datanode/plan"
	"github.com/cubefs/datanode/proto"
	"github.com/cubefs/datanode/raft"
	"golang.org/x/exp/maps"
)

// raft forbids node id 0
func raftNodeID(id proto.NodeID) uint64 { return uint64(id) + 1 }

func nodeIDOf(raftID uint64) proto.NodeID { return proto.NodeID(raftID - 1) }

type raftConsensus struct {
	nodeID  proto.NodeID
	manager raft.Manager
	regions RegionGetter

	lock   sync.RWMutex
	groups map[proto.ConsensusGroupID]raft.Group
}

func NewRaftConsensus(nodeID proto.NodeID, cfg raft.Config, regions RegionGetter) (Consensus, error) {
	cfg.NodeID = raftNodeID(nodeID)
	manager, err := raft.NewManager(&cfg)
	if err != nil {
		return nil, err
	}
	return &raftConsensus{
		nodeID:  nodeID,
		manager: manager,
		regions: regions,
		groups:  make(map[proto.ConsensusGroupID]raft.Group),
	}, nil
}

func (c *raftConsensus) group(gid proto.ConsensusGroupID) (raft.Group, error) {
	c.lock.RLock()
	g, ok := c.groups[gid]
	c.lock.RUnlock()
	if !ok {
		return nil, apierrors.ErrGroupNotFound
	}
	return g, nil
}

func (c *raftConsensus) Submit(ctx context.Context, gid proto.ConsensusGroupID, node plan.Node) (*plan.Result, error) {
	g, err := c.group(gid)
	if err != nil {
		return nil, err
	}
	data, err := plan.Encode(node)
	if err != nil {
		return nil, err
	}
	resp, err := g.Propose(ctx, data)
	if err != nil {
		return nil, executionError(fromRaftError(err))
	}
	ret, _ := resp.Data.(*plan.Result)
	return ret, nil
}

func (c *raftConsensus) CreatePeer(ctx context.Context, gid proto.ConsensusGroupID, peers []proto.Peer) error {
	return c.startGroup(ctx, gid, peers, false)
}

func (c *raftConsensus) JoinPeer(ctx context.Context, gid proto.ConsensusGroupID, peers []proto.Peer) error {
	return c.startGroup(ctx, gid, peers, true)
}

func (c *raftConsensus) startGroup(ctx context.Context, gid proto.ConsensusGroupID, peers []proto.Peer, join bool) error {
	members := make([]raft.Member, 0, len(peers))
	for _, peer := range peers {
		members = append(members, raft.Member{NodeID: raftNodeID(peer.NodeID), Host: peer.Endpoint.String()})
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	if _, ok := c.groups[gid]; ok {
		return apierrors.ErrGroupAlreadyExist
	}
	g, err := c.manager.CreateRaftGroup(ctx, &raft.GroupConfig{
		ID:      gid.RaftID(),
		Members: members,
		Join:    join,
		SM:      &regionStateMachine{gid: gid, regions: c.regions},
	})
	if err != nil {
		return fromRaftError(err)
	}
	c.groups[gid] = g
	return nil
}

func (c *raftConsensus) DeletePeer(ctx context.Context, gid proto.ConsensusGroupID) error {
	c.lock.Lock()
	_, ok := c.groups[gid]
	delete(c.groups, gid)
	c.lock.Unlock()
	if !ok {
		return apierrors.ErrGroupNotFound
	}
	return fromRaftError(c.manager.RemoveRaftGroup(ctx, gid.RaftID()))
}

func (c *raftConsensus) AddPeer(ctx context.Context, gid proto.ConsensusGroupID, peer proto.Peer) error {
	return c.changeMember(ctx, gid, peer, raft.MemberChangeType_AddMember)
}

func (c *raftConsensus) RemovePeer(ctx context.Context, gid proto.ConsensusGroupID, peer proto.Peer) error {
	return c.changeMember(ctx, gid, peer, raft.MemberChangeType_RemoveMember)
}

func (c *raftConsensus) changeMember(ctx context.Context, gid proto.ConsensusGroupID, peer proto.Peer, typ raft.MemberChangeType) error {
	g, err := c.group(gid)
	if err != nil {
		return err
	}
	return fromRaftError(g.MemberChange(ctx, &raft.Member{
		NodeID: raftNodeID(peer.NodeID),
		Host:   peer.Endpoint.String(),
		Type:   typ,
	}))
}

func (c *raftConsensus) TransferLeader(ctx context.Context, gid proto.ConsensusGroupID, peer proto.Peer) error {
	g, err := c.group(gid)
	if err != nil {
		return err
	}
	return fromRaftError(g.LeaderTransfer(ctx, raftNodeID(peer.NodeID)))
}

func (c *raftConsensus) IsLeader(gid proto.ConsensusGroupID) bool {
	g, err := c.group(gid)
	if err != nil {
		return false
	}
	return g.IsLeader()
}

func (c *raftConsensus) GetLeader(gid proto.ConsensusGroupID) (proto.NodeID, bool) {
	g, err := c.group(gid)
	if err != nil {
		return 0, false
	}
	leader := g.LeaderID()
	if leader == 0 {
		return 0, false
	}
	return nodeIDOf(leader), true
}

func (c *raftConsensus) Peers(gid proto.ConsensusGroupID) ([]proto.Peer, error) {
	g, err := c.group(gid)
	if err != nil {
		return nil, err
	}
	members := g.Members()
	peers := make([]proto.Peer, 0, len(members))
	for _, m := range members {
		peers = append(peers, proto.Peer{GroupID: gid, NodeID: nodeIDOf(m.NodeID), Endpoint: parseEndpoint(m.Host)})
	}
	return peers, nil
}

func (c *raftConsensus) GroupIDs() []proto.ConsensusGroupID {
	c.lock.RLock()
	ret := maps.Keys(c.groups)
	c.lock.RUnlock()
	sort.Slice(ret, func(i, j int) bool { return ret[i].RaftID() < ret[j].RaftID() })
	return ret
}

func (c *raftConsensus) HandleRaftMessage(ctx context.Context, groupID uint64, data []byte) error {
	return fromRaftError(c.manager.HandleRaftMessage(ctx, groupID, data))
}

func (c *raftConsensus) Close() {
	c.manager.Close()
	c.lock.Lock()
	c.groups = make(map[proto.ConsensusGroupID]raft.Group)
	c.lock.Unlock()
}

func fromRaftError(err error) error {
	switch err {
	case raft.ErrGroupNotFound, raft.ErrRaftGroupDeleted:
		return apierrors.ErrGroupNotFound
	case raft.ErrGroupAlreadyExist:
		return apierrors.ErrGroupAlreadyExist
	case raft.ErrMemberExist:
		return apierrors.ErrPeerAlreadyInGroup
	case raft.ErrMemberNotExist:
		return apierrors.ErrPeerNotInGroup
	case raft.ErrNotLeader:
		return apierrors.ErrNotLeader
	default:
		return err
	}
}

// regionStateMachine applies the committed units of one group to its region.
type regionStateMachine struct {
	gid     proto.ConsensusGroupID
	regions RegionGetter
}

func (sm *regionStateMachine) Apply(ctx context.Context, pds []raft.ProposalData, index uint64) ([]interface{}, error) {
	rets := make([]interface{}, 0, len(pds))
	for i := range pds {
		rets = append(rets, sm.apply(ctx, pds[i].Data))
	}
	return rets, nil
}

func (sm *regionStateMachine) apply(ctx context.Context, data []byte) interface{} {
	node, err := plan.Decode(data)
	if err != nil {
		return err
	}
	r, err := sm.regions.Get(sm.gid)
	if err != nil {
		return err
	}
	ret, err := r.Apply(ctx, node)
	if err != nil {
		trace.SpanFromContextSafe(ctx).Warnf("apply %s on %s failed: %s", node.Type(), sm.gid, errors.Detail(err))
		return err
	}
	return ret
}

func (sm *regionStateMachine) LeaderChange(peerID uint64) error {
	if peerID == 0 {
		log.Infof("%s lost leader", sm.gid)
		return nil
	}
	log.Infof("%s leader changed to node[%d]", sm.gid, nodeIDOf(peerID))
	return nil
}

func (sm *regionStateMachine) ApplyMemberChange(m *raft.Member, index uint64) error {
	log.Infof("%s member change of node[%d] at %s, type: %d, index: %d", sm.gid, nodeIDOf(m.NodeID), m.Host, m.Type, index)
	return nil
}
