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
	apierrors "github.com/cubefs/datanode/errors"
	"github.com/cubefs/datanode/plan"
	"github.com/cubefs/datanode/proto"
	"golang.org/x/exp/maps"
)

// simpleConsensus serves single replica groups, units apply to the local
// region directly and the local node is always the leader.
type simpleConsensus struct {
	nodeID  proto.NodeID
	regions RegionGetter

	lock  sync.RWMutex
	peers map[proto.ConsensusGroupID]proto.Peer
}

func NewSimpleConsensus(nodeID proto.NodeID, regions RegionGetter) Consensus {
	return &simpleConsensus{
		nodeID:  nodeID,
		regions: regions,
		peers:   make(map[proto.ConsensusGroupID]proto.Peer),
	}
}

func (c *simpleConsensus) peer(gid proto.ConsensusGroupID) (proto.Peer, error) {
	c.lock.RLock()
	p, ok := c.peers[gid]
	c.lock.RUnlock()
	if !ok {
		return p, apierrors.ErrGroupNotFound
	}
	return p, nil
}

func (c *simpleConsensus) Submit(ctx context.Context, gid proto.ConsensusGroupID, node plan.Node) (*plan.Result, error) {
	if _, err := c.peer(gid); err != nil {
		return nil, err
	}
	r, err := c.regions.Get(gid)
	if err != nil {
		return nil, err
	}
	ret, err := r.Apply(ctx, node)
	return ret, executionError(err)
}

func (c *simpleConsensus) CreatePeer(ctx context.Context, gid proto.ConsensusGroupID, peers []proto.Peer) error {
	var self *proto.Peer
	for i := range peers {
		if peers[i].NodeID == c.nodeID {
			self = &peers[i]
		}
	}
	if len(peers) != 1 || self == nil {
		return apierrors.ErrUnsupportedOperation
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	if _, ok := c.peers[gid]; ok {
		return apierrors.ErrGroupAlreadyExist
	}
	c.peers[gid] = *self
	trace.SpanFromContextSafe(ctx).Infof("simple consensus group %s created", gid)
	return nil
}

func (c *simpleConsensus) JoinPeer(ctx context.Context, gid proto.ConsensusGroupID, peers []proto.Peer) error {
	return apierrors.ErrUnsupportedOperation
}

func (c *simpleConsensus) DeletePeer(ctx context.Context, gid proto.ConsensusGroupID) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if _, ok := c.peers[gid]; !ok {
		return apierrors.ErrGroupNotFound
	}
	delete(c.peers, gid)
	return nil
}

func (c *simpleConsensus) AddPeer(ctx context.Context, gid proto.ConsensusGroupID, peer proto.Peer) error {
	self, err := c.peer(gid)
	if err != nil {
		return err
	}
	if peer.NodeID == self.NodeID {
		return apierrors.ErrPeerAlreadyInGroup
	}
	return apierrors.ErrUnsupportedOperation
}

func (c *simpleConsensus) RemovePeer(ctx context.Context, gid proto.ConsensusGroupID, peer proto.Peer) error {
	self, err := c.peer(gid)
	if err != nil {
		return err
	}
	if peer.NodeID != self.NodeID {
		return apierrors.ErrPeerNotInGroup
	}
	return apierrors.ErrUnsupportedOperation
}

func (c *simpleConsensus) TransferLeader(ctx context.Context, gid proto.ConsensusGroupID, peer proto.Peer) error {
	self, err := c.peer(gid)
	if err != nil {
		return err
	}
	if peer.NodeID == self.NodeID {
		return nil
	}
	return apierrors.ErrUnsupportedOperation
}

func (c *simpleConsensus) IsLeader(gid proto.ConsensusGroupID) bool {
	_, err := c.peer(gid)
	return err == nil
}

func (c *simpleConsensus) GetLeader(gid proto.ConsensusGroupID) (proto.NodeID, bool) {
	self, err := c.peer(gid)
	if err != nil {
		return 0, false
	}
	return self.NodeID, true
}

func (c *simpleConsensus) Peers(gid proto.ConsensusGroupID) ([]proto.Peer, error) {
	self, err := c.peer(gid)
	if err != nil {
		return nil, err
	}
	return []proto.Peer{self}, nil
}

func (c *simpleConsensus) GroupIDs() []proto.ConsensusGroupID {
	c.lock.RLock()
	ret := maps.Keys(c.peers)
	c.lock.RUnlock()
	sort.Slice(ret, func(i, j int) bool { return ret[i].RaftID() < ret[j].RaftID() })
	return ret
}

func (c *simpleConsensus) Close() {
	c.lock.Lock()
	c.peers = make(map[proto.ConsensusGroupID]proto.Peer)
	c.lock.Unlock()
}
