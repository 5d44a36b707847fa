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

// Package consensus puts the replication planes of schema and data regions
// behind one interface. Reads and writes share the Submit path.
package consensus

import (
	"context"
	"net"
	"strconv"

	apierrors "github.com/cubefs/datanode/errors"
	"github.com/cubefs/datanode/plan"
	"github.com/cubefs/datanode/proto"
	"github.com/cubefs/datanode/raft"
	"github.com/cubefs/datanode/region"
)

const (
	KindRaft   = "raft"
	KindSimple = "simple"
)

// RegionGetter finds the region a group applies its units against.
type RegionGetter interface {
	Get(gid proto.ConsensusGroupID) (region.Region, error)
}

type Consensus interface {
	// Submit replicates and applies node on the group, the result is the one
	// of the local apply.
	Submit(ctx context.Context, gid proto.ConsensusGroupID, node plan.Node) (*plan.Result, error)

	// CreatePeer bootstraps a group with peers, the local node must be one of them.
	CreatePeer(ctx context.Context, gid proto.ConsensusGroupID, peers []proto.Peer) error
	// JoinPeer starts an empty replica that catches up once a leader admits it,
	// peers are only used to reach the existing replicas.
	JoinPeer(ctx context.Context, gid proto.ConsensusGroupID, peers []proto.Peer) error
	DeletePeer(ctx context.Context, gid proto.ConsensusGroupID) error
	AddPeer(ctx context.Context, gid proto.ConsensusGroupID, peer proto.Peer) error
	RemovePeer(ctx context.Context, gid proto.ConsensusGroupID, peer proto.Peer) error
	TransferLeader(ctx context.Context, gid proto.ConsensusGroupID, peer proto.Peer) error

	IsLeader(gid proto.ConsensusGroupID) bool
	GetLeader(gid proto.ConsensusGroupID) (proto.NodeID, bool)
	Peers(gid proto.ConsensusGroupID) ([]proto.Peer, error)
	GroupIDs() []proto.ConsensusGroupID

	Close()
}

// MessageHandler is implemented by planes receiving messages from remote peers.
type MessageHandler interface {
	HandleRaftMessage(ctx context.Context, groupID uint64, data []byte) error
}

type Config struct {
	NodeID  proto.NodeID
	Kind    string
	Regions RegionGetter
	Raft    raft.Config
}

// New builds a plane of kind for one region variant.
func New(cfg *Config) (Consensus, error) {
	switch cfg.Kind {
	case KindRaft:
		return NewRaftConsensus(cfg.NodeID, cfg.Raft, cfg.Regions)
	case KindSimple, "":
		return NewSimpleConsensus(cfg.NodeID, cfg.Regions), nil
	default:
		return nil, apierrors.ErrUnsupportedOperation
	}
}

// Facade dispatches to the plane serving the variant of a group id.
type Facade struct {
	schema Consensus
	data   Consensus
}

func NewFacade(schema, data Consensus) *Facade {
	return &Facade{schema: schema, data: data}
}

// Plane returns the plane of gid, an unknown variant is not retryable.
func (f *Facade) Plane(gid proto.ConsensusGroupID) (Consensus, error) {
	switch gid.Type {
	case proto.SchemaRegion:
		return f.schema, nil
	case proto.DataRegion:
		return f.data, nil
	default:
		return nil, apierrors.ErrUnsupportedGroupType
	}
}

func (f *Facade) Submit(ctx context.Context, gid proto.ConsensusGroupID, node plan.Node) (*plan.Result, error) {
	c, err := f.Plane(gid)
	if err != nil {
		return nil, err
	}
	return c.Submit(ctx, gid, node)
}

func (f *Facade) IsLeader(gid proto.ConsensusGroupID) (bool, error) {
	c, err := f.Plane(gid)
	if err != nil {
		return false, err
	}
	return c.IsLeader(gid), nil
}

// ChangeLeader transfers the leadership of gid to candidate when the local
// node leads the group and succeeds without action otherwise.
func (f *Facade) ChangeLeader(ctx context.Context, gid proto.ConsensusGroupID, candidate proto.NodeLocation) *proto.Status {
	c, err := f.Plane(gid)
	if err != nil {
		return apierrors.StatusOf(err)
	}
	if !c.IsLeader(gid) {
		return proto.SuccessStatus()
	}
	if err = c.TransferLeader(ctx, gid, proto.NewPeer(gid, candidate)); err != nil {
		return proto.NewStatus(proto.CodeRegionLeaderChangeFailed, err.Error())
	}
	return proto.SuccessStatus()
}

// HandleRaftMessage routes a peer message to the plane owning the group.
func (f *Facade) HandleRaftMessage(ctx context.Context, groupID uint64, data []byte) error {
	c, err := f.Plane(proto.ConsensusGroupIDFromRaftID(groupID))
	if err != nil {
		return err
	}
	h, ok := c.(MessageHandler)
	if !ok {
		return apierrors.ErrUnsupportedOperation
	}
	return h.HandleRaftMessage(ctx, groupID, data)
}

// LeaderOf reports the leadership of every local group.
func (f *Facade) LeaderOf() map[proto.ConsensusGroupID]bool {
	ret := make(map[proto.ConsensusGroupID]bool)
	for _, c := range []Consensus{f.schema, f.data} {
		for _, gid := range c.GroupIDs() {
			ret[gid] = c.IsLeader(gid)
		}
	}
	return ret
}

func (f *Facade) Close() {
	f.schema.Close()
	f.data.Close()
}

func parseEndpoint(host string) proto.Endpoint {
	ip, port, err := net.SplitHostPort(host)
	if err != nil {
		return proto.Endpoint{IP: host}
	}
	p, _ := strconv.ParseUint(port, 10, 32)
	return proto.Endpoint{IP: ip, Port: uint32(p)}
}

// executionError keeps classified errors and wraps the rest.
func executionError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*apierrors.Error); ok {
		return err
	}
	return apierrors.NewExecutionError(err)
}
