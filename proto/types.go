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

package proto

import (
	"fmt"
	"strconv"
	"strings"
)

type ConsensusGroupType uint8

const (
	ConsensusGroupTypeUnknown ConsensusGroupType = iota
	SchemaRegion
	DataRegion
)

func (t ConsensusGroupType) String() string {
	switch t {
	case SchemaRegion:
		return "SchemaRegion"
	case DataRegion:
		return "DataRegion"
	default:
		return "Unknown(" + strconv.Itoa(int(t)) + ")"
	}
}

// ConsensusGroupID identifies a consensus group by its region variant and id.
type ConsensusGroupID struct {
	Type ConsensusGroupType `json:"type"`
	ID   RegionID           `json:"id"`
}

func NewSchemaRegionID(id RegionID) ConsensusGroupID {
	return ConsensusGroupID{Type: SchemaRegion, ID: id}
}

func NewDataRegionID(id RegionID) ConsensusGroupID {
	return ConsensusGroupID{Type: DataRegion, ID: id}
}

func (g ConsensusGroupID) IsSchemaRegion() bool { return g.Type == SchemaRegion }

func (g ConsensusGroupID) IsDataRegion() bool { return g.Type == DataRegion }

// Supported reports whether the variant is one this node knows how to serve.
func (g ConsensusGroupID) Supported() bool {
	return g.Type == SchemaRegion || g.Type == DataRegion
}

// RaftID packs the group into the uint64 id space of the raft plane,
// high 32 bits hold the type and low 32 bits hold the region id.
func (g ConsensusGroupID) RaftID() uint64 {
	return uint64(g.Type)<<32 | uint64(uint32(g.ID))
}

func ConsensusGroupIDFromRaftID(id uint64) ConsensusGroupID {
	return ConsensusGroupID{Type: ConsensusGroupType(id >> 32), ID: RegionID(uint32(id))}
}

func (g ConsensusGroupID) String() string {
	return g.Type.String() + "[" + strconv.Itoa(int(g.ID)) + "]"
}

// ParseConsensusGroupID is the inverse of ConsensusGroupID.String.
func ParseConsensusGroupID(s string) (ConsensusGroupID, error) {
	idx := strings.IndexByte(s, '[')
	if idx < 0 || !strings.HasSuffix(s, "]") {
		return ConsensusGroupID{}, fmt.Errorf("invalid consensus group id %q", s)
	}
	id, err := strconv.ParseInt(s[idx+1:len(s)-1], 10, 32)
	if err != nil {
		return ConsensusGroupID{}, fmt.Errorf("invalid consensus group id %q: %s", s, err)
	}
	var typ ConsensusGroupType
	switch s[:idx] {
	case "SchemaRegion":
		typ = SchemaRegion
	case "DataRegion":
		typ = DataRegion
	default:
		return ConsensusGroupID{}, fmt.Errorf("invalid consensus group type %q", s[:idx])
	}
	return ConsensusGroupID{Type: typ, ID: RegionID(id)}, nil
}

type Endpoint struct {
	IP   string `json:"ip"`
	Port uint32 `json:"port"`
}

func (e Endpoint) String() string {
	return e.IP + ":" + strconv.Itoa(int(e.Port))
}

func (e Endpoint) IsZero() bool {
	return e.IP == "" && e.Port == 0
}

type NodeLocation struct {
	NodeID                        NodeID   `json:"node_id"`
	InternalEndpoint              Endpoint `json:"internal_endpoint"`
	DataRegionConsensusEndpoint   Endpoint `json:"data_region_consensus_endpoint"`
	SchemaRegionConsensusEndpoint Endpoint `json:"schema_region_consensus_endpoint"`
}

// ConsensusEndpoint selects the endpoint serving the consensus plane of the group's variant.
func (l NodeLocation) ConsensusEndpoint(gid ConsensusGroupID) Endpoint {
	if gid.IsDataRegion() {
		return l.DataRegionConsensusEndpoint
	}
	return l.SchemaRegionConsensusEndpoint
}

// Peer identifies one replica of a consensus group.
type Peer struct {
	GroupID  ConsensusGroupID `json:"group_id"`
	NodeID   NodeID           `json:"node_id"`
	Endpoint Endpoint         `json:"endpoint"`
}

func NewPeer(gid ConsensusGroupID, location NodeLocation) Peer {
	return Peer{GroupID: gid, NodeID: location.NodeID, Endpoint: location.ConsensusEndpoint(gid)}
}

func (p Peer) String() string {
	return fmt.Sprintf("%s@%d(%s)", p.GroupID, p.NodeID, p.Endpoint)
}

type ReplicaSet struct {
	GroupID   ConsensusGroupID `json:"group_id"`
	Locations []NodeLocation   `json:"locations"`
}

func (r *ReplicaSet) Peers() []Peer {
	peers := make([]Peer, 0, len(r.Locations))
	for _, location := range r.Locations {
		peers = append(peers, NewPeer(r.GroupID, location))
	}
	return peers
}
