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
	"encoding/binary"
	"encoding/json"
	"errors"

	"go.etcd.io/etcd/raft/v3/raftpb"
)

const (
	defaultTickIntervalMs  = 100
	defaultElectionTick    = 10
	defaultHeartbeatTick   = 1
	defaultMaxSizePerMsg   = 1 << 20
	defaultMaxInflightMsgs = 256
	defaultProposeQueueLen = 1024
	defaultSendQueueLen    = 1024
)

type (
	Config struct {
		NodeID          uint64 `json:"node_id"`
		TickIntervalMs  int    `json:"tick_interval_ms"`
		ElectionTick    int    `json:"election_tick"`
		HeartbeatTick   int    `json:"heartbeat_tick"`
		MaxSizePerMsg   uint64 `json:"max_size_per_msg"`
		MaxInflightMsgs int    `json:"max_inflight_msgs"`
		ProposeQueueLen int    `json:"propose_queue_len"`
		SendQueueLen    int    `json:"send_queue_len"`

		Transport Transport `json:"-"`
	}

	GroupConfig struct {
		ID uint64
		// Members bootstraps a new group, a joining replica starts empty and
		// only uses Members to resolve peer addresses.
		Members []Member
		Join    bool
		SM      StateMachine
	}

	StateMachine interface {
		// Apply returns one result per proposal, a proposal failing in the state
		// machine returns its error as the result. A returned error is fatal.
		Apply(ctx context.Context, pds []ProposalData, index uint64) (rets []interface{}, err error)
		LeaderChange(peerID uint64) error
		ApplyMemberChange(m *Member, index uint64) error
	}

	RaftMessageRequest struct {
		GroupID uint64
		To      uint64
		Data    []byte
	}

	// Transport delivers a marshaled raftpb.Message of a group to addr.
	Transport interface {
		SendRaftMessage(ctx context.Context, addr string, groupID uint64, msg []byte) error
	}
)

type MemberChangeType uint8

const (
	MemberChangeType_AddMember MemberChangeType = iota + 1
	MemberChangeType_RemoveMember
)

type Member struct {
	NodeID uint64           `json:"node_id"`
	Host   string           `json:"host"`
	Type   MemberChangeType `json:"type,omitempty"`
}

func (m *Member) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

func (m *Member) Unmarshal(b []byte) error {
	return json.Unmarshal(b, m)
}

// ProposalData is the payload of a normal log entry, the notify id prefix
// routes the apply result back to the proposer.
type ProposalData struct {
	Data []byte

	notifyID uint64
}

func (p *ProposalData) Marshal() []byte {
	b := make([]byte, 8+len(p.Data))
	binary.BigEndian.PutUint64(b, p.notifyID)
	copy(b[8:], p.Data)
	return b
}

func (p *ProposalData) Unmarshal(b []byte) error {
	if len(b) < 8 {
		return errors.New("proposal data too short")
	}
	p.notifyID = binary.BigEndian.Uint64(b)
	p.Data = b[8:]
	return nil
}

type (
	Stat struct {
		ID             uint64   `json:"id"`
		NodeID         uint64   `json:"nodeId"`
		Term           uint64   `json:"term"`
		Vote           uint64   `json:"vote"`
		Commit         uint64   `json:"commit"`
		Leader         uint64   `json:"leader"`
		RaftState      string   `json:"raftState"`
		Applied        uint64   `json:"applied"`
		LeadTransferee uint64   `json:"transferee"`
		Peers          []uint64 `json:"peers"`
	}

	ProposalResponse struct {
		Data interface{}
	}

	proposalRequest struct {
		entryType raftpb.EntryType
		notifyID  uint64
		data      []byte
		cc        raftpb.ConfChange
		err       error
	}
	proposalResult struct {
		reply interface{}
		err   error
	}
)
