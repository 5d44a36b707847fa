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
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"
	"go.etcd.io/etcd/raft/v3"
	"go.etcd.io/etcd/raft/v3/raftpb"
)

type Manager interface {
	// CreateRaftGroup starts a group replica on this node, a new group is
	// bootstrapped with its members while a joining replica waits for the
	// leader to replicate the log.
	CreateRaftGroup(ctx context.Context, cfg *GroupConfig) (Group, error)
	GetRaftGroup(id uint64) (Group, error)
	RemoveRaftGroup(ctx context.Context, id uint64) error
	// HandleRaftMessage steps a marshaled raftpb.Message received from a peer.
	HandleRaftMessage(ctx context.Context, groupID uint64, data []byte) error
	Close()
}

func NewManager(cfg *Config) (Manager, error) {
	if cfg.NodeID == 0 {
		return nil, errors.New("raft node id must not be zero")
	}
	if cfg.Transport == nil {
		return nil, errors.New("raft transport is required")
	}
	c := *cfg
	initialDefaultConfig(&c.TickIntervalMs, defaultTickIntervalMs)
	initialDefaultConfig(&c.ElectionTick, defaultElectionTick)
	initialDefaultConfig(&c.HeartbeatTick, defaultHeartbeatTick)
	initialDefaultConfig(&c.MaxSizePerMsg, defaultMaxSizePerMsg)
	initialDefaultConfig(&c.MaxInflightMsgs, defaultMaxInflightMsgs)
	initialDefaultConfig(&c.ProposeQueueLen, defaultProposeQueueLen)
	initialDefaultConfig(&c.SendQueueLen, defaultSendQueueLen)

	m := &manager{
		cfg:         c,
		idGenerator: newIDGenerator(c.NodeID, time.Now()),
	}
	m.transport = newTransport(c.Transport, c.SendQueueLen, m.reportUnreachable)
	return m, nil
}

type manager struct {
	cfg         Config
	groups      sync.Map
	idGenerator *idGenerator
	transport   *transport
}

func (m *manager) CreateRaftGroup(ctx context.Context, cfg *GroupConfig) (Group, error) {
	span := trace.SpanFromContextSafe(ctx)
	if _, ok := m.groups.Load(cfg.ID); ok {
		return nil, ErrGroupAlreadyExist
	}
	if !cfg.Join && len(cfg.Members) == 0 {
		return nil, errors.New("members required to bootstrap a raft group")
	}

	var (
		st    *storage
		hints = make(map[uint64]Member, len(cfg.Members))
	)
	for _, member := range cfg.Members {
		hints[member.NodeID] = member
	}
	if cfg.Join {
		st = newStorage(cfg.ID, nil)
	} else {
		st = newStorage(cfg.ID, cfg.Members)
	}

	rn, err := raft.NewRawNode(&raft.Config{
		ID:              m.cfg.NodeID,
		ElectionTick:    m.cfg.ElectionTick,
		HeartbeatTick:   m.cfg.HeartbeatTick,
		Storage:         st,
		MaxSizePerMsg:   m.cfg.MaxSizePerMsg,
		MaxInflightMsgs: m.cfg.MaxInflightMsgs,
		CheckQuorum:     true,
		PreVote:         true,
		Logger:          raftLogger{},
	})
	if err != nil {
		return nil, errors.Info(err, "new raw node failed")
	}
	if !cfg.Join {
		peers := make([]raft.Peer, 0, len(cfg.Members))
		for i := range cfg.Members {
			member := cfg.Members[i]
			member.Type = MemberChangeType_AddMember
			data, err := member.Marshal()
			if err != nil {
				return nil, err
			}
			peers = append(peers, raft.Peer{ID: member.NodeID, Context: append(notifyIDToBytes(0), data...)})
		}
		if err = rn.Bootstrap(peers); err != nil {
			return nil, errors.Info(err, "bootstrap raw node failed")
		}
	}

	g := &group{
		id:            cfg.ID,
		nodeID:        m.cfg.NodeID,
		tickInterval:  time.Duration(m.cfg.TickIntervalMs) * time.Millisecond,
		hints:         hints,
		proposalQueue: newProposalQueue(m.cfg.ProposeQueueLen),
		signalc:       make(chan struct{}, 1),
		stopc:         make(chan struct{}),
		done:          make(chan struct{}),
		sm:            cfg.SM,
		storage:       st,
		idGenerator:   m.idGenerator,
		transport:     m.transport,
	}
	g.rawNodeMu.rawNode = rn
	if _, loaded := m.groups.LoadOrStore(cfg.ID, g); loaded {
		return nil, ErrGroupAlreadyExist
	}
	go g.run()

	if !cfg.Join && len(cfg.Members) == 1 && cfg.Members[0].NodeID == m.cfg.NodeID {
		if err = g.Campaign(ctx); err != nil {
			span.Warnf("group[%d] campaign failed: %s", cfg.ID, err)
		}
	}
	span.Infof("raft group[%d] started on node[%d], join: %v, members: %+v", cfg.ID, m.cfg.NodeID, cfg.Join, cfg.Members)
	return g, nil
}

func (m *manager) GetRaftGroup(id uint64) (Group, error) {
	v, ok := m.groups.Load(id)
	if !ok {
		return nil, ErrGroupNotFound
	}
	return v.(*group), nil
}

func (m *manager) RemoveRaftGroup(ctx context.Context, id uint64) error {
	v, ok := m.groups.LoadAndDelete(id)
	if !ok {
		return ErrGroupNotFound
	}
	return v.(*group).Close()
}

func (m *manager) HandleRaftMessage(ctx context.Context, groupID uint64, data []byte) error {
	v, ok := m.groups.Load(groupID)
	if !ok {
		return ErrGroupNotFound
	}
	var msg raftpb.Message
	if err := msg.Unmarshal(data); err != nil {
		return errors.Info(err, "unmarshal raft message failed")
	}
	if raft.IsLocalMsg(msg.Type) {
		return ErrGroupHandleRaftMessage
	}
	return v.(*group).step(ctx, msg)
}

func (m *manager) Close() {
	m.groups.Range(func(key, value interface{}) bool {
		value.(*group).Close()
		m.groups.Delete(key)
		return true
	})
	m.transport.Close()
}

func (m *manager) reportUnreachable(groupID, to uint64) {
	if v, ok := m.groups.Load(groupID); ok {
		(*internalGroupProcessor)(v.(*group)).AddUnreachableRemoteReplica(to)
	}
}

type number interface {
	~int | ~uint32 | ~uint64
}

func initialDefaultConfig[T number](t *T, defaultValue T) {
	if *t == 0 {
		*t = defaultValue
	}
}
