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
	"sort"
	"sync"
	"sync/atomic"

	"go.etcd.io/etcd/raft/v3"
	"go.etcd.io/etcd/raft/v3/raftpb"
)

// storage keeps the log of one group in memory along with the member hosts
// learned from bootstrap and conf changes.
type storage struct {
	*raft.MemoryStorage

	id           uint64
	appliedIndex uint64
	membersMu    struct {
		sync.RWMutex
		members map[uint64]Member
	}
}

func newStorage(id uint64, members []Member) *storage {
	s := &storage{
		MemoryStorage: raft.NewMemoryStorage(),
		id:            id,
	}
	s.membersMu.members = make(map[uint64]Member, len(members))
	for i := range members {
		s.membersMu.members[members[i].NodeID] = members[i]
	}
	return s
}

func (s *storage) AppliedIndex() uint64 {
	return atomic.LoadUint64(&s.appliedIndex)
}

func (s *storage) SetAppliedIndex(index uint64) {
	atomic.StoreUint64(&s.appliedIndex, index)
}

// SaveHardStateAndEntries is called by the group worker only
func (s *storage) SaveHardStateAndEntries(hs raftpb.HardState, entries []raftpb.Entry) error {
	if err := s.Append(entries); err != nil {
		return err
	}
	if !raft.IsEmptyHardState(hs) {
		return s.SetHardState(hs)
	}
	return nil
}

func (s *storage) MemberChange(member *Member) {
	s.membersMu.Lock()
	defer s.membersMu.Unlock()
	switch member.Type {
	case MemberChangeType_RemoveMember:
		delete(s.membersMu.members, member.NodeID)
	default:
		m := *member
		m.Type = 0
		s.membersMu.members[member.NodeID] = m
	}
}

func (s *storage) Member(nodeID uint64) (Member, bool) {
	s.membersMu.RLock()
	defer s.membersMu.RUnlock()
	m, ok := s.membersMu.members[nodeID]
	return m, ok
}

func (s *storage) Members() []Member {
	s.membersMu.RLock()
	ret := make([]Member, 0, len(s.membersMu.members))
	for _, m := range s.membersMu.members {
		ret = append(ret, m)
	}
	s.membersMu.RUnlock()
	sort.Slice(ret, func(i, j int) bool { return ret[i].NodeID < ret[j].NodeID })
	return ret
}
