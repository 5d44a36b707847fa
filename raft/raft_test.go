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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testStateMachine struct {
	sync.Mutex
	applied [][]byte
	members []Member
	leader  uint64
}

func (sm *testStateMachine) Apply(ctx context.Context, pds []ProposalData, index uint64) ([]interface{}, error) {
	sm.Lock()
	defer sm.Unlock()
	rets := make([]interface{}, 0, len(pds))
	for _, pd := range pds {
		sm.applied = append(sm.applied, append([]byte(nil), pd.Data...))
		rets = append(rets, string(pd.Data))
	}
	return rets, nil
}

func (sm *testStateMachine) LeaderChange(peerID uint64) error {
	sm.Lock()
	sm.leader = peerID
	sm.Unlock()
	return nil
}

func (sm *testStateMachine) ApplyMemberChange(m *Member, index uint64) error {
	sm.Lock()
	sm.members = append(sm.members, *m)
	sm.Unlock()
	return nil
}

func (sm *testStateMachine) appliedCount() int {
	sm.Lock()
	defer sm.Unlock()
	return len(sm.applied)
}

// localTransport delivers raft messages to in process managers keyed by address.
type localTransport struct {
	sync.RWMutex
	managers map[string]Manager
}

func (t *localTransport) SendRaftMessage(ctx context.Context, addr string, groupID uint64, msg []byte) error {
	t.RLock()
	m, ok := t.managers[addr]
	t.RUnlock()
	if !ok {
		return fmt.Errorf("node %s unreachable", addr)
	}
	return m.HandleRaftMessage(ctx, groupID, msg)
}

func newTestManager(t *testing.T, tr *localTransport, nodeID uint64) Manager {
	m, err := NewManager(&Config{NodeID: nodeID, TickIntervalMs: 10, Transport: tr})
	require.NoError(t, err)
	tr.Lock()
	tr.managers[fmt.Sprintf("node-%d", nodeID)] = m
	tr.Unlock()
	return m
}

func TestNewManagerValidate(t *testing.T) {
	_, err := NewManager(&Config{Transport: &localTransport{}})
	require.Error(t, err)
	_, err = NewManager(&Config{NodeID: 1})
	require.Error(t, err)
}

func TestSingleNodeGroup(t *testing.T) {
	ctx := context.Background()
	tr := &localTransport{managers: map[string]Manager{}}
	m := newTestManager(t, tr, 1)
	defer m.Close()

	sm := &testStateMachine{}
	g, err := m.CreateRaftGroup(ctx, &GroupConfig{ID: 10, Members: []Member{{NodeID: 1, Host: "node-1"}}, SM: sm})
	require.NoError(t, err)
	_, err = m.CreateRaftGroup(ctx, &GroupConfig{ID: 10, Members: []Member{{NodeID: 1, Host: "node-1"}}, SM: sm})
	require.ErrorIs(t, err, ErrGroupAlreadyExist)

	require.Eventually(t, g.IsLeader, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	resp, err := g.Propose(ctx, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, "hello", resp.Data)
	require.Equal(t, 1, sm.appliedCount())

	require.ErrorIs(t, g.MemberChange(ctx, &Member{NodeID: 2, Type: MemberChangeType_RemoveMember}), ErrMemberNotExist)
	require.ErrorIs(t, g.MemberChange(ctx, &Member{NodeID: 1, Host: "node-1", Type: MemberChangeType_AddMember}), ErrMemberExist)
	require.ErrorIs(t, g.LeaderTransfer(ctx, 3), ErrMemberNotExist)
	require.NoError(t, g.LeaderTransfer(ctx, 1))

	stat, err := g.Stat()
	require.NoError(t, err)
	require.Equal(t, uint64(1), stat.Leader)
	require.Equal(t, []uint64{1}, stat.Peers)
	require.Equal(t, "StateLeader", stat.RaftState)

	_, err = m.GetRaftGroup(11)
	require.ErrorIs(t, err, ErrGroupNotFound)
	require.ErrorIs(t, m.HandleRaftMessage(ctx, 11, nil), ErrGroupNotFound)

	require.NoError(t, m.RemoveRaftGroup(ctx, 10))
	require.ErrorIs(t, m.RemoveRaftGroup(ctx, 10), ErrGroupNotFound)
	_, err = g.Propose(ctx, []byte("closed"))
	require.ErrorIs(t, err, ErrRaftGroupDeleted)
}

func TestGroupJoinAndTransfer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	tr := &localTransport{managers: map[string]Manager{}}
	m1 := newTestManager(t, tr, 1)
	m2 := newTestManager(t, tr, 2)
	defer m1.Close()
	defer m2.Close()

	sm1, sm2 := &testStateMachine{}, &testStateMachine{}
	g1, err := m1.CreateRaftGroup(ctx, &GroupConfig{ID: 1, Members: []Member{{NodeID: 1, Host: "node-1"}}, SM: sm1})
	require.NoError(t, err)
	require.Eventually(t, g1.IsLeader, 5*time.Second, 10*time.Millisecond)
	_, err = g1.Propose(ctx, []byte("before join"))
	require.NoError(t, err)

	g2, err := m2.CreateRaftGroup(ctx, &GroupConfig{
		ID:      1,
		Members: []Member{{NodeID: 1, Host: "node-1"}, {NodeID: 2, Host: "node-2"}},
		Join:    true,
		SM:      sm2,
	})
	require.NoError(t, err)
	require.NoError(t, g1.MemberChange(ctx, &Member{NodeID: 2, Host: "node-2", Type: MemberChangeType_AddMember}))

	// the joined replica replays the whole log
	require.Eventually(t, func() bool { return sm2.appliedCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(g2.Members()) == 2 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, g1.LeaderTransfer(ctx, 2))
	require.Eventually(t, g2.IsLeader, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, g2.MemberChange(ctx, &Member{NodeID: 1, Type: MemberChangeType_RemoveMember}))
	require.Equal(t, []Member{{NodeID: 2, Host: "node-2"}}, g2.Members())
}
