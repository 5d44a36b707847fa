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

package migration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cubefs/datanode/common/kvstore"
	"github.com/cubefs/datanode/consensus"
	apierrors "github.com/cubefs/datanode/errors"
	"github.com/cubefs/datanode/proto"
	"github.com/cubefs/datanode/region"
	"github.com/stretchr/testify/require"
)

var (
	gid   = proto.NewDataRegionID(1)
	local = proto.NodeLocation{NodeID: 1, DataRegionConsensusEndpoint: proto.Endpoint{IP: "127.0.0.1", Port: 9004}}
	other = proto.NodeLocation{NodeID: 2, DataRegionConsensusEndpoint: proto.Endpoint{IP: "127.0.0.2", Port: 9004}}
)

// mockConsensus records membership calls and answers with the configured errors.
type mockConsensus struct {
	consensus.Consensus

	sync.Mutex
	peers     []proto.Peer
	joined    []proto.Peer
	deleted   bool
	addErr    error
	removeErr error
	deleteErr error
	block     chan struct{}
}

func (m *mockConsensus) Peers(gid proto.ConsensusGroupID) ([]proto.Peer, error) {
	m.Lock()
	defer m.Unlock()
	return append([]proto.Peer(nil), m.peers...), nil
}

func (m *mockConsensus) JoinPeer(ctx context.Context, gid proto.ConsensusGroupID, peers []proto.Peer) error {
	m.Lock()
	defer m.Unlock()
	m.joined = peers
	return nil
}

func (m *mockConsensus) AddPeer(ctx context.Context, gid proto.ConsensusGroupID, peer proto.Peer) error {
	if m.block != nil {
		<-m.block
	}
	m.Lock()
	defer m.Unlock()
	if m.addErr != nil {
		return m.addErr
	}
	m.peers = append(m.peers, peer)
	return nil
}

func (m *mockConsensus) RemovePeer(ctx context.Context, gid proto.ConsensusGroupID, peer proto.Peer) error {
	return m.removeErr
}

func (m *mockConsensus) DeletePeer(ctx context.Context, gid proto.ConsensusGroupID) error {
	m.Lock()
	defer m.Unlock()
	m.deleted = true
	return m.deleteErr
}

type mockPlanes struct{ c consensus.Consensus }

func (p mockPlanes) Plane(gid proto.ConsensusGroupID) (consensus.Consensus, error) {
	if !gid.Supported() {
		return nil, apierrors.ErrUnsupportedGroupType
	}
	return p.c, nil
}

type mockClient struct {
	sync.Mutex
	created []*proto.CreatePeerRequest
	deleted []proto.ConsensusGroupID
	status  *proto.Status
}

func (m *mockClient) CreateNewRegionPeer(ctx context.Context, target proto.NodeLocation, req *proto.CreatePeerRequest) (*proto.Status, error) {
	m.Lock()
	defer m.Unlock()
	m.created = append(m.created, req)
	if m.status != nil {
		return m.status, nil
	}
	return proto.SuccessStatus(), nil
}

func (m *mockClient) DeleteRegion(ctx context.Context, target proto.NodeLocation, req *proto.DeleteRegionRequest) (*proto.Status, error) {
	m.Lock()
	defer m.Unlock()
	m.deleted = append(m.deleted, req.GroupID)
	if m.status != nil {
		return m.status, nil
	}
	return proto.SuccessStatus(), nil
}

func newTestCoordinator(t *testing.T, c *mockConsensus, client *mockClient) (*Coordinator, *region.Directory) {
	f, err := region.NewFactory(string(kvstore.MemoryKVType), "")
	require.NoError(t, err)
	d := region.NewDirectory(f)
	r, err := d.CreateOrGet(context.Background(), gid, "root.sg")
	require.NoError(t, err)
	r.SetTTL(1000)
	c.peers = []proto.Peer{proto.NewPeer(gid, local)}
	return NewCoordinator(Config{
		Concurrency: 2,
		Local:       local,
		Regions:     d,
		Planes:      mockPlanes{c: c},
		Client:      client,
	}), d
}

func waitTerminal(t *testing.T, c *Coordinator, id string) *Task {
	task, err := c.Get(id)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return task.State().Terminal() }, 5*time.Second, 5*time.Millisecond)
	return task
}

func requireMonotonic(t *testing.T, task *Task) {
	history := task.History()
	for i := 1; i < len(history); i++ {
		require.Greater(t, history[i], history[i-1], "%v", history)
		require.NotEqual(t, Failed, history[i-1], "%v", history)
	}
}

func TestAddRemoteReplica(t *testing.T) {
	mc, client := &mockConsensus{}, &mockClient{}
	c, d := newTestCoordinator(t, mc, client)
	defer d.Close()
	defer c.Close()

	id, ok := c.SubmitAddReplica(context.Background(), gid, other)
	require.True(t, ok)
	task := waitTerminal(t, c, id)
	require.Equal(t, Completed, task.State())
	require.Equal(t, []State{Pending, RegionCreated, PeerAdded, Completed}, task.History())

	require.Len(t, client.created, 1)
	req := client.created[0]
	require.Equal(t, "root.sg", req.Namespace)
	require.Equal(t, proto.TTL(1000), req.TTL)
	require.Equal(t, []proto.NodeID{1, 2}, []proto.NodeID{req.Locations[0].NodeID, req.Locations[1].NodeID})
	require.Equal(t, local.DataRegionConsensusEndpoint, req.Locations[0].DataRegionConsensusEndpoint)

	info := task.Info(local.NodeID)
	require.Equal(t, "ADD_REPLICA", info.Type)
	require.Equal(t, "COMPLETED", info.State)
	require.Equal(t, 1, info.Attempt)
}

func TestAddLocalReplica(t *testing.T) {
	mc := &mockConsensus{}
	c, d := newTestCoordinator(t, mc, &mockClient{})
	defer d.Close()
	defer c.Close()
	mc.peers = []proto.Peer{proto.NewPeer(gid, other)}

	id, ok := c.SubmitAddReplica(context.Background(), gid, local)
	require.True(t, ok)
	require.Equal(t, Completed, waitTerminal(t, c, id).State())
	require.Len(t, mc.joined, 2)
	require.Equal(t, local.NodeID, mc.joined[1].NodeID)
}

func TestAddReplicaAlreadyMember(t *testing.T) {
	mc := &mockConsensus{addErr: apierrors.ErrPeerAlreadyInGroup}
	c, d := newTestCoordinator(t, mc, &mockClient{})
	defer d.Close()
	defer c.Close()

	id, ok := c.SubmitAddReplica(context.Background(), gid, other)
	require.True(t, ok)
	require.Equal(t, Completed, waitTerminal(t, c, id).State())
}

func TestAddReplicaFailed(t *testing.T) {
	mc := &mockConsensus{addErr: errors.New("conf change rejected")}
	client := &mockClient{}
	c, d := newTestCoordinator(t, mc, client)
	defer d.Close()
	defer c.Close()

	id, ok := c.SubmitAddReplica(context.Background(), gid, other)
	require.True(t, ok)
	task := waitTerminal(t, c, id)
	require.Equal(t, Failed, task.State())
	require.Equal(t, []State{Pending, RegionCreated, Failed}, task.History())
	require.Contains(t, task.Info(1).Message, "conf change rejected")
	requireMonotonic(t, task)

	// a terminal task never moves again
	require.False(t, task.transit(Completed, ""))
	require.False(t, task.transit(Failed, "again"))
	require.Equal(t, Failed, task.State())

	// resubmission is a new attempt
	client.status = proto.NewStatus(proto.CodeCreateRegionError, "disk full")
	id2, ok := c.SubmitAddReplica(context.Background(), gid, other)
	require.True(t, ok)
	require.NotEqual(t, id, id2)
	task2 := waitTerminal(t, c, id2)
	require.Equal(t, Failed, task2.State())
	require.Equal(t, 2, task2.Attempt)
	require.Contains(t, task2.Info(1).Message, "disk full")
	requireMonotonic(t, task2)
}

func TestRemoveAbsentPeer(t *testing.T) {
	mc := &mockConsensus{removeErr: apierrors.ErrPeerNotInGroup}
	c, d := newTestCoordinator(t, mc, &mockClient{})
	defer d.Close()
	defer c.Close()

	id, ok := c.SubmitRemoveReplica(context.Background(), gid, other)
	require.True(t, ok)
	task := waitTerminal(t, c, id)
	require.Equal(t, Completed, task.State())
	require.Equal(t, []State{Pending, OldPeerRemoved, Completed}, task.History())

	mc.removeErr = errors.New("not leader")
	id, ok = c.SubmitRemoveReplica(context.Background(), gid, other)
	require.True(t, ok)
	require.Equal(t, Failed, waitTerminal(t, c, id).State())
}

func TestDeleteOldReplica(t *testing.T) {
	mc, client := &mockConsensus{deleteErr: apierrors.ErrGroupNotFound}, &mockClient{}
	c, d := newTestCoordinator(t, mc, client)
	defer d.Close()
	defer c.Close()

	id, ok := c.SubmitDeleteOldReplica(context.Background(), gid, local)
	require.True(t, ok)
	task := waitTerminal(t, c, id)
	require.Equal(t, Completed, task.State())
	require.Equal(t, []State{Pending, OldPeerDeleted, Completed}, task.History())
	require.True(t, mc.deleted)
	_, err := d.Get(gid)
	require.ErrorIs(t, err, apierrors.ErrRegionNotFound)

	// deleting again is a no-op
	id, ok = c.SubmitDeleteOldReplica(context.Background(), gid, local)
	require.True(t, ok)
	require.Equal(t, Completed, waitTerminal(t, c, id).State())

	// a remote replica already gone
	client.status = proto.NewStatus(proto.CodeRegionNotFound, "region not found")
	id, ok = c.SubmitDeleteOldReplica(context.Background(), gid, other)
	require.True(t, ok)
	require.Equal(t, Completed, waitTerminal(t, c, id).State())
	require.Equal(t, []proto.ConsensusGroupID{gid}, client.deleted)
}

func TestSubmitDedupAndSaturation(t *testing.T) {
	block := make(chan struct{})
	mc := &mockConsensus{block: block}
	c, d := newTestCoordinator(t, mc, &mockClient{})
	defer d.Close()
	defer c.Close()

	ctx := context.Background()
	id1, ok := c.SubmitAddReplica(ctx, gid, other)
	require.True(t, ok)
	// the same active task is returned
	id, ok := c.SubmitAddReplica(ctx, gid, other)
	require.True(t, ok)
	require.Equal(t, id1, id)

	// fill the workers and the queue
	accepted := 1
	for i := 3; i < 20; i++ {
		if _, ok = c.SubmitAddReplica(ctx, gid, proto.NodeLocation{NodeID: proto.NodeID(i)}); ok {
			accepted++
		}
	}
	require.Less(t, accepted, 19)
	close(block)
	require.Eventually(t, func() bool { return c.CountByState()[Completed] == accepted }, 5*time.Second, 5*time.Millisecond)
	require.Len(t, c.ListByGroup(gid), accepted)
	require.Len(t, c.ListByGroup(proto.NewSchemaRegionID(1)), 0)
}

func TestCollectAndClose(t *testing.T) {
	mc := &mockConsensus{}
	c, d := newTestCoordinator(t, mc, &mockClient{})
	defer d.Close()

	id, ok := c.SubmitRemoveReplica(context.Background(), gid, other)
	require.True(t, ok)
	waitTerminal(t, c, id)

	require.Equal(t, 0, c.collect(time.Now().Add(-time.Hour)))
	require.Len(t, c.List(), 1)
	require.Equal(t, 1, c.collect(time.Now().Add(time.Second)))
	_, err := c.Get(id)
	require.ErrorIs(t, err, apierrors.ErrTaskNotFound)

	c.Close()
	c.Close()
	_, ok = c.SubmitRemoveReplica(context.Background(), gid, other)
	require.False(t, ok)
}

func TestUnsupportedGroup(t *testing.T) {
	mc := &mockConsensus{}
	c, d := newTestCoordinator(t, mc, &mockClient{})
	defer d.Close()
	defer c.Close()

	id, ok := c.SubmitRemoveReplica(context.Background(), proto.ConsensusGroupID{Type: 9}, other)
	require.True(t, ok)
	task := waitTerminal(t, c, id)
	require.Equal(t, Failed, task.State())
}
