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

package router

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/cubefs/datanode/cache"
	"github.com/cubefs/datanode/common/kvstore"
	"github.com/cubefs/datanode/consensus"
	apierrors "github.com/cubefs/datanode/errors"
	"github.com/cubefs/datanode/migration"
	"github.com/cubefs/datanode/pathtree"
	"github.com/cubefs/datanode/plan"
	"github.com/cubefs/datanode/proto"
	"github.com/cubefs/datanode/region"
	"github.com/cubefs/datanode/scatter"
	"github.com/stretchr/testify/require"
)

var (
	local = proto.NodeLocation{
		NodeID:                        1,
		InternalEndpoint:              proto.Endpoint{IP: "127.0.0.1", Port: 10730},
		DataRegionConsensusEndpoint:   proto.Endpoint{IP: "127.0.0.1", Port: 10760},
		SchemaRegionConsensusEndpoint: proto.Endpoint{IP: "127.0.0.1", Port: 10750},
	}
	remote = proto.NodeLocation{
		NodeID:                        2,
		InternalEndpoint:              proto.Endpoint{IP: "127.0.0.2", Port: 10730},
		DataRegionConsensusEndpoint:   proto.Endpoint{IP: "127.0.0.2", Port: 10760},
		SchemaRegionConsensusEndpoint: proto.Endpoint{IP: "127.0.0.2", Port: 10750},
	}
)

// faultyConsensus fails the submissions of the configured groups.
type faultyConsensus struct {
	consensus.Consensus

	lock sync.RWMutex
	fail map[proto.ConsensusGroupID]error
}

func (c *faultyConsensus) setFailure(gid proto.ConsensusGroupID, err error) {
	c.lock.Lock()
	c.fail[gid] = err
	c.lock.Unlock()
}

func (c *faultyConsensus) Submit(ctx context.Context, gid proto.ConsensusGroupID, node plan.Node) (*plan.Result, error) {
	c.lock.RLock()
	err := c.fail[gid]
	c.lock.RUnlock()
	if err != nil {
		return nil, err
	}
	return c.Consensus.Submit(ctx, gid, node)
}

type mockSender struct {
	lock  sync.Mutex
	calls map[proto.NodeID]int
	// fail answers an error status to the node for its first n calls
	fail map[proto.NodeID]int
}

func (s *mockSender) Send(ctx context.Context, target proto.NodeLocation, req *scatter.Request) (*proto.Status, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.calls[target.NodeID]++
	if s.calls[target.NodeID] <= s.fail[target.NodeID] {
		return proto.NewStatus(proto.CodeCacheUpdateFail, "busy"), nil
	}
	return proto.SuccessStatus(), nil
}

type mockPeerClient struct{}

func (mockPeerClient) CreateNewRegionPeer(ctx context.Context, target proto.NodeLocation, req *proto.CreatePeerRequest) (*proto.Status, error) {
	return proto.SuccessStatus(), nil
}

func (mockPeerClient) DeleteRegion(ctx context.Context, target proto.NodeLocation, req *proto.DeleteRegionRequest) (*proto.Status, error) {
	return proto.SuccessStatus(), nil
}

type fixedSampler struct{}

func (fixedSampler) Sample() (int32, int32) { return 12, 34 }

type testEnv struct {
	*Router
	regions *region.Directory
	schema  *faultyConsensus
	sender  *mockSender

	stopped  int
	reloaded error
}

func newTestEnv(t *testing.T) *testEnv {
	f, err := region.NewFactory(string(kvstore.MemoryKVType), "")
	require.NoError(t, err)
	d := region.NewDirectory(f)
	schema := &faultyConsensus{
		Consensus: consensus.NewSimpleConsensus(local.NodeID, d),
		fail:      make(map[proto.ConsensusGroupID]error),
	}
	facade := consensus.NewFacade(schema, consensus.NewSimpleConsensus(local.NodeID, d))
	coordinator := migration.NewCoordinator(migration.Config{
		Local:   local,
		Regions: d,
		Planes:  facade,
		Client:  mockPeerClient{},
	})
	sender := &mockSender{calls: make(map[proto.NodeID]int), fail: make(map[proto.NodeID]int)}
	env := &testEnv{regions: d, schema: schema, sender: sender}
	env.Router = NewRouter(&Config{
		Local:     local,
		Regions:   d,
		Consensus: facade,
		Migration: coordinator,
		Invoker:   scatter.NewInvoker(scatter.Config{RetryIntervalMs: 1}, sender),
		Sampler:   fixedSampler{},
		Reload:    func(ctx context.Context) error { return env.reloaded },
		Stop: func(ctx context.Context) error {
			env.stopped++
			return nil
		},
	})
	t.Cleanup(func() {
		coordinator.Close()
		facade.Close()
		d.Close()
	})
	return env
}

func (env *testEnv) createSchemaRegion(t *testing.T, gid proto.ConsensusGroupID, namespace string) {
	st, err := env.CreateSchemaRegion(context.Background(), &proto.CreateSchemaRegionRequest{
		ReplicaSet: proto.ReplicaSet{GroupID: gid, Locations: []proto.NodeLocation{local}},
		Namespace:  namespace,
	})
	require.NoError(t, err)
	require.True(t, st.IsSuccess(), st.String())
}

func (env *testEnv) createSeries(t *testing.T, gid proto.ConsensusGroupID, paths ...string) {
	for _, path := range paths {
		resp, err := env.SendPlanNode(context.Background(), &proto.ExecuteRequest{
			GroupID: gid,
			Body:    plan.MustEncode(&plan.CreateTimeSeries{Path: path, DataType: "DOUBLE"}),
		})
		require.NoError(t, err)
		require.True(t, resp.Accepted, resp.Message)
	}
}

func patterns(t *testing.T, ps ...string) []byte {
	tree, err := pathtree.NewWithPatterns(ps...)
	require.NoError(t, err)
	return tree.Serialize()
}

func seriesPaths(prefix string, n int) []string {
	ret := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ret = append(ret, prefix+".s"+strconv.Itoa(i))
	}
	return ret
}

func TestExecuteDecodeErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	gid := proto.NewSchemaRegionID(1)
	env.createSchemaRegion(t, gid, "root.sg")

	for _, req := range []*proto.ExecuteRequest{
		{GroupID: gid, Body: []byte("{bad")},
		{GroupID: gid, Body: []byte(`{"type":"Unknown","body":{}}`)},
		{GroupID: proto.ConsensusGroupID{Type: 7, ID: 1}, Body: plan.MustEncode(&plan.CreateTimeSeries{Path: "root.sg.d1.s1"})},
		{GroupID: gid, Body: plan.MustEncode(&plan.InsertRow{Path: "root.sg.d1.s1", Timestamp: 1})},
	} {
		resp, err := env.SendFragmentInstance(ctx, req)
		require.NoError(t, err)
		require.False(t, resp.Accepted)
		require.Contains(t, resp.Message, "decode")
	}
	// nothing reached the region
	resp, err := env.FetchSchema(ctx, &proto.FetchSchemaRequest{PathPatternTree: patterns(t, "root.**")})
	require.NoError(t, err)
	require.True(t, resp.Status.IsSuccess())
	require.Len(t, resp.Series, 0)
}

func TestExecute(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	gid := proto.NewDataRegionID(1)
	st, err := env.CreateDataRegion(ctx, &proto.CreateDataRegionRequest{
		ReplicaSet: proto.ReplicaSet{GroupID: gid, Locations: []proto.NodeLocation{local}},
		Namespace:  "root.sg",
	})
	require.NoError(t, err)
	require.True(t, st.IsSuccess())

	now := time.Now().UnixMilli()
	resp, err := env.SendPlanNode(ctx, &proto.ExecuteRequest{
		GroupID: gid,
		Body:    plan.MustEncode(&plan.InsertRow{Path: "root.sg.d1.s1", Timestamp: now, Value: 1.5}),
	})
	require.NoError(t, err)
	require.True(t, resp.Accepted, resp.Message)
	require.Equal(t, "1", resp.Message)

	resp, err = env.SendFragmentInstance(ctx, &proto.ExecuteRequest{
		GroupID: gid,
		Body:    plan.MustEncode(&plan.Query{PathPattern: "root.sg.**", StartTime: now, EndTime: now + 1}),
	})
	require.NoError(t, err)
	require.True(t, resp.Accepted, resp.Message)
	result, err := plan.UnmarshalResult(resp.Data)
	require.NoError(t, err)
	require.Len(t, result.Points, 1)
	require.Equal(t, 1.5, result.Points[0].Value)

	// writes are rejected by a read only node, reads are served
	st, err = env.SetSystemStatus(ctx, &proto.SetSystemStatusRequest{Status: proto.NodeStatusReadOnly})
	require.NoError(t, err)
	require.True(t, st.IsSuccess())
	resp, err = env.SendPlanNode(ctx, &proto.ExecuteRequest{
		GroupID: gid,
		Body:    plan.MustEncode(&plan.InsertRow{Path: "root.sg.d1.s1", Timestamp: now + 1}),
	})
	require.NoError(t, err)
	require.False(t, resp.Accepted)
	resp, err = env.SendFragmentInstance(ctx, &proto.ExecuteRequest{
		GroupID: gid,
		Body:    plan.MustEncode(&plan.Query{PathPattern: "root.sg.**", StartTime: now, EndTime: now + 1}),
	})
	require.NoError(t, err)
	require.True(t, resp.Accepted)

	st, err = env.SetSystemStatus(ctx, &proto.SetSystemStatusRequest{Status: "Sleeping"})
	require.NoError(t, err)
	require.Equal(t, proto.CodeExecuteStatementError, st.Code)
	require.Equal(t, proto.NodeStatusReadOnly, env.Status())
}

func TestRegionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	gid := proto.NewSchemaRegionID(3)

	env.createSchemaRegion(t, gid, "root.sg")
	// creating again is idempotent
	env.createSchemaRegion(t, gid, "root.sg")

	st, err := env.CreateDataRegion(ctx, &proto.CreateDataRegionRequest{
		ReplicaSet: proto.ReplicaSet{GroupID: gid, Locations: []proto.NodeLocation{local}},
		Namespace:  "root.sg",
	})
	require.NoError(t, err)
	require.Equal(t, proto.CodeUnsupportedGroupType, st.Code)

	// the simple plane only serves single local replicas
	st, err = env.CreateDataRegion(ctx, &proto.CreateDataRegionRequest{
		ReplicaSet: proto.ReplicaSet{GroupID: proto.NewDataRegionID(3), Locations: []proto.NodeLocation{local, remote}},
		Namespace:  "root.sg",
	})
	require.NoError(t, err)
	require.Equal(t, proto.CodeCreateRegionError, st.Code)
	_, err = env.regions.Get(proto.NewDataRegionID(3))
	require.ErrorIs(t, err, apierrors.ErrRegionNotFound)

	st, err = env.CreateDataRegion(ctx, &proto.CreateDataRegionRequest{
		ReplicaSet: proto.ReplicaSet{GroupID: proto.NewDataRegionID(4), Locations: []proto.NodeLocation{local}},
		Namespace:  "root.sg",
		TTL:        3600000,
	})
	require.NoError(t, err)
	require.True(t, st.IsSuccess())
	reg, err := env.regions.Get(proto.NewDataRegionID(4))
	require.NoError(t, err)
	require.Equal(t, proto.TTL(3600000), reg.TTL())

	st, err = env.DeleteRegion(ctx, &proto.DeleteRegionRequest{GroupID: gid})
	require.NoError(t, err)
	require.True(t, st.IsSuccess())
	st, err = env.DeleteRegion(ctx, &proto.DeleteRegionRequest{GroupID: gid})
	require.NoError(t, err)
	require.Equal(t, proto.CodeRegionNotFound, st.Code)
	ok, err := env.cfg.Consensus.IsLeader(gid)
	require.NoError(t, err)
	require.False(t, ok)

	// the simple plane can not join existing groups
	st, err = env.CreateNewRegionPeer(ctx, &proto.CreatePeerRequest{
		GroupID:   proto.NewDataRegionID(5),
		Namespace: "root.sg",
		Locations: []proto.NodeLocation{remote, local},
	})
	require.NoError(t, err)
	require.Equal(t, proto.CodeCreateRegionError, st.Code)
	_, err = env.regions.Get(proto.NewDataRegionID(5))
	require.ErrorIs(t, err, apierrors.ErrRegionNotFound)
}

func TestConstructSchemaBlackList(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	g1, g2 := proto.NewSchemaRegionID(1), proto.NewSchemaRegionID(2)
	env.createSchemaRegion(t, g1, "root.sg1")
	env.createSchemaRegion(t, g2, "root.sg2")
	env.createSeries(t, g1, seriesPaths("root.sg1.d1", 3)...)
	env.createSeries(t, g2, seriesPaths("root.sg2.d1", 5)...)

	req := &proto.SchemaBlackListRequest{GroupIDs: []proto.ConsensusGroupID{g1, g2}, PathPatternTree: patterns(t, "root.**")}
	st, err := env.ConstructSchemaBlackList(ctx, req)
	require.NoError(t, err)
	require.True(t, st.IsSuccess())
	require.Equal(t, "8", st.Message)

	st, err = env.RollbackSchemaBlackList(ctx, req)
	require.NoError(t, err)
	require.True(t, st.IsSuccess())

	env.schema.setFailure(g2, apierrors.NewMetadataError("schema region is busy"))
	st, err = env.ConstructSchemaBlackList(ctx, req)
	require.NoError(t, err)
	require.Equal(t, proto.CodeMultipleError, st.Code)
	require.Len(t, st.SubStatus, 1)
	require.Equal(t, proto.CodeMetadataError, st.SubStatus[0].Code)
	require.NotContains(t, st.Message, "3")

	// a malformed tree reaches no group
	st, err = env.DeleteTimeSeries(ctx, &proto.SchemaBlackListRequest{GroupIDs: req.GroupIDs, PathPatternTree: []byte{0xff}})
	require.NoError(t, err)
	require.Equal(t, proto.CodeDecodeError, st.Code)

	// units only go to groups of their variant
	st, err = env.DeleteDataForDeleteTimeSeries(ctx, req)
	require.NoError(t, err)
	require.Equal(t, proto.CodeMultipleError, st.Code)
	require.Len(t, st.SubStatus, 2)
	require.Equal(t, proto.CodeDecodeError, st.SubStatus[0].Code)
}

func TestFetchSchemaBlackList(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	g1, g2 := proto.NewSchemaRegionID(1), proto.NewSchemaRegionID(2)
	env.createSchemaRegion(t, g1, "root.sg1")
	env.createSchemaRegion(t, g2, "root.sg2")
	env.createSeries(t, g1, seriesPaths("root.sg1.d1", 2)...)
	env.createSeries(t, g2, seriesPaths("root.sg2.d1", 2)...)

	req := &proto.SchemaBlackListRequest{GroupIDs: []proto.ConsensusGroupID{g1, g2}, PathPatternTree: patterns(t, "root.**")}
	st, err := env.ConstructSchemaBlackList(ctx, req)
	require.NoError(t, err)
	require.Equal(t, "4", st.Message)

	resp, err := env.FetchSchemaBlackList(ctx, req)
	require.NoError(t, err)
	require.True(t, resp.Status.IsSuccess())
	tree, err := pathtree.Deserialize(resp.PathPatternTree)
	require.NoError(t, err)
	require.ElementsMatch(t, append(seriesPaths("root.sg1.d1", 2), seriesPaths("root.sg2.d1", 2)...), tree.Patterns())

	env.schema.setFailure(g2, apierrors.NewMetadataError("schema region is busy"))
	resp, err = env.FetchSchemaBlackList(ctx, req)
	require.NoError(t, err)
	require.Equal(t, proto.CodeMetadataError, resp.Status.Code)
	require.Nil(t, resp.PathPatternTree)

	// the blacklisted series are deleted once the failure is gone
	env.schema.setFailure(g2, nil)
	st, err = env.DeleteTimeSeries(ctx, req)
	require.NoError(t, err)
	require.Equal(t, "4", st.Message)
	resp, err = env.FetchSchemaBlackList(ctx, req)
	require.NoError(t, err)
	tree, err = pathtree.Deserialize(resp.PathPatternTree)
	require.NoError(t, err)
	require.True(t, tree.IsEmpty())
}

func TestFetchSchemaFillsCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	gid := proto.NewSchemaRegionID(1)
	env.createSchemaRegion(t, gid, "root.sg")
	env.createSeries(t, gid, "root.sg.d1.s1", "root.sg.d2.s1")

	resp, err := env.FetchSchema(ctx, &proto.FetchSchemaRequest{PathPatternTree: patterns(t, "root.sg.d1.*")})
	require.NoError(t, err)
	require.Len(t, resp.Series, 1)
	_, ok := env.SchemaCache().Get("root.sg.d1.s1")
	require.True(t, ok)

	resp, err = env.FetchSchema(ctx, &proto.FetchSchemaRequest{PathPatternTree: patterns(t, "root.**")})
	require.NoError(t, err)
	require.Len(t, resp.Series, 2)

	st, err := env.InvalidateMatchedSchemaCache(ctx, &proto.InvalidateMatchedSchemaCacheRequest{PathPatternTree: patterns(t, "root.sg.d1.**")})
	require.NoError(t, err)
	require.True(t, st.IsSuccess())
	_, ok = env.SchemaCache().Get("root.sg.d1.s1")
	require.False(t, ok)
	_, ok = env.SchemaCache().Get("root.sg.d2.s1")
	require.True(t, ok)

	st, err = env.InvalidateMatchedSchemaCache(ctx, &proto.InvalidateMatchedSchemaCacheRequest{PathPatternTree: []byte("x")})
	require.NoError(t, err)
	require.Equal(t, proto.CodeDecodeError, st.Code)

	st, err = env.InvalidateSchemaCache(ctx, &proto.EmptyRequest{})
	require.NoError(t, err)
	require.True(t, st.IsSuccess())
	require.Equal(t, 0, env.SchemaCache().Len())
}

func TestCaches(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	gid := proto.NewDataRegionID(1)
	route := &proto.RegionRoute{GroupID: gid, Namespace: "root.sg", Locations: []proto.NodeLocation{local}}

	st, err := env.UpdateRegionCache(ctx, &proto.RegionRouteRequest{Timestamp: 10, Routes: []*proto.RegionRoute{route}})
	require.NoError(t, err)
	require.True(t, st.IsSuccess())
	st, err = env.UpdateRegionCache(ctx, &proto.RegionRouteRequest{Timestamp: 9})
	require.NoError(t, err)
	require.Equal(t, proto.CodeCacheUpdateFail, st.Code)
	_, ok := env.PartitionCache().Get(gid)
	require.True(t, ok)

	st, err = env.InvalidatePartitionCache(ctx, &proto.EmptyRequest{})
	require.NoError(t, err)
	require.True(t, st.IsSuccess())
	require.Equal(t, 0, env.PartitionCache().Len())

	env.PermissionCache().PutUser(&cache.User{Name: "u1"})
	st, err = env.InvalidatePermissionCache(ctx, &proto.InvalidatePermissionCacheRequest{})
	require.NoError(t, err)
	require.Equal(t, proto.CodeInvalidatePermissionCacheError, st.Code)
	st, err = env.InvalidatePermissionCache(ctx, &proto.InvalidatePermissionCacheRequest{Username: "u1"})
	require.NoError(t, err)
	require.True(t, st.IsSuccess())
	_, ok = env.PermissionCache().User("u1")
	require.False(t, ok)

	info := proto.TemplateSetInfo{TemplateID: 1, TemplateName: "t1", Paths: []string{"root.sg"}}
	st, err = env.UpdateTemplate(ctx, &proto.UpdateTemplateRequest{Type: proto.AddTemplateSetInfo, Info: info})
	require.NoError(t, err)
	require.True(t, st.IsSuccess())
	_, ok = env.TemplateCache().Get(1)
	require.True(t, ok)
	st, err = env.UpdateTemplate(ctx, &proto.UpdateTemplateRequest{Type: 9, Info: info})
	require.NoError(t, err)
	require.Equal(t, proto.CodeExecuteStatementError, st.Code)

	env.SchemaCache().Put(&proto.SeriesSchema{Path: "root.sg.d1.s1"})
	env.PermissionCache().PutUser(&cache.User{Name: "u2"})
	st, err = env.ClearCache(ctx, &proto.EmptyRequest{})
	require.NoError(t, err)
	require.True(t, st.IsSuccess())
	require.Equal(t, 0, env.SchemaCache().Len())
	_, ok = env.PermissionCache().User("u2")
	require.False(t, ok)
	_, ok = env.TemplateCache().Get(1)
	require.True(t, ok)

	_, err = env.UpdateRegionCache(ctx, &proto.RegionRouteRequest{Timestamp: 11, Routes: []*proto.RegionRoute{route}})
	require.NoError(t, err)
	env.SchemaCache().Put(&proto.SeriesSchema{Path: "root.sg.d1.s1"})
	st, err = env.DisableDataNode(ctx, &proto.EmptyRequest{})
	require.NoError(t, err)
	require.True(t, st.IsSuccess())
	require.Equal(t, 0, env.PartitionCache().Len())
	require.Equal(t, 0, env.SchemaCache().Len())
}

func TestHeartbeat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createSchemaRegion(t, proto.NewSchemaRegionID(1), "root.sg")

	resp, err := env.Heartbeat(ctx, &proto.HeartbeatRequest{HeartbeatTimestamp: 42})
	require.NoError(t, err)
	require.Equal(t, int64(42), resp.HeartbeatTimestamp)
	require.Equal(t, proto.NodeStatusRunning, resp.Status)
	require.Nil(t, resp.JudgedLeaders)
	require.Nil(t, resp.CPU)

	resp, err = env.Heartbeat(ctx, &proto.HeartbeatRequest{HeartbeatTimestamp: 43, NeedJudgeLeader: true, NeedSamplingLoad: true})
	require.NoError(t, err)
	require.Equal(t, map[string]bool{proto.NewSchemaRegionID(1).String(): true}, resp.JudgedLeaders)
	require.Equal(t, int32(12), *resp.CPU)
	require.Equal(t, int32(34), *resp.Memory)
}

func TestMigration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	gid := proto.NewDataRegionID(1)
	_, err := env.CreateDataRegion(ctx, &proto.CreateDataRegionRequest{
		ReplicaSet: proto.ReplicaSet{GroupID: gid, Locations: []proto.NodeLocation{local}},
		Namespace:  "root.sg",
	})
	require.NoError(t, err)

	// removing a peer which is not a member completes
	resp, err := env.RemoveRegionPeer(ctx, &proto.MaintainPeerRequest{GroupID: gid, DestNode: remote})
	require.NoError(t, err)
	require.True(t, resp.Submitted)
	require.True(t, resp.Status.IsSuccess())
	require.Eventually(t, func() bool {
		tasks, err := env.GetMigrationTask(ctx, &proto.MigrationTaskRequest{TaskID: resp.TaskID})
		return err == nil && len(tasks.Tasks) == 1 && tasks.Tasks[0].State == migration.Completed.String()
	}, 5*time.Second, 10*time.Millisecond)

	// the simple plane can not admit a remote peer
	resp, err = env.AddRegionPeer(ctx, &proto.MaintainPeerRequest{GroupID: gid, DestNode: remote})
	require.NoError(t, err)
	require.True(t, resp.Submitted)
	var tasks *proto.MigrationTaskResponse
	require.Eventually(t, func() bool {
		tasks, err = env.GetMigrationTask(ctx, &proto.MigrationTaskRequest{TaskID: resp.TaskID})
		return err == nil && tasks.Tasks[0].State == migration.Failed.String()
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, proto.CodeRegionMigrateFailed, tasks.Status.Code)

	tasks, err = env.GetMigrationTask(ctx, &proto.MigrationTaskRequest{GroupID: &gid})
	require.NoError(t, err)
	require.Len(t, tasks.Tasks, 2)
	require.True(t, tasks.Status.IsSuccess())

	tasks, err = env.GetMigrationTask(ctx, &proto.MigrationTaskRequest{TaskID: "unknown"})
	require.NoError(t, err)
	require.Equal(t, proto.CodeRegionNotFound, tasks.Status.Code)

	resp, err = env.DeleteOldRegionPeer(ctx, &proto.MaintainPeerRequest{GroupID: proto.ConsensusGroupID{Type: 9}, DestNode: remote})
	require.NoError(t, err)
	require.False(t, resp.Submitted)
	require.Equal(t, proto.CodeUnsupportedGroupType, resp.Status.Code)
}

func TestChangeRegionLeader(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	gid := proto.NewSchemaRegionID(1)

	// not the leader
	st, err := env.ChangeRegionLeader(ctx, &proto.RegionLeaderChangeRequest{GroupID: gid, NewLeaderNode: remote})
	require.NoError(t, err)
	require.True(t, st.IsSuccess())

	env.createSchemaRegion(t, gid, "root.sg")
	st, err = env.ChangeRegionLeader(ctx, &proto.RegionLeaderChangeRequest{GroupID: gid, NewLeaderNode: local})
	require.NoError(t, err)
	require.True(t, st.IsSuccess())
	st, err = env.ChangeRegionLeader(ctx, &proto.RegionLeaderChangeRequest{GroupID: gid, NewLeaderNode: remote})
	require.NoError(t, err)
	require.Equal(t, proto.CodeRegionLeaderChangeFailed, st.Code)
	require.Contains(t, st.Message, apierrors.ErrUnsupportedOperation.Error())

	st, err = env.ChangeRegionLeader(ctx, &proto.RegionLeaderChangeRequest{GroupID: proto.ConsensusGroupID{Type: 9}})
	require.NoError(t, err)
	require.Equal(t, proto.CodeUnsupportedGroupType, st.Code)
}

func TestBroadcast(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	third := proto.NodeLocation{NodeID: 3}
	env.sender.fail[2] = 1
	env.sender.fail[3] = 100

	payload, err := json.Marshal(&proto.InvalidatePermissionCacheRequest{Username: "u1"})
	require.NoError(t, err)
	resp, err := env.Broadcast(ctx, &proto.BroadcastRequest{
		Kind:      proto.BroadcastInvalidatePermissionCache,
		Targets:   []proto.NodeLocation{local, remote, third, remote},
		Payload:   payload,
		MaxRounds: 3,
	})
	require.NoError(t, err)
	require.False(t, resp.Succeeded)
	require.Len(t, resp.Outcomes, 3)
	require.Equal(t, "success", resp.Outcomes[1].Kind)
	require.Equal(t, "success", resp.Outcomes[2].Kind)
	require.Equal(t, "failure", resp.Outcomes[3].Kind)
	require.Equal(t, proto.CodeCacheUpdateFail, resp.Outcomes[3].Status.Code)

	env.sender.lock.Lock()
	require.Equal(t, map[proto.NodeID]int{1: 1, 2: 2, 3: 3}, env.sender.calls)
	env.sender.lock.Unlock()
}

func TestBroadcastRoundsCapped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.sender.fail[2] = 100

	resp, err := env.Broadcast(ctx, &proto.BroadcastRequest{
		Kind:      proto.BroadcastClearCache,
		Targets:   []proto.NodeLocation{remote},
		MaxRounds: 50,
	})
	require.NoError(t, err)
	require.False(t, resp.Succeeded)
	require.Equal(t, "failure", resp.Outcomes[2].Kind)

	env.sender.lock.Lock()
	require.Equal(t, env.cfg.Invoker.Config().MaxRetryRounds, env.sender.calls[2])
	env.sender.lock.Unlock()
}

func TestBroadcastUnknownKind(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, kind := range []proto.BroadcastKind{"StopDataNode", "CreateDataRegion", ""} {
		resp, err := env.Broadcast(ctx, &proto.BroadcastRequest{
			Kind:      kind,
			Targets:   []proto.NodeLocation{local, remote},
			MaxRounds: 50,
		})
		require.NoError(t, err)
		require.False(t, resp.Succeeded)
		require.NotNil(t, resp.Status)
		require.Equal(t, proto.CodeUnsupportedGroupType, resp.Status.Code)
		require.Empty(t, resp.Outcomes)
	}

	env.sender.lock.Lock()
	require.Empty(t, env.sender.calls)
	env.sender.lock.Unlock()
}

func TestNodeOperations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createSchemaRegion(t, proto.NewSchemaRegionID(1), "root.sg1")
	_, err := env.CreateDataRegion(ctx, &proto.CreateDataRegionRequest{
		ReplicaSet: proto.ReplicaSet{GroupID: proto.NewDataRegionID(1), Locations: []proto.NodeLocation{local}},
		Namespace:  "root.sg1",
	})
	require.NoError(t, err)

	st, err := env.Flush(ctx, &proto.FlushRequest{})
	require.NoError(t, err)
	require.True(t, st.IsSuccess())
	st, err = env.Flush(ctx, &proto.FlushRequest{StorageGroups: []string{"root.sg1"}})
	require.NoError(t, err)
	require.True(t, st.IsSuccess())
	st, err = env.Merge(ctx, &proto.EmptyRequest{})
	require.NoError(t, err)
	require.True(t, st.IsSuccess())

	st, err = env.SetTTL(ctx, &proto.SetTTLRequest{TTL: 1000})
	require.NoError(t, err)
	require.Equal(t, proto.CodeExecuteStatementError, st.Code)
	st, err = env.SetTTL(ctx, &proto.SetTTLRequest{StorageGroups: []string{"root.sg1"}, TTL: 1000})
	require.NoError(t, err)
	require.True(t, st.IsSuccess())
	reg, err := env.regions.Get(proto.NewDataRegionID(1))
	require.NoError(t, err)
	require.Equal(t, proto.TTL(1000), reg.TTL())

	st, err = env.UpdateConfigNodeGroup(ctx, &proto.UpdateConfigNodeGroupRequest{
		ConfigNodeLocations: []proto.ConfigNodeLocation{{ConfigNodeID: 0, InternalEndpoint: proto.Endpoint{IP: "127.0.0.1", Port: 10710}}},
	})
	require.NoError(t, err)
	require.True(t, st.IsSuccess())
	require.Len(t, env.ConfigNodes(), 1)

	st, err = env.LoadConfiguration(ctx, &proto.EmptyRequest{})
	require.NoError(t, err)
	require.True(t, st.IsSuccess())
	env.reloaded = errors.New("bad yaml")
	st, err = env.LoadConfiguration(ctx, &proto.EmptyRequest{})
	require.NoError(t, err)
	require.Equal(t, proto.CodeExecuteStatementError, st.Code)

	st, err = env.StopDataNode(ctx, &proto.EmptyRequest{})
	require.NoError(t, err)
	require.True(t, st.IsSuccess())
	require.Equal(t, 1, env.stopped)

	_, err = env.RaftMessage(ctx, &proto.RaftMessageRequest{GroupID: proto.NewDataRegionID(1).RaftID()})
	require.ErrorIs(t, err, apierrors.ErrUnsupportedOperation)
}

func TestUpdateRegionCacheNilRoute(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	gid := proto.NewDataRegionID(1)
	route := &proto.RegionRoute{GroupID: gid, Namespace: "root.sg", Locations: []proto.NodeLocation{local}}
	st, err := env.UpdateRegionCache(ctx, &proto.RegionRouteRequest{Timestamp: 1, Routes: []*proto.RegionRoute{route}})
	require.NoError(t, err)
	require.True(t, st.IsSuccess())

	req := &proto.RegionRouteRequest{}
	require.NoError(t, json.Unmarshal([]byte(`{"timestamp":2,"routes":[null]}`), req))
	require.Len(t, req.Routes, 1)
	st, err = env.UpdateRegionCache(ctx, req)
	require.NoError(t, err)
	require.Equal(t, proto.CodeDecodeError, st.Code)

	// the table in use is untouched
	_, ok := env.PartitionCache().Get(gid)
	require.True(t, ok)
	require.Equal(t, 1, env.PartitionCache().Len())
}

func TestFillPermissionCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.FillPermissionCache(ctx, &PermissionFill{Users: []*cache.User{{Name: "u1"}, nil}})
	require.ErrorIs(t, err, apierrors.ErrDecode)
	_, ok := env.PermissionCache().User("u1")
	require.False(t, ok)
	require.ErrorIs(t, env.FillPermissionCache(ctx, &PermissionFill{Roles: []*cache.Role{{}}}), apierrors.ErrDecode)

	require.NoError(t, env.FillPermissionCache(ctx, &PermissionFill{
		Users: []*cache.User{{Name: "u1", Roles: []string{"admin"}}, {Name: "u2"}},
		Roles: []*cache.Role{{Name: "admin", Privileges: []string{"WRITE_DATA"}}},
	}))
	role, ok := env.PermissionCache().Role("admin")
	require.True(t, ok)
	require.Equal(t, []string{"WRITE_DATA"}, role.Privileges)

	st, err := env.InvalidatePermissionCache(ctx, &proto.InvalidatePermissionCacheRequest{RoleName: "admin"})
	require.NoError(t, err)
	require.True(t, st.IsSuccess())
	_, ok = env.PermissionCache().User("u1")
	require.False(t, ok)
	_, ok = env.PermissionCache().User("u2")
	require.True(t, ok)
}
