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
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"
	apierrors "github.com/cubefs/datanode/errors"
	"github.com/cubefs/datanode/metrics"
	"github.com/cubefs/datanode/proto"
	"github.com/cubefs/datanode/region"
	"github.com/cubefs/datanode/scatter"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
)

func (r *Router) Heartbeat(ctx context.Context, req *proto.HeartbeatRequest) (*proto.HeartbeatResponse, error) {
	resp := &proto.HeartbeatResponse{
		HeartbeatTimestamp: req.HeartbeatTimestamp,
		Status:             r.Status(),
	}
	if req.NeedJudgeLeader {
		leaders := r.cfg.Consensus.LeaderOf()
		resp.JudgedLeaders = make(map[string]bool, len(leaders))
		for gid, isLeader := range leaders {
			resp.JudgedLeaders[gid.String()] = isLeader
		}
	}
	if req.NeedSamplingLoad && r.cfg.Sampler != nil {
		cpu, memory := r.cfg.Sampler.Sample()
		resp.CPU, resp.Memory = &cpu, &memory
	}
	return resp, nil
}

// regionsOf selects the regions of the storage groups, every region when none is given.
func (r *Router) regionsOf(storageGroups []string) []region.Region {
	var ret []region.Region
	for _, reg := range r.cfg.Regions.List() {
		if len(storageGroups) == 0 || slices.Contains(storageGroups, reg.Namespace()) {
			ret = append(ret, reg)
		}
	}
	return ret
}

func (r *Router) forEachRegion(ctx context.Context, regions []region.Region, f func(ctx context.Context, reg region.Region) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Parallelism)
	for _, reg := range regions {
		reg := reg
		g.Go(func() error {
			if err := f(ctx, reg); err != nil {
				return errors.Info(err, "region", reg.GroupID().String())
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *Router) Flush(ctx context.Context, req *proto.FlushRequest) (*proto.Status, error) {
	err := r.forEachRegion(ctx, r.regionsOf(req.StorageGroups), func(ctx context.Context, reg region.Region) error {
		return reg.Flush(ctx)
	})
	if err != nil {
		trace.SpanFromContextSafe(ctx).Errorf("flush failed: %s", errors.Detail(err))
		return proto.NewStatus(proto.CodeExecuteStatementError, err.Error()), nil
	}
	return proto.SuccessStatus(), nil
}

func (r *Router) Merge(ctx context.Context, req *proto.EmptyRequest) (*proto.Status, error) {
	err := r.forEachRegion(ctx, r.regionsOf(nil), func(ctx context.Context, reg region.Region) error {
		return reg.Merge(ctx)
	})
	if err != nil {
		trace.SpanFromContextSafe(ctx).Errorf("merge failed: %s", errors.Detail(err))
		return proto.NewStatus(proto.CodeExecuteStatementError, err.Error()), nil
	}
	return proto.SuccessStatus(), nil
}

// SetTTL updates the data regions of the storage groups, expired points are dropped on merge.
func (r *Router) SetTTL(ctx context.Context, req *proto.SetTTLRequest) (*proto.Status, error) {
	if len(req.StorageGroups) == 0 {
		return apierrors.StatusOf(apierrors.ErrInvalidStorageGroups), nil
	}
	for _, reg := range r.regionsOf(req.StorageGroups) {
		if reg.GroupID().IsDataRegion() {
			reg.SetTTL(req.TTL)
		}
	}
	return proto.SuccessStatus(), nil
}

func (r *Router) SetSystemStatus(ctx context.Context, req *proto.SetSystemStatusRequest) (*proto.Status, error) {
	if !req.Status.Valid() {
		return apierrors.StatusOf(apierrors.ErrInvalidStatus), nil
	}
	r.setStatus(req.Status)
	trace.SpanFromContextSafe(ctx).Infof("node status set to %s", req.Status)
	return proto.SuccessStatus(), nil
}

func (r *Router) UpdateConfigNodeGroup(ctx context.Context, req *proto.UpdateConfigNodeGroupRequest) (*proto.Status, error) {
	r.lock.Lock()
	r.configNodes = append([]proto.ConfigNodeLocation(nil), req.ConfigNodeLocations...)
	r.lock.Unlock()
	return proto.SuccessStatus(), nil
}

func (r *Router) LoadConfiguration(ctx context.Context, req *proto.EmptyRequest) (*proto.Status, error) {
	if r.cfg.Reload == nil {
		return proto.SuccessStatus(), nil
	}
	if err := r.cfg.Reload(ctx); err != nil {
		trace.SpanFromContextSafe(ctx).Errorf("load configuration failed: %s", errors.Detail(err))
		return proto.NewStatus(proto.CodeExecuteStatementError, err.Error()), nil
	}
	return proto.SuccessStatus(), nil
}

// StopDataNode acknowledges at once, the node keeps serving until the grace period ends.
func (r *Router) StopDataNode(ctx context.Context, req *proto.EmptyRequest) (*proto.Status, error) {
	if r.cfg.Stop == nil {
		return apierrors.StatusOf(apierrors.ErrShuttingDown), nil
	}
	if err := r.cfg.Stop(ctx); err != nil {
		return proto.NewStatus(proto.CodeDataNodeStopError, err.Error()), nil
	}
	return proto.SuccessStatus(), nil
}

func (r *Router) RaftMessage(ctx context.Context, req *proto.RaftMessageRequest) (*proto.EmptyResponse, error) {
	if err := r.cfg.Consensus.HandleRaftMessage(ctx, req.GroupID, req.Message); err != nil {
		return nil, err
	}
	return &proto.EmptyResponse{}, nil
}

// Broadcast scatters req to its targets with retry rounds and reports the
// final outcome of every target. The rounds asked by req never exceed the
// configured maximum.
func (r *Router) Broadcast(ctx context.Context, req *proto.BroadcastRequest) (*proto.BroadcastResponse, error) {
	if !req.Kind.Valid() {
		trace.SpanFromContextSafe(ctx).Warnf("broadcast of unknown kind %q rejected", req.Kind)
		return &proto.BroadcastResponse{
			Status:   apierrors.StatusOf(apierrors.ErrUnsupportedOperation),
			Outcomes: map[proto.NodeID]proto.BroadcastOutcome{},
		}, nil
	}
	cfg := r.cfg.Invoker.Config()
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	rounds := cfg.MaxRetryRounds
	if req.MaxRounds > 0 {
		rounds = min(req.MaxRounds, cfg.MaxRetryRounds)
	}

	sreq := &scatter.Request{Kind: req.Kind}
	if len(req.Payload) > 0 {
		sreq.Payload = req.Payload
	}
	result := r.cfg.Invoker.BroadcastWithRetry(ctx, sreq, req.Targets, timeout, rounds)
	metrics.BroadcastRounds.WithLabelValues(string(req.Kind)).Observe(float64(result.Rounds))

	resp := &proto.BroadcastResponse{
		Succeeded: result.Succeeded(),
		Outcomes:  make(map[proto.NodeID]proto.BroadcastOutcome, len(result.Outcomes)),
	}
	for id, o := range result.Outcomes {
		metrics.BroadcastOutcomes.WithLabelValues(string(req.Kind), o.Kind.String()).Inc()
		st := o.Status
		if st == nil {
			st = apierrors.StatusOf(o.Err)
		}
		resp.Outcomes[id] = proto.BroadcastOutcome{Kind: o.Kind.String(), Status: st}
	}
	if !resp.Succeeded {
		trace.SpanFromContextSafe(ctx).Warnf("broadcast %s unfinished on nodes %v after %d rounds", req.Kind, result.Unfinished(), result.Rounds)
	}
	return resp, nil
}
