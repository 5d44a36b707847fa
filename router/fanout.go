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
	"math"
	"strconv"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	apierrors "github.com/cubefs/datanode/errors"
	"github.com/cubefs/datanode/pathtree"
	"github.com/cubefs/datanode/plan"
	"github.com/cubefs/datanode/proto"
)

// submitGroup runs one unit of a fan-out on gid, the unit must fit the group variant.
func (r *Router) submitGroup(ctx context.Context, gid proto.ConsensusGroupID, node plan.Node) (*plan.Result, error) {
	if !gid.Supported() || node.GroupType() != gid.Type {
		return nil, apierrors.NewDecodeError("consensus group id", apierrors.ErrUnsupportedGroupType)
	}
	return r.cfg.Consensus.Submit(ctx, gid, node)
}

// submitAll visits every group regardless of failures. Only the failures are
// returned as a MULTIPLE_ERROR status, otherwise the affected counts add up
// into one success.
func (r *Router) submitAll(ctx context.Context, gids []proto.ConsensusGroupID, rawTree []byte, newNode func() plan.Node) *proto.Status {
	span := trace.SpanFromContextSafe(ctx)
	if _, err := pathtree.Deserialize(rawTree); err != nil {
		return apierrors.StatusOf(apierrors.NewDecodeError("path pattern tree", err))
	}

	var (
		failures []*proto.Status
		affected int64
	)
	for _, gid := range gids {
		node := newNode()
		result, err := r.submitGroup(ctx, gid, node)
		if err != nil {
			span.Warnf("%s on %s failed: %s", node.Type(), gid, err)
			failures = append(failures, apierrors.StatusOf(err))
			continue
		}
		affected += result.Affected
	}
	if len(failures) > 0 {
		return proto.MultipleStatus(failures)
	}
	return proto.SuccessStatusWithMessage(strconv.FormatInt(affected, 10))
}

// ConstructSchemaBlackList answers the number of blacklisted series in the status message.
func (r *Router) ConstructSchemaBlackList(ctx context.Context, req *proto.SchemaBlackListRequest) (*proto.Status, error) {
	return r.submitAll(ctx, req.GroupIDs, req.PathPatternTree, func() plan.Node {
		return &plan.ConstructSchemaBlackList{PathPatternTree: req.PathPatternTree}
	}), nil
}

func (r *Router) RollbackSchemaBlackList(ctx context.Context, req *proto.SchemaBlackListRequest) (*proto.Status, error) {
	return r.submitAll(ctx, req.GroupIDs, req.PathPatternTree, func() plan.Node {
		return &plan.RollbackSchemaBlackList{PathPatternTree: req.PathPatternTree}
	}), nil
}

func (r *Router) DeleteTimeSeries(ctx context.Context, req *proto.SchemaBlackListRequest) (*proto.Status, error) {
	return r.submitAll(ctx, req.GroupIDs, req.PathPatternTree, func() plan.Node {
		return &plan.DeleteTimeSeries{PathPatternTree: req.PathPatternTree}
	}), nil
}

// DeleteDataForDeleteTimeSeries drops every point of the matched series in the given data regions.
func (r *Router) DeleteDataForDeleteTimeSeries(ctx context.Context, req *proto.SchemaBlackListRequest) (*proto.Status, error) {
	return r.submitAll(ctx, req.GroupIDs, req.PathPatternTree, func() plan.Node {
		return &plan.DeleteData{PathPatternTree: req.PathPatternTree, StartTime: math.MinInt64, EndTime: math.MaxInt64}
	}), nil
}

// FetchSchemaBlackList stops at the first failing group and answers its error
// alone. Paths of every group are merged into one compacted tree otherwise.
func (r *Router) FetchSchemaBlackList(ctx context.Context, req *proto.SchemaBlackListRequest) (*proto.FetchSchemaBlackListResponse, error) {
	if _, err := pathtree.Deserialize(req.PathPatternTree); err != nil {
		return &proto.FetchSchemaBlackListResponse{
			Status: apierrors.StatusOf(apierrors.NewDecodeError("path pattern tree", err)),
		}, nil
	}

	merged := pathtree.New()
	for _, gid := range req.GroupIDs {
		result, err := r.submitGroup(ctx, gid, &plan.FetchSchemaBlackList{PathPatternTree: req.PathPatternTree})
		if err != nil {
			trace.SpanFromContextSafe(ctx).Warnf("fetch schema blacklist of %s failed: %s", gid, err)
			return &proto.FetchSchemaBlackListResponse{Status: apierrors.StatusOf(err)}, nil
		}
		for _, path := range result.Paths {
			if err = merged.AppendPath(path); err != nil {
				return &proto.FetchSchemaBlackListResponse{Status: apierrors.StatusOf(apierrors.NewMetadataError(err.Error()))}, nil
			}
		}
	}
	merged.ConstructTree()
	return &proto.FetchSchemaBlackListResponse{
		Status:          proto.SuccessStatus(),
		PathPatternTree: merged.Serialize(),
	}, nil
}

// FetchSchema looks the patterns up in the local schema regions and caches what it finds.
func (r *Router) FetchSchema(ctx context.Context, req *proto.FetchSchemaRequest) (*proto.FetchSchemaResponse, error) {
	if _, err := pathtree.Deserialize(req.PathPatternTree); err != nil {
		return &proto.FetchSchemaResponse{
			Status: apierrors.StatusOf(apierrors.NewDecodeError("path pattern tree", err)),
		}, nil
	}

	resp := &proto.FetchSchemaResponse{Status: proto.SuccessStatus()}
	for _, reg := range r.cfg.Regions.List() {
		if !reg.GroupID().IsSchemaRegion() {
			continue
		}
		result, err := reg.Apply(ctx, &plan.FetchSeries{PathPatternTree: req.PathPatternTree})
		if err != nil {
			return &proto.FetchSchemaResponse{Status: apierrors.StatusOf(err)}, nil
		}
		resp.Series = append(resp.Series, result.Series...)
	}
	r.schemas.Put(resp.Series...)
	return resp, nil
}
