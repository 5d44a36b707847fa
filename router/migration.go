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

	"github.com/cubefs/cubefs/blobstore/common/trace"
	apierrors "github.com/cubefs/datanode/errors"
	"github.com/cubefs/datanode/migration"
	"github.com/cubefs/datanode/proto"
)

type submitFunc func(ctx context.Context, gid proto.ConsensusGroupID, node proto.NodeLocation) (string, bool)

func (r *Router) AddRegionPeer(ctx context.Context, req *proto.MaintainPeerRequest) (*proto.MaintainPeerResponse, error) {
	return r.submitMigration(ctx, req, r.cfg.Migration.SubmitAddReplica), nil
}

func (r *Router) RemoveRegionPeer(ctx context.Context, req *proto.MaintainPeerRequest) (*proto.MaintainPeerResponse, error) {
	return r.submitMigration(ctx, req, r.cfg.Migration.SubmitRemoveReplica), nil
}

func (r *Router) DeleteOldRegionPeer(ctx context.Context, req *proto.MaintainPeerRequest) (*proto.MaintainPeerResponse, error) {
	return r.submitMigration(ctx, req, r.cfg.Migration.SubmitDeleteOldReplica), nil
}

// submitMigration only enqueues the task, progress is read with GetMigrationTask.
func (r *Router) submitMigration(ctx context.Context, req *proto.MaintainPeerRequest, submit submitFunc) *proto.MaintainPeerResponse {
	if !req.GroupID.Supported() {
		return &proto.MaintainPeerResponse{Status: apierrors.StatusOf(apierrors.ErrUnsupportedGroupType)}
	}
	id, ok := submit(ctx, req.GroupID, req.DestNode)
	if !ok {
		trace.SpanFromContextSafe(ctx).Warnf("migration of %s to node %d not submitted", req.GroupID, req.DestNode.NodeID)
		return &proto.MaintainPeerResponse{
			Status: proto.NewStatus(proto.CodeMigrateRegionError, "migration task not submitted"),
		}
	}
	return &proto.MaintainPeerResponse{Submitted: true, TaskID: id, Status: proto.SuccessStatus()}
}

// GetMigrationTask looks up a task by id, the tasks of a group, or every task.
// A failed task looked up by id answers REGION_MIGRATE_FAILED with its cause.
func (r *Router) GetMigrationTask(ctx context.Context, req *proto.MigrationTaskRequest) (*proto.MigrationTaskResponse, error) {
	var tasks []*migration.Task
	switch {
	case req.TaskID != "":
		task, err := r.cfg.Migration.Get(req.TaskID)
		if err != nil {
			return &proto.MigrationTaskResponse{Status: apierrors.StatusOf(err)}, nil
		}
		tasks = append(tasks, task)
	case req.GroupID != nil:
		tasks = r.cfg.Migration.ListByGroup(*req.GroupID)
	default:
		tasks = r.cfg.Migration.List()
	}

	resp := &proto.MigrationTaskResponse{Status: proto.SuccessStatus()}
	for _, task := range tasks {
		info := task.Info(r.cfg.Local.NodeID)
		if req.TaskID != "" && info.State == migration.Failed.String() {
			resp.Status = proto.NewStatus(proto.CodeRegionMigrateFailed, info.Message)
		}
		resp.Tasks = append(resp.Tasks, info)
	}
	return resp, nil
}

func (r *Router) ChangeRegionLeader(ctx context.Context, req *proto.RegionLeaderChangeRequest) (*proto.Status, error) {
	st := r.cfg.Consensus.ChangeLeader(ctx, req.GroupID, req.NewLeaderNode)
	if !st.IsSuccess() {
		trace.SpanFromContextSafe(ctx).Warnf("change leader of %s to node %d failed: %s", req.GroupID, req.NewLeaderNode.NodeID, st)
	}
	return st, nil
}
