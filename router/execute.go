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
	"github.com/cubefs/cubefs/blobstore/util/errors"
	apierrors "github.com/cubefs/datanode/errors"
	"github.com/cubefs/datanode/plan"
	"github.com/cubefs/datanode/proto"
)

var errReadOnly = apierrors.NewExecutionError(errors.New("node is read only"))

// SendFragmentInstance and SendPlanNode share one path: every unit is submitted
// to the state machine of its group.
func (r *Router) SendFragmentInstance(ctx context.Context, req *proto.ExecuteRequest) (*proto.ExecuteResponse, error) {
	return r.execute(ctx, req), nil
}

func (r *Router) SendPlanNode(ctx context.Context, req *proto.ExecuteRequest) (*proto.ExecuteResponse, error) {
	return r.execute(ctx, req), nil
}

func (r *Router) execute(ctx context.Context, req *proto.ExecuteRequest) *proto.ExecuteResponse {
	span := trace.SpanFromContextSafe(ctx)
	node, err := decodeUnit(req.GroupID, req.Body)
	if err != nil {
		span.Warnf("decode execution unit of %s failed: %s", req.GroupID, err)
		return &proto.ExecuteResponse{Message: err.Error()}
	}
	if !node.ReadOnly() && r.Status() == proto.NodeStatusReadOnly {
		return &proto.ExecuteResponse{Message: errReadOnly.Error()}
	}

	result, err := r.cfg.Consensus.Submit(ctx, req.GroupID, node)
	if err != nil {
		span.Errorf("execute %s on %s failed: %s", node.Type(), req.GroupID, errors.Detail(err))
		return &proto.ExecuteResponse{Message: err.Error()}
	}
	data, err := result.Marshal()
	if err != nil {
		return &proto.ExecuteResponse{Message: err.Error()}
	}
	return &proto.ExecuteResponse{Accepted: true, Message: result.Message(), Data: data}
}

// decodeUnit checks the group id and the unit before anything is submitted.
func decodeUnit(gid proto.ConsensusGroupID, body []byte) (plan.Node, error) {
	if !gid.Supported() {
		return nil, apierrors.NewDecodeError("consensus group id", apierrors.ErrUnsupportedGroupType)
	}
	node, err := plan.Decode(body)
	if err != nil {
		return nil, err
	}
	if node.GroupType() != gid.Type {
		return nil, apierrors.NewDecodeError(string(node.Type()),
			errors.New("execution unit of "+node.GroupType().String()+" sent to "+gid.String()))
	}
	return node, nil
}
