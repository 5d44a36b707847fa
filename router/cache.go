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
	"errors"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/cubefs/datanode/cache"
	apierrors "github.com/cubefs/datanode/errors"
	"github.com/cubefs/datanode/pathtree"
	"github.com/cubefs/datanode/proto"
)

func (r *Router) InvalidatePartitionCache(ctx context.Context, req *proto.EmptyRequest) (*proto.Status, error) {
	r.partitions.InvalidateAll()
	return proto.SuccessStatus(), nil
}

func (r *Router) InvalidateSchemaCache(ctx context.Context, req *proto.EmptyRequest) (*proto.Status, error) {
	r.schemas.InvalidateAll()
	return proto.SuccessStatus(), nil
}

func (r *Router) InvalidateMatchedSchemaCache(ctx context.Context, req *proto.InvalidateMatchedSchemaCacheRequest) (*proto.Status, error) {
	tree, err := pathtree.Deserialize(req.PathPatternTree)
	if err != nil {
		return apierrors.StatusOf(apierrors.NewDecodeError("path pattern tree", err)), nil
	}
	n := r.schemas.InvalidateMatched(tree)
	trace.SpanFromContextSafe(ctx).Debugf("invalidated %d cached series of %v", n, tree.Patterns())
	return proto.SuccessStatus(), nil
}

func (r *Router) InvalidatePermissionCache(ctx context.Context, req *proto.InvalidatePermissionCacheRequest) (*proto.Status, error) {
	if err := r.permissions.Invalidate(req.Username, req.RoleName); err != nil {
		return apierrors.StatusOf(err), nil
	}
	return proto.SuccessStatus(), nil
}

func (r *Router) UpdateRegionCache(ctx context.Context, req *proto.RegionRouteRequest) (*proto.Status, error) {
	if err := r.partitions.Update(req.Timestamp, req.Routes); err != nil {
		trace.SpanFromContextSafe(ctx).Warnf("update region routes of %d failed: %s", req.Timestamp, err)
		return apierrors.StatusOf(err), nil
	}
	return proto.SuccessStatus(), nil
}

// PermissionFill carries the users and roles the cluster manager feeds to the node.
type PermissionFill struct {
	Users []*cache.User `json:"users"`
	Roles []*cache.Role `json:"roles"`
}

// FillPermissionCache stores the users and roles of fill. Entries without a
// name are rejected before anything is stored.
func (r *Router) FillPermissionCache(ctx context.Context, fill *PermissionFill) error {
	for _, u := range fill.Users {
		if u == nil || u.Name == "" {
			return apierrors.NewDecodeError("permission user", errors.New("user without name"))
		}
	}
	for _, role := range fill.Roles {
		if role == nil || role.Name == "" {
			return apierrors.NewDecodeError("permission role", errors.New("role without name"))
		}
	}
	for _, role := range fill.Roles {
		r.permissions.PutRole(role)
	}
	for _, u := range fill.Users {
		r.permissions.PutUser(u)
	}
	trace.SpanFromContextSafe(ctx).Debugf("filled %d users and %d roles", len(fill.Users), len(fill.Roles))
	return nil
}

func (r *Router) UpdateTemplate(ctx context.Context, req *proto.UpdateTemplateRequest) (*proto.Status, error) {
	if err := r.templates.Update(req.Type, &req.Info); err != nil {
		return apierrors.StatusOf(err), nil
	}
	return proto.SuccessStatus(), nil
}

// ClearCache drops the caches filled by reads, routes and templates are
// pushed by the cluster manager and stay.
func (r *Router) ClearCache(ctx context.Context, req *proto.EmptyRequest) (*proto.Status, error) {
	r.schemas.InvalidateAll()
	r.permissions.InvalidateAll()
	return proto.SuccessStatus(), nil
}

// DisableDataNode stops the node from routing with its caches before it is removed.
func (r *Router) DisableDataNode(ctx context.Context, req *proto.EmptyRequest) (*proto.Status, error) {
	r.partitions.InvalidateAll()
	r.schemas.InvalidateAll()
	trace.SpanFromContextSafe(ctx).Info("data node disabled, partition and schema caches cleared")
	return proto.SuccessStatus(), nil
}
