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
	errorsx "github.com/cubefs/cubefs/blobstore/util/errors"
	apierrors "github.com/cubefs/datanode/errors"
	"github.com/cubefs/datanode/proto"
)

func (r *Router) CreateSchemaRegion(ctx context.Context, req *proto.CreateSchemaRegionRequest) (*proto.Status, error) {
	if !req.ReplicaSet.GroupID.IsSchemaRegion() {
		return apierrors.StatusOf(apierrors.ErrUnsupportedGroupType), nil
	}
	return r.createRegion(ctx, req.ReplicaSet, req.Namespace, 0), nil
}

func (r *Router) CreateDataRegion(ctx context.Context, req *proto.CreateDataRegionRequest) (*proto.Status, error) {
	if !req.ReplicaSet.GroupID.IsDataRegion() {
		return apierrors.StatusOf(apierrors.ErrUnsupportedGroupType), nil
	}
	return r.createRegion(ctx, req.ReplicaSet, req.Namespace, req.TTL), nil
}

// createRegion registers the region and bootstraps its consensus group with
// every replica. Creating an existing region again succeeds.
func (r *Router) createRegion(ctx context.Context, rs proto.ReplicaSet, namespace string, ttl proto.TTL) *proto.Status {
	span := trace.SpanFromContextSafe(ctx)
	gid := rs.GroupID
	plane, err := r.cfg.Consensus.Plane(gid)
	if err != nil {
		return apierrors.StatusOf(err)
	}
	_, err = r.cfg.Regions.Get(gid)
	existed := err == nil
	reg, err := r.cfg.Regions.CreateOrGet(ctx, gid, namespace)
	if err != nil {
		span.Errorf("create region %s failed: %s", gid, errorsx.Detail(err))
		return createFailed(err)
	}
	if ttl > 0 {
		reg.SetTTL(ttl)
	}
	if err = plane.CreatePeer(ctx, gid, rs.Peers()); err != nil && !errors.Is(err, apierrors.ErrGroupAlreadyExist) {
		span.Errorf("create consensus peer of %s failed: %s", gid, errorsx.Detail(err))
		r.dropCreated(ctx, gid, existed)
		return createFailed(err)
	}
	span.Infof("region %s of %s created with %d replicas", gid, namespace, len(rs.Locations))
	return proto.SuccessStatus()
}

// dropCreated removes a region registered by a failed creation.
func (r *Router) dropCreated(ctx context.Context, gid proto.ConsensusGroupID, existed bool) {
	if existed {
		return
	}
	if err := r.cfg.Regions.Delete(ctx, gid); err != nil {
		trace.SpanFromContextSafe(ctx).Warnf("drop region %s after failed creation: %s", gid, err)
	}
}

func createFailed(err error) *proto.Status {
	if errors.Is(err, apierrors.ErrUnsupportedGroupType) {
		return apierrors.StatusOf(err)
	}
	return proto.NewStatus(proto.CodeCreateRegionError, err.Error())
}

// DeleteRegion tears down the local consensus peer and the region. An absent
// region is reported as REGION_NOT_FOUND.
func (r *Router) DeleteRegion(ctx context.Context, req *proto.DeleteRegionRequest) (*proto.Status, error) {
	span := trace.SpanFromContextSafe(ctx)
	gid := req.GroupID
	plane, err := r.cfg.Consensus.Plane(gid)
	if err != nil {
		return apierrors.StatusOf(err), nil
	}
	if _, err = r.cfg.Regions.Get(gid); err != nil {
		return apierrors.StatusOf(err), nil
	}
	if err = plane.DeletePeer(ctx, gid); err != nil && !apierrors.IsNotFound(err) {
		span.Errorf("delete consensus peer of %s failed: %s", gid, errorsx.Detail(err))
		return proto.NewStatus(proto.CodeDeleteRegionError, err.Error()), nil
	}
	if err = r.cfg.Regions.Delete(ctx, gid); err != nil {
		if apierrors.IsNotFound(err) {
			return apierrors.StatusOf(err), nil
		}
		span.Errorf("delete region %s failed: %s", gid, errorsx.Detail(err))
		return proto.NewStatus(proto.CodeDeleteRegionError, err.Error()), nil
	}
	return proto.SuccessStatus(), nil
}

// CreateNewRegionPeer prepares an empty replica which catches up once the
// leader admits it.
func (r *Router) CreateNewRegionPeer(ctx context.Context, req *proto.CreatePeerRequest) (*proto.Status, error) {
	span := trace.SpanFromContextSafe(ctx)
	gid := req.GroupID
	plane, err := r.cfg.Consensus.Plane(gid)
	if err != nil {
		return apierrors.StatusOf(err), nil
	}
	_, err = r.cfg.Regions.Get(gid)
	existed := err == nil
	reg, err := r.cfg.Regions.CreateOrGet(ctx, gid, req.Namespace)
	if err != nil {
		return createFailed(err), nil
	}
	if req.TTL > 0 {
		reg.SetTTL(req.TTL)
	}
	rs := proto.ReplicaSet{GroupID: gid, Locations: req.Locations}
	if err = plane.JoinPeer(ctx, gid, rs.Peers()); err != nil && !errors.Is(err, apierrors.ErrGroupAlreadyExist) {
		span.Errorf("join consensus group %s failed: %s", gid, errorsx.Detail(err))
		r.dropCreated(ctx, gid, existed)
		return createFailed(err), nil
	}
	return proto.SuccessStatus(), nil
}
