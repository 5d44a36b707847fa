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

package region

import (
	"context"
	"sync"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	apierrors "github.com/cubefs/datanode/errors"
	"github.com/cubefs/datanode/proto"
)

// Directory owns the regions of this node, at most one per consensus group.
type Directory struct {
	factory Factory

	// createLock linearizes create and delete, lookups only take the map lock.
	createLock sync.Mutex
	lock       sync.RWMutex
	regions    map[proto.ConsensusGroupID]Region
}

func NewDirectory(factory Factory) *Directory {
	return &Directory{
		factory: factory,
		regions: make(map[proto.ConsensusGroupID]Region),
	}
}

func (d *Directory) Factory() Factory {
	return d.factory
}

// CreateOrGet returns the region of gid, creating it when absent. Concurrent
// callers of the same gid observe the same instance.
func (d *Directory) CreateOrGet(ctx context.Context, gid proto.ConsensusGroupID, namespace string) (Region, error) {
	if !gid.Supported() {
		return nil, apierrors.ErrUnsupportedGroupType
	}
	if r, err := d.Get(gid); err == nil {
		return d.checkNamespace(r, namespace)
	}

	d.createLock.Lock()
	defer d.createLock.Unlock()
	if r, err := d.Get(gid); err == nil {
		return d.checkNamespace(r, namespace)
	}

	span := trace.SpanFromContextSafe(ctx)
	r, err := d.factory.New(ctx, gid, namespace)
	if err != nil {
		span.Errorf("create region[%s] failed: %s", gid, err)
		return nil, err
	}
	d.lock.Lock()
	d.regions[gid] = r
	d.lock.Unlock()
	span.Infof("region[%s] of %s created with %s backing", gid, namespace, d.factory.Kind())
	return r, nil
}

func (d *Directory) checkNamespace(r Region, namespace string) (Region, error) {
	if namespace != "" && r.Namespace() != "" && r.Namespace() != namespace {
		return nil, apierrors.ErrNamespaceMismatch
	}
	return r, nil
}

func (d *Directory) Get(gid proto.ConsensusGroupID) (Region, error) {
	d.lock.RLock()
	r, ok := d.regions[gid]
	d.lock.RUnlock()
	if !ok {
		return nil, apierrors.ErrRegionNotFound
	}
	return r, nil
}

// Delete removes the region and its local files. An absent region is
// reported as ErrRegionNotFound.
func (d *Directory) Delete(ctx context.Context, gid proto.ConsensusGroupID) error {
	d.createLock.Lock()
	defer d.createLock.Unlock()

	d.lock.Lock()
	r, ok := d.regions[gid]
	if ok {
		delete(d.regions, gid)
	}
	d.lock.Unlock()
	if !ok {
		return apierrors.ErrRegionNotFound
	}

	if dr, ok := r.(destroyer); ok {
		if err := dr.destroy(ctx); err != nil {
			return err
		}
	} else {
		r.Close()
	}
	trace.SpanFromContextSafe(ctx).Infof("region[%s] deleted", gid)
	return nil
}

// List returns a snapshot of the registered regions.
func (d *Directory) List() []Region {
	d.lock.RLock()
	defer d.lock.RUnlock()
	ret := make([]Region, 0, len(d.regions))
	for _, r := range d.regions {
		ret = append(ret, r)
	}
	return ret
}

// Close closes every region without removing its files.
func (d *Directory) Close() {
	d.createLock.Lock()
	defer d.createLock.Unlock()
	d.lock.Lock()
	defer d.lock.Unlock()
	for gid, r := range d.regions {
		r.Close()
		delete(d.regions, gid)
	}
}
