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

// Package router serves the internal rpc surface of the data node. It decodes
// requests, resolves the consensus groups they target and aggregates the
// results of multi group operations.
package router

import (
	"context"
	"sync"

	"github.com/cubefs/datanode/cache"
	"github.com/cubefs/datanode/consensus"
	"github.com/cubefs/datanode/migration"
	"github.com/cubefs/datanode/proto"
	"github.com/cubefs/datanode/region"
	"github.com/cubefs/datanode/scatter"
)

const defaultParallelism = 8

type Regions interface {
	CreateOrGet(ctx context.Context, gid proto.ConsensusGroupID, namespace string) (region.Region, error)
	Get(gid proto.ConsensusGroupID) (region.Region, error)
	Delete(ctx context.Context, gid proto.ConsensusGroupID) error
	List() []region.Region
}

type LoadSampler interface {
	Sample() (cpu int32, memory int32)
}

type Config struct {
	Local proto.NodeLocation
	// Parallelism bounds the regions flushed or merged at the same time
	Parallelism int

	Regions   Regions
	Consensus *consensus.Facade
	Migration *migration.Coordinator
	Invoker   *scatter.Invoker
	Sampler   LoadSampler

	// Reload re-reads the hot configuration of the node
	Reload func(ctx context.Context) error
	// Stop schedules the graceful shutdown of the node
	Stop func(ctx context.Context) error
}

type Router struct {
	cfg Config

	partitions  *cache.PartitionCache
	schemas     *cache.SchemaCache
	permissions *cache.PermissionCache
	templates   *cache.TemplateCache

	lock        sync.RWMutex
	status      proto.NodeStatus
	configNodes []proto.ConfigNodeLocation
}

func NewRouter(cfg *Config) *Router {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = defaultParallelism
	}
	return &Router{
		cfg:         *cfg,
		partitions:  cache.NewPartitionCache(),
		schemas:     cache.NewSchemaCache(),
		permissions: cache.NewPermissionCache(),
		templates:   cache.NewTemplateCache(),
		status:      proto.NodeStatusRunning,
	}
}

func (r *Router) Status() proto.NodeStatus {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.status
}

func (r *Router) setStatus(status proto.NodeStatus) {
	r.lock.Lock()
	r.status = status
	r.lock.Unlock()
}

func (r *Router) ConfigNodes() []proto.ConfigNodeLocation {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return append([]proto.ConfigNodeLocation(nil), r.configNodes...)
}

func (r *Router) PartitionCache() *cache.PartitionCache   { return r.partitions }
func (r *Router) SchemaCache() *cache.SchemaCache         { return r.schemas }
func (r *Router) PermissionCache() *cache.PermissionCache { return r.permissions }
func (r *Router) TemplateCache() *cache.TemplateCache     { return r.templates }

var _ proto.InternalServiceServer = (*Router)(nil)
