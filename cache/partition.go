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

// Package cache holds the node level caches invalidated by the cluster
// manager: region routes, series schemas, permissions and templates.
package cache

import (
	"errors"
	"strconv"
	"sync"

	"github.com/zhangyunhao116/skipmap"

	apierrors "github.com/cubefs/datanode/errors"
	"github.com/cubefs/datanode/proto"
)

// routeTable is immutable once published, an update builds a new one.
type routeTable struct {
	routes     *skipmap.OrderedMap[uint64, *proto.RegionRoute]
	namespaces *skipmap.StringMap[[]proto.ConsensusGroupID]
}

func newRouteTable() *routeTable {
	return &routeTable{
		routes:     skipmap.New[uint64, *proto.RegionRoute](),
		namespaces: skipmap.NewString[[]proto.ConsensusGroupID](),
	}
}

// PartitionCache keeps the latest region route table pushed by the cluster manager.
type PartitionCache struct {
	lock      sync.RWMutex
	timestamp int64
	table     *routeTable
}

func NewPartitionCache() *PartitionCache {
	return &PartitionCache{table: newRouteTable()}
}

// Update replaces the route table unless timestamp is older than the one in use.
// A nil route rejects the whole table.
func (c *PartitionCache) Update(timestamp int64, routes []*proto.RegionRoute) error {
	table := newRouteTable()
	for i, route := range routes {
		if route == nil {
			return apierrors.NewDecodeError("region route", errors.New("nil route at index "+strconv.Itoa(i)))
		}
		table.routes.Store(route.GroupID.RaftID(), route)
		gids, _ := table.namespaces.Load(route.Namespace)
		table.namespaces.Store(route.Namespace, append(gids, route.GroupID))
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	if timestamp < c.timestamp {
		return apierrors.ErrStaleRoute
	}
	c.timestamp = timestamp
	c.table = table
	return nil
}

func (c *PartitionCache) current() *routeTable {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.table
}

func (c *PartitionCache) Get(gid proto.ConsensusGroupID) (*proto.RegionRoute, bool) {
	return c.current().routes.Load(gid.RaftID())
}

func (c *PartitionCache) GroupsOf(namespace string) []proto.ConsensusGroupID {
	gids, _ := c.current().namespaces.Load(namespace)
	return append([]proto.ConsensusGroupID(nil), gids...)
}

// InvalidateAll drops every route, the timestamp is kept so older routes stay rejected.
func (c *PartitionCache) InvalidateAll() {
	c.lock.Lock()
	c.table = newRouteTable()
	c.lock.Unlock()
}

func (c *PartitionCache) Len() int {
	return c.current().routes.Len()
}
