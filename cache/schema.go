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

package cache

import (
	"sync"

	"github.com/cubefs/datanode/pathtree"
	"github.com/cubefs/datanode/proto"
	art "github.com/plar/go-adaptive-radix-tree"
)

// SchemaCache indexes series schemas by full path in an adaptive radix tree.
type SchemaCache struct {
	lock sync.RWMutex
	tree art.Tree
}

func NewSchemaCache() *SchemaCache {
	return &SchemaCache{tree: art.New()}
}

func (c *SchemaCache) Put(series ...*proto.SeriesSchema) {
	c.lock.Lock()
	defer c.lock.Unlock()
	for _, s := range series {
		c.tree.Insert(art.Key(s.Path), s)
	}
}

func (c *SchemaCache) Get(path string) (*proto.SeriesSchema, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	v, found := c.tree.Search(art.Key(path))
	if !found {
		return nil, false
	}
	return v.(*proto.SeriesSchema), true
}

// InvalidateAll swaps in an empty index.
func (c *SchemaCache) InvalidateAll() {
	c.lock.Lock()
	c.tree = art.New()
	c.lock.Unlock()
}

// InvalidateMatched evicts every entry matched by tree and returns the
// evicted count. Readers wait for the whole pass.
func (c *SchemaCache) InvalidateMatched(tree *pathtree.PathPatternTree) int {
	c.lock.Lock()
	defer c.lock.Unlock()

	var keys []art.Key
	for _, pattern := range tree.Patterns() {
		c.tree.ForEachPrefix(art.Key(pathtree.PrefixOf(pattern)), func(node art.Node) bool {
			if node.Kind() == art.Leaf && tree.Match(string(node.Key())) {
				keys = append(keys, append(art.Key(nil), node.Key()...))
			}
			return true
		})
	}
	evicted := 0
	for _, key := range keys {
		if _, deleted := c.tree.Delete(key); deleted {
			evicted++
		}
	}
	return evicted
}

func (c *SchemaCache) Len() int {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.tree.Size()
}
