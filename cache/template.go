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

	apierrors "github.com/cubefs/datanode/errors"
	"github.com/cubefs/datanode/proto"
	"golang.org/x/exp/slices"
)

// TemplateCache maps templates to the paths they are set on.
type TemplateCache struct {
	lock      sync.RWMutex
	templates map[proto.TemplateID]*proto.TemplateSetInfo
}

func NewTemplateCache() *TemplateCache {
	return &TemplateCache{templates: make(map[proto.TemplateID]*proto.TemplateSetInfo)}
}

func (c *TemplateCache) Update(typ proto.TemplateUpdateType, info *proto.TemplateSetInfo) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	switch typ {
	case proto.AddTemplateSetInfo:
		exist, ok := c.templates[info.TemplateID]
		if !ok {
			cp := *info
			cp.Paths = append([]string(nil), info.Paths...)
			c.templates[info.TemplateID] = &cp
			return nil
		}
		exist.TemplateName = info.TemplateName
		for _, p := range info.Paths {
			if !slices.Contains(exist.Paths, p) {
				exist.Paths = append(exist.Paths, p)
			}
		}
	case proto.InvalidateTemplateSetInfo:
		exist, ok := c.templates[info.TemplateID]
		if !ok {
			return nil
		}
		if len(info.Paths) == 0 {
			delete(c.templates, info.TemplateID)
			return nil
		}
		paths := exist.Paths[:0]
		for _, p := range exist.Paths {
			if !slices.Contains(info.Paths, p) {
				paths = append(paths, p)
			}
		}
		exist.Paths = paths
		if len(paths) == 0 {
			delete(c.templates, info.TemplateID)
		}
	default:
		return apierrors.ErrUnknownTemplateOp
	}
	return nil
}

func (c *TemplateCache) Get(id proto.TemplateID) (proto.TemplateSetInfo, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	t, ok := c.templates[id]
	if !ok {
		return proto.TemplateSetInfo{}, false
	}
	ret := *t
	ret.Paths = append([]string(nil), t.Paths...)
	return ret, true
}

func (c *TemplateCache) InvalidateAll() {
	c.lock.Lock()
	c.templates = make(map[proto.TemplateID]*proto.TemplateSetInfo)
	c.lock.Unlock()
}
