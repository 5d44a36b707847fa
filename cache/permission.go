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
	"github.com/zhangyunhao116/skipmap"

	apierrors "github.com/cubefs/datanode/errors"
)

type Role struct {
	Name       string   `json:"name"`
	Privileges []string `json:"privileges"`
}

type User struct {
	Name       string   `json:"name"`
	Roles      []string `json:"roles"`
	Privileges []string `json:"privileges"`
}

// PermissionCache stores users and roles fed by the cluster manager through
// the admin endpoint. It does not authorize anything.
type PermissionCache struct {
	users *skipmap.StringMap[*User]
	roles *skipmap.StringMap[*Role]
}

func NewPermissionCache() *PermissionCache {
	return &PermissionCache{
		users: skipmap.NewString[*User](),
		roles: skipmap.NewString[*Role](),
	}
}

func (c *PermissionCache) PutUser(u *User) {
	c.users.Store(u.Name, u)
}

func (c *PermissionCache) PutRole(r *Role) {
	c.roles.Store(r.Name, r)
}

func (c *PermissionCache) User(name string) (*User, bool) {
	return c.users.Load(name)
}

func (c *PermissionCache) Role(name string) (*Role, bool) {
	return c.roles.Load(name)
}

// Invalidate evicts the user and the role. Evicting a role also evicts the
// users granted with it.
func (c *PermissionCache) Invalidate(username, roleName string) error {
	if username == "" && roleName == "" {
		return apierrors.ErrInvalidateNoSubject
	}
	if username != "" {
		c.users.Delete(username)
	}
	if roleName != "" {
		c.roles.Delete(roleName)
		c.users.Range(func(name string, u *User) bool {
			for _, r := range u.Roles {
				if r == roleName {
					c.users.Delete(name)
					break
				}
			}
			return true
		})
	}
	return nil
}

func (c *PermissionCache) InvalidateAll() {
	c.users.Range(func(name string, _ *User) bool {
		c.users.Delete(name)
		return true
	})
	c.roles.Range(func(name string, _ *Role) bool {
		c.roles.Delete(name)
		return true
	})
}
