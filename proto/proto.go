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

package proto

const (
	ReqIdKey = "req-id"

	// PathSeparator separates the nodes of a series path, e.g. root.sg.d1.s1
	PathSeparator = "."
	PathRoot      = "root"
	// OneLevelWildcard matches exactly one path node, MultiLevelWildcard matches one or more.
	OneLevelWildcard   = "*"
	MultiLevelWildcard = "**"
)

type (
	NodeID     = uint32
	RegionID   = int32
	TTL        = int64
	TemplateID = int32
)

type NodeStatus string

const (
	NodeStatusRunning  = NodeStatus("Running")
	NodeStatusReadOnly = NodeStatus("ReadOnly")
	NodeStatusRemoving = NodeStatus("Removing")
	NodeStatusUnknown  = NodeStatus("Unknown")
)

func (s NodeStatus) Valid() bool {
	switch s {
	case NodeStatusRunning, NodeStatusReadOnly, NodeStatusRemoving, NodeStatusUnknown:
		return true
	default:
		return false
	}
}
