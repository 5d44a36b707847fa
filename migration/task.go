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

package migration

import (
	"sync"
	"time"

	"github.com/cubefs/datanode/proto"
)

type TaskType uint8

const (
	AddReplica TaskType = iota + 1
	RemoveReplica
	DeleteOldReplica
)

func (t TaskType) String() string {
	switch t {
	case AddReplica:
		return "ADD_REPLICA"
	case RemoveReplica:
		return "REMOVE_REPLICA"
	case DeleteOldReplica:
		return "DELETE_OLD_REPLICA"
	default:
		return "UNKNOWN"
	}
}

// State values are ordered, a task only moves to a greater state.
type State uint8

const (
	Pending State = iota + 1
	RegionCreated
	PeerAdded
	OldPeerRemoved
	OldPeerDeleted
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case RegionCreated:
		return "REGION_CREATED"
	case PeerAdded:
		return "PEER_ADDED"
	case OldPeerRemoved:
		return "OLD_PEER_REMOVED"
	case OldPeerDeleted:
		return "OLD_PEER_DELETED"
	case Completed:
		return "COMPLETED"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

func (s State) Terminal() bool {
	return s == Completed || s == Failed
}

type taskKey struct {
	typ  TaskType
	gid  proto.ConsensusGroupID
	node proto.NodeID
}

type Task struct {
	ID      string
	Type    TaskType
	GroupID proto.ConsensusGroupID
	// Node is the destination of ADD_REPLICA and the source otherwise
	Node      proto.NodeLocation
	Attempt   int
	CreatedAt time.Time

	lock       sync.RWMutex
	state      State
	history    []State
	message    string
	updatedAt  time.Time
	finishedAt time.Time
}

func newTask(id string, typ TaskType, gid proto.ConsensusGroupID, node proto.NodeLocation, attempt int) *Task {
	now := time.Now()
	return &Task{
		ID:        id,
		Type:      typ,
		GroupID:   gid,
		Node:      node,
		Attempt:   attempt,
		CreatedAt: now,
		state:     Pending,
		history:   []State{Pending},
		updatedAt: now,
	}
}

func (t *Task) key() taskKey {
	return taskKey{typ: t.Type, gid: t.GroupID, node: t.Node.NodeID}
}

func (t *Task) State() State {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.state
}

// History returns every state the task went through.
func (t *Task) History() []State {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return append([]State(nil), t.history...)
}

// transit moves the task forward, a terminal task never changes.
func (t *Task) transit(to State, msg string) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.state.Terminal() || (to != Failed && to <= t.state) {
		return false
	}
	t.state = to
	t.history = append(t.history, to)
	t.message = msg
	t.updatedAt = time.Now()
	if to.Terminal() {
		t.finishedAt = t.updatedAt
	}
	return true
}

func (t *Task) finishedTime() time.Time {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.finishedAt
}

func (t *Task) Info(coordinator proto.NodeID) *proto.MigrationTaskInfo {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return &proto.MigrationTaskInfo{
		ID:          t.ID,
		Type:        t.Type.String(),
		GroupID:     t.GroupID,
		Node:        t.Node,
		State:       t.state.String(),
		Attempt:     t.Attempt,
		Message:     t.message,
		CreatedAt:   t.CreatedAt.UnixMilli(),
		UpdatedAt:   t.updatedAt.UnixMilli(),
		Coordinator: coordinator,
	}
}
