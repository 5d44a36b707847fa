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

// Package migration runs the replica migration steps of consensus groups in
// the background. A step never retries by itself, a failed task is
// resubmitted by the cluster manager.
package migration

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"
	"github.com/cubefs/cubefs/blobstore/util/taskpool"
	"github.com/cubefs/datanode/consensus"
	apierrors "github.com/cubefs/datanode/errors"
	"github.com/cubefs/datanode/proto"
	"github.com/cubefs/datanode/region"
	"github.com/google/btree"
	"github.com/google/uuid"
)

const (
	defaultConcurrency  = 4
	defaultStepTimeoutS = 60
	defaultRetentionS   = 3600
	defaultGCIntervalS  = 60
	finishedBTreeDegree = 8
)

type Regions interface {
	CreateOrGet(ctx context.Context, gid proto.ConsensusGroupID, namespace string) (region.Region, error)
	Get(gid proto.ConsensusGroupID) (region.Region, error)
	Delete(ctx context.Context, gid proto.ConsensusGroupID) error
}

type Planes interface {
	Plane(gid proto.ConsensusGroupID) (consensus.Consensus, error)
}

// PeerClient reaches the other data nodes.
type PeerClient interface {
	CreateNewRegionPeer(ctx context.Context, target proto.NodeLocation, req *proto.CreatePeerRequest) (*proto.Status, error)
	DeleteRegion(ctx context.Context, target proto.NodeLocation, req *proto.DeleteRegionRequest) (*proto.Status, error)
}

type Config struct {
	Concurrency  int `json:"concurrency"`
	StepTimeoutS int `json:"step_timeout_s"`
	RetentionS   int `json:"retention_s"`
	GCIntervalS  int `json:"gc_interval_s"`

	Local   proto.NodeLocation `json:"-"`
	Regions Regions            `json:"-"`
	Planes  Planes             `json:"-"`
	Client  PeerClient         `json:"-"`
}

func initConfig(cfg *Config) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.StepTimeoutS <= 0 {
		cfg.StepTimeoutS = defaultStepTimeoutS
	}
	if cfg.RetentionS <= 0 {
		cfg.RetentionS = defaultRetentionS
	}
	if cfg.GCIntervalS <= 0 {
		cfg.GCIntervalS = defaultGCIntervalS
	}
}

type Coordinator struct {
	cfg      Config
	taskPool taskpool.TaskPool

	lock     sync.RWMutex
	tasks    map[string]*Task
	active   map[taskKey]*Task
	attempts map[taskKey]int
	// finished orders terminal tasks by finish time for collection
	finished *btree.BTreeG[*Task]

	// poolLock keeps the task pool open while submitting
	poolLock sync.RWMutex
	closed   bool
	done     chan struct{}
}

func NewCoordinator(cfg Config) *Coordinator {
	initConfig(&cfg)
	c := &Coordinator{
		cfg:      cfg,
		taskPool: taskpool.New(cfg.Concurrency, cfg.Concurrency),
		tasks:    make(map[string]*Task),
		active:   make(map[taskKey]*Task),
		attempts: make(map[taskKey]int),
		finished: btree.NewG[*Task](finishedBTreeDegree, func(a, b *Task) bool {
			ta, tb := a.finishedTime(), b.finishedTime()
			if ta.Equal(tb) {
				return a.ID < b.ID
			}
			return ta.Before(tb)
		}),
		done: make(chan struct{}),
	}
	go c.gcLoop()
	return c
}

// SubmitAddReplica admits destination into the group, creating its region
// first. The task id is returned with whether the task was accepted.
func (c *Coordinator) SubmitAddReplica(ctx context.Context, gid proto.ConsensusGroupID, destination proto.NodeLocation) (string, bool) {
	return c.submit(ctx, AddReplica, gid, destination)
}

// SubmitRemoveReplica removes source from the group membership.
func (c *Coordinator) SubmitRemoveReplica(ctx context.Context, gid proto.ConsensusGroupID, source proto.NodeLocation) (string, bool) {
	return c.submit(ctx, RemoveReplica, gid, source)
}

// SubmitDeleteOldReplica tears down the replica of source once it left the group.
func (c *Coordinator) SubmitDeleteOldReplica(ctx context.Context, gid proto.ConsensusGroupID, source proto.NodeLocation) (string, bool) {
	return c.submit(ctx, DeleteOldReplica, gid, source)
}

func (c *Coordinator) submit(ctx context.Context, typ TaskType, gid proto.ConsensusGroupID, node proto.NodeLocation) (string, bool) {
	span := trace.SpanFromContextSafe(ctx)
	c.poolLock.RLock()
	defer c.poolLock.RUnlock()
	if c.closed {
		return "", false
	}

	key := taskKey{typ: typ, gid: gid, node: node.NodeID}
	c.lock.Lock()
	if exist, ok := c.active[key]; ok {
		c.lock.Unlock()
		return exist.ID, true
	}
	task := newTask(uuid.NewString(), typ, gid, node, c.attempts[key]+1)
	c.tasks[task.ID] = task
	c.active[key] = task
	c.attempts[key] = task.Attempt
	c.lock.Unlock()

	traceID := span.TraceID()
	if !c.taskPool.TryRun(func() {
		span, ctx := trace.StartSpanFromContextWithTraceID(context.Background(), "", traceID)
		c.execute(ctx, task)
		span.Infof("migration task %s of %s finished in state %s", task.ID, task.GroupID, task.State())
	}) {
		c.lock.Lock()
		delete(c.tasks, task.ID)
		delete(c.active, key)
		c.attempts[key]--
		c.lock.Unlock()
		span.Warnf("migration task pool is full, reject %s of %s", typ, gid)
		return "", false
	}
	span.Infof("migration task %s submitted, type: %s, group: %s, node: %d", task.ID, typ, gid, node.NodeID)
	return task.ID, true
}

func (c *Coordinator) execute(ctx context.Context, task *Task) {
	var err error
	switch task.Type {
	case AddReplica:
		err = c.addReplica(ctx, task)
	case RemoveReplica:
		err = c.removeReplica(ctx, task)
	case DeleteOldReplica:
		err = c.deleteOldReplica(ctx, task)
	default:
		err = apierrors.ErrUnsupportedOperation
	}
	if err != nil {
		trace.SpanFromContext(ctx).Warnf("migration task %s failed: %s", task.ID, errors.Detail(err))
		task.transit(Failed, err.Error())
	} else {
		task.transit(Completed, "")
	}
	c.finish(task)
}

func (c *Coordinator) finish(task *Task) {
	c.lock.Lock()
	delete(c.active, task.key())
	c.finished.ReplaceOrInsert(task)
	c.lock.Unlock()
}

func (c *Coordinator) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, time.Duration(c.cfg.StepTimeoutS)*time.Second)
}

func (c *Coordinator) addReplica(ctx context.Context, task *Task) error {
	plane, err := c.cfg.Planes.Plane(task.GroupID)
	if err != nil {
		return err
	}
	r, err := c.cfg.Regions.Get(task.GroupID)
	if err != nil {
		return err
	}
	peers, err := plane.Peers(task.GroupID)
	if err != nil {
		return err
	}
	dest := proto.NewPeer(task.GroupID, task.Node)

	stepCtx, cancel := c.stepContext(ctx)
	defer cancel()
	if task.Node.NodeID == c.cfg.Local.NodeID {
		if _, err = c.cfg.Regions.CreateOrGet(stepCtx, task.GroupID, r.Namespace()); err != nil {
			return err
		}
		if err = plane.JoinPeer(stepCtx, task.GroupID, append(peers, dest)); err != nil && err != apierrors.ErrGroupAlreadyExist {
			return err
		}
	} else {
		locations := make([]proto.NodeLocation, 0, len(peers)+1)
		for _, p := range peers {
			locations = append(locations, locationOf(p))
		}
		locations = append(locations, task.Node)
		st, err := c.cfg.Client.CreateNewRegionPeer(stepCtx, task.Node, &proto.CreatePeerRequest{
			GroupID:   task.GroupID,
			Namespace: r.Namespace(),
			TTL:       r.TTL(),
			Locations: locations,
		})
		if err != nil {
			return err
		}
		if !st.IsSuccess() {
			return apierrors.FromStatus(st)
		}
	}
	task.transit(RegionCreated, "")

	stepCtx, cancel = c.stepContext(ctx)
	defer cancel()
	if err = plane.AddPeer(stepCtx, task.GroupID, dest); err != nil && !apierrors.IsMembershipNoOp(err) {
		return err
	}
	task.transit(PeerAdded, "")
	return nil
}

func (c *Coordinator) removeReplica(ctx context.Context, task *Task) error {
	plane, err := c.cfg.Planes.Plane(task.GroupID)
	if err != nil {
		return err
	}
	stepCtx, cancel := c.stepContext(ctx)
	defer cancel()
	// an absent peer is already removed
	if err = plane.RemovePeer(stepCtx, task.GroupID, proto.NewPeer(task.GroupID, task.Node)); err != nil && !apierrors.IsMembershipNoOp(err) {
		return err
	}
	task.transit(OldPeerRemoved, "")
	return nil
}

func (c *Coordinator) deleteOldReplica(ctx context.Context, task *Task) error {
	plane, err := c.cfg.Planes.Plane(task.GroupID)
	if err != nil {
		return err
	}
	stepCtx, cancel := c.stepContext(ctx)
	defer cancel()
	if task.Node.NodeID == c.cfg.Local.NodeID {
		if err = plane.DeletePeer(stepCtx, task.GroupID); err != nil && !apierrors.IsNotFound(err) {
			return err
		}
		if err = c.cfg.Regions.Delete(stepCtx, task.GroupID); err != nil && !apierrors.IsNotFound(err) {
			return err
		}
	} else {
		st, err := c.cfg.Client.DeleteRegion(stepCtx, task.Node, &proto.DeleteRegionRequest{GroupID: task.GroupID})
		if err != nil {
			return err
		}
		if !st.IsSuccess() && st.Code != proto.CodeRegionNotFound {
			return apierrors.FromStatus(st)
		}
	}
	task.transit(OldPeerDeleted, "")
	return nil
}

func (c *Coordinator) Get(id string) (*Task, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	task, ok := c.tasks[id]
	if !ok {
		return nil, apierrors.ErrTaskNotFound
	}
	return task, nil
}

// ListByGroup returns the tasks of gid ordered by creation.
func (c *Coordinator) ListByGroup(gid proto.ConsensusGroupID) []*Task {
	return c.list(func(t *Task) bool { return t.GroupID == gid })
}

func (c *Coordinator) List() []*Task {
	return c.list(func(*Task) bool { return true })
}

func (c *Coordinator) list(filter func(t *Task) bool) []*Task {
	c.lock.RLock()
	ret := make([]*Task, 0, len(c.tasks))
	for _, t := range c.tasks {
		if filter(t) {
			ret = append(ret, t)
		}
	}
	c.lock.RUnlock()
	sort.Slice(ret, func(i, j int) bool {
		if ret[i].CreatedAt.Equal(ret[j].CreatedAt) {
			return ret[i].ID < ret[j].ID
		}
		return ret[i].CreatedAt.Before(ret[j].CreatedAt)
	})
	return ret
}

// CountByState counts the known tasks per state.
func (c *Coordinator) CountByState() map[State]int {
	ret := make(map[State]int)
	c.lock.RLock()
	for _, t := range c.tasks {
		ret[t.State()]++
	}
	c.lock.RUnlock()
	return ret
}

func (c *Coordinator) gcLoop() {
	ticker := time.NewTicker(time.Duration(c.cfg.GCIntervalS) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.collect(time.Now().Add(-time.Duration(c.cfg.RetentionS) * time.Second))
		case <-c.done:
			return
		}
	}
}

// collect drops the terminal tasks finished before deadline.
func (c *Coordinator) collect(deadline time.Time) int {
	c.lock.Lock()
	defer c.lock.Unlock()
	n := 0
	for {
		task, ok := c.finished.Min()
		if !ok || !task.finishedTime().Before(deadline) {
			return n
		}
		c.finished.DeleteMin()
		delete(c.tasks, task.ID)
		if _, active := c.active[task.key()]; !active {
			delete(c.attempts, task.key())
		}
		n++
	}
}

func (c *Coordinator) Close() {
	c.poolLock.Lock()
	defer c.poolLock.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	c.taskPool.Close()
}

// locationOf builds the location of a peer from its consensus endpoint.
func locationOf(p proto.Peer) proto.NodeLocation {
	l := proto.NodeLocation{NodeID: p.NodeID}
	if p.GroupID.IsDataRegion() {
		l.DataRegionConsensusEndpoint = p.Endpoint
	} else {
		l.SchemaRegionConsensusEndpoint = p.Endpoint
	}
	return l
}
