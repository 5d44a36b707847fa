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

// Package scatter sends one administrative request to many nodes at once
// and gathers one outcome per node.
package scatter

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	apierrors "github.com/cubefs/datanode/errors"
	"github.com/cubefs/datanode/proto"
	"github.com/zhangyunhao116/skipmap"
	"golang.org/x/time/rate"
)

const (
	defaultTimeoutMs       = 5000
	defaultCallTimeoutMs   = 30000
	defaultMaxRetryRounds  = 3
	defaultRetryIntervalMs = 200
)

type OutcomeKind uint8

const (
	OutcomeSuccess OutcomeKind = iota + 1
	OutcomeFailure
	// OutcomeTimeout means the target did not answer in time, its result is unknown.
	OutcomeTimeout
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

type Outcome struct {
	Kind   OutcomeKind
	Status *proto.Status
	Err    error
}

func (o Outcome) Succeeded() bool { return o.Kind == OutcomeSuccess }

type Request struct {
	Kind    proto.BroadcastKind
	Payload interface{}
}

// Sender delivers a request to one target and returns its status.
type Sender interface {
	Send(ctx context.Context, target proto.NodeLocation, req *Request) (*proto.Status, error)
}

type Config struct {
	TimeoutMs int `json:"timeout_ms" yaml:"timeout_ms"`
	// CallTimeoutMs bounds a single call, calls outlive the wait of the caller
	CallTimeoutMs   int `json:"call_timeout_ms" yaml:"call_timeout_ms"`
	MaxRetryRounds  int `json:"max_retry_rounds" yaml:"max_retry_rounds"`
	RetryIntervalMs int `json:"retry_interval_ms" yaml:"retry_interval_ms"`
}

func (cfg *Config) init() {
	if cfg.TimeoutMs <= 0 {
		cfg.TimeoutMs = defaultTimeoutMs
	}
	if cfg.CallTimeoutMs <= 0 {
		cfg.CallTimeoutMs = defaultCallTimeoutMs
	}
	if cfg.MaxRetryRounds <= 0 {
		cfg.MaxRetryRounds = defaultMaxRetryRounds
	}
	if cfg.RetryIntervalMs <= 0 {
		cfg.RetryIntervalMs = defaultRetryIntervalMs
	}
}

type Result struct {
	Outcomes map[proto.NodeID]Outcome
	// Rounds is the number of rounds sent
	Rounds int
}

// Succeeded reports whether every target succeeded.
func (r *Result) Succeeded() bool {
	for _, o := range r.Outcomes {
		if !o.Succeeded() {
			return false
		}
	}
	return true
}

// Unfinished returns the targets which failed or timed out.
func (r *Result) Unfinished() []proto.NodeID {
	var ret []proto.NodeID
	for id, o := range r.Outcomes {
		if !o.Succeeded() {
			ret = append(ret, id)
		}
	}
	return ret
}

type Invoker struct {
	lock   sync.RWMutex
	cfg    Config
	sender Sender
}

func NewInvoker(cfg Config, sender Sender) *Invoker {
	cfg.init()
	return &Invoker{cfg: cfg, sender: sender}
}

func (iv *Invoker) Config() Config {
	iv.lock.RLock()
	defer iv.lock.RUnlock()
	return iv.cfg
}

// SetConfig replaces the defaults of later broadcasts, zero fields fall back to defaults.
func (iv *Invoker) SetConfig(cfg Config) {
	cfg.init()
	iv.lock.Lock()
	iv.cfg = cfg
	iv.lock.Unlock()
}

// instance is the shared state of one broadcast, written by one goroutine per target.
type instance struct {
	outcomes *skipmap.OrderedMap[uint32, Outcome]
	pending  int64
	done     chan struct{}
}

func (in *instance) record(id proto.NodeID, o Outcome) {
	if _, loaded := in.outcomes.LoadOrStore(id, o); loaded {
		return
	}
	if atomic.AddInt64(&in.pending, -1) == 0 {
		close(in.done)
	}
}

// Broadcast sends req to every distinct target and waits until all of them
// answered, timeout elapsed or ctx is done. Targets without an answer are
// reported as OutcomeTimeout, their calls keep running.
func (iv *Invoker) Broadcast(ctx context.Context, req *Request, targets []proto.NodeLocation, timeout time.Duration) *Result {
	span := trace.SpanFromContextSafe(ctx)
	cfg := iv.Config()
	if timeout <= 0 {
		timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}
	targets = dedup(targets)

	in := &instance{
		outcomes: skipmap.New[uint32, Outcome](),
		pending:  int64(len(targets)),
		done:     make(chan struct{}),
	}
	if len(targets) == 0 {
		close(in.done)
	}
	for _, target := range targets {
		go func(target proto.NodeLocation) {
			_, callCtx := trace.StartSpanFromContextWithTraceID(context.Background(), "", span.TraceID())
			callCtx, cancel := context.WithTimeout(callCtx, time.Duration(cfg.CallTimeoutMs)*time.Millisecond)
			defer cancel()
			in.record(target.NodeID, outcomeOf(iv.sender.Send(callCtx, target, req)))
		}(target)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-in.done:
	case <-timer.C:
	case <-ctx.Done():
	}

	ret := &Result{Outcomes: make(map[proto.NodeID]Outcome, len(targets)), Rounds: 1}
	for _, target := range targets {
		o, ok := in.outcomes.Load(target.NodeID)
		if !ok {
			o = Outcome{Kind: OutcomeTimeout, Err: apierrors.ErrBroadcastTimeout}
		}
		ret.Outcomes[target.NodeID] = o
	}
	if !ret.Succeeded() {
		span.Warnf("broadcast %s unfinished on nodes %v", req.Kind, ret.Unfinished())
	}
	return ret
}

// BroadcastWithRetry broadcasts req for up to MaxRetryRounds rounds, every
// round after the first targets the nodes which failed or timed out only.
func (iv *Invoker) BroadcastWithRetry(ctx context.Context, req *Request, targets []proto.NodeLocation, timeout time.Duration, rounds int) *Result {
	cfg := iv.Config()
	if rounds <= 0 {
		rounds = cfg.MaxRetryRounds
	}
	targets = dedup(targets)
	byID := make(map[proto.NodeID]proto.NodeLocation, len(targets))
	for _, target := range targets {
		byID[target.NodeID] = target
	}

	// rounds are spaced by at least RetryIntervalMs
	limiter := rate.NewLimiter(rate.Every(time.Duration(cfg.RetryIntervalMs)*time.Millisecond), 1)
	final := &Result{Outcomes: make(map[proto.NodeID]Outcome, len(targets))}
	pending := targets
	for round := 1; round <= rounds && len(pending) > 0; round++ {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		ret := iv.Broadcast(ctx, req, pending, timeout)
		final.Rounds = round
		pending = pending[:0:0]
		for id, o := range ret.Outcomes {
			final.Outcomes[id] = o
			if !o.Succeeded() {
				pending = append(pending, byID[id])
			}
		}
	}
	for _, target := range targets {
		if _, ok := final.Outcomes[target.NodeID]; !ok {
			final.Outcomes[target.NodeID] = Outcome{Kind: OutcomeTimeout, Err: apierrors.ErrBroadcastTimeout}
		}
	}
	return final
}

func outcomeOf(status *proto.Status, err error) Outcome {
	if err != nil {
		return Outcome{Kind: OutcomeFailure, Status: apierrors.StatusOf(err), Err: err}
	}
	if !status.IsSuccess() {
		return Outcome{Kind: OutcomeFailure, Status: status}
	}
	return Outcome{Kind: OutcomeSuccess, Status: status}
}

func dedup(targets []proto.NodeLocation) []proto.NodeLocation {
	seen := make(map[proto.NodeID]struct{}, len(targets))
	ret := make([]proto.NodeLocation, 0, len(targets))
	for _, target := range targets {
		if _, ok := seen[target.NodeID]; ok {
			continue
		}
		seen[target.NodeID] = struct{}{}
		ret = append(ret, target)
	}
	return ret
}
