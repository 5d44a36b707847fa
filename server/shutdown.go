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

package server

import (
	"sync"
	"time"
)

// shutdownTimer is the delayed termination of the node. Requests keep being
// served until it fires.
type shutdownTimer struct {
	lock  sync.Mutex
	timer *time.Timer
	// gen tells a stale timer callback from the armed one
	gen   uint64
	fired bool
	done  chan struct{}
}

func newShutdownTimer() *shutdownTimer {
	return &shutdownTimer{done: make(chan struct{})}
}

// Schedule arms the timer, it returns false when the timer is already armed or fired.
func (t *shutdownTimer) Schedule(grace time.Duration) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.timer != nil || t.fired {
		return false
	}
	t.gen++
	gen := t.gen
	t.timer = time.AfterFunc(grace, func() { t.fire(gen) })
	return true
}

func (t *shutdownTimer) fire(gen uint64) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.fired || t.timer == nil || t.gen != gen {
		return
	}
	t.fired = true
	close(t.done)
}

// Cancel disarms a scheduled timer which has not fired yet.
func (t *shutdownTimer) Cancel() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.timer == nil || t.fired {
		return false
	}
	t.timer.Stop()
	t.timer = nil
	return true
}

// Fire terminates at once, e.g. on a signal.
func (t *shutdownTimer) Fire() {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.fired {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.fired = true
	close(t.done)
}

func (t *shutdownTimer) Scheduled() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.timer != nil && !t.fired
}

func (t *shutdownTimer) Done() <-chan struct{} {
	return t.done
}
