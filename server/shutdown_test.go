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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func isDone(t *shutdownTimer) bool {
	select {
	case <-t.Done():
		return true
	default:
		return false
	}
}

func TestShutdownTimerFires(t *testing.T) {
	timer := newShutdownTimer()
	require.False(t, timer.Scheduled())
	require.True(t, timer.Schedule(20*time.Millisecond))
	require.True(t, timer.Scheduled())
	require.False(t, timer.Schedule(time.Millisecond))

	require.Eventually(t, func() bool { return isDone(timer) }, time.Second, 5*time.Millisecond)
	require.False(t, timer.Scheduled())
	require.False(t, timer.Cancel())
	require.False(t, timer.Schedule(time.Millisecond))
}

func TestShutdownTimerCancel(t *testing.T) {
	timer := newShutdownTimer()
	require.False(t, timer.Cancel())
	require.True(t, timer.Schedule(30*time.Millisecond))
	require.True(t, timer.Cancel())
	require.False(t, timer.Scheduled())

	time.Sleep(60 * time.Millisecond)
	require.False(t, isDone(timer))

	// armed again after a cancel
	require.True(t, timer.Schedule(time.Hour))
	timer.Fire()
	require.True(t, isDone(timer))
	timer.Fire()
}
