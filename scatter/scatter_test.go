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

package scatter

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apierrors "github.com/cubefs/datanode/errors"
	"github.com/cubefs/datanode/proto"
	"github.com/stretchr/testify/require"
)

type mockSender struct {
	sync.Mutex
	// fail returns the number of rounds a node fails before it succeeds
	fail  map[proto.NodeID]int
	block map[proto.NodeID]chan struct{}
	calls map[proto.NodeID]int
	total int32
}

func newMockSender() *mockSender {
	return &mockSender{
		fail:  make(map[proto.NodeID]int),
		block: make(map[proto.NodeID]chan struct{}),
		calls: make(map[proto.NodeID]int),
	}
}

func (s *mockSender) Send(ctx context.Context, target proto.NodeLocation, req *Request) (*proto.Status, error) {
	atomic.AddInt32(&s.total, 1)
	s.Lock()
	s.calls[target.NodeID]++
	n := s.calls[target.NodeID]
	block := s.block[target.NodeID]
	fail := s.fail[target.NodeID]
	s.Unlock()

	if block != nil {
		<-block
	}
	if fail < 0 || n <= fail {
		return proto.NewStatus(proto.CodeCacheUpdateFail, "rejected"), nil
	}
	return proto.SuccessStatus(), nil
}

func (s *mockSender) callsOf(id proto.NodeID) int {
	s.Lock()
	defer s.Unlock()
	return s.calls[id]
}

func locations(ids ...proto.NodeID) []proto.NodeLocation {
	ret := make([]proto.NodeLocation, 0, len(ids))
	for _, id := range ids {
		ret = append(ret, proto.NodeLocation{NodeID: id})
	}
	return ret
}

func sortedIDs(ids []proto.NodeID) []proto.NodeID {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

var req = &Request{Kind: proto.BroadcastInvalidateSchemaCache}

func TestBroadcastOutcomes(t *testing.T) {
	s := newMockSender()
	s.fail[2] = -1
	s.fail[4] = -1
	iv := NewInvoker(Config{}, s)

	// duplicates are sent once
	ret := iv.Broadcast(context.Background(), req, locations(1, 2, 3, 4, 5, 1, 2), time.Minute)
	require.Len(t, ret.Outcomes, 5)
	require.Equal(t, int32(5), atomic.LoadInt32(&s.total))
	for id, o := range ret.Outcomes {
		if id == 2 || id == 4 {
			require.Equal(t, OutcomeFailure, o.Kind)
			require.Equal(t, proto.CodeCacheUpdateFail, o.Status.Code)
			continue
		}
		require.Equal(t, OutcomeSuccess, o.Kind)
	}
	require.False(t, ret.Succeeded())
	require.Equal(t, []proto.NodeID{2, 4}, sortedIDs(ret.Unfinished()))

	ret = iv.Broadcast(context.Background(), req, nil, time.Second)
	require.Len(t, ret.Outcomes, 0)
	require.True(t, ret.Succeeded())
}

func TestBroadcastUnblocksWhenAllRecorded(t *testing.T) {
	s := newMockSender()
	iv := NewInvoker(Config{}, s)
	start := time.Now()
	ret := iv.Broadcast(context.Background(), req, locations(1, 2, 3), time.Minute)
	require.True(t, ret.Succeeded())
	require.Less(t, time.Since(start), 10*time.Second)
}

func TestBroadcastTimeout(t *testing.T) {
	s := newMockSender()
	block := make(chan struct{})
	s.block[3] = block
	iv := NewInvoker(Config{}, s)

	ret := iv.Broadcast(context.Background(), req, locations(1, 2, 3), 50*time.Millisecond)
	require.Len(t, ret.Outcomes, 3)
	require.Equal(t, OutcomeTimeout, ret.Outcomes[3].Kind)
	require.ErrorIs(t, ret.Outcomes[3].Err, apierrors.ErrBroadcastTimeout)
	require.Equal(t, OutcomeSuccess, ret.Outcomes[1].Kind)

	// the late answer does not change the returned result
	close(block)
	require.Eventually(t, func() bool { return s.callsOf(3) == 1 }, time.Second, 10*time.Millisecond)
	require.Equal(t, OutcomeTimeout, ret.Outcomes[3].Kind)
}

func TestBroadcastContextDone(t *testing.T) {
	s := newMockSender()
	block := make(chan struct{})
	defer close(block)
	s.block[1] = block
	iv := NewInvoker(Config{}, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ret := iv.Broadcast(ctx, req, locations(1), time.Minute)
	require.Equal(t, OutcomeTimeout, ret.Outcomes[1].Kind)
}

func TestBroadcastWithRetry(t *testing.T) {
	s := newMockSender()
	s.fail[2] = 1
	s.fail[3] = -1
	iv := NewInvoker(Config{RetryIntervalMs: 1}, s)

	ret := iv.BroadcastWithRetry(context.Background(), req, locations(1, 2, 3), time.Minute, 3)
	require.Equal(t, 3, ret.Rounds)
	require.Len(t, ret.Outcomes, 3)
	require.Equal(t, OutcomeSuccess, ret.Outcomes[1].Kind)
	require.Equal(t, OutcomeSuccess, ret.Outcomes[2].Kind)
	require.Equal(t, OutcomeFailure, ret.Outcomes[3].Kind)
	require.Equal(t, []proto.NodeID{3}, ret.Unfinished())

	// succeeded nodes are never retargeted
	require.Equal(t, 1, s.callsOf(1))
	require.Equal(t, 2, s.callsOf(2))
	require.Equal(t, 3, s.callsOf(3))
}

func TestBroadcastWithRetryStopsOnSuccess(t *testing.T) {
	s := newMockSender()
	iv := NewInvoker(Config{}, s)
	ret := iv.BroadcastWithRetry(context.Background(), req, locations(1, 2), time.Minute, 0)
	require.Equal(t, 1, ret.Rounds)
	require.True(t, ret.Succeeded())
	require.Equal(t, defaultMaxRetryRounds, iv.Config().MaxRetryRounds)
}

type errSender struct{}

func (errSender) Send(ctx context.Context, target proto.NodeLocation, req *Request) (*proto.Status, error) {
	return nil, errors.New("connection refused")
}

func TestBroadcastSendError(t *testing.T) {
	iv := NewInvoker(Config{}, errSender{})
	ret := iv.Broadcast(context.Background(), req, locations(1), time.Minute)
	require.Equal(t, OutcomeFailure, ret.Outcomes[1].Kind)
	require.Equal(t, proto.CodeExecuteStatementError, ret.Outcomes[1].Status.Code)
}

func TestInvokerSetConfig(t *testing.T) {
	s := newMockSender()
	block := make(chan struct{})
	defer close(block)
	s.block[2] = block
	iv := NewInvoker(Config{}, s)

	iv.SetConfig(Config{TimeoutMs: 30, MaxRetryRounds: 2, RetryIntervalMs: 1})
	cfg := iv.Config()
	require.Equal(t, 30, cfg.TimeoutMs)
	require.Equal(t, defaultCallTimeoutMs, cfg.CallTimeoutMs)

	ret := iv.BroadcastWithRetry(context.Background(), req, locations(1, 2), 0, 0)
	require.Equal(t, 2, ret.Rounds)
	require.Equal(t, OutcomeSuccess, ret.Outcomes[1].Kind)
	require.Equal(t, OutcomeTimeout, ret.Outcomes[2].Kind)
}
