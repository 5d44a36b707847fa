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

package raft

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
)

const (
	defaultSendTimeoutMs = 1000
	// queue worker exits after idling this long, the next message restarts it
	queueIdleTimeout = time.Minute
)

type transport struct {
	sender        Transport
	queueLen      int
	sendTimeout   time.Duration
	onUnreachable func(groupID, to uint64)

	queues sync.Map
	done   chan struct{}
}

func newTransport(sender Transport, queueLen int, onUnreachable func(groupID, to uint64)) *transport {
	return &transport{
		sender:        sender,
		queueLen:      queueLen,
		sendTimeout:   defaultSendTimeoutMs * time.Millisecond,
		onUnreachable: onUnreachable,
		done:          make(chan struct{}),
	}
}

// SendAsync sends a message to the node at addr asynchronously. It returns an
// error if the outgoing queue of addr is full.
func (t *transport) SendAsync(ctx context.Context, addr string, req *RaftMessageRequest) error {
	select {
	case <-t.done:
		return ErrRaftGroupDeleted
	default:
	}

	ch, existingQueue := t.getQueue(addr)
	if !existingQueue {
		// startProcessNewQueue is in charge of deleting the queue
		_, qctx := trace.StartSpanFromContextWithTraceID(context.Background(), "", trace.SpanFromContextSafe(ctx).TraceID())
		go t.startProcessNewQueue(qctx, addr, ch)
	}

	select {
	case ch <- req:
		return nil
	default:
		return fmt.Errorf("send request into queue[%s] failed, queue is full", addr)
	}
}

func (t *transport) Close() {
	close(t.done)
}

// getQueue returns the queue for addr and whether it already existed.
func (t *transport) getQueue(addr string) (chan *RaftMessageRequest, bool) {
	value, ok := t.queues.Load(addr)
	if !ok {
		ch := make(chan *RaftMessageRequest, t.queueLen)
		value, ok = t.queues.LoadOrStore(addr, ch)
	}
	return value.(chan *RaftMessageRequest), ok
}

// startProcessNewQueue sends the messages queued for addr one by one until
// the transport closes or the queue idles out.
func (t *transport) startProcessNewQueue(ctx context.Context, addr string, ch chan *RaftMessageRequest) {
	defer t.queues.Delete(addr)

	idle := time.NewTimer(queueIdleTimeout)
	defer idle.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-idle.C:
			// drain what raced in before the delete
			t.queues.Delete(addr)
			for {
				select {
				case req := <-ch:
					t.send(ctx, addr, req)
				default:
					return
				}
			}
		case req := <-ch:
			t.send(ctx, addr, req)
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(queueIdleTimeout)
		}
	}
}

func (t *transport) send(ctx context.Context, addr string, req *RaftMessageRequest) {
	ctx, cancel := context.WithTimeout(ctx, t.sendTimeout)
	defer cancel()
	if err := t.sender.SendRaftMessage(ctx, addr, req.GroupID, req.Data); err != nil {
		trace.SpanFromContext(ctx).Debugf("send raft message of group[%d] to node[%d] at %s failed: %s", req.GroupID, req.To, addr, err)
		if t.onUnreachable != nil {
			t.onUnreachable(req.GroupID, req.To)
		}
	}
}
