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

package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"golang.org/x/sync/singleflight"
	"google.golang.org/grpc"

	"github.com/cubefs/datanode/proto"
	"github.com/cubefs/datanode/scatter"
)

var ErrClientClosed = errors.New("peer client closed")

// PeerClient keeps one connection per peer endpoint. It delivers broadcast
// requests, region peer maintenance calls and raft messages.
type PeerClient struct {
	cfg    TransportConfig
	conns  sync.Map
	dials  singleflight.Group
	closed int32
}

func NewPeerClient(cfg TransportConfig) *PeerClient {
	cfg.checkAndFix()
	return &PeerClient{cfg: cfg}
}

func (c *PeerClient) client(ctx context.Context, addr string) (*proto.InternalServiceClient, error) {
	if atomic.LoadInt32(&c.closed) == 1 {
		return nil, ErrClientClosed
	}
	if v, ok := c.conns.Load(addr); ok {
		return proto.NewInternalServiceClient(v.(*grpc.ClientConn)), nil
	}

	v, err, _ := c.dials.Do(addr, func() (interface{}, error) {
		if v, ok := c.conns.Load(addr); ok {
			return v, nil
		}
		conn, err := grpc.DialContext(ctx, addr, generateDialOpts(&c.cfg)...)
		if err != nil {
			return nil, err
		}
		trace.SpanFromContextSafe(ctx).Debugf("dial peer %s", addr)
		c.conns.Store(addr, conn)
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	// closed while dialing
	if atomic.LoadInt32(&c.closed) == 1 {
		c.drop(addr)
		return nil, ErrClientClosed
	}
	return proto.NewInternalServiceClient(v.(*grpc.ClientConn)), nil
}

func (c *PeerClient) drop(addr string) {
	if v, ok := c.conns.LoadAndDelete(addr); ok {
		v.(*grpc.ClientConn).Close()
	}
}

// Send invokes the rpc named by the request kind on the internal endpoint of target.
func (c *PeerClient) Send(ctx context.Context, target proto.NodeLocation, req *scatter.Request) (*proto.Status, error) {
	cli, err := c.client(ctx, target.InternalEndpoint.String())
	if err != nil {
		return nil, err
	}
	payload := req.Payload
	if payload == nil {
		payload = &proto.EmptyRequest{}
	}
	return cli.InvokeStatus(ctx, string(req.Kind), payload)
}

func (c *PeerClient) CreateNewRegionPeer(ctx context.Context, target proto.NodeLocation, req *proto.CreatePeerRequest) (*proto.Status, error) {
	cli, err := c.client(ctx, target.InternalEndpoint.String())
	if err != nil {
		return nil, err
	}
	return cli.CreateNewRegionPeer(ctx, req)
}

func (c *PeerClient) DeleteRegion(ctx context.Context, target proto.NodeLocation, req *proto.DeleteRegionRequest) (*proto.Status, error) {
	cli, err := c.client(ctx, target.InternalEndpoint.String())
	if err != nil {
		return nil, err
	}
	return cli.DeleteRegion(ctx, req)
}

// SendRaftMessage delivers a marshaled raft message to the consensus endpoint addr.
func (c *PeerClient) SendRaftMessage(ctx context.Context, addr string, groupID uint64, msg []byte) error {
	cli, err := c.client(ctx, addr)
	if err != nil {
		return err
	}
	_, err = cli.RaftMessage(ctx, &proto.RaftMessageRequest{GroupID: groupID, Message: msg})
	return err
}

func (c *PeerClient) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	c.conns.Range(func(key, value interface{}) bool {
		c.drop(key.(string))
		return true
	})
	return nil
}
