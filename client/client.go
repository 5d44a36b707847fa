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

// Package client dials the internal service of data nodes.
package client

import (
	"context"
	"errors"

	"google.golang.org/grpc"

	"github.com/cubefs/datanode/proto"
)

var ErrNoAddress = errors.New("no data node address")

type Config struct {
	Addresses       []string `json:"addresses"`
	TransportConfig `json:"transport_config"`
}

// Client calls the internal service of a set of data nodes, requests are
// balanced round robin over Addresses.
type Client struct {
	*proto.InternalServiceClient
	conn *grpc.ClientConn
}

func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	if len(cfg.Addresses) == 0 {
		return nil, ErrNoAddress
	}
	cfg.TransportConfig.checkAndFix()

	conn, err := grpc.DialContext(ctx, staticTarget(cfg.Addresses), generateDialOpts(&cfg.TransportConfig)...)
	if err != nil {
		return nil, err
	}
	return &Client{
		InternalServiceClient: proto.NewInternalServiceClient(conn),
		conn:                  conn,
	}, nil
}

func (c *Client) Address() string {
	return c.conn.Target()
}

func (c *Client) Close() error {
	return c.conn.Close()
}
