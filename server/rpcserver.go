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
	"context"
	"encoding/json"
	"net"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/cubefs/datanode/metrics"
	"github.com/cubefs/datanode/proto"
	"github.com/cubefs/datanode/util"
)

const (
	defaultGracefulStopTimeoutS = 10
	auditLogBufferSize          = 1 << 10
)

// RPCServer serves the internal service on the internal endpoint and on the
// consensus endpoints when they listen on their own ports.
type RPCServer struct {
	*Server

	grpcServer *grpc.Server
	listeners  []net.Listener
}

func newRPCServer(server *Server) *RPCServer {
	rs := &RPCServer{Server: server}
	rs.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(
		rs.unaryInterceptorWithTracer,
		rs.unaryInterceptorWithRecovery,
		metrics.GRPCMetrics.UnaryServerInterceptor(),
		rs.unaryInterceptorWithAuditLog,
	))
	return rs
}

// listen binds the configured ports and returns the location of the node, a
// zero consensus port shares the internal endpoint.
func (r *RPCServer) listen() (proto.NodeLocation, error) {
	byPort := make(map[uint32]proto.Endpoint)
	bind := func(port uint32) (proto.Endpoint, error) {
		if ep, ok := byPort[port]; ok && port != 0 {
			return ep, nil
		}
		lis, err := net.Listen("tcp", listenAddr(port))
		if err != nil {
			return proto.Endpoint{}, err
		}
		r.listeners = append(r.listeners, lis)
		ep := endpointOf(r.cfg.Host, lis)
		byPort[port] = ep
		return ep, nil
	}

	internal, err := bind(r.cfg.InternalPort)
	if err != nil {
		return proto.NodeLocation{}, err
	}
	loc := proto.NodeLocation{
		NodeID:                        r.cfg.NodeID,
		InternalEndpoint:              internal,
		DataRegionConsensusEndpoint:   internal,
		SchemaRegionConsensusEndpoint: internal,
	}
	if p := r.cfg.DataRegionConsensusPort; p != 0 && p != r.cfg.InternalPort {
		if loc.DataRegionConsensusEndpoint, err = bind(p); err != nil {
			return loc, err
		}
	}
	if p := r.cfg.SchemaRegionConsensusPort; p != 0 && p != r.cfg.InternalPort {
		if loc.SchemaRegionConsensusEndpoint, err = bind(p); err != nil {
			return loc, err
		}
	}
	return loc, nil
}

func (r *RPCServer) register() {
	proto.RegisterInternalServiceServer(r.grpcServer, r.router)
	metrics.GRPCMetrics.InitializeMetrics(r.grpcServer)
}

func (r *RPCServer) Serve() {
	for _, lis := range r.listeners {
		go func(lis net.Listener) {
			if err := r.grpcServer.Serve(lis); err != nil && err != grpc.ErrServerStopped {
				log.Fatal("grpc server exits:", err)
			}
		}(lis)
		log.Info("grpc server is running at:", lis.Addr())
	}
}

// Stop waits for in flight calls for a while, then closes every connection.
func (r *RPCServer) Stop() {
	stopped := make(chan struct{})
	go func() {
		r.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(defaultGracefulStopTimeoutS * time.Second):
		r.grpcServer.Stop()
	}
	// listeners never served are closed here
	for _, lis := range r.listeners {
		lis.Close()
	}
}

func (r *RPCServer) unaryInterceptorWithTracer(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
	var span trace.Span
	md, _ := metadata.FromIncomingContext(ctx)
	if reqID := md.Get(proto.ReqIdKey); len(reqID) > 0 && reqID[0] != "" {
		span, ctx = trace.StartSpanFromContextWithTraceID(ctx, info.FullMethod, reqID[0])
	} else {
		span, ctx = trace.StartSpanFromContext(ctx, info.FullMethod)
	}

	resp, err = handler(ctx, req)
	if err != nil {
		span.Warnf("%s failed: %s", info.FullMethod, err)
	}
	return
}

// unaryInterceptorWithRecovery turns a panic of a handler into an internal
// error of the call, the node keeps serving.
func (r *RPCServer) unaryInterceptorWithRecovery(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
	defer func() {
		if p := recover(); p != nil {
			trace.SpanFromContextSafe(ctx).Errorf("%s panic: %v\n%s", info.FullMethod, p, debug.Stack())
			resp, err = nil, status.Errorf(codes.Internal, "%s panic: %v", info.FullMethod, p)
		}
	}()
	return handler(ctx, req)
}

// unaryInterceptorWithAuditLog records method, request, response and cost in
// milliseconds of every call when an audit log is configured.
func (r *RPCServer) unaryInterceptorWithAuditLog(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
	if r.auditLog == nil || info.FullMethod == proto.FullMethodName("RaftMessage") {
		return handler(ctx, req)
	}
	start := time.Now()
	resp, err = handler(ctx, req)

	in, _ := json.Marshal(req)
	out, _ := json.Marshal(resp)
	duration := int64(time.Since(start) / time.Millisecond)
	bw := util.GetBufferWriter(auditLogBufferSize)
	defer util.PutBufferWriter(bw)
	bw.WriteString(info.FullMethod)
	bw.WriteByte('\t')
	bw.WriteString(trace.SpanFromContextSafe(ctx).TraceID())
	bw.WriteByte('\t')
	bw.Write(in)
	bw.WriteByte('\t')
	bw.Write(out)
	bw.WriteByte('\t')
	bw.WriteString(strconv.FormatInt(duration, 10))
	bw.WriteByte('\n')
	if lerr := r.auditLog.Log(bw.Bytes()); lerr != nil {
		log.Warnf("write audit log failed: %s", lerr)
	}
	return
}
