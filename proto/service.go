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

package proto

import (
	"context"

	"google.golang.org/grpc"
)

const InternalServiceName = "datanode.InternalService"

// InternalServiceServer is the data node internal rpc surface used by config
// nodes, peers and the raft transport.
type InternalServiceServer interface {
	SendFragmentInstance(context.Context, *ExecuteRequest) (*ExecuteResponse, error)
	SendPlanNode(context.Context, *ExecuteRequest) (*ExecuteResponse, error)

	CreateSchemaRegion(context.Context, *CreateSchemaRegionRequest) (*Status, error)
	CreateDataRegion(context.Context, *CreateDataRegionRequest) (*Status, error)
	DeleteRegion(context.Context, *DeleteRegionRequest) (*Status, error)

	CreateNewRegionPeer(context.Context, *CreatePeerRequest) (*Status, error)
	AddRegionPeer(context.Context, *MaintainPeerRequest) (*MaintainPeerResponse, error)
	RemoveRegionPeer(context.Context, *MaintainPeerRequest) (*MaintainPeerResponse, error)
	DeleteOldRegionPeer(context.Context, *MaintainPeerRequest) (*MaintainPeerResponse, error)
	GetMigrationTask(context.Context, *MigrationTaskRequest) (*MigrationTaskResponse, error)
	ChangeRegionLeader(context.Context, *RegionLeaderChangeRequest) (*Status, error)

	InvalidatePartitionCache(context.Context, *EmptyRequest) (*Status, error)
	InvalidateSchemaCache(context.Context, *EmptyRequest) (*Status, error)
	InvalidateMatchedSchemaCache(context.Context, *InvalidateMatchedSchemaCacheRequest) (*Status, error)
	InvalidatePermissionCache(context.Context, *InvalidatePermissionCacheRequest) (*Status, error)

	ConstructSchemaBlackList(context.Context, *SchemaBlackListRequest) (*Status, error)
	RollbackSchemaBlackList(context.Context, *SchemaBlackListRequest) (*Status, error)
	FetchSchemaBlackList(context.Context, *SchemaBlackListRequest) (*FetchSchemaBlackListResponse, error)
	DeleteDataForDeleteTimeSeries(context.Context, *SchemaBlackListRequest) (*Status, error)
	DeleteTimeSeries(context.Context, *SchemaBlackListRequest) (*Status, error)
	FetchSchema(context.Context, *FetchSchemaRequest) (*FetchSchemaResponse, error)

	Heartbeat(context.Context, *HeartbeatRequest) (*HeartbeatResponse, error)
	UpdateRegionCache(context.Context, *RegionRouteRequest) (*Status, error)
	Flush(context.Context, *FlushRequest) (*Status, error)
	Merge(context.Context, *EmptyRequest) (*Status, error)
	ClearCache(context.Context, *EmptyRequest) (*Status, error)
	LoadConfiguration(context.Context, *EmptyRequest) (*Status, error)
	SetSystemStatus(context.Context, *SetSystemStatusRequest) (*Status, error)
	SetTTL(context.Context, *SetTTLRequest) (*Status, error)
	UpdateConfigNodeGroup(context.Context, *UpdateConfigNodeGroupRequest) (*Status, error)
	UpdateTemplate(context.Context, *UpdateTemplateRequest) (*Status, error)
	DisableDataNode(context.Context, *EmptyRequest) (*Status, error)
	StopDataNode(context.Context, *EmptyRequest) (*Status, error)

	Broadcast(context.Context, *BroadcastRequest) (*BroadcastResponse, error)
	RaftMessage(context.Context, *RaftMessageRequest) (*EmptyResponse, error)
}

var InternalServiceDesc = grpc.ServiceDesc{
	ServiceName: InternalServiceName,
	HandlerType: (*InternalServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("SendFragmentInstance", InternalServiceServer.SendFragmentInstance),
		unaryMethod("SendPlanNode", InternalServiceServer.SendPlanNode),
		unaryMethod("CreateSchemaRegion", InternalServiceServer.CreateSchemaRegion),
		unaryMethod("CreateDataRegion", InternalServiceServer.CreateDataRegion),
		unaryMethod("DeleteRegion", InternalServiceServer.DeleteRegion),
		unaryMethod("CreateNewRegionPeer", InternalServiceServer.CreateNewRegionPeer),
		unaryMethod("AddRegionPeer", InternalServiceServer.AddRegionPeer),
		unaryMethod("RemoveRegionPeer", InternalServiceServer.RemoveRegionPeer),
		unaryMethod("DeleteOldRegionPeer", InternalServiceServer.DeleteOldRegionPeer),
		unaryMethod("GetMigrationTask", InternalServiceServer.GetMigrationTask),
		unaryMethod("ChangeRegionLeader", InternalServiceServer.ChangeRegionLeader),
		unaryMethod("InvalidatePartitionCache", InternalServiceServer.InvalidatePartitionCache),
		unaryMethod("InvalidateSchemaCache", InternalServiceServer.InvalidateSchemaCache),
		unaryMethod("InvalidateMatchedSchemaCache", InternalServiceServer.InvalidateMatchedSchemaCache),
		unaryMethod("InvalidatePermissionCache", InternalServiceServer.InvalidatePermissionCache),
		unaryMethod("ConstructSchemaBlackList", InternalServiceServer.ConstructSchemaBlackList),
		unaryMethod("RollbackSchemaBlackList", InternalServiceServer.RollbackSchemaBlackList),
		unaryMethod("FetchSchemaBlackList", InternalServiceServer.FetchSchemaBlackList),
		unaryMethod("DeleteDataForDeleteTimeSeries", InternalServiceServer.DeleteDataForDeleteTimeSeries),
		unaryMethod("DeleteTimeSeries", InternalServiceServer.DeleteTimeSeries),
		unaryMethod("FetchSchema", InternalServiceServer.FetchSchema),
		unaryMethod("Heartbeat", InternalServiceServer.Heartbeat),
		unaryMethod("UpdateRegionCache", InternalServiceServer.UpdateRegionCache),
		unaryMethod("Flush", InternalServiceServer.Flush),
		unaryMethod("Merge", InternalServiceServer.Merge),
		unaryMethod("ClearCache", InternalServiceServer.ClearCache),
		unaryMethod("LoadConfiguration", InternalServiceServer.LoadConfiguration),
		unaryMethod("SetSystemStatus", InternalServiceServer.SetSystemStatus),
		unaryMethod("SetTTL", InternalServiceServer.SetTTL),
		unaryMethod("UpdateConfigNodeGroup", InternalServiceServer.UpdateConfigNodeGroup),
		unaryMethod("UpdateTemplate", InternalServiceServer.UpdateTemplate),
		unaryMethod("DisableDataNode", InternalServiceServer.DisableDataNode),
		unaryMethod("StopDataNode", InternalServiceServer.StopDataNode),
		unaryMethod("Broadcast", InternalServiceServer.Broadcast),
		unaryMethod("RaftMessage", InternalServiceServer.RaftMessage),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "datanode/internal.proto",
}

func RegisterInternalServiceServer(s *grpc.Server, srv InternalServiceServer) {
	s.RegisterService(&InternalServiceDesc, srv)
}

func FullMethodName(method string) string {
	return "/" + InternalServiceName + "/" + method
}

func unaryMethod[Req any, Resp any](method string, call func(InternalServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := FullMethodName(method)
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(InternalServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: fullMethod,
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(InternalServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// InternalServiceClient is the client side of InternalServiceServer. Only the
// calls made node to node are typed, Invoke covers the rest.
type InternalServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewInternalServiceClient(cc grpc.ClientConnInterface) *InternalServiceClient {
	return &InternalServiceClient{cc: cc}
}

// Invoke calls method with the json content-subtype, in may be any value
// encoding to the method's request, e.g. a json.RawMessage.
func (c *InternalServiceClient) Invoke(ctx context.Context, method string, in, out interface{}, opts ...grpc.CallOption) error {
	opts = append(opts, grpc.CallContentSubtype(CodecName))
	return c.cc.Invoke(ctx, FullMethodName(method), in, out, opts...)
}

func (c *InternalServiceClient) InvokeStatus(ctx context.Context, method string, in interface{}, opts ...grpc.CallOption) (*Status, error) {
	out := new(Status)
	if err := c.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *InternalServiceClient) CreateNewRegionPeer(ctx context.Context, in *CreatePeerRequest, opts ...grpc.CallOption) (*Status, error) {
	return c.InvokeStatus(ctx, "CreateNewRegionPeer", in, opts...)
}

func (c *InternalServiceClient) DeleteRegion(ctx context.Context, in *DeleteRegionRequest, opts ...grpc.CallOption) (*Status, error) {
	return c.InvokeStatus(ctx, "DeleteRegion", in, opts...)
}

func (c *InternalServiceClient) Heartbeat(ctx context.Context, in *HeartbeatRequest, opts ...grpc.CallOption) (*HeartbeatResponse, error) {
	out := new(HeartbeatResponse)
	if err := c.Invoke(ctx, "Heartbeat", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *InternalServiceClient) RaftMessage(ctx context.Context, in *RaftMessageRequest, opts ...grpc.CallOption) (*EmptyResponse, error) {
	out := new(EmptyResponse)
	if err := c.Invoke(ctx, "RaftMessage", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
