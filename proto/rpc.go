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

import "encoding/json"

type (
	EmptyRequest  struct{}
	EmptyResponse struct{}

	// ExecuteRequest carries one serialized execution unit, either a query
	// fragment or a plan node, for a single consensus group.
	ExecuteRequest struct {
		GroupID ConsensusGroupID `json:"group_id"`
		Body    []byte           `json:"body"`
	}
	ExecuteResponse struct {
		Accepted bool   `json:"accepted"`
		Message  string `json:"message,omitempty"`
		Data     []byte `json:"data,omitempty"`
	}

	CreateSchemaRegionRequest struct {
		ReplicaSet ReplicaSet `json:"replica_set"`
		Namespace  string     `json:"namespace"`
	}
	CreateDataRegionRequest struct {
		ReplicaSet ReplicaSet `json:"replica_set"`
		Namespace  string     `json:"namespace"`
		TTL        TTL        `json:"ttl"`
	}
	DeleteRegionRequest struct {
		GroupID ConsensusGroupID `json:"group_id"`
	}

	CreatePeerRequest struct {
		GroupID   ConsensusGroupID `json:"group_id"`
		Namespace string           `json:"namespace"`
		TTL       TTL              `json:"ttl"`
		Locations []NodeLocation   `json:"locations"`
	}
	MaintainPeerRequest struct {
		GroupID  ConsensusGroupID `json:"group_id"`
		DestNode NodeLocation     `json:"dest_node"`
	}
	MaintainPeerResponse struct {
		Submitted bool    `json:"submitted"`
		TaskID    string  `json:"task_id,omitempty"`
		Status    *Status `json:"status"`
	}
	MigrationTaskRequest struct {
		TaskID  string            `json:"task_id,omitempty"`
		GroupID *ConsensusGroupID `json:"group_id,omitempty"`
	}
	MigrationTaskInfo struct {
		ID          string           `json:"id"`
		Type        string           `json:"type"`
		GroupID     ConsensusGroupID `json:"group_id"`
		Node        NodeLocation     `json:"node"`
		State       string           `json:"state"`
		Attempt     int              `json:"attempt"`
		Message     string           `json:"message,omitempty"`
		CreatedAt   int64            `json:"created_at"`
		UpdatedAt   int64            `json:"updated_at"`
		Coordinator NodeID           `json:"coordinator"`
	}
	MigrationTaskResponse struct {
		Status *Status              `json:"status"`
		Tasks  []*MigrationTaskInfo `json:"tasks,omitempty"`
	}

	RegionLeaderChangeRequest struct {
		GroupID       ConsensusGroupID `json:"group_id"`
		NewLeaderNode NodeLocation     `json:"new_leader_node"`
	}

	InvalidateMatchedSchemaCacheRequest struct {
		PathPatternTree []byte `json:"path_pattern_tree"`
	}
	InvalidatePermissionCacheRequest struct {
		Username string `json:"username,omitempty"`
		RoleName string `json:"role_name,omitempty"`
	}

	// SchemaBlackListRequest is shared by the multi group operations of series deletion.
	SchemaBlackListRequest struct {
		GroupIDs        []ConsensusGroupID `json:"group_ids"`
		PathPatternTree []byte             `json:"path_pattern_tree"`
	}
	FetchSchemaBlackListResponse struct {
		Status          *Status `json:"status"`
		PathPatternTree []byte  `json:"path_pattern_tree,omitempty"`
	}

	FetchSchemaRequest struct {
		PathPatternTree []byte `json:"path_pattern_tree"`
	}
	SeriesSchema struct {
		Path     string `json:"path"`
		DataType string `json:"data_type"`
	}
	FetchSchemaResponse struct {
		Status *Status         `json:"status"`
		Series []*SeriesSchema `json:"series,omitempty"`
	}

	HeartbeatRequest struct {
		HeartbeatTimestamp int64 `json:"heartbeat_timestamp"`
		NeedJudgeLeader    bool  `json:"need_judge_leader"`
		NeedSamplingLoad   bool  `json:"need_sampling_load"`
	}
	HeartbeatResponse struct {
		HeartbeatTimestamp int64      `json:"heartbeat_timestamp"`
		Status             NodeStatus `json:"status"`
		// JudgedLeaders is keyed by ConsensusGroupID.String()
		JudgedLeaders map[string]bool `json:"judged_leaders,omitempty"`
		CPU           *int32          `json:"cpu,omitempty"`
		Memory        *int32          `json:"memory,omitempty"`
	}

	RegionRoute struct {
		GroupID   ConsensusGroupID `json:"group_id"`
		Namespace string           `json:"namespace"`
		Locations []NodeLocation   `json:"locations"`
	}
	RegionRouteRequest struct {
		Timestamp int64          `json:"timestamp"`
		Routes    []*RegionRoute `json:"routes"`
	}

	FlushRequest struct {
		StorageGroups []string `json:"storage_groups,omitempty"`
	}
	SetSystemStatusRequest struct {
		Status NodeStatus `json:"status"`
	}
	SetTTLRequest struct {
		StorageGroups []string `json:"storage_groups"`
		TTL           TTL      `json:"ttl"`
	}

	ConfigNodeLocation struct {
		ConfigNodeID     int32    `json:"config_node_id"`
		InternalEndpoint Endpoint `json:"internal_endpoint"`
	}
	UpdateConfigNodeGroupRequest struct {
		ConfigNodeLocations []ConfigNodeLocation `json:"config_node_locations"`
	}

	TemplateSetInfo struct {
		TemplateID   TemplateID `json:"template_id"`
		TemplateName string     `json:"template_name"`
		Paths        []string   `json:"paths"`
	}
	UpdateTemplateRequest struct {
		Type TemplateUpdateType `json:"type"`
		Info TemplateSetInfo    `json:"info"`
	}

	BroadcastRequest struct {
		Kind      BroadcastKind   `json:"kind"`
		Targets   []NodeLocation  `json:"targets"`
		Payload   json.RawMessage `json:"payload,omitempty"`
		TimeoutMs int64           `json:"timeout_ms"`
		MaxRounds int             `json:"max_rounds"`
	}
	BroadcastOutcome struct {
		Kind   string  `json:"kind"`
		Status *Status `json:"status,omitempty"`
	}
	BroadcastResponse struct {
		// Status is set when the request is rejected before any target is called
		Status    *Status                     `json:"status,omitempty"`
		Succeeded bool                        `json:"succeeded"`
		Outcomes  map[NodeID]BroadcastOutcome `json:"outcomes"`
	}

	RaftMessageRequest struct {
		GroupID uint64 `json:"group_id"`
		// Message is a marshaled raftpb.Message
		Message []byte `json:"message"`
	}
)

type TemplateUpdateType uint8

const (
	AddTemplateSetInfo TemplateUpdateType = iota + 1
	InvalidateTemplateSetInfo
)

// BroadcastKind names the administrative request a scatter round sends to every target.
type BroadcastKind string

const (
	BroadcastInvalidatePartitionCache     = BroadcastKind("InvalidatePartitionCache")
	BroadcastInvalidateSchemaCache        = BroadcastKind("InvalidateSchemaCache")
	BroadcastInvalidateMatchedSchemaCache = BroadcastKind("InvalidateMatchedSchemaCache")
	BroadcastInvalidatePermissionCache    = BroadcastKind("InvalidatePermissionCache")
	BroadcastUpdateRegionCache            = BroadcastKind("UpdateRegionCache")
	BroadcastUpdateConfigNodeGroup        = BroadcastKind("UpdateConfigNodeGroup")
	BroadcastUpdateTemplate               = BroadcastKind("UpdateTemplate")
	BroadcastSetTTL                       = BroadcastKind("SetTTL")
	BroadcastFlush                        = BroadcastKind("Flush")
	BroadcastMerge                        = BroadcastKind("Merge")
	BroadcastClearCache                   = BroadcastKind("ClearCache")
	BroadcastLoadConfiguration            = BroadcastKind("LoadConfiguration")
	BroadcastSetSystemStatus              = BroadcastKind("SetSystemStatus")
)

// Valid reports whether k is one of the declared broadcast kinds.
func (k BroadcastKind) Valid() bool {
	switch k {
	case BroadcastInvalidatePartitionCache, BroadcastInvalidateSchemaCache,
		BroadcastInvalidateMatchedSchemaCache, BroadcastInvalidatePermissionCache,
		BroadcastUpdateRegionCache, BroadcastUpdateConfigNodeGroup, BroadcastUpdateTemplate,
		BroadcastSetTTL, BroadcastFlush, BroadcastMerge, BroadcastClearCache,
		BroadcastLoadConfiguration, BroadcastSetSystemStatus:
		return true
	}
	return false
}
