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

// Package plan defines the execution units submitted to a consensus group and
// applied by its region.
package plan

import (
	"encoding/json"
	"errors"
	"strconv"

	apierrors "github.com/cubefs/datanode/errors"
	"github.com/cubefs/datanode/proto"
)

type NodeType string

const (
	CreateTimeSeriesType         = NodeType("CreateTimeSeries")
	FetchSeriesType              = NodeType("FetchSeries")
	ConstructSchemaBlackListType = NodeType("ConstructSchemaBlackList")
	RollbackSchemaBlackListType  = NodeType("RollbackSchemaBlackList")
	FetchSchemaBlackListType     = NodeType("FetchSchemaBlackList")
	DeleteTimeSeriesType         = NodeType("DeleteTimeSeries")
	InsertRowType                = NodeType("InsertRow")
	QueryType                    = NodeType("Query")
	DeleteDataType               = NodeType("DeleteData")
)

// Node is one execution unit. Schema nodes are applied by schema regions and
// data nodes by data regions.
type Node interface {
	Type() NodeType
	GroupType() proto.ConsensusGroupType
	ReadOnly() bool
}

type (
	CreateTimeSeries struct {
		Path     string `json:"path"`
		DataType string `json:"data_type"`
	}
	FetchSeries struct {
		PathPatternTree []byte `json:"path_pattern_tree"`
	}
	// ConstructSchemaBlackList marks every series matched by the patterns as
	// pre deleted, the result carries the number of marked series.
	ConstructSchemaBlackList struct {
		PathPatternTree []byte `json:"path_pattern_tree"`
	}
	RollbackSchemaBlackList struct {
		PathPatternTree []byte `json:"path_pattern_tree"`
	}
	FetchSchemaBlackList struct {
		PathPatternTree []byte `json:"path_pattern_tree"`
	}
	DeleteTimeSeries struct {
		PathPatternTree []byte `json:"path_pattern_tree"`
	}

	InsertRow struct {
		Path      string  `json:"path"`
		Timestamp int64   `json:"timestamp"`
		Value     float64 `json:"value"`
	}
	// Query reads the points of the series matched by PathPattern within
	// [StartTime, EndTime).
	Query struct {
		PathPattern string `json:"path_pattern"`
		StartTime   int64  `json:"start_time"`
		EndTime     int64  `json:"end_time"`
	}
	DeleteData struct {
		PathPatternTree []byte `json:"path_pattern_tree"`
		StartTime       int64  `json:"start_time"`
		EndTime         int64  `json:"end_time"`
	}
)

func (*CreateTimeSeries) Type() NodeType         { return CreateTimeSeriesType }
func (*FetchSeries) Type() NodeType              { return FetchSeriesType }
func (*ConstructSchemaBlackList) Type() NodeType { return ConstructSchemaBlackListType }
func (*RollbackSchemaBlackList) Type() NodeType  { return RollbackSchemaBlackListType }
func (*FetchSchemaBlackList) Type() NodeType     { return FetchSchemaBlackListType }
func (*DeleteTimeSeries) Type() NodeType         { return DeleteTimeSeriesType }
func (*InsertRow) Type() NodeType                { return InsertRowType }
func (*Query) Type() NodeType                    { return QueryType }
func (*DeleteData) Type() NodeType               { return DeleteDataType }

func (*CreateTimeSeries) GroupType() proto.ConsensusGroupType         { return proto.SchemaRegion }
func (*FetchSeries) GroupType() proto.ConsensusGroupType              { return proto.SchemaRegion }
func (*ConstructSchemaBlackList) GroupType() proto.ConsensusGroupType { return proto.SchemaRegion }
func (*RollbackSchemaBlackList) GroupType() proto.ConsensusGroupType  { return proto.SchemaRegion }
func (*FetchSchemaBlackList) GroupType() proto.ConsensusGroupType     { return proto.SchemaRegion }
func (*DeleteTimeSeries) GroupType() proto.ConsensusGroupType         { return proto.SchemaRegion }
func (*InsertRow) GroupType() proto.ConsensusGroupType                { return proto.DataRegion }
func (*Query) GroupType() proto.ConsensusGroupType                    { return proto.DataRegion }
func (*DeleteData) GroupType() proto.ConsensusGroupType               { return proto.DataRegion }

func (*CreateTimeSeries) ReadOnly() bool         { return false }
func (*FetchSeries) ReadOnly() bool              { return true }
func (*ConstructSchemaBlackList) ReadOnly() bool { return false }
func (*RollbackSchemaBlackList) ReadOnly() bool  { return false }
func (*FetchSchemaBlackList) ReadOnly() bool     { return true }
func (*DeleteTimeSeries) ReadOnly() bool         { return false }
func (*InsertRow) ReadOnly() bool                { return false }
func (*Query) ReadOnly() bool                    { return true }
func (*DeleteData) ReadOnly() bool               { return false }

var constructors = map[NodeType]func() Node{
	CreateTimeSeriesType:         func() Node { return new(CreateTimeSeries) },
	FetchSeriesType:              func() Node { return new(FetchSeries) },
	ConstructSchemaBlackListType: func() Node { return new(ConstructSchemaBlackList) },
	RollbackSchemaBlackListType:  func() Node { return new(RollbackSchemaBlackList) },
	FetchSchemaBlackListType:     func() Node { return new(FetchSchemaBlackList) },
	DeleteTimeSeriesType:         func() Node { return new(DeleteTimeSeries) },
	InsertRowType:                func() Node { return new(InsertRow) },
	QueryType:                    func() Node { return new(Query) },
	DeleteDataType:               func() Node { return new(DeleteData) },
}

type envelope struct {
	Type NodeType        `json:"type"`
	Body json.RawMessage `json:"body"`
}

func Encode(node Node) ([]byte, error) {
	body, err := json.Marshal(node)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: node.Type(), Body: body})
}

// Decode parses an encoded node, any failure is a decode error.
func Decode(b []byte) (Node, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, apierrors.NewDecodeError("execution unit", err)
	}
	newNode, ok := constructors[env.Type]
	if !ok {
		return nil, apierrors.NewDecodeError("execution unit", errUnknownType(env.Type))
	}
	node := newNode()
	if len(env.Body) == 0 {
		return nil, apierrors.NewDecodeError(string(env.Type), errEmptyBody)
	}
	if err := json.Unmarshal(env.Body, node); err != nil {
		return nil, apierrors.NewDecodeError(string(env.Type), err)
	}
	return node, nil
}

// MustEncode is for nodes built in process, which always encode.
func MustEncode(node Node) []byte {
	b, err := Encode(node)
	if err != nil {
		panic(err)
	}
	return b
}

type errUnknownType NodeType

func (e errUnknownType) Error() string {
	return "unknown node type " + strconv.Quote(string(e))
}

var errEmptyBody = errors.New("empty node body")
