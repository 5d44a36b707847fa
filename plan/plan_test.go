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

package plan

import (
	"testing"

	apierrors "github.com/cubefs/datanode/errors"
	"github.com/cubefs/datanode/proto"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	nodes := []Node{
		&CreateTimeSeries{Path: "root.sg.d1.s1", DataType: "DOUBLE"},
		&InsertRow{Path: "root.sg.d1.s1", Timestamp: 10, Value: 1.5},
		&Query{PathPattern: "root.sg.**", StartTime: 0, EndTime: 100},
		&DeleteData{PathPatternTree: []byte{1, 2}, StartTime: 1, EndTime: 2},
	}
	for _, node := range nodes {
		b, err := Encode(node)
		require.NoError(t, err)
		decoded, err := Decode(b)
		require.NoError(t, err)
		require.Equal(t, node, decoded)
	}

	require.Equal(t, proto.SchemaRegion, (&FetchSchemaBlackList{}).GroupType())
	require.True(t, (&FetchSchemaBlackList{}).ReadOnly())
	require.Equal(t, proto.DataRegion, (&DeleteData{}).GroupType())
	require.False(t, (&DeleteData{}).ReadOnly())
}

func TestDecodeError(t *testing.T) {
	for _, b := range [][]byte{
		nil,
		[]byte("not json"),
		[]byte(`{"type":"DropDatabase","body":{}}`),
		[]byte(`{"type":"InsertRow"}`),
		[]byte(`{"type":"InsertRow","body":{"timestamp":"x"}}`),
	} {
		_, err := Decode(b)
		require.ErrorIs(t, err, apierrors.ErrDecode, string(b))
		require.Equal(t, proto.CodeDecodeError, apierrors.CodeOf(err))
	}
}

func TestResult(t *testing.T) {
	r := &Result{Affected: 8, Paths: []string{"root.sg.d1.s1"}}
	require.Equal(t, "8", r.Message())
	require.Equal(t, "", (*Result)(nil).Message())

	b, err := r.Marshal()
	require.NoError(t, err)
	decoded, err := UnmarshalResult(b)
	require.NoError(t, err)
	require.Equal(t, r, decoded)
}
