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
	"encoding/json"
	"strconv"

	"github.com/cubefs/datanode/proto"
)

type Point struct {
	Path      string  `json:"path"`
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// Result is the outcome of applying a node to its region.
type Result struct {
	// Affected counts series or points touched by a write.
	Affected int64                 `json:"affected,omitempty"`
	Paths    []string              `json:"paths,omitempty"`
	Series   []*proto.SeriesSchema `json:"series,omitempty"`
	Points   []Point               `json:"points,omitempty"`
}

func (r *Result) Message() string {
	if r == nil {
		return ""
	}
	return strconv.FormatInt(r.Affected, 10)
}

func (r *Result) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

func UnmarshalResult(b []byte) (*Result, error) {
	r := new(Result)
	if err := json.Unmarshal(b, r); err != nil {
		return nil, err
	}
	return r, nil
}
