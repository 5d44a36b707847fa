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

import "strconv"

type StatusCode = int32

const (
	CodeSuccess StatusCode = 200

	CodeExecuteStatementError StatusCode = 300 + iota
	CodeMultipleError
	CodeMetadataError
	CodeDecodeError
	CodeRegionNotFound
	CodeUnsupportedGroupType
	CodeCreateRegionError
	CodeDeleteRegionError
	CodeCacheUpdateFail
	CodeInvalidatePermissionCacheError
	CodeMigrateRegionError
	CodeRegionMigrateFailed
	CodeRegionLeaderChangeFailed
	CodeDataNodeStopError
	CodeTimeout

	CodeInternalServerError StatusCode = 500
)

// Status is the result of an administrative operation. SubStatus is only
// filled for CodeMultipleError and lists the failed parts.
type Status struct {
	Code      StatusCode `json:"code"`
	Message   string     `json:"message,omitempty"`
	SubStatus []*Status  `json:"sub_status,omitempty"`
}

func NewStatus(code StatusCode, msg string) *Status {
	return &Status{Code: code, Message: msg}
}

func SuccessStatus() *Status {
	return &Status{Code: CodeSuccess}
}

func SuccessStatusWithMessage(msg string) *Status {
	return &Status{Code: CodeSuccess, Message: msg}
}

func MultipleStatus(failures []*Status) *Status {
	return &Status{Code: CodeMultipleError, SubStatus: failures}
}

func (s *Status) IsSuccess() bool {
	return s != nil && s.Code == CodeSuccess
}

func (s *Status) String() string {
	if s == nil {
		return "<nil>"
	}
	ret := "code=" + strconv.Itoa(int(s.Code))
	if s.Message != "" {
		ret += ", message=" + s.Message
	}
	if len(s.SubStatus) > 0 {
		ret += ", sub_status=["
		for i, sub := range s.SubStatus {
			if i > 0 {
				ret += "; "
			}
			ret += sub.String()
		}
		ret += "]"
	}
	return ret
}
