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

const (
	ErrCodeGroupNotFound = 601 + iota
	ErrCodeGroupAlreadyExist
	ErrCodeRaftGroupDeleted
	ErrCodeGroupHandleRaftMessage
	ErrCodeNotLeader
	ErrCodeMemberExist
	ErrCodeMemberNotExist
	ErrCodeLeaderTransferTimeout
)

var (
	ErrGroupNotFound          = newError(ErrCodeGroupNotFound, "group not found")
	ErrGroupAlreadyExist      = newError(ErrCodeGroupAlreadyExist, "group already exist")
	ErrRaftGroupDeleted       = newError(ErrCodeRaftGroupDeleted, "raft group has been deleted")
	ErrGroupHandleRaftMessage = newError(ErrCodeGroupHandleRaftMessage, "group handle raft message failed")
	ErrNotLeader              = newError(ErrCodeNotLeader, "not leader")
	ErrMemberExist            = newError(ErrCodeMemberExist, "member already exist")
	ErrMemberNotExist         = newError(ErrCodeMemberNotExist, "member not exist")
	ErrLeaderTransferTimeout  = newError(ErrCodeLeaderTransferTimeout, "leader transfer timeout")
)

type Error struct {
	ErrorCode uint32
	Msg       string
}

func (e *Error) Error() string {
	return e.Msg
}

func newError(code uint32, msg string) *Error {
	return &Error{
		ErrorCode: code,
		Msg:       msg,
	}
}
