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

package errors

import (
	"context"
	"errors"

	"github.com/cubefs/datanode/proto"
)

// Error is a classified error, Code is the status code reported to the caller.
type Error struct {
	Code proto.StatusCode
	Msg  string
	// Cause is kept for errors.Is/As on wrapped execution and decode failures
	Cause error

	kind *Error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Msg + ": " + e.Cause.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches a sentinel by identity, by code and message, or as the kind an
// instance was derived from.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e == t || e.kind == t || (e.Code == t.Code && e.Msg == t.Msg)
}

func newError(code proto.StatusCode, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

var (
	ErrDecode               = newError(proto.CodeDecodeError, "decode failed")
	ErrRegionNotFound       = newError(proto.CodeRegionNotFound, "region not found")
	ErrRegionDeleting       = newError(proto.CodeRegionNotFound, "region is deleting")
	ErrTaskNotFound         = newError(proto.CodeRegionNotFound, "migration task not found")
	ErrUnsupportedGroupType = newError(proto.CodeUnsupportedGroupType, "unsupported consensus group type")
	ErrUnsupportedOperation = newError(proto.CodeUnsupportedGroupType, "unsupported operation")
	ErrUnsupportedBacking   = newError(proto.CodeCreateRegionError, "unsupported region backing kind")
	ErrNamespaceMismatch    = newError(proto.CodeCreateRegionError, "region namespace mismatch")

	// ErrPeerNotInGroup and ErrPeerAlreadyInGroup are membership no-ops, callers
	// changing membership treat them as success.
	ErrPeerNotInGroup     = newError(proto.CodeMigrateRegionError, "peer not in consensus group")
	ErrPeerAlreadyInGroup = newError(proto.CodeMigrateRegionError, "peer already in consensus group")
	ErrGroupNotFound      = newError(proto.CodeRegionNotFound, "consensus group not found")
	ErrGroupAlreadyExist  = newError(proto.CodeCreateRegionError, "consensus group already exists")
	ErrNotLeader          = newError(proto.CodeExecuteStatementError, "not leader of consensus group")

	ErrSeriesAlreadyExist = newError(proto.CodeMetadataError, "series already exists")
	ErrInvalidPath        = newError(proto.CodeMetadataError, "invalid series path")
	ErrInvalidPattern     = newError(proto.CodeMetadataError, "invalid path pattern")

	ErrStaleRoute           = newError(proto.CodeCacheUpdateFail, "stale region route")
	ErrInvalidateNoSubject  = newError(proto.CodeInvalidatePermissionCacheError, "username or role name required")
	ErrUnknownTemplateOp    = newError(proto.CodeExecuteStatementError, "unknown template update type")
	ErrInvalidStorageGroups = newError(proto.CodeExecuteStatementError, "storage groups required")

	ErrBroadcastTimeout = newError(proto.CodeTimeout, "broadcast wait timeout")
	ErrInvalidStatus    = newError(proto.CodeExecuteStatementError, "invalid node status")
	ErrShuttingDown     = newError(proto.CodeDataNodeStopError, "node is shutting down")
)

func NewDecodeError(what string, cause error) *Error {
	return &Error{Code: proto.CodeDecodeError, Msg: "decode " + what + " failed", Cause: cause, kind: ErrDecode}
}

func NewExecutionError(cause error) *Error {
	return &Error{Code: proto.CodeExecuteStatementError, Msg: "execute failed", Cause: cause}
}

func NewMetadataError(msg string) *Error {
	return newError(proto.CodeMetadataError, msg)
}

// IsMembershipNoOp reports whether err means the membership already has the requested shape.
func IsMembershipNoOp(err error) bool {
	return errors.Is(err, ErrPeerNotInGroup) || errors.Is(err, ErrPeerAlreadyInGroup)
}

// FromStatus turns a failed status answered by a peer back into an error.
func FromStatus(st *proto.Status) error {
	if st.IsSuccess() {
		return nil
	}
	return &Error{Code: st.Code, Msg: st.String()}
}

func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == proto.CodeRegionNotFound
	}
	return false
}

// CodeOf classifies err, unclassified errors are execution errors.
func CodeOf(err error) proto.StatusCode {
	if err == nil {
		return proto.CodeSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return proto.CodeTimeout
	}
	return proto.CodeExecuteStatementError
}

func StatusOf(err error) *proto.Status {
	if err == nil {
		return proto.SuccessStatus()
	}
	return proto.NewStatus(CodeOf(err), err.Error())
}
