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

package region

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"
	"github.com/cubefs/datanode/common/kvstore"
	apierrors "github.com/cubefs/datanode/errors"
	"github.com/cubefs/datanode/plan"
	"github.com/cubefs/datanode/proto"
)

type Status int32

const (
	StatusActive Status = iota + 1
	StatusDeleting
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusDeleting:
		return "DELETING"
	default:
		return "UNKNOWN"
	}
}

// Region is the local state of one consensus group. Units committed by the
// group are applied in log order through Apply.
type Region interface {
	GroupID() proto.ConsensusGroupID
	Namespace() string
	Status() Status
	Apply(ctx context.Context, node plan.Node) (*plan.Result, error)
	Flush(ctx context.Context) error
	// Merge compacts region data, data regions drop points older than their ttl.
	Merge(ctx context.Context) error
	SetTTL(ttl proto.TTL)
	TTL() proto.TTL
	Stats(ctx context.Context) (Stats, error)
	Close()
}

type Stats struct {
	GroupID   string `json:"group_id"`
	Namespace string `json:"namespace"`
	Status    string `json:"status"`
	TTL       int64  `json:"ttl"`
	Used      uint64 `json:"used"`
	Keys      uint64 `json:"keys"`
}

type baseRegion struct {
	gid       proto.ConsensusGroupID
	namespace string
	status    int32
	path      string
	store     kvstore.Store
}

func (r *baseRegion) GroupID() proto.ConsensusGroupID { return r.gid }

func (r *baseRegion) Namespace() string { return r.namespace }

func (r *baseRegion) Status() Status {
	return Status(atomic.LoadInt32(&r.status))
}

func (r *baseRegion) setStatus(s Status) {
	atomic.StoreInt32(&r.status, int32(s))
}

func (r *baseRegion) checkActive() error {
	if r.Status() != StatusActive {
		return apierrors.ErrRegionDeleting
	}
	return nil
}

// owns reports whether the series path is under the region namespace.
func (r *baseRegion) owns(path string) bool {
	return r.namespace == "" || strings.HasPrefix(path, r.namespace+proto.PathSeparator)
}

func (r *baseRegion) Flush(ctx context.Context) error {
	return r.store.Flush(ctx)
}

func (r *baseRegion) stats(ctx context.Context, ttl proto.TTL) (Stats, error) {
	st, err := r.store.Stats(ctx)
	if err != nil {
		return Stats{}, errors.Info(err, "stats region store failed", r.gid)
	}
	return Stats{
		GroupID:   r.gid.String(),
		Namespace: r.namespace,
		Status:    r.Status().String(),
		TTL:       ttl,
		Used:      st.Used,
		Keys:      st.Keys,
	}, nil
}

func (r *baseRegion) Close() {
	r.store.Close()
}

// destroy closes the store and removes its files.
func (r *baseRegion) destroy(ctx context.Context) error {
	r.setStatus(StatusDeleting)
	r.store.Close()
	if r.path == "" {
		return nil
	}
	if err := os.RemoveAll(r.path); err != nil {
		return errors.Info(err, "remove region path failed", r.path)
	}
	trace.SpanFromContextSafe(ctx).Infof("region[%s] files removed from %s", r.gid, r.path)
	return nil
}

type destroyer interface {
	destroy(ctx context.Context) error
}

// Factory builds regions of the backing kind it was configured with.
type Factory interface {
	Kind() kvstore.KVType
	New(ctx context.Context, gid proto.ConsensusGroupID, namespace string) (Region, error)
}

type factory struct {
	kind    kvstore.KVType
	dataDir string
}

// NewFactory resolves the configured backing kind once, callers never switch on it.
func NewFactory(kind string, dataDir string) (Factory, error) {
	k := kvstore.KVType(kind)
	if !kvstore.Supported(k) {
		return nil, apierrors.ErrUnsupportedBacking
	}
	if k != kvstore.MemoryKVType && dataDir == "" {
		return nil, fmt.Errorf("data dir is required by backing kind %s", kind)
	}
	return &factory{kind: k, dataDir: dataDir}, nil
}

func (f *factory) Kind() kvstore.KVType {
	return f.kind
}

func (f *factory) New(ctx context.Context, gid proto.ConsensusGroupID, namespace string) (Region, error) {
	var regionPath string
	if f.kind != kvstore.MemoryKVType {
		regionPath = filepath.Join(f.dataDir, gid.Type.String(), strconv.Itoa(int(gid.ID)))
	}
	store, err := kvstore.NewKVStore(ctx, regionPath, f.kind, &kvstore.Option{CreateIfMissing: true, Sync: true})
	if err != nil {
		return nil, errors.Info(err, "open region store failed", gid)
	}
	base := baseRegion{
		gid:       gid,
		namespace: namespace,
		status:    int32(StatusActive),
		path:      regionPath,
		store:     store,
	}
	switch gid.Type {
	case proto.SchemaRegion:
		return &SchemaRegion{baseRegion: base}, nil
	case proto.DataRegion:
		return &DataRegion{baseRegion: base, now: nowMilli}, nil
	default:
		store.Close()
		return nil, apierrors.ErrUnsupportedGroupType
	}
}
