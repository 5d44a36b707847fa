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
	"encoding/binary"
	"math"
	"sync/atomic"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"
	"github.com/cubefs/datanode/common/kvstore"
	apierrors "github.com/cubefs/datanode/errors"
	"github.com/cubefs/datanode/pathtree"
	"github.com/cubefs/datanode/plan"
	"github.com/cubefs/datanode/proto"
)

const pointKeyPrefix = "d/"

func nowMilli() int64 {
	return time.Now().UnixMilli()
}

// DataRegion keeps the points of one namespace. A point key is
// d/<path>\x00<timestamp> with the timestamp encoded to sort numerically.
type DataRegion struct {
	baseRegion
	ttl int64
	now func() int64
}

func pointKey(path string, ts int64) []byte {
	key := make([]byte, 0, len(pointKeyPrefix)+len(path)+9)
	key = append(key, pointKeyPrefix...)
	key = append(key, path...)
	key = append(key, 0)
	return binary.BigEndian.AppendUint64(key, uint64(ts)^(1<<63))
}

func parsePointKey(key []byte) (path string, ts int64, ok bool) {
	if len(key) < len(pointKeyPrefix)+9 || key[len(key)-9] != 0 {
		return "", 0, false
	}
	path = string(key[len(pointKeyPrefix) : len(key)-9])
	ts = int64(binary.BigEndian.Uint64(key[len(key)-8:]) ^ (1 << 63))
	return path, ts, true
}

func (r *DataRegion) SetTTL(ttl proto.TTL) {
	atomic.StoreInt64(&r.ttl, ttl)
}

func (r *DataRegion) TTL() proto.TTL {
	return atomic.LoadInt64(&r.ttl)
}

// expireBefore returns the oldest live timestamp, math.MinInt64 without ttl.
func (r *DataRegion) expireBefore() int64 {
	ttl := r.TTL()
	if ttl <= 0 {
		return math.MinInt64
	}
	return r.now() - ttl
}

func (r *DataRegion) Apply(ctx context.Context, node plan.Node) (*plan.Result, error) {
	if err := r.checkActive(); err != nil {
		return nil, err
	}
	switch n := node.(type) {
	case *plan.InsertRow:
		return r.insertRow(ctx, n)
	case *plan.Query:
		return r.query(ctx, n)
	case *plan.DeleteData:
		return r.deleteData(ctx, n)
	default:
		return nil, apierrors.ErrUnsupportedOperation
	}
}

func (r *DataRegion) insertRow(ctx context.Context, n *plan.InsertRow) (*plan.Result, error) {
	if _, err := pathtree.SplitPath(n.Path); err != nil || pathtree.IsPattern(n.Path) {
		return nil, apierrors.ErrInvalidPath
	}
	if !r.owns(n.Path) {
		return nil, apierrors.NewMetadataError("series " + n.Path + " is not under " + r.namespace)
	}
	if n.Timestamp < r.expireBefore() {
		return nil, apierrors.NewExecutionError(errors.New("point is out of ttl"))
	}
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], math.Float64bits(n.Value))
	if err := r.store.SetRaw(ctx, pointKey(n.Path, n.Timestamp), v[:]); err != nil {
		return nil, errors.Info(err, "put point failed", n.Path)
	}
	return &plan.Result{Affected: 1}, nil
}

// scan visits the live points under prefix.
func (r *DataRegion) scan(ctx context.Context, prefix string, f func(key []byte, path string, ts int64, value []byte)) error {
	lr := r.store.List(ctx, []byte(pointKeyPrefix+prefix), nil)
	defer lr.Close()
	for {
		key, value, err := lr.ReadNextCopy()
		if err != nil {
			return errors.Info(err, "read next point failed")
		}
		if key == nil {
			return nil
		}
		path, ts, ok := parsePointKey(key)
		if !ok {
			continue
		}
		f(key, path, ts, value)
	}
}

func (r *DataRegion) query(ctx context.Context, n *plan.Query) (*plan.Result, error) {
	if _, err := pathtree.SplitPath(n.PathPattern); err != nil {
		return nil, apierrors.ErrInvalidPattern
	}
	start := n.StartTime
	if oldest := r.expireBefore(); start < oldest {
		start = oldest
	}
	ret := &plan.Result{}
	err := r.scan(ctx, pathtree.PrefixOf(n.PathPattern), func(_ []byte, path string, ts int64, value []byte) {
		if ts < start || ts >= n.EndTime || len(value) != 8 || !pathtree.MatchPattern(n.PathPattern, path) {
			return
		}
		ret.Points = append(ret.Points, plan.Point{
			Path:      path,
			Timestamp: ts,
			Value:     math.Float64frombits(binary.BigEndian.Uint64(value)),
		})
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (r *DataRegion) deleteData(ctx context.Context, n *plan.DeleteData) (*plan.Result, error) {
	tree, err := pathtree.Deserialize(n.PathPatternTree)
	if err != nil {
		return nil, apierrors.NewDecodeError("path pattern tree", err)
	}
	batch := kvstore.NewWriteBatch()
	err = r.scan(ctx, r.namespace, func(key []byte, path string, ts int64, _ []byte) {
		if ts >= n.StartTime && ts < n.EndTime && tree.Match(path) {
			batch.Delete(key)
		}
	})
	if err != nil {
		return nil, err
	}
	if batch.Count() > 0 {
		if err = r.store.Write(ctx, batch); err != nil {
			return nil, errors.Info(err, "delete points failed")
		}
	}
	return &plan.Result{Affected: int64(batch.Count())}, nil
}

func (r *DataRegion) Merge(ctx context.Context) error {
	oldest := r.expireBefore()
	if oldest == math.MinInt64 {
		return r.Flush(ctx)
	}
	batch := kvstore.NewWriteBatch()
	err := r.scan(ctx, r.namespace, func(key []byte, _ string, ts int64, _ []byte) {
		if ts < oldest {
			batch.Delete(key)
		}
	})
	if err != nil {
		return err
	}
	if batch.Count() > 0 {
		if err = r.store.Write(ctx, batch); err != nil {
			return errors.Info(err, "purge expired points failed")
		}
		trace.SpanFromContextSafe(ctx).Infof("region[%s] purged %d expired points", r.gid, batch.Count())
	}
	return r.Flush(ctx)
}

func (r *DataRegion) Stats(ctx context.Context) (Stats, error) {
	return r.stats(ctx, r.TTL())
}
