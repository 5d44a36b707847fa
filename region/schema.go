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
	"encoding/json"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"
	"github.com/cubefs/datanode/common/kvstore"
	apierrors "github.com/cubefs/datanode/errors"
	"github.com/cubefs/datanode/pathtree"
	"github.com/cubefs/datanode/plan"
	"github.com/cubefs/datanode/proto"
)

const seriesKeyPrefix = "s/"

type seriesMeta struct {
	Path     string `json:"path"`
	DataType string `json:"data_type"`
	// PreDeleted series are in the deletion blacklist, invisible to reads
	// until rolled back or deleted.
	PreDeleted bool `json:"pre_deleted,omitempty"`
}

// SchemaRegion keeps the series catalog of one namespace.
type SchemaRegion struct {
	baseRegion
}

func seriesKey(path string) []byte {
	return []byte(seriesKeyPrefix + path)
}

func (r *SchemaRegion) Apply(ctx context.Context, node plan.Node) (*plan.Result, error) {
	if err := r.checkActive(); err != nil {
		return nil, err
	}
	switch n := node.(type) {
	case *plan.CreateTimeSeries:
		return r.createTimeSeries(ctx, n)
	case *plan.FetchSeries:
		return r.fetchSeries(ctx, n.PathPatternTree)
	case *plan.ConstructSchemaBlackList:
		return r.constructSchemaBlackList(ctx, n.PathPatternTree)
	case *plan.RollbackSchemaBlackList:
		return r.rollbackSchemaBlackList(ctx, n.PathPatternTree)
	case *plan.FetchSchemaBlackList:
		return r.fetchSchemaBlackList(ctx, n.PathPatternTree)
	case *plan.DeleteTimeSeries:
		return r.deleteTimeSeries(ctx, n.PathPatternTree)
	default:
		return nil, apierrors.ErrUnsupportedOperation
	}
}

func (r *SchemaRegion) createTimeSeries(ctx context.Context, n *plan.CreateTimeSeries) (*plan.Result, error) {
	if _, err := pathtree.SplitPath(n.Path); err != nil || pathtree.IsPattern(n.Path) {
		return nil, apierrors.ErrInvalidPath
	}
	if !r.owns(n.Path) {
		return nil, apierrors.NewMetadataError("series " + n.Path + " is not under " + r.namespace)
	}
	_, err := r.store.Get(ctx, seriesKey(n.Path))
	if err == nil {
		return nil, apierrors.ErrSeriesAlreadyExist
	}
	if err != kvstore.ErrNotFound {
		return nil, errors.Info(err, "get series failed", n.Path)
	}
	b, err := json.Marshal(&seriesMeta{Path: n.Path, DataType: n.DataType})
	if err != nil {
		return nil, err
	}
	if err = r.store.SetRaw(ctx, seriesKey(n.Path), b); err != nil {
		return nil, errors.Info(err, "put series failed", n.Path)
	}
	return &plan.Result{Affected: 1}, nil
}

// matched returns the series matched by the serialized pattern tree.
func (r *SchemaRegion) matched(ctx context.Context, rawTree []byte) ([]*seriesMeta, error) {
	tree, err := pathtree.Deserialize(rawTree)
	if err != nil {
		return nil, apierrors.NewDecodeError("path pattern tree", err)
	}
	prefix := seriesKeyPrefix
	if r.namespace != "" {
		prefix += r.namespace + proto.PathSeparator
	}
	lr := r.store.List(ctx, []byte(prefix), nil)
	defer lr.Close()

	var ret []*seriesMeta
	for {
		_, v, err := lr.ReadNextCopy()
		if err != nil {
			return nil, errors.Info(err, "read next series failed")
		}
		if v == nil {
			return ret, nil
		}
		meta := new(seriesMeta)
		if err = json.Unmarshal(v, meta); err != nil {
			return nil, errors.Info(err, "unmarshal series failed")
		}
		if tree.Match(meta.Path) {
			ret = append(ret, meta)
		}
	}
}

func (r *SchemaRegion) fetchSeries(ctx context.Context, rawTree []byte) (*plan.Result, error) {
	series, err := r.matched(ctx, rawTree)
	if err != nil {
		return nil, err
	}
	ret := &plan.Result{}
	for _, meta := range series {
		if !meta.PreDeleted {
			ret.Series = append(ret.Series, &proto.SeriesSchema{Path: meta.Path, DataType: meta.DataType})
		}
	}
	return ret, nil
}

// markPreDeleted flips the blacklist flag of matched series and returns how
// many matched series end up with the wanted flag.
func (r *SchemaRegion) markPreDeleted(ctx context.Context, rawTree []byte, preDeleted bool) (int64, error) {
	series, err := r.matched(ctx, rawTree)
	if err != nil {
		return 0, err
	}
	batch := kvstore.NewWriteBatch()
	for _, meta := range series {
		if meta.PreDeleted == preDeleted {
			continue
		}
		meta.PreDeleted = preDeleted
		b, err := json.Marshal(meta)
		if err != nil {
			return 0, err
		}
		batch.Put(seriesKey(meta.Path), b)
	}
	if batch.Count() > 0 {
		if err = r.store.Write(ctx, batch); err != nil {
			return 0, errors.Info(err, "write series batch failed")
		}
	}
	return int64(len(series)), nil
}

func (r *SchemaRegion) constructSchemaBlackList(ctx context.Context, rawTree []byte) (*plan.Result, error) {
	n, err := r.markPreDeleted(ctx, rawTree, true)
	if err != nil {
		return nil, err
	}
	trace.SpanFromContextSafe(ctx).Debugf("region[%s] %d series pre deleted", r.gid, n)
	return &plan.Result{Affected: n}, nil
}

func (r *SchemaRegion) rollbackSchemaBlackList(ctx context.Context, rawTree []byte) (*plan.Result, error) {
	n, err := r.markPreDeleted(ctx, rawTree, false)
	if err != nil {
		return nil, err
	}
	return &plan.Result{Affected: n}, nil
}

func (r *SchemaRegion) fetchSchemaBlackList(ctx context.Context, rawTree []byte) (*plan.Result, error) {
	series, err := r.matched(ctx, rawTree)
	if err != nil {
		return nil, err
	}
	ret := &plan.Result{}
	for _, meta := range series {
		if meta.PreDeleted {
			ret.Paths = append(ret.Paths, meta.Path)
		}
	}
	return ret, nil
}

func (r *SchemaRegion) deleteTimeSeries(ctx context.Context, rawTree []byte) (*plan.Result, error) {
	series, err := r.matched(ctx, rawTree)
	if err != nil {
		return nil, err
	}
	batch := kvstore.NewWriteBatch()
	for _, meta := range series {
		if meta.PreDeleted {
			batch.Delete(seriesKey(meta.Path))
		}
	}
	if batch.Count() > 0 {
		if err = r.store.Write(ctx, batch); err != nil {
			return nil, errors.Info(err, "delete series failed")
		}
	}
	return &plan.Result{Affected: int64(batch.Count())}, nil
}

// Merge has nothing to compact in the series catalog.
func (r *SchemaRegion) Merge(ctx context.Context) error {
	return r.Flush(ctx)
}

func (r *SchemaRegion) SetTTL(ttl proto.TTL) {}

func (r *SchemaRegion) TTL() proto.TTL { return 0 }

func (r *SchemaRegion) Stats(ctx context.Context) (Stats, error) {
	return r.stats(ctx, 0)
}
