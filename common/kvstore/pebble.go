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

package kvstore

import (
	"context"
	"errors"

	"github.com/cockroachdb/pebble"
)

type pebbleStore struct {
	db        *pebble.DB
	writeOpts *pebble.WriteOptions
}

func newPebbleStore(ctx context.Context, path string, option *Option) (Store, error) {
	opts := &pebble.Options{ErrorIfNotExists: !option.CreateIfMissing}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, err
	}
	writeOpts := pebble.NoSync
	if option.Sync {
		writeOpts = pebble.Sync
	}
	return &pebbleStore{db: db, writeOpts: writeOpts}, nil
}

func (s *pebbleStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	v, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	value := copyBytes(v)
	closer.Close()
	return value, nil
}

func (s *pebbleStore) SetRaw(ctx context.Context, key []byte, value []byte) error {
	return s.db.Set(key, value, s.writeOpts)
}

func (s *pebbleStore) Delete(ctx context.Context, key []byte) error {
	return s.db.Delete(key, s.writeOpts)
}

func (s *pebbleStore) Write(ctx context.Context, batch *WriteBatch) error {
	b := s.db.NewBatch()
	defer b.Close()
	for _, op := range batch.ops {
		var err error
		if op.delete {
			err = b.Delete(op.key, nil)
		} else {
			err = b.Set(op.key, op.value, nil)
		}
		if err != nil {
			return err
		}
	}
	return b.Commit(s.writeOpts)
}

func (s *pebbleStore) List(ctx context.Context, prefix []byte, marker []byte) ListReader {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return &sliceListReader{err: err}
	}
	return &pebbleListReader{iter: iter, seek: seekKey(prefix, marker)}
}

func (s *pebbleStore) Flush(ctx context.Context) error {
	return s.db.Flush()
}

func (s *pebbleStore) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Used: s.db.Metrics().DiskSpaceUsage()}
	iter, err := s.db.NewIter(nil)
	if err != nil {
		return stats, err
	}
	defer iter.Close()
	for valid := iter.First(); valid; valid = iter.Next() {
		stats.Keys++
	}
	return stats, iter.Error()
}

func (s *pebbleStore) Close() {
	s.db.Close()
}

type pebbleListReader struct {
	iter    *pebble.Iterator
	seek    []byte
	started bool
}

func (lr *pebbleListReader) ReadNextCopy() (key []byte, value []byte, err error) {
	var valid bool
	if !lr.started {
		lr.started = true
		valid = lr.iter.SeekGE(lr.seek)
	} else {
		valid = lr.iter.Next()
	}
	if !valid {
		return nil, nil, lr.iter.Error()
	}
	return copyBytes(lr.iter.Key()), copyBytes(lr.iter.Value()), nil
}

func (lr *pebbleListReader) Close() {
	lr.iter.Close()
}
