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
	"bytes"
	"context"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

const (
	boltFileName = "region.db"
	boltBucket   = "kv"
)

type boltStore struct {
	db *bolt.DB
}

func newBoltStore(ctx context.Context, path string, option *Option) (Store, error) {
	if option.CreateIfMissing {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := bolt.Open(filepath.Join(path, boltFileName), 0o600, &bolt.Options{Timeout: 0, NoSync: !option.Sync})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltBucket))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) Get(ctx context.Context, key []byte) (value []byte, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(boltBucket)).Get(key)
		if v == nil {
			return ErrNotFound
		}
		// v is only valid inside the transaction
		value = copyBytes(v)
		return nil
	})
	return
}

func (s *boltStore) SetRaw(ctx context.Context, key []byte, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(boltBucket)).Put(key, value)
	})
}

func (s *boltStore) Delete(ctx context.Context, key []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(boltBucket)).Delete(key)
	})
}

func (s *boltStore) Write(ctx context.Context, batch *WriteBatch) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(boltBucket))
		for _, op := range batch.ops {
			var err error
			if op.delete {
				err = bucket.Delete(op.key)
			} else {
				err = bucket.Put(op.key, op.value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *boltStore) List(ctx context.Context, prefix []byte, marker []byte) ListReader {
	lr := &sliceListReader{}
	lr.err = s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(boltBucket)).Cursor()
		for k, v := c.Seek(seekKey(prefix, marker)); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			lr.keys = append(lr.keys, copyBytes(k))
			lr.values = append(lr.values, copyBytes(v))
		}
		return nil
	})
	return lr
}

func (s *boltStore) Flush(ctx context.Context) error {
	return s.db.Sync()
}

func (s *boltStore) Stats(ctx context.Context) (stats Stats, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		stats.Used = uint64(tx.Size())
		stats.Keys = uint64(tx.Bucket([]byte(boltBucket)).Stats().KeyN)
		return nil
	})
	return
}

func (s *boltStore) Close() {
	s.db.Close()
}
