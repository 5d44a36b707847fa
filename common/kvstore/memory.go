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
	"sync"

	"github.com/huandu/skiplist"
)

type memoryStore struct {
	lock   sync.RWMutex
	list   *skiplist.SkipList
	used   uint64
	closed bool
}

func newMemoryStore(ctx context.Context, path string, option *Option) (Store, error) {
	return &memoryStore{list: skiplist.New(skiplist.Bytes)}, nil
}

func (s *memoryStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	elem := s.list.Get(key)
	if elem == nil {
		return nil, ErrNotFound
	}
	return copyBytes(elem.Value.([]byte)), nil
}

func (s *memoryStore) SetRaw(ctx context.Context, key []byte, value []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.set(key, value)
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, key []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.delete(key)
	return nil
}

func (s *memoryStore) Write(ctx context.Context, batch *WriteBatch) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, op := range batch.ops {
		if op.delete {
			s.delete(op.key)
			continue
		}
		s.set(op.key, op.value)
	}
	return nil
}

func (s *memoryStore) set(key, value []byte) {
	if old := s.list.Get(key); old != nil {
		s.used -= uint64(len(key) + len(old.Value.([]byte)))
	}
	s.list.Set(copyBytes(key), copyBytes(value))
	s.used += uint64(len(key) + len(value))
}

func (s *memoryStore) delete(key []byte) {
	if elem := s.list.Remove(key); elem != nil {
		s.used -= uint64(len(key) + len(elem.Value.([]byte)))
	}
}

func (s *memoryStore) List(ctx context.Context, prefix []byte, marker []byte) ListReader {
	s.lock.RLock()
	defer s.lock.RUnlock()
	lr := &sliceListReader{}
	if s.closed {
		lr.err = ErrClosed
		return lr
	}
	for elem := s.list.Find(seekKey(prefix, marker)); elem != nil; elem = elem.Next() {
		key := elem.Key().([]byte)
		if !bytes.HasPrefix(key, prefix) {
			break
		}
		lr.keys = append(lr.keys, copyBytes(key))
		lr.values = append(lr.values, copyBytes(elem.Value.([]byte)))
	}
	return lr
}

func (s *memoryStore) Flush(ctx context.Context) error {
	return nil
}

func (s *memoryStore) Stats(ctx context.Context) (Stats, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return Stats{Used: s.used, Keys: uint64(s.list.Len())}, nil
}

func (s *memoryStore) Close() {
	s.lock.Lock()
	s.closed = true
	s.list = skiplist.New(skiplist.Bytes)
	s.used = 0
	s.lock.Unlock()
}
