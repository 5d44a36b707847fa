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
	"sync"
)

const (
	MemoryKVType = KVType("memory")
	BoltKVType   = KVType("bolt")
	PebbleKVType = KVType("pebble")
)

var (
	ErrNotFound       = errors.New("key not found")
	ErrKVTypeNotFound = errors.New("kv type not found")
	ErrClosed         = errors.New("kv store closed")
)

type (
	KVType string

	Store interface {
		Get(ctx context.Context, key []byte) (value []byte, err error)
		SetRaw(ctx context.Context, key []byte, value []byte) error
		Delete(ctx context.Context, key []byte) error
		// List iterates keys with prefix in order, starting at marker when it is set.
		List(ctx context.Context, prefix []byte, marker []byte) ListReader
		Write(ctx context.Context, batch *WriteBatch) error
		Flush(ctx context.Context) error
		Stats(ctx context.Context) (Stats, error)
		Close()
	}
	ListReader interface {
		// ReadNextCopy returns nil key and nil error when the iteration is done.
		ReadNextCopy() (key []byte, value []byte, err error)
		Close()
	}

	Stats struct {
		Used uint64 `json:"used"`
		Keys uint64 `json:"keys"`
	}
	Option struct {
		Sync            bool
		CreateIfMissing bool
	}

	openFunc func(ctx context.Context, path string, option *Option) (Store, error)
)

var (
	enginesMu sync.RWMutex
	engines   = map[KVType]openFunc{
		MemoryKVType: newMemoryStore,
		BoltKVType:   newBoltStore,
		PebbleKVType: newPebbleStore,
	}
)

// Register adds an engine kind, later registrations replace earlier ones.
func Register(kvType KVType, open func(ctx context.Context, path string, option *Option) (Store, error)) {
	enginesMu.Lock()
	engines[kvType] = open
	enginesMu.Unlock()
}

func Supported(kvType KVType) bool {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	_, ok := engines[kvType]
	return ok
}

func NewKVStore(ctx context.Context, path string, kvType KVType, option *Option) (Store, error) {
	enginesMu.RLock()
	open, ok := engines[kvType]
	enginesMu.RUnlock()
	if !ok {
		return nil, ErrKVTypeNotFound
	}
	if option == nil {
		option = &Option{CreateIfMissing: true}
	}
	return open(ctx, path, option)
}

type batchOp struct {
	key    []byte
	value  []byte
	delete bool
}

// WriteBatch collects puts and deletes applied atomically by Store.Write.
type WriteBatch struct {
	ops []batchOp
}

func NewWriteBatch() *WriteBatch {
	return &WriteBatch{}
}

func (w *WriteBatch) Put(key, value []byte) {
	w.ops = append(w.ops, batchOp{key: key, value: value})
}

func (w *WriteBatch) Delete(key []byte) {
	w.ops = append(w.ops, batchOp{key: key, delete: true})
}

func (w *WriteBatch) Count() int {
	return len(w.ops)
}

// sliceListReader serves engines that copy the listed range out of a read
// transaction.
type sliceListReader struct {
	keys   [][]byte
	values [][]byte
	err    error
	idx    int
}

func (lr *sliceListReader) ReadNextCopy() (key []byte, value []byte, err error) {
	if lr.err != nil {
		return nil, nil, lr.err
	}
	if lr.idx >= len(lr.keys) {
		return nil, nil, nil
	}
	key, value = lr.keys[lr.idx], lr.values[lr.idx]
	lr.idx++
	return
}

func (lr *sliceListReader) Close() {
	lr.keys, lr.values = nil, nil
}

func seekKey(prefix, marker []byte) []byte {
	if len(marker) > 0 && string(marker) > string(prefix) {
		return marker
	}
	return prefix
}

// prefixEnd returns the smallest key greater than every key with prefix, nil
// when there is none.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
