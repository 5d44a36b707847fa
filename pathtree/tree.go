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

// Package pathtree implements the path pattern tree used to carry sets of
// series path patterns between nodes.
package pathtree

import (
	"errors"
	"strings"

	"github.com/cubefs/datanode/proto"
	"google.golang.org/protobuf/encoding/protowire"
)

const wireVersion = 1

var (
	ErrInvalidPath  = errors.New("invalid path")
	ErrCorruptTree  = errors.New("corrupt path pattern tree")
	ErrWireVersion  = errors.New("unsupported path pattern tree version")
	ErrTrailingData = errors.New("trailing data after path pattern tree")
)

type node struct {
	name     string
	leaf     bool
	children []*node
	index    map[string]*node
}

func newNode(name string) *node {
	return &node{name: name}
}

func (n *node) child(name string) *node {
	if n.index == nil {
		return nil
	}
	return n.index[name]
}

func (n *node) addChild(c *node) *node {
	if exist := n.child(c.name); exist != nil {
		return exist
	}
	if n.index == nil {
		n.index = make(map[string]*node)
	}
	n.index[c.name] = c
	n.children = append(n.children, c)
	return c
}

// PathPatternTree is a prefix tree of path patterns. Children keep their
// insertion order so enumeration is stable across serialization.
type PathPatternTree struct {
	root *node
	size int
}

func New() *PathPatternTree {
	return &PathPatternTree{root: newNode(proto.PathRoot)}
}

// NewWithPatterns builds a compacted tree from patterns.
func NewWithPatterns(patterns ...string) (*PathPatternTree, error) {
	t := New()
	for _, p := range patterns {
		if err := t.AppendPath(p); err != nil {
			return nil, err
		}
	}
	t.ConstructTree()
	return t, nil
}

// AppendPath adds a full path or a path pattern, e.g. root.sg.**.s1
func (t *PathPatternTree) AppendPath(path string) error {
	nodes, err := SplitPath(path)
	if err != nil {
		return err
	}
	t.AppendNodes(nodes)
	return nil
}

// AppendNodes adds an already split path, nodes[0] must be root.
func (t *PathPatternTree) AppendNodes(nodes []string) {
	cur := t.root
	for _, name := range nodes[1:] {
		cur = cur.addChild(newNode(name))
	}
	if !cur.leaf {
		cur.leaf = true
		t.size++
	}
}

func (t *PathPatternTree) IsEmpty() bool {
	return t.size == 0
}

func (t *PathPatternTree) Size() int {
	return t.size
}

// Patterns enumerates the contained patterns in tree order.
func (t *PathPatternTree) Patterns() []string {
	ret := make([]string, 0, t.size)
	t.walk(func(nodes []string) {
		ret = append(ret, strings.Join(nodes, proto.PathSeparator))
	})
	return ret
}

func (t *PathPatternTree) patternNodes() [][]string {
	ret := make([][]string, 0, t.size)
	t.walk(func(nodes []string) {
		ret = append(ret, append([]string(nil), nodes...))
	})
	return ret
}

func (t *PathPatternTree) walk(f func(nodes []string)) {
	var visit func(n *node, prefix []string)
	visit = func(n *node, prefix []string) {
		prefix = append(prefix, n.name)
		if n.leaf {
			f(prefix)
		}
		for _, c := range n.children {
			visit(c, prefix)
		}
	}
	visit(t.root, make([]string, 0, 8))
}

// ConstructTree compacts the tree, a pattern covered by another pattern of
// the tree is dropped, e.g. root.sg.d1.s1 is dropped when root.sg.** exists.
func (t *PathPatternTree) ConstructTree() {
	patterns := t.patternNodes()
	kept := make([][]string, 0, len(patterns))
	for i, p := range patterns {
		covered := false
		for j, q := range patterns {
			if i == j {
				continue
			}
			// of two patterns covering each other keep the first one
			if covers(q, p) && (!covers(p, q) || j < i) {
				covered = true
				break
			}
		}
		if !covered {
			kept = append(kept, p)
		}
	}

	t.root = newNode(proto.PathRoot)
	t.size = 0
	for _, p := range kept {
		t.AppendNodes(p)
	}
}

// Merge appends every pattern of other.
func (t *PathPatternTree) Merge(other *PathPatternTree) {
	for _, p := range other.patternNodes() {
		t.AppendNodes(p)
	}
}

// Match reports whether any pattern of the tree matches the full path.
func (t *PathPatternTree) Match(path string) bool {
	nodes, err := SplitPath(path)
	if err != nil {
		return false
	}
	return matchTree(t.root, nodes)
}

func matchTree(n *node, path []string) bool {
	if !matchNode(n.name, path[0]) && n.name != proto.MultiLevelWildcard {
		return false
	}
	if n.name == proto.MultiLevelWildcard {
		// ** consumes one or more nodes
		for i := 1; i <= len(path); i++ {
			if i == len(path) {
				if n.leaf {
					return true
				}
				continue
			}
			for _, c := range n.children {
				if matchTree(c, path[i:]) {
					return true
				}
			}
		}
		return false
	}
	if len(path) == 1 {
		return n.leaf
	}
	for _, c := range n.children {
		if matchTree(c, path[1:]) {
			return true
		}
	}
	return false
}

// Serialize encodes the tree in pre-order: name, leaf flag and child count per node.
func (t *PathPatternTree) Serialize() []byte {
	b := protowire.AppendVarint(nil, wireVersion)
	b = protowire.AppendVarint(b, uint64(t.size))
	var encode func(n *node)
	encode = func(n *node) {
		b = protowire.AppendString(b, n.name)
		b = protowire.AppendVarint(b, protowire.EncodeBool(n.leaf))
		b = protowire.AppendVarint(b, uint64(len(n.children)))
		for _, c := range n.children {
			encode(c)
		}
	}
	encode(t.root)
	return b
}

func Deserialize(b []byte) (*PathPatternTree, error) {
	version, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return nil, ErrCorruptTree
	}
	if version != wireVersion {
		return nil, ErrWireVersion
	}
	b = b[n:]
	size, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return nil, ErrCorruptTree
	}
	b = b[n:]

	var decode func() (*node, error)
	decode = func() (*node, error) {
		name, n := protowire.ConsumeString(b)
		if n < 0 || name == "" {
			return nil, ErrCorruptTree
		}
		b = b[n:]
		leaf, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, ErrCorruptTree
		}
		b = b[n:]
		count, n := protowire.ConsumeVarint(b)
		if n < 0 || count > uint64(len(b)) {
			return nil, ErrCorruptTree
		}
		b = b[n:]

		ret := newNode(name)
		ret.leaf = protowire.DecodeBool(leaf)
		for i := uint64(0); i < count; i++ {
			c, err := decode()
			if err != nil {
				return nil, err
			}
			ret.addChild(c)
		}
		return ret, nil
	}

	root, err := decode()
	if err != nil {
		return nil, err
	}
	if len(b) != 0 {
		return nil, ErrTrailingData
	}
	if root.name != proto.PathRoot {
		return nil, ErrCorruptTree
	}
	t := &PathPatternTree{root: root}
	t.walk(func([]string) { t.size++ })
	if uint64(t.size) != size {
		return nil, ErrCorruptTree
	}
	return t, nil
}
