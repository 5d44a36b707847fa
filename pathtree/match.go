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

package pathtree

import (
	"strings"

	"github.com/cubefs/datanode/proto"
)

// SplitPath splits a path into its nodes and checks it starts at root.
func SplitPath(path string) ([]string, error) {
	nodes := strings.Split(path, proto.PathSeparator)
	if nodes[0] != proto.PathRoot {
		return nil, ErrInvalidPath
	}
	for _, n := range nodes {
		if n == "" {
			return nil, ErrInvalidPath
		}
	}
	return nodes, nil
}

// IsPattern reports whether the path holds a wildcard node.
func IsPattern(path string) bool {
	for _, n := range strings.Split(path, proto.PathSeparator) {
		if n == proto.OneLevelWildcard || n == proto.MultiLevelWildcard {
			return true
		}
	}
	return false
}

// MatchPattern reports whether the full path is matched by pattern.
func MatchPattern(pattern, path string) bool {
	p, err := SplitPath(pattern)
	if err != nil {
		return false
	}
	s, err := SplitPath(path)
	if err != nil {
		return false
	}
	return matchNodes(p, s)
}

// PrefixOf returns the longest wildcard free prefix of pattern, e.g.
// root.sg.d1 for root.sg.d1.*.s1
func PrefixOf(pattern string) string {
	nodes := strings.Split(pattern, proto.PathSeparator)
	for i, n := range nodes {
		if n == proto.OneLevelWildcard || n == proto.MultiLevelWildcard {
			return strings.Join(nodes[:i], proto.PathSeparator)
		}
	}
	return pattern
}

func matchNode(pattern, name string) bool {
	return pattern == proto.OneLevelWildcard || pattern == name
}

func matchNodes(p, s []string) bool {
	if len(p) == 0 {
		return len(s) == 0
	}
	if p[0] == proto.MultiLevelWildcard {
		for i := 1; i <= len(s); i++ {
			if matchNodes(p[1:], s[i:]) {
				return true
			}
		}
		return false
	}
	if len(s) == 0 || !matchNode(p[0], s[0]) {
		return false
	}
	return matchNodes(p[1:], s[1:])
}

// covers reports whether every path matched by b is matched by a. It is
// conservative, false may be returned for some covering pairs.
func covers(a, b []string) bool {
	if len(a) == 0 {
		return len(b) == 0
	}
	if a[0] == proto.MultiLevelWildcard {
		for i := 1; i <= len(b); i++ {
			if covers(a[1:], b[i:]) {
				return true
			}
		}
		return false
	}
	if len(b) == 0 || b[0] == proto.MultiLevelWildcard {
		return false
	}
	if a[0] == proto.OneLevelWildcard {
		return covers(a[1:], b[1:])
	}
	if b[0] == proto.OneLevelWildcard || a[0] != b[0] {
		return false
	}
	return covers(a[1:], b[1:])
}
