/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package objpath reads and writes nested JSON-decoded data (maps, slices and scalars)
// using dot-separated paths like "rest.0.resource" or "code.coding..code".
//
// An empty path segment (as in "a..b", or a leading or trailing dot) means
// "map over the current slice": the rest of the path is evaluated against every element
// and the per-element results are returned as a slice.
// Numeric segments index slices. Literal dots inside keys cannot be expressed.
package objpath

import (
	"strconv"
	"strings"
)

// Path is a parsed dot-separated path.
type Path []string

// Parse splits the path into segments. A blank path parses to an empty Path which addresses the root.
func Parse(path string) Path {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// String returns the dot-separated representation of the path.
func (p Path) String() string {
	return strings.Join(p, ".")
}

// Get returns the value addressed by path inside root.
// It returns nil if any intermediate value is missing or cannot be indexed.
func Get(root interface{}, path string) interface{} {
	return Parse(path).Get(root)
}

// Set writes value at path inside root and returns the root.
// Maps are modified in place. Slices that have to grow are re-allocated,
// so the returned value must be used when root itself is a slice.
// If createEmpty is true, missing intermediate containers are created:
// a slice when the next segment is a non-negative integer, a map otherwise.
func Set(root interface{}, path string, value interface{}, createEmpty bool) interface{} {
	return Parse(path).Set(root, value, createEmpty)
}

// Get evaluates the path against root.
func (p Path) Get(root interface{}) interface{} {
	node := root
	for i, seg := range p {
		if node == nil {
			return nil
		}
		if seg == "" {
			if items, ok := node.([]interface{}); ok {
				rest := p[i+1:].tail()
				result := make([]interface{}, len(items))
				for j := range items {
					result[j] = rest.Get(items[j])
				}
				return result
			}
		}
		node = child(node, seg)
	}
	return node
}

// Set writes value at the path inside root and returns the (possibly re-allocated) root.
func (p Path) Set(root interface{}, value interface{}, createEmpty bool) interface{} {
	if len(p) == 0 {
		return root
	}
	return p.set(root, value, createEmpty)
}

func (p Path) set(node interface{}, value interface{}, createEmpty bool) interface{} {
	seg := p[0]
	rest := p[1:]

	if seg == "" {
		if items, ok := node.([]interface{}); ok {
			rest = rest.tail()
			if len(rest) == 0 {
				for j := range items {
					items[j] = value
				}
				return items
			}
			for j := range items {
				items[j] = rest.set(items[j], value, createEmpty)
			}
			return items
		}
	}

	switch container := node.(type) {
	case map[string]interface{}:
		if len(rest) == 0 {
			container[seg] = value
			return container
		}
		next, exists := container[seg]
		if (!exists || next == nil) && createEmpty {
			next = newContainerFor(rest[0])
		}
		if next == nil {
			return container
		}
		container[seg] = rest.set(next, value, createEmpty)
		return container

	case []interface{}:
		idx, ok := parseIndex(seg)
		if !ok {
			return container
		}
		if !canGrow(container, idx) {
			return container
		}
		if len(rest) == 0 {
			container = grow(container, idx)
			container[idx] = value
			return container
		}
		var next interface{}
		if idx < len(container) {
			next = container[idx]
		}
		if next == nil {
			if !createEmpty {
				return container
			}
			next = newContainerFor(rest[0])
		}
		container = grow(container, idx)
		container[idx] = rest.set(next, value, createEmpty)
		return container
	}

	return node
}

// tail normalizes the remainder of a broadcast: a lone empty segment addresses the element itself.
func (p Path) tail() Path {
	if len(p) == 1 && p[0] == "" {
		return nil
	}
	return p
}

func child(node interface{}, seg string) interface{} {
	switch container := node.(type) {
	case map[string]interface{}:
		return container[seg]
	case []interface{}:
		if idx, ok := parseIndex(seg); ok && idx < len(container) {
			return container[idx]
		}
	}
	return nil
}

func newContainerFor(nextSeg string) interface{} {
	if isNumeric(nextSeg) {
		return []interface{}{}
	}
	return map[string]interface{}{}
}

// MaxSliceGap is how far past the end of a slice Set may write.
// Writes to larger indexes leave the slice as is.
const MaxSliceGap = 1024

func canGrow(items []interface{}, idx int) bool {
	return idx-len(items) < MaxSliceGap
}

func grow(items []interface{}, idx int) []interface{} {
	if idx < len(items) {
		return items
	}
	grown := make([]interface{}, idx+1)
	copy(grown, items)
	return grown
}

func parseIndex(seg string) (int, bool) {
	if !isNumeric(seg) {
		return 0, false
	}
	idx, err := strconv.Atoi(seg)
	if err != nil {
		return 0, false
	}
	return idx, true
}

func isNumeric(seg string) bool {
	if seg == "" {
		return false
	}
	for i := 0; i < len(seg); i++ {
		if seg[i] < '0' || seg[i] > '9' {
			return false
		}
	}
	return true
}
