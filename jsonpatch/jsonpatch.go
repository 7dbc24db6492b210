/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package jsonpatch validates JSON Patch (RFC 6902) documents before they are sent to a FHIR server.
package jsonpatch

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Operation names.
const (
	OpAdd     = "add"
	OpReplace = "replace"
	OpTest    = "test"
	OpMove    = "move"
	OpCopy    = "copy"
	OpRemove  = "remove"
)

// ErrInvalidPatch is matched (via errors.Is) by every validation error.
var ErrInvalidPatch = errors.New("invalid JSON patch")

// ValidationError describes why a patch document is invalid.
// Index is the position of the offending operation, or -1 if the document itself is invalid.
type ValidationError struct {
	Index  int
	Op     string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return "invalid JSON patch: " + e.Reason
	}
	return fmt.Sprintf("invalid JSON patch operation #%d (%q): %s", e.Index, e.Op, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidPatch
}

// Operation is a single validated patch operation.
type Operation struct {
	Op    string
	Path  string
	Value interface{}
	From  string
}

// MarshalJSON encodes exactly the fields the operation kind requires, so a null value of "add" is kept.
func (o Operation) MarshalJSON() ([]byte, error) {
	m := map[string]interface{}{"op": o.Op, "path": o.Path}
	switch o.Op {
	case OpAdd, OpReplace, OpTest:
		m["value"] = o.Value
	case OpMove, OpCopy:
		m["from"] = o.From
	}
	return json.Marshal(m)
}

// Assert validates the JSON-decoded patch document:
//   - it is a non-empty list of objects;
//   - every operation has a known "op" and a non-empty string "path";
//   - "add", "replace" and "test" have a "value" and no other fields;
//   - "move" and "copy" have a string "from" and no other fields;
//   - "remove" has no other fields.
func Assert(patch interface{}) error {
	var ops []map[string]interface{}
	switch p := patch.(type) {
	case []map[string]interface{}:
		ops = p
	case []interface{}:
		ops = make([]map[string]interface{}, 0, len(p))
		for i, item := range p {
			m, ok := item.(map[string]interface{})
			if !ok {
				return &ValidationError{Index: i, Reason: "operation must be an object"}
			}
			ops = append(ops, m)
		}
	default:
		return &ValidationError{Index: -1, Reason: "the JSON patch must be an array"}
	}
	if len(ops) == 0 {
		return &ValidationError{Index: -1, Reason: "the JSON patch array should not be empty"}
	}
	for i, op := range ops {
		if err := assertOperation(i, op); err != nil {
			return err
		}
	}
	return nil
}

func assertOperation(index int, op map[string]interface{}) error {
	name, _ := op["op"].(string)
	newErr := func(reason string) error {
		return &ValidationError{Index: index, Op: name, Reason: reason}
	}

	switch name {
	case OpAdd, OpReplace, OpTest, OpMove, OpCopy, OpRemove:
	default:
		return newErr(`each patch operation must have an "op" property which must be one of: ` +
			`"add", "replace", "test", "move", "copy", "remove"`)
	}
	if path, ok := op["path"].(string); !ok || path == "" {
		return newErr(`missing "path" property`)
	}

	switch name {
	case OpAdd, OpReplace, OpTest:
		if _, ok := op["value"]; !ok {
			return newErr(`missing "value" property`)
		}
		if len(op) != 3 {
			return newErr("contains unknown properties")
		}
	case OpMove, OpCopy:
		if _, ok := op["from"].(string); !ok {
			return newErr(`requires a string "from" property`)
		}
		if len(op) != 3 {
			return newErr("contains unknown properties")
		}
	default:
		if len(op) != 2 {
			return newErr("contains unknown properties")
		}
	}
	return nil
}

// AssertDocument decodes the JSON document and validates it with Assert.
func AssertDocument(data []byte) error {
	_, err := Parse(data)
	return err
}

// Parse decodes and validates the JSON patch document.
func Parse(data []byte) ([]Operation, error) {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode json: %w", ErrInvalidPatch, err)
	}
	if err := Assert(doc); err != nil {
		return nil, err
	}
	items := doc.([]interface{})
	ops := make([]Operation, 0, len(items))
	for _, item := range items {
		m := item.(map[string]interface{})
		op := Operation{Value: m["value"]}
		op.Op, _ = m["op"].(string)
		op.Path, _ = m["path"].(string)
		op.From, _ = m["from"].(string)
		ops = append(ops, op)
	}
	return ops, nil
}
