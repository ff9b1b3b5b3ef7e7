package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Decode parses raw JSON into the generic tree form used by the backends.
// Numbers are kept as json.Number so re-encoding is lossless.
func Decode(raw json.RawMessage) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return v, nil
}

// Encode renders a tree value canonically (object keys sorted). Absent values
// encode to nil rather than "null".
func Encode(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	if bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	return raw, nil
}

// Normalize converts an arbitrary Go value into tree form.
func Normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return Decode(t)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return Decode(raw)
}

// Lookup returns the value found by walking segs from root, or nil.
func Lookup(root any, segs []string) any {
	cur := root
	for _, s := range segs {
		switch node := cur.(type) {
		case map[string]any:
			cur = node[s]
		case []any:
			i, err := strconv.Atoi(s)
			if err != nil || i < 0 || i >= len(node) {
				return nil
			}
			cur = node[i]
		default:
			return nil
		}
	}
	return cur
}

// Assign stores v at segs below root and returns the new root. Intermediate
// objects are created as needed; a nil v removes the key.
func Assign(root any, segs []string, v any) any {
	if len(segs) == 0 {
		return v
	}
	head, rest := segs[0], segs[1:]
	switch node := root.(type) {
	case map[string]any:
		child := Assign(node[head], rest, v)
		if child == nil {
			delete(node, head)
		} else {
			node[head] = child
		}
		return node
	case []any:
		if i, err := strconv.Atoi(head); err == nil && i >= 0 && i < len(node) {
			node[i] = Assign(node[i], rest, v)
			return node
		}
	}
	child := Assign(nil, rest, v)
	if child == nil {
		return root
	}
	return map[string]any{head: child}
}

// Merge assigns every field below segs. Field keys may be nested paths. All
// fields are validated before any is assigned, so on error root is untouched.
func Merge(root any, segs []string, fields map[string]any) (any, error) {
	type change struct {
		segs  []string
		value any
	}
	changes := make([]change, 0, len(fields))
	for key, value := range fields {
		sub, err := Split(key)
		if err != nil {
			return root, err
		}
		if len(sub) == 0 {
			return root, fmt.Errorf("%w: empty field key", ErrInvalidPath)
		}
		normalized, err := Normalize(value)
		if err != nil {
			return root, err
		}
		full := make([]string, 0, len(segs)+len(sub))
		full = append(append(full, segs...), sub...)
		changes = append(changes, change{segs: full, value: normalized})
	}
	for _, c := range changes {
		root = Assign(root, c.segs, c.value)
	}
	return root, nil
}
