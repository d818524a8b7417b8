// Package jsonpatch applies the add, remove and replace operations of
// RFC 6902 to decoded JSON documents. PATCH requests only need this
// subset; move, copy and test are rejected.
package jsonpatch

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Operation is a single RFC 6902 patch operation.
type Operation struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value,omitempty"`
}

var errPathNotFound = errors.New("path not found")

// Apply applies the operations to doc in order and returns the patched
// document. doc is not modified; containers along changed paths are
// copied.
func Apply(doc map[string]interface{}, ops []Operation) (map[string]interface{}, error) {
	out := copyMap(doc)
	for i, op := range ops {
		var err error
		switch op.Op {
		case "add":
			err = apply(out, op.Path, op.Value, modeAdd)
		case "replace":
			err = apply(out, op.Path, op.Value, modeReplace)
		case "remove":
			err = apply(out, op.Path, nil, modeRemove)
		default:
			err = fmt.Errorf("unsupported op %q", op.Op)
		}
		if err != nil {
			return nil, fmt.Errorf("operation %d (%s %s): %w", i, op.Op, op.Path, err)
		}
	}
	return out, nil
}

type mode int

const (
	modeAdd mode = iota
	modeReplace
	modeRemove
)

func apply(doc map[string]interface{}, path string, value interface{}, m mode) error {
	tokens, err := parsePointer(path)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return errors.New("empty path not supported")
	}

	parent, err := resolveParent(doc, tokens)
	if err != nil {
		return err
	}
	last := tokens[len(tokens)-1]

	switch container := parent.(type) {
	case map[string]interface{}:
		switch m {
		case modeAdd:
			container[last] = value
		case modeReplace:
			if _, ok := container[last]; !ok {
				return errPathNotFound
			}
			container[last] = value
		case modeRemove:
			if _, ok := container[last]; !ok {
				return errPathNotFound
			}
			delete(container, last)
		}
		return nil
	case []interface{}:
		return applyToArray(doc, tokens, container, last, value, m)
	}
	return fmt.Errorf("cannot index into %T", parent)
}

// applyToArray handles the final token addressing an array element.
// "-" appends for add. Array mutation reassigns the slice into the
// grandparent because append and delete change its identity.
func applyToArray(doc map[string]interface{}, tokens []string, arr []interface{}, last string, value interface{}, m mode) error {
	if last == "-" {
		if m != modeAdd {
			return errors.New(`"-" is only valid for add`)
		}
		return setInGrandparent(doc, tokens, append(arr, value))
	}

	idx, err := strconv.Atoi(last)
	if err != nil || idx < 0 {
		return fmt.Errorf("invalid array index %q", last)
	}

	switch m {
	case modeAdd:
		if idx > len(arr) {
			return errPathNotFound
		}
		arr = append(arr, nil)
		copy(arr[idx+1:], arr[idx:])
		arr[idx] = value
		return setInGrandparent(doc, tokens, arr)
	case modeReplace:
		if idx >= len(arr) {
			return errPathNotFound
		}
		arr[idx] = value
		return nil
	case modeRemove:
		if idx >= len(arr) {
			return errPathNotFound
		}
		return setInGrandparent(doc, tokens, append(arr[:idx], arr[idx+1:]...))
	}
	return nil
}

// setInGrandparent writes a mutated slice back into the container one
// level above the final token.
func setInGrandparent(doc map[string]interface{}, tokens []string, arr []interface{}) error {
	if len(tokens) < 2 {
		return errors.New("cannot replace the document root")
	}
	grand, err := resolveParent(doc, tokens[:len(tokens)-1])
	if err != nil {
		return err
	}
	key := tokens[len(tokens)-2]
	switch container := grand.(type) {
	case map[string]interface{}:
		container[key] = arr
		return nil
	case []interface{}:
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= len(container) {
			return fmt.Errorf("invalid array index %q", key)
		}
		container[idx] = arr
		return nil
	}
	return fmt.Errorf("cannot index into %T", grand)
}

// resolveParent walks the pointer down to the container holding the
// final token.
func resolveParent(doc map[string]interface{}, tokens []string) (interface{}, error) {
	var current interface{} = doc
	for _, token := range tokens[:len(tokens)-1] {
		switch container := current.(type) {
		case map[string]interface{}:
			next, ok := container[token]
			if !ok {
				return nil, errPathNotFound
			}
			current = next
		case []interface{}:
			idx, err := strconv.Atoi(token)
			if err != nil || idx < 0 || idx >= len(container) {
				return nil, fmt.Errorf("invalid array index %q", token)
			}
			current = container[idx]
		default:
			return nil, fmt.Errorf("cannot index into %T", current)
		}
	}
	return current, nil
}

// parsePointer splits an RFC 6901 pointer and unescapes ~1 and ~0.
func parsePointer(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("pointer %q must start with /", path)
	}
	parts := strings.Split(path[1:], "/")
	for i, p := range parts {
		p = strings.ReplaceAll(p, "~1", "/")
		parts[i] = strings.ReplaceAll(p, "~0", "~")
	}
	return parts, nil
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return copyMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, e := range val {
			out[i] = copyValue(e)
		}
		return out
	}
	return v
}
