// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package schema implements the JSON-schema-subset validator run before every
// tool call.
//
// The dialect is intentionally small: type (object/array/string/number/
// integer/boolean/null), enum, properties, required, items, minItems,
// maxItems, additionalProperties:false. Validation stops at the first
// violation and reports a path-qualified message like
// "$.textures[0].width: expected number, got string".
//
// Thread Safety:
//
//	Schemas are plain data; Validate is a pure function and safe for
//	concurrent use.
package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Schema is one node of the supported JSON-schema subset.
type Schema struct {
	Type                 string             `json:"type,omitempty"`
	Enum                 []any              `json:"enum,omitempty"`
	Properties           map[string]*Schema `json:"properties,omitempty"`
	Required             []string           `json:"required,omitempty"`
	Items                *Schema            `json:"items,omitempty"`
	MinItems             *int               `json:"minItems,omitempty"`
	MaxItems             *int               `json:"maxItems,omitempty"`
	AdditionalProperties *bool              `json:"additionalProperties,omitempty"`
	Description          string             `json:"description,omitempty"`
}

// Object is a convenience constructor for an object schema with
// additionalProperties:false.
func Object(props map[string]*Schema, required ...string) *Schema {
	no := false
	return &Schema{Type: "object", Properties: props, Required: required, AdditionalProperties: &no}
}

// OpenObject is like Object but tolerates unknown properties.
func OpenObject(props map[string]*Schema, required ...string) *Schema {
	return &Schema{Type: "object", Properties: props, Required: required}
}

// Array returns an array schema over item.
func Array(item *Schema) *Schema { return &Schema{Type: "array", Items: item} }

// String returns a string schema.
func String() *Schema { return &Schema{Type: "string"} }

// Number returns a number schema.
func Number() *Schema { return &Schema{Type: "number"} }

// Integer returns an integer schema.
func Integer() *Schema { return &Schema{Type: "integer"} }

// Boolean returns a boolean schema.
func Boolean() *Schema { return &Schema{Type: "boolean"} }

// Enum returns a string schema restricted to the given values.
func Enum(values ...string) *Schema {
	enum := make([]any, len(values))
	for i, v := range values {
		enum[i] = v
	}
	return &Schema{Type: "string", Enum: enum}
}

// ValidationError is a single schema violation with its JSON path.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validate checks value against s and returns the first violation, or nil.
//
// # Description
//
// Walks value and schema together, accumulating a JSON path rooted at "$".
// Numeric checks reject NaN and ±Inf. An "integer" type accepts float64
// values with no fractional part (the JSON decoder produces float64) and
// json.Number values that parse as int64.
//
// # Inputs
//
//   - s: schema node, may be nil (nil schema accepts anything).
//   - value: decoded JSON value (map[string]any / []any / string / float64 /
//     bool / nil / json.Number).
//
// # Outputs
//
//   - *ValidationError: first violation found, or nil when valid.
func Validate(s *Schema, value any) *ValidationError {
	return validate(s, value, "$")
}

func validate(s *Schema, value any, path string) *ValidationError {
	if s == nil {
		return nil
	}

	if s.Type != "" {
		if err := checkType(s.Type, value, path); err != nil {
			return err
		}
	}

	if len(s.Enum) > 0 {
		if err := checkEnum(s.Enum, value, path); err != nil {
			return err
		}
	}

	switch v := value.(type) {
	case map[string]any:
		if s.Type != "" && s.Type != "object" {
			return nil
		}
		for _, req := range s.Required {
			if _, ok := v[req]; !ok {
				return &ValidationError{Path: path + "." + req, Message: "required property missing"}
			}
		}
		if s.AdditionalProperties != nil && !*s.AdditionalProperties {
			var unknown []string
			for k := range v {
				if _, ok := s.Properties[k]; !ok {
					unknown = append(unknown, k)
				}
			}
			if len(unknown) > 0 {
				sort.Strings(unknown)
				return &ValidationError{Path: path + "." + unknown[0], Message: "unexpected property"}
			}
		}
		// Deterministic walk order keeps "first violation" stable.
		keys := make([]string, 0, len(s.Properties))
		for k := range s.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			child, ok := v[k]
			if !ok {
				continue
			}
			if err := validate(s.Properties[k], child, path+"."+k); err != nil {
				return err
			}
		}
	case []any:
		if s.Type != "" && s.Type != "array" {
			return nil
		}
		if s.MinItems != nil && len(v) < *s.MinItems {
			return &ValidationError{Path: path, Message: fmt.Sprintf("expected at least %d items, got %d", *s.MinItems, len(v))}
		}
		if s.MaxItems != nil && len(v) > *s.MaxItems {
			return &ValidationError{Path: path, Message: fmt.Sprintf("expected at most %d items, got %d", *s.MaxItems, len(v))}
		}
		if s.Items != nil {
			for i, item := range v {
				if err := validate(s.Items, item, fmt.Sprintf("%s[%d]", path, i)); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

func checkType(want string, value any, path string) *ValidationError {
	got := typeName(value)
	switch want {
	case "object", "array", "string", "boolean", "null":
		if got != want {
			return typeMismatch(want, got, path)
		}
	case "number":
		f, ok := asFloat(value)
		if !ok {
			return typeMismatch(want, got, path)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return &ValidationError{Path: path, Message: "number must be finite"}
		}
	case "integer":
		f, ok := asFloat(value)
		if !ok {
			return typeMismatch(want, got, path)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			return &ValidationError{Path: path, Message: fmt.Sprintf("expected integer, got %v", value)}
		}
	default:
		return &ValidationError{Path: path, Message: fmt.Sprintf("unsupported schema type %q", want)}
	}
	return nil
}

func typeMismatch(want, got, path string) *ValidationError {
	return &ValidationError{Path: path, Message: fmt.Sprintf("expected %s, got %s", want, got)}
}

func checkEnum(enum []any, value any, path string) *ValidationError {
	for _, allowed := range enum {
		if enumEqual(allowed, value) {
			return nil
		}
	}
	parts := make([]string, len(enum))
	for i, allowed := range enum {
		parts[i] = fmt.Sprintf("%v", allowed)
	}
	return &ValidationError{Path: path, Message: fmt.Sprintf("value %v not in enum [%s]", value, strings.Join(parts, ", "))}
}

func enumEqual(allowed, value any) bool {
	if af, ok := asFloat(allowed); ok {
		vf, ok2 := asFloat(value)
		return ok2 && af == vf
	}
	return allowed == value
}

func asFloat(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func typeName(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case float64, float32, int, int64, json.Number:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", value)
	}
}
