// Package args validates and coerces inbound command arguments against a
// recursive type schema before a handler runs.
package args

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Coerce converts value to the given type tag, recursing into array items
// and object properties when schemas are provided. A nil value passes
// through unchanged. Unrecognized type tags pass the value through as-is.
func Coerce(argType string, value any, items, properties map[string]any) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch strings.ToLower(argType) {
	case "", "string":
		return coerceString(value), nil
	case "integer":
		return coerceInteger(value)
	case "number":
		return coerceNumber(value)
	case "boolean":
		return coerceBoolean(value)
	case "array":
		return coerceArray(value, items)
	case "object":
		return coerceObject(value, properties)
	default:
		return value, nil
	}
}

func coerceString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case map[string]any, []any:
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
	}
	return fmt.Sprint(value)
}

func coerceInteger(value any) (any, error) {
	switch v := value.(type) {
	case bool:
		return nil, fmt.Errorf("boolean value is not valid for integer argument")
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return nil, fmt.Errorf("cannot interpret '%v' as integer", v)
		}
		return int64(v), nil
	case json.Number:
		n, err := strconv.ParseInt(v.String(), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot interpret '%v' as integer", v)
		}
		return n, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot interpret '%v' as integer", v)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("cannot interpret '%v' as integer", value)
	}
}

func coerceNumber(value any) (any, error) {
	switch v := value.(type) {
	case bool:
		return nil, fmt.Errorf("boolean value is not valid for number argument")
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	case json.Number:
		n, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("cannot interpret '%v' as number", v)
		}
		return n, nil
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("cannot interpret '%v' as number", v)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("cannot interpret '%v' as number", value)
	}
}

func coerceBoolean(value any) (any, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "on":
			return true, nil
		case "false", "0", "no", "off":
			return false, nil
		}
		return nil, fmt.Errorf("cannot interpret '%v' as boolean", v)
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	default:
		return nil, fmt.Errorf("cannot interpret '%v' as boolean", value)
	}
}

func coerceArray(value any, items map[string]any) (any, error) {
	var arr []any
	switch v := value.(type) {
	case []any:
		arr = v
	case string:
		var parsed any
		if err := json.Unmarshal([]byte(v), &parsed); err != nil {
			return nil, fmt.Errorf("cannot interpret '%v' as array: %v", v, err)
		}
		list, ok := parsed.([]any)
		if !ok {
			return nil, fmt.Errorf("expected an array")
		}
		arr = list
	default:
		return nil, fmt.Errorf("expected an array")
	}

	if len(items) == 0 {
		return arr, nil
	}

	itemType := schemaType(items)
	itemItems, _ := items["items"].(map[string]any)
	itemProps, _ := items["properties"].(map[string]any)

	coerced := make([]any, 0, len(arr))
	for idx, item := range arr {
		out, err := Coerce(itemType, item, itemItems, itemProps)
		if err != nil {
			return nil, fmt.Errorf("array item at index %d is invalid: %v", idx, err)
		}
		coerced = append(coerced, out)
	}
	return coerced, nil
}

func coerceObject(value any, properties map[string]any) (any, error) {
	var obj map[string]any
	switch v := value.(type) {
	case map[string]any:
		obj = v
	case string:
		var parsed any
		if err := json.Unmarshal([]byte(v), &parsed); err != nil {
			return nil, fmt.Errorf("cannot interpret '%v' as object: %v", v, err)
		}
		m, ok := parsed.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected an object")
		}
		obj = m
	default:
		return nil, fmt.Errorf("expected an object")
	}

	if len(properties) == 0 {
		return obj, nil
	}

	coerced := make(map[string]any, len(obj))
	for propName, rawSchema := range properties {
		propSchema, _ := rawSchema.(map[string]any)
		propValue, present := obj[propName]
		if !present {
			if required, _ := propSchema["required"].(bool); required {
				return nil, fmt.Errorf("object is missing required property '%s'", propName)
			}
			continue
		}
		propItems, _ := propSchema["items"].(map[string]any)
		propProps, _ := propSchema["properties"].(map[string]any)
		out, err := Coerce(schemaType(propSchema), propValue, propItems, propProps)
		if err != nil {
			return nil, fmt.Errorf("object property '%s' is invalid: %v", propName, err)
		}
		coerced[propName] = out
	}

	// Undeclared keys pass through verbatim.
	for key, val := range obj {
		if _, ok := coerced[key]; !ok {
			if _, declared := properties[key]; declared {
				continue
			}
			coerced[key] = val
		}
	}
	return coerced, nil
}

func schemaType(schema map[string]any) string {
	if t, ok := schema["type"].(string); ok && t != "" {
		return t
	}
	return "string"
}

// DeepCopy clones JSON-shaped values (maps, slices, scalars). Used so stored
// argument defaults are never aliased into prepared argument maps.
func DeepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = DeepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = DeepCopy(item)
		}
		return out
	default:
		return v
	}
}

func valueEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
