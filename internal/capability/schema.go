package capability

import (
	"fmt"
)

// The registry describes capability contracts with a small JSON-schema
// subset: object schemas with typed properties and a required list. That is
// all the oracle boundary needs, and it keeps argument validation cheap
// enough to run on every dispatch.

// ErrInvalidArguments indicates arguments that do not conform to a
// capability's input schema. Recoverable: the request is recorded and the
// oracle may retry with a corrected one.
var ErrInvalidArguments = fmt.Errorf("invalid arguments")

// ErrInvalidOutput indicates a capability returned a payload that does not
// conform to its output schema. Treated as a capability failure.
var ErrInvalidOutput = fmt.Errorf("invalid capability output")

// ObjectSchema builds an object schema from property types and a required
// list, the shape every descriptor in this codebase uses.
func ObjectSchema(props map[string]string, required ...string) map[string]interface{} {
	properties := make(map[string]interface{}, len(props))
	for name, typ := range props {
		properties[name] = map[string]interface{}{"type": typ}
	}
	s := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		req := make([]interface{}, len(required))
		for i, r := range required {
			req[i] = r
		}
		s["required"] = req
	}
	return s
}

// CheckSchema verifies a schema itself is well formed. Called once per
// registration; a malformed schema is a fatal configuration error.
func CheckSchema(schema map[string]interface{}) error {
	if schema == nil {
		return fmt.Errorf("schema is nil")
	}
	if t, _ := schema["type"].(string); t != "object" {
		return fmt.Errorf("schema type must be object, got %v", schema["type"])
	}
	props, ok := schema["properties"].(map[string]interface{})
	if !ok {
		if _, present := schema["properties"]; present {
			return fmt.Errorf("schema properties must be an object")
		}
		return nil
	}
	for name, raw := range props {
		p, ok := raw.(map[string]interface{})
		if !ok {
			return fmt.Errorf("property %s is not an object", name)
		}
		t, _ := p["type"].(string)
		switch t {
		case "string", "number", "integer", "boolean", "array", "object":
		default:
			return fmt.Errorf("property %s has unsupported type %q", name, t)
		}
	}
	if rawReq, present := schema["required"]; present {
		req, ok := rawReq.([]interface{})
		if !ok {
			return fmt.Errorf("schema required must be an array")
		}
		for _, r := range req {
			name, ok := r.(string)
			if !ok {
				return fmt.Errorf("schema required entries must be strings")
			}
			if _, ok := props[name]; !ok {
				return fmt.Errorf("required property %s not declared", name)
			}
		}
	}
	return nil
}

// Validate checks a payload against an object schema: required properties
// must be present and declared properties must match their type. Unknown
// properties pass through untouched.
func Validate(schema map[string]interface{}, payload map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	props, _ := schema["properties"].(map[string]interface{})
	if rawReq, present := schema["required"]; present {
		req, _ := rawReq.([]interface{})
		for _, r := range req {
			name, _ := r.(string)
			if _, ok := payload[name]; !ok {
				return fmt.Errorf("missing required property %q", name)
			}
		}
	}
	for name, raw := range payload {
		spec, ok := props[name].(map[string]interface{})
		if !ok {
			continue
		}
		want, _ := spec["type"].(string)
		if want == "" {
			continue
		}
		if err := checkType(want, raw); err != nil {
			return fmt.Errorf("property %q: %w", name, err)
		}
	}
	return nil
}

func checkType(want string, v interface{}) error {
	if v == nil {
		return fmt.Errorf("expected %s, got null", want)
	}
	switch want {
	case "string":
		if _, ok := v.(string); !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
	case "boolean":
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", v)
		}
	case "number":
		if !isNumber(v) {
			return fmt.Errorf("expected number, got %T", v)
		}
	case "integer":
		switch n := v.(type) {
		case int, int32, int64:
		case float64:
			if n != float64(int64(n)) {
				return fmt.Errorf("expected integer, got fractional number")
			}
		default:
			return fmt.Errorf("expected integer, got %T", v)
		}
	case "array":
		switch v.(type) {
		case []interface{}, []string, []map[string]interface{}:
		default:
			return fmt.Errorf("expected array, got %T", v)
		}
	case "object":
		if _, ok := v.(map[string]interface{}); !ok {
			return fmt.Errorf("expected object, got %T", v)
		}
	}
	return nil
}

func isNumber(v interface{}) bool {
	switch v.(type) {
	case float64, float32, int, int32, int64:
		return true
	}
	return false
}
