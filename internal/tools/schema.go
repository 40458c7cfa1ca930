package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Type is a JSON value type a property may take.
type Type string

const (
	TypeString  Type = "string"
	TypeInteger Type = "integer"
	TypeNumber  Type = "number"
	TypeBoolean Type = "boolean"
	TypeObject  Type = "object"
	TypeArray   Type = "array"
)

// Property describes one input field.
type Property struct {
	Type        Type   `json:"type"`
	Description string `json:"description,omitempty"`
}

// Schema describes a tool's input: a JSON object with typed properties, a
// required list and no other keys.
type Schema struct {
	Properties map[string]Property
	Required   []string
}

// MarshalJSON renders the schema as JSON Schema.
func (s Schema) MarshalJSON() ([]byte, error) {
	props := s.Properties
	if props == nil {
		props = map[string]Property{}
	}
	required := s.Required
	if required == nil {
		required = []string{}
	}
	return json.Marshal(struct {
		Type                 Type                `json:"type"`
		Properties           map[string]Property `json:"properties"`
		Required             []string            `json:"required"`
		AdditionalProperties bool                `json:"additionalProperties"`
	}{TypeObject, props, required, false})
}

// Names returns the property names in sorted order.
func (s Schema) Names() []string {
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRequired reports whether name is in the required list.
func (s Schema) IsRequired(name string) bool {
	for _, r := range s.Required {
		if r == name {
			return true
		}
	}
	return false
}

// Validate checks raw against the schema. An empty input counts as {}.
func (s Schema) Validate(tool string, raw json.RawMessage) error {
	fields, err := decodeObject(raw)
	if err != nil {
		return &ValidationError{Tool: tool, Reason: err.Error()}
	}

	for _, name := range sortedKeys(fields) {
		prop, ok := s.Properties[name]
		if !ok {
			return &ValidationError{Tool: tool, Field: name, Reason: "unknown field"}
		}
		if isNull(fields[name]) {
			if s.IsRequired(name) {
				return &ValidationError{Tool: tool, Field: name, Reason: "required field is null"}
			}
			continue
		}
		if !hasType(fields[name], prop.Type) {
			return &ValidationError{Tool: tool, Field: name, Reason: fmt.Sprintf("expected %s", prop.Type)}
		}
	}
	for _, name := range s.Required {
		if _, ok := fields[name]; !ok {
			return &ValidationError{Tool: tool, Field: name, Reason: "required field missing"}
		}
	}
	return nil
}

func decodeObject(raw json.RawMessage) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]json.RawMessage{}, nil
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("input must be a JSON object")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("malformed JSON: %v", err)
	}
	return fields, nil
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func hasType(v json.RawMessage, t Type) bool {
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		return false
	}
	switch t {
	case TypeString:
		return v[0] == '"'
	case TypeBoolean:
		return bytes.Equal(v, []byte("true")) || bytes.Equal(v, []byte("false"))
	case TypeObject:
		return v[0] == '{'
	case TypeArray:
		return v[0] == '['
	case TypeNumber, TypeInteger:
		var n json.Number
		if err := json.Unmarshal(v, &n); err != nil {
			return false
		}
		if t == TypeInteger {
			_, err := n.Int64()
			return err == nil && !strings.ContainsAny(string(n), ".eE")
		}
		return true
	}
	return false
}
