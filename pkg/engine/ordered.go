package engine

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Entry is one key/value pair of an OrderedMap.
type Entry struct {
	Key   string
	Value interface{}
}

// OrderedMap is a mapping that keeps declaration order. Configuration
// documents are decoded into it so that resolution is a deterministic
// function of the input text.
//
// Nested mappings decode to OrderedMap, sequences to []interface{} and
// scalars to their natural Go type (int, float64, bool, string, nil).
type OrderedMap []Entry

// Get returns the value stored under key.
func (m OrderedMap) Get(key string) (interface{}, bool) {
	for _, e := range m {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Has reports whether key is present.
func (m OrderedMap) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Keys returns the keys in declaration order.
func (m OrderedMap) Keys() []string {
	keys := make([]string, len(m))
	for i, e := range m {
		keys[i] = e.Key
	}
	return keys
}

// Map returns the nested mapping stored under key, or nil.
func (m OrderedMap) Map(key string) OrderedMap {
	v, _ := m.Get(key)
	om, _ := v.(OrderedMap)
	return om
}

// String returns the string stored under key, or "".
func (m OrderedMap) String(key string) string {
	v, _ := m.Get(key)
	s, _ := v.(string)
	return s
}

// Strings returns the sequence of strings stored under key. Non-string
// items are rendered with fmt.
func (m OrderedMap) Strings(key string) []string {
	v, ok := m.Get(key)
	if !ok {
		return nil
	}
	return ToStrings(v)
}

// Clone returns a deep copy.
func (m OrderedMap) Clone() OrderedMap {
	if m == nil {
		return nil
	}
	out := make(OrderedMap, len(m))
	for i, e := range m {
		out[i] = Entry{Key: e.Key, Value: cloneValue(e.Value)}
	}
	return out
}

// ToStrings converts a decoded sequence into strings.
func ToStrings(v interface{}) []string {
	switch val := v.(type) {
	case []string:
		return append([]string(nil), val...)
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			} else {
				out = append(out, fmt.Sprint(item))
			}
		}
		return out
	case string:
		return []string{val}
	default:
		return nil
	}
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case OrderedMap:
		return val.Clone()
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return val
	}
}

// UnmarshalYAML decodes a mapping node while preserving key order.
// JSON documents are valid YAML and go through the same path.
func (m *OrderedMap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.DocumentNode && len(node.Content) == 1 {
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping, got %s", node.Line, nodeKindName(node.Kind))
	}
	v, err := decodeNode(node)
	if err != nil {
		return err
	}
	*m = v.(OrderedMap)
	return nil
}

func decodeNode(node *yaml.Node) (interface{}, error) {
	switch node.Kind {
	case yaml.MappingNode:
		out := make(OrderedMap, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			keyNode, valNode := node.Content[i], node.Content[i+1]
			val, err := decodeNode(valNode)
			if err != nil {
				return nil, err
			}
			out = append(out, Entry{Key: keyNode.Value, Value: val})
		}
		return out, nil
	case yaml.SequenceNode:
		out := make([]interface{}, 0, len(node.Content))
		for _, child := range node.Content {
			val, err := decodeNode(child)
			if err != nil {
				return nil, err
			}
			out = append(out, val)
		}
		return out, nil
	case yaml.AliasNode:
		return decodeNode(node.Alias)
	case yaml.ScalarNode:
		var v interface{}
		if err := node.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %w", node.Line, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("line %d: unsupported node %s", node.Line, nodeKindName(node.Kind))
	}
}

func nodeKindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}

// MarshalJSON writes the mapping with its keys in declaration order.
func (m OrderedMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(e.Value)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", e.Key, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
