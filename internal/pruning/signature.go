package pruning

import (
	"encoding/json"
	"fmt"
	"sort"
)

// CreateToolSignature builds the canonical "tool_name::sorted_json_input"
// key used to detect two tool calls that are exact duplicates of each
// other, regardless of JSON key order in the recorded input.
func CreateToolSignature(toolName, inputJSON string) string {
	sorted := sortJSON(inputJSON)
	return fmt.Sprintf("%s::%s", toolName, sorted)
}

// sortJSON parses input as JSON and re-serializes it with every object's
// keys sorted recursively, so two semantically identical inputs written in
// a different key order produce the same signature. Invalid or empty input
// canonicalizes to "null".
func sortJSON(input string) string {
	if input == "" {
		return "null"
	}
	var v any
	if err := json.Unmarshal([]byte(input), &v); err != nil {
		return "null"
	}
	sorted := sortValue(v)
	data, err := json.Marshal(sorted)
	if err != nil {
		return "null"
	}
	return string(data)
}

func sortValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make([]keyValue, 0, len(keys))
		for _, k := range keys {
			ordered = append(ordered, keyValue{k, sortValue(val[k])})
		}
		return orderedObject(ordered)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sortValue(item)
		}
		return out
	default:
		return val
	}
}

type keyValue struct {
	key   string
	value any
}

// orderedObject implements json.Marshaler to emit its keys in the order
// given, since encoding/json always sorts map[string]any keys itself
// (coincidentally the order we want, but we build it explicitly so the
// sort is ours and not an accident of the standard library's behavior).
type orderedObject []keyValue

func (o orderedObject) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, kv := range o {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyJSON, err := json.Marshal(kv.key)
		if err != nil {
			return nil, err
		}
		valJSON, err := json.Marshal(kv.value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyJSON...)
		buf = append(buf, ':')
		buf = append(buf, valJSON...)
	}
	buf = append(buf, '}')
	return buf, nil
}
