package reactive

import (
	"bytes"
	"encoding/json"
)

func encode(value any) ([]byte, error) {
	return json.Marshal(value)
}

func decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	return value, nil
}

// normalize round-trips value through JSON so the cache only ever holds
// the shapes a durable reload would produce: nil, bool, float64, string,
// []any and map[string]any. It also detaches the cache from caller memory.
func normalize(value any) ([]byte, any, error) {
	data, err := encode(value)
	if err != nil {
		return nil, nil, err
	}
	normalized, err := decode(data)
	if err != nil {
		return nil, nil, err
	}
	return data, normalized, nil
}
