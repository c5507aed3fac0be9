package codec

import (
	"encoding/json"
	"fmt"
)

// NameJSON is the wire name of the JSON codec.
const NameJSON = "json"

// JSONCodec uses encoding/json. Human-readable and cross-language; the
// default codec.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialize, err)
	}
	return data, nil
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrDeserialize, err)
	}
	return nil
}

func (c *JSONCodec) Name() string {
	return NameJSON
}
