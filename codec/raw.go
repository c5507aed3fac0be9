package codec

import "fmt"

// NameRaw is the wire name of the raw codec.
const NameRaw = "raw"

// RawCodec passes []byte payloads through untouched. Useful when the caller
// already holds serialized bytes and wants to skip a second encoding pass.
type RawCodec struct{}

func (c *RawCodec) Encode(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case *[]byte:
		return *b, nil
	case string:
		return []byte(b), nil
	}
	return nil, fmt.Errorf("%w: raw codec requires []byte or string, got %T", ErrSerialize, v)
}

func (c *RawCodec) Decode(data []byte, v any) error {
	switch out := v.(type) {
	case *[]byte:
		*out = append((*out)[:0], data...)
		return nil
	case *string:
		*out = string(data)
		return nil
	}
	return fmt.Errorf("%w: raw codec requires *[]byte or *string, got %T", ErrDeserialize, v)
}

func (c *RawCodec) Name() string {
	return NameRaw
}
