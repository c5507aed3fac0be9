package codec

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// NameGob is the wire name of the gob codec.
const NameGob = "gob"

// GobCodec uses encoding/gob. Go-to-Go only, but denser and faster than JSON
// for struct-heavy payloads.
type GobCodec struct{}

func (c *GobCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialize, err)
	}
	return buf.Bytes(), nil
}

func (c *GobCodec) Decode(data []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrDeserialize, err)
	}
	return nil
}

func (c *GobCodec) Name() string {
	return NameGob
}
