package serviceutil

import (
	"encoding/json"
	"fmt"
)

// JsonCodec lets connect services exchange plain go structs as json,
// it replaces the protobuf codecs that only accept proto.Message.
type JsonCodec struct{}

func (JsonCodec) Name() string {
	return "json"
}

func (JsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	err := json.Unmarshal(data, v)
	if err != nil {
		return fmt.Errorf("unmarshal json message: %w", err)
	}
	return nil
}
