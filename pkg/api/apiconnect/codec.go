// Package apiconnect wires the api messages into Connect handlers and
// clients. Messages are plain Go structs carried by a JSON codec, so the
// services speak the Connect protocol with application/json bodies.
package apiconnect

import (
	"encoding/json"
	"fmt"
)

// Codec marshals api messages as JSON. It replaces Connect's protobuf JSON
// codec under the same name.
type Codec struct{}

func (Codec) Name() string { return "json" }

func (Codec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (Codec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("unmarshal %T: %w", msg, err)
	}
	return nil
}
