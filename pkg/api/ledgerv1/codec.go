package ledgerv1

import (
	"encoding/json"
)

// CodecName is the Connect codec name, which selects application/json.
const CodecName = "json"

// Codec marshals plain Go structs with encoding/json. Connect's built-in
// JSON codec only accepts protobuf messages.
type Codec struct{}

func (Codec) Name() string { return CodecName }

func (Codec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (Codec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, msg)
}
