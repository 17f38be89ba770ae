package raftrpc

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// gobCodecName is negotiated as the gRPC call's content-subtype, so every
// Invoke on this transport must pass grpc.CallContentSubtype(gobCodecName).
const gobCodecName = "gob"

// gobCodec lets the transport speak gRPC's framing, flow control, and
// connection management without owning a generated protobuf message set:
// the teacher's internal/raft/proto package (protoc-gen-go / -go-grpc
// output) was not present in the retrieved copy, and this environment
// cannot run protoc to regenerate it (see DESIGN.md, "Dropped teacher
// dependency: google.golang.org/protobuf"). Domain types from package raft
// are gob-encoded directly as the wire messages.
type gobCodec struct{}

func (gobCodec) Name() string { return gobCodecName }

func (gobCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("gob marshal %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("gob unmarshal %T: %w", v, err)
	}
	return nil
}

func init() {
	encoding.RegisterCodec(gobCodec{})
}
