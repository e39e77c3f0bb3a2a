// Package rpc implements the Manager contract's transport: a gRPC control
// surface the Manager calls inbound (Load/Abort/Kill/StateDone/IsWaiting/
// GetVersion) and a gRPC report client the worker calls outbound (Send).
//
// The wire messages are plain JSON-tagged Go structs rather than
// protobuf-generated types: a custom encoding.Codec registered under the
// "json" content-subtype lets grpc-go's real transport, framing, and
// service-method dispatch run unmodified, while sidestepping the need for
// a protoc toolchain run to produce .pb.go files. The grpc.ServiceDesc
// below is hand-authored in the exact shape protoc-gen-go-grpc would
// otherwise generate.
package rpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

const codecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements google.golang.org/grpc/encoding.Codec using
// encoding/json instead of protobuf wire format.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpc: json marshal: %w", err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpc: json unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string {
	return codecName
}
