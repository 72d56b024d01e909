package natsclient

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
)

// Serializer converts payload values to and from wire bytes. The JSON
// serializer is the default everywhere; the proto serializer is opt-in for
// endpoints whose payload types are generated messages.
type Serializer interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONSerializer encodes payloads as JSON.
type JSONSerializer struct{}

func (JSONSerializer) ContentType() string { return "application/json" }

func (JSONSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONSerializer) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// ProtoSerializer encodes payloads as protobuf binary. Values must implement
// proto.Message.
type ProtoSerializer struct{}

func (ProtoSerializer) ContentType() string { return "application/protobuf" }

func (ProtoSerializer) Marshal(v any) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("protobuf serializer requires proto.Message, got %T", v)
	}
	return proto.Marshal(msg)
}

func (ProtoSerializer) Unmarshal(data []byte, v any) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("protobuf serializer requires proto.Message, got %T", v)
	}
	return proto.Unmarshal(data, msg)
}
