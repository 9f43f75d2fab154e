package notify

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Encoder serializes an Event for the wire
type Encoder func(ev Event) ([]byte, error)

// EncodeJSON encodes events as JSON documents
func EncodeJSON(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// EncodeMsgpack encodes events as MessagePack maps keyed like the JSON form
func EncodeMsgpack(ev Event) ([]byte, error) {
	return msgpack.Marshal(ev)
}

// ParseEncoding returns the Encoder named "json" or "msgpack"
func ParseEncoding(name string) (Encoder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return EncodeJSON, nil
	case "msgpack":
		return EncodeMsgpack, nil
	default:
		return nil, errors.Errorf("notify: unknown encoding %q (must be json or msgpack)", name)
	}
}
