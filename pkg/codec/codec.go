// Package codec defines the wire-format plug-in contract (spec.md §6) and
// ships a CBOR-backed default implementation, matching the teacher's choice
// of github.com/fxamacker/cbor/v2 for every on-the-wire message.
package codec

import "github.com/fxamacker/cbor/v2"

// Codec serializes and deserializes the leaf values the session needs to
// put on the wire: message part payloads, evidence inner errors, and
// echo-pack contents. It never touches the SignedMessage envelope itself.
type Codec interface {
	Serialize(value interface{}) ([]byte, error)
	Deserialize(data []byte, out interface{}) error
}

// CBOR is the default Codec, matching the teacher's use of cbor.Marshal /
// cbor.Unmarshal for round message content.
type CBOR struct{}

func (CBOR) Serialize(value interface{}) ([]byte, error) {
	return cbor.Marshal(value)
}

func (CBOR) Deserialize(data []byte, out interface{}) error {
	return cbor.Unmarshal(data, out)
}
