// Package wire provides the canonical CBOR codec for every protocol
// message. Encoding uses Core Deterministic Encoding (RFC 8949 §4.2):
// sorted map keys, smallest integer encoding, no indefinite-length
// items. Same logical data always produces identical bytes, which is
// what makes signatures and MACs over encoded payloads reproducible.
package wire

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"alpinenet/internal/core/domain"
)

var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("wire: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		// Non-string map keys never appear on the wire; any-typed
		// targets decode to map[string]any for interoperability.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("wire: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v. Unknown fields are ignored for
// forward compatibility.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Packet frames a message body with its type so receivers can route
// datagrams without trial decoding.
type Packet struct {
	Type domain.MessageType `cbor:"type"`
	Body cbor.RawMessage    `cbor:"body"`
}

// EncodePacket wraps and encodes a message body under its type tag.
func EncodePacket(t domain.MessageType, body any) ([]byte, error) {
	raw, err := Marshal(body)
	if err != nil {
		return nil, domain.WrapError(err, domain.ErrCodeMalformedMessage, "encode packet body")
	}
	data, err := Marshal(Packet{Type: t, Body: raw})
	if err != nil {
		return nil, domain.WrapError(err, domain.ErrCodeMalformedMessage, "encode packet")
	}
	return data, nil
}

// DecodePacket parses the outer packet framing.
func DecodePacket(data []byte) (Packet, error) {
	var pkt Packet
	if err := Unmarshal(data, &pkt); err != nil {
		return Packet{}, domain.WrapError(err, domain.ErrCodeMalformedMessage, "decode packet")
	}
	return pkt, nil
}

// DecodeBody parses a packet body into the expected message struct.
func DecodeBody(pkt Packet, v any) error {
	if err := Unmarshal(pkt.Body, v); err != nil {
		return domain.WrapError(err, domain.ErrCodeMalformedMessage, "decode packet body")
	}
	return nil
}
