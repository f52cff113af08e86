// Package codec implements the wire encoding described in §4.1: messages
// are encoded preferring a compact binary form (msgpack) with a JSON
// fallback, and the decoder auto-detects by attempting binary first.
package codec

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ryanflavor/aegistrader/internal/domain"
)

// Encoding identifies which wire format a message was serialized with.
type Encoding int

const (
	// Binary is the preferred msgpack encoding.
	Binary Encoding = iota
	// JSONFallback is used when the caller explicitly requests JSON, or as
	// the decode fallback when msgpack decoding fails.
	JSONFallback
)

// Encode serializes v as msgpack, the preferred compact binary form.
func Encode(v interface{}) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, domain.NewError(domain.ErrInvalidRequest, "msgpack encode failed: "+err.Error())
	}
	return b, nil
}

// EncodeJSON serializes v as JSON, for callers that need human-readable
// wire traffic (e.g. cross-language debugging, §6.2/§6.3 canonical form).
func EncodeJSON(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, domain.NewError(domain.ErrInvalidRequest, "json encode failed: "+err.Error())
	}
	return b, nil
}

// Decode attempts msgpack first, falling back to JSON, per §4.1. Malformed
// input that fails both surfaces as INVALID_REQUEST.
func Decode(data []byte, v interface{}) (Encoding, error) {
	if err := msgpack.Unmarshal(data, v); err == nil {
		return Binary, nil
	}
	if err := json.Unmarshal(data, v); err == nil {
		return JSONFallback, nil
	}
	return Binary, domain.NewError(domain.ErrInvalidRequest, "message is neither valid msgpack nor valid JSON")
}
