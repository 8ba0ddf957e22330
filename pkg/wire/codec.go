// Package wire defines the structured wire value model shared by proxies and
// services, and the canonical encodings layered on top of the JSON codec.
package wire

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

const logPrefix = "wire:codec"

// Object is a structured object on the wire.
type Object = map[string]any

// Array is a structured sequence on the wire.
type Array = []any

// TimeLayout is the canonical timestamp encoding.
const TimeLayout = time.RFC3339Nano

// EncodePayload serializes a wire value to JSON bytes.
func EncodePayload(v any) ([]byte, error) {
	return json.Marshal(v)
}

// DecodePayload deserializes JSON bytes into a generic wire value. Numbers are
// kept as json.Number so integers survive without float rounding. Empty data
// decodes to nil.
func DecodePayload(data []byte) (any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%s - failed to decode payload: %w", logPrefix, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%s - trailing data after payload", logPrefix)
	}
	return v, nil
}

// DecodePayloadInto deserializes JSON bytes into the given target.
func DecodePayloadInto(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// EncodeBytes returns the base64 text form of a byte sequence.
func EncodeBytes(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeBytes parses the base64 text form of a byte sequence.
func DecodeBytes(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%s - invalid base64 text: %w", logPrefix, err)
	}
	return b, nil
}

// EncodeTime returns the canonical text form of a timestamp, always in UTC.
func EncodeTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// DecodeTime parses the canonical text form of a timestamp.
func DecodeTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s - invalid timestamp %q: %w", logPrefix, s, err)
	}
	return t, nil
}
