package wire

import (
	"errors"
	"testing"
)

type upperCodec struct{}

func (upperCodec) Name() string                    { return "upper" }
func (upperCodec) Encode(v any) ([]byte, error)    { return []byte(v.(string)), nil }
func (upperCodec) Decode(data []byte) (any, error) { return string(data), nil }

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(upperCodec{}); err != nil {
		t.Fatalf("wire:registry_test - unexpected error: %v", err)
	}
	if err := r.Register(upperCodec{}); !errors.Is(err, ErrCodecRegistered) {
		t.Errorf("wire:registry_test - expected ErrCodecRegistered, got %v", err)
	}
	c, ok := r.Lookup("upper")
	if !ok || c.Name() != "upper" {
		t.Errorf("wire:registry_test - Lookup(upper) = %v, %v", c, ok)
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Error("wire:registry_test - expected missing codec to be absent")
	}
}

func TestRegistry_EnsureDefault(t *testing.T) {
	r := NewRegistry()
	if !r.EnsureDefault(ServiceErrorCodec{}) {
		t.Error("wire:registry_test - first EnsureDefault should register")
	}
	if r.EnsureDefault(ServiceErrorCodec{}) {
		t.Error("wire:registry_test - second EnsureDefault should be a no-op")
	}
}

func TestServiceErrorCodec(t *testing.T) {
	codec := ServiceErrorCodec{}
	data, err := codec.Encode(NewServiceError(30, "oops", Object{"test": "val"}))
	if err != nil {
		t.Fatalf("wire:registry_test - Encode failed: %v", err)
	}
	if string(data) != `{"failureCode":30,"message":"oops","debugInfo":{"test":"val"}}` {
		t.Errorf("wire:registry_test - Encode() = %s", data)
	}

	v, err := codec.Decode(data)
	if err != nil {
		t.Fatalf("wire:registry_test - Decode failed: %v", err)
	}
	se := v.(*ServiceError)
	if se.Code != 30 || se.Message != "oops" || se.DebugInfo["test"] != "val" {
		t.Errorf("wire:registry_test - Decode() = %+v", se)
	}
	if se.Error() != "service failure 30: oops" {
		t.Errorf("wire:registry_test - Error() = %q", se.Error())
	}

	if _, err := codec.Encode("not a failure"); err == nil {
		t.Error("wire:registry_test - expected error encoding a non-ServiceError")
	}
	if _, err := codec.Decode([]byte("{")); err == nil {
		t.Error("wire:registry_test - expected error decoding invalid JSON")
	}
}
