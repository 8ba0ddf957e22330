package wire

import (
	"encoding/json"
	"fmt"
)

// Failure codes used by the dispatcher for failures it raises itself.
const (
	FailureInternal        = -1
	FailureUnknownAction   = -2
	FailureInvalidRequest  = -3
	FailureVersionMismatch = -4
)

// ServiceErrorCodecName names the default failure codec.
const ServiceErrorCodecName = "service-error"

// Failure is an error that knows which codec carries it across the bus.
type Failure interface {
	error
	CodecName() string
}

// ServiceError is the structured failure a remote service replies with.
type ServiceError struct {
	Code      int    `json:"failureCode"`
	Message   string `json:"message"`
	DebugInfo Object `json:"debugInfo,omitempty"`
}

// NewServiceError creates a ServiceError.
func NewServiceError(code int, message string, debugInfo Object) *ServiceError {
	return &ServiceError{Code: code, Message: message, DebugInfo: debugInfo}
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service failure %d: %s", e.Code, e.Message)
}

// CodecName implements Failure.
func (e *ServiceError) CodecName() string { return ServiceErrorCodecName }

// ServiceErrorCodec encodes *ServiceError values.
type ServiceErrorCodec struct{}

// Name implements Codec.
func (ServiceErrorCodec) Name() string { return ServiceErrorCodecName }

// Encode implements Codec.
func (ServiceErrorCodec) Encode(v any) ([]byte, error) {
	e, ok := v.(*ServiceError)
	if !ok {
		return nil, fmt.Errorf("%s - %s codec cannot encode %T", logPrefix, ServiceErrorCodecName, v)
	}
	return json.Marshal(e)
}

// Decode implements Codec.
func (ServiceErrorCodec) Decode(data []byte) (any, error) {
	var e ServiceError
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%s - failed to decode %s: %w", logPrefix, ServiceErrorCodecName, err)
	}
	return &e, nil
}
