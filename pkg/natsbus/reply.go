package natsbus

import (
	"errors"
	"fmt"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/busproxy/pkg/busproxy"
	"github.com/morezero/busproxy/pkg/wire"
)

const replyLogPrefix = "natsbus:reply"

// Reply answers msg with value encoded as JSON. headers are added to the reply.
func Reply(msg *comms.Msg, value any, headers map[string]string) error {
	data, err := wire.EncodePayload(value)
	if err != nil {
		return fmt.Errorf("%s - failed to encode reply: %w", replyLogPrefix, err)
	}
	out := comms.NewMsg(msg.Reply)
	out.Data = data
	for k, v := range headers {
		out.Header.Set(k, v)
	}
	return msg.RespondMsg(out)
}

// ReplyChain answers msg with the address of a chained remote object.
func ReplyChain(msg *comms.Msg, address string) error {
	return Reply(msg, nil, map[string]string{busproxy.HeaderProxyAddr: address})
}

// ReplyFailure answers msg with err. A wire.Failure whose codec is registered
// is carried by that codec; anything else becomes an internal service error.
func ReplyFailure(msg *comms.Msg, codecs *wire.Registry, err error) error {
	name, data, encErr := EncodeFailure(codecs, err)
	if encErr != nil {
		return encErr
	}
	out := comms.NewMsg(msg.Reply)
	out.Data = data
	out.Header.Set(HeaderFailureCodec, name)
	return msg.RespondMsg(out)
}

// EncodeFailure returns the codec name and payload carrying err.
func EncodeFailure(codecs *wire.Registry, err error) (string, []byte, error) {
	var failure wire.Failure
	if errors.As(err, &failure) && codecs != nil {
		if codec, ok := codecs.Lookup(failure.CodecName()); ok {
			data, encErr := codec.Encode(failure)
			if encErr == nil {
				return codec.Name(), data, nil
			}
			err = fmt.Errorf("%s - codec %s: %w", replyLogPrefix, codec.Name(), encErr)
		}
	}
	var se *wire.ServiceError
	if !errors.As(err, &se) {
		se = wire.NewServiceError(wire.FailureInternal, err.Error(), nil)
	}
	data, encErr := wire.ServiceErrorCodec{}.Encode(se)
	if encErr != nil {
		return "", nil, fmt.Errorf("%s - failed to encode failure: %w", replyLogPrefix, encErr)
	}
	return wire.ServiceErrorCodecName, data, nil
}
