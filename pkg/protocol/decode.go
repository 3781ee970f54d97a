package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// validator is implemented by payloads with required fields.
type validator interface {
	Validate() error
}

// Decode classifies a raw inbound frame by its type tag. The payload is left
// undecoded; use DecodePayload once the type is known.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}
	if !IsInbound(env.Type) {
		return env, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}
	return env, nil
}

// DecodePayload unmarshals the envelope payload into T and validates it.
// An absent or null payload yields the zero value of T, which is then
// validated like any other payload.
func DecodePayload[T any](env Envelope) (T, error) {
	var v T
	raw := bytes.TrimSpace(env.Payload)
	if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		if err := json.Unmarshal(raw, &v); err != nil {
			return v, fmt.Errorf("%w: %s payload: %v", ErrMalformedEnvelope, env.Type, err)
		}
	}
	if val, ok := any(v).(validator); ok {
		if err := val.Validate(); err != nil {
			return v, fmt.Errorf("%w: %s payload: %v", ErrMalformedEnvelope, env.Type, err)
		}
	}
	return v, nil
}

// NewMessage builds an outbound message. A nil payload is omitted on the wire.
func NewMessage(t MessageType, payload any) Message {
	return Message{Type: t, Payload: payload}
}

// RequestLogTail builds the REQUEST_LOG_TAIL message sent after a run ends.
func RequestLogTail(scriptID string, lines int) Message {
	return NewMessage(TypeRequestLogTail, LogTailRequest{ScriptID: scriptID, Lines: &lines})
}
