// Package message defines the envelope types exchanged on the bus.
//
// Every transmission unit is a JSON array of Message envelopes. Each Message
// is a tagged value with hint "osrfMessage" whose payload carries the thread
// trace, the message type, the locale, and a typed payload:
//
//	REQUEST    → MethodCall   (hint "osrfMethod")
//	RESULT     → MethodResult (hint "osrfResult")
//	STATUS     → StatusPayload (hint "osrfConnectStatus" / "osrfMethodException")
//	CONNECT / DISCONNECT → no payload
package message

import (
	"errors"
	"fmt"

	"osrf/codec"
)

// Type is the lifecycle type of a Message.
type Type string

const (
	Connect    Type = "CONNECT"
	Request    Type = "REQUEST"
	Result     Type = "RESULT"
	Status     Type = "STATUS"
	Disconnect Type = "DISCONNECT"
)

// Wire hints for the envelope and its payload variants.
const (
	HintMessage         = "osrfMessage"
	HintMethod          = "osrfMethod"
	HintResult          = "osrfResult"
	HintConnectStatus   = "osrfConnectStatus"
	HintMethodException = "osrfMethodException"
)

// DefaultLocale is used when a message is built without an explicit locale.
const DefaultLocale = "en-US"

// ErrBadEnvelope reports an envelope that parsed as JSON but does not have
// the expected shape.
var ErrBadEnvelope = errors.New("malformed message envelope")

func init() {
	codec.RegisterClass(HintMessage, "osrfMessage")
	codec.RegisterClass(HintMethod, "osrfMethod")
	codec.RegisterClass(HintResult, "osrfResult")
	codec.RegisterClass(HintConnectStatus, "osrfConnectStatus")
	codec.RegisterClass(HintMethodException, "osrfMethodException")
}

// Message is one envelope within a transmission unit.
type Message struct {
	ThreadTrace uint32
	Type        Type
	Payload     *codec.Value // nil for CONNECT and DISCONNECT
	Locale      string
}

// NewMessage builds an envelope with the default locale.
func NewMessage(trace uint32, typ Type, payload *codec.Value) *Message {
	return &Message{ThreadTrace: trace, Type: typ, Payload: payload, Locale: DefaultLocale}
}

// ToValue renders the envelope as a tagged value ready for encoding.
func (m *Message) ToValue() *codec.Value {
	body := codec.NewObject()
	body.Set("threadTrace", codec.NewInt(int64(m.ThreadTrace)))
	body.Set("type", codec.NewString(string(m.Type)))
	locale := m.Locale
	if locale == "" {
		locale = DefaultLocale
	}
	body.Set("locale", codec.NewString(locale))
	if m.Payload != nil {
		body.Set("payload", m.Payload)
	}
	return codec.NewTagged(HintMessage, body)
}

// FromValue reconstructs an envelope from its tagged-value form.
func FromValue(v *codec.Value) (*Message, error) {
	if v.Kind() != codec.Tagged || v.Hint() != HintMessage {
		return nil, fmt.Errorf("%w: expected %s hint, got %q", ErrBadEnvelope, HintMessage, v.Hint())
	}
	body := v.Payload()
	if body.Kind() != codec.Object {
		return nil, fmt.Errorf("%w: envelope payload is %s", ErrBadEnvelope, body.Kind())
	}
	typVal := body.Get("type")
	if typVal.Kind() != codec.String {
		return nil, fmt.Errorf("%w: missing type", ErrBadEnvelope)
	}
	typ := Type(typVal.Str())
	switch typ {
	case Connect, Request, Result, Status, Disconnect:
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrBadEnvelope, typVal.Str())
	}
	m := &Message{
		ThreadTrace: uint32(body.Get("threadTrace").Int()),
		Type:        typ,
		Payload:     body.Get("payload"),
		Locale:      body.Get("locale").Str(),
	}
	if m.Locale == "" {
		m.Locale = DefaultLocale
	}
	return m, nil
}

// EncodeBatch serializes envelopes into one transmission unit.
func EncodeBatch(msgs []*Message) []byte {
	arr := codec.NewArray()
	for _, m := range msgs {
		arr.Append(m.ToValue())
	}
	return codec.Encode(arr)
}

// DecodeBatch parses a transmission unit into envelopes. A unit holding a
// single bare envelope (not wrapped in an array) is also accepted.
func DecodeBatch(data []byte) ([]*Message, error) {
	v, err := codec.Decode(data)
	if err != nil {
		return nil, err
	}
	if v.Kind() == codec.Tagged {
		m, err := FromValue(v)
		if err != nil {
			return nil, err
		}
		return []*Message{m}, nil
	}
	if v.Kind() != codec.Array {
		return nil, fmt.Errorf("%w: transmission unit is %s", ErrBadEnvelope, v.Kind())
	}
	msgs := make([]*Message, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		m, err := FromValue(v.Index(i))
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// MethodCall is the payload of a REQUEST envelope.
type MethodCall struct {
	Method string
	Params []*codec.Value
}

// ToValue renders the call as a tagged osrfMethod value.
func (c *MethodCall) ToValue() *codec.Value {
	body := codec.NewObject()
	body.Set("method", codec.NewString(c.Method))
	body.Set("params", codec.NewArray(c.Params...))
	return codec.NewTagged(HintMethod, body)
}

// MethodCallFromValue extracts a MethodCall from a REQUEST payload.
func MethodCallFromValue(v *codec.Value) (*MethodCall, error) {
	if v.Kind() != codec.Tagged || v.Hint() != HintMethod {
		return nil, fmt.Errorf("%w: expected %s payload", ErrBadEnvelope, HintMethod)
	}
	body := v.Payload()
	name := body.Get("method").Str()
	if name == "" {
		return nil, fmt.Errorf("%w: missing method name", ErrBadEnvelope)
	}
	call := &MethodCall{Method: name}
	params := body.Get("params")
	for i := 0; i < params.Len(); i++ {
		call.Params = append(call.Params, params.Index(i))
	}
	return call, nil
}

// MethodResult is the payload of a RESULT envelope. StatusCode is always
// StatusOK for a successful batch element.
type MethodResult struct {
	Status     string
	StatusCode int
	Content    *codec.Value
}

// NewResult wraps content in an OK result.
func NewResult(content *codec.Value) *MethodResult {
	return &MethodResult{Status: "OK", StatusCode: StatusOK, Content: content}
}

// ToValue renders the result as a tagged osrfResult value.
func (r *MethodResult) ToValue() *codec.Value {
	body := codec.NewObject()
	body.Set("status", codec.NewString(r.Status))
	body.Set("statusCode", codec.NewInt(int64(r.StatusCode)))
	body.Set("content", r.Content)
	return codec.NewTagged(HintResult, body)
}

// MethodResultFromValue extracts a MethodResult from a RESULT payload.
func MethodResultFromValue(v *codec.Value) (*MethodResult, error) {
	if v.Kind() != codec.Tagged || v.Hint() != HintResult {
		return nil, fmt.Errorf("%w: expected %s payload", ErrBadEnvelope, HintResult)
	}
	body := v.Payload()
	return &MethodResult{
		Status:     body.Get("status").Str(),
		StatusCode: int(body.Get("statusCode").Int()),
		Content:    body.Get("content"),
	}, nil
}

// StatusPayload is the payload of a STATUS envelope.
type StatusPayload struct {
	Status     string
	StatusCode int
}

// NewStatus builds a status payload carrying the canonical name for code.
// An optional detail is appended to the status text.
func NewStatus(code int, detail ...string) *StatusPayload {
	text := StatusText(code)
	if len(detail) > 0 && detail[0] != "" {
		text = text + ": " + detail[0]
	}
	return &StatusPayload{Status: text, StatusCode: code}
}

// ToValue renders the status as a tagged value. Codes at or above 400 use
// the method-exception hint, everything below the connect-status hint.
func (s *StatusPayload) ToValue() *codec.Value {
	body := codec.NewObject()
	body.Set("status", codec.NewString(s.Status))
	body.Set("statusCode", codec.NewInt(int64(s.StatusCode)))
	hint := HintConnectStatus
	if s.StatusCode >= StatusBadRequest {
		hint = HintMethodException
	}
	return codec.NewTagged(hint, body)
}

// StatusFromValue extracts a StatusPayload. Both status hints are accepted.
func StatusFromValue(v *codec.Value) (*StatusPayload, error) {
	if v.Kind() != codec.Tagged || (v.Hint() != HintConnectStatus && v.Hint() != HintMethodException) {
		return nil, fmt.Errorf("%w: expected status payload, got %q", ErrBadEnvelope, v.Hint())
	}
	body := v.Payload()
	return &StatusPayload{
		Status:     body.Get("status").Str(),
		StatusCode: int(body.Get("statusCode").Int()),
	}, nil
}
