// Package message implements the protobuf wire encoding of the messages exchanged
// between echo clients and the server. See messages.proto for the schema.
package message

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

var (
	// ErrMalformed is returned when the bytes are not a valid protobuf encoding,
	// which includes messages cut off partway through a field.
	ErrMalformed = errors.New("malformed message")
	// ErrInvalidUTF8 is returned when a string field contains invalid UTF-8.
	ErrInvalidUTF8 = errors.New("string field contains invalid UTF-8")
)

// Field numbers as declared in messages.proto.
const (
	echoContentField protowire.Number = 1

	addAField protowire.Number = 1
	addBField protowire.Number = 2

	addResultField protowire.Number = 1

	echoMessageField protowire.Number = 1
	addRequestField  protowire.Number = 2
	addResponseField protowire.Number = 2
)

// Kind names the variant carried by a ClientMessage or ServerMessage.
type Kind string

const (
	KindEmpty Kind = "empty"
	KindEcho  Kind = "echo"
	KindAdd   Kind = "add"
)

// EchoMessage carries a text payload that the server returns unchanged.
type EchoMessage struct {
	Content string
}

// AddRequest asks the server for the sum of A and B.
type AddRequest struct {
	A int32
	B int32
}

// AddResponse carries the result of an AddRequest.
type AddResponse struct {
	Result int32
}

// ClientMessage is the wrapper for everything a client sends. At most one of
// the variants is set.
type ClientMessage struct {
	EchoMessage *EchoMessage
	AddRequest  *AddRequest
}

// ServerMessage is the wrapper for everything the server sends back. At most one
// of the variants is set.
type ServerMessage struct {
	EchoMessage *EchoMessage
	AddResponse *AddResponse
}

func NewEchoRequest(content string) *ClientMessage {
	return &ClientMessage{EchoMessage: &EchoMessage{Content: content}}
}

func NewAddRequest(a, b int32) *ClientMessage {
	return &ClientMessage{AddRequest: &AddRequest{A: a, B: b}}
}

func NewEchoResponse(content string) *ServerMessage {
	return &ServerMessage{EchoMessage: &EchoMessage{Content: content}}
}

func NewAddResponse(result int32) *ServerMessage {
	return &ServerMessage{AddResponse: &AddResponse{Result: result}}
}

// DecodeClientMessage parses a ClientMessage from its wire encoding.
func DecodeClientMessage(b []byte) (*ClientMessage, error) {
	m := &ClientMessage{}
	if err := m.Unmarshal(b); err != nil {
		return nil, err
	}
	return m, nil
}

// DecodeServerMessage parses a ServerMessage from its wire encoding.
func DecodeServerMessage(b []byte) (*ServerMessage, error) {
	m := &ServerMessage{}
	if err := m.Unmarshal(b); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *EchoMessage) Marshal() []byte {
	return m.appendTo(nil)
}

func (m *EchoMessage) appendTo(b []byte) []byte {
	if m.Content != "" {
		b = protowire.AppendTag(b, echoContentField, protowire.BytesType)
		b = protowire.AppendString(b, m.Content)
	}
	return b
}

func (m *EchoMessage) Unmarshal(b []byte) error {
	*m = EchoMessage{}
	return m.merge(b)
}

func (m *EchoMessage) merge(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == echoContentField && typ == protowire.BytesType {
			return consumeString(b, &m.Content)
		}
		return 0, nil
	})
}

func (m *AddRequest) Marshal() []byte {
	return m.appendTo(nil)
}

func (m *AddRequest) appendTo(b []byte) []byte {
	b = appendInt32(b, addAField, m.A)
	return appendInt32(b, addBField, m.B)
}

func (m *AddRequest) Unmarshal(b []byte) error {
	*m = AddRequest{}
	return m.merge(b)
}

func (m *AddRequest) merge(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.VarintType {
			return 0, nil
		}
		switch num {
		case addAField:
			return consumeInt32(b, &m.A)
		case addBField:
			return consumeInt32(b, &m.B)
		}
		return 0, nil
	})
}

func (m *AddResponse) Marshal() []byte {
	return m.appendTo(nil)
}

func (m *AddResponse) appendTo(b []byte) []byte {
	return appendInt32(b, addResultField, m.Result)
}

func (m *AddResponse) Unmarshal(b []byte) error {
	*m = AddResponse{}
	return m.merge(b)
}

func (m *AddResponse) merge(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == addResultField && typ == protowire.VarintType {
			return consumeInt32(b, &m.Result)
		}
		return 0, nil
	})
}

// Kind returns which variant the message carries.
func (m *ClientMessage) Kind() Kind {
	switch {
	case m.EchoMessage != nil:
		return KindEcho
	case m.AddRequest != nil:
		return KindAdd
	}
	return KindEmpty
}

func (m *ClientMessage) Marshal() []byte {
	var b []byte
	switch {
	case m.EchoMessage != nil:
		b = appendMessage(b, echoMessageField, m.EchoMessage.appendTo(nil))
	case m.AddRequest != nil:
		b = appendMessage(b, addRequestField, m.AddRequest.appendTo(nil))
	}
	return b
}

// Unmarshal replaces the contents of m with the message encoded in b. As with
// any oneof, the last variant present on the wire wins.
func (m *ClientMessage) Unmarshal(b []byte) error {
	*m = ClientMessage{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return 0, nil
		}
		switch num {
		case echoMessageField:
			if m.EchoMessage == nil {
				*m = ClientMessage{EchoMessage: &EchoMessage{}}
			}
			return consumeMessage(b, m.EchoMessage.merge)
		case addRequestField:
			if m.AddRequest == nil {
				*m = ClientMessage{AddRequest: &AddRequest{}}
			}
			return consumeMessage(b, m.AddRequest.merge)
		}
		return 0, nil
	})
}

// Kind returns which variant the message carries.
func (m *ServerMessage) Kind() Kind {
	switch {
	case m.EchoMessage != nil:
		return KindEcho
	case m.AddResponse != nil:
		return KindAdd
	}
	return KindEmpty
}

func (m *ServerMessage) Marshal() []byte {
	var b []byte
	switch {
	case m.EchoMessage != nil:
		b = appendMessage(b, echoMessageField, m.EchoMessage.appendTo(nil))
	case m.AddResponse != nil:
		b = appendMessage(b, addResponseField, m.AddResponse.appendTo(nil))
	}
	return b
}

func (m *ServerMessage) Unmarshal(b []byte) error {
	*m = ServerMessage{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return 0, nil
		}
		switch num {
		case echoMessageField:
			if m.EchoMessage == nil {
				*m = ServerMessage{EchoMessage: &EchoMessage{}}
			}
			return consumeMessage(b, m.EchoMessage.merge)
		case addResponseField:
			if m.AddResponse == nil {
				*m = ServerMessage{AddResponse: &AddResponse{}}
			}
			return consumeMessage(b, m.AddResponse.merge)
		}
		return 0, nil
	})
}

// consumeFields walks every field in b and hands its value to fn. fn returns the
// number of bytes it consumed, or 0 if it doesn't recognize the field, in which
// case the field is skipped.
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return parseError(n)
		}
		b = b[n:]

		n, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if n == 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return parseError(n)
		}
		b = b[n:]
	}
	return nil
}

func parseError(n int) error {
	return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
}

func consumeString(b []byte, dst *string) (int, error) {
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return 0, parseError(n)
	}
	if !utf8.ValidString(v) {
		return 0, ErrInvalidUTF8
	}
	*dst = v
	return n, nil
}

func consumeInt32(b []byte, dst *int32) (int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, parseError(n)
	}
	*dst = int32(v)
	return n, nil
}

func consumeMessage(b []byte, merge func([]byte) error) (int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, parseError(n)
	}
	if err := merge(v); err != nil {
		return 0, err
	}
	return n, nil
}

func appendInt32(b []byte, num protowire.Number, v int32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(v)))
}

func appendMessage(b []byte, num protowire.Number, encoded []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, encoded)
}
