// Package message implements the bit-exact CoAP datagram codec (RFC 7252
// section 3): the fixed header, the variable-length token, the ordered
// delta-compressed options, and the payload.
package message

import (
	"fmt"
	"strings"

	"github.com/lobaro/go-coap-core/option"
)

// Type is the 2-bit message type field.
type Type uint8

const (
	Confirmable    Type = 0
	NonConfirmable Type = 1
	Acknowledgement Type = 2
	Reset          Type = 3
)

var typeNames = [4]string{"Confirmable", "NonConfirmable", "Acknowledgement", "Reset"}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Unknown(0x%x)", uint8(t))
}

// Code is the 8-bit request-method / response-class.detail field.
type Code uint8

// Request codes.
const (
	Empty  Code = 0
	GET    Code = 1
	POST   Code = 2
	PUT    Code = 3
	DELETE Code = 4
)

// Response codes.
const (
	Created               Code = 65  // 2.01
	Deleted               Code = 66  // 2.02
	Valid                 Code = 67  // 2.03
	Changed               Code = 68  // 2.04
	Content               Code = 69  // 2.05
	BadRequest            Code = 128 // 4.00
	Unauthorized          Code = 129 // 4.01
	BadOption             Code = 130 // 4.02
	Forbidden             Code = 131 // 4.03
	NotFound              Code = 132 // 4.04
	MethodNotAllowed      Code = 133 // 4.05
	NotAcceptable         Code = 134 // 4.06
	PreconditionFailed    Code = 140 // 4.12
	RequestEntityTooLarge Code = 141 // 4.13
	UnsupportedContentFormat Code = 143 // 4.15
	InternalServerError   Code = 160 // 5.00
	NotImplemented        Code = 161 // 5.01
	BadGateway            Code = 162 // 5.02
	ServiceUnavailable    Code = 163 // 5.03
	GatewayTimeout        Code = 164 // 5.04
	ProxyingNotSupported  Code = 165 // 5.05
)

var codeNames = map[Code]string{
	Empty: "Empty", GET: "GET", POST: "POST", PUT: "PUT", DELETE: "DELETE",
	Created: "Created", Deleted: "Deleted", Valid: "Valid", Changed: "Changed", Content: "Content",
	BadRequest: "BadRequest", Unauthorized: "Unauthorized", BadOption: "BadOption",
	Forbidden: "Forbidden", NotFound: "NotFound", MethodNotAllowed: "MethodNotAllowed",
	NotAcceptable: "NotAcceptable", PreconditionFailed: "PreconditionFailed",
	RequestEntityTooLarge: "RequestEntityTooLarge", UnsupportedContentFormat: "UnsupportedContentFormat",
	InternalServerError: "InternalServerError", NotImplemented: "NotImplemented",
	BadGateway: "BadGateway", ServiceUnavailable: "ServiceUnavailable",
	GatewayTimeout: "GatewayTimeout", ProxyingNotSupported: "ProxyingNotSupported",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("%d.%02d", c.Class(), c.Detail())
}

// Class returns the 3 high bits of the code.
func (c Code) Class() uint8 { return uint8(c) >> 5 }

// Detail returns the 5 low bits of the code.
func (c Code) Detail() uint8 { return uint8(c) & 0x1f }

// BuildCode composes a code from its class and detail.
func BuildCode(class, detail uint8) Code {
	return Code((class << 5) | (detail & 0x1f))
}

// IsSuccess reports whether the code is in response class 2.xx.
func (c Code) IsSuccess() bool { return c.Class() == 2 }

// IsError reports whether the code is in a response error class (4.xx, 5.xx).
func (c Code) IsError() bool { return c.Class() == 4 || c.Class() == 5 }

// MaxTokenLen is the largest token length the wire format allows (4 bits).
const MaxTokenLen = 8

// MaxOptionNumber is the largest option number this codec will encode;
// a higher number is rejected at encode time (spec section 3 invariants).
const MaxOptionNumber = 65000

// Message is a single CoAP datagram (RFC 7252 section 3).
type Message struct {
	Type      Type
	Code      Code
	MessageID uint16
	Token     []byte
	Options   *option.Options
	Payload   []byte
}

// New returns an empty message with an initialized, empty options container.
func New() *Message {
	return &Message{Options: option.New()}
}

// NewAck returns an empty Acknowledgement for messageID.
func NewAck(messageID uint16) *Message {
	return &Message{Type: Acknowledgement, Code: Empty, MessageID: messageID, Options: option.New()}
}

// NewReset returns an empty Reset for messageID.
func NewReset(messageID uint16) *Message {
	return &Message{Type: Reset, Code: Empty, MessageID: messageID, Options: option.New()}
}

// NewReply builds the wire-level skeleton of a reply to req: same message
// ID and token, type Acknowledgement, and an empty code the caller is
// expected to set before sending. This is the `new_reply` operation named
// in the external interface.
func (m *Message) NewReply() *Message {
	reply := New()
	reply.Type = Acknowledgement
	reply.MessageID = m.MessageID
	if len(m.Token) > 0 {
		reply.Token = append([]byte(nil), m.Token...)
	}
	return reply
}

// IsConfirmable reports whether the message type is Confirmable.
func (m *Message) IsConfirmable() bool { return m.Type == Confirmable }

// IsRequest reports whether the code is one of GET/POST/PUT/DELETE.
func (m *Message) IsRequest() bool {
	switch m.Code {
	case GET, POST, PUT, DELETE:
		return true
	default:
		return false
	}
}

// Path returns the Uri-Path option values in order.
func (m *Message) Path() []string {
	var parts []string
	for _, v := range m.Options.GetAll(option.URIPath) {
		parts = append(parts, v.AsString())
	}
	return parts
}

// PathString joins Path with "/".
func (m *Message) PathString() string {
	return strings.Join(m.Path(), "/")
}

// SetPathString replaces the Uri-Path options with the segments of s.
func (m *Message) SetPathString(s string) {
	m.Options.Del(option.URIPath)
	s = strings.TrimLeft(s, "/")
	if s == "" {
		return
	}
	for _, part := range strings.Split(s, "/") {
		m.Options.PushString(option.URIPath, part)
	}
}

func (m *Message) String() string {
	return fmt.Sprintf("message.Message{Type:%s, Code:%s, MessageID:%d, Token:% x, Payload:%d bytes}",
		m.Type, m.Code, m.MessageID, m.Token, len(m.Payload))
}
