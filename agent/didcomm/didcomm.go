/*
Package didcomm offers the common parts of all DIDComm v1 messages: the message
header with the ~thread and ~transport decorators, message type URIs and their
legacy did:sov forms, and JSON encoding helpers which compute the wire form of
the message type at serialization time.
*/
package didcomm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/findy-network/findy-didcomm/agent/utils"
	"github.com/findy-network/findy-didcomm/std/decorator"
)

const (
	// AriesPrefix is the current message type prefix.
	AriesPrefix = "https://didcomm.org"

	// LegacyPrefix is the old did:sov based prefix which still is used by
	// many agents.
	LegacyPrefix = "did:sov:BzCbsNYhMrjHiqZDTUASHg;spec"
)

// Header is embedded to every protocol message.
type Header struct {
	ID        string               `json:"@id"`
	Type      string               `json:"@type"`
	Thread    *decorator.Thread    `json:"~thread,omitempty"`
	Transport *decorator.Transport `json:"~transport,omitempty"`
}

// Message is the interface of all the protocol messages.
type Message interface {
	Hdr() *Header
}

// NewHeader returns a header with new ID for the message type.
func NewHeader(msgType string) Header {
	return Header{ID: utils.UUID(), Type: msgType}
}

func (h *Header) Hdr() *Header {
	return h
}

// ThreadID returns the thread ID of the message. If the message doesn't have
// a thread the message ID is the thread ID.
func (h *Header) ThreadID() string {
	if h.Thread != nil && h.Thread.ID != "" {
		return h.Thread.ID
	}
	return h.ID
}

// ParentThreadID returns the pthid or empty string.
func (h *Header) ParentThreadID() string {
	if h.Thread == nil {
		return ""
	}
	return h.Thread.PID
}

// SetThread sets thid and pthid of the message. Empty values aren't set.
func (h *Header) SetThread(thid, pthid string) {
	if thid == "" && pthid == "" {
		return
	}
	if h.Thread == nil {
		h.Thread = &decorator.Thread{}
	}
	if thid != "" {
		h.Thread.ID = thid
	}
	if pthid != "" {
		h.Thread.PID = pthid
	}
}

// SetReturnRoute sets the ~transport decorator's return_route.
func (h *Header) SetReturnRoute(value string) {
	if h.Transport == nil {
		h.Transport = &decorator.Transport{}
	}
	h.Transport.ReturnRoute = value
}

// ReturnRoute returns value of return_route or empty string.
func (h *Header) ReturnRoute() string {
	if h.Transport == nil {
		return ""
	}
	return h.Transport.ReturnRoute
}

// ToLegacy returns the legacy did:sov form of the message type.
func ToLegacy(msgType string) string {
	if strings.HasPrefix(msgType, AriesPrefix) {
		return LegacyPrefix + strings.TrimPrefix(msgType, AriesPrefix)
	}
	return msgType
}

// FromLegacy returns the https://didcomm.org form of the message type.
func FromLegacy(msgType string) string {
	if strings.HasPrefix(msgType, LegacyPrefix) {
		return AriesPrefix + strings.TrimPrefix(msgType, LegacyPrefix)
	}
	return msgType
}

// MessageType is the parsed form of a message type URI:
// <doc-uri>/<protocol>/<version>/<name>.
type MessageType struct {
	DocURI   string
	Protocol string
	Version  string
	Name     string
}

// ParseType parses message type URI. Legacy types are normalized.
func ParseType(msgType string) (mt MessageType, err error) {
	t := FromLegacy(msgType)
	i := strings.LastIndex(t, "/")
	if i < 0 {
		return mt, fmt.Errorf("invalid message type: %s", msgType)
	}
	mt.Name = t[i+1:]
	t = t[:i]
	if i = strings.LastIndex(t, "/"); i < 0 {
		return mt, fmt.Errorf("invalid message type: %s", msgType)
	}
	mt.Version = t[i+1:]
	t = t[:i]
	if i = strings.LastIndex(t, "/"); i < 0 {
		return mt, fmt.Errorf("invalid message type: %s", msgType)
	}
	mt.Protocol = t[i+1:]
	mt.DocURI = t[:i]
	if mt.Name == "" || mt.Version == "" || mt.Protocol == "" {
		return mt, fmt.Errorf("invalid message type: %s", msgType)
	}
	return mt, nil
}

// ProtocolURI returns the protocol part of the type, e.g.
// https://didcomm.org/connections/1.0
func (mt MessageType) ProtocolURI() string {
	return mt.DocURI + "/" + mt.Protocol + "/" + mt.Version
}

func (mt MessageType) String() string {
	return mt.ProtocolURI() + "/" + mt.Name
}

// Marshal encodes the message to JSON. If legacy is true the @type is written
// in the did:sov form. The message itself isn't modified.
func Marshal(m Message, legacy bool) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil || !legacy {
		return data, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	t, err := json.Marshal(ToLegacy(m.Hdr().Type))
	if err != nil {
		return nil, err
	}
	fields["@type"] = t
	return json.Marshal(fields)
}

// PeekHeader decodes only the header of the plaintext message. The type is
// normalized to its https://didcomm.org form.
func PeekHeader(data []byte) (h *Header, err error) {
	h = new(Header)
	if err := json.Unmarshal(data, h); err != nil {
		return nil, fmt.Errorf("message header: %w", err)
	}
	if h.Type == "" {
		return nil, fmt.Errorf("message header: @type missing")
	}
	h.Type = FromLegacy(h.Type)
	return h, nil
}

// Decode decodes the plaintext message to m and normalizes its type.
func Decode(data []byte, m Message) error {
	if err := json.Unmarshal(data, m); err != nil {
		return fmt.Errorf("decode %T: %w", m, err)
	}
	m.Hdr().Type = FromLegacy(m.Hdr().Type)
	return nil
}
