/*
Package comm is the messaging core of the agent. Receiver unpacks inbound
envelopes and hands them to the Dispatcher which calls the protocol handlers
registered to it. Sender packs outbound messages and selects the transport
and service endpoint for them.
*/
package comm

//go:generate mockgen -destination mock_outbound_test.go -package comm github.com/findy-network/findy-didcomm/agent/trans Outbound

import (
	"errors"

	"github.com/findy-network/findy-didcomm/agent/didcomm"
	"github.com/findy-network/findy-didcomm/agent/psm"
	"github.com/findy-network/findy-didcomm/agent/trans"
	"github.com/findy-network/findy-didcomm/std/did"
)

var (
	// ErrDeliveryFailure is returned when none of the services of the
	// recipient could be reached.
	ErrDeliveryFailure = errors.New("message undeliverable")

	// ErrUnhandledMessageType is returned by the dispatcher for message
	// types without handler.
	ErrUnhandledMessageType = errors.New("unhandled message type")

	// ErrNoConnection is returned by handlers which need a ready connection.
	ErrNoConnection = errors.New("no ready connection for message")
)

// MessageContext is the inbound message after unpacking. The Connection is
// found by the envelope keys and it's nil for the messages which start a
// connection or are connectionless.
type MessageContext struct {
	Header       *didcomm.Header
	Message      []byte
	SenderKey    string
	RecipientKey string
	Connection   *psm.Connection
	Session      trans.Session
}

// Decode decodes the plaintext message to m.
func (mc *MessageContext) Decode(m didcomm.Message) error {
	return didcomm.Decode(mc.Message, m)
}

// ThreadID returns the thread ID of the message.
func (mc *MessageContext) ThreadID() string {
	return mc.Header.ThreadID()
}

// AssertReadyConnection returns the connection of the message or
// ErrNoConnection if it's missing or not ready.
func (mc *MessageContext) AssertReadyConnection() (*psm.Connection, error) {
	if mc.Connection == nil {
		return nil, ErrNoConnection
	}
	if err := mc.Connection.AssertReady(); err != nil {
		return nil, err
	}
	return mc.Connection, nil
}

// OutboundMessage is the message to send. The recipient services come from
// the connection unless Services are given, e.g. for the connection request
// sent to the invitation's service.
type OutboundMessage struct {
	Message    didcomm.Message
	Connection *psm.Connection
	Services   []did.Service

	// SenderKey overrides the verkey of the connection. Empty SenderKey
	// without connection means anoncrypt.
	SenderKey string

	// ReturnRoute requests the response over the same transport session.
	ReturnRoute bool

	// Session is the inbound session the message may be answered with.
	Session trans.Session
}

// NewOutbound returns message to be sent over the connection.
func NewOutbound(m didcomm.Message, conn *psm.Connection) *OutboundMessage {
	return &OutboundMessage{Message: m, Connection: conn}
}

func (o *OutboundMessage) senderKey() string {
	if o.SenderKey != "" || o.Connection == nil {
		return o.SenderKey
	}
	return o.Connection.Verkey
}

func (o *OutboundMessage) services() []did.Service {
	if len(o.Services) > 0 {
		return o.Services
	}
	if o.Connection == nil || o.Connection.TheirDIDDoc == nil {
		return nil
	}
	svcs := o.Connection.TheirDIDDoc.DIDCommServices()
	if len(svcs) == 0 && o.Connection.Connectionless {
		// the other end is reachable only over its session
		if k := o.Connection.TheirKey(); k != "" {
			svcs = []did.Service{{ID: "#session", RecipientKeys: []string{k}}}
		}
	}
	return svcs
}
