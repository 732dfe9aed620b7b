package psm

import (
	"github.com/findy-network/findy-didcomm/agent/storage"
	"github.com/findy-network/findy-didcomm/std/connection"
	"github.com/findy-network/findy-didcomm/std/did"
)

type ConnectionState string

const (
	ConnectionInvited   ConnectionState = "invited"
	ConnectionRequested ConnectionState = "requested"
	ConnectionResponded ConnectionState = "responded"
	ConnectionComplete  ConnectionState = "complete"
	// ConnectionAbandoned is entered by a problem report.
	ConnectionAbandoned ConnectionState = "abandoned"
)

var connectionOrder = map[ConnectionState]int{
	ConnectionInvited:   0,
	ConnectionRequested: 1,
	ConnectionResponded: 2,
	ConnectionComplete:  3,
}

type ConnectionRole string

const (
	RoleInviter ConnectionRole = "inviter"
	RoleInvitee ConnectionRole = "invitee"
)

// HandshakeProtocol is the protocol URI of the handshake used.
type HandshakeProtocol string

type Connection struct {
	storage.BaseRecord

	State    ConnectionState   `json:"state"`
	Role     ConnectionRole    `json:"role"`
	Protocol HandshakeProtocol `json:"protocol,omitempty"`

	DID         string   `json:"did"`
	DIDDoc      *did.Doc `json:"didDoc,omitempty"`
	Verkey      string   `json:"verkey"`
	TheirDID    string   `json:"theirDid,omitempty"`
	TheirDIDDoc *did.Doc `json:"theirDidDoc,omitempty"`
	TheirLabel  string   `json:"theirLabel,omitempty"`
	Alias       string   `json:"alias,omitempty"`

	// Exactly one of these is set for the invitee.
	Invitation  *connection.Invitation `json:"invitation,omitempty"`
	OutOfBandID string                 `json:"outOfBandId,omitempty"`

	InvitationKey      string `json:"invitationKey,omitempty"`
	ThreadID           string `json:"threadId,omitempty"`
	MediatorID         string `json:"mediatorId,omitempty"`
	MultiUseInvitation bool   `json:"multiUseInvitation,omitempty"`

	// Connectionless connection is created for the requests of an
	// out-of-band invitation without handshake.
	Connectionless bool `json:"connectionless,omitempty"`

	AutoAccept         *bool  `json:"autoAcceptConnection,omitempty"`
	ErrorMessage       string `json:"errorMessage,omitempty"`
}

func NewConnection() *Connection {
	return new(Connection)
}

func (c *Connection) RecordType() string {
	return "ConnectionRecord"
}

func (c *Connection) TagValues() map[string]string {
	return map[string]string{
		"state":              string(c.State),
		"role":               string(c.Role),
		"did":                c.DID,
		"verkey":             c.Verkey,
		"theirDid":           c.TheirDID,
		"theirKey":           c.TheirKey(),
		"threadId":           c.ThreadID,
		"outOfBandId":        c.OutOfBandID,
		"invitationKey":      c.InvitationKey,
		"mediatorId":         c.MediatorID,
		"multiUseInvitation": storage.BoolTag(c.MultiUseInvitation),
		"connectionless":     storage.BoolTag(c.Connectionless),
	}
}

// TheirKey returns the verkey of their DID document or empty string.
func (c *Connection) TheirKey() string {
	if c.TheirDIDDoc == nil {
		return ""
	}
	return c.TheirDIDDoc.Verkey()
}

// IsReady tells if the connection can be used to send messages.
func (c *Connection) IsReady() bool {
	return c.State == ConnectionResponded || c.State == ConnectionComplete
}

func (c *Connection) AssertState(expected ...ConnectionState) error {
	return assertOneOf("connection", c.ID, c.State, expected...)
}

func (c *Connection) AssertRole(expected ConnectionRole) error {
	return assertOneOf("connection", c.ID, c.Role, expected)
}

// AssertReady returns ErrProtocolState if the connection isn't ready.
func (c *Connection) AssertReady() error {
	return c.AssertState(ConnectionResponded, ConnectionComplete)
}

// CanTransition tells if the state change is forward along the handshake.
// Abandoning is always allowed.
func (c *Connection) CanTransition(next ConnectionState) bool {
	if next == ConnectionAbandoned {
		return true
	}
	cur, ok := connectionOrder[c.State]
	if !ok {
		return false
	}
	return connectionOrder[next] >= cur
}

// ConnectionStateChanged is published after every state update.
type ConnectionStateChanged struct {
	Connection    Connection
	PreviousState ConnectionState
}
