package psm

import (
	"github.com/findy-network/findy-didcomm/agent/storage"
	"github.com/findy-network/findy-didcomm/std/outofband"
)

type OutOfBandState string

const (
	OutOfBandInitial         OutOfBandState = "initial"
	OutOfBandAwaitResponse   OutOfBandState = "await-response"
	OutOfBandPrepareResponse OutOfBandState = "prepare-response"
	OutOfBandDone            OutOfBandState = "done"
)

type OutOfBandRole string

const (
	RoleSender   OutOfBandRole = "sender"
	RoleReceiver OutOfBandRole = "receiver"
)

type OutOfBand struct {
	storage.BaseRecord

	State      OutOfBandState        `json:"state"`
	Role       OutOfBandRole         `json:"role"`
	Invitation *outofband.Invitation `json:"outOfBandInvitation"`
	Reusable   bool                  `json:"reusable,omitempty"`

	// ReuseConnectionID is the connection reused by a handshake reuse.
	ReuseConnectionID string `json:"reuseConnectionId,omitempty"`
	MediatorID        string `json:"mediatorId,omitempty"`
	AutoAccept        *bool  `json:"autoAcceptConnection,omitempty"`
}

func NewOutOfBand() *OutOfBand {
	return new(OutOfBand)
}

func (o *OutOfBand) RecordType() string {
	return "OutOfBandRecord"
}

// RecipientKeyTag is the tag name of an invitation recipient key.
func RecipientKeyTag(verkey string) string {
	return "recipientKey::" + verkey
}

func (o *OutOfBand) TagValues() map[string]string {
	tags := map[string]string{
		"state":             string(o.State),
		"role":              string(o.Role),
		"reuseConnectionId": o.ReuseConnectionID,
	}
	if o.Invitation != nil {
		tags["invitationId"] = o.Invitation.ID
		for _, k := range o.Invitation.RecipientKeys() {
			tags[RecipientKeyTag(k)] = "1"
		}
	}
	return tags
}

func (o *OutOfBand) AssertState(expected ...OutOfBandState) error {
	return assertOneOf("out-of-band", o.ID, o.State, expected...)
}

func (o *OutOfBand) AssertRole(expected OutOfBandRole) error {
	return assertOneOf("out-of-band", o.ID, o.Role, expected)
}

type OutOfBandStateChanged struct {
	OutOfBand     OutOfBand
	PreviousState OutOfBandState
}

// HandshakeReused is published by both sides when a connection is reused.
type HandshakeReused struct {
	OutOfBand    OutOfBand
	ConnectionID string
	ReuseThread  string
}
