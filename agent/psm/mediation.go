package psm

import "github.com/findy-network/findy-didcomm/agent/storage"

type MediationState string

const (
	MediationRequested MediationState = "requested"
	MediationGranted   MediationState = "granted"
	MediationDenied    MediationState = "denied"
)

type MediationRole string

const (
	RoleMediator  MediationRole = "MEDIATOR"
	RoleRecipient MediationRole = "RECIPIENT"
)

// Mediation is the mediation of a connection. The recipient has one active
// mediation.
type Mediation struct {
	storage.BaseRecord

	State        MediationState `json:"state"`
	Role         MediationRole  `json:"role"`
	ConnectionID string         `json:"connectionId"`
	ThreadID     string         `json:"threadId"`

	// Granted values.
	Endpoint    string   `json:"endpoint,omitempty"`
	RoutingKeys []string `json:"routingKeys,omitempty"`

	// RecipientKeys is the keylist.
	RecipientKeys []string `json:"recipientKeys,omitempty"`

	InvitationURL string `json:"invitationUrl,omitempty"`
	Default       bool   `json:"default,omitempty"`
}

func NewMediation() *Mediation {
	return new(Mediation)
}

func (m *Mediation) RecordType() string {
	return "MediationRecord"
}

func (m *Mediation) TagValues() map[string]string {
	tags := map[string]string{
		"state":        string(m.State),
		"role":         string(m.Role),
		"connectionId": m.ConnectionID,
		"threadId":     m.ThreadID,
		"default":      storage.BoolTag(m.Default),
	}
	for _, k := range m.RecipientKeys {
		tags[RecipientKeyTag(k)] = "1"
	}
	return tags
}

func (m *Mediation) IsReady() bool {
	return m.State == MediationGranted
}

func (m *Mediation) AssertState(expected ...MediationState) error {
	return assertOneOf("mediation", m.ID, m.State, expected...)
}

func (m *Mediation) AssertRole(expected MediationRole) error {
	return assertOneOf("mediation", m.ID, m.Role, expected)
}

// AddKey adds the key to the keylist. It returns false if it was there.
func (m *Mediation) AddKey(key string) bool {
	for _, k := range m.RecipientKeys {
		if k == key {
			return false
		}
	}
	m.RecipientKeys = append(m.RecipientKeys, key)
	return true
}

// RemoveKey removes the key from the keylist. It returns false if it wasn't
// there.
func (m *Mediation) RemoveKey(key string) bool {
	for i, k := range m.RecipientKeys {
		if k == key {
			m.RecipientKeys = append(m.RecipientKeys[:i], m.RecipientKeys[i+1:]...)
			return true
		}
	}
	return false
}

type MediationStateChanged struct {
	Mediation     Mediation
	PreviousState MediationState
}

// KeylistUpdated is published by the recipient when the mediator has answered
// the keylist update.
type KeylistUpdated struct {
	Mediation Mediation
	ThreadID  string
	Keys      []string
}
