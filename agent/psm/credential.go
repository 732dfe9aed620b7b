package psm

import (
	"encoding/json"

	"github.com/findy-network/findy-didcomm/agent/storage"
	"github.com/findy-network/findy-didcomm/agent/vc"
	"github.com/findy-network/findy-didcomm/std/issuecredential"
)

type CredentialState string

const (
	CredentialProposalSent     CredentialState = "proposal-sent"
	CredentialProposalReceived CredentialState = "proposal-received"
	CredentialOfferSent        CredentialState = "offer-sent"
	CredentialOfferReceived    CredentialState = "offer-received"
	CredentialDeclined         CredentialState = "declined"
	CredentialRequestSent      CredentialState = "request-sent"
	CredentialRequestReceived  CredentialState = "request-received"
	CredentialIssued           CredentialState = "credential-issued"
	CredentialReceived         CredentialState = "credential-received"
	CredentialDone             CredentialState = "done"
	CredentialAbandoned        CredentialState = "abandoned"
)

type ExchangeRole string

const (
	RoleIssuer   ExchangeRole = "issuer"
	RoleHolder   ExchangeRole = "holder"
	RoleVerifier ExchangeRole = "verifier"
	RoleProver   ExchangeRole = "prover"
)

// ProtocolVersion of the credential and proof exchanges: "v1" or "v2".
type ProtocolVersion string

const (
	V1 ProtocolVersion = "v1"
	V2 ProtocolVersion = "v2"
)

type CredentialExchange struct {
	storage.BaseRecord

	State           CredentialState `json:"state"`
	Role            ExchangeRole    `json:"role"`
	ProtocolVersion ProtocolVersion `json:"protocolVersion"`
	ThreadID        string          `json:"threadId"`
	ParentThreadID  string          `json:"parentThreadId,omitempty"`
	ConnectionID    string          `json:"connectionId,omitempty"`

	CredentialAttributes []issuecredential.Attribute `json:"credentialAttributes,omitempty"`
	CredDefID            string                      `json:"credentialDefinitionId,omitempty"`
	SchemaID             string                      `json:"schemaId,omitempty"`

	// RequestMetadata is the holder's opaque credential request metadata.
	RequestMetadata json.RawMessage `json:"requestMetadata,omitempty"`

	CredentialID string `json:"credentialId,omitempty"`
	RevRegID     string `json:"revocationRegistryId,omitempty"`
	CredRevID    string `json:"credentialRevocationId,omitempty"`
	Revoked      bool   `json:"revoked,omitempty"`

	AutoAccept   AutoAccept `json:"autoAcceptCredential,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

func NewCredentialExchange() *CredentialExchange {
	return new(CredentialExchange)
}

func (c *CredentialExchange) RecordType() string {
	return "CredentialRecord"
}

func (c *CredentialExchange) TagValues() map[string]string {
	return map[string]string{
		"state":          string(c.State),
		"role":           string(c.Role),
		"threadId":       c.ThreadID,
		"parentThreadId": c.ParentThreadID,
		"connectionId":   c.ConnectionID,
		"credentialId":   c.CredentialID,
		"credDefId":      c.CredDefID,
	}
}

func (c *CredentialExchange) AssertState(expected ...CredentialState) error {
	return assertOneOf("credential exchange", c.ID, c.State, expected...)
}

func (c *CredentialExchange) AssertRole(expected ExchangeRole) error {
	return assertOneOf("credential exchange role", c.ID, c.Role, expected)
}

func (c *CredentialExchange) AssertVersion(v ProtocolVersion) error {
	return assertOneOf("credential exchange version", c.ID, c.ProtocolVersion, v)
}

// IsPreIssuance tells if the exchange can still be declined.
func (c *CredentialExchange) IsPreIssuance() bool {
	switch c.State {
	case CredentialProposalSent, CredentialProposalReceived,
		CredentialOfferSent, CredentialOfferReceived,
		CredentialRequestSent, CredentialRequestReceived:
		return true
	}
	return false
}

// Values returns the credential attributes as name-value map.
func (c *CredentialExchange) Values() map[string]string {
	p := issuecredential.Preview{Attributes: c.CredentialAttributes}
	return p.Values()
}

type CredentialStateChanged struct {
	CredentialExchange CredentialExchange
	PreviousState      CredentialState
}

// Credential is a credential stored by the holder. Its tags make the
// credentials searchable by the proof request restrictions.
type Credential struct {
	storage.BaseRecord

	Credential      json.RawMessage              `json:"credential"`
	SchemaID        string                       `json:"schemaId"`
	SchemaIssuerDID string                       `json:"schemaIssuerDid,omitempty"`
	SchemaName      string                       `json:"schemaName,omitempty"`
	SchemaVersion   string                       `json:"schemaVersion,omitempty"`
	IssuerDID       string                       `json:"issuerDid,omitempty"`
	CredDefID       string                       `json:"credDefId"`
	RevRegID        string                       `json:"revRegId,omitempty"`
	CredRevID       string                       `json:"credRevId,omitempty"`
	Values          map[string]vc.AttributeValue `json:"values"`
}

func NewCredential() *Credential {
	return new(Credential)
}

func (c *Credential) RecordType() string {
	return "AnonCredsCredential"
}

func (c *Credential) TagValues() map[string]string {
	tags := map[string]string{
		"schema_id":         c.SchemaID,
		"schema_issuer_did": c.SchemaIssuerDID,
		"schema_name":       c.SchemaName,
		"schema_version":    c.SchemaVersion,
		"issuer_did":        c.IssuerDID,
		"cred_def_id":       c.CredDefID,
		"rev_reg_id":        c.RevRegID,
	}
	for name, v := range c.Values {
		tags[vc.AttrMarkerTag(name)] = "1"
		tags[vc.AttrValueTag(name)] = v.Raw
	}
	return tags
}

// Info returns the credential info for the credential engine.
func (c *Credential) Info() vc.CredentialInfo {
	attrs := make(map[string]string, len(c.Values))
	for name, v := range c.Values {
		attrs[name] = v.Raw
	}
	return vc.CredentialInfo{
		Referent:   c.ID,
		SchemaID:   c.SchemaID,
		CredDefID:  c.CredDefID,
		RevRegID:   c.RevRegID,
		CredRevID:  c.CredRevID,
		Attributes: attrs,
	}
}

// RevocationRegistry is the issuer's revocation registry of a credential
// definition. NextIndex is allocated for every issued credential.
type RevocationRegistry struct {
	storage.BaseRecord

	CredDefID   string `json:"credDefId"`
	RevRegDefID string `json:"revRegDefId"`
	MaxCredNum  int    `json:"maxCredNum"`
	NextIndex   int    `json:"nextIndex"`
	Revoked     []int  `json:"revoked,omitempty"`
}

func NewRevocationRegistry() *RevocationRegistry {
	return new(RevocationRegistry)
}

func (r *RevocationRegistry) RecordType() string {
	return "RevocationRegistryRecord"
}

func (r *RevocationRegistry) TagValues() map[string]string {
	return map[string]string{
		"credDefId":   r.CredDefID,
		"revRegDefId": r.RevRegDefID,
	}
}
