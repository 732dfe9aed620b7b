/*
Package vc defines the collaborator interfaces of the verifiable credential
protocols: the credential Engine, which does the cryptography of issuing and
presenting, and the Ledger, which stores schemas, credential definitions and
revocation registries. The types are the JSON objects the protocols move
between the agents and these collaborators.
*/
package vc

import (
	"context"
	"encoding/json"
	"strings"
)

type Schema struct {
	ID        string   `json:"id,omitempty"`
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	AttrNames []string `json:"attrNames"`
	IssuerID  string   `json:"issuerId"`
}

type CredentialDefinition struct {
	ID                string          `json:"id,omitempty"`
	SchemaID          string          `json:"schemaId"`
	IssuerID          string          `json:"issuerId"`
	Tag               string          `json:"tag"`
	SupportRevocation bool            `json:"supportRevocation,omitempty"`
	Value             json.RawMessage `json:"value,omitempty"`
}

type RevocationRegistryDefinition struct {
	ID         string `json:"id,omitempty"`
	CredDefID  string `json:"credDefId"`
	IssuerID   string `json:"issuerId"`
	Tag        string `json:"tag"`
	MaxCredNum int    `json:"maxCredNum"`
}

// RevocationStatusList is the state of the revocation registry at the
// timestamp. Revoked has the revoked credential indexes.
type RevocationStatusList struct {
	RevRegDefID string `json:"revRegDefId"`
	Revoked     []int  `json:"revoked"`
	Timestamp   int64  `json:"timestamp"`
}

func (l *RevocationStatusList) IsRevoked(index int) bool {
	if l == nil {
		return false
	}
	for _, r := range l.Revoked {
		if r == index {
			return true
		}
	}
	return false
}

// StatusLists are the status lists of a proof by the revocation registry ID
// and the timestamp the proof refers to.
type StatusLists map[string]map[int64]*RevocationStatusList

func (s StatusLists) Add(revRegDefID string, timestamp int64, l *RevocationStatusList) {
	if s[revRegDefID] == nil {
		s[revRegDefID] = make(map[int64]*RevocationStatusList)
	}
	s[revRegDefID][timestamp] = l
}

func (s StatusLists) Get(revRegDefID string, timestamp int64) (*RevocationStatusList, bool) {
	l, ok := s[revRegDefID][timestamp]
	return l, ok
}

// AttributeValue is the raw and encoded value of a credential attribute.
type AttributeValue struct {
	Raw     string `json:"raw"`
	Encoded string `json:"encoded"`
}

// CredentialInfo is what the holder knows about its stored credential.
type CredentialInfo struct {
	Referent   string            `json:"referent"`
	SchemaID   string            `json:"schema_id"`
	CredDefID  string            `json:"cred_def_id"`
	RevRegID   string            `json:"rev_reg_id,omitempty"`
	CredRevID  string            `json:"cred_rev_id,omitempty"`
	Attributes map[string]string `json:"attrs"`
}

type NonRevokedInterval struct {
	From int64 `json:"from,omitempty"`
	To   int64 `json:"to,omitempty"`
}

// Restriction of the requested attribute or predicate. All the set fields
// must match. AttributeValues are the attr::<name>::value restrictions and
// AttributeMarkers the attr::<name>::marker ones.
type Restriction struct {
	SchemaID        string `json:"schema_id,omitempty"`
	SchemaIssuerDID string `json:"schema_issuer_did,omitempty"`
	SchemaName      string `json:"schema_name,omitempty"`
	SchemaVersion   string `json:"schema_version,omitempty"`
	IssuerDID       string `json:"issuer_did,omitempty"`
	CredDefID       string `json:"cred_def_id,omitempty"`
	RevRegID        string `json:"rev_reg_id,omitempty"`

	AttributeValues  map[string]string `json:"-"`
	AttributeMarkers []string          `json:"-"`
}

type restriction Restriction

func (r Restriction) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(restriction(r))
	if err != nil || (len(r.AttributeValues) == 0 && len(r.AttributeMarkers) == 0) {
		return data, err
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	for name, v := range r.AttributeValues {
		m[AttrValueTag(name)] = v
	}
	for _, name := range r.AttributeMarkers {
		m[AttrMarkerTag(name)] = "1"
	}
	return json.Marshal(m)
}

func (r *Restriction) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, (*restriction)(r)); err != nil {
		return err
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	for k, v := range m {
		parts := strings.Split(k, "::")
		if len(parts) != 3 || parts[0] != "attr" {
			continue
		}
		switch parts[2] {
		case "value":
			if r.AttributeValues == nil {
				r.AttributeValues = make(map[string]string)
			}
			r.AttributeValues[parts[1]] = v
		case "marker":
			r.AttributeMarkers = append(r.AttributeMarkers, parts[1])
		}
	}
	return nil
}

// AttrMarkerTag is the tag of a credential which has the attribute.
func AttrMarkerTag(name string) string {
	return "attr::" + name + "::marker"
}

// AttrValueTag is the tag of a credential attribute's raw value.
func AttrValueTag(name string) string {
	return "attr::" + name + "::value"
}

type AttributeInfo struct {
	Name         string              `json:"name,omitempty"`
	Names        []string            `json:"names,omitempty"`
	Restrictions []Restriction       `json:"restrictions,omitempty"`
	NonRevoked   *NonRevokedInterval `json:"non_revoked,omitempty"`
}

// AttributeNames returns name or names.
func (a AttributeInfo) AttributeNames() []string {
	if a.Name != "" {
		return []string{a.Name}
	}
	return a.Names
}

type PredicateInfo struct {
	Name         string              `json:"name"`
	PType        string              `json:"p_type"`
	PValue       int64               `json:"p_value"`
	Restrictions []Restriction       `json:"restrictions,omitempty"`
	NonRevoked   *NonRevokedInterval `json:"non_revoked,omitempty"`
}

// ProofRequest is the Indy proof request.
type ProofRequest struct {
	Name                string                   `json:"name"`
	Version             string                   `json:"version"`
	Nonce               string                   `json:"nonce"`
	RequestedAttributes map[string]AttributeInfo `json:"requested_attributes"`
	RequestedPredicates map[string]PredicateInfo `json:"requested_predicates"`
	NonRevoked          *NonRevokedInterval      `json:"non_revoked,omitempty"`
}

type RequestedAttribute struct {
	CredID    string `json:"cred_id"`
	Revealed  bool   `json:"revealed"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type RequestedPredicate struct {
	CredID    string `json:"cred_id"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// RequestedCredentials are the credentials selected for the proof.
type RequestedCredentials struct {
	RequestedAttributes    map[string]RequestedAttribute `json:"requested_attributes"`
	RequestedPredicates    map[string]RequestedPredicate `json:"requested_predicates"`
	SelfAttestedAttributes map[string]string             `json:"self_attested_attributes"`
}

// ProofIdentifier is an identifier entry of the proof.
type ProofIdentifier struct {
	SchemaID  string `json:"schema_id"`
	CredDefID string `json:"cred_def_id"`
	RevRegID  string `json:"rev_reg_id,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// ProofIdentifiers returns the identifiers of the proof.
func ProofIdentifiers(proof json.RawMessage) ([]ProofIdentifier, error) {
	var p struct {
		Identifiers []ProofIdentifier `json:"identifiers"`
	}
	if err := json.Unmarshal(proof, &p); err != nil {
		return nil, err
	}
	return p.Identifiers, nil
}

// StoredCredential is a credential of the holder with its info.
type StoredCredential struct {
	Credential json.RawMessage
	Info       CredentialInfo
}

type CreateCredentialParams struct {
	Offer       json.RawMessage
	Request     json.RawMessage
	Values      map[string]AttributeValue
	RevRegDefID string
	RevIndex    int
}

type CreateProofParams struct {
	ProofRequest         *ProofRequest
	RequestedCredentials *RequestedCredentials
	Credentials          map[string]StoredCredential
	Schemas              map[string]*Schema
	CredentialDefs       map[string]*CredentialDefinition
	RevStatusLists       StatusLists
}

type VerifyProofParams struct {
	ProofRequest   *ProofRequest
	Proof          json.RawMessage
	Schemas        map[string]*Schema
	CredentialDefs map[string]*CredentialDefinition
	RevRegDefs     map[string]*RevocationRegistryDefinition
	RevStatusLists StatusLists
}

// Engine is the credential cryptography. All the payloads are opaque JSON.
type Engine interface {
	CreateOffer(ctx context.Context, credDefID string) (json.RawMessage, error)
	CreateRequest(ctx context.Context, holderDID string, offer json.RawMessage,
		credDef *CredentialDefinition) (req, reqMetadata json.RawMessage, err error)
	CreateCredential(ctx context.Context, p CreateCredentialParams) (json.RawMessage, error)
	ProcessCredential(ctx context.Context, cred, reqMetadata json.RawMessage,
		credDef *CredentialDefinition, revRegDef *RevocationRegistryDefinition) (*CredentialInfo, error)
	CreateProof(ctx context.Context, p CreateProofParams) (json.RawMessage, error)
	VerifyProof(ctx context.Context, p VerifyProofParams) (bool, error)
}

// Ledger is the distributed ledger client.
type Ledger interface {
	RegisterSchema(ctx context.Context, s *Schema) (string, error)
	GetSchema(ctx context.Context, id string) (*Schema, error)
	RegisterCredentialDefinition(ctx context.Context, cd *CredentialDefinition) (string, error)
	GetCredentialDefinition(ctx context.Context, id string) (*CredentialDefinition, error)
	RegisterRevocationRegistryDefinition(ctx context.Context, r *RevocationRegistryDefinition) (string, error)
	GetRevocationRegistryDefinition(ctx context.Context, id string) (*RevocationRegistryDefinition, error)
	// GetRevocationStatusList returns the latest list at or before the
	// timestamp.
	GetRevocationStatusList(ctx context.Context, revRegDefID string, timestamp int64) (*RevocationStatusList, error)
	RegisterRevocationStatusList(ctx context.Context, l *RevocationStatusList) error
}
