/*
Package did implements the DID documents used by the connection protocols:
the legacy DID document of the connections protocol, did:peer numalgo 2
DIDs of the DID exchange protocol, and did:key encoded keys of the
out-of-band invitations.
*/
package did

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/golang/glog"
	"github.com/hyperledger/aries-framework-go/pkg/doc/did"
	"github.com/mr-tron/base58"
)

const (
	ContextV1 = "https://w3id.org/did/v1"

	KeyTypeEd25519  = "Ed25519VerificationKey2018"
	AuthTypeEd25519 = "Ed25519SignatureAuthentication2018"

	ServiceTypeIndyAgent = "IndyAgent"
	ServiceTypeDIDComm   = "did-communication"
)

// Doc DID Document definition
type Doc struct {
	Context        string               `json:"@context,omitempty"`
	ID             string               `json:"id,omitempty"`
	PublicKey      []PublicKey          `json:"publicKey,omitempty"`
	Service        []Service            `json:"service,omitempty"`
	Authentication []VerificationMethod `json:"authentication,omitempty"`
}

// PublicKey DID doc public key
type PublicKey struct {
	ID              string `json:"id,omitempty"`
	Type            string `json:"type,omitempty"`
	Controller      string `json:"controller,omitempty"`
	PublicKeyBase58 string `json:"publicKeyBase58,omitempty"`
}

// Service DID doc service
type Service struct {
	ID              string   `json:"id,omitempty"`
	Type            string   `json:"type,omitempty"`
	Priority        uint     `json:"priority,omitempty"`
	RecipientKeys   []string `json:"recipientKeys,omitempty"`
	RoutingKeys     []string `json:"routingKeys,omitempty"`
	ServiceEndpoint string   `json:"serviceEndpoint"`
	Accept          []string `json:"accept,omitempty"`
}

// VerificationMethod authentication verification method
type VerificationMethod struct {
	Type      string `json:"type,omitempty"`
	PublicKey string `json:"publicKey,omitempty"`
}

// UnmarshalJSON accepts serviceEndpoint as a string or as an object with
// uri field.
func (s *Service) UnmarshalJSON(data []byte) error {
	type plain Service
	var raw struct {
		plain
		ServiceEndpoint json.RawMessage `json:"serviceEndpoint"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Service(raw.plain)
	if len(raw.ServiceEndpoint) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw.ServiceEndpoint, &s.ServiceEndpoint); err == nil {
		return nil
	}
	var obj struct {
		URI         string   `json:"uri"`
		RoutingKeys []string `json:"routingKeys"`
		Accept      []string `json:"accept"`
	}
	if err := json.Unmarshal(raw.ServiceEndpoint, &obj); err != nil {
		return fmt.Errorf("service endpoint: %w", err)
	}
	s.ServiceEndpoint = obj.URI
	if len(s.RoutingKeys) == 0 {
		s.RoutingKeys = obj.RoutingKeys
	}
	if len(s.Accept) == 0 {
		s.Accept = obj.Accept
	}
	return nil
}

// NewDoc creates a legacy DID document with one Ed25519 key. Every endpoint
// gets own service, and the first endpoint has the highest priority.
func NewDoc(didStr, verkey string, endpoints, routingKeys []string) *Doc {
	didURI := Qualify(didStr)
	didURIRef := didURI + "#1"
	pubK := PublicKey{
		ID:              didURIRef,
		Type:            KeyTypeEd25519,
		Controller:      didURI,
		PublicKeyBase58: verkey,
	}
	services := make([]Service, 0, len(endpoints))
	for i, endp := range endpoints {
		services = append(services, Service{
			ID:              fmt.Sprintf("%s;indy-%d", didURI, i),
			Type:            ServiceTypeIndyAgent,
			Priority:        uint(len(endpoints) - 1 - i),
			RecipientKeys:   []string{verkey},
			RoutingKeys:     routingKeys,
			ServiceEndpoint: endp,
		})
	}
	return &Doc{
		Context:   ContextV1,
		ID:        didURI,
		PublicKey: []PublicKey{pubK},
		Service:   services,
		Authentication: []VerificationMethod{{
			Type:      AuthTypeEd25519,
			PublicKey: didURIRef,
		}},
	}
}

// Qualify adds did:sov: prefix to unqualified DIDs.
func Qualify(didStr string) string {
	if strings.HasPrefix(didStr, "did:") {
		return didStr
	}
	return "did:sov:" + didStr
}

// Unqualify removes did:sov: prefix.
func Unqualify(didStr string) string {
	return strings.TrimPrefix(didStr, "did:sov:")
}

// LegacyDID builds the unqualified indy DID from the verkey: the first 16
// bytes of the key in base58.
func LegacyDID(verkey string) (string, error) {
	key, err := base58.Decode(verkey)
	if err != nil {
		return "", fmt.Errorf("legacy did: %w", err)
	}
	if len(key) < 16 {
		return "", fmt.Errorf("legacy did: key too short")
	}
	return base58.Encode(key[:16]), nil
}

// Verkey returns the first Ed25519 key of the document in base58. Key
// references are resolved.
func (d *Doc) Verkey() string {
	for _, pk := range d.PublicKey {
		if pk.PublicKeyBase58 != "" {
			return pk.PublicKeyBase58
		}
	}
	for _, s := range d.Service {
		if len(s.RecipientKeys) > 0 {
			return d.ResolveKey(s.RecipientKeys[0])
		}
	}
	return ""
}

// ResolveKey returns the base58 verkey of the key reference. Key references
// can be base58 keys, did:key values or fragments of the own public keys.
func (d *Doc) ResolveKey(ref string) string {
	if strings.HasPrefix(ref, "#") || strings.HasPrefix(ref, d.ID+"#") {
		frag := ref[strings.Index(ref, "#"):]
		for _, pk := range d.PublicKey {
			if strings.HasSuffix(pk.ID, frag) {
				return pk.PublicKeyBase58
			}
		}
		glog.Warningln("cannot resolve key reference:", ref)
		return ""
	}
	return NormalizeKey(ref)
}

// DIDCommServices returns the DIDComm v1 services in descending priority
// order. Keys of the returned services are normalized to base58.
func (d *Doc) DIDCommServices() []Service {
	services := make([]Service, 0, len(d.Service))
	for _, s := range d.Service {
		if s.Type != ServiceTypeIndyAgent && s.Type != ServiceTypeDIDComm {
			continue
		}
		s.RecipientKeys = d.resolveKeys(s.RecipientKeys)
		s.RoutingKeys = d.resolveKeys(s.RoutingKeys)
		services = append(services, s)
	}
	sort.SliceStable(services, func(i, j int) bool {
		return services[i].Priority > services[j].Priority
	})
	return services
}

func (d *Doc) resolveKeys(refs []string) []string {
	if len(refs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(refs))
	for _, r := range refs {
		if k := d.ResolveKey(r); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// Parse parses a DID document received from other agent. Documents in the
// current W3C format are parsed with the aries DID package and their keys
// converted to the legacy form.
func Parse(data []byte) (doc *Doc, err error) {
	doc = new(Doc)
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("parse did doc: %w", err)
	}
	adoc, err := did.ParseDocument(data)
	if err != nil {
		glog.V(3).Infoln("aries did doc parse failed, legacy form used:", err)
		return doc, nil
	}
	if adoc.ID != "" {
		doc.ID = adoc.ID
	}
	if len(doc.PublicKey) == 0 {
		for _, vm := range adoc.VerificationMethod {
			doc.PublicKey = append(doc.PublicKey, PublicKey{
				ID:              vm.ID,
				Type:            vm.Type,
				Controller:      vm.Controller,
				PublicKeyBase58: base58.Encode(vm.Value),
			})
		}
	}
	return doc, nil
}
