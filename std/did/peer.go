package did

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

const (
	peer2Prefix = "did:peer:2"

	purposeVerification = 'V'
	purposeAgreement    = 'E'
	purposeService      = 'S'
)

// abbreviated service of the did:peer:2 service segment
type peerService struct {
	Type          string   `json:"t"`
	Endpoint      string   `json:"s"`
	RoutingKeys   []string `json:"r,omitempty"`
	Accept        []string `json:"a,omitempty"`
	RecipientKeys []string `json:"recipientKeys,omitempty"`
	Priority      uint     `json:"priority,omitempty"`
}

// IsPeerDID2 tells if the DID is numalgo 2 peer DID.
func IsPeerDID2(didStr string) bool {
	return strings.HasPrefix(didStr, peer2Prefix+".")
}

// NewPeerDID2 creates numalgo 2 peer DID from the Ed25519 verkey and the
// endpoints. Routing keys are written in did:key format.
func NewPeerDID2(verkey string, endpoints, routingKeys []string) (d string, err error) {
	defer err2.Handle(&err, "new did:peer:2")

	fp := try.To1(Ed25519Fingerprint(verkey))
	var sb strings.Builder
	sb.WriteString(peer2Prefix)
	sb.WriteString(".")
	sb.WriteByte(purposeVerification)
	sb.WriteString(fp)

	rks := make([]string, 0, len(routingKeys))
	for _, rk := range routingKeys {
		if IsDIDKey(rk) {
			rks = append(rks, rk)
			continue
		}
		dk := try.To1(DIDKey(rk))
		fpk := strings.TrimPrefix(dk, didKeyPrefix)
		rks = append(rks, dk+"#"+fpk)
	}
	for i, endp := range endpoints {
		ps := peerService{
			Type:          ServiceTypeDIDComm,
			Endpoint:      endp,
			RoutingKeys:   rks,
			Accept:        []string{"didcomm/aip1", "didcomm/aip2;env=rfc19"},
			RecipientKeys: []string{"#key-1"},
			Priority:      uint(len(endpoints) - 1 - i),
		}
		data := try.To1(json.Marshal(ps))
		sb.WriteString(".")
		sb.WriteByte(purposeService)
		sb.WriteString(base64.RawURLEncoding.EncodeToString(data))
	}
	return sb.String(), nil
}

// ResolvePeerDID2 builds the DID document from the numalgo 2 peer DID.
func ResolvePeerDID2(didStr string) (doc *Doc, err error) {
	defer err2.Handle(&err, "resolve %s", didStr)

	if !IsPeerDID2(didStr) {
		return nil, fmt.Errorf("not a did:peer:2")
	}
	doc = &Doc{Context: ContextV1, ID: didStr}
	elems := strings.Split(strings.TrimPrefix(didStr, peer2Prefix+"."), ".")
	keyIndex := 0
	for _, e := range elems {
		if len(e) < 2 {
			return nil, fmt.Errorf("invalid element %q", e)
		}
		value := e[1:]
		switch e[0] {
		case purposeVerification:
			keyIndex++
			vk := try.To1(VerkeyFromFingerprint(value))
			keyID := fmt.Sprintf("#key-%d", keyIndex)
			doc.PublicKey = append(doc.PublicKey, PublicKey{
				ID:              keyID,
				Type:            KeyTypeEd25519,
				Controller:      didStr,
				PublicKeyBase58: vk,
			})
			doc.Authentication = append(doc.Authentication, VerificationMethod{
				Type:      AuthTypeEd25519,
				PublicKey: keyID,
			})
		case purposeAgreement:
			keyIndex++ // agreement keys are derived from the Ed25519 keys
		case purposeService:
			data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(value, "="))
			try.To(err)
			var ps peerService
			try.To(json.Unmarshal(data, &ps))
			t := ps.Type
			if t == "dm" {
				t = "DIDCommMessaging"
			}
			doc.Service = append(doc.Service, Service{
				ID:              fmt.Sprintf("#service-%d", len(doc.Service)),
				Type:            t,
				Priority:        ps.Priority,
				RecipientKeys:   ps.RecipientKeys,
				RoutingKeys:     ps.RoutingKeys,
				ServiceEndpoint: ps.Endpoint,
				Accept:          ps.Accept,
			})
		default:
			return nil, fmt.Errorf("unknown purpose %q", e[0])
		}
	}
	for i := range doc.Service {
		if len(doc.Service[i].RecipientKeys) == 0 && len(doc.PublicKey) > 0 {
			doc.Service[i].RecipientKeys = []string{doc.PublicKey[0].ID}
		}
	}
	return doc, nil
}

// Resolve returns the DID document of the DIDs which can be resolved
// locally. Now only did:peer:2 is supported.
func Resolve(didStr string) (*Doc, error) {
	if IsPeerDID2(didStr) {
		return ResolvePeerDID2(didStr)
	}
	return nil, fmt.Errorf("cannot resolve %s locally", didStr)
}
