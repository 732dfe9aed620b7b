package vctest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/findy-network/findy-didcomm/agent/utils"
	"github.com/findy-network/findy-didcomm/agent/vc"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

// Engine is a vc.Engine without cryptography. It checks the predicates when
// the proof is created and the revocation status when it's verified.
type Engine struct{}

type offer struct {
	SchemaID  string `json:"schema_id"`
	CredDefID string `json:"cred_def_id"`
	Nonce     string `json:"nonce"`
}

type request struct {
	ProverDID string `json:"prover_did"`
	CredDefID string `json:"cred_def_id"`
	Nonce     string `json:"nonce"`
}

type credential struct {
	SchemaID  string                       `json:"schema_id"`
	CredDefID string                       `json:"cred_def_id"`
	RevRegID  string                       `json:"rev_reg_id,omitempty"`
	CredRevID string                       `json:"cred_rev_id,omitempty"`
	Values    map[string]vc.AttributeValue `json:"values"`
}

type revealedAttr struct {
	SubProofIndex int    `json:"sub_proof_index"`
	Raw           string `json:"raw"`
	Encoded       string `json:"encoded"`
}

type subProof struct {
	SubProofIndex int `json:"sub_proof_index"`
}

type identifier struct {
	vc.ProofIdentifier
	CredRevID string `json:"cred_rev_id,omitempty"`
}

type proof struct {
	RequestedProof struct {
		RevealedAttrs map[string]revealedAttr `json:"revealed_attrs"`
		Predicates    map[string]subProof     `json:"predicates"`
	} `json:"requested_proof"`
	Identifiers []identifier `json:"identifiers"`
}

func (Engine) CreateOffer(_ context.Context, credDefID string) (json.RawMessage, error) {
	return json.Marshal(offer{
		SchemaID:  schemaIDOf(credDefID),
		CredDefID: credDefID,
		Nonce:     utils.NewNonceStr(),
	})
}

func (Engine) CreateRequest(_ context.Context, holderDID string, offerJSON json.RawMessage,
	credDef *vc.CredentialDefinition) (req, meta json.RawMessage, err error) {
	defer err2.Handle(&err, "create credential request")

	var o offer
	try.To(json.Unmarshal(offerJSON, &o))
	if o.CredDefID != credDef.ID {
		return nil, nil, fmt.Errorf("offer is for %s not %s", o.CredDefID, credDef.ID)
	}
	req = try.To1(json.Marshal(request{
		ProverDID: holderDID,
		CredDefID: credDef.ID,
		Nonce:     utils.NewNonceStr(),
	}))
	meta = try.To1(json.Marshal(map[string]string{"master_secret_name": "default"}))
	return req, meta, nil
}

func (Engine) CreateCredential(_ context.Context, p vc.CreateCredentialParams) (_ json.RawMessage, err error) {
	defer err2.Handle(&err, "create credential")

	var o offer
	try.To(json.Unmarshal(p.Offer, &o))
	var r request
	try.To(json.Unmarshal(p.Request, &r))
	if r.CredDefID != o.CredDefID {
		return nil, fmt.Errorf("request is for %s not %s", r.CredDefID, o.CredDefID)
	}
	c := credential{
		SchemaID:  o.SchemaID,
		CredDefID: o.CredDefID,
		Values:    p.Values,
	}
	if p.RevRegDefID != "" {
		c.RevRegID = p.RevRegDefID
		c.CredRevID = strconv.Itoa(p.RevIndex)
	}
	return json.Marshal(c)
}

func (Engine) ProcessCredential(_ context.Context, credJSON, _ json.RawMessage,
	credDef *vc.CredentialDefinition, _ *vc.RevocationRegistryDefinition) (_ *vc.CredentialInfo, err error) {
	defer err2.Handle(&err, "process credential")

	var c credential
	try.To(json.Unmarshal(credJSON, &c))
	if c.CredDefID != credDef.ID {
		return nil, fmt.Errorf("credential is for %s not %s", c.CredDefID, credDef.ID)
	}
	for name, v := range c.Values {
		if vc.EncodeValue(v.Raw) != v.Encoded {
			return nil, fmt.Errorf("attribute %s wrongly encoded", name)
		}
	}
	info := &vc.CredentialInfo{
		Referent:   utils.UUID(),
		SchemaID:   c.SchemaID,
		CredDefID:  c.CredDefID,
		RevRegID:   c.RevRegID,
		CredRevID:  c.CredRevID,
		Attributes: make(map[string]string, len(c.Values)),
	}
	for name, v := range c.Values {
		info.Attributes[name] = v.Raw
	}
	return info, nil
}

func (Engine) CreateProof(_ context.Context, p vc.CreateProofParams) (_ json.RawMessage, err error) {
	defer err2.Handle(&err, "create proof")

	var pr proof
	pr.RequestedProof.RevealedAttrs = make(map[string]revealedAttr)
	pr.RequestedProof.Predicates = make(map[string]subProof)
	index := make(map[string]int)

	sub := func(credID string, ts int64) (c credential, i int) {
		sc, ok := p.Credentials[credID]
		if !ok {
			panic(fmt.Errorf("credential %s not given", credID))
		}
		try.To(json.Unmarshal(sc.Credential, &c))
		if i, ok = index[credID]; ok {
			return c, i
		}
		i = len(pr.Identifiers)
		index[credID] = i
		id := identifier{
			ProofIdentifier: vc.ProofIdentifier{
				SchemaID:  c.SchemaID,
				CredDefID: c.CredDefID,
				RevRegID:  c.RevRegID,
			},
			CredRevID: c.CredRevID,
		}
		if c.RevRegID != "" {
			id.Timestamp = ts
		}
		pr.Identifiers = append(pr.Identifiers, id)
		return c, i
	}

	for ref, ra := range p.RequestedCredentials.RequestedAttributes {
		info, ok := p.ProofRequest.RequestedAttributes[ref]
		if !ok {
			return nil, fmt.Errorf("attribute %s not requested", ref)
		}
		c, i := sub(ra.CredID, ra.Timestamp)
		for _, name := range info.AttributeNames() {
			v, ok := c.Values[name]
			if !ok {
				return nil, fmt.Errorf("credential %s has no %s", ra.CredID, name)
			}
			pr.RequestedProof.RevealedAttrs[ref] = revealedAttr{
				SubProofIndex: i, Raw: v.Raw, Encoded: v.Encoded,
			}
		}
	}
	for ref, rp := range p.RequestedCredentials.RequestedPredicates {
		info, ok := p.ProofRequest.RequestedPredicates[ref]
		if !ok {
			return nil, fmt.Errorf("predicate %s not requested", ref)
		}
		c, i := sub(rp.CredID, rp.Timestamp)
		v, ok := c.Values[info.Name]
		if !ok {
			return nil, fmt.Errorf("credential %s has no %s", rp.CredID, info.Name)
		}
		if !vc.CheckPredicate(v.Encoded, info.PType, info.PValue) {
			return nil, fmt.Errorf("predicate %s %s %d is not satisfied",
				info.Name, info.PType, info.PValue)
		}
		pr.RequestedProof.Predicates[ref] = subProof{SubProofIndex: i}
	}
	return json.Marshal(pr)
}

func (Engine) VerifyProof(_ context.Context, p vc.VerifyProofParams) (ok bool, err error) {
	defer err2.Handle(&err, "verify proof")

	var pr proof
	try.To(json.Unmarshal(p.Proof, &pr))

	for ref := range p.ProofRequest.RequestedAttributes {
		if _, ok := pr.RequestedProof.RevealedAttrs[ref]; !ok {
			return false, nil
		}
	}
	for ref := range p.ProofRequest.RequestedPredicates {
		if _, ok := pr.RequestedProof.Predicates[ref]; !ok {
			return false, nil
		}
	}
	for _, id := range pr.Identifiers {
		if _, ok := p.CredentialDefs[id.CredDefID]; !ok {
			return false, fmt.Errorf("credential definition %s not given", id.CredDefID)
		}
		if id.RevRegID == "" {
			continue
		}
		if p.ProofRequest.NonRevoked != nil && id.Timestamp == 0 {
			return false, nil
		}
		list, ok := p.RevStatusLists.Get(id.RevRegID, id.Timestamp)
		if !ok {
			continue
		}
		idx, err := strconv.Atoi(id.CredRevID)
		if err != nil || list.IsRevoked(idx) {
			return false, nil
		}
	}
	return true, nil
}

const credDefMarker = ":3:CL:"

// schemaIDOf parses the schema ID from the credential definition ID of form
// <issuer>:3:CL:<schema id>:<tag>. Both the issuer and the schema ID may
// have colons, so the marker and the last colon delimit it.
func schemaIDOf(credDefID string) string {
	i := strings.Index(credDefID, credDefMarker)
	if i < 0 {
		return ""
	}
	rest := credDefID[i+len(credDefMarker):]
	j := strings.LastIndex(rest, ":")
	if j <= 0 {
		return ""
	}
	return rest[:j]
}
