package presentproof

import (
	"strconv"

	"github.com/findy-network/findy-didcomm/agent/utils"
	"github.com/findy-network/findy-didcomm/agent/vc"
	"github.com/findy-network/findy-didcomm/std/presentproof"
)

const (
	proofRequestName    = "ProofReq"
	proofRequestVersion = "0.1"
)

// newProofRequest generates the proof request of the preview. The attributes
// sharing a referent are requested together from one credential. A preview
// value becomes an attribute value restriction.
func newProofRequest(preview *presentproof.Preview) *vc.ProofRequest {
	reqAttrs := make(map[string]vc.AttributeInfo)
	index := 0
	for _, attr := range preview.Attributes {
		if attr.Referent != "" {
			if info, ok := reqAttrs[attr.Referent]; ok {
				info.Names = append(info.Names, attr.Name)
				reqAttrs[attr.Referent] = addRestriction(info, attr)
				continue
			}
			reqAttrs[attr.Referent] = addRestriction(vc.AttributeInfo{
				Names: []string{attr.Name},
			}, attr)
			continue
		}
		index++
		id := "attr_referent_" + strconv.Itoa(index)
		reqAttrs[id] = addRestriction(vc.AttributeInfo{Name: attr.Name}, attr)
	}
	reqPredicates := make(map[string]vc.PredicateInfo)
	for i, p := range preview.Predicates {
		var restrictions []vc.Restriction
		if p.CredDefID != "" {
			restrictions = append(restrictions, vc.Restriction{CredDefID: p.CredDefID})
		}
		id := "predicate_" + strconv.Itoa(i+1)
		reqPredicates[id] = vc.PredicateInfo{
			Name:         p.Name,
			PType:        p.Predicate,
			PValue:       p.Threshold,
			Restrictions: restrictions,
		}
	}
	return &vc.ProofRequest{
		Name:                proofRequestName,
		Version:             proofRequestVersion,
		Nonce:               utils.NewNonceStr(),
		RequestedAttributes: reqAttrs,
		RequestedPredicates: reqPredicates,
	}
}

func addRestriction(info vc.AttributeInfo, attr presentproof.Attribute) vc.AttributeInfo {
	if attr.CredDefID == "" && attr.Value == "" {
		return info
	}
	if len(info.Restrictions) == 0 {
		info.Restrictions = []vc.Restriction{{CredDefID: attr.CredDefID}}
	}
	if attr.Value != "" {
		r := &info.Restrictions[0]
		if r.AttributeValues == nil {
			r.AttributeValues = make(map[string]string)
		}
		r.AttributeValues[attr.Name] = attr.Value
	}
	return info
}

// withDefaults returns a copy of the request with a fresh nonce, and name
// and version when they are missing.
func withDefaults(req *vc.ProofRequest) *vc.ProofRequest {
	r := *req
	r.Nonce = utils.NewNonceStr()
	if r.Name == "" {
		r.Name = proofRequestName
	}
	if r.Version == "" {
		r.Version = proofRequestVersion
	}
	if r.RequestedAttributes == nil {
		r.RequestedAttributes = make(map[string]vc.AttributeInfo)
	}
	if r.RequestedPredicates == nil {
		r.RequestedPredicates = make(map[string]vc.PredicateInfo)
	}
	return &r
}

// requestedNames returns the attribute and predicate names of the request.
func requestedNames(req *vc.ProofRequest) (attrs, preds map[string]bool) {
	attrs = make(map[string]bool)
	for _, info := range req.RequestedAttributes {
		for _, name := range info.AttributeNames() {
			attrs[name] = true
		}
	}
	preds = make(map[string]bool)
	for _, info := range req.RequestedPredicates {
		preds[info.Name+" "+info.PType+" "+strconv.FormatInt(info.PValue, 10)] = true
	}
	return attrs, preds
}

// coveredBy tells if everything req asks was in the proposal.
func coveredBy(req, proposed *vc.ProofRequest) bool {
	attrs, preds := requestedNames(req)
	pAttrs, pPreds := requestedNames(proposed)
	for name := range attrs {
		if !pAttrs[name] {
			return false
		}
	}
	for p := range preds {
		if !pPreds[p] {
			return false
		}
	}
	return true
}
