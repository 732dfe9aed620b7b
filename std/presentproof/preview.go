// Package presentproof has the message models of the present proof
// protocols. The version specific messages are in v1 and v2 packages and the
// presentation preview shared by both is here.
package presentproof

const (
	// Indy attachment formats of the v2 protocol.
	FormatRequest = "hlindy/proof-req@v2.0"
	FormatProof   = "hlindy/proof@v2.0"
)

// Preview is the presentation preview of the proposal.
type Preview struct {
	Type       string      `json:"@type,omitempty"`
	Attributes []Attribute `json:"attributes"`
	Predicates []Predicate `json:"predicates"`
}

type Attribute struct {
	Name      string `json:"name"`
	CredDefID string `json:"cred_def_id,omitempty"`
	MimeType  string `json:"mime-type,omitempty"`
	Value     string `json:"value,omitempty"`
	Referent  string `json:"referent,omitempty"`
}

// Predicate is a predicate of the preview. Predicate is one of "<", "<=",
// ">=" and ">".
type Predicate struct {
	Name      string `json:"name"`
	CredDefID string `json:"cred_def_id,omitempty"`
	Predicate string `json:"predicate"`
	Threshold int64  `json:"threshold"`
}
