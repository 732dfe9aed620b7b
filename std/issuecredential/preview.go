// Package issuecredential has the message models of the issue credential
// protocols. The version specific messages are in v1 and v2 packages and
// the credential preview shared by both is here.
package issuecredential

import "sort"

const (
	// Indy attachment formats of the v2 protocol.
	FormatOffer   = "hlindy/cred-abstract@v2.0"
	FormatRequest = "hlindy/cred-req@v2.0"
	FormatCred    = "hlindy/cred@v2.0"
	FormatFilter  = "hlindy/cred-filter@v2.0"
)

// Preview is used to construct a preview of the data for the credential that
// is to be issued.
type Preview struct {
	Type       string      `json:"@type,omitempty"`
	Attributes []Attribute `json:"attributes"`
}

// Attribute describes an attribute of a credential preview.
type Attribute struct {
	Name     string `json:"name"`
	MimeType string `json:"mime-type,omitempty"`
	Value    string `json:"value"`
}

// NewPreview builds the preview from name-value map. Attributes are sorted by
// name.
func NewPreview(previewType string, values map[string]string) *Preview {
	p := &Preview{Type: previewType}
	for name, v := range values {
		p.Attributes = append(p.Attributes, Attribute{Name: name, Value: v})
	}
	sort.Slice(p.Attributes, func(i, j int) bool {
		return p.Attributes[i].Name < p.Attributes[j].Name
	})
	return p
}

// Values returns the attributes as name-value map.
func (p *Preview) Values() map[string]string {
	if p == nil {
		return nil
	}
	m := make(map[string]string, len(p.Attributes))
	for _, a := range p.Attributes {
		m[a.Name] = a.Value
	}
	return m
}
