package issuecredential

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/findy-network/findy-didcomm/agent/didcomm"
	"github.com/findy-network/findy-didcomm/agent/psm"
	"github.com/findy-network/findy-didcomm/std/decorator"
	"github.com/findy-network/findy-didcomm/std/issuecredential"
	v1 "github.com/findy-network/findy-didcomm/std/issuecredential/v1"
	v2 "github.com/findy-network/findy-didcomm/std/issuecredential/v2"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

// proposal is the version independent content of the propose message.
type proposal struct {
	Comment string
	Preview *issuecredential.Preview
	Filter  v2.Filter
}

// offer is the content of the offer message. Offer is the credential
// engine's payload.
type offer struct {
	Comment string
	Preview *issuecredential.Preview
	Offer   json.RawMessage
}

// offerIDs are the fields of the engine's offer the holder needs.
type offerIDs struct {
	SchemaID  string `json:"schema_id"`
	CredDefID string `json:"cred_def_id"`
}

func versionOf(msgType string) (psm.ProtocolVersion, error) {
	t := didcomm.FromLegacy(msgType)
	switch {
	case strings.HasPrefix(t, v1.Protocol+"/"):
		return psm.V1, nil
	case strings.HasPrefix(t, v2.Protocol+"/"):
		return psm.V2, nil
	}
	return "", fmt.Errorf("not issue credential message: %s", msgType)
}

func previewType(v psm.ProtocolVersion) string {
	if v == psm.V1 {
		return v1.PreviewType
	}
	return v2.PreviewType
}

func proposeType(v psm.ProtocolVersion) string {
	if v == psm.V1 {
		return v1.ProposeType
	}
	return v2.ProposeType
}

func offerType(v psm.ProtocolVersion) string {
	if v == psm.V1 {
		return v1.OfferType
	}
	return v2.OfferType
}

func requestType(v psm.ProtocolVersion) string {
	if v == psm.V1 {
		return v1.RequestType
	}
	return v2.RequestType
}

func issueType(v psm.ProtocolVersion) string {
	if v == psm.V1 {
		return v1.IssueType
	}
	return v2.IssueType
}

func ackType(v psm.ProtocolVersion) string {
	if v == psm.V1 {
		return v1.AckType
	}
	return v2.AckType
}

func problemReportType(v psm.ProtocolVersion) string {
	if v == psm.V1 {
		return v1.ProblemReportType
	}
	return v2.ProblemReportType
}

func newPropose(v psm.ProtocolVersion, p proposal) (_ didcomm.Message, err error) {
	defer err2.Handle(&err, "new propose")

	if p.Preview != nil {
		p.Preview.Type = previewType(v)
	}
	if v == psm.V1 {
		return &v1.Propose{
			Header:             didcomm.NewHeader(v1.ProposeType),
			Comment:            p.Comment,
			CredentialProposal: p.Preview,
			SchemaIssuerDID:    p.Filter.SchemaIssuerDID,
			SchemaID:           p.Filter.SchemaID,
			SchemaName:         p.Filter.SchemaName,
			SchemaVersion:      p.Filter.SchemaVersion,
			CredDefID:          p.Filter.CredDefID,
			IssuerDID:          p.Filter.IssuerDID,
		}, nil
	}
	a := try.To1(decorator.NewJSONAttachment("", p.Filter))
	return &v2.Propose{
		Header:            didcomm.NewHeader(v2.ProposeType),
		Comment:           p.Comment,
		CredentialPreview: p.Preview,
		Formats:           []v2.Format{{AttachID: a.ID, Format: issuecredential.FormatFilter}},
		FiltersAttach:     []decorator.Attachment{a},
	}, nil
}

func decodePropose(v psm.ProtocolVersion, data []byte) (_ didcomm.Message, p *proposal, err error) {
	defer err2.Handle(&err, "decode propose")

	if v == psm.V1 {
		var m v1.Propose
		try.To(didcomm.Decode(data, &m))
		return &m, &proposal{
			Comment: m.Comment,
			Preview: m.CredentialProposal,
			Filter: v2.Filter{
				SchemaIssuerDID: m.SchemaIssuerDID,
				SchemaName:      m.SchemaName,
				SchemaVersion:   m.SchemaVersion,
				SchemaID:        m.SchemaID,
				IssuerDID:       m.IssuerDID,
				CredDefID:       m.CredDefID,
			},
		}, nil
	}
	var m v2.Propose
	try.To(didcomm.Decode(data, &m))
	p = &proposal{Comment: m.Comment, Preview: m.CredentialPreview}
	if a := v2.FormatAttachment(m.Formats, m.FiltersAttach, issuecredential.FormatFilter); a != nil {
		try.To(decorator.AttachmentJSON(*a, &p.Filter))
	}
	return &m, p, nil
}

func newOffer(v psm.ProtocolVersion, o offer) didcomm.Message {
	if o.Preview != nil {
		o.Preview.Type = previewType(v)
	}
	if v == psm.V1 {
		return &v1.Offer{
			Header:            didcomm.NewHeader(v1.OfferType),
			Comment:           o.Comment,
			CredentialPreview: o.Preview,
			OffersAttach: []decorator.Attachment{
				decorator.NewBase64Attachment(v1.OfferAttachID, "application/json", o.Offer),
			},
		}
	}
	a := decorator.NewBase64Attachment("", "application/json", o.Offer)
	return &v2.Offer{
		Header:            didcomm.NewHeader(v2.OfferType),
		Comment:           o.Comment,
		CredentialPreview: o.Preview,
		Formats:           []v2.Format{{AttachID: a.ID, Format: issuecredential.FormatOffer}},
		OffersAttach:      []decorator.Attachment{a},
	}
}

func decodeOffer(v psm.ProtocolVersion, data []byte) (_ didcomm.Message, o *offer, err error) {
	defer err2.Handle(&err, "decode offer")

	var a *decorator.Attachment
	var m didcomm.Message
	o = new(offer)
	if v == psm.V1 {
		var m1 v1.Offer
		try.To(didcomm.Decode(data, &m1))
		m, o.Comment, o.Preview = &m1, m1.Comment, m1.CredentialPreview
		a = decorator.FindAttachment(m1.OffersAttach, v1.OfferAttachID)
	} else {
		var m2 v2.Offer
		try.To(didcomm.Decode(data, &m2))
		m, o.Comment, o.Preview = &m2, m2.Comment, m2.CredentialPreview
		a = v2.FormatAttachment(m2.Formats, m2.OffersAttach, issuecredential.FormatOffer)
	}
	if a == nil {
		return nil, nil, psm.Validationf("offer %s has no indy offer", m.Hdr().ID)
	}
	o.Offer = try.To1(decorator.AttachmentBytes(*a))
	return m, o, nil
}

func newRequest(v psm.ProtocolVersion, req json.RawMessage) didcomm.Message {
	if v == psm.V1 {
		return &v1.Request{
			Header: didcomm.NewHeader(v1.RequestType),
			RequestsAttach: []decorator.Attachment{
				decorator.NewBase64Attachment(v1.RequestAttachID, "application/json", req),
			},
		}
	}
	a := decorator.NewBase64Attachment("", "application/json", req)
	return &v2.Request{
		Header:         didcomm.NewHeader(v2.RequestType),
		Formats:        []v2.Format{{AttachID: a.ID, Format: issuecredential.FormatRequest}},
		RequestsAttach: []decorator.Attachment{a},
	}
}

func decodeRequest(v psm.ProtocolVersion, data []byte) (_ didcomm.Message, req json.RawMessage, err error) {
	defer err2.Handle(&err, "decode request")

	var a *decorator.Attachment
	var m didcomm.Message
	if v == psm.V1 {
		var m1 v1.Request
		try.To(didcomm.Decode(data, &m1))
		m, a = &m1, decorator.FindAttachment(m1.RequestsAttach, v1.RequestAttachID)
	} else {
		var m2 v2.Request
		try.To(didcomm.Decode(data, &m2))
		m, a = &m2, v2.FormatAttachment(m2.Formats, m2.RequestsAttach, issuecredential.FormatRequest)
	}
	if a == nil {
		return nil, nil, psm.Validationf("request %s has no indy request", m.Hdr().ID)
	}
	return m, try.To1(decorator.AttachmentBytes(*a)), nil
}

func newIssue(v psm.ProtocolVersion, comment string, cred json.RawMessage) didcomm.Message {
	if v == psm.V1 {
		return &v1.Issue{
			Header:  didcomm.NewHeader(v1.IssueType),
			Comment: comment,
			CredentialsAttach: []decorator.Attachment{
				decorator.NewBase64Attachment(v1.CredAttachID, "application/json", cred),
			},
		}
	}
	a := decorator.NewBase64Attachment("", "application/json", cred)
	return &v2.Issue{
		Header:            didcomm.NewHeader(v2.IssueType),
		Comment:           comment,
		Formats:           []v2.Format{{AttachID: a.ID, Format: issuecredential.FormatCred}},
		CredentialsAttach: []decorator.Attachment{a},
	}
}

func decodeIssue(v psm.ProtocolVersion, data []byte) (_ didcomm.Message, cred json.RawMessage, err error) {
	defer err2.Handle(&err, "decode issue")

	var a *decorator.Attachment
	var m didcomm.Message
	if v == psm.V1 {
		var m1 v1.Issue
		try.To(didcomm.Decode(data, &m1))
		m, a = &m1, decorator.FindAttachment(m1.CredentialsAttach, v1.CredAttachID)
	} else {
		var m2 v2.Issue
		try.To(didcomm.Decode(data, &m2))
		m, a = &m2, v2.FormatAttachment(m2.Formats, m2.CredentialsAttach, issuecredential.FormatCred)
	}
	if a == nil {
		return nil, nil, psm.Validationf("issue %s has no indy credential", m.Hdr().ID)
	}
	return m, try.To1(decorator.AttachmentBytes(*a)), nil
}

// loadMessage returns the stored message of the type as raw JSON for the
// decoders above.
func (s *Service) loadMessage(recordID, msgType string) (_ []byte, err error) {
	defer err2.Handle(&err, "load %s", msgType)

	var raw rawMessage
	try.To(s.repos.Messages.GetAgentMessage(recordID, msgType, &raw))
	return raw.data, nil
}

func (s *Service) findMessage(recordID, msgType string) (_ []byte, ok bool, err error) {
	defer err2.Handle(&err, "find %s", msgType)

	var raw rawMessage
	ok = try.To1(s.repos.Messages.FindAgentMessage(recordID, msgType, &raw))
	return raw.data, ok, nil
}

func (s *Service) loadOffer(rec *psm.CredentialExchange) (_ *offer, err error) {
	defer err2.Handle(&err)

	data := try.To1(s.loadMessage(rec.ID, offerType(rec.ProtocolVersion)))
	_, o, err := decodeOffer(rec.ProtocolVersion, data)
	return o, err
}

func (s *Service) loadRequest(rec *psm.CredentialExchange) (_ json.RawMessage, err error) {
	defer err2.Handle(&err)

	data := try.To1(s.loadMessage(rec.ID, requestType(rec.ProtocolVersion)))
	_, req, err := decodeRequest(rec.ProtocolVersion, data)
	return req, err
}

func (s *Service) loadIssue(rec *psm.CredentialExchange) (_ json.RawMessage, err error) {
	defer err2.Handle(&err)

	data := try.To1(s.loadMessage(rec.ID, issueType(rec.ProtocolVersion)))
	_, cred, err := decodeIssue(rec.ProtocolVersion, data)
	return cred, err
}

// findProposal returns nil if the exchange has no proposal.
func (s *Service) findProposal(rec *psm.CredentialExchange) (_ *proposal, err error) {
	defer err2.Handle(&err)

	data, ok := try.To2(s.findMessage(rec.ID, proposeType(rec.ProtocolVersion)))
	if !ok {
		return nil, nil
	}
	_, p, err := decodePropose(rec.ProtocolVersion, data)
	return p, err
}

// findOffer returns nil if the exchange has no offer.
func (s *Service) findOffer(rec *psm.CredentialExchange) (_ *offer, err error) {
	defer err2.Handle(&err)

	data, ok := try.To2(s.findMessage(rec.ID, offerType(rec.ProtocolVersion)))
	if !ok {
		return nil, nil
	}
	_, o, err := decodeOffer(rec.ProtocolVersion, data)
	return o, err
}

// rawMessage keeps the stored message as it is.
type rawMessage struct {
	didcomm.Header
	data []byte
}

func (m *rawMessage) UnmarshalJSON(data []byte) error {
	m.data = append([]byte(nil), data...)
	type header didcomm.Header
	return json.Unmarshal(data, (*header)(&m.Header))
}
