package presentproof

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/findy-network/findy-didcomm/agent/didcomm"
	"github.com/findy-network/findy-didcomm/agent/psm"
	"github.com/findy-network/findy-didcomm/agent/vc"
	"github.com/findy-network/findy-didcomm/std/decorator"
	"github.com/findy-network/findy-didcomm/std/presentproof"
	v1 "github.com/findy-network/findy-didcomm/std/presentproof/v1"
	v2 "github.com/findy-network/findy-didcomm/std/presentproof/v2"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

// proposal is the version independent content of the propose message. The
// v1 preview is converted to the proof request it stands for.
type proposal struct {
	Comment string
	Preview *presentproof.Preview
	Request *vc.ProofRequest
}

func versionOf(msgType string) (psm.ProtocolVersion, error) {
	t := didcomm.FromLegacy(msgType)
	switch {
	case strings.HasPrefix(t, v1.Protocol+"/"):
		return psm.V1, nil
	case strings.HasPrefix(t, v2.Protocol+"/"):
		return psm.V2, nil
	}
	return "", fmt.Errorf("not present proof message: %s", msgType)
}

func proposeType(v psm.ProtocolVersion) string {
	if v == psm.V1 {
		return v1.ProposeType
	}
	return v2.ProposeType
}

func requestType(v psm.ProtocolVersion) string {
	if v == psm.V1 {
		return v1.RequestType
	}
	return v2.RequestType
}

func presentationType(v psm.ProtocolVersion) string {
	if v == psm.V1 {
		return v1.PresentationType
	}
	return v2.PresentationType
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

func newPropose(v psm.ProtocolVersion, comment string, preview *presentproof.Preview) (_ didcomm.Message, err error) {
	defer err2.Handle(&err, "new propose")

	if v == psm.V1 {
		preview.Type = v1.PreviewType
		return &v1.Propose{
			Header:               didcomm.NewHeader(v1.ProposeType),
			Comment:              comment,
			PresentationProposal: preview,
		}, nil
	}
	a := try.To1(decorator.NewJSONAttachment("", newProofRequest(preview)))
	return &v2.Propose{
		Header:         didcomm.NewHeader(v2.ProposeType),
		Comment:        comment,
		Formats:        []v2.Format{{AttachID: a.ID, Format: presentproof.FormatRequest}},
		ProposalAttach: []decorator.Attachment{a},
	}, nil
}

func decodePropose(v psm.ProtocolVersion, data []byte) (_ didcomm.Message, p *proposal, err error) {
	defer err2.Handle(&err, "decode propose")

	if v == psm.V1 {
		var m v1.Propose
		try.To(didcomm.Decode(data, &m))
		if m.PresentationProposal == nil {
			return nil, nil, psm.Validationf("proposal %s has no preview", m.ID)
		}
		return &m, &proposal{
			Comment: m.Comment,
			Preview: m.PresentationProposal,
			Request: newProofRequest(m.PresentationProposal),
		}, nil
	}
	var m v2.Propose
	try.To(didcomm.Decode(data, &m))
	a := v2.FormatAttachment(m.Formats, m.ProposalAttach, presentproof.FormatRequest)
	if a == nil {
		return nil, nil, psm.Validationf("proposal %s has no indy proof request", m.ID)
	}
	p = &proposal{Comment: m.Comment, Request: new(vc.ProofRequest)}
	try.To(decorator.AttachmentJSON(*a, p.Request))
	return &m, p, nil
}

func newRequest(v psm.ProtocolVersion, comment string, req *vc.ProofRequest) (_ didcomm.Message, err error) {
	defer err2.Handle(&err, "new request")

	if v == psm.V1 {
		a := try.To1(decorator.NewJSONAttachment(v1.RequestAttachID, req))
		return &v1.Request{
			Header:               didcomm.NewHeader(v1.RequestType),
			Comment:              comment,
			RequestPresentations: []decorator.Attachment{a},
		}, nil
	}
	a := try.To1(decorator.NewJSONAttachment("", req))
	return &v2.Request{
		Header:                     didcomm.NewHeader(v2.RequestType),
		Comment:                    comment,
		WillConfirm:                true,
		Formats:                    []v2.Format{{AttachID: a.ID, Format: presentproof.FormatRequest}},
		RequestPresentationsAttach: []decorator.Attachment{a},
	}, nil
}

func decodeRequest(v psm.ProtocolVersion, data []byte) (_ didcomm.Message, req *vc.ProofRequest, err error) {
	defer err2.Handle(&err, "decode request")

	var a *decorator.Attachment
	var m didcomm.Message
	if v == psm.V1 {
		var m1 v1.Request
		try.To(didcomm.Decode(data, &m1))
		m, a = &m1, decorator.FindAttachment(m1.RequestPresentations, v1.RequestAttachID)
	} else {
		var m2 v2.Request
		try.To(didcomm.Decode(data, &m2))
		m, a = &m2, v2.FormatAttachment(m2.Formats, m2.RequestPresentationsAttach, presentproof.FormatRequest)
	}
	if a == nil {
		return nil, nil, psm.Validationf("request %s has no indy proof request", m.Hdr().ID)
	}
	req = new(vc.ProofRequest)
	try.To(decorator.AttachmentJSON(*a, req))
	return m, req, nil
}

func newPresentation(v psm.ProtocolVersion, proof json.RawMessage) didcomm.Message {
	if v == psm.V1 {
		return &v1.Presentation{
			Header: didcomm.NewHeader(v1.PresentationType),
			Presentations: []decorator.Attachment{
				decorator.NewBase64Attachment(v1.ProofAttachID, "application/json", proof),
			},
		}
	}
	a := decorator.NewBase64Attachment("", "application/json", proof)
	return &v2.Presentation{
		Header:              didcomm.NewHeader(v2.PresentationType),
		LastPresentation:    true,
		Formats:             []v2.Format{{AttachID: a.ID, Format: presentproof.FormatProof}},
		PresentationsAttach: []decorator.Attachment{a},
	}
}

func decodePresentation(v psm.ProtocolVersion, data []byte) (_ didcomm.Message, proof json.RawMessage, err error) {
	defer err2.Handle(&err, "decode presentation")

	var a *decorator.Attachment
	var m didcomm.Message
	if v == psm.V1 {
		var m1 v1.Presentation
		try.To(didcomm.Decode(data, &m1))
		m, a = &m1, decorator.FindAttachment(m1.Presentations, v1.ProofAttachID)
	} else {
		var m2 v2.Presentation
		try.To(didcomm.Decode(data, &m2))
		m, a = &m2, v2.FormatAttachment(m2.Formats, m2.PresentationsAttach, presentproof.FormatProof)
	}
	if a == nil {
		return nil, nil, psm.Validationf("presentation %s has no indy proof", m.Hdr().ID)
	}
	return m, try.To1(decorator.AttachmentBytes(*a)), nil
}

func (s *Service) loadMessage(recordID, msgType string) (_ []byte, err error) {
	defer err2.Handle(&err, "load %s", msgType)

	var raw rawMessage
	try.To(s.repos.Messages.GetAgentMessage(recordID, msgType, &raw))
	return raw.data, nil
}

func (s *Service) loadRequest(rec *psm.ProofExchange) (_ *vc.ProofRequest, err error) {
	defer err2.Handle(&err)

	data := try.To1(s.loadMessage(rec.ID, requestType(rec.ProtocolVersion)))
	_, req, err := decodeRequest(rec.ProtocolVersion, data)
	return req, err
}

func (s *Service) loadPresentation(rec *psm.ProofExchange) (_ json.RawMessage, err error) {
	defer err2.Handle(&err)

	data := try.To1(s.loadMessage(rec.ID, presentationType(rec.ProtocolVersion)))
	_, proof, err := decodePresentation(rec.ProtocolVersion, data)
	return proof, err
}

// findProposal returns nil if the exchange has no proposal.
func (s *Service) findProposal(rec *psm.ProofExchange) (_ *proposal, err error) {
	defer err2.Handle(&err)

	var raw rawMessage
	ok := try.To1(s.repos.Messages.FindAgentMessage(rec.ID, proposeType(rec.ProtocolVersion), &raw))
	if !ok {
		return nil, nil
	}
	_, p, err := decodePropose(rec.ProtocolVersion, raw.data)
	return p, err
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
