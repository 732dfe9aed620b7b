// Package v1 is the present-proof/1.0 protocol (RFC 0037).
package v1

import (
	"github.com/findy-network/findy-didcomm/agent/didcomm"
	"github.com/findy-network/findy-didcomm/std/decorator"
	"github.com/findy-network/findy-didcomm/std/presentproof"
)

const (
	Protocol          = didcomm.AriesPrefix + "/present-proof/1.0"
	ProposeType       = Protocol + "/propose-presentation"
	RequestType       = Protocol + "/request-presentation"
	PresentationType  = Protocol + "/presentation"
	AckType           = Protocol + "/ack"
	ProblemReportType = Protocol + "/problem-report"
	PreviewType       = Protocol + "/presentation-preview"
)

const (
	RequestAttachID = "libindy-request-presentation-0"
	ProofAttachID   = "libindy-presentation-0"
)

type Propose struct {
	didcomm.Header
	Comment              string                `json:"comment,omitempty"`
	PresentationProposal *presentproof.Preview `json:"presentation_proposal"`
}

type Request struct {
	didcomm.Header
	Comment              string                 `json:"comment,omitempty"`
	RequestPresentations []decorator.Attachment `json:"request_presentations~attach"`
}

type Presentation struct {
	didcomm.Header
	Comment       string                 `json:"comment,omitempty"`
	Presentations []decorator.Attachment `json:"presentations~attach"`
}
