// Package v2 is the present-proof/2.0 protocol (RFC 0454) with the Indy
// attachment formats.
package v2

import (
	"github.com/findy-network/findy-didcomm/agent/didcomm"
	"github.com/findy-network/findy-didcomm/std/decorator"
)

const (
	Protocol          = didcomm.AriesPrefix + "/present-proof/2.0"
	ProposeType       = Protocol + "/propose-presentation"
	RequestType       = Protocol + "/request-presentation"
	PresentationType  = Protocol + "/presentation"
	AckType           = Protocol + "/ack"
	ProblemReportType = Protocol + "/problem-report"
)

type Format struct {
	AttachID string `json:"attach_id"`
	Format   string `json:"format"`
}

type Propose struct {
	didcomm.Header
	Comment        string                 `json:"comment,omitempty"`
	Formats        []Format               `json:"formats"`
	ProposalAttach []decorator.Attachment `json:"proposals~attach"`
}

type Request struct {
	didcomm.Header
	Comment                    string                 `json:"comment,omitempty"`
	WillConfirm                bool                   `json:"will_confirm,omitempty"`
	Formats                    []Format               `json:"formats"`
	RequestPresentationsAttach []decorator.Attachment `json:"request_presentations~attach"`
}

type Presentation struct {
	didcomm.Header
	Comment             string                 `json:"comment,omitempty"`
	LastPresentation    bool                   `json:"last_presentation,omitempty"`
	Formats             []Format               `json:"formats"`
	PresentationsAttach []decorator.Attachment `json:"presentations~attach"`
}

// FormatAttachment returns the attachment of the format or nil.
func FormatAttachment(formats []Format, attachments []decorator.Attachment, format string) *decorator.Attachment {
	for _, f := range formats {
		if f.Format == format {
			return decorator.FindAttachment(attachments, f.AttachID)
		}
	}
	return nil
}
