// Package v2 is the issue-credential/2.0 protocol (RFC 0453) with the Indy
// attachment formats.
package v2

import (
	"github.com/findy-network/findy-didcomm/agent/didcomm"
	"github.com/findy-network/findy-didcomm/std/decorator"
	"github.com/findy-network/findy-didcomm/std/issuecredential"
)

const (
	Protocol          = didcomm.AriesPrefix + "/issue-credential/2.0"
	ProposeType       = Protocol + "/propose-credential"
	OfferType         = Protocol + "/offer-credential"
	RequestType       = Protocol + "/request-credential"
	IssueType         = Protocol + "/issue-credential"
	AckType           = Protocol + "/ack"
	ProblemReportType = Protocol + "/problem-report"
	PreviewType       = Protocol + "/credential-preview"
)

// Format binds an attachment to its format identifier.
type Format struct {
	AttachID string `json:"attach_id"`
	Format   string `json:"format"`
}

// Filter is the Indy credential filter of the proposal.
type Filter struct {
	SchemaIssuerDID string `json:"schema_issuer_did,omitempty"`
	SchemaName      string `json:"schema_name,omitempty"`
	SchemaVersion   string `json:"schema_version,omitempty"`
	SchemaID        string `json:"schema_id,omitempty"`
	IssuerDID       string `json:"issuer_did,omitempty"`
	CredDefID       string `json:"cred_def_id,omitempty"`
}

type Propose struct {
	didcomm.Header
	Comment           string                   `json:"comment,omitempty"`
	CredentialPreview *issuecredential.Preview `json:"credential_preview,omitempty"`
	Formats           []Format                 `json:"formats"`
	FiltersAttach     []decorator.Attachment   `json:"filters~attach"`
}

type Offer struct {
	didcomm.Header
	Comment           string                   `json:"comment,omitempty"`
	CredentialPreview *issuecredential.Preview `json:"credential_preview"`
	Formats           []Format                 `json:"formats"`
	OffersAttach      []decorator.Attachment   `json:"offers~attach"`
}

type Request struct {
	didcomm.Header
	Comment        string                 `json:"comment,omitempty"`
	Formats        []Format               `json:"formats"`
	RequestsAttach []decorator.Attachment `json:"requests~attach"`
}

type Issue struct {
	didcomm.Header
	Comment           string                 `json:"comment,omitempty"`
	Formats           []Format               `json:"formats"`
	CredentialsAttach []decorator.Attachment `json:"credentials~attach"`
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
