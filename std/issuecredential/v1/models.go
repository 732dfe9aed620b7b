// Package v1 is the issue-credential/1.0 protocol (RFC 0036).
package v1

import (
	"github.com/findy-network/findy-didcomm/agent/didcomm"
	"github.com/findy-network/findy-didcomm/std/decorator"
	"github.com/findy-network/findy-didcomm/std/issuecredential"
)

const (
	Protocol          = didcomm.AriesPrefix + "/issue-credential/1.0"
	ProposeType       = Protocol + "/propose-credential"
	OfferType         = Protocol + "/offer-credential"
	RequestType       = Protocol + "/request-credential"
	IssueType         = Protocol + "/issue-credential"
	AckType           = Protocol + "/ack"
	ProblemReportType = Protocol + "/problem-report"
	PreviewType       = Protocol + "/credential-preview"
)

// Attachment IDs of the single attachment each message carries.
const (
	OfferAttachID   = "libindy-cred-offer-0"
	RequestAttachID = "libindy-cred-request-0"
	CredAttachID    = "libindy-cred-0"
)

// Propose is sent by the potential holder to initiate the protocol or as a
// counter proposal to the offer.
type Propose struct {
	didcomm.Header
	Comment            string                   `json:"comment,omitempty"`
	CredentialProposal *issuecredential.Preview `json:"credential_proposal,omitempty"`
	SchemaIssuerDID    string                   `json:"schema_issuer_did,omitempty"`
	SchemaID           string                   `json:"schema_id,omitempty"`
	SchemaName         string                   `json:"schema_name,omitempty"`
	SchemaVersion      string                   `json:"schema_version,omitempty"`
	CredDefID          string                   `json:"cred_def_id,omitempty"`
	IssuerDID          string                   `json:"issuer_did,omitempty"`
}

// Offer describes the credential the issuer intends to offer.
type Offer struct {
	didcomm.Header
	Comment           string                   `json:"comment,omitempty"`
	CredentialPreview *issuecredential.Preview `json:"credential_preview"`
	OffersAttach      []decorator.Attachment   `json:"offers~attach"`
}

type Request struct {
	didcomm.Header
	Comment        string                 `json:"comment,omitempty"`
	RequestsAttach []decorator.Attachment `json:"requests~attach"`
}

// Issue carries the issued credential as an attachment.
type Issue struct {
	didcomm.Header
	Comment           string                 `json:"comment,omitempty"`
	CredentialsAttach []decorator.Attachment `json:"credentials~attach"`
}
