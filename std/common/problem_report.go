package common

import "github.com/findy-network/findy-didcomm/agent/didcomm"

// Common problem codes.
const (
	ProblemCodeAbandoned              = "abandoned"
	ProblemCodeRequestNotAccepted     = "request_not_accepted"
	ProblemCodeRequestProcessingError = "request_processing_error"
	ProblemCodeResponseNotAccepted    = "response_not_accepted"
	ProblemCodeIssuanceAbandoned      = "issuance-abandoned"
)

// ProblemReport problem report definition
type ProblemReport struct {
	didcomm.Header
	Description    Description `json:"description"`
	ExplainLongTxt string      `json:"explain-ltxt,omitempty"` // ACApy
	WhoRetries     string      `json:"who_retries,omitempty"`
}

// Description represents a problem report code and its English text.
type Description struct {
	Code string `json:"code"`
	En   string `json:"en,omitempty"`
}

// NewProblemReport creates a problem report of msgType to the thread.
func NewProblemReport(msgType, thid, code, text string) *ProblemReport {
	pr := &ProblemReport{
		Header:      didcomm.NewHeader(msgType),
		Description: Description{Code: code, En: text},
	}
	pr.SetThread(thid, "")
	return pr
}

// Text returns the best human readable text of the report.
func (pr *ProblemReport) Text() string {
	switch {
	case pr.Description.En != "":
		return pr.Description.En
	case pr.ExplainLongTxt != "":
		return pr.ExplainLongTxt
	default:
		return pr.Description.Code
	}
}
