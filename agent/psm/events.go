package psm

import "github.com/findy-network/findy-didcomm/std/common"

// ProblemReportReceived is published when the counterpart abandons an
// exchange with a problem report. RecordID is the abandoned record.
type ProblemReportReceived struct {
	ConnectionID string
	ThreadID     string
	RecordID     string
	Report       common.ProblemReport
}

// AgentMessageProcessed is published after every successfully dispatched
// inbound message.
type AgentMessageProcessed struct {
	ConnectionID string
	MessageType  string
	MessageID    string
	ThreadID     string
	Message      []byte
}
