package common

import "github.com/findy-network/findy-didcomm/agent/didcomm"

const (
	NotificationProtocol = didcomm.AriesPrefix + "/notification/1.0"
	AckType              = NotificationProtocol + "/ack"
	ProblemReportType    = NotificationProtocol + "/problem-report"

	AckStatusOK      = "OK"
	AckStatusPending = "PENDING"
)

// Ack acknowledgement struct. Protocols which have their own ack type use it
// with their own @type.
type Ack struct {
	didcomm.Header
	Status string `json:"status,omitempty"`
}

// NewAck creates an ack of the msgType to the thread.
func NewAck(msgType, thid string) *Ack {
	a := &Ack{Header: didcomm.NewHeader(msgType), Status: AckStatusOK}
	a.SetThread(thid, "")
	return a
}
