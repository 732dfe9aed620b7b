// Package pickup is the messagepickup/1.0 protocol (RFC 0212).
package pickup

import (
	"encoding/json"

	"github.com/findy-network/findy-didcomm/agent/didcomm"
)

const (
	Protocol          = didcomm.AriesPrefix + "/messagepickup/1.0"
	BatchPickupType   = Protocol + "/batch-pickup"
	BatchType         = Protocol + "/batch"
	StatusRequestType = Protocol + "/status-request"
	StatusType        = Protocol + "/status"
)

// DefaultBatchSize is the batch size used by the pickup timer.
const DefaultBatchSize = 10

type BatchPickup struct {
	didcomm.Header
	BatchSize int `json:"batch_size"`
}

type Batch struct {
	didcomm.Header
	Messages []BatchMessage `json:"messages~attach"`
}

// BatchMessage is one queued packed message.
type BatchMessage struct {
	ID      string          `json:"id"`
	Message json.RawMessage `json:"message"`
}

type StatusRequest struct {
	didcomm.Header
}

type Status struct {
	didcomm.Header
	MessageCount int `json:"message_count"`
}

func NewBatchPickup(size int) *BatchPickup {
	return &BatchPickup{
		Header:    didcomm.NewHeader(BatchPickupType),
		BatchSize: size,
	}
}

func NewBatch(thid string, msgs []BatchMessage) *Batch {
	b := &Batch{Header: didcomm.NewHeader(BatchType), Messages: msgs}
	b.SetThread(thid, "")
	return b
}

func NewStatusRequest() *StatusRequest {
	return &StatusRequest{Header: didcomm.NewHeader(StatusRequestType)}
}

func NewStatus(thid string, count int) *Status {
	s := &Status{Header: didcomm.NewHeader(StatusType), MessageCount: count}
	s.SetThread(thid, "")
	return s
}
