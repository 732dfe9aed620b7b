package psm

import (
	"time"

	"github.com/findy-network/findy-didcomm/agent/bus"
	"github.com/findy-network/findy-didcomm/agent/storage"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

// BasicMessage is a sent or received basic message of a connection.
type BasicMessage struct {
	storage.BaseRecord

	ConnectionID string      `json:"connectionId"`
	Role         MessageRole `json:"role"`
	MessageID    string      `json:"messageId"`
	ThreadID     string      `json:"threadId,omitempty"`
	Content      string      `json:"content"`
	SentTime     time.Time   `json:"sentTime"`
}

func NewBasicMessage() *BasicMessage {
	return new(BasicMessage)
}

func (m *BasicMessage) RecordType() string {
	return "BasicMessageRecord"
}

func (m *BasicMessage) TagValues() map[string]string {
	return map[string]string{
		"connectionId": m.ConnectionID,
		"role":         string(m.Role),
		"messageId":    m.MessageID,
		"threadId":     m.ThreadID,
	}
}

// BasicMessageStored is published for every sent and received basic
// message.
type BasicMessageStored struct {
	BasicMessage BasicMessage
}

func SaveBasicMessage(repo *storage.Repository[*BasicMessage], b *bus.Bus, m *BasicMessage) (err error) {
	defer err2.Handle(&err, "save basic message")

	try.To(repo.Save(m))
	b.Publish(BasicMessageStored{BasicMessage: *m})
	return nil
}
