package psm

import (
	"encoding/json"
	"errors"

	"github.com/findy-network/findy-didcomm/agent/didcomm"
	"github.com/findy-network/findy-didcomm/agent/storage"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

type MessageRole string

const (
	MessageSender   MessageRole = "sender"
	MessageReceiver MessageRole = "receiver"
)

// DIDCommMessage is a persisted copy of a protocol message. Later protocol
// steps read the earlier messages from here.
type DIDCommMessage struct {
	storage.BaseRecord

	Message            json.RawMessage `json:"message"`
	Role               MessageRole     `json:"role"`
	AssociatedRecordID string          `json:"associatedRecordId"`

	MessageType string `json:"messageType"`
	MessageID   string `json:"messageId"`
	ThreadID    string `json:"threadId"`
}

func NewDIDCommMessage() *DIDCommMessage {
	return new(DIDCommMessage)
}

func (m *DIDCommMessage) RecordType() string {
	return "DidCommMessageRecord"
}

func (m *DIDCommMessage) TagValues() map[string]string {
	return map[string]string{
		"role":               string(m.Role),
		"associatedRecordId": m.AssociatedRecordID,
		"messageType":        m.MessageType,
		"messageId":          m.MessageID,
		"threadId":           m.ThreadID,
	}
}

// DIDCommMessageRepository stores the protocol messages of the exchanges.
type DIDCommMessageRepository struct {
	*storage.Repository[*DIDCommMessage]
}

// SaveOrUpdateAgentMessage stores the message for the record. An earlier
// message of the same type is replaced.
func (r DIDCommMessageRepository) SaveOrUpdateAgentMessage(
	m didcomm.Message,
	role MessageRole,
	associatedRecordID string,
) (err error) {
	defer err2.Handle(&err, "save agent message %s", m.Hdr().Type)

	data := try.To1(json.Marshal(m))
	rec := try.To1(r.FindSingleByQuery(storage.TagQuery(
		"associatedRecordId", associatedRecordID,
		"messageType", m.Hdr().Type,
	)))
	if rec != nil {
		rec.Message = data
		rec.Role = role
		rec.MessageID = m.Hdr().ID
		rec.ThreadID = m.Hdr().ThreadID()
		return r.Update(rec)
	}
	return r.Save(&DIDCommMessage{
		Message:            data,
		Role:               role,
		AssociatedRecordID: associatedRecordID,
		MessageType:        m.Hdr().Type,
		MessageID:          m.Hdr().ID,
		ThreadID:           m.Hdr().ThreadID(),
	})
}

// GetAgentMessage decodes the record's message of the type to m. It returns
// storage.ErrNotFound if there is no such message.
func (r DIDCommMessageRepository) GetAgentMessage(associatedRecordID, msgType string, m didcomm.Message) (err error) {
	defer err2.Handle(&err, "get agent message %s", msgType)

	rec := try.To1(r.GetSingleByQuery(storage.TagQuery(
		"associatedRecordId", associatedRecordID,
		"messageType", msgType,
	)))
	return didcomm.Decode(rec.Message, m)
}

// FindAgentMessage is GetAgentMessage which returns false when not found.
func (r DIDCommMessageRepository) FindAgentMessage(associatedRecordID, msgType string, m didcomm.Message) (ok bool, err error) {
	err = r.GetAgentMessage(associatedRecordID, msgType, m)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// QueuedMessage is a packed message the mediator holds for a recipient key.
type QueuedMessage struct {
	storage.BaseRecord

	RecipientKey string          `json:"recipientKey"`
	Message      json.RawMessage `json:"message"`
}

func NewQueuedMessage() *QueuedMessage {
	return new(QueuedMessage)
}

func (q *QueuedMessage) RecordType() string {
	return "QueuedMessage"
}

func (q *QueuedMessage) TagValues() map[string]string {
	return map[string]string{"recipientKey": q.RecipientKey}
}
