package decorator

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/findy-network/findy-didcomm/agent/utils"
	"github.com/hyperledger/aries-framework-go/pkg/didcomm/protocol/decorator"
)

// Thread is the ~thread decorator: thid, pthid, sender_order and
// received_orders.
type Thread = decorator.Thread

// Attachment is the attachment decorator used in all ~attach fields.
type Attachment = decorator.Attachment

type AttachmentData = decorator.AttachmentData

// ReturnRouteAll asks the receiver to send all the messages for us through
// the same transport session.
const ReturnRouteAll = "all"

// Transport is the ~transport decorator.
type Transport struct {
	ReturnRoute       string `json:"return_route,omitempty"`
	ReturnRouteThread string `json:"return_route_thread,omitempty"`
}

func NewThread(ID, PID string) *Thread {
	realPID := ""
	if ID != PID {
		realPID = PID
	}
	return &Thread{ID: ID, PID: realPID}
}

func CheckThread(thread *Thread, ID string) *Thread {
	if thread == nil {
		return &Thread{ID: ID}
	}
	if thread.ID == "" {
		thread.ID = ID
	}
	return thread
}

// NewBase64Attachment builds an attachment carrying data as base64.
func NewBase64Attachment(id, mimeType string, data []byte) Attachment {
	if id == "" {
		id = utils.UUID()
	}
	return Attachment{
		ID:       id,
		MimeType: mimeType,
		Data: AttachmentData{
			Base64: base64.StdEncoding.EncodeToString(data),
		},
	}
}

// NewJSONAttachment builds an attachment carrying v as base64 encoded JSON,
// which is how the credential and proof formats are transported.
func NewJSONAttachment(id string, v any) (Attachment, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Attachment{}, fmt.Errorf("json attachment: %w", err)
	}
	return NewBase64Attachment(id, "application/json", data), nil
}

// AttachmentBytes returns the data of the attachment. Both base64 and json
// data forms are supported.
func AttachmentBytes(a Attachment) ([]byte, error) {
	switch {
	case a.Data.Base64 != "":
		return utils.DecodeB64(a.Data.Base64)
	case a.Data.JSON != nil:
		return json.Marshal(a.Data.JSON)
	default:
		return nil, fmt.Errorf("attachment %s has no inline data", a.ID)
	}
}

// AttachmentJSON decodes the JSON data of the attachment to v.
func AttachmentJSON(a Attachment, v any) error {
	data, err := AttachmentBytes(a)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// FindAttachment returns the attachment with the id or nil.
func FindAttachment(attachments []Attachment, id string) *Attachment {
	for i := range attachments {
		if attachments[i].ID == id {
			return &attachments[i]
		}
	}
	return nil
}
