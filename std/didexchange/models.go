/*
Package didexchange is the wire model of the DID-Exchange protocol 1.0
(RFC 0023).
*/
package didexchange

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/findy-network/findy-didcomm/agent/didcomm"
	"github.com/findy-network/findy-didcomm/agent/sec"
	"github.com/findy-network/findy-didcomm/agent/utils"
	"github.com/findy-network/findy-didcomm/std/decorator"
	"github.com/findy-network/findy-didcomm/std/did"
	"github.com/findy-network/findy-didcomm/std/signature"
)

const (
	Protocol          = didcomm.AriesPrefix + "/didexchange/1.0"
	RequestType       = Protocol + "/request"
	ResponseType      = Protocol + "/response"
	CompleteType      = Protocol + "/complete"
	ProblemReportType = Protocol + "/problem_report"
)

const didDocMimeType = "application/json"

type Request struct {
	didcomm.Header
	Label    string                `json:"label"`
	GoalCode string                `json:"goal_code,omitempty"`
	Goal     string                `json:"goal,omitempty"`
	DID      string                `json:"did"`
	DIDDoc   *decorator.Attachment `json:"did_doc~attach,omitempty"`
}

type Response struct {
	didcomm.Header
	DID       string                `json:"did"`
	DIDDoc    *decorator.Attachment `json:"did_doc~attach,omitempty"`
	DIDRotate *decorator.Attachment `json:"did_rotate~attach,omitempty"`
}

type Complete struct {
	didcomm.Header
}

// NewRequest creates a request to the invitation, which ID is pthid. If the
// doc is given it is attached.
func NewRequest(label, pthid, didStr string, doc *did.Doc) (r *Request, err error) {
	r = &Request{
		Header: didcomm.NewHeader(RequestType),
		Label:  label,
		DID:    didStr,
	}
	r.SetThread("", pthid)
	if doc != nil {
		if r.DIDDoc, err = DocAttachment(doc); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// NewResponse creates a response to the request thread. The DID rotation
// attachment is added and signed by the caller.
func NewResponse(thid, didStr string) *Response {
	r := &Response{
		Header: didcomm.NewHeader(ResponseType),
		DID:    didStr,
	}
	r.SetThread(thid, "")
	return r
}

// NewComplete creates a complete message to the thread.
func NewComplete(thid, pthid string) *Complete {
	c := &Complete{Header: didcomm.NewHeader(CompleteType)}
	c.SetThread(thid, pthid)
	return c
}

// DocAttachment returns the DID document as base64 attachment.
func DocAttachment(doc *did.Doc) (*decorator.Attachment, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("did doc attachment: %w", err)
	}
	a := decorator.NewBase64Attachment(utils.UUID(), didDocMimeType, data)
	return &a, nil
}

// RotateAttachment returns the DID as base64url attachment. Its JWS is added
// with SetJWS.
func RotateAttachment(didStr string) *decorator.Attachment {
	return &decorator.Attachment{
		ID:       utils.UUID(),
		MimeType: "text/string",
		Data: decorator.AttachmentData{
			Base64: base64.URLEncoding.EncodeToString([]byte(didStr)),
		},
	}
}

// Doc resolves the DID document of the message: the attachment if present,
// otherwise the DID itself.
func Doc(didStr string, attach *decorator.Attachment) (*did.Doc, error) {
	if attach != nil {
		data, err := decorator.AttachmentBytes(*attach)
		if err != nil {
			return nil, err
		}
		return did.Parse(data)
	}
	return did.Resolve(didStr)
}

// SignRotate adds the did_rotate~attach to the response and signs it with the
// pipe's In key, which is the invitation key.
func (r *Response) SignRotate(ctx context.Context, pipe sec.Pipe) error {
	a := RotateAttachment(r.DID)
	j, err := signature.SignJWS(ctx, pipe, a.Data.Base64)
	if err != nil {
		return err
	}
	if a.Data.JWS, err = json.Marshal(j); err != nil {
		return fmt.Errorf("did rotate: %w", err)
	}
	r.DIDRotate = a
	return nil
}

// VerifyRotate verifies the did_rotate~attach. It returns the verkey which
// signed it. The rotated DID must be the response's DID.
func (r *Response) VerifyRotate(ctx context.Context, pipe sec.Pipe) (verkey string, err error) {
	a := r.DIDRotate
	if a == nil || len(a.Data.JWS) == 0 {
		return "", fmt.Errorf("did_rotate~attach missing: %w",
			signature.ErrInvalidSignature)
	}
	data, err := decorator.AttachmentBytes(*a)
	if err != nil {
		return "", err
	}
	if string(data) != r.DID {
		return "", fmt.Errorf("rotated did %s isn't response did: %w",
			data, signature.ErrInvalidSignature)
	}
	j, err := signature.ParseJWS(a.Data.JWS)
	if err != nil {
		return "", err
	}
	return signature.VerifyJWS(ctx, pipe, j, a.Data.Base64)
}
