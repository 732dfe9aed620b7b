/*
Package connection is the wire model of the Aries connection protocol 1.0
(RFC 0160): invitation, request and response with the signed connection
field, and the invitation URL encodings.
*/
package connection

import (
	"github.com/findy-network/findy-didcomm/agent/didcomm"
	"github.com/findy-network/findy-didcomm/std/did"
)

const (
	Protocol       = didcomm.AriesPrefix + "/connections/1.0"
	InvitationType = Protocol + "/invitation"
	RequestType    = Protocol + "/request"
	ResponseType   = Protocol + "/response"
	// ProblemReportType is the connection protocol's own problem report.
	ProblemReportType = Protocol + "/problem_report"
)

// Invitation defines the legacy connection invitation. It has either DID or
// the inline keys and endpoint.
type Invitation struct {
	didcomm.Header
	Label           string   `json:"label,omitempty"`
	ImageURL        string   `json:"imageUrl,omitempty"`
	DID             string   `json:"did,omitempty"`
	RecipientKeys   []string `json:"recipientKeys,omitempty"`
	ServiceEndpoint string   `json:"serviceEndpoint,omitempty"`
	RoutingKeys     []string `json:"routingKeys,omitempty"`
}

// Connection is the DID and DID document pair exchanged in the request and
// response.
type Connection struct {
	DID    string   `json:"DID"`
	DIDDoc *did.Doc `json:"DIDDoc"`
}

type Request struct {
	didcomm.Header
	Label      string      `json:"label"`
	ImageURL   string      `json:"imageUrl,omitempty"`
	Connection *Connection `json:"connection"`
}

type Response struct {
	didcomm.Header
	ConnectionSignature *ConnectionSignature `json:"connection~sig"`

	// Connection is set after the signature is verified. It isn't sent.
	Connection *Connection `json:"-"`
}

// ConnectionSignature is the signature decorator of the connection field.
type ConnectionSignature struct {
	Type       string `json:"@type,omitempty"`
	Signature  string `json:"signature,omitempty"`
	SignedData string `json:"sig_data,omitempty"`
	SignVerKey string `json:"signer,omitempty"`
}

// NewInvitation creates an invitation with inline keys.
func NewInvitation(label, endpoint string, recipientKeys, routingKeys []string) *Invitation {
	return &Invitation{
		Header:          didcomm.NewHeader(InvitationType),
		Label:           label,
		RecipientKeys:   recipientKeys,
		ServiceEndpoint: endpoint,
		RoutingKeys:     routingKeys,
	}
}

// NewRequest creates a connection request of the invitation.
func NewRequest(label, pthid string, conn *Connection) *Request {
	r := &Request{
		Header:     didcomm.NewHeader(RequestType),
		Label:      label,
		Connection: conn,
	}
	r.SetThread("", pthid)
	return r
}

// NewResponse creates a response to the request thread. The connection
// signature is added by signing.
func NewResponse(thid string) *Response {
	r := &Response{Header: didcomm.NewHeader(ResponseType)}
	r.SetThread(thid, "")
	return r
}
