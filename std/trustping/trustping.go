// Package trustping is the trust_ping/1.0 protocol (RFC 0048).
package trustping

import "github.com/findy-network/findy-didcomm/agent/didcomm"

const (
	Protocol         = didcomm.AriesPrefix + "/trust_ping/1.0"
	PingType         = Protocol + "/ping"
	PingResponseType = Protocol + "/ping_response"
)

type Ping struct {
	didcomm.Header
	Comment           string `json:"comment,omitempty"`
	ResponseRequested *bool  `json:"response_requested,omitempty"`
}

type PingResponse struct {
	didcomm.Header
	Comment string `json:"comment,omitempty"`
}

// NewPing creates a ping. The response_requested is always written.
func NewPing(responseRequested bool) *Ping {
	return &Ping{
		Header:            didcomm.NewHeader(PingType),
		ResponseRequested: &responseRequested,
	}
}

// WantsResponse returns response_requested which defaults to true.
func (p *Ping) WantsResponse() bool {
	return p.ResponseRequested == nil || *p.ResponseRequested
}

// NewResponse creates a response to the ping.
func NewResponse(ping *Ping) *PingResponse {
	r := &PingResponse{Header: didcomm.NewHeader(PingResponseType)}
	r.SetThread(ping.ID, "")
	return r
}
