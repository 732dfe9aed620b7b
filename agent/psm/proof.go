package psm

import "github.com/findy-network/findy-didcomm/agent/storage"

type ProofState string

const (
	ProofProposalSent         ProofState = "proposal-sent"
	ProofProposalReceived     ProofState = "proposal-received"
	ProofRequestSent          ProofState = "request-sent"
	ProofRequestReceived      ProofState = "request-received"
	ProofPresentationSent     ProofState = "presentation-sent"
	ProofPresentationReceived ProofState = "presentation-received"
	ProofDeclined             ProofState = "declined"
	ProofDone                 ProofState = "done"
	ProofAbandoned            ProofState = "abandoned"
)

type ProofExchange struct {
	storage.BaseRecord

	State           ProofState      `json:"state"`
	Role            ExchangeRole    `json:"role"`
	ProtocolVersion ProtocolVersion `json:"protocolVersion"`
	ThreadID        string          `json:"threadId"`
	ParentThreadID  string          `json:"parentThreadId,omitempty"`
	ConnectionID    string          `json:"connectionId,omitempty"`

	// IsVerified is set by the verifier when the presentation is received.
	IsVerified *bool `json:"isVerified,omitempty"`

	AutoAccept   AutoAccept `json:"autoAcceptProof,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

func NewProofExchange() *ProofExchange {
	return new(ProofExchange)
}

func (p *ProofExchange) RecordType() string {
	return "ProofRecord"
}

func (p *ProofExchange) TagValues() map[string]string {
	return map[string]string{
		"state":          string(p.State),
		"role":           string(p.Role),
		"threadId":       p.ThreadID,
		"parentThreadId": p.ParentThreadID,
		"connectionId":   p.ConnectionID,
	}
}

func (p *ProofExchange) AssertState(expected ...ProofState) error {
	return assertOneOf("proof exchange", p.ID, p.State, expected...)
}

func (p *ProofExchange) AssertRole(expected ExchangeRole) error {
	return assertOneOf("proof exchange role", p.ID, p.Role, expected)
}

func (p *ProofExchange) AssertVersion(v ProtocolVersion) error {
	return assertOneOf("proof exchange version", p.ID, p.ProtocolVersion, v)
}

type ProofStateChanged struct {
	ProofExchange ProofExchange
	PreviousState ProofState
}
