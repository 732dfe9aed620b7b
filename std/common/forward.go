package common

import (
	"encoding/json"

	"github.com/findy-network/findy-didcomm/agent/didcomm"
)

const (
	RoutingProtocol = didcomm.AriesPrefix + "/routing/1.0"
	ForwardType     = RoutingProtocol + "/forward"
)

// Forward route forward message.
// https://github.com/hyperledger/aries-rfcs/blob/main/concepts/0094-cross-domain-messaging/README.md#corerouting10forward
type Forward struct {
	didcomm.Header
	To  string          `json:"to"`
	Msg json.RawMessage `json:"msg"`
}

// NewForward wraps the packed message to the forward addressed to the key.
func NewForward(to string, packed []byte) *Forward {
	return &Forward{
		Header: didcomm.NewHeader(ForwardType),
		To:     to,
		Msg:    packed,
	}
}
