/*
Package trans has the transports of the agent: HTTP(S) and WebSocket
outbound transports and the inbound HTTP and WebSocket handlers. All of them
move already packed envelopes. Messages which come back in the same HTTP
response or WebSocket connection are passed to the Inbound callback.
*/
package trans

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

// MediaType is the content type of the packed DIDComm v1 messages.
const MediaType = "application/ssi-agent-wire"

// QueueEndpoint is the endpoint of an agent which has no inbound transport.
// The messages to it are queued by its mediator.
const QueueEndpoint = "didcomm:transport/queue"

// ErrSessionClosed is returned when the session cannot send anymore.
var ErrSessionClosed = errors.New("session closed")

// Inbound receives the packed messages from the transports. The session is
// the return route to the sender and may be nil.
type Inbound func(ctx context.Context, packed []byte, session Session)

// Session is the open return route to the other end, i.e. the HTTP request
// being answered or the WebSocket connection.
type Session interface {
	ID() string
	Send(ctx context.Context, packed []byte) error
	// Closed tells if the session cannot be used anymore.
	Closed() bool
	Close() error
}

// Outbound is an outbound transport.
type Outbound interface {
	// Schemes are the URL schemes the transport supports.
	Schemes() []string
	// Start sets the callback for the messages coming back.
	Start(in Inbound)
	Send(ctx context.Context, endpoint string, packed []byte) error
	Stop() error
}

// Scheme returns the lower case URL scheme of the endpoint.
func Scheme(endpoint string) string {
	if strings.HasPrefix(endpoint, "didcomm:") {
		return "didcomm"
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

// Supports tells if the transport supports the endpoint.
func Supports(t Outbound, endpoint string) bool {
	scheme := Scheme(endpoint)
	for _, s := range t.Schemes() {
		if s == scheme {
			return true
		}
	}
	return false
}
