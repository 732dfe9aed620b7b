// Package mediate is the coordinate-mediation/1.0 protocol (RFC 0211).
package mediate

import "github.com/findy-network/findy-didcomm/agent/didcomm"

const (
	Protocol                  = didcomm.AriesPrefix + "/coordinate-mediation/1.0"
	RequestType               = Protocol + "/mediate-request"
	GrantType                 = Protocol + "/mediate-grant"
	DenyType                  = Protocol + "/mediate-deny"
	KeylistUpdateType         = Protocol + "/keylist-update"
	KeylistUpdateResponseType = Protocol + "/keylist-update-response"
	KeylistQueryType          = Protocol + "/keylist-query"
	KeylistType               = Protocol + "/keylist"
)

// Keylist update actions.
const (
	ActionAdd    = "add"
	ActionRemove = "remove"
)

// Keylist update results.
const (
	ResultSuccess     = "success"
	ResultNoChange    = "no_change"
	ResultClientError = "client_error"
	ResultServerError = "server_error"
)

type Request struct {
	didcomm.Header
}

type Grant struct {
	didcomm.Header
	Endpoint    string   `json:"endpoint"`
	RoutingKeys []string `json:"routing_keys"`
}

type Deny struct {
	didcomm.Header
}

type KeylistUpdate struct {
	didcomm.Header
	Updates []Update `json:"updates"`
}

type Update struct {
	RecipientKey string `json:"recipient_key"`
	Action       string `json:"action"`
}

type KeylistUpdateResponse struct {
	didcomm.Header
	Updated []Updated `json:"updated"`
}

type Updated struct {
	RecipientKey string `json:"recipient_key"`
	Action       string `json:"action"`
	Result       string `json:"result"`
}

type KeylistQuery struct {
	didcomm.Header
}

type Keylist struct {
	didcomm.Header
	Keys []Key `json:"keys"`
}

type Key struct {
	RecipientKey string `json:"recipient_key"`
}

func NewRequest() *Request {
	return &Request{Header: didcomm.NewHeader(RequestType)}
}

// NewGrant creates a grant to the request thread.
func NewGrant(thid, endpoint string, routingKeys []string) *Grant {
	g := &Grant{
		Header:      didcomm.NewHeader(GrantType),
		Endpoint:    endpoint,
		RoutingKeys: routingKeys,
	}
	g.SetThread(thid, "")
	return g
}

func NewDeny(thid string) *Deny {
	d := &Deny{Header: didcomm.NewHeader(DenyType)}
	d.SetThread(thid, "")
	return d
}

// NewKeylistUpdate creates a keylist update with one action for all the keys.
func NewKeylistUpdate(action string, keys ...string) *KeylistUpdate {
	u := &KeylistUpdate{Header: didcomm.NewHeader(KeylistUpdateType)}
	for _, k := range keys {
		u.Updates = append(u.Updates, Update{RecipientKey: k, Action: action})
	}
	return u
}

func NewKeylistUpdateResponse(thid string, updated []Updated) *KeylistUpdateResponse {
	r := &KeylistUpdateResponse{
		Header:  didcomm.NewHeader(KeylistUpdateResponseType),
		Updated: updated,
	}
	r.SetThread(thid, "")
	return r
}

func NewKeylistQuery() *KeylistQuery {
	return &KeylistQuery{Header: didcomm.NewHeader(KeylistQueryType)}
}

func NewKeylist(thid string, keys []string) *Keylist {
	l := &Keylist{Header: didcomm.NewHeader(KeylistType)}
	for _, k := range keys {
		l.Keys = append(l.Keys, Key{RecipientKey: k})
	}
	l.SetThread(thid, "")
	return l
}
