/*
Package outofband is the wire model of the out-of-band protocol 1.1 (RFC
0434): the invitation with its services, handshake protocols and request
attachments, and the handshake reuse messages.
*/
package outofband

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/findy-network/findy-didcomm/agent/didcomm"
	"github.com/findy-network/findy-didcomm/agent/utils"
	"github.com/findy-network/findy-didcomm/std/decorator"
	"github.com/findy-network/findy-didcomm/std/did"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

const (
	Protocol                   = didcomm.AriesPrefix + "/out-of-band/1.1"
	InvitationType             = Protocol + "/invitation"
	HandshakeReuseType         = Protocol + "/handshake-reuse"
	HandshakeReuseAcceptedType = Protocol + "/handshake-reuse-accepted"

	// Protocol10 is the older version which is accepted in receiving.
	Protocol10 = didcomm.AriesPrefix + "/out-of-band/1.0"
)

// ServiceType of the inline services.
const ServiceType = "did-communication"

var (
	ErrNoHandshakeOrRequests = errors.New(
		"invitation must have handshake_protocols or requests~attach")
	ErrNoServices = errors.New("invitation must have services")
)

// Invitation is the out-of-band invitation.
type Invitation struct {
	didcomm.Header
	Label              string                 `json:"label,omitempty"`
	GoalCode           string                 `json:"goal_code,omitempty"`
	Goal               string                 `json:"goal,omitempty"`
	Accept             []string               `json:"accept,omitempty"`
	HandshakeProtocols []string               `json:"handshake_protocols,omitempty"`
	Requests           []decorator.Attachment `json:"requests~attach,omitempty"`
	Services           []Service              `json:"services"`
	ImageURL           string                 `json:"imageUrl,omitempty"`
}

// Service is a service of the invitation: either a DID or an inline
// DIDComm service.
type Service struct {
	DID    string
	Inline *InlineService
}

// InlineService is the inline DIDComm service block. Keys are did:keys.
type InlineService struct {
	ID              string   `json:"id"`
	Type            string   `json:"type"`
	RecipientKeys   []string `json:"recipientKeys"`
	RoutingKeys     []string `json:"routingKeys,omitempty"`
	ServiceEndpoint string   `json:"serviceEndpoint"`
	Accept          []string `json:"accept,omitempty"`
}

func (s Service) MarshalJSON() ([]byte, error) {
	if s.Inline != nil {
		return json.Marshal(s.Inline)
	}
	return json.Marshal(s.DID)
}

func (s *Service) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &s.DID)
	}
	s.Inline = new(InlineService)
	return json.Unmarshal(data, s.Inline)
}

// Params of the invitation.
type Params struct {
	Label              string
	GoalCode           string
	Goal               string
	HandshakeProtocols []string
	Requests           []didcomm.Message
	LegacyTypes        bool
	ImageURL           string
}

// NewInvitation builds the invitation with an inline service per endpoint.
// The verkeys are base58 and written as did:keys.
func NewInvitation(p Params, recipientKey string, endpoints, routingKeys []string) (inv *Invitation, err error) {
	defer err2.Handle(&err, "new oob invitation")

	inv = &Invitation{
		Header:             didcomm.NewHeader(InvitationType),
		Label:              p.Label,
		GoalCode:           p.GoalCode,
		Goal:               p.Goal,
		HandshakeProtocols: p.HandshakeProtocols,
		Accept:             []string{"didcomm/aip1", "didcomm/aip2;env=rfc19"},
		ImageURL:           p.ImageURL,
	}
	rk := try.To1(did.DIDKey(recipientKey))
	routing := make([]string, 0, len(routingKeys))
	for _, k := range routingKeys {
		routing = append(routing, try.To1(did.DIDKey(k)))
	}
	for i, ep := range endpoints {
		inv.Services = append(inv.Services, Service{Inline: &InlineService{
			ID:              fmt.Sprintf("#inline-%d", i),
			Type:            ServiceType,
			RecipientKeys:   []string{rk},
			RoutingKeys:     routing,
			ServiceEndpoint: ep,
		}})
	}
	for _, m := range p.Requests {
		data := try.To1(didcomm.Marshal(m, p.LegacyTypes))
		inv.Requests = append(inv.Requests,
			decorator.NewBase64Attachment(utils.UUID(), "application/json", data))
	}
	try.To(inv.Validate())
	return inv, nil
}

// Validate checks the invitation is well-formed.
func (i *Invitation) Validate() error {
	if len(i.HandshakeProtocols) == 0 && len(i.Requests) == 0 {
		return ErrNoHandshakeOrRequests
	}
	if len(i.Services) == 0 {
		return ErrNoServices
	}
	for _, s := range i.Services {
		if s.Inline == nil && s.DID == "" {
			return fmt.Errorf("empty service: %w", ErrNoServices)
		}
		if s.Inline != nil && len(s.Inline.RecipientKeys) == 0 {
			return fmt.Errorf("inline service %s without recipient keys",
				s.Inline.ID)
		}
	}
	return nil
}

// RecipientKeys returns the base58 recipient keys of the services. DID
// services are resolved for the key DID methods.
func (i *Invitation) RecipientKeys() []string {
	var keys []string
	for _, s := range i.Services {
		switch {
		case s.Inline != nil:
			for _, k := range s.Inline.RecipientKeys {
				keys = append(keys, did.NormalizeKey(k))
			}
		case s.DID != "":
			doc, err := did.Resolve(s.DID)
			if err != nil {
				continue
			}
			for _, ds := range doc.DIDCommServices() {
				keys = append(keys, ds.RecipientKeys...)
			}
		}
	}
	return keys
}

// DIDCommServices returns the invitation services as DID document services
// with base58 keys, in invitation order.
func (i *Invitation) DIDCommServices() []did.Service {
	var svcs []did.Service
	for _, s := range i.Services {
		switch {
		case s.Inline != nil:
			ds := did.Service{
				ID:              s.Inline.ID,
				Type:            ServiceType,
				ServiceEndpoint: s.Inline.ServiceEndpoint,
			}
			for _, k := range s.Inline.RecipientKeys {
				ds.RecipientKeys = append(ds.RecipientKeys, did.NormalizeKey(k))
			}
			for _, k := range s.Inline.RoutingKeys {
				ds.RoutingKeys = append(ds.RoutingKeys, did.NormalizeKey(k))
			}
			svcs = append(svcs, ds)
		case s.DID != "":
			if doc, err := did.Resolve(s.DID); err == nil {
				svcs = append(svcs, doc.DIDCommServices()...)
			}
		}
	}
	return svcs
}

// Fingerprints returns the multibase fingerprints of the recipient keys.
func (i *Invitation) Fingerprints() []string {
	var fps []string
	for _, k := range i.RecipientKeys() {
		if fp, err := did.Ed25519Fingerprint(k); err == nil {
			fps = append(fps, fp)
		}
	}
	return fps
}

// RequestMessages returns the decoded request attachments.
func (i *Invitation) RequestMessages() ([][]byte, error) {
	msgs := make([][]byte, 0, len(i.Requests))
	for _, a := range i.Requests {
		data, err := decorator.AttachmentBytes(a)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, data)
	}
	return msgs, nil
}

// HandshakeReuse asks the inviter to use an existing connection. Its pthid
// is the invitation ID.
type HandshakeReuse struct {
	didcomm.Header
}

type HandshakeReuseAccepted struct {
	didcomm.Header
}

func NewHandshakeReuse(invitationID string) *HandshakeReuse {
	r := &HandshakeReuse{Header: didcomm.NewHeader(HandshakeReuseType)}
	r.SetThread(r.ID, invitationID)
	return r
}

func NewHandshakeReuseAccepted(thid, pthid string) *HandshakeReuseAccepted {
	r := &HandshakeReuseAccepted{Header: didcomm.NewHeader(HandshakeReuseAcceptedType)}
	r.SetThread(thid, pthid)
	return r
}
