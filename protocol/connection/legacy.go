package connection

import (
	"context"
	"fmt"

	"github.com/findy-network/findy-didcomm/agent/comm"
	"github.com/findy-network/findy-didcomm/agent/didcomm"
	"github.com/findy-network/findy-didcomm/agent/psm"
	"github.com/findy-network/findy-didcomm/agent/sec"
	"github.com/findy-network/findy-didcomm/agent/storage"
	stdcon "github.com/findy-network/findy-didcomm/std/connection"
	"github.com/findy-network/findy-didcomm/std/did"
	"github.com/findy-network/findy-didcomm/std/didexchange"
	"github.com/findy-network/findy-didcomm/std/signature"
	"github.com/golang/glog"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

// CreateInvitation creates a connections/1.0 invitation and the inviter's
// connection record waiting for the request.
func (s *Service) CreateInvitation(ctx context.Context, p InvitationParams) (
	c *psm.Connection, inv *stdcon.Invitation, err error,
) {
	defer err2.Handle(&err, "create invitation")

	r := try.To1(s.getRouting(ctx, p.Routing))
	if len(r.Endpoints) == 0 {
		return nil, nil, psm.Validationf("no endpoint for invitation")
	}
	inv = stdcon.NewInvitation(s.label(p.Label), r.Endpoints[0],
		[]string{r.Verkey}, r.RoutingKeys)

	c = psm.NewConnection()
	c.State = psm.ConnectionInvited
	c.Role = psm.RoleInviter
	c.Protocol = ProtocolConnections
	c.Alias = p.Alias
	c.Invitation = inv
	c.InvitationKey = r.Verkey
	c.MultiUseInvitation = p.MultiUse
	c.AutoAccept = p.AutoAccept
	try.To(legacyDIDFor(c, r))

	try.To(psm.SaveConnection(s.repos.Connections, s.bus, c))
	glog.V(1).Infoln("connection invitation created", inv.ID, "connection", c.ID)
	return c, inv, nil
}

// ProcessInvitation stores the invitee's connection record of the
// connections/1.0 invitation. If auto accept is on, the request is sent.
func (s *Service) ProcessInvitation(ctx context.Context, inv *stdcon.Invitation, p InvitationParams) (
	c *psm.Connection, err error,
) {
	defer err2.Handle(&err, "process invitation")

	if err := inv.Validate(); err != nil {
		return nil, psm.Validationf("%v", err)
	}
	services := try.To1(invitationServices(inv))

	r := try.To1(s.getRouting(ctx, p.Routing))
	c = psm.NewConnection()
	c.State = psm.ConnectionInvited
	c.Role = psm.RoleInvitee
	c.Protocol = ProtocolConnections
	c.Alias = p.Alias
	c.Invitation = inv
	c.InvitationKey = services[0].RecipientKeys[0]
	c.TheirLabel = inv.Label
	c.AutoAccept = p.AutoAccept
	try.To(legacyDIDFor(c, r))
	try.To(psm.SaveConnection(s.repos.Connections, s.bus, c))

	if s.autoAccept(c) {
		c = try.To1(s.AcceptInvitation(ctx, c.ID, p.Label))
	}
	return c, nil
}

// AcceptInvitation sends the connection request of the invited connection.
func (s *Service) AcceptInvitation(ctx context.Context, connID, label string) (c *psm.Connection, err error) {
	defer err2.Handle(&err, "accept invitation")

	out, c := try.To2(s.CreateRequest(ctx, connID, label))
	try.To(s.sender.Send(ctx, out))
	// the response may have been handled already
	return s.repos.Connections.GetByID(c.ID)
}

// CreateRequest creates the request of the invitee's connection in the
// handshake protocol of the connection. The connection is updated to
// requested.
func (s *Service) CreateRequest(ctx context.Context, connID, label string) (
	out *comm.OutboundMessage, c *psm.Connection, err error,
) {
	defer err2.Handle(&err, "create request")

	c = try.To1(s.repos.Connections.GetByID(connID))
	try.To(c.AssertRole(psm.RoleInvitee))
	try.To(c.AssertState(psm.ConnectionInvited))

	var services []did.Service
	var pthid string
	switch {
	case c.Invitation != nil:
		services = try.To1(invitationServices(c.Invitation))
		pthid = c.Invitation.ID
	case c.OutOfBandID != "":
		oob := try.To1(s.repos.OutOfBands.GetByID(c.OutOfBandID))
		services = oob.Invitation.DIDCommServices()
		pthid = oob.Invitation.ID
	default:
		return nil, nil, psm.Validationf("connection %s has no invitation", c.ID)
	}
	if len(services) == 0 {
		return nil, nil, psm.Validationf("invitation has no services")
	}

	var req didcomm.Message
	if c.Protocol == ProtocolDIDExchange {
		req = try.To1(didexchange.NewRequest(s.label(label), pthid, c.DID, nil))
	} else {
		req = stdcon.NewRequest(s.label(label), pthid, &stdcon.Connection{
			DID:    c.DID,
			DIDDoc: c.DIDDoc,
		})
	}
	c.ThreadID = req.Hdr().ThreadID()
	try.To(s.update(c, psm.ConnectionRequested))

	return &comm.OutboundMessage{
		Message:    req,
		Connection: c,
		Services:   services,
	}, c, nil
}

// handleRequest is the inviter's side of the connection request. A request
// to a multi-use invitation gets a new connection record.
func (s *Service) handleRequest(ctx context.Context, mc *comm.MessageContext) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "connection request")

	var req stdcon.Request
	try.To(mc.Decode(&req))
	if req.Connection == nil || req.Connection.DIDDoc == nil {
		return nil, psm.Validationf("request %s has no DID document", req.ID)
	}

	var c *psm.Connection
	oob := try.To1(s.findOutOfBand(mc.RecipientKey, req.ParentThreadID()))
	if oob != nil {
		c = try.To1(s.inviterFromOutOfBand(ctx, oob, ProtocolConnections, mc.RecipientKey))
	} else {
		c = try.To1(s.repos.Connections.GetSingleByQuery(storage.TagQuery(
			"verkey", mc.RecipientKey,
			"role", string(psm.RoleInviter),
			"state", string(psm.ConnectionInvited))))
		if c.MultiUseInvitation {
			c = try.To1(s.cloneMultiUse(ctx, c))
		}
	}
	try.To(c.AssertRole(psm.RoleInviter))
	try.To(c.AssertState(psm.ConnectionInvited))

	c.TheirDID = req.Connection.DID
	c.TheirDIDDoc = req.Connection.DIDDoc
	c.TheirLabel = req.Label
	c.ThreadID = req.ThreadID()
	try.To(s.update(c, psm.ConnectionRequested))

	if !s.autoAccept(c) {
		return nil, nil
	}
	return s.CreateResponse(ctx, c.ID)
}

// cloneMultiUse returns the new connection record for the multi-use
// invitation. The invitation record stays as it is.
func (s *Service) cloneMultiUse(ctx context.Context, inv *psm.Connection) (c *psm.Connection, err error) {
	defer err2.Handle(&err, "multi-use invitation")

	r := try.To1(s.routing.GetRouting(ctx))
	c = psm.NewConnection()
	c.State = psm.ConnectionInvited
	c.Role = psm.RoleInviter
	c.Protocol = inv.Protocol
	c.Alias = inv.Alias
	c.InvitationKey = inv.InvitationKey
	c.AutoAccept = inv.AutoAccept
	try.To(legacyDIDFor(c, r))
	try.To(psm.SaveConnection(s.repos.Connections, s.bus, c))
	glog.V(3).Infoln("multi-use invitation", inv.ID, "-> connection", c.ID)
	return c, nil
}

// CreateResponse creates the signed response of the inviter's connection.
func (s *Service) CreateResponse(ctx context.Context, connID string) (out *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "create response")

	c := try.To1(s.repos.Connections.GetByID(connID))
	try.To(c.AssertRole(psm.RoleInviter))
	try.To(c.AssertState(psm.ConnectionRequested))

	if c.Protocol == ProtocolDIDExchange {
		return s.CreateDIDExchangeResponse(ctx, connID)
	}
	resp := stdcon.NewResponse(c.ThreadID)
	resp.Connection = &stdcon.Connection{DID: c.DID, DIDDoc: c.DIDDoc}
	try.To(signature.Sign(ctx, resp, sec.Pipe{Keys: s.store, In: c.InvitationKey}))
	try.To(s.update(c, psm.ConnectionResponded))

	return comm.NewOutbound(resp, c), nil
}

// handleResponse verifies the inviter's response. The response must be
// signed with the key of the invitation.
func (s *Service) handleResponse(ctx context.Context, mc *comm.MessageContext) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "connection response")

	var resp stdcon.Response
	try.To(mc.Decode(&resp))

	c := try.To1(s.byThread(mc.ThreadID(), psm.RoleInvitee))
	try.To(c.AssertState(psm.ConnectionRequested))

	signer := try.To1(signature.Verify(ctx, &resp, sec.Pipe{Keys: s.store}))
	if signer != c.InvitationKey {
		return nil, fmt.Errorf("%w: %s", ErrSignature, signer)
	}
	if resp.Connection.DIDDoc == nil {
		return nil, psm.Validationf("response %s has no DID document", resp.ID)
	}
	c.TheirDID = resp.Connection.DID
	c.TheirDIDDoc = resp.Connection.DIDDoc
	try.To(s.update(c, psm.ConnectionResponded))

	if !s.autoAccept(c) {
		return nil, nil
	}
	return s.CreateTrustPing(ctx, c.ID, false)
}

func invitationServices(inv *stdcon.Invitation) ([]did.Service, error) {
	if inv.DID != "" {
		doc, err := did.Resolve(inv.DID)
		if err != nil {
			return nil, err
		}
		return doc.DIDCommServices(), nil
	}
	keys := make([]string, 0, len(inv.RecipientKeys))
	for _, k := range inv.RecipientKeys {
		keys = append(keys, did.NormalizeKey(k))
	}
	routing := make([]string, 0, len(inv.RoutingKeys))
	for _, k := range inv.RoutingKeys {
		routing = append(routing, did.NormalizeKey(k))
	}
	return []did.Service{{
		ID:              "#inline",
		Type:            did.ServiceTypeIndyAgent,
		RecipientKeys:   keys,
		RoutingKeys:     routing,
		ServiceEndpoint: inv.ServiceEndpoint,
	}}, nil
}
