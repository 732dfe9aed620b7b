package connection

import (
	"context"
	"fmt"

	"github.com/findy-network/findy-didcomm/agent/comm"
	"github.com/findy-network/findy-didcomm/agent/psm"
	"github.com/findy-network/findy-didcomm/agent/sec"
	"github.com/findy-network/findy-didcomm/std/didexchange"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

// handleDIDExchangeRequest is the inviter's side of the DID exchange
// request. DID exchange is only started with an out-of-band invitation.
func (s *Service) handleDIDExchangeRequest(ctx context.Context, mc *comm.MessageContext) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "did exchange request")

	var req didexchange.Request
	try.To(mc.Decode(&req))

	oob := try.To1(s.findOutOfBand(mc.RecipientKey, req.ParentThreadID()))
	if oob == nil {
		return nil, psm.Validationf("no out-of-band invitation for key %s", mc.RecipientKey)
	}
	theirDoc := try.To1(didexchange.Doc(req.DID, req.DIDDoc))

	c := try.To1(s.inviterFromOutOfBand(ctx, oob, ProtocolDIDExchange, mc.RecipientKey))
	c.TheirDID = req.DID
	c.TheirDIDDoc = theirDoc
	c.TheirLabel = req.Label
	c.ThreadID = req.ThreadID()
	try.To(s.update(c, psm.ConnectionRequested))

	if !s.autoAccept(c) {
		return nil, nil
	}
	return s.CreateDIDExchangeResponse(ctx, c.ID)
}

// CreateDIDExchangeResponse creates the response with our peer DID. The DID
// rotation is signed with the invitation key.
func (s *Service) CreateDIDExchangeResponse(ctx context.Context, connID string) (out *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "create did exchange response")

	c := try.To1(s.repos.Connections.GetByID(connID))
	try.To(c.AssertRole(psm.RoleInviter))
	try.To(c.AssertState(psm.ConnectionRequested))

	resp := didexchange.NewResponse(c.ThreadID, c.DID)
	try.To(resp.SignRotate(ctx, sec.Pipe{Keys: s.store, In: c.InvitationKey}))
	try.To(s.update(c, psm.ConnectionResponded))

	return comm.NewOutbound(resp, c), nil
}

// handleDIDExchangeResponse verifies the DID rotation against the keys of
// the out-of-band invitation and completes the exchange.
func (s *Service) handleDIDExchangeResponse(ctx context.Context, mc *comm.MessageContext) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "did exchange response")

	var resp didexchange.Response
	try.To(mc.Decode(&resp))

	c := try.To1(s.byThread(mc.ThreadID(), psm.RoleInvitee))
	try.To(c.AssertState(psm.ConnectionRequested))
	oob := try.To1(s.repos.OutOfBands.GetByID(c.OutOfBandID))

	signer := try.To1(resp.VerifyRotate(ctx, sec.Pipe{Keys: s.store}))
	if !contains(oob.Invitation.RecipientKeys(), signer) {
		return nil, fmt.Errorf("%w: %s", ErrSignature, signer)
	}
	c.TheirDID = resp.DID
	c.TheirDIDDoc = try.To1(didexchange.Doc(resp.DID, resp.DIDDoc))
	try.To(s.update(c, psm.ConnectionResponded))

	if !s.autoAccept(c) {
		return nil, nil
	}
	return s.CreateComplete(ctx, c.ID)
}

// CreateComplete creates the invitee's complete message of the responded
// DID exchange.
func (s *Service) CreateComplete(_ context.Context, connID string) (out *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "create did exchange complete")

	c := try.To1(s.repos.Connections.GetByID(connID))
	try.To(c.AssertRole(psm.RoleInvitee))
	try.To(c.AssertState(psm.ConnectionResponded))
	if c.Protocol != ProtocolDIDExchange {
		return nil, fmt.Errorf("%w: connection %s isn't a did exchange", psm.ErrProtocolState, c.ID)
	}
	oob := try.To1(s.repos.OutOfBands.GetByID(c.OutOfBandID))

	complete := didexchange.NewComplete(c.ThreadID, oob.Invitation.ID)
	try.To(s.update(c, psm.ConnectionComplete))
	return comm.NewOutbound(complete, c), nil
}

// AcceptResponse completes the invitee's responded connection. The DID
// exchange is completed with its complete message and the connections
// protocol with a trust ping.
func (s *Service) AcceptResponse(ctx context.Context, connID string) (c *psm.Connection, err error) {
	defer err2.Handle(&err, "accept response")

	c = try.To1(s.repos.Connections.GetByID(connID))
	var out *comm.OutboundMessage
	if c.Protocol == ProtocolDIDExchange {
		out = try.To1(s.CreateComplete(ctx, connID))
	} else {
		try.To(c.AssertRole(psm.RoleInvitee))
		try.To(c.AssertState(psm.ConnectionResponded))
		out = try.To1(s.CreateTrustPing(ctx, connID, false))
	}
	try.To(s.sender.Send(ctx, out))
	return s.repos.Connections.GetByID(connID)
}

func (s *Service) handleComplete(_ context.Context, mc *comm.MessageContext) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "did exchange complete")

	c := try.To1(s.byThread(mc.ThreadID(), psm.RoleInviter))
	try.To(c.AssertState(psm.ConnectionResponded))
	try.To(s.update(c, psm.ConnectionComplete))
	return nil, nil
}

func contains(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
