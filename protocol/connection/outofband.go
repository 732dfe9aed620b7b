package connection

import (
	"context"
	"fmt"

	"github.com/findy-network/findy-didcomm/agent/psm"
	"github.com/findy-network/findy-didcomm/agent/storage"
	"github.com/golang/glog"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

// RequestOutOfBand starts the handshake of the received out-of-band
// invitation with the protocol. The invitee's connection is returned in
// requested state.
func (s *Service) RequestOutOfBand(
	ctx context.Context,
	oob *psm.OutOfBand,
	protocol psm.HandshakeProtocol,
	p InvitationParams,
) (c *psm.Connection, err error) {
	defer err2.Handle(&err, "out-of-band handshake")

	try.To(oob.AssertRole(psm.RoleReceiver))
	keys := oob.Invitation.RecipientKeys()
	if len(keys) == 0 {
		return nil, psm.Validationf("invitation %s has no recipient keys", oob.Invitation.ID)
	}

	r := try.To1(s.getRouting(ctx, p.Routing))
	c = psm.NewConnection()
	c.State = psm.ConnectionInvited
	c.Role = psm.RoleInvitee
	c.Protocol = protocol
	c.Alias = p.Alias
	c.OutOfBandID = oob.ID
	c.InvitationKey = keys[0]
	c.TheirLabel = oob.Invitation.Label
	c.AutoAccept = p.AutoAccept
	if protocol == ProtocolDIDExchange {
		try.To(peerDIDFor(c, r))
	} else {
		try.To(legacyDIDFor(c, r))
	}
	try.To(psm.SaveConnection(s.repos.Connections, s.bus, c))

	out, c := try.To2(s.CreateRequest(ctx, c.ID, p.Label))
	try.To(s.sender.Send(ctx, out))
	// the response may have been handled already
	return s.repos.Connections.GetByID(c.ID)
}

// findOutOfBand returns our out-of-band invitation of the recipient key
// which awaits the response, or nil. The pthid selects the invitation when
// the same key is in many of them.
func (s *Service) findOutOfBand(key, pthid string) (*psm.OutOfBand, error) {
	if key == "" {
		return nil, nil
	}
	q := storage.TagQuery(
		psm.RecipientKeyTag(key), "1",
		"role", string(psm.RoleSender),
		"state", string(psm.OutOfBandAwaitResponse))
	if pthid != "" {
		q.Tags["invitationId"] = pthid
	}
	return s.repos.OutOfBands.FindSingleByQuery(q)
}

// inviterFromOutOfBand creates the inviter's connection for a request to our
// out-of-band invitation. A single use invitation's key is the key of the
// connection as well, other connections get new routing.
func (s *Service) inviterFromOutOfBand(
	ctx context.Context,
	oob *psm.OutOfBand,
	protocol psm.HandshakeProtocol,
	invitationKey string,
) (c *psm.Connection, err error) {
	defer err2.Handle(&err, "connection from out-of-band %s", oob.ID)

	try.To(oob.AssertState(psm.OutOfBandAwaitResponse))
	if !oob.Reusable {
		for _, prev := range try.To1(s.FindByOutOfBandID(oob.ID)) {
			if prev.State != psm.ConnectionAbandoned {
				return nil, fmt.Errorf("%w: invitation %s already used by connection %s",
					psm.ErrProtocolState, oob.ID, prev.ID)
			}
		}
	}

	var r *psm.Routing
	if oob.Reusable || protocol == ProtocolDIDExchange {
		r = try.To1(s.routing.GetRouting(ctx))
	} else {
		r = &psm.Routing{Verkey: invitationKey, MediatorID: oob.MediatorID}
		for _, svc := range oob.Invitation.DIDCommServices() {
			r.Endpoints = append(r.Endpoints, svc.ServiceEndpoint)
			r.RoutingKeys = svc.RoutingKeys
		}
	}
	c = psm.NewConnection()
	c.State = psm.ConnectionInvited
	c.Role = psm.RoleInviter
	c.Protocol = protocol
	c.OutOfBandID = oob.ID
	c.InvitationKey = invitationKey
	c.AutoAccept = oob.AutoAccept
	if protocol == ProtocolDIDExchange {
		try.To(peerDIDFor(c, r))
	} else {
		try.To(legacyDIDFor(c, r))
	}
	try.To(psm.SaveConnection(s.repos.Connections, s.bus, c))
	glog.V(3).Infoln("out-of-band", oob.ID, "-> connection", c.ID)
	return c, nil
}

// outOfBandUsed marks the single use invitation of the inviter's complete
// connection done.
func (s *Service) outOfBandUsed(c *psm.Connection) (err error) {
	defer err2.Handle(&err, "out-of-band of connection %s", c.ID)

	if c.Role != psm.RoleInviter || c.OutOfBandID == "" {
		return nil
	}
	oob := try.To1(s.repos.OutOfBands.FindByID(c.OutOfBandID))
	if oob == nil || oob.Role != psm.RoleSender || oob.Reusable ||
		oob.State == psm.OutOfBandDone {
		return nil
	}
	return psm.UpdateOutOfBand(s.repos.OutOfBands, s.bus, oob, psm.OutOfBandDone)
}
