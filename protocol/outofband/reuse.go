package outofband

import (
	"context"

	"github.com/findy-network/findy-didcomm/agent/bus"
	"github.com/findy-network/findy-didcomm/agent/comm"
	"github.com/findy-network/findy-didcomm/agent/psm"
	"github.com/findy-network/findy-didcomm/agent/storage"
	"github.com/findy-network/findy-didcomm/std/outofband"
	"github.com/golang/glog"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

// handshakeReuse asks the inviter to use the connection for the invitation
// and waits for the acceptance.
func (s *Service) handshakeReuse(ctx context.Context, oob *psm.OutOfBand, c *psm.Connection) bool {
	reuse := outofband.NewHandshakeReuse(oob.Invitation.ID)
	accepted := bus.Expect(s.bus, func(ev psm.HandshakeReused) bool {
		return ev.ReuseThread == reuse.ID
	})
	defer accepted.Cancel()

	glog.V(3).Infoln("handshake reuse of", c.ID, "for invitation", oob.Invitation.ID)
	if err := s.sender.Send(ctx, comm.NewOutbound(reuse, c)); err != nil {
		glog.Warningln("handshake reuse:", err)
		return false
	}
	return accepted.Wait(ctx, s.cfg.ReuseTimeout)
}

// handleHandshakeReuse accepts the reuse of the connection for our
// invitation.
func (s *Service) handleHandshakeReuse(_ context.Context, mc *comm.MessageContext) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "handshake reuse")

	c := try.To1(mc.AssertReadyConnection())
	var m outofband.HandshakeReuse
	try.To(mc.Decode(&m))

	pthid := m.ParentThreadID()
	if pthid == "" {
		return nil, psm.Validationf("handshake reuse %s without pthid", m.ID)
	}
	oob := try.To1(s.repos.OutOfBands.GetSingleByQuery(storage.TagQuery(
		"invitationId", pthid, "role", string(psm.RoleSender))))
	try.To(oob.AssertState(psm.OutOfBandAwaitResponse))

	if !oob.Reusable {
		try.To(psm.UpdateOutOfBand(s.repos.OutOfBands, s.bus, oob, psm.OutOfBandDone))
	}
	glog.V(1).Infoln("invitation", pthid, "reuses connection", c.ID)
	s.bus.Publish(psm.HandshakeReused{
		OutOfBand:    *oob,
		ConnectionID: c.ID,
		ReuseThread:  m.ThreadID(),
	})
	return comm.NewOutbound(outofband.NewHandshakeReuseAccepted(m.ThreadID(), pthid), c), nil
}

// handleHandshakeReuseAccepted finishes our received invitation with the
// reused connection.
func (s *Service) handleHandshakeReuseAccepted(_ context.Context, mc *comm.MessageContext) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "handshake reuse accepted")

	c := try.To1(mc.AssertReadyConnection())
	var m outofband.HandshakeReuseAccepted
	try.To(mc.Decode(&m))

	oob := try.To1(s.repos.OutOfBands.GetSingleByQuery(storage.TagQuery(
		"invitationId", m.ParentThreadID(), "role", string(psm.RoleReceiver))))
	try.To(oob.AssertState(psm.OutOfBandPrepareResponse))

	oob.ReuseConnectionID = c.ID
	try.To(psm.UpdateOutOfBand(s.repos.OutOfBands, s.bus, oob, psm.OutOfBandDone))
	s.bus.Publish(psm.HandshakeReused{
		OutOfBand:    *oob,
		ConnectionID: c.ID,
		ReuseThread:  m.ThreadID(),
	})
	return nil, nil
}
