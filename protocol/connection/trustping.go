package connection

import (
	"context"

	"github.com/findy-network/findy-didcomm/agent/comm"
	"github.com/findy-network/findy-didcomm/agent/psm"
	"github.com/findy-network/findy-didcomm/std/trustping"
	"github.com/golang/glog"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

// CreateTrustPing creates a ping over the ready connection. A responded
// connection is completed by it.
func (s *Service) CreateTrustPing(_ context.Context, connID string, responseRequested bool) (out *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "create trust ping")

	c := try.To1(s.repos.Connections.GetByID(connID))
	try.To(c.AssertReady())

	ping := trustping.NewPing(responseRequested)
	if c.State == psm.ConnectionResponded {
		try.To(s.update(c, psm.ConnectionComplete))
	}
	return comm.NewOutbound(ping, c), nil
}

// SendTrustPing sends a ping to the connection.
func (s *Service) SendTrustPing(ctx context.Context, connID string, responseRequested bool) (err error) {
	defer err2.Handle(&err)

	out := try.To1(s.CreateTrustPing(ctx, connID, responseRequested))
	return s.sender.Send(ctx, out)
}

func (s *Service) handlePing(_ context.Context, mc *comm.MessageContext) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "trust ping")

	var ping trustping.Ping
	try.To(mc.Decode(&ping))

	c := try.To1(mc.AssertReadyConnection())
	try.To(s.completeResponded(c))
	if !ping.WantsResponse() {
		return nil, nil
	}
	return comm.NewOutbound(trustping.NewResponse(&ping), c), nil
}

func (s *Service) handlePingResponse(_ context.Context, mc *comm.MessageContext) (*comm.OutboundMessage, error) {
	glog.V(3).Infoln("trust ping response to", mc.ThreadID())
	return nil, nil
}

// handleAck completes the inviter's connection like the trust ping.
func (s *Service) handleAck(_ context.Context, mc *comm.MessageContext) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "connection ack")

	c := try.To1(mc.AssertReadyConnection())
	try.To(s.completeResponded(c))
	return nil, nil
}

func (s *Service) completeResponded(c *psm.Connection) error {
	if c.State != psm.ConnectionResponded {
		return nil
	}
	return s.update(c, psm.ConnectionComplete)
}
