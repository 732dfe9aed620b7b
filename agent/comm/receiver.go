package comm

import (
	"context"
	"errors"

	"github.com/findy-network/findy-didcomm/agent/bus"
	"github.com/findy-network/findy-didcomm/agent/didcomm"
	"github.com/findy-network/findy-didcomm/agent/packager"
	"github.com/findy-network/findy-didcomm/agent/psm"
	"github.com/findy-network/findy-didcomm/agent/storage"
	"github.com/findy-network/findy-didcomm/agent/trans"
	"github.com/findy-network/findy-didcomm/std/decorator"
	"github.com/findy-network/findy-didcomm/std/did"
	"github.com/golang/glog"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

// Receiver is the inbound path: it unpacks the envelope, finds the
// connection of it and dispatches the message. Errors of single messages are
// logged and they never stop the receiving.
type Receiver struct {
	packager    *packager.Packager
	dispatcher  *Dispatcher
	sender      *Sender
	connections *storage.Repository[*psm.Connection]
	bus         *bus.Bus
}

func NewReceiver(
	p *packager.Packager,
	d *Dispatcher,
	s *Sender,
	connections *storage.Repository[*psm.Connection],
	b *bus.Bus,
) *Receiver {
	return &Receiver{
		packager:    p,
		dispatcher:  d,
		sender:      s,
		connections: connections,
		bus:         b,
	}
}

// Receive is the trans.Inbound of the agent.
func (r *Receiver) Receive(ctx context.Context, packed []byte, session trans.Session) {
	if err := r.receive(ctx, packed, session); err != nil {
		glog.Errorln("receive:", err)
	}
}

func (r *Receiver) receive(ctx context.Context, packed []byte, session trans.Session) (err error) {
	defer err2.Handle(&err)

	unpacked := try.To1(r.packager.UnpackMessage(ctx, packed))
	hdr := try.To1(didcomm.PeekHeader(unpacked.Plaintext))
	glog.V(3).Infoln("received", hdr.Type, hdr.ID)
	glog.V(5).Infoln(string(unpacked.Plaintext))

	if session != nil && hdr.ReturnRoute() != "" && unpacked.SenderKey != "" {
		r.sender.AddSession(unpacked.SenderKey, session)
	}
	mc := &MessageContext{
		Header:       hdr,
		Message:      unpacked.Plaintext,
		SenderKey:    unpacked.SenderKey,
		RecipientKey: unpacked.RecipientKey,
		Connection:   try.To1(r.findConnection(unpacked.RecipientKey, unpacked.SenderKey)),
		Session:      session,
	}
	try.To(r.dispatcher.Dispatch(ctx, mc))
	if session != nil && mc.Connection != nil &&
		hdr.ReturnRoute() == decorator.ReturnRouteAll {
		r.sender.Flush(ctx, mc.Connection, session)
	}

	ev := psm.AgentMessageProcessed{
		MessageType: hdr.Type,
		MessageID:   hdr.ID,
		ThreadID:    hdr.ThreadID(),
		Message:     unpacked.Plaintext,
	}
	if mc.Connection != nil {
		ev.ConnectionID = mc.Connection.ID
	}
	r.bus.Publish(ev)
	return nil
}

func (r *Receiver) findConnection(recipientKey, senderKey string) (conn *psm.Connection, err error) {
	defer err2.Handle(&err, "find connection")

	if senderKey == "" || recipientKey == "" {
		return nil, nil
	}
	conn, err = r.connections.FindSingleByQuery(storage.TagQuery(
		"verkey", recipientKey, "theirKey", senderKey))
	if errors.Is(err, storage.ErrMultipleMatches) {
		glog.Warningln("multiple connections for keys", recipientKey, senderKey)
		return nil, nil
	}
	if err != nil || conn != nil {
		return conn, err
	}
	return r.bindConnectionless(recipientKey, senderKey)
}

// bindConnectionless sets the sender as the other end of our connectionless
// connection of the recipient key, if it has none yet.
func (r *Receiver) bindConnectionless(recipientKey, senderKey string) (conn *psm.Connection, err error) {
	defer err2.Handle(&err, "bind connectionless")

	conns := try.To1(r.connections.FindByQuery(storage.TagQuery(
		"verkey", recipientKey, "connectionless", "true")))
	for _, c := range conns {
		if c.TheirDIDDoc != nil {
			continue
		}
		c.TheirDID = try.To1(did.LegacyDID(senderKey))
		c.TheirDIDDoc = did.NewDoc(c.TheirDID, senderKey, nil, nil)
		try.To(r.connections.Update(c))
		glog.V(3).Infoln("connectionless", c.ID, "bound to", senderKey)
		return c, nil
	}
	return nil, nil
}
