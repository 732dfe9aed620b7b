/*
Package basicmessage sends and receives the basic messages of the
connections. Both the sent and the received messages are stored as
psm.BasicMessage records.
*/
package basicmessage

import (
	"context"

	"github.com/findy-network/findy-didcomm/agent/bus"
	"github.com/findy-network/findy-didcomm/agent/comm"
	"github.com/findy-network/findy-didcomm/agent/psm"
	"github.com/findy-network/findy-didcomm/agent/storage"
	"github.com/findy-network/findy-didcomm/std/basicmessage"
	"github.com/golang/glog"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

type Service struct {
	repos  *psm.Repos
	bus    *bus.Bus
	sender *comm.Sender
}

func New(repos *psm.Repos, b *bus.Bus, sender *comm.Sender) *Service {
	return &Service{repos: repos, bus: b, sender: sender}
}

func (s *Service) Processor() comm.ProtProc {
	return comm.ProtProc{
		Handlers: map[string]comm.HandlerFunc{
			basicmessage.MessageType: s.handleMessage,
		},
	}
}

// SendMessage sends the content over the ready connection.
func (s *Service) SendMessage(ctx context.Context, connID, content string) (rec *psm.BasicMessage, err error) {
	defer err2.Handle(&err, "send basic message")

	conn := try.To1(s.repos.Connections.GetByID(connID))
	try.To(conn.AssertReady())

	msg := basicmessage.NewMessage(content)
	try.To(s.sender.Send(ctx, comm.NewOutbound(msg, conn)))

	rec = newRecord(msg, conn.ID, psm.MessageSender)
	try.To(psm.SaveBasicMessage(s.repos.BasicMessages, s.bus, rec))
	return rec, nil
}

// GetMessages returns the messages of the connection.
func (s *Service) GetMessages(connID string) ([]*psm.BasicMessage, error) {
	return s.repos.BasicMessages.FindByQuery(storage.TagQuery("connectionId", connID))
}

func (s *Service) DeleteMessage(id string) error {
	return s.repos.BasicMessages.DeleteByID(id)
}

func (s *Service) handleMessage(_ context.Context, mc *comm.MessageContext) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "basic message")

	conn := try.To1(mc.AssertReadyConnection())
	var msg basicmessage.Message
	try.To(mc.Decode(&msg))

	if glog.V(3) {
		glog.Infoln("basic message from:", conn.TheirLabel)
		glog.Infoln("sent time:", msg.SentTime)
	}
	rec := newRecord(&msg, conn.ID, psm.MessageReceiver)
	try.To(psm.SaveBasicMessage(s.repos.BasicMessages, s.bus, rec))
	return nil, nil
}

func newRecord(msg *basicmessage.Message, connID string, role psm.MessageRole) *psm.BasicMessage {
	return &psm.BasicMessage{
		ConnectionID: connID,
		Role:         role,
		MessageID:    msg.ID,
		ThreadID:     msg.ThreadID(),
		Content:      msg.Content,
		SentTime:     msg.SentTime.Time,
	}
}
