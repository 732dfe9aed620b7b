package comm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/findy-network/findy-didcomm/agent/didcomm"
	"github.com/findy-network/findy-didcomm/agent/packager"
	"github.com/findy-network/findy-didcomm/agent/psm"
	"github.com/findy-network/findy-didcomm/agent/trans"
	"github.com/findy-network/findy-didcomm/std/decorator"
	"github.com/findy-network/findy-didcomm/std/did"
	"github.com/findy-network/findy-didcomm/std/pickup"
	"github.com/findy-network/findy-didcomm/std/trustping"
	"github.com/golang/glog"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

// Queue holds the packed messages of the recipients which have no endpoint.
// The mediator sets it.
type Queue interface {
	Enqueue(ctx context.Context, recipientKey string, packed []byte) error

	// Dequeue takes at most max messages queued for the recipient at the
	// other end of the connection.
	Dequeue(ctx context.Context, conn *psm.Connection, max int) ([]*psm.QueuedMessage, error)
}

// Sender sends outbound messages. It tries an open session to the recipient
// first and then the services of the recipient in priority order.
type Sender struct {
	packager   *packager.Packager
	transports []trans.Outbound
	sessions   *sessions

	// override is the URL scheme of the transport to prefer.
	override    string
	initialized atomic.Bool

	lk    sync.RWMutex
	queue Queue
}

func NewSender(p *packager.Packager, override string, transports ...trans.Outbound) *Sender {
	return &Sender{
		packager:   p,
		transports: transports,
		sessions:   newSessions(),
		override:   strings.ToLower(override),
	}
}

// Start connects the outbound transports to the inbound path for the
// messages they receive back.
func (s *Sender) Start(in trans.Inbound) {
	for _, t := range s.transports {
		t.Start(in)
	}
}

// Stop stops the transports and closes the sessions.
func (s *Sender) Stop() {
	s.sessions.closeAll()
	for _, t := range s.transports {
		if err := t.Stop(); err != nil {
			glog.Warningln("transport stop:", err)
		}
	}
}

// SetInitialized tells the sender that the agent has its mediation set up.
// Until that all messages request return route.
func (s *Sender) SetInitialized(v bool) {
	s.initialized.Store(v)
}

func (s *Sender) SetQueue(q Queue) {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.queue = q
}

func (s *Sender) getQueue() Queue {
	s.lk.RLock()
	defer s.lk.RUnlock()
	return s.queue
}

// AddSession registers the session as the return route to the key.
func (s *Sender) AddSession(key string, session trans.Session) {
	s.sessions.put(key, session)
}

// RemoveSession forgets the session.
func (s *Sender) RemoveSession(session trans.Session) {
	s.sessions.remove(session)
}

// HasSession tells if there is an open return route to the key.
func (s *Sender) HasSession(key string) bool {
	return s.sessions.get(key) != nil
}

// Send packs the message and delivers it. It returns ErrDeliveryFailure if
// every service failed.
func (s *Sender) Send(ctx context.Context, out *OutboundMessage) (err error) {
	hdr := out.Message.Hdr()
	defer err2.Handle(&err, "send %s", hdr.Type)

	if s.needsReturnRoute(out) {
		hdr.SetReturnRoute(decorator.ReturnRouteAll)
	}
	services := out.services()
	senderKey := out.senderKey()

	if out.Session != nil && !out.Session.Closed() && len(services) > 0 {
		env := packager.Envelope{
			Message:       out.Message,
			RecipientKeys: services[0].RecipientKeys,
			SenderKey:     senderKey,
		}
		if s.sendSession(ctx, out.Session, env) {
			return nil
		}
	}
	for _, svc := range services {
		for _, key := range svc.RecipientKeys {
			session := s.sessions.get(key)
			if session == nil {
				continue
			}
			env := packager.Envelope{
				Message:       out.Message,
				RecipientKeys: svc.RecipientKeys,
				SenderKey:     senderKey,
			}
			if s.sendSession(ctx, session, env) {
				return nil
			}
		}
	}

	for _, svc := range s.order(services) {
		env := packager.Envelope{
			Message:       out.Message,
			RecipientKeys: svc.RecipientKeys,
			RoutingKeys:   svc.RoutingKeys,
			SenderKey:     senderKey,
		}
		err := s.sendService(ctx, svc, env)
		if err == nil {
			return nil
		}
		glog.Warningln("service", svc.ServiceEndpoint, "failed:", err)
	}
	return fmt.Errorf("%w: %s to %d services", ErrDeliveryFailure, hdr.ID, len(services))
}

// SendPacked delivers already packed message to the recipient key. The
// message goes over an open session, to the services of the connection via
// which the recipient is reached, or to the queue.
func (s *Sender) SendPacked(ctx context.Context, recipientKey string, packed []byte, via *psm.Connection) (err error) {
	defer err2.Handle(&err, "send packed to %s", recipientKey)

	keys := []string{recipientKey}
	var services []did.Service
	if via != nil {
		keys = append(keys, via.TheirKey())
		services = NewOutbound(nil, via).services()
	}
	for _, k := range keys {
		session := s.sessions.get(k)
		if session == nil {
			continue
		}
		if err := session.Send(ctx, packed); err == nil {
			return nil
		}
		glog.V(3).Infoln("session", session.ID(), "send failed")
	}
	for _, svc := range s.order(services) {
		t := s.transport(svc.ServiceEndpoint)
		if t == nil {
			continue
		}
		err := t.Send(ctx, svc.ServiceEndpoint, packed)
		if err == nil {
			return nil
		}
		glog.Warningln("service", svc.ServiceEndpoint, "failed:", err)
	}
	q := s.getQueue()
	if q == nil {
		return fmt.Errorf("%w: no session or queue", ErrDeliveryFailure)
	}
	try.To(q.Enqueue(ctx, recipientKey, packed))
	return nil
}

// Flush sends the queued messages of the connection's recipient over the
// session until the queue is empty or the session doesn't take more.
func (s *Sender) Flush(ctx context.Context, conn *psm.Connection, session trans.Session) {
	q := s.getQueue()
	if q == nil {
		return
	}
	for !session.Closed() {
		msgs, err := q.Dequeue(ctx, conn, 1)
		if err != nil {
			glog.Warningln("dequeue:", err)
			return
		}
		if len(msgs) == 0 {
			return
		}
		m := msgs[0]
		if err := session.Send(ctx, m.Message); err != nil {
			glog.V(3).Infoln("session", session.ID(), "full, requeueing")
			if err := q.Enqueue(ctx, m.RecipientKey, m.Message); err != nil {
				glog.Errorln("requeue:", err)
			}
			return
		}
		glog.V(3).Infoln("queued message sent over session", session.ID())
	}
}

func (s *Sender) sendSession(ctx context.Context, session trans.Session, env packager.Envelope) bool {
	packed, err := s.packager.PackMessage(ctx, env)
	if err != nil {
		glog.Warningln("pack for session:", err)
		return false
	}
	if err := session.Send(ctx, packed); err != nil {
		glog.V(3).Infoln("session", session.ID(), "send failed:", err)
		return false
	}
	glog.V(3).Infoln("message sent over session", session.ID())
	return true
}

func (s *Sender) sendService(ctx context.Context, svc did.Service, env packager.Envelope) (err error) {
	defer err2.Handle(&err)

	if len(env.RecipientKeys) == 0 {
		return fmt.Errorf("service %s has no recipient keys", svc.ID)
	}
	packed := try.To1(s.packager.PackMessage(ctx, env))

	if svc.ServiceEndpoint == trans.QueueEndpoint {
		q := s.getQueue()
		if q == nil {
			return fmt.Errorf("recipient has no endpoint")
		}
		return q.Enqueue(ctx, env.RecipientKeys[0], packed)
	}
	t := s.transport(svc.ServiceEndpoint)
	if t == nil {
		return fmt.Errorf("no transport for %s", svc.ServiceEndpoint)
	}
	glog.V(3).Infoln("sending", env.Message.Hdr().Type, "to", svc.ServiceEndpoint)
	return t.Send(ctx, svc.ServiceEndpoint, packed)
}

func (s *Sender) transport(endpoint string) trans.Outbound {
	for _, t := range s.transports {
		if trans.Supports(t, endpoint) {
			return t
		}
	}
	return nil
}

// order puts the services of the override scheme first. Services are
// already in priority order.
func (s *Sender) order(services []did.Service) []did.Service {
	if s.override == "" {
		return services
	}
	ordered := make([]did.Service, 0, len(services))
	rest := make([]did.Service, 0, len(services))
	for _, svc := range services {
		if trans.Scheme(svc.ServiceEndpoint) == s.override {
			ordered = append(ordered, svc)
		} else {
			rest = append(rest, svc)
		}
	}
	return append(ordered, rest...)
}

func (s *Sender) needsReturnRoute(out *OutboundMessage) bool {
	if out.ReturnRoute || !s.initialized.Load() {
		return true
	}
	if out.Connection != nil && out.Connection.Connectionless {
		return true
	}
	switch didcomm.FromLegacy(out.Message.Hdr().Type) {
	case pickup.BatchPickupType, pickup.BatchType, pickup.StatusRequestType:
		return true
	case trustping.PingType:
		p, ok := out.Message.(*trustping.Ping)
		return ok && !p.WantsResponse()
	}
	return false
}
