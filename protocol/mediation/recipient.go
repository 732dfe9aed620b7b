package mediation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/findy-network/findy-didcomm/agent/bus"
	"github.com/findy-network/findy-didcomm/agent/comm"
	"github.com/findy-network/findy-didcomm/agent/didcomm"
	"github.com/findy-network/findy-didcomm/agent/psm"
	"github.com/findy-network/findy-didcomm/agent/sec"
	"github.com/findy-network/findy-didcomm/agent/storage"
	"github.com/findy-network/findy-didcomm/agent/trans"
	"github.com/findy-network/findy-didcomm/agent/utils"
	"github.com/findy-network/findy-didcomm/protocol/outofband"
	"github.com/findy-network/findy-didcomm/std/common"
	"github.com/findy-network/findy-didcomm/std/did"
	"github.com/findy-network/findy-didcomm/std/mediate"
	stdoob "github.com/findy-network/findy-didcomm/std/outofband"
	"github.com/findy-network/findy-didcomm/std/pickup"
	"github.com/findy-network/findy-didcomm/std/trustping"
	"github.com/go-co-op/gocron"
	"github.com/golang/glog"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

// Connector makes the connection to the mediator with its invitation. The
// Out-of-Band service is the Connector of the agent.
type Connector interface {
	ReceiveInvitation(ctx context.Context, inv *stdoob.Invitation, p outofband.ReceiveParams) (*psm.OutOfBand, *psm.Connection, error)
	FindByInvitationID(invitationID string, role psm.OutOfBandRole) (*psm.OutOfBand, error)
}

type Recipient struct {
	cfg     Config
	repos   *psm.Repos
	bus     *bus.Bus
	store   sec.Store
	sender  *comm.Sender
	inbound trans.Inbound

	lk        sync.Mutex
	connector Connector
	cron      *gocron.Scheduler
}

// NewRecipient creates the recipient. The batches of queued messages are
// passed to the inbound.
func NewRecipient(
	cfg Config,
	repos *psm.Repos,
	b *bus.Bus,
	store sec.Store,
	sender *comm.Sender,
	inbound trans.Inbound,
) *Recipient {
	if cfg.PickupStrategy == "" {
		cfg.PickupStrategy = PickupBatch
	}
	if cfg.PickupInterval == 0 {
		cfg.PickupInterval = utils.Settings.PickupInterval()
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = pickup.DefaultBatchSize
	}
	return &Recipient{
		cfg:     cfg,
		repos:   repos,
		bus:     b,
		store:   store,
		sender:  sender,
		inbound: inbound,
	}
}

// SetConnector sets the service which connects to the mediator. The
// Out-of-Band service needs the routing of the recipient, which is why it's
// set afterwards.
func (r *Recipient) SetConnector(c Connector) {
	r.lk.Lock()
	defer r.lk.Unlock()
	r.connector = c
}

func (r *Recipient) getConnector() Connector {
	r.lk.Lock()
	defer r.lk.Unlock()
	return r.connector
}

func (r *Recipient) Processor() comm.ProtProc {
	return comm.ProtProc{
		Handlers: map[string]comm.HandlerFunc{
			mediate.GrantType:                 r.handleGrant,
			mediate.DenyType:                  r.handleDeny,
			mediate.KeylistUpdateResponseType: r.handleKeylistUpdateResponse,
			mediate.KeylistType:               r.handleKeylist,
			pickup.BatchType:                  r.handleBatch,
			pickup.StatusType:                 r.handleStatus,
			common.ForwardType:                r.handleForward,
		},
	}
}

// endpoints returns our own endpoints. Without them we can only be reached
// through a mediator queue.
func (r *Recipient) endpoints() []string {
	if len(r.cfg.Endpoints) == 0 {
		return []string{trans.QueueEndpoint}
	}
	return r.cfg.Endpoints
}

// GetRouting creates a new key for a connection. With a granted mediation
// the key is added to the mediator's keylist and the routing goes through
// the mediator.
func (r *Recipient) GetRouting(ctx context.Context) (routing *psm.Routing, err error) {
	defer err2.Handle(&err, "get routing")

	didStr, verkey := try.To2(r.store.CreateDID(ctx, nil))
	routing = &psm.Routing{DID: didStr, Verkey: verkey, Endpoints: r.endpoints()}

	m := try.To1(defaultMediation(r.repos.Mediations))
	if m == nil || !m.IsReady() {
		return routing, nil
	}
	try.To(r.KeylistUpdate(ctx, m.ID, mediate.ActionAdd, verkey))
	routing.Endpoints = []string{m.Endpoint}
	routing.RoutingKeys = m.RoutingKeys
	routing.MediatorID = m.ID
	return routing, nil
}

// KeylistUpdate updates the keylist of the mediator and waits for the
// response.
func (r *Recipient) KeylistUpdate(ctx context.Context, mediationID, action string, keys ...string) (err error) {
	defer err2.Handle(&err, "keylist update")

	m := try.To1(r.repos.Mediations.GetByID(mediationID))
	try.To(m.AssertRole(psm.RoleRecipient))
	try.To(m.AssertState(psm.MediationGranted))
	conn := try.To1(r.repos.Connections.GetByID(m.ConnectionID))

	msg := mediate.NewKeylistUpdate(action, keys...)
	updated := bus.Expect(r.bus, func(ev psm.KeylistUpdated) bool {
		return ev.ThreadID == msg.ID
	})
	defer updated.Cancel()

	try.To(r.sender.Send(ctx, r.toMediator(msg, conn)))
	if !updated.Wait(ctx, utils.Settings.EventTimeout()) {
		return fmt.Errorf("%w: keylist update %s", ErrTimeout, msg.ID)
	}
	return nil
}

// toMediator returns the message to the mediator. Without an endpoint of
// our own the answer must come in the same session.
func (r *Recipient) toMediator(m didcomm.Message, conn *psm.Connection) *comm.OutboundMessage {
	out := comm.NewOutbound(m, conn)
	out.ReturnRoute = len(r.cfg.Endpoints) == 0
	return out
}

// Initialize sets up the mediation of the configured mediator. A mediation
// of an other mediator is discarded. It returns when the mediation is
// granted and the pickup is started.
func (r *Recipient) Initialize(ctx context.Context) (err error) {
	defer err2.Handle(&err, "mediation initialize")

	url := r.cfg.MediatorInvitationURL
	if url == "" {
		r.sender.SetInitialized(true)
		return nil
	}
	m := try.To1(defaultMediation(r.repos.Mediations))
	if m != nil && m.InvitationURL != url {
		glog.V(1).Infoln("mediator changed, mediation", m.ID, "discarded")
		try.To(r.repos.Mediations.Delete(m))
		m = nil
	}
	if m == nil || !m.IsReady() {
		m = try.To1(r.requestMediation(ctx, url, m))
	}
	r.sender.SetInitialized(true)
	r.startPickup()
	glog.V(1).Infoln("mediation", m.ID, "ready, endpoint:", m.Endpoint)
	return nil
}

// Mediation returns the default mediation or nil.
func (r *Recipient) Mediation() (*psm.Mediation, error) {
	return defaultMediation(r.repos.Mediations)
}

// requestMediation sends the mediation request and waits for the answer.
// The connection of an unfinished mediation is used if it's ready.
func (r *Recipient) requestMediation(ctx context.Context, url string, unfinished *psm.Mediation) (m *psm.Mediation, err error) {
	defer err2.Handle(&err, "request mediation")

	var conn *psm.Connection
	if unfinished != nil {
		conn = try.To1(r.repos.Connections.FindByID(unfinished.ConnectionID))
		try.To(r.repos.Mediations.Delete(unfinished))
	}
	if conn == nil || !conn.IsReady() {
		conn = try.To1(r.connect(ctx, url))
	}

	req := mediate.NewRequest()
	m = psm.NewMediation()
	m.State = psm.MediationRequested
	m.Role = psm.RoleRecipient
	m.ConnectionID = conn.ID
	m.ThreadID = req.ID
	m.InvitationURL = url
	m.Default = true
	try.To(psm.SaveMediation(r.repos.Mediations, r.bus, m))

	answered := bus.Expect(r.bus, func(ev psm.MediationStateChanged) bool {
		return ev.Mediation.ID == m.ID && ev.Mediation.State != psm.MediationRequested
	})
	defer answered.Cancel()

	out := comm.NewOutbound(req, conn)
	out.ReturnRoute = true
	try.To(r.sender.Send(ctx, out))

	ev, ok := answered.WaitEvent(ctx, utils.Settings.EventTimeout())
	if !ok {
		return nil, fmt.Errorf("%w: mediation request %s", ErrTimeout, m.ID)
	}
	if ev.Mediation.State == psm.MediationDenied {
		return nil, fmt.Errorf("%w: %s", ErrDenied, m.ID)
	}
	return &ev.Mediation, nil
}

// connect returns a ready connection to the mediator of the invitation. A
// connection made earlier with the same invitation is used again.
func (r *Recipient) connect(ctx context.Context, url string) (conn *psm.Connection, err error) {
	defer err2.Handle(&err, "connect mediator")

	c := r.getConnector()
	if c == nil {
		return nil, errors.New("no connector")
	}
	inv := try.To1(outofband.ParseInvitationURL(ctx, url))

	oob := try.To1(c.FindByInvitationID(inv.ID, psm.RoleReceiver))
	if oob != nil {
		conn = try.To1(r.connectionOf(oob))
	}
	if conn == nil {
		// the mediator connection itself isn't routed through the mediator
		didStr, verkey := try.To2(r.store.CreateDID(ctx, nil))
		auto := true
		_, conn = try.To2(c.ReceiveInvitation(ctx, inv, outofband.ReceiveParams{
			AutoAcceptInvitation: &auto,
			AutoAcceptConnection: &auto,
			ReuseConnection:      true,
			Routing: &psm.Routing{
				DID:       didStr,
				Verkey:    verkey,
				Endpoints: r.endpoints(),
			},
		}))
	}
	if conn == nil {
		return nil, fmt.Errorf("no connection with invitation %s", inv.ID)
	}
	return r.waitReady(ctx, conn)
}

// connectionOf returns the connection made or reused with the received
// invitation or nil.
func (r *Recipient) connectionOf(oob *psm.OutOfBand) (c *psm.Connection, err error) {
	defer err2.Handle(&err)

	if oob.ReuseConnectionID != "" {
		return r.repos.Connections.FindByID(oob.ReuseConnectionID)
	}
	conns := try.To1(r.repos.Connections.FindByQuery(storage.TagQuery(
		"outOfBandId", oob.ID)))
	for _, c := range conns {
		if c.IsReady() {
			return c, nil
		}
	}
	return nil, nil
}

func (r *Recipient) waitReady(ctx context.Context, conn *psm.Connection) (_ *psm.Connection, err error) {
	defer err2.Handle(&err)

	ready := bus.Expect(r.bus, func(ev psm.ConnectionStateChanged) bool {
		return ev.Connection.ID == conn.ID && ev.Connection.IsReady()
	})
	defer ready.Cancel()

	conn = try.To1(r.repos.Connections.GetByID(conn.ID))
	if conn.IsReady() {
		return conn, nil
	}
	ev, ok := ready.WaitEvent(ctx, utils.Settings.EventTimeout())
	if !ok {
		return nil, fmt.Errorf("%w: connection %s", ErrTimeout, conn.ID)
	}
	return &ev.Connection, nil
}

func (r *Recipient) startPickup() {
	if r.cfg.PickupStrategy == PickupNone {
		return
	}
	r.lk.Lock()
	defer r.lk.Unlock()

	if r.cron != nil {
		return
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	_, err := s.Every(r.cfg.PickupInterval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), utils.Settings.Timeout())
		defer cancel()
		if err := r.Pickup(ctx); err != nil {
			glog.Warningln("pickup:", err)
		}
	})
	if err != nil {
		glog.Errorln("pickup timer:", err)
		return
	}
	s.StartAsync()
	r.cron = s
	glog.V(1).Infoln("pickup every", r.cfg.PickupInterval, "with", r.cfg.PickupStrategy)
}

// Stop stops the pickup timer.
func (r *Recipient) Stop() {
	r.lk.Lock()
	defer r.lk.Unlock()

	if r.cron != nil {
		r.cron.Stop()
		r.cron = nil
	}
}

// Pickup asks the mediator for the queued messages once.
func (r *Recipient) Pickup(ctx context.Context) (err error) {
	defer err2.Handle(&err, "pickup")

	m := try.To1(defaultMediation(r.repos.Mediations))
	if m == nil || !m.IsReady() {
		return nil
	}
	conn := try.To1(r.repos.Connections.GetByID(m.ConnectionID))

	var msg didcomm.Message
	if r.cfg.PickupStrategy == PickupImplicit {
		msg = trustping.NewPing(false)
	} else {
		msg = pickup.NewBatchPickup(r.cfg.BatchSize)
	}
	out := comm.NewOutbound(msg, conn)
	out.ReturnRoute = true
	return r.sender.Send(ctx, out)
}

func (r *Recipient) handleGrant(_ context.Context, mc *comm.MessageContext) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "mediation grant")

	var g mediate.Grant
	try.To(mc.Decode(&g))
	m := try.To1(r.byThread(g.ThreadID()))
	try.To(m.AssertState(psm.MediationRequested))

	m.Endpoint = g.Endpoint
	m.RoutingKeys = m.RoutingKeys[:0]
	for _, k := range g.RoutingKeys {
		m.RoutingKeys = append(m.RoutingKeys, did.NormalizeKey(k))
	}
	try.To(psm.UpdateMediation(r.repos.Mediations, r.bus, m, psm.MediationGranted))
	return nil, nil
}

func (r *Recipient) handleDeny(_ context.Context, mc *comm.MessageContext) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "mediation deny")

	var d mediate.Deny
	try.To(mc.Decode(&d))
	m := try.To1(r.byThread(d.ThreadID()))
	try.To(m.AssertState(psm.MediationRequested))
	try.To(psm.UpdateMediation(r.repos.Mediations, r.bus, m, psm.MediationDenied))
	return nil, nil
}

func (r *Recipient) handleKeylistUpdateResponse(_ context.Context, mc *comm.MessageContext) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "keylist update response")

	conn := try.To1(mc.AssertReadyConnection())
	var resp mediate.KeylistUpdateResponse
	try.To(mc.Decode(&resp))
	m := try.To1(r.byConnection(conn.ID))

	keys := make([]string, 0, len(resp.Updated))
	for _, u := range resp.Updated {
		if u.Result != mediate.ResultSuccess && u.Result != mediate.ResultNoChange {
			glog.Warningln("keylist", u.Action, u.RecipientKey, u.Result)
			continue
		}
		key := did.NormalizeKey(u.RecipientKey)
		switch u.Action {
		case mediate.ActionAdd:
			m.AddKey(key)
		case mediate.ActionRemove:
			m.RemoveKey(key)
		}
		keys = append(keys, key)
	}
	try.To(r.repos.Mediations.Update(m))
	r.bus.Publish(psm.KeylistUpdated{
		Mediation: *m,
		ThreadID:  resp.ThreadID(),
		Keys:      keys,
	})
	return nil, nil
}

func (r *Recipient) handleKeylist(_ context.Context, mc *comm.MessageContext) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "keylist")

	conn := try.To1(mc.AssertReadyConnection())
	var l mediate.Keylist
	try.To(mc.Decode(&l))
	m := try.To1(r.byConnection(conn.ID))

	m.RecipientKeys = m.RecipientKeys[:0]
	for _, k := range l.Keys {
		m.AddKey(did.NormalizeKey(k.RecipientKey))
	}
	try.To(r.repos.Mediations.Update(m))
	return nil, nil
}

// handleBatch passes the picked up messages to the inbound as they had been
// received directly.
func (r *Recipient) handleBatch(ctx context.Context, mc *comm.MessageContext) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "batch")

	try.To1(mc.AssertReadyConnection())
	var b pickup.Batch
	try.To(mc.Decode(&b))

	glog.V(3).Infoln("picked up", len(b.Messages), "messages")
	for _, m := range b.Messages {
		r.inbound(ctx, m.Message, nil)
	}
	return nil, nil
}

func (r *Recipient) handleForward(ctx context.Context, mc *comm.MessageContext) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "forward")

	var fwd common.Forward
	try.To(mc.Decode(&fwd))
	r.inbound(ctx, fwd.Msg, nil)
	return nil, nil
}

func (r *Recipient) handleStatus(_ context.Context, mc *comm.MessageContext) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "pickup status")

	var s pickup.Status
	try.To(mc.Decode(&s))
	glog.V(3).Infoln("mediator has", s.MessageCount, "messages")
	return nil, nil
}

func (r *Recipient) byThread(thid string) (*psm.Mediation, error) {
	return r.repos.Mediations.GetSingleByQuery(storage.TagQuery(
		"threadId", thid, "role", string(psm.RoleRecipient)))
}

func (r *Recipient) byConnection(connID string) (*psm.Mediation, error) {
	return r.repos.Mediations.GetSingleByQuery(storage.TagQuery(
		"connectionId", connID, "role", string(psm.RoleRecipient)))
}
