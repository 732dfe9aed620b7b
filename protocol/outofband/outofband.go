/*
Package outofband is the Out-of-Band service. It creates and receives the
out-of-band invitations, negotiates the handshake protocol, reuses the
existing connections with the handshake-reuse messages and passes the
attached requests to the protocol services. The psm.OutOfBand record keeps
the invitation and its state.
*/
package outofband

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/findy-network/findy-didcomm/agent/bus"
	"github.com/findy-network/findy-didcomm/agent/comm"
	"github.com/findy-network/findy-didcomm/agent/didcomm"
	"github.com/findy-network/findy-didcomm/agent/psm"
	"github.com/findy-network/findy-didcomm/agent/storage"
	"github.com/findy-network/findy-didcomm/agent/utils"
	"github.com/findy-network/findy-didcomm/protocol/connection"
	"github.com/findy-network/findy-didcomm/std/did"
	"github.com/findy-network/findy-didcomm/std/outofband"
	"github.com/golang/glog"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

var (
	// ErrUnsupportedHandshakeProtocol is returned when none of the
	// invitation's handshake protocols is supported.
	ErrUnsupportedHandshakeProtocol = errors.New("unsupported handshake protocol")

	// ErrNoSupportedRequest is returned when the invitation has only
	// requests and none of them can be handled.
	ErrNoSupportedRequest = errors.New("no supported request in invitation")
)

// DefaultHandshakeProtocols are the supported handshake protocols in
// preference order.
var DefaultHandshakeProtocols = []psm.HandshakeProtocol{
	connection.ProtocolDIDExchange,
	connection.ProtocolConnections,
}

type Config struct {
	Label string

	// AutoAcceptInvitation accepts the received invitations at once.
	AutoAcceptInvitation bool

	// AutoAcceptConnection is the connection auto accept of the records.
	AutoAcceptConnection bool

	// PreferredHandshake is used if the invitation lists it.
	PreferredHandshake psm.HandshakeProtocol

	// HandshakeProtocols are the supported ones. Defaults to
	// DefaultHandshakeProtocols.
	HandshakeProtocols []psm.HandshakeProtocol

	// ReuseTimeout is the wait for the handshake-reuse-accepted. Defaults
	// to the event timeout of the settings.
	ReuseTimeout time.Duration
}

type Service struct {
	cfg        Config
	repos      *psm.Repos
	bus        *bus.Bus
	sender     *comm.Sender
	dispatcher *comm.Dispatcher
	conns      *connection.Service
	routing    psm.RoutingProvider

	sub *bus.Subscription
}

func New(
	cfg Config,
	repos *psm.Repos,
	b *bus.Bus,
	sender *comm.Sender,
	dispatcher *comm.Dispatcher,
	conns *connection.Service,
	routing psm.RoutingProvider,
) *Service {
	if len(cfg.HandshakeProtocols) == 0 {
		cfg.HandshakeProtocols = DefaultHandshakeProtocols
	}
	if cfg.ReuseTimeout == 0 {
		cfg.ReuseTimeout = utils.Settings.EventTimeout()
	}
	return &Service{
		cfg:        cfg,
		repos:      repos,
		bus:        b,
		sender:     sender,
		dispatcher: dispatcher,
		conns:      conns,
		routing:    routing,
	}
}

// Start follows the connections to finish the received invitations.
func (s *Service) Start() {
	s.sub = bus.Subscribe(s.bus, s.onConnection)
}

func (s *Service) Stop() {
	if s.sub != nil {
		s.sub.Cancel()
	}
}

func (s *Service) Processor() comm.ProtProc {
	return comm.ProtProc{
		Handlers: map[string]comm.HandlerFunc{
			outofband.HandshakeReuseType:         s.handleHandshakeReuse,
			outofband.HandshakeReuseAcceptedType: s.handleHandshakeReuseAccepted,
		},
	}
}

// CreateParams are the options of the new invitation.
type CreateParams struct {
	Label    string
	Alias    string
	GoalCode string
	Goal     string
	ImageURL string

	// Handshake adds the handshake protocols even if there are messages.
	// An invitation without messages always has them.
	Handshake          bool
	HandshakeProtocols []psm.HandshakeProtocol

	// Messages are attached as requests~attach.
	Messages    []didcomm.Message
	LegacyTypes bool

	MultiUse             bool
	AutoAcceptConnection *bool
	Routing              *psm.Routing
}

// CreateInvitation creates the invitation and its sender record which
// awaits the response. An invitation of only messages gets a complete
// connectionless connection for the replies.
func (s *Service) CreateInvitation(ctx context.Context, p CreateParams) (oob *psm.OutOfBand, err error) {
	defer err2.Handle(&err, "create oob invitation")

	handshake := p.Handshake || len(p.Messages) == 0
	if p.MultiUse && len(p.Messages) > 0 {
		return nil, psm.Validationf("multi use invitation can't have messages")
	}
	var protocols []string
	if handshake {
		hps := p.HandshakeProtocols
		if len(hps) == 0 {
			hps = s.cfg.HandshakeProtocols
		}
		for _, hp := range hps {
			if !s.supports(hp) {
				return nil, fmt.Errorf("%w: %s", ErrUnsupportedHandshakeProtocol, hp)
			}
			protocols = append(protocols, string(hp))
		}
	}

	r := p.Routing
	if r == nil {
		r = try.To1(s.routing.GetRouting(ctx))
	}
	label := p.Label
	if label == "" {
		label = s.cfg.Label
	}
	inv := try.To1(outofband.NewInvitation(outofband.Params{
		Label:              label,
		GoalCode:           p.GoalCode,
		Goal:               p.Goal,
		HandshakeProtocols: protocols,
		Requests:           p.Messages,
		LegacyTypes:        p.LegacyTypes,
		ImageURL:           p.ImageURL,
	}, r.Verkey, r.Endpoints, r.RoutingKeys))

	oob = psm.NewOutOfBand()
	oob.State = psm.OutOfBandAwaitResponse
	oob.Role = psm.RoleSender
	oob.Invitation = inv
	oob.Reusable = p.MultiUse
	oob.MediatorID = r.MediatorID
	oob.AutoAccept = p.AutoAcceptConnection
	try.To(psm.SaveOutOfBand(s.repos.OutOfBands, s.bus, oob))

	if !handshake {
		c := connectionless(oob, r)
		c.Role = psm.RoleInviter
		c.Alias = p.Alias
		try.To(psm.SaveConnection(s.repos.Connections, s.bus, c))
		glog.V(3).Infoln("connectionless", c.ID, "for invitation", inv.ID)
	}
	glog.V(1).Infoln("out-of-band invitation", inv.ID, "created")
	return oob, nil
}

// ReceiveParams are the options of the received invitation.
type ReceiveParams struct {
	Label string
	Alias string

	// AutoAcceptInvitation overrides the config.
	AutoAcceptInvitation *bool
	AutoAcceptConnection *bool

	// ReuseConnection uses the ready connection to the inviter if there
	// is one.
	ReuseConnection bool
	Routing         *psm.Routing
}

// ReceiveInvitation saves the invitation and accepts it if auto accept is
// on. The connection is nil if the invitation wasn't accepted, or it had
// only requests which didn't need one.
func (s *Service) ReceiveInvitation(
	ctx context.Context,
	inv *outofband.Invitation,
	p ReceiveParams,
) (oob *psm.OutOfBand, c *psm.Connection, err error) {
	defer err2.Handle(&err, "receive oob invitation")

	if err := inv.Validate(); err != nil {
		return nil, nil, psm.Validationf("invitation %s: %v", inv.ID, err)
	}
	if len(inv.RecipientKeys()) == 0 {
		return nil, nil, psm.Validationf("invitation %s: no resolvable recipient keys", inv.ID)
	}
	existing := try.To1(s.repos.OutOfBands.FindByQuery(storage.TagQuery(
		"invitationId", inv.ID)))
	if len(existing) > 0 {
		if existing[0].Role == psm.RoleSender {
			return nil, nil, psm.Validationf("invitation %s is our own", inv.ID)
		}
		return nil, nil, psm.Validationf("invitation %s already received", inv.ID)
	}

	oob = psm.NewOutOfBand()
	oob.State = psm.OutOfBandInitial
	oob.Role = psm.RoleReceiver
	oob.Invitation = inv
	oob.AutoAccept = p.AutoAcceptConnection
	try.To(psm.SaveOutOfBand(s.repos.OutOfBands, s.bus, oob))
	glog.V(1).Infoln("out-of-band invitation", inv.ID, "received")

	autoAccept := s.cfg.AutoAcceptInvitation
	if p.AutoAcceptInvitation != nil {
		autoAccept = *p.AutoAcceptInvitation
	}
	if !autoAccept {
		return oob, nil, nil
	}
	return s.AcceptInvitation(ctx, oob.ID, p)
}

// ReceiveInvitationFromURL parses the invitation URL, resolving the short
// URLs, and receives it.
func (s *Service) ReceiveInvitationFromURL(
	ctx context.Context,
	invitationURL string,
	p ReceiveParams,
) (oob *psm.OutOfBand, c *psm.Connection, err error) {
	defer err2.Handle(&err)

	inv := try.To1(ParseInvitationURL(ctx, invitationURL))
	return s.ReceiveInvitation(ctx, inv, p)
}

// AcceptInvitation accepts the received invitation. It starts the
// handshake or reuses the connection, and then handles the first supported
// request of the invitation.
func (s *Service) AcceptInvitation(
	ctx context.Context,
	oobID string,
	p ReceiveParams,
) (oob *psm.OutOfBand, c *psm.Connection, err error) {
	defer err2.Handle(&err, "accept oob invitation %s", oobID)

	oob = try.To1(s.repos.OutOfBands.GetByID(oobID))
	try.To(oob.AssertRole(psm.RoleReceiver))
	try.To(oob.AssertState(psm.OutOfBandInitial))
	inv := oob.Invitation

	var protocol psm.HandshakeProtocol
	if len(inv.HandshakeProtocols) > 0 {
		protocol = try.To1(s.negotiate(inv.HandshakeProtocols))
	}
	try.To(psm.UpdateOutOfBand(s.repos.OutOfBands, s.bus, oob, psm.OutOfBandPrepareResponse))

	if protocol == "" {
		c = connectionless(oob, try.To1(s.getRouting(ctx, p.Routing)))
		c.Role = psm.RoleInvitee
		c.Alias = p.Alias
		c.TheirLabel = inv.Label
		try.To(psm.SaveConnection(s.repos.Connections, s.bus, c))
		try.To(s.dispatchRequests(ctx, oob, c))
		return s.reload(oob, c)
	}

	if p.ReuseConnection {
		c = try.To1(s.findReadyConnection(inv))
	}
	if c != nil {
		if len(inv.Requests) > 0 {
			glog.V(3).Infoln("reusing connection", c.ID, "for requests")
			oob.ReuseConnectionID = c.ID
			try.To(psm.UpdateOutOfBand(s.repos.OutOfBands, s.bus, oob, psm.OutOfBandDone))
			try.To(s.dispatchRequests(ctx, oob, c))
			return s.reload(oob, c)
		}
		if s.handshakeReuse(ctx, oob, c) {
			return s.reload(oob, c)
		}
		glog.Warningln("handshake reuse failed, new connection for", inv.ID)
	}

	ready := bus.Expect(s.bus, func(ev psm.ConnectionStateChanged) bool {
		return ev.Connection.OutOfBandID == oob.ID && ev.Connection.IsReady()
	})
	defer ready.Cancel()

	c = try.To1(s.conns.RequestOutOfBand(ctx, oob, protocol, connection.InvitationParams{
		Label:      p.Label,
		Alias:      p.Alias,
		AutoAccept: p.AutoAcceptConnection,
		Routing:    p.Routing,
	}))
	if len(inv.Requests) == 0 {
		return s.reload(oob, c)
	}
	if !c.IsReady() {
		ev, ok := ready.WaitEvent(ctx, utils.Settings.EventTimeout())
		if !ok {
			return oob, c, fmt.Errorf("connection %s not ready for requests", c.ID)
		}
		c = &ev.Connection
	}
	try.To(s.dispatchRequests(ctx, oob, c))
	return s.reload(oob, c)
}

func (s *Service) GetByID(id string) (*psm.OutOfBand, error) {
	return s.repos.OutOfBands.GetByID(id)
}

func (s *Service) GetAll() ([]*psm.OutOfBand, error) {
	return s.repos.OutOfBands.GetAll()
}

// FindByInvitationID returns the record of the invitation and the role or
// nil.
func (s *Service) FindByInvitationID(invitationID string, role psm.OutOfBandRole) (*psm.OutOfBand, error) {
	return s.repos.OutOfBands.FindSingleByQuery(storage.TagQuery(
		"invitationId", invitationID, "role", string(role)))
}

func (s *Service) Delete(id string) error {
	return s.repos.OutOfBands.DeleteByID(id)
}

// negotiate selects the handshake protocol of the invitation's list: the
// preferred one if listed, else the first supported.
func (s *Service) negotiate(offered []string) (psm.HandshakeProtocol, error) {
	if pref := s.cfg.PreferredHandshake; pref != "" && s.supports(pref) {
		for _, o := range offered {
			if protocolOf(o) == pref {
				return pref, nil
			}
		}
	}
	for _, o := range offered {
		if hp := protocolOf(o); s.supports(hp) {
			return hp, nil
		}
	}
	return "", fmt.Errorf("%w: %v", ErrUnsupportedHandshakeProtocol, offered)
}

func (s *Service) supports(hp psm.HandshakeProtocol) bool {
	for _, p := range s.cfg.HandshakeProtocols {
		if p == hp {
			return true
		}
	}
	return false
}

// protocolOf normalizes the handshake protocol URI.
func protocolOf(uri string) psm.HandshakeProtocol {
	return psm.HandshakeProtocol(didcomm.FromLegacy(uri))
}

func (s *Service) getRouting(ctx context.Context, r *psm.Routing) (*psm.Routing, error) {
	if r != nil {
		return r, nil
	}
	return s.routing.GetRouting(ctx)
}

// findReadyConnection returns our ready connection to any of the
// invitation's keys or nil.
func (s *Service) findReadyConnection(inv *outofband.Invitation) (c *psm.Connection, err error) {
	defer err2.Handle(&err)

	for _, key := range inv.RecipientKeys() {
		conns := try.To1(s.conns.FindByInvitationKey(key))
		for _, c := range conns {
			if c.IsReady() && !c.Connectionless {
				return c, nil
			}
		}
	}
	return nil, nil
}

// dispatchRequests handles the first request of the invitation which has
// a handler as if it was received over the connection.
func (s *Service) dispatchRequests(ctx context.Context, oob *psm.OutOfBand, c *psm.Connection) (err error) {
	defer err2.Handle(&err, "invitation requests")

	msgs := try.To1(oob.Invitation.RequestMessages())
	for _, data := range msgs {
		hdr, err := didcomm.PeekHeader(data)
		if err != nil {
			glog.Warningln("invitation", oob.Invitation.ID, "request:", err)
			continue
		}
		if !s.dispatcher.Handles(hdr.Type) {
			glog.V(3).Infoln("skipping unsupported request", hdr.Type)
			continue
		}
		mc := &comm.MessageContext{
			Header:       hdr,
			Message:      data,
			SenderKey:    c.TheirKey(),
			RecipientKey: c.Verkey,
			Connection:   c,
		}
		return s.dispatcher.Dispatch(ctx, mc)
	}
	if len(msgs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNoSupportedRequest, oob.Invitation.ID)
}

// reload returns the current versions of the records. The nested message
// handling may have updated them already.
func (s *Service) reload(oob *psm.OutOfBand, c *psm.Connection) (_ *psm.OutOfBand, _ *psm.Connection, err error) {
	defer err2.Handle(&err)

	oob = try.To1(s.repos.OutOfBands.GetByID(oob.ID))
	if c != nil {
		c = try.To1(s.repos.Connections.GetByID(c.ID))
	}
	return oob, c, nil
}

// onConnection finishes the received invitation when its connection is
// complete.
func (s *Service) onConnection(ev psm.ConnectionStateChanged) {
	defer err2.Catch(err2.Err(func(err error) {
		glog.Warningln("out-of-band connection event:", err)
	}))

	c := ev.Connection
	if c.State != psm.ConnectionComplete || c.OutOfBandID == "" ||
		c.Role != psm.RoleInvitee || c.Connectionless {
		return
	}
	oob := try.To1(s.repos.OutOfBands.FindByID(c.OutOfBandID))
	if oob == nil || oob.Role != psm.RoleReceiver || oob.State == psm.OutOfBandDone {
		return
	}
	try.To(psm.UpdateOutOfBand(s.repos.OutOfBands, s.bus, oob, psm.OutOfBandDone))
}

// connectionless returns the complete connection for the requests of the
// invitation. The receiver knows the other end from the invitation, and the
// sender learns it from the first message.
func connectionless(oob *psm.OutOfBand, r *psm.Routing) *psm.Connection {
	c := psm.NewConnection()
	c.State = psm.ConnectionComplete
	c.Connectionless = true
	c.OutOfBandID = oob.ID
	c.DID = r.DID
	if c.DID == "" {
		c.DID, _ = did.LegacyDID(r.Verkey)
	}
	c.Verkey = r.Verkey
	c.DIDDoc = did.NewDoc(c.DID, r.Verkey, r.Endpoints, r.RoutingKeys)
	c.MediatorID = r.MediatorID
	if oob.Role == psm.RoleSender {
		return c
	}
	svcs := oob.Invitation.DIDCommServices()
	keys := oob.Invitation.RecipientKeys()
	c.InvitationKey = keys[0]
	theirDID, err := did.LegacyDID(keys[0])
	if err != nil {
		theirDID = keys[0]
	}
	endpoints := make([]string, 0, len(svcs))
	var routingKeys []string
	for _, svc := range svcs {
		endpoints = append(endpoints, svc.ServiceEndpoint)
		routingKeys = svc.RoutingKeys
	}
	c.TheirDID = theirDID
	c.TheirDIDDoc = did.NewDoc(theirDID, keys[0], endpoints, routingKeys)
	return c
}
