/*
Package connection is the Connection and DID-Exchange service. Both handshake
protocols share the psm.Connection record and its state machine: invited,
requested, responded and complete. The legacy connections/1.0 protocol
exchanges DID documents signed with the invitation key, and didexchange/1.0
exchanges did:peer:2 DIDs with a JWS signed DID rotation.
*/
package connection

import (
	"context"
	"errors"

	"github.com/findy-network/findy-didcomm/agent/bus"
	"github.com/findy-network/findy-didcomm/agent/comm"
	"github.com/findy-network/findy-didcomm/agent/psm"
	"github.com/findy-network/findy-didcomm/agent/sec"
	"github.com/findy-network/findy-didcomm/agent/storage"
	"github.com/findy-network/findy-didcomm/std/common"
	stdcon "github.com/findy-network/findy-didcomm/std/connection"
	"github.com/findy-network/findy-didcomm/std/did"
	"github.com/findy-network/findy-didcomm/std/didexchange"
	"github.com/findy-network/findy-didcomm/std/trustping"
	"github.com/golang/glog"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

// The handshake protocols this service implements.
const (
	ProtocolConnections = psm.HandshakeProtocol(stdcon.Protocol)
	ProtocolDIDExchange = psm.HandshakeProtocol(didexchange.Protocol)
)

// ErrSignature is returned when the response isn't signed by the invitation
// key.
var ErrSignature = errors.New("response not signed by invitation key")

type Config struct {
	Label      string
	AutoAccept bool
}

type Service struct {
	cfg     Config
	repos   *psm.Repos
	bus     *bus.Bus
	store   sec.Store
	sender  *comm.Sender
	routing psm.RoutingProvider
}

func New(
	cfg Config,
	repos *psm.Repos,
	b *bus.Bus,
	store sec.Store,
	sender *comm.Sender,
	routing psm.RoutingProvider,
) *Service {
	return &Service{
		cfg:     cfg,
		repos:   repos,
		bus:     b,
		store:   store,
		sender:  sender,
		routing: routing,
	}
}

// Processor returns the message handlers of the service.
func (s *Service) Processor() comm.ProtProc {
	return comm.ProtProc{
		Handlers: map[string]comm.HandlerFunc{
			stdcon.RequestType:            s.handleRequest,
			stdcon.ResponseType:           s.handleResponse,
			stdcon.ProblemReportType:      s.handleProblemReport,
			didexchange.RequestType:       s.handleDIDExchangeRequest,
			didexchange.ResponseType:      s.handleDIDExchangeResponse,
			didexchange.CompleteType:      s.handleComplete,
			didexchange.ProblemReportType: s.handleProblemReport,
			trustping.PingType:            s.handlePing,
			trustping.PingResponseType:    s.handlePingResponse,
			common.AckType:                s.handleAck,
		},
	}
}

// InvitationParams are the options of the new connection or its invitation.
// Routing is allocated if not given.
type InvitationParams struct {
	Label      string
	Alias      string
	MultiUse   bool
	AutoAccept *bool
	Routing    *psm.Routing
}

func (s *Service) GetByID(id string) (*psm.Connection, error) {
	return s.repos.Connections.GetByID(id)
}

func (s *Service) GetAll() ([]*psm.Connection, error) {
	return s.repos.Connections.GetAll()
}

// FindByKeys returns the connection of our and their verkey or nil.
func (s *Service) FindByKeys(ourKey, theirKey string) (*psm.Connection, error) {
	return s.repos.Connections.FindSingleByQuery(storage.TagQuery(
		"verkey", ourKey, "theirKey", theirKey))
}

// FindByInvitationKey returns the ready connections to the invitation key of
// the other agent.
func (s *Service) FindByInvitationKey(key string) ([]*psm.Connection, error) {
	return s.repos.Connections.FindByQuery(storage.TagQuery(
		"invitationKey", key, "role", string(psm.RoleInvitee)))
}

// FindByOutOfBandID returns the connections made with the invitation.
func (s *Service) FindByOutOfBandID(oobID string) ([]*psm.Connection, error) {
	return s.repos.Connections.FindByQuery(storage.TagQuery("outOfBandId", oobID))
}

// Delete removes the connection.
func (s *Service) Delete(id string) error {
	return s.repos.Connections.DeleteByID(id)
}

func (s *Service) autoAccept(c *psm.Connection) bool {
	if c.AutoAccept != nil {
		return *c.AutoAccept
	}
	return s.cfg.AutoAccept
}

func (s *Service) label(l string) string {
	if l != "" {
		return l
	}
	return s.cfg.Label
}

func (s *Service) getRouting(ctx context.Context, r *psm.Routing) (*psm.Routing, error) {
	if r != nil {
		return r, nil
	}
	return s.routing.GetRouting(ctx)
}

// legacyDIDFor sets the own legacy DID and DID document of the routing.
func legacyDIDFor(c *psm.Connection, r *psm.Routing) (err error) {
	defer err2.Handle(&err)

	c.DID = r.DID
	if c.DID == "" {
		c.DID = try.To1(did.LegacyDID(r.Verkey))
	}
	c.Verkey = r.Verkey
	c.DIDDoc = did.NewDoc(c.DID, r.Verkey, r.Endpoints, r.RoutingKeys)
	c.MediatorID = r.MediatorID
	return nil
}

// peerDIDFor sets the own did:peer:2 DID of the routing.
func peerDIDFor(c *psm.Connection, r *psm.Routing) (err error) {
	defer err2.Handle(&err)

	c.DID = try.To1(did.NewPeerDID2(r.Verkey, r.Endpoints, r.RoutingKeys))
	c.DIDDoc = try.To1(did.ResolvePeerDID2(c.DID))
	c.Verkey = r.Verkey
	c.MediatorID = r.MediatorID
	return nil
}

// update moves the connection to the next state. The single use invitation
// of the inviter is done only when the connection is complete.
func (s *Service) update(c *psm.Connection, next psm.ConnectionState) error {
	if err := psm.UpdateConnection(s.repos.Connections, s.bus, c, next); err != nil {
		return err
	}
	if next == psm.ConnectionComplete {
		return s.outOfBandUsed(c)
	}
	return nil
}

func (s *Service) byThread(thid string, role psm.ConnectionRole) (*psm.Connection, error) {
	return s.repos.Connections.GetSingleByQuery(storage.TagQuery(
		"threadId", thid, "role", string(role)))
}

// handleProblemReport abandons the connection of the thread.
func (s *Service) handleProblemReport(_ context.Context, mc *comm.MessageContext) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "connection problem report")

	var pr common.ProblemReport
	try.To(mc.Decode(&pr))

	c := try.To1(s.repos.Connections.GetSingleByQuery(storage.TagQuery(
		"threadId", mc.ThreadID())))
	c.ErrorMessage = pr.Text()
	try.To(s.update(c, psm.ConnectionAbandoned))
	glog.Warningln("connection", c.ID, "abandoned:", c.ErrorMessage)

	s.bus.Publish(psm.ProblemReportReceived{
		ConnectionID: c.ID,
		ThreadID:     mc.ThreadID(),
		RecordID:     c.ID,
		Report:       pr,
	})
	return nil, nil
}
