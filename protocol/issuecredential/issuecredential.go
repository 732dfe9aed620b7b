/*
Package issuecredential is the credential exchange service of the issue
credential protocols v1 and v2. Both roles share the psm.CredentialExchange
record: the issuer offers and issues, the holder proposes, requests and
stores the credential. The credential payloads are made by the vc.Engine and
they travel as opaque attachments. Every protocol message is stored to the
message repository because the later steps need the earlier payloads.
*/
package issuecredential

import (
	"context"
	"fmt"
	"sync"

	"github.com/findy-network/findy-didcomm/agent/bus"
	"github.com/findy-network/findy-didcomm/agent/comm"
	"github.com/findy-network/findy-didcomm/agent/didcomm"
	"github.com/findy-network/findy-didcomm/agent/psm"
	"github.com/findy-network/findy-didcomm/agent/storage"
	"github.com/findy-network/findy-didcomm/agent/vc"
	"github.com/findy-network/findy-didcomm/std/common"
	v1 "github.com/findy-network/findy-didcomm/std/issuecredential/v1"
	v2 "github.com/findy-network/findy-didcomm/std/issuecredential/v2"
	"github.com/golang/glog"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

type Config struct {
	// AutoAccept is the agent default. The exchange's own policy wins.
	AutoAccept psm.AutoAccept
}

type Service struct {
	cfg    Config
	repos  *psm.Repos
	bus    *bus.Bus
	sender *comm.Sender
	engine vc.Engine
	ledger vc.Ledger

	lk    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(
	cfg Config,
	repos *psm.Repos,
	b *bus.Bus,
	sender *comm.Sender,
	engine vc.Engine,
	ledger vc.Ledger,
) *Service {
	return &Service{
		cfg:    cfg,
		repos:  repos,
		bus:    b,
		sender: sender,
		engine: engine,
		ledger: ledger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Processor returns the handlers of both protocol versions.
func (s *Service) Processor() comm.ProtProc {
	return comm.ProtProc{
		Handlers: map[string]comm.HandlerFunc{
			v1.ProposeType:       s.handlePropose,
			v1.OfferType:         s.handleOffer,
			v1.RequestType:       s.handleRequest,
			v1.IssueType:         s.handleIssue,
			v1.AckType:           s.handleAck,
			v1.ProblemReportType: s.handleProblemReport,
			v2.ProposeType:       s.handlePropose,
			v2.OfferType:         s.handleOffer,
			v2.RequestType:       s.handleRequest,
			v2.IssueType:         s.handleIssue,
			v2.AckType:           s.handleAck,
			v2.ProblemReportType: s.handleProblemReport,
		},
	}
}

func (s *Service) GetByID(id string) (*psm.CredentialExchange, error) {
	return s.repos.CredentialExchanges.GetByID(id)
}

func (s *Service) GetAll() ([]*psm.CredentialExchange, error) {
	return s.repos.CredentialExchanges.GetAll()
}

// FindByThreadID returns the exchange of the thread or nil.
func (s *Service) FindByThreadID(thid string) (*psm.CredentialExchange, error) {
	return s.repos.CredentialExchanges.FindSingleByQuery(storage.TagQuery("threadId", thid))
}

// Delete removes the exchange and its messages.
func (s *Service) Delete(id string) (err error) {
	defer err2.Handle(&err, "delete credential exchange %s", id)

	msgs := try.To1(s.repos.Messages.FindByQuery(storage.TagQuery("associatedRecordId", id)))
	for _, m := range msgs {
		try.To(s.repos.Messages.Delete(m))
	}
	return s.repos.CredentialExchanges.DeleteByID(id)
}

// SendProblemReport abandons the exchange on the other side. Our own record
// is not changed.
func (s *Service) SendProblemReport(ctx context.Context, id, text string) (err error) {
	defer err2.Handle(&err, "credential problem report")

	rec := try.To1(s.repos.CredentialExchanges.GetByID(id))
	conn := try.To1(s.connection(rec))
	pr := common.NewProblemReport(problemReportType(rec.ProtocolVersion),
		rec.ThreadID, common.ProblemCodeIssuanceAbandoned, text)
	return s.sender.Send(ctx, comm.NewOutbound(pr, conn))
}

func (s *Service) handleProblemReport(_ context.Context, mc *comm.MessageContext) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "credential problem report")

	var pr common.ProblemReport
	try.To(mc.Decode(&pr))
	rec := try.To1(s.repos.CredentialExchanges.GetSingleByQuery(
		storage.TagQuery("threadId", mc.ThreadID())))
	try.To(assertConnection(rec.ConnectionID, mc))

	rec.ErrorMessage = pr.Text()
	try.To(s.update(rec, psm.CredentialAbandoned))
	glog.Warningln("credential exchange", rec.ID, "abandoned:", rec.ErrorMessage)

	s.bus.Publish(psm.ProblemReportReceived{
		ConnectionID: rec.ConnectionID,
		ThreadID:     rec.ThreadID,
		RecordID:     rec.ID,
		Report:       pr,
	})
	return nil, nil
}

func (s *Service) update(rec *psm.CredentialExchange, next psm.CredentialState) error {
	return psm.UpdateCredentialExchange(s.repos.CredentialExchanges, s.bus, rec, next)
}

func (s *Service) save(rec *psm.CredentialExchange) error {
	return psm.SaveCredentialExchange(s.repos.CredentialExchanges, s.bus, rec)
}

func (s *Service) byThread(thid string, role psm.ExchangeRole) (*psm.CredentialExchange, error) {
	return s.repos.CredentialExchanges.GetSingleByQuery(storage.TagQuery(
		"threadId", thid, "role", string(role)))
}

func (s *Service) findByThread(thid string, role psm.ExchangeRole) (*psm.CredentialExchange, error) {
	return s.repos.CredentialExchanges.FindSingleByQuery(storage.TagQuery(
		"threadId", thid, "role", string(role)))
}

func (s *Service) connection(rec *psm.CredentialExchange) (c *psm.Connection, err error) {
	defer err2.Handle(&err)

	if rec.ConnectionID == "" {
		return nil, fmt.Errorf("credential exchange %s: %w", rec.ID, comm.ErrNoConnection)
	}
	c = try.To1(s.repos.Connections.GetByID(rec.ConnectionID))
	try.To(c.AssertReady())
	return c, nil
}

// saveMessage stores the message of the exchange.
func (s *Service) saveMessage(m didcomm.Message, role psm.MessageRole, rec *psm.CredentialExchange) error {
	return s.repos.Messages.SaveOrUpdateAgentMessage(m, role, rec.ID)
}

// autoAccept tells the policy of the exchange.
func (s *Service) autoAccept(rec *psm.CredentialExchange) psm.AutoAccept {
	return rec.AutoAccept.Resolve(s.cfg.AutoAccept)
}

// lock serializes the revocation index handling of the credential
// definition.
func (s *Service) lock(credDefID string) *sync.Mutex {
	s.lk.Lock()
	defer s.lk.Unlock()

	m, ok := s.locks[credDefID]
	if !ok {
		m = new(sync.Mutex)
		s.locks[credDefID] = m
	}
	return m
}

// assertConnection checks that the message came over the connection of the
// exchange. The connectionless exchanges accept any.
func assertConnection(connID string, mc *comm.MessageContext) error {
	if connID == "" || mc.Connection == nil || mc.Connection.ID == connID {
		return nil
	}
	return psm.Validationf("message %s is not from connection %s", mc.Header.ID, connID)
}

func sameValues(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
