/*
Package presentproof is the proof exchange service of the present proof
protocols v1 and v2. The verifier requests and verifies, the prover proposes,
selects its credentials and presents the proof. The proofs are made and
verified by the vc.Engine with the ledger objects fetched concurrently.
*/
package presentproof

import (
	"context"
	"errors"
	"fmt"

	"github.com/findy-network/findy-didcomm/agent/bus"
	"github.com/findy-network/findy-didcomm/agent/comm"
	"github.com/findy-network/findy-didcomm/agent/didcomm"
	"github.com/findy-network/findy-didcomm/agent/psm"
	"github.com/findy-network/findy-didcomm/agent/storage"
	"github.com/findy-network/findy-didcomm/agent/vc"
	"github.com/findy-network/findy-didcomm/std/common"
	v1 "github.com/findy-network/findy-didcomm/std/presentproof/v1"
	v2 "github.com/findy-network/findy-didcomm/std/presentproof/v2"
	"github.com/golang/glog"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

// ErrNoCredentials is returned when a requested attribute or predicate has
// no usable credential.
var ErrNoCredentials = errors.New("no credentials for proof request")

type Config struct {
	// AutoAccept is the agent default. The exchange's own policy wins.
	AutoAccept psm.AutoAccept

	// IgnoreRevocation lets the credential selection use revoked
	// credentials.
	IgnoreRevocation bool
}

type Service struct {
	cfg    Config
	repos  *psm.Repos
	bus    *bus.Bus
	sender *comm.Sender
	engine vc.Engine
	ledger vc.Ledger
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
	}
}

// Processor returns the handlers of both protocol versions.
func (s *Service) Processor() comm.ProtProc {
	return comm.ProtProc{
		Handlers: map[string]comm.HandlerFunc{
			v1.ProposeType:       s.handlePropose,
			v1.RequestType:       s.handleRequest,
			v1.PresentationType:  s.handlePresentation,
			v1.AckType:           s.handleAck,
			v1.ProblemReportType: s.handleProblemReport,
			v2.ProposeType:       s.handlePropose,
			v2.RequestType:       s.handleRequest,
			v2.PresentationType:  s.handlePresentation,
			v2.AckType:           s.handleAck,
			v2.ProblemReportType: s.handleProblemReport,
		},
	}
}

func (s *Service) GetByID(id string) (*psm.ProofExchange, error) {
	return s.repos.ProofExchanges.GetByID(id)
}

func (s *Service) GetAll() ([]*psm.ProofExchange, error) {
	return s.repos.ProofExchanges.GetAll()
}

// FindByThreadID returns the exchange of the thread or nil.
func (s *Service) FindByThreadID(thid string) (*psm.ProofExchange, error) {
	return s.repos.ProofExchanges.FindSingleByQuery(storage.TagQuery("threadId", thid))
}

// Delete removes the exchange and its messages.
func (s *Service) Delete(id string) (err error) {
	defer err2.Handle(&err, "delete proof exchange %s", id)

	msgs := try.To1(s.repos.Messages.FindByQuery(storage.TagQuery("associatedRecordId", id)))
	for _, m := range msgs {
		try.To(s.repos.Messages.Delete(m))
	}
	return s.repos.ProofExchanges.DeleteByID(id)
}

// SendProblemReport abandons the exchange on the other side. Our own record
// is not changed.
func (s *Service) SendProblemReport(ctx context.Context, id, text string) (err error) {
	defer err2.Handle(&err, "proof problem report")

	rec := try.To1(s.repos.ProofExchanges.GetByID(id))
	conn := try.To1(s.connection(rec))
	pr := common.NewProblemReport(problemReportType(rec.ProtocolVersion),
		rec.ThreadID, common.ProblemCodeAbandoned, text)
	return s.sender.Send(ctx, comm.NewOutbound(pr, conn))
}

func (s *Service) handleProblemReport(_ context.Context, mc *comm.MessageContext) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "proof problem report")

	var pr common.ProblemReport
	try.To(mc.Decode(&pr))
	rec := try.To1(s.repos.ProofExchanges.GetSingleByQuery(
		storage.TagQuery("threadId", mc.ThreadID())))
	try.To(assertConnection(rec.ConnectionID, mc))

	rec.ErrorMessage = pr.Text()
	try.To(s.update(rec, psm.ProofAbandoned))
	glog.Warningln("proof exchange", rec.ID, "abandoned:", rec.ErrorMessage)

	s.bus.Publish(psm.ProblemReportReceived{
		ConnectionID: rec.ConnectionID,
		ThreadID:     rec.ThreadID,
		RecordID:     rec.ID,
		Report:       pr,
	})
	return nil, nil
}

func (s *Service) update(rec *psm.ProofExchange, next psm.ProofState) error {
	return psm.UpdateProofExchange(s.repos.ProofExchanges, s.bus, rec, next)
}

func (s *Service) save(rec *psm.ProofExchange) error {
	return psm.SaveProofExchange(s.repos.ProofExchanges, s.bus, rec)
}

func (s *Service) byThread(thid string, role psm.ExchangeRole) (*psm.ProofExchange, error) {
	return s.repos.ProofExchanges.GetSingleByQuery(storage.TagQuery(
		"threadId", thid, "role", string(role)))
}

func (s *Service) findByThread(thid string, role psm.ExchangeRole) (*psm.ProofExchange, error) {
	return s.repos.ProofExchanges.FindSingleByQuery(storage.TagQuery(
		"threadId", thid, "role", string(role)))
}

func (s *Service) connection(rec *psm.ProofExchange) (c *psm.Connection, err error) {
	defer err2.Handle(&err)

	if rec.ConnectionID == "" {
		return nil, fmt.Errorf("proof exchange %s: %w", rec.ID, comm.ErrNoConnection)
	}
	c = try.To1(s.repos.Connections.GetByID(rec.ConnectionID))
	try.To(c.AssertReady())
	return c, nil
}

func (s *Service) saveMessage(m didcomm.Message, role psm.MessageRole, rec *psm.ProofExchange) error {
	return s.repos.Messages.SaveOrUpdateAgentMessage(m, role, rec.ID)
}

func (s *Service) autoAccept(rec *psm.ProofExchange) psm.AutoAccept {
	return rec.AutoAccept.Resolve(s.cfg.AutoAccept)
}

// assertConnection checks that the message came over the connection of the
// exchange. The connectionless exchanges accept any.
func assertConnection(connID string, mc *comm.MessageContext) error {
	if connID == "" || mc.Connection == nil || mc.Connection.ID == connID {
		return nil
	}
	return psm.Validationf("message %s is not from connection %s", mc.Header.ID, connID)
}
