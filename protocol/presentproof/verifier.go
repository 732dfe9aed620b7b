package presentproof

import (
	"context"
	"encoding/json"

	"github.com/findy-network/findy-didcomm/agent/comm"
	"github.com/findy-network/findy-didcomm/agent/didcomm"
	"github.com/findy-network/findy-didcomm/agent/psm"
	"github.com/findy-network/findy-didcomm/agent/vc"
	"github.com/findy-network/findy-didcomm/std/common"
	"github.com/findy-network/findy-didcomm/std/presentproof"
	"github.com/golang/glog"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

// RequestParams are for the proof request. Either ProofRequest or Preview
// must be given.
type RequestParams struct {
	ConnectionID    string
	Comment         string
	ProofRequest    *vc.ProofRequest
	Preview         *presentproof.Preview
	ProtocolVersion psm.ProtocolVersion
	AutoAccept      psm.AutoAccept
}

type AcceptProposalParams struct {
	Comment string
	// ProofRequest replaces the proposed one when given.
	ProofRequest *vc.ProofRequest
}

// RequestProof sends the proof request over the connection.
func (s *Service) RequestProof(ctx context.Context, p RequestParams) (rec *psm.ProofExchange, err error) {
	defer err2.Handle(&err, "request proof")

	if p.ConnectionID == "" {
		return nil, psm.Validationf("connection is required")
	}
	conn := try.To1(s.repos.Connections.GetByID(p.ConnectionID))
	try.To(conn.AssertReady())
	rec, msg := try.To2(s.CreateRequest(ctx, p))
	try.To(s.sender.Send(ctx, comm.NewOutbound(msg, conn)))
	return rec, nil
}

// CreateRequest creates the request without sending it. The connection is
// optional: the connectionless request travels in an out-of-band invitation
// and the exchange is bound to the connection of the presentation.
func (s *Service) CreateRequest(_ context.Context, p RequestParams) (rec *psm.ProofExchange, _ didcomm.Message, err error) {
	defer err2.Handle(&err, "create proof request")

	var req *vc.ProofRequest
	switch {
	case p.ProofRequest != nil:
		req = withDefaults(p.ProofRequest)
	case p.Preview != nil:
		req = newProofRequest(p.Preview)
	default:
		return nil, nil, psm.Validationf("proof request or preview is required")
	}
	v := p.ProtocolVersion
	if v == "" {
		v = psm.V1
	}
	msg := try.To1(newRequest(v, p.Comment, req))

	rec = psm.NewProofExchange()
	rec.State = psm.ProofRequestSent
	rec.Role = psm.RoleVerifier
	rec.ProtocolVersion = v
	rec.ThreadID = msg.Hdr().ThreadID()
	rec.ConnectionID = p.ConnectionID
	rec.AutoAccept = p.AutoAccept
	try.To(s.save(rec))
	try.To(s.saveMessage(msg, psm.MessageSender, rec))
	return rec, msg, nil
}

// AcceptProposal answers the proposal with the proof request.
func (s *Service) AcceptProposal(ctx context.Context, id string, p AcceptProposalParams) (rec *psm.ProofExchange, err error) {
	defer err2.Handle(&err, "accept proof proposal")

	rec = try.To1(s.repos.ProofExchanges.GetByID(id))
	out := try.To1(s.requestForProposal(rec, p))
	try.To(s.sender.Send(ctx, out))
	return rec, nil
}

// AcceptPresentation acks the received presentation whether it was
// verified or not.
func (s *Service) AcceptPresentation(ctx context.Context, id string) (rec *psm.ProofExchange, err error) {
	defer err2.Handle(&err, "accept presentation")

	rec = try.To1(s.repos.ProofExchanges.GetByID(id))
	out := try.To1(s.ack(rec))
	try.To(s.sender.Send(ctx, out))
	return rec, nil
}

func (s *Service) handlePropose(_ context.Context, mc *comm.MessageContext) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "proof propose")

	v := try.To1(versionOf(mc.Header.Type))
	conn := try.To1(mc.AssertReadyConnection())
	msg, _ := try.To2(decodePropose(v, mc.Message))

	rec := try.To1(s.findByThread(mc.ThreadID(), psm.RoleVerifier))
	if rec == nil {
		rec = psm.NewProofExchange()
		rec.State = psm.ProofProposalReceived
		rec.Role = psm.RoleVerifier
		rec.ProtocolVersion = v
		rec.ThreadID = mc.ThreadID()
		rec.ParentThreadID = mc.Header.ParentThreadID()
		rec.ConnectionID = conn.ID
		try.To(s.save(rec))
		try.To(s.saveMessage(msg, psm.MessageReceiver, rec))
	} else {
		// counter proposal to our request
		try.To(assertConnection(rec.ConnectionID, mc))
		try.To(rec.AssertState(psm.ProofRequestSent))
		try.To(rec.AssertVersion(v))
		try.To(s.saveMessage(msg, psm.MessageReceiver, rec))
		try.To(s.update(rec, psm.ProofProposalReceived))
	}

	if s.autoAccept(rec) != psm.AutoAcceptAlways {
		glog.V(3).Infoln("proof proposal", rec.ID, "waits for user")
		return nil, nil
	}
	return s.requestForProposal(rec, AcceptProposalParams{})
}

func (s *Service) requestForProposal(rec *psm.ProofExchange, p AcceptProposalParams) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "proof request for proposal")

	try.To(rec.AssertRole(psm.RoleVerifier))
	try.To(rec.AssertState(psm.ProofProposalReceived))
	conn := try.To1(s.connection(rec))

	req := p.ProofRequest
	if req == nil {
		proposal := try.To1(s.findProposal(rec))
		if proposal == nil {
			return nil, psm.Validationf("proof exchange %s has no proposal", rec.ID)
		}
		req = proposal.Request
	}
	msg := try.To1(newRequest(rec.ProtocolVersion, p.Comment, withDefaults(req)))
	msg.Hdr().SetThread(rec.ThreadID, rec.ParentThreadID)

	try.To(s.saveMessage(msg, psm.MessageSender, rec))
	try.To(s.update(rec, psm.ProofRequestSent))
	return comm.NewOutbound(msg, conn), nil
}

func (s *Service) handlePresentation(ctx context.Context, mc *comm.MessageContext) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "presentation")

	v := try.To1(versionOf(mc.Header.Type))
	msg, proof := try.To2(decodePresentation(v, mc.Message))

	rec := try.To1(s.byThread(mc.ThreadID(), psm.RoleVerifier))
	try.To(assertConnection(rec.ConnectionID, mc))
	try.To(rec.AssertState(psm.ProofRequestSent))
	try.To(rec.AssertVersion(v))
	if rec.ConnectionID == "" {
		conn := try.To1(mc.AssertReadyConnection())
		rec.ConnectionID = conn.ID
	}
	req := try.To1(s.loadRequest(rec))
	verified := s.verify(ctx, req, proof)
	glog.V(1).Infoln("proof exchange", rec.ID, "verified:", verified)

	rec.IsVerified = &verified
	try.To(s.saveMessage(msg, psm.MessageReceiver, rec))
	try.To(s.update(rec, psm.ProofPresentationReceived))

	switch s.autoAccept(rec) {
	case psm.AutoAcceptAlways:
	case psm.AutoAcceptContentApproved:
		if !verified {
			return nil, nil
		}
	default:
		glog.V(3).Infoln("presentation", rec.ID, "waits for user")
		return nil, nil
	}
	return s.ack(rec)
}

// verify tells if the proof is valid for the request. All the errors make
// the proof invalid.
func (s *Service) verify(ctx context.Context, req *vc.ProofRequest, proof json.RawMessage) bool {
	ids, err := vc.ProofIdentifiers(proof)
	if err != nil {
		glog.Warningln("proof identifiers:", err)
		return false
	}
	refs := make([]ledgerRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, ledgerRef(id))
	}
	o, err := s.fetchLedgerObjects(ctx, refs, true)
	if err != nil {
		glog.Warningln("proof ledger objects:", err)
		return false
	}
	ok, err := s.engine.VerifyProof(ctx, vc.VerifyProofParams{
		ProofRequest:   req,
		Proof:          proof,
		Schemas:        o.schemas,
		CredentialDefs: o.credDefs,
		RevRegDefs:     o.revRegDefs,
		RevStatusLists: o.statusLists,
	})
	if err != nil {
		glog.Warningln("verify proof:", err)
		return false
	}
	return ok
}

func (s *Service) ack(rec *psm.ProofExchange) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "presentation ack")

	try.To(rec.AssertRole(psm.RoleVerifier))
	try.To(rec.AssertState(psm.ProofPresentationReceived))
	conn := try.To1(s.connection(rec))
	ack := common.NewAck(ackType(rec.ProtocolVersion), rec.ThreadID)
	try.To(s.update(rec, psm.ProofDone))
	return comm.NewOutbound(ack, conn), nil
}
