package presentproof

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/findy-network/findy-didcomm/agent/comm"
	"github.com/findy-network/findy-didcomm/agent/psm"
	"github.com/findy-network/findy-didcomm/agent/storage"
	"github.com/findy-network/findy-didcomm/agent/vc"
	"github.com/findy-network/findy-didcomm/std/presentproof"
	"github.com/golang/glog"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

type ProposeParams struct {
	ConnectionID    string
	Comment         string
	Preview         *presentproof.Preview
	ProtocolVersion psm.ProtocolVersion
	AutoAccept      psm.AutoAccept
}

// Candidate is a stored credential matching a requested attribute or
// predicate. Revoked and Timestamp are resolved from the status list when
// the request asks for non-revocation.
type Candidate struct {
	Credential *psm.Credential
	Revoked    bool
	Timestamp  int64
}

// RetrievedCredentials are the candidates by the request referents.
type RetrievedCredentials struct {
	Attributes map[string][]Candidate
	Predicates map[string][]Candidate
}

// ProposeProof starts the exchange by proposing the presentation.
func (s *Service) ProposeProof(ctx context.Context, p ProposeParams) (rec *psm.ProofExchange, err error) {
	defer err2.Handle(&err, "propose proof")

	if p.Preview == nil {
		return nil, psm.Validationf("preview is required")
	}
	conn := try.To1(s.repos.Connections.GetByID(p.ConnectionID))
	try.To(conn.AssertReady())
	v := p.ProtocolVersion
	if v == "" {
		v = psm.V1
	}
	msg := try.To1(newPropose(v, p.Comment, p.Preview))

	rec = psm.NewProofExchange()
	rec.State = psm.ProofProposalSent
	rec.Role = psm.RoleProver
	rec.ProtocolVersion = v
	rec.ThreadID = msg.Hdr().ThreadID()
	rec.ConnectionID = conn.ID
	rec.AutoAccept = p.AutoAccept
	try.To(s.save(rec))
	try.To(s.saveMessage(msg, psm.MessageSender, rec))
	try.To(s.sender.Send(ctx, comm.NewOutbound(msg, conn)))
	return rec, nil
}

// AcceptRequest presents the proof with the selected credentials. Nil
// selection means automatic selection.
func (s *Service) AcceptRequest(ctx context.Context, id string, selected *vc.RequestedCredentials) (rec *psm.ProofExchange, err error) {
	defer err2.Handle(&err, "accept proof request")

	rec = try.To1(s.repos.ProofExchanges.GetByID(id))
	out := try.To1(s.present(ctx, rec, selected))
	try.To(s.sender.Send(ctx, out))
	return rec, nil
}

// DeclineRequest declines the request. The verifier learns about it only
// from the problem report.
func (s *Service) DeclineRequest(ctx context.Context, id string, sendProblemReport bool) (rec *psm.ProofExchange, err error) {
	defer err2.Handle(&err, "decline proof request")

	rec = try.To1(s.repos.ProofExchanges.GetByID(id))
	try.To(rec.AssertRole(psm.RoleProver))
	try.To(rec.AssertState(psm.ProofRequestReceived))
	try.To(s.update(rec, psm.ProofDeclined))
	if sendProblemReport {
		try.To(s.SendProblemReport(ctx, id, "request declined"))
	}
	return rec, nil
}

// GetRequestedCredentials returns the candidate credentials of the request
// of the exchange. Predicates are not evaluated: a candidate has the
// attribute but may fail the predicate in the proof.
func (s *Service) GetRequestedCredentials(ctx context.Context, id string) (_ *RetrievedCredentials, err error) {
	defer err2.Handle(&err, "requested credentials")

	rec := try.To1(s.repos.ProofExchanges.GetByID(id))
	try.To(rec.AssertRole(psm.RoleProver))
	req := try.To1(s.loadRequest(rec))
	return s.retrieve(ctx, req)
}

// AutoSelectCredentials selects the first usable candidate for every
// referent.
func (s *Service) AutoSelectCredentials(ctx context.Context, id string) (_ *vc.RequestedCredentials, err error) {
	defer err2.Handle(&err, "select credentials")

	rec := try.To1(s.repos.ProofExchanges.GetByID(id))
	try.To(rec.AssertRole(psm.RoleProver))
	req := try.To1(s.loadRequest(rec))
	return s.autoSelect(ctx, req)
}

func (s *Service) handleRequest(ctx context.Context, mc *comm.MessageContext) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "proof request")

	v := try.To1(versionOf(mc.Header.Type))
	conn := try.To1(mc.AssertReadyConnection())
	msg, req := try.To2(decodeRequest(v, mc.Message))

	rec := try.To1(s.findByThread(mc.ThreadID(), psm.RoleProver))
	if rec == nil {
		rec = psm.NewProofExchange()
		rec.State = psm.ProofRequestReceived
		rec.Role = psm.RoleProver
		rec.ProtocolVersion = v
		rec.ThreadID = mc.ThreadID()
		rec.ParentThreadID = mc.Header.ParentThreadID()
		rec.ConnectionID = conn.ID
		try.To(s.save(rec))
		try.To(s.saveMessage(msg, psm.MessageReceiver, rec))
	} else {
		try.To(assertConnection(rec.ConnectionID, mc))
		try.To(rec.AssertState(psm.ProofProposalSent))
		try.To(rec.AssertVersion(v))
		try.To(s.saveMessage(msg, psm.MessageReceiver, rec))
		try.To(s.update(rec, psm.ProofRequestReceived))
	}

	if !s.acceptsRequest(rec, req) {
		glog.V(3).Infoln("proof request", rec.ID, "waits for user")
		return nil, nil
	}
	return s.present(ctx, rec, nil)
}

// acceptsRequest tells if the request can be presented without the user.
// The approved request asks only what we proposed.
func (s *Service) acceptsRequest(rec *psm.ProofExchange, req *vc.ProofRequest) bool {
	switch s.autoAccept(rec) {
	case psm.AutoAcceptAlways:
		return true
	case psm.AutoAcceptContentApproved:
		p, err := s.findProposal(rec)
		if err != nil || p == nil {
			return false
		}
		return coveredBy(req, p.Request)
	}
	return false
}

func (s *Service) present(ctx context.Context, rec *psm.ProofExchange, selected *vc.RequestedCredentials) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "present proof")

	try.To(rec.AssertRole(psm.RoleProver))
	try.To(rec.AssertState(psm.ProofRequestReceived))
	conn := try.To1(s.connection(rec))
	req := try.To1(s.loadRequest(rec))
	if selected == nil {
		selected = try.To1(s.autoSelect(ctx, req))
	}

	creds := make(map[string]vc.StoredCredential)
	var refs []ledgerRef
	add := func(credID string, ts int64) {
		c := try.To1(s.repos.Credentials.GetByID(credID))
		creds[credID] = vc.StoredCredential{Credential: c.Credential, Info: c.Info()}
		refs = append(refs, ledgerRef{
			SchemaID:  c.SchemaID,
			CredDefID: c.CredDefID,
			RevRegID:  c.RevRegID,
			Timestamp: ts,
		})
	}
	for _, a := range selected.RequestedAttributes {
		add(a.CredID, a.Timestamp)
	}
	for _, p := range selected.RequestedPredicates {
		add(p.CredID, p.Timestamp)
	}
	o := try.To1(s.fetchLedgerObjects(ctx, refs, false))

	proof := try.To1(s.engine.CreateProof(ctx, vc.CreateProofParams{
		ProofRequest:         req,
		RequestedCredentials: selected,
		Credentials:          creds,
		Schemas:              o.schemas,
		CredentialDefs:       o.credDefs,
		RevStatusLists:       o.statusLists,
	}))
	msg := newPresentation(rec.ProtocolVersion, proof)
	msg.Hdr().SetThread(rec.ThreadID, rec.ParentThreadID)

	try.To(s.saveMessage(msg, psm.MessageSender, rec))
	try.To(s.update(rec, psm.ProofPresentationSent))
	return comm.NewOutbound(msg, conn), nil
}

func (s *Service) handleAck(_ context.Context, mc *comm.MessageContext) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "presentation ack")

	rec := try.To1(s.byThread(mc.ThreadID(), psm.RoleProver))
	try.To(assertConnection(rec.ConnectionID, mc))
	try.To(rec.AssertState(psm.ProofPresentationSent))
	try.To(s.update(rec, psm.ProofDone))
	return nil, nil
}

func (s *Service) autoSelect(ctx context.Context, req *vc.ProofRequest) (_ *vc.RequestedCredentials, err error) {
	defer err2.Handle(&err)

	retrieved := try.To1(s.retrieve(ctx, req))
	sel := &vc.RequestedCredentials{
		RequestedAttributes:    make(map[string]vc.RequestedAttribute),
		RequestedPredicates:    make(map[string]vc.RequestedPredicate),
		SelfAttestedAttributes: make(map[string]string),
	}
	for ref, cands := range retrieved.Attributes {
		c := try.To1(s.pick(ref, cands))
		sel.RequestedAttributes[ref] = vc.RequestedAttribute{
			CredID:    c.Credential.ID,
			Revealed:  true,
			Timestamp: c.Timestamp,
		}
	}
	for ref, cands := range retrieved.Predicates {
		c := try.To1(s.pick(ref, cands))
		sel.RequestedPredicates[ref] = vc.RequestedPredicate{
			CredID:    c.Credential.ID,
			Timestamp: c.Timestamp,
		}
	}
	return sel, nil
}

func (s *Service) pick(ref string, cands []Candidate) (Candidate, error) {
	for _, c := range cands {
		if !c.Revoked || s.cfg.IgnoreRevocation {
			return c, nil
		}
	}
	return Candidate{}, fmt.Errorf("%s: %w", ref, ErrNoCredentials)
}

// retrieve finds the candidates of every referent of the request.
func (s *Service) retrieve(ctx context.Context, req *vc.ProofRequest) (_ *RetrievedCredentials, err error) {
	defer err2.Handle(&err)

	r := &RetrievedCredentials{
		Attributes: make(map[string][]Candidate),
		Predicates: make(map[string][]Candidate),
	}
	lists := make(map[string]*vc.RevocationStatusList)
	for ref, info := range req.RequestedAttributes {
		q := credentialQuery(info.AttributeNames(), info.Restrictions)
		r.Attributes[ref] = try.To1(s.candidates(ctx, q, interval(info.NonRevoked, req), lists))
	}
	for ref, info := range req.RequestedPredicates {
		q := credentialQuery([]string{info.Name}, info.Restrictions)
		r.Predicates[ref] = try.To1(s.candidates(ctx, q, interval(info.NonRevoked, req), lists))
	}
	return r, nil
}

// candidates finds the credentials of the query. The revocation status is
// resolved when the interval is given. The lists are cached per call.
func (s *Service) candidates(
	ctx context.Context,
	q storage.Query,
	nonRevoked *vc.NonRevokedInterval,
	lists map[string]*vc.RevocationStatusList,
) (_ []Candidate, err error) {
	defer err2.Handle(&err)

	creds := try.To1(s.repos.Credentials.FindByQuery(q))
	sort.Slice(creds, func(i, j int) bool { return creds[i].CreatedAt.Before(creds[j].CreatedAt) })
	cands := make([]Candidate, 0, len(creds))
	for _, c := range creds {
		cand := Candidate{Credential: c}
		if c.RevRegID != "" && nonRevoked != nil {
			to := nonRevoked.To
			if to == 0 {
				to = time.Now().Unix()
			}
			key := c.RevRegID + "@" + strconv.FormatInt(to, 10)
			l, ok := lists[key]
			if !ok {
				l = try.To1(s.ledger.GetRevocationStatusList(ctx, c.RevRegID, to))
				lists[key] = l
			}
			idx, _ := strconv.Atoi(c.CredRevID)
			cand.Revoked = l.IsRevoked(idx)
			cand.Timestamp = l.Timestamp
		}
		cands = append(cands, cand)
	}
	return cands, nil
}

// credentialQuery matches the credentials having all the names and at
// least one of the restrictions.
func credentialQuery(names []string, restrictions []vc.Restriction) storage.Query {
	q := storage.Query{Tags: make(map[string]string)}
	for _, name := range names {
		q.Tags[vc.AttrMarkerTag(name)] = "1"
	}
	for _, r := range restrictions {
		q.Or = append(q.Or, restrictionQuery(r))
	}
	return q
}

func restrictionQuery(r vc.Restriction) storage.Query {
	q := storage.Query{Tags: make(map[string]string)}
	set := func(tag, v string) {
		if v != "" {
			q.Tags[tag] = v
		}
	}
	set("schema_id", r.SchemaID)
	set("schema_issuer_did", r.SchemaIssuerDID)
	set("schema_name", r.SchemaName)
	set("schema_version", r.SchemaVersion)
	set("issuer_did", r.IssuerDID)
	set("cred_def_id", r.CredDefID)
	set("rev_reg_id", r.RevRegID)
	for name, v := range r.AttributeValues {
		q.Tags[vc.AttrValueTag(name)] = v
	}
	for _, name := range r.AttributeMarkers {
		q.Tags[vc.AttrMarkerTag(name)] = "1"
	}
	return q
}

// interval returns the non-revocation interval of the referent or the
// request level one.
func interval(own *vc.NonRevokedInterval, req *vc.ProofRequest) *vc.NonRevokedInterval {
	if own != nil {
		return own
	}
	return req.NonRevoked
}
