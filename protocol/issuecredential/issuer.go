package issuecredential

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/findy-network/findy-didcomm/agent/comm"
	"github.com/findy-network/findy-didcomm/agent/didcomm"
	"github.com/findy-network/findy-didcomm/agent/psm"
	"github.com/findy-network/findy-didcomm/agent/storage"
	"github.com/findy-network/findy-didcomm/agent/vc"
	"github.com/findy-network/findy-didcomm/std/issuecredential"
	"github.com/golang/glog"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

// ErrRegistryFull is returned when the revocation registry of the credential
// definition has no free indexes.
var ErrRegistryFull = errors.New("revocation registry full")

type OfferParams struct {
	// ConnectionID is empty for the offers sent in an out-of-band
	// invitation.
	ConnectionID    string
	CredDefID       string
	Attributes      map[string]string
	Comment         string
	ProtocolVersion psm.ProtocolVersion
	AutoAccept      psm.AutoAccept
}

// AcceptProposalParams override the proposed values.
type AcceptProposalParams struct {
	CredDefID  string
	Attributes map[string]string
	Comment    string
}

type CredDefParams struct {
	IssuerID          string
	SchemaID          string
	Tag               string
	SupportRevocation bool
	MaxCredNum        int
}

// CreateCredentialDefinition registers the credential definition, and its
// revocation registry if revocation is supported.
func (s *Service) CreateCredentialDefinition(ctx context.Context, p CredDefParams) (cd *vc.CredentialDefinition, err error) {
	defer err2.Handle(&err, "create credential definition")

	cd = &vc.CredentialDefinition{
		SchemaID:          p.SchemaID,
		IssuerID:          p.IssuerID,
		Tag:               p.Tag,
		SupportRevocation: p.SupportRevocation,
	}
	cd.ID = try.To1(s.ledger.RegisterCredentialDefinition(ctx, cd))
	if !p.SupportRevocation {
		return cd, nil
	}
	rrd := &vc.RevocationRegistryDefinition{
		CredDefID:  cd.ID,
		IssuerID:   p.IssuerID,
		Tag:        p.Tag,
		MaxCredNum: p.MaxCredNum,
	}
	rrd.ID = try.To1(s.ledger.RegisterRevocationRegistryDefinition(ctx, rrd))

	reg := psm.NewRevocationRegistry()
	reg.CredDefID = cd.ID
	reg.RevRegDefID = rrd.ID
	reg.MaxCredNum = p.MaxCredNum
	reg.NextIndex = 1
	try.To(s.repos.RevocationRegistries.Save(reg))
	glog.V(1).Infoln("credential definition", cd.ID, "with registry", rrd.ID)
	return cd, nil
}

// CreateOffer creates the offer and its exchange without sending it. The
// exchange of an offer without connection is bound to the connection its
// request comes from.
func (s *Service) CreateOffer(ctx context.Context, p OfferParams) (rec *psm.CredentialExchange, msg didcomm.Message, err error) {
	defer err2.Handle(&err, "create credential offer")

	if p.CredDefID == "" || len(p.Attributes) == 0 {
		return nil, nil, psm.Validationf("offer needs credential definition and attributes")
	}
	v := p.ProtocolVersion
	if v == "" {
		v = psm.V1
	}
	if p.ConnectionID != "" {
		c := try.To1(s.repos.Connections.GetByID(p.ConnectionID))
		try.To(c.AssertReady())
	}

	o := try.To1(s.engine.CreateOffer(ctx, p.CredDefID))
	preview := issuecredential.NewPreview("", p.Attributes)
	msg = newOffer(v, offer{Comment: p.Comment, Preview: preview, Offer: o})

	var ids offerIDs
	try.To(json.Unmarshal(o, &ids))
	rec = psm.NewCredentialExchange()
	rec.State = psm.CredentialOfferSent
	rec.Role = psm.RoleIssuer
	rec.ProtocolVersion = v
	rec.ThreadID = msg.Hdr().ThreadID()
	rec.ConnectionID = p.ConnectionID
	rec.CredentialAttributes = preview.Attributes
	rec.CredDefID = p.CredDefID
	rec.SchemaID = ids.SchemaID
	rec.AutoAccept = p.AutoAccept
	try.To(s.save(rec))
	try.To(s.saveMessage(msg, psm.MessageSender, rec))
	return rec, msg, nil
}

// OfferCredential sends the offer over the connection.
func (s *Service) OfferCredential(ctx context.Context, p OfferParams) (rec *psm.CredentialExchange, err error) {
	defer err2.Handle(&err)

	if p.ConnectionID == "" {
		return nil, psm.Validationf("offer needs connection")
	}
	rec, msg := try.To2(s.CreateOffer(ctx, p))
	conn := try.To1(s.connection(rec))
	try.To(s.sender.Send(ctx, comm.NewOutbound(msg, conn)))
	return rec, nil
}

// AcceptProposal answers the proposal with an offer.
func (s *Service) AcceptProposal(ctx context.Context, id string, p AcceptProposalParams) (rec *psm.CredentialExchange, err error) {
	defer err2.Handle(&err, "accept credential proposal")

	rec = try.To1(s.repos.CredentialExchanges.GetByID(id))
	out := try.To1(s.offerForProposal(ctx, rec, p))
	try.To(s.sender.Send(ctx, out))
	return rec, nil
}

// AcceptRequest issues the credential.
func (s *Service) AcceptRequest(ctx context.Context, id, comment string) (rec *psm.CredentialExchange, err error) {
	defer err2.Handle(&err, "accept credential request")

	rec = try.To1(s.repos.CredentialExchanges.GetByID(id))
	out := try.To1(s.issue(ctx, rec, comment))
	try.To(s.sender.Send(ctx, out))
	return rec, nil
}

// RevokeCredential revokes the issued credential of the exchange from the
// revocation registry.
func (s *Service) RevokeCredential(ctx context.Context, id string) (rec *psm.CredentialExchange, err error) {
	defer err2.Handle(&err, "revoke credential")

	rec = try.To1(s.repos.CredentialExchanges.GetByID(id))
	try.To(rec.AssertRole(psm.RoleIssuer))
	try.To(rec.AssertState(psm.CredentialIssued, psm.CredentialDone))
	if rec.RevRegID == "" {
		return nil, psm.Validationf("credential of %s isn't revocable", rec.ID)
	}
	index := try.To1(strconv.Atoi(rec.CredRevID))

	lk := s.lock(rec.CredDefID)
	lk.Lock()
	defer lk.Unlock()

	reg := try.To1(s.repos.RevocationRegistries.GetSingleByQuery(
		storage.TagQuery("revRegDefId", rec.RevRegID)))
	if !contains(reg.Revoked, index) {
		reg.Revoked = append(reg.Revoked, index)
	}
	try.To(s.ledger.RegisterRevocationStatusList(ctx, &vc.RevocationStatusList{
		RevRegDefID: reg.RevRegDefID,
		Revoked:     reg.Revoked,
	}))
	try.To(s.repos.RevocationRegistries.Update(reg))

	rec.Revoked = true
	try.To(s.update(rec, rec.State))
	glog.V(1).Infoln("credential", rec.CredRevID, "of", rec.RevRegID, "revoked")
	return rec, nil
}

func (s *Service) handlePropose(ctx context.Context, mc *comm.MessageContext) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "credential proposal")

	v := try.To1(versionOf(mc.Header.Type))
	conn := try.To1(mc.AssertReadyConnection())
	msg, p := try.To2(decodePropose(v, mc.Message))

	rec := try.To1(s.findByThread(mc.ThreadID(), psm.RoleIssuer))
	if rec == nil {
		rec = psm.NewCredentialExchange()
		rec.State = psm.CredentialProposalReceived
		rec.Role = psm.RoleIssuer
		rec.ProtocolVersion = v
		rec.ThreadID = mc.ThreadID()
		rec.ParentThreadID = mc.Header.ParentThreadID()
		rec.ConnectionID = conn.ID
		rec.CredDefID = p.Filter.CredDefID
		rec.SchemaID = p.Filter.SchemaID
		if p.Preview != nil {
			rec.CredentialAttributes = p.Preview.Attributes
		}
		try.To(s.save(rec))
		try.To(s.saveMessage(msg, psm.MessageReceiver, rec))
	} else {
		try.To(assertConnection(rec.ConnectionID, mc))
		try.To(rec.AssertState(psm.CredentialOfferSent))
		try.To(s.saveMessage(msg, psm.MessageReceiver, rec))
		try.To(s.update(rec, psm.CredentialProposalReceived))
	}

	if !s.acceptsProposal(rec, p) {
		glog.V(3).Infoln("credential proposal", rec.ID, "waits for user")
		return nil, nil
	}
	return s.offerForProposal(ctx, rec, AcceptProposalParams{})
}

// acceptsProposal tells if the proposal can be offered without the user. The
// approved content is the same what we offered earlier.
func (s *Service) acceptsProposal(rec *psm.CredentialExchange, p *proposal) bool {
	switch s.autoAccept(rec) {
	case psm.AutoAcceptAlways:
		return true
	case psm.AutoAcceptContentApproved:
		o, err := s.findOffer(rec)
		if err != nil || o == nil || p.Preview == nil {
			return false
		}
		credDefOK := p.Filter.CredDefID == "" || p.Filter.CredDefID == rec.CredDefID
		return credDefOK && sameValues(o.Preview.Values(), p.Preview.Values())
	}
	return false
}

func (s *Service) offerForProposal(ctx context.Context, rec *psm.CredentialExchange, p AcceptProposalParams) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err)

	try.To(rec.AssertRole(psm.RoleIssuer))
	try.To(rec.AssertState(psm.CredentialProposalReceived))
	conn := try.To1(s.connection(rec))
	prop := try.To1(s.findProposal(rec))

	credDefID := p.CredDefID
	if credDefID == "" {
		credDefID = rec.CredDefID
	}
	attrs := p.Attributes
	if len(attrs) == 0 && prop != nil {
		attrs = prop.Preview.Values()
	}
	if credDefID == "" || len(attrs) == 0 {
		return nil, psm.Validationf("proposal %s needs credential definition and attributes", rec.ID)
	}

	o := try.To1(s.engine.CreateOffer(ctx, credDefID))
	preview := issuecredential.NewPreview("", attrs)
	msg := newOffer(rec.ProtocolVersion, offer{Comment: p.Comment, Preview: preview, Offer: o})
	msg.Hdr().SetThread(rec.ThreadID, rec.ParentThreadID)

	var ids offerIDs
	try.To(json.Unmarshal(o, &ids))
	rec.CredDefID = credDefID
	rec.SchemaID = ids.SchemaID
	rec.CredentialAttributes = preview.Attributes
	try.To(s.saveMessage(msg, psm.MessageSender, rec))
	try.To(s.update(rec, psm.CredentialOfferSent))
	return comm.NewOutbound(msg, conn), nil
}

func (s *Service) handleRequest(ctx context.Context, mc *comm.MessageContext) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "credential request")

	v := try.To1(versionOf(mc.Header.Type))
	msg, req := try.To2(decodeRequest(v, mc.Message))

	rec := try.To1(s.byThread(mc.ThreadID(), psm.RoleIssuer))
	try.To(assertConnection(rec.ConnectionID, mc))
	try.To(rec.AssertState(psm.CredentialOfferSent))
	try.To(rec.AssertVersion(v))
	if rec.ConnectionID == "" {
		conn := try.To1(mc.AssertReadyConnection())
		rec.ConnectionID = conn.ID
		glog.V(3).Infoln("credential exchange", rec.ID, "bound to connection", conn.ID)
	}
	try.To(s.saveMessage(msg, psm.MessageReceiver, rec))
	try.To(s.update(rec, psm.CredentialRequestReceived))

	if !s.acceptsRequest(rec, req) {
		glog.V(3).Infoln("credential request", rec.ID, "waits for user")
		return nil, nil
	}
	return s.issue(ctx, rec, "")
}

// acceptsRequest tells if the credential can be issued without the user.
// The approved request is for the offered credential definition.
func (s *Service) acceptsRequest(rec *psm.CredentialExchange, req json.RawMessage) bool {
	switch s.autoAccept(rec) {
	case psm.AutoAcceptAlways:
		return true
	case psm.AutoAcceptContentApproved:
		var ids offerIDs
		if err := json.Unmarshal(req, &ids); err != nil {
			return false
		}
		return ids.CredDefID == rec.CredDefID
	}
	return false
}

func (s *Service) issue(ctx context.Context, rec *psm.CredentialExchange, comment string) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "issue credential")

	try.To(rec.AssertRole(psm.RoleIssuer))
	try.To(rec.AssertState(psm.CredentialRequestReceived))
	conn := try.To1(s.connection(rec))
	o := try.To1(s.loadOffer(rec))
	req := try.To1(s.loadRequest(rec))
	credDef := try.To1(s.ledger.GetCredentialDefinition(ctx, rec.CredDefID))

	params := vc.CreateCredentialParams{
		Offer:   o.Offer,
		Request: req,
		Values:  vc.EncodeValues(rec.Values()),
	}
	if credDef.SupportRevocation {
		params.RevRegDefID, params.RevIndex = try.To2(s.allocateIndex(rec.CredDefID))
		rec.RevRegID = params.RevRegDefID
		rec.CredRevID = strconv.Itoa(params.RevIndex)
	}
	cred := try.To1(s.engine.CreateCredential(ctx, params))

	msg := newIssue(rec.ProtocolVersion, comment, cred)
	msg.Hdr().SetThread(rec.ThreadID, rec.ParentThreadID)
	try.To(s.saveMessage(msg, psm.MessageSender, rec))
	try.To(s.update(rec, psm.CredentialIssued))
	return comm.NewOutbound(msg, conn), nil
}

// allocateIndex takes the next free index of the credential definition's
// revocation registry.
func (s *Service) allocateIndex(credDefID string) (_ string, index int, err error) {
	defer err2.Handle(&err, "revocation index of %s", credDefID)

	lk := s.lock(credDefID)
	lk.Lock()
	defer lk.Unlock()

	reg := try.To1(s.repos.RevocationRegistries.GetSingleByQuery(
		storage.TagQuery("credDefId", credDefID)))
	index = reg.NextIndex
	if index < 1 {
		index = 1
	}
	if reg.MaxCredNum > 0 && index > reg.MaxCredNum {
		return "", 0, ErrRegistryFull
	}
	reg.NextIndex = index + 1
	try.To(s.repos.RevocationRegistries.Update(reg))
	return reg.RevRegDefID, index, nil
}

func (s *Service) handleAck(_ context.Context, mc *comm.MessageContext) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "credential ack")

	rec := try.To1(s.byThread(mc.ThreadID(), psm.RoleIssuer))
	try.To(assertConnection(rec.ConnectionID, mc))
	try.To(rec.AssertState(psm.CredentialIssued))
	try.To(s.update(rec, psm.CredentialDone))
	return nil, nil
}

func contains(a []int, i int) bool {
	for _, v := range a {
		if v == i {
			return true
		}
	}
	return false
}
