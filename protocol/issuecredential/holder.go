package issuecredential

import (
	"context"
	"encoding/json"

	"github.com/findy-network/findy-didcomm/agent/comm"
	"github.com/findy-network/findy-didcomm/agent/psm"
	"github.com/findy-network/findy-didcomm/agent/storage"
	"github.com/findy-network/findy-didcomm/agent/vc"
	"github.com/findy-network/findy-didcomm/std/common"
	"github.com/findy-network/findy-didcomm/std/issuecredential"
	v2 "github.com/findy-network/findy-didcomm/std/issuecredential/v2"
	"github.com/golang/glog"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

type ProposeParams struct {
	ConnectionID    string
	Comment         string
	Attributes      map[string]string
	CredDefID       string
	SchemaID        string
	SchemaIssuerDID string
	SchemaName      string
	SchemaVersion   string
	IssuerDID       string
	ProtocolVersion psm.ProtocolVersion
	AutoAccept      psm.AutoAccept
}

// credentialIDs are the fields of the engine's credential the holder needs
// before it's processed.
type credentialIDs struct {
	CredDefID string                       `json:"cred_def_id"`
	RevRegID  string                       `json:"rev_reg_id"`
	Values    map[string]vc.AttributeValue `json:"values"`
}

// ProposeCredential starts the exchange by proposing the credential to the
// issuer.
func (s *Service) ProposeCredential(ctx context.Context, p ProposeParams) (rec *psm.CredentialExchange, err error) {
	defer err2.Handle(&err, "propose credential")

	conn := try.To1(s.repos.Connections.GetByID(p.ConnectionID))
	try.To(conn.AssertReady())
	v := p.ProtocolVersion
	if v == "" {
		v = psm.V1
	}

	var preview *issuecredential.Preview
	if len(p.Attributes) > 0 {
		preview = issuecredential.NewPreview("", p.Attributes)
	}
	msg := try.To1(newPropose(v, proposal{
		Comment: p.Comment,
		Preview: preview,
		Filter: v2.Filter{
			SchemaIssuerDID: p.SchemaIssuerDID,
			SchemaName:      p.SchemaName,
			SchemaVersion:   p.SchemaVersion,
			SchemaID:        p.SchemaID,
			IssuerDID:       p.IssuerDID,
			CredDefID:       p.CredDefID,
		},
	}))

	rec = psm.NewCredentialExchange()
	rec.State = psm.CredentialProposalSent
	rec.Role = psm.RoleHolder
	rec.ProtocolVersion = v
	rec.ThreadID = msg.Hdr().ThreadID()
	rec.ConnectionID = conn.ID
	rec.CredDefID = p.CredDefID
	rec.SchemaID = p.SchemaID
	rec.AutoAccept = p.AutoAccept
	if preview != nil {
		rec.CredentialAttributes = preview.Attributes
	}
	try.To(s.save(rec))
	try.To(s.saveMessage(msg, psm.MessageSender, rec))
	try.To(s.sender.Send(ctx, comm.NewOutbound(msg, conn)))
	return rec, nil
}

// AcceptOffer requests the offered credential.
func (s *Service) AcceptOffer(ctx context.Context, id string) (rec *psm.CredentialExchange, err error) {
	defer err2.Handle(&err, "accept credential offer")

	rec = try.To1(s.repos.CredentialExchanges.GetByID(id))
	out := try.To1(s.request(ctx, rec))
	try.To(s.sender.Send(ctx, out))
	return rec, nil
}

// DeclineOffer declines the offer. The issuer learns about it only from the
// problem report.
func (s *Service) DeclineOffer(ctx context.Context, id string, sendProblemReport bool) (rec *psm.CredentialExchange, err error) {
	defer err2.Handle(&err, "decline credential offer")

	rec = try.To1(s.repos.CredentialExchanges.GetByID(id))
	try.To(rec.AssertRole(psm.RoleHolder))
	try.To(rec.AssertState(psm.CredentialOfferReceived))
	try.To(s.update(rec, psm.CredentialDeclined))
	if sendProblemReport {
		try.To(s.SendProblemReport(ctx, id, "offer declined"))
	}
	return rec, nil
}

// AcceptCredential stores the received credential and acks it.
func (s *Service) AcceptCredential(ctx context.Context, id string) (rec *psm.CredentialExchange, err error) {
	defer err2.Handle(&err, "accept credential")

	rec = try.To1(s.repos.CredentialExchanges.GetByID(id))
	out := try.To1(s.storeCredential(ctx, rec))
	try.To(s.sender.Send(ctx, out))
	return rec, nil
}

func (s *Service) GetCredential(id string) (*psm.Credential, error) {
	return s.repos.Credentials.GetByID(id)
}

// GetCredentials returns the stored credentials of the credential
// definition, or all of them for an empty id.
func (s *Service) GetCredentials(credDefID string) ([]*psm.Credential, error) {
	if credDefID == "" {
		return s.repos.Credentials.GetAll()
	}
	return s.repos.Credentials.FindByQuery(storage.TagQuery("cred_def_id", credDefID))
}

func (s *Service) DeleteCredential(id string) error {
	return s.repos.Credentials.DeleteByID(id)
}

func (s *Service) handleOffer(ctx context.Context, mc *comm.MessageContext) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "credential offer")

	v := try.To1(versionOf(mc.Header.Type))
	conn := try.To1(mc.AssertReadyConnection())
	msg, o := try.To2(decodeOffer(v, mc.Message))
	var ids offerIDs
	try.To(json.Unmarshal(o.Offer, &ids))

	rec := try.To1(s.findByThread(mc.ThreadID(), psm.RoleHolder))
	isNew := rec == nil
	if isNew {
		rec = psm.NewCredentialExchange()
		rec.State = psm.CredentialOfferReceived
		rec.Role = psm.RoleHolder
		rec.ProtocolVersion = v
		rec.ThreadID = mc.ThreadID()
		rec.ParentThreadID = mc.Header.ParentThreadID()
		rec.ConnectionID = conn.ID
	} else {
		try.To(assertConnection(rec.ConnectionID, mc))
		try.To(rec.AssertState(psm.CredentialProposalSent))
		try.To(rec.AssertVersion(v))
	}
	if o.Preview != nil {
		rec.CredentialAttributes = o.Preview.Attributes
	}
	rec.CredDefID = ids.CredDefID
	rec.SchemaID = ids.SchemaID
	if isNew {
		try.To(s.save(rec))
		try.To(s.saveMessage(msg, psm.MessageReceiver, rec))
	} else {
		try.To(s.saveMessage(msg, psm.MessageReceiver, rec))
		try.To(s.update(rec, psm.CredentialOfferReceived))
	}

	if !s.acceptsOffer(rec, o) {
		glog.V(3).Infoln("credential offer", rec.ID, "waits for user")
		return nil, nil
	}
	return s.request(ctx, rec)
}

// acceptsOffer tells if the offer can be requested without the user. The
// approved content is what we proposed.
func (s *Service) acceptsOffer(rec *psm.CredentialExchange, o *offer) bool {
	switch s.autoAccept(rec) {
	case psm.AutoAcceptAlways:
		return true
	case psm.AutoAcceptContentApproved:
		p, err := s.findProposal(rec)
		if err != nil || p == nil || p.Preview == nil {
			return false
		}
		credDefOK := p.Filter.CredDefID == "" || p.Filter.CredDefID == rec.CredDefID
		return credDefOK && sameValues(p.Preview.Values(), o.Preview.Values())
	}
	return false
}

func (s *Service) request(ctx context.Context, rec *psm.CredentialExchange) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "credential request")

	try.To(rec.AssertRole(psm.RoleHolder))
	try.To(rec.AssertState(psm.CredentialOfferReceived))
	conn := try.To1(s.connection(rec))
	o := try.To1(s.loadOffer(rec))
	credDef := try.To1(s.ledger.GetCredentialDefinition(ctx, rec.CredDefID))

	req, meta := try.To2(s.engine.CreateRequest(ctx, conn.DID, o.Offer, credDef))
	msg := newRequest(rec.ProtocolVersion, req)
	msg.Hdr().SetThread(rec.ThreadID, rec.ParentThreadID)

	rec.RequestMetadata = meta
	try.To(s.saveMessage(msg, psm.MessageSender, rec))
	try.To(s.update(rec, psm.CredentialRequestSent))
	return comm.NewOutbound(msg, conn), nil
}

func (s *Service) handleIssue(ctx context.Context, mc *comm.MessageContext) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "credential issue")

	v := try.To1(versionOf(mc.Header.Type))
	msg, cred := try.To2(decodeIssue(v, mc.Message))

	rec := try.To1(s.byThread(mc.ThreadID(), psm.RoleHolder))
	try.To(assertConnection(rec.ConnectionID, mc))
	try.To(rec.AssertState(psm.CredentialRequestSent))
	try.To(rec.AssertVersion(v))
	try.To(s.saveMessage(msg, psm.MessageReceiver, rec))
	try.To(s.update(rec, psm.CredentialReceived))

	if !s.acceptsCredential(rec, cred) {
		glog.V(3).Infoln("credential", rec.ID, "waits for user")
		return nil, nil
	}
	return s.storeCredential(ctx, rec)
}

// acceptsCredential tells if the credential can be stored without the
// user. The approved credential has the offered values.
func (s *Service) acceptsCredential(rec *psm.CredentialExchange, cred json.RawMessage) bool {
	switch s.autoAccept(rec) {
	case psm.AutoAcceptAlways:
		return true
	case psm.AutoAcceptContentApproved:
		var ids credentialIDs
		if err := json.Unmarshal(cred, &ids); err != nil {
			return false
		}
		raw := make(map[string]string, len(ids.Values))
		for name, v := range ids.Values {
			raw[name] = v.Raw
		}
		return ids.CredDefID == rec.CredDefID && sameValues(raw, rec.Values())
	}
	return false
}

// storeCredential processes the credential with the engine, stores it and
// returns the ack.
func (s *Service) storeCredential(ctx context.Context, rec *psm.CredentialExchange) (_ *comm.OutboundMessage, err error) {
	defer err2.Handle(&err, "store credential")

	try.To(rec.AssertRole(psm.RoleHolder))
	try.To(rec.AssertState(psm.CredentialReceived))
	conn := try.To1(s.connection(rec))
	cred := try.To1(s.loadIssue(rec))

	var ids credentialIDs
	try.To(json.Unmarshal(cred, &ids))
	credDefID := ids.CredDefID
	if credDefID == "" {
		credDefID = rec.CredDefID
	}
	credDef := try.To1(s.ledger.GetCredentialDefinition(ctx, credDefID))
	var revRegDef *vc.RevocationRegistryDefinition
	if ids.RevRegID != "" {
		revRegDef = try.To1(s.ledger.GetRevocationRegistryDefinition(ctx, ids.RevRegID))
	}
	info := try.To1(s.engine.ProcessCredential(ctx, cred, rec.RequestMetadata, credDef, revRegDef))
	schema := try.To1(s.ledger.GetSchema(ctx, info.SchemaID))

	c := psm.NewCredential()
	c.ID = info.Referent
	c.Credential = cred
	c.SchemaID = info.SchemaID
	c.SchemaIssuerDID = schema.IssuerID
	c.SchemaName = schema.Name
	c.SchemaVersion = schema.Version
	c.IssuerDID = credDef.IssuerID
	c.CredDefID = info.CredDefID
	c.RevRegID = info.RevRegID
	c.CredRevID = info.CredRevID
	c.Values = vc.EncodeValues(info.Attributes)
	try.To(s.repos.Credentials.Save(c))
	glog.V(1).Infoln("credential", c.ID, "of", c.CredDefID, "stored")

	rec.CredentialID = c.ID
	rec.RevRegID = c.RevRegID
	rec.CredRevID = c.CredRevID
	ack := common.NewAck(ackType(rec.ProtocolVersion), rec.ThreadID)
	try.To(s.update(rec, psm.CredentialDone))
	return comm.NewOutbound(ack, conn), nil
}
