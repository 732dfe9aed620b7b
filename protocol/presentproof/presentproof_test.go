package presentproof

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/findy-network/findy-didcomm/agent/bus"
	"github.com/findy-network/findy-didcomm/agent/comm/commtest"
	"github.com/findy-network/findy-didcomm/agent/psm"
	"github.com/findy-network/findy-didcomm/agent/vc"
	"github.com/findy-network/findy-didcomm/agent/vc/vctest"
	"github.com/findy-network/findy-didcomm/protocol/issuecredential"
	"github.com/findy-network/findy-didcomm/std/presentproof"
	"github.com/lainio/err2/assert"
	"github.com/lainio/err2/try"
)

const (
	issuerDID = "7Tqg6BwSSWapxgUDm9KKgg"
	timeout   = 5 * time.Second
)

var (
	dir     string
	network *commtest.Network
	ledger  *vctest.Ledger
)

func TestMain(m *testing.M) {
	setUp()
	code := m.Run()
	tearDown()
	os.Exit(code)
}

func setUp() {
	dir = try.To1(os.MkdirTemp("", "presentproof-test"))
	network = commtest.NewNetwork()
	ledger = vctest.NewLedger()
}

func tearDown() {
	_ = os.RemoveAll(dir)
}

type agent struct {
	*commtest.Party
	creds  *issuecredential.Service
	proofs *Service
}

func newAgent(t *testing.T, name string, cfg Config) *agent {
	p := try.To1(network.NewParty(dir, strings.ReplaceAll(t.Name(), "/", "_")+"-"+name))
	creds := issuecredential.New(issuecredential.Config{AutoAccept: psm.AutoAcceptAlways},
		p.Repos, p.Bus, p.Sender, vctest.Engine{}, ledger)
	proofs := New(cfg, p.Repos, p.Bus, p.Sender, vctest.Engine{}, ledger)
	p.Dispatcher.Register(creds.Processor())
	p.Dispatcher.Register(proofs.Processor())
	t.Cleanup(p.Close)
	return &agent{Party: p, creds: creds, proofs: proofs}
}

type fixture struct {
	verifier, prover *agent
	vp, pv           *psm.Connection
	credDefID        string
	// issued is the verifier's issuer record of the prover's credential.
	issued string
}

// setup connects the verifier and the prover and issues a credential to
// the prover from the verifier.
func setup(t *testing.T, verifierCfg, proverCfg Config, revocable bool) *fixture {
	ctx := context.Background()
	f := &fixture{
		verifier: newAgent(t, "verifier", verifierCfg),
		prover:   newAgent(t, "prover", proverCfg),
	}
	f.vp, f.pv = try.To2(commtest.Connect(ctx, f.verifier.Party, f.prover.Party))

	schemaID := try.To1(ledger.RegisterSchema(ctx, &vc.Schema{
		Name:      strings.ReplaceAll(t.Name(), "/", "_"),
		Version:   "1.0",
		AttrNames: []string{"name", "age"},
		IssuerID:  issuerDID,
	}))
	cd := try.To1(f.verifier.creds.CreateCredentialDefinition(ctx, issuecredential.CredDefParams{
		IssuerID:          issuerDID,
		SchemaID:          schemaID,
		Tag:               "default",
		SupportRevocation: revocable,
		MaxCredNum:        10,
	}))
	f.credDefID = cd.ID

	stored := bus.Expect(f.prover.Bus, func(ev psm.CredentialStateChanged) bool {
		return ev.CredentialExchange.State == psm.CredentialDone
	})
	rec := try.To1(f.verifier.creds.OfferCredential(ctx, issuecredential.OfferParams{
		ConnectionID: f.vp.ID,
		CredDefID:    f.credDefID,
		Attributes:   map[string]string{"name": "John", "age": "99"},
	}))
	if !stored.Wait(ctx, timeout) {
		t.Fatal("credential is not stored")
	}
	f.issued = rec.ID
	return f
}

func expect(a *agent, role psm.ExchangeRole, state psm.ProofState) *bus.Waiter[psm.ProofStateChanged] {
	return bus.Expect(a.Bus, func(ev psm.ProofStateChanged) bool {
		return ev.ProofExchange.Role == role && ev.ProofExchange.State == state
	})
}

func (f *fixture) preview(predicate string, threshold int64) *presentproof.Preview {
	return &presentproof.Preview{
		Attributes: []presentproof.Attribute{
			{Name: "name", CredDefID: f.credDefID},
		},
		Predicates: []presentproof.Predicate{
			{Name: "age", CredDefID: f.credDefID, Predicate: predicate, Threshold: threshold},
		},
	}
}

func always() Config {
	return Config{AutoAccept: psm.AutoAcceptAlways}
}

func never() Config {
	return Config{AutoAccept: psm.AutoAcceptNever}
}

func TestPresent_AutoAccept(t *testing.T) {
	tests := []struct {
		name    string
		version psm.ProtocolVersion
	}{
		{"v1", psm.V1},
		{"v2", psm.V2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.PushTester(t)
			defer assert.PopTester()

			ctx := context.Background()
			f := setup(t, always(), always(), false)

			verified := expect(f.verifier, psm.RoleVerifier, psm.ProofDone)
			presented := expect(f.prover, psm.RoleProver, psm.ProofDone)
			rec, err := f.verifier.proofs.RequestProof(ctx, RequestParams{
				ConnectionID:    f.vp.ID,
				Preview:         f.preview(">=", 50),
				ProtocolVersion: tt.version,
			})
			assert.NoError(err)
			ev, ok := verified.WaitEvent(ctx, timeout)
			assert.That(ok)
			assert.That(presented.Wait(ctx, timeout))

			vrec := ev.ProofExchange
			assert.Equal(vrec.ID, rec.ID)
			assert.Equal(vrec.ProtocolVersion, tt.version)
			assert.That(vrec.IsVerified != nil && *vrec.IsVerified)

			prec := try.To1(f.prover.proofs.FindByThreadID(rec.ThreadID))
			assert.Equal(prec.State, psm.ProofDone)
			assert.Equal(prec.ConnectionID, f.pv.ID)
		})
	}
}

func TestPresent_Manual(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	ctx := context.Background()
	f := setup(t, never(), never(), false)

	requested := expect(f.prover, psm.RoleProver, psm.ProofRequestReceived)
	rec := try.To1(f.verifier.proofs.RequestProof(ctx, RequestParams{
		ConnectionID: f.vp.ID,
		Preview:      f.preview(">", 18),
	}))
	ev, ok := requested.WaitEvent(ctx, timeout)
	assert.That(ok)
	prec := ev.ProofExchange

	retrieved := try.To1(f.prover.proofs.GetRequestedCredentials(ctx, prec.ID))
	assert.SLen(retrieved.Attributes["attr_referent_1"], 1)
	assert.SLen(retrieved.Predicates["predicate_1"], 1)
	cand := retrieved.Attributes["attr_referent_1"][0]
	assert.Equal(cand.Credential.CredDefID, f.credDefID)
	assert.That(!cand.Revoked)

	selected := try.To1(f.prover.proofs.AutoSelectCredentials(ctx, prec.ID))
	assert.Equal(selected.RequestedAttributes["attr_referent_1"].CredID, cand.Credential.ID)

	received := expect(f.verifier, psm.RoleVerifier, psm.ProofPresentationReceived)
	try.To1(f.prover.proofs.AcceptRequest(ctx, prec.ID, selected))
	vev, ok := received.WaitEvent(ctx, timeout)
	assert.That(ok)
	assert.That(*vev.ProofExchange.IsVerified)

	done := expect(f.prover, psm.RoleProver, psm.ProofDone)
	try.To1(f.verifier.proofs.AcceptPresentation(ctx, rec.ID))
	assert.That(done.Wait(ctx, timeout))
	assert.Equal(try.To1(f.verifier.proofs.GetByID(rec.ID)).State, psm.ProofDone)
}

// A credential matching the predicate attribute is a candidate even when
// its value can't satisfy the predicate.
func TestPresent_PredicateNotSatisfied(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	ctx := context.Background()
	f := setup(t, always(), never(), false)

	requested := expect(f.prover, psm.RoleProver, psm.ProofRequestReceived)
	try.To1(f.verifier.proofs.RequestProof(ctx, RequestParams{
		ConnectionID: f.vp.ID,
		Preview:      f.preview("<", 50),
	}))
	ev, ok := requested.WaitEvent(ctx, timeout)
	assert.That(ok)
	id := ev.ProofExchange.ID

	retrieved := try.To1(f.prover.proofs.GetRequestedCredentials(ctx, id))
	assert.SLen(retrieved.Predicates["predicate_1"], 1)

	_, err := f.prover.proofs.AcceptRequest(ctx, id, nil)
	assert.That(err != nil)
	assert.Equal(try.To1(f.prover.proofs.GetByID(id)).State, psm.ProofRequestReceived)
}

func TestPresent_Revoked(t *testing.T) {
	tests := []struct {
		name             string
		ignoreRevocation bool
	}{
		{"ignore revocation", true},
		{"no credentials", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.PushTester(t)
			defer assert.PopTester()

			ctx := context.Background()
			proverCfg := Config{
				AutoAccept:       psm.AutoAcceptAlways,
				IgnoreRevocation: tt.ignoreRevocation,
			}
			f := setup(t, always(), proverCfg, true)
			try.To1(f.verifier.creds.RevokeCredential(ctx, f.issued))

			verified := expect(f.verifier, psm.RoleVerifier, psm.ProofDone)
			requested := expect(f.prover, psm.RoleProver, psm.ProofRequestReceived)
			presented := expect(f.prover, psm.RoleProver, psm.ProofDone)
			try.To1(f.verifier.proofs.RequestProof(ctx, RequestParams{
				ConnectionID: f.vp.ID,
				ProofRequest: &vc.ProofRequest{
					RequestedAttributes: map[string]vc.AttributeInfo{
						"name": {
							Name:         "name",
							Restrictions: []vc.Restriction{{CredDefID: f.credDefID}},
						},
					},
					NonRevoked: &vc.NonRevokedInterval{To: time.Now().Unix()},
				},
			}))
			ev, ok := requested.WaitEvent(ctx, timeout)
			assert.That(ok)
			id := ev.ProofExchange.ID

			retrieved := try.To1(f.prover.proofs.GetRequestedCredentials(ctx, id))
			cands := retrieved.Attributes["name"]
			assert.SLen(cands, 1)
			assert.That(cands[0].Revoked)
			assert.NotEqual(cands[0].Timestamp, int64(0))

			if !tt.ignoreRevocation {
				verified.Cancel()
				presented.Cancel()
				_, err := f.prover.proofs.AutoSelectCredentials(ctx, id)
				assert.That(errors.Is(err, ErrNoCredentials))
				assert.Equal(try.To1(f.prover.proofs.GetByID(id)).State, psm.ProofRequestReceived)
				return
			}
			vev, ok := verified.WaitEvent(ctx, timeout)
			assert.That(ok)
			assert.That(presented.Wait(ctx, timeout))
			assert.That(vev.ProofExchange.IsVerified != nil && !*vev.ProofExchange.IsVerified)
		})
	}
}

func TestDeclineRequest(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	ctx := context.Background()
	f := setup(t, always(), never(), false)

	requested := expect(f.prover, psm.RoleProver, psm.ProofRequestReceived)
	rec := try.To1(f.verifier.proofs.RequestProof(ctx, RequestParams{
		ConnectionID: f.vp.ID,
		Preview:      f.preview(">=", 50),
	}))
	ev, ok := requested.WaitEvent(ctx, timeout)
	assert.That(ok)

	reported := bus.Expect(f.verifier.Bus, func(ev psm.ProblemReportReceived) bool {
		return ev.RecordID == rec.ID
	})
	prec := try.To1(f.prover.proofs.DeclineRequest(ctx, ev.ProofExchange.ID, true))
	assert.Equal(prec.State, psm.ProofDeclined)
	assert.That(reported.Wait(ctx, timeout))

	vrec := try.To1(f.verifier.proofs.GetByID(rec.ID))
	assert.Equal(vrec.State, psm.ProofAbandoned)
	assert.Equal(vrec.ErrorMessage, "request declined")

	_, err := f.prover.proofs.AcceptRequest(ctx, prec.ID, nil)
	assert.That(errors.Is(err, psm.ErrProtocolState))
}

func TestPropose(t *testing.T) {
	tests := []struct {
		name    string
		version psm.ProtocolVersion
	}{
		{"v1", psm.V1},
		{"v2", psm.V2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.PushTester(t)
			defer assert.PopTester()

			ctx := context.Background()
			f := setup(t, always(), Config{AutoAccept: psm.AutoAcceptContentApproved}, false)

			verified := expect(f.verifier, psm.RoleVerifier, psm.ProofDone)
			presented := expect(f.prover, psm.RoleProver, psm.ProofDone)
			rec, err := f.prover.proofs.ProposeProof(ctx, ProposeParams{
				ConnectionID:    f.pv.ID,
				Preview:         f.preview(">=", 50),
				ProtocolVersion: tt.version,
			})
			assert.NoError(err)
			ev, ok := verified.WaitEvent(ctx, timeout)
			assert.That(ok)
			assert.That(presented.Wait(ctx, timeout))
			assert.Equal(ev.ProofExchange.ThreadID, rec.ThreadID)
			assert.That(*ev.ProofExchange.IsVerified)
		})
	}
}

func TestNewProofRequest(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	req := newProofRequest(&presentproof.Preview{
		Attributes: []presentproof.Attribute{
			{Name: "name", CredDefID: "cd", Referent: "group"},
			{Name: "age", CredDefID: "cd", Referent: "group"},
			{Name: "email", Value: "john@example.com"},
		},
		Predicates: []presentproof.Predicate{
			{Name: "age", Predicate: ">=", Threshold: 18},
		},
	})
	assert.NotEqual(req.Nonce, "")
	assert.Equal(req.Name, proofRequestName)
	assert.DeepEqual(req.RequestedAttributes["group"].Names, []string{"name", "age"})
	assert.Equal(req.RequestedAttributes["group"].Restrictions[0].CredDefID, "cd")
	email := req.RequestedAttributes["attr_referent_1"]
	assert.Equal(email.Name, "email")
	assert.Equal(email.Restrictions[0].AttributeValues["email"], "john@example.com")
	pred := req.RequestedPredicates["predicate_1"]
	assert.Equal(pred.PValue, int64(18))
	assert.SLen(pred.Restrictions, 0)

	assert.That(coveredBy(req, req))
	narrow := withDefaults(&vc.ProofRequest{RequestedAttributes: map[string]vc.AttributeInfo{
		"x": {Name: "name"},
	}})
	assert.That(coveredBy(narrow, req))
	assert.That(!coveredBy(req, narrow))
}

func TestCredentialQuery(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	c := &psm.Credential{
		CredDefID: "cd1",
		IssuerDID: issuerDID,
		Values:    vc.EncodeValues(map[string]string{"name": "John", "age": "99"}),
	}
	tags := c.TagValues()
	tests := []struct {
		name         string
		names        []string
		restrictions []vc.Restriction
		match        bool
	}{
		{"no restrictions", []string{"name"}, nil, true},
		{"all names", []string{"name", "age"}, nil, true},
		{"missing name", []string{"email"}, nil, false},
		{"one of", []string{"name"}, []vc.Restriction{{CredDefID: "cd2"}, {CredDefID: "cd1"}}, true},
		{"none of", []string{"name"}, []vc.Restriction{{CredDefID: "cd2"}}, false},
		{"issuer", []string{"name"}, []vc.Restriction{{IssuerDID: issuerDID}}, true},
		{"value", []string{"name"}, []vc.Restriction{{
			AttributeValues: map[string]string{"name": "John"},
		}}, true},
		{"wrong value", []string{"name"}, []vc.Restriction{{
			AttributeValues: map[string]string{"name": "Jane"},
		}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.PushTester(t)
			defer assert.PopTester()

			assert.Equal(credentialQuery(tt.names, tt.restrictions).Match(tags), tt.match)
		})
	}
}
