package vctest

import (
	"context"
	"testing"
	"time"

	"github.com/findy-network/findy-didcomm/agent/vc"
	"github.com/lainio/err2/assert"
)

func TestSchemaIDOf(t *testing.T) {
	const peer = "did:peer:2.Ez6LSbysY2xFMRpGMhb7tFTLMpeuPRaqaWM1yECx2AtzE3KCc.Vz6MkqRYqQiSgvZQdnBytw86Qbs2ZWUkGv22od935YF4s8M7V"
	tests := []struct {
		name      string
		credDefID string
		want      string
	}{
		{"legacy", "Th7:3:CL:Th7:2:email:1.0:default", "Th7:2:email:1.0"},
		{"peer issuer", peer + ":3:CL:" + peer + ":2:email:1.0:default", peer + ":2:email:1.0"},
		{"seq no schema", "Th7:3:CL:12:tag", "12"},
		{"no marker", "bad", ""},
		{"no tag", "Th7:3:CL:Th7", ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.PushTester(t)
			defer assert.PopTester()

			assert.Equal(schemaIDOf(tt.credDefID), tt.want)
		})
	}
}

func TestEngine_PeerIssuer(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	ctx := context.Background()
	const issuer = "did:peer:2.Ez6LSbysY2xFMRpGMhb7tFTLMpeuPRaqaWM1yECx2AtzE3KCc.Vz6MkqRYqQiSgvZQdnBytw86Qbs2ZWUkGv22od935YF4s8M7V"
	l := NewLedger()
	schemaID, err := l.RegisterSchema(ctx, &vc.Schema{
		IssuerID: issuer, Name: "email", Version: "1.0", AttrNames: []string{"email"},
	})
	assert.NoError(err)
	cdID, err := l.RegisterCredentialDefinition(ctx, &vc.CredentialDefinition{
		IssuerID: issuer, SchemaID: schemaID, Tag: "default",
	})
	assert.NoError(err)
	credDef, err := l.GetCredentialDefinition(ctx, cdID)
	assert.NoError(err)

	e := Engine{}
	offer, err := e.CreateOffer(ctx, cdID)
	assert.NoError(err)
	req, meta, err := e.CreateRequest(ctx, "did:holder", offer, credDef)
	assert.NoError(err)
	cred, err := e.CreateCredential(ctx, vc.CreateCredentialParams{
		Offer: offer, Request: req,
		Values: vc.EncodeValues(map[string]string{"email": "john@example.com"}),
	})
	assert.NoError(err)
	info, err := e.ProcessCredential(ctx, cred, meta, credDef, nil)
	assert.NoError(err)
	assert.Equal(info.SchemaID, schemaID)
	_, err = l.GetSchema(ctx, info.SchemaID)
	assert.NoError(err)
}

func TestLedger_StatusListHistory(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	ctx := context.Background()
	l := NewLedger()
	id, err := l.RegisterRevocationRegistryDefinition(ctx, &vc.RevocationRegistryDefinition{
		IssuerID: "Th7", CredDefID: "cd", Tag: "0", MaxCredNum: 10,
	})
	assert.NoError(err)
	now := time.Now().Unix()

	assert.NoError(l.RegisterRevocationStatusList(ctx, &vc.RevocationStatusList{
		RevRegDefID: id, Revoked: []int{3}, Timestamp: now + 100,
	}))
	before, err := l.GetRevocationStatusList(ctx, id, now+10)
	assert.NoError(err)
	assert.That(!before.IsRevoked(3))
	after, err := l.GetRevocationStatusList(ctx, id, now+100)
	assert.NoError(err)
	assert.That(after.IsRevoked(3))
}

func TestEngine_Flow(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	ctx := context.Background()
	e := Engine{}
	credDef := &vc.CredentialDefinition{ID: "Th7:3:CL:Th7:2:p:1.0:t", SchemaID: "Th7:2:p:1.0"}

	offer, err := e.CreateOffer(ctx, credDef.ID)
	assert.NoError(err)
	req, meta, err := e.CreateRequest(ctx, "did:holder", offer, credDef)
	assert.NoError(err)
	cred, err := e.CreateCredential(ctx, vc.CreateCredentialParams{
		Offer: offer, Request: req,
		Values: vc.EncodeValues(map[string]string{"name": "John", "age": "99"}),
	})
	assert.NoError(err)
	info, err := e.ProcessCredential(ctx, cred, meta, credDef, nil)
	assert.NoError(err)
	assert.Equal(info.SchemaID, credDef.SchemaID)
	assert.Equal(info.Attributes["age"], "99")

	pr := &vc.ProofRequest{
		RequestedAttributes: map[string]vc.AttributeInfo{"n": {Name: "name"}},
		RequestedPredicates: map[string]vc.PredicateInfo{
			"a": {Name: "age", PType: "<", PValue: 50},
		},
	}
	rc := &vc.RequestedCredentials{
		RequestedAttributes: map[string]vc.RequestedAttribute{"n": {CredID: "c1", Revealed: true}},
		RequestedPredicates: map[string]vc.RequestedPredicate{"a": {CredID: "c1"}},
	}
	creds := map[string]vc.StoredCredential{"c1": {Credential: cred, Info: *info}}
	_, err = e.CreateProof(ctx, vc.CreateProofParams{
		ProofRequest: pr, RequestedCredentials: rc, Credentials: creds,
	})
	assert.Error(err)

	pr.RequestedPredicates["a"] = vc.PredicateInfo{Name: "age", PType: ">=", PValue: 50}
	proof, err := e.CreateProof(ctx, vc.CreateProofParams{
		ProofRequest: pr, RequestedCredentials: rc, Credentials: creds,
	})
	assert.NoError(err)
	ok, err := e.VerifyProof(ctx, vc.VerifyProofParams{
		ProofRequest:   pr,
		Proof:          proof,
		CredentialDefs: map[string]*vc.CredentialDefinition{credDef.ID: credDef},
	})
	assert.NoError(err)
	assert.That(ok)
}

func TestEngine_StatusListPerTimestamp(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	ctx := context.Background()
	e := Engine{}
	credDef := &vc.CredentialDefinition{ID: "Th7:3:CL:Th7:2:p:1.0:t", SchemaID: "Th7:2:p:1.0"}
	const revRegID = "Th7:4:Th7:3:CL:Th7:2:p:1.0:t:CL_ACCUM:0"

	issue := func() vc.StoredCredential {
		offer, err := e.CreateOffer(ctx, credDef.ID)
		assert.NoError(err)
		req, meta, err := e.CreateRequest(ctx, "did:holder", offer, credDef)
		assert.NoError(err)
		cred, err := e.CreateCredential(ctx, vc.CreateCredentialParams{
			Offer: offer, Request: req,
			Values:      vc.EncodeValues(map[string]string{"name": "John"}),
			RevRegDefID: revRegID, RevIndex: 1,
		})
		assert.NoError(err)
		info, err := e.ProcessCredential(ctx, cred, meta, credDef, nil)
		assert.NoError(err)
		return vc.StoredCredential{Credential: cred, Info: *info}
	}

	pr := &vc.ProofRequest{
		RequestedAttributes: map[string]vc.AttributeInfo{"n": {Name: "name"}},
		NonRevoked:          &vc.NonRevokedInterval{To: 200},
	}
	prove := func(ts int64) []byte {
		proof, err := e.CreateProof(ctx, vc.CreateProofParams{
			ProofRequest: pr,
			RequestedCredentials: &vc.RequestedCredentials{
				RequestedAttributes: map[string]vc.RequestedAttribute{
					"n": {CredID: "c1", Revealed: true, Timestamp: ts},
				},
			},
			Credentials: map[string]vc.StoredCredential{"c1": issue()},
		})
		assert.NoError(err)
		return proof
	}

	lists := make(vc.StatusLists)
	lists.Add(revRegID, 100, &vc.RevocationStatusList{RevRegDefID: revRegID, Timestamp: 100})
	lists.Add(revRegID, 200, &vc.RevocationStatusList{RevRegDefID: revRegID, Timestamp: 200, Revoked: []int{1}})
	verify := func(proof []byte) bool {
		ok, err := e.VerifyProof(ctx, vc.VerifyProofParams{
			ProofRequest:   pr,
			Proof:          proof,
			CredentialDefs: map[string]*vc.CredentialDefinition{credDef.ID: credDef},
			RevStatusLists: lists,
		})
		assert.NoError(err)
		return ok
	}
	assert.That(verify(prove(100)))
	assert.That(!verify(prove(200)))
}
