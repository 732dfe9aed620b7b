package outofband

import (
	"encoding/json"
	"testing"

	"github.com/findy-network/findy-didcomm/agent/didcomm"
	"github.com/findy-network/findy-didcomm/std/connection"
	"github.com/findy-network/findy-didcomm/std/trustping"
	"github.com/lainio/err2/assert"
	"github.com/mr-tron/base58"
)

var (
	key1 = base58.Encode(append(make([]byte, 31), 1))
	key2 = base58.Encode(append(make([]byte, 31), 2))
)

func TestNewInvitation(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		ok     bool
	}{
		{"handshake", Params{HandshakeProtocols: []string{connection.Protocol}}, true},
		{"requests", Params{Requests: []didcomm.Message{trustping.NewPing(true)}}, true},
		{"neither", Params{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.PushTester(t)
			defer assert.PopTester()

			inv, err := NewInvitation(tt.params, key1, []string{"http://e"}, []string{key2})
			if !tt.ok {
				assert.Error(err)
				return
			}
			assert.NoError(err)
			assert.SLen(inv.Services, 1)
			assert.Equal(inv.RecipientKeys()[0], key1)
			assert.Equal(inv.DIDCommServices()[0].RoutingKeys[0], key2)
		})
	}
}

func TestInvitation_URL(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	inv, err := NewInvitation(Params{
		Label:              "faber",
		HandshakeProtocols: []string{connection.Protocol},
	}, key1, []string{"http://e"}, nil)
	assert.NoError(err)
	s, err := inv.ToURL("https://example.org", true)
	assert.NoError(err)
	assert.That(HasInvitation(s))

	got, legacy, err := ParseURL(s)
	assert.NoError(err)
	assert.That(legacy == nil)
	assert.Equal(got.ID, inv.ID)
	assert.Equal(got.Type, InvitationType)
	assert.Equal(got.Label, "faber")
	assert.DeepEqual(got.RecipientKeys(), []string{key1})
}

func TestParseURL_Legacy(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	ci := connection.NewInvitation("alice", "http://e", []string{key1}, nil)
	s, err := ci.ToURL("https://example.org", false)
	assert.NoError(err)

	inv, legacy, err := ParseURL(s)
	assert.NoError(err)
	assert.That(inv == nil)
	assert.Equal(legacy.ID, ci.ID)

	converted, err := FromLegacy(legacy)
	assert.NoError(err)
	assert.Equal(converted.ID, ci.ID)
	assert.DeepEqual(converted.HandshakeProtocols, []string{connection.Protocol})
	assert.DeepEqual(converted.RecipientKeys(), []string{key1})
}

func TestService_JSON(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	data := []byte(`["did:sov:LjgpST2rjsoxYegQDRm7EL",
		{"id":"#inline","type":"did-communication",
		 "recipientKeys":["did:key:z6MkmjY8GnV5i9YTDtPETC2uUAW6ejw3nk5mXF5yci5ab7th"],
		 "serviceEndpoint":"http://e"}]`)
	var svcs []Service
	assert.NoError(json.Unmarshal(data, &svcs))
	assert.SLen(svcs, 2)
	assert.Equal(svcs[0].DID, "did:sov:LjgpST2rjsoxYegQDRm7EL")
	assert.Equal(svcs[1].Inline.ServiceEndpoint, "http://e")

	out, err := json.Marshal(svcs)
	assert.NoError(err)
	var again []Service
	assert.NoError(json.Unmarshal(out, &again))
	assert.Equal(again[0].DID, svcs[0].DID)
	assert.Equal(again[1].Inline.ID, "#inline")
}
