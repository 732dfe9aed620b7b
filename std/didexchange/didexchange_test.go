package didexchange

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"testing"

	"github.com/findy-network/findy-didcomm/agent/sec"
	"github.com/findy-network/findy-didcomm/std/did"
	"github.com/lainio/err2/assert"
	"github.com/mr-tron/base58"
)

// keys is the sec.Signer of a single key pair.
type keys struct {
	sk ed25519.PrivateKey
}

func (k keys) Sign(_ context.Context, data []byte, _ string) ([]byte, error) {
	return ed25519.Sign(k.sk, data), nil
}

func (k keys) Verify(_ context.Context, data, sig []byte, verkey string) (bool, error) {
	pk, err := base58.Decode(verkey)
	if err != nil {
		return false, err
	}
	return ed25519.Verify(pk, data, sig), nil
}

func TestRequest_Doc(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	verkey := base58.Encode(make([]byte, 32))
	doc := did.NewDoc("did:sov:abc", verkey, []string{"http://e"}, nil)
	r, err := NewRequest("bob", "inv-1", "did:sov:abc", doc)
	assert.NoError(err)
	assert.Equal(r.ParentThreadID(), "inv-1")

	data, err := json.Marshal(r)
	assert.NoError(err)
	var got Request
	assert.NoError(json.Unmarshal(data, &got))
	gotDoc, err := Doc(got.DID, got.DIDDoc)
	assert.NoError(err)
	assert.Equal(gotDoc.Verkey(), verkey)
}

func TestResponse_Rotate(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	pk, sk, err := ed25519.GenerateKey(rand.Reader)
	assert.NoError(err)
	invKey := base58.Encode(pk)

	peerDID, err := did.NewPeerDID2(invKey, []string{"http://e"}, nil)
	assert.NoError(err)
	r := NewResponse("thread-1", peerDID)
	k := keys{sk: sk}
	assert.NoError(r.SignRotate(context.Background(), sec.Pipe{Keys: k, In: invKey}))

	data, err := json.Marshal(r)
	assert.NoError(err)
	var got Response
	assert.NoError(json.Unmarshal(data, &got))
	signer, err := got.VerifyRotate(context.Background(), sec.Pipe{Keys: k})
	assert.NoError(err)
	assert.Equal(signer, invKey)

	got.DID = "did:peer:2.other"
	_, err = got.VerifyRotate(context.Background(), sec.Pipe{Keys: k})
	assert.Error(err)
}
