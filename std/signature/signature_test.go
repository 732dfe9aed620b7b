package signature

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/findy-network/findy-didcomm/agent/sec"
	"github.com/findy-network/findy-didcomm/agent/storage"
	"github.com/findy-network/findy-didcomm/std/connection"
	"github.com/findy-network/findy-didcomm/std/did"
	"github.com/lainio/err2/assert"
	"github.com/lainio/err2/try"
)

var (
	dir    string
	store  *storage.BoltStore
	wallet *sec.Wallet
)

func TestMain(m *testing.M) {
	setUp()
	code := m.Run()
	tearDown()
	os.Exit(code)
}

func setUp() {
	dir = try.To1(os.MkdirTemp("", "signature-test"))
	store = try.To1(storage.OpenBoltStore(filepath.Join(dir, "wallet.bolt")))
	wallet = try.To1(sec.NewWallet(store))
}

func tearDown() {
	_ = store.Close()
	_ = os.RemoveAll(dir)
}

func newPipe(t *testing.T) sec.Pipe {
	verkey, err := wallet.CreateKey(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	return sec.Pipe{Keys: wallet, In: verkey}
}

// stamped signs the connection JSON with the given signing time.
func stamped(t *testing.T, p sec.Pipe, ts time.Time, order binary.ByteOrder) *connection.Response {
	data := make([]byte, 8)
	order.PutUint64(data, uint64(ts.Unix()))
	data = append(data, []byte(`{"DID":"x"}`)...)
	sig, vk, err := p.Sign(context.Background(), data)
	if err != nil {
		t.Fatal(err)
	}
	r := connection.NewResponse("thread-1")
	r.ConnectionSignature = &connection.ConnectionSignature{
		Type:       Type,
		SignedData: base64.URLEncoding.EncodeToString(data),
		SignVerKey: vk,
		Signature:  base64.URLEncoding.EncodeToString(sig),
	}
	return r
}

func TestSignVerify(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	ctx := context.Background()
	p := newPipe(t)
	r := connection.NewResponse("thread-1")
	r.Connection = &connection.Connection{
		DID:    "did:sov:abc",
		DIDDoc: did.NewDoc("did:sov:abc", p.In, []string{"http://e"}, nil),
	}
	assert.NoError(Sign(ctx, r, p))

	data, err := json.Marshal(r)
	assert.NoError(err)
	var got connection.Response
	assert.NoError(json.Unmarshal(data, &got))
	assert.That(got.Connection == nil)

	signer, err := Verify(ctx, &got, sec.Pipe{Keys: wallet})
	assert.NoError(err)
	assert.Equal(signer, p.In)
	assert.Equal(got.Connection.DID, "did:sov:abc")
	assert.Equal(got.Connection.DIDDoc.Verkey(), p.In)

	other := newPipe(t)
	_, err = Verify(ctx, &got, sec.Pipe{Keys: wallet, Out: other.In})
	assert.That(errors.Is(err, ErrInvalidSignature))
}

func TestVerify_Tampered(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	ctx := context.Background()
	r := connection.NewResponse("thread-1")
	r.Connection = &connection.Connection{DID: "did:sov:abc"}
	assert.NoError(Sign(ctx, r, newPipe(t)))

	data, _ := base64.URLEncoding.DecodeString(r.ConnectionSignature.SignedData)
	data[len(data)-2] ^= 1
	r.ConnectionSignature.SignedData = base64.URLEncoding.EncodeToString(data)

	_, err := Verify(ctx, r, sec.Pipe{Keys: wallet})
	assert.That(errors.Is(err, ErrInvalidSignature))
}

func TestVerify_Timestamp(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name  string
		ts    time.Time
		order binary.ByteOrder
		ok    bool
	}{
		{"now", now, binary.BigEndian, true},
		{"little endian", now.Add(-time.Minute), binary.LittleEndian, true},
		{"expired", now.Add(-11 * time.Hour), binary.BigEndian, false},
		{"future", now.Add(time.Hour), binary.BigEndian, false},
		{"future little endian", now.Add(time.Hour), binary.LittleEndian, false},
	}
	p := newPipe(t)
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.PushTester(t)
			defer assert.PopTester()

			r := stamped(t, p, tt.ts, tt.order)
			_, err := Verify(context.Background(), r, sec.Pipe{Keys: wallet})
			if tt.ok {
				assert.NoError(err)
				assert.Equal(r.Connection.DID, "x")
			} else {
				assert.That(errors.Is(err, ErrExpired))
			}
		})
	}
}

func TestJWS(t *testing.T) {
	tests := []struct {
		name    string
		general bool
	}{
		{"flattened", false},
		{"general", true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.PushTester(t)
			defer assert.PopTester()

			ctx := context.Background()
			p := newPipe(t)
			payload := base64.URLEncoding.EncodeToString([]byte("did:peer:2.xyz"))
			j, err := SignJWS(ctx, p, payload)
			assert.NoError(err)

			var data []byte
			if tt.general {
				data, err = json.Marshal(generalJWS{Signatures: j.Signatures})
			} else {
				data, err = json.Marshal(j)
			}
			assert.NoError(err)

			parsed, err := ParseJWS(data)
			assert.NoError(err)
			assert.SLen(parsed.Signatures, 1)

			key, err := VerifyJWS(ctx, sec.Pipe{Keys: wallet}, parsed, payload)
			assert.NoError(err)
			assert.Equal(key, p.In)

			_, err = VerifyJWS(ctx, sec.Pipe{Keys: wallet}, parsed, payload+"x")
			assert.Error(err)

			_, err = VerifyJWS(ctx, sec.Pipe{Keys: wallet, Out: newPipe(t).In}, parsed, payload)
			assert.Error(err)
		})
	}
}

func TestParseJWS_Invalid(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	_, err := ParseJWS([]byte(`{"header":{"kid":"x"}}`))
	assert.Error(err)
	_, err = ParseJWS([]byte(`[]`))
	assert.Error(err)
}
