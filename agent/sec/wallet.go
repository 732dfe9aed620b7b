package sec

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/findy-network/findy-didcomm/agent/storage"
	"github.com/findy-network/findy-didcomm/std/did"
	"github.com/golang/glog"
	"github.com/golang/protobuf/proto"
	"github.com/google/tink/go/insecurecleartextkeyset"
	"github.com/google/tink/go/keyset"
	ed25519pb "github.com/google/tink/go/proto/ed25519_go_proto"
	cryptoapi "github.com/hyperledger/aries-framework-go/pkg/crypto"
	"github.com/hyperledger/aries-framework-go/pkg/crypto/tinkcrypto"
	"github.com/hyperledger/aries-framework-go/pkg/doc/util/jwkkid"
	"github.com/hyperledger/aries-framework-go/pkg/kms"
	"github.com/lainio/err2"
	"github.com/lainio/err2/assert"
	"github.com/lainio/err2/try"
	"github.com/mr-tron/base58"
)

// Wallet is the Store on the aries local KMS. The Ed25519 keysets live in
// the agent storage and are found by the JWK thumbprint of the verkey, which
// is also how the legacy packers look them up.
type Wallet struct {
	keysets *kmsStore
	kms     kms.KeyManager
	crypto  cryptoapi.Crypto
	packers
}

func NewWallet(store storage.Store) (w *Wallet, err error) {
	defer err2.Handle(&err, "new wallet")

	w = new(Wallet)
	w.keysets, w.kms = try.To2(newKMS(store))
	w.crypto = try.To1(tinkcrypto.New())
	w.packers = newPackers(w)
	return w, nil
}

func (w *Wallet) CreateKey(_ context.Context, seed []byte) (verkey string, err error) {
	defer err2.Handle(&err, "create key")

	if seed == nil {
		seed = make([]byte, ed25519.SeedSize)
		try.To1(rand.Read(seed))
	}
	if len(seed) != ed25519.SeedSize {
		return "", fmt.Errorf("seed length %d", len(seed))
	}
	sk := ed25519.NewKeyFromSeed(seed)
	pk := sk.Public().(ed25519.PublicKey)
	verkey = base58.Encode(pk)
	kid := try.To1(keyID(pk))
	if try.To1(w.keysets.has(kid)) {
		return verkey, nil
	}
	try.To2(w.kms.ImportPrivateKey(sk, kms.ED25519Type, kms.WithKeyID(kid)))
	glog.V(3).Infoln("key created:", verkey)
	return verkey, nil
}

func (w *Wallet) CreateDID(ctx context.Context, seed []byte) (didStr, verkey string, err error) {
	defer err2.Handle(&err, "create did")

	verkey = try.To1(w.CreateKey(ctx, seed))
	didStr = try.To1(did.LegacyDID(verkey))
	return didStr, verkey, nil
}

// keyID is the KMS ID of the Ed25519 public key.
func keyID(pk []byte) (string, error) {
	return jwkkid.CreateKID(pk, kms.ED25519Type)
}

func verkeyBytes(verkey string) ([]byte, error) {
	pk, err := base58.Decode(verkey)
	if err != nil || len(pk) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid verkey %s", verkey)
	}
	return pk, nil
}

// handle returns the private keyset of the verkey.
func (w *Wallet) handle(verkey string) (kh *keyset.Handle, err error) {
	defer err2.Handle(&err)

	kid := try.To1(keyID(try.To1(verkeyBytes(verkey))))
	if !try.To1(w.keysets.has(kid)) {
		return nil, fmt.Errorf("%s: %w", verkey, ErrKeyNotFound)
	}
	h := try.To1(w.kms.Get(kid))
	kh, ok := h.(*keyset.Handle)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected key handle %T", verkey, h)
	}
	return kh, nil
}

// owns tells if the wallet has the private key of the verkey.
func (w *Wallet) owns(verkey string) bool {
	_, err := w.handle(verkey)
	return err == nil
}

func (w *Wallet) Sign(_ context.Context, data []byte, verkey string) (sig []byte, err error) {
	defer err2.Handle(&err, "sign")

	return try.To1(w.crypto.Sign(data, try.To1(w.handle(verkey)))), nil
}

// Verify returns false for a wrong signature. Only a malformed verkey is an
// error.
func (w *Wallet) Verify(_ context.Context, data, signature []byte, verkey string) (ok bool, err error) {
	defer err2.Handle(&err, "verify")

	pk := try.To1(verkeyBytes(verkey))
	kh := try.To1(w.kms.PubKeyBytesToHandle(pk, kms.ED25519Type))
	if err := w.crypto.Verify(signature, data, kh); err != nil {
		glog.V(5).Infoln("signature of", verkey, "not valid:", err)
		return false, nil
	}
	return true, nil
}

func (w *Wallet) ExportJWK(_ context.Context, verkey string) (jwk *JWK, err error) {
	defer err2.Handle(&err, "export jwk")

	ks := insecurecleartextkeyset.KeysetMaterial(try.To1(w.handle(verkey)))
	var key *ed25519pb.Ed25519PrivateKey
	for _, k := range ks.Key {
		if k.KeyId != ks.PrimaryKeyId {
			continue
		}
		key = new(ed25519pb.Ed25519PrivateKey)
		try.To(proto.Unmarshal(k.KeyData.Value, key))
	}
	if key == nil || len(key.KeyValue) != ed25519.SeedSize {
		return nil, fmt.Errorf("%s: no ed25519 private key in keyset", verkey)
	}
	pk := ed25519.NewKeyFromSeed(key.KeyValue).Public().(ed25519.PublicKey)
	return &JWK{
		Kty: "OKP",
		Crv: "Ed25519",
		X:   base64.RawURLEncoding.EncodeToString(pk),
		D:   base64.RawURLEncoding.EncodeToString(key.KeyValue),
	}, nil
}

// ImportJWK stores the private key of the JWK. Nothing is stored if x isn't
// the public key of d.
func (w *Wallet) ImportJWK(ctx context.Context, jwk *JWK) (verkey string, err error) {
	defer err2.Handle(&err, "import jwk")

	assert.INotNil(jwk)
	if jwk.Kty != "OKP" || jwk.Crv != "Ed25519" || jwk.D == "" {
		return "", errors.New("only private Ed25519 OKP keys are supported")
	}
	seed := try.To1(base64.RawURLEncoding.DecodeString(jwk.D))
	if len(seed) != ed25519.SeedSize {
		return "", fmt.Errorf("jwk d length %d", len(seed))
	}
	pk := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	if base64.RawURLEncoding.EncodeToString(pk) != jwk.X {
		return "", errors.New("jwk x doesn't match d")
	}
	return w.CreateKey(ctx, seed)
}
