/*
Package sec is the secure store of the agent. Store is the interface the
protocols use for keys, signatures and the DIDComm v1 envelope encryption.
Wallet implements it with the aries local KMS and the legacy envelope
packers, keeping the keysets in the agent's storage.
*/
package sec

import (
	"context"
	"errors"
)

var (
	// ErrKeyNotFound is returned when the wallet doesn't have the private
	// key of the verkey.
	ErrKeyNotFound = errors.New("key not found")

	// ErrNoRecipient is returned by Unpack when none of the recipients of
	// the envelope is ours.
	ErrNoRecipient = errors.New("no own recipient key in envelope")
)

// Unpacked is the decrypted envelope. SenderKey is empty for anoncrypt.
type Unpacked struct {
	Plaintext    []byte
	SenderKey    string
	RecipientKey string
}

// JWK is the Ed25519 key in JWK format. D is only in exported private keys.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	D   string `json:"d,omitempty"`
}

// Signer signs with own keys and verifies any key's signatures. Verkeys are
// base58 encoded Ed25519 public keys.
type Signer interface {
	Sign(ctx context.Context, data []byte, verkey string) ([]byte, error)
	Verify(ctx context.Context, data, signature []byte, verkey string) (bool, error)
}

// Store is the secure store.
type Store interface {
	Signer

	// CreateKey creates a new key pair. Seed is optional.
	CreateKey(ctx context.Context, seed []byte) (verkey string, err error)
	// CreateDID creates a key and returns the legacy DID of it.
	CreateDID(ctx context.Context, seed []byte) (did, verkey string, err error)

	Pack(ctx context.Context, payload []byte, recipientKeys []string, senderKey string) ([]byte, error)
	Unpack(ctx context.Context, envelope []byte) (*Unpacked, error)

	ExportJWK(ctx context.Context, verkey string) (*JWK, error)
	ImportJWK(ctx context.Context, jwk *JWK) (verkey string, err error)
}
