package did

import (
	"fmt"
	"strings"

	"github.com/golang/glog"
	"github.com/hyperledger/aries-framework-go/pkg/vdr/fingerprint"
	"github.com/mr-tron/base58"
)

const didKeyPrefix = "did:key:"

// DIDKey returns did:key form of the base58 Ed25519 verkey.
func DIDKey(verkey string) (string, error) {
	pk, err := base58.Decode(verkey)
	if err != nil {
		return "", fmt.Errorf("did:key from verkey: %w", err)
	}
	didKey, _ := fingerprint.CreateDIDKey(pk)
	return didKey, nil
}

// IsDIDKey tells if the key is in did:key format.
func IsDIDKey(key string) bool {
	return strings.HasPrefix(key, didKeyPrefix)
}

// VerkeyFromDIDKey returns the base58 verkey of the did:key. A possible
// fragment is ignored.
func VerkeyFromDIDKey(didKey string) (string, error) {
	if i := strings.Index(didKey, "#"); i > 0 {
		didKey = didKey[:i]
	}
	pk, err := fingerprint.PubKeyFromDIDKey(didKey)
	if err != nil {
		return "", fmt.Errorf("verkey from %s: %w", didKey, err)
	}
	return base58.Encode(pk), nil
}

// NormalizeKey returns the base58 form of the key which can be base58 or
// did:key. Invalid did:keys are returned as is.
func NormalizeKey(key string) string {
	if !IsDIDKey(key) {
		return key
	}
	vk, err := VerkeyFromDIDKey(key)
	if err != nil {
		glog.Warningln("normalize key:", err)
		return key
	}
	return vk
}

// Ed25519Fingerprint returns the multibase multicodec fingerprint, z6Mk..., of
// the base58 verkey.
func Ed25519Fingerprint(verkey string) (string, error) {
	pk, err := base58.Decode(verkey)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return fingerprint.KeyFingerprint(fingerprint.ED25519PubKeyMultiCodec, pk), nil
}

// VerkeyFromFingerprint is the inverse of Ed25519Fingerprint.
func VerkeyFromFingerprint(fp string) (string, error) {
	pk, code, err := fingerprint.PubKeyFromFingerprint(fp)
	if err != nil {
		return "", fmt.Errorf("verkey from fingerprint: %w", err)
	}
	if code != fingerprint.ED25519PubKeyMultiCodec {
		return "", fmt.Errorf("verkey from fingerprint: unsupported codec %x", code)
	}
	return base58.Encode(pk), nil
}
