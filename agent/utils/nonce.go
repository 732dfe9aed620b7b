package utils

import (
	"crypto/rand"
	"math"
	"math/big"
	"strconv"

	"github.com/google/uuid"
)

var maxNonce = big.NewInt(math.MaxInt64)

// NewNonce returns a random nonce from crypto/rand. It panics if the
// randomness source fails.
func NewNonce() uint64 {
	r, err := rand.Int(rand.Reader, maxNonce)
	if err != nil {
		panic("nonce: " + err.Error())
	}
	return r.Uint64()
}

// NewNonceStr returns the nonce in the decimal format of the credential
// offers and the proof requests.
func NewNonceStr() string {
	return strconv.FormatUint(NewNonce(), 10)
}

// UUID returns a new v4 UUID.
func UUID() string {
	return uuid.New().String()
}
