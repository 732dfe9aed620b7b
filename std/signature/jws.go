package signature

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/findy-network/findy-didcomm/agent/sec"
	"github.com/findy-network/findy-didcomm/std/did"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
	"github.com/mr-tron/base58"
)

// JWK is the Ed25519 public key in the protected header.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Kid string `json:"kid,omitempty"`
}

// JWSHeader is the protected and unprotected header of the detached JWS.
type JWSHeader struct {
	Alg string `json:"alg,omitempty"`
	Kid string `json:"kid,omitempty"`
	JWK *JWK   `json:"jwk,omitempty"`
}

// JWSSignature is a single signature of the JWS.
type JWSSignature struct {
	Header    *JWSHeader `json:"header,omitempty"`
	Protected string     `json:"protected"`
	Signature string     `json:"signature"`
}

// JWS is the detached JWS of an attachment. Both the flattened form and the
// general form with the signatures array are accepted by ParseJWS. The
// payload is the attachment's base64 data.
type JWS struct {
	Signatures []JWSSignature
}

type generalJWS struct {
	Signatures []JWSSignature `json:"signatures"`
}

// ParseJWS decodes the JWS. The general form is recognized by its signatures
// member, otherwise the data must be the flattened form.
func ParseJWS(data []byte) (j *JWS, err error) {
	defer err2.Handle(&err, "parse JWS")

	var members map[string]json.RawMessage
	try.To(json.Unmarshal(data, &members))

	if _, ok := members["signatures"]; ok {
		var g generalJWS
		try.To(json.Unmarshal(data, &g))
		return &JWS{Signatures: g.Signatures}, nil
	}
	var s JWSSignature
	try.To(json.Unmarshal(data, &s))
	if s.Signature == "" || s.Protected == "" {
		return nil, fmt.Errorf("flattened JWS: %w", ErrInvalidSignature)
	}
	return &JWS{Signatures: []JWSSignature{s}}, nil
}

// MarshalJSON writes the flattened form when there is one signature.
func (j *JWS) MarshalJSON() ([]byte, error) {
	if len(j.Signatures) == 1 {
		return json.Marshal(j.Signatures[0])
	}
	return json.Marshal(generalJWS{Signatures: j.Signatures})
}

// SignJWS creates a detached JWS over the base64url payload with the pipe's
// In key.
func SignJWS(ctx context.Context, pipe sec.Pipe, payloadB64 string) (j *JWS, err error) {
	defer err2.Handle(&err, "sign JWS")

	verkey := pipe.In
	pk := try.To1(base58.Decode(verkey))
	didKey := try.To1(did.DIDKey(verkey))
	protected := JWSHeader{
		Alg: "EdDSA",
		JWK: &JWK{
			Kty: "OKP",
			Crv: "Ed25519",
			X:   base64.RawURLEncoding.EncodeToString(pk),
			Kid: didKey,
		},
	}
	protectedB64 := base64.RawURLEncoding.EncodeToString(
		try.To1(json.Marshal(protected)))

	sig, _ := try.To2(pipe.Sign(ctx, []byte(protectedB64+"."+payloadB64)))

	return &JWS{Signatures: []JWSSignature{{
		Header:    &JWSHeader{Kid: didKey},
		Protected: protectedB64,
		Signature: base64.RawURLEncoding.EncodeToString(sig),
	}}}, nil
}

// VerifyJWS verifies the JWS over the base64url payload and returns the
// base58 verkey of the first valid signature. If the pipe has an Out key
// only its signature is accepted.
func VerifyJWS(ctx context.Context, pipe sec.Pipe, j *JWS, payloadB64 string) (verkey string, err error) {
	defer err2.Handle(&err, "verify JWS")

	for _, s := range j.Signatures {
		var protected JWSHeader
		pdata, err := base64.RawURLEncoding.DecodeString(s.Protected)
		if err != nil || json.Unmarshal(pdata, &protected) != nil {
			continue
		}
		key := signerKey(&protected, s.Header)
		if key == "" || (pipe.Out != "" && key != pipe.Out) {
			continue
		}
		sig, err := base64.RawURLEncoding.DecodeString(s.Signature)
		if err != nil {
			continue
		}
		p := sec.Pipe{Keys: pipe.Keys, Out: key}
		if ok, err := p.Verify(ctx, []byte(s.Protected+"."+payloadB64), sig); err == nil && ok {
			return key, nil
		}
	}
	return "", ErrInvalidSignature
}

func signerKey(protected, header *JWSHeader) string {
	if protected.JWK != nil && protected.JWK.X != "" {
		pk, err := base64.RawURLEncoding.DecodeString(protected.JWK.X)
		if err == nil {
			return base58.Encode(pk)
		}
	}
	for _, h := range []*JWSHeader{protected, header} {
		if h != nil && did.IsDIDKey(h.Kid) {
			if key, err := did.VerkeyFromDIDKey(h.Kid); err == nil {
				return key
			}
		}
	}
	return ""
}
