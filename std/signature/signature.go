/*
Package signature implements the two signing formats of the handshake
protocols: the connection~sig decorator of the legacy connection protocol and
the detached JWS of DID-Exchange attachments.
*/
package signature

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/findy-network/findy-common-go/dto"
	"github.com/findy-network/findy-didcomm/agent/didcomm"
	"github.com/findy-network/findy-didcomm/agent/sec"
	"github.com/findy-network/findy-didcomm/std/connection"
	"github.com/golang/glog"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

// Type is the message type of the connection signature decorator.
const Type = didcomm.AriesPrefix + "/signature/1.0/ed25519Sha512_single"

const connectionSigExpTime = 10 * time.Hour

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrExpired          = errors.New("signature timestamp expired")
)

// Sign signs the response's connection field with the pipe's In key and
// sets the connection~sig decorator.
func Sign(ctx context.Context, r *connection.Response, pipe sec.Pipe) (err error) {
	defer err2.Handle(&err, "sign connection")

	connectionJSON := try.To1(json.Marshal(r.Connection))
	signedData, sig, vk := try.To3(pipe.SignAndStamp(ctx, connectionJSON))

	r.ConnectionSignature = &connection.ConnectionSignature{
		Type:       Type,
		SignedData: base64.URLEncoding.EncodeToString(signedData),
		SignVerKey: vk,
		Signature:  base64.URLEncoding.EncodeToString(sig),
	}
	return nil
}

// Verify verifies the connection~sig decorator and sets the response's
// Connection field. If the pipe has no Out key the signer key of the
// decorator is used, otherwise they must match. Signer returns the key which
// signed.
func Verify(ctx context.Context, r *connection.Response, pipe sec.Pipe) (signer string, err error) {
	defer err2.Handle(&err, "verify connection signature")

	cs := r.ConnectionSignature
	if cs == nil {
		return "", fmt.Errorf("connection~sig missing: %w", ErrInvalidSignature)
	}
	switch pipe.Out {
	case "":
		pipe.Out = cs.SignVerKey
	case cs.SignVerKey:
	default:
		return "", fmt.Errorf("signed by %s, not %s: %w", cs.SignVerKey,
			pipe.Out, ErrInvalidSignature)
	}
	data := try.To1(base64.URLEncoding.DecodeString(cs.SignedData))
	if len(data) <= 8 {
		return "", fmt.Errorf("missing or invalid signature data: %w",
			ErrInvalidSignature)
	}
	sig := try.To1(base64.URLEncoding.DecodeString(cs.Signature))

	if !try.To1(pipe.Verify(ctx, data, sig)) {
		glog.Warningln("cannot verify connection signature by", cs.SignVerKey)
		return "", ErrInvalidSignature
	}

	ts := try.To1(timestamp(data, time.Now()))
	glog.V(3).Infoln("verified connection signature w/ ts:", ts)

	var conn connection.Connection
	dto.FromJSON(data[8:], &conn)
	r.Connection = &conn
	return pipe.Out, nil
}

// timestamp reads the signing time of the signed data. Some agents write it
// little endian. The time must not be in the future or older than the
// expiration time.
func timestamp(data []byte, now time.Time) (time.Time, error) {
	valid := func(ts time.Time) bool {
		diff := now.Sub(ts)
		return diff >= 0 && diff <= connectionSigExpTime
	}
	ts := time.Unix(int64(binary.BigEndian.Uint64(data)), 0)
	if valid(ts) {
		return ts, nil
	}
	le := time.Unix(int64(binary.LittleEndian.Uint64(data)), 0)
	if valid(le) {
		return le, nil
	}
	glog.Warningln("connection signature timestamp is invalid:", ts)
	return ts, ErrExpired
}
