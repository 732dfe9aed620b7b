package sec

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

// Pipe is the signing direction between two keys: In is ours and Out is the
// other end's. The handshake signatures are made and checked through it.
type Pipe struct {
	Keys Signer
	In   string
	Out  string
}

// Sign signs with the In key and returns the verkey as well.
func (p Pipe) Sign(ctx context.Context, data []byte) (sig []byte, vk string, err error) {
	defer err2.Handle(&err, "pipe sign")

	if p.In == "" {
		return nil, "", errors.New("pipe has no in key")
	}
	return try.To1(p.Keys.Sign(ctx, data, p.In)), p.In, nil
}

// SignAndStamp prefixes the data with the big endian Unix time and signs
// the result. It returns the signed data with the signature and verkey.
func (p Pipe) SignAndStamp(ctx context.Context, src []byte) (data, sig []byte, vk string, err error) {
	defer err2.Handle(&err, "pipe sign and stamp")

	data = make([]byte, 8, 8+len(src))
	binary.BigEndian.PutUint64(data, uint64(time.Now().Unix()))
	data = append(data, src...)

	sig, vk = try.To2(p.Sign(ctx, data))
	return data, sig, vk, nil
}

// Verify verifies the signature made by the Out key.
func (p Pipe) Verify(ctx context.Context, data, sig []byte) (bool, error) {
	if p.Out == "" {
		return false, errors.New("pipe has no out key")
	}
	return p.Keys.Verify(ctx, data, sig, p.Out)
}
