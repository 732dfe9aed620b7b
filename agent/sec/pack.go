package sec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/findy-network/findy-didcomm/agent/utils"
	cryptoapi "github.com/hyperledger/aries-framework-go/pkg/crypto"
	"github.com/hyperledger/aries-framework-go/pkg/didcomm/packer"
	legacyanon "github.com/hyperledger/aries-framework-go/pkg/didcomm/packer/legacy/anoncrypt"
	legacyauth "github.com/hyperledger/aries-framework-go/pkg/didcomm/packer/legacy/authcrypt"
	"github.com/hyperledger/aries-framework-go/pkg/didcomm/transport"
	vdrapi "github.com/hyperledger/aries-framework-go/pkg/framework/aries/api/vdr"
	"github.com/hyperledger/aries-framework-go/pkg/kms"
	spi "github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
	"github.com/mr-tron/base58"
)

const (
	algAuth = "Authcrypt"
	algAnon = "Anoncrypt"
)

// packers are the DIDComm v1 envelope packers. Both have the same typ, so
// the alg of the protected header selects the one to unpack with.
type packers struct {
	auth packer.Packer
	anon packer.Packer
}

func newPackers(w *Wallet) packers {
	p := packerProvider{w: w}
	return packers{
		auth: legacyauth.New(p),
		anon: legacyanon.New(p),
	}
}

// packerProvider gives the packers the KMS of the wallet. The legacy
// packers don't use the storage or the VDR.
type packerProvider struct {
	w *Wallet
}

func (p packerProvider) KMS() kms.KeyManager {
	return p.w.kms
}

func (p packerProvider) Crypto() cryptoapi.Crypto {
	return p.w.crypto
}

func (p packerProvider) StorageProvider() spi.Provider {
	return nil
}

func (p packerProvider) VDRegistry() vdrapi.Registry {
	return nil
}

// protectedHeader is the part of the envelope header needed to select the
// packer and to know if the envelope is for us.
type protectedHeader struct {
	Alg        string `json:"alg"`
	Recipients []struct {
		Header struct {
			Kid string `json:"kid"`
		} `json:"header"`
	} `json:"recipients"`
}

// Pack encrypts the payload to the recipients. If senderKey is empty the
// envelope is anoncrypted, otherwise authcrypted by the sender key.
func (w *Wallet) Pack(_ context.Context, payload []byte, recipientKeys []string, senderKey string) (_ []byte, err error) {
	defer err2.Handle(&err, "pack")

	if len(recipientKeys) == 0 {
		return nil, errors.New("no recipient keys")
	}
	recipients := make([][]byte, 0, len(recipientKeys))
	for _, rk := range recipientKeys {
		recipients = append(recipients, try.To1(verkeyBytes(rk)))
	}
	if senderKey == "" {
		return w.anon.Pack("", payload, nil, recipients)
	}
	try.To1(w.handle(senderKey))
	return w.auth.Pack("", payload, try.To1(verkeyBytes(senderKey)), recipients)
}

// Unpack decrypts the envelope with the first own recipient key.
func (w *Wallet) Unpack(_ context.Context, data []byte) (u *Unpacked, err error) {
	defer err2.Handle(&err, "unpack")

	var env struct {
		Protected string `json:"protected"`
	}
	try.To(json.Unmarshal(data, &env))
	var hdr protectedHeader
	try.To(json.Unmarshal(try.To1(utils.DecodeB64(env.Protected)), &hdr))

	own := false
	for _, r := range hdr.Recipients {
		if w.owns(r.Header.Kid) {
			own = true
			break
		}
	}
	if !own {
		return nil, ErrNoRecipient
	}

	var out *transport.Envelope
	switch hdr.Alg {
	case algAuth:
		out = try.To1(w.auth.Unpack(data))
	case algAnon:
		out = try.To1(w.anon.Unpack(data))
	default:
		return nil, fmt.Errorf("unsupported alg %s", hdr.Alg)
	}
	u = &Unpacked{
		Plaintext:    out.Message,
		RecipientKey: base58.Encode(out.ToKey),
	}
	if len(out.FromKey) > 0 {
		u.SenderKey = base58.Encode(out.FromKey)
	}
	return u, nil
}
