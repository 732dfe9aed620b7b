/*
Package packager is the envelope codec of the agent. It packs plaintext
messages with the secure store and wraps them in forward messages for every
routing key so that each mediator can open only its own layer.
*/
package packager

import (
	"context"

	"github.com/findy-network/findy-didcomm/agent/didcomm"
	"github.com/findy-network/findy-didcomm/agent/sec"
	"github.com/findy-network/findy-didcomm/std/common"
	"github.com/golang/glog"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

// Envelope is the outbound message with its keys.
type Envelope struct {
	Message       didcomm.Message
	RecipientKeys []string
	RoutingKeys   []string
	SenderKey     string
}

type Packager struct {
	store  sec.Store
	legacy bool
}

// New creates a packager. If legacy is true the forward messages have the
// did:sov type prefix.
func New(store sec.Store, legacy bool) *Packager {
	return &Packager{store: store, legacy: legacy}
}

// Store returns the secure store of the packager.
func (p *Packager) Store() sec.Store {
	return p.store
}

// PackMessage packs the message to its recipients and then wraps it for
// every routing key: the first routing key is the mediator closest to the
// recipient.
func (p *Packager) PackMessage(ctx context.Context, env Envelope) (packed []byte, err error) {
	defer err2.Handle(&err, "pack message")

	payload := try.To1(didcomm.Marshal(env.Message, p.legacy))
	packed = try.To1(p.store.Pack(ctx, payload, env.RecipientKeys, env.SenderKey))

	if len(env.RoutingKeys) == 0 {
		return packed, nil
	}
	to := env.RecipientKeys[0]
	for _, rk := range env.RoutingKeys {
		glog.V(5).Infoln("forward to", to, "by", rk)
		fwd := common.NewForward(to, packed)
		data := try.To1(didcomm.Marshal(fwd, p.legacy))
		packed = try.To1(p.store.Pack(ctx, data, []string{rk}, ""))
		to = rk
	}
	return packed, nil
}

// UnpackMessage decrypts the envelope.
func (p *Packager) UnpackMessage(ctx context.Context, packed []byte) (*sec.Unpacked, error) {
	return p.store.Unpack(ctx, packed)
}
