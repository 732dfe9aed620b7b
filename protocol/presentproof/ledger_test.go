package presentproof

import (
	"context"
	"testing"
	"time"

	"github.com/findy-network/findy-didcomm/agent/vc"
	"github.com/findy-network/findy-didcomm/agent/vc/vctest"
	"github.com/lainio/err2/assert"
	"github.com/lainio/err2/try"
)

func TestFetchLedgerObjects_StatusListPerTimestamp(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	ctx := context.Background()
	l := vctest.NewLedger()
	revRegID := try.To1(l.RegisterRevocationRegistryDefinition(ctx, &vc.RevocationRegistryDefinition{
		IssuerID: issuerDID, CredDefID: "cd", Tag: "0", MaxCredNum: 10,
	}))
	before := time.Now().Unix()
	after := before + 100
	try.To(l.RegisterRevocationStatusList(ctx, &vc.RevocationStatusList{
		RevRegDefID: revRegID, Revoked: []int{1}, Timestamp: after,
	}))

	s := &Service{ledger: l}
	o, err := s.fetchLedgerObjects(ctx, []ledgerRef{
		{RevRegID: revRegID, Timestamp: before},
		{RevRegID: revRegID, Timestamp: after},
		{RevRegID: revRegID, Timestamp: after},
	}, false)
	assert.NoError(err)
	assert.Equal(len(o.statusLists[revRegID]), 2)

	early, ok := o.statusLists.Get(revRegID, before)
	assert.That(ok)
	assert.That(!early.IsRevoked(1))
	late, ok := o.statusLists.Get(revRegID, after)
	assert.That(ok)
	assert.That(late.IsRevoked(1))
}
