package mediation

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/findy-network/findy-didcomm/agent/comm"
	"github.com/findy-network/findy-didcomm/agent/comm/commtest"
	"github.com/findy-network/findy-didcomm/agent/psm"
	"github.com/findy-network/findy-didcomm/agent/utils"
	"github.com/findy-network/findy-didcomm/protocol/connection"
	"github.com/findy-network/findy-didcomm/protocol/outofband"
	"github.com/findy-network/findy-didcomm/std/mediate"
	"github.com/lainio/err2/assert"
	"github.com/lainio/err2/try"
)

var (
	dir     string
	network *commtest.Network
)

func TestMain(m *testing.M) {
	setUp()
	code := m.Run()
	tearDown()
	os.Exit(code)
}

func setUp() {
	dir = try.To1(os.MkdirTemp("", "mediation-test"))
	network = commtest.NewNetwork()
}

func tearDown() {
	_ = os.RemoveAll(dir)
}

func partyName(t *testing.T, name string) string {
	return strings.ReplaceAll(t.Name(), "/", "_") + "-" + name
}

type mediatorAgent struct {
	*commtest.Party
	oob *outofband.Service
	med *Mediator
}

func newMediator(t *testing.T) *mediatorAgent {
	p := try.To1(network.NewParty(dir, partyName(t, "mediator")))
	conns := connection.New(connection.Config{Label: "mediator", AutoAccept: true},
		p.Repos, p.Bus, p.Wallet, p.Sender, p)
	oob := outofband.New(outofband.Config{Label: "mediator"},
		p.Repos, p.Bus, p.Sender, p.Dispatcher, conns, p)
	med := NewMediator(p.Endpoint, p.Repos, p.Bus, p.Sender, p.Receiver.Receive)
	p.Dispatcher.Register(conns.Processor())
	p.Dispatcher.Register(oob.Processor())
	p.Dispatcher.Register(med.Processor())
	oob.Start()
	med.Start()
	t.Cleanup(func() {
		oob.Stop()
		p.Close()
	})
	return &mediatorAgent{Party: p, oob: oob, med: med}
}

func (m *mediatorAgent) invitationURL(t *testing.T) string {
	sent := try.To1(m.oob.CreateInvitation(context.Background(), outofband.CreateParams{
		MultiUse: true,
	}))
	return try.To1(sent.Invitation.ToURL("http://example.com/mediator", false))
}

type recipientAgent struct {
	*commtest.Party
	conns *connection.Service
	oob   *outofband.Service
	rec   *Recipient
}

// newRecipient creates the agent without an endpoint of its own. It can
// be reached only through the mediator.
func newRecipient(t *testing.T, name string, cfg Config) *recipientAgent {
	p := try.To1(network.NewParty(dir, partyName(t, name)))
	p.Sender.SetInitialized(false)
	rec := NewRecipient(cfg, p.Repos, p.Bus, p.Wallet, p.Sender, p.Receiver.Receive)
	conns := connection.New(connection.Config{Label: name, AutoAccept: true},
		p.Repos, p.Bus, p.Wallet, p.Sender, rec)
	oob := outofband.New(outofband.Config{Label: name},
		p.Repos, p.Bus, p.Sender, p.Dispatcher, conns, rec)
	rec.SetConnector(oob)
	p.Dispatcher.Register(conns.Processor())
	p.Dispatcher.Register(oob.Processor())
	p.Dispatcher.Register(rec.Processor())
	oob.Start()
	t.Cleanup(func() {
		rec.Stop()
		oob.Stop()
		p.Close()
	})
	return &recipientAgent{Party: p, conns: conns, oob: oob, rec: rec}
}

type peerAgent struct {
	*commtest.Party
	conns *connection.Service
	oob   *outofband.Service
}

func newPeer(t *testing.T, name string) *peerAgent {
	p := try.To1(network.NewParty(dir, partyName(t, name)))
	conns := connection.New(connection.Config{Label: name, AutoAccept: true},
		p.Repos, p.Bus, p.Wallet, p.Sender, p)
	oob := outofband.New(outofband.Config{Label: name, AutoAcceptInvitation: true},
		p.Repos, p.Bus, p.Sender, p.Dispatcher, conns, p)
	p.Dispatcher.Register(conns.Processor())
	p.Dispatcher.Register(oob.Processor())
	oob.Start()
	t.Cleanup(func() {
		oob.Stop()
		p.Close()
	})
	return &peerAgent{Party: p, conns: conns, oob: oob}
}

func TestInitialize(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	ctx := context.Background()
	mediator := newMediator(t)
	bob := newRecipient(t, "bob", Config{
		MediatorInvitationURL: mediator.invitationURL(t),
		PickupStrategy:        PickupNone,
	})

	assert.NoError(bob.rec.Initialize(ctx))
	m := try.To1(bob.rec.Mediation())
	assert.INotNil(m)
	assert.Equal(m.State, psm.MediationGranted)
	assert.Equal(m.Endpoint, mediator.Endpoint)
	assert.SLen(m.RoutingKeys, 1)

	meds := try.To1(mediator.Repos.Mediations.GetAll())
	assert.SLen(meds, 1)
	assert.Equal(meds[0].Role, psm.RoleMediator)
	assert.Equal(meds[0].State, psm.MediationGranted)
	assert.Equal(meds[0].RoutingKeys[0], m.RoutingKeys[0])

	// granted mediation is used as is
	assert.NoError(bob.rec.Initialize(ctx))
	again := try.To1(bob.rec.Mediation())
	assert.Equal(again.ID, m.ID)
	assert.SLen(try.To1(bob.Repos.Connections.GetAll()), 1)
}

func TestInitialize_NoMediator(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	bob := newRecipient(t, "bob", Config{})
	assert.NoError(bob.rec.Initialize(context.Background()))
	m, err := bob.rec.Mediation()
	assert.NoError(err)
	assert.That(m == nil)

	r, err := bob.rec.GetRouting(context.Background())
	assert.NoError(err)
	assert.DeepEqual(r.Endpoints, []string{"didcomm:transport/queue"})
	assert.SLen(r.RoutingKeys, 0)
}

func TestInitialize_StaleMediation(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	ctx := context.Background()
	mediator := newMediator(t)
	url := mediator.invitationURL(t)
	bob := newRecipient(t, "bob", Config{
		MediatorInvitationURL: url,
		PickupStrategy:        PickupNone,
	})

	stale := psm.NewMediation()
	stale.State = psm.MediationGranted
	stale.Role = psm.RoleRecipient
	stale.ConnectionID = "gone"
	stale.InvitationURL = "http://example.com/old?oob=x"
	stale.Default = true
	try.To(bob.Repos.Mediations.Save(stale))

	assert.NoError(bob.rec.Initialize(ctx))
	meds := try.To1(bob.Repos.Mediations.GetAll())
	assert.SLen(meds, 1)
	assert.NotEqual(meds[0].ID, stale.ID)
	assert.Equal(meds[0].InvitationURL, url)
	assert.Equal(meds[0].State, psm.MediationGranted)
}

func TestInitialize_Denied(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	mediator := newMediator(t)
	mediator.Dispatcher.Add(mediate.RequestType,
		func(_ context.Context, mc *comm.MessageContext) (*comm.OutboundMessage, error) {
			return comm.NewOutbound(mediate.NewDeny(mc.Header.ID), mc.Connection), nil
		})
	bob := newRecipient(t, "bob", Config{
		MediatorInvitationURL: mediator.invitationURL(t),
		PickupStrategy:        PickupNone,
	})

	err := bob.rec.Initialize(context.Background())
	assert.Error(err)
	assert.That(errors.Is(err, ErrDenied))

	meds := try.To1(bob.Repos.Mediations.GetAll())
	assert.SLen(meds, 1)
	assert.Equal(meds[0].State, psm.MediationDenied)
}

func TestInitialize_Timeout(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	timeout := utils.Settings.EventTimeout()
	utils.Settings.SetEventTimeout(200 * time.Millisecond)
	defer utils.Settings.SetEventTimeout(timeout)

	mediator := newMediator(t)
	mediator.Dispatcher.Add(mediate.RequestType,
		func(context.Context, *comm.MessageContext) (*comm.OutboundMessage, error) {
			return nil, nil
		})
	bob := newRecipient(t, "bob", Config{
		MediatorInvitationURL: mediator.invitationURL(t),
		PickupStrategy:        PickupNone,
	})

	err := bob.rec.Initialize(context.Background())
	assert.Error(err)
	assert.That(errors.Is(err, ErrTimeout))
}

func TestRouting_BatchPickup(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	ctx := context.Background()
	mediator := newMediator(t)
	bob := newRecipient(t, "bob", Config{
		MediatorInvitationURL: mediator.invitationURL(t),
		PickupStrategy:        PickupNone,
	})
	alice := newPeer(t, "alice")
	assert.NoError(bob.rec.Initialize(ctx))

	sent := try.To1(bob.oob.CreateInvitation(ctx, outofband.CreateParams{}))
	m := try.To1(bob.rec.Mediation())
	assert.SLen(m.RecipientKeys, 1)
	assert.DeepEqual(sent.Invitation.DIDCommServices()[0].RoutingKeys, m.RoutingKeys)

	_, c, err := alice.oob.ReceiveInvitation(ctx, sent.Invitation, outofband.ReceiveParams{})
	assert.NoError(err)
	assert.Equal(c.State, psm.ConnectionRequested)
	assert.SLen(try.To1(mediator.Repos.Queue.GetAll()), 1)

	// request to bob, response to alice and complete queued again
	assert.NoError(bob.rec.Pickup(ctx))
	c = try.To1(alice.conns.GetByID(c.ID))
	assert.Equal(c.State, psm.ConnectionComplete)
	assert.SLen(try.To1(mediator.Repos.Queue.GetAll()), 1)

	assert.NoError(bob.rec.Pickup(ctx))
	assert.SLen(try.To1(mediator.Repos.Queue.GetAll()), 0)
	conns := try.To1(bob.conns.FindByOutOfBandID(sent.ID))
	assert.SLen(conns, 1)
	assert.Equal(conns[0].State, psm.ConnectionComplete)
	assert.Equal(conns[0].MediatorID, m.ID)

	// the connection key was added to the keylist as well
	m = try.To1(bob.rec.Mediation())
	assert.SLen(m.RecipientKeys, 2)
	assert.That(m.AddKey(conns[0].Verkey) == false)
}

func TestRouting_ImplicitPickup(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	ctx := context.Background()
	mediator := newMediator(t)
	bob := newRecipient(t, "bob", Config{
		MediatorInvitationURL: mediator.invitationURL(t),
		PickupStrategy:        PickupImplicit,
		PickupInterval:        time.Hour,
	})
	alice := newPeer(t, "alice")
	assert.NoError(bob.rec.Initialize(ctx))

	sent := try.To1(bob.oob.CreateInvitation(ctx, outofband.CreateParams{}))
	_, c, err := alice.oob.ReceiveInvitation(ctx, sent.Invitation, outofband.ReceiveParams{})
	assert.NoError(err)
	assert.Equal(c.State, psm.ConnectionRequested)

	assert.NoError(bob.rec.Pickup(ctx))
	c = try.To1(alice.conns.GetByID(c.ID))
	assert.Equal(c.State, psm.ConnectionComplete)

	assert.NoError(bob.rec.Pickup(ctx))
	conns := try.To1(bob.conns.FindByOutOfBandID(sent.ID))
	assert.SLen(conns, 1)
	assert.Equal(conns[0].State, psm.ConnectionComplete)
	assert.SLen(try.To1(mediator.Repos.Queue.GetAll()), 0)
}

func TestKeylistUpdate(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	ctx := context.Background()
	mediator := newMediator(t)
	bob := newRecipient(t, "bob", Config{
		MediatorInvitationURL: mediator.invitationURL(t),
		PickupStrategy:        PickupNone,
	})
	assert.NoError(bob.rec.Initialize(ctx))
	m := try.To1(bob.rec.Mediation())

	key := try.To1(bob.Wallet.CreateKey(ctx, nil))
	tests := []struct {
		name   string
		action string
		want   int
	}{
		{"add", mediate.ActionAdd, 1},
		{"add again", mediate.ActionAdd, 1},
		{"remove", mediate.ActionRemove, 0},
		{"remove again", mediate.ActionRemove, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.PushTester(t)
			defer assert.PopTester()

			assert.NoError(bob.rec.KeylistUpdate(ctx, m.ID, tt.action, key))
			got := try.To1(bob.Repos.Mediations.GetByID(m.ID))
			assert.SLen(got.RecipientKeys, tt.want)
			med := try.To1(mediator.med.byConnection(
				try.To1(mediator.Repos.Connections.GetAll())[0].ID))
			assert.SLen(med.RecipientKeys, tt.want)
		})
	}
}

func TestQueue(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	ctx := context.Background()
	mediator := newMediator(t)
	bob := newPeer(t, "bob")
	mb, _ := try.To2(commtest.Connect(ctx, mediator.Party, bob.Party))

	assert.NoError(mediator.med.Enqueue(ctx, mb.TheirKey(), []byte(`{"n":1}`)))
	assert.NoError(mediator.med.Enqueue(ctx, mb.TheirKey(), []byte(`{"n":2}`)))
	assert.NoError(mediator.med.Enqueue(ctx, "other", []byte(`{"n":3}`)))

	msgs, err := mediator.med.Dequeue(ctx, mb, 1)
	assert.NoError(err)
	assert.SLen(msgs, 1)
	assert.Equal(string(msgs[0].Message), `{"n":1}`)

	msgs, err = mediator.med.Dequeue(ctx, mb, 10)
	assert.NoError(err)
	assert.SLen(msgs, 1)
	assert.Equal(string(msgs[0].Message), `{"n":2}`)

	msgs, err = mediator.med.Dequeue(ctx, mb, 10)
	assert.NoError(err)
	assert.SLen(msgs, 0)
	assert.SLen(try.To1(mediator.Repos.Queue.GetAll()), 1)
}
