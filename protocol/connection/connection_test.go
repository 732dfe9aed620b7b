package connection

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/findy-network/findy-didcomm/agent/bus"
	"github.com/findy-network/findy-didcomm/agent/comm"
	"github.com/findy-network/findy-didcomm/agent/comm/commtest"
	"github.com/findy-network/findy-didcomm/agent/psm"
	"github.com/findy-network/findy-didcomm/std/common"
	stdcon "github.com/findy-network/findy-didcomm/std/connection"
	"github.com/findy-network/findy-didcomm/std/outofband"
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
	dir = try.To1(os.MkdirTemp("", "connection-test"))
	network = commtest.NewNetwork()
}

func tearDown() {
	_ = os.RemoveAll(dir)
}

type agent struct {
	*commtest.Party
	conns *Service
}

func newAgent(t *testing.T, name string, autoAccept bool) *agent {
	p := try.To1(network.NewParty(dir, strings.ReplaceAll(t.Name(), "/", "_")+"-"+name))
	t.Cleanup(p.Close)
	s := New(Config{Label: name, AutoAccept: autoAccept},
		p.Repos, p.Bus, p.Wallet, p.Sender, p)
	p.Dispatcher.Register(s.Processor())
	return &agent{Party: p, conns: s}
}

func (a *agent) state(id string) psm.ConnectionState {
	return try.To1(a.conns.GetByID(id)).State
}

func TestLegacyInvitation_AutoAccept(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	ctx := context.Background()
	alice, bob := newAgent(t, "alice", true), newAgent(t, "bob", true)

	inviter, inv, err := alice.conns.CreateInvitation(ctx, InvitationParams{})
	assert.NoError(err)
	assert.Equal(inviter.State, psm.ConnectionInvited)
	assert.Equal(inv.Label, "alice")

	// through the URL as it would be in the real life
	u := try.To1(inv.ToURL("http://example.com", true))
	received := try.To1(stdcon.FromURL(u))

	invitee, err := bob.conns.ProcessInvitation(ctx, received, InvitationParams{})
	assert.NoError(err)
	assert.Equal(invitee.State, psm.ConnectionComplete)
	assert.Equal(invitee.TheirLabel, "alice")
	assert.Equal(invitee.InvitationKey, inviter.Verkey)

	assert.Equal(alice.state(inviter.ID), psm.ConnectionComplete)
	got := try.To1(alice.conns.GetByID(inviter.ID))
	assert.Equal(got.TheirLabel, "bob")
	assert.Equal(got.TheirKey(), invitee.Verkey)
	assert.Equal(invitee.TheirKey(), got.Verkey)
}

func TestLegacyInvitation_Manual(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	ctx := context.Background()
	alice, bob := newAgent(t, "alice", false), newAgent(t, "bob", false)

	var lk sync.Mutex
	var states []psm.ConnectionState
	sub := bus.Subscribe(bob.Bus, func(ev psm.ConnectionStateChanged) {
		lk.Lock()
		states = append(states, ev.Connection.State)
		lk.Unlock()
	})
	defer sub.Cancel()
	bobDone := bus.Expect(bob.Bus, func(ev psm.ConnectionStateChanged) bool {
		return ev.Connection.State == psm.ConnectionComplete
	})

	inviter, inv := try.To2(alice.conns.CreateInvitation(ctx, InvitationParams{}))
	invitee := try.To1(bob.conns.ProcessInvitation(ctx, inv, InvitationParams{}))
	assert.Equal(invitee.State, psm.ConnectionInvited)

	_, err := alice.conns.CreateResponse(ctx, inviter.ID)
	assert.That(errors.Is(err, psm.ErrProtocolState))

	invitee = try.To1(bob.conns.AcceptInvitation(ctx, invitee.ID, ""))
	assert.Equal(invitee.State, psm.ConnectionRequested)
	assert.Equal(alice.state(inviter.ID), psm.ConnectionRequested)

	out := try.To1(alice.conns.CreateResponse(ctx, inviter.ID))
	assert.NoError(alice.Sender.Send(ctx, out))
	assert.Equal(bob.state(invitee.ID), psm.ConnectionResponded)

	assert.NoError(bob.conns.SendTrustPing(ctx, invitee.ID, true))
	assert.Equal(bob.state(invitee.ID), psm.ConnectionComplete)
	assert.Equal(alice.state(inviter.ID), psm.ConnectionComplete)

	assert.That(bobDone.Wait(ctx, 5*time.Second))
	time.Sleep(50 * time.Millisecond)
	lk.Lock()
	defer lk.Unlock()
	order := map[psm.ConnectionState]int{
		psm.ConnectionInvited: 0, psm.ConnectionRequested: 1,
		psm.ConnectionResponded: 2, psm.ConnectionComplete: 3,
	}
	for i := 1; i < len(states); i++ {
		assert.That(order[states[i-1]] <= order[states[i]])
	}
}

func TestMultiUseInvitation(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	ctx := context.Background()
	alice := newAgent(t, "alice", true)
	bob, carol := newAgent(t, "bob", true), newAgent(t, "carol", true)

	invRec, inv := try.To2(alice.conns.CreateInvitation(ctx, InvitationParams{MultiUse: true}))

	c1 := try.To1(bob.conns.ProcessInvitation(ctx, inv, InvitationParams{}))
	c2 := try.To1(carol.conns.ProcessInvitation(ctx, inv, InvitationParams{}))
	assert.Equal(c1.State, psm.ConnectionComplete)
	assert.Equal(c2.State, psm.ConnectionComplete)

	conns := try.To1(alice.conns.GetAll())
	assert.SLen(conns, 3)
	ids := map[string]bool{}
	for _, c := range conns {
		if c.ID == invRec.ID {
			assert.Equal(c.State, psm.ConnectionInvited)
			continue
		}
		assert.Equal(c.State, psm.ConnectionComplete)
		assert.Equal(c.InvitationKey, invRec.InvitationKey)
		ids[c.ID] = true
	}
	assert.Equal(len(ids), 2)
}

func TestInvalidInvitation(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	bob := newAgent(t, "bob", true)
	inv := stdcon.NewInvitation("x", "", nil, nil)
	_, err := bob.conns.ProcessInvitation(context.Background(), inv, InvitationParams{})
	assert.That(errors.Is(err, psm.ErrValidation))
	assert.SLen(try.To1(bob.conns.GetAll()), 0)
}

func outOfBandPair(t *testing.T, ctx context.Context, alice, bob *agent, protocol psm.HandshakeProtocol) (sender, receiver *psm.OutOfBand) {
	r := try.To1(alice.GetRouting(ctx))
	inv := try.To1(outofband.NewInvitation(outofband.Params{
		Label:              "alice",
		HandshakeProtocols: []string{string(protocol)},
	}, r.Verkey, r.Endpoints, nil))

	sender = psm.NewOutOfBand()
	sender.Role = psm.RoleSender
	sender.State = psm.OutOfBandAwaitResponse
	sender.Invitation = inv
	try.To(alice.Repos.OutOfBands.Save(sender))

	receiver = psm.NewOutOfBand()
	receiver.Role = psm.RoleReceiver
	receiver.State = psm.OutOfBandPrepareResponse
	receiver.Invitation = inv
	try.To(bob.Repos.OutOfBands.Save(receiver))
	return sender, receiver
}

func TestOutOfBandHandshake(t *testing.T) {
	tests := []struct {
		name     string
		protocol psm.HandshakeProtocol
	}{
		{"connections", ProtocolConnections},
		{"didexchange", ProtocolDIDExchange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.PushTester(t)
			defer assert.PopTester()

			ctx := context.Background()
			alice, bob := newAgent(t, "alice", true), newAgent(t, "bob", true)
			sender, receiver := outOfBandPair(t, ctx, alice, bob, tt.protocol)

			c, err := bob.conns.RequestOutOfBand(ctx, receiver, tt.protocol, InvitationParams{})
			assert.NoError(err)
			assert.Equal(c.State, psm.ConnectionComplete)
			assert.Equal(c.Protocol, tt.protocol)
			assert.Equal(c.OutOfBandID, receiver.ID)

			conns := try.To1(alice.conns.FindByOutOfBandID(sender.ID))
			assert.SLen(conns, 1)
			assert.Equal(conns[0].State, psm.ConnectionComplete)
			assert.Equal(conns[0].TheirDID, c.DID)
			assert.Equal(c.TheirDID, conns[0].DID)

			oob := try.To1(alice.Repos.OutOfBands.GetByID(sender.ID))
			assert.Equal(oob.State, psm.OutOfBandDone)

			// the connection is usable both ways
			assert.NoError(alice.conns.SendTrustPing(ctx, conns[0].ID, true))
			assert.NoError(bob.conns.SendTrustPing(ctx, c.ID, true))
		})
	}
}

func TestOutOfBandHandshake_Manual(t *testing.T) {
	tests := []struct {
		name     string
		protocol psm.HandshakeProtocol
	}{
		{"connections", ProtocolConnections},
		{"didexchange", ProtocolDIDExchange},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.PushTester(t)
			defer assert.PopTester()

			ctx := context.Background()
			alice, bob := newAgent(t, "alice", false), newAgent(t, "bob", false)
			sender, receiver := outOfBandPair(t, ctx, alice, bob, tt.protocol)
			oobState := func() psm.OutOfBandState {
				return try.To1(alice.Repos.OutOfBands.GetByID(sender.ID)).State
			}

			c, err := bob.conns.RequestOutOfBand(ctx, receiver, tt.protocol, InvitationParams{})
			assert.NoError(err)
			assert.Equal(c.State, psm.ConnectionRequested)

			conns := try.To1(alice.conns.FindByOutOfBandID(sender.ID))
			assert.SLen(conns, 1)
			inviter := conns[0]
			assert.Equal(inviter.State, psm.ConnectionRequested)
			assert.Equal(oobState(), psm.OutOfBandAwaitResponse)

			// the invitation is still waiting but it's taken
			_, err = alice.conns.inviterFromOutOfBand(ctx,
				try.To1(alice.Repos.OutOfBands.GetByID(sender.ID)), tt.protocol,
				sender.Invitation.RecipientKeys()[0])
			assert.That(errors.Is(err, psm.ErrProtocolState))

			out := try.To1(alice.conns.CreateResponse(ctx, inviter.ID))
			assert.NoError(alice.Sender.Send(ctx, out))
			assert.Equal(bob.state(c.ID), psm.ConnectionResponded)
			assert.Equal(alice.state(inviter.ID), psm.ConnectionResponded)
			assert.Equal(oobState(), psm.OutOfBandAwaitResponse)

			_, err = bob.conns.AcceptResponse(ctx, c.ID)
			assert.NoError(err)
			assert.Equal(bob.state(c.ID), psm.ConnectionComplete)
			assert.Equal(alice.state(inviter.ID), psm.ConnectionComplete)
			assert.Equal(oobState(), psm.OutOfBandDone)

			// completed once only
			_, err = bob.conns.AcceptResponse(ctx, c.ID)
			assert.That(errors.Is(err, psm.ErrProtocolState))
		})
	}
}

func TestProblemReport(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	ctx := context.Background()
	alice, bob := newAgent(t, "alice", false), newAgent(t, "bob", false)

	inviter, inv := try.To2(alice.conns.CreateInvitation(ctx, InvitationParams{}))
	invitee := try.To1(bob.conns.ProcessInvitation(ctx, inv, InvitationParams{}))
	invitee = try.To1(bob.conns.AcceptInvitation(ctx, invitee.ID, ""))

	w := bus.Expect(alice.Bus, func(ev psm.ProblemReportReceived) bool {
		return ev.RecordID == inviter.ID
	})
	pr := common.NewProblemReport(stdcon.ProblemReportType, invitee.ThreadID,
		common.ProblemCodeRequestNotAccepted, "changed my mind")
	assert.NoError(bob.Sender.Send(ctx, &comm.OutboundMessage{
		Message:   pr,
		Services:  try.To1(invitationServices(inv)),
		SenderKey: invitee.Verkey,
	}))

	ev, ok := w.WaitEvent(ctx, 5*time.Second)
	assert.That(ok)
	assert.Equal(ev.Report.Text(), "changed my mind")
	got := try.To1(alice.conns.GetByID(inviter.ID))
	assert.Equal(got.State, psm.ConnectionAbandoned)
	assert.Equal(got.ErrorMessage, "changed my mind")
}
