package outofband

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/findy-network/findy-didcomm/agent/bus"
	"github.com/findy-network/findy-didcomm/agent/comm"
	"github.com/findy-network/findy-didcomm/agent/comm/commtest"
	"github.com/findy-network/findy-didcomm/agent/didcomm"
	"github.com/findy-network/findy-didcomm/agent/psm"
	"github.com/findy-network/findy-didcomm/protocol/connection"
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
	dir = try.To1(os.MkdirTemp("", "outofband-test"))
	network = commtest.NewNetwork()
}

func tearDown() {
	_ = os.RemoveAll(dir)
}

type agent struct {
	*commtest.Party
	conns *connection.Service
	oob   *Service
}

func newAgent(t *testing.T, name string, cfg Config) *agent {
	p := try.To1(network.NewParty(dir, strings.ReplaceAll(t.Name(), "/", "_")+"-"+name))
	conns := connection.New(connection.Config{Label: name, AutoAccept: true},
		p.Repos, p.Bus, p.Wallet, p.Sender, p)
	cfg.Label = name
	s := New(cfg, p.Repos, p.Bus, p.Sender, p.Dispatcher, conns, p)
	p.Dispatcher.Register(conns.Processor())
	p.Dispatcher.Register(s.Processor())
	s.Start()
	t.Cleanup(func() {
		s.Stop()
		p.Close()
	})
	return &agent{Party: p, conns: conns, oob: s}
}

func autoAgent(t *testing.T, name string) *agent {
	return newAgent(t, name, Config{AutoAcceptInvitation: true})
}

// receiverDone expects the received invitation to be done.
func receiverDone(a *agent) *bus.Waiter[psm.OutOfBandStateChanged] {
	return bus.Expect(a.Bus, func(ev psm.OutOfBandStateChanged) bool {
		return ev.OutOfBand.Role == psm.RoleReceiver &&
			ev.OutOfBand.State == psm.OutOfBandDone
	})
}

func TestHandshake(t *testing.T) {
	tests := []struct {
		name      string
		protocols []psm.HandshakeProtocol
		want      psm.HandshakeProtocol
	}{
		{"default", nil, connection.ProtocolDIDExchange},
		{"didexchange", []psm.HandshakeProtocol{connection.ProtocolDIDExchange},
			connection.ProtocolDIDExchange},
		{"connections", []psm.HandshakeProtocol{connection.ProtocolConnections},
			connection.ProtocolConnections},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.PushTester(t)
			defer assert.PopTester()

			ctx := context.Background()
			alice, bob := autoAgent(t, "alice"), autoAgent(t, "bob")

			sent, err := alice.oob.CreateInvitation(ctx, CreateParams{
				HandshakeProtocols: tt.protocols,
			})
			assert.NoError(err)
			assert.Equal(sent.State, psm.OutOfBandAwaitResponse)
			assert.Equal(sent.Role, psm.RoleSender)
			assert.Equal(sent.Invitation.Label, "alice")

			u := try.To1(sent.Invitation.ToURL("http://example.com/ssi", false))
			inv, err := ParseInvitationURL(ctx, u)
			assert.NoError(err)
			assert.Equal(inv.ID, sent.Invitation.ID)

			done := receiverDone(bob)
			defer done.Cancel()

			received, c, err := bob.oob.ReceiveInvitation(ctx, inv, ReceiveParams{})
			assert.NoError(err)
			assert.INotNil(c)
			assert.Equal(c.Protocol, tt.want)
			assert.Equal(c.State, psm.ConnectionComplete)
			assert.Equal(c.OutOfBandID, received.ID)
			assert.Equal(c.TheirLabel, "alice")

			assert.That(done.Wait(ctx, 5*time.Second))
			got := try.To1(bob.oob.GetByID(received.ID))
			assert.Equal(got.State, psm.OutOfBandDone)

			got = try.To1(alice.oob.GetByID(sent.ID))
			assert.Equal(got.State, psm.OutOfBandDone)
			conns := try.To1(alice.conns.FindByOutOfBandID(sent.ID))
			assert.SLen(conns, 1)
			assert.Equal(conns[0].TheirDID, c.DID)
		})
	}
}

func TestReceiveInvitation_Manual(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	ctx := context.Background()
	alice, bob := autoAgent(t, "alice"), newAgent(t, "bob", Config{})

	sent := try.To1(alice.oob.CreateInvitation(ctx, CreateParams{}))
	received, c, err := bob.oob.ReceiveInvitation(ctx, sent.Invitation, ReceiveParams{})
	assert.NoError(err)
	assert.That(c == nil)
	assert.Equal(received.State, psm.OutOfBandInitial)
	assert.Equal(received.Role, psm.RoleReceiver)

	// the same invitation again
	_, _, err = bob.oob.ReceiveInvitation(ctx, sent.Invitation, ReceiveParams{})
	assert.That(errors.Is(err, psm.ErrValidation))

	// our own invitation
	_, _, err = alice.oob.ReceiveInvitation(ctx, sent.Invitation, ReceiveParams{})
	assert.That(errors.Is(err, psm.ErrValidation))

	got, c, err := bob.oob.AcceptInvitation(ctx, received.ID, ReceiveParams{Alias: "Alice"})
	assert.NoError(err)
	assert.Equal(c.State, psm.ConnectionComplete)
	assert.Equal(c.Alias, "Alice")
	assert.Equal(got.Role, psm.RoleReceiver)

	// accepted once only
	_, _, err = bob.oob.AcceptInvitation(ctx, received.ID, ReceiveParams{})
	assert.That(errors.Is(err, psm.ErrProtocolState))
}

func TestReceiveInvitation_Invalid(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	ctx := context.Background()
	bob := autoAgent(t, "bob")

	inv := &outofband.Invitation{
		Header:   didcomm.NewHeader(outofband.InvitationType),
		Label:    "nothing",
		Services: []outofband.Service{{DID: "did:sov:LjgpST2rjsoxYegQDRm7EL"}},
	}
	_, _, err := bob.oob.ReceiveInvitation(ctx, inv, ReceiveParams{})
	assert.That(errors.Is(err, psm.ErrValidation))

	inv.HandshakeProtocols = []string{"https://didcomm.org/unknown/1.0"}
	_, _, err = bob.oob.ReceiveInvitation(ctx, inv, ReceiveParams{})
	assert.That(errors.Is(err, psm.ErrValidation)) // no resolvable keys
}

func TestNegotiate(t *testing.T) {
	legacyConnections := didcomm.ToLegacy(string(connection.ProtocolConnections))
	tests := []struct {
		name      string
		preferred psm.HandshakeProtocol
		offered   []string
		want      psm.HandshakeProtocol
		err       error
	}{
		{"first supported", "", []string{
			"https://didcomm.org/unknown/1.0",
			string(connection.ProtocolConnections),
			string(connection.ProtocolDIDExchange),
		}, connection.ProtocolConnections, nil},
		{"preferred", connection.ProtocolDIDExchange, []string{
			string(connection.ProtocolConnections),
			string(connection.ProtocolDIDExchange),
		}, connection.ProtocolDIDExchange, nil},
		{"preferred not offered", connection.ProtocolDIDExchange, []string{
			legacyConnections,
		}, connection.ProtocolConnections, nil},
		{"unsupported", "", []string{
			"https://didcomm.org/unknown/1.0",
		}, "", ErrUnsupportedHandshakeProtocol},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.PushTester(t)
			defer assert.PopTester()

			s := New(Config{PreferredHandshake: tt.preferred},
				nil, nil, nil, nil, nil, nil)
			got, err := s.negotiate(tt.offered)
			if tt.err != nil {
				assert.That(errors.Is(err, tt.err))
				return
			}
			assert.NoError(err)
			assert.Equal(got, tt.want)
		})
	}
}

func TestAcceptInvitation_Unsupported(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	ctx := context.Background()
	alice := autoAgent(t, "alice")
	bob := newAgent(t, "bob", Config{
		AutoAcceptInvitation: true,
		HandshakeProtocols:   []psm.HandshakeProtocol{connection.ProtocolConnections},
	})

	sent := try.To1(alice.oob.CreateInvitation(ctx, CreateParams{
		HandshakeProtocols: []psm.HandshakeProtocol{connection.ProtocolDIDExchange},
	}))
	_, _, err := bob.oob.ReceiveInvitation(ctx, sent.Invitation, ReceiveParams{})
	assert.That(errors.Is(err, ErrUnsupportedHandshakeProtocol))

	all := try.To1(bob.oob.GetAll())
	assert.SLen(all, 1)
	assert.Equal(all[0].State, psm.OutOfBandInitial)
}

func TestReuse(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	ctx := context.Background()
	alice, bob := autoAgent(t, "alice"), autoAgent(t, "bob")

	// the invitations share the key, like public DID invitations do
	r := try.To1(alice.GetRouting(ctx))

	first := try.To1(alice.oob.CreateInvitation(ctx, CreateParams{Routing: r}))
	_, c1, err := bob.oob.ReceiveInvitation(ctx, first.Invitation, ReceiveParams{})
	assert.NoError(err)
	assert.Equal(c1.State, psm.ConnectionComplete)

	second := try.To1(alice.oob.CreateInvitation(ctx, CreateParams{Routing: r}))
	received, c2, err := bob.oob.ReceiveInvitation(ctx, second.Invitation,
		ReceiveParams{ReuseConnection: true})
	assert.NoError(err)
	assert.Equal(c2.ID, c1.ID)
	assert.Equal(received.State, psm.OutOfBandDone)
	assert.Equal(received.ReuseConnectionID, c1.ID)

	got := try.To1(alice.oob.GetByID(second.ID))
	assert.Equal(got.State, psm.OutOfBandDone)
	conns := try.To1(alice.conns.FindByOutOfBandID(second.ID))
	assert.SLen(conns, 0)

	third := try.To1(alice.oob.CreateInvitation(ctx, CreateParams{Routing: r}))
	_, c3, err := bob.oob.ReceiveInvitation(ctx, third.Invitation,
		ReceiveParams{ReuseConnection: false})
	assert.NoError(err)
	assert.NotEqual(c3.ID, c1.ID)
	conns = try.To1(alice.conns.FindByOutOfBandID(third.ID))
	assert.SLen(conns, 1)
}

func TestReuse_Fallback(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	ctx := context.Background()
	alice := autoAgent(t, "alice")
	bob := newAgent(t, "bob", Config{
		AutoAcceptInvitation: true,
		ReuseTimeout:         100 * time.Millisecond,
	})
	r := try.To1(alice.GetRouting(ctx))

	first := try.To1(alice.oob.CreateInvitation(ctx, CreateParams{Routing: r}))
	_, c1 := try.To2(bob.oob.ReceiveInvitation(ctx, first.Invitation, ReceiveParams{}))

	// alice has forgotten the invitation and doesn't answer the reuse
	second := try.To1(alice.oob.CreateInvitation(ctx, CreateParams{Routing: r}))
	try.To(alice.oob.Delete(second.ID))

	received, c2, err := bob.oob.ReceiveInvitation(ctx, second.Invitation,
		ReceiveParams{ReuseConnection: true})
	assert.NoError(err)
	assert.NotEqual(c2.ID, c1.ID)
	assert.Equal(c2.State, psm.ConnectionRequested)
	assert.Equal(received.State, psm.OutOfBandPrepareResponse)
}

// hello is a test request attached to the invitations.
type hello struct {
	didcomm.Header
	Text string `json:"text"`
}

const (
	helloType     = didcomm.AriesPrefix + "/hello/1.0/hello"
	helloBackType = didcomm.AriesPrefix + "/hello/1.0/hello-back"
)

func newHello(msgType, text, thid string) *hello {
	h := &hello{Header: didcomm.NewHeader(msgType), Text: text}
	h.SetThread(thid, "")
	return h
}

// registerHello makes bob answer hello and alice record the answer.
func registerHello(alice, bob *agent) (got chan string) {
	got = make(chan string, 2)
	bob.Dispatcher.Add(helloType, func(_ context.Context, mc *comm.MessageContext) (*comm.OutboundMessage, error) {
		var m hello
		if err := mc.Decode(&m); err != nil {
			return nil, err
		}
		return comm.NewOutbound(newHello(helloBackType, "hi "+m.Text, m.ThreadID()),
			mc.Connection), nil
	})
	alice.Dispatcher.Add(helloBackType, func(_ context.Context, mc *comm.MessageContext) (*comm.OutboundMessage, error) {
		var m hello
		if err := mc.Decode(&m); err != nil {
			return nil, err
		}
		got <- mc.Connection.ID + ":" + m.Text
		return nil, nil
	})
	return got
}

func TestConnectionlessRequest(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	ctx := context.Background()
	alice, bob := autoAgent(t, "alice"), autoAgent(t, "bob")
	got := registerHello(alice, bob)

	msg := newHello(helloType, "alice", "")
	sent, err := alice.oob.CreateInvitation(ctx, CreateParams{
		Messages: []didcomm.Message{msg},
	})
	assert.NoError(err)
	assert.SLen(sent.Invitation.HandshakeProtocols, 0)
	assert.SLen(sent.Invitation.Requests, 1)

	conns := try.To1(alice.conns.FindByOutOfBandID(sent.ID))
	assert.SLen(conns, 1)
	aliceConn := conns[0]
	assert.That(aliceConn.Connectionless)
	assert.Equal(aliceConn.State, psm.ConnectionComplete)

	_, c, err := bob.oob.ReceiveInvitation(ctx, sent.Invitation, ReceiveParams{})
	assert.NoError(err)
	assert.That(c.Connectionless)
	assert.Equal(c.TheirKey(), aliceConn.Verkey)

	select {
	case s := <-got:
		assert.Equal(s, aliceConn.ID+":hi alice")
	case <-time.After(5 * time.Second):
		t.Fatal("no hello back")
	}
	bound := try.To1(alice.conns.GetByID(aliceConn.ID))
	assert.Equal(bound.TheirKey(), c.Verkey)
}

func TestRequestsWithHandshake(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	ctx := context.Background()
	alice, bob := autoAgent(t, "alice"), autoAgent(t, "bob")
	got := registerHello(alice, bob)

	sent := try.To1(alice.oob.CreateInvitation(ctx, CreateParams{
		Handshake: true,
		Messages:  []didcomm.Message{newHello(helloType, "again", "")},
	}))
	assert.SLen(sent.Invitation.HandshakeProtocols, 2)

	_, c, err := bob.oob.ReceiveInvitation(ctx, sent.Invitation, ReceiveParams{})
	assert.NoError(err)
	assert.That(!c.Connectionless)

	conns := try.To1(alice.conns.FindByOutOfBandID(sent.ID))
	assert.SLen(conns, 1)
	select {
	case s := <-got:
		assert.Equal(s, conns[0].ID+":hi again")
	case <-time.After(5 * time.Second):
		t.Fatal("no hello back")
	}
}

func TestNoSupportedRequest(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	ctx := context.Background()
	alice, bob := autoAgent(t, "alice"), autoAgent(t, "bob")

	sent := try.To1(alice.oob.CreateInvitation(ctx, CreateParams{
		Messages: []didcomm.Message{newHello(helloType, "nobody", "")},
	}))
	_, _, err := bob.oob.ReceiveInvitation(ctx, sent.Invitation, ReceiveParams{})
	assert.That(errors.Is(err, ErrNoSupportedRequest))
}

func TestCreateInvitation_Invalid(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	ctx := context.Background()
	alice := autoAgent(t, "alice")

	_, err := alice.oob.CreateInvitation(ctx, CreateParams{
		MultiUse: true,
		Messages: []didcomm.Message{newHello(helloType, "x", "")},
	})
	assert.That(errors.Is(err, psm.ErrValidation))

	_, err = alice.oob.CreateInvitation(ctx, CreateParams{
		HandshakeProtocols: []psm.HandshakeProtocol{"https://didcomm.org/unknown/1.0"},
	})
	assert.That(errors.Is(err, ErrUnsupportedHandshakeProtocol))
}

func TestMultiUse(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	ctx := context.Background()
	alice := autoAgent(t, "alice")
	bob, carol := autoAgent(t, "bob"), autoAgent(t, "carol")

	sent := try.To1(alice.oob.CreateInvitation(ctx, CreateParams{MultiUse: true}))
	_, cb := try.To2(bob.oob.ReceiveInvitation(ctx, sent.Invitation, ReceiveParams{}))
	_, cc := try.To2(carol.oob.ReceiveInvitation(ctx, sent.Invitation, ReceiveParams{}))
	assert.Equal(cb.State, psm.ConnectionComplete)
	assert.Equal(cc.State, psm.ConnectionComplete)

	got := try.To1(alice.oob.GetByID(sent.ID))
	assert.Equal(got.State, psm.OutOfBandAwaitResponse)
	conns := try.To1(alice.conns.FindByOutOfBandID(sent.ID))
	assert.SLen(conns, 2)
}

func TestParseInvitationURL(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	ctx := context.Background()
	legacy := stdcon.NewInvitation("legacy", "http://example.com/a",
		[]string{"8HH5gYEeNc3z7PYXmd54d4x6qAfCNrqQqEB3nS7Zfu7K"}, nil)
	legacyURL := try.To1(legacy.ToURL("http://example.com", true))

	oobInv := try.To1(outofband.NewInvitation(outofband.Params{
		Label:              "oob",
		HandshakeProtocols: []string{string(connection.ProtocolDIDExchange)},
	}, "8HH5gYEeNc3z7PYXmd54d4x6qAfCNrqQqEB3nS7Zfu7K", []string{"http://example.com/a"}, nil))
	oobURL := try.To1(oobInv.ToURL("http://example.com", false))
	oobJSON := try.To1(didcomm.Marshal(oobInv, false))

	mux := http.NewServeMux()
	mux.HandleFunc("/redirect", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, oobURL, http.StatusFound)
	})
	mux.HandleFunc("/json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write(oobJSON)
	})
	mux.HandleFunc("/text", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write(oobJSON)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	tests := []struct {
		name  string
		url   string
		label string
		ok    bool
	}{
		{"oob", oobURL, "oob", true},
		{"legacy", legacyURL, "legacy", true},
		{"short redirect", ts.URL + "/redirect", "oob", true},
		{"short json", ts.URL + "/json", "oob", true},
		{"short wrong type", ts.URL + "/text", "", false},
		{"not found", ts.URL + "/missing", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.PushTester(t)
			defer assert.PopTester()

			inv, err := ParseInvitationURL(ctx, tt.url)
			if !tt.ok {
				assert.Error(err)
				return
			}
			assert.NoError(err)
			assert.Equal(inv.Label, tt.label)
			assert.SLen(inv.RecipientKeys(), 1)
		})
	}
}
