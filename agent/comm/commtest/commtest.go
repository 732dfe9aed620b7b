/*
Package commtest has an in-memory network for testing the protocols: a mem
transport which delivers the envelopes directly to the receivers of the other
parties, and Party which is the messaging core of one agent without the
protocol services.
*/
package commtest

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/findy-network/findy-didcomm/agent/bus"
	"github.com/findy-network/findy-didcomm/agent/comm"
	"github.com/findy-network/findy-didcomm/agent/packager"
	"github.com/findy-network/findy-didcomm/agent/psm"
	"github.com/findy-network/findy-didcomm/agent/sec"
	"github.com/findy-network/findy-didcomm/agent/storage"
	"github.com/findy-network/findy-didcomm/agent/trans"
	"github.com/findy-network/findy-didcomm/agent/utils"
	"github.com/findy-network/findy-didcomm/std/did"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

const Scheme = "mem"

// Network connects the mem transports of the parties.
type Network struct {
	lk    sync.RWMutex
	nodes map[string]trans.Inbound
}

func NewNetwork() *Network {
	return &Network{nodes: make(map[string]trans.Inbound)}
}

func (n *Network) Add(endpoint string, in trans.Inbound) {
	n.lk.Lock()
	defer n.lk.Unlock()
	n.nodes[endpoint] = in
}

func (n *Network) Remove(endpoint string) {
	n.lk.Lock()
	defer n.lk.Unlock()
	delete(n.nodes, endpoint)
}

func (n *Network) get(endpoint string) trans.Inbound {
	n.lk.RLock()
	defer n.lk.RUnlock()
	return n.nodes[endpoint]
}

// Transport is the mem transport of one party. It works like HTTP: the
// message is received synchronously and the return routed messages are
// passed back to the sender.
type Transport struct {
	net *Network
	in  trans.Inbound
}

func (n *Network) Transport() *Transport {
	return &Transport{net: n}
}

func (t *Transport) Schemes() []string {
	return []string{Scheme}
}

func (t *Transport) Start(in trans.Inbound) {
	t.in = in
}

func (t *Transport) Send(ctx context.Context, endpoint string, packed []byte) error {
	node := t.net.get(endpoint)
	if node == nil {
		return fmt.Errorf("no node %s", endpoint)
	}
	s := &session{id: utils.UUID()}
	node(ctx, packed, s)
	for _, reply := range s.close() {
		if t.in != nil {
			t.in(ctx, reply, nil)
		}
	}
	return nil
}

func (t *Transport) Stop() error {
	return nil
}

type session struct {
	id string

	lk      sync.Mutex
	replies [][]byte
	closed  bool
}

func (s *session) ID() string {
	return s.id
}

func (s *session) Send(_ context.Context, packed []byte) error {
	s.lk.Lock()
	defer s.lk.Unlock()

	if s.closed {
		return trans.ErrSessionClosed
	}
	s.replies = append(s.replies, packed)
	return nil
}

func (s *session) Closed() bool {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.closed
}

func (s *session) Close() error {
	s.close()
	return nil
}

func (s *session) close() [][]byte {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.closed = true
	return s.replies
}

// Party is the messaging core of one agent.
type Party struct {
	Name     string
	Endpoint string

	Store      *storage.BoltStore
	Wallet     *sec.Wallet
	Repos      *psm.Repos
	Bus        *bus.Bus
	Packager   *packager.Packager
	Sender     *comm.Sender
	Dispatcher *comm.Dispatcher
	Receiver   *comm.Receiver

	net *Network
}

// NewParty creates the party with its bbolt file in the dir and adds it to
// the network.
func (n *Network) NewParty(dir, name string) (p *Party, err error) {
	defer err2.Handle(&err, "new party %s", name)

	p = &Party{
		Name:     name,
		Endpoint: Scheme + "://" + name,
		net:      n,
	}
	p.Store = try.To1(storage.OpenBoltStore(filepath.Join(dir, name+".bolt")))
	p.Wallet = try.To1(sec.NewWallet(p.Store))
	p.Repos = psm.NewRepos(p.Store)
	p.Bus = bus.New()
	p.Packager = packager.New(p.Wallet, false)
	p.Sender = comm.NewSender(p.Packager, "", n.Transport())
	p.Sender.SetInitialized(true)
	p.Dispatcher = comm.NewDispatcher(p.Sender)
	p.Receiver = comm.NewReceiver(p.Packager, p.Dispatcher, p.Sender,
		p.Repos.Connections, p.Bus)
	p.Sender.Start(p.Receiver.Receive)
	n.Add(p.Endpoint, p.Receiver.Receive)
	return p, nil
}

// GetRouting returns a new key with the party's own endpoint.
func (p *Party) GetRouting(ctx context.Context) (r *psm.Routing, err error) {
	defer err2.Handle(&err)

	verkey := try.To1(p.Wallet.CreateKey(ctx, nil))
	return &psm.Routing{
		DID:       try.To1(did.LegacyDID(verkey)),
		Verkey:    verkey,
		Endpoints: []string{p.Endpoint},
	}, nil
}

func (p *Party) Close() {
	p.net.Remove(p.Endpoint)
	p.Sender.Stop()
	p.Bus.Close()
	_ = p.Store.Close()
}

// Connect creates a complete connection between the parties without the
// handshake. The first connection is a's.
func Connect(ctx context.Context, a, b *Party) (ab, ba *psm.Connection, err error) {
	defer err2.Handle(&err, "connect %s and %s", a.Name, b.Name)

	ra := try.To1(a.GetRouting(ctx))
	rb := try.To1(b.GetRouting(ctx))
	ab = newConnection(ra, rb, psm.RoleInviter, b.Name)
	ba = newConnection(rb, ra, psm.RoleInvitee, a.Name)
	try.To(a.Repos.Connections.Save(ab))
	try.To(b.Repos.Connections.Save(ba))
	return ab, ba, nil
}

func newConnection(me, them *psm.Routing, role psm.ConnectionRole, label string) *psm.Connection {
	c := psm.NewConnection()
	c.State = psm.ConnectionComplete
	c.Role = role
	c.DID = me.DID
	c.Verkey = me.Verkey
	c.DIDDoc = did.NewDoc(me.DID, me.Verkey, me.Endpoints, me.RoutingKeys)
	c.TheirDID = them.DID
	c.TheirDIDDoc = did.NewDoc(them.DID, them.Verkey, them.Endpoints, them.RoutingKeys)
	c.TheirLabel = label
	return c
}
