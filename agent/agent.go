/*
Package agent assembles the DIDComm agent: the storage, event bus, secure
store, envelope packager, sender, dispatcher and the protocol services. The
handlers are registered when the agent is built, in a fixed order, before
any message is received. The host application calls Initialize once, uses
the service accessors and finally Shutdown.

The credential and proof services need the credential engine and the
ledger. Without them the agent has only the connection, out-of-band and
mediation services.
*/
package agent

import (
	"context"
	"time"

	"github.com/findy-network/findy-didcomm/agent/bus"
	"github.com/findy-network/findy-didcomm/agent/comm"
	"github.com/findy-network/findy-didcomm/agent/packager"
	"github.com/findy-network/findy-didcomm/agent/psm"
	"github.com/findy-network/findy-didcomm/agent/sec"
	"github.com/findy-network/findy-didcomm/agent/storage"
	"github.com/findy-network/findy-didcomm/agent/trans"
	"github.com/findy-network/findy-didcomm/agent/vc"
	"github.com/findy-network/findy-didcomm/protocol/basicmessage"
	"github.com/findy-network/findy-didcomm/protocol/connection"
	"github.com/findy-network/findy-didcomm/protocol/issuecredential"
	"github.com/findy-network/findy-didcomm/protocol/mediation"
	"github.com/findy-network/findy-didcomm/protocol/outofband"
	"github.com/findy-network/findy-didcomm/protocol/presentproof"
	"github.com/golang/glog"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

// DefaultStoragePath is the bbolt file of the agent if none is given.
const DefaultStoragePath = "findy-didcomm.bolt"

type Config struct {
	Label string

	// Endpoints are the inbound endpoints of the agent. Without them the
	// agent is reachable only through its mediator.
	Endpoints   []string
	StoragePath string

	MediatorInvitationURL string
	PickupStrategy        mediation.PickupStrategy
	PickupInterval        time.Duration

	// Mediator makes the agent a mediator for the other agents too.
	Mediator bool

	AutoAcceptConnections bool
	AutoAcceptInvitations bool
	AutoAcceptCredentials psm.AutoAccept
	AutoAcceptProofs      psm.AutoAccept
	IgnoreRevocation      bool
	PreferredHandshake    psm.HandshakeProtocol

	// UseLegacyDIDSovPrefix writes the message types in did:sov form.
	UseLegacyDIDSovPrefix bool

	// TransportOverride is the URL scheme of the preferred transport.
	TransportOverride string
}

// Deps are the external collaborators of the agent. All are optional: the
// secure store defaults to the wallet in the agent's storage and the
// transports to HTTP and WebSocket.
type Deps struct {
	Store      sec.Store
	Engine     vc.Engine
	Ledger     vc.Ledger
	Transports []trans.Outbound
}

type Agent struct {
	cfg Config

	store      *storage.BoltStore
	repos      *psm.Repos
	bus        *bus.Bus
	packager   *packager.Packager
	sender     *comm.Sender
	dispatcher *comm.Dispatcher
	receiver   *comm.Receiver

	conns     *connection.Service
	oob       *outofband.Service
	recipient *mediation.Recipient
	mediator  *mediation.Mediator
	basicMsgs *basicmessage.Service
	creds     *issuecredential.Service
	proofs    *presentproof.Service
}

// New builds the agent. The storage is opened and the handlers registered
// but no message is sent before Initialize.
func New(cfg Config, deps Deps) (a *Agent, err error) {
	defer err2.Handle(&err, "new agent")

	if cfg.StoragePath == "" {
		cfg.StoragePath = DefaultStoragePath
	}
	a = &Agent{cfg: cfg}
	a.store = try.To1(storage.OpenBoltStore(cfg.StoragePath))
	defer err2.Handle(&err, func(err error) error {
		_ = a.store.Close()
		return err
	})

	secStore := deps.Store
	if secStore == nil {
		secStore = try.To1(sec.NewWallet(a.store))
	}
	transports := deps.Transports
	if len(transports) == 0 {
		transports = []trans.Outbound{trans.NewHTTP(), trans.NewWebSocket()}
	}

	a.repos = psm.NewRepos(a.store)
	a.bus = bus.New()
	a.packager = packager.New(secStore, cfg.UseLegacyDIDSovPrefix)
	a.sender = comm.NewSender(a.packager, cfg.TransportOverride, transports...)
	a.dispatcher = comm.NewDispatcher(a.sender)
	a.receiver = comm.NewReceiver(a.packager, a.dispatcher, a.sender,
		a.repos.Connections, a.bus)

	a.recipient = mediation.NewRecipient(mediation.Config{
		MediatorInvitationURL: cfg.MediatorInvitationURL,
		Endpoints:             cfg.Endpoints,
		PickupStrategy:        cfg.PickupStrategy,
		PickupInterval:        cfg.PickupInterval,
	}, a.repos, a.bus, secStore, a.sender, a.receiver.Receive)
	a.conns = connection.New(connection.Config{
		Label:      cfg.Label,
		AutoAccept: cfg.AutoAcceptConnections,
	}, a.repos, a.bus, secStore, a.sender, a.recipient)
	a.oob = outofband.New(outofband.Config{
		Label:                cfg.Label,
		AutoAcceptInvitation: cfg.AutoAcceptInvitations,
		AutoAcceptConnection: cfg.AutoAcceptConnections,
		PreferredHandshake:   cfg.PreferredHandshake,
	}, a.repos, a.bus, a.sender, a.dispatcher, a.conns, a.recipient)
	a.recipient.SetConnector(a.oob)
	a.basicMsgs = basicmessage.New(a.repos, a.bus, a.sender)

	if cfg.Mediator {
		endpoint := trans.QueueEndpoint
		if len(cfg.Endpoints) > 0 {
			endpoint = cfg.Endpoints[0]
		}
		a.mediator = mediation.NewMediator(endpoint, a.repos, a.bus, a.sender, a.receiver.Receive)
	}
	if deps.Engine != nil && deps.Ledger != nil {
		a.creds = issuecredential.New(issuecredential.Config{
			AutoAccept: cfg.AutoAcceptCredentials,
		}, a.repos, a.bus, a.sender, deps.Engine, deps.Ledger)
		a.proofs = presentproof.New(presentproof.Config{
			AutoAccept:       cfg.AutoAcceptProofs,
			IgnoreRevocation: cfg.IgnoreRevocation,
		}, a.repos, a.bus, a.sender, deps.Engine, deps.Ledger)
	}
	a.register()

	a.sender.Start(a.receiver.Receive)
	a.oob.Start()
	if a.mediator != nil {
		a.mediator.Start()
	}
	return a, nil
}

// register adds the protocol handlers. The mediator is registered after the
// recipient and handles the forward messages when both are present.
func (a *Agent) register() {
	a.dispatcher.Register(a.conns.Processor())
	a.dispatcher.Register(a.oob.Processor())
	a.dispatcher.Register(a.recipient.Processor())
	a.dispatcher.Register(a.basicMsgs.Processor())
	if a.mediator != nil {
		a.dispatcher.Register(a.mediator.Processor())
	}
	if a.creds != nil {
		a.dispatcher.Register(a.creds.Processor())
		a.dispatcher.Register(a.proofs.Processor())
	}
	glog.V(3).Infoln("agent handles", len(a.dispatcher.MessageTypes()), "message types")
}

// Initialize sets up the mediation if a mediator is configured. Outbound
// messages are queued until it's done.
func (a *Agent) Initialize(ctx context.Context) (err error) {
	defer err2.Handle(&err, "initialize agent %s", a.cfg.Label)

	try.To(a.recipient.Initialize(ctx))
	glog.V(1).Infoln("agent", a.cfg.Label, "initialized")
	return nil
}

// Shutdown stops the timers and the subscriptions and closes the storage.
func (a *Agent) Shutdown() (err error) {
	defer err2.Handle(&err, "shutdown agent %s", a.cfg.Label)

	a.recipient.Stop()
	a.oob.Stop()
	a.sender.Stop()
	a.bus.Close()
	try.To(a.store.Close())
	glog.V(1).Infoln("agent", a.cfg.Label, "shut down")
	return nil
}

// Receive is the inbound entry of the packed messages.
func (a *Agent) Receive(ctx context.Context, packed []byte, session trans.Session) {
	a.receiver.Receive(ctx, packed, session)
}

func (a *Agent) Config() Config {
	return a.cfg
}

func (a *Agent) Events() *bus.Bus {
	return a.bus
}

func (a *Agent) Repos() *psm.Repos {
	return a.repos
}

func (a *Agent) Connections() *connection.Service {
	return a.conns
}

func (a *Agent) OutOfBand() *outofband.Service {
	return a.oob
}

func (a *Agent) Mediation() *mediation.Recipient {
	return a.recipient
}

// Mediator returns nil if the agent isn't a mediator.
func (a *Agent) Mediator() *mediation.Mediator {
	return a.mediator
}

func (a *Agent) BasicMessages() *basicmessage.Service {
	return a.basicMsgs
}

// Credentials returns nil without the credential engine.
func (a *Agent) Credentials() *issuecredential.Service {
	return a.creds
}

// Proofs returns nil without the credential engine.
func (a *Agent) Proofs() *presentproof.Service {
	return a.proofs
}
