package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/findy-network/findy-didcomm/agent"
	"github.com/findy-network/findy-didcomm/agent/psm"
	"github.com/findy-network/findy-didcomm/agent/utils"
	"github.com/findy-network/findy-didcomm/protocol/connection"
	"github.com/findy-network/findy-didcomm/protocol/mediation"
	"github.com/findy-network/findy-didcomm/server"
	"github.com/golang/glog"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
	"github.com/spf13/cobra"
)

// AgentFlags are the flags of the commands which run the agent.
type AgentFlags struct {
	Label       string
	StoragePath string

	HostAddr    string
	HostPort    uint
	ServerPort  uint
	ServiceName string
	WsName      string

	MediatorURL    string
	PickupStrategy string
	PickupInterval time.Duration
	Mediator       bool

	AutoAcceptConnections bool
	AutoAcceptCredentials string
	AutoAcceptProofs      string
	Handshake             string
	LegacyPrefix          bool
	Timeout               time.Duration
}

var aFlags = AgentFlags{}

var agentEnvs = map[string]string{
	"label":            "LABEL",
	"storage":          "STORAGE",
	"host-address":     "HOST_ADDRESS",
	"host-port":        "HOST_PORT",
	"server-port":      "SERVER_PORT",
	"service-name":     "SERVICE_NAME",
	"ws-name":          "WS_NAME",
	"mediator-url":     "MEDIATOR_URL",
	"pickup":           "PICKUP",
	"pickup-interval":  "PICKUP_INTERVAL",
	"mediator":         "MEDIATOR",
	"auto-connections": "AUTO_CONNECTIONS",
	"auto-credentials": "AUTO_CREDENTIALS",
	"auto-proofs":      "AUTO_PROOFS",
	"handshake":        "HANDSHAKE",
	"legacy-did-sov":   "LEGACY_DID_SOV",
	"timeout":          "TIMEOUT",
}

// addAgentFlags adds the agent flags to the cmd. The env names don't have
// the command name because the flags are shared.
func addAgentFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&aFlags.Label, "label", "findy-didcomm", flagInfo("agent label", "", agentEnvs["label"]))
	flags.StringVar(&aFlags.StoragePath, "storage", agent.DefaultStoragePath, flagInfo("storage file", "", agentEnvs["storage"]))
	flags.StringVar(&aFlags.HostAddr, "host-address", "localhost", flagInfo("host address seen from the Internet", "", agentEnvs["host-address"]))
	flags.UintVar(&aFlags.HostPort, "host-port", 8080, flagInfo("host port seen from the Internet", "", agentEnvs["host-port"]))
	flags.UintVar(&aFlags.ServerPort, "server-port", 8080, flagInfo("HTTP server port", "", agentEnvs["server-port"]))
	flags.StringVar(&aFlags.ServiceName, "service-name", server.DefaultServiceName, flagInfo("URL path of the DIDComm endpoint", "", agentEnvs["service-name"]))
	flags.StringVar(&aFlags.WsName, "ws-name", server.DefaultWsServiceName, flagInfo("URL path of the WebSocket endpoint", "", agentEnvs["ws-name"]))
	flags.StringVar(&aFlags.MediatorURL, "mediator-url", "", flagInfo("invitation URL of the mediator", "", agentEnvs["mediator-url"]))
	flags.StringVar(&aFlags.PickupStrategy, "pickup", string(mediation.PickupBatch), flagInfo("message pickup: batch, implicit or none", "", agentEnvs["pickup"]))
	flags.DurationVar(&aFlags.PickupInterval, "pickup-interval", utils.Settings.PickupInterval(), flagInfo("message pickup interval", "", agentEnvs["pickup-interval"]))
	flags.BoolVar(&aFlags.Mediator, "mediator", false, flagInfo("serve as mediator", "", agentEnvs["mediator"]))
	flags.BoolVar(&aFlags.AutoAcceptConnections, "auto-connections", true, flagInfo("accept connection requests", "", agentEnvs["auto-connections"]))
	flags.StringVar(&aFlags.AutoAcceptCredentials, "auto-credentials", string(psm.AutoAcceptNever), flagInfo("credential auto accept: always, contentApproved or never", "", agentEnvs["auto-credentials"]))
	flags.StringVar(&aFlags.AutoAcceptProofs, "auto-proofs", string(psm.AutoAcceptNever), flagInfo("proof auto accept: always, contentApproved or never", "", agentEnvs["auto-proofs"]))
	flags.StringVar(&aFlags.Handshake, "handshake", "didexchange", flagInfo("preferred handshake: didexchange or connections", "", agentEnvs["handshake"]))
	flags.BoolVar(&aFlags.LegacyPrefix, "legacy-did-sov", false, flagInfo("send message types with did:sov prefix", "", agentEnvs["legacy-did-sov"]))
	flags.DurationVar(&aFlags.Timeout, "timeout", utils.Settings.EventTimeout(), flagInfo("protocol event timeout", "", agentEnvs["timeout"]))
}

// config validates the flags and builds the agent config. The settings hub
// gets the host address and the service names.
func (f AgentFlags) config() (cfg agent.Config, err error) {
	defer err2.Handle(&err, "agent flags")

	cfg = agent.Config{
		Label:                 f.Label,
		StoragePath:           f.StoragePath,
		MediatorInvitationURL: f.MediatorURL,
		PickupStrategy:        mediation.PickupStrategy(f.PickupStrategy),
		PickupInterval:        f.PickupInterval,
		Mediator:              f.Mediator,
		AutoAcceptConnections: f.AutoAcceptConnections,
		UseLegacyDIDSovPrefix: f.LegacyPrefix,
	}
	switch cfg.PickupStrategy {
	case mediation.PickupBatch, mediation.PickupImplicit, mediation.PickupNone:
	default:
		return cfg, fmt.Errorf("unknown pickup strategy %q", f.PickupStrategy)
	}
	cfg.AutoAcceptCredentials = try.To1(parseAutoAccept(f.AutoAcceptCredentials))
	cfg.AutoAcceptProofs = try.To1(parseAutoAccept(f.AutoAcceptProofs))
	switch f.Handshake {
	case "didexchange":
		cfg.PreferredHandshake = connection.ProtocolDIDExchange
	case "connections":
		cfg.PreferredHandshake = connection.ProtocolConnections
	default:
		return cfg, fmt.Errorf("unknown handshake %q", f.Handshake)
	}

	utils.Settings.SetServiceName(f.ServiceName)
	utils.Settings.SetWsName(f.WsName)
	utils.Settings.SetEventTimeout(f.Timeout)
	if f.MediatorURL == "" || f.Mediator {
		utils.Settings.SetHostAddr(f.HostAddr)
		server.BuildHostAddr("http", f.HostPort)
		cfg.Endpoints = server.Endpoints()
	}
	return cfg, nil
}

func parseAutoAccept(s string) (psm.AutoAccept, error) {
	switch a := psm.AutoAccept(s); a {
	case psm.AutoAcceptAlways, psm.AutoAcceptContentApproved, psm.AutoAcceptNever:
		return a, nil
	}
	return "", fmt.Errorf("unknown auto accept %q", s)
}

// runAgent builds the agent, starts its server and initializes it. The
// returned stop shuts everything down.
func runAgent(ctx context.Context) (a *agent.Agent, stop func(), err error) {
	defer err2.Handle(&err, "run agent")

	cfg := try.To1(aFlags.config())
	a = try.To1(agent.New(cfg, agent.Deps{}))
	ctx, cancel := context.WithCancel(ctx)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.StartHTTPServer(ctx, a.Receive, aFlags.ServerPort)
	}()
	stop = func() {
		cancel()
		if err := <-serverErr; err != nil {
			glog.Warningln("server:", err)
		}
		if err := a.Shutdown(); err != nil {
			glog.Warningln(err)
		}
	}
	defer err2.Handle(&err, func(err error) error {
		stop()
		return err
	})

	try.To(a.Initialize(ctx))
	glog.V(1).Infoln("agent", cfg.Label, "running with endpoints", cfg.Endpoints)
	return a, stop, nil
}
