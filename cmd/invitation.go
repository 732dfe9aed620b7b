package cmd

import (
	"context"
	"fmt"

	"github.com/findy-network/findy-common-go/dto"
	"github.com/findy-network/findy-didcomm/agent"
	"github.com/findy-network/findy-didcomm/agent/bus"
	"github.com/findy-network/findy-didcomm/agent/psm"
	"github.com/findy-network/findy-didcomm/agent/utils"
	"github.com/findy-network/findy-didcomm/protocol/outofband"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
	"github.com/spf13/cobra"
)

var invitationCmd = &cobra.Command{
	Use:   "invitation",
	Short: "Commands for the out-of-band invitations",
	Run: func(cmd *cobra.Command, args []string) {
		SubCmdNeeded(cmd)
	},
}

var invitationEnvs = map[string]string{
	"multi-use": "MULTI_USE",
	"goal":      "GOAL",
	"alias":     "ALIAS",
}

var invFlags = struct {
	multiUse bool
	goal     string
	alias    string
}{}

var createInvitationCmd = &cobra.Command{
	Use:   "create",
	Short: "Creates an out-of-band invitation and prints its URL",
	Long: `
Creates an out-of-band invitation to the agent's storage and prints its URL.
The agent must be served with the same storage to answer the invitees.

Example
	findy-didcomm invitation create \
		--label faber \
		--multi-use
	`,
	PreRunE: func(cmd *cobra.Command, args []string) (err error) {
		try.To(BindEnvs(agentEnvs, ""))
		return BindEnvs(invitationEnvs, cmd.Parent().Name())
	},
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		defer err2.Handle(&err)

		cfg := try.To1(aFlags.config())
		if rootFlags.dryRun {
			fmt.Println(cfg.Label, cfg.Endpoints)
			return nil
		}
		cmd.SilenceUsage = true

		ctx := context.Background()
		a := try.To1(agent.New(cfg, agent.Deps{}))
		defer func() {
			if e := a.Shutdown(); e != nil && err == nil {
				err = e
			}
		}()
		try.To(a.Initialize(ctx))

		oob := try.To1(a.OutOfBand().CreateInvitation(ctx, outofband.CreateParams{
			Alias:    invFlags.alias,
			Goal:     invFlags.goal,
			MultiUse: invFlags.multiUse,
		}))
		try.To1(fmt.Println(try.To1(oob.Invitation.ToURL(urlBase(cfg.Endpoints), false))))
		return nil
	},
}

var receiveInvitationCmd = &cobra.Command{
	Use:   "receive <invitation URL>",
	Short: "Receives the invitation and makes the connection",
	Long: `
Starts the agent, receives the invitation and waits until the connection is
complete. The connection is printed as JSON.

Example
	findy-didcomm invitation receive \
		--label alice \
		"https://faber.example.com/didcomm?oob=eyJAdHlwZSI6..."
	`,
	Args: cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) (err error) {
		try.To(BindEnvs(agentEnvs, ""))
		return BindEnvs(invitationEnvs, cmd.Parent().Name())
	},
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		defer err2.Handle(&err)

		try.To1(aFlags.config())
		if rootFlags.dryRun {
			fmt.Println(args[0])
			return nil
		}
		cmd.SilenceUsage = true

		ctx := context.Background()
		a, stop := try.To2(runAgent(ctx))
		defer stop()

		conn := try.To1(receive(ctx, a, args[0]))
		try.To1(fmt.Println(dto.ToJSON(conn)))
		return nil
	},
}

// receive accepts the invitation and waits for the complete connection.
func receive(ctx context.Context, a *agent.Agent, url string) (c *psm.Connection, err error) {
	defer err2.Handle(&err, "receive invitation")

	yes := true
	_, c = try.To2(a.OutOfBand().ReceiveInvitationFromURL(ctx, url, outofband.ReceiveParams{
		Alias:                invFlags.alias,
		AutoAcceptInvitation: &yes,
		AutoAcceptConnection: &yes,
		ReuseConnection:      true,
	}))
	if c == nil {
		return nil, fmt.Errorf("invitation has no handshake")
	}
	if c.State == psm.ConnectionComplete {
		return c, nil
	}
	id := c.ID
	done := bus.Expect(a.Events(), func(ev psm.ConnectionStateChanged) bool {
		return ev.Connection.ID == id && ev.Connection.State == psm.ConnectionComplete
	})
	defer done.Cancel()

	// the state may have changed before the waiter was registered
	if c = try.To1(a.Connections().GetByID(id)); c.State == psm.ConnectionComplete {
		return c, nil
	}
	ev, ok := done.WaitEvent(ctx, utils.Settings.EventTimeout())
	if !ok {
		return nil, fmt.Errorf("connection %s not complete in %v", id, utils.Settings.EventTimeout())
	}
	return &ev.Connection, nil
}

func init() {
	flags := invitationCmd.PersistentFlags()
	flags.BoolVar(&invFlags.multiUse, "multi-use", false, flagInfo("invitation can be used many times", invitationCmd.Name(), invitationEnvs["multi-use"]))
	flags.StringVar(&invFlags.goal, "goal", "", flagInfo("goal of the invitation", invitationCmd.Name(), invitationEnvs["goal"]))
	flags.StringVar(&invFlags.alias, "alias", "", flagInfo("alias of the connection", invitationCmd.Name(), invitationEnvs["alias"]))

	addAgentFlags(createInvitationCmd)
	addAgentFlags(receiveInvitationCmd)
	invitationCmd.AddCommand(createInvitationCmd, receiveInvitationCmd)
	rootCmd.AddCommand(invitationCmd)
}

// urlBase is the domain of the invitation URL. Mediated agents have no
// endpoints of their own.
func urlBase(endpoints []string) string {
	if len(endpoints) > 0 {
		return endpoints[0]
	}
	return "https://didcomm.org/oob"
}
