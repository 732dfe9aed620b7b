package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/findy-network/findy-didcomm/protocol/outofband"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
	"github.com/spf13/cobra"
)

var serveDoc = `Starts the agent and its HTTP and WebSocket endpoints. The agent runs
until it's interrupted.

Example
	findy-didcomm serve \
		--label faber \
		--host-address agent.example.com \
		--host-port 443 \
		--server-port 8080 \
		--invitation
`

var serveEnvs = map[string]string{
	"invitation": "INVITATION",
}

var printInvitation bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the agent",
	Long:  serveDoc,
	PreRunE: func(cmd *cobra.Command, args []string) (err error) {
		try.To(BindEnvs(agentEnvs, ""))
		return BindEnvs(serveEnvs, cmd.Name())
	},
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		defer err2.Handle(&err)

		try.To1(aFlags.config())
		if rootFlags.dryRun {
			fmt.Println(aFlags)
			return nil
		}
		cmd.SilenceUsage = true

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, stop := try.To2(runAgent(ctx))
		defer stop()

		if printInvitation {
			oob := try.To1(a.OutOfBand().CreateInvitation(ctx, outofband.CreateParams{
				MultiUse: true,
			}))
			fmt.Println(try.To1(oob.Invitation.ToURL(urlBase(a.Config().Endpoints), false)))
		}
		<-ctx.Done()
		return nil
	},
}

func init() {
	addAgentFlags(serveCmd)
	serveCmd.Flags().BoolVar(&printInvitation, "invitation", false,
		flagInfo("print a multi-use invitation at start", serveCmd.Name(), serveEnvs["invitation"]))
	rootCmd.AddCommand(serveCmd)
}
