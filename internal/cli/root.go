// Package cli is the command tree of the meetsync binary.
package cli

import (
	"github.com/Connect-Club/connectclub-meet-common/config"
	"github.com/Connect-Club/connectclub-meet-common/request"
	"github.com/spf13/cobra"
)

var Version = "dev"

type Dependencies struct {
	Config config.Config
	Client *request.HttpClientStruct
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "meetsync",
		Short:         "Headless meeting participant",
		Long:          "Joins a meeting as a headless participant: publishes local media, follows chat, timer and host changes, and accepts commands on stdin.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Version = Version

	rootCmd.AddCommand(NewLoginCmd(deps))
	rootCmd.AddCommand(NewLogoutCmd())
	rootCmd.AddCommand(NewWhoamiCmd(deps))
	rootCmd.AddCommand(NewJoinCmd(deps))
	rootCmd.AddCommand(NewSendLogCmd(deps))

	return rootCmd
}
