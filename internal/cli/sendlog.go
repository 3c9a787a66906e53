package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func NewSendLogCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "send-log [note...]",
		Short: "Upload the log file",
		Long:  "Uploads the file configured by log.file, with an optional note.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(deps.Config.Log.File) == 0 {
				return fmt.Errorf("log.file is not configured")
			}
			if err := deps.Client.SendLogFileWithPath(cmd.Context(), deps.Config.Log.File, strings.Join(args, " ")); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "log sent")
			return nil
		},
	}
}
