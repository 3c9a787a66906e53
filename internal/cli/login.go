package cli

import (
	"fmt"
	"net/url"
	"strings"

	common "github.com/Connect-Club/connectclub-meet-common"
	"github.com/spf13/cobra"
)

func NewLoginCmd(deps *Dependencies) *cobra.Command {
	var grant string
	var fields []string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Obtain and store session tokens",
		Long:  "Runs an OAuth token grant against the API and stores the tokens.\nExample: meetsync login --grant password --field username=ann --field password=secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := grantValues(grant, fields)
			if err != nil {
				return err
			}
			if err := deps.Client.Authorize(cmd.Context(), values); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged in")
			return nil
		},
	}

	cmd.Flags().StringVar(&grant, "grant", "password", "OAuth grant type")
	cmd.Flags().StringArrayVar(&fields, "field", nil, "Grant field as key=value (repeatable)")

	return cmd
}

func grantValues(grant string, fields []string) (url.Values, error) {
	values := url.Values{"grant_type": {grant}}
	for _, field := range fields {
		key, value, ok := strings.Cut(field, "=")
		if !ok || len(key) == 0 {
			return nil, fmt.Errorf("field %q is not key=value", field)
		}
		values.Add(key, value)
	}
	return values, nil
}

func NewLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget stored session tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			common.Logout()
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}

func NewWhoamiCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the account behind the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			me, err := deps.Client.Me(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", me.UserName, me.UserId)
			return nil
		},
	}
}
