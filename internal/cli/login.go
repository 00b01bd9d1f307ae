package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLoginCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Verify the --as user's credentials and print the session",
		Args:  cobra.NoArgs,
		RunE: runWithApp(f, func(cmd *cobra.Command, args []string, a *app) error {
			sess, err := a.actor(cmd, f)
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), f.jsonMode, sess,
				fmt.Sprintf("logged in as %s (%s), session %s", sess.Login, sess.Role, sess.SessionID))
		}),
	}
}
