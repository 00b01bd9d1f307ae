package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/epirec/pkg/types"
)

func newUserCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "List and administer user accounts",
	}
	cmd.AddCommand(
		newUserListCmd(f),
		newUserCreateCmd(f),
		newUserResetPasswordCmd(f),
		newUserSetActiveCmd(f),
	)
	return cmd
}

func newUserListCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list [query]",
		Short: "List users whose login contains query",
		Args:  cobra.MaximumNArgs(1),
		RunE: runWithApp(f, func(cmd *cobra.Command, args []string, a *app) error {
			query := ""
			if len(args) == 1 {
				query = args[0]
			}
			users, err := a.admin.ListUsers(cmd.Context(), query)
			if err != nil {
				return err
			}
			if f.jsonMode {
				return printJSON(cmd.OutOrStdout(), users)
			}
			rows := make([]string, 0, len(users))
			for _, u := range users {
				rows = append(rows, fmt.Sprintf("%d\t%s\t%s\t%t\t%s",
					u.ID, u.Login, u.Role, u.IsActive, u.CreatedAt.Format("2006-01-02 15:04")))
			}
			return table(cmd.OutOrStdout(), "ID\tLOGIN\tROLE\tACTIVE\tCREATED", rows)
		}),
	}
}

func newUserCreateCmd(f *rootFlags) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "create <login>",
		Short: "Create a user (admin only)",
		Long:  "Create an active user. The new password is read from " + envNewPassword + " or prompted for.",
		Args:  cobra.ExactArgs(1),
		RunE: runWithApp(f, func(cmd *cobra.Command, args []string, a *app) error {
			r, err := types.ParseRole(role)
			if err != nil {
				return fmt.Errorf("%w: role must be admin or operator", err)
			}
			sess, err := a.actor(cmd, f)
			if err != nil {
				return err
			}
			pw, err := f.prompt.secret(envNewPassword, "Password for "+args[0])
			if err != nil {
				return err
			}
			id, err := a.admin.CreateUser(cmd.Context(), args[0], pw, r, sess.UserID)
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), f.jsonMode,
				map[string]any{"id": id, "login": args[0], "role": r},
				fmt.Sprintf("created user %s (id %d, %s)", args[0], id, r))
		}),
	}
	cmd.Flags().StringVar(&role, "role", string(types.RoleOperator), "role of the new user: admin or operator")
	return cmd
}

func newUserResetPasswordCmd(f *rootFlags) *cobra.Command {
	var deactivate bool
	cmd := &cobra.Command{
		Use:   "reset-password <login|id>",
		Short: "Reset a user's password (admin only)",
		Long:  "Replace a user's password. The new password is read from " + envNewPassword + " or prompted for.",
		Args:  cobra.ExactArgs(1),
		RunE: runWithApp(f, func(cmd *cobra.Command, args []string, a *app) error {
			sess, err := a.actor(cmd, f)
			if err != nil {
				return err
			}
			target, err := findUser(cmd.Context(), a, args[0])
			if err != nil {
				return err
			}
			pw, err := f.prompt.secret(envNewPassword, "New password for "+target.Login)
			if err != nil {
				return err
			}
			if err := a.admin.ResetPassword(cmd.Context(), target.ID, pw, deactivate, sess.UserID); err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), f.jsonMode,
				map[string]any{"id": target.ID, "login": target.Login, "deactivated": deactivate},
				fmt.Sprintf("password reset for %s", target.Login))
		}),
	}
	cmd.Flags().BoolVar(&deactivate, "deactivate", false, "also deactivate the account")
	return cmd
}

func newUserSetActiveCmd(f *rootFlags) *cobra.Command {
	var active bool
	cmd := &cobra.Command{
		Use:   "set-active <login|id>",
		Short: "Activate or deactivate a user (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: runWithApp(f, func(cmd *cobra.Command, args []string, a *app) error {
			sess, err := a.actor(cmd, f)
			if err != nil {
				return err
			}
			target, err := findUser(cmd.Context(), a, args[0])
			if err != nil {
				return err
			}
			if err := a.admin.SetActive(cmd.Context(), target.ID, active, sess.UserID); err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), f.jsonMode,
				map[string]any{"id": target.ID, "login": target.Login, "is_active": active},
				fmt.Sprintf("%s is_active=%t", target.Login, active))
		}),
	}
	cmd.Flags().BoolVar(&active, "active", true, "desired state (--active=false deactivates)")
	return cmd
}

// findUser resolves ref as an exact login first and as a numeric id second.
func findUser(ctx context.Context, a *app, ref string) (*types.User, error) {
	users, err := a.admin.ListUsers(ctx, ref)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if users[i].Login == ref {
			return &users[i], nil
		}
	}

	if id, convErr := strconv.ParseInt(ref, 10, 64); convErr == nil {
		all, err := a.admin.ListUsers(ctx, "")
		if err != nil {
			return nil, err
		}
		for i := range all {
			if all[i].ID == id {
				return &all[i], nil
			}
		}
	}
	return nil, fmt.Errorf("user %q: %w", ref, types.ErrNotFound)
}
