package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/epirec/pkg/types"
)

func newAuditCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit trail",
	}
	cmd.AddCommand(newAuditListCmd(f))
	return cmd
}

func newAuditListCmd(f *rootFlags) *cobra.Command {
	var q types.AuditQuery
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List audit events, newest first (admin only)",
		Args:  cobra.NoArgs,
		RunE: runWithApp(f, func(cmd *cobra.Command, args []string, a *app) error {
			sess, err := a.actor(cmd, f)
			if err != nil {
				return err
			}
			entries, err := a.admin.ListAudit(cmd.Context(), q, sess.UserID)
			if err != nil {
				return err
			}
			if f.jsonMode {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			rows := make([]string, 0, len(entries))
			for _, e := range entries {
				actor := e.ActorLogin
				if e.UserID == nil {
					actor = "(system)"
				} else if actor == "" {
					actor = fmt.Sprintf("#%d", *e.UserID)
				}
				rows = append(rows, fmt.Sprintf("%d\t%s\t%s\t%s\t%s\t%s",
					e.ID, e.EventTS.Format("2006-01-02 15:04:05.000"), actor, e.Action, e.EntityType+":"+e.EntityID, e.Payload))
			}
			return table(cmd.OutOrStdout(), "ID\tTIME\tACTOR\tACTION\tENTITY\tPAYLOAD", rows)
		}),
	}
	cmd.Flags().StringVar(&q.Action, "action", "", "only events with this action")
	cmd.Flags().StringVar(&q.EntityType, "entity", "", "only events for this entity type")
	cmd.Flags().IntVar(&q.Limit, "limit", 100, "maximum number of events")
	return cmd
}
