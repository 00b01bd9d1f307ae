package cli

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/epirec/pkg/types"
)

func newBackupCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, restore and inspect database backups",
	}
	cmd.AddCommand(
		newBackupCreateCmd(f),
		newBackupRestoreCmd(f),
		newBackupListCmd(f),
		newBackupLastCmd(f),
		newBackupEnsureDailyCmd(f),
	)
	return cmd
}

func newBackupCreateCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Snapshot the live database (admin only)",
		Args:  cobra.NoArgs,
		RunE: runWithApp(f, func(cmd *cobra.Command, args []string, a *app) error {
			sess, err := a.actor(cmd, f)
			if err != nil {
				return err
			}
			path, err := a.backups.CreateBackup(cmd.Context(), &sess.UserID, types.BackupManual)
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), f.jsonMode, map[string]string{"path": path}, "backup written to "+path)
		}),
	}
}

func newBackupRestoreCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <backup-file>",
		Short: "Replace the live database with a backup (admin only)",
		Long: "Replace the live database with a backup. The current database is first copied\n" +
			"to pre_restore_<timestamp>.db in the backup directory.",
		Args: cobra.ExactArgs(1),
		RunE: runWithApp(f, func(cmd *cobra.Command, args []string, a *app) error {
			sess, err := a.actor(cmd, f)
			if err != nil {
				return err
			}
			if err := a.backups.RestoreBackup(cmd.Context(), args[0], sess.UserID); err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), f.jsonMode, map[string]string{"restored": args[0]}, "restored "+args[0])
		}),
	}
}

type backupEntry struct {
	Path  string `json:"path"`
	Bytes uint64 `json:"bytes"`
}

func newBackupListCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List backup files, newest first",
		Args:  cobra.NoArgs,
		RunE: runWithApp(f, func(cmd *cobra.Command, args []string, a *app) error {
			paths, err := a.backups.ListBackups()
			if err != nil {
				return err
			}
			entries := make([]backupEntry, 0, len(paths))
			rows := make([]string, 0, len(paths))
			for _, p := range paths {
				e := backupEntry{Path: p}
				age := "?"
				if fi, err := os.Stat(p); err == nil {
					e.Bytes = uint64(fi.Size())
					age = humanize.Time(fi.ModTime())
				}
				entries = append(entries, e)
				rows = append(rows, fmt.Sprintf("%s\t%s\t%s", p, humanize.Bytes(e.Bytes), age))
			}
			if f.jsonMode {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			return table(cmd.OutOrStdout(), "PATH\tSIZE\tAGE", rows)
		}),
	}
}

func newBackupLastCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "last",
		Short: "Show the most recent backup or restore",
		Args:  cobra.NoArgs,
		RunE: runWithApp(f, func(cmd *cobra.Command, args []string, a *app) error {
			last := a.backups.GetLastBackup(cmd.Context())
			if last == nil {
				return emit(cmd.OutOrStdout(), f.jsonMode, nil, "no known backup")
			}
			return emit(cmd.OutOrStdout(), f.jsonMode, last,
				fmt.Sprintf("%s (%s, %s)", last.Path, last.Reason, humanize.Time(last.CreatedAt)))
		}),
	}
}

func newBackupEnsureDailyCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ensure-daily",
		Short: "Take an automatic backup if none was taken in the last 24 hours",
		Args:  cobra.NoArgs,
		RunE: runWithApp(f, func(cmd *cobra.Command, args []string, a *app) error {
			did, err := a.backups.EnsureDailyBackup(cmd.Context())
			if err != nil {
				return err
			}
			text := "daily backup not due"
			if did {
				text = "daily backup taken"
			}
			return emit(cmd.OutOrStdout(), f.jsonMode, map[string]bool{"backed_up": did}, text)
		}),
	}
}
