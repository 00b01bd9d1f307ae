package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/epirec/internal/sqlite"
	"github.com/mesh-intelligence/epirec/pkg/types"
)

type initResult struct {
	ConfigDir     string  `json:"config_dir"`
	DataDir       string  `json:"data_dir"`
	Database      string  `json:"database"`
	SchemaVersion uint    `json:"schema_version"`
	SeededUserIDs []int64 `json:"seeded_user_ids"`
}

func newInitCmd(f *rootFlags) *cobra.Command {
	var (
		adminLogin string
		usersFile  string
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration, database and the first admin",
		Long: "Write a default config.yaml if missing, create or migrate the database, and\n" +
			"bootstrap the initial admin while the user store is empty. The admin password\n" +
			"is read from " + envNewPassword + " or prompted for. --users-file seeds several users at once.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, configDir, err := loadConfig(f)
			if err != nil {
				return err
			}
			lg, err := newLogger(cmd, cfg)
			if err != nil {
				return err
			}

			version, err := sqlite.Migrate(ctx, cfg.DatabasePath())
			if err != nil {
				return err
			}
			a, err := wireApp(ctx, cfg, lg)
			if err != nil {
				return err
			}
			defer a.Close()

			res := initResult{
				ConfigDir:     configDir,
				DataDir:       cfg.DataDir,
				Database:      cfg.DatabasePath(),
				SchemaVersion: version,
				SeededUserIDs: []int64{},
			}

			switch {
			case usersFile != "":
				res.SeededUserIDs, err = a.admin.BootstrapFromFile(ctx, usersFile)
			case adminLogin != "":
				var pw string
				if pw, err = f.prompt.secret(envNewPassword, "Password for new admin "+adminLogin); err != nil {
					return err
				}
				var id int64
				if id, err = a.admin.Bootstrap(ctx, adminLogin, pw); err == nil {
					res.SeededUserIDs = []int64{id}
				}
			}
			if errors.Is(err, types.ErrConflict) {
				fmt.Fprintln(cmd.ErrOrStderr(), "users already exist; bootstrap skipped")
				err = nil
			}
			if err != nil {
				return err
			}

			return emit(cmd.OutOrStdout(), f.jsonMode, res,
				fmt.Sprintf("epirec initialized: %s (schema v%d, %d user(s) seeded)", res.Database, res.SchemaVersion, len(res.SeededUserIDs)))
		},
	}
	cmd.Flags().StringVar(&adminLogin, "admin-login", "", "login of the initial admin")
	cmd.Flags().StringVar(&usersFile, "users-file", "", "yaml file of users to seed; the first must be an admin")
	cmd.MarkFlagsMutuallyExclusive("admin-login", "users-file")
	return cmd
}

func newMigrateCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(f)
			if err != nil {
				return err
			}
			version, err := sqlite.Migrate(cmd.Context(), cfg.DatabasePath())
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), f.jsonMode,
				map[string]any{"database": cfg.DatabasePath(), "schema_version": version},
				fmt.Sprintf("schema at version %d", version))
		},
	}
}
