package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/epirec/internal/auth"
	"github.com/mesh-intelligence/epirec/internal/backup"
	"github.com/mesh-intelligence/epirec/internal/credential"
	"github.com/mesh-intelligence/epirec/internal/logging"
	"github.com/mesh-intelligence/epirec/internal/sqlite"
	"github.com/mesh-intelligence/epirec/pkg/types"
)

// app wires the core components for one command invocation.
type app struct {
	cfg     types.Config
	log     logging.Logger
	pool    *sqlite.Pool
	auth    *auth.Service
	admin   *auth.Admin
	backups *backup.Engine
}

func newLogger(cmd *cobra.Command, cfg types.Config) (logging.Logger, error) {
	lg, err := logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrInvalidInput, err)
	}
	return lg, nil
}

// openApp loads configuration and opens the live database, which must
// already exist.
func openApp(cmd *cobra.Command, f *rootFlags) (*app, error) {
	cfg, _, err := loadConfig(f)
	if err != nil {
		return nil, err
	}
	lg, err := newLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	dbPath := cfg.DatabasePath()
	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: database %s does not exist, run 'epirec init'", types.ErrNotFound, dbPath)
	}
	return wireApp(cmd.Context(), cfg, lg)
}

func wireApp(ctx context.Context, cfg types.Config, lg logging.Logger) (*app, error) {
	pool, err := sqlite.Open(ctx, cfg.DatabasePath(), sqlite.WithLogger(lg))
	if err != nil {
		return nil, err
	}
	hasher := credential.New(cfg.Hash)
	return &app{
		cfg:     cfg,
		log:     lg,
		pool:    pool,
		auth:    auth.NewService(pool, hasher, cfg.Auth, lg),
		admin:   auth.NewAdmin(pool, hasher, lg),
		backups: backup.New(pool, cfg.BackupDir, cfg.Backup, backup.WithLogger(lg)),
	}, nil
}

func (a *app) Close() {
	if err := a.pool.Close(); err != nil {
		a.log.Warn(context.Background(), "closing database", "error", err)
	}
}

// actor authenticates the --as user and returns its session.
func (a *app) actor(cmd *cobra.Command, f *rootFlags) (*types.SessionContext, error) {
	if f.actor == "" {
		return nil, usageErrorf("--as <login> is required for this command")
	}
	pw, err := f.prompt.secret(envPassword, "Password for "+f.actor)
	if err != nil {
		return nil, err
	}
	return a.auth.Login(cmd.Context(), f.actor, pw)
}

// runWithApp opens the app, runs fn, and closes the app.
func runWithApp(f *rootFlags, fn func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd, f)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, args, a)
	}
}
