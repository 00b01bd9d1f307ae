// Package cli implements the epirec command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/epirec/internal/sqlite"
	"github.com/mesh-intelligence/epirec/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values shared by all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	jsonMode  bool
	actor     string

	prompt *prompter
}

// NewRootCmd creates the top-level "epirec" command with global flags and
// all subcommands registered.
func NewRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:   "epirec",
		Short: "Trust and data-safety core of the clinical records manager",
		Long: "epirec authenticates staff, administers user accounts, keeps the audit trail,\n" +
			"and backs up and restores the clinical records database.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			f.prompt = newPrompter(cmd.InOrStdin(), cmd.ErrOrStderr())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.configDir, "config-dir", "", "configuration directory (default: platform config dir)")
	pf.StringVar(&f.dataDir, "data-dir", "", "data directory (default: .epirec-data)")
	pf.BoolVar(&f.jsonMode, "json", false, "output in JSON format")
	pf.StringVar(&f.actor, "as", "", "login of the acting user (password from "+envPassword+" or prompt)")

	root.AddCommand(
		newVersionCmd(),
		newInitCmd(f),
		newMigrateCmd(f),
		newLoginCmd(f),
		newUserCmd(f),
		newBackupCmd(f),
		newAuditCmd(f),
	)
	return root
}

// Execute runs the root command and exits with the matching code.
func Execute() {
	// A missing .env file is normal.
	_ = godotenv.Load()

	root := NewRootCmd()
	err := root.ExecuteContext(context.Background())
	os.Exit(report(root.ErrOrStderr(), err))
}

// report prints err and maps it to an exit code. Business-rule failures
// are shown verbatim; I/O-class failures get a generic line followed by the
// detail.
func report(w io.Writer, err error) int {
	if err == nil {
		return exitSuccess
	}
	code := exitCode(err)
	if code == exitSysError {
		fmt.Fprintln(w, "epirec: operation failed")
	}
	fmt.Fprintln(w, "epirec:", err)
	return code
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitSuccess
	case errors.Is(err, types.ErrBackupFailed),
		errors.Is(err, types.ErrRestoreFailed),
		errors.Is(err, types.ErrUnknownHashFormat),
		errors.Is(err, types.ErrUnsupportedScheme),
		errors.Is(err, sqlite.ErrPoolDisposed):
		return exitSysError
	case errors.Is(err, types.ErrInvalidInput),
		errors.Is(err, types.ErrAuthenticationFailed),
		errors.Is(err, types.ErrPermissionDenied),
		errors.Is(err, types.ErrNotFound),
		errors.Is(err, types.ErrConflict),
		errors.Is(err, errUsage):
		return exitUserError
	default:
		return exitSysError
	}
}

// errUsage marks command-line mistakes.
var errUsage = errors.New("usage")

func usageErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}
