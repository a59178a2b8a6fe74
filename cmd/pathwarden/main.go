// Command pathwarden allocates, validates and reclaims canonical artifact
// directories.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/mattjoyce/pathwarden/internal/artifact"
	"github.com/mattjoyce/pathwarden/internal/config"
	"github.com/mattjoyce/pathwarden/internal/log"
	"github.com/mattjoyce/pathwarden/internal/storage"
	"github.com/mattjoyce/pathwarden/internal/validator"
	"github.com/mattjoyce/pathwarden/internal/workspace"
)

const envQuiet = "PATHWARDEN_QUIET"

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "create":
		return runCreate(ctx, args)
	case "validate":
		return runValidate(args)
	case "cleanup":
		return runCleanup(ctx, args)
	case "setup":
		return runSetup(args)
	case "check":
		return runCheck(ctx, args)
	case "doctor":
		return runDoctor(ctx, args)
	case "list":
		return runList(ctx, args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `Usage: pathwarden <command> [flags]

Commands:
  create <type> <context>   Allocate a canonical output directory and print its path
  validate <path>           Exit 0 if path is canonical, 1 otherwise
  cleanup                   Remove expired directories and empty tmp
  setup                     Create the artifacts root, type directories and ignore marker
  check [dir]               Report artifact directories outside the canonical root
  doctor                    Inspect layout, lock, filesystem and manifest integrity
  list                      List allocated directories
  version                   Print version information

Types: analysis, vision, test, benchmark, tmp

Global flags:
  --config PATH             Config file or directory (default: discovered)
  --log-level LEVEL         debug, info, warn or error

Environment:
  PATHWARDEN_CONFIG         Config path when --config is not given
  PATHWARDEN_QUIET          Suppress the advisory banner
  CI_JOB_ID, GITHUB_RUN_ID  CI job identifiers stamped into directory names
`)
}

// globalFlags are accepted by every command that reads configuration.
type globalFlags struct {
	configPath string
	logLevel   string
}

func newFlagSet(name string, g *globalFlags) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringVar(&g.configPath, "config", "", "config file or directory")
	fs.StringVar(&g.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	return fs
}

// parseFlags parses args into fs. When ok is false the command should
// return code immediately (0 after --help, 1 on a flag error).
func parseFlags(fs *pflag.FlagSet, args []string) (code int, ok bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0, false
		}
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1, false
	}
	return 0, true
}

// env is the per-invocation state shared by commands.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
}

func loadEnv(g globalFlags, banner bool) (*env, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}
	cfg, err := config.Discover(g.configPath, cwd)
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if g.logLevel != "" {
		level = g.logLevel
	}
	logger := log.Setup(level, cfg.Log.Format, os.Stderr)
	logger.Debug("configuration loaded", "source", cfg.SourcePath, "artifacts_root", cfg.ArtifactsRoot)

	if banner && !quiet(cfg) {
		fmt.Fprintln(os.Stderr, styleDim.Render(fmt.Sprintf(
			"pathwarden: generated output belongs under %s (set %s=1 to hide this notice)", cfg.ArtifactsRoot, envQuiet)))
	}
	return &env{cfg: cfg, logger: logger}, nil
}

func quiet(cfg *config.Config) bool {
	if cfg.Quiet {
		return true
	}
	raw, ok := os.LookupEnv(envQuiet)
	if !ok {
		return false
	}
	on, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err != nil || on
}

func (e *env) validator() *validator.Validator {
	return validator.New(e.cfg.ArtifactsRoot, e.cfg.ProjectRoot, validator.WithSourceDirs(e.cfg.SourceDirs))
}

func (e *env) typeRetention() map[artifact.Type]int {
	out := make(map[artifact.Type]int, len(e.cfg.Retention))
	for name, days := range e.cfg.Retention {
		out[artifact.Type(name)] = days
	}
	return out
}

// recorder returns the ledger when enabled, otherwise an in-memory
// recorder. The returned close func is always safe to call.
func (e *env) recorder(ctx context.Context) (workspace.Recorder, *storage.Ledger, func(), error) {
	if !e.cfg.Ledger.Enabled {
		return workspace.NewMemoryRecorder(), nil, func() {}, nil
	}
	ledger, err := storage.OpenLedger(ctx, e.cfg.LedgerPath())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open ledger: %w", err)
	}
	return ledger, ledger, func() { _ = ledger.Close() }, nil
}

func fail(format string, args ...any) int {
	fmt.Fprintln(os.Stderr, styleError.Render("Error:")+" "+fmt.Sprintf(format, args...))
	return 1
}
