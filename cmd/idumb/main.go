// idumb governs multi-agent coding sessions: a task graph, delegation rules,
// a governed shell and context anchors, served over MCP and host hooks.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jaakkos/idumb/internal/app"
	"github.com/jaakkos/idumb/internal/policy"
	"github.com/jaakkos/idumb/internal/repository"
)

// Version is set by -ldflags at build time.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "idumb",
		Short: "Governance server for multi-agent coding sessions",
		Long: `idumb keeps agents honest: work is planned as a task graph, handed off through
validated delegations, shell commands run through a role-aware gate, and a small
set of anchors survives conversation compaction.

Run "idumb serve" from the host's MCP configuration, and "idumb hook <event>"
from its hook configuration.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cobra.OnInitialize(initConfig)
	root.PersistentFlags().String("config", "", "config file (YAML); env IDUMB_CONFIG")
	root.PersistentFlags().StringP("workspace", "w", "", "workspace root (default: current directory)")
	_ = viper.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("workspace", root.PersistentFlags().Lookup("workspace"))

	root.AddCommand(serveCmd(), hookCmd(), statusCmd(), configCmd(), versionCmd())
	return root
}

func initConfig() {
	viper.SetEnvPrefix("IDUMB")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "idumb "+Version)
		},
	}
}

// loadConfig reads the config file and environment. A broken config is
// reported on stderr and replaced by defaults so hooks keep working.
func loadConfig(stderr io.Writer) *policy.Config {
	cfg, err := policy.LoadConfig(viper.GetString("config"))
	if err != nil {
		fmt.Fprintf(stderr, "idumb: warning: %v, using defaults\n", err)
		cfg = policy.DefaultConfig()
	}
	if ws := viper.GetString("workspace"); ws != "" {
		cfg.WorkspaceRoot = ws
	}
	if cfg.WorkspaceRoot == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.WorkspaceRoot = wd
		}
	}
	return cfg
}

// setupLogger writes JSON to the policy log file. Stderr is added only when it
// is a terminal, or when no log file could be opened. Stdout is never used.
func setupLogger(pol *policy.Policy) (*zap.Logger, func()) {
	level, err := zapcore.ParseLevel(pol.LogLevel())
	if err != nil {
		level = zapcore.InfoLevel
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encCfg)

	var (
		cores   []zapcore.Core
		closers []func()
	)
	logFile := pol.LogFile()
	lower := strings.ToLower(logFile)
	if logFile != "" && lower != "none" && lower != "off" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "idumb: warning: cannot create log dir %s: %v\n", filepath.Dir(logFile), err)
		} else if f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "idumb: warning: cannot open log file %s: %v\n", logFile, err)
		} else {
			cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(f), level))
			closers = append(closers, func() { _ = f.Close() })
		}
	}

	stderrIsTerminal := false
	if info, err := os.Stderr.Stat(); err == nil {
		stderrIsTerminal = (info.Mode() & os.ModeCharDevice) != 0
	}
	if stderrIsTerminal || len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller()).Named("idumb")
	return logger, func() {
		_ = logger.Sync()
		for _, c := range closers {
			c()
		}
	}
}

// runtime bundles what every subcommand builds from config.
type runtime struct {
	pol    *policy.Policy
	logger *zap.Logger
	repo   *repository.Store
	svc    *app.GovernanceService
	close  func()
}

func openRuntime(stderr io.Writer) (*runtime, error) {
	pol := policy.New(loadConfig(stderr))
	logger, closeLog := setupLogger(pol)

	repo, err := repository.NewStateRepository(pol.StateBackend(), pol.StateDir())
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("state repository: %w", err)
	}
	svc := app.NewGovernanceService(repo, pol, logger)
	return &runtime{
		pol:    pol,
		logger: logger,
		repo:   repo,
		svc:    svc,
		close: func() {
			if err := repo.Close(); err != nil {
				logger.Warn("close state repository", zap.Error(err))
			}
			closeLog()
		},
	}, nil
}
