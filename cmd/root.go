// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/watchdog-cli/internal/browser"
	"github.com/xkilldash9x/watchdog-cli/internal/config"
	"github.com/xkilldash9x/watchdog-cli/internal/observability"
	"github.com/xkilldash9x/watchdog-cli/internal/watchdog"
)

// newLauncher is swapped out in tests.
var newLauncher = func(cfg config.BrowserConfig, logger *zap.Logger) browser.Launcher {
	return browser.NewChromeLauncher(cfg, logger)
}

// cliState carries what PersistentPreRunE loads to the subcommands of one root.
type cliState struct {
	cfgFile  string
	logLevel string
	cfg      *config.Config
}

// NewRootCommand builds a fresh command tree. Each call is independent, which
// keeps tests from leaking flags into each other.
func NewRootCommand() *cobra.Command {
	state := &cliState{}

	rootCmd := &cobra.Command{
		Use:   "watchdog [flags] LOGDIR",
		Short: "Watchdog drives a browser through a login flow and reports whether it works.",
		Long: `Watchdog navigates to the configured start page, signs in through the identity
provider when needed and verifies that the landing page is reached. On failure a
screenshot and the page HTML are written to LOGDIR.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          logDirArg,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return state.load(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(cmd.Context(), cmd, state.cfg, args[0])
		},
	}

	rootCmd.PersistentFlags().StringVarP(&state.cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&state.logLevel, "log-level", "", "override logger.level (debug, info, warn, error)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return watchdog.UsageError("%v", err)
	})

	rootCmd.AddCommand(newRunCommand(state))
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

// Execute runs the command tree and prints errors. The caller maps the error to an exit code.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	return execute(ctx, rootCmd)
}

func execute(ctx context.Context, rootCmd *cobra.Command) error {
	c, err := rootCmd.ExecuteContextC(ctx)
	if err == nil {
		return nil
	}

	if errors.Is(err, watchdog.ErrUsage) {
		fmt.Fprintf(c.ErrOrStderr(), "Error: %v\n\n%s", err, c.UsageString())
		return err
	}
	if errors.Is(err, context.Canceled) {
		observability.GetLogger().Warn("Interrupted.")
		return err
	}
	observability.GetLogger().Error("Command execution failed", zap.Error(err))
	return err
}

// logDirArg requires exactly one existing, writable directory.
func logDirArg(_ *cobra.Command, args []string) error {
	if len(args) != 1 {
		return watchdog.UsageError("expected exactly one LOGDIR argument, got %d", len(args))
	}
	info, err := os.Stat(args[0])
	if err != nil || !info.IsDir() {
		return watchdog.UsageError("invalid log directory: %s", args[0])
	}
	if err := checkWritable(args[0]); err != nil {
		return watchdog.UsageError("log directory is not writable: %s: %v", args[0], err)
	}
	return nil
}

// checkWritable creates and removes a scratch file in dir.
func checkWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".watchdog-write-check-*")
	if err != nil {
		return err
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	return os.Remove(name)
}

// load reads configuration and initializes logging.
func (s *cliState) load(cmd *cobra.Command) error {
	v := viper.New()
	config.SetDefaults(v)

	if err := initializeConfig(v, s.cfgFile); err != nil {
		observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "watchdog"})
		return watchdog.UsageError("%v", err)
	}

	cfg, err := config.NewConfigFromViper(v)
	if err != nil {
		observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "watchdog"})
		return watchdog.UsageError("%v", err)
	}
	if s.logLevel != "" {
		cfg.Logger.Level = s.logLevel
	}
	s.cfg = cfg

	observability.InitializeLogger(cfg.Logger)
	if s.logLevel != "" {
		if err := observability.SetLevel(s.logLevel); err != nil {
			return watchdog.UsageError("invalid --log-level: %v", err)
		}
	}
	observability.GetLogger().Debug("Starting watchdog", zap.String("version", Version), zap.String("command", cmd.Name()))
	return nil
}

// initializeConfig reads in config file and ENV variables if set.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("WATCHDOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars
	}
	return nil
}

// runMonitor executes a single login flow writing its failure artifacts into logDir.
// Only artifacts go to logDir; the scheduled runner keeps a run log alongside them.
func runMonitor(ctx context.Context, cmd *cobra.Command, cfg *config.Config, logDir string) error {
	logger := observability.GetLogger()
	monitor := watchdog.NewMonitor(cfg, newLauncher(cfg.Browser, logger), logDir, logger)
	out, err := monitor.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Completed web session. Took %.1f seconds.\n", out.Elapsed.Seconds())
	return nil
}
