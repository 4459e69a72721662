// File: cmd/run.go
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/watchdog-cli/internal/artifacts"
	"github.com/xkilldash9x/watchdog-cli/internal/config"
	"github.com/xkilldash9x/watchdog-cli/internal/notify"
	"github.com/xkilldash9x/watchdog-cli/internal/observability"
	"github.com/xkilldash9x/watchdog-cli/internal/runner"
	"github.com/xkilldash9x/watchdog-cli/internal/store"
	"github.com/xkilldash9x/watchdog-cli/internal/watchdog"
)

func newRunCommand(state *cliState) *cobra.Command {
	var opts runner.Options

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the watchdog once as a scheduled job",
		Long: `Run creates a timestamped directory under system.log_dir, runs the login flow
with process.timeout as its deadline and, on failure, writes output.txt and an
index.html report into it. Results are optionally sent to Slack, recorded in the
run history database and uploaded to object storage. Old run directories are
expired afterwards.`,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 0 {
				return watchdog.UsageError("run takes no arguments, got %d", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := state.cfg
			if err := cfg.ValidateRunner(); err != nil {
				return watchdog.UsageError("invalid configuration: %v", err)
			}
			return runScheduled(cmd.Context(), cmd, cfg, opts)
		},
	}

	runCmd.Flags().BoolVarP(&opts.Slack, "slack", "s", false, "post a Slack message when the run completes")
	runCmd.Flags().BoolVarP(&opts.SlackFail, "slack-fail", "f", false, "post a Slack message only when the run fails")
	runCmd.Flags().BoolVarP(&opts.ClearCookies, "clear-cookies", "d", false, "delete the cookie file before running")
	return runCmd
}

func runScheduled(ctx context.Context, cmd *cobra.Command, cfg *config.Config, opts runner.Options) error {
	logger := observability.GetLogger()
	var runnerOpts []runner.Option

	if opts.Slack || opts.SlackFail {
		if cfg.Slack.URL == "" {
			logger.Warn("Slack requested but slack.url is not set; skipping notifications.")
		} else {
			runnerOpts = append(runnerOpts, runner.WithNotifier(notify.NewSlackNotifier(cfg.Slack, nil, logger)))
		}
	}

	if cfg.Store.Enabled {
		history, closePool, err := store.Open(ctx, cfg.Store.URL, logger)
		if err != nil {
			logger.Error("Run history disabled.", zap.Error(err))
		} else {
			defer closePool()
			runnerOpts = append(runnerOpts, runner.WithHistory(history))
		}
	}

	if cfg.Artifacts.Enabled {
		if uploader, err := newUploader(ctx, cfg.Artifacts, logger); err != nil {
			logger.Error("Artifact upload disabled.", zap.Error(err))
		} else {
			runnerOpts = append(runnerOpts, runner.WithUploader(uploader))
		}
	}

	r := runner.New(cfg, newLauncher(cfg.Browser, logger), logger, runnerOpts...)
	res, err := r.Run(ctx, opts)

	if err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Website watchdog completed successfully, taking %.1f seconds\n", res.Took.Seconds())
		return nil
	}
	if res.RunDir != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Website watchdog FAILED, taking %.1f seconds\n", res.Took.Seconds())
		if res.ReportLink != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Report: %s\n", res.ReportLink)
		}
	}
	return err
}

func newUploader(ctx context.Context, cfg config.ArtifactsConfig, logger *zap.Logger) (*artifacts.Uploader, error) {
	client, err := artifacts.NewMinIOClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating object storage client: %w", err)
	}
	u := artifacts.NewUploader(client, cfg, logger)
	if err := u.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return u, nil
}
