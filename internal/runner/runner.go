// internal/runner/runner.go
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/watchdog-cli/internal/browser"
	"github.com/xkilldash9x/watchdog-cli/internal/config"
	"github.com/xkilldash9x/watchdog-cli/internal/cookies"
	"github.com/xkilldash9x/watchdog-cli/internal/notify"
	"github.com/xkilldash9x/watchdog-cli/internal/observability"
	"github.com/xkilldash9x/watchdog-cli/internal/store"
	"github.com/xkilldash9x/watchdog-cli/internal/watchdog"
)

// sinkTimeout bounds each post-run sink independently of the run's deadline.
const sinkTimeout = 30 * time.Second

// HistoryRecorder stores one row per run.
type HistoryRecorder interface {
	RecordRun(ctx context.Context, r store.RunRecord) error
}

// DirUploader ships a run directory somewhere durable.
type DirUploader interface {
	UploadDir(ctx context.Context, runDir string) ([]string, error)
}

// Options are the per-invocation switches.
type Options struct {
	// Slack notifies on success and failure.
	Slack bool
	// SlackFail notifies on failure only.
	SlackFail bool
	// ClearCookies deletes the cookie file before the run.
	ClearCookies bool
}

// Result describes a finished scheduled run.
type Result struct {
	ID         string
	RunDir     string
	Outcome    watchdog.Outcome
	Took       time.Duration
	ReportLink string
	// Removed is set when the run directory was deleted as empty.
	Removed bool
}

// Runner wraps a monitor run with run directories, reporting and housekeeping.
type Runner struct {
	cfg      *config.Config
	launcher browser.Launcher
	logger   *zap.Logger

	notifier notify.Notifier
	history  HistoryRecorder
	uploader DirUploader

	now         func() time.Time
	monitorOpts []watchdog.Option
}

// Option customizes a Runner.
type Option func(*Runner)

// WithNotifier enables Slack style notifications.
func WithNotifier(n notify.Notifier) Option { return func(r *Runner) { r.notifier = n } }

// WithHistory enables the run history sink.
func WithHistory(h HistoryRecorder) Option { return func(r *Runner) { r.history = h } }

// WithUploader enables artifact upload.
func WithUploader(u DirUploader) Option { return func(r *Runner) { r.uploader = u } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(r *Runner) { r.now = now } }

// WithMonitorOptions passes options through to the monitor.
func WithMonitorOptions(opts ...watchdog.Option) Option {
	return func(r *Runner) { r.monitorOpts = append(r.monitorOpts, opts...) }
}

// New returns a Runner. cfg must have passed ValidateRunner.
func New(cfg *config.Config, launcher browser.Launcher, logger *zap.Logger, opts ...Option) *Runner {
	r := &Runner{
		cfg:      cfg,
		launcher: launcher,
		logger:   logger.Named("runner"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run performs one scheduled run. The returned error is the monitor's; sink
// and housekeeping failures are logged only.
func (r *Runner) Run(ctx context.Context, opts Options) (Result, error) {
	localZone, err := time.LoadLocation(r.cfg.Time.ZoneLocal)
	if err != nil {
		return Result{}, watchdog.UsageError("invalid time.zone_local %q: %v", r.cfg.Time.ZoneLocal, err)
	}
	globalZone, err := time.LoadLocation(r.cfg.Time.ZoneGlobal)
	if err != nil {
		return Result{}, watchdog.UsageError("invalid time.zone_global %q: %v", r.cfg.Time.ZoneGlobal, err)
	}

	root := r.cfg.System.LogDir
	started := r.now()
	runDir, err := createRunDir(root, started.In(globalZone))
	if err != nil {
		return Result{}, watchdog.UsageError("%v", err)
	}
	res := Result{ID: uuid.NewString(), RunDir: runDir}

	logger, closeRunLog, err := observability.WithRunFile(r.logger.With(zap.String("run_id", res.ID)), runDir)
	if err != nil {
		r.logger.Warn("Run log unavailable, logging to console only.", zap.Error(err))
	}

	if opts.ClearCookies {
		r.clearCookies(logger)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Process.Timeout)
	monitor := watchdog.NewMonitor(r.cfg, r.launcher, runDir, logger, r.monitorOpts...)
	out, runErr := monitor.Run(runCtx)
	cancel()
	res.Outcome = out
	res.Took = r.now().Sub(started)

	if runErr == nil {
		logger.Info("Website watchdog completed successfully.", zap.String("took", fmt.Sprintf("%.1fs", res.Took.Seconds())))
	} else {
		logger.Error("Website watchdog FAILED.", zap.String("took", fmt.Sprintf("%.1fs", res.Took.Seconds())), zap.Error(runErr))
		if errors.Is(runErr, context.DeadlineExceeded) && ctx.Err() == nil {
			logger.Error("Watchdog process timed out.", zap.Duration("timeout", r.cfg.Process.Timeout))
		}
	}

	// Close the run log before the directory is reported on or removed.
	if cerr := closeRunLog(); cerr != nil {
		r.logger.Warn("Failed to close run log.", zap.Error(cerr))
	}

	if runErr != nil {
		if err := writeOutput(runDir, out, res.Took); err != nil {
			r.logger.Error("Failed to write failure summary.", zap.Error(err))
		}
		if err := writeIndex(runDir, r.now().In(localZone), r.now().In(globalZone)); err != nil {
			r.logger.Error("Failed to write report index.", zap.Error(err))
		}
		res.ReportLink = reportLink(r.cfg.System.ReportURL, runDir)
	} else {
		// A successful run keeps nothing, so its directory can be dropped.
		_ = os.Remove(filepath.Join(runDir, observability.RunLogFile))
	}

	r.publish(ctx, res, opts)
	r.housekeep(&res)

	return res, runErr
}

func (r *Runner) clearCookies(logger *zap.Logger) {
	jar, err := cookies.New(r.cfg.Cookies.Path, logger)
	if err != nil {
		logger.Warn("Cannot resolve cookie path.", zap.Error(err))
		return
	}
	if err := jar.Clear(); err != nil {
		logger.Warn("Failed to clear cookies.", zap.Error(err))
	}
}

// publish fans the result out to the enabled sinks concurrently.
func (r *Runner) publish(ctx context.Context, res Result, opts Options) {
	// Sinks still report an interrupted run.
	sinkCtx, cancel := context.WithTimeout(browser.Detach(ctx), sinkTimeout)
	defer cancel()

	var g errgroup.Group
	succeeded := res.Outcome.Succeeded()

	if r.notifier != nil && (opts.Slack || opts.SlackFail) {
		var text string
		switch {
		case succeeded && opts.Slack:
			text = "Website watchdog completed successfully"
		case !succeeded:
			text = "Website watchdog FAILED"
			if res.ReportLink != "" {
				text += " - see: " + res.ReportLink
			}
		}
		if text != "" {
			g.Go(func() error {
				if err := r.notifier.Notify(sinkCtx, notify.Message{Text: text}); err != nil {
					r.logger.Error("Notification failed.", zap.Error(err))
				}
				return nil
			})
		}
	}

	if r.history != nil {
		rec := r.record(res)
		g.Go(func() error {
			if err := r.history.RecordRun(sinkCtx, rec); err != nil {
				r.logger.Error("Failed to record run history.", zap.Error(err))
			}
			return nil
		})
	}

	if r.uploader != nil && !succeeded {
		g.Go(func() error {
			if _, err := r.uploader.UploadDir(sinkCtx, res.RunDir); err != nil {
				r.logger.Error("Artifact upload incomplete.", zap.Error(err))
			}
			return nil
		})
	}

	_ = g.Wait()
}

func (r *Runner) record(res Result) store.RunRecord {
	out := res.Outcome
	rec := store.RunRecord{
		ID:         res.ID,
		StartedAt:  out.StartedAt,
		Status:     string(out.Status),
		Stage:      out.Stage,
		Reason:     out.Reason,
		ReportLink: res.ReportLink,
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = r.now().Add(-res.Took)
	}
	if out.Succeeded() {
		rec.ElapsedMS = out.Elapsed.Milliseconds()
		rec.MetricValue = roundTenth(res.Took.Seconds())
	} else {
		rec.MetricValue = r.cfg.Process.FailureTime
	}
	return rec
}

// housekeep removes an empty run directory and expires old ones.
func (r *Runner) housekeep(res *Result) {
	removed, err := removeIfEmpty(res.RunDir)
	if err != nil {
		r.logger.Warn("Could not inspect run directory.", zap.Error(err))
	}
	if removed {
		r.logger.Info("Log directory is empty, removing.", zap.String("dir", filepath.Base(res.RunDir)))
		res.Removed = true
	}

	days := r.cfg.System.ExpireLogDays
	if days <= 0 {
		return
	}
	cutoff := r.now().Add(-time.Duration(days) * 24 * time.Hour)
	expired, err := expireRunDirs(r.cfg.System.LogDir, res.RunDir, cutoff, r.logger)
	if err != nil {
		r.logger.Warn("Log expiry incomplete.", zap.Error(err))
	}
	if len(expired) > 0 {
		r.logger.Info("Expired old run directories.", zap.Int("count", len(expired)))
	}
}

func roundTenth(f float64) float64 {
	return float64(int64(f*10+0.5)) / 10
}
