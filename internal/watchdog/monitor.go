// internal/watchdog/monitor.go
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/watchdog-cli/internal/browser"
	"github.com/xkilldash9x/watchdog-cli/internal/capture"
	"github.com/xkilldash9x/watchdog-cli/internal/config"
	"github.com/xkilldash9x/watchdog-cli/internal/cookies"
	"github.com/xkilldash9x/watchdog-cli/internal/netwatch"
	"github.com/xkilldash9x/watchdog-cli/internal/retry"
)

// cleanupTimeout bounds artifact capture and browser shutdown once the run's
// own context may already be gone.
const cleanupTimeout = 30 * time.Second

// navigationPause is the delay before waiting again on a page that navigated.
const navigationPause = 50 * time.Millisecond

// Monitor drives one login flow per Run.
type Monitor struct {
	cfg      *config.Config
	launcher browser.Launcher
	logDir   string
	logger   *zap.Logger

	now   func() time.Time
	sleep retry.Sleeper
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithRetrySleeper replaces the wait between navigation attempts.
func WithRetrySleeper(s retry.Sleeper) Option {
	return func(m *Monitor) { m.sleep = s }
}

// NewMonitor returns a monitor writing artifacts into logDir.
func NewMonitor(cfg *config.Config, launcher browser.Launcher, logDir string, logger *zap.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		cfg:      cfg,
		launcher: launcher,
		logDir:   logDir,
		logger:   logger.Named("monitor"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run executes the login flow once. The browser is always closed before Run
// returns. The error is nil exactly when the outcome is a success.
func (m *Monitor) Run(ctx context.Context) (out Outcome, err error) {
	started := m.now()

	session, err := m.launcher.Launch(ctx)
	if err != nil {
		fe := &FlowError{Kind: KindUnexpected, Stage: "launch", Reason: "browser failed to start", Err: err}
		m.logger.Error("Browser launch failed.", zap.Error(err))
		return failureOutcome(started, fe), fe
	}

	f := &flow{
		Monitor: m,
		session: session,
		logger:  m.logger.With(zap.String("session_id", session.ID())),
		state:   StateStart,
	}

	defer func() {
		closeCtx, cancel := context.WithTimeout(browser.Detach(ctx), cleanupTimeout)
		defer cancel()
		if cerr := session.Close(closeCtx); cerr != nil {
			f.logger.Warn("Browser did not close cleanly.", zap.Error(cerr))
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("Flow panicked.", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			fe := &FlowError{
				Kind:   KindUnexpected,
				Stage:  f.state.String(),
				Reason: fmt.Sprintf("panic: %v", r),
			}
			f.state = StateFailed
			out, err = failureOutcome(started, fe), fe
		}
	}()

	launched := m.now()
	elapsed, finalURL, err := f.execute(ctx, launched)
	if err != nil {
		return failureOutcome(started, err), err
	}

	f.logger.Info("Completed web session.",
		zap.Duration("elapsed", elapsed),
		zap.String("took", fmt.Sprintf("%.1fs", elapsed.Seconds())),
	)
	return Outcome{Status: StatusSuccess, StartedAt: started, Elapsed: elapsed, FinalURL: finalURL}, nil
}

// flow holds the per-run state.
type flow struct {
	*Monitor
	session browser.Session
	logger  *zap.Logger
	state   State
}

func (f *flow) transition(to State) {
	if !canTransition(f.state, to) {
		panic(fmt.Sprintf("illegal flow transition %s -> %s", f.state, to))
	}
	f.logger.Debug("Flow transition.", zap.Stringer("from", f.state), zap.Stringer("to", to))
	f.state = to
}

func (f *flow) execute(ctx context.Context, launched time.Time) (time.Duration, string, error) {
	cfg := f.cfg
	netwatch.New(cfg.Listener, f.logger).Attach(f.session)

	var jar *cookies.Store
	if cfg.Cookies.Active {
		var err error
		if jar, err = cookies.New(cfg.Cookies.Path, f.logger); err != nil {
			return 0, "", f.fail(ctx, KindUnexpected, "", "invalid cookie path", err)
		}
		if _, err := jar.Load(ctx, f.session); err != nil {
			f.logger.Warn("Continuing without stored cookies.", zap.Error(err))
		}
	}

	// start -> navigated
	if err := f.navigate(ctx); err != nil {
		return 0, "", err
	}

	// navigated -> awaiting-login-or-landing
	f.transition(StateAwaitingLoginOrLanding)
	userID := cfg.Login.Selectors.UserID
	landing := cfg.End.Selectors.Common

	f.logger.Info("Waiting for login (no cookie) or common landing (valid cookies) elements.")
	matched, err := f.await(ctx, cfg.Timeouts.LoginWait(), userID, landing)
	if err != nil {
		return 0, "", f.waitFailed(ctx, capture.StageLoginFailed,
			fmt.Sprintf("login page did not appear - final URL: %s", f.currentURL(ctx)), err)
	}

	loginPresent := matched == userID
	if !loginPresent {
		// Both may be present; the login form takes precedence.
		if loginPresent, err = f.exists(ctx, userID); err != nil {
			return 0, "", f.fail(ctx, KindUnexpected, capture.StageLoginFailed, "checking login form", err)
		}
	}

	if loginPresent {
		if err := f.login(ctx); err != nil {
			return 0, "", err
		}
	} else {
		f.transition(StateAlreadyAuthenticated)
		f.logger.Info("Appear to already be logged in.", zap.String("url", f.currentURL(ctx)))
	}

	// -> awaiting-landing, shared by both branches
	f.transition(StateAwaitingLanding)
	if _, err := f.await(ctx, cfg.Timeouts.EndWait(), landing); err != nil {
		return 0, "", f.waitFailed(ctx, capture.StageEndFailed,
			fmt.Sprintf("end page did not appear - final URL: %s", f.currentURL(ctx)), err)
	}

	finalURL, err := f.url(ctx)
	if err != nil {
		return 0, "", f.fail(ctx, KindUnexpected, capture.StageEndFailed, "reading final URL", err)
	}
	if !strings.Contains(finalURL, cfg.End.URL) {
		return 0, "", f.fail(ctx, KindURLMismatch, capture.StageEndFailed,
			fmt.Sprintf("end page did not appear - final URL: %s", finalURL), nil)
	}
	f.transition(StateVerifiedEnd)

	if jar != nil {
		if _, err := jar.Save(ctx, f.session, cfg.Cookies.URLs); err != nil {
			f.logger.Error("Failed to save cookies.", zap.Error(err))
		}
	}

	elapsed := f.now().Sub(launched)
	f.transition(StateDone)
	return elapsed, finalURL, nil
}

func (f *flow) navigate(ctx context.Context) error {
	cfg := f.cfg
	f.logger.Info("Entering website.", zap.String("url", cfg.Start.URL))

	opts := []retry.Option{
		retry.WithMaxAttempts(cfg.Retry.MaxAttempts),
		retry.WithDelay(cfg.Timeouts.RequestTimeout()),
		retry.WithAttemptTimeout(cfg.Timeouts.RequestTimeout()),
		retry.WithLogger(f.logger),
	}
	if f.sleep != nil {
		opts = append(opts, retry.WithSleeper(f.sleep))
	}

	resp, err := retry.Do(ctx, func(ctx context.Context) (*browser.Response, error) {
		return f.session.Navigate(ctx, cfg.Start.URL)
	}, opts...)
	if err != nil {
		kind := KindNavigationExhausted
		if !errors.Is(err, retry.ErrMaxRetriesExceeded) {
			kind = KindUnexpected
		}
		return f.fail(ctx, kind, capture.StageNavigationFailed,
			fmt.Sprintf("could not reach %s", cfg.Start.URL), err)
	}

	f.logger.Info("Starting page response.", zap.Int("status", resp.Status), zap.String("url", resp.URL))
	f.transition(StateNavigated)
	return nil
}

func (f *flow) login(ctx context.Context) error {
	cfg := f.cfg
	sel := cfg.Login.Selectors
	f.transition(StateLoggingIn)

	current, err := f.url(ctx)
	if err != nil {
		return f.fail(ctx, KindUnexpected, capture.StageLoginFailed, "reading login URL", err)
	}
	if !strings.Contains(current, cfg.Login.URL) {
		return f.fail(ctx, KindURLMismatch, capture.StageLoginFailed,
			fmt.Sprintf("login url %q did not match %q", current, cfg.Login.URL), nil)
	}

	f.logger.Info("Validating all login elements.")
	for _, s := range []string{sel.UserID, sel.Password, sel.LoginBtn} {
		ok, err := f.exists(ctx, s)
		if err != nil {
			return f.fail(ctx, KindUnexpected, capture.StageLoginFailed, "validating login elements", err)
		}
		if !ok {
			return f.fail(ctx, KindMissingElement, capture.StageLoginFailed,
				fmt.Sprintf("login page missing element - unable to find: %s", s), nil)
		}
	}

	f.logger.Info("Logging in.")
	actCtx, cancel := context.WithTimeout(ctx, cfg.Timeouts.Navigation())
	defer cancel()

	steps := []struct {
		what string
		do   func() error
	}{
		{"clicking user id", func() error { return f.session.Click(actCtx, sel.UserID) }},
		{"typing user id", func() error { return f.session.Type(actCtx, sel.UserID, cfg.Authentication.Username) }},
		{"clicking password", func() error { return f.session.Click(actCtx, sel.Password) }},
		{"typing password", func() error { return f.session.Type(actCtx, sel.Password, cfg.Authentication.Password) }},
		{"clicking login button", func() error { return f.session.Click(actCtx, sel.LoginBtn) }},
	}
	for _, step := range steps {
		if err := step.do(); err != nil {
			return f.fail(ctx, KindUnexpected, capture.StageLoginFailed, step.what, err)
		}
	}
	return nil
}

// await waits up to timeout for any of selectors. A wait cut short by the page
// navigating is started again on the new document within the same timeout.
func (f *flow) await(ctx context.Context, timeout time.Duration, selectors ...string) (string, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		matched, err := f.session.WaitForAny(waitCtx, selectors...)
		if err == nil || !browser.IsNavigationError(err) {
			return matched, err
		}
		f.logger.Debug("Page navigated during wait, waiting again.", zap.Strings("selectors", selectors), zap.Error(err))

		timer := time.NewTimer(navigationPause)
		select {
		case <-waitCtx.Done():
			timer.Stop()
			return "", fmt.Errorf("%w: %v", waitCtx.Err(), err)
		case <-timer.C:
		}
	}
}

// waitFailed reports a failed readiness wait. A wait ended by the run's own
// cancellation or deadline is not a readiness timeout.
func (f *flow) waitFailed(ctx context.Context, stage, reason string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return f.fail(ctx, KindUnexpected, stage, fmt.Sprintf("run stopped while waiting: %v", ctxErr), err)
	}
	return f.fail(ctx, KindReadinessTimeout, stage, reason, err)
}

// fail logs the failure, captures artifacts for stage and returns the FlowError.
func (f *flow) fail(ctx context.Context, kind Kind, stage, reason string, cause error) error {
	f.state = StateFailed
	f.logger.Error(reason, zap.Stringer("kind", kind), zap.String("stage", stage), zap.Error(cause))

	fe := &FlowError{Kind: kind, Stage: stage, Reason: reason, Err: cause}
	if stage == "" {
		return fe
	}

	captureCtx, cancel := context.WithTimeout(browser.Detach(ctx), cleanupTimeout)
	defer cancel()
	paths, err := capture.Capture(captureCtx, f.session, stage, f.logDir, true, f.logger)
	if err != nil {
		f.logger.Warn("Artifact capture incomplete.", zap.Error(err))
	}
	fe.Artifacts = paths
	return fe
}

func (f *flow) actionContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, f.cfg.Timeouts.Navigation())
}

func (f *flow) exists(ctx context.Context, selector string) (bool, error) {
	actCtx, cancel := f.actionContext(ctx)
	defer cancel()
	return f.session.Exists(actCtx, selector)
}

func (f *flow) url(ctx context.Context) (string, error) {
	actCtx, cancel := f.actionContext(ctx)
	defer cancel()
	return f.session.URL(actCtx)
}

// currentURL is a best-effort lookup for log and failure messages.
func (f *flow) currentURL(ctx context.Context) string {
	actCtx, cancel := context.WithTimeout(browser.Detach(ctx), 5*time.Second)
	defer cancel()
	u, err := f.session.URL(actCtx)
	if err != nil {
		return "unknown"
	}
	return u
}
