// internal/browser/launcher.go
package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/watchdog-cli/internal/config"
)

// ChromeLauncher starts a local Chrome through chromedp's exec allocator.
type ChromeLauncher struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
}

var _ Launcher = (*ChromeLauncher)(nil)

// NewChromeLauncher returns a launcher for cfg.
func NewChromeLauncher(cfg config.BrowserConfig, logger *zap.Logger) *ChromeLauncher {
	return &ChromeLauncher{cfg: cfg, logger: logger.Named("browser")}
}

// Launch starts the browser and returns its first tab. The browser outlives
// ctx cancellation so artifacts can still be captured; Close releases it.
func (l *ChromeLauncher) Launch(ctx context.Context) (Session, error) {
	opts := buildAllocatorOptions(l.cfg)
	l.logger.Debug("Launching browser.",
		zap.Bool("headless", l.cfg.Headless),
		zap.String("exec_path", l.cfg.ExecPath),
		zap.Strings("args", l.cfg.Args),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(Detach(ctx), opts...)
	sugar := l.logger.Sugar()
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	)

	session := newChromeSession(tabCtx, tabCancel, allocCancel, l.cfg.InputDelay, l.logger)

	// The first Run allocates the browser. It must use the tab context itself,
	// a derived context would tear the browser down when it ends.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(tabCtx) }()
	select {
	case err := <-started:
		if err != nil {
			tabCancel()
			allocCancel()
			return nil, fmt.Errorf("failed to start browser: %w", err)
		}
	case <-ctx.Done():
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", ctx.Err())
	}

	setup := chromedp.Tasks{network.Enable()}
	if l.cfg.ViewportWidth > 0 && l.cfg.ViewportHeight > 0 {
		setup = append(setup, chromedp.EmulateViewport(int64(l.cfg.ViewportWidth), int64(l.cfg.ViewportHeight)))
	}
	setup = append(setup, personaTasks(l.cfg.Persona, l.logger))

	if err := session.run(ctx, setup); err != nil {
		_ = session.Close(Detach(ctx))
		return nil, fmt.Errorf("failed to configure browser: %w", err)
	}

	l.logger.Info("Browser launched.", zap.String("session_id", session.ID()))
	return session, nil
}

// buildAllocatorOptions layers the configuration on top of chromedp's defaults.
func buildAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("ignore-certificate-errors", cfg.IgnoreTLSErrors),
	)
	if !cfg.Headless {
		opts = append(opts, chromedp.Flag("hide-scrollbars", false), chromedp.Flag("mute-audio", false))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight))
	}

	for _, arg := range cfg.Args {
		name, value := parseFlag(arg)
		if name == "" {
			continue
		}
		opts = append(opts, chromedp.Flag(name, value))
	}

	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.NoSandbox,
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}
	return opts
}

// parseFlag splits "--name=value" into its parts. A bare "--name" is a boolean switch.
func parseFlag(arg string) (string, interface{}) {
	parts := strings.SplitN(strings.TrimSpace(arg), "=", 2)
	name := strings.TrimLeft(parts[0], "-")
	if len(parts) == 1 {
		return name, true
	}
	return name, parts[1]
}
