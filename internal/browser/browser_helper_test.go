// internal/browser/browser_helper_test.go
package browser

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/watchdog-cli/internal/config"
)

// browserSemaphore limits concurrent Chrome processes across the package's tests.
var browserSemaphore = semaphore.NewWeighted(2)

const defaultBrowserTestTimeout = 90 * time.Second

// findChrome returns a Chrome binary or skips the test.
func findChrome(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	if p := os.Getenv("CHROME_PATH"); p != "" {
		return p
	}
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	t.Skip("no Chrome binary found; set CHROME_PATH to run browser tests")
	return ""
}

// newTestSession launches a headless browser for the duration of the test.
func newTestSession(t *testing.T) (context.Context, Session) {
	t.Helper()
	execPath := findChrome(t)

	ctx, cancel := context.WithTimeout(context.Background(), defaultBrowserTestTimeout)
	t.Cleanup(cancel)

	require.NoError(t, browserSemaphore.Acquire(ctx, 1))
	t.Cleanup(func() { browserSemaphore.Release(1) })

	cfg := config.NewDefaultConfig().Browser
	cfg.Headless = true
	cfg.ExecPath = execPath
	cfg.InputDelay = 0
	cfg.Args = nil

	launcher := NewChromeLauncher(cfg, zaptest.NewLogger(t))
	s, err := launcher.Launch(ctx)
	require.NoError(t, err)
	t.Cleanup(func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer closeCancel()
		_ = s.Close(closeCtx)
	})
	return ctx, s
}
