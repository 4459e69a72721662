// internal/capture/capture.go
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Stage names used for artifact files.
const (
	StageNavigationFailed = "navigation-failed"
	StageLoginFailed      = "login-failed"
	StageEndFailed        = "end-failed"
)

// Page is the part of a browser session capture needs.
type Page interface {
	Screenshot(ctx context.Context) ([]byte, error)
	Content(ctx context.Context) (string, error)
}

// Capture writes {logDir}/{stage}.png and, when includeContent is set,
// {logDir}/{stage}.html. It returns the paths written even when a later step
// fails, so partial evidence is never lost.
func Capture(ctx context.Context, page Page, stage, logDir string, includeContent bool, logger *zap.Logger) ([]string, error) {
	var written []string
	var errs []error

	shot, err := page.Screenshot(ctx)
	if err == nil {
		path := filepath.Join(logDir, stage+".png")
		if err = os.WriteFile(path, shot, 0o644); err == nil {
			written = append(written, path)
			logger.Info("Screenshot saved.", zap.String("path", path))
		}
	}
	if err != nil {
		errs = append(errs, fmt.Errorf("screenshot: %w", err))
	}

	if includeContent {
		html, err := page.Content(ctx)
		if err == nil {
			path := filepath.Join(logDir, stage+".html")
			if err = os.WriteFile(path, []byte(html), 0o644); err == nil {
				written = append(written, path)
				logger.Info("Page content saved.", zap.String("path", path))
			}
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("page content: %w", err))
		}
	}

	if len(errs) > 0 {
		return written, fmt.Errorf("capturing %s artifacts: %w", stage, errors.Join(errs...))
	}
	return written, nil
}
