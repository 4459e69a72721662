// internal/runner/dirs.go
package runner

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const runDirLayout = "2006_01_02-15_04_05_MST"

// createRunDir makes {root}/{timestamp}. The root must already exist.
func createRunDir(root string, at time.Time) (string, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("log directory does not exist: %s", root)
	}
	dir := filepath.Join(root, at.Format(runDirLayout))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("unable to create target directory %s: %w", dir, err)
	}
	return dir, nil
}

// removeIfEmpty deletes dir when it holds nothing. It reports whether it did.
func removeIfEmpty(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	if len(entries) > 0 {
		return false, nil
	}
	return true, os.Remove(dir)
}

// expireRunDirs removes subdirectories of root last modified before cutoff,
// sparing keep. It returns the names removed.
func expireRunDirs(root, keep string, cutoff time.Time, logger *zap.Logger) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading log directory: %w", err)
	}

	var removed []string
	var errs []error
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(root, e.Name())
		if path == keep {
			continue
		}
		info, err := e.Info()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			errs = append(errs, fmt.Errorf("removing %s: %w", path, err))
			continue
		}
		logger.Debug("Expired run directory removed.", zap.String("dir", e.Name()))
		removed = append(removed, e.Name())
	}
	return removed, errors.Join(errs...)
}
