// internal/cookies/store.go
package cookies

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/watchdog-cli/internal/browser"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Setter is the part of a browser session Load needs.
type Setter interface {
	SetCookies(ctx context.Context, cookies []browser.Cookie) error
}

// Getter is the part of a browser session Save needs.
type Getter interface {
	Cookies(ctx context.Context, urls ...string) ([]browser.Cookie, error)
}

// Store persists browser cookies to a JSON file between runs.
type Store struct {
	path   string
	logger *zap.Logger
}

// New returns a store for path. A leading ~ is expanded to the home directory.
func New(path string, logger *zap.Logger) (*Store, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expanding cookie path %q: %w", path, err)
	}
	return &Store{path: expanded, logger: logger.Named("cookies")}, nil
}

// Path returns the resolved cookie file path.
func (s *Store) Path() string {
	return s.path
}

// Load applies the cookies in the file to the session, in file order.
// A missing file loads nothing.
func (s *Store) Load(ctx context.Context, session Setter) (int, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug("No cookie file, starting clean.", zap.String("path", s.path))
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading cookie file: %w", err)
	}

	var cookies []browser.Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return 0, fmt.Errorf("parsing cookie file %s: %w", s.path, err)
	}
	if err := session.SetCookies(ctx, cookies); err != nil {
		return 0, fmt.Errorf("applying cookies: %w", err)
	}

	s.logger.Info("Cookies loaded.", zap.Int("count", len(cookies)), zap.String("path", s.path))
	return len(cookies), nil
}

// Save queries the cookies for each URL and overwrites the file with their
// concatenation, preserving URL order then browser order.
func (s *Store) Save(ctx context.Context, session Getter, urls []string) (int, error) {
	all := make([]browser.Cookie, 0)
	for _, u := range urls {
		cookies, err := session.Cookies(ctx, u)
		if err != nil {
			return 0, fmt.Errorf("reading cookies for %s: %w", u, err)
		}
		all = append(all, cookies...)
	}

	data, err := json.Marshal(all)
	if err != nil {
		return 0, fmt.Errorf("encoding cookies: %w", err)
	}
	if err := writeFileAtomic(s.path, data, 0o600); err != nil {
		return 0, err
	}

	s.logger.Info("Cookies saved.", zap.Int("count", len(all)), zap.String("path", s.path))
	return len(all), nil
}

// Clear removes the cookie file if it exists.
func (s *Store) Clear() error {
	err := os.Remove(s.path)
	if err == nil {
		s.logger.Info("Cookie file removed.", zap.String("path", s.path))
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("removing cookie file: %w", err)
}

// writeFileAtomic replaces path with data so readers never see a partial file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cookie directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".cookies-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp cookie file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing cookie file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("setting cookie file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing cookie file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing cookie file: %w", err)
	}
	return nil
}
