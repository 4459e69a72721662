// internal/cookies/store_test.go
package cookies

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/watchdog-cli/internal/browser"
)

// fakeJar stands in for a browser session: cookies set are returned by URL.
type fakeJar struct {
	set    []browser.Cookie
	byURL  map[string][]browser.Cookie
	setErr error
}

func (f *fakeJar) SetCookies(_ context.Context, cookies []browser.Cookie) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.set = append(f.set, cookies...)
	return nil
}

func (f *fakeJar) Cookies(_ context.Context, urls ...string) ([]browser.Cookie, error) {
	var out []browser.Cookie
	for _, u := range urls {
		out = append(out, f.byURL[u]...)
	}
	return out, nil
}

func newStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := New(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

var sample = map[string][]browser.Cookie{
	"https://idp.example.com": {
		{Name: "idp_session", Value: "s1", Domain: "idp.example.com", Path: "/", Expires: 1893456000, Size: 13, HTTPOnly: true, Secure: true, SameSite: "None", Priority: "Medium"},
	},
	"https://app.example.com": {
		{Name: "app", Value: "a", Domain: ".example.com", Path: "/", Expires: -1, Size: 4, Session: true, Priority: "Medium"},
		{Name: "pref", Value: "dark", Domain: "app.example.com", Path: "/settings", Expires: 1900000000.25, Size: 8, SameSite: "Lax", Priority: "Low"},
	},
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cookies.json")
	store := newStore(t, path)

	urls := []string{"https://idp.example.com", "https://app.example.com"}
	n, err := store.Save(ctx, &fakeJar{byURL: sample}, urls)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	fresh := &fakeJar{}
	loaded, err := store.Load(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded)

	want := append(append([]browser.Cookie{}, sample[urls[0]]...), sample[urls[1]]...)
	if diff := cmp.Diff(want, fresh.set); diff != "" {
		t.Errorf("cookies differ after round trip (-want +got):\n%s", diff)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	store := newStore(t, filepath.Join(t.TempDir(), "absent.json"))
	jar := &fakeJar{}
	n, err := store.Load(context.Background(), jar)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, jar.set)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	t.Run("Malformed", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
		_, err := newStore(t, path).Load(context.Background(), &fakeJar{})
		assert.ErrorContains(t, err, "parsing cookie file")
	})

	t.Run("SessionRejects", func(t *testing.T) {
		path := filepath.Join(dir, "ok.json")
		require.NoError(t, os.WriteFile(path, []byte(`[{"name":"a","value":"b"}]`), 0o600))
		boom := errors.New("cdp gone")
		_, err := newStore(t, path).Load(context.Background(), &fakeJar{setErr: boom})
		assert.ErrorIs(t, err, boom)
	})
}

func TestSave_EmptyWritesArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cookies.json")
	n, err := newStore(t, path).Save(context.Background(), &fakeJar{}, []string{"https://none.example"})
	require.NoError(t, err)
	assert.Zero(t, n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))
}

func TestSave_ReadsBrowserFieldNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	_, err := newStore(t, path).Save(context.Background(), &fakeJar{byURL: sample}, []string{"https://idp.example.com"})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"httpOnly":true`)
	assert.Contains(t, string(data), `"sameSite":"None"`)
}

func TestClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	store := newStore(t, path)
	require.NoError(t, store.Clear(), "clearing a missing file is fine")

	require.NoError(t, os.WriteFile(path, []byte("[]"), 0o600))
	require.NoError(t, store.Clear())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestNew_ExpandsHome(t *testing.T) {
	home, err := homedir.Dir()
	require.NoError(t, err)
	store := newStore(t, "~/watchdog/cookies.json")
	assert.Equal(t, filepath.Join(home, "watchdog", "cookies.json"), store.Path())
}
