// internal/watchdog/fake_session_test.go
package watchdog

import (
	"context"
	"sync"

	"github.com/xkilldash9x/watchdog-cli/internal/browser"
)

// fakeSession simulates a site: selectors in present exist, and clicking the
// login button "submits" by moving to afterLoginURL and revealing afterLogin.
type fakeSession struct {
	mu sync.Mutex

	navigateErrs []error
	navigations  int

	url           string
	present       map[string]bool
	loginButton   string
	afterLoginURL string
	afterLogin    []string

	clicks []string
	typed  map[string]string

	cookiesSet []browser.Cookie
	jar        map[string][]browser.Cookie

	// waitErrs are returned by successive WaitForAny calls; nil entries wait normally.
	waitErrs  []error
	waitCalls int

	screenshotErr error

	panicOnClick bool
	closed       int
	listeners    []browser.NetworkListener
}

func newFakeSession(url string, present ...string) *fakeSession {
	s := &fakeSession{
		url:     url,
		present: make(map[string]bool),
		typed:   make(map[string]string),
		jar:     make(map[string][]browser.Cookie),
	}
	for _, p := range present {
		s.present[p] = true
	}
	return s
}

var _ browser.Session = (*fakeSession)(nil)

func (s *fakeSession) ID() string { return "fake-session" }

func (s *fakeSession) Navigate(ctx context.Context, url string) (*browser.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.navigations
	s.navigations++
	if idx < len(s.navigateErrs) && s.navigateErrs[idx] != nil {
		return nil, s.navigateErrs[idx]
	}
	return &browser.Response{URL: url, Status: 200}, nil
}

func (s *fakeSession) WaitForAny(ctx context.Context, selectors ...string) (string, error) {
	s.mu.Lock()
	idx := s.waitCalls
	s.waitCalls++
	if idx < len(s.waitErrs) && s.waitErrs[idx] != nil {
		err := s.waitErrs[idx]
		s.mu.Unlock()
		return "", err
	}
	for _, sel := range selectors {
		if s.present[sel] {
			s.mu.Unlock()
			return sel, nil
		}
	}
	s.mu.Unlock()
	<-ctx.Done()
	return "", ctx.Err()
}

func (s *fakeSession) WaitFor(ctx context.Context, selector string) error {
	_, err := s.WaitForAny(ctx, selector)
	return err
}

func (s *fakeSession) Exists(_ context.Context, selector string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.present[selector], nil
}

func (s *fakeSession) Click(_ context.Context, selector string) error {
	if s.panicOnClick {
		panic("simulated driver crash")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clicks = append(s.clicks, selector)
	if selector == s.loginButton {
		if s.afterLoginURL != "" {
			s.url = s.afterLoginURL
		}
		for _, p := range s.afterLogin {
			s.present[p] = true
		}
	}
	return nil
}

func (s *fakeSession) Type(_ context.Context, selector, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typed[selector] += text
	return nil
}

func (s *fakeSession) URL(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url, nil
}

func (s *fakeSession) Screenshot(context.Context) ([]byte, error) {
	if s.screenshotErr != nil {
		return nil, s.screenshotErr
	}
	return []byte("\x89PNG\r\n\x1a\n"), nil
}

func (s *fakeSession) Content(context.Context) (string, error) {
	return "<html><body>fake</body></html>", nil
}

func (s *fakeSession) SetCookies(_ context.Context, cookies []browser.Cookie) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookiesSet = append(s.cookiesSet, cookies...)
	return nil
}

func (s *fakeSession) Cookies(_ context.Context, urls ...string) ([]browser.Cookie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []browser.Cookie
	for _, u := range urls {
		out = append(out, s.jar[u]...)
	}
	return out, nil
}

func (s *fakeSession) AddNetworkListener(l browser.NetworkListener) {
	s.listeners = append(s.listeners, l)
}

func (s *fakeSession) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

type fakeLauncher struct {
	session *fakeSession
	err     error
}

func (l *fakeLauncher) Launch(context.Context) (browser.Session, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.session, nil
}
