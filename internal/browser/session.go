// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// ErrSessionClosed is returned by every operation after Close.
var ErrSessionClosed = errors.New("browser session is closed")

const (
	// firstMatchFn returns the first selector in argument order that matches a node, or false.
	firstMatchFn = `(selectors) => {
	for (const sel of selectors) {
		if (document.querySelector(sel) !== null) {
			return sel;
		}
	}
	return false;
}`
	pollInterval = 100 * time.Millisecond
	// navigationSettle is the pause before polling a document that replaced the one being polled.
	navigationSettle = 50 * time.Millisecond
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ChromeSession drives a single Chrome tab over the DevTools protocol.
type ChromeSession struct {
	id     string
	logger *zap.Logger

	// ctx is the chromedp tab context. Callers' contexts are combined with it per call.
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc

	inputDelay time.Duration
	events     *eventDispatcher

	mu     sync.RWMutex
	closed bool

	closeOnce sync.Once
	closeErr  error
}

var _ Session = (*ChromeSession)(nil)

func newChromeSession(tabCtx context.Context, tabCancel, allocCancel context.CancelFunc, inputDelay time.Duration, logger *zap.Logger) *ChromeSession {
	id := uuid.New().String()
	log := logger.With(zap.String("session_id", id))
	s := &ChromeSession{
		id:          id,
		logger:      log,
		ctx:         tabCtx,
		cancel:      tabCancel,
		allocCancel: allocCancel,
		inputDelay:  inputDelay,
		events:      newEventDispatcher(log.Named("events")),
	}
	chromedp.ListenTarget(tabCtx, s.events.handle)
	return s
}

// ID returns the session ID.
func (s *ChromeSession) ID() string {
	return s.id
}

// run executes actions on the tab bounded by ctx.
func (s *ChromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrSessionClosed
	}

	opCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	if err := chromedp.Run(opCtx, actions...); err != nil {
		// Report the caller's deadline rather than the derived context's cancellation.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %v", ctxErr, err)
		}
		return err
	}
	return nil
}

// Navigate loads url and waits for the load event.
func (s *ChromeSession) Navigate(ctx context.Context, url string) (*Response, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrSessionClosed
	}

	opCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()

	s.logger.Debug("Navigating.", zap.String("url", url))
	resp, err := chromedp.RunResponse(opCtx, chromedp.Navigate(url))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("navigation to %s: %w: %v", url, ctxErr, err)
		}
		return nil, fmt.Errorf("navigation to %s: %w", url, err)
	}

	out := &Response{URL: url}
	if resp != nil {
		out.URL = resp.URL
		out.Status = int(resp.Status)
	}
	return out, nil
}

// WaitForAny polls until one of selectors matches. An empty selector list is an error.
// The wait carries on across navigations until ctx is done.
func (s *ChromeSession) WaitForAny(ctx context.Context, selectors ...string) (string, error) {
	if len(selectors) == 0 {
		return "", errors.New("no selectors to wait for")
	}

	var matched string
	err := waitAcrossNavigations(ctx, s.logger, func(ctx context.Context) error {
		opts := []chromedp.PollOption{
			chromedp.WithPollingArgs(selectors),
			chromedp.WithPollingInterval(pollInterval),
			// ctx bounds the wait.
			chromedp.WithPollingTimeout(0),
		}
		if deadline, ok := ctx.Deadline(); ok {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return context.DeadlineExceeded
			}
			opts[2] = chromedp.WithPollingTimeout(remaining)
		}
		matched = ""
		err := s.run(ctx, chromedp.PollFunction(firstMatchFn, &matched, opts...))
		if errors.Is(err, chromedp.ErrPollingTimeout) {
			return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return err
	})
	if err != nil {
		return "", fmt.Errorf("waiting for %v: %w", selectors, err)
	}
	return matched, nil
}

// navigationErrors are the CDP messages returned when the document a task was
// evaluating in is torn down by a navigation.
var navigationErrors = []string{
	"Execution context was destroyed",
	"Cannot find context with specified id",
	"Inspected target navigated or closed",
}

// IsNavigationError reports whether err was caused by the page navigating away
// mid-task. Such a task can be repeated against the new document.
func IsNavigationError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, m := range navigationErrors {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// waitAcrossNavigations repeats attempt while it fails because the page
// navigated, until ctx is done. Other errors are returned as they are.
func waitAcrossNavigations(ctx context.Context, logger *zap.Logger, attempt func(context.Context) error) error {
	for {
		err := attempt(ctx)
		if err == nil || !IsNavigationError(err) {
			return err
		}
		logger.Debug("Page navigated during wait, polling the new document.", zap.Error(err))

		timer := time.NewTimer(navigationSettle)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %v", ctx.Err(), err)
		case <-timer.C:
		}
	}
}

// WaitFor blocks until selector is present.
func (s *ChromeSession) WaitFor(ctx context.Context, selector string) error {
	_, err := s.WaitForAny(ctx, selector)
	return err
}

// Exists reports whether selector matches a node right now.
func (s *ChromeSession) Exists(ctx context.Context, selector string) (bool, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return false, fmt.Errorf("encoding selector: %w", err)
	}
	var found bool
	expr := fmt.Sprintf("document.querySelector(%s) !== null", quoted)
	if err := s.run(ctx, chromedp.Evaluate(expr, &found)); err != nil {
		return false, fmt.Errorf("checking %q: %w", selector, err)
	}
	return found, nil
}

// Click clicks the first node matching selector after the configured input delay.
func (s *ChromeSession) Click(ctx context.Context, selector string) error {
	if err := s.run(ctx, s.delay(), chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("clicking %q: %w", selector, err)
	}
	return nil
}

// Type sends text as key events to the node matching selector.
func (s *ChromeSession) Type(ctx context.Context, selector, text string) error {
	if err := s.run(ctx, s.delay(), chromedp.SendKeys(selector, text, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("typing into %q: %w", selector, err)
	}
	return nil
}

func (s *ChromeSession) delay() chromedp.Action {
	if s.inputDelay <= 0 {
		return chromedp.ActionFunc(func(context.Context) error { return nil })
	}
	return chromedp.Sleep(s.inputDelay)
}

// URL returns the current page URL.
func (s *ChromeSession) URL(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("reading location: %w", err)
	}
	return loc, nil
}

// Screenshot captures the full page as PNG.
func (s *ChromeSession) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	// Quality 100 selects PNG encoding.
	if err := s.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("capturing screenshot: %w", err)
	}
	return buf, nil
}

// Content returns the serialized document.
func (s *ChromeSession) Content(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("reading page content: %w", err)
	}
	return html, nil
}

// SetCookies installs cookies into the browser.
func (s *ChromeSession) SetCookies(ctx context.Context, cookies []Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, cookieToCDP(c))
	}
	if err := s.run(ctx, network.SetCookies(params)); err != nil {
		return fmt.Errorf("setting %d cookies: %w", len(cookies), err)
	}
	return nil
}

// Cookies returns the cookies visible to urls. With no urls the current page is used.
func (s *ChromeSession) Cookies(ctx context.Context, urls ...string) ([]Cookie, error) {
	var out []Cookie
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		req := network.GetCookies()
		if len(urls) > 0 {
			req = req.WithURLs(urls)
		}
		cookies, err := req.Do(ctx)
		if err != nil {
			return err
		}
		out = make([]Cookie, 0, len(cookies))
		for _, c := range cookies {
			out = append(out, cookieFromCDP(c))
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("reading cookies: %w", err)
	}
	return out, nil
}

// AddNetworkListener registers l for network events.
func (s *ChromeSession) AddNetworkListener(l NetworkListener) {
	s.events.add(l)
}

// Close shuts the browser down. It is safe to call more than once.
func (s *ChromeSession) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.events.close()

		s.logger.Debug("Closing browser session.")

		done := make(chan error, 1)
		go func() {
			// Cancel on the first tab context closes the browser gracefully.
			done <- chromedp.Cancel(s.ctx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				s.closeErr = fmt.Errorf("closing browser: %w", err)
			}
		case <-ctx.Done():
			s.closeErr = fmt.Errorf("closing browser: %w", ctx.Err())
		}

		s.cancel()
		s.allocCancel()
	})
	return s.closeErr
}
