// internal/netwatch/observer.go
package netwatch

import (
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/watchdog-cli/internal/browser"
	"github.com/xkilldash9x/watchdog-cli/internal/config"
)

// Observer logs network anomalies seen by a browser session. It never alters
// the flow and keeps no state beyond its configuration.
type Observer struct {
	logger          *zap.Logger
	validCodes      map[int]struct{}
	ignoreHostnames map[string]struct{}
}

var _ browser.NetworkListener = (*Observer)(nil)

// New builds an Observer from the listener configuration.
func New(cfg config.ListenerConfig, logger *zap.Logger) *Observer {
	o := &Observer{
		logger:          logger.Named("netwatch"),
		validCodes:      make(map[int]struct{}, len(cfg.ValidCodes)),
		ignoreHostnames: make(map[string]struct{}, len(cfg.IgnoreHostnames)),
	}
	for _, code := range cfg.ValidCodes {
		o.validCodes[code] = struct{}{}
	}
	for _, host := range cfg.IgnoreHostnames {
		o.ignoreHostnames[strings.ToLower(host)] = struct{}{}
	}
	return o
}

// Attach registers the observer for the lifetime of s.
func (o *Observer) Attach(s browser.Session) {
	s.AddNetworkListener(o)
}

// OnResponse logs responses outside 2xx unless their status is allowed.
func (o *Observer) OnResponse(ev browser.ResponseEvent) {
	if ev.Status >= 200 && ev.Status < 300 {
		return
	}
	if _, ok := o.validCodes[ev.Status]; ok {
		return
	}
	o.logger.Warn("Unexpected response status.",
		zap.String("url", ev.URL),
		zap.Int("status", ev.Status),
		zap.String("status_text", ev.StatusText),
	)
}

// OnRequestFailed logs failed requests unless their host is ignored.
func (o *Observer) OnRequestFailed(ev browser.RequestFailedEvent) {
	if _, ok := o.ignoreHostnames[hostname(ev.URL)]; ok {
		return
	}
	o.logger.Warn("Request failed.",
		zap.String("url", ev.URL),
		zap.String("error", ev.ErrorText),
		zap.Bool("canceled", ev.Canceled),
	)
}

// OnRequestFinished is a no-op.
func (o *Observer) OnRequestFinished(browser.RequestFinishedEvent) {}

func hostname(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
