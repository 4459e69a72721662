// internal/browser/persona.go
package browser

import (
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/watchdog-cli/internal/config"
)

// personaTasks builds the emulation overrides for the configured persona.
// Empty fields leave the browser default in place.
func personaTasks(p config.PersonaConfig, logger *zap.Logger) chromedp.Tasks {
	var tasks chromedp.Tasks

	if p.UserAgent != "" {
		ua := emulation.SetUserAgentOverride(p.UserAgent)
		if p.AcceptLanguage != "" {
			ua = ua.WithAcceptLanguage(p.AcceptLanguage)
		}
		tasks = append(tasks, ua)
	}
	if p.Timezone != "" {
		tasks = append(tasks, emulation.SetTimezoneOverride(p.Timezone))
	}
	if p.Locale != "" {
		tasks = append(tasks, emulation.SetLocaleOverride().WithLocale(p.Locale))
	}
	if p.AcceptLanguage != "" {
		tasks = append(tasks, network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": p.AcceptLanguage,
		}))
	}

	if len(tasks) > 0 {
		logger.Debug("Applying browser persona.",
			zap.String("user_agent", p.UserAgent),
			zap.String("locale", p.Locale),
			zap.String("timezone", p.Timezone),
		)
	}
	return tasks
}
