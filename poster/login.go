package poster

import (
	"context"
	"log/slog"
	"strings"
)

// markerProbe is the default LoginChecker. It is strictly read-only: it
// looks at the current URL and waits briefly for a logged-in marker, and
// never navigates or clicks.
type markerProbe struct {
	cfg    Config
	logger *slog.Logger
}

// NewLoginChecker builds the default read-only login probe.
func NewLoginChecker(cfg Config, logger *slog.Logger) LoginChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &markerProbe{cfg: cfg, logger: logger.With("component", "login")}
}

func (p *markerProbe) LoggedIn(ctx context.Context, page Page) (bool, error) {
	url, err := page.URL(ctx)
	if err != nil {
		return false, err
	}
	low := strings.ToLower(url)
	if strings.Contains(low, "/login") || strings.Contains(low, "/i/flow/login") {
		p.logger.InfoContext(ctx, "login page detected", "url", url)
		return false, nil
	}
	for _, loc := range p.cfg.LoginMarkers {
		el, err := page.Find(ctx, loc.Selector, p.cfg.Compose.LocatorTimeout)
		if err != nil {
			continue
		}
		if ok, err := el.Visible(ctx); err == nil && ok {
			return true, nil
		}
	}
	p.logger.InfoContext(ctx, "no logged-in marker found", "url", url)
	return false, nil
}
