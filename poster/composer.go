package poster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// composerDriver is the default Composer. It opens the compose surface
// (home for a root, the parent permalink for a reply), walks the
// configured locators in order giving each one LocatorTimeout to show
// up, types the draft, and submits via the first clickable control,
// falling back to Control+Enter when no button can be engaged. Starting
// from a fresh navigation keeps retries independent of whatever state
// the previous attempt left on screen.
type composerDriver struct {
	cfg     ComposeConfig
	homeURL string
	logger  *slog.Logger
}

// NewComposer builds the default locator-fallback composer.
func NewComposer(cfg ComposeConfig, homeURL string, logger *slog.Logger) Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &composerDriver{cfg: cfg, homeURL: homeURL, logger: logger.With("component", "composer")}
}

func (d *composerDriver) Compose(ctx context.Context, page Page, text, parentURL string) (string, string, error) {
	locs := d.cfg.BoxLocators
	target := d.homeURL
	if parentURL != "" {
		target = parentURL
		locs = d.cfg.ReplyLocators
	}
	if target != "" {
		if err := page.Navigate(ctx, target); err != nil {
			return "", "", &ComposeFailedError{Cause: fmt.Errorf("open %s: %w", target, err)}
		}
	}
	if parentURL != "" {
		d.openReply(ctx, page)
	}

	box, boxName, err := d.findFirst(ctx, page, locs)
	if err != nil {
		return "", "", &ComposeFailedError{Cause: err}
	}
	// Click is focus only. Some compose surfaces accept input without it,
	// so a failed click is not a failed compose.
	_ = box.Click(ctx)
	if err := box.Input(ctx, text); err != nil {
		return boxName, "", &ComposeFailedError{Cause: fmt.Errorf("input via %s: %w", boxName, err)}
	}

	preURL, err := page.URL(ctx)
	if err != nil {
		return boxName, "", &ComposeFailedError{Cause: fmt.Errorf("read pre-submit url: %w", err)}
	}

	submitName, err := d.submit(ctx, page)
	if err != nil {
		return boxName, preURL, err
	}
	return boxName + "/" + submitName, preURL, nil
}

// openReply clicks the first reply affordance that shows up. Some
// surfaces render the reply box inline with no affordance at all, so a
// miss here is not an error; the reply box lookup decides.
func (d *composerDriver) openReply(ctx context.Context, page Page) {
	for _, loc := range d.cfg.ReplyAffordances {
		el, err := page.Find(ctx, loc.Selector, d.cfg.LocatorTimeout)
		if err != nil {
			d.logger.DebugContext(ctx, "reply affordance missed", "locator", loc.Name, "error", err)
			continue
		}
		if err := el.Click(ctx); err != nil {
			d.logger.DebugContext(ctx, "reply affordance click failed", "locator", loc.Name, "error", err)
			continue
		}
		return
	}
}

func (d *composerDriver) findFirst(ctx context.Context, page Page, locs []Locator) (Element, string, error) {
	var lastErr error
	for _, loc := range locs {
		el, err := page.Find(ctx, loc.Selector, d.cfg.LocatorTimeout)
		if err != nil {
			d.logger.DebugContext(ctx, "locator missed", "locator", loc.Name, "error", err)
			lastErr = err
			continue
		}
		return el, loc.Name, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no locators configured")
	}
	return nil, "", fmt.Errorf("no compose surface after %d locators: %w", len(locs), lastErr)
}

func (d *composerDriver) submit(ctx context.Context, page Page) (string, error) {
	var lastErr error
	for _, loc := range d.cfg.SubmitLocators {
		btn, err := page.Find(ctx, loc.Selector, d.cfg.LocatorTimeout)
		if err != nil {
			lastErr = err
			continue
		}
		if err := btn.Click(ctx); err != nil {
			lastErr = fmt.Errorf("click %s: %w", loc.Name, err)
			continue
		}
		return loc.Name, nil
	}
	if !d.cfg.NoKeyboardSubmit {
		if err := page.PressCombo(ctx, "Control+Enter"); err == nil {
			d.logger.InfoContext(ctx, "submitted via keyboard fallback")
			return "keyboard", nil
		} else {
			lastErr = errors.Join(lastErr, fmt.Errorf("keyboard submit: %w", err))
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no submit controls configured")
	}
	return "", &SubmitFailedError{Cause: lastErr}
}
