package poster

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"

	"github.com/hazyhaar/plume/textmatch"
)

// identityExtractor is the default Extractor. Strategies run in order:
// parse the current URL, scan the account profile, scan the home
// timeline. Every candidate must content-match the draft at or above the
// similarity threshold before its ID is believed; the only exception is a
// permalink the engine itself navigated to. When nothing matches, the
// result is an *ExtractionError, never a guessed ID.
type identityExtractor struct {
	cfg       Config
	permalink *regexp.Regexp
	logger    *slog.Logger
}

// NewExtractor builds the default three-strategy extractor.
func NewExtractor(cfg Config, permalink *regexp.Regexp, logger *slog.Logger) Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &identityExtractor{cfg: cfg, permalink: permalink, logger: logger.With("component", "extractor")}
}

func (x *identityExtractor) Extract(ctx context.Context, page Page, draft Draft, permalink string, directNav bool) (*Identity, error) {
	best := 0.0

	id, score := x.urlParse(ctx, page, draft, permalink, directNav)
	if id != nil {
		return id, nil
	}
	best = max(best, score)

	id, score = x.scanAndConfirm(ctx, page, draft, x.cfg.ProfileURL(), StrategyProfileScan)
	if id != nil {
		return id, nil
	}
	best = max(best, score)

	id, score = x.scanAndConfirm(ctx, page, draft, x.cfg.HomeURL(), StrategyTimelineScan)
	if id != nil {
		return id, nil
	}
	best = max(best, score)

	return nil, &ExtractionError{
		MessageIndex: draft.Position,
		BestScore:    best,
		Cause:        errors.New("no strategy produced a content-matched id"),
	}
}

// urlParse reads the ID off the current URL when it is permalink-shaped,
// gated by a content match against the page's lead item. When the current
// URL is not a permalink but the verifier recorded one, that page is
// opened first. directNav skips the content gate: the engine chose the
// URL itself, so the ID inside it is already trusted.
func (x *identityExtractor) urlParse(ctx context.Context, page Page, draft Draft, hint string, directNav bool) (*Identity, float64) {
	url, err := page.URL(ctx)
	if err != nil {
		x.logger.DebugContext(ctx, "url parse skipped", "error", err)
		return nil, 0
	}
	if !x.permalink.MatchString(url) {
		if hint == "" || !x.permalink.MatchString(hint) {
			return nil, 0
		}
		if err := page.Navigate(ctx, hint); err != nil {
			x.logger.DebugContext(ctx, "permalink hint unreachable", "url", hint, "error", err)
			return nil, 0
		}
		if url, err = page.URL(ctx); err != nil || !x.permalink.MatchString(url) {
			return nil, 0
		}
	}
	m := x.permalink.FindStringSubmatch(url)
	id := m[2]
	score := x.leadItemScore(ctx, page, draft)
	if directNav || score >= x.cfg.Extract.SimilarityThreshold {
		return &Identity{ID: id, Strategy: StrategyURLParse, Score: score}, score
	}
	x.logger.DebugContext(ctx, "url parse rejected by content gate", "id", id, "score", score)
	return nil, score
}

// scanAndConfirm lists recent items at listURL, ranks those authored by
// the configured handle by similarity to the draft, then opens the best
// candidate's permalink and re-matches against the full text there. The
// confirm step is the gate; the inline ranking only picks the candidate,
// since list views truncate long posts.
func (x *identityExtractor) scanAndConfirm(ctx context.Context, page Page, draft Draft, listURL string, strategy Strategy) (*Identity, float64) {
	if err := page.Navigate(ctx, listURL); err != nil {
		x.logger.DebugContext(ctx, "scan navigation failed", "strategy", strategy, "url", listURL, "error", err)
		return nil, 0
	}

	items := x.listItems(ctx, page)
	best := 0.0
	bestHref := ""
	for _, el := range items {
		text, err := el.Text(ctx)
		if err != nil {
			continue
		}
		href := x.ownPermalink(ctx, el)
		if href == "" {
			continue
		}
		score := textmatch.Similarity(draft.Text, text)
		if score > best {
			best, bestHref = score, href
		}
	}
	if bestHref == "" {
		return nil, best
	}

	if err := page.Navigate(ctx, bestHref); err != nil {
		x.logger.DebugContext(ctx, "candidate permalink unreachable", "url", bestHref, "error", err)
		return nil, best
	}
	url, err := page.URL(ctx)
	if err != nil {
		return nil, best
	}
	m := x.permalink.FindStringSubmatch(url)
	if m == nil {
		return nil, best
	}
	score := x.leadItemScore(ctx, page, draft)
	if score < x.cfg.Extract.SimilarityThreshold {
		x.logger.DebugContext(ctx, "candidate rejected on confirm", "strategy", strategy, "id", m[2], "score", score)
		return nil, max(best, score)
	}
	return &Identity{ID: m[2], Strategy: strategy, Score: score}, score
}

// listItems returns up to ScanLimit elements from the first item locator
// that yields any.
func (x *identityExtractor) listItems(ctx context.Context, page Page) []Element {
	for _, loc := range x.cfg.Extract.ItemLocators {
		// Give the first item time to render, then snapshot the list.
		if _, err := page.Find(ctx, loc.Selector, x.cfg.Extract.WaitTimeout); err != nil {
			continue
		}
		els, err := page.FindAll(ctx, loc.Selector)
		if err != nil || len(els) == 0 {
			continue
		}
		if len(els) > x.cfg.Extract.ScanLimit {
			els = els[:x.cfg.Extract.ScanLimit]
		}
		return els
	}
	return nil
}

// ownPermalink extracts the item's status link and keeps it only when it
// belongs to the configured handle, which also filters reposts of other
// accounts out of profile and timeline scans.
func (x *identityExtractor) ownPermalink(ctx context.Context, el Element) string {
	link, err := el.Find(ctx, x.cfg.Extract.LinkSelector)
	if err != nil {
		return ""
	}
	href, err := link.Attribute(ctx, "href")
	if err != nil || href == "" {
		return ""
	}
	if strings.HasPrefix(href, "/") {
		href = x.cfg.BaseURL + href
	}
	m := x.permalink.FindStringSubmatch(href)
	if m == nil || !strings.EqualFold(m[1], x.cfg.Handle) {
		return ""
	}
	return href
}

// leadItemScore matches the draft against the first item on the current
// page. On a permalink page that item is the post itself.
func (x *identityExtractor) leadItemScore(ctx context.Context, page Page, draft Draft) float64 {
	for _, loc := range x.cfg.Extract.ItemLocators {
		el, err := page.Find(ctx, loc.Selector, x.cfg.Extract.WaitTimeout)
		if err != nil {
			continue
		}
		text, err := el.Text(ctx)
		if err != nil {
			continue
		}
		return textmatch.Similarity(draft.Text, text)
	}
	return 0
}
