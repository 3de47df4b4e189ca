package poster

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

// urlVerifier is the default Verifier. It polls the page after a submit:
// a permalink-shaped URL is an immediate pass, a known failure phrase is
// an immediate fail, leaving the pre-submit URL without reaching a
// permalink still counts as a pass. Silence until the deadline is a fail.
// The verdict is always an *UnverifiedError or nil, never a panic or a
// raw page error.
type urlVerifier struct {
	cfg       VerifyConfig
	permalink *regexp.Regexp
	logger    *slog.Logger
}

// NewVerifier builds the default URL-transition verifier.
func NewVerifier(cfg VerifyConfig, permalink *regexp.Regexp, logger *slog.Logger) Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &urlVerifier{cfg: cfg, permalink: permalink, logger: logger.With("component", "verifier")}
}

func (v *urlVerifier) Confirm(ctx context.Context, page Page, preSubmitURL string) (string, error) {
	deadline := time.Now().Add(v.cfg.Deadline)
	for {
		url, err := page.URL(ctx)
		if err != nil {
			return "", &UnverifiedError{Reason: fmt.Sprintf("read url: %v", err)}
		}
		if v.permalink.MatchString(url) {
			return url, nil
		}
		if phrase := v.failurePhrase(ctx, page); phrase != "" {
			return "", &UnverifiedError{Reason: fmt.Sprintf("page shows %q", phrase)}
		}
		if url != preSubmitURL {
			v.logger.DebugContext(ctx, "left compose view without permalink", "url", url)
			return "", nil
		}
		if time.Now().After(deadline) {
			return "", &UnverifiedError{Reason: fmt.Sprintf("no url transition within %s", v.cfg.Deadline)}
		}
		if err := sleepCtx(ctx, v.cfg.Poll); err != nil {
			return "", &UnverifiedError{Reason: fmt.Sprintf("wait interrupted: %v", err)}
		}
	}
}

func (v *urlVerifier) failurePhrase(ctx context.Context, page Page) string {
	text, err := page.VisibleText(ctx)
	if err != nil {
		return ""
	}
	low := strings.ToLower(text)
	for _, p := range v.cfg.FailurePhrases {
		if strings.Contains(low, strings.ToLower(p)) {
			return p
		}
	}
	return ""
}
