package poster

import (
	"context"
	"time"
)

// Page is the slice of a browser tab the engine needs. The production
// implementation lives in the browser package; tests substitute fakes.
type Page interface {
	// Navigate loads url and waits for the page to settle.
	Navigate(ctx context.Context, url string) error
	// URL reports the tab's current address.
	URL(ctx context.Context) (string, error)
	// VisibleText returns the rendered text of the whole page.
	VisibleText(ctx context.Context) (string, error)
	// Find waits up to timeout for a visible element matching selector.
	Find(ctx context.Context, selector string, timeout time.Duration) (Element, error)
	// FindAll returns the elements matching selector right now, in
	// document order, without waiting.
	FindAll(ctx context.Context, selector string) ([]Element, error)
	// PressCombo dispatches a modifier+key chord such as "Control+Enter"
	// to the focused element.
	PressCombo(ctx context.Context, combo string) error
}

// Element is a handle on a single DOM node.
type Element interface {
	Input(ctx context.Context, text string) error
	Click(ctx context.Context) error
	Text(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (string, error)
	Visible(ctx context.Context) (bool, error)
	Find(ctx context.Context, selector string) (Element, error)
}

// LoginChecker decides whether the session is authenticated. It must be
// read-only: a run that fails this gate performs no page interaction.
type LoginChecker interface {
	LoggedIn(ctx context.Context, page Page) (bool, error)
}

// Composer enters a draft into a compose surface and submits it. For a
// reply, parentURL is the permalink to open first; it is empty for the
// root. It returns the locator name that worked and the page URL captured
// just before submission, which the verifier uses as the departure point.
type Composer interface {
	Compose(ctx context.Context, page Page, text, parentURL string) (strategy, preSubmitURL string, err error)
}

// Verifier confirms a submission landed. It returns the permalink when
// the page navigated to one, or "" when confirmation came another way.
type Verifier interface {
	Confirm(ctx context.Context, page Page, preSubmitURL string) (permalink string, err error)
}

// Extractor recovers the platform ID of a just-verified submission.
// permalink is the verifier's hint, possibly empty. directNav marks pages
// the engine itself navigated to, where the URL is trusted without a
// content match. Implementations never invent IDs: on failure they return
// a nil Identity and an *ExtractionError.
type Extractor interface {
	Extract(ctx context.Context, page Page, draft Draft, permalink string, directNav bool) (*Identity, error)
}
