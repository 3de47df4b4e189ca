package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/plume/poster"
	"github.com/hazyhaar/plume/session"
)

// Tab is a stealth page bound to the posting engine. It satisfies
// poster.Page for locator-driven interaction and poster.SessionSaver for
// the save-back at the end of a run.
type Tab struct {
	page  *rod.Page
	store session.Store
	log   *slog.Logger
}

var (
	_ poster.Page         = (*Tab)(nil)
	_ poster.SessionSaver = (*Tab)(nil)
	_ poster.Element      = (*element)(nil)
)

// OpenTab opens a stealth tab. When store holds a saved session it is
// restored onto the tab and origin is loaded with it in place, so the
// caller gets a tab that is already logged in if the stored cookies are
// still good.
func (m *Manager) OpenTab(ctx context.Context, origin string, store session.Store) (*Tab, error) {
	b := m.Browser()
	if b == nil {
		return nil, errors.New("browser: not started")
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: open stealth page: %w", err)
	}

	if len(m.cfg.ResourceBlocking) > 0 {
		blockResources(page, m.cfg.ResourceBlocking)
	}

	t := &Tab{page: page, store: store, log: m.cfg.Logger}

	if store != nil {
		if err := t.restoreSession(ctx, origin); err != nil {
			page.Close()
			return nil, err
		}
	}
	return t, nil
}

func (t *Tab) restoreSession(ctx context.Context, origin string) error {
	st, err := t.store.Load(ctx)
	if errors.Is(err, session.ErrNoSession) {
		t.log.Info("browser: no stored session, starting cold")
		return nil
	}
	if err != nil {
		return fmt.Errorf("browser: load session: %w", err)
	}

	// Cookies restore from anywhere but web storage only lands on the
	// platform origin. Visit it once, apply, then reload so the first
	// authenticated page load sees both.
	if err := t.Navigate(ctx, origin); err != nil {
		return err
	}
	if err := session.Apply(t.page, st); err != nil {
		return fmt.Errorf("browser: %w", err)
	}
	if err := t.Navigate(ctx, origin); err != nil {
		return err
	}

	t.log.Info("browser: session restored", "cookies", st.CookieCount(), "saved_at", st.SavedAt)
	return nil
}

// SaveSession captures live cookies and web storage and writes them
// through the store, returning the number of cookies captured.
func (t *Tab) SaveSession(ctx context.Context) (int, error) {
	if t.store == nil {
		return 0, errors.New("browser: no session store configured")
	}

	st, err := session.Capture(t.page.Context(ctx))
	if err != nil {
		return 0, err
	}
	if err := t.store.Save(ctx, st); err != nil {
		return 0, err
	}
	return st.CookieCount(), nil
}

// Navigate loads url. Load-event timeouts are tolerated: single-page
// apps keep the network busy long after the DOM is usable, and locator
// waits cover the rest.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	p := t.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		t.log.Debug("browser: wait load", "url", url, "error", err)
	}
	return nil
}

// URL reports the tab's current address.
func (t *Tab) URL(ctx context.Context) (string, error) {
	info, err := t.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("browser: page info: %w", err)
	}
	return info.URL, nil
}

// VisibleText returns the rendered text of the page body.
func (t *Tab) VisibleText(ctx context.Context) (string, error) {
	res, err := t.page.Context(ctx).Eval(`() => document.body ? document.body.innerText : ""`)
	if err != nil {
		return "", fmt.Errorf("browser: visible text: %w", err)
	}
	return res.Value.Str(), nil
}

// HTML returns the serialized DOM of the current page.
func (t *Tab) HTML(ctx context.Context) (string, error) {
	res, err := t.page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("browser: dom snapshot: %w", err)
	}
	return res.Value.Str(), nil
}

// Find waits up to timeout for selector to match a visible element.
func (t *Tab) Find(ctx context.Context, selector string, timeout time.Duration) (poster.Element, error) {
	p := t.page.Context(ctx)
	if timeout > 0 {
		p = p.Timeout(timeout)
	}

	el, err := p.Element(selector)
	if err != nil {
		return nil, fmt.Errorf("browser: find %q: %w", selector, err)
	}
	if err := el.WaitVisible(); err != nil {
		return nil, fmt.Errorf("browser: find %q: hidden: %w", selector, err)
	}
	return &element{el: el.CancelTimeout()}, nil
}

// FindAll returns the elements currently matching selector, without
// waiting for any to appear.
func (t *Tab) FindAll(ctx context.Context, selector string) ([]poster.Element, error) {
	els, err := t.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("browser: find all %q: %w", selector, err)
	}
	out := make([]poster.Element, 0, len(els))
	for _, el := range els {
		out = append(out, &element{el: el})
	}
	return out, nil
}

var comboKeys = map[string]input.Key{
	"control": input.ControlLeft,
	"ctrl":    input.ControlLeft,
	"shift":   input.ShiftLeft,
	"alt":     input.AltLeft,
	"meta":    input.MetaLeft,
	"enter":   input.Enter,
	"escape":  input.Escape,
	"esc":     input.Escape,
	"tab":     input.Tab,
}

// PressCombo dispatches a keyboard chord like "Control+Enter" to the
// page: every key but the last is held, the last is typed.
func (t *Tab) PressCombo(ctx context.Context, combo string) error {
	parts := strings.Split(combo, "+")
	acts := t.page.Context(ctx).KeyActions()
	for i, part := range parts {
		key, ok := comboKeys[strings.ToLower(strings.TrimSpace(part))]
		if !ok {
			return fmt.Errorf("browser: unknown key %q in combo %q", part, combo)
		}
		if i < len(parts)-1 {
			acts = acts.Press(key)
		} else {
			acts = acts.Type(key)
		}
	}
	if err := acts.Do(); err != nil {
		return fmt.Errorf("browser: press %q: %w", combo, err)
	}
	return nil
}

// Close closes the underlying page.
func (t *Tab) Close() error {
	return t.page.Close()
}

type element struct {
	el *rod.Element
}

func (e *element) Input(ctx context.Context, text string) error {
	if err := e.el.Context(ctx).Input(text); err != nil {
		return fmt.Errorf("browser: input: %w", err)
	}
	return nil
}

func (e *element) Click(ctx context.Context) error {
	if err := e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("browser: click: %w", err)
	}
	return nil
}

func (e *element) Text(ctx context.Context) (string, error) {
	s, err := e.el.Context(ctx).Text()
	if err != nil {
		return "", fmt.Errorf("browser: element text: %w", err)
	}
	return s, nil
}

func (e *element) Attribute(ctx context.Context, name string) (string, error) {
	v, err := e.el.Context(ctx).Attribute(name)
	if err != nil {
		return "", fmt.Errorf("browser: attribute %q: %w", name, err)
	}
	if v == nil {
		return "", nil
	}
	return *v, nil
}

func (e *element) Visible(ctx context.Context) (bool, error) {
	ok, err := e.el.Context(ctx).Visible()
	if err != nil {
		return false, fmt.Errorf("browser: visibility: %w", err)
	}
	return ok, nil
}

// Find queries a descendant once, without retrying.
func (e *element) Find(ctx context.Context, selector string) (poster.Element, error) {
	child, err := e.el.Context(ctx).Sleeper(rod.NotFoundSleeper).Element(selector)
	if err != nil {
		return nil, fmt.Errorf("browser: find %q: %w", selector, err)
	}
	return &element{el: child}, nil
}
