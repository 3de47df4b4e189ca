package poster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// fakeElement is a scriptable DOM node.
type fakeElement struct {
	mu       sync.Mutex
	text     string
	attrs    map[string]string
	visible  bool
	children map[string]*fakeElement
	inputs   []string
	clicks   int
	inputErr error
	clickErr error
}

func newFakeElement(text string) *fakeElement {
	return &fakeElement{
		text:     text,
		visible:  true,
		attrs:    map[string]string{},
		children: map[string]*fakeElement{},
	}
}

// withHref attaches a status link child under the default link selector.
func (e *fakeElement) withHref(href string) *fakeElement {
	link := newFakeElement("")
	link.attrs["href"] = href
	e.children[`a[href*="/status/"]`] = link
	return e
}

func (e *fakeElement) Input(ctx context.Context, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inputErr != nil {
		return e.inputErr
	}
	e.inputs = append(e.inputs, text)
	return nil
}

func (e *fakeElement) Click(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.clickErr != nil {
		return e.clickErr
	}
	e.clicks++
	return nil
}

func (e *fakeElement) Text(ctx context.Context) (string, error) { return e.text, nil }

func (e *fakeElement) Attribute(ctx context.Context, name string) (string, error) {
	return e.attrs[name], nil
}

func (e *fakeElement) Visible(ctx context.Context) (bool, error) { return e.visible, nil }

func (e *fakeElement) Find(ctx context.Context, selector string) (Element, error) {
	if c, ok := e.children[selector]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("no child %s", selector)
}

// routeState is what a fakePage shows while parked on one URL.
type routeState struct {
	text     string
	elements map[string]*fakeElement
	lists    map[string][]*fakeElement
}

// fakePage simulates a tab whose content depends on its URL. Find does
// not wait; a selector either resolves now or fails.
type fakePage struct {
	mu        sync.Mutex
	url       string
	routes    map[string]*routeState
	current   *routeState
	navigated []string
	combos    []string
	navErr    map[string]error
}

func newFakePage(url string) *fakePage {
	p := &fakePage{routes: map[string]*routeState{}, navErr: map[string]error{}}
	p.url = url
	p.current = p.route(url)
	return p
}

// route returns the state shown at url, creating it empty on first use.
func (p *fakePage) route(url string) *routeState {
	if st, ok := p.routes[url]; ok {
		return st
	}
	st := &routeState{elements: map[string]*fakeElement{}, lists: map[string][]*fakeElement{}}
	p.routes[url] = st
	return st
}

func (p *fakePage) setURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	p.current = p.route(url)
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigated = append(p.navigated, url)
	if err := p.navErr[url]; err != nil {
		return err
	}
	p.url = url
	p.current = p.route(url)
	return nil
}

func (p *fakePage) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *fakePage) VisibleText(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current.text, nil
}

func (p *fakePage) Find(ctx context.Context, selector string, timeout time.Duration) (Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if el, ok := p.current.elements[selector]; ok {
		return el, nil
	}
	if els := p.current.lists[selector]; len(els) > 0 {
		return els[0], nil
	}
	return nil, fmt.Errorf("not found: %s", selector)
}

func (p *fakePage) FindAll(ctx context.Context, selector string) ([]Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	els := p.current.lists[selector]
	out := make([]Element, len(els))
	for i, el := range els {
		out[i] = el
	}
	return out, nil
}

func (p *fakePage) PressCombo(ctx context.Context, combo string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.combos = append(p.combos, combo)
	return nil
}

// stubPage counts every call so tests can assert the page was never
// touched.
type stubPage struct {
	calls atomic.Int64
}

func (p *stubPage) Navigate(context.Context, string) error {
	p.calls.Add(1)
	return nil
}

func (p *stubPage) URL(context.Context) (string, error) {
	p.calls.Add(1)
	return "https://x.test/home", nil
}

func (p *stubPage) VisibleText(context.Context) (string, error) {
	p.calls.Add(1)
	return "", nil
}

func (p *stubPage) Find(context.Context, string, time.Duration) (Element, error) {
	p.calls.Add(1)
	return nil, errors.New("stub page has no elements")
}

func (p *stubPage) FindAll(context.Context, string) ([]Element, error) {
	p.calls.Add(1)
	return nil, nil
}

func (p *stubPage) PressCombo(context.Context, string) error {
	p.calls.Add(1)
	return nil
}

// fakeComposer succeeds unless the composed text equals failText.
type fakeComposer struct {
	mu       sync.Mutex
	texts    []string
	parents  []string
	failText string
	failWith func() error
}

func (f *fakeComposer) Compose(ctx context.Context, page Page, text, parentURL string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	f.parents = append(f.parents, parentURL)
	if f.failText != "" && text == f.failText {
		if f.failWith != nil {
			return "", "", f.failWith()
		}
		return "", "", &ComposeFailedError{Cause: errors.New("scripted compose failure")}
	}
	return "box/submit", "https://x.test/home", nil
}

func (f *fakeComposer) count(text string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.texts {
		if t == text {
			n++
		}
	}
	return n
}

func (f *fakeComposer) parentsSeen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.parents...)
}

// fakeVerifier fails its first fail calls, then verifies everything.
type fakeVerifier struct {
	mu    sync.Mutex
	calls int
	fail  int
}

func (f *fakeVerifier) Confirm(ctx context.Context, page Page, preSubmitURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fail {
		return "", &UnverifiedError{Reason: "scripted verification failure"}
	}
	return "", nil
}

// fakeExtractor hands out sequential IDs, failing for positions listed
// in failFor.
type fakeExtractor struct {
	mu      sync.Mutex
	calls   int
	next    int
	failFor map[int]bool
}

func (f *fakeExtractor) Extract(ctx context.Context, page Page, d Draft, permalink string, directNav bool) (*Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failFor[d.Position] {
		return nil, &ExtractionError{MessageIndex: d.Position, Cause: errors.New("scripted extract failure")}
	}
	id := fmt.Sprintf("id-%d", f.next)
	f.next++
	return &Identity{ID: id, Strategy: StrategyURLParse, Score: 1}, nil
}

type fakeLogin struct {
	ok    bool
	err   error
	calls atomic.Int64
}

func (f *fakeLogin) LoggedIn(ctx context.Context, page Page) (bool, error) {
	f.calls.Add(1)
	return f.ok, f.err
}

type fakeSaver struct {
	cookies int
	err     error
	calls   atomic.Int64
}

func (f *fakeSaver) SaveSession(ctx context.Context) (int, error) {
	f.calls.Add(1)
	return f.cookies, f.err
}
