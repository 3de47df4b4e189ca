// Package e2e tests the posting engine assembled the way cmd/plume wires
// it: real preparer, poster, queue worker, and journal sharing one
// database, with only the browser replaced by a scripted platform.
//
// The platform double keeps real routes and elements, so the production
// composer, verifier, and extractor run their actual locator walks, URL
// transitions, and content matches against it.
package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/plume/dbopen"
	"github.com/hazyhaar/plume/idgen"
	"github.com/hazyhaar/plume/journal"
	"github.com/hazyhaar/plume/poster"
	"github.com/hazyhaar/plume/prepare"
	"github.com/hazyhaar/plume/queue"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- scripted platform ---

// Selectors the production locator defaults resolve against.
const (
	selMarker  = `[data-testid="SideNav_AccountSwitcher_Button"]`
	selBox     = `[data-testid="tweetTextarea_0"]`
	selSubmit  = `[data-testid="tweetButtonInline"]`
	selReply   = `[data-testid="reply"]`
	selArticle = `article [data-testid="tweetText"]`
)

// platform scripts the posting site. Routes hold the elements the real
// poster components look up. Clicking a submit control publishes the
// text typed into the box under a fresh status id and moves the tab to
// its permalink, the URL transition the verifier and extractor key off.
type platform struct {
	mu       sync.Mutex
	base     string
	handle   string
	loggedIn bool
	lastID   int
	pending  string
	posted   []string
	routes   map[string]map[string]*element
	saves    int
}

type element struct {
	kind string // marker, box, submit, reply, article
	text string
}

func composeEls() map[string]*element {
	return map[string]*element{
		selBox:    {kind: "box"},
		selSubmit: {kind: "submit"},
	}
}

func newPlatform() *platform {
	p := &platform{
		base:     "https://x.test",
		handle:   "plumebot",
		loggedIn: true,
		lastID:   1000,
		routes:   map[string]map[string]*element{},
	}
	p.routes[p.base+"/home"] = composeEls()
	return p
}

// publishLocked mints the next status id for the pending text and lands
// tb on its permalink. The permalink page carries the post article plus
// a reply surface, so chains keep composing on it.
func (p *platform) publishLocked(tb *tab) {
	p.lastID++
	text := p.pending
	p.pending = ""
	p.posted = append(p.posted, text)
	link := fmt.Sprintf("%s/%s/status/%d", p.base, p.handle, p.lastID)
	els := composeEls()
	els[selReply] = &element{kind: "reply"}
	els[selArticle] = &element{kind: "article", text: text}
	p.routes[link] = els
	tb.url = link
}

func (p *platform) postedTexts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.posted...)
}

func (p *platform) saveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saves
}

// Acquire and Open make the platform the worker's queue.Pages: every run
// opens a fresh tab on the home timeline, or on the login wall when the
// session is gone.
func (p *platform) Acquire() func() { return func() {} }

func (p *platform) Open(context.Context) (queue.Tab, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	url := p.base + "/home"
	if !p.loggedIn {
		url = p.base + "/i/flow/login"
	}
	return &tab{p: p, url: url}, nil
}

// tab is one browser tab on the platform. State is guarded by the
// platform mutex, so a click that moves the page stays atomic.
type tab struct {
	p   *platform
	url string
}

func (t *tab) Navigate(_ context.Context, url string) error {
	t.p.mu.Lock()
	defer t.p.mu.Unlock()
	t.url = url
	return nil
}

func (t *tab) URL(context.Context) (string, error) {
	t.p.mu.Lock()
	defer t.p.mu.Unlock()
	return t.url, nil
}

func (t *tab) VisibleText(context.Context) (string, error) {
	t.p.mu.Lock()
	defer t.p.mu.Unlock()
	var sb strings.Builder
	for _, el := range t.p.routes[t.url] {
		sb.WriteString(el.text)
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

func (t *tab) Find(_ context.Context, selector string, _ time.Duration) (poster.Element, error) {
	t.p.mu.Lock()
	defer t.p.mu.Unlock()
	// The account chrome renders on every page of a logged-in session.
	if selector == selMarker && t.p.loggedIn {
		return &boundEl{el: &element{kind: "marker"}, tab: t}, nil
	}
	el, ok := t.p.routes[t.url][selector]
	if !ok {
		return nil, fmt.Errorf("no element %q at %s", selector, t.url)
	}
	return &boundEl{el: el, tab: t}, nil
}

func (t *tab) FindAll(_ context.Context, selector string) ([]poster.Element, error) {
	t.p.mu.Lock()
	defer t.p.mu.Unlock()
	if el, ok := t.p.routes[t.url][selector]; ok {
		return []poster.Element{&boundEl{el: el, tab: t}}, nil
	}
	return nil, nil
}

func (t *tab) PressCombo(context.Context, string) error {
	return errors.New("keyboard submit not scripted")
}

func (t *tab) HTML(context.Context) (string, error) {
	t.p.mu.Lock()
	defer t.p.mu.Unlock()
	body := ""
	if el, ok := t.p.routes[t.url][selArticle]; ok {
		body = "<article><p>" + el.text + "</p></article>"
	}
	return "<html><body><main>" + body + "</main></body></html>", nil
}

func (t *tab) SaveSession(context.Context) (int, error) {
	t.p.mu.Lock()
	defer t.p.mu.Unlock()
	t.p.saves++
	return 7, nil
}

func (t *tab) Close() error { return nil }

// boundEl ties a route element to the tab that found it, so a submit
// click can move that tab.
type boundEl struct {
	el  *element
	tab *tab
}

func (b *boundEl) Input(_ context.Context, text string) error {
	if b.el.kind != "box" {
		return fmt.Errorf("input into %s element", b.el.kind)
	}
	b.tab.p.mu.Lock()
	defer b.tab.p.mu.Unlock()
	b.tab.p.pending = text
	return nil
}

func (b *boundEl) Click(context.Context) error {
	b.tab.p.mu.Lock()
	defer b.tab.p.mu.Unlock()
	if b.el.kind == "submit" {
		if b.tab.p.pending == "" {
			return errors.New("submit with an empty box")
		}
		b.tab.p.publishLocked(b.tab)
	}
	return nil
}

func (b *boundEl) Text(context.Context) (string, error) {
	b.tab.p.mu.Lock()
	defer b.tab.p.mu.Unlock()
	return b.el.text, nil
}

func (b *boundEl) Attribute(context.Context, string) (string, error) { return "", nil }

func (b *boundEl) Visible(context.Context) (bool, error) { return true, nil }

func (b *boundEl) Find(context.Context, string) (poster.Element, error) {
	return nil, errors.New("child lookup not scripted")
}

// --- engine fixture ---

// engine assembles the production stack on one in-memory database, the
// same wiring as cmd/plume minus the HTTP surface.
type engine struct {
	platform *platform
	store    *queue.Store
	jrnl     *journal.Store
	worker   *queue.Worker
}

func newEngine(t *testing.T, p *platform) *engine {
	t.Helper()
	db := dbopen.OpenMemory(t,
		dbopen.WithSchema(journal.Schema),
		dbopen.WithSchema(queue.Schema),
	)
	logger := quietLogger()

	svc, err := poster.New(poster.Config{
		BaseURL: p.base,
		Handle:  p.handle,
		Compose: poster.ComposeConfig{LocatorTimeout: 20 * time.Millisecond},
		Verify:  poster.VerifyConfig{Deadline: 250 * time.Millisecond, Poll: 5 * time.Millisecond},
		Extract: poster.ExtractConfig{WaitTimeout: 20 * time.Millisecond},
		Chain: poster.ChainConfig{
			BackoffBase: time.Millisecond,
			PacingMin:   time.Millisecond,
			PacingMax:   2 * time.Millisecond,
		},
	}, logger, poster.WithIDSource(idgen.Sequence("chain_")))
	if err != nil {
		t.Fatalf("poster.New: %v", err)
	}

	jrnl := journal.NewStore(db)
	e := &engine{
		platform: p,
		store:    queue.NewStore(db),
		jrnl:     jrnl,
	}
	e.worker = queue.NewWorker(e.store, prepare.New(prepare.Config{}), svc, jrnl, p,
		queue.Config{Poll: 25 * time.Millisecond}, logger,
		queue.WithIDSource(idgen.Sequence("sub_")),
		queue.WithArchiver(journal.NewArchiver(jrnl, logger)),
	)
	return e
}

func (e *engine) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go e.worker.Run(ctx)
}

func (e *engine) waitStatus(t *testing.T, id, want string) *queue.Submission {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		sub, err := e.store.Submission(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if sub.Status == want {
			return sub
		}
		time.Sleep(10 * time.Millisecond)
	}
	sub, _ := e.store.Submission(context.Background(), id)
	t.Fatalf("submission %s never reached %s (last %+v)", id, want, sub)
	return nil
}

// waitArchived polls for the root archive, which lands after the queue
// row is already done.
func (e *engine) waitArchived(t *testing.T, postID string) *journal.Post {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		post, err := e.jrnl.Post(context.Background(), postID)
		if err == nil && post.ArchiveMD != "" {
			return post
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("post %s never archived", postID)
	return nil
}

// --- tests ---

func TestThreadEndToEnd(t *testing.T) {
	p := newPlatform()
	e := newEngine(t, p)
	e.start(t)
	ctx := context.Background()

	sub, err := e.worker.Enqueue(ctx, queue.Request{Texts: []string{
		"Rolling out the <b>new scheduler</b> tonight.",
		"Tail latencies dropped by half in the canary.",
		"Full writeup lands tomorrow morning.",
	}})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if got := sub.Drafts[0].Text; got != "Rolling out the new scheduler tonight." {
		t.Fatalf("draft not linted: %q", got)
	}

	done := e.waitStatus(t, sub.ID, queue.StatusDone)
	res := done.Result
	if res == nil {
		t.Fatal("finished submission has no result")
	}
	if res.RootID != "1001" {
		t.Fatalf("root id = %q, want 1001", res.RootID)
	}
	if len(res.ReplyIDs) != 2 || res.ReplyIDs[0] != "1002" || res.ReplyIDs[1] != "1003" {
		t.Fatalf("reply ids = %v", res.ReplyIDs)
	}
	if res.Permalink != "https://x.test/plumebot/status/1001" {
		t.Fatalf("permalink = %q", res.Permalink)
	}

	posted := p.postedTexts()
	if len(posted) != 3 {
		t.Fatalf("platform got %d posts, want 3", len(posted))
	}
	for i, d := range done.Drafts {
		if posted[i] != d.Text {
			t.Fatalf("post %d = %q, want %q", i, posted[i], d.Text)
		}
	}

	chain, err := e.jrnl.Chain(ctx, done.ChainID)
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	if chain.Status != "completed" || chain.Messages != 3 || chain.LastCompleted != 2 {
		t.Fatalf("chain = %+v", chain)
	}
	posts, err := e.jrnl.ChainPosts(ctx, done.ChainID)
	if err != nil {
		t.Fatalf("ChainPosts: %v", err)
	}
	if len(posts) != 3 {
		t.Fatalf("journal has %d posts, want 3", len(posts))
	}
	for i, post := range posts {
		wantLink := fmt.Sprintf("https://x.test/plumebot/status/%d", 1001+i)
		if post.Position != i || post.Permalink != wantLink {
			t.Fatalf("post %d = %+v", i, post)
		}
		if post.Strategy != string(poster.StrategyURLParse) || post.Score < 0.99 {
			t.Fatalf("post %d extraction = %s/%.2f", i, post.Strategy, post.Score)
		}
	}
	attempts, err := e.jrnl.ChainAttempts(ctx, done.ChainID)
	if err != nil {
		t.Fatalf("ChainAttempts: %v", err)
	}
	if len(attempts) != 3 {
		t.Fatalf("journal has %d attempts, want 3", len(attempts))
	}
	for _, a := range attempts {
		if a.Outcome != poster.OutcomeOK {
			t.Fatalf("attempt = %+v", a)
		}
	}

	root := e.waitArchived(t, res.RootID)
	if !strings.Contains(root.ArchiveMD, "new scheduler") {
		t.Fatalf("archive = %q", root.ArchiveMD)
	}
	if p.saveCount() == 0 {
		t.Fatal("session never saved back")
	}
}

func TestResumeContinuesUnderRoot(t *testing.T) {
	p := newPlatform()
	e := newEngine(t, p)
	e.start(t)
	ctx := context.Background()

	first, err := e.worker.Enqueue(ctx, queue.Request{Texts: []string{
		"Kicking off the incident review thread.",
		"Timeline reconstruction is in the next post.",
	}})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	rootID := e.waitStatus(t, first.ID, queue.StatusDone).Result.RootID

	second, err := e.worker.Enqueue(ctx, queue.Request{
		Texts: []string{
			"Addendum: the pager config was also stale.",
			"That closes out the review.",
		},
		ParentID: rootID,
	})
	if err != nil {
		t.Fatalf("Enqueue resume: %v", err)
	}
	resumed := e.waitStatus(t, second.ID, queue.StatusDone)
	res := resumed.Result
	if res.RootID != rootID {
		t.Fatalf("resume root = %q, want %q", res.RootID, rootID)
	}
	if len(res.ReplyIDs) != 2 {
		t.Fatalf("reply ids = %v", res.ReplyIDs)
	}

	chain, err := e.jrnl.Chain(ctx, resumed.ChainID)
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	if !chain.Resumed {
		t.Fatal("chain not marked resumed")
	}
	// Replies only: the root row belongs to the first chain.
	posts, err := e.jrnl.ChainPosts(ctx, resumed.ChainID)
	if err != nil {
		t.Fatalf("ChainPosts: %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("resumed chain has %d posts, want 2", len(posts))
	}
	if posts[0].Text != second.Drafts[0].Text {
		t.Fatalf("post text = %q", posts[0].Text)
	}

	if got := len(p.postedTexts()); got != 4 {
		t.Fatalf("platform got %d posts, want 4", got)
	}
}

func TestLoginWallFailsCleanly(t *testing.T) {
	p := newPlatform()
	p.loggedIn = false
	e := newEngine(t, p)
	e.start(t)
	ctx := context.Background()

	sub, err := e.worker.Enqueue(ctx, queue.Request{Texts: []string{
		"This should never reach the platform.",
		"Neither should this.",
	}})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	failed := e.waitStatus(t, sub.ID, queue.StatusFailed)
	if !strings.Contains(failed.Error, "login required") {
		t.Fatalf("error = %q", failed.Error)
	}
	if got := len(p.postedTexts()); got != 0 {
		t.Fatalf("platform got %d posts, want none", got)
	}
	totals, err := e.jrnl.Totals(ctx)
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if totals.Chains != 0 {
		t.Fatalf("journal recorded %d chains for a run that never posted", totals.Chains)
	}
	if st := e.worker.Stats(); st.Failed != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

// --- MCP ---

var testImpl = &mcp.Implementation{Name: "plume-e2e", Version: "0.1.0"}

func mcpSession(t *testing.T, e *engine) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testImpl, nil)
	e.worker.RegisterMCP(srv)
	e.jrnl.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	go func() { _ = srv.Run(context.Background(), serverT) }()

	client := mcp.NewClient(testImpl, nil)
	session, err := client.Connect(context.Background(), clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if err := result.GetError(); err != nil {
		t.Fatalf("CallTool(%s) tool error: %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text
}

func TestMCPDrivesTheFullEngine(t *testing.T) {
	p := newPlatform()
	e := newEngine(t, p)
	e.start(t)
	session := mcpSession(t, e)

	text := callTool(t, session, "plume_post_thread", map[string]any{
		"texts": []string{
			"Shipping the <i>quarterly</i> numbers thread.",
			"Revenue held, margins moved.",
		},
	})
	var sub queue.Submission
	if err := json.Unmarshal([]byte(text), &sub); err != nil {
		t.Fatalf("unmarshal submission: %v", err)
	}
	if strings.Contains(sub.Drafts[0].Text, "<i>") {
		t.Fatalf("draft not linted: %q", sub.Drafts[0].Text)
	}

	e.waitStatus(t, sub.ID, queue.StatusDone)

	text = callTool(t, session, "plume_chain_status", map[string]any{"id": sub.ID})
	var st queue.Status
	if err := json.Unmarshal([]byte(text), &st); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if st.Chain == nil || st.Chain.Status != "completed" {
		t.Fatalf("chain = %+v", st.Chain)
	}
	if len(st.Posts) != 2 {
		t.Fatalf("posts = %+v", st.Posts)
	}

	text = callTool(t, session, "plume_recent_posts", map[string]any{"limit": 5})
	var recent struct {
		Posts []*journal.Post `json:"posts"`
	}
	if err := json.Unmarshal([]byte(text), &recent); err != nil {
		t.Fatalf("unmarshal recent posts: %v", err)
	}
	if len(recent.Posts) != 2 {
		t.Fatalf("recent = %d posts, want 2", len(recent.Posts))
	}
	if recent.Posts[0].ID != st.Posts[1].ID {
		t.Fatalf("newest post = %s, want %s", recent.Posts[0].ID, st.Posts[1].ID)
	}
}
