package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/plume/browser"
	"github.com/hazyhaar/plume/idgen"
	"github.com/hazyhaar/plume/journal"
	"github.com/hazyhaar/plume/poster"
	"github.com/hazyhaar/plume/prepare"
	"github.com/hazyhaar/plume/session"
)

// Runner posts prepared drafts through a live page. *poster.Service
// implements it.
type Runner interface {
	PostChain(ctx context.Context, page poster.Page, drafts []poster.Draft) (*poster.Result, error)
	ResumeChain(ctx context.Context, page poster.Page, drafts []poster.Draft, parent poster.Parent) (*poster.Result, error)
}

// Tab is the slice of a browser tab the worker drives: the poster's page
// surface plus what archiving and teardown need.
type Tab interface {
	poster.Page
	HTML(ctx context.Context) (string, error)
	Close() error
}

// Pages supplies one authenticated page per run. Acquire serializes
// browser use against recycling; the returned release must be called when
// the run ends.
type Pages interface {
	Acquire() (release func())
	Open(ctx context.Context) (Tab, error)
}

// BrowserPages adapts the browser manager: each Open gets a stealth tab
// on the platform origin with the saved session applied.
type BrowserPages struct {
	Manager  *browser.Manager
	Origin   string
	Sessions session.Store
}

func (p *BrowserPages) Acquire() func() { return p.Manager.Acquire() }

func (p *BrowserPages) Open(ctx context.Context) (Tab, error) {
	tab, err := p.Manager.OpenTab(ctx, p.Origin, p.Sessions)
	if err != nil {
		return nil, err
	}
	return tab, nil
}

// Config tunes the worker.
type Config struct {
	// Poll is the safety interval between queue checks when no change
	// notification arrives. Default: 30s.
	Poll time.Duration `json:"poll" yaml:"poll"`
}

func (c *Config) defaults() {
	if c.Poll <= 0 {
		c.Poll = 30 * time.Second
	}
}

// Stats are point-in-time worker counters.
type Stats struct {
	Claimed   int64 `json:"claimed"`
	Completed int64 `json:"completed"`
	Aborted   int64 `json:"aborted"`
	Failed    int64 `json:"failed"`
}

// Worker claims pending submissions and runs them through the poster, one
// at a time. It is also the enqueue surface, so same-process submissions
// wake it without waiting for a poll.
type Worker struct {
	cfg   Config
	store *Store
	prep  *prepare.Preparer
	run   Runner
	jrnl  *journal.Store
	pages Pages

	arch   *journal.Archiver
	wakeCh <-chan struct{}
	kick   chan struct{}
	newID  idgen.Generator
	logger *slog.Logger

	claimed   atomic.Int64
	completed atomic.Int64
	aborted   atomic.Int64
	failed    atomic.Int64
}

// Option customizes a Worker.
type Option func(*Worker)

// WithArchiver enables root-post archiving after fresh runs.
func WithArchiver(a *journal.Archiver) Option { return func(w *Worker) { w.arch = a } }

// WithWake adds an external wake channel, typically a dbwatch notifier,
// so rows written by another process get picked up promptly.
func WithWake(ch <-chan struct{}) Option { return func(w *Worker) { w.wakeCh = ch } }

// WithIDSource replaces the submission ID generator.
func WithIDSource(g idgen.Generator) Option { return func(w *Worker) { w.newID = g } }

// NewWorker wires a worker. Call Run to start dispatching.
func NewWorker(store *Store, prep *prepare.Preparer, run Runner, jrnl *journal.Store, pages Pages, cfg Config, logger *slog.Logger, opts ...Option) *Worker {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		cfg:    cfg,
		store:  store,
		prep:   prep,
		run:    run,
		jrnl:   jrnl,
		pages:  pages,
		kick:   make(chan struct{}, 1),
		newID:  idgen.Prefixed("sub_", idgen.UUIDv7()),
		logger: logger.With("component", "queue"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Enqueue lints texts into drafts and stores them as a pending submission.
// The returned Submission carries the drafts that will actually be posted
// and every fixup applied to get there.
func (w *Worker) Enqueue(ctx context.Context, req Request) (*Submission, error) {
	prepped, err := w.prep.LintAndSplit(req.Texts, req.Format)
	if err != nil {
		return nil, err
	}
	format := req.Format
	if format == "" {
		format = prepare.FormatThread
	}
	sub := &Submission{
		ID:        w.newID(),
		Status:    StatusPending,
		Format:    string(format),
		ParentID:  req.ParentID,
		Drafts:    prepped.Messages,
		Fixups:    prepped.Fixups,
		CreatedAt: time.Now().UnixMilli(),
	}
	if err := w.store.insert(ctx, sub); err != nil {
		return nil, err
	}
	w.logger.InfoContext(ctx, "submission enqueued",
		"submission_id", sub.ID, "messages", len(sub.Drafts), "format", sub.Format,
		"resume", sub.ParentID != "")
	w.nudge()
	return sub, nil
}

func (w *Worker) nudge() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Status is a submission joined with what the journal knows about its run.
type Status struct {
	Submission *Submission     `json:"submission"`
	Chain      *journal.Chain  `json:"chain,omitempty"`
	Posts      []*journal.Post `json:"posts,omitempty"`
}

// ChainStatus looks up a submission by queue id or poster chain id and
// attaches the journal record when the run produced one.
func (w *Worker) ChainStatus(ctx context.Context, id string) (*Status, error) {
	sub, err := w.store.Submission(ctx, id)
	if errors.Is(err, ErrNotFound) {
		sub, err = w.store.ByChainID(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	st := &Status{Submission: sub}
	if sub.ChainID == "" {
		return st, nil
	}
	chain, err := w.jrnl.Chain(ctx, sub.ChainID)
	if errors.Is(err, journal.ErrNotFound) {
		return st, nil
	}
	if err != nil {
		return nil, err
	}
	st.Chain = chain
	posts, err := w.jrnl.ChainPosts(ctx, sub.ChainID)
	if err != nil {
		return nil, err
	}
	st.Posts = posts
	return st, nil
}

// Stats returns the worker counters.
func (w *Worker) Stats() Stats {
	return Stats{
		Claimed:   w.claimed.Load(),
		Completed: w.completed.Load(),
		Aborted:   w.aborted.Load(),
		Failed:    w.failed.Load(),
	}
}

// Run dispatches until ctx is cancelled. Single-flight: one submission at
// a time, drained to empty on every wake.
func (w *Worker) Run(ctx context.Context) {
	if n, err := w.store.failInterrupted(ctx); err != nil {
		w.logger.Warn("interrupted-row sweep failed", "error", err)
	} else if n > 0 {
		w.logger.Warn("marked interrupted submissions failed", "count", n)
	}

	w.logger.Info("worker started", "poll", w.cfg.Poll)
	w.drain(ctx)

	ticker := time.NewTicker(w.cfg.Poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped")
			return
		case <-w.kick:
		case <-w.wakeCh:
		case <-ticker.C:
		}
		w.drain(ctx)
	}
}

func (w *Worker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		sub, err := w.store.claim(ctx)
		if err != nil {
			w.logger.Warn("claim failed", "error", err)
			return
		}
		if sub == nil {
			return
		}
		w.claimed.Add(1)
		w.process(ctx, sub)
	}
}

func (w *Worker) process(ctx context.Context, sub *Submission) {
	log := w.logger.With("submission_id", sub.ID)
	log.Info("run starting", "messages", len(sub.Drafts), "resume", sub.ParentID != "")

	release := w.pages.Acquire()
	defer release()

	tab, err := w.pages.Open(ctx)
	if err != nil {
		w.markFailed(ctx, sub.ID, err, log)
		return
	}
	defer tab.Close()

	res, runErr := w.runChain(ctx, tab, sub)
	if res == nil {
		if runErr == nil {
			runErr = errors.New("run produced no result")
		}
		w.markFailed(ctx, sub.ID, runErr, log)
		return
	}

	// Outcome writes survive shutdown: losing them would strand the row
	// as running and hide what was posted.
	wctx, cancel := outcomeCtx(ctx)
	defer cancel()

	resumed := sub.ParentID != ""
	texts := make([]string, len(sub.Drafts))
	for i, d := range sub.Drafts {
		texts[i] = d.Text
	}
	if err := w.jrnl.RecordResult(wctx, res, texts, resumed); err != nil {
		log.Error("journal write failed", "chain_id", res.ChainID, "error", err)
	}

	status := StatusDone
	if res.Aborted {
		status = StatusAborted
		w.aborted.Add(1)
	} else {
		w.completed.Add(1)
	}
	resJSON, err := json.Marshal(res)
	if err != nil {
		log.Error("result encode failed", "chain_id", res.ChainID, "error", err)
		resJSON = nil
	}
	if err := w.store.finish(wctx, sub.ID, status, res.ChainID, string(resJSON)); err != nil {
		log.Error("finished-row update lost", "error", err)
	}
	log.Info("run finished", "chain_id", res.ChainID, "status", status,
		"posted", len(res.ReplyIDs), "root_id", res.RootID)

	// Archive once the journal has the post row to attach it to.
	if w.arch != nil && !resumed && res.RootID != "" && res.Permalink != "" {
		if aerr := w.arch.Archive(ctx, tab, res.RootID, res.Permalink); aerr != nil {
			log.Warn("root archive failed", "chain_id", res.ChainID, "error", aerr)
		}
	}
}

// runChain posts the drafts. The result is nil only when the run was
// fatal: nothing posted, or a root that could not be identified.
func (w *Worker) runChain(ctx context.Context, tab Tab, sub *Submission) (*poster.Result, error) {
	if sub.ParentID != "" {
		return w.run.ResumeChain(ctx, tab, sub.Drafts, poster.Parent{ID: sub.ParentID})
	}
	return w.run.PostChain(ctx, tab, sub.Drafts)
}

func (w *Worker) markFailed(ctx context.Context, id string, cause error, log *slog.Logger) {
	w.failed.Add(1)
	wctx, cancel := outcomeCtx(ctx)
	defer cancel()
	if err := w.store.fail(wctx, id, cause.Error()); err != nil {
		log.Error("failed-row update lost", "error", err)
	}
	log.Error("run failed", "error", cause)
}

// outcomeCtx detaches from caller cancellation with a short ceiling.
func outcomeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
}
