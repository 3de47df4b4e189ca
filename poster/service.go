package poster

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"time"

	"github.com/hazyhaar/plume/idgen"
)

// SessionSaver writes the live session state back to durable storage.
// The browser package's tab implements it; the engine calls it on every
// exit path and treats failures as log-only.
type SessionSaver interface {
	SaveSession(ctx context.Context) (cookies int, err error)
}

// Service posts chains through an authenticated page. One Service may
// serve many chains, but each call owns its page exclusively from the
// login gate to the session save-back.
type Service struct {
	cfg       Config
	logger    *slog.Logger
	permalink *regexp.Regexp

	composer  Composer
	verifier  Verifier
	extractor Extractor
	login     LoginChecker
	saver     SessionSaver

	newID  idgen.Generator
	jitter func(n int) int
}

// Option customizes a Service.
type Option func(*Service)

// WithComposer replaces the default locator-driven composer.
func WithComposer(c Composer) Option { return func(s *Service) { s.composer = c } }

// WithVerifier replaces the default URL-transition verifier.
func WithVerifier(v Verifier) Option { return func(s *Service) { s.verifier = v } }

// WithExtractor replaces the default three-strategy extractor.
func WithExtractor(e Extractor) Option { return func(s *Service) { s.extractor = e } }

// WithLoginChecker replaces the default marker probe.
func WithLoginChecker(l LoginChecker) Option { return func(s *Service) { s.login = l } }

// WithSessionSaver sets the save-back target. Without it, pages that
// implement SessionSaver themselves are still saved.
func WithSessionSaver(sv SessionSaver) Option { return func(s *Service) { s.saver = sv } }

// WithIDSource replaces the chain ID generator.
func WithIDSource(g idgen.Generator) Option { return func(s *Service) { s.newID = g } }

// WithJitter replaces the pacing randomness. jitter(n) must return a
// value in [0, n); tests pin it for deterministic delays.
func WithJitter(fn func(n int) int) Option { return func(s *Service) { s.jitter = fn } }

// New builds a posting service. cfg.BaseURL and cfg.Handle are required;
// everything else falls back to defaults.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	cfg.defaults()
	re, err := cfg.validate()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		cfg:       cfg,
		logger:    logger.With("component", "poster"),
		permalink: re,
		newID:     idgen.Prefixed("chain_", idgen.UUIDv7()),
		jitter:    rand.IntN,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.composer == nil {
		s.composer = NewComposer(cfg.Compose, cfg.HomeURL(), logger)
	}
	if s.verifier == nil {
		s.verifier = NewVerifier(cfg.Verify, re, logger)
	}
	if s.extractor == nil {
		s.extractor = NewExtractor(cfg, re, logger)
	}
	if s.login == nil {
		s.login = NewLoginChecker(cfg, logger)
	}
	return s, nil
}

// Config returns a copy of the resolved configuration.
func (s *Service) Config() Config { return s.cfg }

// PostChain posts drafts as a root message plus linked replies. The
// returned Result is complete (Aborted false) or partial (Aborted true
// with LastCompleted marking the resume point). The only error returns
// are the fatal conditions: nothing was posted, or the root posted but
// could not be identified.
func (s *Service) PostChain(ctx context.Context, page Page, drafts []Draft) (*Result, error) {
	return s.run(ctx, page, drafts, nil)
}

// ResumeChain continues an interrupted chain: every draft is posted as a
// reply, the first one under parent. Result.RootID echoes the parent so
// linkage can be stitched to the earlier run.
func (s *Service) ResumeChain(ctx context.Context, page Page, drafts []Draft, parent Parent) (*Result, error) {
	if parent.ID == "" {
		return nil, fmt.Errorf("poster: resume requires a parent id")
	}
	if parent.Permalink == "" {
		parent.Permalink = s.permalinkFor(parent.ID)
	}
	return s.run(ctx, page, drafts, &parent)
}

func (s *Service) permalinkFor(id string) string {
	return s.cfg.BaseURL + "/" + s.cfg.Handle + "/status/" + id
}

// pace sleeps a uniformly random human-like delay inside the configured
// band.
func (s *Service) pace(ctx context.Context) error {
	d := s.cfg.Chain.PacingMin
	if band := int((s.cfg.Chain.PacingMax - s.cfg.Chain.PacingMin) / time.Millisecond); band > 0 {
		d += time.Duration(s.jitter(band+1)) * time.Millisecond
	}
	return sleepCtx(ctx, d)
}

// persistSession runs on every exit path. It keeps working through
// caller cancellation, since losing cookies on shutdown would cost the
// next run its login.
func (s *Service) persistSession(ctx context.Context, page Page, log *slog.Logger) {
	sv := s.saver
	if sv == nil {
		sv, _ = page.(SessionSaver)
	}
	if sv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	n, err := sv.SaveSession(ctx)
	if err != nil {
		log.WarnContext(ctx, "session save failed", "error", err)
		return
	}
	emitSessionSaved(ctx, log, n)
}
