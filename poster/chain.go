package poster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// chainRun holds the state of one posting call.
type chainRun struct {
	svc   *Service
	page  Page
	res   *Result
	log   *slog.Logger
	state State
}

// run is the chain state machine. Message 0 of a fresh call is the root;
// a failure there, or at its identity extraction, is fatal and returns
// (nil, error). A failure at any reply turns into a partial Result with
// Aborted set. The session save-back is deferred first, so it runs on
// every path out of here.
func (s *Service) run(ctx context.Context, page Page, drafts []Draft, parent *Parent) (*Result, error) {
	if len(drafts) == 0 {
		return nil, ErrNoDrafts
	}
	if len(drafts) > s.cfg.Chain.MaxLen {
		return nil, ErrChainTooLong
	}
	if parent == nil && len(drafts) < s.cfg.Chain.MinThreadLen {
		if s.cfg.Chain.NoSingleFallback {
			return nil, ErrChainTooShort
		}
		if len(drafts) > 1 {
			drafts = drafts[:1]
		}
		s.logger.InfoContext(ctx, "chain below thread minimum, posting single message",
			"drafts", len(drafts), "min", s.cfg.Chain.MinThreadLen)
	}

	res := &Result{
		ChainID:       s.newID(),
		ReplyIDs:      []string{},
		LastCompleted: -1,
		StartedAt:     time.Now().UTC(),
	}
	log := s.logger.With("chain_id", res.ChainID)

	ok, err := s.login.LoggedIn(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("poster: login check: %w", err)
	}
	if !ok {
		return nil, &LoginRequiredError{}
	}

	defer s.persistSession(ctx, page, log)

	r := &chainRun{svc: s, page: page, res: res, log: log, state: StateNotStarted}

	parentID, parentLink := "", ""
	if parent != nil {
		parentID, parentLink = parent.ID, parent.Permalink
		res.RootID = parent.ID
		res.Permalink = parent.Permalink
	}

	n := len(drafts)
	for i, d := range drafts {
		isReply := parent != nil || i > 0
		emitChain(ctx, log, i, n, parentID)

		id, err := r.postOne(ctx, d, parentLink, isReply)
		if err != nil {
			if !isReply {
				res.FinishedAt = time.Now().UTC()
				return nil, err
			}
			res.Aborted = true
			res.AbortReason = err.Error()
			res.FinishedAt = time.Now().UTC()
			r.setState(ctx, StateAborted)
			emitAborted(ctx, log, i, err)
			return res, nil
		}

		res.Extractions = append(res.Extractions, *id)
		if !isReply {
			res.RootID = id.ID
			res.Permalink = s.permalinkFor(id.ID)
			res.LastCompleted = 0
		} else {
			res.ReplyIDs = append(res.ReplyIDs, id.ID)
			if parent != nil {
				res.LastCompleted = len(res.ReplyIDs) - 1
			} else {
				res.LastCompleted = len(res.ReplyIDs)
			}
		}
		parentID, parentLink = id.ID, s.permalinkFor(id.ID)
	}

	res.FinishedAt = time.Now().UTC()
	r.setState(ctx, StateCompleted)
	return res, nil
}

// postOne runs the post-verify-extract sequence for one message.
// Posting (compose plus verify) gets MaxAttempts tries with linear
// backoff. Extraction gets its own attempt budget for replies, but a
// verified submission is never re-posted: re-composing after the page
// confirmed the message would duplicate it on the platform. The root
// takes a single extraction attempt, since without a root ID there is no
// chain to salvage.
func (r *chainRun) postOne(ctx context.Context, d Draft, parentLink string, isReply bool) (*Identity, error) {
	s := r.svc
	maxAttempts := s.cfg.Chain.MaxAttempts

	emitPostStart(ctx, r.log, d.Position)

	var lastErr error
	var permalink string
	posted := false
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if isReply {
			if err := s.pace(ctx); err != nil {
				return nil, err
			}
			r.setState(ctx, StatePostingReply)
		} else {
			r.setState(ctx, StatePostingRoot)
		}

		strategy, preURL, err := s.composer.Compose(ctx, r.page, d.Text, parentLink)
		if err != nil {
			tagStep(err, d.Position, attempt)
			r.record(d.Position, attempt, strategy, outcomeFor(err), err)
			lastErr = err
			if err := r.backoff(ctx, attempt); err != nil {
				return nil, lastErr
			}
			continue
		}

		if isReply {
			r.setState(ctx, StateVerifyingReply)
		} else {
			r.setState(ctx, StateVerifyingRoot)
		}
		permalink, err = s.verifier.Confirm(ctx, r.page, preURL)
		if err != nil {
			tagStep(err, d.Position, attempt)
			r.record(d.Position, attempt, strategy, OutcomeUnverified, err)
			lastErr = err
			if err := r.backoff(ctx, attempt); err != nil {
				return nil, lastErr
			}
			continue
		}

		r.record(d.Position, attempt, strategy, OutcomeOK, nil)
		posted = true
		break
	}
	if !posted {
		return nil, lastErr
	}

	if isReply {
		r.setState(ctx, StateExtractingID)
	} else {
		r.setState(ctx, StateExtractingRoot)
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		id, err := s.extractor.Extract(ctx, r.page, d, permalink, false)
		if err == nil {
			emitPostDone(ctx, r.log, id)
			return id, nil
		}
		tagStep(err, d.Position, attempt)
		r.record(d.Position, attempt, "", OutcomeExtractFailed, err)
		lastErr = err
		if !isReply {
			break
		}
		if err := r.backoff(ctx, attempt); err != nil {
			break
		}
	}
	return nil, lastErr
}

// backoff sleeps attempt x BackoffBase between tries. It returns an
// error only when no further attempt should run: the budget is spent or
// the context is gone.
func (r *chainRun) backoff(ctx context.Context, attempt int) error {
	if attempt >= r.svc.cfg.Chain.MaxAttempts {
		return errors.New("attempts exhausted")
	}
	return sleepCtx(ctx, time.Duration(attempt)*r.svc.cfg.Chain.BackoffBase)
}

func (r *chainRun) record(index, attempt int, strategy, outcome string, err error) {
	a := Attempt{
		MessageIndex: index,
		Number:       attempt,
		Strategy:     strategy,
		Outcome:      outcome,
		At:           time.Now().UTC(),
	}
	if err != nil {
		a.Error = err.Error()
	}
	r.res.Attempts = append(r.res.Attempts, a)
}

func (r *chainRun) setState(ctx context.Context, st State) {
	r.state = st
	r.log.DebugContext(ctx, "chain state", "state", string(st))
}

// tagStep stamps the message index and attempt number onto the typed
// error the components returned.
func tagStep(err error, index, attempt int) {
	var compose *ComposeFailedError
	var submit *SubmitFailedError
	var unverified *UnverifiedError
	var extract *ExtractionError
	switch {
	case errors.As(err, &compose):
		compose.MessageIndex, compose.Attempt = index, attempt
	case errors.As(err, &submit):
		submit.MessageIndex, submit.Attempt = index, attempt
	case errors.As(err, &unverified):
		unverified.MessageIndex, unverified.Attempt = index, attempt
	case errors.As(err, &extract):
		extract.MessageIndex = index
	}
}

func outcomeFor(err error) string {
	var compose *ComposeFailedError
	var submit *SubmitFailedError
	var unverified *UnverifiedError
	var extract *ExtractionError
	switch {
	case errors.As(err, &compose):
		return OutcomeComposeFailed
	case errors.As(err, &submit):
		return OutcomeSubmitFailed
	case errors.As(err, &unverified):
		return OutcomeUnverified
	case errors.As(err, &extract):
		return OutcomeExtractFailed
	}
	return "error"
}

// sleepCtx waits for d or the context, whichever ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
