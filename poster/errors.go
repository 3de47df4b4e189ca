package poster

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDrafts is returned when a chain run is asked to post nothing.
	ErrNoDrafts = errors.New("poster: no drafts to post")

	// ErrChainTooShort is returned when the drafts fall below the thread
	// minimum and single-message fallback is disabled.
	ErrChainTooShort = errors.New("poster: chain shorter than thread minimum")

	// ErrChainTooLong is returned when the drafts exceed the chain cap.
	ErrChainTooLong = errors.New("poster: chain longer than maximum")
)

// LoginRequiredError means the session is not authenticated. The run stops
// before any page interaction; re-posting cannot fix it.
type LoginRequiredError struct {
	URL string
}

func (e *LoginRequiredError) Error() string {
	if e.URL == "" {
		return "poster: login required"
	}
	return fmt.Sprintf("poster: login required at %s", e.URL)
}

// ComposeFailedError means no composer surface could be engaged: every
// locator timed out or the text could not be entered.
type ComposeFailedError struct {
	MessageIndex int
	Attempt      int
	Cause        error
}

func (e *ComposeFailedError) Error() string {
	return fmt.Sprintf("poster: compose failed for message %d (attempt %d): %v", e.MessageIndex, e.Attempt, e.Cause)
}

func (e *ComposeFailedError) Unwrap() error { return e.Cause }

// SubmitFailedError means the draft was entered but no submit control
// could be activated, including the keyboard fallback.
type SubmitFailedError struct {
	MessageIndex int
	Attempt      int
	Cause        error
}

func (e *SubmitFailedError) Error() string {
	return fmt.Sprintf("poster: submit failed for message %d (attempt %d): %v", e.MessageIndex, e.Attempt, e.Cause)
}

func (e *SubmitFailedError) Unwrap() error { return e.Cause }

// UnverifiedError means the submission was dispatched but the page never
// confirmed it inside the verification deadline, or showed a failure
// notice. The message may or may not have landed.
type UnverifiedError struct {
	MessageIndex int
	Attempt      int
	Reason       string
}

func (e *UnverifiedError) Error() string {
	return fmt.Sprintf("poster: submission unverified for message %d (attempt %d): %s", e.MessageIndex, e.Attempt, e.Reason)
}

// ExtractionError means a verified submission could not be tied to a
// platform ID by any strategy. BestScore is the highest content similarity
// seen across all scanned candidates.
type ExtractionError struct {
	MessageIndex int
	BestScore    float64
	Cause        error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("poster: identity extraction failed for message %d (best score %.2f): %v", e.MessageIndex, e.BestScore, e.Cause)
}

func (e *ExtractionError) Unwrap() error { return e.Cause }

// Retryable reports whether another attempt at the same step could
// plausibly succeed. Login and extraction failures are not retryable at
// the posting level: the first needs a new session, the second retries
// extraction only, since re-posting a verified submission would duplicate
// it.
func Retryable(err error) bool {
	var compose *ComposeFailedError
	var submit *SubmitFailedError
	var unverified *UnverifiedError
	return errors.As(err, &compose) || errors.As(err, &submit) || errors.As(err, &unverified)
}
