// Package poster publishes ordered chains of messages through a live
// browser session and proves what actually landed.
//
// The engine never trusts its own actions: every submission is verified
// against the page, every platform-assigned identifier is extracted from
// what the platform rendered, and a chain that cannot continue ends in a
// truthful partial result rather than a guess.
package poster

import "time"

// Draft is one message queued for posting. Position is its index within
// the chain: 0 is the root, everything after replies to its predecessor.
type Draft struct {
	Text     string `json:"text"`
	Position int    `json:"position"`
}

// Strategy names how an identifier was recovered.
type Strategy string

const (
	// StrategyURLParse reads the ID straight from a permalink URL the
	// browser landed on.
	StrategyURLParse Strategy = "url_parse"
	// StrategyProfileScan finds the posted message on the account profile.
	StrategyProfileScan Strategy = "profile_scan"
	// StrategyTimelineScan finds the posted message on the home timeline.
	StrategyTimelineScan Strategy = "timeline_scan"
)

// Identity is a platform-assigned message identifier together with how it
// was recovered and how well the found content matched the draft. A nil
// *Identity means extraction failed; an Identity is never fabricated.
type Identity struct {
	ID       string   `json:"id"`
	Strategy Strategy `json:"strategy"`
	Score    float64  `json:"score"`
}

// Attempt outcome values.
const (
	OutcomeOK            = "ok"
	OutcomeComposeFailed = "compose_failed"
	OutcomeSubmitFailed  = "submit_failed"
	OutcomeUnverified    = "unverified"
	OutcomeExtractFailed = "extract_failed"
)

// Attempt records one try at one step of a chain run.
type Attempt struct {
	MessageIndex int       `json:"message_index"`
	Number       int       `json:"number"`
	Strategy     string    `json:"strategy,omitempty"`
	Outcome      string    `json:"outcome"`
	Error        string    `json:"error,omitempty"`
	At           time.Time `json:"at"`
}

// Result is the outcome of a chain run. When Aborted is true the run
// stopped partway: every field still tells the truth about what was
// posted. ReplyIDs is always a gap-free prefix, and the parent of
// ReplyIDs[i] is RootID for i==0, otherwise ReplyIDs[i-1].
// Extractions holds one Identity per message this run posted, in posting
// order, so callers can see how each ID was recovered.
type Result struct {
	ChainID       string     `json:"chain_id"`
	RootID        string     `json:"root_id"`
	Permalink     string     `json:"permalink"`
	ReplyIDs      []string   `json:"reply_ids"`
	Aborted       bool       `json:"aborted"`
	AbortReason   string     `json:"abort_reason,omitempty"`
	LastCompleted int        `json:"last_completed"`
	Attempts      []Attempt  `json:"attempts,omitempty"`
	Extractions   []Identity `json:"extractions,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    time.Time  `json:"finished_at"`
}

// State names where a chain run currently stands.
type State string

const (
	StateNotStarted     State = "not_started"
	StatePostingRoot    State = "posting_root"
	StateVerifyingRoot  State = "verifying_root"
	StateExtractingRoot State = "extracting_root_id"
	StatePostingReply   State = "posting_reply"
	StateVerifyingReply State = "verifying_reply"
	StateExtractingID   State = "extracting_reply_id"
	StateCompleted      State = "completed"
	StateAborted        State = "aborted"
)

// Parent identifies the message a resumed chain continues under.
type Parent struct {
	ID        string `json:"id"`
	Permalink string `json:"permalink"`
}
