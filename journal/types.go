package journal

// Chain is one recorded posting run.
type Chain struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	RootID        string `json:"root_id"`
	Permalink     string `json:"permalink"`
	Messages      int    `json:"messages"`
	LastCompleted int    `json:"last_completed"`
	Aborted       bool   `json:"aborted"`
	AbortReason   string `json:"abort_reason,omitempty"`
	Resumed       bool   `json:"resumed"`
	StartedAt     int64  `json:"started_at"`
	FinishedAt    int64  `json:"finished_at"`
}

// Post is one published message, keyed by its platform id.
type Post struct {
	ID         string  `json:"id"`
	ChainID    string  `json:"chain_id"`
	Position   int     `json:"position"`
	Text       string  `json:"text"`
	Permalink  string  `json:"permalink"`
	Strategy   string  `json:"strategy"`
	Score      float64 `json:"score"`
	ArchiveMD  string  `json:"archive_md,omitempty"`
	ArchivedAt *int64  `json:"archived_at,omitempty"`
	PostedAt   int64   `json:"posted_at"`
}

// Attempt is one recorded try at one step of a run.
type Attempt struct {
	ChainID  string `json:"chain_id"`
	Position int    `json:"position"`
	Number   int    `json:"number"`
	Strategy string `json:"strategy,omitempty"`
	Outcome  string `json:"outcome"`
	Error    string `json:"error,omitempty"`
	At       int64  `json:"at"`
}

// Attribution holds the engagement numbers for one post. PostedAt is
// copied from the post row on first write.
type Attribution struct {
	PostID          string  `json:"post_id"`
	EngagementRate  float64 `json:"engagement_rate"`
	Impressions     int64   `json:"impressions"`
	FollowersGained int64   `json:"followers_gained"`
	HookPattern     string  `json:"hook_pattern,omitempty"`
	Topic           string  `json:"topic,omitempty"`
	GeneratorUsed   string  `json:"generator_used,omitempty"`
	PostedAt        int64   `json:"posted_at"`
	UpdatedAt       int64   `json:"updated_at"`
}

// Totals aggregates journal counters for the stats endpoint.
type Totals struct {
	Chains          int     `json:"chains"`
	ChainsCompleted int     `json:"chains_completed"`
	ChainsAborted   int     `json:"chains_aborted"`
	Posts           int     `json:"posts"`
	Attempts        int     `json:"attempts"`
	Attributed      int     `json:"attributed"`
	AvgEngagement   float64 `json:"avg_engagement_rate"`
}
