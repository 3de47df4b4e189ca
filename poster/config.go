package poster

import (
	"fmt"
	"regexp"
	"time"

	"github.com/hazyhaar/plume/horosafe"
)

// Locator is a named CSS selector. Locators are tried in order; the name
// travels into attempt records so logs say which surface worked.
type Locator struct {
	Name     string `json:"name" yaml:"name"`
	Selector string `json:"selector" yaml:"selector"`
}

// ComposeConfig drives the composer. Every locator gets LocatorTimeout to
// appear before the next one is tried.
type ComposeConfig struct {
	BoxLocators      []Locator     `json:"box_locators" yaml:"box_locators"`
	ReplyAffordances []Locator     `json:"reply_affordances" yaml:"reply_affordances"`
	ReplyLocators    []Locator     `json:"reply_locators" yaml:"reply_locators"`
	SubmitLocators   []Locator     `json:"submit_locators" yaml:"submit_locators"`
	LocatorTimeout   time.Duration `json:"locator_timeout" yaml:"locator_timeout"`

	// NoKeyboardSubmit disables the Ctrl+Enter fallback when no submit
	// control can be clicked.
	NoKeyboardSubmit bool `json:"no_keyboard_submit" yaml:"no_keyboard_submit"`
}

// VerifyConfig drives post-submit confirmation.
type VerifyConfig struct {
	Deadline       time.Duration `json:"deadline" yaml:"deadline"`
	Poll           time.Duration `json:"poll" yaml:"poll"`
	FailurePhrases []string      `json:"failure_phrases" yaml:"failure_phrases"`
}

// ExtractConfig drives identity extraction.
type ExtractConfig struct {
	SimilarityThreshold float64       `json:"similarity_threshold" yaml:"similarity_threshold"`
	ItemLocators        []Locator     `json:"item_locators" yaml:"item_locators"`
	LinkSelector        string        `json:"link_selector" yaml:"link_selector"`
	ScanLimit           int           `json:"scan_limit" yaml:"scan_limit"`
	WaitTimeout         time.Duration `json:"wait_timeout" yaml:"wait_timeout"`
}

// ChainConfig drives the run loop.
type ChainConfig struct {
	MaxAttempts  int           `json:"max_attempts" yaml:"max_attempts"`
	BackoffBase  time.Duration `json:"backoff_base" yaml:"backoff_base"`
	PacingMin    time.Duration `json:"pacing_min" yaml:"pacing_min"`
	PacingMax    time.Duration `json:"pacing_max" yaml:"pacing_max"`
	MinThreadLen int           `json:"min_thread_len" yaml:"min_thread_len"`
	MaxLen       int           `json:"max_len" yaml:"max_len"`

	// NoSingleFallback turns short chains into an error instead of
	// posting the first draft alone.
	NoSingleFallback bool `json:"no_single_fallback" yaml:"no_single_fallback"`
}

// Config is the full posting configuration. Zero fields are filled by
// defaults(); BaseURL and Handle have no defaults and must be set.
type Config struct {
	BaseURL          string        `json:"base_url" yaml:"base_url"`
	Handle           string        `json:"handle" yaml:"handle"`
	HomePath         string        `json:"home_path" yaml:"home_path"`
	PermalinkPattern string        `json:"permalink_pattern" yaml:"permalink_pattern"`
	LoginMarkers     []Locator     `json:"login_markers" yaml:"login_markers"`
	Compose          ComposeConfig `json:"compose" yaml:"compose"`
	Verify           VerifyConfig  `json:"verify" yaml:"verify"`
	Extract          ExtractConfig `json:"extract" yaml:"extract"`
	Chain            ChainConfig   `json:"chain" yaml:"chain"`
}

func (c *Config) defaults() {
	if c.HomePath == "" {
		c.HomePath = "/home"
	}
	if c.PermalinkPattern == "" {
		c.PermalinkPattern = `^https?://[^/]+/([A-Za-z0-9_]+)/status/(\d+)`
	}
	if len(c.LoginMarkers) == 0 {
		c.LoginMarkers = []Locator{
			{Name: "account_switcher", Selector: `[data-testid="SideNav_AccountSwitcher_Button"]`},
			{Name: "compose_nav", Selector: `[data-testid="SideNav_NewTweet_Button"]`},
		}
	}
	if len(c.Compose.BoxLocators) == 0 {
		c.Compose.BoxLocators = []Locator{
			{Name: "testid_box", Selector: `[data-testid="tweetTextarea_0"]`},
			{Name: "role_textbox", Selector: `div[role="textbox"][contenteditable="true"]`},
			{Name: "aria_label", Selector: `div[aria-label="Post text"]`},
		}
	}
	if len(c.Compose.ReplyAffordances) == 0 {
		c.Compose.ReplyAffordances = []Locator{
			{Name: "reply_button", Selector: `[data-testid="reply"]`},
			{Name: "reply_aria", Selector: `button[aria-label="Reply"]`},
		}
	}
	if len(c.Compose.ReplyLocators) == 0 {
		c.Compose.ReplyLocators = []Locator{
			{Name: "testid_reply", Selector: `[data-testid="tweetTextarea_0"]`},
			{Name: "role_textbox", Selector: `div[role="textbox"][contenteditable="true"]`},
		}
	}
	if len(c.Compose.SubmitLocators) == 0 {
		c.Compose.SubmitLocators = []Locator{
			{Name: "inline_button", Selector: `[data-testid="tweetButtonInline"]`},
			{Name: "modal_button", Selector: `[data-testid="tweetButton"]`},
		}
	}
	if c.Compose.LocatorTimeout <= 0 {
		c.Compose.LocatorTimeout = 2500 * time.Millisecond
	}
	if c.Verify.Deadline <= 0 {
		c.Verify.Deadline = 10 * time.Second
	}
	if c.Verify.Poll <= 0 {
		c.Verify.Poll = 250 * time.Millisecond
	}
	if len(c.Verify.FailurePhrases) == 0 {
		c.Verify.FailurePhrases = []string{
			"something went wrong",
			"try again",
			"whoops",
		}
	}
	if c.Extract.SimilarityThreshold <= 0 {
		c.Extract.SimilarityThreshold = 0.8
	}
	if len(c.Extract.ItemLocators) == 0 {
		c.Extract.ItemLocators = []Locator{
			{Name: "article_text", Selector: `article [data-testid="tweetText"]`},
			{Name: "article", Selector: `article`},
		}
	}
	if c.Extract.LinkSelector == "" {
		c.Extract.LinkSelector = `a[href*="/status/"]`
	}
	if c.Extract.ScanLimit <= 0 {
		c.Extract.ScanLimit = 10
	}
	if c.Extract.WaitTimeout <= 0 {
		c.Extract.WaitTimeout = 2500 * time.Millisecond
	}
	if c.Chain.MaxAttempts <= 0 {
		c.Chain.MaxAttempts = 2
	}
	if c.Chain.BackoffBase <= 0 {
		c.Chain.BackoffBase = time.Second
	}
	if c.Chain.PacingMin <= 0 {
		c.Chain.PacingMin = 600 * time.Millisecond
	}
	if c.Chain.PacingMax <= c.Chain.PacingMin {
		c.Chain.PacingMax = c.Chain.PacingMin + 600*time.Millisecond
	}
	if c.Chain.MinThreadLen <= 0 {
		c.Chain.MinThreadLen = 2
	}
	if c.Chain.MaxLen <= 0 {
		c.Chain.MaxLen = 25
	}
}

func (c *Config) validate() (*regexp.Regexp, error) {
	if err := horosafe.ValidateOrigin(c.BaseURL); err != nil {
		return nil, fmt.Errorf("poster: base url: %w", err)
	}
	if err := horosafe.ValidateHandle(c.Handle); err != nil {
		return nil, fmt.Errorf("poster: handle: %w", err)
	}
	re, err := regexp.Compile(c.PermalinkPattern)
	if err != nil {
		return nil, fmt.Errorf("poster: permalink pattern: %w", err)
	}
	if re.NumSubexp() < 2 {
		return nil, fmt.Errorf("poster: permalink pattern needs handle and id capture groups")
	}
	if c.Extract.SimilarityThreshold > 1 {
		return nil, fmt.Errorf("poster: similarity threshold %.2f out of range", c.Extract.SimilarityThreshold)
	}
	return re, nil
}

// HomeURL is the timeline the run starts from.
func (c *Config) HomeURL() string { return c.BaseURL + c.HomePath }

// ProfileURL is the posting account's profile page.
func (c *Config) ProfileURL() string { return c.BaseURL + "/" + c.Handle }
