// Package prepare lints raw texts into postable message drafts.
//
// Drafts arrive from upstream generators as loosely formatted strings:
// stray HTML, entity escapes, zero-width characters, texts longer than the
// platform accepts. prepare cleans each text, splits or joins to fit, and
// reports every modification it made so callers can audit what changed
// between the source material and what actually got posted.
package prepare

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/plume/poster"
)

// Format selects how raw texts map onto messages.
type Format string

const (
	// FormatThread keeps texts separate, splitting any that run long.
	FormatThread Format = "thread"
	// FormatSingle joins all texts into one message, truncating if needed.
	FormatSingle Format = "single"
)

// Fixup records one modification applied during preparation.
type Fixup struct {
	Index int    `json:"index"` // input text index the fixup applies to
	Kind  string `json:"kind"`
	Note  string `json:"note,omitempty"`
}

// Fixup kinds.
const (
	FixHTMLStripped   = "html_stripped"
	FixControlRemoved = "control_removed"
	FixWhitespace     = "whitespace_collapsed"
	FixSplit          = "split"
	FixTruncated      = "truncated"
	FixDroppedEmpty   = "dropped_empty"
)

// Prepared is the lint result: ordered drafts plus the fixups applied.
type Prepared struct {
	Messages []poster.Draft `json:"messages"`
	Fixups   []Fixup        `json:"fixups"`
}

// ErrNothingToPost is returned when every input text cleans down to empty.
var ErrNothingToPost = errors.New("prepare: no postable text after linting")

// Config tunes the preparer.
type Config struct {
	// MaxRunes is the per-message length cap. Default 280.
	MaxRunes int `json:"max_runes" yaml:"max_runes"`
}

func (c *Config) defaults() {
	if c.MaxRunes <= 0 {
		c.MaxRunes = 280
	}
}

// Preparer implements LintAndSplit.
type Preparer struct {
	cfg    Config
	policy *bluemonday.Policy
}

// New creates a Preparer.
func New(cfg Config) *Preparer {
	cfg.defaults()
	return &Preparer{cfg: cfg, policy: bluemonday.StrictPolicy()}
}

// LintAndSplit cleans raw texts and shapes them into drafts per format.
// Draft positions are sequential over the final message list.
func (p *Preparer) LintAndSplit(raw []string, format Format) (*Prepared, error) {
	if format == "" {
		format = FormatThread
	}
	if format != FormatThread && format != FormatSingle {
		return nil, fmt.Errorf("prepare: unknown format %q", format)
	}

	if format == FormatSingle {
		return p.lintSingle(raw)
	}
	return p.lintThread(raw)
}

func (p *Preparer) lintThread(raw []string) (*Prepared, error) {
	out := &Prepared{}
	pos := 0
	for i, text := range raw {
		cleaned := p.clean(text, i, out)
		if cleaned == "" {
			out.Fixups = append(out.Fixups, Fixup{Index: i, Kind: FixDroppedEmpty})
			continue
		}
		parts := splitToFit(cleaned, p.cfg.MaxRunes)
		if len(parts) > 1 {
			out.Fixups = append(out.Fixups, Fixup{
				Index: i, Kind: FixSplit,
				Note: fmt.Sprintf("%d runes into %d messages", len([]rune(cleaned)), len(parts)),
			})
		}
		for _, part := range parts {
			out.Messages = append(out.Messages, poster.Draft{Text: part, Position: pos})
			pos++
		}
	}
	if len(out.Messages) == 0 {
		return nil, ErrNothingToPost
	}
	return out, nil
}

func (p *Preparer) lintSingle(raw []string) (*Prepared, error) {
	out := &Prepared{}
	var parts []string
	for i, text := range raw {
		cleaned := p.clean(text, i, out)
		if cleaned == "" {
			out.Fixups = append(out.Fixups, Fixup{Index: i, Kind: FixDroppedEmpty})
			continue
		}
		parts = append(parts, cleaned)
	}
	if len(parts) == 0 {
		return nil, ErrNothingToPost
	}

	joined := strings.Join(parts, "\n\n")
	if n := len([]rune(joined)); n > p.cfg.MaxRunes {
		joined = truncateAtBoundary(joined, p.cfg.MaxRunes)
		out.Fixups = append(out.Fixups, Fixup{
			Index: 0, Kind: FixTruncated,
			Note: fmt.Sprintf("%d runes of %d kept", len([]rune(joined)), n),
		})
	}
	out.Messages = []poster.Draft{{Text: joined, Position: 0}}
	return out, nil
}

// clean strips HTML, entity escapes, control and zero-width characters, and
// collapses horizontal whitespace. Newlines survive; posts keep their line
// structure.
func (p *Preparer) clean(text string, idx int, out *Prepared) string {
	cur := text

	// bluemonday re-escapes bare entities, so compare after unescaping or
	// a plain ampersand would count as stripped HTML.
	if stripped := html.UnescapeString(p.policy.Sanitize(cur)); stripped != cur {
		out.Fixups = append(out.Fixups, Fixup{Index: idx, Kind: FixHTMLStripped})
		cur = stripped
	}

	noCtl := strings.Map(func(r rune) rune {
		switch {
		case r == '\n':
			return r
		case r == '\u200b', r == '\u200c', r == '\u200d', r == '\ufeff':
			return -1
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, cur)
	if noCtl != cur {
		out.Fixups = append(out.Fixups, Fixup{Index: idx, Kind: FixControlRemoved})
		cur = noCtl
	}

	collapsed := collapseSpaces(cur)
	if collapsed != cur {
		out.Fixups = append(out.Fixups, Fixup{Index: idx, Kind: FixWhitespace})
		cur = collapsed
	}
	return strings.TrimSpace(cur)
}

// collapseSpaces squeezes runs of spaces and tabs to a single space and
// trims trailing space on each line.
func collapseSpaces(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		fields := strings.Fields(line)
		lines[i] = strings.Join(fields, " ")
	}
	// Cap blank-line runs at one.
	var b strings.Builder
	blanks := 0
	for _, line := range lines {
		if line == "" {
			blanks++
			if blanks > 1 {
				continue
			}
		} else {
			blanks = 0
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// splitToFit breaks text into chunks of at most max runes, preferring
// sentence boundaries, then word boundaries, then hard cuts.
func splitToFit(text string, max int) []string {
	if len([]rune(text)) <= max {
		return []string{text}
	}

	var chunks []string
	var cur strings.Builder
	curLen := 0

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
		curLen = 0
	}

	for _, sentence := range sentences(text) {
		sLen := len([]rune(sentence))
		if sLen > max {
			// A single oversized sentence: pack by words.
			flush()
			chunks = append(chunks, splitWords(sentence, max)...)
			continue
		}
		sep := 0
		if curLen > 0 {
			sep = 1
		}
		if curLen+sep+sLen > max {
			flush()
			sep = 0
		}
		if sep == 1 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(sentence)
		curLen += sLen
	}
	flush()
	return chunks
}

// sentences splits on terminal punctuation followed by whitespace, and on
// paragraph breaks, keeping the punctuation with its sentence.
func sentences(text string) []string {
	var out []string
	var cur strings.Builder
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		cur.WriteRune(r)
		boundary := false
		switch r {
		case '.', '!', '?':
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				boundary = true
			}
		case '\n':
			boundary = true
		}
		if boundary {
			if s := strings.TrimSpace(cur.String()); s != "" {
				out = append(out, s)
			}
			cur.Reset()
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		out = append(out, s)
	}
	return out
}

func splitWords(text string, max int) []string {
	var chunks []string
	var cur strings.Builder
	curLen := 0
	for _, w := range strings.Fields(text) {
		wLen := len([]rune(w))
		if wLen > max {
			if curLen > 0 {
				chunks = append(chunks, cur.String())
				cur.Reset()
				curLen = 0
			}
			chunks = append(chunks, hardCut(w, max)...)
			continue
		}
		sep := 0
		if curLen > 0 {
			sep = 1
		}
		if curLen+sep+wLen > max {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
			sep = 0
		}
		if sep == 1 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(w)
		curLen += wLen
	}
	if curLen > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

func hardCut(s string, max int) []string {
	runes := []rune(s)
	var out []string
	for len(runes) > max {
		out = append(out, string(runes[:max]))
		runes = runes[max:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}

// truncateAtBoundary cuts s to at most max runes, backing up to the last
// word boundary when one exists in the tail quarter.
func truncateAtBoundary(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	cut := string(runes[:max])
	if i := strings.LastIndexFunc(cut, unicode.IsSpace); i > max*3/4 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut)
}
