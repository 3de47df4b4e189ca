package prepare

import (
	"errors"
	"strings"
	"testing"
)

func hasFixup(p *Prepared, kind string, index int) bool {
	for _, f := range p.Fixups {
		if f.Kind == kind && f.Index == index {
			return true
		}
	}
	return false
}

func TestThreadKeepsCleanTextsUntouched(t *testing.T) {
	p := New(Config{})
	got, err := p.LintAndSplit([]string{
		"first message, already tidy",
		"second message, also tidy",
	}, FormatThread)
	if err != nil {
		t.Fatalf("LintAndSplit: %v", err)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("messages = %d", len(got.Messages))
	}
	for i, m := range got.Messages {
		if m.Position != i {
			t.Fatalf("message %d position = %d", i, m.Position)
		}
	}
	if len(got.Fixups) != 0 {
		t.Fatalf("unexpected fixups: %+v", got.Fixups)
	}
}

func TestThreadSplitsAtSentenceBoundaries(t *testing.T) {
	p := New(Config{MaxRunes: 50})
	text := "First sentence here. Second sentence follows now. Third one ends it."
	got, err := p.LintAndSplit([]string{text}, FormatThread)
	if err != nil {
		t.Fatalf("LintAndSplit: %v", err)
	}
	want := []string{
		"First sentence here. Second sentence follows now.",
		"Third one ends it.",
	}
	if len(got.Messages) != len(want) {
		t.Fatalf("messages = %+v", got.Messages)
	}
	for i, w := range want {
		if got.Messages[i].Text != w {
			t.Fatalf("message %d = %q, want %q", i, got.Messages[i].Text, w)
		}
		if n := len([]rune(got.Messages[i].Text)); n > 50 {
			t.Fatalf("message %d is %d runes", i, n)
		}
		if got.Messages[i].Position != i {
			t.Fatalf("message %d position = %d", i, got.Messages[i].Position)
		}
	}
	if !hasFixup(got, FixSplit, 0) {
		t.Fatalf("split not reported: %+v", got.Fixups)
	}
}

func TestThreadPositionsStaySequentialAcrossSplits(t *testing.T) {
	p := New(Config{MaxRunes: 30})
	got, err := p.LintAndSplit([]string{
		"A rather long opening that will not fit in one piece at all.",
		"Short tail.",
	}, FormatThread)
	if err != nil {
		t.Fatalf("LintAndSplit: %v", err)
	}
	if len(got.Messages) < 3 {
		t.Fatalf("expected the first text to split: %+v", got.Messages)
	}
	for i, m := range got.Messages {
		if m.Position != i {
			t.Fatalf("position gap at %d: %+v", i, got.Messages)
		}
	}
	last := got.Messages[len(got.Messages)-1]
	if last.Text != "Short tail." {
		t.Fatalf("tail = %q", last.Text)
	}
}

func TestThreadDropsEmptyInputs(t *testing.T) {
	p := New(Config{})
	got, err := p.LintAndSplit([]string{"keep me around", "   ​  ", "me as well"}, FormatThread)
	if err != nil {
		t.Fatalf("LintAndSplit: %v", err)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("messages = %+v", got.Messages)
	}
	if got.Messages[0].Text != "keep me around" || got.Messages[1].Text != "me as well" {
		t.Fatalf("messages = %+v", got.Messages)
	}
	if got.Messages[1].Position != 1 {
		t.Fatalf("positions not reindexed: %+v", got.Messages)
	}
	if !hasFixup(got, FixDroppedEmpty, 1) {
		t.Fatalf("drop not reported: %+v", got.Fixups)
	}
}

func TestCleanStripsHTMLAndEntities(t *testing.T) {
	p := New(Config{})
	got, err := p.LintAndSplit([]string{`<b>bold</b> move &amp; more <script>alert(1)</script>`}, FormatThread)
	if err != nil {
		t.Fatalf("LintAndSplit: %v", err)
	}
	text := got.Messages[0].Text
	if strings.ContainsAny(text, "<>") || strings.Contains(text, "script") {
		t.Fatalf("markup survived: %q", text)
	}
	if !strings.Contains(text, "bold move & more") {
		t.Fatalf("text = %q", text)
	}
	if !hasFixup(got, FixHTMLStripped, 0) {
		t.Fatalf("strip not reported: %+v", got.Fixups)
	}
}

func TestCleanPlainAmpersandIsNotAFixup(t *testing.T) {
	p := New(Config{})
	got, err := p.LintAndSplit([]string{"salt & pepper"}, FormatThread)
	if err != nil {
		t.Fatalf("LintAndSplit: %v", err)
	}
	if got.Messages[0].Text != "salt & pepper" {
		t.Fatalf("text = %q", got.Messages[0].Text)
	}
	if len(got.Fixups) != 0 {
		t.Fatalf("unexpected fixups: %+v", got.Fixups)
	}
}

func TestCleanRemovesControlAndZeroWidth(t *testing.T) {
	p := New(Config{})
	got, err := p.LintAndSplit([]string{"zero​width and a bell here"}, FormatThread)
	if err != nil {
		t.Fatalf("LintAndSplit: %v", err)
	}
	if got.Messages[0].Text != "zerowidth and a bell here" {
		t.Fatalf("text = %q", got.Messages[0].Text)
	}
	if !hasFixup(got, FixControlRemoved, 0) {
		t.Fatalf("removal not reported: %+v", got.Fixups)
	}
}

func TestCleanCollapsesWhitespaceKeepsLines(t *testing.T) {
	p := New(Config{})
	got, err := p.LintAndSplit([]string{"too   many\tspaces\n\n\n\nbut lines survive"}, FormatThread)
	if err != nil {
		t.Fatalf("LintAndSplit: %v", err)
	}
	want := "too many spaces\n\nbut lines survive"
	if got.Messages[0].Text != want {
		t.Fatalf("text = %q, want %q", got.Messages[0].Text, want)
	}
	if !hasFixup(got, FixWhitespace, 0) {
		t.Fatalf("collapse not reported: %+v", got.Fixups)
	}
}

func TestSingleJoinsParts(t *testing.T) {
	p := New(Config{})
	got, err := p.LintAndSplit([]string{"part one is here", "part two is here"}, FormatSingle)
	if err != nil {
		t.Fatalf("LintAndSplit: %v", err)
	}
	if len(got.Messages) != 1 {
		t.Fatalf("messages = %+v", got.Messages)
	}
	if got.Messages[0].Text != "part one is here\n\npart two is here" {
		t.Fatalf("text = %q", got.Messages[0].Text)
	}
	if got.Messages[0].Position != 0 {
		t.Fatalf("position = %d", got.Messages[0].Position)
	}
}

func TestSingleTruncatesAtWordBoundary(t *testing.T) {
	p := New(Config{MaxRunes: 20})
	got, err := p.LintAndSplit([]string{"part one is here", "part two is here"}, FormatSingle)
	if err != nil {
		t.Fatalf("LintAndSplit: %v", err)
	}
	text := got.Messages[0].Text
	if text != "part one is here" {
		t.Fatalf("text = %q", text)
	}
	if !hasFixup(got, FixTruncated, 0) {
		t.Fatalf("truncation not reported: %+v", got.Fixups)
	}
}

func TestOversizedWordIsHardCut(t *testing.T) {
	p := New(Config{MaxRunes: 10})
	got, err := p.LintAndSplit([]string{strings.Repeat("x", 25)}, FormatThread)
	if err != nil {
		t.Fatalf("LintAndSplit: %v", err)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("messages = %+v", got.Messages)
	}
	for i, m := range got.Messages {
		if n := len([]rune(m.Text)); n > 10 {
			t.Fatalf("message %d is %d runes", i, n)
		}
	}
}

func TestNothingToPost(t *testing.T) {
	p := New(Config{})
	for _, format := range []Format{FormatThread, FormatSingle} {
		_, err := p.LintAndSplit([]string{"", "  ", "​"}, format)
		if !errors.Is(err, ErrNothingToPost) {
			t.Fatalf("%s: error = %v", format, err)
		}
	}
}

func TestUnknownFormatRejected(t *testing.T) {
	p := New(Config{})
	if _, err := p.LintAndSplit([]string{"text"}, Format("carousel")); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestEmptyFormatDefaultsToThread(t *testing.T) {
	p := New(Config{})
	got, err := p.LintAndSplit([]string{"one", "two"}, "")
	if err != nil {
		t.Fatalf("LintAndSplit: %v", err)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("messages = %+v", got.Messages)
	}
}
