package textmatch

import (
	"math"
	"testing"
)

func TestTokens_Normalization(t *testing.T) {
	got := Tokens("Hello, World! The quick brown FOX... #go @dev 42")
	want := []string{"brown", "dev", "fox", "hello", "quick", "the", "world"}
	if len(got) != len(want) {
		t.Fatalf("token count: got %d (%v), want %d", len(got), got, len(want))
	}
	for i, tok := range want {
		if got[i] != tok {
			t.Fatalf("token[%d]: got %q, want %q", i, got[i], tok)
		}
	}
}

func TestTokens_DropShortAndDedup(t *testing.T) {
	got := Tokens("go go go is a to of it ship ship")
	if len(got) != 1 || got[0] != "ship" {
		t.Fatalf("got %v, want [ship]", got)
	}
}

func TestTokens_PunctuationSplits(t *testing.T) {
	got := Tokens("state-machine rollout")
	want := []string{"machine", "rollout", "state"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSimilarity_Reflexive(t *testing.T) {
	texts := []string{
		"Shipping the new release notes today",
		"",
		"a b c", // every token below the length floor
		"véritable contenu accentué, avec ponctuation!",
	}
	for _, s := range texts {
		if sim := Similarity(s, s); sim != 1.0 {
			t.Fatalf("Similarity(%q, %q) = %v, want 1.0", s, s, sim)
		}
	}
}

func TestSimilarity_Symmetric(t *testing.T) {
	pairs := [][2]string{
		{"deploy went fine, metrics look healthy", "metrics healthy after the deploy"},
		{"totally unrelated words here", "different message entirely"},
		{"", "something non empty"},
	}
	for _, p := range pairs {
		ab := Similarity(p[0], p[1])
		ba := Similarity(p[1], p[0])
		if math.Abs(ab-ba) > 1e-12 {
			t.Fatalf("asymmetric: Similarity(a,b)=%v Similarity(b,a)=%v for %q / %q", ab, ba, p[0], p[1])
		}
	}
}

func TestSimilarity_Disjoint(t *testing.T) {
	if sim := Similarity("alpha bravo charlie", "delta echo foxtrot"); sim != 0 {
		t.Fatalf("disjoint similarity: got %v, want 0", sim)
	}
}

func TestSimilarity_EmptyAgainstNonEmpty(t *testing.T) {
	if sim := Similarity("", "real words here"); sim != 0 {
		t.Fatalf("empty vs non-empty: got %v, want 0", sim)
	}
}

func TestSimilarity_PlatformRewrite(t *testing.T) {
	// The platform trims whitespace and swaps curly quotes; the match must
	// still clear a 0.8 acceptance threshold.
	draft := "Postmortem thread: what broke during yesterday's deploy and how we caught it"
	rendered := "Postmortem thread: what broke during yesterday’s deploy and how we caught it"
	if sim := Similarity(draft, rendered); sim < 0.8 {
		t.Fatalf("rewritten rendering scored %v, want >= 0.8", sim)
	}
}

func TestJaccard_PartialOverlap(t *testing.T) {
	a := Tokens("one common token here")
	b := Tokens("one shared token there")
	// tokens a: common, here, one, token; b: one, shared, token, there
	// intersection 2 (one, token), union 6.
	got := Jaccard(a, b)
	want := 2.0 / 6.0
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("got %v, want %v", got, want)
	}
}
