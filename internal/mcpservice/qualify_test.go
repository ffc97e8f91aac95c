package mcpservice

import "testing"

func TestSanitizeToolPart(t *testing.T) {
	cases := map[string]string{
		"Search Web":     "search_web",
		"already-ok":     "already-ok",
		"  leading/trail ": "leading_trail",
		"":                "tool",
		"!!!":             "tool",
	}
	for in, want := range cases {
		if got := sanitizeToolPart(in); got != want {
			t.Errorf("sanitizeToolPart(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestQualifyToolNameDeterministic(t *testing.T) {
	seen := map[string]int{}
	a := qualifyToolName("search-server", "web_search", seen)
	seen2 := map[string]int{}
	b := qualifyToolName("search-server", "web_search", seen2)
	if a != b {
		t.Fatalf("qualifyToolName not deterministic: %q vs %q", a, b)
	}
	if len(a) > maxToolNameLength {
		t.Fatalf("name exceeds max length: %q (%d)", a, len(a))
	}
}

func TestQualifyToolNameTruncatesLongNames(t *testing.T) {
	seen := map[string]int{}
	long := "this-is-a-very-long-tool-name-that-will-exceed-the-sixty-four-character-limit-by-a-lot"
	name := qualifyToolName("server", long, seen)
	if len(name) > maxToolNameLength {
		t.Fatalf("got length %d, want <= %d", len(name), maxToolNameLength)
	}
}

func TestQualifyToolNameDedupesCollisions(t *testing.T) {
	seen := map[string]int{}
	first := qualifyToolName("srv", "Search", seen)
	second := qualifyToolName("srv", "search", seen) // sanitizes to the same base
	if first == second {
		t.Fatalf("expected distinct names for colliding sanitized inputs, got %q twice", first)
	}
	if len(second) > maxToolNameLength {
		t.Fatalf("deduped name exceeds max length: %q", second)
	}
}
