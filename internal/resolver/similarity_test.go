package resolver

import "testing"

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"ACME Chemicals Ltd.", "acme chemicals ltd"},
		{"  Smith   &  Sons  ", "smith sons"},
		{"O'Brien's Haulage", "o brien s haulage"},
		{"ABC-123 (Holdings)", "abc 123 holdings"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeName(tt.in); got != tt.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSimilarityIdentical(t *testing.T) {
	if got := Similarity("ACME Chemicals Ltd", "ACME Chemicals Ltd"); got != 1 {
		t.Errorf("identical names scored %v, want 1", got)
	}
}

func TestSimilaritySuffixFolding(t *testing.T) {
	// Limited vs Ltd should compare as the same canonical name.
	if got := Similarity("ACME Chemicals Limited", "ACME Chemicals Ltd"); got != 1 {
		t.Errorf("suffix variants scored %v, want 1", got)
	}
	if got := Similarity("Northfield Incorporated", "Northfield Inc"); got != 1 {
		t.Errorf("inc variants scored %v, want 1", got)
	}
}

func TestSimilarityOrdering(t *testing.T) {
	near := Similarity("ACME Chemicals Ltd", "ACME Chemical Ltd")
	far := Similarity("ACME Chemicals Ltd", "Northfield Construction Ltd")

	if near <= far {
		t.Errorf("near match (%v) should outscore far match (%v)", near, far)
	}
	if near < 0.5 {
		t.Errorf("one-letter difference scored %v, expected a high score", near)
	}
}

func TestSimilarityUnrelated(t *testing.T) {
	got := Similarity("ACME Chemicals", "Zebra Plumbing")
	if got > 0.2 {
		t.Errorf("unrelated names scored %v, expected near zero", got)
	}
}

func TestSimilarityEmpty(t *testing.T) {
	if got := Similarity("", "ACME"); got != 0 {
		t.Errorf("empty name scored %v, want 0", got)
	}
	if got := Similarity("", ""); got != 0 {
		t.Errorf("two empty names scored %v, want 0", got)
	}
}

func TestSimilarityShortNames(t *testing.T) {
	// Names shorter than a trigram still compare, as whole-string tokens.
	if got := Similarity("AB", "AB"); got != 1 {
		t.Errorf("short identical names scored %v, want 1", got)
	}
	if got := Similarity("AB", "CD"); got != 0 {
		t.Errorf("short distinct names scored %v, want 0", got)
	}
}

func TestTextSimilarity(t *testing.T) {
	same := TextSimilarity(
		"Unauthorised deposit of controlled waste on land",
		"Unauthorised deposit of controlled waste on land",
	)
	if same != 1 {
		t.Errorf("identical descriptions scored %v, want 1", same)
	}

	close := TextSimilarity(
		"Unauthorised deposit of controlled waste on land",
		"Unauthorised deposits of controlled waste on land",
	)
	if close < 0.7 {
		t.Errorf("near-identical descriptions scored %v, expected >= 0.7", close)
	}

	far := TextSimilarity(
		"Unauthorised deposit of controlled waste on land",
		"Failure to ensure safe working at height",
	)
	if far > 0.3 {
		t.Errorf("unrelated descriptions scored %v, expected low", far)
	}
}
