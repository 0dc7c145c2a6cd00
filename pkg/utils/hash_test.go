package utils

import "testing"

func TestSourceIDFromURL(t *testing.T) {
	base := SourceIDFromURL("https://example.gov.uk/enforcement-actions/1001")

	variants := []string{
		"https://example.gov.uk/enforcement-actions/1001/",
		"HTTPS://EXAMPLE.GOV.UK/enforcement-actions/1001",
		"  https://example.gov.uk/enforcement-actions/1001  ",
	}
	for _, v := range variants {
		if got := SourceIDFromURL(v); got != base {
			t.Errorf("SourceIDFromURL(%q) = %q, want %q", v, got, base)
		}
	}

	other := SourceIDFromURL("https://example.gov.uk/enforcement-actions/1002")
	if other == base {
		t.Error("distinct URLs must not share a source ID")
	}
}
