package symbol

import (
	"errors"
	"testing"
	"time"
)

func TestParse_Valid(t *testing.T) {
	s, err := Parse("FLIP-POL-SENATE-FLIPS-20261103")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Category != CategoryPolitics {
		t.Errorf("expected category=POL, got %s", s.Category)
	}
	if s.Slug != "SENATE-FLIPS" {
		t.Errorf("expected slug=SENATE-FLIPS, got %s", s.Slug)
	}
	expected := time.Date(2026, 11, 3, 0, 0, 0, 0, time.UTC)
	if !s.CloseDate.Equal(expected) {
		t.Errorf("expected close=%v, got %v", expected, s.CloseDate)
	}
}

func TestParse_AllCategories(t *testing.T) {
	for _, cat := range []string{"POL", "SPT", "CRY", "MSC"} {
		if _, err := Parse("FLIP-" + cat + "-SOME-EVENT-20261231"); err != nil {
			t.Errorf("expected category %s to parse, got %v", cat, err)
		}
	}
}

func TestParse_InvalidFormat(t *testing.T) {
	tests := []string{
		"",
		"INVALID",
		"FLIP-POL",
		"FLIP-POL-SENATE",
		"FLIP-POL-SENATE-notadate",
		"BTC-POL-SENATE-20261103",     // wrong prefix
		"FLIP-pol-SENATE-20261103",    // lowercase category
		"FLIP-POL-senate-20261103",    // lowercase slug
		"FLIP-POLX-SENATE-20261103",   // four-letter category
		"FLIP-POL--SENATE-20261103",   // empty slug segment
		"FLIP-POL-SENATE-2026-11-03",  // dashed date
		"FLIP-POL-SENATE-20261103-X",  // trailing segment
	}
	for _, raw := range tests {
		if _, err := Parse(raw); err == nil {
			t.Errorf("expected error for symbol %q", raw)
		}
	}
}

func TestParse_InvalidCategory(t *testing.T) {
	_, err := Parse("FLIP-XXX-SENATE-20261103")
	if !errors.Is(err, ErrInvalidCategory) {
		t.Errorf("expected ErrInvalidCategory, got %v", err)
	}
}

func TestParse_InvalidDate(t *testing.T) {
	_, err := Parse("FLIP-POL-SENATE-20261399")
	if !errors.Is(err, ErrInvalidSymbol) {
		t.Errorf("expected ErrInvalidSymbol for impossible date, got %v", err)
	}
}
