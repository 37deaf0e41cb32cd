// Package symbol handles market symbol parsing and validation.
package symbol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Supported event categories.
const (
	CategoryPolitics = "POL"
	CategorySports   = "SPT"
	CategoryCrypto   = "CRY"
	CategoryMisc     = "MSC"
)

var validCategories = map[string]bool{
	CategoryPolitics: true,
	CategorySports:   true,
	CategoryCrypto:   true,
	CategoryMisc:     true,
}

// symbolRegex matches: FLIP-{category}-{slug}-{YYYYMMDD}
// Example: FLIP-POL-SENATE-FLIPS-20261103
var symbolRegex = regexp.MustCompile(
	`^FLIP-([A-Z]{3})-([A-Z0-9][A-Z0-9-]*)-(\d{8})$`,
)

var (
	ErrInvalidSymbol   = errors.New("symbol: invalid symbol format")
	ErrInvalidCategory = errors.New("symbol: unsupported category")
)

// Symbol represents a parsed market symbol.
type Symbol struct {
	Raw       string    `json:"raw"`
	Category  string    `json:"category"`
	Slug      string    `json:"slug"`
	CloseDate time.Time `json:"close_date"`
}

// Parse parses and validates a market symbol string.
// Format: FLIP-{category}-{slug}-{YYYYMMDD}
func Parse(raw string) (*Symbol, error) {
	matches := symbolRegex.FindStringSubmatch(raw)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s (expected FLIP-{category}-{slug}-{YYYYMMDD})",
			ErrInvalidSymbol, raw)
	}

	category := matches[1]
	slug := matches[2]
	dateStr := matches[3]

	if !validCategories[category] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCategory, category)
	}
	if strings.HasSuffix(slug, "-") {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSymbol, raw)
	}

	closeDate, err := time.Parse("20060102", dateStr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date %s", ErrInvalidSymbol, dateStr)
	}

	return &Symbol{
		Raw:       raw,
		Category:  category,
		Slug:      slug,
		CloseDate: closeDate,
	}, nil
}
