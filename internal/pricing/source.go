// Package pricing gathers market prices for an item from several
// independent sources and always returns something usable.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/ashureev/snaplist/internal/domain"
)

// Source fetches price quotes for a free-text query.
type Source interface {
	Name() string
	Fetch(ctx context.Context, query string) ([]domain.PriceQuote, error)
}

// ErrBlocked means the site answered with a bot check instead of results.
// Callers treat it as an empty result.
var ErrBlocked = errors.New("blocked by anti-bot page")

// SourceFunc adapts a function into a Source.
type SourceFunc struct {
	SourceName string
	Fn         func(ctx context.Context, query string) ([]domain.PriceQuote, error)
}

// Name implements Source.
func (s SourceFunc) Name() string { return s.SourceName }

// Fetch implements Source.
func (s SourceFunc) Fetch(ctx context.Context, query string) ([]domain.PriceQuote, error) {
	return s.Fn(ctx, query)
}

var amountPattern = regexp.MustCompile(`\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?`)

// ParseAmount pulls the first price-looking number out of s, so
// "$1,299.00 to $1,499.00" yields 1299.
func ParseAmount(s string) (float64, bool) {
	m := amountPattern.FindString(s)
	if m == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// FormatPrice renders an amount for display: whole numbers without cents.
func FormatPrice(amount float64) string {
	if amount == math.Trunc(amount) {
		return fmt.Sprintf("$%.0f", amount)
	}
	return fmt.Sprintf("$%.2f", amount)
}

func quote(platform string, amount float64, url, availability string) domain.PriceQuote {
	return domain.PriceQuote{
		Platform:     platform,
		Price:        fmt.Sprintf("$%.2f", amount),
		Amount:       amount,
		Currency:     "USD",
		URL:          url,
		Availability: availability,
	}
}
