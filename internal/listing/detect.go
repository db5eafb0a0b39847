package listing

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ashureev/snaplist/internal/domain"
)

// ErrIncompleteDraft is returned when a draft lacks required fields.
var ErrIncompleteDraft = errors.New("listing draft is incomplete")

const amountPattern = `\$?\s*(\d[\d,]*(?:\.\d+)?)`

// Checked in order; the first match wins.
var pricePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\blist\b.*?\bfor\s+` + amountPattern),
	regexp.MustCompile(`(?i)\bprice\b.*?\bat\s+` + amountPattern),
	regexp.MustCompile(`(?i)\bsell\b.*?\bfor\s+` + amountPattern),
}

// ExtractPrice finds an explicit price instruction such as
// "list it for $45.50" or "set the price at 30".
func ExtractPrice(text string) (float64, bool) {
	for _, re := range pricePatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil || v <= 0 {
			return 0, false
		}
		return v, true
	}
	return 0, false
}

var (
	confirmPattern = regexp.MustCompile(`(?i)\b(yes|yeah|yep|yup|sure|ok|okay|confirm|confirmed|proceed|go ahead|` +
		`list it|sell it|post it|publish|publish it|let'?s do it|do it|create (the )?listing|sounds good|looks good)\b`)
	negationPattern = regexp.MustCompile(`(?i)(^\s*no\b|\b(don'?t|do not|not yet|not now|never|hold on|cancel|wait)\b)`)
)

// IsConfirmation reports whether text approves publishing. Any negation
// wins over a confirmation keyword.
func IsConfirmation(text string) bool {
	if negationPattern.MatchString(text) {
		return false
	}
	return confirmPattern.MatchString(text)
}

// Validate returns ErrIncompleteDraft naming the missing fields.
func Validate(d *domain.ProductDraft) error {
	if missing := d.Missing(); len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrIncompleteDraft, strings.Join(missing, ", "))
	}
	return nil
}
