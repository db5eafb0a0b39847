package pricing

import (
	"context"
	"net/url"

	"github.com/ashureev/snaplist/internal/domain"
)

// StaticName is the name of the terminal fallback stage.
const StaticName = "static"

// StaticLinks returns retailer and search-engine links for query. It does
// no I/O and always returns the same set for the same query.
func StaticLinks(query string) []domain.PriceQuote {
	q := url.QueryEscape(query)
	link := func(platform, u, availability string) domain.PriceQuote {
		return domain.PriceQuote{
			Platform:     platform,
			Price:        "Search for prices",
			Currency:     "USD",
			URL:          u,
			Availability: availability,
		}
	}
	return []domain.PriceQuote{
		link("Google Shopping", "https://www.google.com/search?q="+q+"&tbm=shop", "Multiple stores"),
		link("Amazon", "https://www.amazon.com/s?k="+q, "Check website"),
		link("eBay", "https://www.ebay.com/sch/i.html?_nkw="+q, "Check website"),
		link("Walmart", "https://www.walmart.com/search/?query="+q, "Check website"),
		link("Target", "https://www.target.com/s?searchTerm="+q, "Check website"),
		link("Best Buy", "https://www.bestbuy.com/site/searchpage.jsp?st="+q, "Check website"),
	}
}

// Static is StaticLinks as a Source.
type Static struct{}

// Name implements Source.
func (Static) Name() string { return StaticName }

// Fetch implements Source.
func (Static) Fetch(_ context.Context, query string) ([]domain.PriceQuote, error) {
	return StaticLinks(query), nil
}
