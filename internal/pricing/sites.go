package pricing

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ashureev/snaplist/internal/domain"
)

type site struct {
	fetcher *Fetcher
	baseURL string
}

// SiteOption customizes a scraped site.
type SiteOption func(*site)

// WithBaseURL points a site at a different host, e.g. a test server.
func WithBaseURL(u string) SiteOption {
	return func(s *site) { s.baseURL = strings.TrimSuffix(u, "/") }
}

func newSite(f *Fetcher, base string, opts []SiteOption) site {
	s := site{fetcher: f, baseURL: base}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Amazon scrapes amazon.com search results.
type Amazon struct{ site }

// NewAmazon creates the Amazon source.
func NewAmazon(f *Fetcher, opts ...SiteOption) *Amazon {
	return &Amazon{newSite(f, "https://www.amazon.com", opts)}
}

// Name implements Source.
func (a *Amazon) Name() string { return "amazon" }

// Fetch implements Source.
func (a *Amazon) Fetch(ctx context.Context, query string) ([]domain.PriceQuote, error) {
	searchURL := a.baseURL + "/s?k=" + url.QueryEscape(query)
	doc, err := a.fetcher.Document(ctx, searchURL)
	if err != nil {
		return nil, err
	}

	var out []domain.PriceQuote
	cards := []string{
		`[data-component-type="s-search-result"]`,
		".s-result-item",
		`[data-asin]:not([data-asin=""])`,
		".sg-col-inner .s-widget-container",
	}
	eachCard(doc, cards, 3, func(card *goquery.Selection) bool {
		title := firstText(card, "h2 a span", `[data-cy="title-recipe-title"]`, ".s-title-instructions-style", "h2")
		amount, ok := amazonPrice(card)
		if title == "" || !ok {
			return false
		}
		link := absoluteURL(a.baseURL, firstAttr(card, "href", "h2 a", ".s-link-style a", "a.a-link-normal"))
		if link == "" {
			link = searchURL
		}
		out = append(out, quote("Amazon", amount, link, "Available"))
		return true
	})
	return out, nil
}

func amazonPrice(card *goquery.Selection) (float64, bool) {
	if text := firstText(card, ".a-price .a-offscreen"); text != "" {
		return ParseAmount(text)
	}
	whole := strings.TrimSuffix(firstText(card, ".a-price-whole"), ".")
	if whole != "" {
		if fraction := firstText(card, ".a-price-fraction"); fraction != "" {
			return ParseAmount(whole + "." + fraction)
		}
		return ParseAmount(whole)
	}
	if text := firstText(card, ".a-price-range", ".a-color-price"); text != "" {
		return ParseAmount(text)
	}
	if attr := firstAttr(card, "data-a-price", "[data-a-price]"); attr != "" {
		return ParseAmount(attr)
	}
	return 0, false
}

// Ebay scrapes ebay.com search results.
type Ebay struct{ site }

// NewEbay creates the eBay source.
func NewEbay(f *Fetcher, opts ...SiteOption) *Ebay {
	return &Ebay{newSite(f, "https://www.ebay.com", opts)}
}

// Name implements Source.
func (e *Ebay) Name() string { return "ebay" }

// Fetch implements Source.
func (e *Ebay) Fetch(ctx context.Context, query string) ([]domain.PriceQuote, error) {
	searchURL := fmt.Sprintf("%s/sch/i.html?_nkw=%s&_sacat=0", e.baseURL, url.QueryEscape(query))
	doc, err := e.fetcher.Document(ctx, searchURL)
	if err != nil {
		return nil, err
	}

	var out []domain.PriceQuote
	cards := []string{".srp-results .s-item", ".s-item", ".srp-results .s-card", ".s-card"}
	eachCard(doc, cards, 3, func(card *goquery.Selection) bool {
		title := firstText(card, ".s-item__title", ".s-item__title-text", ".s-card__title")
		// eBay pads results with a "Shop on eBay" placeholder card.
		if title == "" || strings.Contains(strings.ToLower(title), "shop on ebay") {
			return false
		}
		amount, ok := ParseAmount(firstText(card, ".s-item__price", ".s-card__price", ".notranslate"))
		if !ok {
			return false
		}
		link := firstAttr(card, "href", ".s-item__link", "a")
		if link == "" {
			link = searchURL
		}
		out = append(out, quote("eBay", amount, absoluteURL(e.baseURL, link), "Available"))
		return true
	})
	return out, nil
}

var whitespace = regexp.MustCompile(`\s+`)

// AliExpress scrapes aliexpress.com wholesale search. It is slower than
// the others and gets a shorter timeout.
type AliExpress struct{ site }

// NewAliExpress creates the AliExpress source.
func NewAliExpress(f *Fetcher, opts ...SiteOption) *AliExpress {
	return &AliExpress{newSite(f, "https://www.aliexpress.com", opts)}
}

// Name implements Source.
func (a *AliExpress) Name() string { return "aliexpress" }

// Fetch implements Source.
func (a *AliExpress) Fetch(ctx context.Context, query string) ([]domain.PriceQuote, error) {
	slug := whitespace.ReplaceAllString(strings.TrimSpace(query), "-")
	searchURL := a.baseURL + "/w/wholesale-" + url.PathEscape(slug) + ".html"
	doc, err := a.fetcher.Document(ctx, searchURL)
	if err != nil {
		return nil, err
	}

	var out []domain.PriceQuote
	cards := []string{".search-item-card", ".search-card-item", ".item"}
	eachCard(doc, cards, 2, func(card *goquery.Selection) bool {
		title := firstText(card, ".search-card-item__titles", ".item-title", "h3", "h1")
		if len(title) <= 5 {
			return false
		}
		amount, ok := ParseAmount(firstText(card, ".search-card-item__prices", ".price-current", ".price"))
		if !ok {
			return false
		}
		out = append(out, quote("AliExpress", amount, searchURL, "Available"))
		return true
	})
	return out, nil
}

// Comparator scrapes a generic price comparison site with broad selectors.
type Comparator struct {
	site
	name     string
	platform string
	path     func(query string) string
}

// NewPriceGrabber creates the PriceGrabber comparator.
func NewPriceGrabber(f *Fetcher, opts ...SiteOption) *Comparator {
	return &Comparator{
		site:     newSite(f, "https://www.pricegrabber.com", opts),
		name:     "pricegrabber",
		platform: "PriceGrabber",
		path: func(q string) string {
			return "/search_getprod.php?masterid=&search=" + url.QueryEscape(q)
		},
	}
}

// NewShoppingCom creates the Shopping.com comparator.
func NewShoppingCom(f *Fetcher, opts ...SiteOption) *Comparator {
	return &Comparator{
		site:     newSite(f, "https://www.shopping.com", opts),
		name:     "shopping.com",
		platform: "Shopping.com",
		path: func(q string) string {
			return "/products?KW=" + url.QueryEscape(q)
		},
	}
}

// Name implements Source.
func (c *Comparator) Name() string { return c.name }

// Fetch implements Source.
func (c *Comparator) Fetch(ctx context.Context, query string) ([]domain.PriceQuote, error) {
	searchURL := c.baseURL + c.path(query)
	doc, err := c.fetcher.Document(ctx, searchURL)
	if err != nil {
		return nil, err
	}

	var out []domain.PriceQuote
	cards := []string{".product-item, .product, .listing-item"}
	eachCard(doc, cards, 2, func(card *goquery.Selection) bool {
		title := firstText(card, ".title", ".product-name", ".name")
		if len(title) <= 5 {
			return false
		}
		amount, ok := ParseAmount(firstText(card, ".price", ".cost", ".amount"))
		if !ok {
			return false
		}
		link := absoluteURL(c.baseURL, firstAttr(card, "href", "a"))
		if link == "" {
			link = searchURL
		}
		out = append(out, quote(c.platform, amount, link, "Check availability"))
		return true
	})
	return out, nil
}
