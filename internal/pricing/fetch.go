package pricing

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

var userAgents = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

var blockedMarkers = []string{
	"robot check",
	"captcha",
	"enter the characters you see",
	"verify you are human",
	"unusual traffic",
	"access denied",
}

// Fetcher downloads HTML pages the way a browser would.
type Fetcher struct {
	client *resty.Client
	pickUA func() string
}

// NewFetcher creates a fetcher whose requests give up after timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	client := resty.New().
		SetTimeout(timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5)).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8").
		SetHeader("Accept-Language", "en-US,en;q=0.5").
		SetHeader("Connection", "keep-alive").
		SetHeader("Upgrade-Insecure-Requests", "1").
		SetHeader("Cache-Control", "no-cache")

	return &Fetcher{
		client: client,
		pickUA: func() string { return userAgents[rand.IntN(len(userAgents))] },
	}
}

// Document fetches url and parses it. Bot-check pages return ErrBlocked.
func (f *Fetcher) Document(ctx context.Context, url string) (*goquery.Document, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		SetHeader("User-Agent", f.pickUA()).
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}

	doc, parseErr := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body()))
	if resp.IsError() {
		if parseErr == nil && IsBlocked(doc) {
			return nil, ErrBlocked
		}
		return nil, fmt.Errorf("get %s: unexpected status %d", url, resp.StatusCode())
	}
	if parseErr != nil {
		return nil, fmt.Errorf("parse %s: %w", url, parseErr)
	}
	if IsBlocked(doc) {
		return nil, ErrBlocked
	}
	return doc, nil
}

// IsBlocked reports whether the visible text of doc carries a known
// CAPTCHA or robot-check marker.
func IsBlocked(doc *goquery.Document) bool {
	text := strings.ToLower(visibleText(doc))
	for _, marker := range blockedMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

func visibleText(doc *goquery.Document) string {
	clone := doc.Clone()
	clone.Find("script, style, noscript, template").Remove()
	return clone.Find("title").Text() + " " + clone.Find("body").Text()
}

// firstText returns the trimmed text of the first match among selectors,
// tried in order.
func firstText(s *goquery.Selection, selectors ...string) string {
	for _, sel := range selectors {
		if text := strings.TrimSpace(s.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

// firstAttr returns the first non-empty attribute value among selectors.
func firstAttr(s *goquery.Selection, attr string, selectors ...string) string {
	for _, sel := range selectors {
		if v, ok := s.Find(sel).First().Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// eachCard walks the first selector that matches anything, stopping after
// limit accepted cards. visit returns true when it accepted a card.
func eachCard(doc *goquery.Document, selectors []string, limit int, visit func(*goquery.Selection) bool) {
	for _, sel := range selectors {
		cards := doc.Find(sel)
		if cards.Length() == 0 {
			continue
		}
		accepted := 0
		cards.EachWithBreak(func(_ int, card *goquery.Selection) bool {
			if visit(card) {
				accepted++
			}
			return accepted < limit
		})
		return
	}
}

func absoluteURL(base, href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	if strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(href, "/")
}
