package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/ashureev/snaplist/internal/domain"
	"github.com/ashureev/snaplist/internal/llm"
	"github.com/ashureev/snaplist/internal/structured"
)

const (
	maxEstimates     = 6
	maxLooseEstimate = 4
)

// ModelEstimator asks a general knowledge model for typical retail prices.
// It is used only when every scraper came back empty.
type ModelEstimator struct {
	model  llm.ConversationModel
	logger *slog.Logger
}

// NewModelEstimator creates the estimator.
func NewModelEstimator(model llm.ConversationModel, logger *slog.Logger) *ModelEstimator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelEstimator{model: model, logger: logger}
}

// Name implements Source.
func (e *ModelEstimator) Name() string { return "model_estimate" }

const estimatorSystemPrompt = "You are a product pricing expert. Estimate realistic current retail and resale prices from your knowledge of typical market pricing."

func estimatorPrompt(query string) string {
	return fmt.Sprintf(`Analyze this product query and provide realistic price estimates with reliable sources: %q

Return your response in this JSON format:
{
  "results": [
    {
      "platform": "Amazon",
      "price": "$19.99",
      "currency": "USD",
      "url": "https://www.amazon.com/s?k=%s",
      "availability": "Likely available"
    }
  ]
}

Guidelines:
- Include 4-6 major retailers (Amazon, eBay, Walmart, Target, Best Buy, etc.)
- Include both new and used/refurbished options when applicable
- Provide actual search URLs for each retailer
- Be conservative with price estimates`, query, url.QueryEscape(query))
}

// flexPrice accepts "$19.99" or 19.99.
type flexPrice string

func (p *flexPrice) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*p = flexPrice(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*p = flexPrice(n.String())
	return nil
}

type estimateReply struct {
	Results []struct {
		Platform     string    `json:"platform"`
		Price        flexPrice `json:"price"`
		Currency     string    `json:"currency"`
		URL          string    `json:"url"`
		Availability string    `json:"availability"`
	} `json:"results"`
}

// Fetch implements Source.
func (e *ModelEstimator) Fetch(ctx context.Context, query string) ([]domain.PriceQuote, error) {
	out, err := e.model.Complete(ctx, llm.Request{
		SystemPrompt: estimatorSystemPrompt,
		History:      []llm.Message{{Role: string(domain.RoleUser), Content: estimatorPrompt(query)}},
		ToolChoice:   llm.None(),
	})
	if err != nil {
		return nil, fmt.Errorf("estimate prices: %w", err)
	}
	return e.parse(query, out.Text), nil
}

func (e *ModelEstimator) parse(query, text string) []domain.PriceQuote {
	var reply estimateReply
	stage, err := structured.Parse(text, &reply)
	if err == nil {
		var quotes []domain.PriceQuote
		for _, r := range reply.Results {
			amount, ok := ParseAmount(string(r.Price))
			if strings.TrimSpace(r.Platform) == "" || !ok {
				continue
			}
			q := quote(strings.TrimSpace(r.Platform), amount, r.URL, r.Availability)
			if r.Currency != "" {
				q.Currency = r.Currency
			}
			if q.URL == "" {
				q.URL = googleShopping(query)
			}
			if q.Availability == "" {
				q.Availability = "Estimated"
			}
			quotes = append(quotes, q)
			if len(quotes) == maxEstimates {
				break
			}
		}
		if len(quotes) > 0 {
			e.logger.Debug("Model price estimate parsed", "stage", stage, "count", len(quotes))
			return quotes
		}
	}

	quotes := ParseLooseEstimates(query, text)
	e.logger.Info("Model price estimate fell back to text parsing", "count", len(quotes))
	return quotes
}

var loosePrice = regexp.MustCompile(`\$\s?(\d[\d,]*(?:\.\d+)?)`)
var listMarker = regexp.MustCompile(`^[\s\-*•\d.)]+`)

// ParseLooseEstimates reads lines such as "Amazon: about $24.99" out of
// free text, returning at most four quotes.
func ParseLooseEstimates(query, text string) []domain.PriceQuote {
	var out []domain.PriceQuote
	for _, line := range strings.Split(text, "\n") {
		m := loosePrice.FindStringSubmatchIndex(line)
		if m == nil {
			continue
		}
		amount, ok := ParseAmount(line[m[2]:m[3]])
		if !ok {
			continue
		}
		platform := loosePlatform(line[:m[0]])
		if platform == "" {
			continue
		}
		out = append(out, quote(platform, amount, platformSearchURL(platform, query), "Estimated"))
		if len(out) == maxLooseEstimate {
			break
		}
	}
	return out
}

func loosePlatform(prefix string) string {
	prefix = listMarker.ReplaceAllString(prefix, "")
	if i := strings.IndexAny(prefix, ":–—"); i >= 0 {
		prefix = prefix[:i]
	} else if fields := strings.Fields(prefix); len(fields) > 0 {
		prefix = fields[0]
	}
	return strings.Trim(strings.TrimSpace(prefix), "*_-")
}

func platformSearchURL(platform, query string) string {
	host := strings.ToLower(strings.ReplaceAll(platform, " ", ""))
	return "https://www." + url.PathEscape(host) + ".com/search?q=" + url.QueryEscape(query)
}

func googleShopping(query string) string {
	return "https://www.google.com/search?q=" + url.QueryEscape(query) + "&tbm=shop"
}
