package domain

import (
	"strings"
)

// Condition is the physical condition of an item.
type Condition string

const (
	ConditionNew         Condition = "new"
	ConditionUsed        Condition = "used"
	ConditionRefurbished Condition = "refurbished"
	ConditionVintage     Condition = "vintage"
)

// ParseCondition maps free text onto a Condition. Grades such as
// "like new" or "good" collapse to used.
func ParseCondition(s string) (Condition, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "new", "brand new", "sealed":
		return ConditionNew, true
	case "used", "like new", "like_new", "excellent", "good", "fair", "poor", "pre-owned":
		return ConditionUsed, true
	case "refurbished", "renewed":
		return ConditionRefurbished, true
	case "vintage", "antique":
		return ConditionVintage, true
	}
	return "", false
}

// PriceQuote is a single market data point for an item.
type PriceQuote struct {
	Platform     string  `json:"platform"`
	Price        string  `json:"price"`
	Amount       float64 `json:"amount,omitempty"`
	Currency     string  `json:"currency"`
	URL          string  `json:"url"`
	Availability string  `json:"availability"`
}

// HasAmount reports whether the quote carries a numeric price rather
// than placeholder text.
func (q PriceQuote) HasAmount() bool {
	return q.Amount > 0
}

// ProductDraft accumulates listing fields over a conversation.
type ProductDraft struct {
	Title               string            `json:"title,omitempty"`
	Description         string            `json:"description,omitempty"`
	Category            string            `json:"category,omitempty"`
	Brand               string            `json:"brand,omitempty"`
	Condition           Condition         `json:"condition,omitempty"`
	Price               float64           `json:"price,omitempty"`
	Currency            string            `json:"currency,omitempty"`
	Images              []string          `json:"images,omitempty"`
	Tags                []string          `json:"tags,omitempty"`
	Specifications      map[string]string `json:"specifications,omitempty"`
	MarketPriceAnalysis []PriceQuote      `json:"market_price_analysis,omitempty"`
	SuggestedPrice      float64           `json:"suggested_price,omitempty"`
}

// Merge copies every non-empty field of patch onto d. Fields are never
// cleared, so the draft only grows.
func (d *ProductDraft) Merge(patch ProductDraft) {
	if patch.Title != "" {
		d.Title = patch.Title
	}
	if patch.Description != "" {
		d.Description = patch.Description
	}
	if patch.Category != "" {
		d.Category = patch.Category
	}
	if patch.Brand != "" {
		d.Brand = patch.Brand
	}
	if patch.Condition != "" {
		d.Condition = patch.Condition
	}
	if patch.Price > 0 {
		d.Price = patch.Price
	}
	if patch.Currency != "" {
		d.Currency = patch.Currency
	}
	for _, img := range patch.Images {
		d.AddImage(img)
	}
	if len(patch.Tags) > 0 {
		d.Tags = append([]string(nil), patch.Tags...)
	}
	for k, v := range patch.Specifications {
		d.SetSpecification(k, v)
	}
	if len(patch.MarketPriceAnalysis) > 0 {
		d.MarketPriceAnalysis = append([]PriceQuote(nil), patch.MarketPriceAnalysis...)
	}
	if patch.SuggestedPrice > 0 {
		d.SuggestedPrice = patch.SuggestedPrice
	}
}

// AddImage appends url unless it is empty or already present.
func (d *ProductDraft) AddImage(url string) {
	if url == "" {
		return
	}
	for _, existing := range d.Images {
		if existing == url {
			return
		}
	}
	d.Images = append(d.Images, url)
}

// SetSpecification records a free-form attribute such as size or color.
func (d *ProductDraft) SetSpecification(key, value string) {
	key = strings.TrimSpace(key)
	if key == "" || strings.TrimSpace(value) == "" {
		return
	}
	if d.Specifications == nil {
		d.Specifications = make(map[string]string)
	}
	d.Specifications[key] = value
}

// DefaultDescription is published when the seller never gave one.
const DefaultDescription = "No description provided"

// Missing lists the fields a draft needs before it can be listed. The
// description is optional and falls back to DefaultDescription.
func (d *ProductDraft) Missing() []string {
	if d == nil {
		return []string{"title", "category", "condition", "price"}
	}
	var missing []string
	if strings.TrimSpace(d.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(d.Category) == "" {
		missing = append(missing, "category")
	}
	if d.Condition == "" {
		missing = append(missing, "condition")
	}
	if d.Price <= 0 {
		missing = append(missing, "price")
	}
	return missing
}

// Clone returns a deep copy of d.
func (d *ProductDraft) Clone() *ProductDraft {
	if d == nil {
		return nil
	}
	out := *d
	out.Images = append([]string(nil), d.Images...)
	out.Tags = append([]string(nil), d.Tags...)
	out.MarketPriceAnalysis = append([]PriceQuote(nil), d.MarketPriceAnalysis...)
	if d.Specifications != nil {
		out.Specifications = make(map[string]string, len(d.Specifications))
		for k, v := range d.Specifications {
			out.Specifications[k] = v
		}
	}
	return &out
}

// ImageAnalysis is the structured reading of a product photo.
type ImageAnalysis struct {
	ProductName     string    `json:"product_name"`
	Brand           string    `json:"brand,omitempty"`
	Category        string    `json:"category"`
	Characteristics []string  `json:"characteristics"`
	Confidence      float64   `json:"confidence"`
	Condition       Condition `json:"condition,omitempty"`
	SuggestedPrice  float64   `json:"suggested_price,omitempty"`
	Tags            []string  `json:"tags,omitempty"`
	// Recovery names the parsing stage that produced this result.
	Recovery string `json:"recovery,omitempty"`
}

// ProductAnalysis bundles an image analysis with the market research
// gathered for it.
type ProductAnalysis struct {
	Image       ImageAnalysis `json:"image_analysis"`
	Quotes      []PriceQuote  `json:"price_comparison"`
	SearchQuery string        `json:"search_query"`
}
