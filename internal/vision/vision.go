// Package vision turns product photos into structured listing hints.
package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/ashureev/snaplist/internal/domain"
	"github.com/ashureev/snaplist/internal/llm"
	"github.com/ashureev/snaplist/internal/metrics"
	"github.com/ashureev/snaplist/internal/structured"
	"github.com/sashabaranov/go-openai"
)

// Analyzer reads a product photo.
type Analyzer interface {
	Analyze(ctx context.Context, image []byte, mimeType string) (*domain.ImageAnalysis, error)
}

// ErrEmptyImage is returned for zero-length uploads.
var ErrEmptyImage = errors.New("empty image")

const analysisPrompt = `Analyze this image for marketplace listing purposes. Identify the product and provide detailed information for selling. You must respond with ONLY valid JSON in this exact format:

{
  "brand": "brand name or null if not visible",
  "productName": "specific product name or description",
  "category": "product category (electronics, clothing, books, home, toys, sports, accessories, etc.)",
  "characteristics": ["color", "size", "material", "style", "condition indicators", "other features"],
  "confidence": 0.85,
  "condition": "new|used|refurbished|vintage",
  "suggestedPrice": 25.99,
  "tags": ["relevant", "searchable", "keywords"]
}

Focus on:
- Accurate product identification for marketplace listing
- Visible condition assessment (new, used, vintage, etc.)
- Realistic price suggestion based on product type and apparent condition
- SEO-friendly tags for searchability
- Detailed characteristics that buyers would want to know

Do not include any text before or after the JSON.`

// OpenAIAnalyzer calls a vision-capable chat model.
type OpenAIAnalyzer struct {
	client    *openai.Client
	model     string
	maxTokens int
	logger    *slog.Logger
}

// NewOpenAIAnalyzer creates an analyzer for cfg.Model.
func NewOpenAIAnalyzer(cfg llm.Config, logger *slog.Logger) *OpenAIAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4o
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 800
	}
	return &OpenAIAnalyzer{
		client:    llm.NewClient(cfg),
		model:     cfg.Model,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

// Analyze sends the image as a data URL and decodes the reply. A reply
// that cannot be parsed still yields a low-confidence result.
func (a *OpenAIAnalyzer) Analyze(ctx context.Context, image []byte, mimeType string) (*domain.ImageAnalysis, error) {
	if len(image) == 0 {
		return nil, ErrEmptyImage
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(image)
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image))

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: analysisPrompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURL,
					Detail: openai.ImageURLDetailAuto,
				}},
			},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("analyze image: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, fmt.Errorf("analyze image: %w", llm.ErrEmptyResponse)
	}

	result := Decode(resp.Choices[0].Message.Content)
	metrics.ImageAnalyses.WithLabelValues(result.Recovery).Inc()
	if result.Recovery != string(structured.StageStrict) {
		a.logger.Warn("Image analysis needed recovery",
			"stage", result.Recovery,
			"confidence", result.Confidence)
	}
	return result, nil
}

type rawAnalysis struct {
	Brand           *string  `json:"brand"`
	ProductName     string   `json:"productName"`
	Category        string   `json:"category"`
	Characteristics []string `json:"characteristics"`
	Confidence      float64  `json:"confidence"`
	Condition       string   `json:"condition"`
	SuggestedPrice  float64  `json:"suggestedPrice"`
	Tags            []string `json:"tags"`
}

const (
	extractedConfidence   = 0.5
	placeholderConfidence = 0.3
	placeholderNameLength = 100
)

var brandPattern = regexp.MustCompile(`(?i)brand["':]*\s*["']?([^"',\n}]+)["']?`)

// Decode converts model output into an ImageAnalysis through bounded
// recovery: strict parse, repaired parse, field scraping, and finally a
// placeholder. It never fails; Recovery records the stage reached.
func Decode(content string) *domain.ImageAnalysis {
	var raw rawAnalysis
	stage, err := structured.Parse(content, &raw)
	if err == nil && raw.ProductName != "" && raw.Category != "" {
		return fromRaw(raw, stage)
	}

	if name, ok := structured.Field(content, "productName"); ok {
		out := &domain.ImageAnalysis{
			ProductName:     name,
			Category:        "unknown",
			Characteristics: structured.ListField(content, "characteristics"),
			Confidence:      extractedConfidence,
			Tags:            structured.ListField(content, "tags"),
			Recovery:        string(structured.StageExtracted),
		}
		if category, ok := structured.Field(content, "category"); ok {
			out.Category = category
		}
		if brand, ok := structured.Field(content, "brand"); ok {
			out.Brand = brand
		}
		if cond, ok := structured.Field(content, "condition"); ok {
			out.Condition, _ = domain.ParseCondition(cond)
		}
		if price, ok := structured.NumberField(content, "suggestedPrice"); ok && price > 0 {
			out.SuggestedPrice = price
		}
		return out
	}

	return placeholder(content)
}

func fromRaw(raw rawAnalysis, stage structured.Stage) *domain.ImageAnalysis {
	out := &domain.ImageAnalysis{
		ProductName:     strings.TrimSpace(raw.ProductName),
		Category:        strings.TrimSpace(raw.Category),
		Characteristics: raw.Characteristics,
		Confidence:      raw.Confidence,
		SuggestedPrice:  raw.SuggestedPrice,
		Tags:            raw.Tags,
		Recovery:        string(stage),
	}
	if raw.Brand != nil && !strings.EqualFold(strings.TrimSpace(*raw.Brand), "null") {
		out.Brand = strings.TrimSpace(*raw.Brand)
	}
	if c, ok := domain.ParseCondition(raw.Condition); ok {
		out.Condition = c
	}
	if out.Confidence <= 0 || out.Confidence > 1 {
		out.Confidence = extractedConfidence
	}
	return out
}

func placeholder(content string) *domain.ImageAnalysis {
	name := content
	if runes := []rune(name); len(runes) > placeholderNameLength {
		name = string(runes[:placeholderNameLength])
	}
	name = strings.TrimSpace(strings.NewReplacer("{", "", "}", "", `"`, "").Replace(name))
	if name == "" {
		name = "Unidentified item"
	}

	out := &domain.ImageAnalysis{
		ProductName:     name,
		Category:        "unknown",
		Characteristics: []string{"Unable to parse detailed characteristics"},
		Confidence:      placeholderConfidence,
		Recovery:        string(structured.StagePlaceholder),
	}
	if m := brandPattern.FindStringSubmatch(content); m != nil {
		out.Brand = strings.TrimSpace(m[1])
	}
	return out
}

// SearchQuery builds a price search query from an analysis: brand, product
// name, then up to three characteristics.
func SearchQuery(a *domain.ImageAnalysis) string {
	if a == nil {
		return ""
	}
	var parts []string
	if a.Brand != "" {
		parts = append(parts, a.Brand)
	}
	if a.ProductName != "" {
		parts = append(parts, a.ProductName)
	}
	chars := a.Characteristics
	if a.Recovery == string(structured.StagePlaceholder) {
		chars = nil
	}
	if len(chars) > 3 {
		chars = chars[:3]
	}
	parts = append(parts, chars...)
	return strings.TrimSpace(strings.Join(parts, " "))
}
