// Package listing drives the guided listing conversation: the tool
// protocol, per-step prompts, the step machine, and the turn engine.
package listing

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ashureev/snaplist/internal/domain"
	"github.com/ashureev/snaplist/internal/llm"
	"github.com/ashureev/snaplist/internal/metrics"
	"github.com/ashureev/snaplist/internal/structured"
)

// Tool names as exposed to the model.
const (
	ToolProposeListing       = "propose_listing"
	ToolAskForAdditionalInfo = "ask_for_additional_info"
	ToolFinalizeListing      = "finalize_listing"
)

// Amount accepts 45.5, "45.50" or "$45.50".
type Amount float64

// UnmarshalJSON implements json.Unmarshaler.
func (a *Amount) UnmarshalJSON(b []byte) error {
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		*a = Amount(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	s = strings.TrimSpace(strings.NewReplacer("$", "", ",", "").Replace(s))
	if s == "" {
		*a = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("amount %q: %w", s, err)
	}
	*a = Amount(n)
	return nil
}

// ToolCall is the closed set of tool invocations the model can make.
type ToolCall interface {
	ToolName() string
	isToolCall()
}

// ProposeListing is the model's first listing proposal.
type ProposeListing struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	EstimatedPrice Amount   `json:"estimatedPrice"`
	Category       string   `json:"category"`
	Condition      string   `json:"condition"`
	Brand          string   `json:"brand,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	Reasoning      string   `json:"reasoning,omitempty"`
}

// AskForAdditionalInfo asks the seller targeted questions.
type AskForAdditionalInfo struct {
	Questions      []string       `json:"questions"`
	CurrentListing map[string]any `json:"currentListing,omitempty"`
}

// ListingFields are the fields of a finalized listing.
type ListingFields struct {
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Price          Amount         `json:"price"`
	Category       string         `json:"category"`
	Condition      string         `json:"condition"`
	Brand          string         `json:"brand,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	Specifications map[string]any `json:"specifications,omitempty"`
}

// FinalizeListing presents the complete listing for confirmation.
type FinalizeListing struct {
	FinalListing ListingFields `json:"finalListing"`
	Summary      string        `json:"summary"`
}

// UnknownTool is any tool name outside the protocol.
type UnknownTool struct {
	Name      string
	Arguments string
}

func (ProposeListing) ToolName() string       { return ToolProposeListing }
func (AskForAdditionalInfo) ToolName() string { return ToolAskForAdditionalInfo }
func (FinalizeListing) ToolName() string      { return ToolFinalizeListing }
func (u UnknownTool) ToolName() string        { return u.Name }

func (ProposeListing) isToolCall()       {}
func (AskForAdditionalInfo) isToolCall() {}
func (FinalizeListing) isToolCall()      {}
func (UnknownTool) isToolCall()          {}

func (p ProposeListing) patch() domain.ProductDraft {
	d := domain.ProductDraft{
		Title:          strings.TrimSpace(p.Title),
		Description:    strings.TrimSpace(p.Description),
		Category:       strings.TrimSpace(p.Category),
		Brand:          strings.TrimSpace(p.Brand),
		Price:          float64(p.EstimatedPrice),
		SuggestedPrice: float64(p.EstimatedPrice),
		Tags:           p.Tags,
	}
	d.Condition, _ = domain.ParseCondition(p.Condition)
	return d
}

func (f ListingFields) patch() domain.ProductDraft {
	d := domain.ProductDraft{
		Title:       strings.TrimSpace(f.Title),
		Description: strings.TrimSpace(f.Description),
		Category:    strings.TrimSpace(f.Category),
		Brand:       strings.TrimSpace(f.Brand),
		Price:       float64(f.Price),
		Tags:        f.Tags,
	}
	d.Condition, _ = domain.ParseCondition(f.Condition)
	for k, v := range f.Specifications {
		if v == nil {
			continue
		}
		d.SetSpecification(k, fmt.Sprint(v))
	}
	return d
}

// DecodeToolCall turns a raw model tool call into a ToolCall. Payloads
// that do not parse are scraped field by field rather than rejected; the
// returned stage says which path was taken.
func DecodeToolCall(raw llm.RawToolCall) (ToolCall, structured.Stage) {
	var (
		call  ToolCall
		stage structured.Stage
	)
	switch raw.Name {
	case ToolProposeListing:
		var p ProposeListing
		var err error
		if stage, err = structured.Parse(raw.Arguments, &p); err != nil {
			p, stage = scrapeProposal(raw.Arguments), structured.StageExtracted
		}
		call = p
	case ToolAskForAdditionalInfo:
		var a AskForAdditionalInfo
		var err error
		if stage, err = structured.Parse(raw.Arguments, &a); err != nil {
			a, stage = AskForAdditionalInfo{Questions: structured.ListField(raw.Arguments, "questions")}, structured.StageExtracted
		}
		call = a
	case ToolFinalizeListing:
		var f FinalizeListing
		var err error
		if stage, err = structured.Parse(raw.Arguments, &f); err != nil {
			f, stage = scrapeFinal(raw.Arguments), structured.StageExtracted
		}
		call = f
	default:
		return UnknownTool{Name: raw.Name, Arguments: raw.Arguments}, structured.StageStrict
	}
	metrics.ToolCallDecodes.WithLabelValues(raw.Name, string(stage)).Inc()
	return call, stage
}

func scrapeProposal(args string) ProposeListing {
	p := ProposeListing{Tags: structured.ListField(args, "tags")}
	p.Title, _ = structured.Field(args, "title")
	p.Description, _ = structured.Field(args, "description")
	p.Category, _ = structured.Field(args, "category")
	p.Condition, _ = structured.Field(args, "condition")
	p.Brand, _ = structured.Field(args, "brand")
	p.Reasoning, _ = structured.Field(args, "reasoning")
	if n, ok := structured.NumberField(args, "estimatedPrice"); ok {
		p.EstimatedPrice = Amount(n)
	}
	return p
}

func scrapeFinal(args string) FinalizeListing {
	f := FinalizeListing{FinalListing: ListingFields{Tags: structured.ListField(args, "tags")}}
	f.FinalListing.Title, _ = structured.Field(args, "title")
	f.FinalListing.Description, _ = structured.Field(args, "description")
	f.FinalListing.Category, _ = structured.Field(args, "category")
	f.FinalListing.Condition, _ = structured.Field(args, "condition")
	f.FinalListing.Brand, _ = structured.Field(args, "brand")
	if n, ok := structured.NumberField(args, "price"); ok {
		f.FinalListing.Price = Amount(n)
	}
	f.Summary, _ = structured.Field(args, "summary")
	return f
}

func schema(properties map[string]any, required ...string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func str(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

var conditionEnum = map[string]any{
	"type": "string",
	"enum": []string{"new", "used", "refurbished", "vintage"},
}

var stringList = map[string]any{"type": "array", "items": map[string]any{"type": "string"}}

var toolDefs = map[string]llm.Tool{
	ToolProposeListing: {
		Name:        ToolProposeListing,
		Description: "Propose a listing with estimated price and basic details after analyzing the product image",
		Parameters: schema(map[string]any{
			"title":          str("Product title"),
			"description":    str("Product description"),
			"estimatedPrice": map[string]any{"type": "number", "description": "Estimated price in USD"},
			"category":       str("Product category"),
			"condition":      conditionEnum,
			"brand":          str("Product brand if identifiable"),
			"tags":           stringList,
			"reasoning":      str("Brief explanation of the price estimation"),
		}, "title", "description", "estimatedPrice", "category", "condition"),
	},
	ToolAskForAdditionalInfo: {
		Name:        ToolAskForAdditionalInfo,
		Description: "Ask user for specific additional information to improve the listing",
		Parameters: schema(map[string]any{
			"questions":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Specific questions to ask the user"},
			"currentListing": map[string]any{"type": "object", "description": "Current listing data"},
		}, "questions"),
	},
	ToolFinalizeListing: {
		Name:        ToolFinalizeListing,
		Description: "Show final listing summary and ask for confirmation to list the product",
		Parameters: schema(map[string]any{
			"finalListing": schema(map[string]any{
				"title":          map[string]any{"type": "string"},
				"description":    map[string]any{"type": "string"},
				"price":          map[string]any{"type": "number"},
				"category":       map[string]any{"type": "string"},
				"condition":      conditionEnum,
				"brand":          map[string]any{"type": "string"},
				"tags":           stringList,
				"specifications": map[string]any{"type": "object"},
			}, "title", "description", "price", "category", "condition"),
			"summary": str("Human-readable summary of the listing"),
		}, "finalListing", "summary"),
	},
}
