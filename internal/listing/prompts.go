package listing

import (
	"fmt"
	"strings"

	"github.com/ashureev/snaplist/internal/domain"
	"github.com/ashureev/snaplist/internal/llm"
)

const defaultPrompt = "You are a helpful marketplace assistant that helps users list their products for sale."

var systemPrompts = map[domain.Step]string{
	domain.StepAnalyze: "You are a helpful marketplace assistant. When a user uploads a product image and description, " +
		"analyze it and propose a listing with an estimated price. Use the propose_listing tool to create the initial " +
		"listing proposal. Be accurate with pricing based on the product condition and market value.",
	domain.StepProposeListing: "You have proposed a listing. Now ask the user if they want to proceed with this listing " +
		"or if they'd like to modify the price or add more details. If they want to add details, use the " +
		"ask_for_additional_info tool.",
	domain.StepGatherDetails: "You are gathering additional information about the product. Ask specific, relevant " +
		"questions to improve the listing quality. Use the ask_for_additional_info tool if you need more details, " +
		"or finalize_listing if you have enough information.",
	domain.StepConfirmListing: "Show the final listing summary and ask the user to confirm if they want to list the " +
		"product. Use the finalize_listing tool to present the complete listing.",
	domain.StepListProduct: "The listing has been published. Answer follow-up questions about it briefly. " +
		"Do not start a new listing in this conversation.",
}

// SystemPrompt returns the instruction text for step.
func SystemPrompt(step domain.Step) string {
	if p, ok := systemPrompts[step]; ok {
		return p
	}
	return defaultPrompt
}

// legal lists the tools each step accepts. The first entry is the one
// forced when the step requires a tool.
var legal = map[domain.Step][]string{
	domain.StepAnalyze:        {ToolProposeListing},
	domain.StepProposeListing: {ToolAskForAdditionalInfo},
	domain.StepGatherDetails:  {ToolAskForAdditionalInfo, ToolFinalizeListing},
	domain.StepConfirmListing: {ToolFinalizeListing},
}

// Legal reports whether tool may be dispatched from step.
func Legal(step domain.Step, tool string) bool {
	for _, name := range legal[step] {
		if name == tool {
			return true
		}
	}
	return false
}

// ToolsFor returns the tool definitions offered to the model at step.
func ToolsFor(step domain.Step) []llm.Tool {
	names := legal[step]
	if len(names) == 0 {
		return nil
	}
	tools := make([]llm.Tool, 0, len(names))
	for _, name := range names {
		tools = append(tools, toolDefs[name])
	}
	return tools
}

// ToolChoiceFor returns how strongly the model is pushed to call a tool.
// Analyze and ConfirmListing force their single tool.
func ToolChoiceFor(step domain.Step) llm.ToolChoice {
	switch step {
	case domain.StepAnalyze:
		return llm.Force(ToolProposeListing)
	case domain.StepConfirmListing:
		return llm.Force(ToolFinalizeListing)
	case domain.StepProposeListing, domain.StepGatherDetails:
		return llm.Auto()
	}
	return llm.None()
}

// FormatUserMessage appends the image analysis and market research to the
// seller's text. The result is sent to the model only; the stored message
// keeps the original text.
func FormatUserMessage(text string, analysis *domain.ProductAnalysis) string {
	if analysis == nil {
		return text
	}
	a := analysis.Image

	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n\nProduct Analysis:\n")
	fmt.Fprintf(&b, "- Product: %s\n", a.ProductName)
	fmt.Fprintf(&b, "- Brand: %s\n", orUnknown(a.Brand))
	fmt.Fprintf(&b, "- Category: %s\n", orUnknown(a.Category))
	if a.Condition != "" {
		fmt.Fprintf(&b, "- Condition: %s\n", a.Condition)
	}
	if len(a.Characteristics) > 0 {
		fmt.Fprintf(&b, "- Characteristics: %s\n", strings.Join(a.Characteristics, ", "))
	}
	if a.SuggestedPrice > 0 {
		fmt.Fprintf(&b, "- Suggested Price: %s\n", Money(a.SuggestedPrice))
	}
	fmt.Fprintf(&b, "- Confidence: %.0f%%\n", a.Confidence*100)

	b.WriteString("\nMarket Research:\n")
	if len(analysis.Quotes) == 0 {
		b.WriteString("No market data available\n")
	}
	for _, q := range analysis.Quotes {
		fmt.Fprintf(&b, "- %s: %s", q.Platform, q.Price)
		if q.Availability != "" {
			fmt.Fprintf(&b, " (%s)", q.Availability)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}
