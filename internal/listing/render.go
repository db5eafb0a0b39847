package listing

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ashureev/snaplist/internal/domain"
)

// Fixed replies used when the model gives nothing usable.
const (
	FallbackReply = "I need more information to help you list this product."
	ErrorReply    = "Sorry, I encountered an error. Please try again."
	defaultReply  = "Let me help you with your product listing."
)

// Money formats an amount as dollars, dropping a zero fraction:
// 150 is "$150", 45.5 is "$45.50".
func Money(amount float64) string {
	if amount == float64(int64(amount)) {
		return "$" + strconv.FormatInt(int64(amount), 10)
	}
	return fmt.Sprintf("$%.2f", amount)
}

// Render produces the assistant message for a tool call.
func Render(call ToolCall) string {
	switch c := call.(type) {
	case ProposeListing:
		return renderProposal(c)
	case AskForAdditionalInfo:
		return renderQuestions(c)
	case FinalizeListing:
		return renderFinal(c)
	}
	return defaultReply
}

func renderProposal(p ProposeListing) string {
	price := Money(float64(p.EstimatedPrice))

	var b strings.Builder
	b.WriteString("I've analyzed your product and here's what I found:\n\n")
	fmt.Fprintf(&b, "**%s**\n", p.Title)
	fmt.Fprintf(&b, "📝 %s\n", p.Description)
	fmt.Fprintf(&b, "💰 Estimated Price: %s\n", price)
	fmt.Fprintf(&b, "📂 Category: %s\n", p.Category)
	fmt.Fprintf(&b, "✨ Condition: %s\n", p.Condition)
	if p.Brand != "" {
		fmt.Fprintf(&b, "🏷️ Brand: %s\n", p.Brand)
	}
	if p.Reasoning != "" {
		fmt.Fprintf(&b, "\n**Price Reasoning:** %s\n", p.Reasoning)
	}
	fmt.Fprintf(&b, "\nWould you like to proceed with this listing at %s, or would you like to adjust the price or add more details?", price)
	return b.String()
}

func renderQuestions(a AskForAdditionalInfo) string {
	var b strings.Builder
	b.WriteString("To create the best possible listing, I'd like to know more about your product:\n\n")
	for i, q := range a.Questions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, q)
	}
	b.WriteString("\nPlease provide any additional information, or just say \"proceed\" if you're ready to list with the current details.")
	return b.String()
}

func renderFinal(f FinalizeListing) string {
	l := f.FinalListing

	var b strings.Builder
	b.WriteString("Here's your final listing summary:\n\n")
	if f.Summary != "" {
		b.WriteString(f.Summary)
		b.WriteString("\n\n")
	}
	b.WriteString("**Final Details:**\n")
	fmt.Fprintf(&b, "- Title: %s\n", l.Title)
	fmt.Fprintf(&b, "- Price: %s\n", Money(float64(l.Price)))
	fmt.Fprintf(&b, "- Category: %s\n", l.Category)
	fmt.Fprintf(&b, "- Condition: %s\n", l.Condition)
	if l.Brand != "" {
		fmt.Fprintf(&b, "- Brand: %s\n", l.Brand)
	}
	b.WriteString("\nReady to list your product? Reply with \"confirm\" to publish your listing!")
	return b.String()
}

// RenderPriceUpdate confirms a price the seller set directly.
func RenderPriceUpdate(d *domain.ProductDraft) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Got it! I've updated the price to %s.\n\n", Money(d.Price))
	writeDraft(&b, d)
	b.WriteString("\nReply with \"confirm\" to publish your listing, or tell me what else you'd like to change.")
	return b.String()
}

// RenderListed announces a published listing.
func RenderListed(d *domain.ProductDraft, listingID string) string {
	return fmt.Sprintf("🎉 Perfect! I've successfully created your listing for the %s at %s. "+
		"Your listing ID is %s and it's now live on the marketplace!", d.Title, Money(d.Price), listingID)
}

// RenderIncomplete explains which fields still block publishing.
func RenderIncomplete(missing []string) string {
	return fmt.Sprintf("I can't publish this listing yet. It still needs: %s. "+
		"Tell me those details and I'll get it ready.", strings.Join(missing, ", "))
}

// ListingFailedReply is sent when publishing fails; the draft is kept.
const ListingFailedReply = "Sorry, I couldn't create your listing right now. " +
	"Your details are saved, so reply \"confirm\" to try again."

func writeDraft(b *strings.Builder, d *domain.ProductDraft) {
	b.WriteString("**Current Listing:**\n")
	if d.Title != "" {
		fmt.Fprintf(b, "- Title: %s\n", d.Title)
	}
	fmt.Fprintf(b, "- Price: %s\n", Money(d.Price))
	if d.Category != "" {
		fmt.Fprintf(b, "- Category: %s\n", d.Category)
	}
	if d.Condition != "" {
		fmt.Fprintf(b, "- Condition: %s\n", d.Condition)
	}
	if d.Brand != "" {
		fmt.Fprintf(b, "- Brand: %s\n", d.Brand)
	}
}
