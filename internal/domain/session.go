// Package domain contains core domain types for the listing assistant.
package domain

import (
	"time"
)

// Step names a position in the listing conversation.
type Step string

// Listing conversation steps, in the order a session normally walks them.
const (
	StepAnalyze        Step = "analyze"
	StepProposeListing Step = "propose_listing"
	StepGatherDetails  Step = "gather_details"
	StepConfirmListing Step = "confirm_listing"
	StepListProduct    Step = "list_product"
)

// Valid reports whether s is one of the known steps.
func (s Step) Valid() bool {
	switch s {
	case StepAnalyze, StepProposeListing, StepGatherDetails, StepConfirmListing, StepListProduct:
		return true
	}
	return false
}

// FlowStep is the current step plus optional step-scoped data.
type FlowStep struct {
	Step Step           `json:"step"`
	Data map[string]any `json:"data,omitempty"`
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ChatMessage is one user-visible message in a session.
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	ImageURL  string    `json:"image_url,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationTurn is a model-facing history entry.
type ConversationTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Session holds the full state of one listing conversation.
type Session struct {
	ID                  string             `json:"id"`
	UserID              string             `json:"user_id"`
	Messages            []ChatMessage      `json:"messages"`
	ConversationHistory []ConversationTurn `json:"conversation_history"`
	FlowStep            FlowStep           `json:"flow_step"`
	ProductDraft        *ProductDraft      `json:"product_draft,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// HasDraft returns true once a draft with at least a title or price exists.
func (s *Session) HasDraft() bool {
	if s.ProductDraft == nil {
		return false
	}
	return s.ProductDraft.Title != "" || s.ProductDraft.Price > 0
}

// Draft returns the session draft, creating an empty one if needed.
func (s *Session) Draft() *ProductDraft {
	if s.ProductDraft == nil {
		s.ProductDraft = &ProductDraft{}
	}
	return s.ProductDraft
}

// AppendExchange records a user/assistant pair in both the visible
// message log and the model-facing history.
func (s *Session) AppendExchange(user, assistant ChatMessage) {
	s.Messages = append(s.Messages, user, assistant)
	s.ConversationHistory = append(s.ConversationHistory,
		ConversationTurn{Role: RoleUser, Content: user.Content},
		ConversationTurn{Role: RoleAssistant, Content: assistant.Content},
	)
	s.UpdatedAt = assistant.Timestamp
}

// LastMessage returns the most recent message, if any.
func (s *Session) LastMessage() (ChatMessage, bool) {
	if len(s.Messages) == 0 {
		return ChatMessage{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Messages = append([]ChatMessage(nil), s.Messages...)
	out.ConversationHistory = append([]ConversationTurn(nil), s.ConversationHistory...)
	if s.FlowStep.Data != nil {
		out.FlowStep.Data = make(map[string]any, len(s.FlowStep.Data))
		for k, v := range s.FlowStep.Data {
			out.FlowStep.Data[k] = v
		}
	}
	out.ProductDraft = s.ProductDraft.Clone()
	return &out
}
