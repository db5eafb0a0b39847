// Package llm defines the conversation model capability used by the
// listing flow and its OpenAI-compatible implementation.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when the model produced no choices.
var ErrEmptyResponse = errors.New("model returned no choices")

// Message is one entry of model-facing history.
type Message struct {
	Role    string
	Content string
}

// Tool describes a function the model may call. Parameters is a JSON
// schema object.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolChoiceMode controls whether and how the model must call a tool.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceFunction ToolChoiceMode = "function"
)

// ToolChoice is auto, none, or a specific function by name.
type ToolChoice struct {
	Mode ToolChoiceMode
	Name string
}

// Auto lets the model decide.
func Auto() ToolChoice { return ToolChoice{Mode: ToolChoiceAuto} }

// None forbids tool calls.
func None() ToolChoice { return ToolChoice{Mode: ToolChoiceNone} }

// Force requires a call to the named function.
func Force(name string) ToolChoice { return ToolChoice{Mode: ToolChoiceFunction, Name: name} }

// Request is a single completion request.
type Request struct {
	SystemPrompt string
	History      []Message
	Tools        []Tool
	ToolChoice   ToolChoice
}

// RawToolCall is a tool call exactly as the model emitted it.
type RawToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Completion is the model's answer: prose, at most one tool call, or both.
type Completion struct {
	Text     string
	ToolCall *RawToolCall
}

// ConversationModel produces a completion for a system prompt, history and
// a set of callable tools.
type ConversationModel interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}
