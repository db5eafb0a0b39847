package listing

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/snaplist/internal/domain"
	"github.com/ashureev/snaplist/internal/llm"
	"github.com/ashureev/snaplist/internal/metrics"
	"github.com/ashureev/snaplist/internal/structured"
)

// Input is one seller turn.
type Input struct {
	Text     string
	ImageURL string
	Analysis *domain.ProductAnalysis
}

// TurnResult describes what a turn did to the session.
type TurnResult struct {
	Reply    domain.ChatMessage
	Previous domain.Step
	Next     domain.Step
	// ToolCall is nil when the model answered in prose.
	ToolCall ToolCall
	Decode   structured.Stage
	// Ignored is set when the model called a tool the step does not accept.
	Ignored bool
	Err     error
}

// Engine runs model-driven turns of the listing conversation.
type Engine struct {
	model  llm.ConversationModel
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine creates an engine backed by model.
func NewEngine(model llm.ConversationModel, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{model: model, logger: logger, now: time.Now}
}

// ProcessTurn sends the turn to the model, applies any legal tool call to
// the session and appends the exchange. A model failure still records the
// exchange with an apology, and leaves the step and draft as they were.
func (e *Engine) ProcessTurn(ctx context.Context, s *domain.Session, in Input) TurnResult {
	step := s.FlowStep.Step
	res := TurnResult{Previous: step, Next: step}

	req := llm.Request{
		SystemPrompt: SystemPrompt(step),
		History:      history(s, FormatUserMessage(in.Text, in.Analysis)),
		Tools:        ToolsFor(step),
		ToolChoice:   ToolChoiceFor(step),
	}

	completion, err := e.model.Complete(ctx, req)
	if err != nil {
		e.logger.Error("model completion failed", "session_id", s.ID, "step", step, "error", err)
		metrics.ChatTurns.WithLabelValues(string(step), "model_error").Inc()
		res.Err = err
		res.Reply = e.appendExchange(s, in, ErrorReply)
		return res
	}

	if in.Analysis != nil {
		seedFromAnalysis(s.Draft(), in.Analysis)
	}
	if in.ImageURL != "" {
		s.Draft().AddImage(in.ImageURL)
	}

	reply := strings.TrimSpace(completion.Text)
	if completion.ToolCall != nil {
		call, stage := DecodeToolCall(*completion.ToolCall)
		res.ToolCall, res.Decode = call, stage

		if Legal(step, call.ToolName()) {
			s.FlowStep = Dispatch(call, s.FlowStep, s.Draft())
			if reply == "" {
				reply = Render(call)
			}
		} else {
			res.Ignored = true
			e.logger.Warn("tool not accepted at step",
				"session_id", s.ID, "step", step, "tool", call.ToolName())
		}
	}
	if reply == "" {
		reply = FallbackReply
	}

	res.Next = s.FlowStep.Step
	res.Reply = e.appendExchange(s, in, reply)
	metrics.ChatTurns.WithLabelValues(string(step), "model").Inc()
	e.logger.Info("turn processed", "session_id", s.ID, "from", step, "to", res.Next, "tool_called", res.ToolCall != nil)
	return res
}

func (e *Engine) appendExchange(s *domain.Session, in Input, reply string) domain.ChatMessage {
	user, assistant := Exchange(e.now(), in.Text, in.ImageURL, reply)
	s.AppendExchange(user, assistant)
	return assistant
}

// Exchange builds the user and assistant messages of one turn.
func Exchange(at time.Time, text, imageURL, reply string) (domain.ChatMessage, domain.ChatMessage) {
	user := domain.ChatMessage{
		ID:        uuid.NewString(),
		Role:      domain.RoleUser,
		Content:   text,
		ImageURL:  imageURL,
		Timestamp: at,
	}
	assistant := domain.ChatMessage{
		ID:        uuid.NewString(),
		Role:      domain.RoleAssistant,
		Content:   reply,
		Timestamp: at,
	}
	return user, assistant
}

func history(s *domain.Session, userText string) []llm.Message {
	msgs := make([]llm.Message, 0, len(s.ConversationHistory)+1)
	for _, turn := range s.ConversationHistory {
		msgs = append(msgs, llm.Message{Role: string(turn.Role), Content: turn.Content})
	}
	return append(msgs, llm.Message{Role: string(domain.RoleUser), Content: userText})
}

func seedFromAnalysis(d *domain.ProductDraft, a *domain.ProductAnalysis) {
	d.Merge(domain.ProductDraft{
		Brand:               a.Image.Brand,
		Condition:           a.Image.Condition,
		Tags:                a.Image.Tags,
		MarketPriceAnalysis: a.Quotes,
		SuggestedPrice:      a.Image.SuggestedPrice,
	})
	if d.Category == "" && a.Image.Category != "unknown" {
		d.Category = a.Image.Category
	}
}
