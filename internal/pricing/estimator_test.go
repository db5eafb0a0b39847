package pricing

import (
	"context"
	"errors"
	"testing"

	"github.com/ashureev/snaplist/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedModel struct {
	text string
	err  error
	last llm.Request
}

func (m *scriptedModel) Complete(_ context.Context, req llm.Request) (*llm.Completion, error) {
	m.last = req
	if m.err != nil {
		return nil, m.err
	}
	return &llm.Completion{Text: m.text}, nil
}

func TestEstimatorParsesJSON(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{text: `{"results":[
		{"platform":"Amazon","price":"$24.99","currency":"USD","url":"https://amazon.com/s?k=lamp","availability":"Likely available"},
		{"platform":"Walmart","price":19.5},
		{"platform":"","price":"$5"}
	]}`}
	est := NewModelEstimator(model, nil)

	quotes, err := est.Fetch(context.Background(), "desk lamp")
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.InDelta(t, 24.99, quotes[0].Amount, 0.001)
	assert.Equal(t, "Walmart", quotes[1].Platform)
	assert.Equal(t, "Estimated", quotes[1].Availability)
	assert.Contains(t, quotes[1].URL, "google.com")
	assert.Equal(t, llm.ToolChoiceNone, model.last.ToolChoice.Mode)
	assert.Contains(t, model.last.History[0].Content, "desk lamp")
}

func TestEstimatorFallsBackToLooseText(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{text: "Typical prices:\n1. Amazon: around $24.99 new\n- Best Buy – $29\n* eBay used listings go for $12.50\nNo data for others."}
	est := NewModelEstimator(model, nil)

	quotes, err := est.Fetch(context.Background(), "desk lamp")
	require.NoError(t, err)
	require.Len(t, quotes, 3)
	assert.Equal(t, "Amazon", quotes[0].Platform)
	assert.Equal(t, "Best Buy", quotes[1].Platform)
	assert.Equal(t, "eBay", quotes[2].Platform)
	assert.InDelta(t, 12.5, quotes[2].Amount, 0.001)
}

func TestLooseEstimatesCapAtFour(t *testing.T) {
	t.Parallel()

	text := "A: $1\nB: $2\nC: $3\nD: $4\nE: $5"
	assert.Len(t, ParseLooseEstimates("x", text), 4)
}

func TestEstimatorModelError(t *testing.T) {
	t.Parallel()

	est := NewModelEstimator(&scriptedModel{err: errors.New("unavailable")}, nil)
	_, err := est.Fetch(context.Background(), "lamp")
	assert.Error(t, err)
}
