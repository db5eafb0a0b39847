package vision

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ashureev/snaplist/internal/domain"
	"github.com/ashureev/snaplist/internal/llm"
	"github.com/ashureev/snaplist/internal/structured"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeStrict(t *testing.T) {
	t.Parallel()

	got := Decode(`{"brand":"Canon","productName":"AE-1 Camera","category":"electronics",
		"characteristics":["black","35mm"],"confidence":0.9,"condition":"vintage","suggestedPrice":120,"tags":["film"]}`)

	assert.Equal(t, string(structured.StageStrict), got.Recovery)
	assert.Equal(t, "Canon", got.Brand)
	assert.Equal(t, "AE-1 Camera", got.ProductName)
	assert.Equal(t, domain.ConditionVintage, got.Condition)
	assert.InDelta(t, 0.9, got.Confidence, 0.001)
	assert.InDelta(t, 120, got.SuggestedPrice, 0.001)
}

func TestDecodeNullBrand(t *testing.T) {
	t.Parallel()

	got := Decode(`{"brand":null,"productName":"Desk Lamp","category":"home","characteristics":[],"confidence":0.7}`)
	assert.Empty(t, got.Brand)
	assert.Equal(t, "Desk Lamp", got.ProductName)
}

func TestDecodeRepaired(t *testing.T) {
	t.Parallel()

	got := Decode("Here is the analysis:\n```json\n{\"productName\": \"Desk Lamp\", \"category\": \"home\", \"confidence\": 0.8,}\n```")
	assert.Equal(t, string(structured.StageRepaired), got.Recovery)
	assert.Equal(t, "Desk Lamp", got.ProductName)
	assert.Equal(t, "home", got.Category)
}

func TestDecodeExtractedWhenRequiredFieldMissing(t *testing.T) {
	t.Parallel()

	got := Decode(`{"productName": "Desk Lamp", "brand": "IKEA"}`)
	assert.Equal(t, string(structured.StageExtracted), got.Recovery)
	assert.Equal(t, "Desk Lamp", got.ProductName)
	assert.Equal(t, "unknown", got.Category)
	assert.Equal(t, "IKEA", got.Brand)
	assert.InDelta(t, 0.5, got.Confidence, 0.001)
}

func TestDecodePlaceholder(t *testing.T) {
	t.Parallel()

	prose := `I can see a red bicycle leaning against a wall. Brand: "Trek" is printed on the frame ` +
		`and it shows some scratches on the top tube and a worn saddle overall.`
	got := Decode(prose)

	assert.Equal(t, string(structured.StagePlaceholder), got.Recovery)
	assert.InDelta(t, 0.3, got.Confidence, 0.001)
	assert.Equal(t, "unknown", got.Category)
	assert.LessOrEqual(t, len([]rune(got.ProductName)), 100)
	assert.True(t, strings.HasPrefix(got.ProductName, "I can see a red bicycle"))
	assert.Equal(t, "Trek", got.Brand)
}

func TestSearchQuery(t *testing.T) {
	t.Parallel()

	q := SearchQuery(&domain.ImageAnalysis{
		Brand:           "Canon",
		ProductName:     "AE-1",
		Characteristics: []string{"black", "35mm", "film", "strap"},
	})
	assert.Equal(t, "Canon AE-1 black 35mm film", q)

	q = SearchQuery(&domain.ImageAnalysis{
		ProductName:     "Lamp",
		Characteristics: []string{"Unable to parse detailed characteristics"},
		Recovery:        string(structured.StagePlaceholder),
	})
	assert.Equal(t, "Lamp", q)
	assert.Empty(t, SearchQuery(nil))
}

func TestAnalyzeSendsImageAsDataURL(t *testing.T) {
	t.Parallel()

	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant",
			"content":"{\"productName\":\"Desk Lamp\",\"category\":\"home\",\"confidence\":0.8}"}}]}`))
	}))
	defer srv.Close()

	analyzer := NewOpenAIAnalyzer(llm.Config{APIKey: "k", BaseURL: srv.URL + "/v1"}, nil)
	got, err := analyzer.Analyze(context.Background(), []byte("\x89PNG\r\n\x1a\nfake"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "Desk Lamp", got.ProductName)

	messages := body["messages"].([]any)
	parts := messages[0].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	image := parts[1].(map[string]any)["image_url"].(map[string]any)
	assert.True(t, strings.HasPrefix(image["url"].(string), "data:image/png;base64,"))
}

func TestAnalyzeRejectsEmptyImage(t *testing.T) {
	t.Parallel()

	analyzer := NewOpenAIAnalyzer(llm.Config{APIKey: "k"}, nil)
	_, err := analyzer.Analyze(context.Background(), nil, "image/png")
	assert.ErrorIs(t, err, ErrEmptyImage)
}
