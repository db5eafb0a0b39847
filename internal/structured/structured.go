// Package structured recovers JSON objects from model output that is only
// mostly well formed.
package structured

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Stage names how far recovery had to go.
type Stage string

const (
	StageStrict      Stage = "strict"
	StageRepaired    Stage = "repaired"
	StageExtracted   Stage = "extracted"
	StagePlaceholder Stage = "placeholder"
	StageFailed      Stage = "failed"
)

// ErrNoObject is returned when the text contains nothing JSON-like.
var ErrNoObject = errors.New("no JSON object in text")

var fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// Parse decodes raw into v. It first tries the text as-is, then the
// outermost object cut out of surrounding prose or code fences and run
// through a JSON repairer. The returned stage is StageStrict,
// StageRepaired or StageFailed.
func Parse(raw string, v any) (Stage, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return StageFailed, ErrNoObject
	}
	if err := json.Unmarshal([]byte(trimmed), v); err == nil {
		return StageStrict, nil
	}

	candidate := Object(trimmed)
	if candidate == "" {
		return StageFailed, ErrNoObject
	}
	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return StageFailed, fmt.Errorf("repair json: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return StageFailed, fmt.Errorf("decode repaired json: %w", err)
	}
	return StageRepaired, nil
}

// Object returns the most plausible JSON object in text: a fenced block if
// present, otherwise the span from the first '{' to the last '}'. An
// unterminated object runs to the end of the text.
func Object(text string) string {
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}
	end := strings.LastIndex(text, "}")
	if end < start {
		return text[start:]
	}
	return text[start : end+1]
}

// Field scrapes a string value for key out of text that may not parse at
// all. Quoted and bare values are both accepted; "null" reads as absent.
// The key must match whole, so "title" never matches "subtitle".
func Field(text, key string) (string, bool) {
	re := regexp.MustCompile(`(?i)(?:^|[^\w])"?` + regexp.QuoteMeta(key) + `"?\s*:\s*(?:"((?:[^"\\]|\\.)*)"|([^,}\n\]]+))`)
	m := re.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	value := m[1]
	if value == "" {
		value = m[2]
	}
	value = strings.TrimSpace(strings.ReplaceAll(value, `\"`, `"`))
	if value == "" || strings.EqualFold(value, "null") {
		return "", false
	}
	return value, true
}

// NumberField scrapes a numeric value for key, tolerating a leading '$'.
func NumberField(text, key string) (float64, bool) {
	value, ok := Field(text, key)
	if !ok {
		return 0, false
	}
	value = strings.TrimPrefix(strings.TrimSpace(value), "$")
	n, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ListField scrapes a JSON array of strings for key.
func ListField(text, key string) []string {
	re := regexp.MustCompile(`(?is)(?:^|[^\w])"?` + regexp.QuoteMeta(key) + `"?\s*:\s*\[(.*?)\]`)
	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	var out []string
	for _, item := range regexp.MustCompile(`"((?:[^"\\]|\\.)*)"`).FindAllStringSubmatch(m[1], -1) {
		if s := strings.TrimSpace(item[1]); s != "" {
			out = append(out, s)
		}
	}
	return out
}
