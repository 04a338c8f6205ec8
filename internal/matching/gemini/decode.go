package gemini

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/mitchellh/mapstructure"

	"lexmail/internal/matching"
)

// resultPayload mirrors the JSON schema the prompt asks the model to
// produce. It is decoded from untrusted text, so every field is
// validated before it becomes an AnalysisResult.
type resultPayload struct {
	SuggestedCases []suggestionPayload `json:"suggestedCases"`
	ShouldCreate   bool                `json:"shouldCreateNew"`
	ExtractedInfo  extractedPayload    `json:"extractedInfo"`
}

type suggestionPayload struct {
	CaseID     string   `json:"caseId"`
	CaseName   string   `json:"caseName"`
	CaseNumber string   `json:"caseNumber"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons"`
}

type extractedPayload struct {
	Keywords              []string `json:"keywords"`
	PossibleClientName    string   `json:"possibleClientName"`
	PossibleOpposingParty string   `json:"possibleOpposingParty"`
	PossibleCaseType      string   `json:"possibleCaseType"`
}

// decodeResult parses the model's raw text answer into an
// AnalysisResult. Any structural problem yields matching.ErrParse; a
// partially populated result is never returned.
func decodeResult(raw string) (*matching.AnalysisResult, error) {
	object, err := firstJSONObject(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", matching.ErrParse, err)
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(object), &data); err != nil {
		return nil, fmt.Errorf("%w: %v", matching.ErrParse, err)
	}

	// The schema fields must actually be present. A bare object would
	// otherwise decode into a defaulted, misleadingly empty result.
	for _, key := range []string{"suggestedCases", "shouldCreateNew", "extractedInfo"} {
		if _, ok := data[key]; !ok {
			return nil, fmt.Errorf("%w: response is missing %q", matching.ErrParse, key)
		}
	}
	if info, ok := data["extractedInfo"].(map[string]any); ok {
		if _, ok := info["keywords"]; !ok {
			return nil, fmt.Errorf("%w: extractedInfo is missing %q", matching.ErrParse, "keywords")
		}
	}

	var payload resultPayload
	cfg := &mapstructure.DecoderConfig{
		Result:      &payload,
		TagName:     "json",
		ErrorUnused: false,
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", matching.ErrParse, err)
	}
	if err := decoder.Decode(data); err != nil {
		return nil, fmt.Errorf("%w: %v", matching.ErrParse, err)
	}

	suggestions := make([]*matching.CaseSuggestion, 0, len(payload.SuggestedCases))
	for i, s := range payload.SuggestedCases {
		if strings.TrimSpace(s.CaseID) == "" {
			return nil, fmt.Errorf("%w: suggestion %d is missing caseId", matching.ErrParse, i)
		}
		suggestions = append(suggestions, &matching.CaseSuggestion{
			CaseID:     s.CaseID,
			CaseName:   s.CaseName,
			CaseNumber: s.CaseNumber,
			Confidence: clampConfidence(s.Confidence),
			Reasons:    s.Reasons,
		})
	}

	return &matching.AnalysisResult{
		SuggestedCases:  suggestions,
		ShouldCreateNew: payload.ShouldCreate,
		ExtractedInfo: matching.ExtractedInfo{
			Keywords:              payload.ExtractedInfo.Keywords,
			PossibleClientName:    payload.ExtractedInfo.PossibleClientName,
			PossibleOpposingParty: payload.ExtractedInfo.PossibleOpposingParty,
			PossibleCaseType:      payload.ExtractedInfo.PossibleCaseType,
		},
	}, nil
}

// firstJSONObject extracts the first complete JSON object embedded in
// the text. The model may wrap its answer in code fences or prose, so
// the scan is brace-balanced and string-aware rather than a plain
// substring search.
func firstJSONObject(raw string) (string, error) {
	raw = stripFences(raw)

	start := strings.IndexByte(raw, '{')
	if start == -1 {
		return "", fmt.Errorf("no JSON object in response")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], nil
			}
		}
	}

	return "", fmt.Errorf("unterminated JSON object in response")
}

func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	return strings.TrimSpace(raw)
}

func clampConfidence(score float64) int {
	if math.IsNaN(score) {
		return 0
	}
	return int(math.Round(math.Min(math.Max(score, 0), 100)))
}
