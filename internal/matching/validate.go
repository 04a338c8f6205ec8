package matching

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"lexmail/internal/keywords"
)

// validate rebuilds a remote result so that it honors the engine's
// invariants regardless of what the model answered: suggestions must
// reference supplied candidates only, be sorted by confidence
// descending, and number at most MaxSuggestions. The creation flag is
// recomputed rather than trusted, and keywords are sanitized.
func (o *Orchestrator) validate(result *AnalysisResult, candidates []*CaseSummary) *AnalysisResult {
	if result == nil {
		return emptyResult("")
	}

	known := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if c != nil {
			known[c.ID] = struct{}{}
		}
	}

	kept := make([]*CaseSuggestion, 0, len(result.SuggestedCases))
	for _, suggestion := range result.SuggestedCases {
		if suggestion == nil {
			continue
		}
		if _, ok := known[suggestion.CaseID]; !ok {
			o.logger.Warn("dropping suggestion for unknown case",
				zap.String("case_id", suggestion.CaseID),
				zap.Int("confidence", suggestion.Confidence),
			)
			continue
		}
		kept = append(kept, suggestion)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Confidence > kept[j].Confidence
	})
	if len(kept) > MaxSuggestions {
		kept = kept[:MaxSuggestions]
	}

	validated := &AnalysisResult{
		SuggestedCases: kept,
		ExtractedInfo: ExtractedInfo{
			Keywords:              sanitizeKeywords(result.ExtractedInfo.Keywords),
			PossibleClientName:    strings.TrimSpace(result.ExtractedInfo.PossibleClientName),
			PossibleOpposingParty: strings.TrimSpace(result.ExtractedInfo.PossibleOpposingParty),
			PossibleCaseType:      strings.TrimSpace(result.ExtractedInfo.PossibleCaseType),
		},
	}
	validated.ShouldCreateNew = len(kept) == 0 || validated.TopConfidence() < MinConfidence

	return validated
}

// sanitizeKeywords trims entries, drops blanks and duplicates, and
// bounds the list the same way the extractor does.
func sanitizeKeywords(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	clean := make([]string, 0, len(raw))
	for _, keyword := range raw {
		keyword = strings.TrimSpace(keyword)
		if keyword == "" {
			continue
		}
		if _, dup := seen[keyword]; dup {
			continue
		}
		seen[keyword] = struct{}{}
		clean = append(clean, keyword)
		if len(clean) == keywords.Max {
			break
		}
	}
	return clean
}
