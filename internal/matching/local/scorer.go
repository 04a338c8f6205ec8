// Package local implements the deterministic, offline matching
// strategy. It is used whenever the remote semantic analyzer is not
// configured or fails.
package local

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"lexmail/internal/keywords"
	"lexmail/internal/matching"
)

const (
	caseNumberPoints    = 40
	titleOverlapPoints  = 30
	opposingPartyPoints = 30

	// Rounded scores must exceed this to be suggested at all.
	inclusionThreshold = 30

	// Title tokens must be longer than this to participate in the
	// overlap signal.
	minTitleTokenLen = 3
)

var _ matching.Analyzer = (*Scorer)(nil)

// Scorer matches emails against candidate cases using substring and
// token-overlap heuristics. It is a pure function of its inputs: no
// I/O, no randomness, no state shared between calls.
type Scorer struct{}

// NewScorer creates a Scorer.
func NewScorer() *Scorer {
	return &Scorer{}
}

// Analyze scores every candidate against the email and keeps the top
// matches. The returned error is always nil; the signature satisfies
// matching.Analyzer.
func (s *Scorer) Analyze(_ context.Context, email *matching.EmailDigest, candidates []*matching.CaseSummary) (*matching.AnalysisResult, error) {
	haystack := buildHaystack(email)

	suggestions := make([]*matching.CaseSuggestion, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate == nil {
			continue
		}
		if suggestion := scoreCandidate(haystack, candidate); suggestion != nil {
			suggestions = append(suggestions, suggestion)
		}
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Confidence > suggestions[j].Confidence
	})
	if len(suggestions) > matching.MaxSuggestions {
		suggestions = suggestions[:matching.MaxSuggestions]
	}

	result := &matching.AnalysisResult{
		SuggestedCases: suggestions,
		ExtractedInfo: matching.ExtractedInfo{
			Keywords: keywords.Extract(haystack),
		},
	}
	result.ShouldCreateNew = len(suggestions) == 0 || result.TopConfidence() < matching.MinConfidence

	return result, nil
}

// scoreCandidate sums the three heuristic signals, clamps the total to
// [0, 100], rounds it, and returns a suggestion only when the rounded
// score exceeds the inclusion threshold.
func scoreCandidate(haystack string, candidate *matching.CaseSummary) *matching.CaseSuggestion {
	var score float64
	var reasons []string

	if number := strings.TrimSpace(candidate.CaseNumber); number != "" && strings.Contains(haystack, strings.ToLower(number)) {
		score += caseNumberPoints
		reasons = append(reasons, fmt.Sprintf("Número de expediente mencionado: %s", number))
	}

	if points, matched := titleOverlap(haystack, candidate.Title); len(matched) > 0 {
		score += points
		reasons = append(reasons, fmt.Sprintf("Palabras clave del título coinciden: %s", strings.Join(matched, ", ")))
	}

	if party := strings.TrimSpace(candidate.OpposingParty); party != "" && strings.Contains(haystack, strings.ToLower(party)) {
		score += opposingPartyPoints
		reasons = append(reasons, fmt.Sprintf("Parte contraria mencionada: %s", party))
	}

	confidence := int(math.Round(math.Min(math.Max(score, 0), 100)))
	if confidence <= inclusionThreshold {
		return nil
	}

	return &matching.CaseSuggestion{
		CaseID:     candidate.ID,
		CaseName:   candidate.Title,
		CaseNumber: candidate.CaseNumber,
		Confidence: confidence,
		Reasons:    reasons,
	}
}

// titleOverlap computes the partial title signal: qualifying tokens are
// whitespace-separated title words longer than minTitleTokenLen, and
// the signal is proportional to how many of them appear in the
// haystack.
func titleOverlap(haystack, title string) (float64, []string) {
	qualifying := make([]string, 0)
	for _, token := range strings.Fields(strings.ToLower(title)) {
		if len([]rune(token)) > minTitleTokenLen {
			qualifying = append(qualifying, token)
		}
	}
	if len(qualifying) == 0 {
		return 0, nil
	}

	matched := make([]string, 0, len(qualifying))
	for _, token := range qualifying {
		if strings.Contains(haystack, token) {
			matched = append(matched, token)
		}
	}
	if len(matched) == 0 {
		return 0, nil
	}

	return titleOverlapPoints * float64(len(matched)) / float64(len(qualifying)), matched
}

func buildHaystack(email *matching.EmailDigest) string {
	if email == nil {
		return ""
	}
	return strings.ToLower(email.Subject + " " + email.Body)
}
