package matching

import (
	"context"
	"errors"
)

// MaxSuggestions bounds how many case suggestions a result may carry.
const MaxSuggestions = 3

// MinConfidence is the confidence below which the engine recommends
// opening a new case instead of assigning the email to an existing one.
const MinConfidence = 50

// EmailDigest is the engine's view of an incoming email. It is never
// mutated by the engine.
type EmailDigest struct {
	ID      string `json:"id"`
	Subject string `json:"subject,omitempty"`
	Sender  string `json:"sender,omitempty"`
	Body    string `json:"body,omitempty"`
}

// CaseSummary describes one case known to the caller. The set of
// summaries passed into an analysis is the only valid universe of match
// targets for that call.
type CaseSummary struct {
	ID            string `json:"id"`
	CaseNumber    string `json:"case_number,omitempty"`
	Title         string `json:"title"`
	CaseType      string `json:"case_type,omitempty"`
	OpposingParty string `json:"opposing_party,omitempty"`
	Status        string `json:"status,omitempty"`
}

// CaseSuggestion links an email to one candidate case with a confidence
// score and human-readable reasons.
type CaseSuggestion struct {
	CaseID     string   `json:"case_id"`
	CaseName   string   `json:"case_name"`
	CaseNumber string   `json:"case_number,omitempty"`
	Confidence int      `json:"confidence"`
	Reasons    []string `json:"reasons"`
}

// ExtractedInfo carries keywords and named-entity guesses pulled from
// the email text. The deterministic path fills keywords only.
type ExtractedInfo struct {
	Keywords              []string `json:"keywords"`
	PossibleClientName    string   `json:"possible_client_name,omitempty"`
	PossibleOpposingParty string   `json:"possible_opposing_party,omitempty"`
	PossibleCaseType      string   `json:"possible_case_type,omitempty"`
}

// AnalysisResult is the unified outcome of one analysis call.
// SuggestedCases is sorted by confidence, descending, and holds at most
// MaxSuggestions entries.
type AnalysisResult struct {
	SuggestedCases  []*CaseSuggestion `json:"suggested_cases"`
	ShouldCreateNew bool              `json:"should_create_new"`
	ExtractedInfo   ExtractedInfo     `json:"extracted_info"`
}

// TopConfidence returns the highest confidence among the suggestions,
// or 0 when there are none.
func (r *AnalysisResult) TopConfidence() int {
	if r == nil || len(r.SuggestedCases) == 0 {
		return 0
	}
	top := r.SuggestedCases[0].Confidence
	for _, s := range r.SuggestedCases[1:] {
		if s.Confidence > top {
			top = s.Confidence
		}
	}
	return top
}

// Analyzer matches one email against a set of candidate cases. The
// remote and local strategies are interchangeable implementations.
type Analyzer interface {
	Analyze(ctx context.Context, email *EmailDigest, candidates []*CaseSummary) (*AnalysisResult, error)
}

// Failure kinds for the remote analysis path. The orchestrator recovers
// all of them by falling back to the local scorer; none reach the caller.
var (
	// ErrUnavailable means the remote analyzer has no usable credential
	// or was never configured.
	ErrUnavailable = errors.New("analysis unavailable")
	// ErrTimeout means the remote call exceeded its deadline.
	ErrTimeout = errors.New("analysis timeout")
	// ErrTransport covers network and HTTP-level failures.
	ErrTransport = errors.New("analysis transport error")
	// ErrParse means the remote response was not well-formed JSON in the
	// expected shape.
	ErrParse = errors.New("analysis parse error")
)
