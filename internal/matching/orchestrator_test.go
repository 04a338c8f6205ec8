package matching_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"lexmail/internal/matching"
	"lexmail/internal/matching/local"
)

type stubAnalyzer struct {
	result *matching.AnalysisResult
	err    error
	calls  int32
}

func (s *stubAnalyzer) Analyze(_ context.Context, _ *matching.EmailDigest, _ []*matching.CaseSummary) (*matching.AnalysisResult, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func testEmail() *matching.EmailDigest {
	return &matching.EmailDigest{
		ID:      "e1",
		Subject: "Contrato Nº 2024-001",
		Body:    "la parte contraria constructora silva ha enviado el contrato firmado",
	}
}

func testCandidates() []*matching.CaseSummary {
	return []*matching.CaseSummary{
		{ID: "c1", CaseNumber: "2024-001", Title: "Contrato Silva", OpposingParty: "Constructora Silva"},
		{ID: "c2", Title: "Divorcio Garcia"},
	}
}

func TestFallbackMatchesLocalScorerExactly(t *testing.T) {
	t.Parallel()

	email := testEmail()
	candidates := testCandidates()

	remote := &stubAnalyzer{err: matching.ErrTimeout}
	orchestrator := matching.NewOrchestrator(remote, local.NewScorer(), zap.NewNop())

	got := orchestrator.Analyze(context.Background(), email, candidates)
	want, err := local.NewScorer().Analyze(context.Background(), email, candidates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("fallback result differs from the local scorer:\n%s", diff)
	}
	if atomic.LoadInt32(&remote.calls) != 1 {
		t.Fatalf("expected 1 remote attempt, got %d", remote.calls)
	}
}

func TestFallbackCoversAllErrorKinds(t *testing.T) {
	t.Parallel()

	for _, kind := range []error{
		matching.ErrUnavailable,
		matching.ErrTimeout,
		matching.ErrTransport,
		matching.ErrParse,
	} {
		remote := &stubAnalyzer{err: kind}
		orchestrator := matching.NewOrchestrator(remote, local.NewScorer(), zap.NewNop())

		result := orchestrator.Analyze(context.Background(), testEmail(), testCandidates())
		if result == nil {
			t.Fatalf("expected a result for %v, got nil", kind)
		}
	}
}

func TestUnknownCasesAreStripped(t *testing.T) {
	t.Parallel()

	remote := &stubAnalyzer{result: &matching.AnalysisResult{
		SuggestedCases: []*matching.CaseSuggestion{
			{CaseID: "ghost", CaseName: "Eliminado", Confidence: 95, Reasons: []string{"alucinación"}},
			{CaseID: "c1", CaseName: "Contrato Silva", Confidence: 80, Reasons: []string{"contrato"}},
		},
		ShouldCreateNew: false,
	}}
	orchestrator := matching.NewOrchestrator(remote, local.NewScorer(), zap.NewNop())

	result := orchestrator.Analyze(context.Background(), testEmail(), testCandidates())

	if len(result.SuggestedCases) != 1 {
		t.Fatalf("expected 1 suggestion, got %+v", result.SuggestedCases)
	}
	if result.SuggestedCases[0].CaseID != "c1" {
		t.Fatalf("expected c1 to survive, got %s", result.SuggestedCases[0].CaseID)
	}
}

func TestRemoteResultIsResortedAndCapped(t *testing.T) {
	t.Parallel()

	candidates := []*matching.CaseSummary{
		{ID: "c1", Title: "Uno"}, {ID: "c2", Title: "Dos"},
		{ID: "c3", Title: "Tres"}, {ID: "c4", Title: "Cuatro"},
	}
	remote := &stubAnalyzer{result: &matching.AnalysisResult{
		SuggestedCases: []*matching.CaseSuggestion{
			{CaseID: "c1", Confidence: 55},
			{CaseID: "c2", Confidence: 90},
			{CaseID: "c3", Confidence: 70},
			{CaseID: "c4", Confidence: 60},
		},
	}}
	orchestrator := matching.NewOrchestrator(remote, local.NewScorer(), zap.NewNop())

	result := orchestrator.Analyze(context.Background(), testEmail(), candidates)

	if len(result.SuggestedCases) != matching.MaxSuggestions {
		t.Fatalf("expected %d suggestions, got %d", matching.MaxSuggestions, len(result.SuggestedCases))
	}
	for i, wantID := range []string{"c2", "c3", "c4"} {
		if result.SuggestedCases[i].CaseID != wantID {
			t.Fatalf("expected %s at position %d, got %s", wantID, i, result.SuggestedCases[i].CaseID)
		}
	}
	if result.ShouldCreateNew {
		t.Fatal("expected shouldCreateNew false with top confidence 90")
	}
}

func TestCreationFlagIsRecomputed(t *testing.T) {
	t.Parallel()

	// The remote says no new case is needed, but its best surviving
	// suggestion is below the confidence floor.
	remote := &stubAnalyzer{result: &matching.AnalysisResult{
		SuggestedCases: []*matching.CaseSuggestion{
			{CaseID: "c1", Confidence: 40},
		},
		ShouldCreateNew: false,
	}}
	orchestrator := matching.NewOrchestrator(remote, local.NewScorer(), zap.NewNop())

	result := orchestrator.Analyze(context.Background(), testEmail(), testCandidates())
	if !result.ShouldCreateNew {
		t.Fatal("expected shouldCreateNew to be recomputed to true")
	}
}

func TestRemoteKeywordsAreSanitized(t *testing.T) {
	t.Parallel()

	remote := &stubAnalyzer{result: &matching.AnalysisResult{
		SuggestedCases: []*matching.CaseSuggestion{{CaseID: "c1", Confidence: 80}},
		ExtractedInfo: matching.ExtractedInfo{
			Keywords: []string{
				" contrato ", "", "contrato", "demanda", "sentencia", "recurso",
				"apelación", "juzgado", "herencia", "desalojo", "cobro", "divorcio", "extra",
			},
		},
	}}
	orchestrator := matching.NewOrchestrator(remote, local.NewScorer(), zap.NewNop())

	result := orchestrator.Analyze(context.Background(), testEmail(), testCandidates())

	keywordList := result.ExtractedInfo.Keywords
	if len(keywordList) > 10 {
		t.Fatalf("expected at most 10 keywords, got %d", len(keywordList))
	}
	seen := make(map[string]bool)
	for _, keyword := range keywordList {
		if keyword == "" {
			t.Fatal("blank keyword survived sanitization")
		}
		if seen[keyword] {
			t.Fatalf("duplicate keyword %q survived sanitization", keyword)
		}
		seen[keyword] = true
	}
}

func TestEmptyCandidatesSkipRemotePath(t *testing.T) {
	t.Parallel()

	remote := &stubAnalyzer{result: &matching.AnalysisResult{}}
	orchestrator := matching.NewOrchestrator(remote, local.NewScorer(), zap.NewNop())

	result := orchestrator.Analyze(context.Background(), testEmail(), nil)

	if atomic.LoadInt32(&remote.calls) != 0 {
		t.Fatal("expected the remote analyzer to be skipped")
	}
	if len(result.SuggestedCases) != 0 || !result.ShouldCreateNew {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(result.ExtractedInfo.Keywords) == 0 {
		t.Fatal("expected keywords extracted from the available email text")
	}
}

func TestEmailWithoutTextSkipsRemotePath(t *testing.T) {
	t.Parallel()

	remote := &stubAnalyzer{result: &matching.AnalysisResult{}}
	orchestrator := matching.NewOrchestrator(remote, local.NewScorer(), zap.NewNop())

	result := orchestrator.Analyze(context.Background(), &matching.EmailDigest{ID: "e1", Sender: "x@y.es"}, testCandidates())

	if atomic.LoadInt32(&remote.calls) != 0 {
		t.Fatal("expected the remote analyzer to be skipped")
	}
	if !result.ShouldCreateNew {
		t.Fatal("expected shouldCreateNew true")
	}
}

func TestNilRemoteUsesLocalScorer(t *testing.T) {
	t.Parallel()

	orchestrator := matching.NewOrchestrator(nil, local.NewScorer(), zap.NewNop())

	result := orchestrator.Analyze(context.Background(), testEmail(), testCandidates())
	if len(result.SuggestedCases) == 0 {
		t.Fatal("expected local suggestions")
	}
	if result.SuggestedCases[0].CaseID != "c1" {
		t.Fatalf("expected c1, got %s", result.SuggestedCases[0].CaseID)
	}
}

type blockingAnalyzer struct {
	calls   int32
	release chan struct{}
	result  *matching.AnalysisResult
}

func (b *blockingAnalyzer) Analyze(_ context.Context, _ *matching.EmailDigest, _ []*matching.CaseSummary) (*matching.AnalysisResult, error) {
	atomic.AddInt32(&b.calls, 1)
	<-b.release
	return b.result, nil
}

func TestConcurrentAnalysisForSameEmailIsCoalesced(t *testing.T) {
	t.Parallel()

	remote := &blockingAnalyzer{
		release: make(chan struct{}),
		result: &matching.AnalysisResult{
			SuggestedCases: []*matching.CaseSuggestion{{CaseID: "c1", Confidence: 90}},
		},
	}
	orchestrator := matching.NewOrchestrator(remote, local.NewScorer(), zap.NewNop())

	var wg sync.WaitGroup
	results := make([]*matching.AnalysisResult, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = orchestrator.Analyze(context.Background(), testEmail(), testCandidates())
		}(i)
		// Give each goroutine time to reach the in-flight registry
		// before releasing the shared call.
		time.Sleep(20 * time.Millisecond)
	}

	close(remote.release)
	wg.Wait()

	if got := atomic.LoadInt32(&remote.calls); got != 1 {
		t.Fatalf("expected a single coalesced remote call, got %d", got)
	}
	if diff := cmp.Diff(results[0], results[1]); diff != "" {
		t.Fatalf("coalesced callers received different results:\n%s", diff)
	}
}
