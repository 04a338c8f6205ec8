package matching

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"lexmail/internal/keywords"
)

// Orchestrator selects between the remote and local analysis
// strategies and guarantees the caller always receives a valid result.
// It holds no mutable state between calls other than the in-flight
// request registry used for coalescing; concurrent calls for different
// emails run independently, while concurrent calls for the same email
// share a single remote request.
type Orchestrator struct {
	remote Analyzer // nil when no credential is configured
	local  Analyzer
	logger *zap.Logger
	group  singleflight.Group
}

// NewOrchestrator builds an Orchestrator from the two strategies.
// remote may be nil, in which case every call takes the local path.
func NewOrchestrator(remote, local Analyzer, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		remote: remote,
		local:  local,
		logger: log,
	}
}

// Analyze matches the email against the candidates. It is total: every
// failure of the remote path is recovered by the deterministic local
// scorer, and the returned result always honors the closed-world, sort
// and creation-flag invariants. The result is shared between coalesced
// callers and must be treated as read-only.
func (o *Orchestrator) Analyze(ctx context.Context, email *EmailDigest, candidates []*CaseSummary) *AnalysisResult {
	if email == nil {
		return emptyResult("")
	}

	text := strings.TrimSpace(email.Subject + " " + email.Body)
	if len(candidates) == 0 || text == "" {
		return emptyResult(text)
	}

	if o.remote != nil {
		result, err := o.analyzeRemotely(ctx, email, candidates)
		if err == nil {
			return o.validate(result, candidates)
		}
		o.logger.Warn("remote analysis failed, falling back to local scorer",
			zap.String("email_id", email.ID),
			zap.Error(err),
		)
	}

	result, err := o.local.Analyze(ctx, email, candidates)
	if err != nil {
		// The local scorer is total; this guards misbehaving custom
		// implementations.
		o.logger.Error("local analysis failed",
			zap.String("email_id", email.ID),
			zap.Error(err),
		)
		return emptyResult(text)
	}

	return result
}

// analyzeRemotely performs the single outbound call, coalescing
// concurrent requests for the same email so a stale earlier response
// cannot race a newer one. Validation happens per caller, outside the
// shared call.
func (o *Orchestrator) analyzeRemotely(ctx context.Context, email *EmailDigest, candidates []*CaseSummary) (*AnalysisResult, error) {
	if email.ID == "" {
		return o.remote.Analyze(ctx, email, candidates)
	}

	v, err, shared := o.group.Do(email.ID, func() (any, error) {
		return o.remote.Analyze(ctx, email, candidates)
	})
	if err != nil {
		return nil, err
	}

	if shared {
		o.logger.Debug("coalesced concurrent analysis", zap.String("email_id", email.ID))
	}

	return v.(*AnalysisResult), nil
}

func emptyResult(text string) *AnalysisResult {
	return &AnalysisResult{
		SuggestedCases:  []*CaseSuggestion{},
		ShouldCreateNew: true,
		ExtractedInfo: ExtractedInfo{
			Keywords: keywords.Extract(text),
		},
	}
}
