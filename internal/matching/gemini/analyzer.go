// Package gemini implements the remote semantic analysis strategy on
// top of the Gemini API. It translates the model's free-text answer
// into the canonical result shape; validating suggestions against the
// candidate set is the orchestrator's job, not this package's.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	_ "embed"

	"go.uber.org/zap"

	"lexmail/internal/logger"
	"lexmail/internal/matching"
)

//go:embed prompt.md
var promptTemplate string

const (
	// maxBodyRunes bounds how much of the email body is embedded in the
	// prompt, keeping request size and cost predictable.
	maxBodyRunes = 2000

	defaultTimeout      = 10 * time.Second
	defaultMaxLogLength = 200

	noSubject = "Sin asunto"
	noSender  = "Sin remitente"
	noBody    = "Sin contenido"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
	Model() string
}

var _ matching.Analyzer = (*Analyzer)(nil)

// Analyzer asks Gemini which candidate cases an email belongs to.
type Analyzer struct {
	generator contentGenerator
	timeout   time.Duration
	logger    *zap.Logger
	maxLogLen int
}

// NewAnalyzer creates an Analyzer. A non-positive timeout falls back to
// the default request deadline.
func NewAnalyzer(generator contentGenerator, log *zap.Logger, timeout time.Duration, maxLogLength int) *Analyzer {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Analyzer{
		generator: generator,
		timeout:   timeout,
		logger:    log,
		maxLogLen: maxLogLength,
	}
}

// candidatePayload is the structured form of a case sent to the model.
// Key names follow the schema the prompt instructs the model to echo.
type candidatePayload struct {
	ID            string `json:"id"`
	CaseNumber    string `json:"caseNumber"`
	Title         string `json:"title"`
	CaseType      string `json:"caseType,omitempty"`
	OpposingParty string `json:"opposingParty,omitempty"`
	Status        string `json:"status,omitempty"`
}

// Analyze sends one request to Gemini and decodes the response into an
// AnalysisResult. Failures are classified with the matching error
// taxonomy so the orchestrator can fall back.
func (a *Analyzer) Analyze(ctx context.Context, email *matching.EmailDigest, candidates []*matching.CaseSummary) (*matching.AnalysisResult, error) {
	if a == nil || a.generator == nil {
		return nil, matching.ErrUnavailable
	}
	if email == nil {
		return nil, fmt.Errorf("%w: email is required", matching.ErrUnavailable)
	}

	prompt, err := a.buildPrompt(email, candidates)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", matching.ErrUnavailable, err)
	}

	a.logger.Debug("gemini analysis request",
		zap.String("email_id", email.ID),
		zap.Int("candidates", len(candidates)),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", logger.TruncateForLog(prompt, a.maxLogLen)),
	)

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	raw, err := a.generator.GenerateContent(ctx, prompt)
	if err != nil {
		return nil, classify(ctx, err)
	}

	a.logger.Debug("gemini analysis response",
		zap.String("email_id", email.ID),
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", logger.TruncateForLog(raw, a.maxLogLen)),
	)

	result, err := decodeResult(raw)
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (a *Analyzer) buildPrompt(email *matching.EmailDigest, candidates []*matching.CaseSummary) (string, error) {
	payload := make([]candidatePayload, 0, len(candidates))
	for _, c := range candidates {
		if c == nil {
			continue
		}
		payload = append(payload, candidatePayload{
			ID:            c.ID,
			CaseNumber:    c.CaseNumber,
			Title:         c.Title,
			CaseType:      c.CaseType,
			OpposingParty: c.OpposingParty,
			Status:        c.Status,
		})
	}

	casesJSON, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal candidates payload: %w", err)
	}

	prompt := strings.ReplaceAll(promptTemplate, "{{SUBJECT}}", orPlaceholder(email.Subject, noSubject))
	prompt = strings.ReplaceAll(prompt, "{{SENDER}}", orPlaceholder(email.Sender, noSender))
	prompt = strings.ReplaceAll(prompt, "{{BODY}}", orPlaceholder(truncateRunes(email.Body, maxBodyRunes), noBody))
	prompt = strings.ReplaceAll(prompt, "{{CASES_JSON}}", string(casesJSON))

	return prompt, nil
}

// classify maps a transport-level failure onto the matching error
// taxonomy. Deadline expiry is reported as a timeout even when the
// underlying client wraps it in its own error type.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", matching.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", matching.ErrTransport, err)
}

func orPlaceholder(s, placeholder string) string {
	if strings.TrimSpace(s) == "" {
		return placeholder
	}
	return s
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
