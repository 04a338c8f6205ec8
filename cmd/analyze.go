package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"lexmail/internal/logger"
	"lexmail/internal/matching"
	"lexmail/internal/matching/gemini"
	"lexmail/internal/matching/local"
	"lexmail/internal/secrets"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	PromptCreateNew = "Crear nuevo expediente"
	PromptSkip      = "Salir sin asignar"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze an email against the known cases and suggest assignments",
	Run: func(cmd *cobra.Command, _ []string) {
		analyze(cmd)
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringP("email", "e", "-", `path to the email JSON ("-" for stdin)`)
	analyzeCmd.Flags().StringP("cases", "c", "", "path to the JSON list of known cases for the organization")
	analyzeCmd.Flags().BoolP("interactive", "i", false, "pick a suggested case interactively after the analysis")
}

// analyze is the main command for the cli.
func analyze(cmd *cobra.Command) {
	ctx := context.Background()

	logg, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logg.Fatal("getting a config", zap.Error(err))
	}

	logg.Info("starting lexmail analysis", zap.String("version", version))

	email, err := readEmail(cmd.Flag("email").Value.String())
	if err != nil {
		logg.Fatal("reading the email", zap.Error(err))
	}

	candidates, err := readCases(cmd.Flag("cases").Value.String())
	if err != nil {
		logg.Fatal("reading the cases", zap.Error(err))
	}

	logg.Info("loaded analysis input",
		zap.String(logger.FieldEmail, email.ID),
		zap.Int("cases", len(candidates)),
	)

	var aiConfig *AIConfig
	if config != nil {
		aiConfig = config.AI
	}

	remote, err := newRemoteAnalyzer(ctx, aiConfig, logg)
	if err != nil {
		// A missing credential is not fatal; all calls take the
		// deterministic local path instead.
		logg.Warn("remote analysis disabled", zap.Error(err))
	}

	orchestrator := matching.NewOrchestrator(remote, local.NewScorer(), logg)
	result := orchestrator.Analyze(ctx, email, candidates)

	pretty, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		logg.Fatal("encoding the result", zap.Error(err))
	}
	fmt.Println(string(pretty))

	if flagBool(cmd, "interactive") {
		if err := selectSuggestion(email, result, logg); err != nil {
			logg.Fatal("selecting a suggestion", zap.Error(err))
		}
	}
}

// newRemoteAnalyzer wires the Gemini strategy from configuration. The
// credential is resolved here and injected; the analyzer itself never
// touches the environment.
func newRemoteAnalyzer(ctx context.Context, cfg *AIConfig, logg *zap.Logger) (matching.Analyzer, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, errors.New("ai analysis is not enabled in the configuration")
	}

	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if provider != "" && provider != "gemini" {
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}

	if cfg.Gemini == nil {
		return nil, errors.New("gemini configuration is required when ai is enabled")
	}

	apiKeyFile := strings.TrimSpace(cfg.Gemini.APIKeyFile)
	if apiKeyFile == "" {
		apiKeyFile = strings.TrimSpace(viper.GetString("ai.gemini.api-key-file"))
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: cfg.Gemini.APIKey,
		Env:   "GEMINI_API_KEY",
		File:  apiKeyFile,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set ai.gemini.api-key-file or GEMINI_API_KEY)", err)
	}

	generator, err := gemini.NewGenerator(ctx, apiKey, cfg.Gemini.Model)
	if err != nil {
		return nil, err
	}

	analyzerLogger := logger.WithCommonFields(logg, "gemini", generator.Model())
	timeout := time.Duration(cfg.Gemini.TimeoutSeconds) * time.Second

	return gemini.NewAnalyzer(generator, analyzerLogger, timeout, cfg.Gemini.MaxLogLength), nil
}

// selectSuggestion is the interactive stand-in for the presentation
// layer: it renders the suggestions as selectable options and prints
// the chosen case id for the caller to use in the assignment call.
func selectSuggestion(email *matching.EmailDigest, result *matching.AnalysisResult, logg *zap.Logger) error {
	items := make([]string, 0, len(result.SuggestedCases)+2)
	for _, s := range result.SuggestedCases {
		items = append(items, fmt.Sprintf("%s %s / %s / confianza %d%% (%s)",
			s.CaseID, s.CaseName, s.CaseNumber, s.Confidence, confidenceBand(s.Confidence),
		))
	}
	if result.ShouldCreateNew {
		items = append(items, PromptCreateNew)
	}
	items = append(items, PromptSkip)

	prompt := promptui.Select{
		Label: "Asignar el email a un expediente",
		Items: items,
	}

	_, selected, err := prompt.Run()
	if err != nil {
		return err
	}

	switch selected {
	case PromptSkip:
		logg.Info("no case selected", zap.String(logger.FieldEmail, email.ID))
	case PromptCreateNew:
		logg.Info("new case requested", zap.String(logger.FieldEmail, email.ID))
		fmt.Println("create-new")
	default:
		caseID := strings.Split(selected, " ")[0]
		logg.Info("case selected for assignment",
			zap.String(logger.FieldEmail, email.ID),
			zap.String("case_id", caseID),
		)
		fmt.Println(caseID)
	}

	return nil
}

// confidenceBand mirrors the badge thresholds used by the mailbox UI.
func confidenceBand(confidence int) string {
	switch {
	case confidence >= 75:
		return "alta"
	case confidence >= matching.MinConfidence:
		return "media"
	default:
		return "baja"
	}
}

func readEmail(path string) (*matching.EmailDigest, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, err
	}

	var email matching.EmailDigest
	if err := json.Unmarshal(data, &email); err != nil {
		return nil, fmt.Errorf("parsing email JSON: %w", err)
	}

	return &email, nil
}

func readCases(path string) ([]*matching.CaseSummary, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}

	data, err := readInput(path)
	if err != nil {
		return nil, err
	}

	var cases []*matching.CaseSummary
	if err := json.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("parsing cases JSON: %w", err)
	}

	return cases, nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func flagBool(cmd *cobra.Command, name string) bool {
	flag := cmd.Flag(name)
	return flag != nil && strings.EqualFold(flag.Value.String(), "true")
}
