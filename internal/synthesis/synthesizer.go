package synthesis

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"marginalia/internal/config"
	"marginalia/internal/contextpack"
	"marginalia/internal/listening"
	"marginalia/internal/logging"
	"marginalia/internal/metrics"
	"marginalia/internal/services"
	"marginalia/internal/services/llm"
)

// ErrDisabled is returned by NewFromConfig when synthesis is turned off or has
// no API key.
var ErrDisabled = errors.New("synthesis disabled")

// Completer is the subset of the LLM client used here.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (llm.Completion, error)
	Model() string
}

// Input is what the synthesizer needs for one session.
type Input struct {
	Transcript string
	Context    contextpack.Result
}

// Output is a decoded synthesis and its accounting.
type Output struct {
	Synthesis *listening.Synthesis
	Provider  string
	Latency   time.Duration
	CostUSD   float64
}

// Synthesizer produces structured notes from transcripts.
type Synthesizer struct {
	client    Completer
	logger    *slog.Logger
	maxTokens int
}

// New wraps client.
func New(client Completer, logger *slog.Logger) *Synthesizer {
	return &Synthesizer{
		client:    client,
		logger:    logging.NewComponentLogger(logger, "synthesis"),
		maxTokens: 2048,
	}
}

// NewFromConfig builds a synthesizer backed by the configured LLM endpoint.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Synthesizer, error) {
	if !cfg.Synthesis.Enabled || strings.TrimSpace(cfg.Synthesis.APIKey) == "" {
		return nil, ErrDisabled
	}
	client := llm.NewClient(LLMConfig(cfg))
	return New(client, logger), nil
}

// LLMConfig maps the synthesis section onto client settings.
func LLMConfig(cfg *config.Config) llm.Config {
	return llm.Config{
		APIKey:         cfg.Synthesis.APIKey,
		BaseURL:        cfg.Synthesis.BaseURL,
		Model:          cfg.Synthesis.Model,
		Referer:        cfg.Synthesis.Referer,
		Title:          cfg.Synthesis.Title,
		TimeoutSeconds: cfg.Synthesis.TimeoutSeconds,
	}
}

// Synthesize runs one LLM call and decodes the answer.
func (s *Synthesizer) Synthesize(ctx context.Context, input Input) (Output, error) {
	transcript := strings.TrimSpace(input.Transcript)
	if transcript == "" {
		return Output{}, services.Wrap(services.ErrValidation, "synthesize", "build prompt", "transcript is empty", nil)
	}
	provider := s.client.Model()
	completion, err := s.client.Complete(ctx, llm.Request{
		System:    SystemPrompt,
		User:      BuildUserPrompt(contextpack.Render(input.Context), transcript),
		MaxTokens: s.maxTokens,
	})
	if err != nil {
		metrics.ProviderRequests.WithLabelValues(provider, "error").Inc()
		return Output{}, services.Wrap(services.ErrExternalTool, "synthesize", "llm request", provider, err)
	}
	metrics.ProviderRequests.WithLabelValues(provider, "success").Inc()

	synthesis, err := Decode(completion.Content)
	if err != nil {
		return Output{}, services.Wrap(services.ErrExternalTool, "synthesize", "decode response", provider, err)
	}
	synthesis.Provider = provider

	logging.WithContext(ctx, s.logger).Info("synthesis complete",
		logging.String("provider", provider),
		logging.Int("insights", len(synthesis.Insights)),
		logging.Int("quotes", len(synthesis.Quotes)),
		logging.Int("prompt_tokens", completion.Usage.PromptTokens),
		logging.Int("completion_tokens", completion.Usage.CompletionTokens),
		logging.Int("attempts", completion.Attempts),
		logging.Duration("latency", completion.Latency),
	)
	return Output{
		Synthesis: synthesis,
		Provider:  provider,
		Latency:   completion.Latency,
		CostUSD:   completion.Usage.CostUSD,
	}, nil
}
