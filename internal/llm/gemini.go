package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

const (
	// DefaultModelName is the Gemini model used for chat replies.
	DefaultModelName = "gemini-2.5-flash"
	// DefaultTimeout bounds one model call.
	DefaultTimeout = 30 * time.Second

	temperature     = 0.2
	maxOutputTokens = 512
)

// generator is the subset of *genai.Models used here.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiConfig configures GeminiChat.
type GeminiConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// GeminiChat answers chat messages with a Gemini model.
type GeminiChat struct {
	models  generator
	model   string
	timeout time.Duration
	log     zerolog.Logger
}

// NewGeminiChat creates a Gemini-backed ChatModel. When cfg.APIKey is empty
// it returns Unconfigured so callers still get a working ChatModel.
func NewGeminiChat(ctx context.Context, cfg GeminiConfig, log zerolog.Logger) (ChatModel, error) {
	if cfg.APIKey == "" {
		log.Warn().Msg("Gemini API key not set, chat fallback disabled")
		return Unconfigured{}, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiChat: create genai client: %w", err)
	}

	return newGeminiChat(client.Models, cfg, log), nil
}

func newGeminiChat(models generator, cfg GeminiConfig, log zerolog.Logger) *GeminiChat {
	if cfg.Model == "" {
		cfg.Model = DefaultModelName
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &GeminiChat{
		models:  models,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		log:     log,
	}
}

// buildRequest turns history into Gemini contents. System turns are folded
// into the system instruction after SystemPrompt.
func buildRequest(history []Turn, message string) ([]*genai.Content, *genai.GenerateContentConfig) {
	system := []string{SystemPrompt}
	contents := make([]*genai.Content, 0, len(history)+1)

	for _, t := range FilterHistory(history) {
		switch t.Role {
		case RoleSystem:
			system = append(system, t.Content)
		case RoleUser:
			contents = append(contents, genai.NewContentFromText(t.Content, genai.RoleUser))
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(t.Content, genai.RoleModel))
		}
	}
	contents = append(contents, genai.NewContentFromText(message, genai.RoleUser))

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser),
		Temperature:       genai.Ptr[float32](temperature),
		MaxOutputTokens:   maxOutputTokens,
	}
	return contents, config
}

// Reply implements ChatModel.
func (g *GeminiChat) Reply(ctx context.Context, history []Turn, message string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	contents, config := buildRequest(history, message)

	start := time.Now()
	resp, err := g.models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			g.log.Warn().Dur("elapsed", time.Since(start)).Msg("Gemini call timed out")
			return "", fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		g.log.Error().Err(err).Str("model", g.model).Msg("Gemini call failed")
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	text := ""
	if resp != nil {
		text = strings.TrimSpace(resp.Text())
	}
	if text == "" {
		return FallbackReply, nil
	}

	g.log.Debug().Dur("elapsed", time.Since(start)).Int("reply_len", len(text)).Msg("Gemini reply received")
	return text, nil
}
