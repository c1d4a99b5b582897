package enrich

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/chatmem/persona/pkg/memory"
)

const (
	defaultBaseURL = "https://api.deepseek.com/v1"
	defaultModel   = "deepseek-reasoner"

	maxAttempts = 3
)

// analysisPrompt instructs the model to extract only explicitly stated
// facts and interests, returning bare JSON.
const analysisPrompt = `Ты извлекаешь ОБЪЕКТИВНЫЕ ФАКТЫ из сообщений пользователя.

Проанализируй сообщения пользователя %s и выпиши только ПРЯМО СКАЗАННЫЕ факты.

СООБЩЕНИЯ:
%s

Верни JSON в ТОЧНО таком формате:
{
    "facts": ["факт 1 если пользователь прямо это сказал", "факт 2"],
    "interests": {
        "pets": ["животное 1", "животное 2"],
        "gaming": ["игра 1"],
        "food": ["еда 1"],
        "sports": ["спорт 1"],
        "music": ["жанр 1"],
        "other": ["интерес 1"]
    }
}

ВАЖНО - ТОЛЬКО ФАКТЫ:
1. "Я люблю собак" = факт "Любит собак"
2. "Я программист" = факт "Программист"
3. "Я учусь в школе" = факт "Учится в школе"
4. НЕ анализируй эмоции, настроение, стиль общения - это не факты!
5. Только что ЯВНО сказано в сообщениях
6. Если в интересах нет ничего - оставь объект пустым {}
7. Возвращай ТОЛЬКО JSON без пояснений`

// DeepSeekAnalyzer calls the DeepSeek chat completion API through the
// OpenAI-compatible surface.
type DeepSeekAnalyzer struct {
	client *openai.Client
	model  string
	log    *zap.Logger
}

// DeepSeekOption tweaks analyzer construction.
type DeepSeekOption func(*deepSeekConfig)

type deepSeekConfig struct {
	baseURL string
	model   string
}

// WithBaseURL points the analyzer at a different OpenAI-compatible
// endpoint, e.g. a proxy or a test server.
func WithBaseURL(u string) DeepSeekOption {
	return func(c *deepSeekConfig) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithModel overrides the model id.
func WithModel(m string) DeepSeekOption {
	return func(c *deepSeekConfig) {
		if m != "" {
			c.model = m
		}
	}
}

// NewDeepSeekAnalyzer builds the analyzer client.
func NewDeepSeekAnalyzer(apiKey string, log *zap.Logger, opts ...DeepSeekOption) (*DeepSeekAnalyzer, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("deepseek analyzer: empty api key")
	}
	if log == nil {
		log = zap.NewNop()
	}
	ds := deepSeekConfig{baseURL: defaultBaseURL, model: defaultModel}
	for _, opt := range opts {
		opt(&ds)
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = ds.baseURL

	return &DeepSeekAnalyzer{
		client: openai.NewClientWithConfig(cfg),
		model:  ds.model,
		log:    log,
	}, nil
}

// Analyze sends the user's transcript to the model and decodes the
// structured payload. Retries transient request failures with a short
// linear backoff.
func (a *DeepSeekAnalyzer) Analyze(ctx context.Context, userID, username string, transcript []memory.Message) (Payload, error) {
	if len(transcript) == 0 {
		return Payload{}, fmt.Errorf("analyze %s: empty transcript", userID)
	}

	prompt := fmt.Sprintf(analysisPrompt, username, FormatTranscript(transcript))
	req := openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}

	var resp openai.ChatCompletionResponse
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * time.Second
			a.log.Warn("retrying enrichment request",
				zap.String("user_id", userID),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return Payload{}, ctx.Err()
			case <-time.After(backoff):
			}
		}
		resp, err = a.client.CreateChatCompletion(ctx, req)
		if err == nil {
			break
		}
		a.log.Warn("enrichment request failed",
			zap.String("user_id", userID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	if err != nil {
		return Payload{}, fmt.Errorf("enrichment request after %d attempts: %w", maxAttempts, err)
	}
	if len(resp.Choices) == 0 {
		return Payload{}, fmt.Errorf("enrichment response has no choices")
	}

	p, err := ParsePayload(resp.Choices[0].Message.Content)
	if err != nil {
		return Payload{}, err
	}
	for _, key := range p.SkippedCategories {
		a.log.Warn("skipping unknown interest category",
			zap.String("user_id", userID), zap.String("category", key))
	}
	return p, nil
}
