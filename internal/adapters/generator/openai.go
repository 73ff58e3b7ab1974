package generator

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tg-autoposter/internal/domain"
	"tg-autoposter/internal/infra/metrics"
	openai "tg-autoposter/internal/infra/openai"
)

// systemPrompt — фиксированная инструкция тона и формата. Дату и время в
// тексте не упоминаем: пост генерируется заранее и публикуется позже.
const systemPrompt = `Ты редактор Telegram-канала. Пиши готовые к публикации посты:
живой тон, 2-4 абзаца, допустима лёгкая HTML-разметка (<b>, <i>).
Не указывай конкретные даты и время. Не добавляй пояснений от себя —
только текст поста.`

// VariationPlaceholder — токен в шаблоне канала, который генератор заменяет
// подсказкой вариативности, чтобы посты одной дневной партии различались.
const VariationPlaceholder = "{variation}"

// Config задаёт параметры генерации.
type Config struct {
	BaseURL     string
	Model       string
	ImageModel  string
	Temperature float64
	Timeout     time.Duration
}

// OpenAI реализует domain.Generator через Chat Completions с детерминированным
// фолбэком: любая ошибка внешнего сервиса деградирует в фолбэк, а не в
// ошибку всей партии.
type OpenAI struct {
	log      zerolog.Logger
	cfg      Config
	fallback *Fallback
	// newClient подменяется в тестах.
	newClient func(apiKey string) chatImageClient
}

type chatImageClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateImage(ctx context.Context, req openai.ImageGenerationRequest) (openai.ImageGenerationResponse, error)
}

// NewOpenAI создаёт генератор.
func NewOpenAI(logger zerolog.Logger, cfg Config) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = "gpt-4.1-mini"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	g := &OpenAI{log: logger, cfg: cfg, fallback: NewFallback()}
	g.newClient = func(apiKey string) chatImageClient {
		return openai.NewClient(apiKey, cfg.BaseURL, cfg.Timeout)
	}
	return g
}

var _ domain.Generator = (*OpenAI)(nil)

// Generate порождает текст и картинку поста. Без ключа генерации канал
// работает на фолбэке, об этом пишется предупреждение.
func (g *OpenAI) Generate(ctx context.Context, ch domain.Channel, seq int) (domain.Content, error) {
	if ch.GenAPIKey == "" {
		g.log.Warn().Int64("channel", ch.ID).Msg("generator: ключ генерации не задан, используется фолбэк")
		metrics.GenerationFallbackTotal.Inc()
		return g.fallback.Generate(ctx, ch, seq)
	}

	client := g.newClient(ch.GenAPIKey)
	text, err := g.generateText(ctx, client, ch, seq)
	if err != nil {
		g.log.Warn().Err(err).Int64("channel", ch.ID).Msg("generator: генерация текста не удалась, используется фолбэк")
		metrics.GenerationFallbackTotal.Inc()
		return g.fallback.Generate(ctx, ch, seq)
	}

	// Картинка — независимый под-шаг: её провал не отменяет текст.
	imageURL, err := g.generateImage(ctx, client, text)
	if err != nil {
		g.log.Warn().Err(err).Int64("channel", ch.ID).Msg("generator: генерация картинки не удалась, подставлена заглушка")
		imageURL = PlaceholderImageURL(text)
	}
	return domain.Content{Text: text, ImageURL: imageURL}, nil
}

func (g *OpenAI) generateText(ctx context.Context, client chatImageClient, ch domain.Channel, seq int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	prompt := strings.ReplaceAll(ch.PromptTemplate, VariationPlaceholder, variationHint(seq))
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		Temperature: g.cfg.Temperature,
		MaxTokens:   800,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: systemPrompt},
			{Role: openai.RoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: пустой ответ")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("chat completion: пустой текст")
	}
	return text, nil
}

func (g *OpenAI) generateImage(ctx context.Context, client chatImageClient, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	resp, err := client.CreateImage(ctx, openai.ImageGenerationRequest{
		Model:  g.cfg.ImageModel,
		Prompt: imagePrompt(text),
		Size:   "1024x1024",
	})
	if err != nil {
		return "", err
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", fmt.Errorf("images: пустой ответ")
	}
	return resp.Data[0].URL, nil
}

// imagePrompt строит запрос к картинке из первых ~100 символов текста.
func imagePrompt(text string) string {
	return fmt.Sprintf("Иллюстрация к посту в современном минималистичном стиле: %s", clipRunes(text, 100))
}

// PlaceholderImageURL возвращает детерминированную заглушку с описательным
// alt-текстом из начала поста.
func PlaceholderImageURL(text string) string {
	alt := clipRunes(strings.Join(strings.Fields(text), " "), 40)
	if alt == "" {
		alt = "изображение недоступно"
	}
	return domain.PlaceholderImagePrefix + "?text=" + url.QueryEscape(alt)
}

func variationHint(seq int) string {
	return fmt.Sprintf("вариант %d, не повторяй предыдущие", seq+1)
}

func clipRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
