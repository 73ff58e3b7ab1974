package generator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-autoposter/internal/domain"
	openai "tg-autoposter/internal/infra/openai"
)

type fakeClient struct {
	chatErr   error
	imageErr  error
	text      string
	imageURL  string
	lastChat  openai.ChatCompletionRequest
	lastImage openai.ImageGenerationRequest
}

func (f *fakeClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.lastChat = req
	if f.chatErr != nil {
		return openai.ChatCompletionResponse{}, f.chatErr
	}
	resp := openai.ChatCompletionResponse{}
	resp.Choices = []openai.ChatCompletionChoice{{Message: openai.ChatMessage{Role: "assistant", Content: f.text}}}
	return resp, nil
}

func (f *fakeClient) CreateImage(ctx context.Context, req openai.ImageGenerationRequest) (openai.ImageGenerationResponse, error) {
	f.lastImage = req
	if f.imageErr != nil {
		return openai.ImageGenerationResponse{}, f.imageErr
	}
	resp := openai.ImageGenerationResponse{}
	resp.Data = []openai.ImageData{{URL: f.imageURL}}
	return resp, nil
}

func newTestGenerator(client *fakeClient) *OpenAI {
	g := NewOpenAI(zerolog.Nop(), Config{Model: "gpt-4.1-mini", ImageModel: "dall-e-3", Timeout: time.Second})
	g.newClient = func(apiKey string) chatImageClient { return client }
	return g
}

func channelWithKey() domain.Channel {
	return domain.Channel{
		ID:             1,
		PromptTemplate: "пост о технологиях, {variation}",
		GenAPIKey:      "sk-test",
	}
}

func TestGenerateFullPath(t *testing.T) {
	client := &fakeClient{text: "готовый пост", imageURL: "https://cdn.example.com/img.png"}
	g := newTestGenerator(client)

	content, err := g.Generate(context.Background(), channelWithKey(), 0)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if content.Text != "готовый пост" {
		t.Fatalf("неожиданный текст: %q", content.Text)
	}
	if content.ImageURL != "https://cdn.example.com/img.png" {
		t.Fatalf("неожиданная картинка: %q", content.ImageURL)
	}
}

func TestGenerateSubstitutesVariation(t *testing.T) {
	client := &fakeClient{text: "пост", imageURL: "https://cdn.example.com/img.png"}
	g := newTestGenerator(client)

	if _, err := g.Generate(context.Background(), channelWithKey(), 2); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	prompt := client.lastChat.Messages[len(client.lastChat.Messages)-1].Content
	if strings.Contains(prompt, VariationPlaceholder) {
		t.Fatalf("токен вариативности должен заменяться, промпт: %q", prompt)
	}
	if !strings.Contains(prompt, "вариант 3") {
		t.Fatalf("подсказка должна нести порядковый номер, промпт: %q", prompt)
	}
}

func TestGenerateWithoutKeyUsesFallback(t *testing.T) {
	client := &fakeClient{text: "не должно вызываться"}
	g := newTestGenerator(client)
	ch := channelWithKey()
	ch.GenAPIKey = ""

	content, err := g.Generate(context.Background(), ch, 0)
	if err != nil {
		t.Fatalf("фолбэк не должен возвращать ошибку: %v", err)
	}
	if content.Text == "" {
		t.Fatalf("фолбэк должен дать текст")
	}
	if !domain.IsPlaceholderImage(content.ImageURL) {
		t.Fatalf("фолбэк должен дать заглушку, получили %q", content.ImageURL)
	}
	if client.lastChat.Model != "" {
		t.Fatalf("без ключа внешний сервис не должен вызываться")
	}
}

func TestGenerateTextFailureFallsBack(t *testing.T) {
	client := &fakeClient{chatErr: errors.New("429 Too Many Requests")}
	g := newTestGenerator(client)

	content, err := g.Generate(context.Background(), channelWithKey(), 0)
	if err != nil {
		t.Fatalf("провал генерации должен деградировать в фолбэк: %v", err)
	}
	if content.Text == "" || !domain.IsPlaceholderImage(content.ImageURL) {
		t.Fatalf("фолбэк должен дать текст и заглушку: %+v", content)
	}
}

func TestGenerateImageFailureKeepsText(t *testing.T) {
	client := &fakeClient{text: "текст удался", imageErr: errors.New("недоступен")}
	g := newTestGenerator(client)

	content, err := g.Generate(context.Background(), channelWithKey(), 0)
	if err != nil {
		t.Fatalf("провал картинки не должен ронять генерацию: %v", err)
	}
	if content.Text != "текст удался" {
		t.Fatalf("текст должен сохраниться, получили %q", content.Text)
	}
	if !domain.IsPlaceholderImage(content.ImageURL) {
		t.Fatalf("вместо картинки должна быть заглушка, получили %q", content.ImageURL)
	}
}

func TestGenerateEmptyCompletionFallsBack(t *testing.T) {
	client := &fakeClient{text: "   "}
	g := newTestGenerator(client)

	content, err := g.Generate(context.Background(), channelWithKey(), 0)
	if err != nil {
		t.Fatalf("пустой ответ должен деградировать в фолбэк: %v", err)
	}
	if content.Text == "" {
		t.Fatalf("фолбэк должен дать текст")
	}
}
