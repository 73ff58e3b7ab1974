package generator

import (
	"context"
	"strings"
	"testing"

	"tg-autoposter/internal/domain"
)

func TestFallbackDeterministic(t *testing.T) {
	f := NewFallback()
	ch := domain.Channel{ID: 1, PromptTemplate: "пост о космосе, {variation}"}

	first, err := f.Generate(context.Background(), ch, 0)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	second, err := f.Generate(context.Background(), ch, 0)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if first.Text != second.Text || first.ImageURL != second.ImageURL {
		t.Fatalf("фолбэк должен быть воспроизводим при одинаковых входах")
	}
}

func TestFallbackUsesTopicWithoutPlaceholder(t *testing.T) {
	f := NewFallback()
	ch := domain.Channel{ID: 1, PromptTemplate: "пост о космосе, {variation}"}

	content, err := f.Generate(context.Background(), ch, 0)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !strings.Contains(content.Text, "пост о космосе") {
		t.Fatalf("текст должен строиться из темы шаблона: %q", content.Text)
	}
	if strings.Contains(content.Text, VariationPlaceholder) {
		t.Fatalf("токен вариативности не должен попадать в текст: %q", content.Text)
	}
}

func TestFallbackEmptyTemplate(t *testing.T) {
	f := NewFallback()
	content, err := f.Generate(context.Background(), domain.Channel{ID: 1}, 0)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if content.Text == "" {
		t.Fatalf("пустой шаблон должен давать осмысленный текст")
	}
	if !domain.IsPlaceholderImage(content.ImageURL) {
		t.Fatalf("картинка фолбэка всегда заглушка, получили %q", content.ImageURL)
	}
}

func TestPlaceholderImageURL(t *testing.T) {
	url := PlaceholderImageURL("Короткий   анонс\nпоста")
	if !domain.IsPlaceholderImage(url) {
		t.Fatalf("URL должен начинаться с префикса заглушки: %q", url)
	}
	if strings.Contains(url, " ") || strings.Contains(url, "\n") {
		t.Fatalf("alt-текст должен быть URL-экранирован: %q", url)
	}

	if !domain.IsPlaceholderImage(PlaceholderImageURL("")) {
		t.Fatalf("пустой текст тоже получает заглушку")
	}
}
