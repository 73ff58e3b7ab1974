package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-autoposter/internal/domain"
	"tg-autoposter/internal/infra/metrics"
)

// Sender отправляет сообщения через Bot API. Токен задаётся на канал,
// поэтому клиенты кэшируются по токену: создание клиента дергает getMe.
type Sender struct {
	log     zerolog.Logger
	http    *http.Client
	mu      sync.Mutex
	clients map[string]*tgbotapi.BotAPI
}

// NewSender создаёт отправителя с общим таймаутом на запрос.
func NewSender(logger zerolog.Logger, timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Sender{
		log:     logger,
		http:    &http.Client{Timeout: timeout},
		clients: make(map[string]*tgbotapi.BotAPI),
	}
}

var _ domain.MessageSender = (*Sender)(nil)

func (s *Sender) api(token string) (*tgbotapi.BotAPI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bot, ok := s.clients[token]; ok {
		return bot, nil
	}
	start := time.Now()
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, s.http)
	metrics.ObserveNetworkRequest("telegram", "get_me", "bot", start, err)
	if err != nil {
		return nil, fmt.Errorf("создание клиента бота: %w", err)
	}
	s.clients[token] = bot
	return bot, nil
}

const captionLimit = 1024

// ClipCaption укорачивает подпись к фото до лимита Telegram, стараясь
// резать по границе строки, чтобы не рвать разметку.
func ClipCaption(caption string) string {
	runes := []rune(caption)
	if len(runes) <= captionLimit {
		return caption
	}
	cut := captionLimit - 1
	for i := cut; i > captionLimit/2; i-- {
		if runes[i-1] == '\n' {
			cut = i - 1
			break
		}
	}
	return strings.TrimRight(string(runes[:cut]), "\n") + "…"
}

// ChatTarget разбирает идентификатор чата: число либо публичный @алиас.
func ChatTarget(chatID string) (int64, string, error) {
	trimmed := strings.TrimSpace(chatID)
	if strings.HasPrefix(trimmed, "@") {
		return 0, trimmed, nil
	}
	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("некорректный идентификатор чата %q", chatID)
	}
	return id, "", nil
}

// SendText отправляет текстовое сообщение с HTML-разметкой.
func (s *Sender) SendText(ctx context.Context, botToken, chatID, text string) (int64, error) {
	bot, err := s.api(botToken)
	if err != nil {
		return 0, err
	}
	numID, username, err := ChatTarget(chatID)
	if err != nil {
		return 0, err
	}
	var msg tgbotapi.MessageConfig
	if username != "" {
		msg = tgbotapi.NewMessageToChannel(username, text)
	} else {
		msg = tgbotapi.NewMessage(numID, text)
	}
	msg.ParseMode = tgbotapi.ModeHTML

	start := time.Now()
	sent, err := bot.Send(msg)
	metrics.ObserveNetworkRequest("telegram", "send_message", chatID, start, err)
	if err != nil {
		return 0, fmt.Errorf("sendMessage: %w", err)
	}
	return int64(sent.MessageID), nil
}

// SendPhoto отправляет картинку по URL с подписью.
func (s *Sender) SendPhoto(ctx context.Context, botToken, chatID, photoURL, caption string) (int64, error) {
	bot, err := s.api(botToken)
	if err != nil {
		return 0, err
	}
	numID, username, err := ChatTarget(chatID)
	if err != nil {
		return 0, err
	}
	var photo tgbotapi.PhotoConfig
	if username != "" {
		photo = tgbotapi.NewPhotoToChannel(username, tgbotapi.FileURL(photoURL))
	} else {
		photo = tgbotapi.NewPhoto(numID, tgbotapi.FileURL(photoURL))
	}
	photo.Caption = ClipCaption(caption)
	photo.ParseMode = tgbotapi.ModeHTML

	start := time.Now()
	sent, err := bot.Send(photo)
	metrics.ObserveNetworkRequest("telegram", "send_photo", chatID, start, err)
	if err != nil {
		return 0, fmt.Errorf("sendPhoto: %w", err)
	}
	return int64(sent.MessageID), nil
}
