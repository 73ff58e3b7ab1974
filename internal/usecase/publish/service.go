package publish

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-autoposter/internal/domain"
	"tg-autoposter/internal/infra/metrics"
)

// Service публикует готовые посты. За свою границу ошибки не выпускает:
// Publish всегда возвращает пост со статусом published либо failed.
type Service struct {
	log     zerolog.Logger
	posts   domain.PostRepo
	logs    domain.LogRepo
	sender  domain.MessageSender
	events  domain.EventPublisher
	timeout time.Duration
	now     func() time.Time
}

// NewService создаёт публикатор. events может быть nil.
func NewService(logger zerolog.Logger, posts domain.PostRepo, logs domain.LogRepo, sender domain.MessageSender, events domain.EventPublisher, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{
		log:     logger,
		posts:   posts,
		logs:    logs,
		sender:  sender,
		events:  events,
		timeout: timeout,
		now:     time.Now,
	}
}

// WithNow подменяет источник времени в тестах.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// Publish отправляет пост в канал. Учётные данные перепроверяются перед
// каждой отправкой: они могли смениться после генерации.
func (s *Service) Publish(ctx context.Context, ch domain.Channel, post domain.Post) domain.Post {
	if !domain.ValidCredentials(ch.BotToken, ch.ChatID) {
		return s.fail(ctx, ch, post, "некорректные учётные данные канала", nil)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		messageID int64
		err       error
	)
	if post.HasImage() {
		messageID, err = s.sender.SendPhoto(sendCtx, ch.BotToken, ch.ChatID, post.ImageURL, post.Text)
	} else {
		messageID, err = s.sender.SendText(sendCtx, ch.BotToken, ch.ChatID, post.Text)
	}
	if err != nil {
		return s.fail(ctx, ch, post, "публикация не удалась", err)
	}

	publishedAt := s.now()
	post.Status = domain.PostStatusPublished
	post.PublishedAt = &publishedAt
	post.TelegramPostID = messageID
	post.Error = ""
	if updated, uerr := s.posts.UpdatePost(ctx, post); uerr != nil {
		s.log.Error().Err(uerr).Int64("post", post.ID).Msg("publish: не удалось сохранить статус published")
	} else {
		post = updated
	}

	metrics.PostsPublishedTotal.WithLabelValues(strconv.FormatInt(ch.ID, 10), string(domain.PostStatusPublished)).Inc()
	s.journal(ctx, domain.LogLevelSuccess, ch.ID,
		fmt.Sprintf("канал %q: пост %d опубликован, message_id %d", ch.Title, post.ID, messageID))
	s.emit(ctx, domain.EventPostPublished, ch.ID, post.ID)
	return post
}

func (s *Service) fail(ctx context.Context, ch domain.Channel, post domain.Post, msg string, cause error) domain.Post {
	post.Status = domain.PostStatusFailed
	if cause != nil {
		post.Error = fmt.Sprintf("%s: %v", msg, cause)
	} else {
		post.Error = msg
	}
	post.PublishedAt = nil
	post.TelegramPostID = 0
	if updated, uerr := s.posts.UpdatePost(ctx, post); uerr != nil {
		s.log.Error().Err(uerr).Int64("post", post.ID).Msg("publish: не удалось сохранить статус failed")
	} else {
		post = updated
	}

	metrics.PostsPublishedTotal.WithLabelValues(strconv.FormatInt(ch.ID, 10), string(domain.PostStatusFailed)).Inc()
	s.log.Error().Err(cause).Int64("channel", ch.ID).Int64("post", post.ID).Msg("publish: " + msg)
	s.journal(ctx, domain.LogLevelError, ch.ID,
		fmt.Sprintf("канал %q: пост %d не опубликован: %s", ch.Title, post.ID, post.Error))
	s.emit(ctx, domain.EventPostFailed, ch.ID, post.ID)
	return post
}

func (s *Service) journal(ctx context.Context, level domain.LogLevel, channelID int64, msg string) {
	entry := domain.LogEntry{ChannelID: &channelID, Level: level, Message: msg, CreatedAt: s.now()}
	if err := s.logs.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).Msg("publish: запись в журнал не удалась")
	}
}

func (s *Service) emit(ctx context.Context, kind domain.EventKind, channelID, postID int64) {
	if s.events == nil {
		return
	}
	_ = s.events.Publish(ctx, domain.ChangeEvent{
		ID:         uuid.NewString(),
		Kind:       kind,
		ChannelID:  channelID,
		PostID:     postID,
		OccurredAt: s.now(),
	})
}
