package planner

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

// Service — дневной планировщик генерации: для каждого активного канала
// доводит число готовых постов "на сегодня" до длины расписания.
// Идемпотентен: повторный вызов без новых суток и без расхода постов
// ничего не генерирует.
type Service struct {
	log       zerolog.Logger
	channels  domain.ChannelRepo
	posts     domain.PostRepo
	logs      domain.LogRepo
	generator domain.Generator
	events    domain.EventPublisher
	loc       *time.Location
	// delay — пауза между обращениями к внешнему генератору,
	// чтобы не бить его очередью.
	delay time.Duration
	now   func() time.Time
}

// NewService создаёт планировщик. events может быть nil.
func NewService(logger zerolog.Logger, channels domain.ChannelRepo, posts domain.PostRepo, logs domain.LogRepo, generator domain.Generator, events domain.EventPublisher, loc *time.Location, delay time.Duration) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		log:       logger,
		channels:  channels,
		posts:     posts,
		logs:      logs,
		generator: generator,
		events:    events,
		loc:       loc,
		delay:     delay,
		now:       time.Now,
	}
}

// WithNow подменяет источник времени в тестах.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// EnsureDailyPosts доводит дневную партию канала до длины расписания.
// Возвращает количество созданных постов. Провал одной генерации
// логируется и не блокирует остальные.
func (s *Service) EnsureDailyPosts(ctx context.Context, ch domain.Channel) (int, error) {
	if len(ch.Schedule) == 0 {
		return 0, nil
	}
	today := s.now().In(s.loc)
	have, err := s.posts.CountGeneratedForDay(ctx, ch.ID, today)
	if err != nil {
		return 0, fmt.Errorf("подсчёт готовых постов: %w", err)
	}
	needed := len(ch.Schedule) - have
	if needed <= 0 {
		return 0, nil
	}

	created := 0
	for i := 0; i < needed; i++ {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		seq := have + i
		content, err := s.generator.Generate(ctx, ch, seq)
		if err != nil {
			s.log.Warn().Err(err).Int64("channel", ch.ID).Msg("planner: генерация пропущена")
			s.journal(ctx, domain.LogLevelWarning, ch.ID,
				fmt.Sprintf("канал %q: генерация поста не удалась: %v", ch.Title, err))
			continue
		}
		post, err := s.posts.CreatePost(ctx, domain.Post{
			ChannelID: ch.ID,
			Text:      content.Text,
			ImageURL:  content.ImageURL,
			Status:    domain.PostStatusGenerated,
			CreatedAt: s.now().In(s.loc),
		})
		if err != nil {
			s.log.Error().Err(err).Int64("channel", ch.ID).Msg("planner: сохранение поста не удалось")
			s.journal(ctx, domain.LogLevelError, ch.ID,
				fmt.Sprintf("канал %q: сохранение сгенерированного поста не удалось: %v", ch.Title, err))
			continue
		}
		created++
		metrics.PostsGeneratedTotal.WithLabelValues(strconv.FormatInt(ch.ID, 10)).Inc()
		s.emit(ctx, post)

		if s.delay > 0 && i < needed-1 {
			select {
			case <-ctx.Done():
				return created, ctx.Err()
			case <-time.After(s.delay):
			}
		}
	}
	if created > 0 {
		s.journal(ctx, domain.LogLevelInfo, ch.ID,
			fmt.Sprintf("канал %q: подготовлено постов на день: %d", ch.Title, created))
	}
	return created, nil
}

// EnsureAll прогоняет планирование по всем активным каналам. Ошибка одного
// канала не останавливает остальные.
func (s *Service) EnsureAll(ctx context.Context) error {
	active, err := s.channels.ListActiveChannels(ctx)
	if err != nil {
		return fmt.Errorf("выборка активных каналов: %w", err)
	}
	for _, ch := range active {
		if _, err := s.EnsureDailyPosts(ctx, ch); err != nil {
			s.log.Error().Err(err).Int64("channel", ch.ID).Msg("planner: канал пропущен")
		}
	}
	return nil
}

func (s *Service) journal(ctx context.Context, level domain.LogLevel, channelID int64, msg string) {
	entry := domain.LogEntry{ChannelID: &channelID, Level: level, Message: msg, CreatedAt: s.now()}
	if err := s.logs.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).Msg("planner: запись в журнал не удалась")
	}
}

func (s *Service) emit(ctx context.Context, post domain.Post) {
	if s.events == nil {
		return
	}
	_ = s.events.Publish(ctx, domain.ChangeEvent{
		ID:         uuid.NewString(),
		Kind:       domain.EventPostGenerated,
		ChannelID:  post.ChannelID,
		PostID:     post.ID,
		OccurredAt: s.now(),
	})
}
