package posts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tg-autoposter/internal/domain"
	"tg-autoposter/internal/usecase/publish"
)

// ErrPublishedImmutable возвращается при попытке изменить опубликованный пост.
var ErrPublishedImmutable = errors.New("опубликованный пост изменить нельзя")

// Service — операторские действия над постами: правка, удаление, ручная
// публикация и тестовый пост. Ручной путь сознательно обходит суточный
// журнал дедупликации: его инициирует оператор, а не тик расписания.
type Service struct {
	log       zerolog.Logger
	channels  domain.ChannelRepo
	posts     domain.PostRepo
	generator domain.Generator
	publisher *publish.Service
	loc       *time.Location
	now       func() time.Time
}

// NewService создаёт сервис операторских действий.
func NewService(logger zerolog.Logger, channels domain.ChannelRepo, posts domain.PostRepo, generator domain.Generator, publisher *publish.Service, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		log:       logger,
		channels:  channels,
		posts:     posts,
		generator: generator,
		publisher: publisher,
		loc:       loc,
		now:       time.Now,
	}
}

// WithNow подменяет источник времени в тестах.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// Edit правит текст и картинку поста. Пост в статусе failed возвращается в
// generated с очисткой ошибки — это операторский путь повтора. Опубликованный
// пост неизменяем.
func (s *Service) Edit(ctx context.Context, id int64, text, imageURL string) (domain.Post, error) {
	post, err := s.posts.GetPost(ctx, id)
	if err != nil {
		return domain.Post{}, fmt.Errorf("получение поста: %w", err)
	}
	if post.Status == domain.PostStatusPublished {
		return domain.Post{}, ErrPublishedImmutable
	}
	post.Text = text
	post.ImageURL = imageURL
	if post.Status == domain.PostStatusFailed || post.Status == domain.PostStatusPending {
		post.Status = domain.PostStatusGenerated
		post.Error = ""
	}
	updated, err := s.posts.UpdatePost(ctx, post)
	if err != nil {
		return domain.Post{}, fmt.Errorf("сохранение поста: %w", err)
	}
	return updated, nil
}

// Delete удаляет пост.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.posts.DeletePost(ctx, id)
}

// List возвращает последние посты канала.
func (s *Service) List(ctx context.Context, channelID int64, limit int) ([]domain.Post, error) {
	return s.posts.ListChannelPosts(ctx, channelID, limit)
}

// ForcePublish немедленно публикует указанный пост, минуя расписание и
// журнал дедупликации.
func (s *Service) ForcePublish(ctx context.Context, id int64) (domain.Post, error) {
	post, err := s.posts.GetPost(ctx, id)
	if err != nil {
		return domain.Post{}, fmt.Errorf("получение поста: %w", err)
	}
	if post.Status == domain.PostStatusPublished {
		return domain.Post{}, ErrPublishedImmutable
	}
	ch, err := s.channels.GetChannel(ctx, post.ChannelID)
	if err != nil {
		return domain.Post{}, fmt.Errorf("получение канала: %w", err)
	}
	return s.publisher.Publish(ctx, ch, post), nil
}

// TestPost генерирует и сразу публикует один пост для проверки канала.
func (s *Service) TestPost(ctx context.Context, channelID int64) (domain.Post, error) {
	ch, err := s.channels.GetChannel(ctx, channelID)
	if err != nil {
		return domain.Post{}, fmt.Errorf("получение канала: %w", err)
	}
	content, err := s.generator.Generate(ctx, ch, 0)
	if err != nil {
		return domain.Post{}, domain.WrapError(domain.KindGenerationFailed, "генерация тестового поста", err)
	}
	post, err := s.posts.CreatePost(ctx, domain.Post{
		ChannelID: ch.ID,
		Text:      content.Text,
		ImageURL:  content.ImageURL,
		Status:    domain.PostStatusGenerated,
		CreatedAt: s.now().In(s.loc),
	})
	if err != nil {
		return domain.Post{}, fmt.Errorf("сохранение тестового поста: %w", err)
	}
	return s.publisher.Publish(ctx, ch, post), nil
}
