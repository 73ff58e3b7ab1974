package channels

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tg-autoposter/internal/domain"
)

// ErrEmptyTitle возвращается для канала без названия.
var ErrEmptyTitle = errors.New("название канала не задано")

// Service управляет каналами. Учётные данные — жёсткое предусловие:
// канал с невалидным токеном или чатом не сохраняется.
type Service struct {
	channels domain.ChannelRepo
	events   domain.EventPublisher
}

// NewService создаёт сервис каналов. events может быть nil.
func NewService(channels domain.ChannelRepo, events domain.EventPublisher) *Service {
	return &Service{channels: channels, events: events}
}

// Params — входные поля создания и редактирования канала.
type Params struct {
	Title          string
	BotToken       string
	ChatID         string
	PromptTemplate string
	GenAPIKey      string
	IsActive       bool
}

func (p Params) validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return ErrEmptyTitle
	}
	if !domain.ValidCredentials(p.BotToken, p.ChatID) {
		return domain.NewError(domain.KindCredentialInvalid, "некорректные токен бота или идентификатор чата")
	}
	return nil
}

// Create сохраняет новый канал с пустым расписанием.
func (s *Service) Create(ctx context.Context, params Params) (domain.Channel, error) {
	if err := params.validate(); err != nil {
		return domain.Channel{}, err
	}
	ch, err := s.channels.CreateChannel(ctx, domain.Channel{
		Title:          strings.TrimSpace(params.Title),
		BotToken:       params.BotToken,
		ChatID:         params.ChatID,
		PromptTemplate: params.PromptTemplate,
		GenAPIKey:      params.GenAPIKey,
		IsActive:       params.IsActive,
	})
	if err != nil {
		return domain.Channel{}, fmt.Errorf("сохранение канала: %w", err)
	}
	s.emit(ctx, ch.ID)
	return ch, nil
}

// Update редактирует поля канала.
func (s *Service) Update(ctx context.Context, id int64, params Params) (domain.Channel, error) {
	if err := params.validate(); err != nil {
		return domain.Channel{}, err
	}
	current, err := s.channels.GetChannel(ctx, id)
	if err != nil {
		return domain.Channel{}, fmt.Errorf("получение канала: %w", err)
	}
	current.Title = strings.TrimSpace(params.Title)
	current.BotToken = params.BotToken
	current.ChatID = params.ChatID
	current.PromptTemplate = params.PromptTemplate
	current.GenAPIKey = params.GenAPIKey
	current.IsActive = params.IsActive
	updated, err := s.channels.UpdateChannel(ctx, current)
	if err != nil {
		return domain.Channel{}, fmt.Errorf("обновление канала: %w", err)
	}
	s.emit(ctx, id)
	return updated, nil
}

// SetActive переключает активность канала.
func (s *Service) SetActive(ctx context.Context, id int64, active bool) error {
	if err := s.channels.SetActive(ctx, id, active); err != nil {
		return err
	}
	s.emit(ctx, id)
	return nil
}

// Delete удаляет канал вместе с расписанием и постами.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.channels.DeleteChannel(ctx, id); err != nil {
		return err
	}
	s.emit(ctx, id)
	return nil
}

// Get возвращает канал.
func (s *Service) Get(ctx context.Context, id int64) (domain.Channel, error) {
	return s.channels.GetChannel(ctx, id)
}

// List возвращает все каналы.
func (s *Service) List(ctx context.Context) ([]domain.Channel, error) {
	return s.channels.ListChannels(ctx)
}

func (s *Service) emit(ctx context.Context, channelID int64) {
	if s.events == nil {
		return
	}
	_ = s.events.Publish(ctx, domain.ChangeEvent{
		ID:         uuid.NewString(),
		Kind:       domain.EventChannelUpdated,
		ChannelID:  channelID,
		OccurredAt: time.Now(),
	})
}
