package schedule

import (
	"context"
	"errors"
	"fmt"
	"math"

	"tg-autoposter/internal/domain"
)

// ErrSlotOutOfRange возвращается для времени вне суток.
var ErrSlotOutOfRange = errors.New("время слота вне диапазона 00:00-23:59")

// ErrNoPostsPerDay возвращается при автогенерации без количества постов.
var ErrNoPostsPerDay = errors.New("количество постов в день должно быть положительным")

// DefaultStartHour — час первого поста при автогенерации расписания.
const DefaultStartHour = 9

// Service управляет расписанием канала. Инвариант: расписание всегда
// отсортировано по (час, минута), дубликаты отклоняются без изменений.
type Service struct {
	channels domain.ChannelRepo
}

// NewService создаёт сервис расписаний.
func NewService(channels domain.ChannelRepo) *Service {
	return &Service{channels: channels}
}

// AddSlot добавляет слот публикации каналу.
func (s *Service) AddSlot(ctx context.Context, channelID int64, hour, minute int) (domain.ScheduleSlot, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return domain.ScheduleSlot{}, ErrSlotOutOfRange
	}
	if _, err := s.channels.GetChannel(ctx, channelID); err != nil {
		return domain.ScheduleSlot{}, fmt.Errorf("получение канала: %w", err)
	}
	slot, err := s.channels.AddSlot(ctx, domain.ScheduleSlot{ChannelID: channelID, Hour: hour, Minute: minute})
	if err != nil {
		return domain.ScheduleSlot{}, err
	}
	return slot, nil
}

// RemoveSlot убирает слот из расписания канала.
func (s *Service) RemoveSlot(ctx context.Context, channelID, slotID int64) error {
	return s.channels.RemoveSlot(ctx, channelID, slotID)
}

// AutoGenerate равномерно распределяет postsPerDay слотов по суткам, начиная
// с startHour; дробные часы округляются до целых минут. Существующее
// расписание заменяется целиком.
func (s *Service) AutoGenerate(ctx context.Context, channelID int64, postsPerDay, startHour int) ([]domain.ScheduleSlot, error) {
	if postsPerDay <= 0 {
		return nil, ErrNoPostsPerDay
	}
	if startHour < 0 || startHour > 23 {
		return nil, ErrSlotOutOfRange
	}
	if _, err := s.channels.GetChannel(ctx, channelID); err != nil {
		return nil, fmt.Errorf("получение канала: %w", err)
	}
	slots := Distribute(postsPerDay, startHour)
	replaced, err := s.channels.ReplaceSchedule(ctx, channelID, slots)
	if err != nil {
		return nil, fmt.Errorf("замена расписания: %w", err)
	}
	return replaced, nil
}

// Distribute строит равномерное расписание из n слотов, начиная с startHour.
func Distribute(n, startHour int) []domain.ScheduleSlot {
	seen := make(map[domain.SlotKey]struct{}, n)
	slots := make([]domain.ScheduleSlot, 0, n)
	for i := 0; i < n; i++ {
		offset := int(math.Round(float64(i) * 24 * 60 / float64(n)))
		total := (startHour*60 + offset) % (24 * 60)
		slot := domain.ScheduleSlot{Hour: total / 60, Minute: total % 60}
		if _, ok := seen[slot.Key()]; ok {
			continue
		}
		seen[slot.Key()] = struct{}{}
		slots = append(slots, slot)
	}
	domain.SortSchedule(slots)
	return slots
}
