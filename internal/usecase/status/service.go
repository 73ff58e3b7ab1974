package status

import (
	"context"
	"fmt"
	"time"

	"tg-autoposter/internal/domain"
	"tg-autoposter/internal/usecase/dispatch"
)

// RunnerState отдаёт мгновенное состояние планировщика.
type RunnerState interface {
	StateSnapshot() dispatch.Snapshot
}

// Service собирает сводку состояния бота: проекция поверх каналов, постов
// и снимка планировщика. Никогда не авторитетна, строится на каждый запрос.
type Service struct {
	channels domain.ChannelRepo
	logs     domain.LogRepo
	runner   RunnerState
	loc      *time.Location
	now      func() time.Time
}

// NewService создаёт сервис статуса.
func NewService(channels domain.ChannelRepo, logs domain.LogRepo, runner RunnerState, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{channels: channels, logs: logs, runner: runner, loc: loc, now: time.Now}
}

// WithNow подменяет источник времени в тестах.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// Current строит сводку состояния.
func (s *Service) Current(ctx context.Context) (domain.BotStatus, error) {
	snap := s.runner.StateSnapshot()
	channels, err := s.channels.ListChannels(ctx)
	if err != nil {
		return domain.BotStatus{}, fmt.Errorf("выборка каналов: %w", err)
	}

	now := s.now().In(s.loc)
	statuses := make([]domain.ChannelStatus, 0, len(channels))
	for _, ch := range channels {
		st := domain.ChannelStatus{ChannelID: ch.ID, Title: ch.Title}
		switch {
		case !ch.IsActive:
			st.Status = domain.ChannelStatusInactive
		case stuck(snap, ch.ID):
			st.Status = domain.ChannelStatusMaybeStuck
		case working(snap, ch.ID):
			st.Status = domain.ChannelStatusWorking
		default:
			st.Status = domain.ChannelStatusWaiting
		}
		if ch.IsActive {
			if next, ok := NextSlotTime(ch.Schedule, now); ok {
				st.NextPostTime = &next
			}
		}
		statuses = append(statuses, st)
	}

	return domain.BotStatus{
		IsRunning:     snap.Running,
		CurrentAction: snap.CurrentAction,
		LastUpdate:    snap.LastUpdate,
		Channels:      statuses,
	}, nil
}

// RecentLogs возвращает хвост операторского журнала.
func (s *Service) RecentLogs(ctx context.Context, limit int) ([]domain.LogEntry, error) {
	return s.logs.ListRecent(ctx, limit)
}

func working(snap dispatch.Snapshot, channelID int64) bool {
	_, ok := snap.InFlight[channelID]
	return ok
}

// stuck — операция канала идёт дольше порога. Индикация для оператора,
// вызов не отменяется.
func stuck(snap dispatch.Snapshot, channelID int64) bool {
	started, ok := snap.InFlight[channelID]
	if !ok {
		return false
	}
	return time.Since(started) > snap.WatchdogAfter
}

// NextSlotTime возвращает ближайшее время публикации: сегодня, если слот ещё
// впереди, иначе первый слот завтра. Расписание отсортировано по (час, минута).
func NextSlotTime(schedule []domain.ScheduleSlot, now time.Time) (time.Time, bool) {
	if len(schedule) == 0 {
		return time.Time{}, false
	}
	for _, slot := range schedule {
		candidate := time.Date(now.Year(), now.Month(), now.Day(), slot.Hour, slot.Minute, 0, 0, now.Location())
		if candidate.After(now) {
			return candidate, true
		}
	}
	first := schedule[0]
	return time.Date(now.Year(), now.Month(), now.Day()+1, first.Hour, first.Minute, 0, 0, now.Location()), true
}
