package domain

import (
	"context"
	"time"
)

// ChannelRepo управляет каналами и их расписаниями.
type ChannelRepo interface {
	CreateChannel(ctx context.Context, ch Channel) (Channel, error)
	UpdateChannel(ctx context.Context, ch Channel) (Channel, error)
	DeleteChannel(ctx context.Context, id int64) error
	GetChannel(ctx context.Context, id int64) (Channel, error)
	ListChannels(ctx context.Context) ([]Channel, error)
	ListActiveChannels(ctx context.Context) ([]Channel, error)
	SetActive(ctx context.Context, id int64, active bool) error

	AddSlot(ctx context.Context, slot ScheduleSlot) (ScheduleSlot, error)
	RemoveSlot(ctx context.Context, channelID, slotID int64) error
	ReplaceSchedule(ctx context.Context, channelID int64, slots []ScheduleSlot) ([]ScheduleSlot, error)
}

// PostRepo управляет постами каналов.
type PostRepo interface {
	CreatePost(ctx context.Context, p Post) (Post, error)
	UpdatePost(ctx context.Context, p Post) (Post, error)
	DeletePost(ctx context.Context, id int64) error
	GetPost(ctx context.Context, id int64) (Post, error)
	ListChannelPosts(ctx context.Context, channelID int64, limit int) ([]Post, error)
	// CountGeneratedForDay считает готовые посты канала, созданные в указанный день.
	CountGeneratedForDay(ctx context.Context, channelID int64, day time.Time) (int, error)
	// OldestGeneratedForDay возвращает самый старый готовый пост дня (FIFO)
	// либо ErrNotFound.
	OldestGeneratedForDay(ctx context.Context, channelID int64, day time.Time) (Post, error)
}

// LogRepo — операторский журнал, только добавление и чтение хвоста.
type LogRepo interface {
	Append(ctx context.Context, entry LogEntry) error
	ListRecent(ctx context.Context, limit int) ([]LogEntry, error)
}

// Generator порождает контент поста по шаблону канала.
// seq — порядковый номер поста внутри дневной партии, им генератор
// разнообразит повторные вызовы с одним шаблоном.
type Generator interface {
	Generate(ctx context.Context, ch Channel, seq int) (Content, error)
}

// MessageSender отправляет готовый контент в Telegram.
type MessageSender interface {
	SendText(ctx context.Context, botToken, chatID, text string) (int64, error)
	SendPhoto(ctx context.Context, botToken, chatID, photoURL, caption string) (int64, error)
}

// DispatchLedger — суточный журнал диспетчеризации: по одной публикации на
// (канал, слот) в календарные сутки. Acquire атомарно занимает слот и
// возвращает false, если слот уже занят. Release откатывает занятие после
// неудачной публикации, чтобы слот мог повториться в пределах окна допуска.
type DispatchLedger interface {
	Acquire(ctx context.Context, day time.Time, channelID int64, slot SlotKey) (bool, error)
	Release(ctx context.Context, day time.Time, channelID int64, slot SlotKey) error
	// Reset очищает журнал при смене календарных суток.
	Reset(ctx context.Context) error
}

// EventPublisher рассылает события изменений для обновления внешних проекций.
// Доставка — необязательное удобство, ошибки не влияют на ядро.
type EventPublisher interface {
	Publish(ctx context.Context, event ChangeEvent) error
}
