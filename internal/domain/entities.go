package domain

import (
	"sort"
	"strings"
	"time"
)

// ScheduleSlot описывает время публикации внутри суток.
type ScheduleSlot struct {
	ID        int64
	ChannelID int64
	Hour      int
	Minute    int
}

// Before сравнивает слоты по (час, минута).
func (s ScheduleSlot) Before(other ScheduleSlot) bool {
	if s.Hour != other.Hour {
		return s.Hour < other.Hour
	}
	return s.Minute < other.Minute
}

// Key возвращает ключ слота внутри суток.
func (s ScheduleSlot) Key() SlotKey {
	return SlotKey{Hour: s.Hour, Minute: s.Minute}
}

// SlotKey идентифицирует слот внутри суток для журнала диспетчеризации.
type SlotKey struct {
	Hour   int
	Minute int
}

// Channel описывает управляемый Telegram-канал с собственным расписанием.
type Channel struct {
	ID             int64
	Title          string
	BotToken       string
	ChatID         string
	PromptTemplate string
	GenAPIKey      string
	IsActive       bool
	Schedule       []ScheduleSlot
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PostsPerDay выводится из длины расписания.
func (c Channel) PostsPerDay() int {
	return len(c.Schedule)
}

// SortSchedule упорядочивает слоты по возрастанию (час, минута).
func SortSchedule(slots []ScheduleSlot) {
	sort.SliceStable(slots, func(i, j int) bool { return slots[i].Before(slots[j]) })
}

// PostStatus — состояние поста: pending → generated → {published | failed}.
type PostStatus string

const (
	PostStatusPending   PostStatus = "pending"
	PostStatusGenerated PostStatus = "generated"
	PostStatusPublished PostStatus = "published"
	PostStatusFailed    PostStatus = "failed"
)

// PlaceholderImagePrefix — префикс детерминированной заглушки вместо сгенерированной картинки.
const PlaceholderImagePrefix = "https://placehold.co/1024x768"

// IsPlaceholderImage сообщает, что URL картинки — заглушка, а не результат генерации.
func IsPlaceholderImage(url string) bool {
	return strings.HasPrefix(url, PlaceholderImagePrefix)
}

// Post представляет подготовленную или опубликованную запись канала.
type Post struct {
	ID             int64
	ChannelID      int64
	Text           string
	ImageURL       string
	Status         PostStatus
	Error          string
	TelegramPostID int64
	CreatedAt      time.Time
	PublishedAt    *time.Time
}

// HasImage сообщает, что пост нужно отправлять как фото с подписью.
func (p Post) HasImage() bool {
	return p.ImageURL != "" && !IsPlaceholderImage(p.ImageURL)
}

// Content — результат генерации контента для одного поста.
type Content struct {
	Text     string
	ImageURL string
}

// ChannelRunStatus — отображаемое состояние канала для оператора.
type ChannelRunStatus string

const (
	ChannelStatusInactive   ChannelRunStatus = "неактивен"
	ChannelStatusWaiting    ChannelRunStatus = "ожидание"
	ChannelStatusWorking    ChannelRunStatus = "выполняется"
	ChannelStatusMaybeStuck ChannelRunStatus = "возможно завис"
)

// ChannelStatus — строка статуса одного канала в общей сводке.
type ChannelStatus struct {
	ChannelID    int64
	Title        string
	Status       ChannelRunStatus
	NextPostTime *time.Time
}

// BotStatus — сводка состояния планировщика. Проекция, в БД не хранится.
type BotStatus struct {
	IsRunning     bool
	CurrentAction string
	LastUpdate    time.Time
	Channels      []ChannelStatus
}

// LogLevel — уровень записи операторского журнала.
type LogLevel string

const (
	LogLevelInfo    LogLevel = "info"
	LogLevelSuccess LogLevel = "success"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// LogEntry — запись операторского журнала.
type LogEntry struct {
	ID        int64
	ChannelID *int64
	Level     LogLevel
	Message   string
	CreatedAt time.Time
}
