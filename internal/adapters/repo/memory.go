package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"tg-autoposter/internal/domain"
)

// Memory — хранилище в памяти с теми же контрактами, что и Postgres.
// Используется в тестах и для локального прогона без БД: каждый кейс
// получает свежий независимый стор.
type Memory struct {
	mu         sync.Mutex
	channels   map[int64]domain.Channel
	posts      map[int64]domain.Post
	logs       []domain.LogEntry
	nextChan   int64
	nextSlot   int64
	nextPost   int64
	nextLogSeq int64
}

// NewMemory создаёт пустое хранилище.
func NewMemory() *Memory {
	return &Memory{
		channels: make(map[int64]domain.Channel),
		posts:    make(map[int64]domain.Post),
	}
}

var _ domain.ChannelRepo = (*Memory)(nil)
var _ domain.PostRepo = (*Memory)(nil)
var _ domain.LogRepo = (*Memory)(nil)

func cloneChannel(ch domain.Channel) domain.Channel {
	out := ch
	out.Schedule = append([]domain.ScheduleSlot(nil), ch.Schedule...)
	return out
}

// CreateChannel сохраняет новый канал с пустым расписанием.
func (m *Memory) CreateChannel(ctx context.Context, ch domain.Channel) (domain.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextChan++
	ch.ID = m.nextChan
	ch.Schedule = nil
	now := time.Now()
	ch.CreatedAt = now
	ch.UpdatedAt = now
	m.channels[ch.ID] = cloneChannel(ch)
	return cloneChannel(ch), nil
}

// UpdateChannel обновляет поля канала, расписание не трогает.
func (m *Memory) UpdateChannel(ctx context.Context, ch domain.Channel) (domain.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.channels[ch.ID]
	if !ok {
		return domain.Channel{}, domain.ErrNotFound
	}
	ch.Schedule = current.Schedule
	ch.CreatedAt = current.CreatedAt
	ch.UpdatedAt = time.Now()
	m.channels[ch.ID] = cloneChannel(ch)
	return cloneChannel(ch), nil
}

// DeleteChannel удаляет канал и каскадом его посты.
func (m *Memory) DeleteChannel(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.channels[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.channels, id)
	for postID, post := range m.posts {
		if post.ChannelID == id {
			delete(m.posts, postID)
		}
	}
	return nil
}

// GetChannel возвращает канал с отсортированным расписанием.
func (m *Memory) GetChannel(ctx context.Context, id int64) (domain.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[id]
	if !ok {
		return domain.Channel{}, domain.ErrNotFound
	}
	return cloneChannel(ch), nil
}

// ListChannels возвращает все каналы.
func (m *Memory) ListChannels(ctx context.Context) ([]domain.Channel, error) {
	return m.list(false), nil
}

// ListActiveChannels возвращает только активные каналы.
func (m *Memory) ListActiveChannels(ctx context.Context) ([]domain.Channel, error) {
	return m.list(true), nil
}

func (m *Memory) list(onlyActive bool) []domain.Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		if onlyActive && !ch.IsActive {
			continue
		}
		out = append(out, cloneChannel(ch))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetActive переключает активность канала.
func (m *Memory) SetActive(ctx context.Context, id int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[id]
	if !ok {
		return domain.ErrNotFound
	}
	ch.IsActive = active
	ch.UpdatedAt = time.Now()
	m.channels[id] = ch
	return nil
}

// AddSlot добавляет слот, дубликат (час, минута) отклоняется без изменений.
func (m *Memory) AddSlot(ctx context.Context, slot domain.ScheduleSlot) (domain.ScheduleSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[slot.ChannelID]
	if !ok {
		return domain.ScheduleSlot{}, domain.ErrNotFound
	}
	for _, existing := range ch.Schedule {
		if existing.Hour == slot.Hour && existing.Minute == slot.Minute {
			return domain.ScheduleSlot{}, domain.ErrDuplicateSlot
		}
	}
	m.nextSlot++
	slot.ID = m.nextSlot
	ch.Schedule = append(ch.Schedule, slot)
	domain.SortSchedule(ch.Schedule)
	m.channels[slot.ChannelID] = ch
	return slot, nil
}

// RemoveSlot убирает слот из расписания.
func (m *Memory) RemoveSlot(ctx context.Context, channelID, slotID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[channelID]
	if !ok {
		return domain.ErrNotFound
	}
	for i, slot := range ch.Schedule {
		if slot.ID == slotID {
			ch.Schedule = append(ch.Schedule[:i], ch.Schedule[i+1:]...)
			m.channels[channelID] = ch
			return nil
		}
	}
	return domain.ErrNotFound
}

// ReplaceSchedule заменяет расписание канала целиком.
func (m *Memory) ReplaceSchedule(ctx context.Context, channelID int64, slots []domain.ScheduleSlot) ([]domain.ScheduleSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[channelID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	replaced := make([]domain.ScheduleSlot, 0, len(slots))
	for _, slot := range slots {
		m.nextSlot++
		slot.ID = m.nextSlot
		slot.ChannelID = channelID
		replaced = append(replaced, slot)
	}
	domain.SortSchedule(replaced)
	ch.Schedule = replaced
	m.channels[channelID] = ch
	return append([]domain.ScheduleSlot(nil), replaced...), nil
}

// CreatePost сохраняет новый пост.
func (m *Memory) CreatePost(ctx context.Context, post domain.Post) (domain.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextPost++
	post.ID = m.nextPost
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now()
	}
	m.posts[post.ID] = post
	return post, nil
}

// UpdatePost перезаписывает пост.
func (m *Memory) UpdatePost(ctx context.Context, post domain.Post) (domain.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[post.ID]; !ok {
		return domain.Post{}, domain.ErrNotFound
	}
	m.posts[post.ID] = post
	return post, nil
}

// DeletePost удаляет пост.
func (m *Memory) DeletePost(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.posts, id)
	return nil
}

// GetPost возвращает пост.
func (m *Memory) GetPost(ctx context.Context, id int64) (domain.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	post, ok := m.posts[id]
	if !ok {
		return domain.Post{}, domain.ErrNotFound
	}
	return post, nil
}

// ListChannelPosts возвращает последние посты канала, свежие первыми.
func (m *Memory) ListChannelPosts(ctx context.Context, channelID int64, limit int) ([]domain.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Post
	for _, post := range m.posts {
		if post.ChannelID == channelID {
			out = append(out, post)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sameDay(a, b time.Time) bool {
	a = a.In(b.Location())
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

// CountGeneratedForDay считает готовые посты канала за календарные сутки.
func (m *Memory) CountGeneratedForDay(ctx context.Context, channelID int64, day time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, post := range m.posts {
		if post.ChannelID == channelID && post.Status == domain.PostStatusGenerated && sameDay(post.CreatedAt, day) {
			count++
		}
	}
	return count, nil
}

// OldestGeneratedForDay возвращает самый старый готовый пост суток (FIFO).
func (m *Memory) OldestGeneratedForDay(ctx context.Context, channelID int64, day time.Time) (domain.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		found  bool
		oldest domain.Post
	)
	for _, post := range m.posts {
		if post.ChannelID != channelID || post.Status != domain.PostStatusGenerated || !sameDay(post.CreatedAt, day) {
			continue
		}
		if !found || post.CreatedAt.Before(oldest.CreatedAt) || (post.CreatedAt.Equal(oldest.CreatedAt) && post.ID < oldest.ID) {
			oldest = post
			found = true
		}
	}
	if !found {
		return domain.Post{}, domain.ErrNotFound
	}
	return oldest, nil
}

// Append добавляет запись журнала.
func (m *Memory) Append(ctx context.Context, entry domain.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextLogSeq++
	entry.ID = m.nextLogSeq
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	m.logs = append(m.logs, entry)
	return nil
}

// ListRecent возвращает хвост журнала, свежие первыми.
func (m *Memory) ListRecent(ctx context.Context, limit int) ([]domain.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	out := make([]domain.LogEntry, 0, limit)
	for i := len(m.logs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.logs[i])
	}
	return out, nil
}
