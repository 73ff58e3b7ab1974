package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tg-autoposter/internal/domain"
)

// Memory — суточный журнал диспетчеризации в памяти процесса.
// Acquire и Release сериализуются мьютексом: проверка и пометка слота —
// одна критическая секция, медленная публикация из прошлого тика не может
// увести слот дважды.
type Memory struct {
	mu    sync.Mutex
	fired map[string]time.Time
}

// NewMemory создаёт журнал.
func NewMemory() *Memory {
	return &Memory{fired: make(map[string]time.Time)}
}

var _ domain.DispatchLedger = (*Memory)(nil)

func slotKey(day time.Time, channelID int64, slot domain.SlotKey) string {
	return fmt.Sprintf("%s:%d:%02d-%02d", day.Format("2006-01-02"), channelID, slot.Hour, slot.Minute)
}

// Acquire занимает слот на сутки. Возвращает false, если слот уже занят.
func (m *Memory) Acquire(ctx context.Context, day time.Time, channelID int64, slot domain.SlotKey) (bool, error) {
	key := slotKey(day, channelID, slot)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.fired[key]; ok {
		return false, nil
	}
	m.fired[key] = time.Now()
	return true, nil
}

// Release снимает пометку после неудачной публикации.
func (m *Memory) Release(ctx context.Context, day time.Time, channelID int64, slot domain.SlotKey) error {
	key := slotKey(day, channelID, slot)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.fired, key)
	return nil
}

// Reset очищает журнал целиком при смене суток.
func (m *Memory) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fired = make(map[string]time.Time)
	return nil
}
