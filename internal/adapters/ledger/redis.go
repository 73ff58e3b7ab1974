package ledger

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"tg-autoposter/internal/domain"
	"tg-autoposter/internal/infra/metrics"
)

// Redis — суточный журнал диспетчеризации на Redis. SetNX атомарно занимает
// слот, TTL до конца суток заменяет полуночную очистку: ключи прошлого дня
// истекают сами. Переживает рестарт процесса.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis создаёт журнал с указанным префиксом ключей.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "dispatch"
	}
	return &Redis{client: client, prefix: prefix}
}

var _ domain.DispatchLedger = (*Redis)(nil)

func (r *Redis) key(day time.Time, channelID int64, slot domain.SlotKey) string {
	return r.prefix + ":" + slotKey(day, channelID, slot)
}

func ttlUntilNextDay(day time.Time) time.Duration {
	next := time.Date(day.Year(), day.Month(), day.Day()+1, 0, 5, 0, 0, day.Location())
	ttl := time.Until(next)
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return ttl
}

// Acquire занимает слот на сутки. Возвращает false, если слот уже занят.
func (r *Redis) Acquire(ctx context.Context, day time.Time, channelID int64, slot domain.SlotKey) (bool, error) {
	start := time.Now()
	ok, err := r.client.SetNX(ctx, r.key(day, channelID, slot), "1", ttlUntilNextDay(day)).Result()
	metrics.ObserveNetworkRequest("redis", "ledger_acquire", r.prefix, start, err)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Release снимает пометку после неудачной публикации.
func (r *Redis) Release(ctx context.Context, day time.Time, channelID int64, slot domain.SlotKey) error {
	start := time.Now()
	err := r.client.Del(ctx, r.key(day, channelID, slot)).Err()
	metrics.ObserveNetworkRequest("redis", "ledger_release", r.prefix, start, err)
	return err
}

// Reset не нужен: ключи привязаны к дате и истекают по TTL.
func (r *Redis) Reset(ctx context.Context) error {
	return nil
}
