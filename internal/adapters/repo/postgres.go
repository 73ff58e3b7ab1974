package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tg-autoposter/internal/domain"
	"tg-autoposter/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

var _ domain.ChannelRepo = (*Postgres)(nil)
var _ domain.PostRepo = (*Postgres)(nil)
var _ domain.LogRepo = (*Postgres)(nil)

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// dayBounds возвращает границы календарных суток в зоне переданного дня.
func dayBounds(day time.Time) (time.Time, time.Time) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, day.Location())
	return start, end
}

// CreateChannel сохраняет новый канал. Расписание канала при создании пустое.
func (p *Postgres) CreateChannel(ctx context.Context, ch domain.Channel) (domain.Channel, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO channels (title, bot_token, chat_id, prompt_template, gen_api_key, is_active)
VALUES ($1, $2, $3, $4, NULLIF($5,''), $6)
RETURNING id, created_at, updated_at
`, ch.Title, ch.BotToken, ch.ChatID, ch.PromptTemplate, ch.GenAPIKey, ch.IsActive).
		Scan(&ch.ID, &ch.CreatedAt, &ch.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "channels_insert", "channels", start, err)
	if err != nil {
		return domain.Channel{}, err
	}
	ch.Schedule = nil
	return ch, nil
}

// UpdateChannel обновляет поля канала (кроме расписания).
func (p *Postgres) UpdateChannel(ctx context.Context, ch domain.Channel) (domain.Channel, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE channels
SET title = $2, bot_token = $3, chat_id = $4, prompt_template = $5, gen_api_key = NULLIF($6,''), is_active = $7, updated_at = now()
WHERE id = $1
`, ch.ID, ch.Title, ch.BotToken, ch.ChatID, ch.PromptTemplate, ch.GenAPIKey, ch.IsActive)
	metrics.ObserveNetworkRequest("postgres", "channels_update", "channels", start, err)
	if err != nil {
		return domain.Channel{}, err
	}
	if tag.RowsAffected() == 0 {
		return domain.Channel{}, domain.ErrNotFound
	}
	return p.GetChannel(ctx, ch.ID)
}

// DeleteChannel удаляет канал; расписание и посты уходят каскадом.
func (p *Postgres) DeleteChannel(ctx context.Context, id int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM channels WHERE id = $1`, id)
	metrics.ObserveNetworkRequest("postgres", "channels_delete", "channels", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetChannel возвращает канал вместе с отсортированным расписанием.
func (p *Postgres) GetChannel(ctx context.Context, id int64) (domain.Channel, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		ch     domain.Channel
		apiKey sql.NullString
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, title, bot_token, chat_id, prompt_template, gen_api_key, is_active, created_at, updated_at
FROM channels WHERE id = $1
`, id).Scan(&ch.ID, &ch.Title, &ch.BotToken, &ch.ChatID, &ch.PromptTemplate, &apiKey, &ch.IsActive, &ch.CreatedAt, &ch.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "channels_get", "channels", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Channel{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Channel{}, err
	}
	if apiKey.Valid {
		ch.GenAPIKey = apiKey.String
	}
	slots, err := p.listSlots(ctx, []int64{ch.ID})
	if err != nil {
		return domain.Channel{}, err
	}
	ch.Schedule = slots[ch.ID]
	return ch, nil
}

// ListChannels возвращает все каналы с расписаниями.
func (p *Postgres) ListChannels(ctx context.Context) ([]domain.Channel, error) {
	return p.listChannels(ctx, false)
}

// ListActiveChannels возвращает только активные каналы.
func (p *Postgres) ListActiveChannels(ctx context.Context) ([]domain.Channel, error) {
	return p.listChannels(ctx, true)
}

func (p *Postgres) listChannels(ctx context.Context, onlyActive bool) ([]domain.Channel, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	query := `
SELECT id, title, bot_token, chat_id, prompt_template, gen_api_key, is_active, created_at, updated_at
FROM channels`
	if onlyActive {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY id`

	start := time.Now()
	rows, err := p.pool.Query(ctx, query)
	metrics.ObserveNetworkRequest("postgres", "channels_list", "channels", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []domain.Channel
	var ids []int64
	for rows.Next() {
		var (
			ch     domain.Channel
			apiKey sql.NullString
		)
		if err := rows.Scan(&ch.ID, &ch.Title, &ch.BotToken, &ch.ChatID, &ch.PromptTemplate, &apiKey, &ch.IsActive, &ch.CreatedAt, &ch.UpdatedAt); err != nil {
			return nil, err
		}
		if apiKey.Valid {
			ch.GenAPIKey = apiKey.String
		}
		channels = append(channels, ch)
		ids = append(ids, ch.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return channels, nil
	}
	slots, err := p.listSlots(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range channels {
		channels[i].Schedule = slots[channels[i].ID]
	}
	return channels, nil
}

func (p *Postgres) listSlots(ctx context.Context, channelIDs []int64) (map[int64][]domain.ScheduleSlot, error) {
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, channel_id, hour, minute
FROM channel_schedules
WHERE channel_id = ANY($1)
ORDER BY hour, minute
`, channelIDs)
	metrics.ObserveNetworkRequest("postgres", "schedules_list", "channel_schedules", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]domain.ScheduleSlot, len(channelIDs))
	for rows.Next() {
		var slot domain.ScheduleSlot
		if err := rows.Scan(&slot.ID, &slot.ChannelID, &slot.Hour, &slot.Minute); err != nil {
			return nil, err
		}
		out[slot.ChannelID] = append(out[slot.ChannelID], slot)
	}
	return out, rows.Err()
}

// SetActive переключает активность канала.
func (p *Postgres) SetActive(ctx context.Context, id int64, active bool) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `UPDATE channels SET is_active = $2, updated_at = now() WHERE id = $1`, id, active)
	metrics.ObserveNetworkRequest("postgres", "channels_set_active", "channels", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AddSlot добавляет слот расписания. Дубликат (час, минута) отклоняется
// уникальным индексом без изменения данных.
func (p *Postgres) AddSlot(ctx context.Context, slot domain.ScheduleSlot) (domain.ScheduleSlot, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO channel_schedules (channel_id, hour, minute)
VALUES ($1, $2, $3)
RETURNING id
`, slot.ChannelID, slot.Hour, slot.Minute).Scan(&slot.ID)
	metrics.ObserveNetworkRequest("postgres", "schedules_insert", "channel_schedules", start, err)
	if isUniqueViolation(err) {
		return domain.ScheduleSlot{}, domain.ErrDuplicateSlot
	}
	if err != nil {
		return domain.ScheduleSlot{}, err
	}
	return slot, nil
}

// RemoveSlot удаляет слот расписания канала.
func (p *Postgres) RemoveSlot(ctx context.Context, channelID, slotID int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM channel_schedules WHERE id = $1 AND channel_id = $2`, slotID, channelID)
	metrics.ObserveNetworkRequest("postgres", "schedules_delete", "channel_schedules", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ReplaceSchedule атомарно заменяет всё расписание канала.
func (p *Postgres) ReplaceSchedule(ctx context.Context, channelID int64, slots []domain.ScheduleSlot) ([]domain.ScheduleSlot, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "channel_schedules", start, err)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM channel_schedules WHERE channel_id = $1`, channelID); err != nil {
		return nil, err
	}
	domain.SortSchedule(slots)
	out := make([]domain.ScheduleSlot, 0, len(slots))
	for _, slot := range slots {
		slot.ChannelID = channelID
		if err := tx.QueryRow(ctx, `
INSERT INTO channel_schedules (channel_id, hour, minute)
VALUES ($1, $2, $3)
RETURNING id
`, channelID, slot.Hour, slot.Minute).Scan(&slot.ID); err != nil {
			if isUniqueViolation(err) {
				return nil, domain.ErrDuplicateSlot
			}
			return nil, err
		}
		out = append(out, slot)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// CreatePost сохраняет новый пост.
func (p *Postgres) CreatePost(ctx context.Context, post domain.Post) (domain.Post, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now()
	}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO posts (channel_id, text, image_url, status, error, telegram_post_id, created_at)
VALUES ($1, $2, NULLIF($3,''), $4, NULLIF($5,''), NULLIF($6,0), $7)
RETURNING id
`, post.ChannelID, post.Text, post.ImageURL, post.Status, post.Error, post.TelegramPostID, post.CreatedAt).Scan(&post.ID)
	metrics.ObserveNetworkRequest("postgres", "posts_insert", "posts", start, err)
	if err != nil {
		return domain.Post{}, err
	}
	return post, nil
}

// UpdatePost перезаписывает изменяемые поля поста.
func (p *Postgres) UpdatePost(ctx context.Context, post domain.Post) (domain.Post, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var publishedAt sql.NullTime
	if post.PublishedAt != nil {
		publishedAt = sql.NullTime{Time: *post.PublishedAt, Valid: true}
	}
	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE posts
SET text = $2, image_url = NULLIF($3,''), status = $4, error = NULLIF($5,''), telegram_post_id = NULLIF($6,0), published_at = $7
WHERE id = $1
`, post.ID, post.Text, post.ImageURL, post.Status, post.Error, post.TelegramPostID, publishedAt)
	metrics.ObserveNetworkRequest("postgres", "posts_update", "posts", start, err)
	if err != nil {
		return domain.Post{}, err
	}
	if tag.RowsAffected() == 0 {
		return domain.Post{}, domain.ErrNotFound
	}
	return post, nil
}

// DeletePost удаляет пост.
func (p *Postgres) DeletePost(ctx context.Context, id int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM posts WHERE id = $1`, id)
	metrics.ObserveNetworkRequest("postgres", "posts_delete", "posts", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetPost возвращает пост по идентификатору.
func (p *Postgres) GetPost(ctx context.Context, id int64) (domain.Post, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
SELECT id, channel_id, text, COALESCE(image_url,''), status, COALESCE(error,''), COALESCE(telegram_post_id,0), created_at, published_at
FROM posts WHERE id = $1
`, id)
	post, err := scanPost(row)
	metrics.ObserveNetworkRequest("postgres", "posts_get", "posts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Post{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Post{}, err
	}
	return post, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (domain.Post, error) {
	var (
		post        domain.Post
		publishedAt sql.NullTime
	)
	err := row.Scan(&post.ID, &post.ChannelID, &post.Text, &post.ImageURL, &post.Status, &post.Error, &post.TelegramPostID, &post.CreatedAt, &publishedAt)
	if err != nil {
		return domain.Post{}, err
	}
	if publishedAt.Valid {
		ts := publishedAt.Time
		post.PublishedAt = &ts
	}
	return post, nil
}

// ListChannelPosts возвращает последние посты канала, свежие первыми.
func (p *Postgres) ListChannelPosts(ctx context.Context, channelID int64, limit int) ([]domain.Post, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, channel_id, text, COALESCE(image_url,''), status, COALESCE(error,''), COALESCE(telegram_post_id,0), created_at, published_at
FROM posts
WHERE channel_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2
`, channelID, limit)
	metrics.ObserveNetworkRequest("postgres", "posts_list", "posts", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// CountGeneratedForDay считает готовые посты канала за календарные сутки.
func (p *Postgres) CountGeneratedForDay(ctx context.Context, channelID int64, day time.Time) (int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	dayStart, dayEnd := dayBounds(day)
	var count int
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT count(*) FROM posts
WHERE channel_id = $1 AND status = $2 AND created_at >= $3 AND created_at < $4
`, channelID, domain.PostStatusGenerated, dayStart, dayEnd).Scan(&count)
	metrics.ObserveNetworkRequest("postgres", "posts_count_generated", "posts", start, err)
	return count, err
}

// OldestGeneratedForDay возвращает самый старый готовый пост суток (FIFO).
func (p *Postgres) OldestGeneratedForDay(ctx context.Context, channelID int64, day time.Time) (domain.Post, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	dayStart, dayEnd := dayBounds(day)
	start := time.Now()
	row := p.pool.QueryRow(ctx, `
SELECT id, channel_id, text, COALESCE(image_url,''), status, COALESCE(error,''), COALESCE(telegram_post_id,0), created_at, published_at
FROM posts
WHERE channel_id = $1 AND status = $2 AND created_at >= $3 AND created_at < $4
ORDER BY created_at, id
LIMIT 1
`, channelID, domain.PostStatusGenerated, dayStart, dayEnd)
	post, err := scanPost(row)
	metrics.ObserveNetworkRequest("postgres", "posts_oldest_generated", "posts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Post{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Post{}, err
	}
	return post, nil
}

// Append добавляет запись операторского журнала.
func (p *Postgres) Append(ctx context.Context, entry domain.LogEntry) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var channelID sql.NullInt64
	if entry.ChannelID != nil {
		channelID = sql.NullInt64{Int64: *entry.ChannelID, Valid: true}
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO bot_logs (channel_id, level, message, created_at)
VALUES ($1, $2, $3, $4)
`, channelID, entry.Level, entry.Message, entry.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "bot_logs_insert", "bot_logs", start, err)
	return err
}

// ListRecent возвращает хвост журнала, свежие записи первыми.
func (p *Postgres) ListRecent(ctx context.Context, limit int) ([]domain.LogEntry, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if limit <= 0 || limit > 100 {
		limit = 100
	}
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, channel_id, level, message, created_at
FROM bot_logs
ORDER BY created_at DESC, id DESC
LIMIT $1
`, limit)
	metrics.ObserveNetworkRequest("postgres", "bot_logs_list", "bot_logs", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LogEntry
	for rows.Next() {
		var (
			entry     domain.LogEntry
			channelID sql.NullInt64
		)
		if err := rows.Scan(&entry.ID, &channelID, &entry.Level, &entry.Message, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if channelID.Valid {
			id := channelID.Int64
			entry.ChannelID = &id
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
