package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-autoposter/internal/adapters/generator"
	"tg-autoposter/internal/adapters/ledger"
	"tg-autoposter/internal/adapters/repo"
	"tg-autoposter/internal/domain"
	"tg-autoposter/internal/usecase/planner"
	"tg-autoposter/internal/usecase/publish"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type fakeSender struct {
	mu       sync.Mutex
	failures int
	sent     []string
}

func (f *fakeSender) send(text string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return 0, errors.New("telegram: 502 Bad Gateway")
	}
	f.sent = append(f.sent, text)
	return int64(len(f.sent)), nil
}

func (f *fakeSender) SendText(ctx context.Context, botToken, chatID, text string) (int64, error) {
	return f.send(text)
}

func (f *fakeSender) SendPhoto(ctx context.Context, botToken, chatID, photoURL, caption string) (int64, error) {
	return f.send(caption)
}

func (f *fakeSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeSender) setFailures(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
}

type rig struct {
	runner  *Runner
	store   *repo.Memory
	ledger  *ledger.Memory
	sender  *fakeSender
	clock   *fakeClock
	planner *planner.Service
}

func newRig(t *testing.T, start time.Time) *rig {
	t.Helper()
	store := repo.NewMemory()
	clock := &fakeClock{t: start}
	sender := &fakeSender{}
	led := ledger.NewMemory()

	publisher := publish.NewService(zerolog.Nop(), store, store, sender, nil, time.Second).WithNow(clock.Now)
	plannerSvc := planner.NewService(zerolog.Nop(), store, store, store, generator.NewFallback(), nil, time.UTC, 0).WithNow(clock.Now)
	runner := NewRunner(zerolog.Nop(), store, store, store, plannerSvc, publisher, led, nil, Options{
		TickInterval:     time.Hour,
		ToleranceMinutes: 2,
		WatchdogAfter:    time.Minute,
		Location:         time.UTC,
	}).WithNow(clock.Now)

	// Планировщик считается запущенным, цикл тикера в тестах не нужен:
	// тики прогоняются вручную.
	runner.mu.Lock()
	runner.running = true
	runner.lastDay = start.In(time.UTC).Format("2006-01-02")
	runner.mu.Unlock()

	return &rig{runner: runner, store: store, ledger: led, sender: sender, clock: clock, planner: plannerSvc}
}

func (r *rig) addChannel(t *testing.T, slots ...domain.SlotKey) domain.Channel {
	t.Helper()
	ch, err := r.store.CreateChannel(context.Background(), domain.Channel{
		Title:          "Тестовый",
		BotToken:       "123456789:ABC-DEF1234ghIkl-zyx57W2v1u123ew11",
		ChatID:         "-1001234567890",
		PromptTemplate: "новости технологий",
		IsActive:       true,
	})
	if err != nil {
		t.Fatalf("создание канала: %v", err)
	}
	schedule := make([]domain.ScheduleSlot, 0, len(slots))
	for _, key := range slots {
		schedule = append(schedule, domain.ScheduleSlot{Hour: key.Hour, Minute: key.Minute})
	}
	if _, err := r.store.ReplaceSchedule(context.Background(), ch.ID, schedule); err != nil {
		t.Fatalf("расписание: %v", err)
	}
	ch, _ = r.store.GetChannel(context.Background(), ch.ID)
	return ch
}

func (r *rig) plan(t *testing.T) {
	t.Helper()
	if err := r.planner.EnsureAll(context.Background()); err != nil {
		t.Fatalf("подготовка партии: %v", err)
	}
}

func day(hour, minute int) time.Time {
	return time.Date(2024, 5, 1, hour, minute, 0, 0, time.UTC)
}

func TestTickPublishesSlotExactlyOnce(t *testing.T) {
	r := newRig(t, day(8, 0))
	ch := r.addChannel(t, domain.SlotKey{Hour: 9})
	r.plan(t)

	r.clock.Set(day(9, 0))
	r.runner.Tick(context.Background())
	r.runner.Tick(context.Background())
	r.clock.Set(day(9, 1))
	r.runner.Tick(context.Background())

	if got := r.sender.sentCount(); got != 1 {
		t.Fatalf("слот должен сработать ровно один раз за сутки, отправок: %d", got)
	}
	posts, _ := r.store.ListChannelPosts(context.Background(), ch.ID, 10)
	published := 0
	for _, p := range posts {
		if p.Status == domain.PostStatusPublished {
			published++
		}
	}
	if published != 1 {
		t.Fatalf("ожидали 1 опубликованный пост, получили %d", published)
	}
}

func TestTickOutsideToleranceDoesNothing(t *testing.T) {
	r := newRig(t, day(8, 0))
	r.addChannel(t, domain.SlotKey{Hour: 9})
	r.plan(t)

	r.clock.Set(day(9, 3))
	r.runner.Tick(context.Background())
	if got := r.sender.sentCount(); got != 0 {
		t.Fatalf("минута вне окна допуска не должна публиковать, отправок: %d", got)
	}

	r.clock.Set(day(10, 0))
	r.runner.Tick(context.Background())
	if got := r.sender.sentCount(); got != 0 {
		t.Fatalf("чужой час не должен публиковать, отправок: %d", got)
	}

	r.clock.Set(day(9, 2))
	r.runner.Tick(context.Background())
	if got := r.sender.sentCount(); got != 1 {
		t.Fatalf("край окна допуска должен публиковать, отправок: %d", got)
	}
}

func TestTickRetriesWithinToleranceAfterFailure(t *testing.T) {
	r := newRig(t, day(8, 0))
	ch := r.addChannel(t, domain.SlotKey{Hour: 9}, domain.SlotKey{Hour: 21})
	r.plan(t)
	r.sender.setFailures(1)

	r.clock.Set(day(9, 0))
	r.runner.Tick(context.Background())
	if got := r.sender.sentCount(); got != 0 {
		t.Fatalf("первая попытка должна провалиться, отправок: %d", got)
	}

	// Неудача не помечает слот: следующий тик в окне допуска повторяет.
	r.clock.Set(day(9, 1))
	r.runner.Tick(context.Background())
	if got := r.sender.sentCount(); got != 1 {
		t.Fatalf("повтор в окне допуска должен опубликовать, отправок: %d", got)
	}

	posts, _ := r.store.ListChannelPosts(context.Background(), ch.ID, 10)
	var published, failed int
	for _, p := range posts {
		switch p.Status {
		case domain.PostStatusPublished:
			published++
		case domain.PostStatusFailed:
			failed++
		}
	}
	if published != 1 || failed != 1 {
		t.Fatalf("ожидали 1 published и 1 failed, получили %d и %d", published, failed)
	}
}

func TestTickWarnsWhenNoEligiblePost(t *testing.T) {
	r := newRig(t, day(8, 0))
	ch := r.addChannel(t, domain.SlotKey{Hour: 9})
	// Партию сознательно не готовим.

	r.clock.Set(day(9, 0))
	r.runner.Tick(context.Background())

	if got := r.sender.sentCount(); got != 0 {
		t.Fatalf("без готового поста отправок быть не должно: %d", got)
	}
	logs, _ := r.store.ListRecent(context.Background(), 10)
	found := false
	for _, entry := range logs {
		if entry.Level == domain.LogLevelWarning && strings.Contains(entry.Message, "готового поста нет") {
			found = true
		}
	}
	if !found {
		t.Fatalf("ожидали предупреждение о сработавшем слоте без поста")
	}

	// Слот не помечен: появление поста в окне допуска догоняет публикацию.
	if _, err := r.store.CreatePost(context.Background(), domain.Post{
		ChannelID: ch.ID,
		Text:      "догнали",
		Status:    domain.PostStatusGenerated,
		CreatedAt: day(9, 0),
	}); err != nil {
		t.Fatalf("создание поста: %v", err)
	}
	r.clock.Set(day(9, 1))
	r.runner.Tick(context.Background())
	if got := r.sender.sentCount(); got != 1 {
		t.Fatalf("появившийся пост должен уйти на повторном тике, отправок: %d", got)
	}
}

func TestRolloverResetsLedgerAndRegenerates(t *testing.T) {
	r := newRig(t, day(8, 0))
	ch := r.addChannel(t, domain.SlotKey{Hour: 9}, domain.SlotKey{Hour: 21})
	r.plan(t)

	r.clock.Set(day(9, 0))
	r.runner.Tick(context.Background())
	r.clock.Set(day(21, 0))
	r.runner.Tick(context.Background())
	if got := r.sender.sentCount(); got != 2 {
		t.Fatalf("за первые сутки должно уйти 2 поста, отправок: %d", got)
	}

	nextDay := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	r.clock.Set(nextDay)
	r.runner.Tick(context.Background())

	count, _ := r.store.CountGeneratedForDay(context.Background(), ch.ID, nextDay)
	if count != 2 {
		t.Fatalf("смена суток должна подготовить новую партию, готово: %d", count)
	}

	// Журнал очищен: вчерашние слоты снова доступны в новых сутках.
	r.clock.Set(time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC))
	r.runner.Tick(context.Background())
	if got := r.sender.sentCount(); got != 3 {
		t.Fatalf("слот 09:00 новых суток должен сработать, отправок: %d", got)
	}
}

func TestTickIgnoresInactiveChannels(t *testing.T) {
	r := newRig(t, day(8, 0))
	ch := r.addChannel(t, domain.SlotKey{Hour: 9})
	r.plan(t)
	if err := r.store.SetActive(context.Background(), ch.ID, false); err != nil {
		t.Fatalf("деактивация: %v", err)
	}

	r.clock.Set(day(9, 0))
	r.runner.Tick(context.Background())
	if got := r.sender.sentCount(); got != 0 {
		t.Fatalf("неактивный канал не должен публиковаться, отправок: %d", got)
	}
}

func TestFullDaySchedule(t *testing.T) {
	r := newRig(t, day(0, 0))
	ch := r.addChannel(t, domain.SlotKey{Hour: 9}, domain.SlotKey{Hour: 21})
	r.plan(t)

	start := day(0, 0)
	for minute := 0; minute < 24*60; minute++ {
		r.clock.Set(start.Add(time.Duration(minute) * time.Minute))
		r.runner.Tick(context.Background())
	}

	if got := r.sender.sentCount(); got != 2 {
		t.Fatalf("за сутки должно уйти ровно 2 поста, отправок: %d", got)
	}
	posts, _ := r.store.ListChannelPosts(context.Background(), ch.ID, 10)
	for _, p := range posts {
		if p.Status != domain.PostStatusPublished {
			t.Fatalf("все посты партии должны быть опубликованы, пост %d в статусе %s", p.ID, p.Status)
		}
	}
	if len(posts) != 2 {
		t.Fatalf("партия должна состоять из 2 постов, получили %d", len(posts))
	}
}

func TestStartStop(t *testing.T) {
	store := repo.NewMemory()
	publisher := publish.NewService(zerolog.Nop(), store, store, &fakeSender{}, nil, time.Second)
	plannerSvc := planner.NewService(zerolog.Nop(), store, store, store, generator.NewFallback(), nil, time.UTC, 0)
	runner := NewRunner(zerolog.Nop(), store, store, store, plannerSvc, publisher, ledger.NewMemory(), nil, Options{
		TickInterval: time.Hour,
		Location:     time.UTC,
	})

	if runner.IsRunning() {
		t.Fatalf("новый планировщик не должен быть запущен")
	}
	runner.Start()
	if !runner.IsRunning() {
		t.Fatalf("после Start планировщик должен быть запущен")
	}
	runner.Start() // повторный запуск — no-op
	runner.Stop()
	if runner.IsRunning() {
		t.Fatalf("после Stop планировщик должен быть остановлен")
	}
	runner.Stop() // повторная остановка — no-op

	logs, _ := store.ListRecent(context.Background(), 10)
	var started, stopped bool
	for _, entry := range logs {
		if strings.Contains(entry.Message, "запущен") {
			started = true
		}
		if strings.Contains(entry.Message, "остановлен") {
			stopped = true
		}
	}
	if !started || !stopped {
		t.Fatalf("журнал должен фиксировать запуск и остановку")
	}
}

// slowGenerator растягивает стартовое планирование, чтобы остановка и
// перезапуск пересекались с ним по времени.
type slowGenerator struct {
	delay time.Duration
}

func (g *slowGenerator) Generate(ctx context.Context, ch domain.Channel, seq int) (domain.Content, error) {
	time.Sleep(g.delay)
	return domain.Content{Text: fmt.Sprintf("пост %d", seq)}, nil
}

func TestRestartWhileStartupPlanning(t *testing.T) {
	store := repo.NewMemory()
	ch, err := store.CreateChannel(context.Background(), domain.Channel{
		Title:          "Тестовый",
		BotToken:       "123456789:ABC-DEF1234ghIkl-zyx57W2v1u123ew11",
		ChatID:         "-1001234567890",
		PromptTemplate: "новости технологий",
		IsActive:       true,
	})
	if err != nil {
		t.Fatalf("создание канала: %v", err)
	}
	if _, err := store.ReplaceSchedule(context.Background(), ch.ID, []domain.ScheduleSlot{{Hour: 9}, {Hour: 21}}); err != nil {
		t.Fatalf("расписание: %v", err)
	}

	gen := &slowGenerator{delay: 50 * time.Millisecond}
	publisher := publish.NewService(zerolog.Nop(), store, store, &fakeSender{}, nil, time.Second)
	plannerSvc := planner.NewService(zerolog.Nop(), store, store, store, gen, nil, time.UTC, 0)
	runner := NewRunner(zerolog.Nop(), store, store, store, plannerSvc, publisher, ledger.NewMemory(), nil, Options{
		TickInterval: time.Hour,
		Location:     time.UTC,
	})

	runner.Start()
	stopped := make(chan struct{})
	go func() {
		runner.Stop()
		close(stopped)
	}()
	// Stop помечает остановку сразу, а завершения цикла ждёт отдельно:
	// перезапускаем, пока стартовое планирование первого запуска ещё идёт.
	for runner.IsRunning() {
		time.Sleep(time.Millisecond)
	}
	runner.Start()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatalf("Stop не вернулся: перезапуск во время стартового планирования завис")
	}
	if !runner.IsRunning() {
		t.Fatalf("повторный Start должен оставить планировщик запущенным")
	}
	runner.Stop()
	if runner.IsRunning() {
		t.Fatalf("после финального Stop планировщик должен быть остановлен")
	}
}

// failingReleaseLedger занимает слоты как обычно, но откат всегда падает,
// как при потере соединения с Redis.
type failingReleaseLedger struct {
	*ledger.Memory
	mu       sync.Mutex
	releases int
}

func (l *failingReleaseLedger) Release(ctx context.Context, day time.Time, channelID int64, slot domain.SlotKey) error {
	l.mu.Lock()
	l.releases++
	l.mu.Unlock()
	return errors.New("redis: connection refused")
}

func (l *failingReleaseLedger) releaseCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.releases
}

func TestReleaseFailureIsLogged(t *testing.T) {
	r := newRig(t, day(8, 0))
	r.addChannel(t, domain.SlotKey{Hour: 9})
	r.plan(t)

	var buf bytes.Buffer
	led := &failingReleaseLedger{Memory: ledger.NewMemory()}
	r.runner.ledger = led
	r.runner.log = zerolog.New(&buf)
	r.sender.setFailures(1)

	r.clock.Set(day(9, 0))
	r.runner.Tick(context.Background())

	if got := led.releaseCount(); got != 1 {
		t.Fatalf("неудачная публикация должна откатывать слот, вызовов Release: %d", got)
	}
	if !strings.Contains(buf.String(), "откат слота в журнале дедупликации не удался") {
		t.Fatalf("ошибка отката должна попадать в лог, лог: %s", buf.String())
	}
}

func TestStateSnapshot(t *testing.T) {
	r := newRig(t, day(8, 0))
	snap := r.runner.StateSnapshot()
	if !snap.Running {
		t.Fatalf("снимок должен отражать запущенное состояние")
	}
	if snap.WatchdogAfter != time.Minute {
		t.Fatalf("снимок должен нести порог зависания, получили %v", snap.WatchdogAfter)
	}
	if len(snap.InFlight) != 0 {
		t.Fatalf("без публикаций карта in-flight должна быть пустой")
	}
}
