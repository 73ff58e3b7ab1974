package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-autoposter/internal/domain"
	"tg-autoposter/internal/infra/metrics"
	"tg-autoposter/internal/usecase/planner"
	"tg-autoposter/internal/usecase/publish"
)

// Options задают поведение планировщика.
type Options struct {
	// TickInterval — период тика диспетчера.
	TickInterval time.Duration
	// ToleranceMinutes — допуск совпадения минуты слота с текущей минутой,
	// покрывает дрожание таймера.
	ToleranceMinutes int
	// WatchdogAfter — порог, после которого операция канала считается
	// "возможно зависшей". Только индикация, вызов не отменяется.
	WatchdogAfter time.Duration
	// Location — часовой пояс календарных суток.
	Location *time.Location
}

func (o *Options) fill() {
	if o.TickInterval <= 0 {
		o.TickInterval = time.Minute
	}
	if o.ToleranceMinutes <= 0 {
		o.ToleranceMinutes = 2
	}
	if o.WatchdogAfter <= 0 {
		o.WatchdogAfter = time.Minute
	}
	if o.Location == nil {
		o.Location = time.Local
	}
}

// Snapshot — мгновенное состояние планировщика для сводки статуса.
type Snapshot struct {
	Running       bool
	CurrentAction string
	LastUpdate    time.Time
	InFlight      map[int64]time.Time
	WatchdogAfter time.Duration
}

// Runner — единственный логический планировщик: раз в минуту сопоставляет
// расписания активных каналов с текущим временем и запускает публикации.
// Каналы внутри тика обрабатываются параллельно, сбой одного не трогает
// остальные.
type Runner struct {
	log       zerolog.Logger
	channels  domain.ChannelRepo
	posts     domain.PostRepo
	logs      domain.LogRepo
	planner   *planner.Service
	publisher *publish.Service
	ledger    domain.DispatchLedger
	events    domain.EventPublisher
	opts      Options
	now       func() time.Time

	mu            sync.Mutex
	running       bool
	currentAction string
	lastUpdate    time.Time
	lastDay       string
	inflight      map[int64]time.Time
	cancel        context.CancelFunc
	done          chan struct{}
}

// NewRunner создаёт планировщик. events может быть nil.
func NewRunner(logger zerolog.Logger, channels domain.ChannelRepo, posts domain.PostRepo, logs domain.LogRepo, plannerSvc *planner.Service, publisher *publish.Service, ledger domain.DispatchLedger, events domain.EventPublisher, opts Options) *Runner {
	opts.fill()
	return &Runner{
		log:       logger,
		channels:  channels,
		posts:     posts,
		logs:      logs,
		planner:   plannerSvc,
		publisher: publisher,
		ledger:    ledger,
		events:    events,
		opts:      opts,
		now:       time.Now,
		inflight:  make(map[int64]time.Time),
	}
}

// WithNow подменяет источник времени в тестах.
func (r *Runner) WithNow(now func() time.Time) *Runner {
	r.now = now
	return r
}

// Start запускает планировщик: сразу готовит дневные партии всех активных
// каналов, затем тикает по расписанию. Повторный запуск — no-op.
func (r *Runner) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	prev := r.done
	r.running = true
	r.cancel = cancel
	r.done = done
	r.lastDay = r.today()
	r.mu.Unlock()

	ctx := context.Background()
	r.journal(ctx, domain.LogLevelInfo, nil, "планировщик запущен")
	r.emit(ctx, domain.EventBotStarted)
	r.setAction("запуск: подготовка дневных партий")

	// done и loopCtx принадлежат этому запуску: горутина закрывает свой
	// канал сама, чужой Stop её не касается.
	go func() {
		defer close(done)
		// Предыдущий запуск мог ещё дорабатывать остановку: два цикла
		// одновременно не живут.
		if prev != nil {
			select {
			case <-prev:
			case <-loopCtx.Done():
				return
			}
		}
		if err := r.planner.EnsureAll(loopCtx); err != nil && loopCtx.Err() == nil {
			r.log.Error().Err(err).Msg("dispatch: стартовое планирование не удалось")
		}
		r.setAction("ожидание тика")
		r.loop(loopCtx)
	}()
}

// Stop переводит планировщик в остановленное состояние. Начатые сетевые
// вызовы не прерываются: тики используют собственный контекст, Stop лишь
// гасит цикл.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	cancel()
	<-done

	ctx := context.Background()
	r.journal(ctx, domain.LogLevelInfo, nil, "планировщик остановлен")
	r.emit(ctx, domain.EventBotStopped)
	r.setAction("остановлен")
}

// IsRunning сообщает, запущен ли планировщик.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Runner) loop(ctx context.Context) {
	ticker := time.NewTicker(r.opts.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Тик живёт в собственном контексте: остановка бота не
			// обрывает уже начатые публикации.
			r.Tick(context.Background())
		}
	}
}

// Tick обрабатывает одну итерацию: смена суток, затем сопоставление слотов
// активных каналов с текущим временем. Экспортирован для тестов и ручного
// прогона.
func (r *Runner) Tick(ctx context.Context) {
	if !r.IsRunning() {
		return
	}
	started := time.Now()
	defer func() { metrics.TickDuration.Observe(time.Since(started).Seconds()) }()

	now := r.now().In(r.opts.Location)
	r.rolloverIfNeeded(ctx, now)
	r.setAction("тик расписания")

	active, err := r.channels.ListActiveChannels(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("dispatch: выборка активных каналов не удалась")
		return
	}

	var wg sync.WaitGroup
	for _, ch := range active {
		if len(ch.Schedule) == 0 {
			continue
		}
		wg.Add(1)
		go func(ch domain.Channel) {
			defer wg.Done()
			r.processChannel(ctx, ch, now)
		}(ch)
	}
	wg.Wait()
	if r.IsRunning() {
		r.setAction("ожидание тика")
	}
}

// rolloverIfNeeded очищает суточный журнал и перегенерирует партии при
// смене календарных суток.
func (r *Runner) rolloverIfNeeded(ctx context.Context, now time.Time) {
	day := now.Format("2006-01-02")
	r.mu.Lock()
	if r.lastDay == day {
		r.mu.Unlock()
		return
	}
	r.lastDay = day
	r.mu.Unlock()

	r.setAction("смена суток: сброс журнала и генерация")
	if err := r.ledger.Reset(ctx); err != nil {
		r.log.Error().Err(err).Msg("dispatch: сброс журнала дедупликации не удался")
	}
	r.journal(ctx, domain.LogLevelInfo, nil, fmt.Sprintf("новые сутки %s: журнал очищен, готовим партии", day))
	if err := r.planner.EnsureAll(ctx); err != nil {
		r.log.Error().Err(err).Msg("dispatch: планирование новых суток не удалось")
	}
}

func (r *Runner) processChannel(ctx context.Context, ch domain.Channel, now time.Time) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Interface("panic", rec).Int64("channel", ch.ID).Msg("dispatch: паника при обработке канала")
			r.journal(ctx, domain.LogLevelError, &ch.ID, fmt.Sprintf("канал %q: внутренняя ошибка обработки: %v", ch.Title, rec))
		}
		r.clearInflight(ch.ID)
	}()

	for _, slot := range ch.Schedule {
		if !r.matches(slot, now) {
			continue
		}
		r.dispatchSlot(ctx, ch, slot, now)
	}
}

func (r *Runner) matches(slot domain.ScheduleSlot, now time.Time) bool {
	if slot.Hour != now.Hour() {
		return false
	}
	diff := slot.Minute - now.Minute()
	if diff < 0 {
		diff = -diff
	}
	return diff <= r.opts.ToleranceMinutes
}

// dispatchSlot публикует один готовый пост для сработавшего слота.
// Журнал дедупликации занимается до публикации и откатывается при любом
// исходе, кроме успешной отправки: так слот может повториться на следующем
// тике внутри окна допуска, и число попыток ограничено шириной окна.
func (r *Runner) dispatchSlot(ctx context.Context, ch domain.Channel, slot domain.ScheduleSlot, now time.Time) {
	key := slot.Key()
	acquired, err := r.ledger.Acquire(ctx, now, ch.ID, key)
	if err != nil {
		r.log.Error().Err(err).Int64("channel", ch.ID).Msg("dispatch: журнал дедупликации недоступен")
		return
	}
	if !acquired {
		metrics.DispatchSkippedTotal.Inc()
		r.log.Debug().Int64("channel", ch.ID).Int("hour", slot.Hour).Int("minute", slot.Minute).
			Msg("dispatch: слот уже обслужен сегодня, пропуск")
		return
	}

	r.markInflight(ch.ID)
	defer r.clearInflight(ch.ID)

	post, err := r.posts.OldestGeneratedForDay(ctx, ch.ID, now)
	if err != nil {
		r.releaseSlot(ctx, ch.ID, key, now)
		if domain.IsKind(err, domain.KindNotFound) {
			metrics.DispatchNoPostTotal.Inc()
			r.journal(ctx, domain.LogLevelWarning, &ch.ID,
				fmt.Sprintf("канал %q: слот %02d:%02d сработал, но готового поста нет", ch.Title, slot.Hour, slot.Minute))
			return
		}
		r.log.Error().Err(err).Int64("channel", ch.ID).Msg("dispatch: выборка готового поста не удалась")
		return
	}

	published := r.publisher.Publish(ctx, ch, post)
	if published.Status != domain.PostStatusPublished {
		// Неудача не помечает слот: повтор возможен, пока тик попадает
		// в окно допуска.
		r.releaseSlot(ctx, ch.ID, key, now)
	}
}

// releaseSlot откатывает отметку слота в журнале дедупликации. Ошибка отката
// означает потерянный повтор внутри окна допуска, поэтому она попадает в лог.
func (r *Runner) releaseSlot(ctx context.Context, channelID int64, key domain.SlotKey, now time.Time) {
	if err := r.ledger.Release(ctx, now, channelID, key); err != nil {
		r.log.Error().Err(err).Int64("channel", channelID).
			Int("hour", key.Hour).Int("minute", key.Minute).
			Msg("dispatch: откат слота в журнале дедупликации не удался")
	}
}

func (r *Runner) markInflight(channelID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inflight[channelID] = r.now()
}

func (r *Runner) clearInflight(channelID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, channelID)
}

func (r *Runner) setAction(action string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentAction = action
	r.lastUpdate = r.now()
}

func (r *Runner) today() string {
	return r.now().In(r.opts.Location).Format("2006-01-02")
}

// StateSnapshot возвращает мгновенное состояние для сводки статуса.
func (r *Runner) StateSnapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	inflight := make(map[int64]time.Time, len(r.inflight))
	for id, ts := range r.inflight {
		inflight[id] = ts
	}
	return Snapshot{
		Running:       r.running,
		CurrentAction: r.currentAction,
		LastUpdate:    r.lastUpdate,
		InFlight:      inflight,
		WatchdogAfter: r.opts.WatchdogAfter,
	}
}

func (r *Runner) journal(ctx context.Context, level domain.LogLevel, channelID *int64, msg string) {
	entry := domain.LogEntry{ChannelID: channelID, Level: level, Message: msg, CreatedAt: r.now()}
	if err := r.logs.Append(ctx, entry); err != nil {
		r.log.Warn().Err(err).Msg("dispatch: запись в журнал не удалась")
	}
}

func (r *Runner) emit(ctx context.Context, kind domain.EventKind) {
	if r.events == nil {
		return
	}
	_ = r.events.Publish(ctx, domain.ChangeEvent{
		ID:         uuid.NewString(),
		Kind:       kind,
		OccurredAt: r.now(),
	})
}
