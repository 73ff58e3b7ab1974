package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"tg-autoposter/internal/adapters/generator"
	"tg-autoposter/internal/adapters/httpapi"
	ledgeradapter "tg-autoposter/internal/adapters/ledger"
	"tg-autoposter/internal/adapters/repo"
	"tg-autoposter/internal/adapters/telegram"
	"tg-autoposter/internal/domain"
	"tg-autoposter/internal/infra/config"
	"tg-autoposter/internal/infra/db"
	applog "tg-autoposter/internal/infra/log"
	"tg-autoposter/internal/infra/metrics"
	"tg-autoposter/internal/infra/queue"
	"tg-autoposter/internal/usecase/channels"
	"tg-autoposter/internal/usecase/dispatch"
	"tg-autoposter/internal/usecase/planner"
	"tg-autoposter/internal/usecase/posts"
	"tg-autoposter/internal/usecase/publish"
	"tg-autoposter/internal/usecase/schedule"
	"tg-autoposter/internal/usecase/status"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		logger.Fatal().Err(err).Str("tz", cfg.TZ).Msg("autoposter: неизвестный часовой пояс")
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("autoposter: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	// Журнал дедупликации: Redis переживает рестарт, без него — память процесса.
	var dispatchLedger domain.DispatchLedger = ledgeradapter.NewMemory()
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		dispatchLedger = ledgeradapter.NewRedis(redisClient, "dispatch")
		logger.Info().Str("addr", cfg.RedisAddr).Msg("autoposter: журнал дедупликации в Redis")
	}

	// События изменений для внешних панелей — опциональны.
	var events domain.EventPublisher
	if cfg.AMQPURL != "" {
		rabbit, err := queue.NewRabbitEvents(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Fatal().Err(err).Msg("autoposter: нет подключения к RabbitMQ")
		}
		defer rabbit.Close()
		events = rabbit
		logger.Info().Str("exchange", cfg.AMQPExchange).Msg("autoposter: события включены")
	}

	gen := generator.NewOpenAI(logger.With().Str("component", "generator").Logger(), generator.Config{
		BaseURL:     cfg.Generation.BaseURL,
		Model:       cfg.Generation.Model,
		ImageModel:  cfg.Generation.ImageModel,
		Temperature: cfg.Generation.Temperature,
		Timeout:     cfg.Generation.Timeout,
	})
	sender := telegram.NewSender(logger.With().Str("component", "telegram").Logger(), cfg.Scheduler.PublishTimeout)

	publisher := publish.NewService(logger.With().Str("component", "publish").Logger(), repoAdapter, repoAdapter, sender, events, cfg.Scheduler.PublishTimeout)
	plannerSvc := planner.NewService(logger.With().Str("component", "planner").Logger(), repoAdapter, repoAdapter, repoAdapter, gen, events, loc, cfg.Scheduler.GenerationDelay)
	runner := dispatch.NewRunner(logger.With().Str("component", "dispatch").Logger(), repoAdapter, repoAdapter, repoAdapter, plannerSvc, publisher, dispatchLedger, events, dispatch.Options{
		TickInterval:     cfg.Scheduler.TickInterval,
		ToleranceMinutes: cfg.Scheduler.ToleranceMinutes,
		WatchdogAfter:    cfg.Scheduler.WatchdogAfter,
		Location:         loc,
	})

	channelSvc := channels.NewService(repoAdapter, events)
	scheduleSvc := schedule.NewService(repoAdapter)
	postSvc := posts.NewService(logger.With().Str("component", "posts").Logger(), repoAdapter, repoAdapter, gen, publisher, loc)
	statusSvc := status.NewService(repoAdapter, repoAdapter, runner, loc)

	handler := httpapi.NewHandler(logger.With().Str("component", "api").Logger(), channelSvc, scheduleSvc, postSvc, statusSvc, runner, cfg.Limits.RecentLogs)

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("autoposter: HTTP API запущен")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("autoposter: HTTP сервер остановлен")
		}
	}()

	if cfg.Scheduler.Autostart {
		runner.Start()
	}

	<-ctx.Done()
	logger.Info().Msg("autoposter: остановка")
	runner.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
