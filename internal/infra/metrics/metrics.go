package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	PostsGeneratedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "posts_generated_total",
		Help: "Количество сгенерированных постов",
	}, []string{"channel_id"})

	GenerationFallbackTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "generation_fallback_total",
		Help: "Сколько раз генерация ушла в детерминированный фолбэк",
	})

	PostsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "posts_published_total",
		Help: "Количество публикаций по итоговому статусу",
	}, []string{"channel_id", "status"})

	DispatchSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_skipped_total",
		Help: "Сколько раз слот пропущен по журналу дедупликации",
	})

	DispatchNoPostTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_no_post_total",
		Help: "Сколько раз слот сработал без готового поста",
	})

	TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_tick_seconds",
		Help:    "Время обработки одного тика планировщика",
		Buckets: prometheus.DefBuckets,
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: prometheus.DefBuckets,
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		PostsGeneratedTotal,
		GenerationFallbackTotal,
		PostsPublishedTotal,
		DispatchSkippedTotal,
		DispatchNoPostTotal,
		TickDuration,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// ObserveNetworkRequest фиксирует длительность и статус исходящего запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	elapsed := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(elapsed)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
	}()
}
