package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"tg-autoposter/internal/domain"
	"tg-autoposter/internal/usecase/channels"
	"tg-autoposter/internal/usecase/posts"
	"tg-autoposter/internal/usecase/schedule"
	"tg-autoposter/internal/usecase/status"
)

// BotControl — управление планировщиком со стороны оператора.
type BotControl interface {
	Start()
	Stop()
	IsRunning() bool
}

// Handler — операторский HTTP API: каналы, расписания, посты, управление
// ботом. Ошибки интерактивных действий возвращаются вызывающему и попадают
// в журнал; ошибки планового пути — только в журнал.
type Handler struct {
	log      zerolog.Logger
	channels *channels.Service
	schedule *schedule.Service
	posts    *posts.Service
	status   *status.Service
	bot      BotControl
	logLimit int
}

// NewHandler создаёт обработчик API.
func NewHandler(logger zerolog.Logger, channelSvc *channels.Service, scheduleSvc *schedule.Service, postSvc *posts.Service, statusSvc *status.Service, bot BotControl, logLimit int) *Handler {
	return &Handler{
		log:      logger,
		channels: channelSvc,
		schedule: scheduleSvc,
		posts:    postSvc,
		status:   statusSvc,
		bot:      bot,
		logLimit: logLimit,
	}
}

// Router собирает маршруты API с базовыми middleware.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.getStatus)
		r.Get("/logs", h.getLogs)
		r.Post("/bot/start", h.startBot)
		r.Post("/bot/stop", h.stopBot)

		r.Route("/channels", func(r chi.Router) {
			r.Get("/", h.listChannels)
			r.Post("/", h.createChannel)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getChannel)
				r.Put("/", h.updateChannel)
				r.Delete("/", h.deleteChannel)
				r.Post("/activate", h.activateChannel)
				r.Post("/test-post", h.testPost)
				r.Get("/posts", h.listPosts)
				r.Post("/schedule", h.addSlot)
				r.Delete("/schedule/{slotID}", h.removeSlot)
				r.Post("/schedule/auto", h.autoSchedule)
			})
		})

		r.Route("/posts/{id}", func(r chi.Router) {
			r.Put("/", h.editPost)
			r.Delete("/", h.deletePost)
			r.Post("/publish", h.forcePublish)
		})
	})
	return r
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.status.Current(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse(st))
}

func (h *Handler) getLogs(w http.ResponseWriter, r *http.Request) {
	limit := h.logLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	entries, err := h.status.RecentLogs(r.Context(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]logEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, logEntryFromDomain(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": out})
}

func (h *Handler) startBot(w http.ResponseWriter, r *http.Request) {
	h.bot.Start()
	writeJSON(w, http.StatusOK, map[string]any{"running": true})
}

func (h *Handler) stopBot(w http.ResponseWriter, r *http.Request) {
	h.bot.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": false})
}

type channelRequest struct {
	Title          string `json:"title"`
	BotToken       string `json:"bot_token"`
	ChatID         string `json:"chat_id"`
	PromptTemplate string `json:"prompt_template"`
	GenAPIKey      string `json:"gen_api_key"`
	IsActive       bool   `json:"is_active"`
}

func (req channelRequest) params() channels.Params {
	return channels.Params{
		Title:          req.Title,
		BotToken:       req.BotToken,
		ChatID:         req.ChatID,
		PromptTemplate: req.PromptTemplate,
		GenAPIKey:      req.GenAPIKey,
		IsActive:       req.IsActive,
	}
}

func (h *Handler) listChannels(w http.ResponseWriter, r *http.Request) {
	list, err := h.channels.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]channelResponse, 0, len(list))
	for _, ch := range list {
		out = append(out, channelFromDomain(ch))
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": out})
}

func (h *Handler) createChannel(w http.ResponseWriter, r *http.Request) {
	var req channelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "некорректное тело запроса")
		return
	}
	ch, err := h.channels.Create(r.Context(), req.params())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, channelFromDomain(ch))
}

func (h *Handler) getChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ch, err := h.channels.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, channelFromDomain(ch))
}

func (h *Handler) updateChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req channelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "некорректное тело запроса")
		return
	}
	ch, err := h.channels.Update(r.Context(), id, req.params())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, channelFromDomain(ch))
}

func (h *Handler) deleteChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.channels.Delete(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) activateChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "некорректное тело запроса")
		return
	}
	if err := h.channels.SetActive(r.Context(), id, req.Active); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "is_active": req.Active})
}

func (h *Handler) testPost(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	post, err := h.posts.TestPost(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, postFromDomain(post))
}

func (h *Handler) listPosts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	list, err := h.posts.List(r.Context(), id, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]postResponse, 0, len(list))
	for _, p := range list {
		out = append(out, postFromDomain(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": out})
}

func (h *Handler) addSlot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Hour   int `json:"hour"`
		Minute int `json:"minute"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "некорректное тело запроса")
		return
	}
	slot, err := h.schedule.AddSlot(r.Context(), id, req.Hour, req.Minute)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, slotFromDomain(slot))
}

func (h *Handler) removeSlot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	slotID, err := strconv.ParseInt(chi.URLParam(r, "slotID"), 10, 64)
	if err != nil {
		writeBadRequest(w, "некорректный идентификатор слота")
		return
	}
	if err := h.schedule.RemoveSlot(r.Context(), id, slotID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) autoSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		PostsPerDay int `json:"posts_per_day"`
		StartHour   int `json:"start_hour"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "некорректное тело запроса")
		return
	}
	if req.StartHour == 0 {
		req.StartHour = schedule.DefaultStartHour
	}
	slots, err := h.schedule.AutoGenerate(r.Context(), id, req.PostsPerDay, req.StartHour)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]slotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, slotFromDomain(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedule": out})
}

func (h *Handler) editPost(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Text     string `json:"text"`
		ImageURL string `json:"image_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "некорректное тело запроса")
		return
	}
	post, err := h.posts.Edit(r.Context(), id, req.Text, req.ImageURL)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, postFromDomain(post))
}

func (h *Handler) deletePost(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.posts.Delete(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) forcePublish(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	post, err := h.posts.ForcePublish(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, postFromDomain(post))
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeBadRequest(w, "некорректный идентификатор")
		return 0, false
	}
	return id, true
}

// writeError переводит ошибки ядра в HTTP статусы.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsKind(err, domain.KindNotFound):
		writeErrorStatus(w, http.StatusNotFound, err.Error())
	case domain.IsKind(err, domain.KindCredentialInvalid):
		writeErrorStatus(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrDuplicateSlot),
		errors.Is(err, schedule.ErrSlotOutOfRange),
		errors.Is(err, schedule.ErrNoPostsPerDay),
		errors.Is(err, channels.ErrEmptyTitle),
		errors.Is(err, posts.ErrPublishedImmutable):
		writeErrorStatus(w, http.StatusConflict, err.Error())
	default:
		h.log.Error().Err(err).Msg("api: внутренняя ошибка")
		writeErrorStatus(w, http.StatusInternalServerError, "внутренняя ошибка")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeErrorStatus(w, http.StatusBadRequest, msg)
}

func writeErrorStatus(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
