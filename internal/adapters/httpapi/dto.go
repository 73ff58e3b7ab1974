package httpapi

import (
	"time"

	"tg-autoposter/internal/domain"
)

type slotResponse struct {
	ID     int64 `json:"id"`
	Hour   int   `json:"hour"`
	Minute int   `json:"minute"`
}

func slotFromDomain(s domain.ScheduleSlot) slotResponse {
	return slotResponse{ID: s.ID, Hour: s.Hour, Minute: s.Minute}
}

type channelResponse struct {
	ID             int64          `json:"id"`
	Title          string         `json:"title"`
	ChatID         string         `json:"chat_id"`
	PromptTemplate string         `json:"prompt_template"`
	IsActive       bool           `json:"is_active"`
	PostsPerDay    int            `json:"posts_per_day"`
	Schedule       []slotResponse `json:"schedule"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// channelFromDomain строит ответ без секретов: токен и ключ генерации
// наружу не отдаются.
func channelFromDomain(ch domain.Channel) channelResponse {
	slots := make([]slotResponse, 0, len(ch.Schedule))
	for _, s := range ch.Schedule {
		slots = append(slots, slotFromDomain(s))
	}
	return channelResponse{
		ID:             ch.ID,
		Title:          ch.Title,
		ChatID:         ch.ChatID,
		PromptTemplate: ch.PromptTemplate,
		IsActive:       ch.IsActive,
		PostsPerDay:    ch.PostsPerDay(),
		Schedule:       slots,
		CreatedAt:      ch.CreatedAt,
		UpdatedAt:      ch.UpdatedAt,
	}
}

type postResponse struct {
	ID             int64      `json:"id"`
	ChannelID      int64      `json:"channel_id"`
	Text           string     `json:"text"`
	ImageURL       string     `json:"image_url,omitempty"`
	Status         string     `json:"status"`
	Error          string     `json:"error,omitempty"`
	TelegramPostID int64      `json:"telegram_post_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	PublishedAt    *time.Time `json:"published_at,omitempty"`
}

func postFromDomain(p domain.Post) postResponse {
	return postResponse{
		ID:             p.ID,
		ChannelID:      p.ChannelID,
		Text:           p.Text,
		ImageURL:       p.ImageURL,
		Status:         string(p.Status),
		Error:          p.Error,
		TelegramPostID: p.TelegramPostID,
		CreatedAt:      p.CreatedAt,
		PublishedAt:    p.PublishedAt,
	}
}

type channelStatusResponse struct {
	ChannelID    int64      `json:"channel_id"`
	Title        string     `json:"title"`
	Status       string     `json:"status"`
	NextPostTime *time.Time `json:"next_post_time,omitempty"`
}

type botStatusResponse struct {
	IsRunning     bool                    `json:"is_running"`
	CurrentAction string                  `json:"current_action"`
	LastUpdate    time.Time               `json:"last_update"`
	Channels      []channelStatusResponse `json:"channels"`
}

func statusResponse(st domain.BotStatus) botStatusResponse {
	channels := make([]channelStatusResponse, 0, len(st.Channels))
	for _, ch := range st.Channels {
		channels = append(channels, channelStatusResponse{
			ChannelID:    ch.ChannelID,
			Title:        ch.Title,
			Status:       string(ch.Status),
			NextPostTime: ch.NextPostTime,
		})
	}
	return botStatusResponse{
		IsRunning:     st.IsRunning,
		CurrentAction: st.CurrentAction,
		LastUpdate:    st.LastUpdate,
		Channels:      channels,
	}
}

type logEntryResponse struct {
	ID        int64     `json:"id"`
	ChannelID *int64    `json:"channel_id,omitempty"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func logEntryFromDomain(e domain.LogEntry) logEntryResponse {
	return logEntryResponse{
		ID:        e.ID,
		ChannelID: e.ChannelID,
		Level:     string(e.Level),
		Message:   e.Message,
		CreatedAt: e.CreatedAt,
	}
}
