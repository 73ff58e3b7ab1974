package domain

import "time"

// EventKind — вид события изменения.
type EventKind string

const (
	EventPostGenerated  EventKind = "post.generated"
	EventPostPublished  EventKind = "post.published"
	EventPostFailed     EventKind = "post.failed"
	EventChannelUpdated EventKind = "channel.updated"
	EventBotStarted     EventKind = "bot.started"
	EventBotStopped     EventKind = "bot.stopped"
)

// ChangeEvent описывает изменение состояния, интересное внешним панелям.
type ChangeEvent struct {
	ID         string    `json:"id"`
	Kind       EventKind `json:"kind"`
	ChannelID  int64     `json:"channel_id,omitempty"`
	PostID     int64     `json:"post_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
