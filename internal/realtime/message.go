package realtime

type Event string

const (
	EventJobCreated     Event = "JobCreated"
	EventJobUpdated     Event = "JobUpdated"
	EventBalanceChanged Event = "BalanceChanged"
)

// Message is one event addressed to a channel. Per-user events use the
// user's id as the channel.
type Message struct {
	Channel string `json:"channel"`
	Event   Event  `json:"event"`
	Data    any    `json:"data,omitempty"`
}
