package chat

import "time"

// Snapshot is the view-facing state of one widget instance.
type Snapshot struct {
	WidgetID  string    `json:"widgetId"`
	Scope     string    `json:"scope"`
	SessionID string    `json:"sessionId"`
	Open      bool      `json:"open"`
	Loading   bool      `json:"loading"`
	Input     string    `json:"input"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
}
