package chat

// EventType names a change pushed to widget subscribers.
type EventType string

const (
	EventMessage EventType = "message"
	EventLoading EventType = "loading"
	EventOpen    EventType = "open"
	EventSession EventType = "session"
)

// Event describes one state change of a widget.
type Event struct {
	Type      EventType `json:"type"`
	WidgetID  string    `json:"widgetId"`
	Message   *Message  `json:"message,omitempty"`
	Loading   *bool     `json:"loading,omitempty"`
	Open      *bool     `json:"open,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
}
