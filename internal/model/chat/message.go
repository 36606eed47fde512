package chat

import "time"

// Origin tells who authored a message.
type Origin string

const (
	OriginUser  Origin = "user"
	OriginAgent Origin = "agent"
)

// Message is one entry of a widget conversation. Messages are append-only and
// Seq is their display order.
type Message struct {
	Seq       int       `json:"seq"`
	Origin    Origin    `json:"origin"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}
