package models

import (
	"sort"
	"time"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// Message is one entry in a conversation. Within a conversation messages are
// totally ordered by Timestamp; for a solo conversation that order is also the
// append order, while group conversations must be re-sorted after every update
// because arrival order across members is not guaranteed.
type Message struct {
	Sender     Sender    `json:"sender"`
	Text       string    `json:"text"`
	SenderID   string    `json:"sender_id,omitempty"`
	SenderName string    `json:"sender_name,omitempty"`
	Correction string    `json:"correction,omitempty"`
	AudioRef   string    `json:"audio_ref,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// SortByTimestamp orders messages in place by their timestamps. The sort is
// stable so messages sharing a timestamp keep their arrival order.
func SortByTimestamp(messages []Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
}
