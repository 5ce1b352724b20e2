package models

import "time"

// Action is one of the five metered user actions.
type Action string

const (
	ActionSearches   Action = "searches"
	ActionMessages   Action = "messages"
	ActionAudioPlays Action = "audioPlays"
	ActionLessons    Action = "lessons"
	ActionQuizzes    Action = "quizzes"
)

// Actions lists every metered action kind.
var Actions = []Action{ActionSearches, ActionMessages, ActionAudioPlays, ActionLessons, ActionQuizzes}

// SubscriptionState is the user's paid tier, derived from payment-processor
// state by an external provider. Read-only to this engine.
type SubscriptionState string

const (
	SubscriptionFree       SubscriptionState = "free"
	SubscriptionSubscriber SubscriptionState = "subscriber"
)

// UsageCounters holds one user's metered-action counts for the current
// calendar day. Counters only grow within a day and are zeroed exactly once
// when the wall-clock date advances past LastResetDate. Mutated only by the
// quota ledger.
type UsageCounters struct {
	UserID        string    `json:"user_id" gorm:"primaryKey"`
	Searches      int       `json:"searches" gorm:"default:0"`
	Messages      int       `json:"messages" gorm:"default:0"`
	AudioPlays    int       `json:"audio_plays" gorm:"default:0"`
	Lessons       int       `json:"lessons" gorm:"default:0"`
	Quizzes       int       `json:"quizzes" gorm:"default:0"`
	LastResetDate string    `json:"last_reset_date" gorm:"type:varchar(10)"` // YYYY-MM-DD
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName specifies the table name for the UsageCounters model.
func (UsageCounters) TableName() string {
	return "usage_counters"
}

// Count returns the counter value for the given action.
func (u *UsageCounters) Count(action Action) int {
	switch action {
	case ActionSearches:
		return u.Searches
	case ActionMessages:
		return u.Messages
	case ActionAudioPlays:
		return u.AudioPlays
	case ActionLessons:
		return u.Lessons
	case ActionQuizzes:
		return u.Quizzes
	}
	return 0
}
