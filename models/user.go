package models

import "time"

// UserDoc is the per-user document. ActiveGroupID is the single pointer that
// enforces "at most one group per user"; the group itself does not track it.
type UserDoc struct {
	UserID        string    `json:"user_id" gorm:"primaryKey"`
	SavedChat     string    `json:"saved_chat" gorm:"type:text"` // JSON-encoded []Message
	Notes         string    `json:"notes" gorm:"type:text"`
	TeachMeCache  string    `json:"teach_me_cache" gorm:"type:text"`
	ActiveGroupID *uint     `json:"active_group_id" gorm:"index"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName specifies the table name for the UserDoc model.
func (UserDoc) TableName() string {
	return "user_docs"
}
