package models

import "time"

// MaxGroupMembers caps group membership, creator included.
const MaxGroupMembers = 3

// Group is a shared multi-party conversation with a single AI partner. Only
// the creator may set Topic. When the creator leaves, the group becomes
// inert: members can still read history but no further bot turns are
// generated.
type Group struct {
	ID          uint           `json:"id" gorm:"primarykey"`
	CreatorID   string         `json:"creator_id" gorm:"index;not null"`
	PartnerID   string         `json:"partner_id" gorm:"not null"`
	Topic       string         `json:"topic"`
	CreatorLeft bool           `json:"creator_left" gorm:"default:false"`
	CreatedAt   time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	Members     []GroupMember  `json:"members" gorm:"foreignKey:GroupID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Messages    []GroupMessage `json:"messages" gorm:"foreignKey:GroupID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

// TableName specifies the table name for the Group model.
func (Group) TableName() string {
	return "groups"
}

// HasMember reports whether userID currently belongs to the group.
func (g *Group) HasMember(userID string) bool {
	for _, m := range g.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// GroupMember is one membership row, keyed by (group, user).
type GroupMember struct {
	GroupID  uint      `json:"group_id" gorm:"primaryKey"`
	UserID   string    `json:"user_id" gorm:"primaryKey"`
	JoinedAt time.Time `json:"joined_at" gorm:"autoCreateTime"`
}

// TableName specifies the table name for the GroupMember model.
func (GroupMember) TableName() string {
	return "group_members"
}

// GroupMessage is a persisted message within a group conversation.
type GroupMessage struct {
	ID         uint      `json:"id" gorm:"primarykey"`
	GroupID    uint      `json:"group_id" gorm:"index;not null"`
	Sender     Sender    `json:"sender" gorm:"type:varchar(10);not null"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Text       string    `json:"text" gorm:"type:text"`
	Correction string    `json:"correction,omitempty" gorm:"type:text"`
	Timestamp  time.Time `json:"timestamp" gorm:"index"`
}

// TableName specifies the table name for the GroupMessage model.
func (GroupMessage) TableName() string {
	return "group_messages"
}

// AsMessage converts the persisted row to the wire Message shape.
func (m *GroupMessage) AsMessage() Message {
	return Message{
		Sender:     m.Sender,
		Text:       m.Text,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Correction: m.Correction,
		Timestamp:  m.Timestamp,
	}
}

// GroupMessageFrom builds a persisted row from a wire Message.
func GroupMessageFrom(groupID uint, msg Message) GroupMessage {
	return GroupMessage{
		GroupID:    groupID,
		Sender:     msg.Sender,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Text:       msg.Text,
		Correction: msg.Correction,
		Timestamp:  msg.Timestamp,
	}
}

// SortedMessages returns the group's messages re-sorted by timestamp. Every
// inbound update is treated as a full-state replace-and-resort because
// arrival order at a member is not causal order.
func (g *Group) SortedMessages() []Message {
	out := make([]Message, 0, len(g.Messages))
	for i := range g.Messages {
		out = append(out, g.Messages[i].AsMessage())
	}
	SortByTimestamp(out)
	return out
}
