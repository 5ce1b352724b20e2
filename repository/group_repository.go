package repository

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/stgisi414/langcampus-exchange-sub000/models"

	"gorm.io/gorm"
)

// GroupRepository persists group sessions and fans out full-state snapshots
// to push subscribers after every mutation. Subscribers always receive the
// whole group document (members, topic, messages) so they can apply a
// replace-and-resort instead of incremental appends.
type GroupRepository interface {
	Create(group *models.Group) error
	Get(groupID uint) (*models.Group, error)
	UpdateTopic(groupID uint, topic string) error
	AddMember(groupID uint, userID string) error
	RemoveMember(groupID uint, userID string) error
	MarkCreatorLeft(groupID uint) error
	AppendMessage(groupID uint, msg *models.GroupMessage) error
	Delete(groupID uint) error
	// Subscribe registers a push listener for the group. The returned cancel
	// function must be called when the listener goes away.
	Subscribe(groupID uint) (<-chan models.Group, func())
}

type groupRepository struct {
	db *gorm.DB

	mu        sync.Mutex
	listeners map[uint]map[int]chan models.Group
	nextSubID int
}

// NewGroupRepository creates a new instance of GroupRepository.
func NewGroupRepository(db *gorm.DB) GroupRepository {
	return &groupRepository{
		db:        db,
		listeners: make(map[uint]map[int]chan models.Group),
	}
}

func (r *groupRepository) Create(group *models.Group) error {
	if group == nil || group.CreatorID == "" {
		return errors.New("group creator cannot be empty")
	}
	if err := r.db.Create(group).Error; err != nil {
		log.Printf("ERROR: [GroupRepository] Failed to create group for creator %s: %v", group.CreatorID, err)
		return fmt.Errorf("failed to create group: %w", err)
	}
	log.Printf("INFO: [GroupRepository] Group %d created by %s.", group.ID, group.CreatorID)
	return nil
}

// Get loads the full group document with members and timestamp-ordered
// messages.
func (r *groupRepository) Get(groupID uint) (*models.Group, error) {
	var group models.Group
	err := r.db.
		Preload("Members").
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("timestamp ASC")
		}).
		First(&group, groupID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrGroupNotFound
		}
		log.Printf("ERROR: [GroupRepository] Failed to fetch group %d: %v", groupID, err)
		return nil, fmt.Errorf("failed to fetch group %d: %w", groupID, err)
	}
	return &group, nil
}

func (r *groupRepository) UpdateTopic(groupID uint, topic string) error {
	err := r.db.Model(&models.Group{}).
		Where("id = ?", groupID).
		Update("topic", topic).Error
	if err != nil {
		log.Printf("ERROR: [GroupRepository] Failed to update topic for group %d: %v", groupID, err)
		return fmt.Errorf("failed to update topic for group %d: %w", groupID, err)
	}
	r.publish(groupID)
	return nil
}

func (r *groupRepository) AddMember(groupID uint, userID string) error {
	if userID == "" {
		return errors.New("userID cannot be empty")
	}
	member := models.GroupMember{GroupID: groupID, UserID: userID}
	if err := r.db.Create(&member).Error; err != nil {
		log.Printf("ERROR: [GroupRepository] Failed to add member %s to group %d: %v", userID, groupID, err)
		return fmt.Errorf("failed to add member %s to group %d: %w", userID, groupID, err)
	}
	r.publish(groupID)
	return nil
}

func (r *groupRepository) RemoveMember(groupID uint, userID string) error {
	err := r.db.
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Delete(&models.GroupMember{}).Error
	if err != nil {
		log.Printf("ERROR: [GroupRepository] Failed to remove member %s from group %d: %v", userID, groupID, err)
		return fmt.Errorf("failed to remove member %s from group %d: %w", userID, groupID, err)
	}
	r.publish(groupID)
	return nil
}

func (r *groupRepository) MarkCreatorLeft(groupID uint) error {
	err := r.db.Model(&models.Group{}).
		Where("id = ?", groupID).
		Update("creator_left", true).Error
	if err != nil {
		log.Printf("ERROR: [GroupRepository] Failed to mark creator departed for group %d: %v", groupID, err)
		return fmt.Errorf("failed to mark creator departed for group %d: %w", groupID, err)
	}
	r.publish(groupID)
	return nil
}

func (r *groupRepository) AppendMessage(groupID uint, msg *models.GroupMessage) error {
	if msg == nil {
		return errors.New("message cannot be nil")
	}
	msg.GroupID = groupID
	if err := r.db.Create(msg).Error; err != nil {
		log.Printf("ERROR: [GroupRepository] Failed to append message to group %d: %v", groupID, err)
		return fmt.Errorf("failed to append message to group %d: %w", groupID, err)
	}
	r.publish(groupID)
	return nil
}

func (r *groupRepository) Delete(groupID uint) error {
	if err := r.db.Where("group_id = ?", groupID).Delete(&models.GroupMessage{}).Error; err != nil {
		return fmt.Errorf("failed to delete messages of group %d: %w", groupID, err)
	}
	if err := r.db.Where("group_id = ?", groupID).Delete(&models.GroupMember{}).Error; err != nil {
		return fmt.Errorf("failed to delete members of group %d: %w", groupID, err)
	}
	if err := r.db.Delete(&models.Group{}, groupID).Error; err != nil {
		log.Printf("ERROR: [GroupRepository] Failed to delete group %d: %v", groupID, err)
		return fmt.Errorf("failed to delete group %d: %w", groupID, err)
	}
	log.Printf("INFO: [GroupRepository] Group %d deleted.", groupID)

	r.mu.Lock()
	for _, ch := range r.listeners[groupID] {
		close(ch)
	}
	delete(r.listeners, groupID)
	r.mu.Unlock()
	return nil
}

func (r *groupRepository) Subscribe(groupID uint) (<-chan models.Group, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSubID++
	id := r.nextSubID
	ch := make(chan models.Group, 1)
	if r.listeners[groupID] == nil {
		r.listeners[groupID] = make(map[int]chan models.Group)
	}
	r.listeners[groupID][id] = ch

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if subs, ok := r.listeners[groupID]; ok {
			if sub, ok := subs[id]; ok {
				delete(subs, id)
				close(sub)
			}
			if len(subs) == 0 {
				delete(r.listeners, groupID)
			}
		}
	}
	return ch, cancel
}

// publish loads the current full state and delivers it to every listener. A
// slow listener only ever misses intermediate snapshots, never the newest
// one: the stale buffered snapshot is dropped before the fresh one goes in.
func (r *groupRepository) publish(groupID uint) {
	r.mu.Lock()
	hasSubs := len(r.listeners[groupID]) > 0
	r.mu.Unlock()
	if !hasSubs {
		return
	}

	group, err := r.Get(groupID)
	if err != nil {
		log.Printf("WARN: [GroupRepository] Skipping publish for group %d: %v", groupID, err)
		return
	}

	// Sends are non-blocking (buffer of one), so holding the lock here is
	// cheap and keeps cancel() from closing a channel mid-send.
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.listeners[groupID] {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- *group:
		default:
		}
	}
}
