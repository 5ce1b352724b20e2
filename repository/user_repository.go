package repository

import (
	"errors"
	"fmt"
	"log"

	"github.com/stgisi414/langcampus-exchange-sub000/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRepository persists the per-user document (saved chat, notes, teach-me
// cache, active group pointer).
type UserRepository interface {
	Get(userID string) (*models.UserDoc, error)
	SaveChat(userID string, chatJSON string) error
	SaveNotes(userID string, notes string) error
	SaveTeachMeCache(userID string, cache string) error
	// SetActiveGroup updates the single active-group pointer. Pass nil to
	// clear it.
	SetActiveGroup(userID string, groupID *uint) error
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// Get retrieves the user's document, lazily creating an empty one on first
// access.
func (r *userRepository) Get(userID string) (*models.UserDoc, error) {
	if userID == "" {
		return nil, errors.New("userID cannot be empty")
	}
	var doc models.UserDoc
	err := r.db.First(&doc, "user_id = ?", userID).Error
	if err == nil {
		return &doc, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("ERROR: [UserRepository] Failed to fetch document for userID %s: %v", userID, err)
		return nil, fmt.Errorf("failed to fetch user document for userID %s: %w", userID, err)
	}

	doc = models.UserDoc{UserID: userID}
	createErr := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&doc).Error
	if createErr != nil {
		log.Printf("ERROR: [UserRepository] Failed to create document for userID %s: %v", userID, createErr)
		return nil, fmt.Errorf("failed to create user document for userID %s: %w", userID, createErr)
	}
	return &doc, nil
}

func (r *userRepository) SaveChat(userID string, chatJSON string) error {
	return r.updateField(userID, "saved_chat", chatJSON)
}

func (r *userRepository) SaveNotes(userID string, notes string) error {
	return r.updateField(userID, "notes", notes)
}

func (r *userRepository) SaveTeachMeCache(userID string, cache string) error {
	return r.updateField(userID, "teach_me_cache", cache)
}

func (r *userRepository) SetActiveGroup(userID string, groupID *uint) error {
	if userID == "" {
		return errors.New("userID cannot be empty")
	}
	if _, err := r.Get(userID); err != nil {
		return err
	}
	err := r.db.Model(&models.UserDoc{}).
		Where("user_id = ?", userID).
		Update("active_group_id", groupID).Error
	if err != nil {
		log.Printf("ERROR: [UserRepository] Failed to set active group for userID %s: %v", userID, err)
		return fmt.Errorf("failed to set active group for userID %s: %w", userID, err)
	}
	return nil
}

func (r *userRepository) updateField(userID, column, value string) error {
	if userID == "" {
		return errors.New("userID cannot be empty")
	}
	if _, err := r.Get(userID); err != nil {
		return err
	}
	err := r.db.Model(&models.UserDoc{}).
		Where("user_id = ?", userID).
		Update(column, value).Error
	if err != nil {
		log.Printf("ERROR: [UserRepository] Failed to update %s for userID %s: %v", column, userID, err)
		return fmt.Errorf("failed to update %s for userID %s: %w", column, userID, err)
	}
	return nil
}
