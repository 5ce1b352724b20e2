package repository

import (
	"errors"
	"fmt"
	"log"

	"github.com/stgisi414/langcampus-exchange-sub000/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UsageRepository persists the per-user, per-day usage counters. Every
// mutation is a single atomic statement: the ledger never reads, modifies and
// writes counters in separate round trips.
type UsageRepository interface {
	// Ensure lazily creates the user's counter row. Existing rows are left
	// untouched.
	Ensure(userID, today string) error
	// ResetIfStale zeroes all counters and stamps today, but only when the
	// stored reset date differs from today. Concurrent callers that both
	// observe a stale date reset the row exactly once. Returns whether this
	// call performed the reset.
	ResetIfStale(userID, today string) (bool, error)
	// TryIncrement bumps the action's counter by one if it is still below
	// limit. Returns false without mutating when the counter is at or above
	// the limit.
	TryIncrement(userID string, action models.Action, limit int) (bool, error)
	// Counters returns the current row, or a zeroed one if none exists yet.
	Counters(userID string) (*models.UsageCounters, error)
}

type usageRepository struct {
	db *gorm.DB
}

// NewUsageRepository creates a new instance of UsageRepository.
func NewUsageRepository(db *gorm.DB) UsageRepository {
	return &usageRepository{db: db}
}

// columnFor maps a metered action to its counter column.
func columnFor(action models.Action) (string, error) {
	switch action {
	case models.ActionSearches:
		return "searches", nil
	case models.ActionMessages:
		return "messages", nil
	case models.ActionAudioPlays:
		return "audio_plays", nil
	case models.ActionLessons:
		return "lessons", nil
	case models.ActionQuizzes:
		return "quizzes", nil
	}
	return "", fmt.Errorf("unknown metered action %q", action)
}

func (r *usageRepository) Ensure(userID, today string) error {
	if userID == "" {
		return errors.New("userID cannot be empty")
	}
	row := models.UsageCounters{UserID: userID, LastResetDate: today}
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&row).Error
	if err != nil {
		log.Printf("ERROR: [UsageRepository] Failed to ensure counters for userID %s: %v", userID, err)
		return fmt.Errorf("failed to ensure usage counters for userID %s: %w", userID, err)
	}
	return nil
}

func (r *usageRepository) ResetIfStale(userID, today string) (bool, error) {
	res := r.db.Model(&models.UsageCounters{}).
		Where("user_id = ? AND last_reset_date <> ?", userID, today).
		Updates(map[string]interface{}{
			"searches":        0,
			"messages":        0,
			"audio_plays":     0,
			"lessons":         0,
			"quizzes":         0,
			"last_reset_date": today,
		})
	if res.Error != nil {
		log.Printf("ERROR: [UsageRepository] Failed daily reset for userID %s: %v", userID, res.Error)
		return false, fmt.Errorf("failed daily reset for userID %s: %w", userID, res.Error)
	}
	if res.RowsAffected > 0 {
		log.Printf("INFO: [UsageRepository] Daily counters reset for userID %s (date now %s).", userID, today)
	}
	return res.RowsAffected > 0, nil
}

func (r *usageRepository) TryIncrement(userID string, action models.Action, limit int) (bool, error) {
	col, err := columnFor(action)
	if err != nil {
		return false, err
	}
	// Compare-and-increment in one statement; RowsAffected == 0 means the
	// counter was already at the limit and nothing changed.
	res := r.db.Model(&models.UsageCounters{}).
		Where("user_id = ? AND "+col+" < ?", userID, limit).
		Update(col, gorm.Expr(col+" + 1"))
	if res.Error != nil {
		log.Printf("ERROR: [UsageRepository] Failed to increment %s for userID %s: %v", col, userID, res.Error)
		return false, fmt.Errorf("failed to increment %s for userID %s: %w", col, userID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *usageRepository) Counters(userID string) (*models.UsageCounters, error) {
	if userID == "" {
		return nil, errors.New("userID cannot be empty")
	}
	var counters models.UsageCounters
	err := r.db.First(&counters, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &models.UsageCounters{UserID: userID}, nil
		}
		log.Printf("ERROR: [UsageRepository] Failed to fetch counters for userID %s: %v", userID, err)
		return nil, fmt.Errorf("failed to fetch usage counters for userID %s: %w", userID, err)
	}
	return &counters, nil
}
