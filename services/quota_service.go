package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/stgisi414/langcampus-exchange-sub000/config"
	"github.com/stgisi414/langcampus-exchange-sub000/models"
	"github.com/stgisi414/langcampus-exchange-sub000/repository"
)

// QuotaService is the admission gate for the five metered actions. Paying
// subscribers are always admitted without touching counters; free users get a
// lazily created daily ledger with an idempotent midnight reset. When the
// backing store cannot be reached the ledger fails closed: the action is
// denied and a retryable error is surfaced.
type QuotaService interface {
	// CheckAndAdmit reports whether the action may proceed. A false result
	// with a nil error is an ordinary quota denial; a non-nil error wraps
	// models.ErrStoreUnavailable and should be retried.
	CheckAndAdmit(userID string, action models.Action, subscription models.SubscriptionState) (bool, error)
	// Usage returns the user's current counters alongside the configured
	// limits, for the client's quota meter.
	Usage(userID string) (*models.UsageCounters, map[models.Action]int, error)
}

type quotaService struct {
	repo repository.UsageRepository
	now  func() time.Time
}

// NewQuotaService creates a new instance of QuotaService.
func NewQuotaService(repo repository.UsageRepository) QuotaService {
	return &quotaService{repo: repo, now: time.Now}
}

// limitFor returns the configured daily limit for an action, falling back to
// the built-in defaults when the config carries no value.
func limitFor(action models.Action) int {
	q := config.AppConfig.Quota
	d := config.DefaultQuota()
	pick := func(configured, fallback int) int {
		if configured > 0 {
			return configured
		}
		return fallback
	}
	switch action {
	case models.ActionSearches:
		return pick(q.Searches, d.Searches)
	case models.ActionMessages:
		return pick(q.Messages, d.Messages)
	case models.ActionAudioPlays:
		return pick(q.AudioPlays, d.AudioPlays)
	case models.ActionLessons:
		return pick(q.Lessons, d.Lessons)
	case models.ActionQuizzes:
		return pick(q.Quizzes, d.Quizzes)
	}
	return 0
}

func (s *quotaService) CheckAndAdmit(userID string, action models.Action, subscription models.SubscriptionState) (bool, error) {
	if userID == "" {
		return false, errors.New("userID cannot be empty")
	}

	// Subscribers are unlimited; no counter is read or written.
	if subscription == models.SubscriptionSubscriber {
		return true, nil
	}

	today := s.now().Format("2006-01-02")

	if err := s.repo.Ensure(userID, today); err != nil {
		return false, failClosed(err)
	}
	// Zero stale counters before evaluating. The reset is a conditional
	// single-statement update, so an overlapping request that already reset
	// the row leaves it alone.
	if _, err := s.repo.ResetIfStale(userID, today); err != nil {
		return false, failClosed(err)
	}

	admitted, err := s.repo.TryIncrement(userID, action, limitFor(action))
	if err != nil {
		return false, failClosed(err)
	}
	if !admitted {
		log.Printf("INFO: [QuotaService] Admission denied for userID %s, action %s (daily limit %d reached).", userID, action, limitFor(action))
	}
	return admitted, nil
}

func (s *quotaService) Usage(userID string) (*models.UsageCounters, map[models.Action]int, error) {
	counters, err := s.repo.Counters(userID)
	if err != nil {
		return nil, nil, failClosed(err)
	}
	// A row from a previous day reads as zeroed; the actual reset happens on
	// the next admission check.
	if counters.LastResetDate != s.now().Format("2006-01-02") {
		counters = &models.UsageCounters{UserID: userID, LastResetDate: s.now().Format("2006-01-02")}
	}
	limits := make(map[models.Action]int, len(models.Actions))
	for _, action := range models.Actions {
		limits[action] = limitFor(action)
	}
	return counters, limits, nil
}

// failClosed wraps a store error as the retryable outage sentinel. Denial is
// the default whenever the ledger cannot verify an action is safe to allow.
func failClosed(err error) error {
	return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
}
