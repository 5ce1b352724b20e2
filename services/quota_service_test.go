package services

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stgisi414/langcampus-exchange-sub000/config"
	"github.com/stgisi414/langcampus-exchange-sub000/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func init() {
	config.AppConfig.Quota = config.DefaultQuota()
}

func today() string {
	return time.Now().Format("2006-01-02")
}

func TestQuotaService_SubscriberBypass(t *testing.T) {
	mockRepo := new(MockUsageRepository)
	service := NewQuotaService(mockRepo)

	for i := 0; i < 100; i++ {
		admitted, err := service.CheckAndAdmit("subUser", models.ActionMessages, models.SubscriptionSubscriber)
		assert.NoError(t, err)
		assert.True(t, admitted)
	}

	// No counter is ever read or written for a subscriber.
	mockRepo.AssertNotCalled(t, "Ensure", mock.Anything, mock.Anything)
	mockRepo.AssertNotCalled(t, "ResetIfStale", mock.Anything, mock.Anything)
	mockRepo.AssertNotCalled(t, "TryIncrement", mock.Anything, mock.Anything, mock.Anything)
}

func TestQuotaService_Monotonicity(t *testing.T) {
	// For every action kind independently: N calls below the limit admit and
	// increment by exactly one; the call at the limit is denied without
	// mutation.
	limits := map[models.Action]int{
		models.ActionSearches:   5,
		models.ActionMessages:   20,
		models.ActionAudioPlays: 5,
		models.ActionLessons:    10,
		models.ActionQuizzes:    10,
	}

	for action, limit := range limits {
		t.Run(string(action), func(t *testing.T) {
			repo := newFakeUsageRepository()
			service := NewQuotaService(repo)
			userID := "freeUser-" + string(action)

			for i := 0; i < limit; i++ {
				admitted, err := service.CheckAndAdmit(userID, action, models.SubscriptionFree)
				assert.NoError(t, err)
				assert.True(t, admitted, "call %d of %d should be admitted", i+1, limit)

				counters, cErr := repo.Counters(userID)
				assert.NoError(t, cErr)
				assert.Equal(t, i+1, counters.Count(action))
			}

			admitted, err := service.CheckAndAdmit(userID, action, models.SubscriptionFree)
			assert.NoError(t, err)
			assert.False(t, admitted)

			counters, cErr := repo.Counters(userID)
			assert.NoError(t, cErr)
			assert.Equal(t, limit, counters.Count(action), "denied call must not mutate")
		})
	}
}

func TestQuotaService_ActionsAreIndependent(t *testing.T) {
	repo := newFakeUsageRepository()
	service := NewQuotaService(repo)
	userID := "freeUser"

	// Exhaust searches; messages must still be admitted.
	for i := 0; i < 5; i++ {
		admitted, err := service.CheckAndAdmit(userID, models.ActionSearches, models.SubscriptionFree)
		assert.NoError(t, err)
		assert.True(t, admitted)
	}
	admitted, err := service.CheckAndAdmit(userID, models.ActionSearches, models.SubscriptionFree)
	assert.NoError(t, err)
	assert.False(t, admitted)

	admitted, err = service.CheckAndAdmit(userID, models.ActionMessages, models.SubscriptionFree)
	assert.NoError(t, err)
	assert.True(t, admitted)
}

func TestQuotaService_DailyResetIdempotence(t *testing.T) {
	repo := newFakeUsageRepository()
	service := NewQuotaService(repo)
	userID := "staleUser"

	// Stale row from yesterday with spent counters.
	repo.seed(models.UsageCounters{
		UserID:        userID,
		Messages:      20,
		Searches:      5,
		LastResetDate: "2000-01-01",
	})

	// Two overlapping admissions both observe the stale date; the reset must
	// land exactly once and both increments must apply to the zeroed row.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			admitted, err := service.CheckAndAdmit(userID, models.ActionMessages, models.SubscriptionFree)
			assert.NoError(t, err)
			assert.True(t, admitted)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, repo.resetsPerformed, "counters must be reset exactly once")
	counters, err := repo.Counters(userID)
	assert.NoError(t, err)
	assert.Equal(t, 2, counters.Messages)
	assert.Equal(t, 0, counters.Searches, "reset must zero every counter")
	assert.Equal(t, today(), counters.LastResetDate)
}

func TestQuotaService_FailClosed(t *testing.T) {
	mockRepo := new(MockUsageRepository)
	service := NewQuotaService(mockRepo)

	t.Run("Ensure fails", func(t *testing.T) {
		mockRepo.On("Ensure", "u1", mock.Anything).Return(errors.New("connection refused")).Once()

		admitted, err := service.CheckAndAdmit("u1", models.ActionMessages, models.SubscriptionFree)
		assert.False(t, admitted, "store outage must deny, not allow unlimited use")
		assert.ErrorIs(t, err, models.ErrStoreUnavailable)
		mockRepo.AssertExpectations(t)
	})

	t.Run("Increment fails", func(t *testing.T) {
		mockRepo.On("Ensure", "u2", mock.Anything).Return(nil).Once()
		mockRepo.On("ResetIfStale", "u2", mock.Anything).Return(false, nil).Once()
		mockRepo.On("TryIncrement", "u2", models.ActionQuizzes, 10).Return(false, errors.New("timeout")).Once()

		admitted, err := service.CheckAndAdmit("u2", models.ActionQuizzes, models.SubscriptionFree)
		assert.False(t, admitted)
		assert.ErrorIs(t, err, models.ErrStoreUnavailable)
		mockRepo.AssertExpectations(t)
	})

	t.Run("Empty userID rejected", func(t *testing.T) {
		admitted, err := service.CheckAndAdmit("", models.ActionMessages, models.SubscriptionFree)
		assert.False(t, admitted)
		assert.Error(t, err)
	})
}

func TestQuotaService_Usage(t *testing.T) {
	repo := newFakeUsageRepository()
	service := NewQuotaService(repo)
	userID := "meterUser"

	for i := 0; i < 3; i++ {
		_, err := service.CheckAndAdmit(userID, models.ActionLessons, models.SubscriptionFree)
		assert.NoError(t, err)
	}

	counters, limits, err := service.Usage(userID)
	assert.NoError(t, err)
	assert.Equal(t, 3, counters.Lessons)
	assert.Equal(t, 10, limits[models.ActionLessons])
	assert.Equal(t, 20, limits[models.ActionMessages])
}
