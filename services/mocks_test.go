package services

import (
	"context"
	"sync"

	"github.com/stgisi414/langcampus-exchange-sub000/config"
	"github.com/stgisi414/langcampus-exchange-sub000/models"

	"github.com/stretchr/testify/mock"
)

// MockGenerationService is a mock type for the GenerationService interface.
type MockGenerationService struct {
	mock.Mock
}

func (m *MockGenerationService) GenerateTurn(ctx context.Context, history []models.Message, opts GenerationOptions) (*TurnResult, error) {
	args := m.Called(ctx, history, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*TurnResult), args.Error(1)
}

func (m *MockGenerationService) GenerateWelcome(ctx context.Context, partner *config.PartnerIdentity) (string, error) {
	args := m.Called(ctx, partner)
	return args.String(0), args.Error(1)
}

func (m *MockGenerationService) GenerateNudge(ctx context.Context, history []models.Message, opts GenerationOptions) (string, error) {
	args := m.Called(ctx, history, opts)
	return args.String(0), args.Error(1)
}

// MockUsageRepository is a mock type for the repository.UsageRepository
// interface.
type MockUsageRepository struct {
	mock.Mock
}

func (m *MockUsageRepository) Ensure(userID, today string) error {
	args := m.Called(userID, today)
	return args.Error(0)
}

func (m *MockUsageRepository) ResetIfStale(userID, today string) (bool, error) {
	args := m.Called(userID, today)
	return args.Bool(0), args.Error(1)
}

func (m *MockUsageRepository) TryIncrement(userID string, action models.Action, limit int) (bool, error) {
	args := m.Called(userID, action, limit)
	return args.Bool(0), args.Error(1)
}

func (m *MockUsageRepository) Counters(userID string) (*models.UsageCounters, error) {
	args := m.Called(userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UsageCounters), args.Error(1)
}

// fakeUsageRepository is a stateful in-memory ledger used where the tests
// exercise counting behavior across many calls; mutations are atomic under
// one mutex, mirroring the per-statement atomicity of the real store.
type fakeUsageRepository struct {
	mu   sync.Mutex
	rows map[string]*models.UsageCounters

	resetsPerformed int
}

func newFakeUsageRepository() *fakeUsageRepository {
	return &fakeUsageRepository{rows: make(map[string]*models.UsageCounters)}
}

func (f *fakeUsageRepository) Ensure(userID, today string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[userID]; !ok {
		f.rows[userID] = &models.UsageCounters{UserID: userID, LastResetDate: today}
	}
	return nil
}

func (f *fakeUsageRepository) ResetIfStale(userID, today string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[userID]
	if !ok || row.LastResetDate == today {
		return false, nil
	}
	*row = models.UsageCounters{UserID: userID, LastResetDate: today}
	f.resetsPerformed++
	return true, nil
}

func (f *fakeUsageRepository) TryIncrement(userID string, action models.Action, limit int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[userID]
	if !ok {
		return false, nil
	}
	if row.Count(action) >= limit {
		return false, nil
	}
	switch action {
	case models.ActionSearches:
		row.Searches++
	case models.ActionMessages:
		row.Messages++
	case models.ActionAudioPlays:
		row.AudioPlays++
	case models.ActionLessons:
		row.Lessons++
	case models.ActionQuizzes:
		row.Quizzes++
	}
	return true, nil
}

func (f *fakeUsageRepository) Counters(userID string) (*models.UsageCounters, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[userID]; ok {
		copied := *row
		return &copied, nil
	}
	return &models.UsageCounters{UserID: userID}, nil
}

func (f *fakeUsageRepository) seed(row models.UsageCounters) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := row
	f.rows[row.UserID] = &copied
}

// MockUserRepository is a mock type for the repository.UserRepository
// interface.
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Get(userID string) (*models.UserDoc, error) {
	args := m.Called(userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserDoc), args.Error(1)
}

func (m *MockUserRepository) SaveChat(userID string, chatJSON string) error {
	args := m.Called(userID, chatJSON)
	return args.Error(0)
}

func (m *MockUserRepository) SaveNotes(userID string, notes string) error {
	args := m.Called(userID, notes)
	return args.Error(0)
}

func (m *MockUserRepository) SaveTeachMeCache(userID string, cache string) error {
	args := m.Called(userID, cache)
	return args.Error(0)
}

func (m *MockUserRepository) SetActiveGroup(userID string, groupID *uint) error {
	args := m.Called(userID, groupID)
	return args.Error(0)
}

// MockGroupRepository is a mock type for the repository.GroupRepository
// interface.
type MockGroupRepository struct {
	mock.Mock
}

func (m *MockGroupRepository) Create(group *models.Group) error {
	args := m.Called(group)
	return args.Error(0)
}

func (m *MockGroupRepository) Get(groupID uint) (*models.Group, error) {
	args := m.Called(groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Group), args.Error(1)
}

func (m *MockGroupRepository) UpdateTopic(groupID uint, topic string) error {
	args := m.Called(groupID, topic)
	return args.Error(0)
}

func (m *MockGroupRepository) AddMember(groupID uint, userID string) error {
	args := m.Called(groupID, userID)
	return args.Error(0)
}

func (m *MockGroupRepository) RemoveMember(groupID uint, userID string) error {
	args := m.Called(groupID, userID)
	return args.Error(0)
}

func (m *MockGroupRepository) MarkCreatorLeft(groupID uint) error {
	args := m.Called(groupID)
	return args.Error(0)
}

func (m *MockGroupRepository) AppendMessage(groupID uint, msg *models.GroupMessage) error {
	args := m.Called(groupID, msg)
	return args.Error(0)
}

func (m *MockGroupRepository) Delete(groupID uint) error {
	args := m.Called(groupID)
	return args.Error(0)
}

func (m *MockGroupRepository) Subscribe(groupID uint) (<-chan models.Group, func()) {
	args := m.Called(groupID)
	return args.Get(0).(<-chan models.Group), args.Get(1).(func())
}
