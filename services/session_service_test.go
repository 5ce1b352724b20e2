package services

import (
	"context"
	"testing"
	"time"

	"github.com/stgisi414/langcampus-exchange-sub000/config"
	"github.com/stgisi414/langcampus-exchange-sub000/models"
	"github.com/stgisi414/langcampus-exchange-sub000/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// newSessionFixture wires a facade over a stateful usage ledger and real
// coordinators, with only the LLM boundary mocked. Nudge delays are set far
// out so timers never fire during a test.
func newSessionFixture() (SessionService, *fakeUsageRepository, *MockGenerationService, *MockUserRepository, repository.ConversationRepository) {
	setNudgeConfig(time.Hour, time.Hour, 3)
	config.AppConfig.Quota = config.DefaultQuota()

	usage := newFakeUsageRepository()
	mockGen := new(MockGenerationService)
	mockUsers := new(MockUserRepository)
	mockGroups := new(MockGroupRepository)
	conversations := repository.NewConversationRepository()

	service := NewSessionService(
		NewQuotaService(usage),
		NewTurnService(mockGen),
		NewNudgeService(mockGen),
		NewGroupService(mockGroups, mockUsers, mockGen),
		conversations,
		mockUsers,
	)
	return service, usage, mockGen, mockUsers, conversations
}

func TestSessionService_SendText(t *testing.T) {
	t.Run("Admission happens before the turn and failures still consume quota", func(t *testing.T) {
		service, usage, mockGen, _, _ := newSessionFixture()

		// One message short of the daily cap.
		usage.seed(models.UsageCounters{
			UserID:        "u1",
			Messages:      19,
			LastResetDate: time.Now().Format("2006-01-02"),
		})
		mockGen.On("GenerateTurn", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, assert.AnError).Once()

		messages, err := service.SendText(context.Background(), "u1", models.SubscriptionFree, testPartner.ID, "hola")

		assert.NoError(t, err)
		assert.Len(t, messages, 2)
		assert.Equal(t, fallbackReply, messages[1].Text, "generation failure becomes conversation content")

		counters, _, err := NewQuotaService(usage).Usage("u1")
		assert.NoError(t, err)
		assert.Equal(t, 20, counters.Messages, "the admitted action counts even though generation failed")

		// The cap is reached; the next message is denied before any turn work.
		_, err = service.SendText(context.Background(), "u1", models.SubscriptionFree, testPartner.ID, "otra vez")
		assert.ErrorIs(t, err, models.ErrQuotaExceeded)
		mockGen.AssertNumberOfCalls(t, "GenerateTurn", 1)
	})

	t.Run("Subscribers are never metered", func(t *testing.T) {
		service, usage, mockGen, _, _ := newSessionFixture()

		mockGen.On("GenerateTurn", mock.Anything, mock.Anything, mock.Anything).
			Return(&TurnResult{Text: "reply"}, nil).Times(25)

		for i := 0; i < 25; i++ {
			_, err := service.SendText(context.Background(), "u1", models.SubscriptionSubscriber, testPartner.ID, "hola")
			assert.NoError(t, err)
		}
		counters, _, err := NewQuotaService(usage).Usage("u1")
		assert.NoError(t, err)
		assert.Equal(t, 0, counters.Messages)
	})

	t.Run("Duplicate request during a pending turn returns the current view", func(t *testing.T) {
		service, usage, mockGen, _, conversations := newSessionFixture()

		session := conversations.Open("u1", testPartner.ID)
		assert.True(t, session.TryBeginGeneration())

		messages, err := service.SendText(context.Background(), "u1", models.SubscriptionFree, testPartner.ID, "hola")

		assert.ErrorIs(t, err, models.ErrTurnInFlight)
		assert.Empty(t, messages)
		mockGen.AssertNotCalled(t, "GenerateTurn", mock.Anything, mock.Anything, mock.Anything)

		// The rejected duplicate did nothing, so it must not have spent a
		// message credit either.
		counters, _, cErr := NewQuotaService(usage).Usage("u1")
		assert.NoError(t, cErr)
		assert.Equal(t, 0, counters.Messages)
		session.EndGeneration()
	})

	t.Run("Unknown partner is rejected before admission", func(t *testing.T) {
		service, usage, _, _, _ := newSessionFixture()

		_, err := service.SendText(context.Background(), "u1", models.SubscriptionFree, "partner_nobody", "hola")

		assert.Error(t, err)
		counters, _, _ := NewQuotaService(usage).Usage("u1")
		assert.Equal(t, 0, counters.Messages)
	})
}

func TestSessionService_MeteredActions(t *testing.T) {
	t.Run("ShareQuizResult consumes the quiz budget and speaks as the user", func(t *testing.T) {
		service, usage, mockGen, _, conversations := newSessionFixture()

		mockGen.On("GenerateTurn", mock.Anything, mock.MatchedBy(func(history []models.Message) bool {
			last := history[len(history)-1]
			return last.Sender == models.SenderUser && last.Text == "I scored 8/10 on the past tense quiz."
		}), mock.Anything).Return(&TurnResult{Text: "¡Bien hecho!"}, nil).Once()

		_, err := service.ShareQuizResult(context.Background(), "u1", models.SubscriptionFree, testPartner.ID,
			QuizResult{Topic: "past tense", Score: 8, Total: 10})

		assert.NoError(t, err)
		counters, _, _ := NewQuotaService(usage).Usage("u1")
		assert.Equal(t, 1, counters.Quizzes)
		assert.Equal(t, 0, counters.Messages)

		session, ok := conversations.Get("u1")
		assert.True(t, ok)
		assert.Equal(t, 2, session.Len())
	})

	t.Run("PlayAudio and SearchPartners only meter", func(t *testing.T) {
		service, usage, mockGen, _, _ := newSessionFixture()

		assert.NoError(t, service.PlayAudio("u1", models.SubscriptionFree))
		assert.NoError(t, service.SearchPartners("u1", models.SubscriptionFree))

		counters, _, _ := NewQuotaService(usage).Usage("u1")
		assert.Equal(t, 1, counters.AudioPlays)
		assert.Equal(t, 1, counters.Searches)
		mockGen.AssertNotCalled(t, "GenerateTurn", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("PlayAudio is denied past the audio cap", func(t *testing.T) {
		service, _, _, _, _ := newSessionFixture()

		for i := 0; i < config.DefaultQuota().AudioPlays; i++ {
			assert.NoError(t, service.PlayAudio("u1", models.SubscriptionFree))
		}
		assert.ErrorIs(t, service.PlayAudio("u1", models.SubscriptionFree), models.ErrQuotaExceeded)
	})
}

func TestSessionService_SaveAndLoadChat(t *testing.T) {
	t.Run("Round trip through the user document", func(t *testing.T) {
		service, _, mockGen, mockUsers, conversations := newSessionFixture()

		session := conversations.Open("u1", testPartner.ID)
		session.Append(userMessage("hola"))
		session.Append(aiMessage("¡Hola! ¿Cómo estás?"))

		var saved string
		mockUsers.On("SaveChat", "u1", mock.AnythingOfType("string")).
			Run(func(args mock.Arguments) { saved = args.String(1) }).
			Return(nil).Once()

		assert.NoError(t, service.SaveChat("u1"))
		assert.NotEmpty(t, saved)

		// A fresh session restored from the saved document replaces local
		// state with the stored transcript.
		service.CloseConversation("u1")
		mockUsers.On("Get", "u1").Return(&models.UserDoc{UserID: "u1", SavedChat: saved}, nil).Once()

		messages, err := service.LoadSavedChat("u1", testPartner.ID)

		assert.NoError(t, err)
		assert.Len(t, messages, 2)
		assert.Equal(t, "hola", messages[0].Text)
		assert.Equal(t, "¡Hola! ¿Cómo estás?", messages[1].Text)
		mockGen.AssertNotCalled(t, "GenerateTurn", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Nothing saved yields an empty transcript", func(t *testing.T) {
		service, _, _, mockUsers, _ := newSessionFixture()

		mockUsers.On("Get", "u1").Return(freeUser("u1"), nil).Once()

		messages, err := service.LoadSavedChat("u1", testPartner.ID)
		assert.NoError(t, err)
		assert.Empty(t, messages)
	})

	t.Run("SaveChat without an open conversation fails", func(t *testing.T) {
		service, _, _, _, _ := newSessionFixture()
		assert.Error(t, service.SaveChat("ghost"))
	})
}

func TestSessionService_GroupActions(t *testing.T) {
	t.Run("PostGroupMessage meters the message budget first", func(t *testing.T) {
		service, usage, _, _, _ := newSessionFixture()

		usage.seed(models.UsageCounters{
			UserID:        "u1",
			Messages:      config.DefaultQuota().Messages,
			LastResetDate: time.Now().Format("2006-01-02"),
		})

		_, err := service.PostGroupMessage(context.Background(), "u1", models.SubscriptionFree, 1, "hola grupo")
		assert.ErrorIs(t, err, models.ErrQuotaExceeded)
	})

	t.Run("SetGroupTopic meters the lesson budget", func(t *testing.T) {
		service, usage, _, _, _ := newSessionFixture()

		usage.seed(models.UsageCounters{
			UserID:        "u1",
			Lessons:       config.DefaultQuota().Lessons,
			LastResetDate: time.Now().Format("2006-01-02"),
		})

		_, err := service.SetGroupTopic("u1", models.SubscriptionFree, 1, "food")
		assert.ErrorIs(t, err, models.ErrQuotaExceeded)
	})
}
