package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stgisi414/langcampus-exchange-sub000/config"
	"github.com/stgisi414/langcampus-exchange-sub000/models"
	"github.com/stgisi414/langcampus-exchange-sub000/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

var testPartner = &config.PartnerIdentity{
	ID:       "partner_mia",
	Name:     "Mia",
	Language: "Spanish",
	Model:    "gpt-4o-mini",
}

func userMessage(text string) models.Message {
	return models.Message{Sender: models.SenderUser, SenderID: "u1", Text: text, Timestamp: time.Now()}
}

func TestTurnService_RequestTurn(t *testing.T) {
	opts := GenerationOptions{Partner: testPartner, CorrectionsEnabled: true}

	t.Run("Successful turn appends user message then AI reply", func(t *testing.T) {
		mockGen := new(MockGenerationService)
		service := NewTurnService(mockGen)
		session := repository.NewConversationSession("u1", testPartner.ID)

		mockGen.On("GenerateTurn", mock.Anything, mock.MatchedBy(func(history []models.Message) bool {
			// The optimistic append must be visible in the generation context.
			return len(history) == 1 && history[0].Text == "hola"
		}), opts).Return(&TurnResult{Text: "¡Hola! ¿Cómo estás?", Correction: ""}, nil).Once()

		reply, err := service.RequestTurn(context.Background(), session, userMessage("hola"), opts)

		assert.NoError(t, err)
		assert.Equal(t, models.SenderAI, reply.Sender)
		assert.Equal(t, "¡Hola! ¿Cómo estás?", reply.Text)
		assert.Equal(t, "Mia", reply.SenderName)
		assert.False(t, reply.Timestamp.IsZero())

		messages := session.Messages()
		assert.Len(t, messages, 2)
		assert.Equal(t, models.SenderUser, messages[0].Sender)
		assert.Equal(t, models.SenderAI, messages[1].Sender)
		assert.False(t, session.GenerationPending(), "guard must be released after the turn")
		mockGen.AssertExpectations(t)
	})

	t.Run("Generation failure is absorbed into a fallback message", func(t *testing.T) {
		mockGen := new(MockGenerationService)
		service := NewTurnService(mockGen)
		session := repository.NewConversationSession("u1", testPartner.ID)

		mockGen.On("GenerateTurn", mock.Anything, mock.Anything, opts).
			Return(nil, errors.New("LLM unreachable")).Once()

		reply, err := service.RequestTurn(context.Background(), session, userMessage("hola"), opts)

		// Failures become conversation content, never an error for the UI.
		assert.NoError(t, err)
		assert.Equal(t, models.SenderAI, reply.Sender)
		assert.Equal(t, fallbackReply, reply.Text)

		messages := session.Messages()
		assert.Len(t, messages, 2)
		assert.Equal(t, fallbackReply, messages[1].Text)
		assert.False(t, session.GenerationPending())
		mockGen.AssertExpectations(t)
	})

	t.Run("Second request while pending is rejected without side effects", func(t *testing.T) {
		mockGen := new(MockGenerationService)
		service := NewTurnService(mockGen)
		session := repository.NewConversationSession("u1", testPartner.ID)

		assert.True(t, session.TryBeginGeneration())

		reply, err := service.RequestTurn(context.Background(), session, userMessage("hola"), opts)

		assert.ErrorIs(t, err, models.ErrTurnInFlight)
		assert.Equal(t, models.Message{}, reply)
		assert.Equal(t, 0, session.Len(), "rejected request must not append the user message")
		mockGen.AssertNotCalled(t, "GenerateTurn", mock.Anything, mock.Anything, mock.Anything)

		// After the pending call resolves, turns flow again.
		session.EndGeneration()
		mockGen.On("GenerateTurn", mock.Anything, mock.Anything, opts).
			Return(&TurnResult{Text: "ok"}, nil).Once()
		_, err = service.RequestTurn(context.Background(), session, userMessage("hola"), opts)
		assert.NoError(t, err)
		assert.Len(t, session.Messages(), 2)
		mockGen.AssertExpectations(t)
	})

	t.Run("Correction is carried on the AI message", func(t *testing.T) {
		mockGen := new(MockGenerationService)
		service := NewTurnService(mockGen)
		session := repository.NewConversationSession("u1", testPartner.ID)

		mockGen.On("GenerateTurn", mock.Anything, mock.Anything, opts).
			Return(&TurnResult{Text: "¡Muy bien!", Correction: "Yo fui al mercado."}, nil).Once()

		reply, err := service.RequestTurn(context.Background(), session, userMessage("yo fue al mercado"), opts)
		assert.NoError(t, err)
		assert.Equal(t, "Yo fui al mercado.", reply.Correction)
	})
}

func TestWantsBotTurn(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"@bot how do I say hello?", true},
		{"@Bot please explain", true},
		{"  @BOT with leading spaces", true},
		{"@bots counts too, it still starts with the token", true},
		{"hello @bot", false},
		{"plain message", false},
		{"", false},
		{"bot without the at sign", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, WantsBotTurn(tc.text), "text: %q", tc.text)
	}
}
