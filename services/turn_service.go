package services

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/stgisi414/langcampus-exchange-sub000/models"
	"github.com/stgisi414/langcampus-exchange-sub000/repository"
)

// MentionToken is the literal prefix that makes a group message invoke the
// bot. Matching is case-insensitive after trimming leading whitespace.
const MentionToken = "@bot"

// fallbackReply is appended in place of an AI turn when generation fails.
// Failures are absorbed into conversation content, never thrown to the UI.
const fallbackReply = "Sorry, I had trouble coming up with a reply just now. Could you say that again?"

// TurnService is the solo turn coordinator: it guarantees at most one
// in-flight generation per conversation and turns generation failures into a
// single apologetic message.
type TurnService interface {
	// RequestTurn appends the user's message, generates the AI reply and
	// appends it. If a generation is already pending it returns
	// models.ErrTurnInFlight and has no side effects.
	RequestTurn(ctx context.Context, session *repository.ConversationSession, userMessage models.Message, opts GenerationOptions) (models.Message, error)
}

type turnService struct {
	generator GenerationService
}

// NewTurnService creates a new instance of TurnService.
func NewTurnService(generator GenerationService) TurnService {
	return &turnService{generator: generator}
}

// WantsBotTurn reports whether a group message should trigger a generation
// turn.
func WantsBotTurn(text string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(text)), MentionToken)
}

// FallbackMessage builds the synthetic AI error message for a failed
// generation.
func FallbackMessage(partnerName string) models.Message {
	return models.Message{
		Sender:     models.SenderAI,
		SenderName: partnerName,
		Text:       fallbackReply,
		Timestamp:  time.Now(),
	}
}

func (s *turnService) RequestTurn(ctx context.Context, session *repository.ConversationSession, userMessage models.Message, opts GenerationOptions) (models.Message, error) {
	// The guard is taken synchronously, before the optimistic append and any
	// network round trip, and released no matter how generation ends. Turn
	// issuance is level-triggered-once: re-renders and repeated triggers
	// while a turn is pending do nothing.
	if !session.TryBeginGeneration() {
		log.Printf("INFO: [TurnService] Turn request ignored for conversation %s: generation already in flight.", session.ID)
		return models.Message{}, models.ErrTurnInFlight
	}
	defer session.EndGeneration()

	if userMessage.Timestamp.IsZero() {
		userMessage.Timestamp = time.Now()
	}
	// Optimistic local append: the UI sees the user's message before the
	// round trip completes.
	session.Append(userMessage)

	history := session.Messages()
	result, err := s.generator.GenerateTurn(ctx, history, opts)

	var reply models.Message
	if err != nil {
		log.Printf("WARN: [TurnService] Generation failed for conversation %s, substituting fallback: %v", session.ID, err)
		reply = FallbackMessage(partnerName(opts))
	} else {
		reply = models.Message{
			Sender:     models.SenderAI,
			SenderName: partnerName(opts),
			Text:       result.Text,
			Correction: result.Correction,
			Timestamp:  time.Now(),
		}
	}
	session.Append(reply)
	return reply, nil
}

func partnerName(opts GenerationOptions) string {
	if opts.Partner != nil {
		return opts.Partner.Name
	}
	return ""
}
