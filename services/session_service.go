package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/stgisi414/langcampus-exchange-sub000/config"
	"github.com/stgisi414/langcampus-exchange-sub000/models"
	"github.com/stgisi414/langcampus-exchange-sub000/repository"
)

// QuizResult is a quiz outcome shared into the conversation.
type QuizResult struct {
	Topic   string `json:"topic"`
	Score   int    `json:"score"`
	Total   int    `json:"total"`
	Comment string `json:"comment,omitempty"`
}

// SessionService is the facade the UI talks to. Every user action runs quota
// admission first; on denial the single models.ErrQuotaExceeded signal comes
// back and no further work happens. Admitted actions are routed to the solo
// turn coordinator or the group coordinator.
type SessionService interface {
	// OpenConversation opens (or resumes) the user's solo conversation with
	// a partner and starts the idle nudge scheduler for it.
	OpenConversation(userID, partnerID string) ([]models.Message, error)
	CloseConversation(userID string)

	SendText(ctx context.Context, userID string, sub models.SubscriptionState, partnerID, text string) ([]models.Message, error)
	SendAudioTranscript(ctx context.Context, userID string, sub models.SubscriptionState, partnerID, transcript, audioRef string) ([]models.Message, error)
	ShareQuizResult(ctx context.Context, userID string, sub models.SubscriptionState, partnerID string, quiz QuizResult) ([]models.Message, error)
	StartLesson(ctx context.Context, userID string, sub models.SubscriptionState, partnerID, topic string) ([]models.Message, error)

	// PlayAudio and SearchPartners only meter their action; playback and the
	// search itself happen in external collaborators.
	PlayAudio(userID string, sub models.SubscriptionState) error
	SearchPartners(userID string, sub models.SubscriptionState) error

	SetGroupTopic(userID string, sub models.SubscriptionState, groupID uint, topic string) (*models.Group, error)
	PostGroupMessage(ctx context.Context, userID string, sub models.SubscriptionState, groupID uint, text string) (*models.Group, error)
	JoinGroup(groupID uint, userID string) (*models.Group, error)
	LeaveGroup(groupID uint, userID string) error

	SaveChat(userID string) error
	LoadSavedChat(userID, partnerID string) ([]models.Message, error)
}

type sessionService struct {
	quota         QuotaService
	turns         TurnService
	nudges        NudgeService
	groups        GroupService
	conversations repository.ConversationRepository
	users         repository.UserRepository
}

// NewSessionService creates a new instance of SessionService.
func NewSessionService(
	quota QuotaService,
	turns TurnService,
	nudges NudgeService,
	groups GroupService,
	conversations repository.ConversationRepository,
	users repository.UserRepository,
) SessionService {
	return &sessionService{
		quota:         quota,
		turns:         turns,
		nudges:        nudges,
		groups:        groups,
		conversations: conversations,
		users:         users,
	}
}

// admit runs the quota gate for a metered action. It returns nil when the
// action may proceed.
func (s *sessionService) admit(userID string, action models.Action, sub models.SubscriptionState) error {
	admitted, err := s.quota.CheckAndAdmit(userID, action, sub)
	if err != nil {
		return err // wraps models.ErrStoreUnavailable; retryable
	}
	if !admitted {
		return models.ErrQuotaExceeded
	}
	return nil
}

func (s *sessionService) OpenConversation(userID, partnerID string) ([]models.Message, error) {
	partner := config.PartnerByID(partnerID)
	if partner == nil {
		return nil, fmt.Errorf("unknown partner '%s'", partnerID)
	}
	session := s.conversations.Open(userID, partnerID)
	s.nudges.Observe(session, GenerationOptions{Partner: partner})
	return session.Messages(), nil
}

func (s *sessionService) CloseConversation(userID string) {
	if session, ok := s.conversations.Get(userID); ok {
		s.nudges.Stop(session.ID)
	}
	s.conversations.Close(userID)
}

func (s *sessionService) SendText(ctx context.Context, userID string, sub models.SubscriptionState, partnerID, text string) ([]models.Message, error) {
	msg := models.Message{
		Sender:    models.SenderUser,
		SenderID:  userID,
		Text:      text,
		Timestamp: time.Now(),
	}
	return s.soloTurn(ctx, userID, sub, partnerID, models.ActionMessages, msg)
}

func (s *sessionService) SendAudioTranscript(ctx context.Context, userID string, sub models.SubscriptionState, partnerID, transcript, audioRef string) ([]models.Message, error) {
	msg := models.Message{
		Sender:    models.SenderUser,
		SenderID:  userID,
		Text:      transcript,
		AudioRef:  audioRef,
		Timestamp: time.Now(),
	}
	return s.soloTurn(ctx, userID, sub, partnerID, models.ActionMessages, msg)
}

func (s *sessionService) ShareQuizResult(ctx context.Context, userID string, sub models.SubscriptionState, partnerID string, quiz QuizResult) ([]models.Message, error) {
	text := fmt.Sprintf("I scored %d/%d on the %s quiz.", quiz.Score, quiz.Total, quiz.Topic)
	if quiz.Comment != "" {
		text += " " + quiz.Comment
	}
	msg := models.Message{
		Sender:    models.SenderUser,
		SenderID:  userID,
		Text:      text,
		Timestamp: time.Now(),
	}
	return s.soloTurn(ctx, userID, sub, partnerID, models.ActionQuizzes, msg)
}

func (s *sessionService) StartLesson(ctx context.Context, userID string, sub models.SubscriptionState, partnerID, topic string) ([]models.Message, error) {
	msg := models.Message{
		Sender:    models.SenderUser,
		SenderID:  userID,
		Text:      fmt.Sprintf("Let's practice %s.", topic),
		Timestamp: time.Now(),
	}
	return s.soloTurn(ctx, userID, sub, partnerID, models.ActionLessons, msg)
}

// soloTurn is the shared solo path: admission, optimistic turn, nudge
// re-evaluation.
func (s *sessionService) soloTurn(ctx context.Context, userID string, sub models.SubscriptionState, partnerID string, action models.Action, msg models.Message) ([]models.Message, error) {
	partner := config.PartnerByID(partnerID)
	if partner == nil {
		return nil, fmt.Errorf("unknown partner '%s'", partnerID)
	}

	session := s.conversations.Open(userID, partnerID)
	// A duplicate trigger while a turn is pending is a no-op; reject it
	// before admission so it never spends a quota credit.
	if session.GenerationPending() {
		return session.Messages(), models.ErrTurnInFlight
	}
	if err := s.admit(userID, action, sub); err != nil {
		return nil, err
	}

	opts := GenerationOptions{Partner: partner, CorrectionsEnabled: true}

	_, err := s.turns.RequestTurn(ctx, session, msg, opts)
	if err != nil {
		if errors.Is(err, models.ErrTurnInFlight) {
			// Nothing happened; the caller keeps its current view.
			return session.Messages(), err
		}
		return nil, err
	}

	s.nudges.Observe(session, opts)
	return session.Messages(), nil
}

func (s *sessionService) PlayAudio(userID string, sub models.SubscriptionState) error {
	return s.admit(userID, models.ActionAudioPlays, sub)
}

func (s *sessionService) SearchPartners(userID string, sub models.SubscriptionState) error {
	return s.admit(userID, models.ActionSearches, sub)
}

func (s *sessionService) SetGroupTopic(userID string, sub models.SubscriptionState, groupID uint, topic string) (*models.Group, error) {
	// Picking a lesson topic is a metered lesson action.
	if err := s.admit(userID, models.ActionLessons, sub); err != nil {
		return nil, err
	}
	return s.groups.SetTopic(groupID, topic, userID)
}

func (s *sessionService) PostGroupMessage(ctx context.Context, userID string, sub models.SubscriptionState, groupID uint, text string) (*models.Group, error) {
	if err := s.admit(userID, models.ActionMessages, sub); err != nil {
		return nil, err
	}
	msg := models.Message{
		Sender:    models.SenderUser,
		SenderID:  userID,
		Text:      text,
		Timestamp: time.Now(),
	}
	return s.groups.PostMessage(ctx, groupID, msg)
}

func (s *sessionService) JoinGroup(groupID uint, userID string) (*models.Group, error) {
	return s.groups.Join(groupID, userID)
}

func (s *sessionService) LeaveGroup(groupID uint, userID string) error {
	return s.groups.Leave(groupID, userID)
}

func (s *sessionService) SaveChat(userID string) error {
	session, ok := s.conversations.Get(userID)
	if !ok {
		return errors.New("no open conversation to save")
	}
	encoded, err := json.Marshal(session.Messages())
	if err != nil {
		return fmt.Errorf("failed to encode chat for userID %s: %w", userID, err)
	}
	if err := s.users.SaveChat(userID, string(encoded)); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	log.Printf("INFO: [SessionService] Chat saved for userID %s (%d messages).", userID, session.Len())
	return nil
}

func (s *sessionService) LoadSavedChat(userID, partnerID string) ([]models.Message, error) {
	doc, err := s.users.Get(userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	if doc.SavedChat == "" {
		return nil, nil
	}
	var messages []models.Message
	if err := json.Unmarshal([]byte(doc.SavedChat), &messages); err != nil {
		return nil, fmt.Errorf("failed to decode saved chat for userID %s: %w", userID, err)
	}

	session := s.conversations.Open(userID, partnerID)
	session.Replace(messages)
	if partner := config.PartnerByID(partnerID); partner != nil {
		s.nudges.Observe(session, GenerationOptions{Partner: partner})
	}
	return session.Messages(), nil
}
