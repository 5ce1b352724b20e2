package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/stgisi414/langcampus-exchange-sub000/config"
	"github.com/stgisi414/langcampus-exchange-sub000/models"
	"github.com/stgisi414/langcampus-exchange-sub000/repository"
)

// GroupService coordinates shared multi-party conversations: membership,
// host-only topic authority, and explicit @bot invocation layered on the
// same single-flight generation discipline as solo turns.
type GroupService interface {
	CreateGroup(creatorID, partnerID string) (*models.Group, error)
	// SetTopic changes the shared lesson topic. Requests from anyone but the
	// creator are silently ignored (the current group is returned
	// unchanged); topic authority is host-only so all members see one
	// synchronized lesson.
	SetTopic(groupID uint, topic string, requesterID string) (*models.Group, error)
	Join(groupID uint, userID string) (*models.Group, error)
	Leave(groupID uint, userID string) error
	// PostMessage always appends the message; it additionally invokes a bot
	// turn when the message starts with the mention token and the group is
	// not inert.
	PostMessage(ctx context.Context, groupID uint, msg models.Message) (*models.Group, error)
	// Snapshot returns the full group state with messages re-sorted by
	// timestamp.
	Snapshot(groupID uint) (*models.Group, error)
	Subscribe(groupID uint) (<-chan models.Group, func(), error)
	DeleteGroup(groupID uint, requesterID string) error
}

type groupService struct {
	groups    repository.GroupRepository
	users     repository.UserRepository
	generator GenerationService

	mu       sync.Mutex
	inFlight map[uint]bool // per-group pending-generation guard
}

// NewGroupService creates a new instance of GroupService.
func NewGroupService(groups repository.GroupRepository, users repository.UserRepository, generator GenerationService) GroupService {
	return &groupService{
		groups:    groups,
		users:     users,
		generator: generator,
		inFlight:  make(map[uint]bool),
	}
}

func (s *groupService) CreateGroup(creatorID, partnerID string) (*models.Group, error) {
	if creatorID == "" {
		return nil, errors.New("creatorID cannot be empty")
	}
	doc, err := s.users.Get(creatorID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	if doc.ActiveGroupID != nil {
		return nil, models.ErrAlreadyInGroup
	}

	group := &models.Group{
		CreatorID: creatorID,
		PartnerID: partnerID,
		Members:   []models.GroupMember{{UserID: creatorID}},
	}
	if err := s.groups.Create(group); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	if err := s.users.SetActiveGroup(creatorID, &group.ID); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	log.Printf("INFO: [GroupService] Group %d created by %s with partner %s.", group.ID, creatorID, partnerID)
	return s.Snapshot(group.ID)
}

func (s *groupService) SetTopic(groupID uint, topic string, requesterID string) (*models.Group, error) {
	group, err := s.groups.Get(groupID)
	if err != nil {
		return nil, err
	}
	if requesterID != group.CreatorID {
		log.Printf("INFO: [GroupService] Topic change by non-creator %s ignored for group %d.", requesterID, groupID)
		return group, nil
	}
	if err := s.groups.UpdateTopic(groupID, topic); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	log.Printf("INFO: [GroupService] Topic of group %d set to '%s'.", groupID, topic)
	return s.Snapshot(groupID)
}

func (s *groupService) Join(groupID uint, userID string) (*models.Group, error) {
	if userID == "" {
		return nil, errors.New("userID cannot be empty")
	}
	doc, err := s.users.Get(userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	if doc.ActiveGroupID != nil {
		return nil, models.ErrAlreadyInGroup
	}

	group, err := s.groups.Get(groupID)
	if err != nil {
		return nil, err
	}
	if group.HasMember(userID) {
		return group, nil
	}
	if len(group.Members) >= models.MaxGroupMembers {
		return nil, models.ErrGroupFull
	}

	if err := s.groups.AddMember(groupID, userID); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	if err := s.users.SetActiveGroup(userID, &groupID); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	log.Printf("INFO: [GroupService] User %s joined group %d.", userID, groupID)
	return s.Snapshot(groupID)
}

func (s *groupService) Leave(groupID uint, userID string) error {
	group, err := s.groups.Get(groupID)
	if err != nil {
		return err
	}
	if !group.HasMember(userID) {
		return nil
	}

	if err := s.groups.RemoveMember(groupID, userID); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	if err := s.users.SetActiveGroup(userID, nil); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}

	if userID == group.CreatorID {
		// No authority transfer: the group goes inert. Members keep read
		// access to history but no further bot turns are generated.
		if err := s.groups.MarkCreatorLeft(groupID); err != nil {
			return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
		}
		log.Printf("INFO: [GroupService] Creator %s left group %d; group is now inert.", userID, groupID)
	} else {
		log.Printf("INFO: [GroupService] User %s left group %d.", userID, groupID)
	}

	if len(group.Members) == 1 {
		// Last member gone.
		if err := s.groups.Delete(groupID); err != nil {
			return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
		}
	}
	return nil
}

func (s *groupService) PostMessage(ctx context.Context, groupID uint, msg models.Message) (*models.Group, error) {
	group, err := s.groups.Get(groupID)
	if err != nil {
		return nil, err
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	row := models.GroupMessageFrom(groupID, msg)
	if err := s.groups.AppendMessage(groupID, &row); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}

	// The mention rule is evaluated independently of the append: every
	// message is persisted, only @bot-prefixed ones invoke a turn.
	if msg.Sender == models.SenderUser && WantsBotTurn(msg.Text) && !group.CreatorLeft {
		s.generateGroupTurn(ctx, groupID, group)
	}
	return s.Snapshot(groupID)
}

// generateGroupTurn produces one bot reply for the group, scoped to the
// shared topic. The per-group guard makes turn generation mutually exclusive;
// a message that arrives while a turn is pending is persisted without
// spawning a second generation.
func (s *groupService) generateGroupTurn(ctx context.Context, groupID uint, group *models.Group) {
	s.mu.Lock()
	if s.inFlight[groupID] {
		s.mu.Unlock()
		log.Printf("INFO: [GroupService] Bot turn skipped for group %d: generation already in flight.", groupID)
		return
	}
	s.inFlight[groupID] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, groupID)
		s.mu.Unlock()
	}()

	partner := config.PartnerByID(group.PartnerID)
	if partner == nil {
		log.Printf("ERROR: [GroupService] Partner '%s' of group %d is not configured; skipping bot turn.", group.PartnerID, groupID)
		return
	}

	// Re-read so the generation context includes the triggering message,
	// re-sorted by timestamp.
	current, err := s.groups.Get(groupID)
	if err != nil {
		log.Printf("WARN: [GroupService] Could not load group %d for bot turn: %v", groupID, err)
		return
	}

	opts := GenerationOptions{
		Partner: partner,
		// The shared topic replaces any member's personal lesson cache so
		// the bot's answers stay consistent for everyone.
		Topic: current.Topic,
	}
	result, err := s.generator.GenerateTurn(ctx, current.SortedMessages(), opts)

	var reply models.Message
	if err != nil {
		log.Printf("WARN: [GroupService] Bot turn failed for group %d, substituting fallback: %v", groupID, err)
		reply = FallbackMessage(partner.Name)
	} else {
		reply = models.Message{
			Sender:     models.SenderAI,
			SenderName: partner.Name,
			Text:       result.Text,
			Correction: result.Correction,
			Timestamp:  time.Now(),
		}
	}

	row := models.GroupMessageFrom(groupID, reply)
	if err := s.groups.AppendMessage(groupID, &row); err != nil {
		log.Printf("ERROR: [GroupService] Failed to persist bot turn for group %d: %v", groupID, err)
	}
}

func (s *groupService) Snapshot(groupID uint) (*models.Group, error) {
	group, err := s.groups.Get(groupID)
	if err != nil {
		return nil, err
	}
	// Replace-and-resort: arrival order is not causal order.
	sorted := group.SortedMessages()
	group.Messages = group.Messages[:0]
	for _, msg := range sorted {
		group.Messages = append(group.Messages, models.GroupMessageFrom(groupID, msg))
	}
	return group, nil
}

func (s *groupService) Subscribe(groupID uint) (<-chan models.Group, func(), error) {
	if _, err := s.groups.Get(groupID); err != nil {
		return nil, nil, err
	}
	ch, cancel := s.groups.Subscribe(groupID)
	return ch, cancel, nil
}

func (s *groupService) DeleteGroup(groupID uint, requesterID string) error {
	group, err := s.groups.Get(groupID)
	if err != nil {
		return err
	}
	if requesterID != group.CreatorID {
		return models.ErrNotAuthorized
	}
	for _, member := range group.Members {
		if err := s.users.SetActiveGroup(member.UserID, nil); err != nil {
			return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
		}
	}
	if err := s.groups.Delete(groupID); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}
