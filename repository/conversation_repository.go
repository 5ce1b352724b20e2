package repository

import (
	"log"
	"sync"

	"github.com/stgisi414/langcampus-exchange-sub000/models"
)

// ConversationSession is the live state of one open solo conversation. It is
// process-local and discarded when closed unless the user explicitly saves
// the chat. All fields are guarded by the internal mutex; the generation
// guard and the nudge finalization are the only two coordination primitives
// the turn and nudge coordinators need.
type ConversationSession struct {
	ID        string
	UserID    string
	PartnerID string

	mu       sync.Mutex
	messages []models.Message
	pending  bool
	nudges   int
}

// NewConversationSession creates an empty session for a user/partner pair.
func NewConversationSession(userID, partnerID string) *ConversationSession {
	return &ConversationSession{
		ID:        userID + ":" + partnerID,
		UserID:    userID,
		PartnerID: partnerID,
	}
}

// TryBeginGeneration sets the pending-generation guard. It returns false if a
// generation is already in flight; the caller must not proceed in that case.
// The guard is set synchronously, before any asynchronous work begins.
func (c *ConversationSession) TryBeginGeneration() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending {
		return false
	}
	c.pending = true
	return true
}

// EndGeneration clears the guard. Always call it (success or failure) once a
// generation's result has been applied.
func (c *ConversationSession) EndGeneration() {
	c.mu.Lock()
	c.pending = false
	c.mu.Unlock()
}

// GenerationPending reports whether a generation is currently in flight.
func (c *ConversationSession) GenerationPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Append adds a message to the conversation.
func (c *ConversationSession) Append(msg models.Message) {
	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.mu.Unlock()
}

// FinalizeNudge appends an AI-initiated message and counts it, but only if
// the conversation still has exactly armLen messages. If the user (or a turn)
// moved the conversation forward while the nudge was generating, the nudge is
// discarded and the counter is left alone. Returns whether the message was
// appended.
func (c *ConversationSession) FinalizeNudge(msg models.Message, armLen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) != armLen {
		return false
	}
	c.messages = append(c.messages, msg)
	c.nudges++
	return true
}

// Messages returns a copy of the ordered message list.
func (c *ConversationSession) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Replace swaps in a full message list (used when restoring a saved chat).
func (c *ConversationSession) Replace(messages []models.Message) {
	c.mu.Lock()
	c.messages = append([]models.Message(nil), messages...)
	c.mu.Unlock()
}

// Len returns the current message count.
func (c *ConversationSession) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// LastSender returns the sender of the newest message, or "" when empty.
func (c *ConversationSession) LastSender() models.Sender {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 {
		return ""
	}
	return c.messages[len(c.messages)-1].Sender
}

// Nudges returns how many AI-initiated messages have been issued.
func (c *ConversationSession) Nudges() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nudges
}

// ConversationRepository tracks the open solo conversations, one per user.
type ConversationRepository interface {
	Open(userID, partnerID string) *ConversationSession
	Get(userID string) (*ConversationSession, bool)
	Close(userID string)
}

type conversationRepository struct {
	sessions map[string]*ConversationSession
	mu       sync.RWMutex
}

// NewConversationRepository creates an in-memory conversation repository.
func NewConversationRepository() ConversationRepository {
	return &conversationRepository{
		sessions: make(map[string]*ConversationSession),
	}
}

// Open returns the user's current session, creating a fresh one if none is
// open or if the open one is for a different partner.
func (r *conversationRepository) Open(userID, partnerID string) *ConversationSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[userID]; ok && existing.PartnerID == partnerID {
		return existing
	}
	session := NewConversationSession(userID, partnerID)
	r.sessions[userID] = session
	log.Printf("INFO: [ConversationRepository] Opened conversation %s", session.ID)
	return session
}

func (r *conversationRepository) Get(userID string) (*ConversationSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[userID]
	return session, ok
}

func (r *conversationRepository) Close(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session, ok := r.sessions[userID]; ok {
		log.Printf("INFO: [ConversationRepository] Closed conversation %s", session.ID)
		delete(r.sessions, userID)
	}
}
