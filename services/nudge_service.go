package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/stgisi414/langcampus-exchange-sub000/config"
	"github.com/stgisi414/langcampus-exchange-sub000/models"
	"github.com/stgisi414/langcampus-exchange-sub000/repository"
)

// NudgeService re-engages a silent user in a solo conversation. Per open
// conversation it runs a small state machine: a timer is armed only while it
// is the user's turn to speak (empty conversation, or last message from the
// AI), no generation is pending, and fewer than the capped number of
// AI-initiated messages have been issued. Any observed state change cancels
// the armed timer before conditions are re-evaluated, and a fired nudge is
// finalized with an arm-time snapshot compare so a user message that lands
// during the async window wins and the nudge is discarded.
type NudgeService interface {
	// Observe re-evaluates the arming condition for a conversation. Call it
	// after every relevant state change (open, message appended, generation
	// settled).
	Observe(session *repository.ConversationSession, opts GenerationOptions)
	// Stop cancels any armed timer for the conversation, e.g. when the
	// session closes.
	Stop(sessionID string)
}

type nudgeService struct {
	generator GenerationService

	mu     sync.Mutex
	states map[string]*nudgeState
}

// nudgeState is the timer bookkeeping for one conversation. seq invalidates
// fires from timers that were cancelled after they were already scheduled;
// failures counts consecutive failed generations since the last state change.
type nudgeState struct {
	timer    *time.Timer
	seq      uint64
	failures int
}

// maxNudgeFailures bounds consecutive failed nudge generations. After this
// many the scheduler stands down for the conversation until something else
// changes its state and re-observes it.
const maxNudgeFailures = 3

// NewNudgeService creates a new instance of NudgeService.
func NewNudgeService(generator GenerationService) NudgeService {
	return &nudgeService{
		generator: generator,
		states:    make(map[string]*nudgeState),
	}
}

func nudgeConfig() config.NudgeConfig {
	n := config.AppConfig.Nudge
	d := config.DefaultNudge()
	if n.WelcomeDelay <= 0 {
		n.WelcomeDelay = d.WelcomeDelay
	}
	if n.IdleDelay <= 0 {
		n.IdleDelay = d.IdleDelay
	}
	if n.MaxNudges <= 0 {
		n.MaxNudges = d.MaxNudges
	}
	return n
}

func (s *nudgeService) Observe(session *repository.ConversationSession, opts GenerationOptions) {
	if session == nil {
		return
	}
	// A real state change resets the failure budget; internal retries after
	// failed generations go through rearm directly and keep the count.
	s.mu.Lock()
	if state := s.states[session.ID]; state != nil {
		state.failures = 0
	}
	s.mu.Unlock()
	s.rearm(session, opts)
}

// rearm re-evaluates the arming condition and schedules (or cancels) the
// timer accordingly.
func (s *nudgeService) rearm(session *repository.ConversationSession, opts GenerationOptions) {
	cfg := nudgeConfig()

	s.mu.Lock()
	state := s.states[session.ID]
	if state == nil {
		state = &nudgeState{}
		s.states[session.ID] = state
	}
	// Invalidate whatever was armed; conditions are evaluated fresh below.
	state.seq++
	seq := state.seq
	if state.timer != nil {
		state.timer.Stop()
		state.timer = nil
	}
	s.mu.Unlock()

	if session.GenerationPending() {
		return
	}
	if session.Nudges() >= cfg.MaxNudges {
		return
	}
	armLen := session.Len()
	empty := armLen == 0
	if !empty && session.LastSender() != models.SenderAI {
		// The ball is in the AI's court; a turn will arrive on its own.
		return
	}

	delay := cfg.IdleDelay
	if empty {
		delay = cfg.WelcomeDelay
	}

	timer := time.AfterFunc(delay, func() {
		s.fire(session, opts, seq, armLen, empty)
	})

	s.mu.Lock()
	// Only install the timer if nothing re-observed in between; a newer
	// observation owns the state now.
	if state.seq == seq {
		state.timer = timer
	} else {
		timer.Stop()
	}
	s.mu.Unlock()
}

func (s *nudgeService) Stop(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.states[sessionID]; ok {
		state.seq++
		if state.timer != nil {
			state.timer.Stop()
		}
		delete(s.states, sessionID)
	}
}

// fire runs when an armed timer elapses without cancellation.
func (s *nudgeService) fire(session *repository.ConversationSession, opts GenerationOptions, seq uint64, armLen int, welcome bool) {
	s.mu.Lock()
	state := s.states[session.ID]
	stale := state == nil || state.seq != seq
	s.mu.Unlock()
	if stale {
		return
	}

	// Guard again at fire time: if a turn became pending in the interim,
	// abort silently. The nudge does not take the guard itself; the
	// snapshot compare below resolves the race with a concurrent turn.
	if session.GenerationPending() {
		return
	}

	var text string
	var err error
	ctx := context.Background()
	if welcome {
		text, err = s.generator.GenerateWelcome(ctx, opts.Partner)
	} else {
		text, err = s.generator.GenerateNudge(ctx, session.Messages(), opts)
	}
	if err != nil {
		s.mu.Lock()
		failures := 0
		if state := s.states[session.ID]; state != nil {
			state.failures++
			failures = state.failures
		}
		s.mu.Unlock()
		if failures >= maxNudgeFailures {
			log.Printf("WARN: [NudgeService] Nudge generation failed %d consecutive times for conversation %s, standing down: %v", failures, session.ID, err)
			return
		}
		log.Printf("WARN: [NudgeService] Nudge generation failed for conversation %s: %v", session.ID, err)
		s.rearm(session, opts)
		return
	}

	msg := models.Message{
		Sender:     models.SenderAI,
		SenderName: partnerName(opts),
		Text:       text,
		Timestamp:  time.Now(),
	}
	if session.FinalizeNudge(msg, armLen) {
		log.Printf("INFO: [NudgeService] Nudge %d delivered to conversation %s.", session.Nudges(), session.ID)
	} else {
		// The user moved the conversation forward while we were generating;
		// last writer wins in the user's favor.
		log.Printf("INFO: [NudgeService] Nudge discarded for conversation %s: conversation advanced during generation.", session.ID)
	}

	s.Observe(session, opts)
}
