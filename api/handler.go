package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/stgisi414/langcampus-exchange-sub000/models"
	"github.com/stgisi414/langcampus-exchange-sub000/services"
	"github.com/stgisi414/langcampus-exchange-sub000/utils"

	"github.com/gin-gonic/gin"
)

// APIHandler holds the handler dependencies.
type APIHandler struct {
	sessions services.SessionService
	groups   services.GroupService
	quota    services.QuotaService
}

// NewAPIHandler creates a new APIHandler with all dependencies injected.
func NewAPIHandler(sessions services.SessionService, groups services.GroupService, quota services.QuotaService) *APIHandler {
	return &APIHandler{
		sessions: sessions,
		groups:   groups,
		quota:    quota,
	}
}

// sessionRequest is the common envelope for user-initiated actions. The
// subscription state is supplied by the caller's session layer (it is
// derived from the payment processor and read-only here); empty means free.
type sessionRequest struct {
	UserID       string                   `json:"user_id" binding:"required"`
	Subscription models.SubscriptionState `json:"subscription"`
	PartnerID    string                   `json:"partner_id"`
	Text         string                   `json:"text"`
	Transcript   string                   `json:"transcript"`
	AudioRef     string                   `json:"audio_ref"`
	Topic        string                   `json:"topic"`
	Quiz         *services.QuizResult     `json:"quiz"`
}

func (r *sessionRequest) subscription() models.SubscriptionState {
	if r.Subscription == models.SubscriptionSubscriber {
		return models.SubscriptionSubscriber
	}
	return models.SubscriptionFree
}

// writeEngineError maps the engine's sentinel errors to HTTP responses.
func writeEngineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrQuotaExceeded):
		utils.SendJSONError(c, http.StatusTooManyRequests,
			"Daily limit reached. Upgrade your subscription or come back tomorrow.", err)
	case errors.Is(err, models.ErrStoreUnavailable):
		utils.SendJSONError(c, http.StatusServiceUnavailable,
			"We couldn't reach the server just now. Please retry.", err)
	case errors.Is(err, models.ErrTurnInFlight):
		utils.SendJSONError(c, http.StatusConflict,
			"A reply is already on its way.", err)
	case errors.Is(err, models.ErrGroupFull):
		utils.SendJSONError(c, http.StatusConflict, "This group is full.", err)
	case errors.Is(err, models.ErrAlreadyInGroup):
		utils.SendJSONError(c, http.StatusConflict, "You are already in a group. Leave it first.", err)
	case errors.Is(err, models.ErrGroupNotFound):
		utils.SendJSONError(c, http.StatusNotFound, "Group not found.", err)
	case errors.Is(err, models.ErrNotAuthorized):
		utils.SendJSONError(c, http.StatusForbidden, "Not authorized.", err)
	default:
		utils.SendJSONError(c, http.StatusInternalServerError, "", err)
	}
}

// OpenChatHandler opens (or resumes) a solo conversation.
func (h *APIHandler) OpenChatHandler(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "Invalid request: "+err.Error(), err)
		return
	}
	messages, err := h.sessions.OpenConversation(req.UserID, req.PartnerID)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// CloseChatHandler discards the open solo conversation.
func (h *APIHandler) CloseChatHandler(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "Invalid request: "+err.Error(), err)
		return
	}
	h.sessions.CloseConversation(req.UserID)
	c.JSON(http.StatusOK, gin.H{"closed": true})
}

// SendTextHandler sends a text message into the solo conversation.
func (h *APIHandler) SendTextHandler(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "Invalid request: "+err.Error(), err)
		return
	}
	messages, err := h.sessions.SendText(c.Request.Context(), req.UserID, req.subscription(), req.PartnerID, req.Text)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// SendAudioHandler sends an already-transcribed voice message.
func (h *APIHandler) SendAudioHandler(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "Invalid request: "+err.Error(), err)
		return
	}
	messages, err := h.sessions.SendAudioTranscript(c.Request.Context(), req.UserID, req.subscription(), req.PartnerID, req.Transcript, req.AudioRef)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// ShareQuizHandler shares a quiz result into the conversation.
func (h *APIHandler) ShareQuizHandler(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "Invalid request: "+err.Error(), err)
		return
	}
	if req.Quiz == nil {
		utils.SendJSONError(c, http.StatusBadRequest, "Missing quiz result.", nil)
		return
	}
	messages, err := h.sessions.ShareQuizResult(c.Request.Context(), req.UserID, req.subscription(), req.PartnerID, *req.Quiz)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// StartLessonHandler starts a lesson on a topic in the solo conversation.
func (h *APIHandler) StartLessonHandler(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "Invalid request: "+err.Error(), err)
		return
	}
	messages, err := h.sessions.StartLesson(c.Request.Context(), req.UserID, req.subscription(), req.PartnerID, req.Topic)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// PlayAudioHandler meters an audio playback.
func (h *APIHandler) PlayAudioHandler(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "Invalid request: "+err.Error(), err)
		return
	}
	if err := h.sessions.PlayAudio(req.UserID, req.subscription()); err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"admitted": true})
}

// SearchHandler meters a partner search.
func (h *APIHandler) SearchHandler(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "Invalid request: "+err.Error(), err)
		return
	}
	if err := h.sessions.SearchPartners(req.UserID, req.subscription()); err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"admitted": true})
}

// SaveChatHandler persists the open solo conversation to the user document.
func (h *APIHandler) SaveChatHandler(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "Invalid request: "+err.Error(), err)
		return
	}
	if err := h.sessions.SaveChat(req.UserID); err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": true})
}

// LoadChatHandler restores the saved solo conversation.
func (h *APIHandler) LoadChatHandler(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "Invalid request: "+err.Error(), err)
		return
	}
	messages, err := h.sessions.LoadSavedChat(req.UserID, req.PartnerID)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// UsageHandler returns the caller's current counters and limits.
func (h *APIHandler) UsageHandler(c *gin.Context) {
	userID := c.Param("userID")
	counters, limits, err := h.quota.Usage(userID)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"usage": counters, "limits": limits})
}

// groupRequest is the envelope for group actions.
type groupRequest struct {
	UserID       string                   `json:"user_id" binding:"required"`
	Subscription models.SubscriptionState `json:"subscription"`
	PartnerID    string                   `json:"partner_id"`
	Topic        string                   `json:"topic"`
	Text         string                   `json:"text"`
}

func (r *groupRequest) subscription() models.SubscriptionState {
	if r.Subscription == models.SubscriptionSubscriber {
		return models.SubscriptionSubscriber
	}
	return models.SubscriptionFree
}

func groupIDParam(c *gin.Context) (uint, bool) {
	raw := c.Param("groupID")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "Invalid group ID.", err)
		return 0, false
	}
	return uint(id), true
}

// CreateGroupHandler creates a group with the caller as creator.
func (h *APIHandler) CreateGroupHandler(c *gin.Context) {
	var req groupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "Invalid request: "+err.Error(), err)
		return
	}
	group, err := h.groups.CreateGroup(req.UserID, req.PartnerID)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"group": group})
}

// JoinGroupHandler adds the caller to a group.
func (h *APIHandler) JoinGroupHandler(c *gin.Context) {
	groupID, ok := groupIDParam(c)
	if !ok {
		return
	}
	var req groupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "Invalid request: "+err.Error(), err)
		return
	}
	group, err := h.sessions.JoinGroup(groupID, req.UserID)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"group": group})
}

// LeaveGroupHandler removes the caller from a group.
func (h *APIHandler) LeaveGroupHandler(c *gin.Context) {
	groupID, ok := groupIDParam(c)
	if !ok {
		return
	}
	var req groupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "Invalid request: "+err.Error(), err)
		return
	}
	if err := h.sessions.LeaveGroup(groupID, req.UserID); err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"left": true})
}

// SetTopicHandler sets the shared lesson topic (creator only; other callers
// are silently ignored and receive the unchanged group).
func (h *APIHandler) SetTopicHandler(c *gin.Context) {
	groupID, ok := groupIDParam(c)
	if !ok {
		return
	}
	var req groupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "Invalid request: "+err.Error(), err)
		return
	}
	group, err := h.sessions.SetGroupTopic(req.UserID, req.subscription(), groupID, req.Topic)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"group": group})
}

// PostGroupMessageHandler posts a message into the group, invoking a bot turn
// when the message mentions the bot.
func (h *APIHandler) PostGroupMessageHandler(c *gin.Context) {
	groupID, ok := groupIDParam(c)
	if !ok {
		return
	}
	var req groupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "Invalid request: "+err.Error(), err)
		return
	}
	group, err := h.sessions.PostGroupMessage(c.Request.Context(), req.UserID, req.subscription(), groupID, req.Text)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"group": group})
}

// GetGroupHandler returns the full group state, messages re-sorted.
func (h *APIHandler) GetGroupHandler(c *gin.Context) {
	groupID, ok := groupIDParam(c)
	if !ok {
		return
	}
	group, err := h.groups.Snapshot(groupID)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"group": group})
}

// DeleteGroupHandler deletes a group (creator only).
func (h *APIHandler) DeleteGroupHandler(c *gin.Context) {
	groupID, ok := groupIDParam(c)
	if !ok {
		return
	}
	var req groupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "Invalid request: "+err.Error(), err)
		return
	}
	if err := h.groups.DeleteGroup(groupID, req.UserID); err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
