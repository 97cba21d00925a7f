package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lorechronicles/server/game/interpret"
	"github.com/lorechronicles/server/game/story"
	mw "github.com/lorechronicles/server/middleware"
)

// PlayHandler exposes the story engine: starting sessions, reading the
// current scene, taking choices and free-text actions.
type PlayHandler struct {
	stories *story.Service
}

// NewPlayHandler creates a new PlayHandler.
func NewPlayHandler(stories *story.Service) *PlayHandler {
	return &PlayHandler{stories: stories}
}

type startRequest struct {
	CampaignID  int64 `json:"campaign_id" binding:"required"`
	CharacterID int64 `json:"character_id" binding:"required"`
}

// Start handles POST /api/play/start.
func (h *PlayHandler) Start(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.stories.StartSession(c.Request.Context(), accountID, req.CampaignID, req.CharacterID)
	if err != nil {
		writeStoryError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// Sessions handles GET /api/play/sessions.
func (h *PlayHandler) Sessions(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	sessions, err := h.stories.ListSessions(c.Request.Context(), accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// Current handles GET /api/play/sessions/:id/current.
func (h *PlayHandler) Current(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	sessionID, ok := paramID(c)
	if !ok {
		return
	}
	view, err := h.stories.Current(c.Request.Context(), accountID, sessionID)
	if err != nil {
		writeStoryError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type choiceRequest struct {
	ChoiceID int64 `json:"choice_id" binding:"required"`
}

// Choose handles POST /api/play/sessions/:id/choice.
func (h *PlayHandler) Choose(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	sessionID, ok := paramID(c)
	if !ok {
		return
	}
	var req choiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.stories.ApplyChoice(c.Request.Context(), accountID, sessionID, req.ChoiceID)
	if err != nil {
		writeStoryError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type actionRequest struct {
	Text string `json:"text" binding:"required,min=1,max=500"`
}

// Act handles POST /api/play/sessions/:id/action: a free-form action instead
// of a listed choice.
func (h *PlayHandler) Act(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	sessionID, ok := paramID(c)
	if !ok {
		return
	}
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	verdict, res, err := h.stories.ApplyFreeText(c.Request.Context(), accountID, sessionID, req.Text)
	if err != nil {
		writeStoryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"verdict": verdict, "result": res})
}

func paramID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// writeStoryError maps engine errors onto HTTP statuses.
func writeStoryError(c *gin.Context, err error) {
	var reqErr *story.RequirementNotMetError
	var svcErr *interpret.ServiceError
	switch {
	case errors.Is(err, story.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.As(err, &reqErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": reqErr.Reason})
	case errors.Is(err, story.ErrSessionCompleted):
		c.JSON(http.StatusConflict, gin.H{"error": "session already completed"})
	case errors.Is(err, story.ErrSessionBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "session is processing another step"})
	case errors.Is(err, story.ErrCharacterFallen):
		c.JSON(http.StatusConflict, gin.H{"error": "character has fallen"})
	case errors.As(err, &svcErr):
		switch svcErr.Kind {
		case interpret.KindRateLimited:
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "narrator is busy, try again shortly"})
		case interpret.KindQuotaExhausted:
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "narrator is unavailable"})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": "narrator error"})
		}
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
