package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lorechronicles/server/game/story"
	"github.com/lorechronicles/server/model"
	"github.com/lorechronicles/server/scheduler"
)

// AdminHandler handles the authoring and operations REST endpoints.
// Routes should be protected by AdminAuth middleware.
type AdminHandler struct {
	db      *gorm.DB
	stories *story.Service
	sched   *scheduler.Scheduler
	logger  *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(db *gorm.DB, stories *story.Service, sched *scheduler.Scheduler, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{db: db, stories: stories, sched: sched, logger: logger}
}

// Metrics returns server health metrics.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	var campaigns, activeSessions, characters int64
	h.db.Model(&model.Campaign{}).Count(&campaigns)
	h.db.Model(&model.GameSession{}).Where("status = ?", model.SessionActive).Count(&activeSessions)
	h.db.Model(&model.Character{}).Where("is_active = ?", true).Count(&characters)
	c.JSON(http.StatusOK, gin.H{
		"campaigns":       campaigns,
		"active_sessions": activeSessions,
		"characters":      characters,
		"scheduler_tasks": h.sched.ListTickers(),
	})
}

// CreateCampaign handles POST /api/admin/campaigns.
func (h *AdminHandler) CreateCampaign(c *gin.Context) {
	var campaign model.Campaign
	if err := c.ShouldBindJSON(&campaign); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.stories.CreateCampaign(c.Request.Context(), &campaign); err != nil {
		writeAuthoringError(c, err)
		return
	}
	h.logger.Info("campaign created", zap.Int64("campaign_id", campaign.ID), zap.String("title", campaign.Title))
	c.JSON(http.StatusCreated, gin.H{"campaign": campaign})
}

// CreateNode handles POST /api/admin/nodes.
func (h *AdminHandler) CreateNode(c *gin.Context) {
	var node model.StoryNode
	if err := c.ShouldBindJSON(&node); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.stories.CreateNode(c.Request.Context(), &node); err != nil {
		writeAuthoringError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"node": node})
}

// SetStartNode handles POST /api/admin/campaigns/:id/start-node.
func (h *AdminHandler) SetStartNode(c *gin.Context) {
	campaignID, ok := paramID(c)
	if !ok {
		return
	}
	var req struct {
		NodeID int64 `json:"node_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.stories.SetStartNode(c.Request.Context(), campaignID, req.NodeID); err != nil {
		writeAuthoringError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// CreateChoice handles POST /api/admin/choices.
func (h *AdminHandler) CreateChoice(c *gin.Context) {
	var choice model.Choice
	if err := c.ShouldBindJSON(&choice); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.stories.CreateChoice(c.Request.Context(), &choice); err != nil {
		writeAuthoringError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"choice": choice})
}

// CreateItem handles POST /api/admin/items.
func (h *AdminHandler) CreateItem(c *gin.Context) {
	var item model.Item
	if err := c.ShouldBindJSON(&item); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.stories.CreateItem(c.Request.Context(), &item); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"item": item})
}

// GrantItem handles POST /api/admin/characters/:id/grant-item.
func (h *AdminHandler) GrantItem(c *gin.Context) {
	charID, ok := paramID(c)
	if !ok {
		return
	}
	var req struct {
		ItemID int64 `json:"item_id" binding:"required"`
		Qty    int   `json:"qty" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.db.Where("id = ?", req.ItemID).First(&model.Item{}).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
		return
	}
	entry := model.InventoryEntry{CharacterID: charID, ItemID: req.ItemID, Qty: req.Qty}
	if err := h.db.Create(&entry).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"entry": entry})
}

// BanAccount handles POST /api/admin/accounts/:id/ban.
func (h *AdminHandler) BanAccount(c *gin.Context) {
	accountID, ok := paramID(c)
	if !ok {
		return
	}
	var req struct {
		Ban bool `json:"ban"`
	}
	_ = c.ShouldBindJSON(&req)

	status := 1
	if req.Ban {
		status = 0
	}
	result := h.db.Model(&model.Account{}).Where("id = ?", accountID).Update("status", status)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	h.logger.Info("account ban updated", zap.Int64("account_id", accountID), zap.Bool("ban", req.Ban))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func writeAuthoringError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, story.ErrInvalidGraph):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, story.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// AdminAuth returns a middleware that checks the X-Admin-Key header.
// WARNING: if adminKey is empty all admin endpoints are disabled (503) so the
// server cannot be accidentally deployed without protection. Set a non-empty
// server.admin_key in config to enable admin routes.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_key in config"})
			return
		}
		key := c.GetHeader("X-Admin-Key")
		if key != adminKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
