package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/lorechronicles/server/game/story"
	mw "github.com/lorechronicles/server/middleware"
	"github.com/lorechronicles/server/model"
)

// CampaignHandler handles the campaign catalog REST endpoints.
type CampaignHandler struct {
	db      *gorm.DB
	stories *story.Service
}

// NewCampaignHandler creates a new CampaignHandler.
func NewCampaignHandler(db *gorm.DB, stories *story.Service) *CampaignHandler {
	return &CampaignHandler{db: db, stories: stories}
}

// List handles GET /api/campaigns.
func (h *CampaignHandler) List(c *gin.Context) {
	campaigns, err := h.stories.ListCampaigns(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaigns": campaigns})
}

// Get handles GET /api/campaigns/:id. The response includes which of the
// campaign's endings the caller's account has already reached.
func (h *CampaignHandler) Get(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	campaignID, ok := paramID(c)
	if !ok {
		return
	}

	campaign, _, err := h.stories.GetCampaign(c.Request.Context(), campaignID)
	if err != nil {
		writeStoryError(c, err)
		return
	}

	var endings int64
	h.db.Model(&model.StoryNode{}).
		Where("campaign_id = ? AND node_type = ?", campaignID, model.NodeEnding).
		Count(&endings)
	var seen []model.SeenEnding
	h.db.Where("account_id = ? AND campaign_id = ?", accountID, campaignID).Find(&seen)
	completed := false
	var completion model.CampaignCompletion
	if err := h.db.Where("account_id = ? AND campaign_id = ?", accountID, campaignID).
		First(&completion).Error; err == nil {
		completed = true
	}

	c.JSON(http.StatusOK, gin.H{
		"campaign":     campaign,
		"ending_count": endings,
		"endings_seen": seen,
		"completed":    completed,
	})
}
