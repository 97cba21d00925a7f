package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/lorechronicles/server/game/inventory"
	mw "github.com/lorechronicles/server/middleware"
	"github.com/lorechronicles/server/model"
)

// InventoryHandler handles inventory REST endpoints.
type InventoryHandler struct {
	db  *gorm.DB
	inv *inventory.Service
}

// NewInventoryHandler creates a new InventoryHandler.
func NewInventoryHandler(db *gorm.DB, inv *inventory.Service) *InventoryHandler {
	return &InventoryHandler{db: db, inv: inv}
}

// List handles GET /api/characters/:id/inventory.
func (h *InventoryHandler) List(c *gin.Context) {
	charID, ok := h.ownedCharID(c)
	if !ok {
		return
	}
	entries, err := h.inv.List(c.Request.Context(), charID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	bonuses, err := h.inv.AggregateBonuses(c.Request.Context(), charID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"inventory": entries, "equip_bonuses": bonuses})
}

type dropRequest struct {
	ItemID int64 `json:"item_id" binding:"required"`
	Qty    int   `json:"qty" binding:"required,min=1"`
}

// Drop handles POST /api/characters/:id/inventory/drop.
func (h *InventoryHandler) Drop(c *gin.Context) {
	charID, ok := h.ownedCharID(c)
	if !ok {
		return
	}
	var req dropRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.inv.Drop(c.Request.Context(), charID, req.ItemID, req.Qty)
	switch {
	case errors.Is(err, inventory.ErrQuestItem):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "quest items cannot be dropped"})
	case errors.Is(err, inventory.ErrNotEnough):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "not enough items"})
	case errors.Is(err, inventory.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "item not held"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	default:
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

type equipRequest struct {
	EntryID int64 `json:"entry_id" binding:"required"`
}

// Equip handles POST /api/characters/:id/inventory/equip.
func (h *InventoryHandler) Equip(c *gin.Context) {
	charID, ok := h.ownedCharID(c)
	if !ok {
		return
	}
	var req equipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.inv.Equip(c.Request.Context(), charID, req.EntryID)
	switch {
	case errors.Is(err, inventory.ErrNotEquippable):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "item cannot be equipped"})
	case errors.Is(err, inventory.ErrAlreadyEquipped):
		c.JSON(http.StatusConflict, gin.H{"error": "already equipped"})
	case errors.Is(err, inventory.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	default:
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// Unequip handles POST /api/characters/:id/inventory/unequip.
func (h *InventoryHandler) Unequip(c *gin.Context) {
	charID, ok := h.ownedCharID(c)
	if !ok {
		return
	}
	var req equipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.inv.Unequip(c.Request.Context(), charID, req.EntryID)
	switch {
	case errors.Is(err, inventory.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not equipped"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	default:
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// ownedCharID parses :id and verifies the character belongs to the caller,
// writing the error response itself on failure.
func (h *InventoryHandler) ownedCharID(c *gin.Context) (int64, bool) {
	accountID := mw.GetAccountID(c)
	charID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	var char model.Character
	if err := h.db.Where("id = ? AND account_id = ?", charID, accountID).
		First(&char).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "character not found"})
		return 0, false
	}
	return charID, true
}
