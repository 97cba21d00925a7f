package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/lorechronicles/server/game/character"
	mw "github.com/lorechronicles/server/middleware"
	"github.com/lorechronicles/server/model"
)

// CharacterHandler handles character REST endpoints.
type CharacterHandler struct {
	db    *gorm.DB
	chars *character.Service
}

// NewCharacterHandler creates a new CharacterHandler.
func NewCharacterHandler(db *gorm.DB, chars *character.Service) *CharacterHandler {
	return &CharacterHandler{db: db, chars: chars}
}

type createCharacterRequest struct {
	Name string `json:"name" binding:"required,min=2,max=32"`
	Race string `json:"race" binding:"max=32"`
}

// Create handles POST /api/characters.
func (h *CharacterHandler) Create(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	var req createCharacterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	char, err := h.chars.Create(c.Request.Context(), accountID, req.Name, req.Race)
	if errors.Is(err, character.ErrMaxCharacters) {
		c.JSON(http.StatusConflict, gin.H{"error": "character limit reached"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"character": char})
}

// List handles GET /api/characters. Fallen characters are included so the
// roster can show the memorial.
func (h *CharacterHandler) List(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	chars, err := h.chars.List(c.Request.Context(), accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"characters": chars})
}

// Get handles GET /api/characters/:id.
func (h *CharacterHandler) Get(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	charID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	char, err := h.ownedCharacter(c, accountID, charID)
	if err != nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{"character": char})
}

// Legacy handles GET /api/legacy: the account's unconsumed
// bonuses from fallen characters.
func (h *CharacterHandler) Legacy(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	var bonuses []model.LegacyBonus
	if err := h.db.Where("account_id = ? AND consumed = ?", accountID, false).
		Order("id").Find(&bonuses).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"legacy_bonuses": bonuses})
}

// ownedCharacter loads a character and verifies ownership, writing the
// error response itself on failure.
func (h *CharacterHandler) ownedCharacter(c *gin.Context, accountID, charID int64) (*model.Character, error) {
	var char model.Character
	err := h.db.Where("id = ? AND account_id = ?", charID, accountID).First(&char).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "character not found"})
		return nil, err
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return nil, err
	}
	return &char, nil
}
