package rest

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lorechronicles/server/cache"
	"github.com/lorechronicles/server/model"
)

// RankingHandler handles leaderboard REST endpoints.
type RankingHandler struct {
	db     *gorm.DB
	cache  cache.Cache
	logger *zap.Logger
}

// NewRankingHandler creates a RankingHandler.
func NewRankingHandler(db *gorm.DB, c cache.Cache, logger *zap.Logger) *RankingHandler {
	return &RankingHandler{db: db, cache: c, logger: logger}
}

const rankingZKey = "ranking:xp"
const rankingTop = 100

// RankEntry is one row in the leaderboard.
type RankEntry struct {
	Rank     int    `json:"rank"`
	CharID   int64  `json:"char_id"`
	CharName string `json:"char_name"`
	Level    int    `json:"level"`
	XP       int64  `json:"xp"`
	Fallen   bool   `json:"fallen"`
}

// TopXP returns the top characters by lifetime XP. Fallen characters stay on
// the board; a fresh board would erase every permadeath run's mark.
// GET /api/ranking/xp?limit=20
func (h *RankingHandler) TopXP(c *gin.Context) {
	limit := 20
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= rankingTop {
		limit = l
	}

	// Try the cached sorted set first.
	ctx := c.Request.Context()
	members, err := h.cache.ZRevRange(ctx, rankingZKey, 0, int64(limit-1))
	if err == nil && len(members) > 0 {
		entries := make([]RankEntry, 0, len(members))
		for i, m := range members {
			charID, err := strconv.ParseInt(m, 10, 64)
			if err != nil {
				continue
			}
			score, _ := h.cache.ZScore(ctx, rankingZKey, m)
			entries = append(entries, RankEntry{
				Rank:   i + 1,
				CharID: charID,
				XP:     int64(score),
			})
		}
		h.enrichNames(entries)
		c.JSON(http.StatusOK, gin.H{"ranking": entries})
		return
	}

	// Fall back to the DB.
	var chars []model.Character
	h.db.Select("id, name, level, xp, is_active").
		Order("xp DESC").
		Limit(limit).
		Find(&chars)

	entries := make([]RankEntry, len(chars))
	for i, ch := range chars {
		entries[i] = RankEntry{
			Rank:     i + 1,
			CharID:   ch.ID,
			CharName: ch.Name,
			Level:    ch.Level,
			XP:       ch.XP,
			Fallen:   !ch.IsActive,
		}
		_ = h.cache.ZAdd(ctx, rankingZKey, float64(ch.XP), strconv.FormatInt(ch.ID, 10))
	}
	c.JSON(http.StatusOK, gin.H{"ranking": entries})
}

// Refresh rebuilds the ranking sorted set from the DB. Called periodically
// by the scheduler; also exposed as POST /api/admin/ranking/refresh.
func (h *RankingHandler) Refresh(ctx context.Context) (int, error) {
	var chars []model.Character
	if err := h.db.Select("id, xp").Order("xp DESC").Limit(rankingTop).
		Find(&chars).Error; err != nil {
		return 0, err
	}
	for _, ch := range chars {
		_ = h.cache.ZAdd(ctx, rankingZKey, float64(ch.XP), strconv.FormatInt(ch.ID, 10))
	}
	return len(chars), nil
}

// RefreshHandler handles POST /api/admin/ranking/refresh.
func (h *RankingHandler) RefreshHandler(c *gin.Context) {
	n, err := h.Refresh(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"refreshed": n})
}

func (h *RankingHandler) enrichNames(entries []RankEntry) {
	if len(entries) == 0 {
		return
	}
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.CharID
	}
	var chars []model.Character
	h.db.Select("id, name, level, xp, is_active").Where("id IN ?", ids).Find(&chars)
	nameMap := make(map[int64]model.Character, len(chars))
	for _, ch := range chars {
		nameMap[ch.ID] = ch
	}
	for i := range entries {
		if ch, ok := nameMap[entries[i].CharID]; ok {
			entries[i].CharName = ch.Name
			entries[i].Level = ch.Level
			entries[i].XP = ch.XP
			entries[i].Fallen = !ch.IsActive
		}
	}
}
