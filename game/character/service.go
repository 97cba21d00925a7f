package character

import (
	"context"
	"errors"

	"github.com/lorechronicles/server/config"
	"github.com/lorechronicles/server/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when the character does not exist.
	ErrNotFound = errors.New("character: not found")
	// ErrMaxCharacters is returned when the account's character limit is reached.
	ErrMaxCharacters = errors.New("character: max characters reached")
	// ErrNotActive is returned when a fallen character is used for play.
	ErrNotActive = errors.New("character: not active")
)

// Service handles character lifecycle and progression.
type Service struct {
	db     *gorm.DB
	game   config.GameConfig
	logger *zap.Logger
}

// NewService creates a new character Service.
func NewService(db *gorm.DB, game config.GameConfig, logger *zap.Logger) *Service {
	return &Service{db: db, game: game, logger: logger}
}

// Create makes a new character for the account. Any unconsumed legacy bonuses
// left by fallen predecessors are applied as starting XP and marked consumed.
func (svc *Service) Create(ctx context.Context, accountID int64, name, race string) (*model.Character, error) {
	start := svc.game.StartingStatValue
	if start < model.StatMin || start > model.StatMax {
		start = 5
	}

	var created *model.Character
	err := svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []model.Character
		if err := tx.Select("id").Where("account_id = ? AND is_active = ?", accountID, true).
			Find(&existing).Error; err != nil {
			return err
		}
		if svc.game.MaxCharacters > 0 && len(existing) >= svc.game.MaxCharacters {
			return ErrMaxCharacters
		}

		var bonuses []model.LegacyBonus
		if err := tx.Where("account_id = ? AND consumed = ?", accountID, false).
			Find(&bonuses).Error; err != nil {
			return err
		}
		var bonusXP int64
		for _, b := range bonuses {
			bonusXP += b.XPBonus
		}

		char := &model.Character{
			AccountID: accountID,
			Name:      name,
			Race:      race,
			Level:     LevelForXP(bonusXP),
			XP:        bonusXP,
			Stats: model.Stats{
				Strength: start, Magic: start, Charisma: start, Wisdom: start, Agility: start,
			},
			IsActive: true,
		}
		if err := tx.Create(char).Error; err != nil {
			return err
		}

		if len(bonuses) > 0 {
			if err := tx.Model(&model.LegacyBonus{}).
				Where("account_id = ? AND consumed = ?", accountID, false).
				Update("consumed", true).Error; err != nil {
				return err
			}
			svc.logger.Info("legacy bonuses consumed",
				zap.Int64("account_id", accountID),
				zap.Int64("character_id", char.ID),
				zap.Int64("bonus_xp", bonusXP),
				zap.Int("count", len(bonuses)))
		}

		created = char
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Get fetches a character by id.
func (svc *Service) Get(ctx context.Context, id int64) (*model.Character, error) {
	var char model.Character
	if err := svc.db.WithContext(ctx).First(&char, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &char, nil
}

// List returns all characters of an account, fallen ones included.
func (svc *Service) List(ctx context.Context, accountID int64) ([]model.Character, error) {
	var chars []model.Character
	err := svc.db.WithContext(ctx).Where("account_id = ?", accountID).
		Order("id").Find(&chars).Error
	return chars, err
}

// GrantXP adds xp to the character and recomputes its level.
func (svc *Service) GrantXP(ctx context.Context, id int64, xp int64) error {
	return GrantXPTx(svc.db.WithContext(ctx), id, xp)
}

// GrantXPTx is the transaction-scoped form of GrantXP so the story resolver
// can fold the grant into its own atomic commit.
func GrantXPTx(tx *gorm.DB, id int64, xp int64) error {
	var char model.Character
	if err := tx.First(&char, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	char.XP += xp
	if char.XP < 0 {
		char.XP = 0
	}
	char.Level = LevelForXP(char.XP)
	return tx.Model(&char).Updates(map[string]interface{}{
		"xp":    char.XP,
		"level": char.Level,
	}).Error
}

// LevelForXP maps total XP to a level. Advancing out of level n costs 100×n XP,
// so the total for level L is 50×L×(L-1). Levels cap at MaxLevel.
func LevelForXP(xp int64) int {
	level := 1
	for level < model.MaxLevel && xp >= int64(50*(level+1)*level) {
		level++
	}
	return level
}
