package inventory

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/lorechronicles/server/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxStack = 99

var (
	// ErrNotFound is returned when an item or entry does not exist.
	ErrNotFound = errors.New("inventory: not found")
	// ErrNotEnough is returned when removing more than the held quantity.
	ErrNotEnough = errors.New("inventory: not enough items")
	// ErrQuestItem is returned when dropping a quest item.
	ErrQuestItem = errors.New("inventory: quest items cannot be dropped")
	// ErrNotEquippable is returned for items without an equip slot.
	ErrNotEquippable = errors.New("inventory: item cannot be equipped")
	// ErrAlreadyEquipped is returned when equipping an equipped entry.
	ErrAlreadyEquipped = errors.New("inventory: item already equipped")
)

// Service handles all inventory operations for characters.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService creates a new inventory Service.
func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Add grants qty of itemID to the character. Consumables and quest items stack
// up to 99 per entry; equipment is always a separate row so each piece tracks
// its own durability.
func (svc *Service) Add(ctx context.Context, charID, itemID int64, qty int) error {
	return svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item model.Item
		if err := tx.First(&item, itemID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		if item.Slot == "" {
			var existing model.InventoryEntry
			err := tx.Where("character_id = ? AND item_id = ?", charID, itemID).
				First(&existing).Error
			if err == nil {
				newQty := existing.Qty + qty
				if newQty > maxStack {
					newQty = maxStack
				}
				return tx.Model(&existing).Update("qty", newQty).Error
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}

		entry := &model.InventoryEntry{CharacterID: charID, ItemID: itemID, Qty: qty}
		if item.MaxDurability > 0 {
			dur := item.MaxDurability
			entry.CurrentDurability = &dur
		}
		return tx.Create(entry).Error
	})
}

// Drop removes qty of itemID from the character's bag. The entry is deleted
// when the quantity reaches 0. Quest items are refused.
func (svc *Service) Drop(ctx context.Context, charID, itemID int64, qty int) error {
	return svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item model.Item
		if err := tx.First(&item, itemID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if item.IsQuestItem {
			return ErrQuestItem
		}

		var entry model.InventoryEntry
		if err := tx.Where("character_id = ? AND item_id = ?", charID, itemID).
			First(&entry).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if entry.Qty < qty {
			return ErrNotEnough
		}
		if entry.Qty == qty {
			return tx.Delete(&entry).Error
		}
		return tx.Model(&entry).Update("qty", entry.Qty-qty).Error
	})
}

// Equip puts the entry into its item's slot, displacing whatever occupied it.
// At most one entry per character per slot ever stays equipped.
func (svc *Service) Equip(ctx context.Context, charID, entryID int64) error {
	return svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry model.InventoryEntry
		if err := tx.Where("id = ? AND character_id = ?", entryID, charID).
			First(&entry).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if entry.Equipped {
			return ErrAlreadyEquipped
		}

		var item model.Item
		if err := tx.First(&item, entry.ItemID).Error; err != nil {
			return err
		}
		if item.Slot == "" {
			return ErrNotEquippable
		}

		// Displace the current occupant of the slot.
		var occupant model.InventoryEntry
		err := tx.Where("character_id = ? AND slot = ? AND equipped = ?", charID, item.Slot, true).
			First(&occupant).Error
		if err == nil {
			if err2 := tx.Model(&occupant).Updates(map[string]interface{}{
				"equipped": false,
				"slot":     "",
			}).Error; err2 != nil {
				return err2
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		return tx.Model(&entry).Updates(map[string]interface{}{
			"equipped": true,
			"slot":     item.Slot,
		}).Error
	})
}

// Unequip clears the equipped flag on the entry.
func (svc *Service) Unequip(ctx context.Context, charID, entryID int64) error {
	return svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry model.InventoryEntry
		if err := tx.Where("id = ? AND character_id = ? AND equipped = ?", entryID, charID, true).
			First(&entry).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		return tx.Model(&entry).Updates(map[string]interface{}{
			"equipped": false,
			"slot":     "",
		}).Error
	})
}

// List returns all inventory entries for a character.
func (svc *Service) List(ctx context.Context, charID int64) ([]model.InventoryEntry, error) {
	var entries []model.InventoryEntry
	err := svc.db.WithContext(ctx).Where("character_id = ?", charID).
		Order("id").Find(&entries).Error
	return entries, err
}

// AggregateBonuses sums the stat bonuses of all equipped entries whose
// durability has not hit 0. Broken gear stays in the bag but grants nothing.
func (svc *Service) AggregateBonuses(ctx context.Context, charID int64) (map[string]int, error) {
	return AggregateBonusesTx(svc.db.WithContext(ctx), charID)
}

// AggregateBonusesTx is the transaction-scoped form of AggregateBonuses.
func AggregateBonusesTx(tx *gorm.DB, charID int64) (map[string]int, error) {
	var entries []model.InventoryEntry
	if err := tx.Where("character_id = ? AND equipped = ?", charID, true).
		Find(&entries).Error; err != nil {
		return nil, err
	}

	total := make(map[string]int)
	for _, entry := range entries {
		if entry.CurrentDurability != nil && *entry.CurrentDurability <= 0 {
			continue
		}
		var item model.Item
		if err := tx.First(&item, entry.ItemID).Error; err != nil {
			return nil, err
		}
		if len(item.StatBonuses) == 0 {
			continue
		}
		bonuses := make(map[string]int)
		if err := json.Unmarshal(item.StatBonuses, &bonuses); err != nil {
			continue
		}
		for stat, v := range bonuses {
			if model.ValidStat(stat) {
				total[stat] += v
			}
		}
	}
	return total, nil
}

// Has reports whether the character holds at least one of itemID.
func Has(entries []model.InventoryEntry, itemID int64) bool {
	for _, e := range entries {
		if e.ItemID == itemID && e.Qty >= 1 {
			return true
		}
	}
	return false
}
