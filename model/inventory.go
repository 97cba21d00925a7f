package model

import "time"

// InventoryEntry is a single item stack owned by a character.
// Qty never goes below 0; the row is deleted when it reaches 0, except for
// quest items which drop paths never auto-remove.
type InventoryEntry struct {
	ID                int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CharacterID       int64     `gorm:"index:idx_char_inventory;not null" json:"character_id"`
	ItemID            int64     `gorm:"not null" json:"item_id"`
	Qty               int       `gorm:"default:1" json:"qty"`
	Equipped          bool      `gorm:"default:false" json:"equipped"`
	Slot              string    `gorm:"size:16" json:"slot"` // "" when not equipped
	CurrentDurability *int      `json:"current_durability"`  // nil = not tracked; 0 disables bonuses
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
