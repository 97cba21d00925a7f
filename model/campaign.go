package model

import (
	"time"

	"gorm.io/datatypes"
)

// Difficulty levels and their XP multipliers.
const (
	DifficultyEasy      = "easy"
	DifficultyNormal    = "normal"
	DifficultyHard      = "hard"
	DifficultyNightmare = "nightmare"
	DifficultyExpert    = "expert"
)

// DifficultyMultiplier returns the XP multiplier for a campaign difficulty.
// Unknown difficulties fall back to 1.
func DifficultyMultiplier(difficulty string) float64 {
	switch difficulty {
	case DifficultyHard:
		return 1.5
	case DifficultyNightmare, DifficultyExpert:
		return 2.0
	default:
		return 1.0
	}
}

// Campaign is an author-created branching story. Immutable during play
// except for the play counter.
type Campaign struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Title       string    `gorm:"size:128;not null" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	StartNodeID int64     `json:"start_node_id"`
	Permadeath  bool      `gorm:"default:false" json:"permadeath"`
	Difficulty  string    `gorm:"size:16;default:normal" json:"difficulty"`
	PlayCount   int64     `gorm:"default:0" json:"play_count"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Node types. Ending and death nodes are terminal.
const (
	NodeNarrative = "narrative"
	NodeChoice    = "choice"
	NodeStatCheck = "stat_check"
	NodeEnding    = "ending"
	NodeDeath     = "death"
)

// StoryNode is a single node in a campaign's story graph.
type StoryNode struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CampaignID int64     `gorm:"index:idx_campaign_node;not null" json:"campaign_id"`
	NodeType   string    `gorm:"size:16;default:narrative" json:"node_type"`
	Title      string    `gorm:"size:128" json:"title"`
	Content    string    `gorm:"type:text" json:"content"`
	Backdrop   string    `gorm:"size:64" json:"backdrop"`
	NPCName    string    `gorm:"size:64" json:"npc_name"`
	Weather    string    `gorm:"size:32" json:"weather"`
	XPReward   int       `gorm:"default:0" json:"xp_reward"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// IsTerminal reports whether the node ends a session on arrival.
func (n *StoryNode) IsTerminal() bool {
	return n.NodeType == NodeEnding || n.NodeType == NodeDeath
}

// Choice is a directed edge out of a story node. A nil TargetNodeID is an
// authored "the end": taking the choice completes the session successfully.
type Choice struct {
	ID             int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	NodeID         int64          `gorm:"index:idx_node_choice;not null" json:"node_id"`
	TargetNodeID   *int64         `json:"target_node_id"`
	OrderIndex     int            `gorm:"default:0" json:"order_index"`
	ChoiceText     string         `gorm:"type:text;not null" json:"choice_text"`
	RequiredStat   string         `gorm:"size:16" json:"required_stat"` // "" = no stat gate
	RequiredValue  int            `gorm:"default:0" json:"required_value"`
	RequiredItemID *int64         `json:"required_item_id"`
	StatEffects    datatypes.JSON `json:"stat_effects"` // map[string]int stat→delta
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

// Item kinds.
const (
	ItemConsumable = "consumable"
	ItemWeapon     = "weapon"
	ItemArmor      = "armor"
	ItemAccessory  = "accessory"
	ItemQuest      = "quest"
)

// Equip slots.
const (
	SlotWeapon    = "weapon"
	SlotArmor     = "armor"
	SlotAccessory = "accessory"
)

// Item is an authored item definition.
type Item struct {
	ID            int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Name          string         `gorm:"size:64;not null" json:"name"`
	Description   string         `gorm:"type:text" json:"description"`
	Kind          string         `gorm:"size:16;default:consumable" json:"kind"`
	Slot          string         `gorm:"size:16" json:"slot"` // "" = not equippable
	StatBonuses   datatypes.JSON `json:"stat_bonuses"`        // map[string]int while equipped
	MaxDurability int            `gorm:"default:0" json:"max_durability"` // 0 = indestructible
	IsQuestItem   bool           `gorm:"default:false" json:"is_quest_item"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
}
