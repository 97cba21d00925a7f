package model

import (
	"time"

	"gorm.io/datatypes"
)

// Session status values. A session transitions active→completed exactly once.
const (
	SessionActive    = "active"
	SessionCompleted = "completed"
)

// GameSession binds a character to a campaign playthrough.
type GameSession struct {
	ID            int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	CampaignID    int64          `gorm:"index:idx_session_campaign;not null" json:"campaign_id"`
	CharacterID   int64          `gorm:"index:idx_session_char;not null" json:"character_id"`
	AccountID     int64          `gorm:"index:idx_session_account;not null" json:"account_id"`
	CurrentNodeID int64          `json:"current_node_id"`
	Status        string         `gorm:"size:16;default:active" json:"status"`
	StoryFlags    datatypes.JSON `json:"story_flags"`    // map[string]any, shallow-merge overwrite
	RecentActions datatypes.JSON `json:"recent_actions"` // last ≤10 free-text actions
	LastPlayedAt  time.Time      `json:"last_played_at"`
	CompletedAt   *time.Time     `json:"completed_at"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

// CharacterProgress is the working state of one character within one session.
// Its stats diverge from the Character row until the session is finalized.
type CharacterProgress struct {
	ID           int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID    int64          `gorm:"uniqueIndex:idx_session_progress;not null" json:"session_id"`
	CharacterID  int64          `gorm:"uniqueIndex:idx_session_progress;not null" json:"character_id"`
	Stats        Stats          `gorm:"embedded" json:"stats"`
	NodesVisited datatypes.JSON `json:"nodes_visited"` // []int64, append-only
	XPEarned     int            `gorm:"default:0" json:"xp_earned"`
	ChecksPassed int            `gorm:"default:0" json:"checks_passed"`
	ChecksFailed int            `gorm:"default:0" json:"checks_failed"`
	StatChecks   datatypes.JSON `json:"stat_checks"` // map[string]int per-stat pass counts
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// CampaignCompletion records that an account finished a campaign at least once.
// Backs the first-completion XP bonus.
type CampaignCompletion struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID   int64     `gorm:"uniqueIndex:idx_account_campaign;not null" json:"account_id"`
	CampaignID  int64     `gorm:"uniqueIndex:idx_account_campaign;not null" json:"campaign_id"`
	CharacterID int64     `json:"character_id"`
	CompletedAt time.Time `gorm:"autoCreateTime" json:"completed_at"`
}

// SeenEnding is the idempotent (account, campaign, ending node) ledger used by
// downstream achievement consumers.
type SeenEnding struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID   int64     `gorm:"uniqueIndex:idx_seen_ending;not null" json:"account_id"`
	CampaignID  int64     `gorm:"uniqueIndex:idx_seen_ending;not null" json:"campaign_id"`
	NodeID      int64     `gorm:"uniqueIndex:idx_seen_ending;not null" json:"node_id"`
	FirstSeenAt time.Time `gorm:"autoCreateTime" json:"first_seen_at"`
}
