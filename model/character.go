package model

import (
	"time"

	"gorm.io/datatypes"
)

// Stat bounds. Every stat mutation must clamp back into this range.
const (
	StatMin = 1
	StatMax = 10
)

// MaxLevel caps character progression.
const MaxLevel = 20

// Stat names as they appear in choice requirements and effect maps.
const (
	StatStrength = "strength"
	StatMagic    = "magic"
	StatCharisma = "charisma"
	StatWisdom   = "wisdom"
	StatAgility  = "agility"
)

// StatNames lists all five stats in display order.
var StatNames = []string{StatStrength, StatMagic, StatCharisma, StatWisdom, StatAgility}

// Stats is the fixed five-stat vector shared by Character and CharacterProgress.
type Stats struct {
	Strength int `gorm:"default:5" json:"strength"`
	Magic    int `gorm:"default:5" json:"magic"`
	Charisma int `gorm:"default:5" json:"charisma"`
	Wisdom   int `gorm:"default:5" json:"wisdom"`
	Agility  int `gorm:"default:5" json:"agility"`
}

// Get returns the value of the named stat, or 0 for an unknown name.
func (s Stats) Get(name string) int {
	switch name {
	case StatStrength:
		return s.Strength
	case StatMagic:
		return s.Magic
	case StatCharisma:
		return s.Charisma
	case StatWisdom:
		return s.Wisdom
	case StatAgility:
		return s.Agility
	}
	return 0
}

// Set assigns the named stat. Unknown names are ignored.
func (s *Stats) Set(name string, v int) {
	switch name {
	case StatStrength:
		s.Strength = v
	case StatMagic:
		s.Magic = v
	case StatCharisma:
		s.Charisma = v
	case StatWisdom:
		s.Wisdom = v
	case StatAgility:
		s.Agility = v
	}
}

// Apply returns a copy with each delta applied and clamped to [StatMin, StatMax].
// Keys absent from effects are unchanged; unknown keys are ignored.
func (s Stats) Apply(effects map[string]int) Stats {
	out := s
	for name, delta := range effects {
		if !ValidStat(name) {
			continue
		}
		v := out.Get(name) + delta
		if v < StatMin {
			v = StatMin
		}
		if v > StatMax {
			v = StatMax
		}
		out.Set(name, v)
	}
	return out
}

// Clamp forces every stat into [StatMin, StatMax] in place.
func (s *Stats) Clamp() {
	for _, name := range StatNames {
		v := s.Get(name)
		if v < StatMin {
			s.Set(name, StatMin)
		}
		if v > StatMax {
			s.Set(name, StatMax)
		}
	}
}

// ValidStat reports whether name is one of the five stats.
func ValidStat(name string) bool {
	switch name {
	case StatStrength, StatMagic, StatCharisma, StatWisdom, StatAgility:
		return true
	}
	return false
}

// DeathContext records how a character fell. Stored as JSON on the character row.
type DeathContext struct {
	CampaignTitle string `json:"campaign_title"`
	NodeTitle     string `json:"node_title"`
	Cause         string `json:"cause"`
}

// Character represents a player's character.
type Character struct {
	ID           int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID    int64          `gorm:"index:idx_account_char;not null" json:"account_id"`
	Name         string         `gorm:"size:32;not null" json:"name"`
	Race         string         `gorm:"size:32" json:"race"`
	Level        int            `gorm:"default:1" json:"level"`
	XP           int64          `gorm:"default:0" json:"xp"`
	Stats        Stats          `gorm:"embedded" json:"stats"`
	IsActive     bool           `gorm:"default:true" json:"is_active"`
	FallenAt     *time.Time     `json:"fallen_at"`
	DeathContext datatypes.JSON `json:"death_context"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// LegacyBonus is written once when a character falls in a survivable campaign.
// Future characters created by the same account may consume it for bonus XP.
type LegacyBonus struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID       int64     `gorm:"index:idx_account_legacy;not null" json:"account_id"`
	FromCharacterID int64     `gorm:"not null" json:"from_character_id"`
	FromName        string    `gorm:"size:32" json:"from_name"`
	XPBonus         int64     `gorm:"not null" json:"xp_bonus"`
	FallenLevel     int       `gorm:"not null" json:"fallen_level"`
	Consumed        bool      `gorm:"default:false" json:"consumed"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}
