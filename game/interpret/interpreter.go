package interpret

import (
	"context"
	"fmt"
)

// ErrorKind classifies interpreter failures so callers can back off on
// rate limits and message quota exhaustion distinctly from generic errors.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindRateLimited
	KindQuotaExhausted
)

// ServiceError wraps an interpreter failure with its kind.
type ServiceError struct {
	Kind ErrorKind
	Err  error
}

func (e *ServiceError) Error() string {
	switch e.Kind {
	case KindRateLimited:
		return fmt.Sprintf("interpreter rate limited: %v", e.Err)
	case KindQuotaExhausted:
		return fmt.Sprintf("interpreter quota exhausted: %v", e.Err)
	default:
		return fmt.Sprintf("interpreter error: %v", e.Err)
	}
}

func (e *ServiceError) Unwrap() error { return e.Err }

// HistoryEntry is one prior free-text action given to the service as context.
type HistoryEntry struct {
	Text    string `json:"text"`
	Outcome string `json:"outcome,omitempty"`
}

// Request carries the player's free-form text plus the surrounding state.
type Request struct {
	SessionID     int64          `json:"session_id"`
	CharacterID   int64          `json:"character_id"`
	NodeID        int64          `json:"node_id"`
	CharacterName string         `json:"character_name"`
	NodeContent   string         `json:"node_content"`
	Stats         map[string]int `json:"stats"`
	PlayerText    string         `json:"player_text"`
	History       []HistoryEntry `json:"history"` // bounded, newest last
}

// StatCheck is the check the service decided the action required, if any.
type StatCheck struct {
	Stat       string `json:"stat"`
	Difficulty int    `json:"difficulty"`
	Success    bool   `json:"success"`
}

// Result is the structured interpretation of a free-text action. When
// IsValid is false no game state may be mutated; Interpretation carries
// the author/AI-supplied rejection reason.
type Result struct {
	IsValid        bool                   `json:"is_valid"`
	Interpretation string                 `json:"interpretation"`
	StatCheck      *StatCheck             `json:"stat_check,omitempty"`
	Narration      string                 `json:"narration"`
	StatEffects    map[string]int         `json:"stat_effects,omitempty"`
	FlagEffects    map[string]interface{} `json:"flag_effects,omitempty"`
	XPReward       int                    `json:"xp_reward"`
}

// Interpreter turns free-form player text into a structured outcome.
// The engine never sees how the result was produced.
type Interpreter interface {
	Interpret(ctx context.Context, req Request) (*Result, error)
}
