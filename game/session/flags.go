package session

import (
	"encoding/json"
	"time"

	"github.com/lorechronicles/server/model"
	"gorm.io/datatypes"
)

// historyWindow bounds the free-text action history kept on a session.
const historyWindow = 10

// MergeFlags shallow-merges effects into the session's story flags,
// overwriting existing keys. A nil effects map is a no-op.
func MergeFlags(sess *model.GameSession, effects map[string]interface{}) error {
	if len(effects) == 0 {
		return nil
	}
	flags := make(map[string]interface{})
	if len(sess.StoryFlags) > 0 {
		if err := json.Unmarshal(sess.StoryFlags, &flags); err != nil {
			return err
		}
	}
	for k, v := range effects {
		flags[k] = v
	}
	out, err := json.Marshal(flags)
	if err != nil {
		return err
	}
	sess.StoryFlags = datatypes.JSON(out)
	return nil
}

// Flags decodes the session's story flags. Empty flags decode to an empty map.
func Flags(sess *model.GameSession) (map[string]interface{}, error) {
	flags := make(map[string]interface{})
	if len(sess.StoryFlags) == 0 {
		return flags, nil
	}
	if err := json.Unmarshal(sess.StoryFlags, &flags); err != nil {
		return nil, err
	}
	return flags, nil
}

// ActionEntry is one remembered free-text action.
type ActionEntry struct {
	Text      string    `json:"text"`
	Outcome   string    `json:"outcome,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AppendAction records a free-text action on the session, keeping only the
// most recent historyWindow entries.
func AppendAction(sess *model.GameSession, entry ActionEntry) error {
	var history []ActionEntry
	if len(sess.RecentActions) > 0 {
		if err := json.Unmarshal(sess.RecentActions, &history); err != nil {
			return err
		}
	}
	history = append(history, entry)
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	out, err := json.Marshal(history)
	if err != nil {
		return err
	}
	sess.RecentActions = datatypes.JSON(out)
	return nil
}

// RecentActions decodes the bounded action history.
func RecentActions(sess *model.GameSession) ([]ActionEntry, error) {
	if len(sess.RecentActions) == 0 {
		return nil, nil
	}
	var history []ActionEntry
	if err := json.Unmarshal(sess.RecentActions, &history); err != nil {
		return nil, err
	}
	return history, nil
}
