package story

import (
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/lorechronicles/server/game/inventory"
	"github.com/lorechronicles/server/model"
)

// loadNode fetches a node and its outgoing choices in stable author order.
func loadNode(tx *gorm.DB, nodeID int64) (*model.StoryNode, []model.Choice, error) {
	var node model.StoryNode
	if err := tx.First(&node, nodeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	var choices []model.Choice
	if err := tx.Where("node_id = ?", nodeID).
		Order("order_index, id").Find(&choices).Error; err != nil {
		return nil, nil, err
	}
	return &node, choices, nil
}

// EffectiveStats is the stat vector requirements are checked against:
// session progress stats plus equipment bonuses, clamped.
func EffectiveStats(base model.Stats, equipBonuses map[string]int) model.Stats {
	return base.Apply(equipBonuses)
}

// EvaluateChoice checks a choice's gates against effective stats and the
// character's bag. It returns nil when the choice is takeable, and a
// RequirementNotMetError naming the first unmet gate otherwise. Item gates
// are checked before stat gates.
func EvaluateChoice(choice *model.Choice, stats model.Stats, bag []model.InventoryEntry, items map[int64]model.Item) *RequirementNotMetError {
	if choice.RequiredItemID != nil {
		if !inventory.Has(bag, *choice.RequiredItemID) {
			name := fmt.Sprintf("item #%d", *choice.RequiredItemID)
			if item, ok := items[*choice.RequiredItemID]; ok {
				name = item.Name
			}
			return &RequirementNotMetError{Reason: fmt.Sprintf("missing item: %s", name)}
		}
	}
	if choice.RequiredStat != "" && model.ValidStat(choice.RequiredStat) {
		have := stats.Get(choice.RequiredStat)
		if have < choice.RequiredValue {
			return &RequirementNotMetError{
				Reason: fmt.Sprintf("%s %d required, have %d", choice.RequiredStat, choice.RequiredValue, have),
			}
		}
	}
	return nil
}

// choiceEffects decodes a choice's stat effect map. Malformed JSON is
// treated as no effects rather than blocking play.
func choiceEffects(choice *model.Choice) map[string]int {
	if len(choice.StatEffects) == 0 {
		return nil
	}
	effects := make(map[string]int)
	if err := json.Unmarshal(choice.StatEffects, &effects); err != nil {
		return nil
	}
	return effects
}

// visitedNodes decodes the append-only visit trail.
func visitedNodes(progress *model.CharacterProgress) ([]int64, error) {
	if len(progress.NodesVisited) == 0 {
		return nil, nil
	}
	var visited []int64
	if err := json.Unmarshal(progress.NodesVisited, &visited); err != nil {
		return nil, err
	}
	return visited, nil
}

// appendVisited appends nodeID to the visit trail. The trail only ever grows.
func appendVisited(progress *model.CharacterProgress, nodeID int64) error {
	visited, err := visitedNodes(progress)
	if err != nil {
		return err
	}
	visited = append(visited, nodeID)
	out, err := json.Marshal(visited)
	if err != nil {
		return err
	}
	progress.NodesVisited = datatypes.JSON(out)
	return nil
}

// recordCheck bumps the per-stat pass counter kept on the progress row.
func recordCheck(progress *model.CharacterProgress, stat string) error {
	counts := make(map[string]int)
	if len(progress.StatChecks) > 0 {
		if err := json.Unmarshal(progress.StatChecks, &counts); err != nil {
			return err
		}
	}
	counts[stat]++
	out, err := json.Marshal(counts)
	if err != nil {
		return err
	}
	progress.StatChecks = datatypes.JSON(out)
	return nil
}
