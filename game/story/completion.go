package story

import (
	"fmt"
	"math"

	"github.com/lorechronicles/server/model"
)

// Completion bonuses, applied before the difficulty multiplier.
const (
	completionBase   = 100
	firstClearBonus  = 50
	perCheckBonus    = 20
	perfectRunBonus  = 50
	legacyBonusRate  = 0.1
	partialXPDivisor = 2
)

// ComputeCompletionXP totals the XP award for finishing a campaign:
// accumulated node XP plus the completion base, a one-time first-clear
// bonus, a bonus per passed stat check, and a perfect-run bonus when at
// least one check was attempted and none failed, all scaled by the
// campaign difficulty multiplier and floored.
func ComputeCompletionXP(xpEarned int, firstClear bool, checksPassed int, perfect bool, difficulty string) (int64, []string) {
	breakdown := []string{
		fmt.Sprintf("story xp: %d", xpEarned),
		fmt.Sprintf("completion: %d", completionBase),
	}
	total := xpEarned + completionBase
	if firstClear {
		total += firstClearBonus
		breakdown = append(breakdown, fmt.Sprintf("first clear: %d", firstClearBonus))
	}
	if checksPassed > 0 {
		total += perCheckBonus * checksPassed
		breakdown = append(breakdown, fmt.Sprintf("checks passed: %d x %d", checksPassed, perCheckBonus))
	}
	if perfect {
		total += perfectRunBonus
		breakdown = append(breakdown, fmt.Sprintf("perfect run: %d", perfectRunBonus))
	}
	mult := model.DifficultyMultiplier(difficulty)
	if mult != 1.0 {
		breakdown = append(breakdown, fmt.Sprintf("difficulty x%.1f", mult))
	}
	return int64(math.Floor(float64(total) * mult)), breakdown
}

// PartialDeathXP is the XP a fallen character keeps from an unfinished
// survivable run: half the accumulated session XP, floored, no bonuses.
func PartialDeathXP(xpEarned int) int64 {
	return int64(xpEarned / partialXPDivisor)
}

// LegacyXP is the bonus banked for the account's next character when a
// character falls: a tenth of the fallen character's lifetime XP, floored.
func LegacyXP(lifetimeXP int64) int64 {
	return int64(math.Floor(float64(lifetimeXP) * legacyBonusRate))
}
