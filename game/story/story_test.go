package story

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/lorechronicles/server/game/interpret"
	"github.com/lorechronicles/server/game/session"
	"github.com/lorechronicles/server/model"
	"github.com/lorechronicles/server/testutil"
)

func nopLogger() *zap.Logger { l, _ := zap.NewDevelopment(); return l }

type stubInterp struct {
	res *interpret.Result
	err error
}

func (s stubInterp) Interpret(_ context.Context, _ interpret.Request) (*interpret.Result, error) {
	return s.res, s.err
}

// graph is the fixture campaign:
//
//	start (xp 10) --[strength>=3]--> mid (xp 20) --[agility>=3]--> ending
//	                                  mid --> death
type graph struct {
	campaign model.Campaign
	start    model.StoryNode
	mid      model.StoryNode
	ending   model.StoryNode
	death    model.StoryNode
	toMid    model.Choice
	toEnding model.Choice
	toDeath  model.Choice
	char     model.Character
}

func defaultStats() model.Stats {
	return model.Stats{Strength: 5, Magic: 5, Charisma: 5, Wisdom: 5, Agility: 5}
}

func buildGraph(t *testing.T, db *gorm.DB, difficulty string, permadeath bool) *graph {
	t.Helper()
	g := &graph{}

	g.campaign = model.Campaign{Title: "The Hollow Crown", Difficulty: difficulty, Permadeath: permadeath}
	require.NoError(t, db.Create(&g.campaign).Error)

	g.start = model.StoryNode{CampaignID: g.campaign.ID, NodeType: model.NodeNarrative, Title: "Gates", XPReward: 10}
	g.mid = model.StoryNode{CampaignID: g.campaign.ID, NodeType: model.NodeChoice, Title: "Bridge", XPReward: 20}
	g.ending = model.StoryNode{CampaignID: g.campaign.ID, NodeType: model.NodeEnding, Title: "Crowned"}
	g.death = model.StoryNode{CampaignID: g.campaign.ID, NodeType: model.NodeDeath, Title: "The Fall", Content: "The bridge gives way."}
	for _, n := range []*model.StoryNode{&g.start, &g.mid, &g.ending, &g.death} {
		require.NoError(t, db.Create(n).Error)
	}
	require.NoError(t, db.Model(&g.campaign).Update("start_node_id", g.start.ID).Error)
	g.campaign.StartNodeID = g.start.ID

	g.toMid = model.Choice{
		NodeID: g.start.ID, TargetNodeID: &g.mid.ID, ChoiceText: "Cross the gates",
		RequiredStat: model.StatStrength, RequiredValue: 3,
	}
	g.toEnding = model.Choice{
		NodeID: g.mid.ID, TargetNodeID: &g.ending.ID, ChoiceText: "Leap the gap",
		RequiredStat: model.StatAgility, RequiredValue: 3, OrderIndex: 0,
	}
	g.toDeath = model.Choice{
		NodeID: g.mid.ID, TargetNodeID: &g.death.ID, ChoiceText: "Test the planks", OrderIndex: 1,
	}
	for _, c := range []*model.Choice{&g.toMid, &g.toEnding, &g.toDeath} {
		require.NoError(t, db.Create(c).Error)
	}

	g.char = model.Character{AccountID: 1, Name: "Mira", Race: "elf", Level: 1, Stats: defaultStats(), IsActive: true}
	require.NoError(t, db.Create(&g.char).Error)
	return g
}

func newService(t *testing.T, interp interpret.Interpreter) (*Service, *gorm.DB) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	return NewService(db, session.NewManager(), interp, nil, nopLogger()), db
}

func TestStartSession(t *testing.T) {
	svc, db := newService(t, nil)
	g := buildGraph(t, db, model.DifficultyNormal, false)
	ctx := context.Background()

	res, err := svc.StartSession(ctx, 1, g.campaign.ID, g.char.ID)
	require.NoError(t, err)
	assert.Equal(t, g.start.ID, res.Session.CurrentNodeID)
	assert.Equal(t, model.SessionActive, res.Session.Status)
	assert.Equal(t, 0, res.Progress.XPEarned)

	visited, err := visitedNodes(res.Progress)
	require.NoError(t, err)
	assert.Equal(t, []int64{g.start.ID}, visited)

	var campaign model.Campaign
	require.NoError(t, db.First(&campaign, g.campaign.ID).Error)
	assert.Equal(t, int64(1), campaign.PlayCount)

	// Starting again resumes the active session instead of opening another.
	res2, err := svc.StartSession(ctx, 1, g.campaign.ID, g.char.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Session.ID, res2.Session.ID)
	require.NoError(t, db.First(&campaign, g.campaign.ID).Error)
	assert.Equal(t, int64(1), campaign.PlayCount)
}

func TestStartSession_WrongAccountOrFallen(t *testing.T) {
	svc, db := newService(t, nil)
	g := buildGraph(t, db, model.DifficultyNormal, false)
	ctx := context.Background()

	_, err := svc.StartSession(ctx, 2, g.campaign.ID, g.char.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Model(&g.char).Update("is_active", false).Error)
	_, err = svc.StartSession(ctx, 1, g.campaign.ID, g.char.ID)
	assert.ErrorIs(t, err, ErrCharacterFallen)
}

func TestCurrent_AnnotatesGates(t *testing.T) {
	svc, db := newService(t, nil)
	g := buildGraph(t, db, model.DifficultyNormal, false)
	ctx := context.Background()

	// Strength gate raised beyond reach, plus a missing-item gate.
	require.NoError(t, db.Model(&g.toMid).Update("required_value", 9).Error)
	relic := model.Item{Name: "Sun Relic", Kind: model.ItemQuest, IsQuestItem: true}
	require.NoError(t, db.Create(&relic).Error)
	gated := model.Choice{NodeID: g.start.ID, TargetNodeID: &g.mid.ID, ChoiceText: "Show the relic",
		RequiredItemID: &relic.ID, OrderIndex: 5}
	require.NoError(t, db.Create(&gated).Error)

	res, err := svc.StartSession(ctx, 1, g.campaign.ID, g.char.ID)
	require.NoError(t, err)

	view, err := svc.Current(ctx, 1, res.Session.ID)
	require.NoError(t, err)
	require.Len(t, view.Choices, 2)
	assert.True(t, view.Choices[0].Locked)
	assert.Contains(t, view.Choices[0].LockReason, "strength 9 required")
	assert.True(t, view.Choices[1].Locked)
	assert.Contains(t, view.Choices[1].LockReason, "missing item: Sun Relic")
}

func TestApplyChoice_RequirementNotMet(t *testing.T) {
	svc, db := newService(t, nil)
	g := buildGraph(t, db, model.DifficultyNormal, false)
	ctx := context.Background()

	require.NoError(t, db.Model(&g.toMid).Update("required_value", 9).Error)
	res, err := svc.StartSession(ctx, 1, g.campaign.ID, g.char.ID)
	require.NoError(t, err)

	_, err = svc.ApplyChoice(ctx, 1, res.Session.ID, g.toMid.ID)
	var reqErr *RequirementNotMetError
	require.ErrorAs(t, err, &reqErr)
	assert.Contains(t, reqErr.Reason, "strength 9 required, have 5")

	// The refusal is counted, the session does not move.
	var sess model.GameSession
	require.NoError(t, db.First(&sess, res.Session.ID).Error)
	assert.Equal(t, g.start.ID, sess.CurrentNodeID)
	assert.Equal(t, model.SessionActive, sess.Status)
	var progress model.CharacterProgress
	require.NoError(t, db.Where("session_id = ?", sess.ID).First(&progress).Error)
	assert.Equal(t, 1, progress.ChecksFailed)
	assert.Equal(t, 0, progress.XPEarned)
}

func TestApplyChoice_EquipmentUnlocksGate(t *testing.T) {
	svc, db := newService(t, nil)
	g := buildGraph(t, db, model.DifficultyNormal, false)
	ctx := context.Background()

	require.NoError(t, db.Model(&g.toMid).Update("required_value", 7).Error)
	bonuses, _ := json.Marshal(map[string]int{"strength": 2})
	gauntlets := model.Item{Name: "Ogre Gauntlets", Kind: model.ItemArmor, Slot: model.SlotArmor,
		StatBonuses: datatypes.JSON(bonuses)}
	require.NoError(t, db.Create(&gauntlets).Error)
	require.NoError(t, db.Create(&model.InventoryEntry{
		CharacterID: g.char.ID, ItemID: gauntlets.ID, Qty: 1, Equipped: true, Slot: model.SlotArmor,
	}).Error)

	res, err := svc.StartSession(ctx, 1, g.campaign.ID, g.char.ID)
	require.NoError(t, err)

	// 5 base + 2 equipped = 7, gate passes.
	step, err := svc.ApplyChoice(ctx, 1, res.Session.ID, g.toMid.ID)
	require.NoError(t, err)
	assert.Equal(t, g.mid.ID, step.Session.CurrentNodeID)
	assert.Equal(t, 1, step.Progress.ChecksPassed)
}

func TestApplyChoice_EffectsAndTrail(t *testing.T) {
	svc, db := newService(t, nil)
	g := buildGraph(t, db, model.DifficultyNormal, false)
	ctx := context.Background()

	effects, _ := json.Marshal(map[string]int{"strength": 2, "wisdom": -20})
	require.NoError(t, db.Model(&g.toMid).Update("stat_effects", datatypes.JSON(effects)).Error)

	res, err := svc.StartSession(ctx, 1, g.campaign.ID, g.char.ID)
	require.NoError(t, err)
	step, err := svc.ApplyChoice(ctx, 1, res.Session.ID, g.toMid.ID)
	require.NoError(t, err)

	assert.Equal(t, 7, step.Progress.Stats.Strength)
	assert.Equal(t, model.StatMin, step.Progress.Stats.Wisdom, "deltas clamp at the floor")
	assert.Equal(t, 10, step.Progress.XPEarned, "departing the start node earns its reward")

	visited, err := visitedNodes(step.Progress)
	require.NoError(t, err)
	assert.Equal(t, []int64{g.start.ID, g.mid.ID}, visited)

	// The character row is untouched until the session finishes.
	var char model.Character
	require.NoError(t, db.First(&char, g.char.ID).Error)
	assert.Equal(t, 5, char.Stats.Strength)
}

func TestApplyChoice_UnknownChoice(t *testing.T) {
	svc, db := newService(t, nil)
	g := buildGraph(t, db, model.DifficultyNormal, false)
	ctx := context.Background()

	res, err := svc.StartSession(ctx, 1, g.campaign.ID, g.char.ID)
	require.NoError(t, err)

	// toEnding exists but leads out of mid, not the current node.
	_, err = svc.ApplyChoice(ctx, 1, res.Session.ID, g.toEnding.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyChoice_Busy(t *testing.T) {
	db := testutil.SetupTestDB(t)
	locks := session.NewManager()
	svc := NewService(db, locks, nil, nil, nopLogger())
	g := buildGraph(t, db, model.DifficultyNormal, false)
	ctx := context.Background()

	res, err := svc.StartSession(ctx, 1, g.campaign.ID, g.char.ID)
	require.NoError(t, err)

	release, err := locks.Acquire(res.Session.ID)
	require.NoError(t, err)
	defer release()

	_, err = svc.ApplyChoice(ctx, 1, res.Session.ID, g.toMid.ID)
	assert.ErrorIs(t, err, ErrSessionBusy)
}

func TestCompletion_XPAndLedgers(t *testing.T) {
	svc, db := newService(t, nil)
	g := buildGraph(t, db, model.DifficultyHard, false)
	ctx := context.Background()

	res, err := svc.StartSession(ctx, 1, g.campaign.ID, g.char.ID)
	require.NoError(t, err)
	_, err = svc.ApplyChoice(ctx, 1, res.Session.ID, g.toMid.ID)
	require.NoError(t, err)
	step, err := svc.ApplyChoice(ctx, 1, res.Session.ID, g.toEnding.ID)
	require.NoError(t, err)

	// floor((30 story + 100 completion + 50 first clear + 2×20 checks + 50 perfect) × 1.5)
	assert.True(t, step.Completed)
	assert.Equal(t, int64(405), step.XPAwarded)
	assert.Equal(t, model.SessionCompleted, step.Session.Status)
	require.NotNil(t, step.Session.CompletedAt)

	var char model.Character
	require.NoError(t, db.First(&char, g.char.ID).Error)
	assert.Equal(t, int64(405), char.XP)
	assert.Equal(t, 3, char.Level)

	var seen model.SeenEnding
	require.NoError(t, db.Where("account_id = ? AND campaign_id = ? AND node_id = ?",
		1, g.campaign.ID, g.ending.ID).First(&seen).Error)
	var completion model.CampaignCompletion
	require.NoError(t, db.Where("account_id = ? AND campaign_id = ?", 1, g.campaign.ID).
		First(&completion).Error)

	// Stepping a finished session is refused.
	_, err = svc.ApplyChoice(ctx, 1, res.Session.ID, g.toEnding.ID)
	assert.ErrorIs(t, err, ErrSessionCompleted)
}

func TestCompletion_FinalizesStats(t *testing.T) {
	svc, db := newService(t, nil)
	g := buildGraph(t, db, model.DifficultyNormal, false)
	ctx := context.Background()

	effects, _ := json.Marshal(map[string]int{"strength": 3})
	require.NoError(t, db.Model(&g.toMid).Update("stat_effects", datatypes.JSON(effects)).Error)

	res, err := svc.StartSession(ctx, 1, g.campaign.ID, g.char.ID)
	require.NoError(t, err)
	_, err = svc.ApplyChoice(ctx, 1, res.Session.ID, g.toMid.ID)
	require.NoError(t, err)
	step, err := svc.ApplyChoice(ctx, 1, res.Session.ID, g.toEnding.ID)
	require.NoError(t, err)
	require.True(t, step.Completed)

	// The working stats stick to the character once the run finishes.
	var char model.Character
	require.NoError(t, db.First(&char, g.char.ID).Error)
	assert.Equal(t, 8, char.Stats.Strength)
	assert.Equal(t, 5, char.Stats.Wisdom)
}

func TestCompletion_FirstClearOnlyOnce(t *testing.T) {
	svc, db := newService(t, nil)
	g := buildGraph(t, db, model.DifficultyNormal, false)
	ctx := context.Background()

	runThrough := func(charID int64) *StepResult {
		res, err := svc.StartSession(ctx, 1, g.campaign.ID, charID)
		require.NoError(t, err)
		_, err = svc.ApplyChoice(ctx, 1, res.Session.ID, g.toMid.ID)
		require.NoError(t, err)
		step, err := svc.ApplyChoice(ctx, 1, res.Session.ID, g.toEnding.ID)
		require.NoError(t, err)
		return step
	}

	first := runThrough(g.char.ID)
	assert.Equal(t, int64(30+100+50+40+50), first.XPAwarded)

	second := model.Character{AccountID: 1, Name: "Bran", Stats: defaultStats(), Level: 1, IsActive: true}
	require.NoError(t, db.Create(&second).Error)
	rerun := runThrough(second.ID)
	assert.Equal(t, int64(30+100+40+50), rerun.XPAwarded, "no first-clear bonus on repeat")
}

func TestDeath_Survivable(t *testing.T) {
	svc, db := newService(t, nil)
	g := buildGraph(t, db, model.DifficultyNormal, false)
	ctx := context.Background()

	require.NoError(t, db.Model(&g.char).Updates(map[string]interface{}{"xp": 200, "level": 2}).Error)
	effects, _ := json.Marshal(map[string]int{"agility": -2})
	require.NoError(t, db.Model(&g.toDeath).Update("stat_effects", datatypes.JSON(effects)).Error)
	sword := model.Item{Name: "Iron Sword", Kind: model.ItemWeapon, Slot: model.SlotWeapon}
	require.NoError(t, db.Create(&sword).Error)
	require.NoError(t, db.Create(&model.InventoryEntry{CharacterID: g.char.ID, ItemID: sword.ID, Qty: 1}).Error)

	res, err := svc.StartSession(ctx, 1, g.campaign.ID, g.char.ID)
	require.NoError(t, err)
	_, err = svc.ApplyChoice(ctx, 1, res.Session.ID, g.toMid.ID)
	require.NoError(t, err)
	step, err := svc.ApplyChoice(ctx, 1, res.Session.ID, g.toDeath.ID)
	require.NoError(t, err)

	assert.True(t, step.Died)
	assert.False(t, step.Permadeath)
	assert.Equal(t, int64(15), step.XPAwarded, "half of the 30 accumulated session XP")

	var char model.Character
	require.NoError(t, db.First(&char, g.char.ID).Error)
	assert.False(t, char.IsActive)
	require.NotNil(t, char.FallenAt)
	assert.Equal(t, int64(215), char.XP)
	assert.Equal(t, 3, char.Stats.Agility, "fallen characters keep the stats they died with")

	var deathCtx model.DeathContext
	require.NoError(t, json.Unmarshal(char.DeathContext, &deathCtx))
	assert.Equal(t, "The Fall", deathCtx.NodeTitle)
	assert.Equal(t, "The Hollow Crown", deathCtx.CampaignTitle)

	// A tenth of the pre-death lifetime XP is banked for the next character.
	var bonus model.LegacyBonus
	require.NoError(t, db.Where("account_id = ?", 1).First(&bonus).Error)
	assert.Equal(t, int64(20), bonus.XPBonus)
	assert.False(t, bonus.Consumed)

	// The bag survives a survivable death.
	var entries []model.InventoryEntry
	require.NoError(t, db.Where("character_id = ?", g.char.ID).Find(&entries).Error)
	assert.Len(t, entries, 1)
}

func TestDeath_Permadeath(t *testing.T) {
	svc, db := newService(t, nil)
	g := buildGraph(t, db, model.DifficultyNormal, true)
	ctx := context.Background()

	sword := model.Item{Name: "Iron Sword", Kind: model.ItemWeapon, Slot: model.SlotWeapon}
	require.NoError(t, db.Create(&sword).Error)
	require.NoError(t, db.Create(&model.InventoryEntry{CharacterID: g.char.ID, ItemID: sword.ID, Qty: 1}).Error)

	res, err := svc.StartSession(ctx, 1, g.campaign.ID, g.char.ID)
	require.NoError(t, err)
	_, err = svc.ApplyChoice(ctx, 1, res.Session.ID, g.toMid.ID)
	require.NoError(t, err)
	step, err := svc.ApplyChoice(ctx, 1, res.Session.ID, g.toDeath.ID)
	require.NoError(t, err)

	assert.True(t, step.Died)
	assert.True(t, step.Permadeath)
	assert.Equal(t, model.SessionCompleted, step.Session.Status)

	err = db.First(&model.Character{}, g.char.ID).Error
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	var entries []model.InventoryEntry
	require.NoError(t, db.Where("character_id = ?", g.char.ID).Find(&entries).Error)
	assert.Empty(t, entries)
	var bonuses []model.LegacyBonus
	require.NoError(t, db.Where("account_id = ?", 1).Find(&bonuses).Error)
	assert.Empty(t, bonuses, "permadeath banks nothing")
	var progress []model.CharacterProgress
	require.NoError(t, db.Where("character_id = ?", g.char.ID).Find(&progress).Error)
	assert.Empty(t, progress, "no progress rows outlive the character")
}

func TestApplyChoice_AuthoredEnd(t *testing.T) {
	svc, db := newService(t, nil)
	g := buildGraph(t, db, model.DifficultyNormal, false)
	ctx := context.Background()

	abrupt := model.Choice{NodeID: g.start.ID, ChoiceText: "Walk away", OrderIndex: 9}
	require.NoError(t, db.Create(&abrupt).Error)

	res, err := svc.StartSession(ctx, 1, g.campaign.ID, g.char.ID)
	require.NoError(t, err)
	step, err := svc.ApplyChoice(ctx, 1, res.Session.ID, abrupt.ID)
	require.NoError(t, err)

	assert.True(t, step.Completed)
	assert.Nil(t, step.Node)
	// 10 story + 100 completion + 50 first clear, no checks were attempted.
	assert.Equal(t, int64(160), step.XPAwarded)

	var seen []model.SeenEnding
	require.NoError(t, db.Find(&seen).Error)
	assert.Empty(t, seen, "no ending node to record")
}

func TestFreeText_ValidOutcome(t *testing.T) {
	verdict := &interpret.Result{
		IsValid:        true,
		Interpretation: "bribe the guard",
		Narration:      "The guard pockets the coin and looks away.",
		StatCheck:      &interpret.StatCheck{Stat: model.StatCharisma, Difficulty: 6, Success: true},
		StatEffects:    map[string]int{"charisma": 5, "wisdom": -1},
		FlagEffects:    map[string]interface{}{"guard_bribed": true},
		XPReward:       120,
	}
	svc, db := newService(t, stubInterp{res: verdict})
	g := buildGraph(t, db, model.DifficultyNormal, false)
	ctx := context.Background()

	res, err := svc.StartSession(ctx, 1, g.campaign.ID, g.char.ID)
	require.NoError(t, err)

	got, step, err := svc.ApplyFreeText(ctx, 1, res.Session.ID, "slip the guard a coin")
	require.NoError(t, err)
	assert.True(t, got.IsValid)

	assert.Equal(t, 7, step.Progress.Stats.Charisma, "delta capped at +2")
	assert.Equal(t, 4, step.Progress.Stats.Wisdom)
	assert.Equal(t, maxFreeTextXP, step.Progress.XPEarned, "reward capped")
	assert.Equal(t, 1, step.Progress.ChecksPassed)
	assert.Equal(t, g.start.ID, step.Session.CurrentNodeID, "free text never moves the story")

	flags, err := session.Flags(step.Session)
	require.NoError(t, err)
	assert.Equal(t, true, flags["guard_bribed"])
	history, err := session.RecentActions(step.Session)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "slip the guard a coin", history[0].Text)
}

func TestFreeText_InvalidMutatesNothing(t *testing.T) {
	verdict := &interpret.Result{
		IsValid:        false,
		Interpretation: "you cannot eat the castle",
		Narration:      "Nothing happens.",
	}
	svc, db := newService(t, stubInterp{res: verdict})
	g := buildGraph(t, db, model.DifficultyNormal, false)
	ctx := context.Background()

	res, err := svc.StartSession(ctx, 1, g.campaign.ID, g.char.ID)
	require.NoError(t, err)

	got, step, err := svc.ApplyFreeText(ctx, 1, res.Session.ID, "eat the castle")
	require.NoError(t, err)
	assert.False(t, got.IsValid)
	assert.Nil(t, step)

	var progress model.CharacterProgress
	require.NoError(t, db.Where("session_id = ?", res.Session.ID).First(&progress).Error)
	assert.Equal(t, 0, progress.XPEarned)
	assert.Equal(t, defaultStats(), progress.Stats)
	var sess model.GameSession
	require.NoError(t, db.First(&sess, res.Session.ID).Error)
	assert.Empty(t, sess.RecentActions)
}

func TestFreeText_ServiceErrorPassthrough(t *testing.T) {
	svcErr := &interpret.ServiceError{Kind: interpret.KindRateLimited, Err: errors.New("429")}
	svc, db := newService(t, stubInterp{err: svcErr})
	g := buildGraph(t, db, model.DifficultyNormal, false)
	ctx := context.Background()

	res, err := svc.StartSession(ctx, 1, g.campaign.ID, g.char.ID)
	require.NoError(t, err)

	_, _, err = svc.ApplyFreeText(ctx, 1, res.Session.ID, "anything")
	var se *interpret.ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, interpret.KindRateLimited, se.Kind)
}

func TestComputeCompletionXP(t *testing.T) {
	cases := []struct {
		name       string
		xp         int
		first      bool
		passes     int
		perfect    bool
		difficulty string
		want       int64
	}{
		{"base only", 0, false, 0, false, model.DifficultyNormal, 100},
		{"everything on hard", 30, true, 2, true, model.DifficultyHard, 405},
		{"nightmare doubles", 50, false, 1, false, model.DifficultyNightmare, 340},
		{"fractional floors", 1, false, 0, false, model.DifficultyHard, 151},
		{"unknown difficulty is x1", 10, false, 0, false, "weird", 110},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, _ := ComputeCompletionXP(tc.xp, tc.first, tc.passes, tc.perfect, tc.difficulty)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvaluateChoice_ItemBeforeStat(t *testing.T) {
	itemID := int64(7)
	choice := &model.Choice{
		RequiredItemID: &itemID,
		RequiredStat:   model.StatMagic,
		RequiredValue:  9,
	}
	stats := defaultStats()

	// Both gates fail: the item gate is reported first.
	reqErr := EvaluateChoice(choice, stats, nil, nil)
	require.NotNil(t, reqErr)
	assert.Contains(t, reqErr.Reason, "missing item")

	bag := []model.InventoryEntry{{ItemID: itemID, Qty: 1}}
	reqErr = EvaluateChoice(choice, stats, bag, nil)
	require.NotNil(t, reqErr)
	assert.Contains(t, reqErr.Reason, "magic 9 required, have 5")

	stats.Magic = 9
	assert.Nil(t, EvaluateChoice(choice, stats, bag, nil))
}

func TestPartialAndLegacyXP(t *testing.T) {
	assert.Equal(t, int64(25), PartialDeathXP(51))
	assert.Equal(t, int64(0), PartialDeathXP(0))
	assert.Equal(t, int64(20), LegacyXP(209))
	assert.Equal(t, int64(0), LegacyXP(5))
}

func TestTruncate_RuneBoundary(t *testing.T) {
	assert.Equal(t, "short", truncate("short", maxDeathCause))

	// Three-byte runes: the cut at 100 lands mid-rune and must back off.
	long := strings.Repeat("語", 40)
	got := truncate(long, maxDeathCause)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 99, len(got))
}
