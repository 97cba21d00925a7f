package story

import (
	"context"
	"encoding/json"
	"errors"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/lorechronicles/server/audit"
	"github.com/lorechronicles/server/game/character"
	"github.com/lorechronicles/server/game/interpret"
	"github.com/lorechronicles/server/game/inventory"
	"github.com/lorechronicles/server/game/session"
	"github.com/lorechronicles/server/model"
)

// Bounds enforced on interpreter-proposed effects, whatever the model says.
const (
	maxFreeTextStatDelta = 2
	maxFreeTextXP        = 50
)

// maxDeathCause bounds the cause string stored in a death context.
const maxDeathCause = 100

// Service drives play sessions through campaign story graphs.
type Service struct {
	db     *gorm.DB
	locks  *session.Manager
	interp interpret.Interpreter
	audit  *audit.Service
	logger *zap.Logger
}

// NewService creates a story Service. interp and auditSvc may be nil; free-text
// actions then fail with ErrNotFound and auditing is skipped.
func NewService(db *gorm.DB, locks *session.Manager, interp interpret.Interpreter, auditSvc *audit.Service, logger *zap.Logger) *Service {
	return &Service{db: db, locks: locks, interp: interp, audit: auditSvc, logger: logger}
}

// ChoiceView is a choice annotated with its gate evaluation for the
// requesting character.
type ChoiceView struct {
	model.Choice
	Locked     bool   `json:"locked"`
	LockReason string `json:"lock_reason,omitempty"`
}

// NodeView is the full picture of where a session currently stands.
type NodeView struct {
	Session  *model.GameSession       `json:"session"`
	Progress *model.CharacterProgress `json:"progress"`
	Node     *model.StoryNode         `json:"node"`
	Choices  []ChoiceView             `json:"choices"`
}

// StepResult reports what one engine step did.
type StepResult struct {
	Session     *model.GameSession       `json:"session"`
	Progress    *model.CharacterProgress `json:"progress"`
	Node        *model.StoryNode         `json:"node,omitempty"`
	Completed   bool                     `json:"completed"`
	Died        bool                     `json:"died"`
	Permadeath  bool                     `json:"permadeath,omitempty"`
	XPAwarded   int64                    `json:"xp_awarded"`
	XPBreakdown []string                 `json:"xp_breakdown,omitempty"`
}

// StartSession begins (or resumes) a playthrough of a campaign with a
// character. If the character already has an active session in the campaign
// it is returned instead of opening a second one.
func (svc *Service) StartSession(ctx context.Context, accountID, campaignID, characterID int64) (*StepResult, error) {
	var result *StepResult
	err := svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var campaign model.Campaign
		if err := tx.First(&campaign, campaignID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		var char model.Character
		if err := tx.Where("id = ? AND account_id = ?", characterID, accountID).
			First(&char).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if !char.IsActive {
			return ErrCharacterFallen
		}

		var existing model.GameSession
		err := tx.Where("campaign_id = ? AND character_id = ? AND status = ?",
			campaignID, characterID, model.SessionActive).First(&existing).Error
		if err == nil {
			var progress model.CharacterProgress
			if err := tx.Where("session_id = ?", existing.ID).First(&progress).Error; err != nil {
				return err
			}
			result = &StepResult{Session: &existing, Progress: &progress}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		startNode, _, err := loadNode(tx, campaign.StartNodeID)
		if err != nil {
			return err
		}

		sess := &model.GameSession{
			CampaignID:    campaignID,
			CharacterID:   characterID,
			AccountID:     accountID,
			CurrentNodeID: startNode.ID,
			Status:        model.SessionActive,
			LastPlayedAt:  time.Now(),
		}
		if err := tx.Create(sess).Error; err != nil {
			return err
		}

		progress := &model.CharacterProgress{
			SessionID:   sess.ID,
			CharacterID: characterID,
			Stats:       char.Stats,
		}
		if err := appendVisited(progress, startNode.ID); err != nil {
			return err
		}
		if err := tx.Create(progress).Error; err != nil {
			return err
		}

		if err := tx.Model(&campaign).
			UpdateColumn("play_count", gorm.Expr("play_count + 1")).Error; err != nil {
			return err
		}

		result = &StepResult{Session: sess, Progress: progress, Node: startNode}
		if startNode.IsTerminal() {
			if err := svc.finishAtNode(tx, result, &campaign, &char, startNode); err != nil {
				return err
			}
			if result.Permadeath {
				return svc.saveStep(tx, sess, nil)
			}
			return svc.saveStep(tx, sess, progress)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	svc.logAudit(audit.Entry{
		SessionID:   &result.Session.ID,
		CharacterID: &characterID,
		AccountID:   &accountID,
		Action:      audit.ActionSessionStart,
		Request:     map[string]int64{"campaign_id": campaignID},
	})
	return result, nil
}

// GetSession fetches a session owned by the account.
func (svc *Service) GetSession(ctx context.Context, accountID, sessionID int64) (*model.GameSession, error) {
	var sess model.GameSession
	if err := svc.db.WithContext(ctx).
		Where("id = ? AND account_id = ?", sessionID, accountID).
		First(&sess).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sess, nil
}

// ListSessions returns the account's sessions, newest first.
func (svc *Service) ListSessions(ctx context.Context, accountID int64) ([]model.GameSession, error) {
	var sessions []model.GameSession
	err := svc.db.WithContext(ctx).Where("account_id = ?", accountID).
		Order("id desc").Find(&sessions).Error
	return sessions, err
}

// Current returns the session's current node with each outgoing choice
// evaluated against the character's effective stats and bag.
func (svc *Service) Current(ctx context.Context, accountID, sessionID int64) (*NodeView, error) {
	db := svc.db.WithContext(ctx)

	sess, err := svc.GetSession(ctx, accountID, sessionID)
	if err != nil {
		return nil, err
	}
	var progress model.CharacterProgress
	if err := db.Where("session_id = ?", sessionID).First(&progress).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	node, choices, err := loadNode(db, sess.CurrentNodeID)
	if err != nil {
		return nil, err
	}

	stats, bag, items, err := svc.evaluationState(db, sess.CharacterID, &progress, choices)
	if err != nil {
		return nil, err
	}

	views := make([]ChoiceView, 0, len(choices))
	for i := range choices {
		view := ChoiceView{Choice: choices[i]}
		if reqErr := EvaluateChoice(&choices[i], stats, bag, items); reqErr != nil {
			view.Locked = true
			view.LockReason = reqErr.Reason
		}
		views = append(views, view)
	}

	return &NodeView{Session: sess, Progress: &progress, Node: node, Choices: views}, nil
}

// evaluationState assembles what choice gates are checked against: the
// progress stats with equipment bonuses folded in, the character's bag, and
// the item definitions the choices reference.
func (svc *Service) evaluationState(tx *gorm.DB, characterID int64, progress *model.CharacterProgress, choices []model.Choice) (model.Stats, []model.InventoryEntry, map[int64]model.Item, error) {
	bonuses, err := inventory.AggregateBonusesTx(tx, characterID)
	if err != nil {
		return model.Stats{}, nil, nil, err
	}
	stats := EffectiveStats(progress.Stats, bonuses)

	var bag []model.InventoryEntry
	if err := tx.Where("character_id = ?", characterID).Find(&bag).Error; err != nil {
		return model.Stats{}, nil, nil, err
	}

	items := make(map[int64]model.Item)
	for _, c := range choices {
		if c.RequiredItemID == nil {
			continue
		}
		var item model.Item
		if err := tx.First(&item, *c.RequiredItemID).Error; err == nil {
			items[item.ID] = item
		}
	}
	return stats, bag, items, nil
}

// ApplyChoice takes a choice out of the session's current node. The whole
// step commits atomically: requirement gates, stat effects, the move, XP,
// and any completion or death it triggers. Concurrent steps on the same
// session are refused with ErrSessionBusy.
func (svc *Service) ApplyChoice(ctx context.Context, accountID, sessionID, choiceID int64) (*StepResult, error) {
	release, err := svc.locks.Acquire(sessionID)
	if err != nil {
		return nil, ErrSessionBusy
	}
	defer release()

	var result *StepResult
	var reqErr *RequirementNotMetError
	err = svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sess, progress, char, campaign, err := svc.loadStep(tx, accountID, sessionID)
		if err != nil {
			return err
		}

		var current model.StoryNode
		if err := tx.First(&current, sess.CurrentNodeID).Error; err != nil {
			return err
		}
		var choice model.Choice
		if err := tx.Where("id = ? AND node_id = ?", choiceID, sess.CurrentNodeID).
			First(&choice).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		stats, bag, items, err := svc.evaluationState(tx, char.ID, progress, []model.Choice{choice})
		if err != nil {
			return err
		}
		if reqErr = EvaluateChoice(&choice, stats, bag, items); reqErr != nil {
			// The refusal itself is recorded; everything else rolls forward
			// untouched.
			progress.ChecksFailed++
			return tx.Model(progress).
				UpdateColumn("checks_failed", progress.ChecksFailed).Error
		}

		if choice.RequiredStat != "" && model.ValidStat(choice.RequiredStat) {
			progress.ChecksPassed++
			if err := recordCheck(progress, choice.RequiredStat); err != nil {
				return err
			}
		}
		progress.Stats = progress.Stats.Apply(choiceEffects(&choice))
		// The XP reward belongs to the node being departed, not the choice.
		progress.XPEarned += current.XPReward

		result = &StepResult{Session: sess, Progress: progress}

		if choice.TargetNodeID == nil {
			// Authored "the end": the path completes without a node.
			if err := svc.completeSession(tx, result, campaign, char, nil); err != nil {
				return err
			}
			return svc.saveStep(tx, sess, progress)
		}

		target, _, err := loadNode(tx, *choice.TargetNodeID)
		if err != nil {
			return err
		}
		sess.CurrentNodeID = target.ID
		if err := appendVisited(progress, target.ID); err != nil {
			return err
		}
		result.Node = target

		if target.IsTerminal() {
			if err := svc.finishAtNode(tx, result, campaign, char, target); err != nil {
				return err
			}
			if result.Permadeath {
				return svc.saveStep(tx, sess, nil)
			}
		}
		return svc.saveStep(tx, sess, progress)
	})
	if err != nil {
		return nil, err
	}
	if reqErr != nil {
		return nil, reqErr
	}

	svc.logStep(result, audit.ActionChoiceApply, map[string]int64{"choice_id": choiceID})
	if result.Completed || result.Died {
		svc.locks.Forget(sessionID)
	}
	return result, nil
}

// loadStep fetches the mutable state of one engine step, refusing completed
// sessions and fallen characters.
func (svc *Service) loadStep(tx *gorm.DB, accountID, sessionID int64) (*model.GameSession, *model.CharacterProgress, *model.Character, *model.Campaign, error) {
	var sess model.GameSession
	if err := tx.Where("id = ? AND account_id = ?", sessionID, accountID).
		First(&sess).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil, nil, ErrNotFound
		}
		return nil, nil, nil, nil, err
	}
	if sess.Status != model.SessionActive {
		return nil, nil, nil, nil, ErrSessionCompleted
	}

	var progress model.CharacterProgress
	if err := tx.Where("session_id = ?", sess.ID).First(&progress).Error; err != nil {
		return nil, nil, nil, nil, err
	}
	var char model.Character
	if err := tx.First(&char, sess.CharacterID).Error; err != nil {
		return nil, nil, nil, nil, err
	}
	if !char.IsActive {
		return nil, nil, nil, nil, ErrCharacterFallen
	}
	var campaign model.Campaign
	if err := tx.First(&campaign, sess.CampaignID).Error; err != nil {
		return nil, nil, nil, nil, err
	}
	return &sess, &progress, &char, &campaign, nil
}

// saveStep persists the session and progress rows touched by a step. A nil
// progress is skipped; permadeath erases the row mid-step and a Save here
// would recreate it.
func (svc *Service) saveStep(tx *gorm.DB, sess *model.GameSession, progress *model.CharacterProgress) error {
	sess.LastPlayedAt = time.Now()
	if err := tx.Save(sess).Error; err != nil {
		return err
	}
	if progress == nil {
		return nil
	}
	return tx.Save(progress).Error
}

// finishAtNode dispatches arrival at a terminal node.
func (svc *Service) finishAtNode(tx *gorm.DB, result *StepResult, campaign *model.Campaign, char *model.Character, node *model.StoryNode) error {
	if node.NodeType == model.NodeDeath {
		return svc.handleDeath(tx, result, campaign, char, node)
	}
	return svc.completeSession(tx, result, campaign, char, node)
}

// completeSession finalizes a successful run: marks the session completed,
// records the ending and first-clear ledgers, and grants the completion XP
// to the character.
func (svc *Service) completeSession(tx *gorm.DB, result *StepResult, campaign *model.Campaign, char *model.Character, ending *model.StoryNode) error {
	sess := result.Session
	progress := result.Progress

	now := time.Now()
	sess.Status = model.SessionCompleted
	sess.CompletedAt = &now

	if ending != nil {
		seen := model.SeenEnding{
			AccountID:  sess.AccountID,
			CampaignID: sess.CampaignID,
			NodeID:     ending.ID,
		}
		if err := tx.Where(&seen).FirstOrCreate(&seen).Error; err != nil {
			return err
		}
	}

	firstClear := false
	completion := model.CampaignCompletion{
		AccountID:  sess.AccountID,
		CampaignID: sess.CampaignID,
	}
	res := tx.Where("account_id = ? AND campaign_id = ?", sess.AccountID, sess.CampaignID).
		First(&completion)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		firstClear = true
		completion.CharacterID = char.ID
		if err := tx.Create(&completion).Error; err != nil {
			return err
		}
	} else if res.Error != nil {
		return res.Error
	}

	// The session's working stats become the character's stats.
	char.Stats = progress.Stats
	if err := tx.Model(char).Updates(statColumns(progress.Stats)).Error; err != nil {
		return err
	}

	perfect := progress.ChecksPassed > 0 && progress.ChecksFailed == 0
	total, breakdown := ComputeCompletionXP(progress.XPEarned, firstClear, progress.ChecksPassed, perfect, campaign.Difficulty)
	if err := character.GrantXPTx(tx, char.ID, total); err != nil {
		return err
	}

	result.Completed = true
	result.XPAwarded = total
	result.XPBreakdown = breakdown

	svc.logger.Info("session completed",
		zap.Int64("session_id", sess.ID),
		zap.Int64("character_id", char.ID),
		zap.Int64("xp_awarded", total),
		zap.Bool("first_clear", firstClear),
		zap.Bool("perfect", perfect))
	return nil
}

// handleDeath finalizes a run that hit a death node. Under permadeath the
// character and its bag are erased. In survivable campaigns the character is
// retired with half the run's XP and a legacy bonus is banked for the
// account's next character.
func (svc *Service) handleDeath(tx *gorm.DB, result *StepResult, campaign *model.Campaign, char *model.Character, node *model.StoryNode) error {
	sess := result.Session
	progress := result.Progress

	now := time.Now()
	sess.Status = model.SessionCompleted
	sess.CompletedAt = &now
	result.Died = true
	result.Permadeath = campaign.Permadeath

	if campaign.Permadeath {
		if err := tx.Where("character_id = ?", char.ID).
			Delete(&model.InventoryEntry{}).Error; err != nil {
			return err
		}
		if err := tx.Where("character_id = ?", char.ID).
			Delete(&model.CharacterProgress{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&model.Character{}, char.ID).Error; err != nil {
			return err
		}
		svc.logger.Info("character erased by permadeath",
			zap.Int64("session_id", sess.ID),
			zap.Int64("character_id", char.ID),
			zap.String("node_title", node.Title))
		return nil
	}

	partial := PartialDeathXP(progress.XPEarned)
	legacy := LegacyXP(char.XP)

	deathCtx, err := json.Marshal(model.DeathContext{
		CampaignTitle: campaign.Title,
		NodeTitle:     node.Title,
		Cause:         truncate(node.Content, maxDeathCause),
	})
	if err != nil {
		return err
	}
	// Fallen characters keep the stats they died with.
	updates := statColumns(progress.Stats)
	updates["is_active"] = false
	updates["fallen_at"] = now
	updates["death_context"] = datatypes.JSON(deathCtx)
	if err := tx.Model(char).Updates(updates).Error; err != nil {
		return err
	}
	char.Stats = progress.Stats
	if partial > 0 {
		if err := character.GrantXPTx(tx, char.ID, partial); err != nil {
			return err
		}
	}
	if legacy > 0 {
		bonus := &model.LegacyBonus{
			AccountID:       sess.AccountID,
			FromCharacterID: char.ID,
			FromName:        char.Name,
			XPBonus:         legacy,
			FallenLevel:     char.Level,
		}
		if err := tx.Create(bonus).Error; err != nil {
			return err
		}
	}
	result.XPAwarded = partial

	svc.logger.Info("character fell",
		zap.Int64("session_id", sess.ID),
		zap.Int64("character_id", char.ID),
		zap.Int64("partial_xp", partial),
		zap.Int64("legacy_xp", legacy))
	return nil
}

// ApplyFreeText sends a free-form player action through the interpreter and
// folds a valid outcome into the session. Invalid actions mutate nothing.
// The current node never changes.
func (svc *Service) ApplyFreeText(ctx context.Context, accountID, sessionID int64, text string) (*interpret.Result, *StepResult, error) {
	if svc.interp == nil {
		return nil, nil, ErrNotFound
	}
	release, err := svc.locks.Acquire(sessionID)
	if err != nil {
		return nil, nil, ErrSessionBusy
	}
	defer release()

	db := svc.db.WithContext(ctx)
	sess, progress, char, _, err := svc.loadStep(db, accountID, sessionID)
	if err != nil {
		return nil, nil, err
	}
	node, _, err := loadNode(db, sess.CurrentNodeID)
	if err != nil {
		return nil, nil, err
	}

	bonuses, err := inventory.AggregateBonusesTx(db, char.ID)
	if err != nil {
		return nil, nil, err
	}
	stats := EffectiveStats(progress.Stats, bonuses)
	history, err := session.RecentActions(sess)
	if err != nil {
		return nil, nil, err
	}
	req := interpret.Request{
		SessionID:     sess.ID,
		CharacterID:   char.ID,
		NodeID:        node.ID,
		CharacterName: char.Name,
		NodeContent:   node.Content,
		Stats:         statMap(stats),
		PlayerText:    text,
	}
	for _, h := range history {
		req.History = append(req.History, interpret.HistoryEntry{Text: h.Text, Outcome: h.Outcome})
	}

	verdict, err := svc.interp.Interpret(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	if !verdict.IsValid {
		return verdict, nil, nil
	}

	result := &StepResult{Session: sess, Progress: progress, Node: node}
	err = db.Transaction(func(tx *gorm.DB) error {
		progress.Stats = progress.Stats.Apply(clampDeltas(verdict.StatEffects))

		if xp := verdict.XPReward; xp > 0 {
			if xp > maxFreeTextXP {
				xp = maxFreeTextXP
			}
			progress.XPEarned += xp
		}
		if check := verdict.StatCheck; check != nil && model.ValidStat(check.Stat) {
			if check.Success {
				progress.ChecksPassed++
				if err := recordCheck(progress, check.Stat); err != nil {
					return err
				}
			} else {
				progress.ChecksFailed++
			}
		}
		if err := session.MergeFlags(sess, verdict.FlagEffects); err != nil {
			return err
		}
		if err := session.AppendAction(sess, session.ActionEntry{
			Text:      text,
			Outcome:   verdict.Interpretation,
			Timestamp: time.Now(),
		}); err != nil {
			return err
		}
		return svc.saveStep(tx, sess, progress)
	})
	if err != nil {
		return nil, nil, err
	}

	svc.logStep(result, audit.ActionFreeText, map[string]string{"text": text})
	return verdict, result, nil
}

// clampDeltas bounds interpreter stat deltas to ±maxFreeTextStatDelta.
func clampDeltas(effects map[string]int) map[string]int {
	if len(effects) == 0 {
		return nil
	}
	out := make(map[string]int, len(effects))
	for stat, d := range effects {
		if d > maxFreeTextStatDelta {
			d = maxFreeTextStatDelta
		}
		if d < -maxFreeTextStatDelta {
			d = -maxFreeTextStatDelta
		}
		out[stat] = d
	}
	return out
}

// truncate bounds s to at most n bytes, backing off so a multi-byte rune is
// never split.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// statColumns spreads a stats vector into its column values for an update.
func statColumns(s model.Stats) map[string]interface{} {
	return map[string]interface{}{
		"strength": s.Strength,
		"magic":    s.Magic,
		"charisma": s.Charisma,
		"wisdom":   s.Wisdom,
		"agility":  s.Agility,
	}
}

func statMap(s model.Stats) map[string]int {
	out := make(map[string]int, len(model.StatNames))
	for _, name := range model.StatNames {
		out[name] = s.Get(name)
	}
	return out
}

func (svc *Service) logAudit(entry audit.Entry) {
	if svc.audit != nil {
		svc.audit.Log(entry)
	}
}

func (svc *Service) logStep(result *StepResult, action string, req interface{}) {
	if svc.audit == nil || result == nil {
		return
	}
	entry := audit.Entry{
		SessionID:   &result.Session.ID,
		CharacterID: &result.Session.CharacterID,
		AccountID:   &result.Session.AccountID,
		Action:      action,
		Request:     req,
		Response:    result,
	}
	if result.Died {
		entry.Action = audit.ActionDeath
	} else if result.Completed {
		entry.Action = audit.ActionCompletion
	}
	svc.audit.Log(entry)
}
