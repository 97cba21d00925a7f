package story

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/lorechronicles/server/model"
)

// ErrInvalidGraph is returned when authored content references nodes or
// stats that do not fit the campaign.
var ErrInvalidGraph = errors.New("story: invalid campaign graph")

// ListCampaigns returns all campaigns, most played first.
func (svc *Service) ListCampaigns(ctx context.Context) ([]model.Campaign, error) {
	var campaigns []model.Campaign
	err := svc.db.WithContext(ctx).Order("play_count desc, id").Find(&campaigns).Error
	return campaigns, err
}

// GetCampaign fetches one campaign with its nodes.
func (svc *Service) GetCampaign(ctx context.Context, id int64) (*model.Campaign, []model.StoryNode, error) {
	var campaign model.Campaign
	if err := svc.db.WithContext(ctx).First(&campaign, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	var nodes []model.StoryNode
	if err := svc.db.WithContext(ctx).Where("campaign_id = ?", id).
		Order("id").Find(&nodes).Error; err != nil {
		return nil, nil, err
	}
	return &campaign, nodes, nil
}

// CreateCampaign stores a new campaign shell. Its start node is wired up
// later with SetStartNode once nodes exist.
func (svc *Service) CreateCampaign(ctx context.Context, campaign *model.Campaign) error {
	switch campaign.Difficulty {
	case "", model.DifficultyEasy, model.DifficultyNormal, model.DifficultyHard,
		model.DifficultyNightmare, model.DifficultyExpert:
	default:
		return fmt.Errorf("%w: unknown difficulty %q", ErrInvalidGraph, campaign.Difficulty)
	}
	if campaign.Difficulty == "" {
		campaign.Difficulty = model.DifficultyNormal
	}
	return svc.db.WithContext(ctx).Create(campaign).Error
}

// CreateNode adds a node to a campaign.
func (svc *Service) CreateNode(ctx context.Context, node *model.StoryNode) error {
	switch node.NodeType {
	case "", model.NodeNarrative, model.NodeChoice, model.NodeStatCheck,
		model.NodeEnding, model.NodeDeath:
	default:
		return fmt.Errorf("%w: unknown node type %q", ErrInvalidGraph, node.NodeType)
	}
	if node.NodeType == "" {
		node.NodeType = model.NodeNarrative
	}
	return svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var campaign model.Campaign
		if err := tx.First(&campaign, node.CampaignID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		return tx.Create(node).Error
	})
}

// SetStartNode points the campaign's entry at one of its own nodes.
func (svc *Service) SetStartNode(ctx context.Context, campaignID, nodeID int64) error {
	return svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var node model.StoryNode
		if err := tx.Where("id = ? AND campaign_id = ?", nodeID, campaignID).
			First(&node).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: node %d not in campaign %d", ErrInvalidGraph, nodeID, campaignID)
			}
			return err
		}
		return tx.Model(&model.Campaign{}).Where("id = ?", campaignID).
			Update("start_node_id", nodeID).Error
	})
}

// CreateChoice adds an edge out of a node. The target, when set, must live
// in the same campaign; a stat gate must name one of the five stats.
func (svc *Service) CreateChoice(ctx context.Context, choice *model.Choice) error {
	if choice.RequiredStat != "" && !model.ValidStat(choice.RequiredStat) {
		return fmt.Errorf("%w: unknown stat %q", ErrInvalidGraph, choice.RequiredStat)
	}
	return svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var node model.StoryNode
		if err := tx.First(&node, choice.NodeID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if node.IsTerminal() {
			return fmt.Errorf("%w: node %d is terminal", ErrInvalidGraph, node.ID)
		}
		if choice.TargetNodeID != nil {
			var target model.StoryNode
			if err := tx.Where("id = ? AND campaign_id = ?", *choice.TargetNodeID, node.CampaignID).
				First(&target).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: target %d not in campaign %d", ErrInvalidGraph, *choice.TargetNodeID, node.CampaignID)
				}
				return err
			}
		}
		return tx.Create(choice).Error
	})
}

// CreateItem stores an item definition.
func (svc *Service) CreateItem(ctx context.Context, item *model.Item) error {
	return svc.db.WithContext(ctx).Create(item).Error
}

// ListItems returns all item definitions.
func (svc *Service) ListItems(ctx context.Context) ([]model.Item, error) {
	var items []model.Item
	err := svc.db.WithContext(ctx).Order("id").Find(&items).Error
	return items, err
}
