package dedup

import (
	"context"
	"errors"
	"fmt"

	"bitbucket.org/mmdatafocus/katsync_backend/config"
	"bitbucket.org/mmdatafocus/katsync_backend/koza"
	"bitbucket.org/mmdatafocus/katsync_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const moduleName = "dedup"

type ActionType string

const (
	ActionRemove          ActionType = "Remove"
	ActionUpdateAndRemove ActionType = "UpdateAndRemove"
	ActionSkip            ActionType = "Skip"
)

// GroupAction is the resolved plan for one duplicate group. The canonical
// card is never a member of CardsToRemove.
type GroupAction struct {
	Group         DuplicateGroup   `json:"group"`
	Action        ActionType       `json:"action"`
	Canonical     *koza.StockCard  `json:"canonical,omitempty"`
	CardsToRemove []koza.StockCard `json:"cards_to_remove,omitempty"`
	UpdatedCode   string           `json:"updated_code,omitempty"`
	UpdatedName   string           `json:"updated_name,omitempty"`
	RuleApplied   string           `json:"rule_applied,omitempty"`
	SkipReason    string           `json:"skip_reason,omitempty"`
}

type GroupError struct {
	GroupId string `json:"group_id"`
	Key     string `json:"key"`
	Message string `json:"message"`
}

type ExecutionResult struct {
	GroupsProcessed int          `json:"groups_processed"`
	GroupsSkipped   int          `json:"groups_skipped"`
	CardsRemoved    int          `json:"cards_removed"`
	CardsUpdated    int          `json:"cards_updated"`
	Errors          []GroupError `json:"errors,omitempty"`
}

// RemoteCardAPI is the slice of the accounting client the engine needs.
type RemoteCardAPI interface {
	ListStockCards(ctx context.Context) ([]koza.StockCard, error)
	GetStockCard(ctx context.Context, code string) (*koza.StockCard, error)
	UpdateStockCard(ctx context.Context, card koza.StockCard) error
	DeleteStockCard(ctx context.Context, id int64) error
}

type Service struct {
	remote   RemoteCardAPI
	detector *Detector
	rules    []Rule
	db       *gorm.DB
	logger   *logrus.Logger
}

func NewService(remote RemoteCardAPI, db *gorm.DB, logger *logrus.Logger) *Service {
	return &Service{
		remote:   remote,
		detector: NewDetector(),
		rules:    DefaultRules(),
		db:       db,
		logger:   logger,
	}
}

// Analyze pulls the live stock card list and runs duplicate detection.
func (s *Service) Analyze(ctx context.Context) ([]DuplicateGroup, error) {
	cards, err := s.remote.ListStockCards(ctx)
	if err != nil {
		return nil, err
	}
	return s.detector.Analyze(cards), nil
}

// Plan resolves one action per group. protectedCodes holds card codes that
// are referenced outside this engine's removal authority (open orders,
// ledger entries); a group touching one is skipped rather than guessed at.
func (s *Service) Plan(groups []DuplicateGroup, protectedCodes map[string]bool) []GroupAction {
	actions := make([]GroupAction, 0, len(groups))
	for _, group := range groups {
		actions = append(actions, s.planGroup(group, protectedCodes))
	}
	return actions
}

func (s *Service) planGroup(group DuplicateGroup, protectedCodes map[string]bool) GroupAction {
	canonical, rule := SelectCanonical(group, s.rules, s.detector.VersionSuffixPattern)
	if canonical == nil {
		return GroupAction{Group: group, Action: ActionSkip, SkipReason: "no canonical candidate"}
	}

	var toRemove []koza.StockCard
	for _, card := range group.Cards {
		if card.ID == canonical.ID {
			continue
		}
		if protectedCodes[card.Code] {
			return GroupAction{
				Group:      group,
				Action:     ActionSkip,
				Canonical:  canonical,
				SkipReason: fmt.Sprintf("card %s is referenced outside removal authority", card.Code),
			}
		}
		toRemove = append(toRemove, card)
	}
	if len(toRemove) == 0 {
		return GroupAction{Group: group, Action: ActionSkip, Canonical: canonical, SkipReason: "nothing to remove"}
	}

	action := GroupAction{
		Group:         group,
		Action:        ActionRemove,
		Canonical:     canonical,
		CardsToRemove: toRemove,
		RuleApplied:   rule,
	}

	// A canonical that itself carries a glued-together name or code keeps
	// the group id but absorbs the corrected values before removal.
	if half, ok := SplitConcatenation(NormalizeName(canonical.Name)); ok {
		action.Action = ActionUpdateAndRemove
		action.UpdatedName = half
	}
	if half, ok := SplitConcatenation(canonical.Code); ok {
		action.Action = ActionUpdateAndRemove
		action.UpdatedCode = half
	}
	return action
}

// Execute applies planned actions against the remote side. Groups are
// isolated: a failure is recorded and execution moves to the next group. The
// canonical card is re-checked against the removal list and re-verified to
// exist remotely before anything is deleted.
func (s *Service) Execute(ctx context.Context, actions []GroupAction) ExecutionResult {
	var result ExecutionResult

	for _, action := range actions {
		if action.Action == ActionSkip {
			result.GroupsSkipped++
			continue
		}
		if err := s.executeGroup(ctx, action, &result); err != nil {
			result.Errors = append(result.Errors, GroupError{
				GroupId: action.Group.GroupId,
				Key:     action.Group.Key,
				Message: err.Error(),
			})
			continue
		}
		result.GroupsProcessed++
	}
	return result
}

func (s *Service) executeGroup(ctx context.Context, action GroupAction, result *ExecutionResult) error {
	if action.Canonical == nil {
		return errors.New("group has no canonical card")
	}
	for _, card := range action.CardsToRemove {
		if card.ID == action.Canonical.ID {
			return fmt.Errorf("canonical card %s listed for removal", card.Code)
		}
	}

	// The plan may be stale; confirm the canonical still exists remotely
	// before deleting anything it is meant to replace.
	live, err := s.remote.GetStockCard(ctx, action.Canonical.Code)
	if err != nil {
		return fmt.Errorf("verify canonical %s: %w", action.Canonical.Code, err)
	}
	if live == nil || live.ID != action.Canonical.ID {
		return fmt.Errorf("canonical %s no longer matches remote state", action.Canonical.Code)
	}

	if action.Action == ActionUpdateAndRemove {
		updated := *action.Canonical
		if action.UpdatedName != "" {
			updated.Name = action.UpdatedName
		}
		if action.UpdatedCode != "" {
			updated.Code = action.UpdatedCode
		}
		if err := s.remote.UpdateStockCard(ctx, updated); err != nil {
			return fmt.Errorf("update canonical %s: %w", action.Canonical.Code, err)
		}
		result.CardsUpdated++
		s.audit(ctx, models.CleanupActionUpdateCard, action.Canonical.Code,
			fmt.Sprintf("group %s: canonical corrected to code=%s name=%s", action.Group.Key, updated.Code, updated.Name))
	}

	for _, card := range action.CardsToRemove {
		if err := s.remote.DeleteStockCard(ctx, card.ID); err != nil {
			return fmt.Errorf("delete card %s: %w", card.Code, err)
		}
		result.CardsRemoved++
		s.audit(ctx, models.CleanupActionRemoveCard, card.Code,
			fmt.Sprintf("group %s: duplicate of %s (rule %s)", action.Group.Key, action.Canonical.Code, action.RuleApplied))
	}

	s.logger.WithFields(logrus.Fields{
		"module":    moduleName,
		"groupKey":  action.Group.Key,
		"canonical": action.Canonical.Code,
		"removed":   len(action.CardsToRemove),
	}).Info("duplicate group resolved")
	return nil
}

func (s *Service) audit(ctx context.Context, actionName string, reference string, detail string) {
	if s.db == nil {
		return
	}
	row := models.CleanupActionLog{
		Action:     actionName,
		EntityType: "stock_card",
		Reference:  reference,
		Detail:     detail,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		config.LogError(s.logger, moduleName, "audit", "failed to write cleanup action log", reference, err)
	}
}
