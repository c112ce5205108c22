// Package chef is the budget controller of the pipeline. It allocates and
// tracks project budgets, decides when to degrade quality, and escalates
// to a human when degrading is no longer possible.
package chef

import (
	"fmt"

	"github.com/dyluth/reelforge/internal/config"
	"github.com/dyluth/reelforge/internal/events"
	"github.com/dyluth/reelforge/pkg/blackboard"
)

// BudgetStatus classifies spend against the allocated total.
type BudgetStatus string

const (
	BudgetOK       BudgetStatus = "OK"
	BudgetWarning  BudgetStatus = "WARNING"
	BudgetExceeded BudgetStatus = "EXCEEDED"
)

// BudgetManager implements the budget arithmetic.
type BudgetManager struct {
	baseRate          float64
	currency          string
	warningThreshold  float64
	exceededThreshold float64
	multipliers       map[blackboard.QualityTier]float64
	defaults          config.DefaultCosts
}

// NewBudgetManager builds a manager from validated configuration.
func NewBudgetManager(cfg config.BudgetConfig) *BudgetManager {
	mult := make(map[blackboard.QualityTier]float64, len(cfg.Multipliers))
	for tier, m := range cfg.Multipliers {
		mult[blackboard.QualityTier(tier)] = m
	}
	return &BudgetManager{
		baseRate:          cfg.BaseRate,
		currency:          cfg.Currency,
		warningThreshold:  cfg.WarningThreshold,
		exceededThreshold: cfg.ExceededThreshold,
		multipliers:       mult,
		defaults:          cfg.DefaultCosts,
	}
}

// Currency returns the currency new budgets are allocated in.
func (m *BudgetManager) Currency() string {
	return m.currency
}

// AllocateBudget returns duration * base_rate * multiplier(tier) with
// nothing spent.
func (m *BudgetManager) AllocateBudget(durationSeconds float64, tier blackboard.QualityTier) (blackboard.Budget, error) {
	if durationSeconds < 0 {
		return blackboard.Budget{}, fmt.Errorf("duration must be >= 0, got %v", durationSeconds)
	}
	mult, ok := m.multipliers[tier]
	if !ok {
		return blackboard.Budget{}, fmt.Errorf("no budget multiplier for quality tier %q", tier)
	}
	total := durationSeconds * m.baseRate * mult
	return blackboard.NewBudget(blackboard.NewMoney(total, m.currency)), nil
}

// UpdateSpent adds cost to a budget value. Remaining is recomputed from
// total rather than decremented.
func (m *BudgetManager) UpdateSpent(b blackboard.Budget, cost blackboard.Money) (blackboard.Budget, error) {
	if cost.Currency != b.Total.Currency {
		return b, fmt.Errorf("%w: budget uses %s, got %s", blackboard.ErrCurrencyMismatch, b.Total.Currency, cost.Currency)
	}
	b.Spent.Amount += cost.Amount
	b.EstimatedRemaining = blackboard.NewMoney(b.Total.Amount-b.Spent.Amount, b.Total.Currency)
	return b, nil
}

// CheckBudgetStatus classifies usage. A zero total is EXCEEDED.
func (m *BudgetManager) CheckBudgetStatus(b blackboard.Budget) BudgetStatus {
	if b.Total.Amount == 0 {
		return BudgetExceeded
	}
	usage := b.Usage()
	switch {
	case usage >= m.exceededThreshold:
		return BudgetExceeded
	case usage >= m.warningThreshold:
		return BudgetWarning
	default:
		return BudgetOK
	}
}

// PredictFinalCost extrapolates spend linearly from progress in [0,1].
// Below 1% progress there is no signal and the total is returned.
func (m *BudgetManager) PredictFinalCost(b blackboard.Budget, progress float64) blackboard.Money {
	if progress < 0.01 {
		return b.Total
	}
	return blackboard.NewMoney(b.Spent.Amount/progress, b.Total.Currency)
}

// EstimateDefaultCost prices a generation event that carries no explicit
// cost, from the configured per-modality rates. Non-generation events
// cost nothing.
func (m *BudgetManager) EstimateDefaultCost(e events.Event) blackboard.Money {
	count := float64(e.Count)
	if count <= 0 {
		count = 1
	}
	var amount float64
	switch e.Type {
	case events.TypeImageGenerated:
		amount = m.defaults.ImagePerUnit * count
	case events.TypeVideoGenerated:
		amount = m.defaults.VideoPerSecond * e.DurationSeconds
	case events.TypeVoiceGenerated:
		amount = m.defaults.VoicePerSecond * e.DurationSeconds
	case events.TypeMusicGenerated:
		amount = m.defaults.MusicPerSecond * e.DurationSeconds
	case events.TypeTextGenerated:
		amount = m.defaults.TextPerRequest * count
	}
	return blackboard.NewMoney(amount, m.currency)
}

// EventCost returns the event's explicit cost, or the default estimate.
func (m *BudgetManager) EventCost(e events.Event) blackboard.Money {
	if e.Cost != nil {
		return *e.Cost
	}
	return m.EstimateDefaultCost(e)
}
