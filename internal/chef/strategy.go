package chef

import (
	"fmt"

	"github.com/dyluth/reelforge/internal/config"
	"github.com/dyluth/reelforge/pkg/blackboard"
)

// Action is what the strategy adjuster asks the pipeline to do.
type Action string

const (
	ActionContinue      Action = "CONTINUE"
	ActionReduceQuality Action = "REDUCE_QUALITY"
)

// Reasons attached to decisions. Sufficient and normal are both CONTINUE.
const (
	ReasonSufficient = "sufficient"
	ReasonNormal     = "normal"
	ReasonHighUsage  = "high_usage"
)

// Decision is the output of EvaluateStrategy. TargetTier is nil when no
// tier change is requested.
type Decision struct {
	Action     Action                  `json:"action"`
	TargetTier *blackboard.QualityTier `json:"target_tier,omitempty"`
	Reason     string                  `json:"reason"`
	Usage      float64                 `json:"usage"`
}

func (d Decision) String() string {
	if d.TargetTier != nil {
		return fmt.Sprintf("%s -> %s (%s, usage %.3f)", d.Action, *d.TargetTier, d.Reason, d.Usage)
	}
	return fmt.Sprintf("%s (%s, usage %.3f)", d.Action, d.Reason, d.Usage)
}

// StrategyAdjuster is a pure decision function of budget and tier.
type StrategyAdjuster struct {
	reduceThreshold     float64
	sufficientThreshold float64
}

// NewStrategyAdjuster builds an adjuster from validated configuration.
func NewStrategyAdjuster(cfg config.StrategyConfig) *StrategyAdjuster {
	return &StrategyAdjuster{
		reduceThreshold:     cfg.ReduceThreshold,
		sufficientThreshold: cfg.SufficientThreshold,
	}
}

// EvaluateStrategy reduces quality once usage reaches the reduce threshold.
// From the fast floor the target stays fast.
func (s *StrategyAdjuster) EvaluateStrategy(b blackboard.Budget, tier blackboard.QualityTier) Decision {
	usage := b.Usage()
	if usage >= s.reduceThreshold {
		target := LowerTier(tier)
		return Decision{Action: ActionReduceQuality, TargetTier: &target, Reason: ReasonHighUsage, Usage: usage}
	}
	reason := ReasonNormal
	if usage < s.sufficientThreshold {
		reason = ReasonSufficient
	}
	return Decision{Action: ActionContinue, Reason: reason, Usage: usage}
}

// ApplyStrategy mutates spec's quality tier for a REDUCE_QUALITY decision
// that names a target. It reports whether the tier changed.
func (s *StrategyAdjuster) ApplyStrategy(d Decision, spec *blackboard.GlobalSpec) bool {
	if d.Action != ActionReduceQuality || d.TargetTier == nil || spec == nil {
		return false
	}
	if spec.QualityTier == *d.TargetTier {
		return false
	}
	spec.QualityTier = *d.TargetTier
	return true
}

// LowerTier returns the next tier down: high -> balanced -> fast -> fast.
// Unknown tiers map to fast.
func LowerTier(t blackboard.QualityTier) blackboard.QualityTier {
	switch t {
	case blackboard.QualityHigh:
		return blackboard.QualityBalanced
	default:
		return blackboard.QualityFast
	}
}
