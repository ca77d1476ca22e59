package planner

import (
	"time"

	"github.com/scourhq/scour/internal/research"
)

// Budget floors enforced by ValidatePlan. Anything below these cannot
// complete even a single navigate→extract→verify step.
const (
	MinBudgetTime  = 10 * time.Second
	MinBudgetPages = 1
)

// Mode presets. The ordering fast < balanced < deep on MaxPages and MaxTime
// is a contract the planner tests pin down, not a tuning accident.
var budgetPresets = map[research.Mode]research.Budgets{
	research.ModeFast: {
		MaxTime:           2 * time.Minute,
		MaxPages:          15,
		MaxConcurrency:    2,
		MaxCostUnits:      30,
		MarginalGainFloor: 0.02,
	},
	research.ModeBalanced: {
		MaxTime:           5 * time.Minute,
		MaxPages:          40,
		MaxConcurrency:    4,
		MaxCostUnits:      100,
		MarginalGainFloor: 0.01,
	},
	research.ModeDeep: {
		MaxTime:           15 * time.Minute,
		MaxPages:          120,
		MaxConcurrency:    6,
		MaxCostUnits:      400,
		MarginalGainFloor: 0.005,
	},
}

// BudgetsFor resolves the preset for a mode and overlays the caller's
// explicit constraints. Unknown modes fall back to the balanced preset.
func BudgetsFor(mode research.Mode, c research.Constraints) research.Budgets {
	b, ok := budgetPresets[mode]
	if !ok {
		b = budgetPresets[research.ModeBalanced]
	}
	if c.MaxTime > 0 {
		b.MaxTime = c.MaxTime
	}
	if c.MaxPages > 0 {
		b.MaxPages = c.MaxPages
	}
	if c.MaxConcurrency > 0 {
		b.MaxConcurrency = c.MaxConcurrency
	}
	if c.MaxCostUnits > 0 {
		b.MaxCostUnits = c.MaxCostUnits
	}
	if b.MaxConcurrency < 1 {
		b.MaxConcurrency = 1
	}
	return b
}
