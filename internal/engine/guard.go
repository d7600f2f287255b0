package engine

// ThresholdDisabled turns the deletion guard off.
const ThresholdDisabled = -1

// guardTripped reports whether the plan's total deletions exceed the
// threshold. A tripped guard discards the entire plan for the pair — creates
// and updates included — so a mass deletion on one side (wiped folder,
// emptied calendar) can never be mirrored without an explicit override.
//
// Deletions neutralised by skip-deletions never reach this check; they were
// converted to no-ops by [BuildPlan].
func guardTripped(p *Plan, threshold int) bool {
	if threshold < 0 {
		return false
	}
	return p.Deletions() > threshold
}
