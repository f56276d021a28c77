package goals

import (
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
)

const (
	StatusInProgress Status = "In Progress"
	StatusCompleted  Status = "Completed"
	StatusOverdue    Status = "Overdue"
)

// Status is derived for display and never stored.
type Status string

// Progress is a goal's derived state computed from its allocations.
type Progress struct {
	Goal               core.Goal       `json:"goal"`
	CurrentAmount      decimal.Decimal `json:"current_amount"`
	ProgressPercentage float64         `json:"progress_percentage"`
	RemainingAmount    decimal.Decimal `json:"remaining_amount"`
	Status             Status          `json:"status"`
}

var hundred = decimal.NewFromInt(100)

// ComputeGoalProgress sums the allocations that reference goal and derives
// percentage and remaining amount. Allocations for other goals are ignored.
// The raw current amount may exceed the target; the percentage is clamped to
// [0, 100] and the remaining amount to >= 0.
func ComputeGoalProgress(goal core.Goal, allocations []core.Allocation) Progress {
	current := decimal.Zero
	for _, a := range allocations {
		if a.GoalID == goal.ID {
			current = current.Add(a.Amount)
		}
	}

	pct := 0.0
	if goal.TargetAmount.IsPositive() {
		pct = current.Mul(hundred).Div(goal.TargetAmount).InexactFloat64()
		pct = min(max(pct, 0), 100)
	}

	remaining := goal.TargetAmount.Sub(current)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}

	return Progress{
		Goal:               goal,
		CurrentAmount:      current,
		ProgressPercentage: pct,
		RemainingAmount:    remaining,
	}
}

// GoalStatus derives the display status. A goal whose deadline is today is
// not yet overdue.
func GoalStatus(goal core.Goal, current decimal.Decimal, now time.Time) Status {
	if current.GreaterThanOrEqual(goal.TargetAmount) {
		return StatusCompleted
	}
	if goal.Deadline != nil && !goal.Deadline.IsZero() && goal.Deadline.Before(core.DateOf(now)) {
		return StatusOverdue
	}
	return StatusInProgress
}

// WithStatus fills in Status for the given instant.
func (p Progress) WithStatus(now time.Time) Progress {
	p.Status = GoalStatus(p.Goal, p.CurrentAmount, now)
	return p
}
