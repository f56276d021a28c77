package recurring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"fintrack/internal/core"
)

func TestNextDueDate(t *testing.T) {
	tests := []struct {
		ref  time.Time
		want core.Date
	}{
		{time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), core.NewDate(2024, 4, 1)},
		{time.Date(2024, 1, 31, 23, 59, 0, 0, time.UTC), core.NewDate(2024, 2, 1)},
		{time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC), core.NewDate(2025, 1, 1)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NextDueDate(tt.ref), tt.ref.String())
	}
}

func TestPeriodOf(t *testing.T) {
	p := PeriodOf(core.NewDate(2024, 2, 14))
	assert.Equal(t, core.NewDate(2024, 2, 1), p.Start)
	assert.Equal(t, core.NewDate(2024, 2, 29), p.End)
	assert.Equal(t, "2024-02", p.String())

	assert.True(t, p.Contains(core.NewDate(2024, 2, 1)))
	assert.True(t, p.Contains(core.NewDate(2024, 2, 29)))
	assert.False(t, p.Contains(core.NewDate(2024, 3, 1)))
	assert.False(t, p.Contains(core.NewDate(2024, 1, 31)))

	assert.Equal(t, core.NewDate(2023, 2, 28), PeriodOf(core.NewDate(2023, 2, 3)).End)
}

func TestIsActive(t *testing.T) {
	tests := []struct {
		name   string
		status core.RecurringStatus
		desc   string
		want   bool
	}{
		{"active", core.StatusActive, "Rent", true},
		{"no status no description", "", "", true},
		{"paused status", core.StatusPaused, "Rent", false},
		{"legacy marker", core.StatusActive, "Rent [PAUSED]", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := core.Transaction{IsRecurringTemplate: true, Status: tt.status, Description: tt.desc}
			assert.Equal(t, tt.want, IsActive(tx))
		})
	}
}

func TestInstanceDate(t *testing.T) {
	tmpl := core.Transaction{Date: core.NewDate(2024, 1, 31)}
	assert.Equal(t, core.NewDate(2024, 4, 30), InstanceDate(tmpl, PeriodOf(core.NewDate(2024, 4, 1))))
	assert.Equal(t, core.NewDate(2024, 5, 31), InstanceDate(tmpl, PeriodOf(core.NewDate(2024, 5, 1))))

	tmpl.Date = core.NewDate(2024, 1, 15)
	assert.Equal(t, core.NewDate(2024, 2, 15), InstanceDate(tmpl, PeriodOf(core.NewDate(2024, 2, 20))))
}
