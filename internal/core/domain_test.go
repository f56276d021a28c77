package core

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateValidate(t *testing.T) {
	assert.NoError(t, NewDate(2025, 1, 1).Validate())
	assert.NoError(t, NewDate(2025, 12, 31).Validate())
	assert.Error(t, Date{Time: time.Time{}}.Validate())
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-03-15")
	require.NoError(t, err)
	assert.Equal(t, 2024, d.Year())
	assert.Equal(t, 3, d.Month())
	assert.Equal(t, 15, d.Day())
	assert.Equal(t, "2024-03", d.YearMonth())

	_, err = ParseDate("15/03/2024")
	require.Error(t, err)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "date", verr.Field)
}

func TestDateJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		D Date `json:"d"`
	}{NewDate(2024, 2, 29)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"d":"2024-02-29"}`, string(b))

	var out struct {
		D Date `json:"d"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"d":"2023-11-05"}`), &out))
	assert.Equal(t, NewDate(2023, 11, 5), out.D)
}

func validTransaction() Transaction {
	return Transaction{
		ID:       "tx-1",
		OwnerID:  "owner",
		Amount:   decimal.NewFromInt(100),
		Kind:     Expense,
		Category: "Food",
		Date:     NewDate(2025, 1, 1),
	}
}

func TestTransactionValidate(t *testing.T) {
	require.NoError(t, validTransaction().Validate())

	tests := []struct {
		name   string
		mutate func(*Transaction)
		field  string
	}{
		{"zero amount", func(tx *Transaction) { tx.Amount = decimal.Zero }, "amount"},
		{"negative amount", func(tx *Transaction) { tx.Amount = decimal.NewFromInt(-5) }, "amount"},
		{"bad kind", func(tx *Transaction) { tx.Kind = "transfer" }, "kind"},
		{"missing category", func(tx *Transaction) { tx.Category = "" }, "category"},
		{"blank category", func(tx *Transaction) { tx.Category = "   " }, "category"},
		{"missing owner", func(tx *Transaction) { tx.OwnerID = "" }, "owner_id"},
		{"zero date", func(tx *Transaction) { tx.Date = Date{} }, "date"},
		{"instance flagged as template", func(tx *Transaction) {
			tx.IsRecurringTemplate = true
			tx.RecurringParentID = "tpl"
		}, "recurring_parent_id"},
		{"bad status", func(tx *Transaction) { tx.Status = "sleeping" }, "status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := validTransaction()
			tt.mutate(&tx)
			err := tx.Validate()
			require.Error(t, err)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestGoalValidate(t *testing.T) {
	g := Goal{OwnerID: "o", Name: "Trip", TargetAmount: decimal.NewFromInt(1000)}
	require.NoError(t, g.Validate())

	g.TargetAmount = decimal.Zero
	assert.ErrorIs(t, g.Validate(), ErrValidation)

	g.TargetAmount = decimal.NewFromInt(1)
	g.Name = ""
	assert.ErrorIs(t, g.Validate(), ErrValidation)
}

func TestAllocationValidate(t *testing.T) {
	a := Allocation{GoalID: "g", TransactionID: "t", Amount: decimal.NewFromInt(5)}
	require.NoError(t, a.Validate())
	a.Amount = decimal.Zero
	assert.ErrorIs(t, a.Validate(), ErrValidation)
}

func TestIsTemplate(t *testing.T) {
	tx := validTransaction()
	assert.False(t, tx.IsTemplate())
	tx.IsRecurringTemplate = true
	assert.True(t, tx.IsTemplate())
}

func TestPauseMarker(t *testing.T) {
	assert.True(t, HasLegacyPauseMarker("Rent [PAUSED]"))
	assert.False(t, HasLegacyPauseMarker("Rent"))
	assert.Equal(t, "Rent", StripPauseMarker("Rent [PAUSED]"))
	assert.Equal(t, "Monthly rent", StripPauseMarker("Monthly [PAUSED] rent"))
	assert.Equal(t, "", StripPauseMarker("[PAUSED]"))
}

func TestErrorTaxonomy(t *testing.T) {
	assert.ErrorIs(t, NewNotFoundError("goal", "g1"), ErrNotFound)
	assert.ErrorIs(t, &ConflictError{Entity: "allocation"}, ErrConflict)

	base := errors.New("connection reset")
	up := Upstream("list transactions", base)
	assert.ErrorIs(t, up, ErrUpstream)
	assert.ErrorIs(t, up, base)

	nf := NewNotFoundError("goal", "g1")
	assert.Same(t, nf, Upstream("get goal", nf).(*NotFoundError))
	assert.NoError(t, Upstream("noop", nil))
}
