package core

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const (
	Income  Kind = "income"
	Expense Kind = "expense"
)

const (
	StatusActive RecurringStatus = "active"
	StatusPaused RecurringStatus = "paused"
)

const dateLayout = "2006-01-02"

type (
	Kind string

	// RecurringStatus is only meaningful on recurring templates.
	RecurringStatus string

	// Date is a calendar day stored as UTC midnight.
	Date struct {
		time.Time
	}

	Transaction struct {
		ID                  string          `json:"id"`
		OwnerID             string          `json:"owner_id" validate:"required"`
		Amount              decimal.Decimal `json:"amount"`
		Kind                Kind            `json:"kind" validate:"oneof=income expense"`
		Category            string          `json:"category" validate:"required,max=100"`
		Description         string          `json:"description,omitempty" validate:"max=500"`
		Date                Date            `json:"date"`
		IsRecurringTemplate bool            `json:"is_recurring_template"`
		RecurringParentID   string          `json:"recurring_parent_id,omitempty"`
		Status              RecurringStatus `json:"status,omitempty" validate:"omitempty,oneof=active paused"`
		CreatedAt           time.Time       `json:"created_at"`
		UpdatedAt           time.Time       `json:"updated_at"`
	}

	Goal struct {
		ID           string          `json:"id"`
		OwnerID      string          `json:"owner_id" validate:"required"`
		Name         string          `json:"name" validate:"required,max=200"`
		TargetAmount decimal.Decimal `json:"target_amount"`
		Deadline     *Date           `json:"deadline,omitempty"`
		CreatedAt    time.Time       `json:"created_at"`
		UpdatedAt    time.Time       `json:"updated_at"`
	}

	// Allocation earmarks part of one transaction's amount toward one goal.
	Allocation struct {
		ID            string          `json:"id"`
		GoalID        string          `json:"goal_id" validate:"required"`
		TransactionID string          `json:"transaction_id" validate:"required"`
		Amount        decimal.Decimal `json:"amount"`
		CreatedAt     time.Time       `json:"created_at"`
	}
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// validateStruct runs tag validation and converts the first failure into a
// ValidationError.
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return NewValidationError(fe.Field(), describeTag(fe))
	}
	return NewValidationError("", err.Error())
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, NewValidationError("date", fmt.Sprintf("malformed date %q", s))
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return NewValidationError("date", "date cannot be zero")
	}
	return nil
}

// Day returns the day of the month
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

// YearMonth returns the "YYYY-MM" key used for monthly grouping.
func (d Date) YearMonth() string {
	return d.Time.Format("2006-01")
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Time.Format(dateLayout)
}

// Before reports whether d is strictly before o, ignoring time of day.
func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }

// After reports whether d is strictly after o.
func (d Date) After(o Date) bool { return d.Time.After(o.Time) }

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalJSON overrides the promoted time.Time encoding.
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" {
		s = ""
	}
	return d.UnmarshalText([]byte(s))
}

func (k Kind) IsValid() bool {
	return k == Income || k == Expense
}

// IsTemplate reports whether t is a recurring template (a pattern, not an event).
func (t Transaction) IsTemplate() bool {
	return t.IsRecurringTemplate && t.RecurringParentID == ""
}

func (t Transaction) Validate() error {
	if err := validateStruct(t); err != nil {
		return err
	}
	if !t.Amount.IsPositive() {
		return NewValidationError("amount", "must be greater than zero")
	}
	if strings.TrimSpace(t.Category) == "" {
		return NewValidationError("category", "is required")
	}
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if t.RecurringParentID != "" && t.IsRecurringTemplate {
		return NewValidationError("recurring_parent_id", "a generated instance cannot itself be a template")
	}
	return nil
}

func (g Goal) Validate() error {
	if err := validateStruct(g); err != nil {
		return err
	}
	if strings.TrimSpace(g.Name) == "" {
		return NewValidationError("name", "is required")
	}
	if !g.TargetAmount.IsPositive() {
		return NewValidationError("target_amount", "must be greater than zero")
	}
	return nil
}

func (a Allocation) Validate() error {
	if err := validateStruct(a); err != nil {
		return err
	}
	if !a.Amount.IsPositive() {
		return NewValidationError("amount", "must be greater than zero")
	}
	return nil
}
