package recurring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/storage"
)

// Store is the subset of storage the scheduler needs.
type Store interface {
	storage.TransactionStore
	storage.RecurringStore
}

// Notifier publishes change events. Publish failures are logged only.
type Notifier interface {
	PublishChange(ctx context.Context, ev core.ChangeEvent) error
}

// Failure records one template that could not be processed.
type Failure struct {
	TemplateID string
	Err        error
}

// Result summarizes a GenerateAllDue run.
type Result struct {
	Period    Period
	Generated int
	Instances []core.Transaction
	// Skipped counts templates that already had an instance for the period
	// or that start after it.
	Skipped  int
	Paused   int
	Failures []Failure
}

// Err joins every per-template failure, or returns nil.
func (r Result) Err() error {
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, fmt.Errorf("template %s: %w", f.TemplateID, f.Err))
	}
	return errors.Join(errs...)
}

type Scheduler struct {
	store       Store
	notifier    Notifier
	now         func() time.Time
	newID       func() string
	templateDay bool

	// runMu serializes batch runs within the process. The stores reject a
	// second instance per template and month, which covers other processes.
	runMu sync.Mutex
}

type Option func(*Scheduler)

func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(s *Scheduler) { s.newID = gen }
}

// WithTemplateDay dates batch-generated instances on the template's own day
// of month instead of the run's target date.
func WithTemplateDay() Option {
	return func(s *Scheduler) { s.templateDay = true }
}

func NewScheduler(store Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		store: store,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ShouldGenerateForPeriod reports whether template has no instance dated
// within p yet.
func (s *Scheduler) ShouldGenerateForPeriod(ctx context.Context, template core.Transaction, p Period) (bool, error) {
	n, err := s.store.CountInstancesInPeriod(ctx, template.OwnerID, template.ID, p.Start, p.End)
	if err != nil {
		return false, core.Upstream("count instances", err)
	}
	return n == 0, nil
}

// GenerateInstance creates one instance of template dated targetDate. The
// instance never carries the legacy pause marker.
func (s *Scheduler) GenerateInstance(ctx context.Context, template core.Transaction, targetDate core.Date) (core.Transaction, error) {
	if !template.IsTemplate() {
		return core.Transaction{}, core.NewValidationError("is_recurring_template", "transaction is not a recurring template")
	}
	if err := targetDate.Validate(); err != nil {
		return core.Transaction{}, err
	}

	now := s.now().UTC()
	inst := core.Transaction{
		ID:                s.newID(),
		OwnerID:           template.OwnerID,
		Amount:            template.Amount,
		Kind:              template.Kind,
		Category:          template.Category,
		Description:       core.StripPauseMarker(template.Description),
		Date:              targetDate,
		RecurringParentID: template.ID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.CreateTransaction(ctx, inst); err != nil {
		return core.Transaction{}, core.Upstream("create instance", err)
	}

	logger(ctx).InfoContext(ctx, "Created instance from recurring template",
		log.FieldOperation, log.OpGenerate,
		log.FieldOwnerID, inst.OwnerID,
		log.FieldTemplateID, template.ID,
		"instance_id", inst.ID,
		"date", targetDate.String(),
		"amount", inst.Amount.String())
	s.publish(ctx, core.EntityTransaction, core.OpInsert, inst.OwnerID, inst.ID)
	return inst, nil
}

// GenerateAllDue creates the missing instance of every active template for
// the period containing targetDate. A failing template is recorded in the
// result and never stops the others.
func (s *Scheduler) GenerateAllDue(ctx context.Context, templates []core.Transaction, targetDate core.Date) Result {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	started := time.Now()
	p := PeriodOf(targetDate)
	res := Result{Period: p, Instances: make([]core.Transaction, 0)}

	for _, tmpl := range templates {
		if err := ctx.Err(); err != nil {
			res.Failures = append(res.Failures, Failure{TemplateID: tmpl.ID, Err: err})
			continue
		}
		if !tmpl.IsTemplate() {
			continue
		}
		if !IsActive(tmpl) {
			res.Paused++
			continue
		}
		if tmpl.Date.After(p.End) {
			res.Skipped++
			continue
		}

		due, err := s.ShouldGenerateForPeriod(ctx, tmpl, p)
		if err != nil {
			logger(ctx).ErrorContext(ctx, "Failed to check recurring template",
				log.FieldTemplateID, tmpl.ID,
				log.FieldPeriod, p.String(),
				log.FieldError, err)
			res.Failures = append(res.Failures, Failure{TemplateID: tmpl.ID, Err: err})
			continue
		}
		if !due {
			res.Skipped++
			continue
		}

		date := targetDate
		if s.templateDay {
			date = InstanceDate(tmpl, p)
		}
		// In the template's first month the run may fall before the
		// template's own date; an instance never predates its template.
		if date.Before(tmpl.Date) {
			date = tmpl.Date
		}
		inst, err := s.GenerateInstance(ctx, tmpl, date)
		switch {
		case errors.Is(err, core.ErrConflict):
			// Another run created the instance between the check and the insert.
			res.Skipped++
		case err != nil:
			logger(ctx).ErrorContext(ctx, "Failed to create instance from recurring template",
				log.FieldTemplateID, tmpl.ID,
				log.FieldPeriod, p.String(),
				log.FieldError, err)
			res.Failures = append(res.Failures, Failure{TemplateID: tmpl.ID, Err: err})
		default:
			res.Generated++
			res.Instances = append(res.Instances, inst)
		}
	}

	logger(ctx).InfoContext(ctx, "Recurring generation complete",
		log.FieldOperation, log.OpGenerate,
		log.FieldPeriod, p.String(),
		"templates", len(templates),
		"generated", res.Generated,
		"skipped", res.Skipped,
		"paused", res.Paused,
		"failed", len(res.Failures),
		log.FieldDuration, time.Since(started).Milliseconds())
	return res
}

// RunDue loads the templates of ownerID (every owner when empty) and
// generates what is due for the month containing now.
func (s *Scheduler) RunDue(ctx context.Context, ownerID string, now time.Time) (Result, error) {
	templates, err := s.store.ListTemplates(ctx, ownerID)
	if err != nil {
		return Result{}, core.Upstream("list templates", err)
	}
	return s.GenerateAllDue(ctx, templates, core.DateOf(now)), nil
}

// Pause stops a template from generating without deleting it.
func (s *Scheduler) Pause(ctx context.Context, ownerID, templateID string) error {
	if err := s.store.SetTemplateStatus(ctx, ownerID, templateID, core.StatusPaused); err != nil {
		return core.Upstream("pause template", err)
	}
	logger(ctx).InfoContext(ctx, "Recurring template paused", log.FieldOwnerID, ownerID, log.FieldTemplateID, templateID)
	s.publish(ctx, core.EntityTransaction, core.OpUpdate, ownerID, templateID)
	return nil
}

// Resume reactivates a template. A legacy pause marker in the description
// is removed so the template does not stay paused through it.
func (s *Scheduler) Resume(ctx context.Context, ownerID, templateID string) error {
	tmpl, err := s.store.GetTransaction(ctx, ownerID, templateID)
	if err != nil {
		return core.Upstream("get template", err)
	}
	if !tmpl.IsTemplate() {
		return core.NewNotFoundError(core.EntityTransaction, templateID)
	}

	if core.HasLegacyPauseMarker(tmpl.Description) {
		tmpl.Description = core.StripPauseMarker(tmpl.Description)
		tmpl.Status = core.StatusActive
		tmpl.UpdatedAt = s.now().UTC()
		if err := s.store.UpdateTransaction(ctx, tmpl); err != nil {
			return core.Upstream("resume template", err)
		}
	} else if err := s.store.SetTemplateStatus(ctx, ownerID, templateID, core.StatusActive); err != nil {
		return core.Upstream("resume template", err)
	}

	logger(ctx).InfoContext(ctx, "Recurring template resumed", log.FieldOwnerID, ownerID, log.FieldTemplateID, templateID)
	s.publish(ctx, core.EntityTransaction, core.OpUpdate, ownerID, templateID)
	return nil
}

// DeleteTemplate removes a template. policy decides whether its instances
// are deleted too or kept as unlinked history.
func (s *Scheduler) DeleteTemplate(ctx context.Context, ownerID, templateID string, policy storage.DeletePolicy) (int, error) {
	if !policy.IsValid() {
		return 0, core.NewValidationError("policy", "must be cascade or unlink")
	}
	n, err := s.store.DeleteTemplate(ctx, ownerID, templateID, policy)
	if err != nil {
		return 0, core.Upstream("delete template", err)
	}
	logger(ctx).InfoContext(ctx, "Recurring template deleted",
		log.FieldOwnerID, ownerID,
		log.FieldTemplateID, templateID,
		"policy", string(policy),
		"instances_affected", n)
	s.publish(ctx, core.EntityTransaction, core.OpDelete, ownerID, templateID)
	return n, nil
}

func (s *Scheduler) publish(ctx context.Context, entity, op, ownerID, id string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.PublishChange(ctx, core.NewChangeEvent(entity, op, ownerID, id)); err != nil {
		logger(ctx).WarnContext(ctx, "Failed to publish recurring change",
			"id", id,
			"op", op,
			log.FieldError, err)
	}
}

func logger(ctx context.Context) *log.Logger {
	return log.FromContext(ctx).WithComponent(log.ComponentScheduler)
}
