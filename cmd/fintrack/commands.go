package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"fintrack/internal/aggregate"
	"fintrack/internal/amqp"
	"fintrack/internal/config"
	"fintrack/internal/core"
	"fintrack/internal/format"
	"fintrack/internal/goals"
	"fintrack/internal/log"
	"fintrack/internal/recurring"
	"fintrack/internal/sheets"
	"fintrack/internal/sheets/google"
	sheetsmem "fintrack/internal/sheets/memory"
	"fintrack/internal/storage"
	"fintrack/internal/summary"
)

type app struct {
	cfg       *config.Config
	store     storage.Store
	publisher amqp.Publisher
	formatter *format.Formatter
	logger    *log.Logger
	out       io.Writer
	now       func() time.Time

	// newTrendWriter builds the Sheets client for export. Nil uses Google.
	newTrendWriter func(ctx context.Context) (sheets.TrendWriter, error)
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	ctx = log.NewContext(ctx, a.logger)
	switch command {
	case "summary":
		return a.runSummary(ctx, args)
	case "goals":
		return a.runGoals(ctx, args)
	case "allocate":
		return a.runAllocate(ctx, args)
	case "recurring":
		return a.runRecurring(ctx, args)
	case "export":
		return a.runExport(ctx, args)
	default:
		return usagef("unknown command %q", command)
	}
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return usagef("%s: %v", fs.Name(), err)
	}
	return nil
}

func (a *app) runSummary(ctx context.Context, args []string) error {
	fs := newFlagSet("summary")
	owner := fs.String("owner", a.cfg.OwnerID, "owner id")
	asJSON := fs.Bool("json", false, "print JSON instead of a table")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	registry := summary.NewRegistry(a.store, a.cfg.SummaryCacheSize, a.cfg.SummaryCacheTTL,
		summary.WithClock(a.now))
	sum, err := registry.For(*owner).GetSummary(ctx)
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	}
	return a.printSummary(sum)
}

func (a *app) printSummary(sum aggregate.FinancialSummary) error {
	f := a.formatter
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Income\t%s\n", f.Currency(sum.TotalIncome))
	fmt.Fprintf(w, "Expenses\t%s\n", f.Currency(sum.TotalExpenses))
	fmt.Fprintf(w, "Net\t%s\t(%s)\n", f.Currency(sum.NetStatus), sum.Theme)
	fmt.Fprintf(w, "Spending\t%s\t%s vs previous month\n",
		sum.MonthOverMonth.Direction, f.Percent(sum.MonthOverMonth.PercentageChange))

	if len(sum.Categories) > 0 {
		fmt.Fprintln(w, "\nCategory\tAmount\tShare\tCount")
		for _, c := range sum.Categories {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", c.Category, f.Currency(c.Amount), f.Percent(c.Percentage), c.Count)
		}
	}
	if len(sum.Trend) > 0 {
		fmt.Fprintln(w, "\nMonth\tIncome\tExpenses\tNet")
		for _, p := range sum.Trend {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.Month(p.Month),
				f.Currency(p.Income), f.Currency(p.Expenses), f.Currency(p.NetStatus))
		}
	}
	return w.Flush()
}

func (a *app) ledger() *goals.Ledger {
	return goals.NewLedger(a.store, goals.WithNotifier(a.publisher), goals.WithClock(a.now))
}

func (a *app) runGoals(ctx context.Context, args []string) error {
	fs := newFlagSet("goals")
	owner := fs.String("owner", a.cfg.OwnerID, "owner id")
	filter := fs.String("filter", string(goals.FilterAll), "all, active or completed")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	progress, err := a.ledger().ListProgress(ctx, *owner, goals.Filter(*filter))
	if err != nil {
		return err
	}

	f := a.formatter
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Goal\tSaved\tTarget\tProgress\tRemaining\tDeadline\tStatus")
	for _, p := range progress {
		deadline := "-"
		if p.Goal.Deadline != nil {
			deadline = f.Date(*p.Goal.Deadline)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			p.Goal.Name,
			f.Currency(p.CurrentAmount),
			f.Currency(p.Goal.TargetAmount),
			f.Percent(p.ProgressPercentage),
			f.Currency(p.RemainingAmount),
			deadline,
			p.Status)
	}
	return w.Flush()
}

func (a *app) runAllocate(ctx context.Context, args []string) error {
	fs := newFlagSet("allocate")
	owner := fs.String("owner", a.cfg.OwnerID, "owner id")
	goalID := fs.String("goal", "", "goal id")
	txID := fs.String("tx", "", "transaction id")
	amount := fs.String("amount", "", "amount, written in the configured locale")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *goalID == "" || *txID == "" || *amount == "" {
		return usagef("allocate: -goal, -tx and -amount are required")
	}

	amt, err := a.formatter.ParseAmount(*amount)
	if err != nil {
		return err
	}
	alloc, err := a.ledger().Allocate(ctx, *owner, *goalID, *txID, amt)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "allocated %s to goal %s (allocation %s)\n",
		a.formatter.Currency(alloc.Amount), alloc.GoalID, alloc.ID)
	return nil
}

func (a *app) runRecurring(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usagef("recurring: missing subcommand")
	}
	sub, args := args[0], args[1:]
	switch sub {
	case "run", "pause", "resume", "delete":
	default:
		return usagef("recurring: unknown subcommand %q", sub)
	}

	fs := newFlagSet("recurring " + sub)
	owner := fs.String("owner", a.cfg.OwnerID, "owner id")
	id := fs.String("id", "", "template id")
	templateDay := fs.Bool("template-day", false, "date instances on the template's day of month")
	policy := fs.String("policy", string(storage.DeleteUnlink), "cascade or unlink")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	opts := []recurring.Option{recurring.WithNotifier(a.publisher), recurring.WithClock(a.now)}
	if *templateDay {
		opts = append(opts, recurring.WithTemplateDay())
	}
	scheduler := recurring.NewScheduler(a.store, opts...)

	if sub != "run" && *id == "" {
		return usagef("recurring %s: -id is required", sub)
	}

	switch sub {
	case "run":
		res, err := scheduler.RunDue(ctx, *owner, a.now())
		if err != nil {
			return err
		}
		for _, f := range res.Failures {
			a.logger.Warn("Recurring template failed", log.FieldTemplateID, f.TemplateID, log.FieldError, f.Err)
		}
		fmt.Fprintf(a.out, "%s: generated %d, skipped %d, paused %d, failed %d\n",
			res.Period, res.Generated, res.Skipped, res.Paused, len(res.Failures))
		return res.Err()
	case "pause":
		return scheduler.Pause(ctx, *owner, *id)
	case "resume":
		return scheduler.Resume(ctx, *owner, *id)
	case "delete":
		n, err := scheduler.DeleteTemplate(ctx, *owner, *id, storage.DeletePolicy(*policy))
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "deleted template %s, %d instances %s\n", *id, n, verbFor(storage.DeletePolicy(*policy)))
		return nil
	}
	return nil
}

func verbFor(p storage.DeletePolicy) string {
	if p == storage.DeleteCascade {
		return "deleted"
	}
	return "unlinked"
}

func (a *app) runExport(ctx context.Context, args []string) error {
	fs := newFlagSet("export")
	owner := fs.String("owner", a.cfg.OwnerID, "owner id")
	from := fs.String("from", "", "first day, YYYY-MM-DD")
	to := fs.String("to", "", "last day, YYYY-MM-DD")
	dryRun := fs.Bool("dry-run", false, "print the rows instead of writing them")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	var fromDate, toDate core.Date
	var err error
	if *from != "" {
		if fromDate, err = core.ParseDate(*from); err != nil {
			return usagef("export: -from: %v", err)
		}
	}
	if *to != "" {
		if toDate, err = core.ParseDate(*to); err != nil {
			return usagef("export: -to: %v", err)
		}
	}

	if *dryRun {
		recorder := sheetsmem.New()
		if _, err := sheets.NewExporter(a.store, recorder).ExportTrend(ctx, *owner, fromDate, toDate); err != nil {
			return err
		}
		w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
		for _, row := range recorder.Rows(*owner) {
			for i, cell := range row {
				if i > 0 {
					fmt.Fprint(w, "\t")
				}
				fmt.Fprint(w, cell)
			}
			fmt.Fprintln(w)
		}
		return w.Flush()
	}

	if err := a.cfg.ValidateExport(); err != nil {
		return err
	}
	newWriter := a.newTrendWriter
	if newWriter == nil {
		newWriter = a.googleWriter
	}
	writer, err := newWriter(ctx)
	if err != nil {
		return err
	}
	rng, err := sheets.NewExporter(a.store, writer).ExportTrend(ctx, *owner, fromDate, toDate)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "wrote %s\n", rng)
	return nil
}

func (a *app) googleWriter(ctx context.Context) (sheets.TrendWriter, error) {
	if a.cfg.GoogleCredentialsFile != "" {
		return google.NewWithCredentialsFile(ctx, a.cfg.GoogleSpreadsheetID, a.cfg.GoogleTrendSheetName, a.cfg.GoogleCredentialsFile)
	}
	return google.New(ctx, a.cfg.GoogleSpreadsheetID, a.cfg.GoogleTrendSheetName)
}
