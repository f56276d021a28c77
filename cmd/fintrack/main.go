package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"fintrack/internal/cli"
	"fintrack/internal/format"
	"fintrack/internal/log"
)

const usage = `usage: fintrack <command> [flags]

commands:
  summary                     print the financial summary
  goals                       list goal progress
  allocate                    allocate part of a transaction to a goal
  recurring run               generate due recurring instances
  recurring pause|resume      change a template's status
  recurring delete            delete a template
  export                      write the monthly trend to Google Sheets
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cli.LoadEnvFile()

	bootstrap := cli.SetupLogger(nil, log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(bootstrap)
	logger := cli.SetupLogger(cfg, log.ComponentApp)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	store, cleanup := cli.InitStore(ctx, logger, cfg)
	publisher, _ := cli.InitPublisher(logger, cfg)

	a := &app{
		cfg:       cfg,
		store:     store,
		publisher: publisher,
		formatter: format.New(cfg.Locale, cfg.Currency),
		logger:    logger,
		out:       os.Stdout,
		now:       time.Now,
	}

	err := a.run(ctx, os.Args[1], os.Args[2:])

	if cerr := publisher.Close(); cerr != nil {
		logger.Warn("Failed to close publisher", log.FieldError, cerr)
	}
	if cerr := cleanup(); cerr != nil {
		logger.Warn("Failed to close store", log.FieldError, cerr)
	}

	var uerr usageError
	switch {
	case err == nil:
	case errors.As(err, &uerr):
		fmt.Fprintf(os.Stderr, "%v\n\n%s", err, usage)
		os.Exit(2)
	default:
		logger.Error("Command failed", "command", os.Args[1], log.FieldError, err)
		os.Exit(1)
	}
}

// usageError marks errors caused by bad arguments rather than failed work.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(msg string, args ...any) error {
	return usageError{msg: fmt.Sprintf(msg, args...)}
}
