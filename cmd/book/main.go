// Command book prints ledger reports from the persisted state without
// starting the daemon.
//
//	book today|month|summary [session]
//	book range <start> <end> [session]
//
// Omitting the session reports across all sessions.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"bookkeeper/internal/cli"
	"bookkeeper/internal/config"
	"bookkeeper/internal/core"
	"bookkeeper/internal/ledger"
	"bookkeeper/internal/services"
	"bookkeeper/internal/storage"
)

const usage = `usage:
  book today|month|summary [session]
  book range <start> <end> [session]`

var errUsage = errors.New(usage)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))

	cfg := config.Load()
	if cfg.DataBackend == storage.BackendMemory {
		fmt.Fprintln(os.Stderr, "book: the memory backend has no persisted state")
		os.Exit(1)
	}
	defaults, err := cfg.DefaultState()
	if err != nil {
		fmt.Fprintln(os.Stderr, "book:", err)
		os.Exit(1)
	}

	backend := cli.OpenBackend(logger, cfg)
	defer backend.Close()

	store := ledger.NewStore(ledger.Options{
		MaxRecords:  cfg.MaxRecords,
		DedupWindow: cfg.DedupWindow,
		Persister:   backend,
		Defaults:    defaults,
	})
	if err := store.Load(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "book:", err)
		os.Exit(1)
	}
	svc := services.NewBookkeeper(store, nil, services.Config{
		Currency:       cfg.CurrencySymbol,
		MaxReportItems: cfg.MaxReportItems,
	})

	if err := run(svc, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		_ = backend.Close()
		os.Exit(2)
	}
}

// reporter is the read side of the service the command uses.
type reporter interface {
	Today(caller services.Caller) string
	Month(caller services.Caller) string
	Summary(caller services.Caller) (string, error)
	Range(caller services.Caller, start, end core.Date) (string, error)
}

func run(svc reporter, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]

	var (
		text string
		err  error
	)
	switch cmd {
	case "today", "month", "summary":
		if len(rest) > 1 {
			return errUsage
		}
		caller := callerFor(rest, 0)
		switch cmd {
		case "today":
			text = svc.Today(caller)
		case "month":
			text = svc.Month(caller)
		default:
			text, err = svc.Summary(caller)
		}
	case "range":
		if len(rest) < 2 || len(rest) > 3 {
			return errUsage
		}
		start, perr := core.ParseDate(rest[0])
		if perr != nil {
			return perr
		}
		end, perr := core.ParseDate(rest[1])
		if perr != nil {
			return perr
		}
		text, err = svc.Range(callerFor(rest, 2), start, end)
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, text)
	return err
}

// callerFor returns a caller for the optional session at args[i].
func callerFor(args []string, i int) services.Caller {
	if i < len(args) {
		return services.Caller{Session: args[i]}
	}
	return services.Caller{Session: ledger.AllSessions}
}
