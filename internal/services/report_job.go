package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"bookkeeper/internal/core"
	"bookkeeper/internal/ledger"
	"bookkeeper/internal/log"
	"bookkeeper/internal/schedule"
)

var reportTitles = map[schedule.Kind]string{
	schedule.Daily:   "Daily expense report",
	schedule.Monthly: "Monthly expense report",
}

// RunReport is the schedule engine job: it renders one report per session
// with records in the fired period and delivers them concurrently. Sessions
// without records get nothing. Delivery failures are logged and joined into
// the returned error; one failure does not stop the others.
func (b *Bookkeeper) RunReport(ctx context.Context, fire schedule.Fire) error {
	if b.deliverer == nil {
		return fmt.Errorf("no deliverer configured")
	}
	records, err := b.store.QueryRange(ledger.AllSessions, fire.Start, fire.End)
	if err != nil {
		return err
	}
	sessions, bySession := ledger.GroupBySession(records)

	title := reportTitles[fire.Kind]
	if title == "" {
		title = "Expense report"
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.DeliveryConcurrency)
	for _, session := range sessions {
		if session == "" {
			// only state written before sessions were required can hold these
			b.logger.WarnContext(ctx, "Records without a session left out of report",
				log.FieldSchedule, string(fire.Kind),
				log.FieldRecords, len(bySession[session]))
			continue
		}
		text := b.formatter.Report(title, fire.Start, fire.End, bySession[session])
		g.Go(func() error {
			if err := b.deliver(gctx, session, text); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			// one session failing must not cancel the rest
			return nil
		})
	}
	_ = g.Wait()

	b.logger.InfoContext(ctx, "Report run finished",
		log.FieldSchedule, string(fire.Kind),
		log.FieldOperation, log.OpDeliver,
		"sessions", len(sessions),
		"failed", len(errs))
	return errors.Join(errs...)
}

func (b *Bookkeeper) deliver(ctx context.Context, session, text string) error {
	dctx, cancel := context.WithTimeout(ctx, b.cfg.DeliveryTimeout)
	defer cancel()
	if err := b.deliverer.Deliver(dctx, session, text); err != nil {
		b.logger.ErrorContext(ctx, "Report delivery failed",
			log.FieldSession, session,
			log.FieldOperation, log.OpDeliver,
			log.FieldError, err)
		return fmt.Errorf("deliver to %s: %w", session, err)
	}
	return nil
}

func isPersistence(err error) bool {
	return errors.Is(err, core.ErrPersistence)
}
