// Package services provides business logic and orchestration services.
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"bookkeeper/internal/core"
	"bookkeeper/internal/delivery"
	"bookkeeper/internal/ledger"
	"bookkeeper/internal/log"
	"bookkeeper/internal/report"
	"bookkeeper/internal/schedule"
)

// Caller is the already-resolved identity behind a request.
type Caller struct {
	Session    string
	SenderID   string
	SenderName string
	IsAdmin    bool
}

// ExpenseFact is one expense as extracted from a message.
type ExpenseFact struct {
	Item      string
	Amount    decimal.Decimal
	Note      string
	MessageID string
}

// AddStatus is the outcome kind of AddExpense.
type AddStatus string

const (
	StatusAccepted  AddStatus = "accepted"
	StatusDuplicate AddStatus = "duplicate"
	// StatusSkipped means automatic extraction is switched off.
	StatusSkipped AddStatus = "skipped"
)

// AddOutcome is returned by AddExpense.
type AddOutcome struct {
	Status  AddStatus
	Record  core.ExpenseRecord
	Message string
}

// RecordMirror copies accepted records to a secondary sink.
type RecordMirror interface {
	Append(ctx context.Context, rec core.ExpenseRecord) error
}

// Scheduler is the part of the schedule engine the service drives.
type Scheduler interface {
	Reschedule(cfg core.ScheduleConfig)
	States() []schedule.State
}

// Config holds presentation and delivery settings.
type Config struct {
	Currency            string
	MaxReportItems      int
	DeliveryTimeout     time.Duration
	DeliveryConcurrency int
	MirrorTimeout       time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Currency:            report.DefaultCurrency,
		MaxReportItems:      report.DefaultMaxItems,
		DeliveryTimeout:     10 * time.Second,
		DeliveryConcurrency: 4,
		MirrorTimeout:       30 * time.Second,
	}
}

// Bookkeeper is the application layer over the ledger: permission checks,
// report rendering, admin settings and the scheduled report job.
type Bookkeeper struct {
	store     *ledger.Store
	formatter report.Formatter
	deliverer delivery.Deliverer
	mirror    RecordMirror
	scheduler Scheduler
	cfg       Config
	logger    *log.Logger
	now       func() time.Time

	mirrors sync.WaitGroup
}

// Option customizes a Bookkeeper.
type Option func(*Bookkeeper)

// WithMirror sets the record mirror.
func WithMirror(m RecordMirror) Option {
	return func(b *Bookkeeper) { b.mirror = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Bookkeeper) { b.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(b *Bookkeeper) { b.logger = l.WithComponent(log.ComponentService) }
}

// NewBookkeeper wires the service. deliverer may be nil when reports are
// only rendered on demand.
func NewBookkeeper(store *ledger.Store, deliverer delivery.Deliverer, cfg Config, opts ...Option) *Bookkeeper {
	def := DefaultConfig()
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = def.DeliveryTimeout
	}
	if cfg.DeliveryConcurrency <= 0 {
		cfg.DeliveryConcurrency = def.DeliveryConcurrency
	}
	if cfg.MirrorTimeout <= 0 {
		cfg.MirrorTimeout = def.MirrorTimeout
	}
	b := &Bookkeeper{
		store:     store,
		formatter: report.NewFormatter(cfg.Currency, cfg.MaxReportItems),
		deliverer: deliverer,
		cfg:       cfg,
		logger:    log.Discard(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetScheduler attaches the engine after construction; the engine itself
// needs the service's RunReport as its job.
func (b *Bookkeeper) SetScheduler(s Scheduler) {
	b.scheduler = s
	if s != nil {
		s.Reschedule(b.store.Schedule())
	}
}

// AddExpense stores a fact for caller. auto marks facts extracted without an
// explicit command; those are skipped while auto-extract is off.
func (b *Bookkeeper) AddExpense(ctx context.Context, caller Caller, fact ExpenseFact, auto bool) (AddOutcome, error) {
	if auto && !b.store.AutoExtract() {
		return AddOutcome{Status: StatusSkipped, Message: "Automatic bookkeeping is off."}, nil
	}
	if !b.store.Whitelist().IsAllowed(caller.SenderID, caller.IsAdmin) {
		return AddOutcome{}, fmt.Errorf("%w: sender %q is not whitelisted", core.ErrForbidden, caller.SenderID)
	}

	res, err := b.store.AddExpense(ctx, core.ExpenseInput{
		Session:         caller.Session,
		SenderID:        caller.SenderID,
		SenderName:      caller.SenderName,
		Item:            fact.Item,
		Amount:          fact.Amount,
		Note:            fact.Note,
		SourceMessageID: fact.MessageID,
	}, b.now())
	if !res.Stored {
		if err != nil {
			return AddOutcome{}, err
		}
		return AddOutcome{
			Status:  StatusDuplicate,
			Record:  res.Record,
			Message: "Already recorded: " + res.Record.Item + " " + core.FormatAmount(res.Record.Amount),
		}, nil
	}

	b.mirrorAsync(ctx, res.Record)
	out := AddOutcome{
		Status:  StatusAccepted,
		Record:  res.Record,
		Message: "Saved: " + res.Record.Item + " " + core.FormatAmount(res.Record.Amount),
	}
	return out, err
}

func (b *Bookkeeper) mirrorAsync(ctx context.Context, rec core.ExpenseRecord) {
	if b.mirror == nil {
		return
	}
	b.mirrors.Add(1)
	go func() {
		defer b.mirrors.Done()
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.cfg.MirrorTimeout)
		defer cancel()
		if err := b.mirror.Append(mctx, rec); err != nil {
			b.logger.ErrorContext(mctx, "Failed to mirror record",
				log.FieldRecordID, rec.ID,
				log.FieldOperation, log.OpAppend,
				log.FieldError, err)
		}
	}()
}

// Wait blocks until pending mirror writes finish.
func (b *Bookkeeper) Wait() {
	b.mirrors.Wait()
}

// Today renders today's records of the caller's session.
func (b *Bookkeeper) Today(caller Caller) string {
	now := b.now()
	day := b.store.Today(now)
	return b.formatter.Report("Today's expenses", day, day, b.store.QueryToday(caller.Session, now))
}

// Month renders this month's records of the caller's session.
func (b *Bookkeeper) Month(caller Caller) string {
	now := b.now()
	start, end := core.ScopeMonth.Range(b.store.Today(now))
	return b.formatter.Report("This month's expenses", start, end, b.store.QueryMonth(caller.Session, now))
}

// Summary renders this month's per-item totals of the caller's session.
func (b *Bookkeeper) Summary(caller Caller) (string, error) {
	start, end := core.ScopeMonth.Range(b.store.Today(b.now()))
	cats, err := b.store.SummaryByCategory(caller.Session, start, end)
	if err != nil {
		return "", err
	}
	return b.formatter.Summary("Monthly summary by item", start, end, cats), nil
}

// Range renders the caller's records in [start, end].
func (b *Bookkeeper) Range(caller Caller, start, end core.Date) (string, error) {
	records, err := b.store.QueryRange(caller.Session, start, end)
	if err != nil {
		return "", err
	}
	return b.formatter.Report("Expenses", start, end, records), nil
}

// Delete removes the ordinal-th record of the caller's scoped listing.
func (b *Bookkeeper) Delete(ctx context.Context, caller Caller, scope core.Scope, ordinal int) (core.ExpenseRecord, error) {
	if !b.store.Whitelist().IsAllowed(caller.SenderID, caller.IsAdmin) {
		return core.ExpenseRecord{}, fmt.Errorf("%w: sender %q is not whitelisted", core.ErrForbidden, caller.SenderID)
	}
	return b.store.DeleteByOrdinal(ctx, caller.Session, scope, ordinal, b.now())
}
