// Package ledger owns the ordered expense records of every session together
// with the whitelist and schedule settings persisted beside them.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bookkeeper/internal/core"
	"bookkeeper/internal/log"
	"bookkeeper/internal/tz"
)

// AllSessions as a session argument selects records of every session.
const AllSessions = ""

// DefaultMaxRecords bounds the store when Options.MaxRecords is unset.
const DefaultMaxRecords = 5000

// Options configures a Store.
type Options struct {
	MaxRecords  int
	DedupWindow int
	// Persister may be nil for a purely in-memory store.
	Persister Persister
	Logger    *log.Logger
	Resolver  *tz.Resolver
	// Defaults seeds the whitelist, schedule and auto-extract flag when
	// no persisted state exists.
	Defaults core.State
}

// AddResult is the outcome of AddExpense. When Stored is false, Reason
// says why.
type AddResult struct {
	Stored bool
	Record core.ExpenseRecord
	Reason core.SkipReason
}

// Store is safe for concurrent use. Mutations hold the write lock for their
// whole read-modify-write; queries hold the read lock and copy results out.
type Store struct {
	mu         sync.RWMutex
	state      core.State
	gen        uint64
	maxRecords int
	gate       Gate
	defaults   core.State

	flushMu   sync.Mutex
	savedGen  uint64
	persister Persister

	resolver *tz.Resolver
	logger   *log.Logger
	newID    func() string
}

// NewStore creates an empty store. Call Load to restore persisted state.
func NewStore(opts Options) *Store {
	if opts.MaxRecords <= 0 {
		opts.MaxRecords = DefaultMaxRecords
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = DefaultDedupWindow
	}
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	if opts.Resolver == nil {
		opts.Resolver = tz.NewResolver()
	}
	defaults := opts.Defaults.Clone()
	defaults.Records = nil

	return &Store{
		state:      defaults.Clone(),
		maxRecords: opts.MaxRecords,
		gate:       Gate{Window: opts.DedupWindow},
		defaults:   defaults,
		persister:  opts.Persister,
		resolver:   opts.Resolver,
		logger:     opts.Logger.WithComponent(log.ComponentStore),
		newID:      func() string { return uuid.NewString() },
	}
}

// Load replaces the in-memory state with the persisted document, or with the
// configured defaults when nothing was persisted yet.
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	st, err := s.persister.Load(ctx)
	switch {
	case errors.Is(err, core.ErrNoState):
		s.logger.InfoContext(ctx, "No persisted state, starting from defaults")
		st = s.defaults.Clone()
	case err != nil:
		return fmt.Errorf("%w: load state: %w", core.ErrPersistence, err)
	}
	st.Whitelist.SenderIDs = core.CleanSenderIDs(st.Whitelist.SenderIDs)

	s.mu.Lock()
	s.state = st
	s.gen++
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "State loaded",
		log.FieldRecords, len(st.Records),
		log.FieldTimezone, st.Schedule.Timezone)
	return nil
}

// AddExpense validates and stores one expense dated by now in the active
// timezone. A duplicate is reported through AddResult, not as an error.
// A persistence failure is returned wrapping core.ErrPersistence while the
// record stays stored in memory.
func (s *Store) AddExpense(ctx context.Context, in core.ExpenseInput, now time.Time) (AddResult, error) {
	in, err := in.Normalize()
	if err != nil {
		return AddResult{}, err
	}

	var res AddResult
	err = s.mutate(ctx, func(st *core.State) error {
		loc := s.locationFor(ctx, st.Schedule.Timezone)
		rec := core.ExpenseRecord{
			Session:         in.Session,
			SenderID:        in.SenderID,
			SenderName:      in.SenderName,
			Item:            in.Item,
			Amount:          in.Amount,
			Note:            in.Note,
			Date:            core.DateOf(now, loc),
			Timestamp:       now,
			SourceMessageID: in.SourceMessageID,
		}
		if s.gate.IsDuplicate(rec, st.Records) {
			res = AddResult{Reason: core.SkipDuplicate, Record: rec}
			return errUnchanged
		}
		rec.ID = s.newID()
		st.Records = append(st.Records, rec)
		if over := len(st.Records) - s.maxRecords; over > 0 {
			st.Records = slices.Delete(st.Records, 0, over)
			s.logger.DebugContext(ctx, "Trimmed oldest records", "evicted", over)
		}
		res = AddResult{Stored: true, Record: rec}
		return nil
	})
	if errors.Is(err, errUnchanged) {
		s.logger.InfoContext(ctx, "Duplicate expense skipped",
			log.NewFields().WithExpense(in.Session, in.SenderID, in.Item, core.FormatAmount(in.Amount)).ToSlice()...)
		return res, nil
	}
	return res, err
}

// DeleteByOrdinal removes the ordinal-th record (1-based) of the scoped
// query for session and returns it. Ordinals come from the live data, so a
// concurrent change between listing and deleting can shift them.
func (s *Store) DeleteByOrdinal(ctx context.Context, session string, scope core.Scope, ordinal int, now time.Time) (core.ExpenseRecord, error) {
	if !scope.Valid() {
		return core.ExpenseRecord{}, fmt.Errorf("%w: unknown scope %q", core.ErrInvalidArgument, scope)
	}

	var (
		deleted core.ExpenseRecord
		found   bool
	)
	err := s.mutate(ctx, func(st *core.State) error {
		start, end := scope.Range(core.DateOf(now, s.locationFor(ctx, st.Schedule.Timezone)))
		if ordinal < 1 {
			return fmt.Errorf("%w: no record #%d in %s", core.ErrNotFound, ordinal, scope)
		}
		n := 0
		for i, r := range st.Records {
			if !matches(r, session, start, end) {
				continue
			}
			n++
			if n == ordinal {
				deleted, found = r, true
				st.Records = slices.Delete(st.Records, i, i+1)
				return nil
			}
		}
		return fmt.Errorf("%w: no record #%d in %s (have %d)", core.ErrNotFound, ordinal, scope, n)
	})
	if !found {
		return core.ExpenseRecord{}, err
	}
	s.logger.InfoContext(ctx, "Expense deleted",
		log.FieldSession, session,
		log.FieldScope, string(scope),
		log.FieldOrdinal, ordinal,
		log.FieldRecordID, deleted.ID)
	return deleted, err
}

// QueryRange returns the session's records dated within [start, end] in
// insertion order.
func (s *Store) QueryRange(session string, start, end core.Date) ([]core.ExpenseRecord, error) {
	if start.Compare(end) > 0 {
		return nil, fmt.Errorf("%w: start %s after end %s", core.ErrInvalidArgument, start, end)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filter(s.state.Records, session, start, end), nil
}

// QueryToday returns the records dated today in the active timezone.
func (s *Store) QueryToday(session string, now time.Time) []core.ExpenseRecord {
	return s.queryScope(session, core.ScopeToday, now)
}

// QueryMonth returns the records dated in the current calendar month.
func (s *Store) QueryMonth(session string, now time.Time) []core.ExpenseRecord {
	return s.queryScope(session, core.ScopeMonth, now)
}

func (s *Store) queryScope(session string, scope core.Scope, now time.Time) []core.ExpenseRecord {
	start, end := scope.Range(s.Today(now))
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filter(s.state.Records, session, start, end)
}

// SummaryByCategory totals the records in [start, end] per item, largest
// total first; equal totals keep first-seen order.
func (s *Store) SummaryByCategory(session string, start, end core.Date) ([]core.CategoryTotal, error) {
	records, err := s.QueryRange(session, start, end)
	if err != nil {
		return nil, err
	}
	return Summarize(records), nil
}

// Summarize groups records by item.
func Summarize(records []core.ExpenseRecord) []core.CategoryTotal {
	index := make(map[string]int)
	var out []core.CategoryTotal
	for _, r := range records {
		i, ok := index[r.Item]
		if !ok {
			i = len(out)
			index[r.Item] = i
			out = append(out, core.CategoryTotal{Label: r.Item, Total: decimal.Zero})
		}
		out[i].Count++
		out[i].Total = out[i].Total.Add(r.Amount)
	}
	slices.SortStableFunc(out, func(a, b core.CategoryTotal) int {
		return b.Total.Cmp(a.Total)
	})
	return out
}

// Total sums the amounts of records.
func Total(records []core.ExpenseRecord) decimal.Decimal {
	total := decimal.Zero
	for _, r := range records {
		total = total.Add(r.Amount)
	}
	return total
}

// GroupBySession splits records per session, preserving insertion order
// within each group. Sessions are returned in first-seen order.
func GroupBySession(records []core.ExpenseRecord) ([]string, map[string][]core.ExpenseRecord) {
	groups := make(map[string][]core.ExpenseRecord)
	var sessions []string
	for _, r := range records {
		if _, ok := groups[r.Session]; !ok {
			sessions = append(sessions, r.Session)
		}
		groups[r.Session] = append(groups[r.Session], r)
	}
	return sessions, groups
}

// Today is the current date in the active timezone.
func (s *Store) Today(now time.Time) core.Date {
	return core.DateOf(now, s.Location())
}

// Location resolves the configured schedule timezone. Unknown names fall
// back to the host zone with a warning.
func (s *Store) Location() *time.Location {
	s.mu.RLock()
	name := s.state.Schedule.Timezone
	s.mu.RUnlock()
	return s.locationFor(context.Background(), name)
}

func (s *Store) locationFor(ctx context.Context, name string) *time.Location {
	loc, err := s.resolver.ResolveOrLocal(name)
	if err != nil {
		s.logger.WarnContext(ctx, "Falling back to system timezone",
			log.FieldTimezone, name, log.FieldError, err)
	}
	return loc
}

// Len is the number of stored records across all sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.Records)
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() core.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Whitelist returns a copy of the whitelist.
func (s *Store) Whitelist() core.Whitelist {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wl := s.state.Whitelist
	wl.SenderIDs = slices.Clone(wl.SenderIDs)
	return wl
}

// SetWhitelistEnabled turns whitelist enforcement on or off.
func (s *Store) SetWhitelistEnabled(ctx context.Context, enabled bool) error {
	return ignoreUnchanged(s.mutate(ctx, func(st *core.State) error {
		if st.Whitelist.Enabled == enabled {
			return errUnchanged
		}
		st.Whitelist.Enabled = enabled
		return nil
	}))
}

// SetWhitelistAdminBypass sets whether admins skip the whitelist.
func (s *Store) SetWhitelistAdminBypass(ctx context.Context, bypass bool) error {
	return ignoreUnchanged(s.mutate(ctx, func(st *core.State) error {
		if st.Whitelist.AdminBypass == bypass {
			return errUnchanged
		}
		st.Whitelist.AdminBypass = bypass
		return nil
	}))
}

// AddToWhitelist adds senderID and reports whether it was new.
func (s *Store) AddToWhitelist(ctx context.Context, senderID string) (bool, error) {
	ids := core.CleanSenderIDs([]string{senderID})
	if len(ids) == 0 {
		return false, fmt.Errorf("%w: empty sender id", core.ErrInvalidArgument)
	}
	added := false
	err := s.mutate(ctx, func(st *core.State) error {
		if st.Whitelist.Contains(ids[0]) {
			return errUnchanged
		}
		st.Whitelist.SenderIDs = append(st.Whitelist.SenderIDs, ids[0])
		added = true
		return nil
	})
	return added, ignoreUnchanged(err)
}

// RemoveFromWhitelist removes senderID and reports whether it was present.
func (s *Store) RemoveFromWhitelist(ctx context.Context, senderID string) (bool, error) {
	ids := core.CleanSenderIDs([]string{senderID})
	if len(ids) == 0 {
		return false, fmt.Errorf("%w: empty sender id", core.ErrInvalidArgument)
	}
	removed := false
	err := s.mutate(ctx, func(st *core.State) error {
		i := slices.Index(st.Whitelist.SenderIDs, ids[0])
		if i < 0 {
			return errUnchanged
		}
		st.Whitelist.SenderIDs = slices.Delete(st.Whitelist.SenderIDs, i, i+1)
		removed = true
		return nil
	})
	return removed, ignoreUnchanged(err)
}

// Schedule returns the schedule configuration.
func (s *Store) Schedule() core.ScheduleConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Schedule
}

// SetSchedule validates and stores a schedule configuration.
func (s *Store) SetSchedule(ctx context.Context, cfg core.ScheduleConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if !core.IsSystemTimezone(cfg.Timezone) {
		if err := s.resolver.Validate(cfg.Timezone); err != nil {
			return err
		}
	}
	return ignoreUnchanged(s.mutate(ctx, func(st *core.State) error {
		if st.Schedule == cfg {
			return errUnchanged
		}
		st.Schedule = cfg
		return nil
	}))
}

// AutoExtract reports whether facts from the conversation source are
// accepted automatically.
func (s *Store) AutoExtract() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.AutoExtract
}

// SetAutoExtract toggles automatic acceptance.
func (s *Store) SetAutoExtract(ctx context.Context, enabled bool) error {
	return ignoreUnchanged(s.mutate(ctx, func(st *core.State) error {
		if st.AutoExtract == enabled {
			return errUnchanged
		}
		st.AutoExtract = enabled
		return nil
	}))
}

// errUnchanged aborts a mutation that would not change the state.
var errUnchanged = errors.New("unchanged")

func ignoreUnchanged(err error) error {
	if errors.Is(err, errUnchanged) {
		return nil
	}
	return err
}

// mutate applies fn under the write lock and flushes the result. fn must
// return an error only before touching st; nothing is flushed then.
func (s *Store) mutate(ctx context.Context, fn func(st *core.State) error) error {
	s.mu.Lock()
	if err := fn(&s.state); err != nil {
		s.mu.Unlock()
		return err
	}
	s.gen++
	gen := s.gen
	snap := s.state.Clone()
	s.mu.Unlock()

	return s.flush(ctx, snap, gen)
}

// flush saves snap unless a newer generation has already been saved.
func (s *Store) flush(ctx context.Context, snap core.State, gen uint64) error {
	if s.persister == nil {
		return nil
	}
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	if gen <= s.savedGen {
		return nil
	}
	if err := s.persister.Save(ctx, snap); err != nil {
		s.logger.ErrorContext(ctx, "Failed to persist state",
			log.FieldOperation, log.OpFlush,
			log.FieldRecords, len(snap.Records),
			log.FieldError, err)
		return fmt.Errorf("%w: %w", core.ErrPersistence, err)
	}
	s.savedGen = gen
	return nil
}

func matches(r core.ExpenseRecord, session string, start, end core.Date) bool {
	return (session == AllSessions || r.Session == session) && r.Date.Within(start, end)
}

func filter(records []core.ExpenseRecord, session string, start, end core.Date) []core.ExpenseRecord {
	var out []core.ExpenseRecord
	for _, r := range records {
		if matches(r, session, start, end) {
			out = append(out, r)
		}
	}
	return out
}
