package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"bookkeeper/internal/core"
	"bookkeeper/internal/delivery"
	"bookkeeper/internal/ledger"
	"bookkeeper/internal/schedule"
	"bookkeeper/internal/storage"
)

var (
	testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	admin   = Caller{Session: "group-1", SenderID: "root", SenderName: "Root", IsAdmin: true}
	member  = Caller{Session: "group-1", SenderID: "u1", SenderName: "Ann"}
)

type recordingMirror struct {
	mu      sync.Mutex
	records []core.ExpenseRecord
	err     error
}

func (m *recordingMirror) Append(_ context.Context, rec core.ExpenseRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return m.err
}

type fakeScheduler struct {
	configs []core.ScheduleConfig
}

func (f *fakeScheduler) Reschedule(cfg core.ScheduleConfig) { f.configs = append(f.configs, cfg) }

func (f *fakeScheduler) States() []schedule.State {
	return []schedule.State{{Kind: schedule.Daily, Armed: true, NextFire: testNow.Add(time.Hour)}}
}

func newTestService(t *testing.T, d delivery.Deliverer, opts ...Option) (*Bookkeeper, *storage.MemoryPersister) {
	t.Helper()
	p := storage.NewMemoryPersister()
	defaults := core.State{
		Schedule:    core.DefaultScheduleConfig(),
		AutoExtract: true,
		Whitelist:   core.Whitelist{AdminBypass: true},
	}
	defaults.Schedule.Timezone = "UTC"
	store := ledger.NewStore(ledger.Options{Persister: p, Defaults: defaults})
	require.NoError(t, store.Load(context.Background()))

	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewBookkeeper(store, d, Config{Currency: "$"}, opts...), p
}

func coffee(msgID string) ExpenseFact {
	return ExpenseFact{Item: "coffee", Amount: decimal.RequireFromString("3.5"), MessageID: msgID}
}

func TestAddExpense(t *testing.T) {
	ctx := context.Background()
	mirror := &recordingMirror{}
	svc, _ := newTestService(t, nil, WithMirror(mirror))

	out, err := svc.AddExpense(ctx, member, coffee("m1"), false)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, out.Status)
	assert.Equal(t, "Saved: coffee 3.50", out.Message)
	assert.Equal(t, "group-1", out.Record.Session)

	out, err = svc.AddExpense(ctx, member, coffee("m1"), false)
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, out.Status)

	svc.Wait()
	require.Len(t, mirror.records, 1)
	assert.Equal(t, "coffee", mirror.records[0].Item)
}

func TestAddExpenseInvalid(t *testing.T) {
	svc, _ := newTestService(t, nil)
	_, err := svc.AddExpense(context.Background(), member,
		ExpenseFact{Item: "coffee", Amount: decimal.Zero}, false)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestAddExpenseAutoExtractOff(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)
	require.NoError(t, svc.SetAutoExtract(ctx, admin, false))

	out, err := svc.AddExpense(ctx, member, coffee("m1"), true)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, out.Status)

	// explicit commands still work
	out, err = svc.AddExpense(ctx, member, coffee("m1"), false)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, out.Status)
}

func TestWhitelistEnforced(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)
	require.NoError(t, svc.SetWhitelist(ctx, admin, true, true))

	_, err := svc.AddExpense(ctx, member, coffee("m1"), false)
	assert.ErrorIs(t, err, core.ErrForbidden)
	_, err = svc.Delete(ctx, member, core.ScopeToday, 1)
	assert.ErrorIs(t, err, core.ErrForbidden)

	_, err = svc.AddExpense(ctx, admin, coffee("m2"), false)
	require.NoError(t, err, "admin bypass")

	added, err := svc.AddToWhitelist(ctx, admin, "u1")
	require.NoError(t, err)
	assert.True(t, added)
	_, err = svc.AddExpense(ctx, member, coffee("m3"), false)
	require.NoError(t, err)

	removed, err := svc.RemoveFromWhitelist(ctx, admin, "u1")
	require.NoError(t, err)
	assert.True(t, removed)
	_, err = svc.AddExpense(ctx, member, coffee("m4"), false)
	assert.ErrorIs(t, err, core.ErrForbidden)
}

func TestAdminOpsRequireAdmin(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	tests := []struct {
		name string
		call func() error
	}{
		{"schedule", func() error { return svc.SetSchedule(ctx, member, core.DefaultScheduleConfig()) }},
		{"timezone", func() error { return svc.SetTimezone(ctx, member, "UTC") }},
		{"auto extract", func() error { return svc.SetAutoExtract(ctx, member, false) }},
		{"whitelist flags", func() error { return svc.SetWhitelist(ctx, member, true, false) }},
		{"whitelist add", func() error { _, err := svc.AddToWhitelist(ctx, member, "x"); return err }},
		{"whitelist remove", func() error { _, err := svc.RemoveFromWhitelist(ctx, member, "x"); return err }},
		{"whitelist get", func() error { _, err := svc.Whitelist(member); return err }},
		{"status", func() error { _, err := svc.Status(member); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.call(), core.ErrForbidden)
		})
	}
}

func TestQueriesAreSessionScoped(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)
	other := member
	other.Session = "group-2"

	_, err := svc.AddExpense(ctx, member, coffee("m1"), false)
	require.NoError(t, err)
	_, err = svc.AddExpense(ctx, other, ExpenseFact{Item: "tea", Amount: decimal.NewFromInt(2)}, false)
	require.NoError(t, err)

	today := svc.Today(member)
	assert.Contains(t, today, "1. coffee - 3.50 (Ann)")
	assert.NotContains(t, today, "tea")
	assert.Contains(t, svc.Month(other), "tea")

	summary, err := svc.Summary(member)
	require.NoError(t, err)
	assert.Contains(t, summary, "coffee")

	_, err = svc.Range(member, core.NewDate(2025, 6, 20), core.NewDate(2025, 6, 1))
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestDeleteByOrdinal(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)
	_, err := svc.AddExpense(ctx, member, coffee("m1"), false)
	require.NoError(t, err)

	rec, err := svc.Delete(ctx, member, core.ScopeToday, 1)
	require.NoError(t, err)
	assert.Equal(t, "coffee", rec.Item)

	_, err = svc.Delete(ctx, member, core.ScopeToday, 1)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestPersistenceFailureStillAccepts(t *testing.T) {
	ctx := context.Background()
	svc, p := newTestService(t, nil)
	p.FailSaves(errors.New("disk full"))

	out, err := svc.AddExpense(ctx, member, coffee("m1"), false)
	assert.ErrorIs(t, err, core.ErrPersistence)
	assert.Equal(t, StatusAccepted, out.Status)
	assert.Contains(t, svc.Today(member), "coffee")
}

func TestSetScheduleReschedules(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)
	sched := &fakeScheduler{}
	svc.SetScheduler(sched)
	require.Len(t, sched.configs, 1, "attach arms with the persisted config")

	cfg := core.DefaultScheduleConfig()
	cfg.DailyEnabled = true
	cfg.Timezone = "UTC"
	require.NoError(t, svc.SetSchedule(ctx, admin, cfg))
	require.Len(t, sched.configs, 2)
	assert.True(t, sched.configs[1].DailyEnabled)

	require.NoError(t, svc.SetTimezone(ctx, admin, "Asia/Shanghai"))
	assert.Equal(t, "Asia/Shanghai", sched.configs[2].Timezone)

	err := svc.SetTimezone(ctx, admin, "Mars/Olympus")
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
	assert.Len(t, sched.configs, 3)

	require.NoError(t, svc.SetTimezone(ctx, admin, "system"))
	assert.Equal(t, "", svc.Schedule().Timezone)
}

func TestStatus(t *testing.T) {
	svc, _ := newTestService(t, nil)
	svc.SetScheduler(&fakeScheduler{})

	text, err := svc.Status(admin)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "Bookkeeper status:"))
	assert.Contains(t, text, "Auto extract: on")
	assert.Contains(t, text, "Daily report: off at 21:30")
	assert.Contains(t, text, "Monthly report: off on day 1 at 21:30")
	assert.Contains(t, text, "Timezone: UTC")
	assert.Contains(t, text, "Next daily report:")
}

func TestRunReportPerSession(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	d := delivery.NewMockDeliverer(ctrl)
	svc, _ := newTestService(t, d)

	other := member
	other.Session = "group-2"
	_, err := svc.AddExpense(ctx, member, coffee("m1"), false)
	require.NoError(t, err)
	_, err = svc.AddExpense(ctx, other, ExpenseFact{Item: "tea", Amount: decimal.NewFromInt(2)}, false)
	require.NoError(t, err)

	d.EXPECT().Deliver(gomock.Any(), "group-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, text string) error {
			assert.Contains(t, text, "Daily expense report")
			assert.Contains(t, text, "coffee")
			assert.NotContains(t, text, "tea")
			return nil
		})
	d.EXPECT().Deliver(gomock.Any(), "group-2", gomock.Any()).Return(nil)

	day := core.NewDate(2025, 6, 15)
	err = svc.RunReport(ctx, schedule.Fire{Kind: schedule.Daily, At: testNow, Start: day, End: day})
	require.NoError(t, err)
}

func TestRunReportSkipsEmptyPeriod(t *testing.T) {
	ctrl := gomock.NewController(t)
	d := delivery.NewMockDeliverer(ctrl)
	svc, _ := newTestService(t, d)

	_, err := svc.AddExpense(context.Background(), member, coffee("m1"), false)
	require.NoError(t, err)

	// no Deliver expectation: a period without records sends nothing
	day := core.NewDate(2025, 6, 14)
	require.NoError(t, svc.RunReport(context.Background(), schedule.Fire{Kind: schedule.Daily, Start: day, End: day}))
}

func TestRunReportFailureDoesNotStopOthers(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	d := delivery.NewMockDeliverer(ctrl)
	svc, _ := newTestService(t, d)

	other := member
	other.Session = "group-2"
	_, err := svc.AddExpense(ctx, member, coffee("m1"), false)
	require.NoError(t, err)
	_, err = svc.AddExpense(ctx, other, coffee("m2"), false)
	require.NoError(t, err)

	boom := errors.New("channel gone")
	d.EXPECT().Deliver(gomock.Any(), "group-1", gomock.Any()).Return(boom)
	d.EXPECT().Deliver(gomock.Any(), "group-2", gomock.Any()).Return(nil)

	start, end := core.ScopeMonth.Range(core.NewDate(2025, 6, 15))
	err = svc.RunReport(ctx, schedule.Fire{Kind: schedule.Monthly, Start: start, End: end})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "group-1")
}

func TestRunReportAppliesDeliveryTimeout(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	d := delivery.NewMockDeliverer(ctrl)
	svc, _ := newTestService(t, d)
	svc.cfg.DeliveryTimeout = 20 * time.Millisecond

	_, err := svc.AddExpense(ctx, member, coffee("m1"), false)
	require.NoError(t, err)

	d.EXPECT().Deliver(gomock.Any(), "group-1", gomock.Any()).
		DoAndReturn(func(ctx context.Context, _, _ string) error {
			<-ctx.Done()
			return ctx.Err()
		})

	day := core.NewDate(2025, 6, 15)
	err = svc.RunReport(ctx, schedule.Fire{Kind: schedule.Daily, Start: day, End: day})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
