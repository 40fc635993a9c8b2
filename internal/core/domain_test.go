package core

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDateOf(t *testing.T) {
	shanghai, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	instant := time.Date(2025, 3, 31, 18, 30, 0, 0, time.UTC)
	if got := DateOf(instant, time.UTC); got != NewDate(2025, 3, 31) {
		t.Fatalf("UTC date = %s", got)
	}
	if got := DateOf(instant, shanghai); got != NewDate(2025, 4, 1) {
		t.Fatalf("Shanghai date = %s", got)
	}
}

func TestDateMonthBounds(t *testing.T) {
	cases := []struct {
		d          Date
		start, end Date
	}{
		{NewDate(2025, 2, 14), NewDate(2025, 2, 1), NewDate(2025, 2, 28)},
		{NewDate(2024, 2, 14), NewDate(2024, 2, 1), NewDate(2024, 2, 29)},
		{NewDate(2025, 12, 31), NewDate(2025, 12, 1), NewDate(2025, 12, 31)},
		{NewDate(2025, 4, 1), NewDate(2025, 4, 1), NewDate(2025, 4, 30)},
	}
	for i, tc := range cases {
		if got := tc.d.MonthStart(); got != tc.start {
			t.Fatalf("case %d start = %s, want %s", i, got, tc.start)
		}
		if got := tc.d.MonthEnd(); got != tc.end {
			t.Fatalf("case %d end = %s, want %s", i, got, tc.end)
		}
	}
}

func TestDateJSON(t *testing.T) {
	d := NewDate(2025, 1, 9)
	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"2025-01-09"` {
		t.Fatalf("unexpected json %s", data)
	}
	var back Date
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != d {
		t.Fatalf("round trip = %s", back)
	}
	if err := json.Unmarshal([]byte(`"09/01/2025"`), &back); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestParseClockTime(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"21:30", true},
		{"0:05", true},
		{"23:59", true},
		{"24:00", false},
		{"12:60", false},
		{"1230", false},
		{"ab:cd", false},
	}
	for _, tc := range cases {
		_, err := ParseClockTime(tc.in)
		if tc.ok && err != nil {
			t.Fatalf("%q expected ok, got %v", tc.in, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%q expected error", tc.in)
		}
	}
	if got := MustClockTime("7:05").String(); got != "07:05" {
		t.Fatalf("String() = %q", got)
	}
}

func TestScheduleConfigValidate(t *testing.T) {
	good := DefaultScheduleConfig()
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	bads := []ScheduleConfig{
		{DailyTime: ClockTime{Hour: 25}, MonthlyDay: 1},
		{MonthlyDay: 0},
		{MonthlyDay: 32},
		{MonthlyDay: 1, MonthlyTime: ClockTime{Minute: -1}},
	}
	for i, c := range bads {
		if err := c.Validate(); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("case %d expected ErrInvalidArgument, got %v", i, err)
		}
	}
}

func TestWhitelistIsAllowed(t *testing.T) {
	wl := Whitelist{Enabled: true, AdminBypass: true, SenderIDs: []string{"alice"}}
	cases := []struct {
		name    string
		wl      Whitelist
		sender  string
		isAdmin bool
		want    bool
	}{
		{"disabled allows anyone", Whitelist{}, "mallory", false, true},
		{"listed sender", wl, "alice", false, true},
		{"unlisted sender", wl, "bob", false, false},
		{"admin bypass", wl, "bob", true, true},
		{"admin without bypass", Whitelist{Enabled: true, SenderIDs: []string{"alice"}}, "bob", true, false},
		{"empty sender", wl, " ", false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.wl.IsAllowed(tc.sender, tc.isAdmin); got != tc.want {
				t.Errorf("IsAllowed(%q, %v) = %v, want %v", tc.sender, tc.isAdmin, got, tc.want)
			}
		})
	}
}

func TestExpenseInputNormalize(t *testing.T) {
	in := ExpenseInput{
		Session:  " s1 ",
		SenderID: "u1",
		Item:     "  iced   latte ",
		Amount:   decimal.RequireFromString("4.505"),
		Note:     " oat milk ",
	}
	out, err := in.Normalize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Item != "iced latte" || out.Session != "s1" || out.Note != "oat milk" {
		t.Fatalf("unexpected normalization: %+v", out)
	}
	if FormatAmount(out.Amount) != "4.51" {
		t.Fatalf("amount = %s", out.Amount)
	}

	bads := []ExpenseInput{
		{Session: "s1", Item: "", Amount: decimal.NewFromInt(1)},
		{Session: "s1", Item: "tea", Amount: decimal.Zero},
		{Session: "s1", Item: "tea", Amount: decimal.NewFromInt(-2)},
		{Session: "  ", Item: "tea", Amount: decimal.NewFromInt(2)},
	}
	for i, b := range bads {
		if _, err := b.Normalize(); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("case %d expected ErrInvalidArgument, got %v", i, err)
		}
	}
	if _, err := bads[3].Normalize(); !errors.Is(err, ErrEmptySession) {
		t.Fatalf("blank session: expected ErrEmptySession, got %v", err)
	}
}

func TestParseScope(t *testing.T) {
	if s, err := ParseScope(" Month "); err != nil || s != ScopeMonth {
		t.Fatalf("ParseScope = %q, %v", s, err)
	}
	if _, err := ParseScope("week"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	start, end := ScopeMonth.Range(NewDate(2025, 6, 12))
	if start != NewDate(2025, 6, 1) || end != NewDate(2025, 6, 30) {
		t.Fatalf("month range = %s..%s", start, end)
	}
}
