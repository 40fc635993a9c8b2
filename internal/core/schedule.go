package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// SystemTimezone is the sentinel accepted in place of an IANA name.
const SystemTimezone = "system"

// ClockTime is a wall-clock time of day with minute precision.
type ClockTime struct {
	Hour   int
	Minute int
}

// ScheduleConfig holds the daily and monthly report triggers.
// Timezone is an IANA name; "" or "system" means the host timezone.
type ScheduleConfig struct {
	DailyEnabled   bool      `json:"daily_enabled"`
	DailyTime      ClockTime `json:"daily_time"`
	MonthlyEnabled bool      `json:"monthly_enabled"`
	MonthlyDay     int       `json:"monthly_day"`
	MonthlyTime    ClockTime `json:"monthly_time"`
	Timezone       string    `json:"timezone"`
}

var ErrInvalidClockTime = errors.New("invalid time, expected HH:MM")

// ParseClockTime parses HH:MM in 24h format.
func ParseClockTime(s string) (ClockTime, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return ClockTime{}, ErrInvalidClockTime
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return ClockTime{}, ErrInvalidClockTime
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return ClockTime{}, ErrInvalidClockTime
	}
	ct := ClockTime{Hour: hour, Minute: minute}
	if err := ct.Validate(); err != nil {
		return ClockTime{}, err
	}
	return ct, nil
}

// MustClockTime is ParseClockTime for constants.
func MustClockTime(s string) ClockTime {
	ct, err := ParseClockTime(s)
	if err != nil {
		panic(err)
	}
	return ct
}

func (c ClockTime) Validate() error {
	if c.Hour < 0 || c.Hour > 23 || c.Minute < 0 || c.Minute > 59 {
		return ErrInvalidClockTime
	}
	return nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ClockTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseClockTime(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// DefaultScheduleConfig mirrors the bot defaults: both reports off at 21:30,
// monthly on day 1, host timezone.
func DefaultScheduleConfig() ScheduleConfig {
	return ScheduleConfig{
		DailyTime:   ClockTime{Hour: 21, Minute: 30},
		MonthlyDay:  1,
		MonthlyTime: ClockTime{Hour: 21, Minute: 30},
	}
}

// IsSystemTimezone reports whether name selects the host timezone.
func IsSystemTimezone(name string) bool {
	name = strings.TrimSpace(name)
	return name == "" || strings.EqualFold(name, SystemTimezone)
}

// Validate checks field ranges. Timezone names are checked by the resolver.
func (c ScheduleConfig) Validate() error {
	if err := c.DailyTime.Validate(); err != nil {
		return fmt.Errorf("%w: daily time: %v", ErrInvalidArgument, err)
	}
	if err := c.MonthlyTime.Validate(); err != nil {
		return fmt.Errorf("%w: monthly time: %v", ErrInvalidArgument, err)
	}
	if c.MonthlyDay < 1 || c.MonthlyDay > 31 {
		return fmt.Errorf("%w: monthly day %d must be between 1 and 31", ErrInvalidArgument, c.MonthlyDay)
	}
	return nil
}
