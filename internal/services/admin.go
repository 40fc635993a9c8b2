package services

import (
	"context"
	"fmt"
	"strings"

	"bookkeeper/internal/core"
	"bookkeeper/internal/log"
)

func requireAdmin(caller Caller) error {
	if !caller.IsAdmin {
		return fmt.Errorf("%w: admin only", core.ErrForbidden)
	}
	return nil
}

// Schedule returns the active schedule configuration.
func (b *Bookkeeper) Schedule() core.ScheduleConfig {
	return b.store.Schedule()
}

// SetSchedule stores cfg and re-arms the engine.
func (b *Bookkeeper) SetSchedule(ctx context.Context, caller Caller, cfg core.ScheduleConfig) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}
	err := b.store.SetSchedule(ctx, cfg)
	if err != nil && !isPersistence(err) {
		return err
	}
	b.reschedule(ctx)
	return err
}

// SetTimezone changes only the schedule timezone. "system" or "" selects the
// host timezone.
func (b *Bookkeeper) SetTimezone(ctx context.Context, caller Caller, name string) error {
	cfg := b.store.Schedule()
	name = strings.TrimSpace(name)
	if core.IsSystemTimezone(name) {
		name = ""
	}
	cfg.Timezone = name
	return b.SetSchedule(ctx, caller, cfg)
}

// SetAutoExtract toggles automatic acceptance of extracted facts.
func (b *Bookkeeper) SetAutoExtract(ctx context.Context, caller Caller, enabled bool) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}
	return b.store.SetAutoExtract(ctx, enabled)
}

// Whitelist returns the whitelist. Admin only.
func (b *Bookkeeper) Whitelist(caller Caller) (core.Whitelist, error) {
	if err := requireAdmin(caller); err != nil {
		return core.Whitelist{}, err
	}
	return b.store.Whitelist(), nil
}

// SetWhitelist updates the enable and admin-bypass flags.
func (b *Bookkeeper) SetWhitelist(ctx context.Context, caller Caller, enabled, adminBypass bool) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}
	if err := b.store.SetWhitelistEnabled(ctx, enabled); err != nil {
		return err
	}
	return b.store.SetWhitelistAdminBypass(ctx, adminBypass)
}

// AddToWhitelist adds senderID and reports whether it was new.
func (b *Bookkeeper) AddToWhitelist(ctx context.Context, caller Caller, senderID string) (bool, error) {
	if err := requireAdmin(caller); err != nil {
		return false, err
	}
	return b.store.AddToWhitelist(ctx, senderID)
}

// RemoveFromWhitelist removes senderID and reports whether it was present.
func (b *Bookkeeper) RemoveFromWhitelist(ctx context.Context, caller Caller, senderID string) (bool, error) {
	if err := requireAdmin(caller); err != nil {
		return false, err
	}
	return b.store.RemoveFromWhitelist(ctx, senderID)
}

// Status renders the settings overview. Admin only.
func (b *Bookkeeper) Status(caller Caller) (string, error) {
	if err := requireAdmin(caller); err != nil {
		return "", err
	}
	st := b.store.Snapshot()
	sc := st.Schedule
	tzName := sc.Timezone
	if core.IsSystemTimezone(tzName) {
		tzName = "system (" + b.store.Location().String() + ")"
	}

	lines := []string{
		"Bookkeeper status:",
		"",
		"  Auto extract: " + onOff(st.AutoExtract),
		"  Whitelist: " + onOff(st.Whitelist.Enabled),
		fmt.Sprintf("  Whitelisted senders: %d", len(st.Whitelist.SenderIDs)),
		fmt.Sprintf("  Daily report: %s at %s", onOff(sc.DailyEnabled), sc.DailyTime),
		fmt.Sprintf("  Monthly report: %s on day %d at %s", onOff(sc.MonthlyEnabled), sc.MonthlyDay, sc.MonthlyTime),
		"  Timezone: " + tzName,
		fmt.Sprintf("  Records: %d", len(st.Records)),
	}
	if b.scheduler != nil {
		for _, s := range b.scheduler.States() {
			if s.Armed {
				lines = append(lines, fmt.Sprintf("  Next %s report: %s", s.Kind, s.NextFire.Format("2006-01-02 15:04 MST")))
			}
		}
	}
	return strings.Join(lines, "\n"), nil
}

func (b *Bookkeeper) reschedule(ctx context.Context) {
	if b.scheduler == nil {
		return
	}
	cfg := b.store.Schedule()
	b.logger.InfoContext(ctx, "Schedule updated",
		log.FieldTimezone, cfg.Timezone,
		"daily", cfg.DailyEnabled,
		"monthly", cfg.MonthlyEnabled)
	b.scheduler.Reschedule(cfg)
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
