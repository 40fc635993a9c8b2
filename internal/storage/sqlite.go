package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"bookkeeper/internal/core"

	_ "modernc.org/sqlite"
)

const (
	settingInitialized = "initialized"
	settingWhitelistOn = "whitelist_enabled"
	settingBypass      = "whitelist_admin_bypass"
	settingSchedule    = "schedule"
	settingAutoExtract = "auto_extract"
)

// SQLitePersister keeps the ledger in a SQLite database. Every Save replaces
// all rows inside one transaction.
type SQLitePersister struct {
	db *sql.DB
}

// NewSQLitePersister opens (creating if needed) the database at dbPath and
// applies migrations.
func NewSQLitePersister(dbPath string) (*SQLitePersister, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLitePersister{db: db}, nil
}

// Close closes the database.
func (p *SQLitePersister) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// Load reads the whole state, or core.ErrNoState if it was never saved.
func (p *SQLitePersister) Load(ctx context.Context) (core.State, error) {
	settings, err := p.loadSettings(ctx)
	if err != nil {
		return core.State{}, err
	}
	if _, ok := settings[settingInitialized]; !ok {
		return core.State{}, core.ErrNoState
	}

	var st core.State
	st.Whitelist.Enabled = settings[settingWhitelistOn] == "true"
	st.Whitelist.AdminBypass = settings[settingBypass] == "true"
	st.AutoExtract = settings[settingAutoExtract] == "true"
	if raw := settings[settingSchedule]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &st.Schedule); err != nil {
			return core.State{}, fmt.Errorf("decode schedule: %w", err)
		}
	}

	if st.Whitelist.SenderIDs, err = p.loadWhitelist(ctx); err != nil {
		return core.State{}, err
	}
	if st.Records, err = p.loadRecords(ctx); err != nil {
		return core.State{}, err
	}
	return st, nil
}

func (p *SQLitePersister) loadSettings(ctx context.Context) (map[string]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (p *SQLitePersister) loadWhitelist(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT sender_id FROM whitelist ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query whitelist: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan whitelist: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *SQLitePersister) loadRecords(ctx context.Context) ([]core.ExpenseRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, session, sender_id, sender_name, item, amount, note, date, timestamp, source_message_id
		FROM expenses ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query expenses: %w", err)
	}
	defer rows.Close()

	var records []core.ExpenseRecord
	for rows.Next() {
		var (
			r               core.ExpenseRecord
			amount, day, ts string
		)
		if err := rows.Scan(&r.ID, &r.Session, &r.SenderID, &r.SenderName, &r.Item,
			&amount, &r.Note, &day, &ts, &r.SourceMessageID); err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		if r.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("expense %s amount: %w", r.ID, err)
		}
		if r.Date, err = core.ParseDate(day); err != nil {
			return nil, fmt.Errorf("expense %s date: %w", r.ID, err)
		}
		if r.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("expense %s timestamp: %w", r.ID, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Save replaces the stored state in a single transaction.
func (p *SQLitePersister) Save(ctx context.Context, st core.State) (err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	if err = replaceRecords(ctx, tx, st.Records); err != nil {
		return err
	}
	if err = replaceWhitelist(ctx, tx, st.Whitelist.SenderIDs); err != nil {
		return err
	}

	schedule, err := json.Marshal(st.Schedule)
	if err != nil {
		return fmt.Errorf("encode schedule: %w", err)
	}
	settings := map[string]string{
		settingInitialized: "1",
		settingWhitelistOn: strconv.FormatBool(st.Whitelist.Enabled),
		settingBypass:      strconv.FormatBool(st.Whitelist.AdminBypass),
		settingAutoExtract: strconv.FormatBool(st.AutoExtract),
		settingSchedule:    string(schedule),
	}
	for k, v := range settings {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO settings (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, v); err != nil {
			return fmt.Errorf("save setting %s: %w", k, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func replaceRecords(ctx context.Context, tx *sql.Tx, records []core.ExpenseRecord) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM expenses`); err != nil {
		return fmt.Errorf("clear expenses: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO expenses (id, session, sender_id, sender_name, item, amount, note, date, timestamp, source_message_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare expense insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.ID, r.Session, r.SenderID, r.SenderName, r.Item,
			r.Amount.String(), r.Note, r.Date.String(), r.Timestamp.Format(time.RFC3339Nano),
			r.SourceMessageID); err != nil {
			return fmt.Errorf("insert expense %s: %w", r.ID, err)
		}
	}
	return nil
}

func replaceWhitelist(ctx context.Context, tx *sql.Tx, ids []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM whitelist`); err != nil {
		return fmt.Errorf("clear whitelist: %w", err)
	}
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO whitelist (position, sender_id) VALUES (?, ?)`, i, id); err != nil {
			return fmt.Errorf("insert whitelist %s: %w", id, err)
		}
	}
	return nil
}
