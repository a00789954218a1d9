package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "alarmd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path, err := requirePath(cfg)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) PutRegistration(ctx context.Context, r Registration) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO registrations(slot, mode, fire_at, interval_ms, payload, token, created_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(slot) DO UPDATE SET
		   mode=excluded.mode, fire_at=excluded.fire_at, interval_ms=excluded.interval_ms,
		   payload=excluded.payload, token=excluded.token, created_at=excluded.created_at`,
		r.Slot, r.Mode, r.FireAt.Format(time.RFC3339Nano), r.Interval.Milliseconds(),
		r.Payload, r.Token, r.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) GetRegistration(ctx context.Context, slot int) (Registration, bool, error) {
	if s == nil || s.db == nil {
		return Registration{}, false, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT slot, mode, fire_at, interval_ms, payload, token, created_at FROM registrations WHERE slot = ?`, slot)
	r, err := scanRegistration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Registration{}, false, nil
	}
	if err != nil {
		return Registration{}, false, err
	}
	return r, true, nil
}

func (s *sqliteStore) DeleteRegistration(ctx context.Context, slot int) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM registrations WHERE slot = ?`, slot)
	return err
}

func (s *sqliteStore) ListRegistrations(ctx context.Context) ([]Registration, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT slot, mode, fire_at, interval_ms, payload, token, created_at FROM registrations ORDER BY slot`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Registration
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	var fireAt any
	if !e.FireAt.IsZero() {
		fireAt = e.FireAt.Format(time.RFC3339Nano)
	}
	ok := 0
	if e.OK {
		ok = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, source, actor_id, action, kind, slot, fire_at, ok, err, meta)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), nullStr(e.Source), e.ActorID, e.Action, nullStr(e.Kind),
		e.Slot, fireAt, ok, nullStr(e.Error), nullStr(e.MetaJSON),
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRegistration(row rowScanner) (Registration, error) {
	var (
		r          Registration
		fireAt     string
		createdAt  string
		intervalMS int64
	)
	if err := row.Scan(&r.Slot, &r.Mode, &fireAt, &intervalMS, &r.Payload, &r.Token, &createdAt); err != nil {
		return Registration{}, err
	}
	var err error
	if r.FireAt, err = time.Parse(time.RFC3339Nano, fireAt); err != nil {
		return Registration{}, fmt.Errorf("slot %d fire_at: %w", r.Slot, err)
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Registration{}, fmt.Errorf("slot %d created_at: %w", r.Slot, err)
	}
	r.Interval = time.Duration(intervalMS) * time.Millisecond
	return r, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
