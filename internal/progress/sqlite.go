package progress

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

	"velo/internal/campaign"
	logx "velo/pkg/logx"
)

//go:embed schema.sql
var schemaFS embed.FS

const defaultSQLitePath = "velo.db"

// sqliteStore keeps one checkpoint row plus an append-only failures table.
// A save writes both in one transaction.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = defaultSQLitePath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = FULL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := schemaFS.ReadFile("schema.sql")
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

func (s *sqliteStore) Load(ctx context.Context) (*campaign.Checkpoint, error) {
	var (
		cp               campaign.Checkpoint
		status           string
		started, updated string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT source, identity_hash, identity_count, run_id, total, cursor, success_count, failed_count, status, started_at, updated_at
		 FROM checkpoint WHERE id = 1`,
	).Scan(&cp.Identity.Source, &cp.Identity.Hash, &cp.Identity.Count, &cp.RunID, &cp.Total, &cp.Cursor,
		&cp.SuccessCount, &cp.FailedCount, &status, &started, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cp.Status = campaign.Status(status)
	if cp.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if cp.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT recipient_id, display_name, reason, COALESCE(detail, ''), source_row, at
		 FROM failures WHERE run_id = ? ORDER BY seq`, cp.RunID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cp.FailedLog = []campaign.FailureRecord{}
	for rows.Next() {
		var (
			f      campaign.FailureRecord
			reason string
			at     string
		)
		if err := rows.Scan(&f.RecipientID, &f.DisplayName, &reason, &f.Detail, &f.SourceRow, &at); err != nil {
			return nil, err
		}
		f.Reason = campaign.FailureReason(reason)
		if f.At, err = parseTime(at); err != nil {
			return nil, err
		}
		cp.FailedLog = append(cp.FailedLog, f)
	}
	return &cp, rows.Err()
}

func (s *sqliteStore) Save(ctx context.Context, cp campaign.Checkpoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO checkpoint(id, source, identity_hash, identity_count, run_id, total, cursor, success_count, failed_count, status, started_at, updated_at)
		 VALUES(1,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   source=excluded.source, identity_hash=excluded.identity_hash, identity_count=excluded.identity_count,
		   run_id=excluded.run_id, total=excluded.total, cursor=excluded.cursor,
		   success_count=excluded.success_count, failed_count=excluded.failed_count,
		   status=excluded.status, started_at=excluded.started_at, updated_at=excluded.updated_at`,
		cp.Identity.Source, cp.Identity.Hash, cp.Identity.Count, cp.RunID, cp.Total, cp.Cursor,
		cp.SuccessCount, cp.FailedCount, string(cp.Status), formatTime(cp.StartedAt), formatTime(cp.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM failures WHERE run_id <> ?`, cp.RunID); err != nil {
		return fmt.Errorf("prune failures: %w", err)
	}

	var have int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM failures WHERE run_id = ?`, cp.RunID).Scan(&have); err != nil {
		return err
	}
	for i := have; i < len(cp.FailedLog); i++ {
		f := cp.FailedLog[i]
		_, err := tx.ExecContext(ctx,
			`INSERT INTO failures(run_id, seq, recipient_id, display_name, reason, detail, source_row, at)
			 VALUES(?,?,?,?,?,?,?,?)`,
			cp.RunID, i, f.RecipientID, f.DisplayName, string(f.Reason), nullStr(f.Detail), f.SourceRow, formatTime(f.At),
		)
		if err != nil {
			return fmt.Errorf("append failure %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM failures`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoint`); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.log.Debug("progress rows cleared")
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrCorrupt, s)
	}
	return t, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
