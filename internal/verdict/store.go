// Package verdict persists stage results so that a production layer can be
// promoted only when a test stage verified the same layer digest.
package verdict

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/specialistvlad/stagegate/internal/failure"
	"github.com/specialistvlad/stagegate/internal/gate"

	_ "modernc.org/sqlite"
)

var migrations = []string{`
CREATE TABLE IF NOT EXISTS stage_results (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	build_id     TEXT    NOT NULL,
	stage        TEXT    NOT NULL,
	layer_digest TEXT    NOT NULL,
	verdict      TEXT    NOT NULL,
	exit_code    INTEGER NOT NULL,
	duration_ms  INTEGER NOT NULL,
	recorded_at  TEXT    NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_stage_results_digest ON stage_results(layer_digest, stage)`,
}

// timeLayout has a fixed width so that stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Record is one persisted stage result.
type Record struct {
	ID          int64
	BuildID     string
	Stage       string
	LayerDigest string
	Verdict     gate.Verdict
	ExitCode    int
	Duration    time.Duration
	RecordedAt  time.Time
}

// FromResult converts a gate result into a record.
func FromResult(r *gate.Result) Record {
	return Record{
		BuildID:     r.BuildID,
		Stage:       r.Stage,
		LayerDigest: r.LayerDigest,
		Verdict:     r.Verdict,
		ExitCode:    r.ExitCode,
		Duration:    r.Duration,
	}
}

// Store is a SQLite-backed verdict store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (and creates) the store at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create verdict store directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open verdict store: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate verdict store: %w", err)
		}
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record persists a result. RecordedAt is set by the store.
func (s *Store) Record(ctx context.Context, r Record) (Record, error) {
	if r.LayerDigest == "" {
		return Record{}, errors.New("cannot record a result without a layer digest")
	}
	r.RecordedAt = s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO stage_results (build_id, stage, layer_digest, verdict, exit_code, duration_ms, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.BuildID, r.Stage, r.LayerDigest, string(r.Verdict), r.ExitCode, r.Duration.Milliseconds(), r.RecordedAt.Format(timeLayout))
	if err != nil {
		return Record{}, fmt.Errorf("failed to record verdict: %w", err)
	}
	r.ID, _ = res.LastInsertId()
	return r, nil
}

const selectColumns = `SELECT id, build_id, stage, layer_digest, verdict, exit_code, duration_ms, recorded_at FROM stage_results`

// List returns up to limit records, newest first. limit <= 0 means all.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	q := selectColumns + ` ORDER BY recorded_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.query(ctx, q, args...)
}

// Latest returns the newest record for a stage and layer digest, or nil.
func (s *Store) Latest(ctx context.Context, stage, digest string) (*Record, error) {
	recs, err := s.query(ctx, selectColumns+` WHERE stage = ? AND layer_digest = ? ORDER BY recorded_at DESC, id DESC LIMIT 1`, stage, digest)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

// CheckPromotion refuses a layer unless the newest result of the required
// test stage for the same digest is verified.
func (s *Store) CheckPromotion(ctx context.Context, requiredStage, digest string) (*Record, error) {
	op := "promote " + shortDigest(digest)
	if digest == "" {
		return nil, failure.Newf(failure.PromotionRefused, op, "layer has no digest")
	}
	rec, err := s.Latest(ctx, requiredStage, digest)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, failure.Newf(failure.PromotionRefused, op, "no %q result recorded for this layer", requiredStage)
	}
	if rec.Verdict != gate.Verified {
		return rec, failure.Newf(failure.PromotionRefused, op, "stage %q was %s in build %s", requiredStage, rec.Verdict, rec.BuildID)
	}
	return rec, nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query verdicts: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r          Record
			verdict    string
			durationMS int64
			recordedAt string
		)
		if err := rows.Scan(&r.ID, &r.BuildID, &r.Stage, &r.LayerDigest, &verdict, &r.ExitCode, &durationMS, &recordedAt); err != nil {
			return nil, err
		}
		r.Verdict = gate.Verdict(verdict)
		r.Duration = time.Duration(durationMS) * time.Millisecond
		if r.RecordedAt, err = time.Parse(timeLayout, recordedAt); err != nil {
			return nil, fmt.Errorf("invalid timestamp in record %d: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
