// Package history keeps scenario results in SQLite so repeated runs of the
// same fixtures can be compared and flaky scenarios spotted.
package history

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kuitang/crmscenarios/internal/errs"
	"github.com/kuitang/crmscenarios/internal/report"
)

const (
	// MaxOpenConns bounds connections; SQLite is single-writer.
	MaxOpenConns = 4
	MaxIdleConns = 1
)

// Store records results.
type Store struct {
	db *sql.DB
}

// ScenarioStats aggregates the recorded runs of one scenario.
type ScenarioStats struct {
	Scenario   string        `json:"scenario"`
	Runs       int           `json:"runs"`
	Passed     int           `json:"passed"`
	Failed     int           `json:"failed"`
	LastStatus report.Status `json:"last_status"`
	LastRunAt  time.Time     `json:"last_run_at"`
	// Flaky is set when the scenario has both passed and failed.
	Flaky bool `json:"flaky"`
}

// Open opens (creating if needed) the history database at path. A non-empty
// key encrypts the file with SQLCipher; it must be 32 bytes.
func Open(path string, key []byte) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history path cannot be empty")
	}
	if len(key) != 0 && len(key) != 32 {
		return nil, fmt.Errorf("history key must be exactly 32 bytes, got %d", len(key))
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	dsn := path
	if len(key) != 0 {
		dsn = fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", path, hex.EncodeToString(key))
	}
	dsn = appendSQLiteParams(dsn, sqliteCommonParams())

	db, err := sql.Open(SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	db.SetMaxOpenConns(MaxOpenConns)
	db.SetMaxIdleConns(MaxIdleConns)

	// A wrong key only surfaces on the first read.
	var sqliteVersion string
	if err := db.QueryRow("SELECT sqlite_version()").Scan(&sqliteVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to verify history database: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// ParseKey decodes a hex-encoded 32-byte key. Empty input means no
// encryption.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("history key is not hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("history key must be 64 hex characters, got %d", len(s))
	}
	return key, nil
}

func appendSQLiteParams(dsn, params string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Record stores one result.
func (s *Store) Record(ctx context.Context, res report.Result) error {
	return s.RecordAll(ctx, []report.Result{res})
}

// RecordAll stores results in one transaction.
func (s *Store) RecordAll(ctx context.Context, results []report.Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO runs (
			run_id, scenario, source, status, phase, failure_index, description, code, message,
			steps_run, assertions_checked, started_at, duration_ns, teardown_error, artifacts
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare history insert: %w", err)
	}
	defer stmt.Close()

	for _, res := range results {
		if res.RunID == "" {
			return errs.New(errs.Internal, "history: result for "+res.Scenario+" has no run id")
		}
		var phase, description, message string
		var code errs.Code
		var index int
		if f := res.Failure; f != nil {
			phase, index, description, code, message = string(f.Phase), f.Index, f.Description, f.Code, f.Message
		}
		artifacts := res.Artifacts
		if artifacts == nil {
			artifacts = []string{}
		}
		artifactsJSON, err := json.Marshal(artifacts)
		if err != nil {
			return fmt.Errorf("encode artifacts: %w", err)
		}
		_, err = stmt.ExecContext(ctx,
			res.RunID, res.Scenario, res.Source, string(res.Status), phase, index, description, string(code), message,
			res.StepsRun, res.AssertionsChecked, res.StartedAt.UnixNano(), int64(res.Duration), res.TeardownError, string(artifactsJSON),
		)
		if err != nil {
			return fmt.Errorf("record run %s: %w", res.RunID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit history transaction: %w", err)
	}
	return nil
}

// Recent returns the newest results first. An empty scenario matches all.
func (s *Store) Recent(ctx context.Context, scenario string, limit int) ([]report.Result, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT run_id, scenario, source, status, phase, failure_index, description, code, message,
			steps_run, assertions_checked, started_at, duration_ns, teardown_error, artifacts
		FROM runs`
	args := []any{}
	if scenario != "" {
		query += ` WHERE scenario = ?`
		args = append(args, scenario)
	}
	query += ` ORDER BY started_at DESC, run_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	defer rows.Close()

	var out []report.Result
	for rows.Next() {
		var (
			res                              report.Result
			status, phase, description, code string
			message, artifactsJSON           string
			index                            int
			startedAt, duration              int64
		)
		if err := rows.Scan(
			&res.RunID, &res.Scenario, &res.Source, &status, &phase, &index, &description, &code, &message,
			&res.StepsRun, &res.AssertionsChecked, &startedAt, &duration, &res.TeardownError, &artifactsJSON,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		res.Status = report.Status(status)
		res.StartedAt = time.Unix(0, startedAt).UTC()
		res.Duration = time.Duration(duration)
		if phase != "" {
			res.Failure = &report.Failure{
				Phase:       report.Phase(phase),
				Index:       index,
				Description: description,
				Code:        errs.Code(code),
				Message:     message,
			}
		}
		var artifacts []string
		if err := json.Unmarshal([]byte(artifactsJSON), &artifacts); err != nil {
			return nil, fmt.Errorf("decode artifacts of %s: %w", res.RunID, err)
		}
		if len(artifacts) > 0 {
			res.Artifacts = artifacts
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// Stats aggregates all recorded runs per scenario, ordered by name.
func (s *Store) Stats(ctx context.Context) ([]ScenarioStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.scenario,
			COUNT(*),
			SUM(CASE WHEN r.status = 'passed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN r.status = 'failed' THEN 1 ELSE 0 END),
			MAX(r.started_at),
			(SELECT l.status FROM runs l WHERE l.scenario = r.scenario ORDER BY l.started_at DESC, l.run_id DESC LIMIT 1)
		FROM runs r
		GROUP BY r.scenario
		ORDER BY r.scenario`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	var out []ScenarioStats
	for rows.Next() {
		var (
			st     ScenarioStats
			last   int64
			status string
		)
		if err := rows.Scan(&st.Scenario, &st.Runs, &st.Passed, &st.Failed, &last, &status); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		st.LastRunAt = time.Unix(0, last).UTC()
		st.LastStatus = report.Status(status)
		st.Flaky = st.Passed > 0 && st.Failed > 0
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}
	return out, nil
}
