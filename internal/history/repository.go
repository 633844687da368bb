// Package history keeps a record of sync runs in SQLite: when each run
// started and finished, the PLU corrections it pushed and how every scale
// ended up.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/scalesync/internal/catalog"
	"github.com/nerrad567/scalesync/internal/scale"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

// timeLayout is fixed-width UTC so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusTimeout   = "timeout"
	StatusCancelled = "cancelled"
)

// Run is one sync session.
type Run struct {
	ID         string               `json:"id"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt *time.Time           `json:"finished_at,omitempty"`
	Status     string               `json:"status"`
	Items      int                  `json:"items"`
	Wipe       bool                 `json:"wipe"`
	Scales     int                  `json:"scales"`
	Completed  int                  `json:"completed"`
	Failed     int                  `json:"failed"`
	Elapsed    time.Duration        `json:"elapsed"`
	Error      string               `json:"error,omitempty"`
	Corrected  []catalog.Assignment `json:"corrections,omitempty"`
	Devices    []scale.DeviceResult `json:"devices,omitempty"`
}

// NewRun describes a run at start.
type NewRun struct {
	Items  int
	Wipe   bool
	Scales int
}

// Repository stores sync runs.
type Repository interface {
	CreateRun(ctx context.Context, run NewRun) (string, error)
	RecordAssignments(ctx context.Context, runID string, assignments []catalog.Assignment) error
	RecordDeviceResult(ctx context.Context, runID string, res scale.DeviceResult) error
	FinishRun(ctx context.Context, runID string, res *scale.Result, runErr error) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	GetRun(ctx context.Context, runID string) (*Run, error)
}

// SQLiteRepository implements Repository on the migrated history schema.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// Ensure SQLiteRepository implements Repository.
var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository creates a repository.
//
// Parameters:
//   - db: Open connection with the migrations applied
//
// Returns:
//   - *SQLiteRepository: Ready for use
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// CreateRun inserts a running run and returns its generated ID.
func (r *SQLiteRepository) CreateRun(ctx context.Context, run NewRun) (string, error) {
	id := uuid.NewString()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, started_at, status, items, wipe, scales)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, r.now().Format(timeLayout), StatusRunning,
		run.Items, boolToInt(run.Wipe), run.Scales,
	)
	if err != nil {
		return "", fmt.Errorf("inserting sync run: %w", err)
	}
	return id, nil
}

// RecordAssignments stores the PLU corrections pushed during a run. A
// repeated UPC overwrites the earlier PLU.
func (r *SQLiteRepository) RecordAssignments(ctx context.Context, runID string, assignments []catalog.Assignment) error {
	if runID == "" {
		return ErrInvalidRunID
	}
	if len(assignments) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO plu_assignments (run_id, upc, plu) VALUES (?, ?, ?)
		 ON CONFLICT (run_id, upc) DO UPDATE SET plu = excluded.plu`)
	if err != nil {
		return fmt.Errorf("preparing assignment insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range assignments {
		if _, err := stmt.ExecContext(ctx, runID, a.UPC, int(a.PLU)); err != nil {
			return fmt.Errorf("inserting assignment %s: %w", a.UPC, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing assignments: %w", err)
	}
	return nil
}

// RecordDeviceResult upserts the state of one scale.
func (r *SQLiteRepository) RecordDeviceResult(ctx context.Context, runID string, res scale.DeviceResult) error {
	if runID == "" {
		return ErrInvalidRunID
	}
	return upsertDevice(ctx, r.db, runID, res, r.now())
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertDevice(ctx context.Context, db execer, runID string, res scale.DeviceResult, now time.Time) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO device_results (run_id, address, status, downloaded, total, error, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, address) DO UPDATE SET
		   status = excluded.status,
		   downloaded = excluded.downloaded,
		   total = excluded.total,
		   error = excluded.error,
		   updated_at = excluded.updated_at`,
		runID, res.Address, res.Status, res.Cursor, res.Total,
		nullableString(res.Error), now.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("upserting device result %s: %w", res.Address, err)
	}
	return nil
}

// FinishRun closes a run with its outcome. res may be nil when the run
// stopped before any scale was touched.
func (r *SQLiteRepository) FinishRun(ctx context.Context, runID string, res *scale.Result, runErr error) error {
	if runID == "" {
		return ErrInvalidRunID
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	now := r.now()
	var completed, failed int
	var elapsed time.Duration
	if res != nil {
		completed, failed, elapsed = res.Completed, res.Failed, res.Elapsed
	}

	var errText string
	if runErr != nil {
		errText = runErr.Error()
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE sync_runs
		 SET finished_at = ?, status = ?, completed = ?, failed = ?, elapsed_ms = ?, error = ?
		 WHERE id = ?`,
		now.Format(timeLayout), StatusFor(runErr), completed, failed,
		elapsed.Milliseconds(), nullableString(errText), runID,
	)
	if err != nil {
		return fmt.Errorf("finishing sync run: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	if res != nil {
		for _, d := range res.Devices {
			if err := upsertDevice(ctx, tx, runID, d, now); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing sync run: %w", err)
	}
	return nil
}

// StatusFor maps a run error to a run status.
func StatusFor(err error) string {
	switch {
	case err == nil:
		return StatusSucceeded
	case errors.Is(err, scale.ErrTimeout):
		return StatusTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return StatusCancelled
	default:
		return StatusFailed
	}
}

const runColumns = `id, started_at, finished_at, status, items, wipe, scales, completed, failed, elapsed_ms, error`

// ListRuns returns the most recent runs, newest first, without their
// corrections or device rows.
//
// Parameters:
//   - ctx: Context for the query
//   - limit: Maximum runs (default 20, max 200)
//
// Returns:
//   - []Run: Never nil
//   - error: Query failure
func (r *SQLiteRepository) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM sync_runs ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("querying sync runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sync runs: %w", err)
	}
	return runs, nil
}

// GetRun returns one run with its corrections and device results.
func (r *SQLiteRepository) GetRun(ctx context.Context, runID string) (*Run, error) {
	if runID == "" {
		return nil, ErrInvalidRunID
	}

	run, err := scanRun(r.db.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM sync_runs WHERE id = ?", runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}

	if run.Corrected, err = r.assignments(ctx, runID); err != nil {
		return nil, err
	}
	if run.Devices, err = r.devices(ctx, runID); err != nil {
		return nil, err
	}
	return run, nil
}

func (r *SQLiteRepository) assignments(ctx context.Context, runID string) ([]catalog.Assignment, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT upc, plu FROM plu_assignments WHERE run_id = ? ORDER BY upc", runID)
	if err != nil {
		return nil, fmt.Errorf("querying assignments: %w", err)
	}
	defer rows.Close()

	var out []catalog.Assignment
	for rows.Next() {
		var (
			a   catalog.Assignment
			plu int
		)
		if err := rows.Scan(&a.UPC, &plu); err != nil {
			return nil, fmt.Errorf("scanning assignment: %w", err)
		}
		a.PLU = uint16(plu) //nolint:gosec // CHECK constraint keeps plu in 1..65535
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating assignments: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) devices(ctx context.Context, runID string) ([]scale.DeviceResult, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT address, status, downloaded, total, error
		 FROM device_results WHERE run_id = ? ORDER BY address`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying device results: %w", err)
	}
	defer rows.Close()

	var out []scale.DeviceResult
	for rows.Next() {
		var (
			d      scale.DeviceResult
			errMsg sql.NullString
		)
		if err := rows.Scan(&d.Address, &d.Status, &d.Cursor, &d.Total, &errMsg); err != nil {
			return nil, fmt.Errorf("scanning device result: %w", err)
		}
		d.Error = errMsg.String
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device results: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run        Run
		startedAt  string
		finishedAt sql.NullString
		wipe       int
		elapsedMs  int64
		errMsg     sql.NullString
	)
	if err := row.Scan(&run.ID, &startedAt, &finishedAt, &run.Status, &run.Items, &wipe,
		&run.Scales, &run.Completed, &run.Failed, &elapsedMs, &errMsg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning sync run: %w", err)
	}

	t, err := time.Parse(timeLayout, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing run start %q: %w", startedAt, err)
	}
	run.StartedAt = t
	if finishedAt.Valid {
		t, err := time.Parse(timeLayout, finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing run finish %q: %w", finishedAt.String, err)
		}
		run.FinishedAt = &t
	}
	run.Wipe = wipe != 0
	run.Elapsed = time.Duration(elapsedMs) * time.Millisecond
	run.Error = errMsg.String
	return &run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nullableString maps "" to NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
