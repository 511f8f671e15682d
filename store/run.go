package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/aluiziolira/go-auction-ingest/models"
)

const runColumns = `id, source_site, status, total_found, new_items, updated_items,
	discarded_items, error_count, pages_fetched, error_message, started_at,
	finished_at, execution_ms`

// StartRun inserts a running ingestion run for source.
func (s *PostgresStore) StartRun(ctx context.Context, source string, startedAt time.Time) (*models.IngestionRun, error) {
	run := &models.IngestionRun{
		SourceSite: source,
		Status:     models.RunRunning,
		StartedAt:  startedAt,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO ingestion_runs (source_site, status, started_at)
		 VALUES ($1, 'running', $2) RETURNING id`,
		source, startedAt,
	).Scan(&run.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "store: start run for %s", source)
	}
	return run, nil
}

// FinishRun persists the terminal state and counters of run. Only a run
// still marked running is updated; anything else returns ErrRunClosed.
func (s *PostgresStore) FinishRun(ctx context.Context, run *models.IngestionRun) error {
	if run == nil || !run.Status.Terminal() {
		return eris.New("store: finish run needs a terminal status")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingestion_runs SET
			status = $2, total_found = $3, new_items = $4, updated_items = $5,
			discarded_items = $6, error_count = $7, pages_fetched = $8,
			error_message = $9, finished_at = $10, execution_ms = $11
		 WHERE id = $1 AND status = 'running'`,
		run.ID, string(run.Status), run.TotalFound, run.NewItems, run.UpdatedItems,
		run.DiscardedItems, run.ErrorCount, run.PagesFetched,
		run.ErrorMessage, run.FinishedAt, run.ExecutionTime.Milliseconds(),
	)
	if err != nil {
		return eris.Wrapf(err, "store: finish run %d", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRunClosed, "run %d", run.ID)
	}
	return nil
}

// GetRun loads one run by id.
func (s *PostgresStore) GetRun(ctx context.Context, id int64) (*models.IngestionRun, error) {
	run, err := scanRun(s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM ingestion_runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "store: get run %d", id)
	}
	return run, nil
}

// RunFilter narrows ListRuns. Zero fields do not filter.
type RunFilter struct {
	SourceSite string
	Status     models.RunStatus
	Limit      int
}

// ListRuns returns runs newest first.
func (s *PostgresStore) ListRuns(ctx context.Context, f RunFilter) ([]*models.IngestionRun, error) {
	var where []string
	var args []any
	if f.SourceSite != "" {
		args = append(args, f.SourceSite)
		where = append(where, fmt.Sprintf("source_site = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + runColumns + ` FROM ingestion_runs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY started_at DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: list runs")
	}
	defer rows.Close()

	var out []*models.IngestionRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan run")
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "store: list runs")
	}
	return out, nil
}

func scanRun(row pgx.Row) (*models.IngestionRun, error) {
	var run models.IngestionRun
	var status string
	var execMS int64
	err := row.Scan(
		&run.ID, &run.SourceSite, &status, &run.TotalFound, &run.NewItems, &run.UpdatedItems,
		&run.DiscardedItems, &run.ErrorCount, &run.PagesFetched, &run.ErrorMessage, &run.StartedAt,
		&run.FinishedAt, &execMS,
	)
	if err != nil {
		return nil, err
	}
	run.Status = models.RunStatus(status)
	run.ExecutionTime = time.Duration(execMS) * time.Millisecond
	return &run, nil
}
