package store

import (
	"context"
	"database/sql"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/jordanlanch/callops/pkg/models"
)

// RecordSyncRun inserts the run on first call and updates its outcome on
// later calls with the same id.
func (s *Store) RecordSyncRun(ctx context.Context, run *models.SyncRun) error {
	if err := requireOrg(run.OrgID); err != nil {
		return err
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.timestamp()
	}

	ins := s.builder().Insert(tableSyncRuns).
		Columns("id", "org_id", "status", "date_from", "date_to", "result", "error", "started_at", "finished_at").
		Values(run.ID, run.OrgID, run.Status, ts(run.DateFrom), ts(run.DateTo), string(run.Result), run.Error,
			ts(run.StartedAt), nullableTime(run.FinishedAt)).
		OnConflict(
			entsql.ConflictColumns("id"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				u.SetExcluded("status")
				u.SetExcluded("result")
				u.SetExcluded("error")
				u.SetExcluded("finished_at")
			}),
		)
	if _, err := s.exec(ctx, ins); err != nil {
		return fmt.Errorf("failed to record sync run: %w", err)
	}
	return nil
}

// ListSyncRuns returns the newest runs first. An empty orgID lists every tenant.
func (s *Store) ListSyncRuns(ctx context.Context, orgID string, limit int) ([]models.SyncRun, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	sel := s.builder().Select("id", "org_id", "status", "date_from", "date_to", "result", "error", "started_at", "finished_at").
		From(entsql.Table(tableSyncRuns)).OrderBy(entsql.Desc("started_at"), entsql.Desc("id")).Limit(limit)
	if orgID != "" {
		sel = sel.Where(entsql.EQ("org_id", orgID))
	}

	rows, err := s.query(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer rows.Close()

	var runs []models.SyncRun
	for rows.Next() {
		var (
			run      models.SyncRun
			result   string
			finished sql.NullTime
		)
		if err := rows.Scan(&run.ID, &run.OrgID, &run.Status, &run.DateFrom, &run.DateTo, &result, &run.Error,
			&run.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		if result != "" {
			run.Result = []byte(result)
		}
		run.FinishedAt = timePtr(finished)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
