package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/jordanlanch/callops/pkg/database"
	"github.com/jordanlanch/callops/pkg/domain"
	"github.com/jordanlanch/callops/pkg/logger"
)

// Table names
const (
	tableOrganizations = "organizations"
	tablePhoneNumbers  = "phone_numbers"
	tableCalls         = "calls"
	tableRecordings    = "mightycall_recordings"
	tableReports       = "mightycall_reports"
	tableSMS           = "mightycall_sms_messages"
	tableRawEvents     = "mightycall_raw_events"
	tableSyncRuns      = "sync_runs"
)

// inChunk bounds the size of IN (...) lists
const inChunk = 500

// Result counts the outcome of one upsert batch
type Result struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Add accumulates another batch into r
func (r *Result) Add(o Result) {
	r.Inserted += o.Inserted
	r.Updated += o.Updated
	r.Skipped += o.Skipped
	r.Failed += o.Failed
}

// Written is the number of rows inserted or updated
func (r Result) Written() int {
	return r.Inserted + r.Updated
}

// Store persists provider entities idempotently. Every write is an upsert on
// the entity's natural key, so replaying a batch never creates duplicates.
type Store struct {
	db      *sql.DB
	dialect string
	logger  logger.Logger
	now     func() time.Time
}

// New creates a store on top of a database client
func New(client *database.Client, log logger.Logger) *Store {
	if log == nil {
		log = logger.Default()
	}
	return &Store{
		db:      client.DB,
		dialect: client.Dialect,
		logger:  log.With("component", "store"),
		now:     time.Now,
	}
}

func (s *Store) builder() *entsql.DialectBuilder {
	return entsql.Dialect(s.dialect)
}

func (s *Store) timestamp() time.Time {
	return ts(s.now())
}

type querier interface {
	Query() (string, []any)
}

func (s *Store) exec(ctx context.Context, q querier) (sql.Result, error) {
	query, args := q.Query()
	return s.db.ExecContext(ctx, query, args...)
}

func (s *Store) query(ctx context.Context, q querier) (*sql.Rows, error) {
	query, args := q.Query()
	return s.db.QueryContext(ctx, query, args...)
}

// existingKeys returns which of keys already exist in table for orgID
func (s *Store) existingKeys(ctx context.Context, table, column, orgID string, keys []string) (map[string]bool, error) {
	found := make(map[string]bool, len(keys))
	for _, chunk := range chunks(unique(keys), inChunk) {
		sel := s.builder().Select(column).From(entsql.Table(table)).
			Where(entsql.And(entsql.EQ("org_id", orgID), entsql.In(column, toArgs(chunk)...)))

		rows, err := s.query(ctx, sel)
		if err != nil {
			return nil, fmt.Errorf("failed to query existing %s: %w", table, err)
		}
		for rows.Next() {
			var k string
			if err := rows.Scan(&k); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan existing %s: %w", table, err)
			}
			found[k] = true
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
	}
	return found, nil
}

// classifyWriteError turns unique violations into PersistenceConflict
func classifyWriteError(err error) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return domain.NewPersistenceConflictError(err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// record applies the outcome of a single row write to r
func (s *Store) record(r *Result, kind, key string, existed bool, err error) bool {
	err = classifyWriteError(err)
	switch {
	case err == nil && existed:
		r.Updated++
		return true
	case err == nil:
		r.Inserted++
		return true
	case domain.IsPersistenceConflict(err):
		r.Skipped++
		s.logger.Debug("Duplicate write ignored", "kind", kind, "key", key)
	default:
		r.Failed++
		s.logger.Warn("Failed to upsert record", "kind", kind, "key", key, "error", err)
	}
	return false
}

func ts(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func nullableTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return ts(*t)
}

func nullableString(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func unique(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

func chunks(keys []string, size int) [][]string {
	var out [][]string
	for len(keys) > size {
		out = append(out, keys[:size])
		keys = keys[size:]
	}
	if len(keys) > 0 {
		out = append(out, keys)
	}
	return out
}

func toArgs(keys []string) []any {
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	return args
}

func requireOrg(orgID string) error {
	if orgID == "" {
		return domain.NewValidationError("organization id is required")
	}
	return nil
}
