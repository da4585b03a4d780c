package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jordanlanch/callops/pkg/domain"
	"github.com/jordanlanch/callops/pkg/logger"
	"github.com/jordanlanch/callops/pkg/models"
)

// DefaultPrecision is the number of decimals kept on rates
const DefaultPrecision = 1

// unassignedQueue names calls that never entered a queue
const unassignedQueue = "unassigned"

// Scope selects whose calls are aggregated. The zero value is invalid so a
// missing organization never widens into a global view.
type Scope struct {
	orgID  string
	global bool
}

// ForOrg scopes aggregation to one organization
func ForOrg(orgID string) Scope {
	return Scope{orgID: orgID}
}

// Global scopes aggregation to every organization. Platform admins only.
func Global() Scope {
	return Scope{global: true}
}

// IsGlobal reports whether the scope spans all organizations
func (s Scope) IsGlobal() bool { return s.global }

// OrgID returns the scoped organization, empty for the global scope
func (s Scope) OrgID() string { return s.orgID }

func (s Scope) String() string {
	if s.global {
		return "global"
	}
	return "org:" + s.orgID
}

func (s Scope) validate() error {
	if !s.global && s.orgID == "" {
		return domain.NewValidationError("organization scope requires an organization id")
	}
	return nil
}

// AnswerRate is the share of calls that reached someone
type AnswerRate struct {
	Total    int     `json:"total"`
	Answered int     `json:"answered"`
	Missed   int     `json:"missed"`
	Rate     float64 `json:"rate"`
}

// SeriesPoint is one contiguous time bucket
type SeriesPoint struct {
	Label    string    `json:"label"`
	Start    time.Time `json:"start"`
	Total    int       `json:"total"`
	Answered int       `json:"answered"`
	Missed   int       `json:"missed"`
	Rate     float64   `json:"rate"`
}

// QueueStat summarizes one call queue
type QueueStat struct {
	Name     string  `json:"name"`
	Total    int     `json:"total"`
	Answered int     `json:"answered"`
	Missed   int     `json:"missed"`
	Rate     float64 `json:"rate"`
}

type callReader interface {
	CallsInRange(ctx context.Context, orgID string, rng models.DateRange) ([]models.Call, error)
	AssignedNumbers(ctx context.Context, orgID string) ([]models.PhoneNumber, error)
}

// Service computes call metrics from persisted calls
type Service struct {
	calls     callReader
	precision int
	logger    logger.Logger
}

// NewService creates a new analytics service. precision is the number of
// decimals kept on rates.
func NewService(calls callReader, precision int, log logger.Logger) *Service {
	if log == nil {
		log = logger.Default()
	}
	if precision < 0 {
		precision = DefaultPrecision
	}
	return &Service{
		calls:     calls,
		precision: precision,
		logger:    log.With("component", "analytics"),
	}
}

// Rate returns answered/total as a percentage rounded to precision decimals.
// The result is always within [0, 100]; a zero total yields 0.
func Rate(answered, total, precision int) float64 {
	if total <= 0 || answered <= 0 {
		return 0
	}
	rate := float64(answered) / float64(total) * 100
	scale := math.Pow(10, float64(precision))
	rate = math.Round(rate*scale) / scale
	return math.Min(100, math.Max(0, rate))
}

// AnswerRate aggregates calls started inside rng. A zero range covers all time.
func (s *Service) AnswerRate(ctx context.Context, scope Scope, rng models.DateRange) (*AnswerRate, error) {
	calls, err := s.load(ctx, scope, rng)
	if err != nil {
		return nil, err
	}

	var out AnswerRate
	for _, c := range calls {
		out.Total++
		switch {
		case c.Status.Answered():
			out.Answered++
		case c.Status.Missed():
			out.Missed++
		}
	}
	out.Rate = Rate(out.Answered, out.Total, s.precision)
	return &out, nil
}

// Series partitions calls into contiguous buckets aligned in loc. Empty
// buckets are emitted with zero counts.
func (s *Service) Series(ctx context.Context, scope Scope, rng models.DateRange, bucket Bucket, loc *time.Location) ([]SeriesPoint, error) {
	if err := bucket.validate(); err != nil {
		return nil, err
	}
	if rng.From.IsZero() || rng.To.IsZero() || !rng.From.Before(rng.To) {
		return nil, domain.NewValidationError("series requires a date range with from before to")
	}
	if loc == nil {
		loc = time.UTC
	}

	points, err := bucket.span(rng, loc)
	if err != nil {
		return nil, err
	}

	calls, err := s.load(ctx, scope, rng)
	if err != nil {
		return nil, err
	}

	for _, c := range calls {
		if c.StartedAt == nil {
			continue
		}
		i := locate(points, *c.StartedAt)
		if i < 0 {
			continue
		}
		points[i].Total++
		switch {
		case c.Status.Answered():
			points[i].Answered++
		case c.Status.Missed():
			points[i].Missed++
		}
	}
	for i := range points {
		points[i].Rate = Rate(points[i].Answered, points[i].Total, s.precision)
	}
	return points, nil
}

// locate finds the bucket holding t. points are sorted by Start.
func locate(points []SeriesPoint, t time.Time) int {
	i := sort.Search(len(points), func(i int) bool { return points[i].Start.After(t) }) - 1
	if i < 0 {
		return -1
	}
	return i
}

// QueueSummary groups calls by queue, busiest first. A zero range covers all time.
func (s *Service) QueueSummary(ctx context.Context, scope Scope, rng models.DateRange) ([]QueueStat, error) {
	calls, err := s.load(ctx, scope, rng)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]*QueueStat)
	for _, c := range calls {
		name := c.QueueName
		if name == "" {
			name = unassignedQueue
		}
		q, ok := byName[name]
		if !ok {
			q = &QueueStat{Name: name}
			byName[name] = q
		}
		q.Total++
		switch {
		case c.Status.Answered():
			q.Answered++
		case c.Status.Missed():
			q.Missed++
		}
	}

	stats := make([]QueueStat, 0, len(byName))
	for _, q := range byName {
		q.Rate = Rate(q.Answered, q.Total, s.precision)
		stats = append(stats, *q)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Total != stats[j].Total {
			return stats[i].Total > stats[j].Total
		}
		return stats[i].Name < stats[j].Name
	})
	return stats, nil
}

// load returns the calls visible to scope. An organization only sees calls
// that touch one of its assigned numbers.
func (s *Service) load(ctx context.Context, scope Scope, rng models.DateRange) ([]models.Call, error) {
	if err := scope.validate(); err != nil {
		return nil, err
	}

	calls, err := s.calls.CallsInRange(ctx, scope.orgID, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to load calls: %w", err)
	}
	if scope.global {
		return dedupe(calls), nil
	}

	numbers, err := s.calls.AssignedNumbers(ctx, scope.orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to load assigned numbers: %w", err)
	}
	owned := make(map[string]bool, len(numbers))
	for _, n := range numbers {
		owned[n.NumberDigits] = true
	}

	kept := calls[:0]
	for _, c := range calls {
		if owned[c.FromDigits] || owned[c.ToDigits] {
			kept = append(kept, c)
		}
	}
	if dropped := len(calls) - len(kept); dropped > 0 {
		s.logger.Debug("Ignoring calls outside assigned numbers", "scope", scope.String(), "count", dropped)
	}
	return kept, nil
}

// dedupe keeps one copy of each provider call. A call between two tenants is
// stored once per organization.
func dedupe(calls []models.Call) []models.Call {
	seen := make(map[string]bool, len(calls))
	kept := calls[:0]
	for _, c := range calls {
		if seen[c.ExternalCallID] {
			continue
		}
		seen[c.ExternalCallID] = true
		kept = append(kept, c)
	}
	return kept
}
