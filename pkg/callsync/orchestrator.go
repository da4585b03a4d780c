package callsync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jordanlanch/callops/pkg/archive"
	"github.com/jordanlanch/callops/pkg/domain"
	"github.com/jordanlanch/callops/pkg/logger"
	"github.com/jordanlanch/callops/pkg/mightycall"
	"github.com/jordanlanch/callops/pkg/models"
	"github.com/jordanlanch/callops/pkg/store"
)

// Entity kinds
const (
	kindCalls      = "calls"
	kindRecordings = "recordings"
	kindReports    = "reports"
	kindSMS        = "sms"
)

// DefaultChunkSize bounds the date span of a single provider query
const DefaultChunkSize = 31 * 24 * time.Hour

// Provider lists raw records from the telephony provider
type Provider interface {
	Authenticate(ctx context.Context) error
	ListPhoneNumbers(ctx context.Context) ([]mightycall.Raw, error)
	ListCalls(ctx context.Context, rng models.DateRange) ([]mightycall.Raw, error)
	ListRecordings(ctx context.Context, rng models.DateRange) ([]mightycall.Raw, error)
	ListReports(ctx context.Context, rng models.DateRange) ([]mightycall.Raw, error)
	ListSMS(ctx context.Context, rng models.DateRange) ([]mightycall.Raw, error)
}

// Repository is the persistence the orchestrator needs
type Repository interface {
	AssignedNumbers(ctx context.Context, orgID string) ([]models.PhoneNumber, error)
	NumberOwners(ctx context.Context) (map[string]string, error)
	CallIDsByExternal(ctx context.Context, orgID string, externalIDs []string) (map[string]string, error)
	UpsertCalls(ctx context.Context, orgID string, calls []models.Call) (store.Result, error)
	UpsertRecordings(ctx context.Context, orgID string, recs []models.Recording) (store.Result, error)
	UpsertReportMetrics(ctx context.Context, orgID string, metrics []models.ReportMetric) (store.Result, error)
	UpsertSMS(ctx context.Context, orgID string, msgs []models.SmsMessage) (store.Result, error)
	UpsertPhoneNumbers(ctx context.Context, nums []models.PhoneNumber) (store.Result, error)
}

// Options tunes the orchestrator
type Options struct {
	ChunkSize time.Duration
	// FilterByAssignedNumbers drops calls and messages that touch none of the
	// organization's numbers. Disable only for single-tenant provider accounts.
	FilterByAssignedNumbers bool
}

// Orchestrator pulls one organization's data from the provider into the store
type Orchestrator struct {
	provider Provider
	repo     Repository
	archive  archive.Sink
	opts     Options
	logger   logger.Logger
	now      func() time.Time
}

// New creates an orchestrator. sink may be nil to disable raw archival.
func New(provider Provider, repo Repository, sink archive.Sink, opts Options, log logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.Default()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	return &Orchestrator{
		provider: provider,
		repo:     repo,
		archive:  sink,
		opts:     opts,
		logger:   log.With("component", "callsync"),
		now:      time.Now,
	}
}

// orgScope is what a run knows about the organization being synced
type orgScope struct {
	id     string
	digits map[string]bool
	owners map[string]string
	rng    models.DateRange
	logger logger.Logger
	filter bool
}

func (s *orgScope) owns(digits ...string) bool {
	for _, d := range digits {
		if d != "" && s.digits[d] {
			return true
		}
	}
	return false
}

// inferDirection decides direction from which side is the organization's number
func (s *orgScope) inferDirection(from, to string) models.Direction {
	if s.digits[to] {
		return models.DirectionInbound
	}
	if s.digits[from] {
		return models.DirectionOutbound
	}
	return models.DirectionInbound
}

// checkCounterpart logs records whose other side belongs to a different tenant.
// They stay attributed to the organization being synced.
func (s *orgScope) checkCounterpart(kind, externalID, counterpart string) {
	if counterpart == "" {
		return
	}
	if owner, ok := s.owners[counterpart]; ok && owner != s.id {
		s.logger.Warn("Ambiguous org match",
			"kind", kind,
			"external_id", externalID,
			"other_org_id", owner)
	}
}

// SyncOrganization syncs calls, recordings, reports and messages of one
// organization inside rng. Only authentication and configuration failures
// abort the run; everything else is reported in the per-kind counts.
func (o *Orchestrator) SyncOrganization(ctx context.Context, orgID string, rng models.DateRange) (*SyncResult, error) {
	result := newResult(orgID, rng)
	log := o.logger.With("org_id", orgID)

	if orgID == "" {
		err := domain.NewValidationError("organization id is required")
		result.Error = err.Error()
		return result, err
	}
	if rng.From.IsZero() || rng.To.IsZero() || !rng.From.Before(rng.To) {
		err := domain.NewValidationError("date range must have from before to")
		result.Error = err.Error()
		return result, err
	}

	numbers, err := o.repo.AssignedNumbers(ctx, orgID)
	if err != nil {
		err = fmt.Errorf("failed to load assigned numbers: %w", err)
		result.Error = err.Error()
		return result, err
	}
	scope := &orgScope{
		id:     orgID,
		digits: make(map[string]bool, len(numbers)),
		rng:    rng,
		logger: log,
		filter: o.opts.FilterByAssignedNumbers,
	}
	for _, n := range numbers {
		scope.digits[n.NumberDigits] = true
	}
	if scope.filter && len(scope.digits) == 0 {
		log.Warn("Organization has no assigned phone numbers, nothing to sync")
		return result, nil
	}

	scope.owners, err = o.repo.NumberOwners(ctx)
	if err != nil {
		log.Warn("Failed to load number owners, ambiguity checks disabled", "error", err)
		scope.owners = map[string]string{}
	}

	if err := o.provider.Authenticate(ctx); err != nil {
		log.Error("Provider authentication failed", "error", err)
		result.Error = err.Error()
		return result, err
	}

	start := o.now()
	log.Info("Starting organization sync", "from", rng.From, "to", rng.To)

	for _, chunk := range rng.Chunks(o.opts.ChunkSize) {
		if err := ctx.Err(); err != nil {
			result.Error = err.Error()
			return result, err
		}

		chunkScope := *scope
		chunkScope.rng = chunk
		if err := o.syncChunk(ctx, &chunkScope, result); err != nil {
			log.Error("Organization sync aborted", "error", err)
			result.Error = err.Error()
			return result, err
		}
	}

	log.Info("Organization sync finished",
		"duration", o.now().Sub(start).String(),
		"calls", result.Calls.Synced,
		"recordings", result.Recordings.Synced,
		"reports", result.Reports.Synced,
		"sms", result.SMS.Synced,
		"partial", result.Partial())
	return result, nil
}

// syncChunk runs the calls→recordings chain next to reports and messages.
// Step functions return an error only when it is fatal, so only those cancel
// the sibling steps.
func (o *Orchestrator) syncChunk(ctx context.Context, scope *orgScope, result *SyncResult) error {
	var calls, recs, reports, sms Counts

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if calls, err = o.syncCalls(gctx, scope); err != nil {
			return err
		}
		if err := gctx.Err(); err != nil {
			recs.failBatch(err)
			return nil
		}
		recs, err = o.syncRecordings(gctx, scope)
		return err
	})
	g.Go(func() error {
		var err error
		reports, err = o.syncReports(gctx, scope)
		return err
	})
	g.Go(func() error {
		var err error
		sms, err = o.syncSMS(gctx, scope)
		return err
	})
	err := g.Wait()

	result.Calls.merge(calls)
	result.Recordings.merge(recs)
	result.Reports.merge(reports)
	result.SMS.merge(sms)
	return err
}

// fetch lists one kind and archives what came back. A failure counts as one
// failed unit; when it is not fatal whatever was fetched before it is still
// returned.
func (o *Orchestrator) fetch(ctx context.Context, scope *orgScope, kind string, counts *Counts,
	list func(context.Context, models.DateRange) ([]mightycall.Raw, error)) ([]mightycall.Raw, error) {
	records, err := list(ctx, scope.rng)
	if err != nil {
		counts.failBatch(err)
		if domain.IsFatal(err) {
			return nil, err
		}
		scope.logger.Warn("Failed to fetch records", "kind", kind, "fetched", len(records), "error", err)
	}
	o.archivePage(ctx, scope, kind, records)
	return records, nil
}

func (o *Orchestrator) syncCalls(ctx context.Context, scope *orgScope) (Counts, error) {
	var counts Counts
	records, err := o.fetch(ctx, scope, kindCalls, &counts, o.provider.ListCalls)
	if err != nil {
		return counts, err
	}

	calls := make([]models.Call, 0, len(records))
	for _, r := range records {
		call, err := mightycall.MapCall(r)
		if err != nil {
			counts.Skipped++
			scope.logger.Debug("Skipping call", "error", err)
			continue
		}
		if scope.filter && !scope.owns(call.FromDigits, call.ToDigits) {
			counts.Skipped++
			continue
		}

		if call.Direction == "" {
			call.Direction = scope.inferDirection(call.FromDigits, call.ToDigits)
		}
		counterpart := call.FromDigits
		if call.Direction == models.DirectionOutbound {
			counterpart = call.ToDigits
		}
		scope.checkCounterpart(kindCalls, call.ExternalCallID, counterpart)

		call.OrgID = scope.id
		calls = append(calls, call)
	}

	res, err := o.repo.UpsertCalls(ctx, scope.id, calls)
	counts.apply(res)
	counts.fail(err)
	return counts, nil
}

func (o *Orchestrator) syncRecordings(ctx context.Context, scope *orgScope) (Counts, error) {
	var counts Counts
	records, err := o.fetch(ctx, scope, kindRecordings, &counts, o.provider.ListRecordings)
	if err != nil {
		return counts, err
	}

	recs := make([]models.Recording, 0, len(records))
	refs := make([]string, 0, len(records))
	for _, r := range records {
		rec, err := mightycall.MapRecording(r)
		if err != nil {
			counts.Skipped++
			scope.logger.Debug("Skipping recording", "error", err)
			continue
		}
		rec.OrgID = scope.id
		recs = append(recs, rec)
		refs = append(refs, rec.ExternalCallID)
	}

	if scope.filter && len(recs) > 0 {
		known, err := o.repo.CallIDsByExternal(ctx, scope.id, refs)
		if err != nil {
			counts.Failed += len(recs)
			counts.fail(err)
			return counts, nil
		}

		kept := recs[:0]
		for _, rec := range recs {
			_, linked := known[rec.ExternalCallID]
			if linked || rec.PhoneDigits == "" || scope.owns(rec.PhoneDigits) {
				kept = append(kept, rec)
				continue
			}
			counts.Skipped++
		}
		recs = kept
	}

	res, err := o.repo.UpsertRecordings(ctx, scope.id, recs)
	counts.apply(res)
	counts.fail(err)
	return counts, nil
}

func (o *Orchestrator) syncReports(ctx context.Context, scope *orgScope) (Counts, error) {
	var counts Counts
	records, err := o.fetch(ctx, scope, kindReports, &counts, o.provider.ListReports)
	if err != nil {
		return counts, err
	}

	var metrics []models.ReportMetric
	for _, r := range records {
		fanned, err := mightycall.MapReport(r)
		if err != nil {
			counts.Skipped++
			scope.logger.Debug("Skipping report", "error", err)
			continue
		}
		for i := range fanned {
			fanned[i].OrgID = scope.id
		}
		metrics = append(metrics, fanned...)
	}

	res, err := o.repo.UpsertReportMetrics(ctx, scope.id, metrics)
	counts.apply(res)
	counts.fail(err)
	return counts, nil
}

func (o *Orchestrator) syncSMS(ctx context.Context, scope *orgScope) (Counts, error) {
	var counts Counts
	records, err := o.fetch(ctx, scope, kindSMS, &counts, o.provider.ListSMS)
	if err != nil {
		return counts, err
	}

	msgs := make([]models.SmsMessage, 0, len(records))
	for _, r := range records {
		msg, err := mightycall.MapSMS(r)
		if err != nil {
			counts.Skipped++
			scope.logger.Debug("Skipping message", "error", err)
			continue
		}
		if scope.filter && !scope.owns(msg.SenderDigits, msg.RecipientDigits) {
			counts.Skipped++
			continue
		}

		if msg.Direction == "" {
			msg.Direction = scope.inferDirection(msg.SenderDigits, msg.RecipientDigits)
		}
		counterpart := msg.SenderDigits
		if msg.Direction == models.DirectionOutbound {
			counterpart = msg.RecipientDigits
		}
		scope.checkCounterpart(kindSMS, msg.ExternalID, counterpart)

		msg.OrgID = scope.id
		msgs = append(msgs, msg)
	}

	res, err := o.repo.UpsertSMS(ctx, scope.id, msgs)
	counts.apply(res)
	counts.fail(err)
	return counts, nil
}

// SyncPhoneNumbers refreshes the provider number catalog. Organization
// assignments are left untouched.
func (o *Orchestrator) SyncPhoneNumbers(ctx context.Context) (Counts, error) {
	var counts Counts

	records, err := o.provider.ListPhoneNumbers(ctx)
	if err != nil {
		counts.failBatch(err)
		if domain.IsFatal(err) || len(records) == 0 {
			return counts, fmt.Errorf("failed to list phone numbers: %w", err)
		}
	}

	nums := make([]models.PhoneNumber, 0, len(records))
	for _, r := range records {
		n, err := mightycall.MapPhoneNumber(r)
		if err != nil {
			counts.Skipped++
			continue
		}
		nums = append(nums, n)
	}

	res, err := o.repo.UpsertPhoneNumbers(ctx, nums)
	counts.apply(res)
	if err != nil {
		counts.fail(err)
		return counts, fmt.Errorf("failed to store phone numbers: %w", err)
	}

	o.logger.Info("Phone number catalog refreshed", "synced", counts.Synced, "skipped", counts.Skipped)
	return counts, nil
}

func (o *Orchestrator) archivePage(ctx context.Context, scope *orgScope, kind string, records []mightycall.Raw) {
	if o.archive == nil || len(records) == 0 {
		return
	}

	payload, err := json.Marshal(records)
	if err != nil {
		scope.logger.Warn("Failed to encode raw page", "kind", kind, "error", err)
		return
	}

	page := archive.Page{
		OrgID:     scope.id,
		Kind:      kind,
		Range:     scope.rng,
		FetchedAt: o.now(),
		Count:     len(records),
		Payload:   payload,
	}
	if err := o.archive.Archive(ctx, page); err != nil {
		scope.logger.Warn("Failed to archive raw page", "kind", kind, "error", err)
	}
}
