package mightycall

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/jordanlanch/callops/pkg/domain"
	"github.com/jordanlanch/callops/pkg/logger"
)

// Operation names a logical provider resource
type Operation string

// Provider operations
const (
	OpPhoneNumbers Operation = "phonenumbers"
	OpCalls        Operation = "calls"
	OpRecordings   Operation = "recordings"
	OpReports      Operation = "reports"
	OpSMS          Operation = "sms"
)

// DefaultCandidates lists the known URL shapes per operation, most likely first.
func DefaultCandidates() map[Operation][]string {
	return map[Operation][]string{
		OpPhoneNumbers: {"/phonenumbers", "/api/phonenumbers", "/v4/phonenumbers", "/v4/api/phonenumbers"},
		OpCalls:        {"/calls", "/api/calls", "/v4/calls", "/v4/api/calls"},
		OpRecordings:   {"/recordings", "/api/recordings", "/v4/recordings", "/calls/recordings"},
		OpReports:      {"/reports", "/api/reports", "/v4/reports", "/journal/requests?type=report"},
		OpSMS: {
			"/journal/requests?type=message",
			"/api/journal/requests?type=message",
			"/v4/journal/requests?type=message",
			"/messages",
		},
	}
}

type getter interface {
	Get(ctx context.Context, operation, path string, query url.Values) ([]byte, error)
}

// Resolver discovers which candidate path serves an operation and remembers
// the first one that answers with a record list.
type Resolver struct {
	client     getter
	candidates map[Operation][]string
	logger     logger.Logger

	mu       sync.RWMutex
	resolved map[Operation]string
}

// NewResolver creates a resolver. candidates may be nil for the defaults.
func NewResolver(client getter, candidates map[Operation][]string, log logger.Logger) *Resolver {
	if candidates == nil {
		candidates = DefaultCandidates()
	}
	if log == nil {
		log = logger.Default()
	}
	return &Resolver{
		client:     client,
		candidates: candidates,
		logger:     log.With("component", "mightycall_resolver"),
		resolved:   make(map[Operation]string),
	}
}

// Resolved returns the remembered path for op, if any
func (r *Resolver) Resolved(op Operation) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.resolved[op]
	return p, ok
}

// Fetch returns the records of one page of op. The first call probes the
// candidates in order; later calls go straight to the remembered path.
func (r *Resolver) Fetch(ctx context.Context, op Operation, query url.Values) ([]Raw, error) {
	if path, ok := r.Resolved(op); ok {
		body, err := r.client.Get(ctx, string(op), path, query)
		if err != nil {
			return nil, err
		}
		records, ok, err := ExtractRecords(body, string(op))
		if err != nil {
			return nil, domain.NewUpstreamError(err)
		}
		if !ok {
			return nil, domain.NewUpstreamError(fmt.Errorf("unrecognized %s response shape from %s", op, path))
		}
		return records, nil
	}

	candidates := r.candidates[op]
	var lastErr error
	for _, path := range candidates {
		body, err := r.client.Get(ctx, string(op), path, query)
		if err != nil {
			if domain.IsAuth(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			if !IsStatus(err, http.StatusNotFound) {
				r.logger.Warn("Endpoint candidate failed", "operation", op, "path", path, "error", err)
			}
			lastErr = err
			continue
		}

		records, ok, err := ExtractRecords(body, string(op))
		if err != nil {
			lastErr = err
			continue
		}
		if !ok {
			lastErr = fmt.Errorf("unrecognized %s response shape from %s", op, path)
			continue
		}

		r.remember(op, path)
		return records, nil
	}

	if lastErr == nil {
		lastErr = errors.New("no candidates configured")
	}
	return nil, domain.NewEndpointNotFoundError(string(op), lastErr)
}

func (r *Resolver) remember(op Operation, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.resolved[op]; ok {
		return
	}
	r.resolved[op] = path
	r.logger.Info("Resolved provider endpoint", "operation", op, "path", path)
}
