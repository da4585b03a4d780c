package mightycall

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jordanlanch/callops/pkg/logger"
	"github.com/jordanlanch/callops/pkg/models"
)

const providerTimeLayout = "2006-01-02T15:04:05Z"

// Config wires a Service
type Config struct {
	BaseURL      string
	APIKey       string
	ClientSecret string
	HTTPTimeout  time.Duration
	RPS          float64
	PageSize     int
	MaxPages     int
	Retry        RetryPolicy
	Candidates   map[Operation][]string
}

// Service is the provider facade: paginated listing of every resource
type Service struct {
	resolver *Resolver
	tokens   *TokenManager
	pageSize int
	maxPages int
	logger   logger.Logger
}

// NewService builds the token manager, HTTP client and resolver from cfg
func NewService(cfg Config, httpClient *http.Client, observer Observer, log logger.Logger) *Service {
	if log == nil {
		log = logger.Default()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 200
	}

	tokens := NewTokenManager(cfg.BaseURL, cfg.APIKey, cfg.ClientSecret, httpClient, cfg.Retry, observer, log)
	client := NewClient(ClientConfig{
		BaseURL:        cfg.BaseURL,
		APIKey:         cfg.APIKey,
		RequestTimeout: cfg.HTTPTimeout,
		RPS:            cfg.RPS,
		Retry:          cfg.Retry,
	}, httpClient, tokens, observer, log)

	return &Service{
		resolver: NewResolver(client, cfg.Candidates, log),
		tokens:   tokens,
		pageSize: cfg.PageSize,
		maxPages: cfg.MaxPages,
		logger:   log.With("component", "mightycall"),
	}
}

// Authenticate makes sure a bearer token is available
func (s *Service) Authenticate(ctx context.Context) error {
	_, err := s.tokens.Token(ctx)
	return err
}

// ListPhoneNumbers returns the provider's number catalog
func (s *Service) ListPhoneNumbers(ctx context.Context) ([]Raw, error) {
	return s.paginate(ctx, OpPhoneNumbers, func(page int) url.Values {
		return skipQuery(models.DateRange{}, s.pageSize, page)
	})
}

// ListCalls returns calls started inside rng
func (s *Service) ListCalls(ctx context.Context, rng models.DateRange) ([]Raw, error) {
	return s.paginate(ctx, OpCalls, func(page int) url.Values {
		return skipQuery(rng, s.pageSize, page)
	})
}

// ListRecordings returns recordings made inside rng
func (s *Service) ListRecordings(ctx context.Context, rng models.DateRange) ([]Raw, error) {
	return s.paginate(ctx, OpRecordings, func(page int) url.Values {
		return skipQuery(rng, s.pageSize, page)
	})
}

// ListReports returns report records inside rng
func (s *Service) ListReports(ctx context.Context, rng models.DateRange) ([]Raw, error) {
	return s.paginate(ctx, OpReports, func(page int) url.Values {
		return journalQuery(rng, s.pageSize, page)
	})
}

// ListSMS returns journal messages inside rng
func (s *Service) ListSMS(ctx context.Context, rng models.DateRange) ([]Raw, error) {
	return s.paginate(ctx, OpSMS, func(page int) url.Values {
		return journalQuery(rng, s.pageSize, page)
	})
}

// paginate collects pages until one comes back empty or shorter than the
// largest page seen. The provider may cap pages below pageSize, so a short
// first page is not the end. On failure the records fetched so far are
// returned together with the error.
func (s *Service) paginate(ctx context.Context, op Operation, query func(page int) url.Values) ([]Raw, error) {
	var all []Raw
	largest := 0
	for page := 0; page < s.maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return all, err
		}

		records, err := s.resolver.Fetch(ctx, op, query(page))
		if err != nil {
			return all, fmt.Errorf("failed to fetch %s page %d: %w", op, page+1, err)
		}
		all = append(all, records...)

		if len(records) == 0 || len(records) < largest {
			return all, nil
		}
		largest = len(records)
	}

	s.logger.Warn("Pagination stopped at page limit", "operation", op, "max_pages", s.maxPages, "records", len(all))
	return all, nil
}

// calls and recordings page with startUtc/endUtc/pageSize/skip
func skipQuery(rng models.DateRange, pageSize, page int) url.Values {
	q := url.Values{}
	if !rng.From.IsZero() {
		q.Set("startUtc", rng.From.UTC().Format(providerTimeLayout))
	}
	if !rng.To.IsZero() {
		q.Set("endUtc", rng.To.UTC().Format(providerTimeLayout))
	}
	q.Set("pageSize", strconv.Itoa(pageSize))
	q.Set("skip", strconv.Itoa(page*pageSize))
	return q
}

// journal endpoints page with from/to/pageSize/page (1-based)
func journalQuery(rng models.DateRange, pageSize, page int) url.Values {
	q := url.Values{}
	if !rng.From.IsZero() {
		q.Set("from", rng.From.UTC().Format(providerTimeLayout))
	}
	if !rng.To.IsZero() {
		q.Set("to", rng.To.UTC().Format(providerTimeLayout))
	}
	q.Set("pageSize", strconv.Itoa(pageSize))
	q.Set("page", strconv.Itoa(page+1))
	return q
}
