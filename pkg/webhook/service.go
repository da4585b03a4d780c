package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jordanlanch/callops/pkg/domain"
	"github.com/jordanlanch/callops/pkg/logger"
	"github.com/jordanlanch/callops/pkg/metrics"
	"github.com/jordanlanch/callops/pkg/mightycall"
	"github.com/jordanlanch/callops/pkg/models"
	"github.com/jordanlanch/callops/pkg/store"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw body
const SignatureHeader = "X-Signature"

// Event families
const (
	FamilyCall      = "call"
	FamilySMS       = "sms"
	FamilyRecording = "recording"
	FamilyReport    = "report"
)

// Outcome statuses
const (
	StatusStored     = "stored"
	StatusUnresolved = "unresolved"
	StatusAmbiguous  = "ambiguous"
	StatusInvalid    = "invalid"
	StatusIgnored    = "ignored"
)

// Envelope is the provider push payload
type Envelope struct {
	ID    string          `json:"id,omitempty"`
	Event string          `json:"event"`
	OrgID string          `json:"org_id,omitempty"`
	Data  json.RawMessage `json:"data"`
}

// Outcome describes what happened to one delivery
type Outcome struct {
	Event   string `json:"event"`
	Family  string `json:"family"`
	OrgID   string `json:"org_id,omitempty"`
	Status  string `json:"status"`
	Written int    `json:"written"`
}

// Repository is the persistence the webhook path shares with the sync engine
type Repository interface {
	InsertRawEvent(ctx context.Context, ev models.RawEvent) error
	GetOrganization(ctx context.Context, orgID string) (*models.Organization, error)
	OrgsForDigits(ctx context.Context, digits ...string) ([]string, error)
	AssignedNumbers(ctx context.Context, orgID string) ([]models.PhoneNumber, error)
	UpsertCalls(ctx context.Context, orgID string, calls []models.Call) (store.Result, error)
	UpsertRecordings(ctx context.Context, orgID string, recs []models.Recording) (store.Result, error)
	UpsertReportMetrics(ctx context.Context, orgID string, metrics []models.ReportMetric) (store.Result, error)
	UpsertSMS(ctx context.Context, orgID string, msgs []models.SmsMessage) (store.Result, error)
}

// Config holds the shared secrets. At least one must be set.
type Config struct {
	Secret string
	Token  string
}

// Service ingests provider webhook events
type Service struct {
	repo    Repository
	cfg     Config
	metrics *metrics.Metrics
	logger  logger.Logger
	now     func() time.Time
}

// NewService creates a new webhook service
func NewService(repo Repository, cfg Config, m *metrics.Metrics, log logger.Logger) *Service {
	if log == nil {
		log = logger.Default()
	}
	return &Service{
		repo:    repo,
		cfg:     cfg,
		metrics: m,
		logger:  log.With("component", "webhook"),
		now:     time.Now,
	}
}

// Authenticate accepts either the configured bearer token or a valid body signature
func (s *Service) Authenticate(header http.Header, body []byte) error {
	if s.cfg.Secret == "" && s.cfg.Token == "" {
		return domain.NewConfigError("webhook secret or token is not configured", nil)
	}

	if s.cfg.Token != "" {
		if token, ok := strings.CutPrefix(header.Get("Authorization"), "Bearer "); ok {
			if hmac.Equal([]byte(strings.TrimSpace(token)), []byte(s.cfg.Token)) {
				return nil
			}
		}
	}
	if s.cfg.Secret != "" {
		if sig := header.Get(SignatureHeader); sig != "" && VerifySignature(body, sig, s.cfg.Secret) {
			return nil
		}
	}
	return domain.NewAuthError(fmt.Errorf("invalid webhook credentials"))
}

// Sign returns the hex HMAC-SHA256 of payload
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against payload. A "sha256=" prefix is accepted.
func VerifySignature(payload []byte, signature, secret string) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected))
}

// entity is a mapped event payload waiting for an organization
type entity struct {
	externalID string
	digits     []string
	write      func(ctx context.Context, repo Repository, orgID string, owned map[string]bool) (store.Result, error)
}

// Handle stores the raw event and, when exactly one organization owns it,
// writes the mapped entity with the same keys the sync engine uses. The
// error is non-nil only for malformed envelopes and storage failures.
func (s *Service) Handle(ctx context.Context, body []byte) (*Outcome, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, domain.NewValidationError("malformed webhook envelope")
	}
	env.Event = strings.ToLower(strings.TrimSpace(env.Event))
	if env.Event == "" {
		return nil, domain.NewValidationError("webhook event is required")
	}

	family, _, _ := strings.Cut(env.Event, ".")
	out := &Outcome{Event: env.Event, Family: family}
	log := s.logger.With("event", env.Event)

	var data mightycall.Raw
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, domain.NewValidationError("webhook data must be an object")
		}
	}

	ent, mapErr := mapEntity(family, data)
	orgID, status := s.resolveOrg(ctx, env, ent, log)
	out.OrgID = orgID

	raw := models.RawEvent{
		Source:     models.RawSourceWebhook,
		Kind:       family,
		EventType:  env.Event,
		ExternalID: env.ID,
		Payload:    body,
		ReceivedAt: s.now(),
	}
	if ent != nil && raw.ExternalID == "" {
		raw.ExternalID = ent.externalID
	}
	if orgID != "" {
		raw.OrgID = &orgID
	}
	if err := s.repo.InsertRawEvent(ctx, raw); err != nil {
		return nil, fmt.Errorf("failed to store raw webhook event: %w", err)
	}

	switch {
	case mapErr != nil:
		out.Status = StatusInvalid
		log.Warn("Webhook payload could not be mapped", "error", mapErr)
	case ent == nil:
		out.Status = StatusIgnored
	case orgID == "":
		out.Status = status
	default:
		numbers, err := s.repo.AssignedNumbers(ctx, orgID)
		if err != nil {
			return nil, fmt.Errorf("failed to load assigned numbers: %w", err)
		}
		owned := make(map[string]bool, len(numbers))
		for _, n := range numbers {
			owned[n.NumberDigits] = true
		}

		res, err := ent.write(ctx, s.repo, orgID, owned)
		if err != nil {
			return nil, fmt.Errorf("failed to store %s event: %w", family, err)
		}
		out.Written = res.Written()
		out.Status = StatusStored
	}

	s.metrics.RecordWebhookEvent(family, out.Status)
	log.Info("Webhook event processed", "org_id", out.OrgID, "status", out.Status, "written", out.Written)
	return out, nil
}

// resolveOrg picks the organization from the envelope or from phone ownership.
// Zero or several owners leave the event unattributed.
func (s *Service) resolveOrg(ctx context.Context, env Envelope, ent *entity, log logger.Logger) (string, string) {
	if env.OrgID != "" {
		org, err := s.repo.GetOrganization(ctx, env.OrgID)
		if err != nil {
			log.Warn("Webhook names an unknown organization", "org_id", env.OrgID, "error", err)
			return "", StatusUnresolved
		}
		return org.ID, StatusStored
	}
	if ent == nil || len(ent.digits) == 0 {
		return "", StatusUnresolved
	}

	orgs, err := s.repo.OrgsForDigits(ctx, ent.digits...)
	if err != nil {
		log.Warn("Failed to resolve organization by phone", "error", err)
		return "", StatusUnresolved
	}
	switch len(orgs) {
	case 0:
		return "", StatusUnresolved
	case 1:
		return orgs[0], StatusStored
	default:
		log.Warn("Ambiguous org match", "external_id", ent.externalID, "org_ids", orgs)
		return "", StatusAmbiguous
	}
}

// mapEntity maps data with the shared entity mapper. An unknown family
// yields no entity and no error.
func mapEntity(family string, data mightycall.Raw) (*entity, error) {
	switch family {
	case FamilyCall:
		call, err := mightycall.MapCall(data)
		if err != nil {
			return nil, err
		}
		return &entity{
			externalID: call.ExternalCallID,
			digits:     nonEmpty(call.FromDigits, call.ToDigits),
			write: func(ctx context.Context, repo Repository, orgID string, owned map[string]bool) (store.Result, error) {
				if call.Direction == "" {
					call.Direction = inferDirection(owned, call.FromDigits, call.ToDigits)
				}
				return repo.UpsertCalls(ctx, orgID, []models.Call{call})
			},
		}, nil

	case FamilySMS:
		msg, err := mightycall.MapSMS(data)
		if err != nil {
			return nil, err
		}
		return &entity{
			externalID: msg.ExternalID,
			digits:     nonEmpty(msg.SenderDigits, msg.RecipientDigits),
			write: func(ctx context.Context, repo Repository, orgID string, owned map[string]bool) (store.Result, error) {
				if msg.Direction == "" {
					msg.Direction = inferDirection(owned, msg.SenderDigits, msg.RecipientDigits)
				}
				return repo.UpsertSMS(ctx, orgID, []models.SmsMessage{msg})
			},
		}, nil

	case FamilyRecording:
		rec, err := mightycall.MapRecording(data)
		if err != nil {
			return nil, err
		}
		return &entity{
			externalID: rec.ExternalRecordingID,
			digits:     nonEmpty(rec.PhoneDigits),
			write: func(ctx context.Context, repo Repository, orgID string, _ map[string]bool) (store.Result, error) {
				return repo.UpsertRecordings(ctx, orgID, []models.Recording{rec})
			},
		}, nil

	case FamilyReport:
		rows, err := mightycall.MapReport(data)
		if err != nil {
			return nil, err
		}
		return &entity{
			externalID: rows[0].ReportExternalID,
			write: func(ctx context.Context, repo Repository, orgID string, _ map[string]bool) (store.Result, error) {
				return repo.UpsertReportMetrics(ctx, orgID, rows)
			},
		}, nil
	}
	return nil, nil
}

// inferDirection treats a record as outbound only when the sender is ours
// and the recipient is not
func inferDirection(owned map[string]bool, from, to string) models.Direction {
	if !owned[to] && owned[from] {
		return models.DirectionOutbound
	}
	return models.DirectionInbound
}

func nonEmpty(values ...string) []string {
	out := values[:0]
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
