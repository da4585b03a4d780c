package store

import (
	"context"
	"database/sql"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/jordanlanch/callops/pkg/domain"
	"github.com/jordanlanch/callops/pkg/models"
	"github.com/jordanlanch/callops/pkg/phone"
)

var callColumns = []string{
	"id", "org_id", "external_call_id", "from_number", "to_number", "from_digits", "to_digits",
	"status", "direction", "queue_name", "agent_name", "started_at", "duration_seconds",
	"recording_url", "created_at", "updated_at",
}

var phoneColumns = []string{
	"id", "org_id", "external_id", "number", "number_digits", "e164", "label", "is_active", "created_at", "updated_at",
}

// CreateOrganization inserts a tenant. Used for seeding and administration.
func (s *Store) CreateOrganization(ctx context.Context, name string) (*models.Organization, error) {
	if name == "" {
		return nil, domain.NewValidationError("organization name is required")
	}
	org := &models.Organization{
		ID:        uuid.NewString(),
		Name:      name,
		IsActive:  true,
		CreatedAt: s.timestamp(),
	}

	ins := s.builder().Insert(tableOrganizations).
		Columns("id", "name", "is_active", "created_at").
		Values(org.ID, org.Name, org.IsActive, org.CreatedAt)
	if _, err := s.exec(ctx, ins); err != nil {
		return nil, fmt.Errorf("failed to create organization: %w", err)
	}
	return org, nil
}

// SetOrganizationActive toggles whether scheduled syncs include the tenant
func (s *Store) SetOrganizationActive(ctx context.Context, orgID string, active bool) error {
	upd := s.builder().Update(tableOrganizations).Set("is_active", active).Where(entsql.EQ("id", orgID))
	res, err := s.exec(ctx, upd)
	if err != nil {
		return fmt.Errorf("failed to update organization: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewNotFoundError("organization")
	}
	return nil
}

// GetOrganization loads one tenant
func (s *Store) GetOrganization(ctx context.Context, orgID string) (*models.Organization, error) {
	orgs, err := s.listOrganizations(ctx, entsql.EQ("id", orgID))
	if err != nil {
		return nil, err
	}
	if len(orgs) == 0 {
		return nil, domain.NewNotFoundError("organization")
	}
	return &orgs[0], nil
}

// ListActiveOrganizations returns the tenants the scheduler syncs
func (s *Store) ListActiveOrganizations(ctx context.Context) ([]models.Organization, error) {
	return s.listOrganizations(ctx, entsql.EQ("is_active", true))
}

func (s *Store) listOrganizations(ctx context.Context, where *entsql.Predicate) ([]models.Organization, error) {
	sel := s.builder().Select("id", "name", "is_active", "created_at").
		From(entsql.Table(tableOrganizations)).Where(where).OrderBy("name")

	rows, err := s.query(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []models.Organization
	for rows.Next() {
		var o models.Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.IsActive, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		o.CreatedAt = o.CreatedAt.UTC()
		orgs = append(orgs, o)
	}
	return orgs, rows.Err()
}

// AssignPhoneNumber attaches a number to an organization, creating the
// catalog row when the provider has not reported it yet.
func (s *Store) AssignPhoneNumber(ctx context.Context, orgID, number string) (*models.PhoneNumber, error) {
	if err := requireOrg(orgID); err != nil {
		return nil, err
	}
	digits, e164, ok := phone.Normalize(number)
	if !ok {
		return nil, domain.NewValidationError("invalid phone number")
	}

	now := s.timestamp()
	ins := s.builder().Insert(tablePhoneNumbers).
		Columns("id", "org_id", "external_id", "number", "number_digits", "e164", "label",
			"is_active", "created_at", "updated_at").
		Values(uuid.NewString(), orgID, "", e164, digits, e164, phone.Label(digits), true, now, now).
		OnConflict(
			entsql.ConflictColumns("number"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				u.SetExcluded("org_id")
				u.Set("updated_at", now)
			}),
		)
	if _, err := s.exec(ctx, ins); err != nil {
		return nil, fmt.Errorf("failed to assign phone number: %w", classifyWriteError(err))
	}

	nums, err := s.listPhoneNumbers(ctx, entsql.EQ("number", e164))
	if err != nil {
		return nil, err
	}
	if len(nums) == 0 {
		return nil, domain.NewNotFoundError("phone number")
	}
	return &nums[0], nil
}

// AssignedNumbers returns the organization's active numbers
func (s *Store) AssignedNumbers(ctx context.Context, orgID string) ([]models.PhoneNumber, error) {
	if err := requireOrg(orgID); err != nil {
		return nil, err
	}
	return s.listPhoneNumbers(ctx, entsql.And(entsql.EQ("org_id", orgID), entsql.EQ("is_active", true)))
}

// ListPhoneNumbers returns the whole catalog, assigned or not
func (s *Store) ListPhoneNumbers(ctx context.Context) ([]models.PhoneNumber, error) {
	return s.listPhoneNumbers(ctx, nil)
}

func (s *Store) listPhoneNumbers(ctx context.Context, where *entsql.Predicate) ([]models.PhoneNumber, error) {
	sel := s.builder().Select(phoneColumns...).From(entsql.Table(tablePhoneNumbers)).OrderBy("number")
	if where != nil {
		sel = sel.Where(where)
	}

	rows, err := s.query(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("failed to list phone numbers: %w", err)
	}
	defer rows.Close()

	var nums []models.PhoneNumber
	for rows.Next() {
		var (
			n     models.PhoneNumber
			orgID sql.NullString
		)
		if err := rows.Scan(&n.ID, &orgID, &n.ExternalID, &n.Number, &n.NumberDigits, &n.E164, &n.Label,
			&n.IsActive, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan phone number: %w", err)
		}
		n.OrgID = stringPtr(orgID)
		nums = append(nums, n)
	}
	return nums, rows.Err()
}

// NumberOwners maps the digits of every assigned active number to its organization
func (s *Store) NumberOwners(ctx context.Context) (map[string]string, error) {
	sel := s.builder().Select("number_digits", "org_id").From(entsql.Table(tablePhoneNumbers)).
		Where(entsql.And(entsql.NotNull("org_id"), entsql.EQ("is_active", true)))

	rows, err := s.query(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("failed to load number owners: %w", err)
	}
	defer rows.Close()

	owners := make(map[string]string)
	for rows.Next() {
		var digits, orgID string
		if err := rows.Scan(&digits, &orgID); err != nil {
			return nil, fmt.Errorf("failed to scan number owner: %w", err)
		}
		owners[digits] = orgID
	}
	return owners, rows.Err()
}

// OrgsForDigits returns the organizations owning any of the given numbers
func (s *Store) OrgsForDigits(ctx context.Context, digits ...string) ([]string, error) {
	keys := unique(digits)
	if len(keys) == 0 {
		return nil, nil
	}

	sel := s.builder().Select("org_id").Distinct().From(entsql.Table(tablePhoneNumbers)).
		Where(entsql.And(entsql.NotNull("org_id"), entsql.In("number_digits", toArgs(keys)...))).
		OrderBy("org_id")

	rows, err := s.query(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve organizations: %w", err)
	}
	defer rows.Close()

	var orgs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan organization id: %w", err)
		}
		orgs = append(orgs, id)
	}
	return orgs, rows.Err()
}

func (s *Store) phoneIDsByDigits(ctx context.Context, orgID string, digits []string) (map[string]string, error) {
	ids := make(map[string]string)
	for _, chunk := range chunks(unique(digits), inChunk) {
		sel := s.builder().Select("number_digits", "id").From(entsql.Table(tablePhoneNumbers)).
			Where(entsql.And(entsql.EQ("org_id", orgID), entsql.In("number_digits", toArgs(chunk)...)))

		rows, err := s.query(ctx, sel)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve phone numbers: %w", err)
		}
		for rows.Next() {
			var d, id string
			if err := rows.Scan(&d, &id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan phone number id: %w", err)
			}
			ids[d] = id
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// CallIDsByExternal maps external call ids to stored call ids within an organization
func (s *Store) CallIDsByExternal(ctx context.Context, orgID string, externalIDs []string) (map[string]string, error) {
	ids := make(map[string]string)
	for _, chunk := range chunks(unique(externalIDs), inChunk) {
		sel := s.builder().Select("external_call_id", "id").From(entsql.Table(tableCalls)).
			Where(entsql.And(entsql.EQ("org_id", orgID), entsql.In("external_call_id", toArgs(chunk)...)))

		rows, err := s.query(ctx, sel)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve calls: %w", err)
		}
		for rows.Next() {
			var ext, id string
			if err := rows.Scan(&ext, &id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan call id: %w", err)
			}
			ids[ext] = id
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// CallsInRange returns calls started inside rng. An empty orgID spans all
// organizations; a zero range includes calls without a start time.
func (s *Store) CallsInRange(ctx context.Context, orgID string, rng models.DateRange) ([]models.Call, error) {
	var preds []*entsql.Predicate
	if orgID != "" {
		preds = append(preds, entsql.EQ("org_id", orgID))
	}
	if !rng.From.IsZero() {
		preds = append(preds, entsql.GTE("started_at", ts(rng.From)))
	}
	if !rng.To.IsZero() {
		preds = append(preds, entsql.LT("started_at", ts(rng.To)))
	}

	sel := s.builder().Select(callColumns...).From(entsql.Table(tableCalls)).OrderBy("started_at", "external_call_id")
	if len(preds) > 0 {
		sel = sel.Where(entsql.And(preds...))
	}

	rows, err := s.query(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("failed to list calls: %w", err)
	}
	defer rows.Close()

	var calls []models.Call
	for rows.Next() {
		var (
			c         models.Call
			status    string
			direction string
			startedAt sql.NullTime
		)
		if err := rows.Scan(&c.ID, &c.OrgID, &c.ExternalCallID, &c.FromNumber, &c.ToNumber, &c.FromDigits, &c.ToDigits,
			&status, &direction, &c.QueueName, &c.AgentName, &startedAt, &c.DurationSeconds,
			&c.RecordingURL, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		c.Status = models.CallStatus(status)
		c.Direction = models.Direction(direction)
		c.StartedAt = timePtr(startedAt)
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

// ListRecordings returns an organization's recordings
func (s *Store) ListRecordings(ctx context.Context, orgID string) ([]models.Recording, error) {
	sel := s.builder().Select("id", "org_id", "call_id", "phone_number_id", "external_recording_id",
		"external_call_id", "url", "duration_seconds", "recording_date", "created_at", "updated_at").
		From(entsql.Table(tableRecordings)).Where(entsql.EQ("org_id", orgID)).OrderBy("dedupe_key")

	rows, err := s.query(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	defer rows.Close()

	var recs []models.Recording
	for rows.Next() {
		var (
			r               models.Recording
			callID, phoneID sql.NullString
			recordedAt      sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.OrgID, &callID, &phoneID, &r.ExternalRecordingID, &r.ExternalCallID,
			&r.URL, &r.DurationSeconds, &recordedAt, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan recording: %w", err)
		}
		r.CallID = stringPtr(callID)
		r.PhoneNumberID = stringPtr(phoneID)
		r.RecordingDate = timePtr(recordedAt)
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// ListReportMetrics returns an organization's report rows
func (s *Store) ListReportMetrics(ctx context.Context, orgID string) ([]models.ReportMetric, error) {
	sel := s.builder().Select("id", "org_id", "external_id", "report_type", "metric_type", "value", "unit",
		"report_date", "created_at", "updated_at").
		From(entsql.Table(tableReports)).Where(entsql.EQ("org_id", orgID)).OrderBy("external_id")

	rows, err := s.query(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var metrics []models.ReportMetric
	for rows.Next() {
		var m models.ReportMetric
		if err := rows.Scan(&m.ID, &m.OrgID, &m.ExternalID, &m.ReportType, &m.MetricType, &m.Value, &m.Unit,
			&m.ReportDate, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

// ListSMS returns an organization's messages
func (s *Store) ListSMS(ctx context.Context, orgID string) ([]models.SmsMessage, error) {
	sel := s.builder().Select("id", "org_id", "phone_id", "external_id", "direction", "sender", "recipient",
		"sender_digits", "recipient_digits", "body", "status", "message_date", "created_at", "updated_at").
		From(entsql.Table(tableSMS)).Where(entsql.EQ("org_id", orgID)).OrderBy("external_id")

	rows, err := s.query(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.SmsMessage
	for rows.Next() {
		var (
			m         models.SmsMessage
			phoneID   sql.NullString
			direction string
			sentAt    sql.NullTime
		)
		if err := rows.Scan(&m.ID, &m.OrgID, &phoneID, &m.ExternalID, &direction, &m.Sender, &m.Recipient,
			&m.SenderDigits, &m.RecipientDigits, &m.Body, &m.Status, &sentAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.PhoneID = stringPtr(phoneID)
		m.Direction = models.Direction(direction)
		m.MessageDate = timePtr(sentAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// InsertRawEvent stores an audit copy of a provider payload
func (s *Store) InsertRawEvent(ctx context.Context, ev models.RawEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = s.now()
	}
	if ev.Source == "" || ev.Kind == "" {
		return domain.NewValidationError("raw event needs a source and kind")
	}

	ins := s.builder().Insert(tableRawEvents).
		Columns("id", "org_id", "source", "kind", "event_type", "external_id", "payload", "received_at").
		Values(ev.ID, nullableString(ev.OrgID), ev.Source, ev.Kind, ev.EventType, ev.ExternalID,
			string(ev.Payload), ts(ev.ReceivedAt))
	if _, err := s.exec(ctx, ins); err != nil {
		return fmt.Errorf("failed to insert raw event: %w", err)
	}
	return nil
}

// ListRawEvents returns the newest raw events, optionally for one source
func (s *Store) ListRawEvents(ctx context.Context, source string, limit int) ([]models.RawEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	sel := s.builder().Select("id", "org_id", "source", "kind", "event_type", "external_id", "payload", "received_at").
		From(entsql.Table(tableRawEvents)).OrderBy(entsql.Desc("received_at"), "id").Limit(limit)
	if source != "" {
		sel = sel.Where(entsql.EQ("source", source))
	}

	rows, err := s.query(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("failed to list raw events: %w", err)
	}
	defer rows.Close()

	var events []models.RawEvent
	for rows.Next() {
		var (
			ev      models.RawEvent
			orgID   sql.NullString
			payload string
		)
		if err := rows.Scan(&ev.ID, &orgID, &ev.Source, &ev.Kind, &ev.EventType, &ev.ExternalID, &payload, &ev.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan raw event: %w", err)
		}
		ev.OrgID = stringPtr(orgID)
		ev.Payload = []byte(payload)
		events = append(events, ev)
	}
	return events, rows.Err()
}
