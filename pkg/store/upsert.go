package store

import (
	"context"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/jordanlanch/callops/pkg/models"
	"github.com/jordanlanch/callops/pkg/phone"
)

// resolveUpdates refreshes the mutable columns and updated_at on conflict.
// id and created_at are never touched.
func resolveUpdates(now any, columns ...string) entsql.ConflictOption {
	return entsql.ResolveWith(func(u *entsql.UpdateSet) {
		for _, c := range columns {
			u.SetExcluded(c)
		}
		u.Set("updated_at", now)
	})
}

// UpsertCalls writes calls keyed by (org_id, external_call_id)
func (s *Store) UpsertCalls(ctx context.Context, orgID string, calls []models.Call) (Result, error) {
	var res Result
	if err := requireOrg(orgID); err != nil {
		return res, err
	}
	if len(calls) == 0 {
		return res, nil
	}

	keys := make([]string, len(calls))
	for i, c := range calls {
		keys[i] = c.ExternalCallID
	}
	existing, err := s.existingKeys(ctx, tableCalls, "external_call_id", orgID, keys)
	if err != nil {
		return Result{Failed: len(calls)}, err
	}

	now := s.timestamp()
	for _, c := range calls {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if c.ExternalCallID == "" {
			res.Skipped++
			continue
		}

		fromDigits, fromNumber, _ := phone.Normalize(c.FromNumber)
		toDigits, toNumber, _ := phone.Normalize(c.ToNumber)
		direction := c.Direction
		if direction == "" {
			direction = models.DirectionInbound
		}
		status := c.Status
		if status == "" {
			status = models.CallStatusUnknown
		}

		ins := s.builder().Insert(tableCalls).
			Columns("id", "org_id", "external_call_id", "from_number", "to_number", "from_digits", "to_digits",
				"status", "direction", "queue_name", "agent_name", "started_at", "duration_seconds",
				"recording_url", "created_at", "updated_at").
			Values(uuid.NewString(), orgID, c.ExternalCallID, fromNumber, toNumber, fromDigits, toDigits,
				string(status), string(direction), c.QueueName, c.AgentName, nullableTime(c.StartedAt), c.DurationSeconds,
				c.RecordingURL, now, now).
			OnConflict(
				entsql.ConflictColumns("org_id", "external_call_id"),
				resolveUpdates(now, "from_number", "to_number", "from_digits", "to_digits", "status", "direction",
					"queue_name", "agent_name", "started_at", "duration_seconds", "recording_url"),
			)

		_, err := s.exec(ctx, ins)
		if s.record(&res, "call", c.ExternalCallID, existing[c.ExternalCallID], err) {
			existing[c.ExternalCallID] = true
		}
	}
	return res, nil
}

// UpsertRecordings writes recordings keyed by (org_id, dedupe_key). The call
// reference is resolved here by external call id within the organization and
// left NULL when no such call is stored. A resolved reference is never
// replaced by NULL on a later write.
func (s *Store) UpsertRecordings(ctx context.Context, orgID string, recs []models.Recording) (Result, error) {
	var res Result
	if err := requireOrg(orgID); err != nil {
		return res, err
	}
	if len(recs) == 0 {
		return res, nil
	}

	callRefs := make([]string, 0, len(recs))
	var digits []string
	keys := make([]string, len(recs))
	for i := range recs {
		recs[i].OrgID = orgID
		keys[i] = recs[i].DedupeKey()
		callRefs = append(callRefs, recs[i].ExternalCallID)
		if recs[i].PhoneDigits != "" {
			digits = append(digits, recs[i].PhoneDigits)
		}
	}

	existing, err := s.existingKeys(ctx, tableRecordings, "dedupe_key", orgID, keys)
	if err != nil {
		return Result{Failed: len(recs)}, err
	}
	callIDs, err := s.CallIDsByExternal(ctx, orgID, callRefs)
	if err != nil {
		return Result{Failed: len(recs)}, err
	}
	phoneIDs, err := s.phoneIDsByDigits(ctx, orgID, digits)
	if err != nil {
		return Result{Failed: len(recs)}, err
	}

	now := s.timestamp()
	coalesceCall := entsql.Expr("COALESCE(excluded.call_id, " + tableRecordings + ".call_id)")
	coalescePhone := entsql.Expr("COALESCE(excluded.phone_number_id, " + tableRecordings + ".phone_number_id)")

	for i, r := range recs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if r.ExternalRecordingID == "" {
			res.Skipped++
			continue
		}

		var callID, phoneID any
		if id, ok := callIDs[r.ExternalCallID]; ok {
			callID = id
		}
		if id, ok := phoneIDs[r.PhoneDigits]; ok {
			phoneID = id
		}

		ins := s.builder().Insert(tableRecordings).
			Columns("id", "org_id", "call_id", "phone_number_id", "external_recording_id", "external_call_id",
				"dedupe_key", "url", "duration_seconds", "recording_date", "created_at", "updated_at").
			Values(uuid.NewString(), orgID, callID, phoneID, r.ExternalRecordingID, r.ExternalCallID,
				keys[i], r.URL, r.DurationSeconds, nullableTime(r.RecordingDate), now, now).
			OnConflict(
				entsql.ConflictColumns("org_id", "dedupe_key"),
				entsql.ResolveWith(func(u *entsql.UpdateSet) {
					u.SetExcluded("url")
					u.SetExcluded("duration_seconds")
					u.SetExcluded("recording_date")
					u.Set("call_id", coalesceCall)
					u.Set("phone_number_id", coalescePhone)
					u.Set("updated_at", now)
				}),
			)

		_, err := s.exec(ctx, ins)
		if s.record(&res, "recording", keys[i], existing[keys[i]], err) {
			existing[keys[i]] = true
		}
	}
	return res, nil
}

// UpsertReportMetrics writes fanned-out report rows keyed by (org_id, external_id)
func (s *Store) UpsertReportMetrics(ctx context.Context, orgID string, metrics []models.ReportMetric) (Result, error) {
	var res Result
	if err := requireOrg(orgID); err != nil {
		return res, err
	}
	if len(metrics) == 0 {
		return res, nil
	}

	keys := make([]string, len(metrics))
	for i, m := range metrics {
		keys[i] = m.ExternalID
	}
	existing, err := s.existingKeys(ctx, tableReports, "external_id", orgID, keys)
	if err != nil {
		return Result{Failed: len(metrics)}, err
	}

	now := s.timestamp()
	for _, m := range metrics {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if m.ExternalID == "" {
			res.Skipped++
			continue
		}

		ins := s.builder().Insert(tableReports).
			Columns("id", "org_id", "external_id", "report_type", "metric_type", "value", "unit",
				"report_date", "created_at", "updated_at").
			Values(uuid.NewString(), orgID, m.ExternalID, m.ReportType, m.MetricType, m.Value, m.Unit,
				ts(m.ReportDate), now, now).
			OnConflict(
				entsql.ConflictColumns("org_id", "external_id"),
				resolveUpdates(now, "report_type", "metric_type", "value", "unit", "report_date"),
			)

		_, err := s.exec(ctx, ins)
		if s.record(&res, "report", m.ExternalID, existing[m.ExternalID], err) {
			existing[m.ExternalID] = true
		}
	}
	return res, nil
}

// UpsertSMS writes messages keyed by (org_id, external_id). phone_id points at
// the organization's own number on the message.
func (s *Store) UpsertSMS(ctx context.Context, orgID string, msgs []models.SmsMessage) (Result, error) {
	var res Result
	if err := requireOrg(orgID); err != nil {
		return res, err
	}
	if len(msgs) == 0 {
		return res, nil
	}

	keys := make([]string, len(msgs))
	var digits []string
	for i, m := range msgs {
		keys[i] = m.ExternalID
		digits = append(digits, phone.DigitsOrEmpty(m.Sender), phone.DigitsOrEmpty(m.Recipient))
	}
	existing, err := s.existingKeys(ctx, tableSMS, "external_id", orgID, keys)
	if err != nil {
		return Result{Failed: len(msgs)}, err
	}
	phoneIDs, err := s.phoneIDsByDigits(ctx, orgID, digits)
	if err != nil {
		return Result{Failed: len(msgs)}, err
	}

	now := s.timestamp()
	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if m.ExternalID == "" {
			res.Skipped++
			continue
		}

		senderDigits, sender, _ := phone.Normalize(m.Sender)
		recipientDigits, recipient, _ := phone.Normalize(m.Recipient)
		direction := m.Direction
		if direction == "" {
			direction = models.DirectionInbound
		}

		own, other := recipientDigits, senderDigits
		if direction == models.DirectionOutbound {
			own, other = senderDigits, recipientDigits
		}
		var phoneID any
		if id, ok := phoneIDs[own]; ok {
			phoneID = id
		} else if id, ok := phoneIDs[other]; ok {
			phoneID = id
		}

		ins := s.builder().Insert(tableSMS).
			Columns("id", "org_id", "phone_id", "external_id", "direction", "sender", "recipient",
				"sender_digits", "recipient_digits", "body", "status", "message_date", "created_at", "updated_at").
			Values(uuid.NewString(), orgID, phoneID, m.ExternalID, string(direction), sender, recipient,
				senderDigits, recipientDigits, m.Body, m.Status, nullableTime(m.MessageDate), now, now).
			OnConflict(
				entsql.ConflictColumns("org_id", "external_id"),
				resolveUpdates(now, "phone_id", "direction", "sender", "recipient", "sender_digits",
					"recipient_digits", "body", "status", "message_date"),
			)

		_, err := s.exec(ctx, ins)
		if s.record(&res, "sms", m.ExternalID, existing[m.ExternalID], err) {
			existing[m.ExternalID] = true
		}
	}
	return res, nil
}

// UpsertPhoneNumbers refreshes the provider catalog keyed by canonical number.
// Organization assignment is only set on insert and never overwritten here.
func (s *Store) UpsertPhoneNumbers(ctx context.Context, nums []models.PhoneNumber) (Result, error) {
	var res Result
	if len(nums) == 0 {
		return res, nil
	}

	existing, err := s.existingNumbers(ctx, nums)
	if err != nil {
		return Result{Failed: len(nums)}, err
	}

	now := s.timestamp()
	for _, n := range nums {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		digits, e164, ok := phone.Normalize(n.Number)
		if !ok {
			res.Skipped++
			continue
		}
		label := n.Label
		if label == "" {
			label = phone.Label(digits)
		}

		ins := s.builder().Insert(tablePhoneNumbers).
			Columns("id", "org_id", "external_id", "number", "number_digits", "e164", "label",
				"is_active", "created_at", "updated_at").
			Values(uuid.NewString(), nullableString(n.OrgID), n.ExternalID, e164, digits, e164, label,
				n.IsActive, now, now).
			OnConflict(
				entsql.ConflictColumns("number"),
				resolveUpdates(now, "external_id", "number_digits", "e164", "label", "is_active"),
			)

		_, err := s.exec(ctx, ins)
		if s.record(&res, "phone_number", e164, existing[e164], err) {
			existing[e164] = true
		}
	}
	return res, nil
}

func (s *Store) existingNumbers(ctx context.Context, nums []models.PhoneNumber) (map[string]bool, error) {
	keys := make([]string, 0, len(nums))
	for _, n := range nums {
		if _, e164, ok := phone.Normalize(n.Number); ok {
			keys = append(keys, e164)
		}
	}

	found := make(map[string]bool, len(keys))
	for _, chunk := range chunks(unique(keys), inChunk) {
		sel := s.builder().Select("number").From(entsql.Table(tablePhoneNumbers)).
			Where(entsql.In("number", toArgs(chunk)...))
		rows, err := s.query(ctx, sel)
		if err != nil {
			return nil, fmt.Errorf("failed to query existing phone numbers: %w", err)
		}
		for rows.Next() {
			var k string
			if err := rows.Scan(&k); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan phone number: %w", err)
			}
			found[k] = true
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
	}
	return found, nil
}
