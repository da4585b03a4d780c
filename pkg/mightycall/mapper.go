package mightycall

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jordanlanch/callops/pkg/domain"
	"github.com/jordanlanch/callops/pkg/models"
	"github.com/jordanlanch/callops/pkg/phone"
)

// Field alias lists, highest priority first.
var (
	callIDAliases = []string{"id", "callId", "call_id", "uid", "requestId"}

	fromAliases = []string{
		"from", "fromNumber", "from_number", "fromE164", "fromMsisdn", "callerNumber",
		"caller.phoneNumber", "caller.number", "caller.e164", "caller.msisdn", "caller.phone",
		"from.phoneNumber", "from.number", "from.e164", "from.msisdn",
		"client.phoneNumber", "caller",
	}
	toAliases = []string{
		"to", "toNumber", "to_number", "toE164", "toMsisdn", "calledNumber", "businessNumber",
		"called.phoneNumber", "called.number", "called.e164", "called.msisdn", "called.phone",
		"to.phoneNumber", "to.number", "to.e164", "to.msisdn",
		"businessNumber.number", "businessNumber.phoneNumber", "businessNumber.e164", "businessNumber.msisdn", "called",
	}

	statusAliases    = []string{"status", "callStatus", "call_status", "state", "result"}
	directionAliases = []string{"direction", "callDirection", "call_direction"}
	startAliases     = []string{"dateTimeUtc", "startedAt", "started_at", "startTime", "start_time", "dateTime", "createdAt", "created_at", "date"}
	durationAliases  = []string{"duration", "durationSeconds", "duration_seconds", "callDuration", "talkTime"}
	durationMsAlias  = []string{"durationMs", "duration_ms", "durationMilliseconds"}
	queueAliases     = []string{"queue.name", "queueName", "queue_name", "queue", "callQueue"}
	agentAliases     = []string{"agent.name", "agentName", "agent_name", "user.name", "answeredBy", "agent"}
	recordURLAliases = []string{"recording.url", "recordingUrl", "recording_url", "recordUrl", "callRecord.uri"}

	recordingIDAliases    = []string{"id", "recordingId", "recording_id", "uid"}
	recordingCallAliases  = []string{"callId", "call_id", "call.id", "requestId"}
	recordingURLAliases   = []string{"url", "uri", "recordingUrl", "recording_url", "fileUrl", "link"}
	recordingPhoneAliases = []string{
		"phoneNumber", "phone_number", "number", "e164", "msisdn", "businessNumber", "to",
		"called.phoneNumber", "called.number", "called.e164", "called.msisdn",
		"from", "caller.phoneNumber", "caller.number", "caller.e164", "caller.msisdn",
	}
	recordingDateAliases = []string{"dateTimeUtc", "recordingDate", "recording_date", "createdAt", "created_at", "date", "startedAt"}

	reportIDAliases     = []string{"id", "reportId", "report_id", "uid"}
	reportTypeAliases   = []string{"type", "reportType", "report_type", "name"}
	reportDateAliases   = []string{"date", "reportDate", "report_date", "period.start", "from", "createdAt"}
	reportMetricsAlias  = []string{"metrics", "data.metrics", "values"}
	metricTypeAliases   = []string{"type", "metricType", "metric_type", "name", "key"}
	metricValueAliases  = []string{"value", "count", "total", "amount"}
	metricUnitAliases   = []string{"unit", "units"}
	singleMetricAliases = []string{"metricType", "metric_type", "metric"}

	smsIDAliases = []string{"id", "messageId", "message_id", "requestId", "uid"}

	smsSenderAliases = []string{
		"from", "sender", "from.phoneNumber", "from.number", "from.e164", "from.msisdn",
		"sender.phoneNumber", "sender.msisdn", "client.phoneNumber",
	}
	smsRecipientAliases = []string{
		"to", "recipient", "to.phoneNumber", "to.number", "to.e164", "to.msisdn",
		"recipient.phoneNumber", "recipient.msisdn", "businessNumber",
	}

	smsBodyAliases   = []string{"text", "body", "message", "content"}
	smsStatusAliases = []string{"status", "state"}
	smsDateAliases   = []string{"dateTimeUtc", "createdAt", "created_at", "date", "sentAt", "timestamp"}

	numberAliases      = []string{"number", "phoneNumber", "phone_number", "e164", "msisdn", "value"}
	numberIDAliases    = []string{"id", "numberId", "uid"}
	numberLabelAliases = []string{"label", "name", "friendlyName", "description"}
	numberActiveAlias  = []string{"isActive", "is_active", "active", "enabled"}
)

// MapCall normalizes a provider call. The organization is assigned by the caller.
func MapCall(r Raw) (models.Call, error) {
	id := r.String(callIDAliases...)
	if id == "" {
		return models.Call{}, domain.NewValidationError("call without external id")
	}

	call := models.Call{
		ExternalCallID:  id,
		Status:          NormalizeStatus(r.String(statusAliases...)),
		Direction:       NormalizeDirection(r.String(directionAliases...)),
		QueueName:       r.String(queueAliases...),
		AgentName:       r.String(agentAliases...),
		DurationSeconds: durationSeconds(r),
		RecordingURL:    r.String(recordURLAliases...),
	}
	call.FromDigits, call.FromNumber, _ = phone.Normalize(r.String(fromAliases...))
	call.ToDigits, call.ToNumber, _ = phone.Normalize(r.String(toAliases...))

	if t, ok := r.Time(startAliases...); ok {
		t = t.Truncate(time.Second)
		call.StartedAt = &t
	}
	return call, nil
}

// MapRecording normalizes a recording. The URL stands in for a missing id.
func MapRecording(r Raw) (models.Recording, error) {
	url := r.String(recordingURLAliases...)
	id := r.String(recordingIDAliases...)
	if id == "" {
		id = url
	}
	if id == "" {
		return models.Recording{}, domain.NewValidationError("recording without external id or url")
	}

	rec := models.Recording{
		ExternalRecordingID: id,
		ExternalCallID:      r.String(recordingCallAliases...),
		PhoneDigits:         phone.DigitsOrEmpty(r.String(recordingPhoneAliases...)),
		URL:                 url,
		DurationSeconds:     durationSeconds(r),
	}
	if t, ok := r.Time(recordingDateAliases...); ok {
		t = t.Truncate(time.Second)
		rec.RecordingDate = &t
	}
	return rec, nil
}

// MapReport fans a report out into one metric row per entry of its metrics
// array. A report without the array yields a single row.
func MapReport(r Raw) ([]models.ReportMetric, error) {
	reportType := r.String(reportTypeAliases...)
	if reportType == "" {
		return nil, domain.NewValidationError("report without type")
	}
	date, ok := r.Time(reportDateAliases...)
	if !ok {
		return nil, domain.NewValidationError("report without date")
	}
	date = date.Truncate(time.Second)

	reportID := r.String(reportIDAliases...)
	if reportID == "" {
		reportID = reportType + ":" + date.Format("2006-01-02")
	}

	base := models.ReportMetric{
		ReportExternalID: reportID,
		ReportType:       reportType,
		ReportDate:       date,
	}

	entries := r.Slice(reportMetricsAlias...)
	if entries == nil {
		value, ok := r.Float(metricValueAliases...)
		if !ok {
			return nil, domain.NewValidationError("report without metric values")
		}
		m := base
		m.MetricType = r.String(singleMetricAliases...)
		if m.MetricType == "" {
			m.MetricType = reportType
		}
		m.Value = value
		m.Unit = r.String(metricUnitAliases...)
		m.ExternalID = reportID + ":" + m.MetricType
		return []models.ReportMetric{m}, nil
	}

	metrics := make([]models.ReportMetric, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		metricType := e.String(metricTypeAliases...)
		value, ok := e.Float(metricValueAliases...)
		if metricType == "" || !ok || seen[metricType] {
			continue
		}
		seen[metricType] = true

		m := base
		m.MetricType = metricType
		m.Value = value
		m.Unit = e.String(metricUnitAliases...)
		m.ExternalID = reportID + ":" + metricType
		metrics = append(metrics, m)
	}
	if len(metrics) == 0 {
		return nil, domain.NewValidationError("report without usable metrics")
	}
	return metrics, nil
}

// MapSMS normalizes a journal message
func MapSMS(r Raw) (models.SmsMessage, error) {
	id := r.String(smsIDAliases...)
	if id == "" {
		return models.SmsMessage{}, domain.NewValidationError("message without external id")
	}

	msg := models.SmsMessage{
		ExternalID: id,
		Direction:  NormalizeDirection(r.String(directionAliases...)),
		Body:       r.String(smsBodyAliases...),
		Status:     strings.ToLower(r.String(smsStatusAliases...)),
	}
	msg.SenderDigits, msg.Sender, _ = phone.Normalize(r.String(smsSenderAliases...))
	msg.RecipientDigits, msg.Recipient, _ = phone.Normalize(r.String(smsRecipientAliases...))

	if t, ok := r.Time(smsDateAliases...); ok {
		t = t.Truncate(time.Second)
		msg.MessageDate = &t
	}
	return msg, nil
}

// MapPhoneNumber normalizes a catalog entry. Number is stored as E.164.
func MapPhoneNumber(r Raw) (models.PhoneNumber, error) {
	digits, e164, ok := phone.Normalize(r.String(numberAliases...))
	if !ok {
		return models.PhoneNumber{}, domain.NewValidationError("phone number without digits")
	}

	active, ok := r.Bool(numberActiveAlias...)
	if !ok {
		active = true
	}

	label := r.String(numberLabelAliases...)
	if label == "" {
		label = phone.Label(digits)
	}

	return models.PhoneNumber{
		ExternalID:   r.String(numberIDAliases...),
		Number:       e164,
		NumberDigits: digits,
		E164:         e164,
		Label:        label,
		IsActive:     active,
	}, nil
}

// NormalizeStatus maps provider call states onto the closed status set
func NormalizeStatus(s string) models.CallStatus {
	key := strings.NewReplacer(" ", "", "_", "", "-", "").Replace(strings.ToLower(strings.TrimSpace(s)))
	switch key {
	case "connected", "completed", "answered", "success", "successful":
		return models.CallStatusCompleted
	case "missed", "noanswer", "notanswered", "unanswered", "abandoned", "busy", "failed", "canceled", "cancelled", "rejected":
		return models.CallStatusMissed
	case "voicemail":
		return models.CallStatusVoicemail
	case "transferred", "forwarded":
		return models.CallStatusTransferred
	default:
		return models.CallStatusUnknown
	}
}

// NormalizeDirection returns "" when the provider value is unrecognized.
func NormalizeDirection(s string) models.Direction {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "incoming", "inbound", "in":
		return models.DirectionInbound
	case "outgoing", "outbound", "out":
		return models.DirectionOutbound
	default:
		return ""
	}
}

func durationSeconds(r Raw) int {
	for _, a := range durationAliases {
		if secs, ok := parseDuration(r.lookup(a)); ok {
			return secs
		}
	}
	if ms, ok := r.Float(durationMsAlias...); ok && ms >= 0 {
		return int(math.Round(ms / 1000))
	}
	return 0
}

// parseDuration accepts seconds or a clock string (hh:mm:ss or mm:ss)
func parseDuration(v any) (int, bool) {
	switch d := v.(type) {
	case json.Number:
		f, err := d.Float64()
		if err != nil || f < 0 {
			return 0, false
		}
		return int(math.Round(f)), true
	case float64:
		if d < 0 {
			return 0, false
		}
		return int(math.Round(d)), true
	case string:
		d = strings.TrimSpace(d)
		if d == "" {
			return 0, false
		}
		if !strings.Contains(d, ":") {
			f, err := strconv.ParseFloat(d, 64)
			if err != nil || f < 0 {
				return 0, false
			}
			return int(math.Round(f)), true
		}

		total := 0
		for _, part := range strings.Split(d, ":") {
			f, err := strconv.ParseFloat(part, 64)
			if err != nil || f < 0 {
				return 0, false
			}
			total = total*60 + int(math.Round(f))
		}
		return total, true
	}
	return 0, false
}
