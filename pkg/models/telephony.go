package models

import "time"

// CallStatus is the normalized outcome of a call
type CallStatus string

// Call statuses
const (
	CallStatusCompleted   CallStatus = "completed"
	CallStatusMissed      CallStatus = "missed"
	CallStatusVoicemail   CallStatus = "voicemail"
	CallStatusTransferred CallStatus = "transferred"
	CallStatusUnknown     CallStatus = "unknown"
)

// Answered reports whether a caller reached someone
func (s CallStatus) Answered() bool {
	return s == CallStatusCompleted || s == CallStatusTransferred
}

// Missed reports whether the call went unanswered
func (s CallStatus) Missed() bool {
	return s == CallStatusMissed || s == CallStatusVoicemail
}

// Direction of a call or message
type Direction string

// Directions
const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Organization is a tenant
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// PhoneNumber is a provider number, optionally assigned to an organization.
// Number holds the canonical E.164 form and is globally unique.
type PhoneNumber struct {
	ID           string    `json:"id"`
	OrgID        *string   `json:"org_id,omitempty"`
	ExternalID   string    `json:"external_id,omitempty"`
	Number       string    `json:"number"`
	NumberDigits string    `json:"number_digits"`
	E164         string    `json:"e164"`
	Label        string    `json:"label,omitempty"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// Call is a normalized provider call
type Call struct {
	ID              string     `json:"id"`
	OrgID           string     `json:"org_id"`
	ExternalCallID  string     `json:"external_call_id"`
	FromNumber      string     `json:"from_number,omitempty"`
	ToNumber        string     `json:"to_number,omitempty"`
	FromDigits      string     `json:"from_digits,omitempty"`
	ToDigits        string     `json:"to_digits,omitempty"`
	Status          CallStatus `json:"status"`
	Direction       Direction  `json:"direction"`
	QueueName       string     `json:"queue_name,omitempty"`
	AgentName       string     `json:"agent_name,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`
	RecordingURL    string     `json:"recording_url,omitempty"`
	CreatedAt       time.Time  `json:"created_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at,omitempty"`
}

// Recording is a call recording. CallID stays nil when the provider's call
// reference cannot be matched to a stored Call.
type Recording struct {
	ID                  string     `json:"id"`
	OrgID               string     `json:"org_id"`
	CallID              *string    `json:"call_id,omitempty"`
	PhoneNumberID       *string    `json:"phone_number_id,omitempty"`
	ExternalRecordingID string     `json:"external_recording_id"`
	ExternalCallID      string     `json:"external_call_id,omitempty"`
	PhoneDigits         string     `json:"-"`
	URL                 string     `json:"url,omitempty"`
	DurationSeconds     int        `json:"duration_seconds"`
	RecordingDate       *time.Time `json:"recording_date,omitempty"`
	CreatedAt           time.Time  `json:"created_at,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at,omitempty"`
}

// DedupeKey is the synthetic idempotency key for recordings
func (r Recording) DedupeKey() string {
	return r.OrgID + "|" + r.ExternalCallID + "|" + r.ExternalRecordingID
}

// ReportMetric is one (report, metric) pair
type ReportMetric struct {
	ID               string    `json:"id"`
	OrgID            string    `json:"org_id"`
	ExternalID       string    `json:"external_id"`
	ReportExternalID string    `json:"report_external_id,omitempty"`
	ReportType       string    `json:"report_type"`
	MetricType       string    `json:"metric_type"`
	Value            float64   `json:"value"`
	Unit             string    `json:"unit,omitempty"`
	ReportDate       time.Time `json:"report_date"`
	CreatedAt        time.Time `json:"created_at,omitempty"`
	UpdatedAt        time.Time `json:"updated_at,omitempty"`
}

// SmsMessage is a normalized text message
type SmsMessage struct {
	ID              string     `json:"id"`
	OrgID           string     `json:"org_id"`
	PhoneID         *string    `json:"phone_id,omitempty"`
	ExternalID      string     `json:"external_id"`
	Direction       Direction  `json:"direction"`
	Sender          string     `json:"sender,omitempty"`
	Recipient       string     `json:"recipient,omitempty"`
	SenderDigits    string     `json:"sender_digits,omitempty"`
	RecipientDigits string     `json:"recipient_digits,omitempty"`
	Body            string     `json:"body,omitempty"`
	Status          string     `json:"status,omitempty"`
	MessageDate     *time.Time `json:"message_date,omitempty"`
	CreatedAt       time.Time  `json:"created_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at,omitempty"`
}

// RawEvent is an audit copy of a provider payload. OrgID is nil when no
// organization could be resolved.
type RawEvent struct {
	ID         string    `json:"id"`
	OrgID      *string   `json:"org_id,omitempty"`
	Source     string    `json:"source"`
	Kind       string    `json:"kind"`
	EventType  string    `json:"event_type,omitempty"`
	ExternalID string    `json:"external_id,omitempty"`
	Payload    []byte    `json:"-"`
	ReceivedAt time.Time `json:"received_at"`
}

// Raw event sources
const (
	RawSourceSync    = "sync"
	RawSourceWebhook = "webhook"
)

// DateRange is a half-open interval [From, To)
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// IsZero reports whether no bounds are set
func (r DateRange) IsZero() bool {
	return r.From.IsZero() && r.To.IsZero()
}

// Contains reports whether t falls inside the range
func (r DateRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// Chunks splits the range into consecutive pieces no longer than size.
func (r DateRange) Chunks(size time.Duration) []DateRange {
	if size <= 0 || r.To.Sub(r.From) <= size {
		return []DateRange{r}
	}

	var chunks []DateRange
	for start := r.From; start.Before(r.To); start = start.Add(size) {
		end := start.Add(size)
		if end.After(r.To) {
			end = r.To
		}
		chunks = append(chunks, DateRange{From: start, To: end})
	}
	return chunks
}
