package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/jordanlanch/callops/pkg/domain"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// SyncRequest is the body of a manual sync trigger.
// Dates accept YYYY-MM-DD or RFC3339.
type SyncRequest struct {
	From string `json:"from" validate:"omitempty"`
	To   string `json:"to" validate:"omitempty"`
}

// MetricsQuery holds the common query parameters of the metrics endpoints
type MetricsQuery struct {
	From   string `query:"from"`
	To     string `query:"to"`
	Bucket string `query:"bucket" validate:"omitempty,oneof=hour day week month"`
	TZ     string `query:"tz"`
	Scope  string `query:"scope" validate:"omitempty,oneof=org global"`
	OrgID  string `query:"org_id"`
}

const dateLayout = "2006-01-02"

// ParseDateRange parses query or CLI bounds. Each bound is YYYY-MM-DD or
// RFC3339; a date-only "to" includes that whole day. Missing bounds default to
// the window ending now.
func ParseDateRange(from, to string, loc *time.Location, now time.Time, window time.Duration) (DateRange, error) {
	if loc == nil {
		loc = time.UTC
	}

	var rng DateRange
	if to == "" {
		rng.To = now
	} else {
		t, dateOnly, err := parseBound(to, loc)
		if err != nil {
			return DateRange{}, domain.NewValidationError(fmt.Sprintf("invalid to date %q", to))
		}
		if dateOnly {
			t = t.AddDate(0, 0, 1)
		}
		rng.To = t
	}

	if from == "" {
		rng.From = rng.To.Add(-window)
	} else {
		t, _, err := parseBound(from, loc)
		if err != nil {
			return DateRange{}, domain.NewValidationError(fmt.Sprintf("invalid from date %q", from))
		}
		rng.From = t
	}

	if !rng.From.Before(rng.To) {
		return DateRange{}, domain.NewValidationError("from must be before to")
	}
	return DateRange{From: rng.From.UTC(), To: rng.To.UTC()}, nil
}

func parseBound(s string, loc *time.Location) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(dateLayout, s, loc); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	return t, false, err
}
