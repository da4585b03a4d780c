package jobs

import (
	"time"

	"github.com/getsentry/sentry-go"
)

// Reporter forwards unexpected failures to an error tracker
type Reporter interface {
	Report(err error, tags map[string]string)
}

// SentryReporter reports through a sentry hub
type SentryReporter struct {
	hub *sentry.Hub
}

// NewSentryReporter reports through hub, or the global hub when nil. Without
// an initialized client every report is dropped.
func NewSentryReporter(hub *sentry.Hub) *SentryReporter {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SentryReporter{hub: hub}
}

// Report captures err with tags. Safe for concurrent use.
func (r *SentryReporter) Report(err error, tags map[string]string) {
	if err == nil {
		return
	}
	hub := r.hub.Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
	})
	hub.CaptureException(err)
}

// Flush waits for queued events
func (r *SentryReporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}

type nopReporter struct{}

func (nopReporter) Report(error, map[string]string) {}
