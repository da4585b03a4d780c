package callsync

import (
	"time"

	"github.com/jordanlanch/callops/pkg/models"
	"github.com/jordanlanch/callops/pkg/store"
)

// Counts summarizes one entity kind of a sync run. Error is set when the
// kind failed as a whole; individual bad records only move the counters.
type Counts struct {
	Synced   int    `json:"synced"`
	Inserted int    `json:"inserted"`
	Updated  int    `json:"updated"`
	Skipped  int    `json:"skipped"`
	Failed   int    `json:"failed"`
	Error    string `json:"error,omitempty"`
}

func (c *Counts) apply(r store.Result) {
	c.Synced += r.Written()
	c.Inserted += r.Inserted
	c.Updated += r.Updated
	c.Skipped += r.Skipped
	c.Failed += r.Failed
}

func (c *Counts) merge(o Counts) {
	c.Synced += o.Synced
	c.Inserted += o.Inserted
	c.Updated += o.Updated
	c.Skipped += o.Skipped
	c.Failed += o.Failed
	if o.Error != "" && c.Error == "" {
		c.Error = o.Error
	}
}

func (c *Counts) fail(err error) {
	if err != nil && c.Error == "" {
		c.Error = err.Error()
	}
}

// failBatch records a kind-level failure as one failed unit
func (c *Counts) failBatch(err error) {
	if err == nil {
		return
	}
	c.Failed++
	c.fail(err)
}

// SyncResult is the outcome of syncing one organization
type SyncResult struct {
	OrgID      string    `json:"org_id"`
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
	Calls      Counts    `json:"calls"`
	Recordings Counts    `json:"recordings"`
	Reports    Counts    `json:"reports"`
	SMS        Counts    `json:"sms"`
	Error      string    `json:"error,omitempty"`

	// Skipped is set when another worker was already syncing the organization
	Skipped bool `json:"skipped,omitempty"`
}

func newResult(orgID string, rng models.DateRange) *SyncResult {
	return &SyncResult{OrgID: orgID, From: rng.From, To: rng.To}
}

// Failed reports whether the run aborted
func (r *SyncResult) Failed() bool {
	return r.Error != "" && !r.Skipped
}

// Partial reports whether at least one entity kind failed
func (r *SyncResult) Partial() bool {
	for _, c := range []Counts{r.Calls, r.Recordings, r.Reports, r.SMS} {
		if c.Error != "" {
			return true
		}
	}
	return false
}

// Status maps the result onto the sync run log statuses
func (r *SyncResult) Status() string {
	switch {
	case r.Skipped:
		return models.SyncStatusSkipped
	case r.Failed():
		return models.SyncStatusFailed
	case r.Partial():
		return models.SyncStatusPartial
	default:
		return models.SyncStatusSucceeded
	}
}

// Kinds returns the per-kind counters keyed by entity name
func (r *SyncResult) Kinds() map[string]Counts {
	return map[string]Counts{
		kindCalls:      r.Calls,
		kindRecordings: r.Recordings,
		kindReports:    r.Reports,
		kindSMS:        r.SMS,
	}
}
