package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDateRange_Chunks(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	day := 24 * time.Hour

	t.Run("short range is a single chunk", func(t *testing.T) {
		r := DateRange{From: from, To: from.Add(10 * day)}
		chunks := r.Chunks(31 * day)
		assert.Equal(t, []DateRange{r}, chunks)
	})

	t.Run("long range is split without gaps", func(t *testing.T) {
		r := DateRange{From: from, To: from.Add(70 * day)}
		chunks := r.Chunks(31 * day)
		assert.Len(t, chunks, 3)
		assert.Equal(t, r.From, chunks[0].From)
		assert.Equal(t, chunks[0].To, chunks[1].From)
		assert.Equal(t, chunks[1].To, chunks[2].From)
		assert.Equal(t, r.To, chunks[2].To)
		assert.Equal(t, 8*day, chunks[2].To.Sub(chunks[2].From))
	})
}

func TestDateRange_Contains(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := DateRange{From: from, To: from.Add(time.Hour)}

	assert.True(t, r.Contains(from))
	assert.True(t, r.Contains(from.Add(59*time.Minute)))
	assert.False(t, r.Contains(from.Add(time.Hour)))
	assert.False(t, r.Contains(from.Add(-time.Second)))
	assert.True(t, DateRange{}.Contains(from))
}

func TestCallStatus_Outcome(t *testing.T) {
	assert.True(t, CallStatusCompleted.Answered())
	assert.True(t, CallStatusTransferred.Answered())
	assert.True(t, CallStatusMissed.Missed())
	assert.True(t, CallStatusVoicemail.Missed())
	assert.False(t, CallStatusUnknown.Answered())
	assert.False(t, CallStatusUnknown.Missed())
}

func TestRecording_DedupeKey(t *testing.T) {
	r := Recording{OrgID: "org-1", ExternalCallID: "ext-1", ExternalRecordingID: "rec-1"}
	assert.Equal(t, "org-1|ext-1|rec-1", r.DedupeKey())
}
