package analytics

import (
	"fmt"
	"strings"
	"time"

	"github.com/jordanlanch/callops/pkg/domain"
	"github.com/jordanlanch/callops/pkg/models"
)

// Bucket is the granularity of a series
type Bucket string

// Buckets
const (
	BucketHour  Bucket = "hour"
	BucketDay   Bucket = "day"
	BucketWeek  Bucket = "week"
	BucketMonth Bucket = "month"
)

// maxBuckets caps the size of a single series
const maxBuckets = 5000

// ParseBucket parses a bucket name, defaulting to day
func ParseBucket(s string) (Bucket, error) {
	if s == "" {
		return BucketDay, nil
	}
	b := Bucket(strings.ToLower(strings.TrimSpace(s)))
	if err := b.validate(); err != nil {
		return "", err
	}
	return b, nil
}

func (b Bucket) validate() error {
	switch b {
	case BucketHour, BucketDay, BucketWeek, BucketMonth:
		return nil
	default:
		return domain.NewValidationError(fmt.Sprintf("invalid bucket: %q", string(b)))
	}
}

// Floor returns the start of the bucket holding t, in loc
func (b Bucket) Floor(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	y, m, d := t.Date()
	switch b {
	case BucketHour:
		return time.Date(y, m, d, t.Hour(), 0, 0, 0, loc)
	case BucketWeek:
		day := time.Date(y, m, d, 0, 0, 0, 0, loc)
		// ISO weeks start on Monday
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case BucketMonth:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	default:
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
}

// Next returns the start of the bucket after the one starting at start
func (b Bucket) Next(start time.Time) time.Time {
	switch b {
	case BucketHour:
		return start.Add(time.Hour)
	case BucketWeek:
		return start.AddDate(0, 0, 7)
	case BucketMonth:
		return start.AddDate(0, 1, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}

// Label renders the bucket start for charts
func (b Bucket) Label(start time.Time) string {
	switch b {
	case BucketHour:
		return start.Format("2006-01-02T15:00")
	case BucketWeek:
		year, week := start.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case BucketMonth:
		return start.Format("2006-01")
	default:
		return start.Format("2006-01-02")
	}
}

// span lays out every bucket touching rng
func (b Bucket) span(rng models.DateRange, loc *time.Location) ([]SeriesPoint, error) {
	var points []SeriesPoint
	for start := b.Floor(rng.From, loc); start.Before(rng.To); start = b.Next(start) {
		if len(points) == maxBuckets {
			return nil, domain.NewValidationError(fmt.Sprintf("series exceeds %d buckets, use a coarser bucket", maxBuckets))
		}
		points = append(points, SeriesPoint{Label: b.Label(start), Start: start})
	}
	return points, nil
}
