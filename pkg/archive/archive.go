// Package archive keeps verbatim copies of provider payloads for audit and replay.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/jordanlanch/callops/pkg/models"
)

// Page is one batch of raw provider records fetched during a sync
type Page struct {
	OrgID     string
	Kind      string
	Range     models.DateRange
	FetchedAt time.Time
	Count     int
	Payload   []byte // JSON array of records
}

// Sink stores raw pages
type Sink interface {
	Archive(ctx context.Context, page Page) error
}

type rawEventWriter interface {
	InsertRawEvent(ctx context.Context, ev models.RawEvent) error
}

// StoreSink writes pages into the raw events table
type StoreSink struct {
	store rawEventWriter
}

// NewStoreSink creates a database-backed sink
func NewStoreSink(store rawEventWriter) *StoreSink {
	return &StoreSink{store: store}
}

// Archive stores the page as a single raw event
func (s *StoreSink) Archive(ctx context.Context, page Page) error {
	orgID := page.OrgID
	return s.store.InsertRawEvent(ctx, models.RawEvent{
		OrgID:      &orgID,
		Source:     models.RawSourceSync,
		Kind:       page.Kind,
		Payload:    page.Payload,
		ReceivedAt: page.FetchedAt,
	})
}

// S3Config holds bucket and credentials for the S3 sink
type S3Config struct {
	Bucket          string
	Prefix          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads each page as a JSON object
type S3Sink struct {
	client objectPutter
	bucket string
	prefix string
}

// NewS3Sink creates an S3 sink. Static credentials are used when given,
// otherwise the default AWS credential chain applies.
func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return newS3Sink(s3.NewFromConfig(awsCfg), cfg.Bucket, cfg.Prefix), nil
}

func newS3Sink(client objectPutter, bucket, prefix string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, prefix: prefix}
}

// Archive uploads the page under <prefix>/<org>/<kind>/<date>/<uuid>.json
func (s *S3Sink) Archive(ctx context.Context, page Page) error {
	key := ObjectKey(s.prefix, page)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(page.Payload),
		ContentType:  aws.String("application/json"),
		StorageClass: types.StorageClassStandardIa,
		Metadata: map[string]string{
			"org-id":  page.OrgID,
			"kind":    page.Kind,
			"records": fmt.Sprint(page.Count),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload raw page to S3: %w", err)
	}
	return nil
}

// ObjectKey builds the S3 key for a page
func ObjectKey(prefix string, page Page) string {
	fetched := page.FetchedAt
	if fetched.IsZero() {
		fetched = time.Now()
	}
	return path.Join(prefix, page.OrgID, page.Kind, fetched.UTC().Format("2006-01-02"), uuid.NewString()+".json")
}

// Multi fans a page out to several sinks and returns the first error
type Multi []Sink

// Archive writes to every sink even when one fails
func (m Multi) Archive(ctx context.Context, page Page) error {
	var first error
	for _, s := range m {
		if err := s.Archive(ctx, page); err != nil && first == nil {
			first = err
		}
	}
	return first
}
