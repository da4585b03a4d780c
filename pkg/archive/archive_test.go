package archive

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanlanch/callops/pkg/models"
)

type mockPutter struct {
	inputs []*s3.PutObjectInput
	bodies []string
	err    error
}

func (m *mockPutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	body, _ := io.ReadAll(in.Body)
	m.inputs = append(m.inputs, in)
	m.bodies = append(m.bodies, string(body))
	return &s3.PutObjectOutput{}, nil
}

type mockRawWriter struct {
	events []models.RawEvent
	err    error
}

func (m *mockRawWriter) InsertRawEvent(ctx context.Context, ev models.RawEvent) error {
	m.events = append(m.events, ev)
	return m.err
}

func testPage() Page {
	return Page{
		OrgID:     "org-1",
		Kind:      "calls",
		FetchedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Count:     1,
		Payload:   []byte(`[{"id":"c1"}]`),
	}
}

func TestObjectKey(t *testing.T) {
	key := ObjectKey("mightycall/raw", testPage())
	assert.True(t, strings.HasPrefix(key, "mightycall/raw/org-1/calls/2024-03-01/"), key)
	assert.True(t, strings.HasSuffix(key, ".json"))
	assert.NotEqual(t, key, ObjectKey("mightycall/raw", testPage()), "keys are unique")
}

func TestS3Sink_Archive(t *testing.T) {
	putter := &mockPutter{}
	sink := newS3Sink(putter, "bucket", "raw")

	require.NoError(t, sink.Archive(context.Background(), testPage()))
	require.Len(t, putter.inputs, 1)
	assert.Equal(t, "bucket", *putter.inputs[0].Bucket)
	assert.Equal(t, "application/json", *putter.inputs[0].ContentType)
	assert.Equal(t, "1", putter.inputs[0].Metadata["records"])
	assert.Equal(t, `[{"id":"c1"}]`, putter.bodies[0])

	putter.err = errors.New("denied")
	assert.Error(t, sink.Archive(context.Background(), testPage()))
}

func TestStoreSink_Archive(t *testing.T) {
	w := &mockRawWriter{}
	require.NoError(t, NewStoreSink(w).Archive(context.Background(), testPage()))

	require.Len(t, w.events, 1)
	ev := w.events[0]
	require.NotNil(t, ev.OrgID)
	assert.Equal(t, "org-1", *ev.OrgID)
	assert.Equal(t, models.RawSourceSync, ev.Source)
	assert.Equal(t, "calls", ev.Kind)
}

func TestMulti_WritesEverySink(t *testing.T) {
	failing := &mockRawWriter{err: errors.New("db down")}
	ok := &mockRawWriter{}

	err := Multi{NewStoreSink(failing), NewStoreSink(ok)}.Archive(context.Background(), testPage())
	assert.Error(t, err)
	assert.Len(t, ok.events, 1)
}

func TestNewS3Sink_RequiresBucket(t *testing.T) {
	_, err := NewS3Sink(context.Background(), S3Config{Region: "us-east-1"})
	assert.Error(t, err)
}
