package normalize

import (
	"testing"
	"time"

	"b2monitor/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fixedNormalizer(at time.Time) *Normalizer {
	n := NewNormalizer(zap.NewNop())
	n.now = func() time.Time { return at }
	return n
}

func TestNormalizeBatch(t *testing.T) {
	received := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	n := fixedNormalizer(received)

	payload := []byte(`{"events":[
		{"eventType":"b2:ObjectCreated:Upload","bucketName":"photos","bucketId":"b1","objectName":"a.jpg","objectSize":1024,"eventId":"e1","eventTimestamp":1754913600000},
		{"eventType":"b2:ObjectDeleted:Delete","bucketName":"photos","objectName":"b.jpg","objectSize":2048,"eventId":"e2"}
	]}`)

	events, err := n.Normalize(payload, RequestMeta{SourceIP: "10.0.0.1", UserAgent: "B2/1.0", RequestID: "req-1"})
	require.NoError(t, err)
	require.Len(t, events, 2)

	first := events[0]
	assert.Equal(t, "e1", first.EventID)
	assert.Equal(t, models.CategoryObjectCreated, first.EventType.Category)
	assert.Equal(t, "Upload", first.EventType.Subtype)
	assert.Equal(t, "photos", first.BucketName)
	assert.Equal(t, "b1", first.BucketID)
	assert.Equal(t, "a.jpg", first.ObjectKey)
	assert.Equal(t, int64(1024), first.ObjectSize)
	assert.Equal(t, time.UnixMilli(1754913600000).UTC(), first.OccurredAt)
	assert.Equal(t, received, first.ReceivedAt)
	assert.Equal(t, "10.0.0.1", first.SourceIP)
	assert.Equal(t, "req-1", first.RequestID)

	assert.Equal(t, models.CategoryObjectDeleted, events[1].EventType.Category)
	// No provider timestamp falls back to the receive time.
	assert.Equal(t, received, events[1].OccurredAt)
}

func TestNormalizeSingleEvent(t *testing.T) {
	n := fixedNormalizer(time.Now().UTC())

	payload := []byte(`{"eventType":"b2:ObjectCreated:Copy","bucketName":"docs","objectName":"x.pdf","objectSize":10,"eventId":"e9"}`)
	events, err := n.Normalize(payload, RequestMeta{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "e9", events[0].EventID)
	assert.Equal(t, "Copy", events[0].EventType.Subtype)
}

func TestNormalizeMalformedPayload(t *testing.T) {
	n := fixedNormalizer(time.Now().UTC())

	for _, payload := range []string{"not json", `"just a string"`, `[1,2,3]`} {
		_, err := n.Normalize([]byte(payload), RequestMeta{})
		assert.ErrorIs(t, err, models.ErrMalformedPayload, "payload: %s", payload)
	}
}

func TestNormalizePartialBatchIsolation(t *testing.T) {
	n := fixedNormalizer(time.Now().UTC())

	// Middle event has a malformed objectSize; last one is missing
	// required fields entirely. Siblings must survive.
	payload := []byte(`{"events":[
		{"eventType":"b2:ObjectCreated:Upload","bucketName":"photos","objectName":"a.jpg","objectSize":100,"eventId":"e1"},
		{"eventType":"b2:ObjectCreated:Upload","bucketName":"photos","objectName":"bad.jpg","objectSize":"not-a-number","eventId":"e2"},
		{"objectName":"orphan.jpg"}
	]}`)

	events, err := n.Normalize(payload, RequestMeta{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(100), events[0].ObjectSize)
	assert.Equal(t, int64(0), events[1].ObjectSize)
}

func TestNormalizeUnknownEventType(t *testing.T) {
	n := fixedNormalizer(time.Now().UTC())

	payload := []byte(`{"eventType":"b2:SomethingNew:Surprise","bucketName":"photos","eventId":"e1"}`)
	events, err := n.Normalize(payload, RequestMeta{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.CategoryUnknown, events[0].EventType.Category)
	assert.Equal(t, "b2:SomethingNew:Surprise", events[0].EventType.Raw)
}

func TestNormalizeDerivedEventID(t *testing.T) {
	n := fixedNormalizer(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))

	payload := []byte(`{"eventType":"b2:ObjectCreated:Upload","bucketName":"photos","objectName":"a.jpg","eventTimestamp":1754913600000}`)

	first, err := n.Normalize(payload, RequestMeta{})
	require.NoError(t, err)
	second, err := n.Normalize(payload, RequestMeta{})
	require.NoError(t, err)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.NotEmpty(t, first[0].EventID)
	// Redelivery of the same payload derives the same ID, so the
	// store's upsert still dedups.
	assert.Equal(t, first[0].EventID, second[0].EventID)
}

func TestCoerceSize(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want int64
	}{
		{"float", float64(1024), 1024},
		{"numeric string", "2048", 2048},
		{"negative", float64(-5), 0},
		{"garbage string", "lots", 0},
		{"missing", nil, 0},
		{"wrong type", true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, coerceSize(tt.in))
		})
	}
}
