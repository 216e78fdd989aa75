package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"b2monitor/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeReader struct {
	events     []models.WebhookEvent
	stats      []models.DailyStatistic
	stored     int64
	lastFilter models.EventFilter
	deletedOld int64
	err        error
}

func (r *fakeReader) QueryEvents(_ context.Context, filter models.EventFilter) ([]models.WebhookEvent, error) {
	r.lastFilter = filter
	return r.events, r.err
}

func (r *fakeReader) CountEvents(context.Context, models.EventFilter) (int64, error) {
	return r.stored, r.err
}

func (r *fakeReader) GetStatistics(context.Context, int) ([]models.DailyStatistic, error) {
	return r.stats, r.err
}

func (r *fakeReader) DeleteEventsBefore(_ context.Context, _ time.Time) (int64, error) {
	return r.deletedOld, r.err
}

func (r *fakeReader) DeleteBucketEvents(_ context.Context, _ string) (int64, error) {
	return r.deletedOld, r.err
}

func eventsRequest(t *testing.T, reader *fakeReader, method, target, body string, params gin.Params) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, target, strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = params

	h := NewEventsHandler(zap.NewNop(), reader)
	switch {
	case strings.Contains(target, "/list"):
		h.ListEvents(c)
	case strings.Contains(target, "/stats"):
		h.Stats(c)
	case strings.Contains(target, "/old"):
		h.DeleteOld(c)
	case method == http.MethodDelete:
		h.DeleteBucket(c)
	default:
		h.BucketEvents(c)
	}
	return w
}

func TestListEventsFilters(t *testing.T) {
	reader := &fakeReader{events: []models.WebhookEvent{{EventID: "e1"}}}

	w := eventsRequest(t, reader, http.MethodGet,
		"/api/webhook_events/list?bucket=photos&event_type=b2:ObjectCreated:Upload&time_range=1h&limit=5",
		"", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "photos", reader.lastFilter.BucketName)
	assert.Equal(t, "b2:ObjectCreated:Upload", reader.lastFilter.EventType)
	assert.Equal(t, int64(5), reader.lastFilter.Limit)
	assert.WithinDuration(t, time.Now().UTC().Add(-time.Hour), reader.lastFilter.Since, 5*time.Second)

	var resp struct {
		Success bool                  `json:"success"`
		Events  []models.WebhookEvent `json:"events"`
		Total   int                   `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.Total)
}

func TestListEventsEmptyIsArrayNotNull(t *testing.T) {
	w := eventsRequest(t, &fakeReader{}, http.MethodGet, "/api/webhook_events/list", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"events":[]`)
}

func TestListEventsLimitClamped(t *testing.T) {
	reader := &fakeReader{}
	eventsRequest(t, reader, http.MethodGet, "/api/webhook_events/list?limit=50000", "", nil)
	assert.Equal(t, int64(1000), reader.lastFilter.Limit)

	eventsRequest(t, reader, http.MethodGet, "/api/webhook_events/list?limit=garbage", "", nil)
	assert.Equal(t, int64(100), reader.lastFilter.Limit)
}

func TestBucketEvents(t *testing.T) {
	reader := &fakeReader{events: []models.WebhookEvent{{EventID: "e1"}, {EventID: "e2"}}}

	w := eventsRequest(t, reader, http.MethodGet, "/api/webhook_events/bucket/photos", "",
		gin.Params{{Key: "bucket", Value: "photos"}})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "photos", reader.lastFilter.BucketName)
	assert.Equal(t, int64(50), reader.lastFilter.Limit)
	assert.Contains(t, w.Body.String(), `"total":2`)
}

func TestStatsRollup(t *testing.T) {
	reader := &fakeReader{
		stored: 14,
		stats: []models.DailyStatistic{
			{BucketName: "photos", EventType: "b2:ObjectCreated:Upload", EventCount: 10},
			{BucketName: "photos", EventType: "b2:ObjectDeleted:Delete", EventCount: 4},
			{BucketName: "backups", EventType: "b2:ObjectCreated:Copy", EventCount: 2},
		},
	}

	w := eventsRequest(t, reader, http.MethodGet, "/api/webhook_events/stats", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Stats struct {
			TotalEvents   int64 `json:"total_events"`
			CreatedEvents int64 `json:"created_events"`
			DeletedEvents int64 `json:"deleted_events"`
			UniqueBuckets int   `json:"unique_buckets"`
			StoredEvents  int64 `json:"stored_events"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(16), resp.Stats.TotalEvents)
	assert.Equal(t, int64(12), resp.Stats.CreatedEvents)
	assert.Equal(t, int64(4), resp.Stats.DeletedEvents)
	assert.Equal(t, 2, resp.Stats.UniqueBuckets)
	assert.Equal(t, int64(14), resp.Stats.StoredEvents)
}

func TestDeleteOldValidation(t *testing.T) {
	w := eventsRequest(t, &fakeReader{}, http.MethodDelete, "/api/webhook_events/old", `{"days":0}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = eventsRequest(t, &fakeReader{}, http.MethodDelete, "/api/webhook_events/old", `not json`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteOld(t *testing.T) {
	reader := &fakeReader{deletedOld: 42}
	w := eventsRequest(t, reader, http.MethodDelete, "/api/webhook_events/old", `{"days":30}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"deleted_count":42`)
}

func TestDeleteBucket(t *testing.T) {
	reader := &fakeReader{deletedOld: 7}
	w := eventsRequest(t, reader, http.MethodDelete, "/api/webhook_events/bucket/photos", "",
		gin.Params{{Key: "bucket", Value: "photos"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"deleted_count":7`)
	assert.Contains(t, w.Body.String(), `"bucket_name":"photos"`)
}
