// Package normalize turns provider webhook payloads into canonical
// event records.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"b2monitor/internal/models"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// RequestMeta carries provenance from the inbound HTTP request onto
// every event normalized from its body.
type RequestMeta struct {
	SourceIP  string
	UserAgent string
	RequestID string
}

type Normalizer struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewNormalizer(logger *zap.Logger) *Normalizer {
	return &Normalizer{logger: logger, now: time.Now}
}

// envelope matches both delivery shapes: a batch ({"events": [...]})
// and a single bare event object.
type envelope struct {
	Events []json.RawMessage `json:"events"`
}

// Normalize parses a raw payload into zero or more events. A payload
// that is not valid JSON, or whose top-level shape is unrecognizable,
// fails as a whole with ErrMalformedPayload. A defective sub-event
// inside a batch is skipped without discarding its siblings.
func (n *Normalizer) Normalize(payload []byte, meta RequestMeta) ([]models.WebhookEvent, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrMalformedPayload, err)
	}

	raws := env.Events
	if raws == nil {
		// Single-event shape: the body itself is the event object.
		var single map[string]any
		if err := json.Unmarshal(payload, &single); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrMalformedPayload, err)
		}
		raws = []json.RawMessage{payload}
	}

	receivedAt := n.now().UTC()
	events := make([]models.WebhookEvent, 0, len(raws))
	for i, raw := range raws {
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			n.logger.Warn("Skipping undecodable sub-event",
				zap.Int("index", i),
				zap.Error(err))
			continue
		}
		ev, ok := n.normalizeOne(fields, receivedAt, meta)
		if !ok {
			n.logger.Warn("Skipping sub-event missing eventType or bucketName",
				zap.Int("index", i))
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (n *Normalizer) normalizeOne(fields map[string]any, receivedAt time.Time, meta RequestMeta) (models.WebhookEvent, bool) {
	eventType := stringField(fields, "eventType")
	bucketName := stringField(fields, "bucketName")
	if eventType == "" || bucketName == "" {
		return models.WebhookEvent{}, false
	}

	ev := models.WebhookEvent{
		EventType:       models.ParseEventType(eventType),
		BucketName:      bucketName,
		BucketID:        stringField(fields, "bucketId"),
		ObjectKey:       stringField(fields, "objectName"),
		ObjectSize:      coerceSize(fields["objectSize"]),
		ObjectVersionID: stringField(fields, "objectVersionId"),
		OccurredAt:      coerceTimestamp(fields["eventTimestamp"], receivedAt),
		ReceivedAt:      receivedAt,
		SourceIP:        meta.SourceIP,
		UserAgent:       meta.UserAgent,
		RequestID:       meta.RequestID,
	}

	ev.EventID = stringField(fields, "eventId")
	if ev.EventID == "" {
		// Redeliveries of the same logical event carry identical
		// fields, so a derived ID still collapses duplicates.
		ev.EventID = deriveEventID(ev)
	}
	return ev, true
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}

// coerceSize defaults missing, malformed, or negative sizes to 0
// rather than failing the event. B2 omits objectSize entirely for
// hide markers and bucket-level events.
func coerceSize(v any) int64 {
	switch size := v.(type) {
	case float64:
		if size < 0 {
			return 0
		}
		return int64(size)
	case string:
		parsed, err := strconv.ParseInt(size, 10, 64)
		if err != nil || parsed < 0 {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

// coerceTimestamp reads the provider's eventTimestamp, which B2 sends
// as milliseconds since epoch but older payloads carry as RFC 3339.
func coerceTimestamp(v any, fallback time.Time) time.Time {
	switch ts := v.(type) {
	case float64:
		return time.UnixMilli(int64(ts)).UTC()
	case string:
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			return parsed.UTC()
		}
	}
	return fallback
}

func deriveEventID(ev models.WebhookEvent) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d",
		ev.EventType.Raw, ev.BucketName, ev.ObjectKey, ev.OccurredAt.UnixMilli())))
	return "derived_" + hex.EncodeToString(sum[:16])
}
