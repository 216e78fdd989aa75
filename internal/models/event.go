package models

import (
	"strings"
	"time"
)

// EventCategory groups provider event types into the families the
// aggregation layer counts.
type EventCategory string

const (
	CategoryObjectCreated  EventCategory = "ObjectCreated"
	CategoryObjectDeleted  EventCategory = "ObjectDeleted"
	CategoryObjectRestored EventCategory = "ObjectRestored"
	CategoryObjectArchived EventCategory = "ObjectArchived"
	CategoryUnknown        EventCategory = "Unknown"
)

// EventType is the parsed form of a provider event-type string such as
// "b2:ObjectCreated:Upload". Raw always preserves the provider string
// verbatim so unrecognized types survive a round trip.
type EventType struct {
	Category EventCategory `json:"category" bson:"category"`
	Subtype  string        `json:"subtype,omitempty" bson:"subtype,omitempty"`
	Raw      string        `json:"raw" bson:"raw"`
}

// ParseEventType classifies a provider event-type string. Strings that
// do not match a known category come back as CategoryUnknown with Raw
// intact.
func ParseEventType(raw string) EventType {
	et := EventType{Category: CategoryUnknown, Raw: raw}

	rest, ok := strings.CutPrefix(raw, "b2:")
	if !ok {
		return et
	}
	name, subtype, _ := strings.Cut(rest, ":")

	switch name {
	case "ObjectCreated":
		et.Category = CategoryObjectCreated
	case "ObjectDeleted":
		et.Category = CategoryObjectDeleted
	case "ObjectRestore", "ObjectRestored":
		et.Category = CategoryObjectRestored
	case "ObjectArchive", "ObjectArchived":
		et.Category = CategoryObjectArchived
	default:
		return et
	}
	et.Subtype = subtype
	return et
}

func (t EventType) String() string { return t.Raw }

func (t EventType) IsCreated() bool { return t.Category == CategoryObjectCreated }
func (t EventType) IsDeleted() bool { return t.Category == CategoryObjectDeleted }

// WebhookEvent is one canonical object-lifecycle occurrence. Records
// are written once and never mutated; EventID is the dedup key under
// the provider's at-least-once delivery.
type WebhookEvent struct {
	EventID         string    `json:"event_id" bson:"event_id"`
	EventType       EventType `json:"event_type" bson:"event_type"`
	BucketName      string    `json:"bucket_name" bson:"bucket_name"`
	BucketID        string    `json:"bucket_id,omitempty" bson:"bucket_id,omitempty"`
	ObjectKey       string    `json:"object_key" bson:"object_key"`
	ObjectSize      int64     `json:"object_size" bson:"object_size"`
	ObjectVersionID string    `json:"object_version_id,omitempty" bson:"object_version_id,omitempty"`
	OccurredAt      time.Time `json:"occurred_at" bson:"occurred_at"`
	ReceivedAt      time.Time `json:"received_at" bson:"received_at"`

	// Provenance metadata, optional.
	SourceIP  string `json:"source_ip,omitempty" bson:"source_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty" bson:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty" bson:"request_id,omitempty"`
}

// BucketWebhookConfig is the per-bucket webhook policy. Owned by the
// configuration subsystem; the ingest path only reads it.
type BucketWebhookConfig struct {
	BucketName        string   `json:"bucket_name" bson:"bucket_name"`
	Enabled           bool     `json:"webhook_enabled" bson:"webhook_enabled"`
	TrackedEventTypes []string `json:"events_to_track" bson:"events_to_track"`
	SigningSecret     string   `json:"webhook_secret,omitempty" bson:"webhook_secret,omitempty"`
}

// Tracks reports whether the given provider event-type string matches
// any tracked pattern. Patterns ending in ":*" match a whole family,
// e.g. "b2:ObjectCreated:*" matches "b2:ObjectCreated:Upload".
func (c *BucketWebhookConfig) Tracks(eventType string) bool {
	for _, pattern := range c.TrackedEventTypes {
		if category, ok := strings.CutSuffix(pattern, ":*"); ok {
			if strings.HasPrefix(eventType, category+":") {
				return true
			}
			continue
		}
		if pattern == eventType {
			return true
		}
	}
	return false
}

// WindowType tags how an AggregationSummary's interval relates to its
// neighbors.
type WindowType string

const (
	WindowNonOverlapping WindowType = "non_overlapping"
	WindowRolling        WindowType = "rolling"
)

// AggregationSummary is one immutable snapshot of a time window.
// PeriodSeconds is the wall-clock span actually covered, which can
// differ from the nominal window size; rate calculations divide by it.
type AggregationSummary struct {
	WindowStart   time.Time  `json:"window_start"`
	WindowEnd     time.Time  `json:"window_end"`
	PeriodSeconds float64    `json:"period_seconds"`
	WindowType    WindowType `json:"window_type"`

	TotalEvents      int64 `json:"total_events"`
	ObjectsAdded     int64 `json:"objects_added"`
	ObjectsRemoved   int64 `json:"objects_removed"`
	DataAddedBytes   int64 `json:"data_added_bytes"`
	DataRemovedBytes int64 `json:"data_removed_bytes"`

	UniqueBuckets int      `json:"unique_buckets"`
	BucketList    []string `json:"bucket_list"`
}

// EventFilter narrows a query over the stored event log.
type EventFilter struct {
	BucketName string
	EventType  string
	Since      time.Time
	Limit      int64
}

// DailyStatistic is one rollup row keyed by (date, bucket, type).
type DailyStatistic struct {
	Date       string `json:"date" bson:"date"`
	BucketName string `json:"bucket_name" bson:"bucket_name"`
	EventType  string `json:"event_type" bson:"event_type"`
	EventCount int64  `json:"event_count" bson:"event_count"`
}
