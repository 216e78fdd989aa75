package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseEventType(t *testing.T) {
	tests := []struct {
		raw      string
		category EventCategory
		subtype  string
	}{
		{"b2:ObjectCreated:Upload", CategoryObjectCreated, "Upload"},
		{"b2:ObjectCreated:MultipartUpload", CategoryObjectCreated, "MultipartUpload"},
		{"b2:ObjectDeleted:Delete", CategoryObjectDeleted, "Delete"},
		{"b2:ObjectDeleted:LifecycleRule", CategoryObjectDeleted, "LifecycleRule"},
		{"b2:ObjectRestore:Completed", CategoryObjectRestored, "Completed"},
		{"b2:ObjectArchive", CategoryObjectArchived, ""},
		{"b2:BucketCreated", CategoryUnknown, ""},
		{"s3:ObjectCreated:Put", CategoryUnknown, ""},
		{"", CategoryUnknown, ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			et := ParseEventType(tt.raw)
			assert.Equal(t, tt.category, et.Category)
			assert.Equal(t, tt.subtype, et.Subtype)
			// The provider string always survives verbatim.
			assert.Equal(t, tt.raw, et.Raw)
		})
	}
}

func TestBucketConfigTracks(t *testing.T) {
	cfg := BucketWebhookConfig{
		BucketName: "photos",
		Enabled:    true,
		TrackedEventTypes: []string{
			"b2:ObjectCreated:*",
			"b2:ObjectDeleted:Delete",
		},
	}

	assert.True(t, cfg.Tracks("b2:ObjectCreated:Upload"))
	assert.True(t, cfg.Tracks("b2:ObjectCreated:MultipartUpload"))
	assert.True(t, cfg.Tracks("b2:ObjectDeleted:Delete"))
	assert.False(t, cfg.Tracks("b2:ObjectDeleted:LifecycleRule"))
	assert.False(t, cfg.Tracks("b2:ObjectCreated"))
	assert.False(t, cfg.Tracks("b2:ObjectRestore:Started"))

	empty := BucketWebhookConfig{BucketName: "empty"}
	assert.False(t, empty.Tracks("b2:ObjectCreated:Upload"))
}
