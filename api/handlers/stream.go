package handlers

import (
	"io"
	"net/http"

	"b2monitor/internal/buffer"
	"b2monitor/internal/hub"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type StreamHandler struct {
	logger *zap.Logger
	hub    *hub.Hub
}

func NewStreamHandler(logger *zap.Logger, h *hub.Hub) *StreamHandler {
	return &StreamHandler{logger: logger, hub: h}
}

// Stream serves GET /api/stream as Server-Sent Events. Each broadcast
// message becomes one SSE event named after its kind
// ("webhook_event" or "webhook_summary"). The feed is live-only: a
// client connecting now sees nothing published before now.
func (h *StreamHandler) Stream(c *gin.Context) {
	sub := h.hub.Subscribe()
	defer h.hub.Unsubscribe(sub)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-clientGone:
			return false
		case msg, ok := <-sub.C:
			if !ok {
				return false
			}
			c.SSEvent(msg.Kind, msg.Data)
			return true
		}
	})
}

// BufferStatsHandler exposes buffer depth and flush counters for the
// dashboard's health panel.
type BufferStatsHandler struct {
	reporter buffer.StatsReporter
}

func NewBufferStatsHandler(reporter buffer.StatsReporter) *BufferStatsHandler {
	return &BufferStatsHandler{reporter: reporter}
}

func (h *BufferStatsHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.reporter.Stats(c.Request.Context()))
}
