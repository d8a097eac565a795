package web

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kinber/kinber/internal/logging"
	"github.com/kinber/kinber/internal/recents"
	"github.com/kinber/kinber/internal/thread"
)

// handleEvents streams the recents list each time the threads table changes.
func (s *Server) handleEvents(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
	c.Writer.Flush()

	if s.opts.Feed == nil {
		return
	}

	changed := make(chan struct{}, 1)
	unsub, err := s.opts.Feed.Subscribe("threads", func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	if err != nil {
		log := logging.For("web")
		log.Warn().Err(err).Msg("event stream subscription failed")
		return
	}
	defer unsub()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(s.opts.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeSSE(c.Writer, "heartbeat", map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		case <-changed:
			s.invalidateRecents(ctx)
			list, err := s.recentList(ctx, recents.DefaultLimit)
			if err != nil {
				log := logging.For("web")
				log.Warn().Err(err).Msg("recent threads unavailable")
				continue
			}
			writeSSE(c.Writer, "threads", struct {
				Threads []thread.Summary `json:"threads"`
			}{list})
			c.Writer.Flush()
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
