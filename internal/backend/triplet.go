package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kinber/kinber/internal/logging"
)

// TripletRequest asks the triplet endpoint to compare models on one prompt.
// DocumentContext is sent as null until the backend has extracted one, and
// attachments are only sent while it is null.
type TripletRequest struct {
	Prompt          string              `json:"prompt"`
	Attachments     []AttachmentPayload `json:"attachments"`
	DocumentContext *string             `json:"document_context"`
	SkipVerdict     bool                `json:"skip_ai_verdict"`
}

// TripletEvent is one event of the triplet stream. A model event carries
// Model and Response; the others carry one of DocumentContext, Done or Error.
type TripletEvent struct {
	Model           string  `json:"model,omitempty"`
	Response        string  `json:"response,omitempty"`
	Elapsed         float64 `json:"elapsed,omitempty"`
	DocumentContext string  `json:"document_context,omitempty"`
	Done            bool    `json:"done,omitempty"`
	Error           string  `json:"error,omitempty"`
}

// StreamError is an error event sent inside a triplet stream.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return "backend: triplet: stream error: " + e.Message
}

// TripletStream posts req and calls fn for each event as it arrives. It
// returns after the done event, at the end of the stream, or on the first
// error from fn. An error event ends the stream with a *StreamError.
func (c *Client) TripletStream(ctx context.Context, auth Auth, req TripletRequest, fn func(TripletEvent) error) error {
	const op = "triplet"
	if req.Attachments == nil {
		req.Attachments = []AttachmentPayload{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("backend: %s: encode: %w", op, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/triplet/stream", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("backend: %s: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if auth.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+auth.Token)
	}
	if auth.UserID != "" {
		httpReq.Header.Set("X-User-ID", auth.UserID)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("backend: %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
		if err != nil {
			return fmt.Errorf("backend: %s: read body: %w", op, err)
		}
		return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return readEvents(resp.Body, fn)
}

// readEvents splits an event stream into data payloads and decodes each one.
func readEvents(r io.Reader, fn func(TripletEvent) error) error {
	log := logging.For("backend")
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxBody)

	var data []string
	dispatch := func() (bool, error) {
		if len(data) == 0 {
			return false, nil
		}
		payload := strings.Join(data, "\n")
		data = data[:0]
		var ev TripletEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			log.Warn().Err(err).Msg("unreadable triplet event skipped")
			return false, nil
		}
		if ev.Error != "" {
			return true, &StreamError{Message: ev.Error}
		}
		if err := fn(ev); err != nil {
			return true, err
		}
		return ev.Done, nil
	}

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			if stop, err := dispatch(); stop || err != nil {
				return err
			}
			continue
		}
		if v, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimPrefix(v, " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("backend: triplet: read stream: %w", err)
	}
	_, err := dispatch()
	return err
}
