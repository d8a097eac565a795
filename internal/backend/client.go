// Package backend is the HTTP client for the agent execution backend: thread
// creation, agent runs, thread history and tool actions.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kinber/kinber/internal/config"
)

// maxBody caps how much of a response is read.
const maxBody = 8 << 20

// Auth identifies the caller on each request.
type Auth struct {
	Token  string
	UserID string
}

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend: %s: status %d: %s", e.Op, e.Status, e.Body)
}

// AttachmentPayload describes one attachment sent with a message.
type AttachmentPayload struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Type   string `json:"type"`
	Size   int64  `json:"size"`
	Base64 string `json:"base64,omitempty"`
}

// StartRequest is the body of an agent-start call.
type StartRequest struct {
	Message     string              `json:"message"`
	ModelName   string              `json:"model_name,omitempty"`
	Agent       string              `json:"agent"`
	Attachments []AttachmentPayload `json:"attachments"`
}

// Message is one stored message of a thread as the backend returns it.
type Message struct {
	ID          json.RawMessage     `json:"id,omitempty"`
	Role        string              `json:"role"`
	Content     string              `json:"content"`
	Attachments []AttachmentPayload `json:"attachments"`
	CreatedAt   string              `json:"created_at,omitempty"`
}

// Client calls the agent backend.
type Client struct {
	base string
	http *http.Client
}

// New returns a client for cfg.URL. A nil httpClient gets one with cfg.Timeout.
func New(cfg config.BackendConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 2 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{base: strings.TrimRight(cfg.URL, "/"), http: httpClient}
}

// CreateThread mints a new thread and returns its id.
func (c *Client) CreateThread(ctx context.Context, auth Auth, title string) (string, error) {
	body := map[string]string{"title": title, "user_id": auth.UserID}
	var resp struct {
		ThreadID string `json:"thread_id"`
		Data     struct {
			ThreadID string `json:"thread_id"`
		} `json:"data"`
	}
	if err := c.doJSON(ctx, "create thread", http.MethodPost, "/api/threads/", auth, body, &resp); err != nil {
		return "", err
	}
	id := resp.ThreadID
	if id == "" {
		id = resp.Data.ThreadID
	}
	if id == "" {
		return "", fmt.Errorf("backend: create thread: response carried no thread_id")
	}
	return id, nil
}

// StartAgent runs the agent on threadID and returns the decoded reply.
func (c *Client) StartAgent(ctx context.Context, auth Auth, threadID string, req StartRequest) (string, error) {
	if req.Attachments == nil {
		req.Attachments = []AttachmentPayload{}
	}
	path := "/api/threads/" + url.PathEscape(threadID) + "/agent/start"
	data, err := c.do(ctx, "agent start", http.MethodPost, path, auth, req)
	if err != nil {
		return "", err
	}
	return DecodeReply(data)
}

// ThreadMessages loads the stored messages of a thread.
func (c *Client) ThreadMessages(ctx context.Context, auth Auth, threadID string) ([]Message, error) {
	var resp struct {
		Messages []Message `json:"messages"`
		Data     struct {
			Messages []Message `json:"messages"`
		} `json:"data"`
	}
	path := "/api/threads/" + url.PathEscape(threadID)
	if err := c.doJSON(ctx, "get thread", http.MethodGet, path, auth, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Messages != nil {
		return resp.Messages, nil
	}
	return resp.Data.Messages, nil
}

// RunTool executes the action a tool call asks for and returns its result as
// raw JSON. Action failures are reported inside the result so the agent can
// see them.
func (c *Client) RunTool(ctx context.Context, auth Auth, tc ToolCall) (json.RawMessage, error) {
	var path string
	limit := tc.MaxResults
	switch tc.Tool {
	case ToolWebSearch:
		path = "/api/actions/search"
		if limit == 0 {
			limit = 10
		}
	case ToolYouTubeSearch, ToolYouTube:
		path = "/api/actions/youtube"
		if limit == 0 {
			limit = 5
		}
	default:
		return nil, fmt.Errorf("backend: unknown tool %q", tc.Tool)
	}

	body := map[string]interface{}{"query": tc.Query, "max_results": limit}
	data, err := c.do(ctx, tc.Tool, http.MethodPost, path, auth, body)
	if err != nil {
		msg, _ := json.Marshal(map[string]string{"error": err.Error()})
		return msg, nil
	}
	return unwrapToolResult(tc.Tool, data), nil
}

// unwrapToolResult strips the envelopes the action endpoints wrap results in.
func unwrapToolResult(tool string, data []byte) json.RawMessage {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err != nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return json.RawMessage(data)
	}
	if tool == ToolWebSearch {
		return env.Data
	}
	cur := env.Data
	for i := 0; i < 2; i++ {
		var inner struct {
			Results json.RawMessage `json:"results"`
		}
		if err := json.Unmarshal(cur, &inner); err != nil || len(inner.Results) == 0 || string(inner.Results) == "null" {
			break
		}
		cur = inner.Results
	}
	return cur
}

// SendToolResult returns a tool's output to the agent and decodes the new
// reply.
func (c *Client) SendToolResult(ctx context.Context, auth Auth, threadID, agent, tool string, result json.RawMessage) (string, error) {
	msg, err := json.Marshal(struct {
		Tool       string          `json:"tool"`
		ToolResult json.RawMessage `json:"tool_result"`
	}{tool, result})
	if err != nil {
		return "", fmt.Errorf("backend: encode tool result: %w", err)
	}
	return c.StartAgent(ctx, auth, threadID, StartRequest{Message: string(msg), Agent: agent})
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, auth Auth, body, out interface{}) error {
	data, err := c.do(ctx, op, method, path, auth, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("backend: %s: decode: %w", op, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, method, path string, auth Auth, body interface{}) ([]byte, error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("backend: %s: encode: %w", op, err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("backend: %s: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth.Token != "" {
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	}
	if auth.UserID != "" {
		req.Header.Set("X-User-ID", auth.UserID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: %s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("backend: %s: read body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}
