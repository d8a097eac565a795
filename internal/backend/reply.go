package backend

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// replyShapes lists where a reply string may live in an agent-start response,
// in the order they are tried. Backend handlers disagree on the envelope, so
// every known shape is accepted.
var replyShapes = [][]string{
	{"data", "assistant_reply"},
	{"assistant_reply"},
	{"message"},
	{"response"},
}

// DecodeReply extracts the assistant reply from an agent-start response body.
// The first non-empty string found along replyShapes wins. A well-formed body
// with none of them yields "" and no error.
func DecodeReply(body []byte) (string, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("backend: decode reply: %w", err)
	}
	for _, path := range replyShapes {
		if s, ok := lookupString(doc, path); ok && s != "" {
			return s, nil
		}
	}
	return "", nil
}

func lookupString(doc map[string]interface{}, path []string) (string, bool) {
	var cur interface{} = doc
	for _, key := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return "", false
		}
		cur = m[key]
	}
	s, ok := cur.(string)
	return s, ok
}

// Tool names the agent may ask the client to run.
const (
	ToolWebSearch     = "websearch"
	ToolYouTubeSearch = "youtube_search"
	ToolYouTube       = "youtube"
)

// ToolCall is a reply that asks the client to run an action and send the
// result back instead of answering directly.
type ToolCall struct {
	Tool       string `json:"tool"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

var toolJSON = regexp.MustCompile(`\{[\s\S]*?"tool"\s*:\s*".+?"[\s\S]*?\}`)

// ParseToolCall recognizes a tool call either as the whole reply or as the
// first JSON object embedded in it that names a tool.
func ParseToolCall(reply string) (*ToolCall, bool) {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return nil, false
	}
	if tc, ok := unmarshalToolCall(reply); ok {
		return tc, true
	}
	if m := toolJSON.FindString(reply); m != "" {
		return unmarshalToolCall(m)
	}
	return nil, false
}

func unmarshalToolCall(s string) (*ToolCall, bool) {
	var tc ToolCall
	if err := json.Unmarshal([]byte(s), &tc); err != nil || tc.Tool == "" {
		return nil, false
	}
	return &tc, true
}
