// Package chat runs message submission: authenticate, make sure a thread
// exists, echo the user's message, call the agent and show its reply.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/kinber/kinber/internal/attachment"
	"github.com/kinber/kinber/internal/backend"
	"github.com/kinber/kinber/internal/identity"
	"github.com/kinber/kinber/internal/logging"
	"github.com/kinber/kinber/internal/models"
	"github.com/kinber/kinber/internal/notify"
)

// Fixed assistant texts.
const (
	FallbackReply = "Sorry, I couldn't process that request."
	EmptyReply    = "No response."
)

// Submission rejections. None of them changes the transcript.
var (
	ErrBusy            = errors.New("chat: a message is already being sent")
	ErrEmpty           = errors.New("chat: nothing to send")
	ErrUnauthenticated = errors.New("chat: sign in required")
)

// State is the composer's submission state.
type State int

const (
	Idle State = iota
	InFlight
)

func (s State) String() string {
	if s == InFlight {
		return "in_flight"
	}
	return "idle"
}

// Outcome is how a dispatched submission ended.
type Outcome int

const (
	Completed Outcome = iota
	Failed
)

func (o Outcome) String() string {
	if o == Failed {
		return "failed"
	}
	return "completed"
}

// Result describes a submission that got past authentication.
type Result struct {
	ThreadID string
	Reply    string
	Outcome  Outcome
	Err      error // cause of a Failed outcome
}

// Threads supplies and records threads.
type Threads interface {
	Ensure(ctx context.Context, existingID string, auth backend.Auth) (string, error)
	Record(ctx context.Context, msg models.Message)
	Messages(ctx context.Context, id string, auth backend.Auth) ([]backend.Message, error)
	Reset()
}

// Agent runs the assistant.
type Agent interface {
	StartAgent(ctx context.Context, auth backend.Auth, threadID string, req backend.StartRequest) (string, error)
	RunTool(ctx context.Context, auth backend.Auth, tc backend.ToolCall) (json.RawMessage, error)
	SendToolResult(ctx context.Context, auth backend.Auth, threadID, agent, tool string, result json.RawMessage) (string, error)
}

// AttachmentSource holds the files staged for the next message.
type AttachmentSource interface {
	All() []attachment.Attachment
	Clear()
}

// Config wires a Composer.
type Config struct {
	Sessions    identity.SessionSource
	Threads     Threads
	Agent       Agent
	Attachments AttachmentSource // optional
	Transcript  *Transcript      // optional; a fresh one is created
	Notifier    notify.Notifier  // optional; receives dropped-attachment notices
	ModelName   string
	AgentName   string
}

// Composer sends messages one at a time.
type Composer struct {
	sessions    identity.SessionSource
	threads     Threads
	agent       Agent
	attachments AttachmentSource
	transcript  *Transcript
	notifier    notify.Notifier
	modelName   string
	agentName   string

	mu       sync.Mutex
	state    State
	threadID string
}

// NewComposer returns an idle composer.
func NewComposer(cfg Config) *Composer {
	t := cfg.Transcript
	if t == nil {
		t = NewTranscript(nil)
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Discard
	}
	agentName := cfg.AgentName
	if agentName == "" {
		agentName = "default"
	}
	return &Composer{
		sessions:    cfg.Sessions,
		threads:     cfg.Threads,
		agent:       cfg.Agent,
		attachments: cfg.Attachments,
		transcript:  t,
		notifier:    notifier,
		modelName:   cfg.ModelName,
		agentName:   agentName,
	}
}

// Transcript returns the visible conversation.
func (c *Composer) Transcript() *Transcript { return c.transcript }

// State reports whether a submission is in flight.
func (c *Composer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ThreadID returns the thread the composer posts into.
func (c *Composer) ThreadID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threadID
}

// SetAgent selects the agent used for later submissions.
func (c *Composer) SetAgent(name string) {
	c.mu.Lock()
	if name != "" {
		c.agentName = name
	}
	c.mu.Unlock()
}

// Reset starts a new conversation. It fails with ErrBusy while a submission
// is in flight.
func (c *Composer) Reset() error {
	c.mu.Lock()
	if c.state == InFlight {
		c.mu.Unlock()
		return ErrBusy
	}
	c.threadID = ""
	c.mu.Unlock()

	c.threads.Reset()
	c.transcript.Replace(nil)
	return nil
}

// Request is one submission.
type Request struct {
	Text string
	// Attachments overrides the staged attachments when non-nil.
	Attachments []attachment.Attachment
	// ThreadID posts into an existing thread.
	ThreadID string
	// SkipEcho leaves the user's message out of the transcript because it is
	// already shown.
	SkipEcho bool
}

func (c *Composer) acquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == InFlight {
		return false
	}
	c.state = InFlight
	return true
}

func (c *Composer) release() {
	c.mu.Lock()
	c.state = Idle
	c.mu.Unlock()
}

// Submit sends one message. Overlapping calls get ErrBusy, an empty request
// gets ErrEmpty and a missing session gets ErrUnauthenticated. Attachments
// above attachment.MaxBytes are dropped with a notice. Any failure after that
// ends in a fallback assistant message and a Failed result, never an error.
func (c *Composer) Submit(ctx context.Context, req Request) (Result, error) {
	if !c.acquire() {
		return Result{}, ErrBusy
	}
	defer c.release()

	atts := req.Attachments
	if atts == nil && c.attachments != nil {
		atts = c.attachments.All()
	}
	text, atts, err := c.prepare(req.Text, atts)
	if err != nil {
		return Result{}, err
	}
	return c.dispatch(ctx, req, text, atts)
}

// prepare trims the text and drops attachments over the size limit.
func (c *Composer) prepare(text string, atts []attachment.Attachment) (string, []attachment.Attachment, error) {
	text = strings.TrimSpace(text)
	kept := make([]attachment.Attachment, 0, len(atts))
	for _, a := range atts {
		if err := attachment.Validate(a.Size); err != nil {
			log := logging.For("chat")
			log.Warn().Str("file", a.Name).Int64("size", a.Size).Msg("oversized attachment dropped")
			c.notifier.Notify(notify.Errorf("File too large", "%s exceeds the %d MiB limit and was not sent", a.Name, attachment.MaxBytes>>20))
			continue
		}
		kept = append(kept, a)
	}
	if text == "" && len(kept) == 0 {
		return "", nil, ErrEmpty
	}
	return text, kept, nil
}

// dispatch runs a prepared submission. The caller holds the guard.
func (c *Composer) dispatch(ctx context.Context, req Request, text string, atts []attachment.Attachment) (Result, error) {
	log := logging.For("chat")

	s, err := c.sessions.CurrentSession(ctx)
	if err != nil || s == nil {
		if err != nil {
			log.Warn().Err(err).Msg("session check failed")
		}
		return Result{}, ErrUnauthenticated
	}
	auth := authFor(s)

	existing := req.ThreadID
	if existing == "" {
		existing = c.ThreadID()
	}
	threadID, err := c.threads.Ensure(ctx, existing, auth)
	if err != nil {
		log.Error().Err(err).Msg("thread could not be created")
		c.clearAttachments(req)
		return c.fail("", err), nil
	}
	c.mu.Lock()
	c.threadID = threadID
	c.mu.Unlock()

	refs := make([]models.AttachmentRef, 0, len(atts))
	payloads := make([]backend.AttachmentPayload, 0, len(atts))
	for _, a := range atts {
		refs = append(refs, a.Ref())
		payloads = append(payloads, a.Payload())
	}

	if !req.SkipEcho {
		c.transcript.Append(Entry{Role: models.RoleUser, Content: text, Attachments: refs})
	}
	c.threads.Record(ctx, models.Message{ThreadID: threadID, Role: models.RoleUser, Content: text, Attachments: refs})

	c.mu.Lock()
	agentName := c.agentName
	c.mu.Unlock()
	reply, err := c.agent.StartAgent(ctx, auth, threadID, backend.StartRequest{
		Message:     text,
		ModelName:   c.modelName,
		Agent:       agentName,
		Attachments: payloads,
	})
	c.clearAttachments(req)
	if err != nil {
		log.Error().Err(err).Str("thread", threadID).Msg("agent start failed")
		return c.fail(threadID, err), nil
	}

	reply = c.followToolCall(ctx, auth, threadID, agentName, reply)
	if strings.TrimSpace(reply) == "" {
		reply = EmptyReply
	}
	c.transcript.Append(Entry{Role: models.RoleAssistant, Content: reply})
	c.threads.Record(ctx, models.Message{ThreadID: threadID, Role: models.RoleAssistant, Content: reply})
	return Result{ThreadID: threadID, Reply: reply, Outcome: Completed}, nil
}

// followToolCall runs the tool a reply asks for and returns the agent's answer
// to the tool result. The original reply stands if anything goes wrong.
func (c *Composer) followToolCall(ctx context.Context, auth backend.Auth, threadID, agentName, reply string) string {
	tc, ok := backend.ParseToolCall(reply)
	if !ok {
		return reply
	}
	log := logging.For("chat")
	result, err := c.agent.RunTool(ctx, auth, *tc)
	if err != nil {
		log.Warn().Err(err).Str("tool", tc.Tool).Msg("tool not run")
		return reply
	}
	second, err := c.agent.SendToolResult(ctx, auth, threadID, agentName, tc.Tool, result)
	if err != nil {
		log.Warn().Err(err).Str("tool", tc.Tool).Msg("tool result not delivered")
		return reply
	}
	if second == "" {
		return reply
	}
	return second
}

func authFor(s *identity.Session) backend.Auth {
	return backend.Auth{Token: s.AccessToken, UserID: s.User.ID}
}

func (c *Composer) clearAttachments(req Request) {
	if req.Attachments == nil && c.attachments != nil {
		c.attachments.Clear()
	}
}

func (c *Composer) fail(threadID string, err error) Result {
	c.transcript.Append(Entry{Role: models.RoleAssistant, Content: FallbackReply, Fallback: true})
	return Result{ThreadID: threadID, Reply: FallbackReply, Outcome: Failed, Err: err}
}
