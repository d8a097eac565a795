// Package triplet puts one prompt to three models and a blind judge, and keeps
// the document context the backend extracts from attachments for the rest of
// the session.
package triplet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kinber/kinber/internal/attachment"
	"github.com/kinber/kinber/internal/backend"
	"github.com/kinber/kinber/internal/identity"
	"github.com/kinber/kinber/internal/logging"
	"github.com/kinber/kinber/internal/notify"
)

// Models are the compared models in display order.
var Models = []string{"gpt", "claude", "deepseek"}

// Verdict is the judge's entry in a Result.
const Verdict = "verdict"

// Rejections. None of them reaches the backend.
var (
	ErrBusy            = errors.New("triplet: a comparison is already running")
	ErrEmpty           = errors.New("triplet: prompt is required")
	ErrUnauthenticated = errors.New("triplet: sign in required")
)

// Streamer runs a triplet comparison.
type Streamer interface {
	TripletStream(ctx context.Context, auth backend.Auth, req backend.TripletRequest, fn func(backend.TripletEvent) error) error
}

// AttachmentSource holds the files staged for the next prompt.
type AttachmentSource interface {
	All() []attachment.Attachment
	Clear()
}

// Config wires a Session.
type Config struct {
	Sessions    identity.SessionSource
	Backend     Streamer
	Attachments AttachmentSource // optional
	Notifier    notify.Notifier  // optional
	SkipVerdict bool
	// OnEvent sees every model event as it arrives.
	OnEvent func(backend.TripletEvent)
}

// Result holds the answers to one prompt, keyed by model and Verdict.
type Result struct {
	Prompt    string
	Responses map[string]string
	Elapsed   map[string]float64
}

// Pending lists the models that have not answered, in display order.
func (r *Result) Pending() []string {
	var out []string
	for _, m := range Models {
		if _, ok := r.Responses[m]; !ok {
			out = append(out, m)
		}
	}
	return out
}

// Session is one triplet screen. Prompts run one at a time.
type Session struct {
	cfg Config

	mu              sync.Mutex
	busy            bool
	documentContext string
}

// New returns a session without document context.
func New(cfg Config) *Session {
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Discard
	}
	return &Session{cfg: cfg}
}

// DocumentContext returns the context extracted on the first prompt, or "".
func (s *Session) DocumentContext() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.documentContext
}

// Reset forgets the document context.
func (s *Session) Reset() {
	s.mu.Lock()
	s.documentContext = ""
	s.mu.Unlock()
}

func (s *Session) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return false
	}
	s.busy = true
	return true
}

func (s *Session) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// Ask streams the answers to prompt. Staged attachments go out only while the
// session has no document context; once the backend returns one it is sent
// in their place and the attachments are cleared.
func (s *Session) Ask(ctx context.Context, prompt string) (*Result, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmpty
	}
	if !s.acquire() {
		return nil, ErrBusy
	}
	defer s.release()

	log := logging.For("triplet")
	sess, err := s.cfg.Sessions.CurrentSession(ctx)
	if err != nil || sess == nil {
		if err != nil {
			log.Warn().Err(err).Msg("session check failed")
		}
		return nil, ErrUnauthenticated
	}
	auth := backend.Auth{Token: sess.AccessToken, UserID: sess.User.ID}

	req := backend.TripletRequest{Prompt: prompt, SkipVerdict: s.cfg.SkipVerdict, Attachments: []backend.AttachmentPayload{}}
	sent := 0
	if docCtx := s.DocumentContext(); docCtx != "" {
		req.DocumentContext = &docCtx
	} else if s.cfg.Attachments != nil {
		for _, a := range s.cfg.Attachments.All() {
			if err := attachment.Validate(a.Size); err != nil {
				s.cfg.Notifier.Notify(notify.Errorf("File too large", "%s exceeds the %d MiB limit and was not sent", a.Name, attachment.MaxBytes>>20))
				continue
			}
			req.Attachments = append(req.Attachments, a.Payload())
			sent++
		}
	}

	res := &Result{Prompt: prompt, Responses: make(map[string]string), Elapsed: make(map[string]float64)}
	err = s.cfg.Backend.TripletStream(ctx, auth, req, func(ev backend.TripletEvent) error {
		if ev.Model != "" {
			res.Responses[ev.Model] = ev.Response
			res.Elapsed[ev.Model] = ev.Elapsed
			log.Debug().Str("model", ev.Model).Float64("elapsed", ev.Elapsed).Msg("model answered")
		}
		if ev.DocumentContext != "" {
			s.mu.Lock()
			if s.documentContext == "" {
				s.documentContext = ev.DocumentContext
			}
			s.mu.Unlock()
		}
		if s.cfg.OnEvent != nil {
			s.cfg.OnEvent(ev)
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("triplet failed")
		s.cfg.Notifier.Notify(notify.Errorf("Triplet failed", "please try again"))
		return res, fmt.Errorf("triplet: %w", err)
	}
	if sent > 0 {
		s.cfg.Attachments.Clear()
	}
	return res, nil
}
