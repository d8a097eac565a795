// Package web serves the local JSON API and event stream a browser chat UI
// runs against.
package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kinber/kinber/internal/attachment"
	"github.com/kinber/kinber/internal/backend"
	"github.com/kinber/kinber/internal/cache"
	"github.com/kinber/kinber/internal/chat"
	"github.com/kinber/kinber/internal/identity"
	"github.com/kinber/kinber/internal/logging"
	"github.com/kinber/kinber/internal/models"
	"github.com/kinber/kinber/internal/realtime"
	"github.com/kinber/kinber/internal/share"
	"github.com/kinber/kinber/internal/thread"
)

// Threads is the thread lifecycle the API exposes.
type Threads interface {
	ListRecent(ctx context.Context, limit int) ([]thread.Summary, error)
	Search(ctx context.Context, term string, limit int) ([]thread.Summary, error)
	Get(ctx context.Context, id string) (*models.Thread, error)
	Rename(ctx context.Context, id, title string) error
	Delete(ctx context.Context, id string) error
	Messages(ctx context.Context, id string, auth backend.Auth) ([]backend.Message, error)
}

// Agents lists the selectable agents.
type Agents interface {
	List(ctx context.Context) ([]models.Agent, error)
}

// Options holds the collaborators of a Server.
type Options struct {
	Port     int
	Out      io.Writer
	Sessions identity.SessionSource
	Threads  Threads
	// NewComposer returns a composer for a new conversation.
	NewComposer func() *chat.Composer
	Attachments *attachment.Pipeline
	// Upload stores attachments under the signed-in user instead of
	// holding them locally.
	Upload   bool
	Agents   Agents
	Share    map[string]share.Target
	AppURL   string
	Feed     realtime.Feed
	Cache    cache.Cache
	CacheTTL time.Duration
	// Heartbeat is the event stream keepalive interval.
	Heartbeat time.Duration
	// ConversationIdle is how long an unused conversation is kept.
	ConversationIdle time.Duration
	// MaxConversations caps the conversations kept at once.
	MaxConversations int
}

// Server is the web front end.
type Server struct {
	opts   Options
	router *gin.Engine

	now func() time.Time

	mu            sync.Mutex
	conversations map[string]*conversation
}

type conversation struct {
	composer *chat.Composer
	lastUsed time.Time
}

// New validates opts and builds the router.
func New(opts Options) (*Server, error) {
	if opts.Sessions == nil {
		return nil, fmt.Errorf("web: sessions are required")
	}
	if opts.Threads == nil {
		return nil, fmt.Errorf("web: threads are required")
	}
	if opts.NewComposer == nil {
		return nil, fmt.Errorf("web: composer factory is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewMemory()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	if opts.ConversationIdle <= 0 {
		opts.ConversationIdle = 30 * time.Minute
	}
	if opts.MaxConversations <= 0 {
		opts.MaxConversations = 256
	}

	s := &Server{opts: opts, now: time.Now, conversations: make(map[string]*conversation)}
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.registerRoutes()
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Watch drops cached recents whenever the threads table changes. The
// subscription ends with ctx.
func (s *Server) Watch(ctx context.Context) {
	if s.opts.Feed == nil {
		return
	}
	unsub, err := s.opts.Feed.Subscribe("threads", func() { s.invalidateRecents(context.Background()) })
	if err != nil {
		log := logging.For("web")
		log.Warn().Err(err).Msg("recents cache will not follow thread changes")
		return
	}
	go func() {
		<-ctx.Done()
		unsub()
	}()
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.Watch(ctx)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.opts.Port),
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if s.opts.Out != nil {
		fmt.Fprintf(s.opts.Out, "Kinber running at http://localhost:%d\n", s.opts.Port)
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web: %w", err)
	}
	return nil
}

// conversation returns the composer for threadID, creating one when the
// thread has none yet.
func (s *Server) conversation(threadID string) *chat.Composer {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.evictLocked(now)
	if conv, ok := s.conversations[threadID]; ok && threadID != "" {
		conv.lastUsed = now
		return conv.composer
	}
	c := s.opts.NewComposer()
	if threadID != "" {
		s.conversations[threadID] = &conversation{composer: c, lastUsed: now}
	}
	return c
}

func (s *Server) remember(threadID string, c *chat.Composer) {
	if threadID == "" {
		return
	}
	s.mu.Lock()
	now := s.now()
	s.conversations[threadID] = &conversation{composer: c, lastUsed: now}
	s.evictLocked(now)
	s.mu.Unlock()
}

func (s *Server) forget(threadID string) {
	s.mu.Lock()
	conv := s.conversations[threadID]
	delete(s.conversations, threadID)
	s.mu.Unlock()
	if conv != nil {
		conv.composer.Transcript().Close()
	}
}

// evictLocked drops conversations idle past ConversationIdle, then the least
// recently used ones above MaxConversations. Conversations with a submission
// in flight stay.
func (s *Server) evictLocked(now time.Time) {
	log := logging.For("web")
	for id, conv := range s.conversations {
		if conv.composer.State() == chat.InFlight {
			continue
		}
		if now.Sub(conv.lastUsed) > s.opts.ConversationIdle {
			delete(s.conversations, id)
			conv.composer.Transcript().Close()
			log.Debug().Str("thread", id).Msg("idle conversation evicted")
		}
	}
	for len(s.conversations) > s.opts.MaxConversations {
		oldest := ""
		for id, conv := range s.conversations {
			if conv.composer.State() == chat.InFlight {
				continue
			}
			if oldest == "" || conv.lastUsed.Before(s.conversations[oldest].lastUsed) {
				oldest = id
			}
		}
		if oldest == "" {
			return
		}
		s.conversations[oldest].composer.Transcript().Close()
		delete(s.conversations, oldest)
		log.Debug().Str("thread", oldest).Msg("conversation evicted")
	}
}
