package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kinber/kinber/internal/attachment"
	"github.com/kinber/kinber/internal/backend"
	"github.com/kinber/kinber/internal/cache"
	"github.com/kinber/kinber/internal/chat"
	"github.com/kinber/kinber/internal/identity"
	"github.com/kinber/kinber/internal/logging"
	"github.com/kinber/kinber/internal/recents"
	"github.com/kinber/kinber/internal/share"
	"github.com/kinber/kinber/internal/thread"
)

const recentsKey = "recents"

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	api := r.Group("/api")
	api.GET("/threads", s.handleRecents)
	api.GET("/threads/search", s.handleSearch)
	api.GET("/threads/:id/messages", s.handleMessages)
	api.PATCH("/threads/:id", s.handleRename)
	api.DELETE("/threads/:id", s.handleDelete)
	api.POST("/threads/:id/share", s.handleShare)
	api.POST("/chat", s.handleChat)
	api.POST("/attachments", s.handleAttachments)
	api.GET("/agents", s.handleAgents)
	api.GET("/events", s.handleEvents)
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func limitParam(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 || n > 100 {
		return recents.DefaultLimit
	}
	return n
}

// session returns the signed-in session or writes a 401.
func (s *Server) session(c *gin.Context) (*identity.Session, bool) {
	sess, err := s.opts.Sessions.CurrentSession(c.Request.Context())
	if err != nil || sess == nil {
		abort(c, http.StatusUnauthorized, "sign in required")
		return nil, false
	}
	return sess, true
}

func (s *Server) recentList(ctx context.Context, limit int) ([]thread.Summary, error) {
	log := logging.For("web")
	cached := limit == recents.DefaultLimit
	if cached {
		raw, err := s.opts.Cache.Get(ctx, recentsKey)
		if err == nil {
			var list []thread.Summary
			if json.Unmarshal([]byte(raw), &list) == nil {
				return list, nil
			}
		} else if !errors.Is(err, cache.ErrMiss) {
			log.Warn().Err(err).Msg("recents cache read failed")
		}
	}
	list, err := s.opts.Threads.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []thread.Summary{}
	}
	if cached {
		if data, err := json.Marshal(list); err == nil {
			if err := s.opts.Cache.Set(ctx, recentsKey, string(data), s.opts.CacheTTL); err != nil {
				log.Warn().Err(err).Msg("recents cache write failed")
			}
		}
	}
	return list, nil
}

func (s *Server) invalidateRecents(ctx context.Context) {
	if _, err := s.opts.Cache.Del(ctx, recentsKey); err != nil {
		log := logging.For("web")
		log.Warn().Err(err).Msg("recents cache invalidation failed")
	}
}

func (s *Server) handleRecents(c *gin.Context) {
	list, err := s.recentList(c.Request.Context(), limitParam(c))
	if err != nil {
		// A failed read shows an empty list.
		log := logging.For("web")
		log.Warn().Err(err).Msg("recent threads unavailable")
		list = []thread.Summary{}
	}
	c.JSON(http.StatusOK, gin.H{"threads": list})
}

func (s *Server) handleSearch(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		c.JSON(http.StatusOK, gin.H{"threads": []thread.Summary{}})
		return
	}
	list, err := s.opts.Threads.Search(c.Request.Context(), q, limitParam(c))
	if err != nil {
		abort(c, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []thread.Summary{}
	}
	c.JSON(http.StatusOK, gin.H{"threads": list})
}

func (s *Server) handleMessages(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	msgs, err := s.opts.Threads.Messages(c.Request.Context(), c.Param("id"), backend.Auth{Token: sess.AccessToken, UserID: sess.User.ID})
	switch {
	case errors.Is(err, thread.ErrInvalidID):
		abort(c, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		abort(c, http.StatusBadGateway, err.Error())
		return
	}
	if msgs == nil {
		msgs = []backend.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (s *Server) handleRename(c *gin.Context) {
	var body struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		abort(c, http.StatusBadRequest, "invalid body")
		return
	}
	err := s.opts.Threads.Rename(c.Request.Context(), c.Param("id"), body.Title)
	switch {
	case errors.Is(err, thread.ErrEmptyTitle):
		abort(c, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, thread.ErrNotFound):
		abort(c, http.StatusNotFound, err.Error())
		return
	case err != nil:
		abort(c, http.StatusInternalServerError, err.Error())
		return
	}
	s.invalidateRecents(c.Request.Context())
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDelete(c *gin.Context) {
	id := c.Param("id")
	err := s.opts.Threads.Delete(c.Request.Context(), id)
	var partial *thread.PartialDeleteError
	switch {
	case errors.As(err, &partial):
		s.invalidateRecents(c.Request.Context())
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "remaining": partial.Remaining})
		return
	case err != nil:
		abort(c, http.StatusInternalServerError, err.Error())
		return
	}
	s.forget(id)
	s.invalidateRecents(c.Request.Context())
	c.Status(http.StatusNoContent)
}

func (s *Server) handleShare(c *gin.Context) {
	var body struct {
		Target string `json:"target"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			abort(c, http.StatusBadRequest, "invalid body")
			return
		}
	}
	target, err := share.Pick(s.opts.Share, body.Target)
	if err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	t, err := s.opts.Threads.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, thread.ErrNotFound) {
			abort(c, http.StatusNotFound, err.Error())
			return
		}
		abort(c, http.StatusInternalServerError, err.Error())
		return
	}
	link := share.LinkFor(s.opts.AppURL, t.ThreadID, t.Title)
	if err := target.Share(c.Request.Context(), link); err != nil {
		abort(c, http.StatusBadGateway, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"target": target.Name(), "url": link.URL})
}

type chatRequest struct {
	Message        string   `json:"message"`
	ThreadID       string   `json:"thread_id"`
	Agent          string   `json:"agent"`
	AttachmentURLs []string `json:"attachment_urls"`
}

func (s *Server) handleChat(c *gin.Context) {
	var body chatRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		abort(c, http.StatusBadRequest, "invalid body")
		return
	}
	atts := s.stagedAttachments(body.AttachmentURLs)
	composer := s.conversation(body.ThreadID)
	if body.Agent != "" {
		composer.SetAgent(body.Agent)
	}
	res, err := composer.Submit(c.Request.Context(), chat.Request{Text: body.Message, ThreadID: body.ThreadID, Attachments: atts})
	switch {
	case errors.Is(err, chat.ErrEmpty):
		abort(c, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, chat.ErrBusy):
		abort(c, http.StatusConflict, err.Error())
		return
	case errors.Is(err, chat.ErrUnauthenticated):
		abort(c, http.StatusUnauthorized, err.Error())
		return
	case err != nil:
		abort(c, http.StatusInternalServerError, err.Error())
		return
	}
	// Staged files are consumed by any dispatched submission.
	if s.opts.Attachments != nil {
		for _, u := range body.AttachmentURLs {
			s.opts.Attachments.Remove(u)
		}
	}
	s.remember(res.ThreadID, composer)
	if res.ThreadID != "" {
		s.invalidateRecents(c.Request.Context())
	}
	c.JSON(http.StatusOK, gin.H{
		"thread_id":  res.ThreadID,
		"reply":      res.Reply,
		"outcome":    res.Outcome.String(),
		"transcript": composer.Transcript().Entries(),
	})
}

// stagedAttachments resolves urls against the staging pipeline, keeping the
// request's order. Unknown urls are skipped.
func (s *Server) stagedAttachments(urls []string) []attachment.Attachment {
	out := []attachment.Attachment{}
	if s.opts.Attachments == nil || len(urls) == 0 {
		return out
	}
	staged := make(map[string]attachment.Attachment)
	for _, a := range s.opts.Attachments.All() {
		staged[a.URL] = a
	}
	for _, u := range urls {
		if a, ok := staged[u]; ok {
			out = append(out, a)
		}
	}
	return out
}

type attachmentView struct {
	Name  string `json:"name"`
	URL   string `json:"url"`
	Type  string `json:"type"`
	Size  int64  `json:"size"`
	Local bool   `json:"local"`
}

func (s *Server) handleAttachments(c *gin.Context) {
	if s.opts.Attachments == nil {
		abort(c, http.StatusNotImplemented, "attachments are not enabled")
		return
	}
	form, err := c.MultipartForm()
	if err != nil {
		abort(c, http.StatusBadRequest, "multipart form required")
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		abort(c, http.StatusBadRequest, "no files")
		return
	}

	destination := ""
	if s.opts.Upload {
		sess, ok := s.session(c)
		if !ok {
			return
		}
		destination = sess.User.ID
	}

	files := make([]attachment.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fileFromHeader(fh)
		if err != nil {
			abort(c, http.StatusBadRequest, err.Error())
			return
		}
		files = append(files, f)
	}

	added := s.opts.Attachments.Add(c.Request.Context(), destination, files...)
	accepted := make(map[string]bool, len(added))
	views := make([]attachmentView, 0, len(added))
	for _, a := range added {
		accepted[a.Name] = true
		views = append(views, attachmentView{Name: a.Name, URL: a.URL, Type: a.Type, Size: a.Size, Local: a.Local})
	}
	rejected := []string{}
	for _, f := range files {
		if !accepted[attachment.NormalizeName(f.Name)] {
			rejected = append(rejected, f.Name)
		}
	}
	c.JSON(http.StatusOK, gin.H{"attachments": views, "rejected": rejected})
}

// fileFromHeader buffers an uploaded part. Oversize parts are described
// without being read so the pipeline can reject them.
func fileFromHeader(fh *multipart.FileHeader) (attachment.File, error) {
	mime := fh.Header.Get("Content-Type")
	if fh.Size > attachment.MaxBytes {
		return attachment.File{
			Name: fh.Filename,
			Size: fh.Size,
			Type: mime,
			Open: func() (io.ReadCloser, error) { return fh.Open() },
		}, nil
	}
	rc, err := fh.Open()
	if err != nil {
		return attachment.File{}, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return attachment.File{}, err
	}
	return attachment.FromBytes(fh.Filename, mime, data), nil
}

func (s *Server) handleAgents(c *gin.Context) {
	if s.opts.Agents == nil {
		c.JSON(http.StatusOK, gin.H{"agents": []any{}})
		return
	}
	list, err := s.opts.Agents.List(c.Request.Context())
	if err != nil {
		abort(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": list})
}
