package attachment

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/kinber/kinber/internal/cache"
	"github.com/kinber/kinber/internal/identity"
	"github.com/kinber/kinber/internal/logging"
	"github.com/kinber/kinber/internal/notify"
)

// Uploader stores files durably and names their public URL.
type Uploader interface {
	Upload(ctx context.Context, token, path string, r io.Reader, size int64, contentType string) error
	PublicURL(path string) string
}

// Pipeline stages attachments for the next message.
type Pipeline struct {
	uploader Uploader
	sessions identity.SessionSource
	cache    cache.Cache
	notifier notify.Notifier
	bus      *notify.Bus
	registry *Registry
	newID    func() string

	mu       sync.Mutex
	pending  []Attachment
	uploaded []Attachment
	closed   bool
}

// Config wires a Pipeline's collaborators. Uploader and Sessions are only
// needed for remote upload mode.
type Config struct {
	Uploader Uploader
	Sessions identity.SessionSource
	Cache    cache.Cache
	Notifier notify.Notifier
	Bus      *notify.Bus
	Registry *Registry
}

// NewPipeline returns an empty pipeline.
func NewPipeline(cfg Config) *Pipeline {
	p := &Pipeline{
		uploader: cfg.Uploader,
		sessions: cfg.Sessions,
		cache:    cfg.Cache,
		notifier: cfg.Notifier,
		bus:      cfg.Bus,
		registry: cfg.Registry,
		newID:    uuid.NewString,
	}
	if p.notifier == nil {
		p.notifier = notify.Discard
	}
	if p.registry == nil {
		p.registry = NewRegistry()
	}
	return p
}

// Registry returns the registry holding local references.
func (p *Pipeline) Registry() *Registry { return p.registry }

// Add stages files. With an empty destination they are held locally; otherwise
// they are uploaded under destination. Each file succeeds or fails on its own
// and failures are reported through the notifier. The staged attachments are
// returned.
func (p *Pipeline) Add(ctx context.Context, destination string, files ...File) []Attachment {
	if destination == "" {
		return p.addLocal(files)
	}
	return p.upload(ctx, destination, files)
}

func (p *Pipeline) addLocal(files []File) []Attachment {
	var added []Attachment
	for _, f := range files {
		a, ok := p.prepare(f)
		if !ok {
			continue
		}
		a.Local = true
		a.URL = p.registry.Create(f)
		if !p.appendPending(a) {
			p.registry.Release(a.URL)
			return added
		}
		added = append(added, a)
		p.notifier.Notify(notify.Notice{Level: notify.LevelSuccess, Title: "File attached", Text: a.Name})
		p.bus.Publish(notify.TopicFileAttached, a)
	}
	return added
}

func (p *Pipeline) upload(ctx context.Context, destination string, files []File) []Attachment {
	log := logging.For("attachment")
	if p.uploader == nil {
		p.notifier.Notify(notify.Errorf("Upload failed", "no storage is configured"))
		return nil
	}
	token := ""
	if p.sessions != nil {
		s, err := p.sessions.CurrentSession(ctx)
		if err != nil || s == nil {
			p.notifier.Notify(notify.Errorf("Upload failed", "sign in to upload files"))
			return nil
		}
		token = s.AccessToken
	}

	var added []Attachment
	for _, f := range files {
		a, ok := p.prepare(f)
		if !ok {
			continue
		}
		a.Path = fmt.Sprintf("%s/%s-%s", destination, p.newID(), a.Name)
		if err := p.put(ctx, token, a, f); err != nil {
			log.Warn().Err(err).Str("file", a.Name).Msg("upload failed")
			p.notifier.Notify(notify.Errorf("Upload failed", "%s: %v", a.Name, err))
			continue
		}
		a.URL = p.uploader.PublicURL(a.Path)
		if !p.appendUploaded(a) {
			return added
		}
		added = append(added, a)
		p.notifier.Notify(notify.Notice{Level: notify.LevelSuccess, Title: "File uploaded", Text: a.Name})
		p.bus.Publish(notify.TopicFileAttached, a)
	}

	if p.cache != nil {
		if _, err := p.cache.Del(ctx, "files:"+destination); err != nil {
			log.Warn().Err(err).Str("destination", destination).Msg("cache invalidation failed")
		}
	}
	return added
}

func (p *Pipeline) put(ctx context.Context, token string, a Attachment, f File) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	return p.uploader.Upload(ctx, token, a.Path, rc, a.Size, a.Type)
}

// prepare validates f and computes everything both modes share. Rejected files
// are reported and yield ok=false.
func (p *Pipeline) prepare(f File) (Attachment, bool) {
	name := NormalizeName(f.Name)
	if err := Validate(f.Size); err != nil {
		p.notifier.Notify(notify.Errorf("File too large", "%s exceeds the %d MiB limit", name, MaxBytes>>20))
		return Attachment{}, false
	}
	if f.Open == nil {
		p.notifier.Notify(notify.Errorf("Attachment failed", "%s cannot be read", name))
		return Attachment{}, false
	}

	a := Attachment{Name: name, Size: f.Size}
	a.Type = p.detect(f)
	a.Inline, a.InlineErr = p.inline(f, a.Type)
	if a.InlineErr != nil {
		log := logging.For("attachment")
		log.Debug().Err(a.InlineErr).Str("file", name).Msg("inline encoding unavailable")
	}
	return a, true
}

func (p *Pipeline) detect(f File) string {
	if f.Type != "" {
		return DetectType(f.Type, nil)
	}
	rc, err := f.Open()
	if err != nil {
		return DefaultType
	}
	defer rc.Close()
	return DetectType("", rc)
}

func (p *Pipeline) inline(f File, mime string) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	defer rc.Close()
	return EncodeInline(rc, mime)
}

func (p *Pipeline) appendPending(a Attachment) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.pending = append(p.pending, a)
	return true
}

func (p *Pipeline) appendUploaded(a Attachment) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.uploaded = append(p.uploaded, a)
	return true
}

// Pending returns the locally held attachments.
func (p *Pipeline) Pending() []Attachment {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Attachment(nil), p.pending...)
}

// Uploaded returns the attachments stored remotely.
func (p *Pipeline) Uploaded() []Attachment {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Attachment(nil), p.uploaded...)
}

// All returns every staged attachment, local ones first.
func (p *Pipeline) All() []Attachment {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Attachment, 0, len(p.pending)+len(p.uploaded))
	out = append(out, p.pending...)
	return append(out, p.uploaded...)
}

// Remove unstages the attachment with the given URL.
func (p *Pipeline) Remove(url string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, list := range []*[]Attachment{&p.pending, &p.uploaded} {
		for i, a := range *list {
			if a.URL == url {
				*list = append((*list)[:i], (*list)[i+1:]...)
				if a.Local {
					p.registry.Release(a.URL)
				}
				return true
			}
		}
	}
	return false
}

// Clear releases every local reference, empties both lists and announces it.
func (p *Pipeline) Clear() {
	p.releaseAll()
	p.bus.Publish(notify.TopicAttachmentsCleared, nil)
}

// Close releases local references. Later additions are dropped.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.releaseAll()
}

func (p *Pipeline) releaseAll() {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.uploaded = nil
	p.mu.Unlock()
	for _, a := range pending {
		if a.Local {
			p.registry.Release(a.URL)
		}
	}
}
