package chat

import (
	"context"
	"fmt"

	"github.com/kinber/kinber/internal/attachment"
	"github.com/kinber/kinber/internal/models"
)

// FirstMessage is a message typed on the welcome screen before the chat
// screen existed.
type FirstMessage struct {
	Text        string
	Attachments []attachment.Attachment
	ThreadID    string
}

// Resume shows a handed-over first message at once and then submits it
// without echoing it a second time. Nothing is shown while another
// submission is in flight.
func (c *Composer) Resume(ctx context.Context, m FirstMessage) (Result, error) {
	if !c.acquire() {
		return Result{}, ErrBusy
	}
	defer c.release()

	atts := m.Attachments
	if atts == nil {
		atts = []attachment.Attachment{}
	}
	text, atts, err := c.prepare(m.Text, atts)
	if err != nil {
		return Result{}, err
	}
	refs := make([]models.AttachmentRef, 0, len(atts))
	for _, a := range atts {
		refs = append(refs, a.Ref())
	}
	c.transcript.Append(Entry{Role: models.RoleUser, Content: text, Attachments: refs})
	req := Request{Text: text, Attachments: atts, ThreadID: m.ThreadID, SkipEcho: true}
	return c.dispatch(ctx, req, text, atts)
}

// Load replaces the transcript with a thread's stored messages and makes it
// the composer's thread.
func (c *Composer) Load(ctx context.Context, threadID string) error {
	if c.State() == InFlight {
		return ErrBusy
	}
	s, err := c.sessions.CurrentSession(ctx)
	if err != nil || s == nil {
		return ErrUnauthenticated
	}
	msgs, err := c.threads.Messages(ctx, threadID, authFor(s))
	if err != nil {
		return fmt.Errorf("chat: load %s: %w", threadID, err)
	}
	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		e := Entry{Role: m.Role, Content: m.Content}
		for _, a := range m.Attachments {
			e.Attachments = append(e.Attachments, models.AttachmentRef{Name: a.Name, URL: a.URL, Type: a.Type, Size: a.Size})
		}
		entries = append(entries, e)
	}
	if _, err := c.threads.Ensure(ctx, threadID, authFor(s)); err != nil {
		return fmt.Errorf("chat: load %s: %w", threadID, err)
	}
	c.mu.Lock()
	c.threadID = threadID
	c.mu.Unlock()
	c.transcript.Replace(entries)
	return nil
}
