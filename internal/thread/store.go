package thread

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kinber/kinber/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound means no thread has the requested id.
var ErrNotFound = errors.New("thread: not found")

// Summary is a thread as shown in the recents list.
type Summary struct {
	ThreadID     string    `json:"thread_id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int64     `json:"message_count"`
}

// Store is the thread and message tables.
type Store interface {
	Upsert(ctx context.Context, t *models.Thread) error
	Get(ctx context.Context, id string) (*models.Thread, error)
	ListRecent(ctx context.Context, limit int) ([]Summary, error)
	Search(ctx context.Context, term string, limit int) ([]Summary, error)
	Rename(ctx context.Context, id, title string) error
	AddMessage(ctx context.Context, m *models.Message) error
	Messages(ctx context.Context, id string) ([]models.Message, error)
	DeleteMessages(ctx context.Context, id string) error
	DeleteThread(ctx context.Context, id string) error
}

// GormStore implements Store on a gorm database.
type GormStore struct {
	DB *gorm.DB
}

var _ Store = (*GormStore)(nil)

const summaryColumns = "threads.thread_id, threads.title, threads.created_at, threads.updated_at, " +
	"(SELECT COUNT(*) FROM messages WHERE messages.thread_id = threads.thread_id) AS message_count"

// Upsert inserts t or refreshes its title and account.
func (s *GormStore) Upsert(ctx context.Context, t *models.Thread) error {
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "thread_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "account_id", "updated_at"}),
	}).Create(t).Error
	if err != nil {
		return fmt.Errorf("thread: upsert %s: %w", t.ThreadID, err)
	}
	return nil
}

// Get returns the thread with id.
func (s *GormStore) Get(ctx context.Context, id string) (*models.Thread, error) {
	var t models.Thread
	if err := s.DB.WithContext(ctx).Where("thread_id = ?", id).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("thread: get %s: %w", id, err)
	}
	return &t, nil
}

// ListRecent returns up to limit threads, most recently updated first.
func (s *GormStore) ListRecent(ctx context.Context, limit int) ([]Summary, error) {
	var out []Summary
	q := s.DB.WithContext(ctx).Table("threads").Select(summaryColumns).
		Order("threads.updated_at DESC").Order("threads.thread_id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("thread: list recent: %w", err)
	}
	return out, nil
}

// Search matches term against titles and message contents, case-insensitively.
func (s *GormStore) Search(ctx context.Context, term string, limit int) ([]Summary, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return s.ListRecent(ctx, limit)
	}
	pattern := "%" + escapeLike(strings.ToLower(term)) + "%"
	var out []Summary
	q := s.DB.WithContext(ctx).Table("threads").Select(summaryColumns).
		Where("LOWER(threads.title) LIKE ? ESCAPE '!'", pattern).
		Or("EXISTS (SELECT 1 FROM messages WHERE messages.thread_id = threads.thread_id AND LOWER(messages.content) LIKE ? ESCAPE '!')", pattern).
		Order("threads.updated_at DESC").Order("threads.thread_id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("thread: search: %w", err)
	}
	return out, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
}

// Rename sets the title of thread id.
func (s *GormStore) Rename(ctx context.Context, id, title string) error {
	res := s.DB.WithContext(ctx).Model(&models.Thread{}).Where("thread_id = ?", id).
		Updates(map[string]interface{}{"title": title, "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("thread: rename %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// AddMessage stores m and bumps its thread's updated_at.
func (s *GormStore) AddMessage(ctx context.Context, m *models.Message) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(m).Error; err != nil {
			return fmt.Errorf("thread: add message: %w", err)
		}
		if err := tx.Model(&models.Thread{}).Where("thread_id = ?", m.ThreadID).
			Update("updated_at", time.Now()).Error; err != nil {
			return fmt.Errorf("thread: touch %s: %w", m.ThreadID, err)
		}
		return nil
	})
}

// Messages returns the stored messages of thread id, oldest first.
func (s *GormStore) Messages(ctx context.Context, id string) ([]models.Message, error) {
	var msgs []models.Message
	if err := s.DB.WithContext(ctx).Where("thread_id = ?", id).Order("created_at, id").Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("thread: messages %s: %w", id, err)
	}
	return msgs, nil
}

// DeleteMessages removes every message of thread id.
func (s *GormStore) DeleteMessages(ctx context.Context, id string) error {
	if err := s.DB.WithContext(ctx).Where("thread_id = ?", id).Delete(&models.Message{}).Error; err != nil {
		return fmt.Errorf("thread: delete messages of %s: %w", id, err)
	}
	return nil
}

// DeleteThread removes the thread row. A missing row is not an error.
func (s *GormStore) DeleteThread(ctx context.Context, id string) error {
	if err := s.DB.WithContext(ctx).Where("thread_id = ?", id).Delete(&models.Thread{}).Error; err != nil {
		return fmt.Errorf("thread: delete %s: %w", id, err)
	}
	return nil
}
