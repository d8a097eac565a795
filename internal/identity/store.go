package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kinber/kinber/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionStore persists the current session between process runs.
type SessionStore interface {
	// Load returns nil, nil when no session is stored.
	Load(ctx context.Context) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Clear(ctx context.Context) error
}

// MemoryStore keeps the session in process memory.
type MemoryStore struct {
	mu sync.Mutex
	s  *Session
}

func (m *MemoryStore) Load(context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.s == nil {
		return nil, nil
	}
	cp := *m.s
	return &cp, nil
}

func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.s = &cp
	return nil
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	m.s = nil
	m.mu.Unlock()
	return nil
}

// sessionRowID is the single auth_sessions row the CLI uses.
const sessionRowID = 1

// GormStore persists the session in the auth_sessions table.
type GormStore struct {
	DB *gorm.DB
}

func (g *GormStore) Load(ctx context.Context) (*Session, error) {
	var row models.AuthSession
	err := g.DB.WithContext(ctx).Where("id = ?", sessionRowID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("identity: load session: %w", err)
	}
	return &Session{
		AccessToken:  row.AccessToken,
		RefreshToken: row.RefreshToken,
		ExpiresAt:    row.ExpiresAt,
		User: User{
			ID:        row.UserID,
			Email:     row.Email,
			Name:      row.Name,
			AvatarURL: row.AvatarURL,
		},
	}, nil
}

func (g *GormStore) Save(ctx context.Context, s *Session) error {
	row := models.AuthSession{
		ID:           sessionRowID,
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.ExpiresAt,
		UserID:       s.User.ID,
		Email:        s.User.Email,
		Name:         s.User.Name,
		AvatarURL:    s.User.AvatarURL,
	}
	err := g.DB.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("identity: save session: %w", err)
	}
	return nil
}

func (g *GormStore) Clear(ctx context.Context) error {
	if err := g.DB.WithContext(ctx).Where("id = ?", sessionRowID).Delete(&models.AuthSession{}).Error; err != nil {
		return fmt.Errorf("identity: clear session: %w", err)
	}
	return nil
}
