// Package profile reads and saves the signed-in user's account details.
package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kinber/kinber/internal/identity"
	"github.com/kinber/kinber/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store reads and writes profiles.
type Store struct {
	DB *gorm.DB
}

// Get returns the profile of user. A user without a saved profile gets an
// empty one seeded from their identity.
func (s *Store) Get(ctx context.Context, user identity.User) (*models.Profile, error) {
	if user.ID == "" {
		return nil, fmt.Errorf("profile: user id is required")
	}
	var p models.Profile
	err := s.DB.WithContext(ctx).Where("id = ?", user.ID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.Profile{ID: user.ID, FullName: user.Name, Email: user.Email}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("profile: get %s: %w", user.ID, err)
	}
	return &p, nil
}

// Upsert saves p.
func (s *Store) Upsert(ctx context.Context, p *models.Profile) error {
	if p.ID == "" {
		return fmt.Errorf("profile: id is required")
	}
	p.FullName = strings.TrimSpace(p.FullName)
	p.Organization = strings.TrimSpace(p.Organization)
	p.Role = strings.TrimSpace(p.Role)
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(p).Error
	if err != nil {
		return fmt.Errorf("profile: save %s: %w", p.ID, err)
	}
	return nil
}
