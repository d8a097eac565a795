// Package agents manages the assistant personas a user can pick when
// composing a message.
package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kinber/kinber/internal/models"
	"gorm.io/gorm"
)

// Defaults for new agents.
const (
	DefaultModel   = "gpt-4o-mini"
	DefaultPersona = "You are Kinber, a helpful AI assistant."
	// FallbackName is sent to the backend when no agent is configured.
	FallbackName = "default"
)

// ErrNotFound means no agent matches.
var ErrNotFound = errors.New("agents: not found")

// CreateOpts holds parameters for a new agent.
type CreateOpts struct {
	Name        string
	Description string
	ModelName   string
	Persona     string
	IsDefault   bool
}

// Registry stores agents.
type Registry struct {
	DB *gorm.DB
}

// List returns agents in creation order.
func (r *Registry) List(ctx context.Context) ([]models.Agent, error) {
	var out []models.Agent
	if err := r.DB.WithContext(ctx).Order("created_at ASC, agent_id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("agents: list: %w", err)
	}
	return out, nil
}

// Create adds an agent. A new default agent replaces the previous default.
func (r *Registry) Create(ctx context.Context, opts CreateOpts) (*models.Agent, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return nil, fmt.Errorf("agents: name is required")
	}
	a := models.Agent{
		AgentID:     uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(opts.Description),
		ModelName:   opts.ModelName,
		Persona:     opts.Persona,
		IsDefault:   opts.IsDefault,
	}
	if a.ModelName == "" {
		a.ModelName = DefaultModel
	}
	if a.Persona == "" {
		a.Persona = DefaultPersona
	}
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if a.IsDefault {
			if err := clearDefault(tx); err != nil {
				return err
			}
		}
		return tx.Create(&a).Error
	})
	if err != nil {
		return nil, fmt.Errorf("agents: create: %w", err)
	}
	return &a, nil
}

// Delete removes an agent.
func (r *Registry) Delete(ctx context.Context, id string) error {
	res := r.DB.WithContext(ctx).Where("agent_id = ?", id).Delete(&models.Agent{})
	if res.Error != nil {
		return fmt.Errorf("agents: delete %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// SetDefault makes id the only default agent.
func (r *Registry) SetDefault(ctx context.Context, id string) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var a models.Agent
		if err := tx.Where("agent_id = ?", id).First(&a).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return fmt.Errorf("agents: get %s: %w", id, err)
		}
		if err := clearDefault(tx); err != nil {
			return err
		}
		if err := tx.Model(&models.Agent{}).Where("agent_id = ?", id).Update("is_default", true).Error; err != nil {
			return fmt.Errorf("agents: set default %s: %w", id, err)
		}
		return nil
	})
}

func clearDefault(tx *gorm.DB) error {
	if err := tx.Model(&models.Agent{}).Where("is_default = ?", true).Update("is_default", false).Error; err != nil {
		return fmt.Errorf("agents: clear default: %w", err)
	}
	return nil
}

// Resolve returns the agent name to send with a message: the named agent if
// it exists (matched by id or name), else the default agent, else
// FallbackName. Lookup failures degrade to FallbackName.
func (r *Registry) Resolve(ctx context.Context, name string) string {
	if r == nil || r.DB == nil {
		if name != "" {
			return name
		}
		return FallbackName
	}
	db := r.DB.WithContext(ctx)
	var a models.Agent
	if name = strings.TrimSpace(name); name != "" {
		if err := db.Where("agent_id = ? OR name = ?", name, name).First(&a).Error; err == nil {
			return a.Name
		}
	}
	if err := db.Where("is_default = ?", true).First(&a).Error; err == nil {
		return a.Name
	}
	return FallbackName
}
