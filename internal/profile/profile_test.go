package profile

import (
	"context"
	"testing"

	"github.com/kinber/kinber/internal/identity"
	"github.com/kinber/kinber/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, _ := gdb.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := gdb.AutoMigrate(&models.Profile{}); err != nil {
		t.Fatal(err)
	}
	return &Store{DB: gdb}
}

func TestGet_SeedsFromIdentity(t *testing.T) {
	s := testStore(t)
	p, err := s.Get(context.Background(), identity.User{ID: "u-1", Email: "ada@example.com", Name: "Ada"})
	if err != nil {
		t.Fatal(err)
	}
	if p.ID != "u-1" || p.Email != "ada@example.com" || p.FullName != "Ada" || p.Organization != "" {
		t.Errorf("profile = %+v", p)
	}
}

func TestUpsertThenGet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	p := &models.Profile{ID: "u-1", FullName: " Ada Lovelace ", Email: "ada@example.com", Organization: "Analytical Engines"}
	if err := s.Upsert(ctx, p); err != nil {
		t.Fatal(err)
	}
	p.Role = "Engineer"
	if err := s.Upsert(ctx, p); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, identity.User{ID: "u-1"})
	if err != nil {
		t.Fatal(err)
	}
	if got.FullName != "Ada Lovelace" || got.Role != "Engineer" || got.Organization != "Analytical Engines" {
		t.Errorf("profile = %+v", got)
	}
}

func TestRequiresID(t *testing.T) {
	s := testStore(t)
	if _, err := s.Get(context.Background(), identity.User{}); err == nil {
		t.Error("Get without id should fail")
	}
	if err := s.Upsert(context.Background(), &models.Profile{}); err == nil {
		t.Error("Upsert without id should fail")
	}
}
