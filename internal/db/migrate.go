package db

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/kinber/kinber/internal/models"
	"gorm.io/gorm"
)

// NotifyChannel is the postgres NOTIFY channel carrying table change events.
const NotifyChannel = "kinber_changes"

// AllModels returns every GORM model Kinber persists.
func AllModels() []interface{} {
	return []interface{}{
		&models.Thread{},
		&models.Message{},
		&models.Agent{},
		&models.Profile{},
		&models.AuthSession{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedDefaultAgent inserts the built-in default agent when the agents table is
// empty. An existing table is left untouched.
func SeedDefaultAgent(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.Agent{}).Count(&count).Error; err != nil {
		return fmt.Errorf("db: count agents: %w", err)
	}
	if count > 0 {
		return nil
	}
	agent := models.Agent{
		AgentID:   uuid.NewString(),
		Name:      "Kinber",
		ModelName: "gpt-4o-mini",
		Persona:   "You are Kinber, a helpful AI assistant.",
		IsDefault: true,
	}
	if err := db.Create(&agent).Error; err != nil {
		return fmt.Errorf("db: seed default agent: %w", err)
	}
	return nil
}

// notifyFunctionSQL publishes the changed table's name on NotifyChannel.
const notifyFunctionSQL = `
CREATE OR REPLACE FUNCTION kinber_notify_change() RETURNS trigger AS $$
BEGIN
  PERFORM pg_notify('` + NotifyChannel + `', TG_TABLE_NAME);
  RETURN NULL;
END;
$$ LANGUAGE plpgsql`

// NotifyTriggerSQL returns the statements that install change notifications
// on the given tables.
func NotifyTriggerSQL(tables ...string) []string {
	stmts := []string{notifyFunctionSQL}
	for _, t := range tables {
		trigger := "kinber_" + t + "_notify"
		stmts = append(stmts,
			fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", trigger, t),
			fmt.Sprintf("CREATE TRIGGER %s AFTER INSERT OR UPDATE OR DELETE ON %s FOR EACH STATEMENT EXECUTE FUNCTION kinber_notify_change()", trigger, t),
		)
	}
	return stmts
}

// InstallNotifyTriggers wires the threads and messages tables to NotifyChannel.
// It is a no-op for drivers other than postgres, which rely on polling.
func InstallNotifyTriggers(db *gorm.DB) error {
	if db.Dialector.Name() != "postgres" {
		return nil
	}
	for _, stmt := range NotifyTriggerSQL("threads", "messages") {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("db: install notify triggers: %w", err)
		}
	}
	return nil
}
