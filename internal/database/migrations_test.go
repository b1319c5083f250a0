package database

import (
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/taskhub/backend/internal/tasks"
	"github.com/MarcoPoloResearchLab/taskhub/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func TestNormalizeBlankCategoriesMigration(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:migrations_blank?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&users.User{}, &tasks.Task{}, &migrationRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	owner := users.User{ExternalID: "u1", Email: "a@x.com"}
	if err := db.Create(&owner).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	// Legacy row written before category input was trimmed.
	if err := db.Exec(
		"INSERT INTO tasks (title, completed, category, user_id) VALUES (?, ?, ?, ?)",
		"Legacy", false, "  ", owner.ID,
	).Error; err != nil {
		t.Fatalf("failed to seed legacy task: %v", err)
	}

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("migrations failed: %v", err)
	}

	var repaired tasks.Task
	if err := db.Where("title = ?", "Legacy").Take(&repaired).Error; err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if repaired.Category != nil {
		t.Fatalf("expected blank category repaired to NULL, got %q", *repaired.Category)
	}
}

func TestMigrationsAreRecordedAndNotReapplied(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:migrations_ledger?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&users.User{}, &tasks.Task{}, &migrationRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("second apply failed: %v", err)
	}

	var count int64
	if err := db.Model(&migrationRecord{}).Where("name = ?", migrationNormalizeBlankCategories).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one ledger row, got %d", count)
	}
}

func TestOpenSQLiteEnforcesTaskOwnership(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskhub.db")
	db, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	err = db.Exec(
		"INSERT INTO tasks (title, completed, user_id) VALUES (?, ?, ?)",
		"Orphan", false, 999,
	).Error
	if err == nil {
		t.Fatal("expected foreign key violation for orphaned task")
	}
}
