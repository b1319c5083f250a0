package tasks

import (
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/taskhub/backend/internal/users"
)

// Task models a persisted task row owned by a user.
type Task struct {
	ID        int64      `gorm:"column:id;primaryKey;autoIncrement"`
	Title     string     `gorm:"column:title;size:500;not null"`
	Completed bool       `gorm:"column:completed;not null;default:false"`
	Category  *string    `gorm:"column:category;size:190"`
	UserID    int64      `gorm:"column:user_id;not null;index"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
	Owner     users.User `gorm:"foreignKey:UserID"`
}

// TableName provides the explicit table binding for GORM.
func (Task) TableName() string {
	return "tasks"
}

// CategoryValue returns the category or the empty string when absent.
func (t Task) CategoryValue() string {
	if t.Category == nil {
		return ""
	}
	return *t.Category
}

// Patch carries the optional fields of a task update. A nil field was absent
// from the request; a present field is applied under the rules in Service.Update.
type Patch struct {
	Completed *bool
	Title     *string
	Category  *string
}

// NormalizeCategory trims the raw value and maps blank input to absent.
// Stored categories are never the empty string.
func NormalizeCategory(raw string) *string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
