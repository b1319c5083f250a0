package users

import (
	"strings"
	"time"
)

// User is the canonical account row owning all task records.
type User struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	ExternalID string    `gorm:"column:external_id;size:190;not null;uniqueIndex"`
	Email      string    `gorm:"column:email;size:320;not null;uniqueIndex"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing user accounts.
func (User) TableName() string {
	return "users"
}

// IdentityRef carries the provider-issued handle and email supplied by a caller.
type IdentityRef struct {
	ExternalID string
	Email      string
}

// NewIdentityRef trims both fields and returns the normalized reference.
func NewIdentityRef(externalID, email string) IdentityRef {
	return IdentityRef{
		ExternalID: strings.TrimSpace(externalID),
		Email:      strings.TrimSpace(email),
	}
}

// Empty reports whether neither identifying field was supplied.
func (r IdentityRef) Empty() bool {
	return r.ExternalID == "" && r.Email == ""
}

// Complete reports whether both identifying fields were supplied.
func (r IdentityRef) Complete() bool {
	return r.ExternalID != "" && r.Email != ""
}
