package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	Email     string    `gorm:"unique;not null"`
	Username  string    `gorm:"unique;not null"`
	FirstName string
	LastName  string
	Password  string `gorm:"not null"`
	RoleID    uuid.UUID
	Role      Role
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (user *User) BeforeCreate(tx *gorm.DB) (err error) {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	return
}

// DisplayName is the full name when one is set, the username otherwise.
func (user *User) DisplayName() string {
	full := strings.TrimSpace(user.FirstName + " " + user.LastName)
	if full == "" {
		return user.Username
	}
	return full
}
