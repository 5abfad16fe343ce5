package model

import "time"

const (
	RoleUser       = "user"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

// User is one participant in the sponsorship forest. SponsorID is nil for roots.
type User struct {
	ID           string    `gorm:"column:id;primaryKey;size:128"`
	Email        string    `gorm:"column:email;size:255;uniqueIndex;not null"`
	Username     string    `gorm:"column:username;size:64;uniqueIndex;not null"`
	Role         string    `gorm:"column:role;size:32;not null"`
	Active       bool      `gorm:"column:is_active;not null"`
	ReferralCode string    `gorm:"column:referral_code;size:16;uniqueIndex;not null"`
	SponsorID    *string   `gorm:"column:sponsor_id;size:128;index"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

func (User) TableName() string {
	return "users"
}
