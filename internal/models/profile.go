package models

import (
	"time"
)

// Role is the access level stored on a profile.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Profile represents a user profile in the system
type Profile struct {
	ID      string `json:"id" db:"id"`           // UUID that matches auth.users.id
	Email   string `json:"email" db:"email"`     // Copied from the auth user at signup
	Credits int    `json:"credits" db:"credits"` // Never negative for non-admin profiles
	Role    Role   `json:"role" db:"role"`
}

func (p *Profile) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Transaction is the audit record written after a successful credit debit.
type Transaction struct {
	ID           int64     `json:"id" db:"id"`
	UserID       string    `json:"user_id" db:"user_id"`
	ServiceUsed  string    `json:"service_used" db:"service_used"`
	CreditsSpent int       `json:"credits_spent" db:"credits_spent"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Identity is the authenticated caller resolved from a bearer token.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// AdminUser is one row of the admin dashboard: an auth user joined with its profile.
// Credits and Role are nil when the auth user has no profile row.
type AdminUser struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Credits *int   `json:"credits"`
	Role    *Role  `json:"role"`
}
