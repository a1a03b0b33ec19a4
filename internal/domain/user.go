package domain

import (
	"time"

	"github.com/google/uuid"
)

// User roles within a team
const (
	RoleManager    = "Manager"
	RoleTeamLeader = "Team Leader"
	RoleEmployee   = "Employee"
)

// User represents a team member.
// Maps to the users table.
type User struct {
	UserID       uuid.UUID  `json:"user_id" db:"user_id"`
	Email        string     `json:"email" db:"email"`
	FirstName    string     `json:"first_name" db:"first_name"`
	LastName     string     `json:"last_name" db:"last_name"`
	PasswordHash string     `json:"-" db:"password_hash"` // Never expose in JSON
	TeamID       *uuid.UUID `json:"team_id,omitempty" db:"team_id"`
	Role         string     `json:"role" db:"role"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// FullName returns the user's display name.
func (u *User) FullName() string {
	return u.FirstName + " " + u.LastName
}

// UserResponse is the safe user representation returned to clients
type UserResponse struct {
	UserID    uuid.UUID  `json:"user_id"`
	Email     string     `json:"email"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	TeamID    *uuid.UUID `json:"team_id,omitempty"`
	Role      string     `json:"role"`
	CreatedAt time.Time  `json:"created_at"`
}

// ToResponse converts User to UserResponse (removes sensitive data)
func (u *User) ToResponse() *UserResponse {
	return &UserResponse{
		UserID:    u.UserID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		TeamID:    u.TeamID,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}

// User-related errors
var (
	ErrUserNotFound       = NewError("USER_NOT_FOUND", "User not found")
	ErrEmailTaken         = NewError("EMAIL_TAKEN", "An account with this email already exists")
	ErrInvalidCredentials = NewError("INVALID_CREDENTIALS", "Invalid email or password")
)
