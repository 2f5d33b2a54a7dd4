// Package credential holds the durable identity records (users, roles,
// refresh tokens) and the transactional store that owns them.
package credential

import "time"

// User is an account. Accounts are deactivated or soft-deleted, never
// removed.
type User struct {
	ID            string     `gorm:"primaryKey;size:36" json:"id"`
	Email         string     `gorm:"size:255;not null;uniqueIndex" json:"email"`
	Username      *string    `gorm:"size:100;uniqueIndex" json:"username,omitempty"`
	Phone         *string    `gorm:"size:20;uniqueIndex" json:"phone,omitempty"`
	PasswordHash  string     `gorm:"type:text;not null" json:"-"`
	IsActive      bool       `gorm:"not null" json:"is_active"`
	IsDeleted     bool       `gorm:"not null" json:"is_deleted"`
	EmailVerified bool       `gorm:"not null" json:"email_verified"`
	PhoneVerified bool       `gorm:"not null" json:"phone_verified"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (User) TableName() string { return "users" }

// CanAuthenticate reports whether the account may log in or refresh.
func (u *User) CanAuthenticate() bool {
	return u.IsActive && !u.IsDeleted
}

// Role is a named role.
type Role struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"size:64;not null;uniqueIndex" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func (Role) TableName() string { return "roles" }

// UserRole grants a role to a user. (UserID, RoleID) is unique.
type UserRole struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string    `gorm:"size:36;not null;uniqueIndex:idx_user_role" json:"user_id"`
	RoleID    uint      `gorm:"not null;uniqueIndex:idx_user_role" json:"role_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (UserRole) TableName() string { return "user_roles" }

// RefreshToken is the server-side record of an issued refresh token. Only
// the SHA-256 of the secret is stored. Revoked is terminal.
type RefreshToken struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	UserID       string     `gorm:"size:36;not null;index" json:"user_id"`
	TokenHash    string     `gorm:"size:64;not null;uniqueIndex" json:"-"`
	Revoked      bool       `gorm:"not null;index" json:"revoked"`
	ExpiresAt    time.Time  `gorm:"not null" json:"expires_at"`
	CreatedAt    time.Time  `json:"created_at"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	ReplacedByID *string    `gorm:"size:36" json:"replaced_by_id,omitempty"`
	IP           string     `gorm:"size:64" json:"ip,omitempty"`
	UserAgent    string     `gorm:"size:512" json:"user_agent,omitempty"`
}

func (RefreshToken) TableName() string { return "refresh_tokens" }

// Usable reports whether the token may still be exchanged at now.
func (t *RefreshToken) Usable(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}

// Models lists every table owned by this package, in migration order.
func Models() []interface{} {
	return []interface{}{&User{}, &Role{}, &UserRole{}, &RefreshToken{}}
}
