package goLogin

import "time"

// TokenPair is the credential material returned by Login and Refresh. The
// refresh token is only ever returned here; the engine keeps its hash.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// LoginResult is the outcome of a successful login.
type LoginResult struct {
	UserID string
	Roles  []string
	TokenPair
}

// RegisterRequest carries the fields accepted at registration. Username and
// Phone are optional.
type RegisterRequest struct {
	Email    string
	Password string
	Username string
	Phone    string
	Roles    []string
}

type RegisterResult struct {
	UserID string
}

// AccessClaims is the validated content of an access token.
type AccessClaims struct {
	UserID    string
	Roles     []string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
