// Package identity holds the client-side snapshots of the authenticated principal:
// the user, the organization, and the token pair issued for the session.
package identity

import (
	"errors"
	"time"
)

// User is the immutable snapshot of the authenticated user, cached alongside the
// tokens and replaced wholesale on login, refresh, or profile reload.
type User struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	Role           Role   `json:"role"`
	OrganizationID string `json:"organizationId"`
}

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Validate validates a user snapshot received from the backend.
func (u *User) Validate() error {
	if u.ID == "" {
		return errors.New("user id is required")
	}
	if u.Email == "" {
		return errors.New("user email is required")
	}
	return nil
}

// Organization is the cached organization snapshot for the current user.
type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Plan string `json:"plan"`
}

// TokenPair is the access/refresh token pair bound to a backend session. The
// refresh token is optional at issuance: some backends hand out short-lived
// sessions with no refresh capability. When both tokens are present they are
// rotated and cleared together; a refresh token is never persisted without its
// access token.
type TokenPair struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	SessionID    string    `json:"sessionId"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Validate checks the pair before it is committed to storage.
func (p *TokenPair) Validate() error {
	if p.AccessToken == "" {
		return errors.New("access token is required")
	}
	return nil
}

// SessionDescriptor describes one of the user's active sessions as reported by the
// backend, e.g. in a session-limit response where the user must choose one to end.
type SessionDescriptor struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"deviceId"`
	ClientType string    `json:"clientType"`
	LastSeenAt time.Time `json:"lastSeenAt"`
	CreatedAt  time.Time `json:"createdAt"`
}
