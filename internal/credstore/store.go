// Package credstore persists the tokens, session id, and cached snapshots the SDK
// needs across restarts. Implementations are thin key/value accessors; what a stored
// token means (validity, expiry) is decided elsewhere.
package credstore

import "errors"

// Logical keys. Storage backends may namespace them however they like.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeySessionID    = "session_id"
	KeyLastActivity = "last_activity"
	KeyDeviceID     = "device_id"
	KeyUser         = "user_snapshot"
	KeyOrganization = "org_snapshot"
	KeyCurrentOrg   = "current_org"
)

// ErrNotFound is returned by Get when the key has no stored value.
var ErrNotFound = errors.New("credstore: key not found")

// Store is a persistent key/value accessor for credentials and cached snapshots.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	// Delete removes the key. Deleting a missing key is not an error.
	Delete(key string) error
	// ClearAll removes every credential key except the device id, which survives
	// logout and rotates only on an explicit device forget.
	ClearAll() error
}

// clearOrder lists the keys ClearAll removes, most security-sensitive first, so an
// interrupted clear never leaves a usable access token behind a missing refresh token.
var clearOrder = []string{
	KeyAccessToken,
	KeyRefreshToken,
	KeySessionID,
	KeyLastActivity,
	KeyUser,
	KeyOrganization,
	KeyCurrentOrg,
}

// HasCredentials reports whether an access token is present. Presence only:
// expiry is the token codec's concern, and a session issued without a refresh
// token still counts until it expires.
func HasCredentials(s Store) bool {
	_, err := s.Get(KeyAccessToken)
	return err == nil
}
