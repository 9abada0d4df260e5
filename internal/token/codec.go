// Package token provides a client-side inspection view of bearer tokens: decoding
// claims without signature verification and answering expiry questions for refresh
// scheduling and UX hints.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformedToken is returned when a token is not a three-segment JWT or its
// payload cannot be decoded.
var ErrMalformedToken = errors.New("token: malformed token")

// DefaultExpiryThreshold is how close to expiry a token may get before it counts
// as expiring soon.
const DefaultExpiryThreshold = 5 * time.Minute

// Claims is the decoded access-token payload the client cares about.
type Claims struct {
	jwt.RegisteredClaims
	OrgID     string `json:"org_id"`
	SessionID string `json:"session_id"`
}

// Codec decodes tokens and evaluates expiry predicates. The zero threshold of the
// clock is injectable for tests.
type Codec struct {
	nowF func() time.Time
}

// NewCodec returns a Codec using the wall clock.
func NewCodec() *Codec {
	return &Codec{nowF: func() time.Time { return time.Now().UTC() }}
}

// Decode splits the token into its three dot-separated segments and decodes the
// claims from the middle segment.
//
// The signature is NOT verified. This view exists only for expiry hinting and UX;
// it must never be treated as an authorization boundary. Every authorization
// decision is re-validated server-side, and a server 401 always overrides
// whatever the decoded expiry says.
func (c *Codec) Decode(raw string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return claims, nil
}

// IsExpired reports whether the token's exp claim is in the past. A token that
// cannot be decoded or carries no exp claim counts as expired (fail closed).
func (c *Codec) IsExpired(raw string) bool {
	exp, ok := c.expiry(raw)
	if !ok {
		return true
	}
	return !c.nowF().Before(exp)
}

// ExpiringSoon reports whether the token expires within threshold. Decode failure
// and a missing exp claim count as expiring (fail closed). A non-positive
// threshold means DefaultExpiryThreshold.
func (c *Codec) ExpiringSoon(raw string, threshold time.Duration) bool {
	if threshold <= 0 {
		threshold = DefaultExpiryThreshold
	}
	exp, ok := c.expiry(raw)
	if !ok {
		return true
	}
	return exp.Sub(c.nowF()) < threshold
}

// TimeUntilExpiry returns how long until the token expires, clamped to zero.
func (c *Codec) TimeUntilExpiry(raw string) time.Duration {
	exp, ok := c.expiry(raw)
	if !ok {
		return 0
	}
	d := exp.Sub(c.nowF())
	if d < 0 {
		return 0
	}
	return d
}

func (c *Codec) expiry(raw string) (time.Time, bool) {
	claims, err := c.Decode(raw)
	if err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
