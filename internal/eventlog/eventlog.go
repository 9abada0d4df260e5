// Package eventlog records authentication lifecycle events for local
// diagnostics. Recording is best-effort: a recorder must never fail the
// operation that produced the event.
package eventlog

import (
	"time"

	"go.uber.org/zap"
)

// Event types emitted by the auth layer.
const (
	TypeLogin              = "login"
	TypeLoginFailure       = "login_failure"
	TypeRefresh            = "refresh"
	TypeRefreshFailure     = "refresh_failure"
	TypeLogout             = "logout"
	TypeSessionInvalid     = "session_invalid"
	TypeOrgSwitch          = "org_switch"
	TypeDeviceForget       = "device_forget"
	TypePermissionFallback = "permission_fallback"
)

// SentinelOrgID is recorded for events that have no organization, such as a
// login failure before any user is known.
const SentinelOrgID = "_none"

// Event is one auth lifecycle occurrence.
type Event struct {
	Type      string
	UserID    string
	OrgID     string
	SessionID string
	DeviceID  string
	Detail    string
	At        time.Time
}

// Recorder accepts lifecycle events.
type Recorder interface {
	Record(ev Event)
}

// ZapRecorder writes events as structured log lines.
type ZapRecorder struct {
	log *zap.Logger
}

func NewZapRecorder(log *zap.Logger) *ZapRecorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &ZapRecorder{log: log}
}

func (r *ZapRecorder) Record(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if ev.OrgID == "" {
		ev.OrgID = SentinelOrgID
	}
	r.log.Info("auth event",
		zap.String("type", ev.Type),
		zap.String("user_id", ev.UserID),
		zap.String("org_id", ev.OrgID),
		zap.String("session_id", ev.SessionID),
		zap.String("device_id", ev.DeviceID),
		zap.String("detail", ev.Detail),
		zap.Time("at", ev.At),
	)
}

// Nop discards all events.
type Nop struct{}

func (Nop) Record(Event) {}
