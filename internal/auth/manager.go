// Package auth is the orchestration layer of the SDK. Manager owns the session
// lifecycle: restoring persisted credentials, logging in and out, driving token
// refresh through the single-flight coordinator, and running authenticated
// requests with stale-token recovery. All other packages are mechanisms; the
// policy (when to refresh, when to clear, what is fatal) lives here.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"leadpilot/authkit/internal/config"
	"leadpilot/authkit/internal/credstore"
	"leadpilot/authkit/internal/device"
	"leadpilot/authkit/internal/eventlog"
	"leadpilot/authkit/internal/identity"
	"leadpilot/authkit/internal/logger"
	"leadpilot/authkit/internal/permission"
	"leadpilot/authkit/internal/pipeline"
	"leadpilot/authkit/internal/refresh"
	"leadpilot/authkit/internal/token"
)

// Manager coordinates authentication state. The credential store is the source
// of truth for tokens; the in-memory pair is a cache of what was last committed.
// Safe for concurrent use.
type Manager struct {
	mu    sync.RWMutex
	state State
	user  *identity.User
	org   *identity.Organization
	pair  *identity.TokenPair

	store  credstore.Store
	device *device.Identity
	codec  *token.Codec
	pipe   *pipeline.Pipeline
	perms  *permission.Resolver
	coord  *refresh.Coordinator
	events eventlog.Recorder
	log    *zap.Logger

	clientType       string
	refreshThreshold time.Duration
	nowF             func() time.Time
}

// New wires a Manager from config. hc may be nil for a default HTTP client;
// events may be nil to log lifecycle events through log; log may be nil.
func New(cfg *config.Config, store credstore.Store, hc *http.Client, events eventlog.Recorder, log *zap.Logger) *Manager {
	log = logger.OrNop(log)
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout()}
	}
	if events == nil {
		events = eventlog.NewZapRecorder(log)
	}

	m := &Manager{
		state:            StateUninitialized,
		store:            store,
		device:           device.NewIdentity(store, log),
		codec:            token.NewCodec(),
		events:           events,
		log:              log,
		clientType:       cfg.ClientType,
		refreshThreshold: cfg.RefreshThresholdDuration(),
		nowF:             func() time.Time { return time.Now().UTC() },
	}
	m.pipe = pipeline.New(cfg.APIBaseURL, cfg.ClientType, m.device.DeviceID, m.storedAccessToken, hc, log)
	m.perms = permission.NewResolver(m.fetchPermissions, log)
	m.coord = refresh.New(m.callRefresh, m.commitPair, cfg.Timeout(), log)
	return m
}

// Pipeline exposes the underlying request pipeline, e.g. to tune its retry policy.
func (m *Manager) Pipeline() *pipeline.Pipeline { return m.pipe }

// Permissions exposes the permission resolver for capability checks.
func (m *Manager) Permissions() *permission.Resolver { return m.perms }

// DeviceID returns the stable device identifier.
func (m *Manager) DeviceID() string { return m.device.DeviceID() }

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsAuthenticated reports whether a session is loaded. It says nothing about
// token freshness; a stale token is recovered inside Do.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateAuthenticated || m.state == StateRefreshing
}

// CurrentUser returns a copy of the cached user snapshot, or nil when anonymous.
func (m *Manager) CurrentUser() *identity.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return nil
	}
	cp := *m.user
	return &cp
}

// CurrentOrganization returns a copy of the cached organization snapshot, or nil.
func (m *Manager) CurrentOrganization() *identity.Organization {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.org == nil {
		return nil
	}
	cp := *m.org
	return &cp
}

// SessionID returns the current session id, or "" when anonymous.
func (m *Manager) SessionID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.pair == nil {
		return ""
	}
	return m.pair.SessionID
}

// LastActivity returns the recorded time of the last successful authenticated
// call. ok is false when none is recorded.
func (m *Manager) LastActivity() (time.Time, bool) {
	raw, err := m.store.Get(credstore.KeyLastActivity)
	if err != nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Init restores persisted credentials. It never fails: corrupt or missing state
// leaves the manager anonymous, and the user logs in again. Call once before any
// other operation.
func (m *Manager) Init(ctx context.Context) {
	m.mu.Lock()
	m.state = StateRestoring
	m.mu.Unlock()

	if !credstore.HasCredentials(m.store) {
		m.becomeAnonymous()
		m.log.Debug("no persisted credentials, starting anonymous")
		return
	}

	access, _ := m.store.Get(credstore.KeyAccessToken)
	refreshTok, _ := m.store.Get(credstore.KeyRefreshToken)
	sessionID, _ := m.store.Get(credstore.KeySessionID)

	user, err := m.loadUserSnapshot()
	if err != nil {
		m.log.Warn("persisted session unusable, clearing", zap.Error(err))
		m.clearLocal()
		return
	}
	org := m.loadOrgSnapshot()

	m.mu.Lock()
	m.pair = &identity.TokenPair{
		AccessToken:  access,
		RefreshToken: refreshTok,
		SessionID:    sessionID,
	}
	m.user = user
	m.org = org
	m.state = StateAuthenticated
	m.mu.Unlock()

	m.log.Info("session restored",
		zap.String("user_id", user.ID), zap.String("session_id", sessionID))

	// Best effort; the resolver keeps serving its fallback set when this fails.
	m.perms.Resolve(ctx)
}

// loginRequest is the POST /auth/login body.
type loginRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DeviceID    string `json:"deviceId"`
	Fingerprint string `json:"deviceFingerprint"`
	ClientType  string `json:"clientType"`
}

// sessionPayload is the session envelope returned by login and org switch.
type sessionPayload struct {
	User         *identity.User         `json:"user"`
	Organization *identity.Organization `json:"organization"`
	Tokens       identity.TokenPair     `json:"tokens"`
	Permissions  *permission.Set        `json:"permissions"`
}

func (p *sessionPayload) Validate() error {
	if p.User == nil {
		return fmt.Errorf("missing user")
	}
	if err := p.User.Validate(); err != nil {
		return err
	}
	return p.Tokens.Validate()
}

// Login authenticates with email and password, binding the new session to this
// device. A *pipeline.SessionLimitError passes through untouched so the caller
// can run ResolveSessionLimit.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	deviceID := m.device.DeviceID()
	fp := device.Fingerprint(m.clientType, device.CollectSignals())

	var out sessionPayload
	err := m.pipe.Do(ctx, pipeline.Request{
		Method: http.MethodPost,
		Path:   "/auth/login",
		Body: loginRequest{
			Email:       email,
			Password:    password,
			DeviceID:    deviceID,
			Fingerprint: fp,
			ClientType:  m.clientType,
		},
		Out:    &out,
		NoAuth: true,
	})
	if err != nil {
		m.events.Record(eventlog.Event{
			Type: eventlog.TypeLoginFailure, DeviceID: deviceID, Detail: err.Error(),
		})
		return err
	}

	if err := m.adoptSession(&out); err != nil {
		return err
	}
	m.events.Record(eventlog.Event{
		Type:      eventlog.TypeLogin,
		UserID:    out.User.ID,
		OrgID:     out.User.OrganizationID,
		SessionID: out.Tokens.SessionID,
		DeviceID:  deviceID,
	})

	// Confirm the seeded grants; a failure keeps serving the seed.
	if prov := m.perms.Resolve(ctx); prov != permission.ProvenanceAuthoritative {
		m.events.Record(eventlog.Event{
			Type: eventlog.TypePermissionFallback, UserID: out.User.ID,
			Detail: prov.String(),
		})
	}
	return nil
}

// adoptSession commits a session envelope: tokens to the store, snapshots to the
// store and memory, permissions seeded.
func (m *Manager) adoptSession(p *sessionPayload) error {
	if err := m.commitPair(&p.Tokens); err != nil {
		return err
	}
	m.persistSnapshots(p.User, p.Organization)
	m.mu.Lock()
	m.user = p.User
	m.org = p.Organization
	m.mu.Unlock()
	m.perms.Seed(p.Permissions)
	return nil
}

// Logout ends the session. The backend call is best-effort; local credentials are
// always cleared, even when the server is unreachable.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.RLock()
	pair := m.pair
	user := m.user
	m.mu.RUnlock()

	if pair != nil && pair.SessionID != "" {
		err := m.pipe.Do(ctx, pipeline.Request{
			Method: http.MethodDelete,
			Path:   "/sessions/" + pair.SessionID,
		})
		if err != nil {
			m.log.Warn("server-side logout failed, clearing locally anyway", zap.Error(err))
		}
	}

	ev := eventlog.Event{Type: eventlog.TypeLogout, DeviceID: m.device.DeviceID()}
	if user != nil {
		ev.UserID = user.ID
		ev.OrgID = user.OrganizationID
	}
	if pair != nil {
		ev.SessionID = pair.SessionID
	}
	m.events.Record(ev)

	m.clearLocal()
	return nil
}

// Refresh forces a refresh episode, joining one already in flight. Most callers
// never need this; Do refreshes on demand.
func (m *Manager) Refresh(ctx context.Context) error {
	_, err := m.ensureFresh(ctx)
	return err
}

// Do runs an authenticated request with stale-token recovery: a 401 classified as
// token-stale triggers exactly one refresh episode and one retry. A 401 caused by
// a dead session clears local state without refreshing; refreshing a revoked
// session would only delay the inevitable and hide the cause.
func (m *Manager) Do(ctx context.Context, req pipeline.Request) error {
	if !req.NoAuth && req.TokenOverride == "" && m.IsAuthenticated() {
		// Proactive refresh is a hint to avoid a predictable 401. Its failure is
		// not the call's failure; the server response stays authoritative.
		if m.codec.ExpiringSoon(m.storedAccessToken(), m.refreshThreshold) {
			if _, err := m.ensureFresh(ctx); err != nil {
				m.log.Debug("proactive refresh failed, proceeding with current token",
					zap.Error(err))
			}
		}
	}

	err := m.pipe.Do(ctx, req)
	switch {
	case err == nil:
		m.touchActivity()
		return nil
	case pipeline.IsSessionInvalid(err):
		m.invalidateSession(err)
		return err
	case pipeline.IsTokenStale(err) && !req.NoAuth && req.TokenOverride == "":
		if _, rerr := m.ensureFresh(ctx); rerr != nil {
			return rerr
		}
		if err = m.pipe.Do(ctx, req); err != nil {
			if pipeline.IsSessionInvalid(err) {
				m.invalidateSession(err)
			}
			return err
		}
		m.touchActivity()
		return nil
	default:
		return err
	}
}

// refreshRequest is the POST /auth/refresh body.
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
	DeviceID     string `json:"deviceId"`
}

type refreshResponse struct {
	Tokens identity.TokenPair `json:"tokens"`
	User   *identity.User     `json:"user"`
}

func (r *refreshResponse) Validate() error { return r.Tokens.Validate() }

// callRefresh is the coordinator's refresh operation. It authenticates with the
// refresh token in the body, never the stale access token.
func (m *Manager) callRefresh(ctx context.Context) (*identity.TokenPair, error) {
	refreshTok, err := m.store.Get(credstore.KeyRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("auth: no refresh token: %w", err)
	}

	var out refreshResponse
	err = m.pipe.Do(ctx, pipeline.Request{
		Method: http.MethodPost,
		Path:   "/auth/refresh",
		Body:   refreshRequest{RefreshToken: refreshTok, DeviceID: m.device.DeviceID()},
		Out:    &out,
		NoAuth: true,
	})
	if err != nil {
		return nil, err
	}
	if out.User != nil {
		m.persistSnapshots(out.User, nil)
		m.mu.Lock()
		m.user = out.User
		m.mu.Unlock()
	}
	return &out.Tokens, nil
}

// commitPair persists a rotated pair. It is the coordinator's commit hook and
// runs before any refresh waiter is released.
func (m *Manager) commitPair(pair *identity.TokenPair) error {
	if err := pair.Validate(); err != nil {
		return fmt.Errorf("auth: refusing to persist incomplete pair: %w", err)
	}
	if err := m.store.Set(credstore.KeyAccessToken, pair.AccessToken); err != nil {
		return fmt.Errorf("auth: persist access token: %w", err)
	}
	// An omitted refresh token keeps whatever is stored: rotation replaces it,
	// an access-only issuance never had one to replace.
	if pair.RefreshToken != "" {
		if err := m.store.Set(credstore.KeyRefreshToken, pair.RefreshToken); err != nil {
			return fmt.Errorf("auth: persist refresh token: %w", err)
		}
	}
	if pair.SessionID != "" {
		if err := m.store.Set(credstore.KeySessionID, pair.SessionID); err != nil {
			return fmt.Errorf("auth: persist session id: %w", err)
		}
	}
	m.mu.Lock()
	cp := *pair
	if cp.SessionID == "" && m.pair != nil {
		cp.SessionID = m.pair.SessionID
	}
	m.pair = &cp
	m.state = StateAuthenticated
	m.mu.Unlock()
	return nil
}

// ensureFresh runs one refresh episode through the coordinator. A terminal
// failure (anything but a transport error) means the refresh token is no longer
// usable, so local state is cleared and the user must log in again.
func (m *Manager) ensureFresh(ctx context.Context) (*identity.TokenPair, error) {
	m.mu.Lock()
	if m.state == StateAuthenticated {
		m.state = StateRefreshing
	}
	m.mu.Unlock()

	pair, err := m.coord.Ensure(ctx)

	if err != nil {
		m.mu.Lock()
		if m.state == StateRefreshing {
			m.state = StateAuthenticated
		}
		m.mu.Unlock()

		if !pipeline.IsTransport(err) && ctx.Err() == nil {
			m.events.Record(eventlog.Event{
				Type: eventlog.TypeRefreshFailure, Detail: err.Error(),
				DeviceID: m.device.DeviceID(),
			})
			m.clearLocal()
		}
		return nil, err
	}

	m.events.Record(eventlog.Event{
		Type: eventlog.TypeRefresh, SessionID: pair.SessionID,
		DeviceID: m.device.DeviceID(),
	})
	return pair, nil
}

// ResolveSessionLimit terminates one of the sessions reported in a session-limit
// login failure, authorized by the management token, then retries the login.
func (m *Manager) ResolveSessionLimit(ctx context.Context, limit *pipeline.SessionLimitError, sessionID, email, password string) error {
	if limit == nil || limit.ManagementToken == "" {
		return fmt.Errorf("auth: no management token to resolve session limit")
	}
	err := m.pipe.Do(ctx, pipeline.Request{
		Method:        http.MethodDelete,
		Path:          "/sessions/" + sessionID,
		TokenOverride: limit.ManagementToken,
	})
	if err != nil {
		return fmt.Errorf("auth: terminate session %s: %w", sessionID, err)
	}
	return m.Login(ctx, email, password)
}

type switchOrgRequest struct {
	OrganizationID string `json:"organizationId"`
}

// SwitchOrganization moves the session to another organization the user belongs
// to. The backend rotates the pair with org-scoped claims; permissions are
// refetched because grants are per organization.
func (m *Manager) SwitchOrganization(ctx context.Context, orgID string) error {
	var out sessionPayload
	err := m.Do(ctx, pipeline.Request{
		Method: http.MethodPost,
		Path:   "/auth/switch-org",
		Body:   switchOrgRequest{OrganizationID: orgID},
		Out:    &out,
	})
	if err != nil {
		return err
	}

	m.perms.Clear()
	if err := m.adoptSession(&out); err != nil {
		return err
	}
	if err := m.store.Set(credstore.KeyCurrentOrg, orgID); err != nil {
		m.log.Warn("current org not persisted", zap.Error(err))
	}

	m.events.Record(eventlog.Event{
		Type: eventlog.TypeOrgSwitch, UserID: out.User.ID, OrgID: orgID,
		SessionID: out.Tokens.SessionID, DeviceID: m.device.DeviceID(),
	})
	m.perms.Resolve(ctx)
	return nil
}

// ReloadUser refetches the user profile and replaces the cached snapshot.
func (m *Manager) ReloadUser(ctx context.Context) (*identity.User, error) {
	var out identity.User
	err := m.Do(ctx, pipeline.Request{
		Method: http.MethodGet,
		Path:   "/auth/me",
		Out:    &out,
	})
	if err != nil {
		return nil, err
	}
	m.persistSnapshots(&out, nil)
	m.mu.Lock()
	m.user = &out
	m.mu.Unlock()
	cp := out
	return &cp, nil
}

// ForgetDevice logs out and rotates the device id. The next login looks like a
// brand new device to the backend.
func (m *Manager) ForgetDevice(ctx context.Context) error {
	_ = m.Logout(ctx)
	if err := m.device.Forget(); err != nil {
		return err
	}
	m.events.Record(eventlog.Event{Type: eventlog.TypeDeviceForget})
	return nil
}

// fetchPermissions is the resolver's authoritative fetch.
func (m *Manager) fetchPermissions(ctx context.Context) (*permission.Set, error) {
	var out permission.Set
	err := m.pipe.Do(ctx, pipeline.Request{
		Method: http.MethodGet,
		Path:   "/auth/permissions",
		Out:    &out,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// invalidateSession handles a dead-session 401: clear everything locally, record
// the event, and do not refresh.
func (m *Manager) invalidateSession(cause error) {
	m.mu.RLock()
	sessionID := ""
	if m.pair != nil {
		sessionID = m.pair.SessionID
	}
	m.mu.RUnlock()

	m.log.Info("session invalidated by server", zap.String("session_id", sessionID),
		zap.Error(cause))
	m.events.Record(eventlog.Event{
		Type: eventlog.TypeSessionInvalid, SessionID: sessionID,
		DeviceID: m.device.DeviceID(), Detail: cause.Error(),
	})
	m.clearLocal()
}

// clearLocal wipes credentials and returns to anonymous. The device id survives.
func (m *Manager) clearLocal() {
	if err := m.store.ClearAll(); err != nil {
		m.log.Error("credential clear incomplete", zap.Error(err))
	}
	m.perms.Clear()
	m.becomeAnonymous()
}

func (m *Manager) becomeAnonymous() {
	m.mu.Lock()
	m.state = StateAnonymous
	m.user = nil
	m.org = nil
	m.pair = nil
	m.mu.Unlock()
}

// storedAccessToken feeds the pipeline's Authorization header. The store, not the
// in-memory cache, is read so a pair committed by a refresh episode is visible to
// every retry immediately.
func (m *Manager) storedAccessToken() string {
	tok, err := m.store.Get(credstore.KeyAccessToken)
	if err != nil {
		return ""
	}
	return tok
}

func (m *Manager) touchActivity() {
	if !m.IsAuthenticated() {
		return
	}
	if err := m.store.Set(credstore.KeyLastActivity, m.nowF().Format(time.RFC3339)); err != nil {
		m.log.Debug("last activity not recorded", zap.Error(err))
	}
}

func (m *Manager) persistSnapshots(user *identity.User, org *identity.Organization) {
	if user != nil {
		if b, err := json.Marshal(user); err == nil {
			if err := m.store.Set(credstore.KeyUser, string(b)); err != nil {
				m.log.Warn("user snapshot not persisted", zap.Error(err))
			}
		}
	}
	if org != nil {
		if b, err := json.Marshal(org); err == nil {
			if err := m.store.Set(credstore.KeyOrganization, string(b)); err != nil {
				m.log.Warn("org snapshot not persisted", zap.Error(err))
			}
		}
	}
}

func (m *Manager) loadUserSnapshot() (*identity.User, error) {
	raw, err := m.store.Get(credstore.KeyUser)
	if err != nil {
		return nil, fmt.Errorf("auth: user snapshot missing: %w", err)
	}
	var u identity.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, fmt.Errorf("auth: user snapshot corrupt: %w", err)
	}
	if err := u.Validate(); err != nil {
		return nil, fmt.Errorf("auth: user snapshot invalid: %w", err)
	}
	return &u, nil
}

func (m *Manager) loadOrgSnapshot() *identity.Organization {
	raw, err := m.store.Get(credstore.KeyOrganization)
	if err != nil {
		return nil
	}
	var o identity.Organization
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return nil
	}
	return &o
}
