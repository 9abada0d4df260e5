// Package device manages the stable device identifier and the per-session host
// fingerprint the backend uses as a session-binding signal.
package device

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"

	"leadpilot/authkit/internal/credstore"
	"leadpilot/authkit/internal/logger"
)

// Signals are the host attributes folded into the fingerprint. Field order is the
// canonical serialization order; adding a field changes every fingerprint, which
// only costs the backend a new soft binding, not a logout.
type Signals struct {
	OS          string `json:"os"`
	Arch        string `json:"arch"`
	NumCPU      int    `json:"numCpu"`
	MemoryGB    int    `json:"memoryGb"`
	Hostname    string `json:"hostname"`
	Timezone    string `json:"timezone"`
	Language    string `json:"language"`
	RenderHash  string `json:"renderHash"`
	GPUVendor   string `json:"gpuVendor"`
	ScreenWidth int    `json:"screenWidth"`
}

// CollectSignals gathers signals from the current host. Fields a headless Go
// client cannot observe (render hash, GPU, screen) stay empty and still hash
// deterministically.
func CollectSignals() Signals {
	hostname, _ := os.Hostname()
	zone, _ := time.Now().Zone()
	return Signals{
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
		NumCPU:   runtime.NumCPU(),
		Hostname: hostname,
		Timezone: zone,
		Language: os.Getenv("LANG"),
	}
}

// Fingerprint hashes the signals into "fp_{clientType}_{hash}". Deterministic for
// a given host and client type. This is a session-binding signal only, never a
// security boundary: it is recomputed per session and trivially forgeable.
func Fingerprint(clientType string, sig Signals) string {
	canonical, err := json.Marshal(sig)
	if err != nil {
		canonical = []byte(clientType)
	}
	sum := sha3.Sum256(canonical)
	return fmt.Sprintf("fp_%s_%s", clientType, hex.EncodeToString(sum[:16]))
}

// Identity owns the persistent device id. The id is generated once and survives
// logout; it changes only through Forget.
type Identity struct {
	mu    sync.Mutex
	store credstore.Store
	log   *zap.Logger
}

// NewIdentity returns an Identity persisting through store. log may be nil.
func NewIdentity(store credstore.Store, log *zap.Logger) *Identity {
	return &Identity{store: store, log: logger.OrNop(log)}
}

// DeviceID returns the stored device id, generating and persisting a new one on
// first use. It never fails: when the store cannot be written the fresh id is
// still returned and the next call generates another, which the backend treats
// as a new device.
func (i *Identity) DeviceID() string {
	i.mu.Lock()
	defer i.mu.Unlock()

	id, err := i.store.Get(credstore.KeyDeviceID)
	if err == nil && id != "" {
		return id
	}

	id = uuid.New().String()
	if err := i.store.Set(credstore.KeyDeviceID, id); err != nil {
		i.log.Warn("device id not persisted; a new id will be generated next run",
			zap.Error(err))
	} else {
		i.log.Info("generated device id", zap.String("device_id", id))
	}
	return id
}

// Forget removes the stored device id so the next DeviceID call mints a new one.
// This is the only path that rotates the id; callers are expected to clear
// credentials alongside, since the old id is what bound them to the session.
func (i *Identity) Forget() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.store.Delete(credstore.KeyDeviceID); err != nil {
		return fmt.Errorf("device: forget: %w", err)
	}
	i.log.Info("device id forgotten")
	return nil
}
