package credstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// storeUnderTest builds each Store implementation against fresh state.
func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   NewFileStore(filepath.Join(t.TempDir(), "creds.json")),
	}
}

func TestStore_SetGetDelete(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Get(KeyAccessToken); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get on empty store: want ErrNotFound, got %v", err)
			}
			if err := s.Set(KeyAccessToken, "tok-1"); err != nil {
				t.Fatalf("Set: %v", err)
			}
			v, err := s.Get(KeyAccessToken)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if v != "tok-1" {
				t.Errorf("Get = %q, want %q", v, "tok-1")
			}
			if err := s.Delete(KeyAccessToken); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := s.Get(KeyAccessToken); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get after Delete: want ErrNotFound, got %v", err)
			}
			// Deleting a missing key is not an error.
			if err := s.Delete(KeyAccessToken); err != nil {
				t.Errorf("Delete missing key: %v", err)
			}
		})
	}
}

func TestStore_ClearAllKeepsDeviceID(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			seed := map[string]string{
				KeyAccessToken:  "at",
				KeyRefreshToken: "rt",
				KeySessionID:    "sid",
				KeyLastActivity: "2026-01-01T00:00:00Z",
				KeyDeviceID:     "dev-1",
				KeyUser:         `{"id":"u1"}`,
				KeyOrganization: `{"id":"o1"}`,
				KeyCurrentOrg:   "o1",
			}
			for k, v := range seed {
				if err := s.Set(k, v); err != nil {
					t.Fatalf("Set %s: %v", k, err)
				}
			}
			if err := s.ClearAll(); err != nil {
				t.Fatalf("ClearAll: %v", err)
			}
			for _, k := range clearOrder {
				if _, err := s.Get(k); !errors.Is(err, ErrNotFound) {
					t.Errorf("Get %s after ClearAll: want ErrNotFound, got %v", k, err)
				}
			}
			dev, err := s.Get(KeyDeviceID)
			if err != nil {
				t.Fatalf("device id should survive ClearAll: %v", err)
			}
			if dev != "dev-1" {
				t.Errorf("device id = %q, want %q", dev, "dev-1")
			}
		})
	}
}

func TestHasCredentials(t *testing.T) {
	s := NewMemoryStore()
	if HasCredentials(s) {
		t.Error("HasCredentials on empty store should be false")
	}
	s.Set(KeyAccessToken, "at")
	if !HasCredentials(s) {
		t.Error("HasCredentials with an access token should be true")
	}
}

func TestFileStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	s := NewFileStore(path)
	if err := s.Set(KeyRefreshToken, "rt-1"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	s2 := NewFileStore(path)
	v, err := s2.Get(KeyRefreshToken)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if v != "rt-1" {
		t.Errorf("Get = %q, want %q", v, "rt-1")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %o, want 0600", perm)
	}
}

func TestFileStore_CorruptFileStartsOver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	s := NewFileStore(path)
	if _, err := s.Get(KeyAccessToken); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get on corrupt file: want ErrNotFound, got %v", err)
	}
	if err := s.Set(KeyAccessToken, "at"); err != nil {
		t.Fatalf("Set on corrupt file: %v", err)
	}
}
