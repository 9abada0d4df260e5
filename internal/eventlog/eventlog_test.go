package eventlog

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapRecorderFillsDefaults(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := NewZapRecorder(zap.New(core))

	r.Record(Event{Type: TypeLoginFailure, Detail: "bad password"})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d log entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["type"] != TypeLoginFailure {
		t.Errorf("type = %v, want %s", fields["type"], TypeLoginFailure)
	}
	if fields["org_id"] != SentinelOrgID {
		t.Errorf("org_id = %v, want sentinel %s", fields["org_id"], SentinelOrgID)
	}
	if fields["at"] == nil {
		t.Error("at timestamp not defaulted")
	}
}

func TestZapRecorderKeepsExplicitOrg(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := NewZapRecorder(zap.New(core))

	r.Record(Event{Type: TypeLogin, UserID: "u1", OrgID: "org1", SessionID: "s1"})

	fields := logs.All()[0].ContextMap()
	if fields["org_id"] != "org1" {
		t.Errorf("org_id = %v, want org1", fields["org_id"])
	}
	if fields["session_id"] != "s1" {
		t.Errorf("session_id = %v, want s1", fields["session_id"])
	}
}

func TestNilLoggerDoesNotPanic(t *testing.T) {
	r := NewZapRecorder(nil)
	r.Record(Event{Type: TypeLogout})
}
