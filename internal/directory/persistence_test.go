package directory

import "testing"

func TestSaveAndLoadRegistration_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	reg := RegisterResponse{AgentID: "agent-123", APIToken: "tok-abc", RegisteredAt: "2026-01-01T00:00:00Z"}

	if err := SaveRegistration(dir, reg); err != nil {
		t.Fatalf("SaveRegistration: %v", err)
	}

	got, err := LoadRegistration(dir)
	if err != nil {
		t.Fatalf("LoadRegistration: %v", err)
	}
	if got != reg {
		t.Fatalf("LoadRegistration = %+v, want %+v", got, reg)
	}
}

func TestLoadRegistration_MissingFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadRegistration(dir); err == nil {
		t.Fatal("expected an error loading from an empty directory")
	}
}

func TestLoadRegistration_MissingAgentIDIsRejected(t *testing.T) {
	dir := t.TempDir()
	if err := SaveRegistration(dir, RegisterResponse{APIToken: "tok-only"}); err != nil {
		t.Fatalf("SaveRegistration: %v", err)
	}
	if _, err := LoadRegistration(dir); err == nil {
		t.Fatal("expected an error for a registration file missing agent_id")
	}
}
