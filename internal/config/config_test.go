package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing test config file: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	dataDir := t.TempDir()
	path := writeConfigFile(t, `
control_plane_url: https://directory.example.com
bootstrap_token: bootstrap-abc
data_dir: `+dataDir+`
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DirectTimeoutMs != 5000 {
		t.Errorf("DirectTimeoutMs = %d, want 5000", cfg.DirectTimeoutMs)
	}
	if cfg.OfferTimeoutMs != 30000 {
		t.Errorf("OfferTimeoutMs = %d, want 30000", cfg.OfferTimeoutMs)
	}
	if cfg.UseDirectWithoutSessionID {
		t.Error("UseDirectWithoutSessionID should default to false")
	}
	if cfg.AgentName == "" {
		t.Error("AgentName should default to the hostname when unset")
	}
}

func TestLoad_MissingControlPlaneURLFailsValidation(t *testing.T) {
	path := writeConfigFile(t, `
bootstrap_token: bootstrap-abc
data_dir: `+t.TempDir()+`
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation to fail without control_plane_url")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dataDir := t.TempDir()
	path := writeConfigFile(t, `
control_plane_url: https://directory.example.com
bootstrap_token: bootstrap-abc
data_dir: `+dataDir+`
agent_name: from-file
`)

	t.Setenv("GANN_AGENT_NAME", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AgentName != "from-env" {
		t.Fatalf("AgentName = %q, want from-env (env should override file)", cfg.AgentName)
	}
}

func TestConfig_AuthToken_PrefersAPITokenOverBootstrap(t *testing.T) {
	c := &Config{BootstrapToken: "bootstrap-abc"}
	if got := c.AuthToken(); got != "bootstrap-abc" {
		t.Fatalf("AuthToken = %q, want bootstrap-abc before registration", got)
	}
	c.APIToken = "api-xyz"
	if got := c.AuthToken(); got != "api-xyz" {
		t.Fatalf("AuthToken = %q, want api-xyz after registration", got)
	}
}

func TestConfig_Validate_RejectsNonPositiveTimeouts(t *testing.T) {
	c := &Config{
		ControlPlaneURL: "https://directory.example.com",
		BootstrapToken:  "tok",
		DataDir:         t.TempDir(),
		DirectTimeoutMs: 0,
		OfferTimeoutMs:  30000,
	}
	if err := c.Validate(); err == nil {
		t.Fatal("expected validation to reject a non-positive direct_timeout_ms")
	}
}
