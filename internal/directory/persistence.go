package directory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const registrationFile = "registration.json"

// SaveRegistration persists a RegisterResponse so that subsequent agent
// starts can skip re-registering against the bootstrap token.
func SaveRegistration(dataDir string, reg RegisterResponse) error {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("directory: creating data directory: %w", err)
	}

	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("directory: marshalling registration: %w", err)
	}

	path := filepath.Join(dataDir, registrationFile)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("directory: writing registration file: %w", err)
	}
	return nil
}

// LoadRegistration reads a previously saved registration, if any.
func LoadRegistration(dataDir string) (RegisterResponse, error) {
	path := filepath.Join(dataDir, registrationFile)

	data, err := os.ReadFile(path)
	if err != nil {
		return RegisterResponse{}, fmt.Errorf("directory: reading registration file: %w", err)
	}

	var reg RegisterResponse
	if err := json.Unmarshal(data, &reg); err != nil {
		return RegisterResponse{}, fmt.Errorf("directory: unmarshalling registration file: %w", err)
	}
	if reg.AgentID == "" {
		return RegisterResponse{}, fmt.Errorf("directory: registration file is missing agent_id")
	}
	return reg, nil
}
