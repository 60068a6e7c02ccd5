package device

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Manager resolves a stable device ID for stamping uploaded trips. The ID
// is resolved once and persisted in the agent database so it survives
// config reinstalls.
type Manager struct {
	db *sql.DB
}

// NewManager creates a device manager over the agent database.
func NewManager(db *sql.DB) *Manager {
	return &Manager{db: db}
}

// DeviceID returns the configured ID if set, otherwise the stored one,
// otherwise derives and stores a new ID.
func (m *Manager) DeviceID(configuredID string) (string, error) {
	if configuredID != "" {
		return configuredID, nil
	}

	var stored string
	err := m.db.QueryRow(`SELECT device_id FROM device_info WHERE id = 1`).Scan(&stored)
	if err == nil && stored != "" {
		return stored, nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to read device id: %w", err)
	}

	id := deriveDeviceID()
	hostname, _ := os.Hostname()
	if _, err := m.db.Exec(`
		INSERT INTO device_info (id, device_id, device_name)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET device_id = excluded.device_id
	`, id, hostname); err != nil {
		return "", fmt.Errorf("failed to store device id: %w", err)
	}
	return id, nil
}

// deriveDeviceID prefers the OS machine ID and falls back to a random
// UUID when none is readable.
func deriveDeviceID() string {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if machineID, err := os.ReadFile(path); err == nil {
			if id := strings.TrimSpace(string(machineID)); id != "" {
				return id
			}
		}
	}
	return uuid.NewString()
}
