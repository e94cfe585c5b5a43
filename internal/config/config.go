// Package config loads the daemon's frozen, process-lifetime configuration:
// device identity fields and the TLS certificate/key pair. Generation and
// long-term persistence of these are out of scope for the core (spec.md
// §1); this package is the thin ambient loader that turns a state
// directory into the struct the core consumes.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Config is the frozen configuration handed to internal/core.Engine.
type Config struct {
	DeviceName string
	DeviceType string
	DeviceID   string
	Cert       tls.Certificate
	StateDir   string
}

const (
	uuidFileName = "device-id"
	certFileName = "cert.pem"
	keyFileName  = "key.pem"
)

// Load reads the device UUID and TLS certificate/key from stateDir. If the
// UUID file is missing it is created with a freshly generated UUID (the
// identity's stability requirement is about surviving restarts, not about
// a human having provisioned one up front). The certificate and key must
// already exist — certificate generation is a collaborator's job per
// spec.md §1, not this package's.
func Load(stateDir, deviceName, deviceType string) (*Config, error) {
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("config: creating state dir: %w", err)
	}

	deviceID, err := loadOrCreateDeviceID(stateDir)
	if err != nil {
		return nil, err
	}

	certPath := filepath.Join(stateDir, certFileName)
	keyPath := filepath.Join(stateDir, keyFileName)
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("config: loading TLS certificate from %s: %w", stateDir, err)
	}
	if _, err := x509.ParseCertificate(cert.Certificate[0]); err != nil {
		return nil, fmt.Errorf("config: parsing TLS certificate: %w", err)
	}

	return &Config{
		DeviceName: deviceName,
		DeviceType: deviceType,
		DeviceID:   deviceID,
		Cert:       cert,
		StateDir:   stateDir,
	}, nil
}

func loadOrCreateDeviceID(stateDir string) (string, error) {
	path := filepath.Join(stateDir, uuidFileName)
	data, err := os.ReadFile(path)
	if err == nil && len(data) > 0 {
		return string(data), nil
	}
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("config: reading device id: %w", err)
	}

	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id), 0o600); err != nil {
		return "", fmt.Errorf("config: writing device id: %w", err)
	}
	return id, nil
}
