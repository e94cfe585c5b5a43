package config

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSelfSignedCert(t *testing.T, dir string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating certificate: %v", err)
	}

	certOut, err := os.Create(filepath.Join(dir, certFileName))
	if err != nil {
		t.Fatalf("creating cert file: %v", err)
	}
	defer certOut.Close()
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
		t.Fatalf("encoding cert: %v", err)
	}

	keyOut, err := os.Create(filepath.Join(dir, keyFileName))
	if err != nil {
		t.Fatalf("creating key file: %v", err)
	}
	defer keyOut.Close()
	if err := pem.Encode(keyOut, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}); err != nil {
		t.Fatalf("encoding key: %v", err)
	}
}

func TestLoadCreatesDeviceIDOnFirstRun(t *testing.T) {
	dir := t.TempDir()
	writeSelfSignedCert(t, dir)

	cfg, err := Load(dir, "Test Device", "desktop")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DeviceID == "" {
		t.Fatalf("expected a generated device id")
	}
	if cfg.Cert.PrivateKey == nil {
		t.Fatalf("expected a loaded TLS certificate")
	}

	again, err := Load(dir, "Test Device", "desktop")
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if again.DeviceID != cfg.DeviceID {
		t.Fatalf("device id changed across restarts: %q != %q", again.DeviceID, cfg.DeviceID)
	}
}

func TestLoadFailsWithoutCertificate(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir, "Test Device", "desktop"); err == nil {
		t.Fatalf("expected an error when no certificate exists")
	}
}
