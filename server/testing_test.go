package server

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"log/slog"
	"sync"
	"testing"
)

var (
	testKeyOnce sync.Once
	testRSAKey  *rsa.PrivateKey
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	testKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testRSAKey = key
	})
	return testRSAKey
}

func testKeyPEM(t *testing.T) string {
	t.Helper()
	block := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(testKey(t)),
	}
	return string(pem.EncodeToMemory(block))
}

func testKeyJSON(t *testing.T) string {
	t.Helper()
	payload, err := json.Marshal(map[string]string{
		"type":   "serviceaccount",
		"keyId":  "key-1",
		"key":    testKeyPEM(t),
		"userId": "service-user",
	})
	if err != nil {
		t.Fatalf("marshal key json: %v", err)
	}
	return string(payload)
}

func newTestConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Provider.Issuer = "https://idp.test"
	cfg.Provider.KeyJSON = testKeyJSON(t)
	cfg.Session.Secret = "test-session-secret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
