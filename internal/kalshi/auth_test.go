package kalshi

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
)

func testKeyPEM(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der := x509.MarshalPKCS1PrivateKey(key)
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der})
}

func TestHeadersSignsConsistently(t *testing.T) {
	auth, err := NewAuth("access-key-1", testKeyPEM(t))
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}

	headers, err := auth.Headers("GET", "/trade-api/v2/portfolio/balance")
	if err != nil {
		t.Fatalf("Headers: %v", err)
	}

	for _, key := range []string{"KALSHI-ACCESS-KEY", "KALSHI-ACCESS-SIGNATURE", "KALSHI-ACCESS-TIMESTAMP"} {
		if headers[key] == "" {
			t.Errorf("missing header %s", key)
		}
	}
	if headers["KALSHI-ACCESS-KEY"] != "access-key-1" {
		t.Errorf("access key header = %q, want access-key-1", headers["KALSHI-ACCESS-KEY"])
	}
}

func TestRejectsGarbageKey(t *testing.T) {
	if _, err := NewAuth("k", []byte("not a pem")); err == nil {
		t.Fatal("expected error for non-PEM input")
	}
}
