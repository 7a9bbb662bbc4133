package kalshi

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strconv"
	"time"
)

// pssSaltLength is the PSS salt size the Kalshi request-signing
// scheme requires.
const pssSaltLength = 32

// Auth signs outbound REST requests with Kalshi's RSA-PSS header
// triplet. Grounded on the teacher's internal/exchange/auth.go in
// shape only (a struct holding the signing key that exposes a
// headers-builder method) — the signing primitive itself is
// necessarily different, since Kalshi uses plain RSA-PSS over a
// timestamp+method+path string rather than Polymarket's EIP-712/HMAC
// scheme. No example in the retrieval pack signs with RSA, so this
// uses the standard library crypto/rsa directly.
type Auth struct {
	AccessKey  string
	privateKey *rsa.PrivateKey
}

// NewAuth loads a PEM-encoded PKCS#1 or PKCS#8 RSA private key from
// keyPEM and pairs it with the given access key.
func NewAuth(accessKey string, keyPEM []byte) (*Auth, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("kalshi: no PEM block found in private key")
	}

	key, err := parseRSAPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("kalshi: parse private key: %w", err)
	}

	return &Auth{AccessKey: accessKey, privateKey: key}, nil
}

func parseRSAPrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return rsaKey, nil
}

// Headers returns the KALSHI-ACCESS-KEY/SIGNATURE/TIMESTAMP header
// triplet for a request with the given method and path (no query
// string), signed at the current wall-clock time.
func (a *Auth) Headers(method, path string) (map[string]string, error) {
	timestampMs := strconv.FormatInt(time.Now().UnixMilli(), 10)

	sig, err := a.sign(timestampMs, method, path)
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"KALSHI-ACCESS-KEY":       a.AccessKey,
		"KALSHI-ACCESS-SIGNATURE": sig,
		"KALSHI-ACCESS-TIMESTAMP": timestampMs,
	}, nil
}

func (a *Auth) sign(timestampMs, method, path string) (string, error) {
	msg := timestampMs + method + path
	digest := sha256.Sum256([]byte(msg))

	sig, err := rsa.SignPSS(rand.Reader, a.privateKey, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: pssSaltLength,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		return "", fmt.Errorf("kalshi: sign request: %w", err)
	}

	return base64.StdEncoding.EncodeToString(sig), nil
}
