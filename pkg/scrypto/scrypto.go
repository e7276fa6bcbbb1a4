// Package scrypto provides the cryptographic primitives the agent needs:
// ed25519 keypair generation in the agent's hex-encoded, "ed"-prefixed
// wire format, UUIDv4 generation/validation, and self-signed TLS
// certificate generation for contract instances.
//
// Grounded on original_source/src/crypto.cpp (libsodium-based) and
// pkg/security/certs.go's stdlib certificate-file idiom; re-expressed
// with Go's standard crypto/ed25519 and crypto/x509 rather than shelling
// out to libsodium or openssl, since Go's stdlib already offers both
// primitives directly.
package scrypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// KeyPrefix is the single byte prepended to ed25519 keys to tag their
// algorithm, matching the original agent's wire format.
const KeyPrefix = 0xED

// SigningKeyPair is a generated ed25519 keypair in the agent's hex wire
// format: a prefix byte followed by the raw key bytes, hex-encoded.
type SigningKeyPair struct {
	PublicKeyHex  string
	PrivateKeyHex string
}

// GenerateSigningKeys generates a fresh ed25519 keypair.
func GenerateSigningKeys() (SigningKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return SigningKeyPair{}, fmt.Errorf("scrypto: generate ed25519 key: %w", err)
	}
	return SigningKeyPair{
		PublicKeyHex:  prefixedHex(pub),
		PrivateKeyHex: prefixedHex(priv),
	}, nil
}

func prefixedHex(b []byte) string {
	out := make([]byte, len(b)+1)
	out[0] = KeyPrefix
	copy(out[1:], b)
	return hex.EncodeToString(out)
}

// GenerateUUID returns a standards-correct UUIDv4 string.
func GenerateUUID() string {
	return uuid.New().String()
}

var uuidV4Pattern = regexp.MustCompile(`^[0-9A-Fa-f]{8}-[0-9A-Fa-f]{4}-4[0-9A-Fa-f]{3}-[89ABab][0-9A-Fa-f]{3}-[0-9A-Fa-f]{12}$`)

// VerifyUUID reports whether s is a syntactically valid UUIDv4 string.
func VerifyUUID(s string) bool {
	return len(s) == 36 && uuidV4Pattern.MatchString(s)
}

// ErrInvalidPubkey is returned when a pubkey string doesn't match the
// agent's expected 66-char, "ed"-prefixed hex format.
var ErrInvalidPubkey = errors.New("scrypto: pubkey must be 66 hex chars with 'ed' prefix")

// VerifyPubkeyFormat checks the owner/instance pubkey wire format:
// "ed" + 64 hex chars = 66 chars total.
func VerifyPubkeyFormat(pubkeyHex string) error {
	if len(pubkeyHex) != 66 || pubkeyHex[:2] != "ed" {
		return ErrInvalidPubkey
	}
	if _, err := hex.DecodeString(pubkeyHex); err != nil {
		return ErrInvalidPubkey
	}
	return nil
}

// SelfSignedCert is a generated self-signed TLS certificate and key,
// PEM-encoded.
type SelfSignedCert struct {
	CertPEM []byte
	KeyPEM  []byte
}

// GenerateSelfSignedCert produces a self-signed RSA certificate for the
// given common name (the instance's Linux username), valid for 10 years,
// matching the contract materializer's tlscert.pem/tlskey.pem step.
func GenerateSelfSignedCert(commonName string) (SelfSignedCert, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return SelfSignedCert{}, fmt.Errorf("scrypto: generate rsa key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return SelfSignedCert{}, fmt.Errorf("scrypto: generate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().AddDate(10, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return SelfSignedCert{}, fmt.Errorf("scrypto: create certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	return SelfSignedCert{CertPEM: certPEM, KeyPEM: keyPEM}, nil
}
