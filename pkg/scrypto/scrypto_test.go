package scrypto

import (
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSigningKeys(t *testing.T) {
	kp, err := GenerateSigningKeys()
	require.NoError(t, err)

	assert.Len(t, kp.PublicKeyHex, 66)
	assert.Equal(t, "ed", kp.PublicKeyHex[:2])
	assert.NotEmpty(t, kp.PrivateKeyHex)
	assert.Equal(t, "ed", kp.PrivateKeyHex[:2])

	kp2, err := GenerateSigningKeys()
	require.NoError(t, err)
	assert.NotEqual(t, kp.PublicKeyHex, kp2.PublicKeyHex)
}

func TestGenerateUUID(t *testing.T) {
	id := GenerateUUID()
	assert.True(t, VerifyUUID(id))
}

func TestVerifyUUID(t *testing.T) {
	tests := []struct {
		name string
		uuid string
		want bool
	}{
		{"valid", "11111111-1111-4111-8111-111111111111", true},
		{"wrong length", "not-a-uuid", false},
		{"empty", "", false},
		{"bad version nibble", "11111111-1111-5111-8111-111111111111", false},
		{"bad variant nibble", "11111111-1111-4111-0111-111111111111", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifyUUID(tt.uuid))
		})
	}
}

func TestVerifyPubkeyFormat(t *testing.T) {
	kp, err := GenerateSigningKeys()
	require.NoError(t, err)

	assert.NoError(t, VerifyPubkeyFormat(kp.PublicKeyHex))
	assert.ErrorIs(t, VerifyPubkeyFormat("too-short"), ErrInvalidPubkey)
	assert.ErrorIs(t, VerifyPubkeyFormat("ab"+kp.PublicKeyHex[2:]), ErrInvalidPubkey)
}

func TestGenerateSelfSignedCert(t *testing.T) {
	cert, err := GenerateSelfSignedCert("sashi_0001")
	require.NoError(t, err)

	block, _ := pem.Decode(cert.CertPEM)
	require.NotNil(t, block)
	x509Cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	assert.Equal(t, "sashi_0001", x509Cert.Subject.CommonName)

	keyBlock, _ := pem.Decode(cert.KeyPEM)
	require.NotNil(t, keyBlock)
	_, err = x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	require.NoError(t, err)
}
