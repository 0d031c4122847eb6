package security

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/finvix/dbna-phase4/pkg/pmode"
)

const testEnvelope = `<S12:Envelope xmlns:S12="http://www.w3.org/2003/05/soap-envelope">` +
	`<S12:Header>` +
	`<eb:Messaging xmlns:eb="http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/" S12:mustUnderstand="true">` +
	`<eb:UserMessage><eb:MessageInfo><eb:Timestamp>2024-01-01T00:00:00.000Z</eb:Timestamp>` +
	`<eb:MessageId>test-message-123@as4.dbna.local</eb:MessageId></eb:MessageInfo></eb:UserMessage>` +
	`</eb:Messaging>` +
	`</S12:Header>` +
	`<S12:Body><inv:Invoice xmlns:inv="urn:test:invoice"><inv:ID>42</inv:ID></inv:Invoice></S12:Body>` +
	`</S12:Envelope>`

// generateRSATestCert generates a self-signed RSA certificate with a
// Subject Key Identifier
func generateRSATestCert(t *testing.T, commonName string) (*rsa.PrivateKey, *x509.Certificate) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return privateKey, generateTestCert(t, commonName, privateKey)
}

func generateTestCert(t *testing.T, commonName string, key crypto.Signer) *x509.Certificate {
	t.Helper()

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	require.NoError(t, err)
	serial.Add(serial, big.NewInt(1))

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Test Organization"},
			CommonName:   commonName,
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		SubjectKeyId:          serial.Bytes(),
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(certDER)
	require.NoError(t, err)
	return cert
}

func defaultSigningParams() SigningParams {
	return SigningParams{
		Algorithm:       pmode.AlgoRSASHA256,
		Digest:          pmode.HashSHA256,
		TokenReference:  pmode.TokenRefBinarySecurityToken,
		SignAttachments: true,
	}
}

func testAttachments() []Attachment {
	return []Attachment{
		{ContentID: "part-1@as4.dbna.local", ContentType: "application/xml", Data: []byte("<doc>one</doc>")},
		{ContentID: "part-2@as4.dbna.local", ContentType: "application/pdf", Data: []byte("%PDF-1.4 two")},
	}
}
