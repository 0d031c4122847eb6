package as4

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/finvix/dbna-phase4/pkg/message"
	"github.com/finvix/dbna-phase4/pkg/pmode"
	"github.com/finvix/dbna-phase4/pkg/security"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func generateRSATestCert(t *testing.T, commonName string) (*rsa.PrivateKey, *x509.Certificate) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

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
		BasicConstraintsValid: true,
		SubjectKeyId:          serial.Bytes(),
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return key, cert
}

func signingConfig(t *testing.T) (*ExchangeConfig, *security.KeyMaterial) {
	t.Helper()

	key, cert := generateRSATestCert(t, "sender.example.com")
	keys := &security.KeyMaterial{PrivateKey: key, Certificate: cert}

	cfg := NewExchangeConfig()
	cfg.SetCryptoFactory(security.StaticFactory{Keys: keys})
	*cfg.Signing() = security.SigningParams{
		Algorithm:       pmode.AlgoRSASHA256,
		Digest:          pmode.HashSHA256,
		TokenReference:  pmode.TokenRefBinarySecurityToken,
		SignAttachments: true,
	}
	return cfg, keys
}

func testUserMessage() *UserMessage {
	return &UserMessage{
		From:    Party{ID: "sender", Type: "urn:oasis:names:tc:ebcore:partyid-type:unregistered"},
		To:      Party{ID: "receiver", Type: "urn:oasis:names:tc:ebcore:partyid-type:unregistered"},
		Service: "urn:dbna:invoice",
		Action:  "Submit",
		Properties: []message.Property{
			{Name: "originalSender", Value: "sender"},
		},
		Attachments: []security.Attachment{
			{ContentID: "invoice@as4.dbna.local", ContentType: "application/xml", Data: []byte("<Invoice><ID>42</ID></Invoice>")},
			{ContentID: "scan@as4.dbna.local", ContentType: "image/png", Data: []byte("\x89PNG not really")},
		},
	}
}

func parseBuilt(t *testing.T, built *BuiltMessage) *message.Messaging {
	t.Helper()

	env, err := message.Parse(built.Envelope)
	require.NoError(t, err)
	messaging, err := env.Messaging()
	require.NoError(t, err)
	return messaging
}
