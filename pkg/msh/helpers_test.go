package msh

import (
	"context"
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

	"github.com/finvix/dbna-phase4/pkg/as4"
	"github.com/finvix/dbna-phase4/pkg/pmode"
	"github.com/finvix/dbna-phase4/pkg/resource"
	"github.com/finvix/dbna-phase4/pkg/security"
)

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
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return key, cert
}

// testParty holds the keys of one side of an exchange
type testParty struct {
	keys *security.KeyMaterial
}

func newTestParty(t *testing.T, commonName string) *testParty {
	t.Helper()
	key, cert := generateRSATestCert(t, commonName)
	return &testParty{keys: &security.KeyMaterial{PrivateKey: key, Certificate: cert}}
}

// trusting returns a factory over the keys of p that knows the
// certificates of partners
func (p *testParty) trusting(partners ...*testParty) security.StaticFactory {
	keys := *p.keys
	for _, partner := range partners {
		keys.Known = append(keys.Known, partner.keys.Certificate)
	}
	return security.StaticFactory{Keys: &keys}
}

// senderConfig returns an exchange config signing with sender and, when
// recipient is set, encrypting for it
func senderConfig(sender, recipient *testParty) *as4.ExchangeConfig {
	cfg := as4.NewExchangeConfig()
	cfg.SetCryptoFactory(security.StaticFactory{Keys: sender.keys})
	*cfg.Signing() = security.SigningParams{
		Algorithm:       pmode.AlgoRSASHA256,
		Digest:          pmode.HashSHA256,
		TokenReference:  pmode.TokenRefBinarySecurityToken,
		SignAttachments: true,
	}
	if recipient != nil {
		*cfg.Encryption() = security.EncryptionParams{
			Algorithm:     pmode.DataAlgoAES128GCM,
			KeyEncryption: pmode.KeyAlgoRSAOAEP256,
			Certificate:   recipient.keys.Certificate,
		}
	}
	return cfg
}

func build(t *testing.T, cfg *as4.ExchangeConfig, messageID string, payload as4.Payload, lifecycle *resource.Lifecycle) *as4.BuiltMessage {
	t.Helper()
	built, err := as4.NewBuilder(cfg, as4.WithLogger(discardLogger())).Build(context.Background(), messageID, payload, lifecycle)
	require.NoError(t, err)
	return built
}

func testUserMessage() *as4.UserMessage {
	return &as4.UserMessage{
		From:    as4.Party{ID: "sender", Type: "urn:oasis:names:tc:ebcore:partyid-type:unregistered"},
		To:      as4.Party{ID: "receiver", Type: "urn:oasis:names:tc:ebcore:partyid-type:unregistered"},
		Service: "urn:dbna:invoice",
		Action:  "Submit",
		Attachments: []security.Attachment{
			{ContentID: "invoice@as4.dbna.local", ContentType: "application/xml", Data: []byte("<Invoice><ID>42</ID></Invoice>")},
			{ContentID: "scan@as4.dbna.local", ContentType: "image/png", Data: []byte("\x89PNG not really")},
		},
	}
}

// securedPMode declares signing and encryption on leg 1 and leg 2
func securedPMode() *pmode.ProcessingMode {
	leg := pmode.Leg{
		Security: &pmode.Security{
			X509: &pmode.X509Config{
				Sign: &pmode.SignConfig{
					Algorithm:    pmode.AlgoRSASHA256,
					HashFunction: pmode.HashSHA256,
				},
				Encryption: &pmode.EncryptionConfig{
					Algorithm:      pmode.KeyAlgoRSAOAEP256,
					DataEncryption: pmode.DataAlgoAES128GCM,
				},
			},
		},
	}
	return &pmode.ProcessingMode{
		ID:      "secured",
		Service: "urn:dbna:invoice",
		Action:  "Submit",
		Legs:    []pmode.Leg{leg, leg},
	}
}

// openPMode declares two legs without security
func openPMode() *pmode.ProcessingMode {
	return &pmode.ProcessingMode{
		ID:   "open",
		Legs: []pmode.Leg{{}, {}},
	}
}

func newProcessor(factory security.CryptoFactory) *SecurityProcessor {
	return NewSecurityProcessor(ProcessorConfig{
		Capability: security.NewWSSecurity(security.WithLogger(discardLogger())),
		Factory:    factory,
		Logger:     discardLogger(),
	})
}

// recordingCapability counts VerifyAndDecrypt calls and reports the
// given results
type recordingCapability struct {
	security.Capability
	calls   int
	results []security.Result
}

func (c *recordingCapability) VerifyAndDecrypt(doc []byte, atts []security.Attachment, _ *security.KeyMaterial) (*security.Verification, error) {
	c.calls++
	return &security.Verification{Document: doc, Attachments: atts, Results: c.results}, nil
}
