package as4

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finvix/dbna-phase4/internal/keystore"
	"github.com/finvix/dbna-phase4/pkg/pmode"
	"github.com/finvix/dbna-phase4/pkg/security"
)

func keystoreConfig(t *testing.T) *ExchangeConfig {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ap.p12")
	require.NoError(t, os.WriteFile(path, []byte("placeholder"), 0o600))

	cfg := NewExchangeConfig()
	cfg.SetKeyStoreType(keystore.TypePKCS12)
	cfg.SetKeyStorePath(path)
	cfg.SetKeyStorePassword("secret")
	cfg.SetKeyAlias("ap")
	cfg.SetKeyPassword("secret")
	return cfg
}

func TestExchangeConfig_Defaults(t *testing.T) {
	cfg := NewExchangeConfig()

	assert.Equal(t, SOAP12, cfg.SOAPVersion())
	assert.Equal(t, 0, cfg.MaxRetries())
	assert.Equal(t, 12*time.Second, cfg.RetryInterval())
	assert.False(t, cfg.Signing().Enabled())
	assert.False(t, cfg.Encryption().Enabled())
	assert.Nil(t, cfg.CryptoFactory())

	id, err := cfg.CreateMessageID()
	require.NoError(t, err)
	assert.Contains(t, id, "@")

	policy := cfg.RetryPolicy()
	assert.Equal(t, 0, policy.MaxRetries)
	assert.Equal(t, DefaultRetryInterval, policy.Interval)
}

func TestExchangeConfig_BuildCryptoFactoryNeedsEveryCoordinate(t *testing.T) {
	tests := []struct {
		name  string
		unset func(*ExchangeConfig)
	}{
		{"type", func(c *ExchangeConfig) { c.SetKeyStoreType("") }},
		{"path", func(c *ExchangeConfig) { c.SetKeyStorePath("") }},
		{"missing file", func(c *ExchangeConfig) { c.SetKeyStorePath(filepath.Join(os.TempDir(), "does-not-exist.p12")) }},
		{"password", func(c *ExchangeConfig) { c.keyStorePassword = nil }},
		{"alias", func(c *ExchangeConfig) { c.SetKeyAlias("") }},
		{"key password", func(c *ExchangeConfig) { c.keyPassword = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := keystoreConfig(t)
			tt.unset(cfg)

			_, err := cfg.BuildCryptoFactory()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfiguration)
			assert.ErrorIs(t, err, keystore.ErrInvalidCoordinates)
		})
	}
}

func TestExchangeConfig_BuildCryptoFactory(t *testing.T) {
	cfg := keystoreConfig(t)

	factory, err := cfg.BuildCryptoFactory()
	require.NoError(t, err)
	require.IsType(t, &keystore.Factory{}, factory)
	assert.Equal(t, "ap", factory.(*keystore.Factory).Coordinates().Alias)

	again, err := cfg.BuildCryptoFactory()
	require.NoError(t, err)
	assert.Same(t, factory, again)

	cfg.SetKeyAlias("other")
	rebuilt, err := cfg.BuildCryptoFactory()
	require.NoError(t, err)
	assert.NotSame(t, factory, rebuilt)
	assert.Equal(t, "other", rebuilt.(*keystore.Factory).Coordinates().Alias)

	require.NoError(t, cfg.Close())
}

func TestExchangeConfig_ExplicitFactory(t *testing.T) {
	cfg := keystoreConfig(t)
	explicit := security.StaticFactory{Keys: &security.KeyMaterial{}}

	cfg.SetCryptoFactory(explicit)
	factory, err := cfg.BuildCryptoFactory()
	require.NoError(t, err)
	assert.Equal(t, explicit, factory)

	cfg.SetKeyStorePassword("changed")
	assert.Nil(t, cfg.CryptoFactory())

	factory, err = cfg.BuildCryptoFactory()
	require.NoError(t, err)
	assert.IsType(t, &keystore.Factory{}, factory)
}

func TestExchangeConfig_MessageIDFactory(t *testing.T) {
	cfg := NewExchangeConfig()

	err := cfg.SetMessageIDFactory(nil)
	assert.ErrorIs(t, err, ErrConfiguration)

	require.NoError(t, cfg.SetMessageIDFactory(func() string { return "fixed@test" }))
	id, err := cfg.CreateMessageID()
	require.NoError(t, err)
	assert.Equal(t, "fixed@test", id)

	require.NoError(t, cfg.SetMessageIDFactory(func() string { return "  " }))
	_, err = cfg.CreateMessageID()
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestExchangeConfig_Setters(t *testing.T) {
	cfg := NewExchangeConfig()

	assert.ErrorIs(t, cfg.SetSOAPVersion(0), ErrConfiguration)
	assert.ErrorIs(t, cfg.SetSOAPVersion(SOAPVersion(7)), ErrConfiguration)
	require.NoError(t, cfg.SetSOAPVersion(SOAP11))
	assert.Equal(t, SOAP11, cfg.SOAPVersion())

	assert.ErrorIs(t, cfg.SetMaxRetries(-1), ErrConfiguration)
	require.NoError(t, cfg.SetMaxRetries(3))
	assert.Equal(t, 3, cfg.MaxRetries())

	assert.ErrorIs(t, cfg.SetRetryIntervalMS(-5), ErrConfiguration)
	require.NoError(t, cfg.SetRetryIntervalMS(250))
	assert.Equal(t, 250*time.Millisecond, cfg.RetryInterval())

	policy := cfg.RetryPolicy()
	assert.Equal(t, 3, policy.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, policy.Interval)
}

func TestSOAPVersion(t *testing.T) {
	assert.Equal(t, "application/soap+xml", SOAP12.MimeType())
	assert.Equal(t, "text/xml", SOAP11.MimeType())
	assert.Equal(t, "http://www.w3.org/2003/05/soap-envelope", SOAP12.Namespace())
	assert.Equal(t, "http://schemas.xmlsoap.org/soap/envelope/", SOAP11.Namespace())

	v, err := ParseSOAPVersion("1.1")
	require.NoError(t, err)
	assert.Equal(t, SOAP11, v)

	_, err = ParseSOAPVersion("2.0")
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestExchangeConfig_ImportFromPModeWithoutRetryForcesZero(t *testing.T) {
	cfg := NewExchangeConfig()
	require.NoError(t, cfg.SetMaxRetries(5))

	pm := pmode.DefaultPMode()
	pm.ReceptionAwareness = nil
	for i := range pm.Legs {
		pm.Legs[i].ReceptionAwareness = nil
	}

	require.NoError(t, cfg.ImportFromPMode(pm, nil))
	assert.Equal(t, 0, cfg.MaxRetries())
}

func TestExchangeConfig_ImportFromPModeRetry(t *testing.T) {
	cfg := NewExchangeConfig()
	pm := &pmode.ProcessingMode{
		ID: "retrying",
		ReceptionAwareness: &pmode.ReceptionAwareness{
			Enabled: true,
			Retry: &pmode.RetryConfig{
				Enabled:       true,
				MaxRetries:    4,
				RetryInterval: 1500 * time.Millisecond,
			},
		},
	}

	require.NoError(t, cfg.ImportFromPMode(pm, nil))
	assert.Equal(t, 4, cfg.MaxRetries())
	assert.Equal(t, 1500*time.Millisecond, cfg.RetryInterval())
}

func TestExchangeConfig_ImportFromPModeLegSecurity(t *testing.T) {
	_, recipient := generateRSATestCert(t, "receiver.example.com")

	leg := &pmode.Leg{
		Protocol: &pmode.Protocol{SOAPVersion: "1.1"},
		Security: &pmode.Security{
			X509: &pmode.X509Config{
				Sign: &pmode.SignConfig{
					Algorithm:       pmode.AlgoRSASHA512,
					HashFunction:    pmode.HashSHA512,
					TokenReference:  pmode.TokenRefIssuerSerial,
					SignAttachments: true,
				},
				Encryption: &pmode.EncryptionConfig{
					Algorithm:      pmode.KeyAlgoRSAOAEP,
					DataEncryption: pmode.DataAlgoAES256GCM,
					Certificate:    recipient.Raw,
				},
			},
		},
	}
	pm := &pmode.ProcessingMode{ID: "secured", Legs: []pmode.Leg{*leg}}

	cfg := NewExchangeConfig()
	require.NoError(t, cfg.ImportFromPMode(pm, pm.Leg(1)))

	assert.Equal(t, SOAP11, cfg.SOAPVersion())
	assert.Equal(t, pmode.AlgoRSASHA512, cfg.Signing().Algorithm)
	assert.Equal(t, pmode.HashSHA512, cfg.Signing().Digest)
	assert.Equal(t, pmode.TokenRefIssuerSerial, cfg.Signing().TokenReference)
	assert.True(t, cfg.Signing().SignAttachments)
	assert.Equal(t, pmode.DataAlgoAES256GCM, cfg.Encryption().Algorithm)
	assert.Equal(t, pmode.KeyAlgoRSAOAEP, cfg.Encryption().KeyEncryption)
	require.NotNil(t, cfg.Encryption().Certificate)
	assert.True(t, recipient.Equal(cfg.Encryption().Certificate))

	// a leg without security clears what was imported before
	require.NoError(t, cfg.ImportFromPMode(pm, &pmode.Leg{}))
	assert.False(t, cfg.Signing().Enabled())
	assert.False(t, cfg.Encryption().Enabled())
	assert.Nil(t, cfg.Encryption().Certificate)
}

func TestExchangeConfig_ImportFromPModeErrors(t *testing.T) {
	cfg := NewExchangeConfig()
	assert.ErrorIs(t, cfg.ImportFromPMode(nil, nil), ErrConfiguration)

	bad := &pmode.ProcessingMode{Protocol: &pmode.Protocol{SOAPVersion: "9"}}
	assert.ErrorIs(t, cfg.ImportFromPMode(bad, nil), ErrConfiguration)

	leg := &pmode.Leg{Security: &pmode.Security{X509: &pmode.X509Config{
		Encryption: &pmode.EncryptionConfig{DataEncryption: pmode.DataAlgoAES128GCM, Certificate: []byte("not DER")},
	}}}
	assert.ErrorIs(t, cfg.ImportFromPMode(&pmode.ProcessingMode{}, leg), ErrConfiguration)
}
