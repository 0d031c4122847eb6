// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package as4

import (
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/finvix/dbna-phase4/internal/keystore"
	"github.com/finvix/dbna-phase4/pkg/message"
	"github.com/finvix/dbna-phase4/pkg/mime"
	"github.com/finvix/dbna-phase4/pkg/pmode"
	"github.com/finvix/dbna-phase4/pkg/security"
	"github.com/finvix/dbna-phase4/pkg/transport"
)

// ErrConfiguration is wrapped by every error caused by the exchange
// configuration rather than by the peer or the network.
var ErrConfiguration = errors.New("invalid exchange configuration")

// DefaultRetryInterval is the pause between send attempts unless a P-Mode
// or the caller sets another one.
const DefaultRetryInterval = 12 * time.Second

// SOAPVersion selects the SOAP envelope namespace and media type
type SOAPVersion int

const (
	SOAP11 SOAPVersion = iota + 1
	SOAP12
)

// ParseSOAPVersion accepts "1.1" and "1.2"
func ParseSOAPVersion(s string) (SOAPVersion, error) {
	switch strings.TrimSpace(s) {
	case "1.1":
		return SOAP11, nil
	case "1.2":
		return SOAP12, nil
	default:
		return 0, fmt.Errorf("%w: unknown SOAP version %q", ErrConfiguration, s)
	}
}

func (v SOAPVersion) valid() bool {
	return v == SOAP11 || v == SOAP12
}

// Namespace returns the envelope namespace URI
func (v SOAPVersion) Namespace() string {
	if v == SOAP11 {
		return message.NsSOAP11Env
	}
	return message.NsSOAP12Env
}

// MimeType returns the media type of the SOAP part
func (v SOAPVersion) MimeType() string {
	if v == SOAP11 {
		return mime.ContentTypeTextXML
	}
	return mime.ContentTypeSOAPXML
}

func (v SOAPVersion) String() string {
	switch v {
	case SOAP11:
		return "1.1"
	case SOAP12:
		return "1.2"
	default:
		return "unknown"
	}
}

// ExchangeConfig holds everything one client needs to build and send
// messages. It is owned by a single client and must not be changed while
// a send is in progress.
//
// Key material comes either from keystore coordinates or from an explicit
// crypto factory. Setting any keystore coordinate drops the factory.
type ExchangeConfig struct {
	keyStoreType     keystore.Type
	keyStorePath     string
	keyStorePassword *string
	keyAlias         string
	keyPassword      *string
	trustStorePath   string

	factoryMu sync.Mutex
	explicit  security.CryptoFactory
	cached    *keystore.Factory

	signing    security.SigningParams
	encryption security.EncryptionParams

	messageIDFactory func() string
	refToMessageID   string
	soapVersion      SOAPVersion
	maxRetries       int
	retryInterval    time.Duration
}

// NewExchangeConfig returns a configuration for SOAP 1.2 without retries
func NewExchangeConfig() *ExchangeConfig {
	return &ExchangeConfig{
		messageIDFactory: message.NewMessageID,
		soapVersion:      SOAP12,
		retryInterval:    DefaultRetryInterval,
	}
}

// SetKeyStoreType sets the keystore format
func (c *ExchangeConfig) SetKeyStoreType(t keystore.Type) {
	c.keyStoreType = t
	c.clearFactory()
}

// SetKeyStorePath sets the keystore file
func (c *ExchangeConfig) SetKeyStorePath(path string) {
	c.keyStorePath = path
	c.clearFactory()
}

// SetKeyStorePassword sets the password that opens the keystore
func (c *ExchangeConfig) SetKeyStorePassword(password string) {
	c.keyStorePassword = &password
	c.clearFactory()
}

// SetKeyAlias selects the signing key entry of the keystore
func (c *ExchangeConfig) SetKeyAlias(alias string) {
	c.keyAlias = alias
	c.clearFactory()
}

// SetKeyPassword sets the password of the key entry
func (c *ExchangeConfig) SetKeyPassword(password string) {
	c.keyPassword = &password
	c.clearFactory()
}

// SetTrustStorePath sets a PEM bundle of partner certificates and trust
// anchors loaded together with the keystore.
func (c *ExchangeConfig) SetTrustStorePath(path string) {
	c.trustStorePath = path
	c.clearFactory()
}

// SetCryptoFactory uses f for key material instead of keystore coordinates
func (c *ExchangeConfig) SetCryptoFactory(f security.CryptoFactory) {
	c.clearFactory()
	c.factoryMu.Lock()
	c.explicit = f
	c.factoryMu.Unlock()
}

// CryptoFactory returns the explicit factory, if any
func (c *ExchangeConfig) CryptoFactory() security.CryptoFactory {
	c.factoryMu.Lock()
	defer c.factoryMu.Unlock()
	return c.explicit
}

func (c *ExchangeConfig) clearFactory() {
	c.factoryMu.Lock()
	defer c.factoryMu.Unlock()
	c.explicit = nil
	if c.cached != nil {
		_ = c.cached.Close()
		c.cached = nil
	}
}

// Coordinates returns the keystore coordinates as currently set
func (c *ExchangeConfig) Coordinates() keystore.Coordinates {
	return keystore.Coordinates{
		Type:        c.keyStoreType,
		Path:        c.keyStorePath,
		Password:    c.keyStorePassword,
		Alias:       c.keyAlias,
		KeyPassword: c.keyPassword,
	}
}

// BuildCryptoFactory returns the explicit factory if one is set. Otherwise
// it validates the keystore coordinates and returns a factory over them,
// reusing the previous one while the coordinates are unchanged.
func (c *ExchangeConfig) BuildCryptoFactory() (security.CryptoFactory, error) {
	c.factoryMu.Lock()
	defer c.factoryMu.Unlock()

	if c.explicit != nil {
		return c.explicit, nil
	}
	if c.cached != nil {
		return c.cached, nil
	}

	var opts []keystore.FactoryOption
	if c.trustStorePath != "" {
		opts = append(opts, keystore.WithTrustStore(c.trustStorePath))
	}
	f, err := keystore.NewFactory(c.Coordinates(), opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	c.cached = f
	return f, nil
}

// Signing returns the signing parameters for in-place modification
func (c *ExchangeConfig) Signing() *security.SigningParams {
	return &c.signing
}

// Encryption returns the encryption parameters for in-place modification
func (c *ExchangeConfig) Encryption() *security.EncryptionParams {
	return &c.encryption
}

// SetMessageIDFactory replaces the generator of message ids. A constant
// factory makes message ids deterministic in tests.
func (c *ExchangeConfig) SetMessageIDFactory(f func() string) error {
	if f == nil {
		return fmt.Errorf("%w: message id factory is nil", ErrConfiguration)
	}
	c.messageIDFactory = f
	return nil
}

// CreateMessageID returns a new message id from the factory
func (c *ExchangeConfig) CreateMessageID() (string, error) {
	if c.messageIDFactory == nil {
		return "", fmt.Errorf("%w: message id factory is nil", ErrConfiguration)
	}
	id := strings.TrimSpace(c.messageIDFactory())
	if id == "" {
		return "", fmt.Errorf("%w: message id factory returned an empty id", ErrConfiguration)
	}
	return id, nil
}

// SetRefToMessageID sets the id outbound messages refer to
func (c *ExchangeConfig) SetRefToMessageID(id string) {
	c.refToMessageID = id
}

// RefToMessageID returns the id outbound messages refer to
func (c *ExchangeConfig) RefToMessageID() string {
	return c.refToMessageID
}

// SetSOAPVersion sets the SOAP version of outbound envelopes
func (c *ExchangeConfig) SetSOAPVersion(v SOAPVersion) error {
	if !v.valid() {
		return fmt.Errorf("%w: unknown SOAP version %d", ErrConfiguration, v)
	}
	c.soapVersion = v
	return nil
}

func (c *ExchangeConfig) SOAPVersion() SOAPVersion {
	return c.soapVersion
}

// SetMaxRetries sets how often a failed post is repeated
func (c *ExchangeConfig) SetMaxRetries(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: max retries must not be negative, got %d", ErrConfiguration, n)
	}
	c.maxRetries = n
	return nil
}

func (c *ExchangeConfig) MaxRetries() int {
	return c.maxRetries
}

// SetRetryIntervalMS sets the pause between posts in milliseconds
func (c *ExchangeConfig) SetRetryIntervalMS(ms int64) error {
	if ms < 0 {
		return fmt.Errorf("%w: retry interval must not be negative, got %d ms", ErrConfiguration, ms)
	}
	c.retryInterval = time.Duration(ms) * time.Millisecond
	return nil
}

func (c *ExchangeConfig) RetryInterval() time.Duration {
	return c.retryInterval
}

// RetryPolicy returns the transport retry policy for one send
func (c *ExchangeConfig) RetryPolicy() transport.RetryPolicy {
	return transport.RetryPolicy{
		MaxRetries: c.maxRetries,
		Interval:   c.retryInterval,
	}
}

// ImportFromPMode applies the reliability settings of pm and, when leg is
// given, its SOAP version and security settings. Security settings the leg
// does not declare are cleared.
func (c *ExchangeConfig) ImportFromPMode(pm *pmode.ProcessingMode, leg *pmode.Leg) error {
	if pm == nil {
		return fmt.Errorf("%w: no P-Mode", ErrConfiguration)
	}

	if ra := pm.ReceptionAwarenessFor(leg); ra.IsRetryDefined() {
		if err := c.SetMaxRetries(ra.Retry.MaxRetries); err != nil {
			return err
		}
		if err := c.SetRetryIntervalMS(ra.Retry.RetryInterval.Milliseconds()); err != nil {
			return err
		}
	} else {
		c.maxRetries = 0
	}

	var soapVersion string
	if pm.Protocol != nil {
		soapVersion = pm.Protocol.SOAPVersion
	}
	if leg != nil && leg.Protocol != nil && leg.Protocol.SOAPVersion != "" {
		soapVersion = leg.Protocol.SOAPVersion
	}
	if soapVersion != "" {
		v, err := ParseSOAPVersion(soapVersion)
		if err != nil {
			return err
		}
		c.soapVersion = v
	}

	if leg == nil {
		return nil
	}

	c.signing.Reset()
	c.encryption.Reset()
	if leg.Security == nil || leg.Security.X509 == nil {
		return nil
	}

	if sign := leg.Security.X509.Sign; sign != nil {
		c.signing = security.SigningParams{
			Algorithm:       sign.Algorithm,
			Digest:          sign.HashFunction,
			TokenReference:  sign.TokenReference,
			SignAttachments: sign.SignAttachments,
		}
	}
	if enc := leg.Security.X509.Encryption; enc != nil {
		c.encryption = security.EncryptionParams{
			Algorithm:     enc.DataEncryption,
			KeyEncryption: enc.Algorithm,
		}
		if len(enc.Certificate) > 0 {
			cert, err := x509.ParseCertificate(enc.Certificate)
			if err != nil {
				return fmt.Errorf("%w: recipient certificate: %v", ErrConfiguration, err)
			}
			c.encryption.Certificate = cert
		}
	}
	return nil
}

// Close releases the keystore session opened by BuildCryptoFactory, if any
func (c *ExchangeConfig) Close() error {
	c.factoryMu.Lock()
	defer c.factoryMu.Unlock()
	if c.cached == nil {
		return nil
	}
	err := c.cached.Close()
	c.cached = nil
	return err
}

var _ io.Closer = (*ExchangeConfig)(nil)
