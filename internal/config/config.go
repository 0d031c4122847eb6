// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package config handles configuration loading for the AS4 client.
//
// Configuration is loaded from a YAML file with support for environment
// variable expansion (${VAR} or $VAR syntax). This allows keystore
// passwords and database credentials to be injected at runtime.
//
// # Configuration Sections
//
//   - exchange: partner endpoint, SOAP version, MPC and retry settings
//   - keystore: signing key coordinates, trust store and AuthZEN PDP
//   - pmodes: processing modes used to secure and check messages
//   - journal: where exchange records are kept (memory or mongodb)
//   - logging: log level and format
//
// # Example Configuration
//
//	exchange:
//	  endpoint: https://ap.partner.example/as4
//	  soapVersion: "1.2"
//	  mpc: urn:dbna:mpc:invoices
//	  retry:
//	    maxRetries: 3
//	    intervalMs: 12000
//
//	keystore:
//	  type: pkcs12
//	  path: /etc/as4/ap.p12
//	  password: ${KEYSTORE_PASSWORD}
//	  alias: dbna-ap
//	  keyPassword: ${KEYSTORE_PASSWORD}
//	  trustStore: /etc/as4/partners.pem
//	  authzen:
//	    url: https://trust-pdp.example
//	    action: signing
//
//	journal:
//	  type: mongodb
//	  mongodb:
//	    uri: ${MONGODB_URI}
//	    database: as4
//
// See [Load] for loading configuration from a file.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/finvix/dbna-phase4/internal/keystore"
	"github.com/finvix/dbna-phase4/internal/storage/mongodb"
	"github.com/finvix/dbna-phase4/pkg/as4"
	"github.com/finvix/dbna-phase4/pkg/pmode"
	"github.com/finvix/dbna-phase4/pkg/security"
)

// Journal types
const (
	JournalMemory  = "memory"
	JournalMongoDB = "mongodb"
)

// Config is the root configuration structure
type Config struct {
	Exchange ExchangeConfig `yaml:"exchange"`
	KeyStore KeyStoreConfig `yaml:"keystore"`
	PModes   []PModeConfig  `yaml:"pmodes"`
	Journal  JournalConfig  `yaml:"journal"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ExchangeConfig holds partner and transport settings
type ExchangeConfig struct {
	Endpoint    string      `yaml:"endpoint"`
	SOAPVersion string      `yaml:"soapVersion"`
	MPC         string      `yaml:"mpc"`
	Retry       RetryConfig `yaml:"retry"`

	// PMode names the processing mode applied to outgoing messages
	PMode string `yaml:"pmode"`

	// FallbackPMode names the processing mode for received messages that
	// match no other, typically the one for pulled signals
	FallbackPMode string `yaml:"fallbackPmode"`
}

// RetryConfig holds transport retry settings
type RetryConfig struct {
	MaxRetries int   `yaml:"maxRetries"`
	IntervalMS int64 `yaml:"intervalMs"`
}

// KeyStoreConfig holds signing key coordinates. Passwords are pointers so
// that an absent password can be told apart from an empty one.
type KeyStoreConfig struct {
	Type        string  `yaml:"type"`
	Path        string  `yaml:"path"`
	Password    *string `yaml:"password"`
	Alias       string  `yaml:"alias"`
	KeyPassword *string `yaml:"keyPassword"`
	TrustStore  string  `yaml:"trustStore"`

	// AuthZEN, when its URL is set, decides on signers that are not in
	// the trust store
	AuthZEN AuthZENConfig `yaml:"authzen"`
}

// AuthZENConfig points at an AuthZEN trust PDP
type AuthZENConfig struct {
	URL       string `yaml:"url"`
	Action    string `yaml:"action"`
	TimeoutMS int64  `yaml:"timeoutMs"`
}

// PModeConfig describes one processing mode
type PModeConfig struct {
	ID          string       `yaml:"id"`
	Agreement   string       `yaml:"agreement"`
	MEP         string       `yaml:"mep"`
	Binding     string       `yaml:"binding"`
	Service     string       `yaml:"service"`
	ServiceType string       `yaml:"serviceType"`
	Action      string       `yaml:"action"`
	Address     string       `yaml:"address"`
	SOAPVersion string       `yaml:"soapVersion"`
	Compression string       `yaml:"compression"`
	Retry       *RetryConfig `yaml:"retry"`
	Legs        []LegConfig  `yaml:"legs"`
}

// LegConfig describes one leg of a processing mode
type LegConfig struct {
	Address     string       `yaml:"address"`
	SOAPVersion string       `yaml:"soapVersion"`
	MPC         string       `yaml:"mpc"`
	Retry       *RetryConfig `yaml:"retry"`
	Sign        *SignConfig  `yaml:"sign"`
	Encryption  *EncConfig   `yaml:"encryption"`
}

// SignConfig holds the signature algorithm URIs of a leg
type SignConfig struct {
	Algorithm       string `yaml:"algorithm"`
	Digest          string `yaml:"digest"`
	TokenReference  string `yaml:"tokenReference"`
	SignAttachments bool   `yaml:"signAttachments"`
}

// EncConfig holds the encryption algorithm URIs of a leg
type EncConfig struct {
	Algorithm     string `yaml:"algorithm"`
	KeyEncryption string `yaml:"keyEncryption"`
	// Certificate is a PEM file with the recipient certificate
	Certificate string `yaml:"certificate"`
}

// JournalConfig selects the exchange journal
type JournalConfig struct {
	Type    string         `yaml:"type"`
	MongoDB mongodb.Config `yaml:"mongodb"`
}

// LoggingConfig holds log settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse reads configuration from YAML data
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Exchange.SOAPVersion == "" {
		c.Exchange.SOAPVersion = pmode.DefaultSOAPVers
	}
	if c.Exchange.Retry.IntervalMS == 0 {
		c.Exchange.Retry.IntervalMS = as4.DefaultRetryInterval.Milliseconds()
	}
	if c.KeyStore.Type == "" {
		c.KeyStore.Type = string(keystore.TypePKCS12)
	}
	if c.Journal.Type == "" {
		c.Journal.Type = JournalMemory
	}
	if c.Journal.Type == JournalMongoDB && c.Journal.MongoDB.Database == "" {
		c.Journal.MongoDB.Database = "as4"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func (c *Config) validate() error {
	if c.Exchange.Endpoint == "" {
		return fmt.Errorf("exchange.endpoint is required")
	}
	if _, err := as4.ParseSOAPVersion(c.Exchange.SOAPVersion); err != nil {
		return fmt.Errorf("exchange.soapVersion: %w", err)
	}
	if c.Exchange.Retry.MaxRetries < 0 {
		return fmt.Errorf("exchange.retry.maxRetries must not be negative, got %d", c.Exchange.Retry.MaxRetries)
	}
	if c.Exchange.Retry.IntervalMS < 0 {
		return fmt.Errorf("exchange.retry.intervalMs must not be negative, got %d", c.Exchange.Retry.IntervalMS)
	}

	if _, err := keystore.ParseType(c.KeyStore.Type); err != nil {
		return fmt.Errorf("keystore.type: %w", err)
	}
	if az := c.KeyStore.AuthZEN; az.URL != "" {
		u, err := url.Parse(az.URL)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return fmt.Errorf("keystore.authzen.url must be an http(s) URL, got '%s'", az.URL)
		}
		if az.TimeoutMS < 0 {
			return fmt.Errorf("keystore.authzen.timeoutMs must not be negative, got %d", az.TimeoutMS)
		}
	}

	ids := make(map[string]bool, len(c.PModes))
	for i, pm := range c.PModes {
		if pm.ID == "" {
			return fmt.Errorf("pmodes[%d].id is required", i)
		}
		if ids[pm.ID] {
			return fmt.Errorf("pmodes[%d]: duplicate id %q", i, pm.ID)
		}
		ids[pm.ID] = true
		if len(pm.Legs) > 2 {
			return fmt.Errorf("pmode %s: at most two legs, got %d", pm.ID, len(pm.Legs))
		}
	}
	if c.Exchange.PMode != "" && !ids[c.Exchange.PMode] {
		return fmt.Errorf("exchange.pmode %q is not defined", c.Exchange.PMode)
	}
	if c.Exchange.FallbackPMode != "" && !ids[c.Exchange.FallbackPMode] {
		return fmt.Errorf("exchange.fallbackPmode %q is not defined", c.Exchange.FallbackPMode)
	}

	switch c.Journal.Type {
	case JournalMemory:
	case JournalMongoDB:
		if c.Journal.MongoDB.URI == "" {
			return fmt.Errorf("journal.mongodb.uri is required when type is 'mongodb'")
		}
	default:
		return fmt.Errorf("journal.type must be 'memory' or 'mongodb', got '%s'", c.Journal.Type)
	}

	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be 'text' or 'json', got '%s'", c.Logging.Format)
	}

	return nil
}

// Apply copies the keystore, SOAP version and retry settings onto ec.
// Only keystore fields present in the file are set, so a missing
// password surfaces when the crypto factory is built.
func (c *Config) Apply(ec *as4.ExchangeConfig) error {
	ks := c.KeyStore
	if ks.Path != "" {
		t, err := keystore.ParseType(ks.Type)
		if err != nil {
			return err
		}
		ec.SetKeyStoreType(t)
		ec.SetKeyStorePath(ks.Path)
		ec.SetKeyAlias(ks.Alias)
		if ks.Password != nil {
			ec.SetKeyStorePassword(*ks.Password)
		}
		if ks.KeyPassword != nil {
			ec.SetKeyPassword(*ks.KeyPassword)
		}
		if ks.TrustStore != "" {
			ec.SetTrustStorePath(ks.TrustStore)
		}
	}

	v, err := as4.ParseSOAPVersion(c.Exchange.SOAPVersion)
	if err != nil {
		return err
	}
	if err := ec.SetSOAPVersion(v); err != nil {
		return err
	}
	if err := ec.SetMaxRetries(c.Exchange.Retry.MaxRetries); err != nil {
		return err
	}
	return ec.SetRetryIntervalMS(c.Exchange.Retry.IntervalMS)
}

// CertificateValidator returns the AuthZEN validator for signing
// certificates, or nil when no PDP is configured
func (c *Config) CertificateValidator() security.CertificateValidator {
	az := c.KeyStore.AuthZEN
	if az.URL == "" {
		return nil
	}
	return security.NewAuthZENValidator(az.URL,
		security.WithAuthZENAction(az.Action),
		security.WithAuthZENTimeout(time.Duration(az.TimeoutMS)*time.Millisecond))
}

// PModeManager converts the configured processing modes
func (c *Config) PModeManager() (*pmode.PModeManager, error) {
	manager := pmode.NewPModeManager()
	for _, pc := range c.PModes {
		pm, err := pc.ProcessingMode()
		if err != nil {
			return nil, err
		}
		manager.AddPMode(pm)
	}
	return manager, nil
}

// ProcessingMode converts pc. Algorithm URIs must be recognised.
func (pc PModeConfig) ProcessingMode() (*pmode.ProcessingMode, error) {
	pm := &pmode.ProcessingMode{
		ID:                 pc.ID,
		MEP:                pc.MEP,
		MEPBinding:         pc.Binding,
		Service:            pc.Service,
		Action:             pc.Action,
		ReceptionAwareness: receptionAwareness(pc.Retry),
	}
	if pm.MEP == "" {
		pm.MEP = pmode.MEPOneWay
	}
	if pm.MEPBinding == "" {
		pm.MEPBinding = pmode.MEPBindingPush
	}
	if pc.Agreement != "" {
		pm.Agreement = &pmode.Agreement{Name: pc.Agreement, Pmode: pc.ID}
	}
	if pc.Address != "" || pc.SOAPVersion != "" {
		pm.Protocol = &pmode.Protocol{Address: pc.Address, SOAPVersion: pc.SOAPVersion}
	}
	if pc.Compression != "" {
		pm.PayloadService = &pmode.PayloadService{CompressionType: pc.Compression}
	}

	for i, lc := range pc.Legs {
		leg, err := lc.leg(pc)
		if err != nil {
			return nil, fmt.Errorf("pmode %s leg %d: %w", pc.ID, i+1, err)
		}
		pm.Legs = append(pm.Legs, leg)
	}
	return pm, nil
}

func (lc LegConfig) leg(pc PModeConfig) (pmode.Leg, error) {
	leg := pmode.Leg{ReceptionAwareness: receptionAwareness(lc.Retry)}
	if lc.Address != "" || lc.SOAPVersion != "" {
		leg.Protocol = &pmode.Protocol{Address: lc.Address, SOAPVersion: lc.SOAPVersion}
	}
	if pc.Service != "" || pc.Action != "" || lc.MPC != "" {
		leg.BusinessInfo = &pmode.BusinessInfo{Action: pc.Action, MPC: lc.MPC}
		if pc.Service != "" {
			leg.BusinessInfo.Service = &pmode.Service{Value: pc.Service, Type: pc.ServiceType}
		}
	}
	if pc.Compression != "" {
		leg.PayloadService = &pmode.PayloadService{CompressionType: pc.Compression}
	}

	if lc.Sign == nil && lc.Encryption == nil {
		return leg, nil
	}
	x509Config := &pmode.X509Config{}
	if s := lc.Sign; s != nil {
		sign := &pmode.SignConfig{
			Algorithm:        pmode.ParseSignatureAlgorithm(s.Algorithm),
			HashFunction:     pmode.ParseHashAlgorithm(s.Digest),
			Canonicalization: pmode.C14NExclusive,
			TokenReference:   pmode.TokenReferenceMethod(s.TokenReference),
			SignAttachments:  s.SignAttachments,
		}
		if !sign.Algorithm.Recognized() {
			return leg, fmt.Errorf("unknown signature algorithm %q", s.Algorithm)
		}
		if !sign.HashFunction.Recognized() {
			return leg, fmt.Errorf("unknown digest algorithm %q", s.Digest)
		}
		if sign.TokenReference == "" {
			sign.TokenReference = pmode.TokenRefBinarySecurityToken
		}
		x509Config.Sign = sign
	}
	if e := lc.Encryption; e != nil {
		enc := &pmode.EncryptionConfig{
			Algorithm:          pmode.ParseKeyEncryptionAlgorithm(e.KeyEncryption),
			DataEncryption:     pmode.ParseDataEncryptionAlgorithm(e.Algorithm),
			EncryptAttachments: true,
		}
		if enc.DataEncryption == pmode.DataAlgoUnrecognized {
			return leg, fmt.Errorf("unknown data encryption algorithm %q", e.Algorithm)
		}
		if enc.Algorithm == pmode.KeyAlgoUnrecognized {
			return leg, fmt.Errorf("unknown key encryption algorithm %q", e.KeyEncryption)
		}
		if e.Certificate != "" {
			certs, err := keystore.LoadCertificates(e.Certificate)
			if err != nil {
				return leg, err
			}
			enc.Certificate = certs[0].Raw
		}
		x509Config.Encryption = enc
	}
	leg.Security = &pmode.Security{X509: x509Config}
	return leg, nil
}

func receptionAwareness(rc *RetryConfig) *pmode.ReceptionAwareness {
	if rc == nil {
		return nil
	}
	return &pmode.ReceptionAwareness{
		Enabled: true,
		Retry: &pmode.RetryConfig{
			Enabled:       true,
			MaxRetries:    rc.MaxRetries,
			RetryInterval: time.Duration(rc.IntervalMS) * time.Millisecond,
		},
	}
}

// Logger returns a logger writing to w at the configured level and format
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.Logging.Level)
	opts := &slog.HandlerOptions{Level: level}
	if c.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("logging.level must be debug, info, warn or error, got '%s'", s)
}
