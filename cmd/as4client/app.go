// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/pflag"

	"github.com/finvix/dbna-phase4/internal/config"
	"github.com/finvix/dbna-phase4/internal/storage"
	"github.com/finvix/dbna-phase4/internal/storage/mongodb"
	"github.com/finvix/dbna-phase4/pkg/as4"
	"github.com/finvix/dbna-phase4/pkg/mep"
	"github.com/finvix/dbna-phase4/pkg/msh"
	"github.com/finvix/dbna-phase4/pkg/pmode"
	"github.com/finvix/dbna-phase4/pkg/security"
)

// app holds what the commands share once the configuration is loaded
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	exchange *as4.ExchangeConfig
	pmodes   *pmode.PModeManager
	journal  storage.Journal
	closers  []func(context.Context) error
}

func newFlagSet(name string, stderr io.Writer) (*pflag.FlagSet, *string) {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	configPath := flagSet.StringP("config", "c", "as4.yaml", "path to the YAML configuration")
	return flagSet, configPath
}

func newApp(ctx context.Context, configPath string, stderr io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger(stderr)

	exchange := as4.NewExchangeConfig()
	if err := cfg.Apply(exchange); err != nil {
		return nil, err
	}
	pmodes, err := cfg.PModeManager()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		exchange: exchange,
		pmodes:   pmodes,
	}
	a.closers = append(a.closers, func(context.Context) error { return exchange.Close() })

	switch cfg.Journal.Type {
	case config.JournalMongoDB:
		journal, err := mongodb.NewJournal(ctx, &cfg.Journal.MongoDB)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("opening journal: %w", err)
		}
		a.journal = journal
		a.closers = append(a.closers, journal.Close)
	default:
		a.journal = storage.NewMemoryJournal()
	}

	logger.Debug("configuration loaded",
		slog.String("config", configPath),
		slog.String("endpoint", cfg.Exchange.Endpoint),
		slog.String("journal", cfg.Journal.Type),
		slog.Int("pmodes", len(cfg.PModes)))
	return a, nil
}

func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("close failed", slog.String("error", err.Error()))
		}
	}
	a.closers = nil
}

// importLeg applies the outbound P-Mode, if any, with the leg the command
// transfers: the pulled leg for pull, the first pushed leg for send.
func (a *app) importLeg(transfer mep.Transfer) (*pmode.ProcessingMode, *pmode.Leg, error) {
	id := a.cfg.Exchange.PMode
	if id == "" {
		return nil, nil, nil
	}
	pm := a.pmodes.GetPMode(id)
	pattern, err := mep.PatternOf(pm)
	if err != nil {
		return nil, nil, err
	}

	n := pattern.PushedLeg()
	if transfer == mep.Pulled {
		n = pattern.PulledLeg()
	}
	if n == 0 {
		return nil, nil, fmt.Errorf("pmode %s has no %s leg", id, transfer)
	}
	leg := pm.Leg(n)
	if err := a.exchange.ImportFromPMode(pm, leg); err != nil {
		return nil, nil, fmt.Errorf("applying pmode %s: %w", id, err)
	}
	a.logger.Debug("pmode applied",
		slog.String("pmode", id),
		slog.Int("leg", n),
		slog.String("transfer", transfer.String()))
	return pm, leg, nil
}

func (a *app) client() (*as4.Client, error) {
	return as4.NewClient(a.exchange,
		as4.WithLogger(a.logger),
		as4.WithJournal(a.journal))
}

// handler checks responses with the configured P-Modes. Key material is
// only loaded when a keystore is configured. Signers are accepted when the
// trust store lists or anchors them, or when the AuthZEN PDP vouches for
// them.
func (a *app) handler() (*msh.Handler, error) {
	var factory security.CryptoFactory
	if a.cfg.KeyStore.Path != "" {
		f, err := a.exchange.BuildCryptoFactory()
		if err != nil {
			return nil, err
		}
		factory = f
	}

	opts := []security.Option{security.WithLogger(a.logger)}
	if v := a.cfg.CertificateValidator(); v != nil {
		opts = append(opts, security.WithCertificateValidator(v))
		a.logger.Debug("signing certificates checked with AuthZEN",
			slog.String("pdp", a.cfg.KeyStore.AuthZEN.URL))
	}

	return msh.NewHandler(msh.HandlerConfig{
		Selector: &msh.ManagerSelector{
			Manager:  a.pmodes,
			Fallback: a.cfg.Exchange.FallbackPMode,
		},
		Processor: msh.NewSecurityProcessor(msh.ProcessorConfig{
			Capability: security.NewWSSecurity(opts...),
			Factory:    factory,
			Logger:     a.logger,
		}),
		Journal: a.journal,
		Logger:  a.logger,
	})
}

// printReceived writes a summary of a processed response to w
func printReceived(w io.Writer, received *msh.Received) {
	outcome := received.Outcome
	fmt.Fprintf(w, "received %s %s: %s\n",
		msh.MessageKind(outcome.State.Messaging), outcome.State.MessageID(), outcome.Stage)
	if outcome.State.SignatureVerified() {
		fmt.Fprintf(w, "  signed by %s\n", outcome.State.Certificate.Subject)
	}
	if outcome.State.Decrypted() {
		fmt.Fprintln(w, "  decrypted")
	}
	for _, pe := range outcome.Errors {
		fmt.Fprintf(w, "  rejected: %s\n", pe.Error())
	}
	if sm := outcome.State.Messaging.FirstSignalMessage(); sm != nil {
		for _, e := range sm.Errors {
			fmt.Fprintf(w, "  partner error %s %s: %s\n", e.ErrorCode, e.ShortDescription, e.ErrorDetail)
		}
	}
}
