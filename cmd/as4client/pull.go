// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/finvix/dbna-phase4/pkg/as4"
	"github.com/finvix/dbna-phase4/pkg/mep"
	"github.com/finvix/dbna-phase4/pkg/pmode"
	"github.com/finvix/dbna-phase4/pkg/resource"
	"github.com/finvix/dbna-phase4/pkg/security"
)

var errRejected = errors.New("response rejected")

func runPull(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	flagSet, configPath := newFlagSet("pull", stderr)
	mpc := flagSet.String("mpc", "", "message partition channel to pull from (default: exchange.mpc)")
	outDir := flagSet.StringP("out", "o", ".", "directory receiving the pulled payloads")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("%w: unexpected argument %q", errUsage, flagSet.Arg(0))
	}

	a, err := newApp(ctx, *configPath, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	_, leg, err := a.importLeg(mep.Pulled)
	if err != nil {
		return err
	}

	channel := *mpc
	if channel == "" {
		channel = a.cfg.Exchange.MPC
	}
	if channel == "" && leg != nil && leg.BusinessInfo != nil {
		channel = leg.BusinessInfo.MPC
	}
	if channel == "" {
		channel = pmode.DefaultMPC
	}

	client, err := a.client()
	if err != nil {
		return err
	}
	sent, err := client.Send(ctx, a.cfg.Exchange.Endpoint, &as4.PullRequest{MPC: channel})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "pulled %s as %s (HTTP %d, %d attempts)\n",
		channel, sent.Built.MessageID, sent.Response.StatusCode, sent.Response.Attempts)

	if len(bytes.TrimSpace(sent.Response.Body)) == 0 {
		fmt.Fprintln(stdout, "no message available")
		return nil
	}

	handler, err := a.handler()
	if err != nil {
		return err
	}
	lifecycle := resource.NewLifecycle(resource.WithLogger(a.logger))
	defer lifecycle.Release()

	received, err := handler.Receive(ctx, sent.Response.Body, sent.Response.ContentType, lifecycle)
	if err != nil {
		return err
	}
	printReceived(stdout, received)
	if !received.Outcome.Success() {
		return fmt.Errorf("%w: %s", errRejected, strings.Join(received.Outcome.Codes(), ", "))
	}

	if len(received.Payloads) == 0 {
		return nil
	}
	if err := os.MkdirAll(*outDir, 0o750); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	for i := range received.Payloads {
		path, err := writePayload(*outDir, &received.Payloads[i])
		if err != nil {
			return err
		}
		a.logger.Debug("payload written", slog.String("path", path))
		fmt.Fprintf(stdout, "  payload %s (%s) -> %s\n",
			received.Payloads[i].ContentID, received.Payloads[i].ContentType, path)
	}
	return nil
}

// writePayload copies att into dir under a name derived from its
// Content-ID
func writePayload(dir string, att *security.Attachment) (string, error) {
	path := filepath.Join(dir, payloadFileName(att.ContentID))

	src, err := att.Open()
	if err != nil {
		return "", fmt.Errorf("reading payload %s: %w", att.ContentID, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return "", fmt.Errorf("writing payload %s: %w", att.ContentID, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", fmt.Errorf("writing payload %s: %w", att.ContentID, err)
	}
	return path, dst.Close()
}

func payloadFileName(contentID string) string {
	name := strings.Trim(contentID, "<>")
	if at := strings.IndexByte(name, '@'); at > 0 {
		name = name[:at]
	}
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, name)
	if name == "" || name == "." || name == ".." {
		name = "payload"
	}
	return name
}
