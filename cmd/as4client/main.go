// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// as4client exchanges AS4 messages with a partner access point.
//
// Two commands are available:
//
// pull sends a PullRequest for a message partition channel, checks the
// returned message against its P-Mode and writes its payloads to a
// directory.
//
// send builds a UserMessage from files, signs and encrypts it as the
// configured P-Mode requires and pushes it to the partner endpoint.
//
// Both read a YAML configuration (see internal/config) and record every
// exchange in the configured journal.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

var errUsage = errors.New("usage: as4client <pull|send> [flags]")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		printUsage(stderr)
		return errUsage
	}

	switch args[0] {
	case "pull":
		return runPull(ctx, args[1:], stdout, stderr)
	case "send":
		return runSend(ctx, args[1:], stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return nil
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `as4client exchanges AS4 messages with a partner access point.

Usage:
  as4client pull [--config as4.yaml] [--mpc URI] [--out DIR]
  as4client send [--config as4.yaml] --service URI --action NAME --attach FILE[;TYPE]...

Run "as4client <command> --help" for the flags of a command.
`)
}
