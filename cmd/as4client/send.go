// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	stdmime "mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/finvix/dbna-phase4/pkg/as4"
	"github.com/finvix/dbna-phase4/pkg/mep"
	"github.com/finvix/dbna-phase4/pkg/message"
	"github.com/finvix/dbna-phase4/pkg/resource"
	"github.com/finvix/dbna-phase4/pkg/security"
)

const partyTypeUnregistered = "urn:oasis:names:tc:ebcore:partyid-type:unregistered"

func runSend(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	flagSet, configPath := newFlagSet("send", stderr)
	var payload as4.UserMessage
	flagSet.StringVar(&payload.Service, "service", "", "service URI (default: service of exchange.pmode)")
	flagSet.StringVar(&payload.ServiceType, "service-type", "", "service type")
	flagSet.StringVar(&payload.Action, "action", "", "action (default: action of exchange.pmode)")
	flagSet.StringVar(&payload.From.ID, "from", "", "sending party id")
	flagSet.StringVar(&payload.From.Type, "from-type", partyTypeUnregistered, "sending party id type")
	flagSet.StringVar(&payload.To.ID, "to", "", "receiving party id")
	flagSet.StringVar(&payload.To.Type, "to-type", partyTypeUnregistered, "receiving party id type")
	flagSet.StringVar(&payload.ConversationID, "conversation", "", "conversation id")
	flagSet.StringVar(&payload.RefToMessageID, "ref", "", "id of the message this one answers")
	flagSet.StringVar(&payload.MPC, "mpc", "", "message partition channel")
	flagSet.BoolVar(&payload.Compress, "compress", false, "gzip compress attachments")
	bodyPath := flagSet.String("body", "", "XML document to place in the SOAP body")
	attach := flagSet.StringArray("attach", nil, "attachment FILE or FILE;CONTENT-TYPE (repeatable)")
	properties := flagSet.StringArray("property", nil, "message property NAME=VALUE (repeatable)")
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

	pm, leg, err := a.importLeg(mep.Pushed)
	if err != nil {
		return err
	}
	if pm != nil {
		if payload.Service == "" {
			payload.Service = pm.Service
		}
		if payload.Action == "" {
			payload.Action = pm.Action
		}
		if payload.AgreementRef == "" && pm.Agreement != nil {
			payload.AgreementRef = pm.Agreement.Name
		}
		if payload.MPC == "" && leg != nil && leg.BusinessInfo != nil {
			payload.MPC = leg.BusinessInfo.MPC
		}
	}
	if payload.Service == "" || payload.Action == "" {
		return fmt.Errorf("%w: --service and --action are required without exchange.pmode", errUsage)
	}

	if *bodyPath != "" {
		payload.Body, err = os.ReadFile(*bodyPath)
		if err != nil {
			return fmt.Errorf("reading body: %w", err)
		}
	}
	for _, arg := range *attach {
		att, err := fileAttachment(arg)
		if err != nil {
			return err
		}
		payload.Attachments = append(payload.Attachments, att)
	}
	for _, p := range *properties {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return fmt.Errorf("%w: property %q is not NAME=VALUE", errUsage, p)
		}
		payload.Properties = append(payload.Properties, message.Property{Name: name, Value: value})
	}

	client, err := a.client()
	if err != nil {
		return err
	}
	sent, err := client.Send(ctx, a.cfg.Exchange.Endpoint, &payload)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "sent %s (HTTP %d, %d attempts)\n",
		sent.Built.MessageID, sent.Response.StatusCode, sent.Response.Attempts)

	if len(bytes.TrimSpace(sent.Response.Body)) == 0 {
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
	return nil
}

// fileAttachment turns FILE or FILE;CONTENT-TYPE into a file backed
// attachment. Without a content type it is guessed from the extension.
func fileAttachment(arg string) (security.Attachment, error) {
	path, contentType, _ := strings.Cut(arg, ";")
	if _, err := os.Stat(path); err != nil {
		return security.Attachment{}, fmt.Errorf("attachment: %w", err)
	}
	if contentType == "" {
		contentType = stdmime.TypeByExtension(filepath.Ext(path))
		if mediaType, _, err := stdmime.ParseMediaType(contentType); err == nil {
			contentType = mediaType
		}
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return security.Attachment{
		ContentID:   message.NewContentID(),
		ContentType: contentType,
		Path:        path,
	}, nil
}
