// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package storage provides the exchange journal of an access point
//
// The journal keeps one record per message and direction: what was sent
// or received, which P-Mode leg applied, how many attempts a send took and
// how inbound security processing ended. Only metadata is stored. Payloads
// and the temp files created during an exchange are never persisted.
//
// # Implementations
//
// [MemoryJournal] keeps records in process and suits tests and the CLI.
// The mongodb sub-package provides a MongoDB implementation.
//
// # Concurrency
//
// All implementations must be safe for concurrent use from multiple
// goroutines.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidRecord = errors.New("invalid exchange record")
)

// Journal records the exchanges of an access point
type Journal interface {
	// RecordExchange inserts or replaces the record for the message id and
	// direction of ex. CreatedAt of an existing record is kept.
	RecordExchange(ctx context.Context, ex *Exchange) error

	// GetExchange retrieves a record by direction and message id
	GetExchange(ctx context.Context, direction Direction, messageID string) (*Exchange, error)

	// ListExchanges returns records matching filter, newest first
	ListExchanges(ctx context.Context, filter *ExchangeFilter) ([]*Exchange, error)

	// Close releases storage resources
	Close(ctx context.Context) error
}

// Exchange is the journal record of one message
type Exchange struct {
	ID        string    `bson:"_id" json:"id"`
	MessageID string    `bson:"message_id" json:"messageId"`
	Direction Direction `bson:"direction" json:"direction"`
	Kind      string    `bson:"kind" json:"kind"`
	Status    Status    `bson:"status" json:"status"`

	RefToMessageID string `bson:"ref_to_message_id,omitempty" json:"refToMessageId,omitempty"`
	Endpoint       string `bson:"endpoint,omitempty" json:"endpoint,omitempty"`
	PModeID        string `bson:"pmode_id,omitempty" json:"pmodeId,omitempty"`
	LegNumber      int    `bson:"leg_number,omitempty" json:"legNumber,omitempty"`
	Attachments    int    `bson:"attachments" json:"attachments"`

	// Outbound
	Attempts   int  `bson:"attempts,omitempty" json:"attempts,omitempty"`
	Signed     bool `bson:"signed" json:"signed"`
	Encrypted  bool `bson:"encrypted" json:"encrypted"`
	HTTPStatus int  `bson:"http_status,omitempty" json:"httpStatus,omitempty"`

	// Inbound
	Stage              string   `bson:"stage,omitempty" json:"stage,omitempty"`
	SignatureVerified  bool     `bson:"signature_verified" json:"signatureVerified"`
	Decrypted          bool     `bson:"decrypted" json:"decrypted"`
	CertificateSubject string   `bson:"certificate_subject,omitempty" json:"certificateSubject,omitempty"`
	ErrorCodes         []string `bson:"error_codes,omitempty" json:"errorCodes,omitempty"`

	LastError string    `bson:"last_error,omitempty" json:"lastError,omitempty"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
}

// Direction tells sent from received messages
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Status is the final state of an exchange
type Status string

const (
	StatusDelivered Status = "delivered" // Sent and acknowledged at HTTP level
	StatusFailed    Status = "failed"    // Send failed after all retries
	StatusAccepted  Status = "accepted"  // Inbound processing reached done
	StatusRejected  Status = "rejected"  // Inbound processing failed
)

// ExchangeFilter narrows ListExchanges. Zero fields match everything.
type ExchangeFilter struct {
	Direction Direction
	Status    Status
	Since     *time.Time
	Limit     int
}

// RecordID returns the journal key of a message in a direction
func RecordID(direction Direction, messageID string) string {
	return string(direction) + ":" + messageID
}

// Prepare validates ex and fills in its key and timestamps. Backends call
// it before writing.
func Prepare(ex *Exchange, now time.Time) error {
	if ex == nil || ex.MessageID == "" {
		return fmt.Errorf("%w: message id is required", ErrInvalidRecord)
	}
	if ex.Direction != DirectionInbound && ex.Direction != DirectionOutbound {
		return fmt.Errorf("%w: direction must be inbound or outbound", ErrInvalidRecord)
	}
	ex.ID = RecordID(ex.Direction, ex.MessageID)
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = now
	}
	ex.UpdatedAt = now
	return nil
}
