// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package reliability

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotTracked is returned for operations on an unknown message id
var ErrNotTracked = errors.New("message not tracked")

// MessageState represents the state of a message in the reliability layer
type MessageState int

const (
	StateSubmitted MessageState = iota // Message built, no attempt yet
	StateSending                       // An attempt is in flight
	StateDelivered                     // The receiver accepted the message
	StateFailed                        // Final failure, retries exhausted or not allowed
)

func (s MessageState) String() string {
	switch s {
	case StateSubmitted:
		return "submitted"
	case StateSending:
		return "sending"
	case StateDelivered:
		return "delivered"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("MessageState(%d)", int(s))
	}
}

// TrackedMessage is a snapshot of the attempt history of one message id
type TrackedMessage struct {
	MessageID     string
	State         MessageState
	SubmittedAt   time.Time
	LastAttemptAt time.Time
	AttemptCount  int
	MaxRetries    int
	RetryInterval time.Duration
	Errors        []string
}

// Tracker records send attempts per message id. It is safe for concurrent use.
type Tracker struct {
	mu       sync.RWMutex
	messages map[string]*TrackedMessage
	now      func() time.Time
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{
		messages: make(map[string]*TrackedMessage),
		now:      time.Now,
	}
}

// Track starts tracking a message, replacing any earlier entry for the id
func (t *Tracker) Track(messageID string, maxRetries int, retryInterval time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.messages[messageID] = &TrackedMessage{
		MessageID:     messageID,
		State:         StateSubmitted,
		SubmittedAt:   t.now(),
		MaxRetries:    maxRetries,
		RetryInterval: retryInterval,
	}
}

// MarkSending records the start of an attempt
func (t *Tracker) MarkSending(messageID string) error {
	return t.update(messageID, func(msg *TrackedMessage) {
		msg.State = StateSending
		msg.LastAttemptAt = t.now()
		msg.AttemptCount++
	})
}

// RecordError records a failed attempt. The message becomes failed once no
// retries are left.
func (t *Tracker) RecordError(messageID string, err error) error {
	return t.update(messageID, func(msg *TrackedMessage) {
		msg.Errors = append(msg.Errors, err.Error())
		if msg.AttemptCount > msg.MaxRetries {
			msg.State = StateFailed
		} else {
			msg.State = StateSubmitted
		}
	})
}

// MarkDelivered records a successful attempt
func (t *Tracker) MarkDelivered(messageID string) error {
	return t.update(messageID, func(msg *TrackedMessage) {
		msg.State = StateDelivered
	})
}

// MarkFailed records a final failure regardless of remaining retries
func (t *Tracker) MarkFailed(messageID string, err error) error {
	return t.update(messageID, func(msg *TrackedMessage) {
		if err != nil {
			msg.Errors = append(msg.Errors, err.Error())
		}
		msg.State = StateFailed
	})
}

// GetMessage returns a copy of the tracked entry
func (t *Tracker) GetMessage(messageID string) (TrackedMessage, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	msg, exists := t.messages[messageID]
	if !exists {
		return TrackedMessage{}, false
	}
	snapshot := *msg
	snapshot.Errors = append([]string(nil), msg.Errors...)
	return snapshot, true
}

// RemoveMessage removes a message from tracking
func (t *Tracker) RemoveMessage(messageID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.messages, messageID)
}

// Prune removes finished entries submitted before cutoff and returns how
// many were removed.
func (t *Tracker) Prune(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, msg := range t.messages {
		finished := msg.State == StateDelivered || msg.State == StateFailed
		if finished && msg.SubmittedAt.Before(cutoff) {
			delete(t.messages, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked messages
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

func (t *Tracker) update(messageID string, fn func(*TrackedMessage)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg, exists := t.messages[messageID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotTracked, messageID)
	}
	fn(msg)
	return nil
}
