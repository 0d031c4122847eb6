// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryJournal is an in-process Journal
type MemoryJournal struct {
	mu      sync.RWMutex
	records map[string]*Exchange
	now     func() time.Time
}

// NewMemoryJournal creates an empty journal
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{
		records: make(map[string]*Exchange),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

var _ Journal = (*MemoryJournal)(nil)

func (j *MemoryJournal) RecordExchange(ctx context.Context, ex *Exchange) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := Prepare(ex, j.now()); err != nil {
		return err
	}
	if existing, ok := j.records[ex.ID]; ok {
		ex.CreatedAt = existing.CreatedAt
	}
	j.records[ex.ID] = clone(ex)
	return nil
}

func (j *MemoryJournal) GetExchange(ctx context.Context, direction Direction, messageID string) (*Exchange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	ex, ok := j.records[RecordID(direction, messageID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s exchange %s", ErrNotFound, direction, messageID)
	}
	return clone(ex), nil
}

func (j *MemoryJournal) ListExchanges(ctx context.Context, filter *ExchangeFilter) ([]*Exchange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if filter == nil {
		filter = &ExchangeFilter{}
	}

	j.mu.RLock()
	var out []*Exchange
	for _, ex := range j.records {
		if filter.Direction != "" && ex.Direction != filter.Direction {
			continue
		}
		if filter.Status != "" && ex.Status != filter.Status {
			continue
		}
		if filter.Since != nil && ex.CreatedAt.Before(*filter.Since) {
			continue
		}
		out = append(out, clone(ex))
	}
	j.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (j *MemoryJournal) Close(context.Context) error {
	return nil
}

func clone(ex *Exchange) *Exchange {
	c := *ex
	c.ErrorCodes = append([]string(nil), ex.ErrorCodes...)
	return &c
}
