// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package mep

import (
	"errors"
	"fmt"

	"github.com/finvix/dbna-phase4/pkg/pmode"
)

// ErrUnsupported is returned for an MEP and binding that do not combine
var ErrUnsupported = errors.New("unsupported message exchange pattern")

// MEPType represents a Message Exchange Pattern type
type MEPType string

const (
	OneWay MEPType = pmode.MEPOneWay
	TwoWay MEPType = pmode.MEPTwoWay
)

// MEPBinding represents a MEP binding
type MEPBinding string

const (
	Push        MEPBinding = pmode.MEPBindingPush
	Pull        MEPBinding = pmode.MEPBindingPull
	Sync        MEPBinding = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/sync"
	PushAndPush MEPBinding = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/pushAndPush"
	PushAndPull MEPBinding = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/pushAndPull"
	PullAndPush MEPBinding = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/pullAndPush"
)

// Transfer says how the user message of one leg reaches its receiver
type Transfer int

const (
	// Pushed user messages are posted by their sender
	Pushed Transfer = iota + 1
	// Pulled user messages are returned in answer to a PullRequest
	Pulled
	// Replied user messages travel on the back channel of leg 1
	Replied
)

func (t Transfer) String() string {
	switch t {
	case Pushed:
		return "push"
	case Pulled:
		return "pull"
	case Replied:
		return "reply"
	}
	return "none"
}

// Pattern is a validated MEP and binding pair
type Pattern struct {
	Type    MEPType
	Binding MEPBinding
}

var transfers = map[Pattern][]Transfer{
	{OneWay, Push}:        {Pushed},
	{OneWay, Pull}:        {Pulled},
	{TwoWay, Sync}:        {Pushed, Replied},
	{TwoWay, PushAndPush}: {Pushed, Pushed},
	{TwoWay, PushAndPull}: {Pushed, Pulled},
	{TwoWay, PullAndPush}: {Pulled, Pushed},
}

// PatternOf returns the pattern of pm. An unset MEP means one-way and an
// unset binding means push.
func PatternOf(pm *pmode.ProcessingMode) (Pattern, error) {
	if pm == nil {
		return Pattern{}, fmt.Errorf("%w: no P-Mode", ErrUnsupported)
	}
	p := Pattern{Type: MEPType(pm.MEP), Binding: MEPBinding(pm.MEPBinding)}
	if p.Type == "" {
		p.Type = OneWay
	}
	if p.Binding == "" {
		p.Binding = Push
	}
	if _, ok := transfers[p]; !ok {
		return Pattern{}, fmt.Errorf("%w: P-Mode %s combines %s with %s", ErrUnsupported, pm.ID, p.Type, p.Binding)
	}
	return p, nil
}

// Legs returns the number of legs of the pattern
func (p Pattern) Legs() int {
	return len(transfers[p])
}

// Transfer returns how the user message of leg n travels, 0 if the
// pattern has no such leg
func (p Pattern) Transfer(n int) Transfer {
	t := transfers[p]
	if n < 1 || n > len(t) {
		return 0
	}
	return t[n-1]
}

// PulledLeg returns the leg whose user message is pulled, 0 if none is
func (p Pattern) PulledLeg() int {
	return p.firstLeg(Pulled)
}

// PushedLeg returns the first leg whose user message is pushed, 0 if none is
func (p Pattern) PushedLeg() int {
	return p.firstLeg(Pushed)
}

func (p Pattern) firstLeg(want Transfer) int {
	for i, t := range transfers[p] {
		if t == want {
			return i + 1
		}
	}
	return 0
}
