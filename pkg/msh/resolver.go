// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package msh

import (
	"github.com/finvix/dbna-phase4/pkg/message"
	"github.com/finvix/dbna-phase4/pkg/pmode"
)

// PModeSelector picks the processing mode of a received message. A nil
// result means no processing mode applies.
type PModeSelector interface {
	SelectPMode(m *message.Messaging) *pmode.ProcessingMode
}

// SelectorFunc adapts a function to PModeSelector
type SelectorFunc func(m *message.Messaging) *pmode.ProcessingMode

func (f SelectorFunc) SelectPMode(m *message.Messaging) *pmode.ProcessingMode {
	return f(m)
}

// StaticSelector applies one processing mode to every message, as on a
// point-to-point link
type StaticSelector struct {
	PMode *pmode.ProcessingMode
}

func (s StaticSelector) SelectPMode(*message.Messaging) *pmode.ProcessingMode {
	return s.PMode
}

// ManagerSelector looks processing modes up in a PModeManager. A user
// message is matched by the pmode attribute of its AgreementRef, then by
// service and action. Signals, and user messages that match nothing, get
// the processing mode with id Fallback, if any.
type ManagerSelector struct {
	Manager  *pmode.PModeManager
	Fallback string
}

func (s *ManagerSelector) SelectPMode(m *message.Messaging) *pmode.ProcessingMode {
	if s == nil || s.Manager == nil {
		return nil
	}

	if um := m.FirstUserMessage(); um != nil && um.CollaborationInfo != nil {
		ci := um.CollaborationInfo
		if ci.AgreementRef != nil && ci.AgreementRef.Pmode != "" {
			if pm := s.Manager.GetPMode(ci.AgreementRef.Pmode); pm != nil {
				return pm
			}
		}
		from, to := partyIDs(um.PartyInfo)
		if pm := s.Manager.FindPMode(ci.Service.Value, ci.Action, from, to); pm != nil {
			return pm
		}
	}

	if s.Fallback == "" {
		return nil
	}
	return s.Manager.GetPMode(s.Fallback)
}

func partyIDs(info *message.PartyInfo) (from, to string) {
	if info == nil {
		return "", ""
	}
	if info.From != nil && len(info.From.PartyId) > 0 {
		from = info.From.PartyId[0].Value
	}
	if info.To != nil && len(info.To.PartyId) > 0 {
		to = info.To.PartyId[0].Value
	}
	return from, to
}
