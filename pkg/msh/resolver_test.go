package msh

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/finvix/dbna-phase4/pkg/message"
	"github.com/finvix/dbna-phase4/pkg/pmode"
)

func userMessaging(service, action, agreementPMode string) *message.Messaging {
	um := &message.UserMessage{
		MessageInfo: &message.MessageInfo{MessageId: "m@test"},
		PartyInfo: &message.PartyInfo{
			From: &message.Party{PartyId: []message.PartyId{{Value: "sender"}}},
			To:   &message.Party{PartyId: []message.PartyId{{Value: "receiver"}}},
		},
		CollaborationInfo: &message.CollaborationInfo{
			Service: message.Service{Value: service},
			Action:  action,
		},
	}
	if agreementPMode != "" {
		um.CollaborationInfo.AgreementRef = &message.AgreementRef{Value: "urn:agreement", Pmode: agreementPMode}
	}
	return &message.Messaging{UserMessages: []*message.UserMessage{um}}
}

func TestManagerSelector(t *testing.T) {
	manager := pmode.NewPModeManager()
	invoice := &pmode.ProcessingMode{ID: "invoice", Service: "urn:dbna:invoice", Action: "Submit"}
	order := &pmode.ProcessingMode{ID: "order", Service: "urn:dbna:order", Action: "Submit"}
	pull := &pmode.ProcessingMode{ID: "pull"}
	manager.AddPMode(invoice)
	manager.AddPMode(order)
	manager.AddPMode(pull)

	selector := &ManagerSelector{Manager: manager, Fallback: "pull"}

	assert.Same(t, invoice, selector.SelectPMode(userMessaging("urn:dbna:invoice", "Submit", "")))
	assert.Same(t, order, selector.SelectPMode(userMessaging("urn:dbna:invoice", "Submit", "order")))
	assert.Same(t, invoice, selector.SelectPMode(userMessaging("urn:dbna:invoice", "Submit", "missing")))
	assert.Same(t, pull, selector.SelectPMode(userMessaging("urn:dbna:unknown", "Submit", "")))

	signal := &message.Messaging{SignalMessages: []*message.SignalMessage{
		message.NewPullRequest(message.NewMessageInfo("p@test", ""), "default"),
	}}
	assert.Same(t, pull, selector.SelectPMode(signal))

	noFallback := &ManagerSelector{Manager: manager}
	assert.Nil(t, noFallback.SelectPMode(signal))

	var unset *ManagerSelector
	assert.Nil(t, unset.SelectPMode(signal))
}

func TestStaticSelectorAndFunc(t *testing.T) {
	pm := &pmode.ProcessingMode{ID: "fixed"}

	assert.Same(t, pm, StaticSelector{PMode: pm}.SelectPMode(nil))

	calls := 0
	f := SelectorFunc(func(*message.Messaging) *pmode.ProcessingMode {
		calls++
		return pm
	})
	assert.Same(t, pm, f.SelectPMode(&message.Messaging{}))
	assert.Equal(t, 1, calls)
}
