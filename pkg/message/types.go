// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package message

import (
	"encoding/xml"
	"time"
)

// Namespace constants for AS4/ebMS3
const (
	NsSOAP12Env = "http://www.w3.org/2003/05/soap-envelope"
	NsSOAP11Env = "http://schemas.xmlsoap.org/soap/envelope/"
	NsEbMS      = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/"
	NsWSSE      = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	NsWSU       = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"
	NsDS        = "http://www.w3.org/2000/09/xmldsig#"
	NsXENC      = "http://www.w3.org/2001/04/xmlenc#"
	NsXENC11    = "http://www.w3.org/2009/xmlenc11#"
)

// MEP constants for Message Exchange Patterns
const (
	MEPOneWay      = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/oneWay"
	MEPTwoWay      = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/twoWay"
	MEPBindingPush = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/push"
	MEPBindingPull = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/pull"
)

// Test Service constants
const (
	TestService = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/service"
	TestAction  = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/test"
	DefaultRole = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/defaultRole"
)

// Envelope represents a SOAP 1.1 or 1.2 envelope. XMLName.Space selects the
// SOAP namespace; an empty space means SOAP 1.2.
type Envelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Header  *Header  `xml:"Header"`
	Body    *Body    `xml:"Body"`
}

// Header represents the SOAP header containing the ebMS3 Messaging header
type Header struct {
	Messaging *Messaging `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ Messaging"`
	Security  *Security  `xml:"http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd Security,omitempty"`
}

// Body represents the SOAP body. Content holds the raw inner XML, which is
// empty when every payload travels as a MIME attachment.
type Body struct {
	XMLName xml.Name `xml:"Body"`
	Content string   `xml:",innerxml"`
}

// Messaging represents the ebMS3 Messaging header
type Messaging struct {
	XMLName        xml.Name         `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ Messaging"`
	UserMessages   []*UserMessage   `xml:"UserMessage,omitempty"`
	SignalMessages []*SignalMessage `xml:"SignalMessage,omitempty"`
}

// FirstUserMessage returns the first user message, or nil if there is none
func (m *Messaging) FirstUserMessage() *UserMessage {
	if m == nil || len(m.UserMessages) == 0 {
		return nil
	}
	return m.UserMessages[0]
}

// FirstSignalMessage returns the first signal message, or nil if there is none
func (m *Messaging) FirstSignalMessage() *SignalMessage {
	if m == nil || len(m.SignalMessages) == 0 {
		return nil
	}
	return m.SignalMessages[0]
}

// UserMessage represents an ebMS3 UserMessage
type UserMessage struct {
	MPC               string             `xml:"mpc,attr,omitempty"`
	MessageInfo       *MessageInfo       `xml:"MessageInfo"`
	PartyInfo         *PartyInfo         `xml:"PartyInfo"`
	CollaborationInfo *CollaborationInfo `xml:"CollaborationInfo"`
	MessageProperties *MessageProperties `xml:"MessageProperties,omitempty"`
	PayloadInfo       *PayloadInfo       `xml:"PayloadInfo,omitempty"`
}

// RefToMessageID returns the RefToMessageId of the user message, or ""
func (u *UserMessage) RefToMessageID() string {
	if u == nil || u.MessageInfo == nil {
		return ""
	}
	return u.MessageInfo.RefToMessageId
}

// MessageInfo contains message identification and timestamps
type MessageInfo struct {
	Timestamp      time.Time `xml:"Timestamp"`
	MessageId      string    `xml:"MessageId"`
	RefToMessageId string    `xml:"RefToMessageId,omitempty"`
}

// PartyInfo contains sender and receiver party information
type PartyInfo struct {
	From *Party `xml:"From"`
	To   *Party `xml:"To"`
}

// Party represents a messaging party
type Party struct {
	PartyId []PartyId `xml:"PartyId"`
	Role    string    `xml:"Role"`
}

// PartyId represents a party identifier with type
type PartyId struct {
	Type  string `xml:"type,attr,omitempty"`
	Value string `xml:",chardata"`
}

// CollaborationInfo contains service and action information
type CollaborationInfo struct {
	AgreementRef   *AgreementRef `xml:"AgreementRef,omitempty"`
	Service        Service       `xml:"Service"`
	Action         string        `xml:"Action"`
	ConversationId string        `xml:"ConversationId"`
}

// AgreementRef references a business agreement
type AgreementRef struct {
	Type  string `xml:"type,attr,omitempty"`
	Pmode string `xml:"pmode,attr,omitempty"`
	Value string `xml:",chardata"`
}

// Service identifies the service
type Service struct {
	Type  string `xml:"type,attr,omitempty"`
	Value string `xml:",chardata"`
}

// MessageProperties contains custom message properties
type MessageProperties struct {
	Property []Property `xml:"Property"`
}

// Property represents a message property
type Property struct {
	Name  string `xml:"name,attr"`
	Type  string `xml:"type,attr,omitempty"`
	Value string `xml:",chardata"`
}

// PayloadInfo contains references to payload parts
type PayloadInfo struct {
	PartInfo []PartInfo `xml:"PartInfo"`
}

// PartInfo describes a payload part. An empty Href refers to the SOAP body.
type PartInfo struct {
	Href           string          `xml:"href,attr,omitempty"`
	PartProperties *PartProperties `xml:"PartProperties,omitempty"`
}

// PartProperties contains properties for a payload part
type PartProperties struct {
	Property []Property `xml:"Property"`
}

// SignalMessage represents an ebMS3 SignalMessage
type SignalMessage struct {
	MessageInfo *MessageInfo `xml:"MessageInfo"`
	PullRequest *PullRequest `xml:"PullRequest,omitempty"`
	Receipt     *Receipt     `xml:"Receipt,omitempty"`
	Errors      []*Error     `xml:"Error,omitempty"`
}

// PullRequest asks the receiving MSH for the next message of a partition channel
type PullRequest struct {
	MPC        string      `xml:"mpc,attr,omitempty"`
	Extensions []Extension `xml:",any"`
}

// Extension is a foreign element carried inside an ebMS element
type Extension struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Inner   string     `xml:",innerxml"`
}

// Receipt represents a receipt acknowledgment
type Receipt struct {
	// NonRepudiationInformation or the received UserMessage, as raw XML
	Any []byte `xml:",innerxml"`
}

// Error represents an ebMS3 error
type Error struct {
	ErrorCode           string `xml:"errorCode,attr"`
	Severity            string `xml:"severity,attr"`
	Category            string `xml:"category,attr,omitempty"`
	Origin              string `xml:"origin,attr,omitempty"`
	ShortDescription    string `xml:"shortDescription,attr,omitempty"`
	RefToMessageInError string `xml:"refToMessageInError,attr,omitempty"`
	Description         string `xml:"Description,omitempty"`
	ErrorDetail         string `xml:"ErrorDetail,omitempty"`
}

// Security represents the WS-Security header as raw XML. It is built and
// inspected by the security package.
type Security struct {
	MustUnderstand string `xml:"mustUnderstand,attr,omitempty"`
	Inner          string `xml:",innerxml"`
}

// PayloadPart represents a MIME payload part
type PayloadPart struct {
	ContentID   string
	ContentType string
	Data        []byte
	Compressed  bool
}
