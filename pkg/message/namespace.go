// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package message

import (
	"strings"
)

// ebmsElements lists the ebMS element names that receive the eb: prefix
var ebmsElements = []string{
	"Messaging", "UserMessage", "SignalMessage",
	"MessageInfo", "Timestamp", "MessageId", "RefToMessageId",
	"PartyInfo", "From", "To", "PartyId", "Role",
	"CollaborationInfo", "AgreementRef", "Service", "Action", "ConversationId",
	"MessageProperties", "Property",
	"PayloadInfo", "PartInfo", "PartProperties",
	"PullRequest", "Receipt", "Error", "Description", "ErrorDetail",
}

// AddEbMSPrefix transforms a marshalled Messaging fragment to use the 'eb'
// prefix for all ebMS elements instead of a default namespace. WSS4J based
// peers such as Domibus expect prefixed names.
//
// Transforms:
//
//	<Messaging xmlns="http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/">
//	  <UserMessage>
//	    <MessageInfo>...
//
// Into:
//
//	<eb:Messaging xmlns:eb="http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/">
//	  <eb:UserMessage>
//	    <eb:MessageInfo>...
//
// The input must contain ebMS elements only; foreign content with colliding
// local names would be prefixed as well.
func AddEbMSPrefix(xmlData []byte) ([]byte, error) {
	result := string(xmlData)

	for _, elem := range ebmsElements {
		result = strings.ReplaceAll(result, "<"+elem+" ", "<eb:"+elem+" ")
		result = strings.ReplaceAll(result, "<"+elem+">", "<eb:"+elem+">")
		result = strings.ReplaceAll(result, "<"+elem+"/>", "<eb:"+elem+"/>")
		result = strings.ReplaceAll(result, "</"+elem+">", "</eb:"+elem+">")
	}

	// encoding/xml repeats the default namespace on every element that names
	// it; drop them all and declare the prefix once on the outermost element.
	result = strings.ReplaceAll(result, ` xmlns="`+NsEbMS+`"`, "")
	if i := strings.Index(result, "<eb:"); i >= 0 {
		start := i + len("<eb:")
		end := strings.IndexAny(result[start:], " />")
		if end >= 0 {
			at := start + end
			result = result[:at] + ` xmlns:eb="` + NsEbMS + `"` + result[at:]
		}
	}

	return []byte(result), nil
}

// RemoveDefaultNamespace turns a default namespace declaration into a
// prefixed one. Element names are left untouched.
func RemoveDefaultNamespace(xmlData []byte, namespace string, prefix string) ([]byte, error) {
	result := strings.ReplaceAll(string(xmlData),
		` xmlns="`+namespace+`"`,
		` xmlns:`+prefix+`="`+namespace+`"`)
	return []byte(result), nil
}
