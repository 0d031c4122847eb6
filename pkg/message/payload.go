// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package message

import (
	"strings"
)

// Part property names defined by the AS4 profile
const (
	PartPropertyMimeType        = "MimeType"
	PartPropertyCompressionType = "CompressionType"
	PartPropertyCharacterSet    = "CharacterSet"
)

const cidScheme = "cid:"

// NormalizeContentID reduces the cid: URI, the bracketed header form and
// the bare form of a Content-ID to the bare form.
func NormalizeContentID(contentID string) string {
	id := strings.TrimSpace(contentID)
	id = strings.TrimPrefix(id, cidScheme)
	if strings.HasPrefix(id, "<") && strings.HasSuffix(id, ">") {
		id = id[1 : len(id)-1]
	}
	return id
}

// NewPartInfo references the MIME part contentID from the payload info
func NewPartInfo(contentID string) PartInfo {
	return PartInfo{Href: cidScheme + NormalizeContentID(contentID)}
}

// ContentID is the referenced Content-ID in bare form. It is empty for
// the body payload.
func (p *PartInfo) ContentID() string {
	return NormalizeContentID(p.Href)
}

// Property returns the value of the part property name, or "" when unset
func (p *PartInfo) Property(name string) string {
	if p == nil || p.PartProperties == nil {
		return ""
	}
	for _, prop := range p.PartProperties.Property {
		if prop.Name == name {
			return prop.Value
		}
	}
	return ""
}

// SetProperty sets the part property name, replacing a previous value
func (p *PartInfo) SetProperty(name, value string) {
	if p.PartProperties == nil {
		p.PartProperties = &PartProperties{}
	}
	props := p.PartProperties.Property
	for i := range props {
		if props[i].Name == name {
			props[i].Value = value
			return
		}
	}
	p.PartProperties.Property = append(props, Property{Name: name, Value: value})
}

// Part finds the PartInfo referencing contentID in any of its forms
func (u *UserMessage) Part(contentID string) *PartInfo {
	if u == nil || u.PayloadInfo == nil {
		return nil
	}
	id := NormalizeContentID(contentID)
	for i := range u.PayloadInfo.PartInfo {
		part := &u.PayloadInfo.PartInfo[i]
		if part.Href != "" && part.ContentID() == id {
			return part
		}
	}
	return nil
}
