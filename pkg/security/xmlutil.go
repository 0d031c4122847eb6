// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package security

import (
	"fmt"

	"github.com/beevik/etree"
)

// child returns the first child element named local in namespace ns. An
// empty ns matches any namespace.
func child(parent *etree.Element, ns, local string) *etree.Element {
	if parent == nil {
		return nil
	}
	for _, c := range parent.ChildElements() {
		if c.Tag == local && (ns == "" || c.NamespaceURI() == ns) {
			return c
		}
	}
	return nil
}

func children(parent *etree.Element, ns, local string) []*etree.Element {
	var out []*etree.Element
	if parent == nil {
		return out
	}
	for _, c := range parent.ChildElements() {
		if c.Tag == local && (ns == "" || c.NamespaceURI() == ns) {
			out = append(out, c)
		}
	}
	return out
}

// findByID searches the tree under root for an element carrying an Id
// attribute (any prefix) equal to id.
func findByID(root *etree.Element, id string) *etree.Element {
	if root == nil || id == "" {
		return nil
	}
	for _, a := range root.Attr {
		if a.Key == "Id" && a.Value == id {
			return root
		}
	}
	for _, c := range root.ChildElements() {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

// duplicateID returns an Id attribute value carried by more than one
// element under root
func duplicateID(root *etree.Element) (string, bool) {
	seen := make(map[string]struct{})
	var walk func(*etree.Element) (string, bool)
	walk = func(e *etree.Element) (string, bool) {
		for _, a := range e.Attr {
			if a.Key != "Id" {
				continue
			}
			if _, ok := seen[a.Value]; ok {
				return a.Value, true
			}
			seen[a.Value] = struct{}{}
		}
		for _, c := range e.ChildElements() {
			if id, ok := walk(c); ok {
				return id, true
			}
		}
		return "", false
	}
	if root == nil {
		return "", false
	}
	return walk(root)
}

// soapParts returns the Header and Body of a SOAP envelope, creating the
// Header when missing.
func soapParts(doc *etree.Document) (header, body *etree.Element, err error) {
	root := doc.Root()
	if root == nil || root.Tag != "Envelope" {
		return nil, nil, fmt.Errorf("document is not a SOAP envelope")
	}
	soapNS := root.NamespaceURI()
	body = child(root, soapNS, "Body")
	if body == nil {
		return nil, nil, fmt.Errorf("SOAP envelope has no Body")
	}
	header = child(root, soapNS, "Header")
	if header == nil {
		header = etree.NewElement(qualify(root.Space, "Header"))
		root.InsertChildAt(body.Index(), header)
	}
	return header, body, nil
}

// findSecurity returns the wsse:Security header block, or nil
func findSecurity(doc *etree.Document) *etree.Element {
	root := doc.Root()
	if root == nil {
		return nil
	}
	return child(child(root, root.NamespaceURI(), "Header"), NSSecurityExt, "Security")
}

// ensureSecurity returns the wsse:Security header block, adding it with
// mustUnderstand set when missing.
func ensureSecurity(doc *etree.Document) (*etree.Element, error) {
	header, _, err := soapParts(doc)
	if err != nil {
		return nil, err
	}
	if sec := child(header, NSSecurityExt, "Security"); sec != nil {
		return sec, nil
	}

	root := doc.Root()
	sec := header.CreateElement("wsse:Security")
	sec.CreateAttr("xmlns:wsse", NSSecurityExt)
	sec.CreateAttr("xmlns:wsu", NSSecurityUtil)
	mustUnderstand := "true"
	if root.NamespaceURI() == NSSOAP11 {
		mustUnderstand = "1"
	}
	sec.CreateAttr(qualify(root.Space, "mustUnderstand"), mustUnderstand)
	return sec, nil
}

// declareNamespaces copies the declarations of the prefixes used by elem
// and its attributes from its ancestors onto elem itself, so that the
// element canonicalizes the same way in and out of its document.
func declareNamespaces(elem *etree.Element) {
	prefixes := []string{elem.Space}
	for _, a := range elem.Attr {
		if a.Space != "" && a.Space != "xmlns" && a.Space != "xml" {
			prefixes = append(prefixes, a.Space)
		}
	}
	for _, prefix := range prefixes {
		if prefix == "" || elem.SelectAttr("xmlns:"+prefix) != nil {
			continue
		}
		for p := elem.Parent(); p != nil; p = p.Parent() {
			if decl := p.SelectAttr("xmlns:" + prefix); decl != nil {
				elem.CreateAttr("xmlns:"+prefix, decl.Value)
				break
			}
		}
	}
}

// ensureWSUId returns the wsu:Id of elem, adding one when missing
func ensureWSUId(elem *etree.Element, prefix string) string {
	if elem.SelectAttr("xmlns:wsu") == nil {
		elem.CreateAttr("xmlns:wsu", NSSecurityUtil)
	}
	for _, a := range elem.Attr {
		if a.Key == "Id" && (a.Space == "wsu" || a.NamespaceURI() == NSSecurityUtil) {
			return a.Value
		}
	}
	id := prefix + generateID()
	elem.CreateAttr("wsu:Id", id)
	return id
}

// attrOf returns the value of attribute key of elem, or "" when elem is nil
func attrOf(elem *etree.Element, key string) string {
	if elem == nil {
		return ""
	}
	return elem.SelectAttrValue(key, "")
}

func qualify(prefix, local string) string {
	if prefix == "" {
		return local
	}
	return prefix + ":" + local
}
