// Copyright 2020 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package xmppstream

import "strings"

// QName is a namespace-resolved name. Space holds the namespace URI, not the prefix.
type QName struct {
	Space string
	Local string
}

// String formats the name in Clark notation, {space}local.
func (n QName) String() string {
	if n.Space == "" {
		return n.Local
	}
	return "{" + n.Space + "}" + n.Local
}

// Attr is a resolved attribute. Namespace declarations are not reported as attributes.
type Attr struct {
	Name  QName
	Value string
}

// Node is a child of an Element: either *Element or TextNode.
type Node interface {
	node()
}

// TextNode is character data inside an element, entities decoded.
type TextNode string

func (TextNode) node() {}

// Element is a node of a stanza tree. Stanza trees are built from Go strings and never alias
// Arena memory, so they may be kept indefinitely.
type Element struct {
	Name     QName
	Attr     []Attr
	Children []Node
}

func (*Element) node() {}

// Lookup returns the value of the attribute {space}local.
func (e *Element) Lookup(space, local string) (string, bool) {
	for _, a := range e.Attr {
		if a.Name.Local == local && a.Name.Space == space {
			return a.Value, true
		}
	}
	return "", false
}

// AttrValue returns the value of an unqualified attribute such as id, to, from or type.
func (e *Element) AttrValue(local string) (string, bool) {
	return e.Lookup("", local)
}

// Lang returns the xml:lang attribute, or "".
func (e *Element) Lang() string {
	v, _ := e.Lookup(NSXML, "lang")
	return v
}

// Text returns the concatenation of the element's direct text children.
func (e *Element) Text() string {
	var sb strings.Builder
	for _, c := range e.Children {
		if t, ok := c.(TextNode); ok {
			sb.WriteString(string(t))
		}
	}
	return sb.String()
}

// Elements returns the element children, skipping text.
func (e *Element) Elements() []*Element {
	var els []*Element
	for _, c := range e.Children {
		if el, ok := c.(*Element); ok {
			els = append(els, el)
		}
	}
	return els
}

// Child returns the first child element named {space}local, or nil.
func (e *Element) Child(space, local string) *Element {
	for _, c := range e.Children {
		if el, ok := c.(*Element); ok && el.Name.Local == local && el.Name.Space == space {
			return el
		}
	}
	return nil
}

// appendText adds text, merging with a preceding text child. Runs can be split by comments.
func (e *Element) appendText(s string) {
	if n := len(e.Children); n > 0 {
		if prev, ok := e.Children[n-1].(TextNode); ok {
			e.Children[n-1] = prev + TextNode(s)
			return
		}
	}
	e.Children = append(e.Children, TextNode(s))
}
