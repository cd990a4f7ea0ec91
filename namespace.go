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

import "fmt"

// Namespaces with a fixed meaning.
const (
	NSXML     = "http://www.w3.org/XML/1998/namespace"
	NSXMLNS   = "http://www.w3.org/2000/xmlns/"
	NSStreams = "http://etherx.jabber.org/streams"
	NSClient  = "jabber:client"
	NSServer  = "jabber:server"
)

// NamespaceDecl reports a namespace declaration on an element. An empty Prefix is the default
// namespace.
type NamespaceDecl struct {
	Prefix string
	URI    string
}

type nsScope struct {
	prefixes   map[string]string
	defaultNS  string
	defaultSet bool
}

// nsStack has one scope per open element, root included.
type nsStack struct {
	scopes []nsScope
}

func (s *nsStack) reset() {
	clear(s.scopes)
	s.scopes = s.scopes[:0]
}

func (s *nsStack) pop() {
	if len(s.scopes) == 0 {
		return
	}
	s.scopes[len(s.scopes)-1] = nsScope{}
	s.scopes = s.scopes[:len(s.scopes)-1]
}

// isNamespaceDecl reports whether attr is xmlns or xmlns:prefix.
func isNamespaceDecl(name *Name) bool {
	return (name.space == "" && name.local == "xmlns") || name.space == "xmlns"
}

// push opens the scope for a start tag, validating its namespace declarations. The declarations
// are appended to decls.
func (s *nsStack) push(attrs []RawAttr, decls []NamespaceDecl) ([]NamespaceDecl, error) {
	var scope nsScope
	for _, attr := range attrs {
		if !isNamespaceDecl(attr.Name) {
			continue
		}
		uri := string(attr.Value)
		if attr.Name.space == "" {
			if uri == NSXML || uri == NSXMLNS {
				return decls, fmt.Errorf("%w: %q cannot be the default namespace", InvalidNamespace, uri)
			}
			scope.defaultNS = uri
			scope.defaultSet = true
			decls = append(decls, NamespaceDecl{URI: uri})
			continue
		}

		prefix := attr.Name.local
		switch {
		case prefix == "xmlns":
			return decls, fmt.Errorf("%w: the xmlns prefix cannot be declared", InvalidNamespace)
		case prefix == "xml":
			if uri != NSXML {
				return decls, fmt.Errorf("%w: the xml prefix is bound to %s", InvalidNamespace, NSXML)
			}
			continue
		case uri == "":
			return decls, fmt.Errorf("%w: prefix %q bound to the empty namespace", InvalidNamespace, prefix)
		case uri == NSXML || uri == NSXMLNS:
			return decls, fmt.Errorf("%w: %q cannot be bound to prefix %q", InvalidNamespace, uri, prefix)
		}
		if scope.prefixes == nil {
			scope.prefixes = make(map[string]string, 1)
		}
		scope.prefixes[prefix] = uri
		decls = append(decls, NamespaceDecl{Prefix: prefix, URI: uri})
	}
	s.scopes = append(s.scopes, scope)
	return decls, nil
}

func (s *nsStack) lookup(prefix string) (string, bool) {
	if prefix == "xml" {
		return NSXML, true
	}
	for i := len(s.scopes) - 1; i >= 0; i-- {
		scope := &s.scopes[i]
		if prefix == "" {
			if scope.defaultSet {
				return scope.defaultNS, true
			}
			continue
		}
		if uri, ok := scope.prefixes[prefix]; ok {
			return uri, true
		}
	}
	// no default namespace declared; use empty namespace.
	return "", prefix == ""
}

// element resolves an element name against the innermost scope.
func (s *nsStack) element(name *Name) (QName, error) {
	if name.space == "xmlns" {
		return QName{}, fmt.Errorf("%w: element <%s>", InvalidNamespace, name)
	}
	uri, ok := s.lookup(name.space)
	if !ok {
		return QName{}, fmt.Errorf("%w %q on <%s>", UnboundPrefix, name.space, name)
	}
	return QName{Space: uri, Local: name.local}, nil
}

// attr resolves an attribute name. Unprefixed attributes are in no namespace.
func (s *nsStack) attr(name *Name) (QName, error) {
	if name.space == "" {
		return QName{Local: name.local}, nil
	}
	uri, ok := s.lookup(name.space)
	if !ok {
		return QName{}, fmt.Errorf("%w %q on attribute %s", UnboundPrefix, name.space, name)
	}
	return QName{Space: uri, Local: name.local}, nil
}
