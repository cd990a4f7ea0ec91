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

import (
	"fmt"
	"strings"
)

type decodeError string

// Error implements error interface, returns itself since it's already a string.
func (err decodeError) Error() string {
	return string(err)
}

// Lexical and structural causes. They are wrapped into a ParseError, so match them with
// errors.Is.
const (
	// UnexpectedChar is thrown when an unexpected rune appears where the grammar does not allow
	// it, such as a '<' inside an attribute value.
	UnexpectedChar decodeError = "unexpected char"
	// InvalidChar is a rune outside the XML 1.0 Char production.
	InvalidChar decodeError = "invalid XML character"
	// InvalidUTF8 is a byte sequence that does not decode as UTF-8.
	InvalidUTF8 decodeError = "invalid UTF-8"
	// InvalidName is a tag or attribute name that is not a valid qualified name.
	InvalidName decodeError = "invalid name"
	// InvalidEntity is an entity reference other than the five predefined ones.
	InvalidEntity decodeError = "invalid entity reference"
	// InvalidCharRef is a numeric character reference to a non-XML character.
	InvalidCharRef decodeError = "invalid character reference"
	// InvalidComment is a comment containing "--" or not ending in "-->".
	InvalidComment decodeError = "invalid comment"
	// Forbidden is a construct outside the restricted XML used by XMPP: processing instructions,
	// DOCTYPE and other markup declarations.
	Forbidden decodeError = "forbidden construct"
	// InvalidNamespace is a malformed namespace declaration.
	InvalidNamespace decodeError = "invalid namespace declaration"
	// UnboundPrefix is a prefix with no namespace declaration in scope.
	UnboundPrefix decodeError = "unbound namespace prefix"
	// DuplicateAttr is the same attribute appearing twice on one element.
	DuplicateAttr decodeError = "duplicate attribute"
)

// ErrorKind classifies a ParseError. It implements error so callers can test a returned error
// with errors.Is(err, xmppstream.LimitExceeded).
type ErrorKind int

const (
	// Malformed is a lexical or structural violation: unterminated tag, bad entity, forbidden
	// construct, bad namespace usage.
	Malformed ErrorKind = iota + 1
	// MismatchedTag is a close tag that does not match the innermost open element.
	MismatchedTag
	// DepthOverflow is nesting deeper than Config.MaxDepth.
	DepthOverflow
	// LimitExceeded is an exhausted byte budget, either Config.SizeLimit or Config.StanzaLimit.
	LimitExceeded
	// AlreadyTerminated is a Push on a Closed or Failed stream.
	AlreadyTerminated
	// InvalidStreamHeader is a root element other than the configured stream element, or a
	// stream header carrying unknown attributes.
	InvalidStreamHeader
	// TextAtStreamLevel is non-whitespace text between stanzas.
	TextAtStreamLevel
)

var errorKindNames = map[ErrorKind]string{
	Malformed:           "malformed",
	MismatchedTag:       "mismatched tag",
	DepthOverflow:       "depth overflow",
	LimitExceeded:       "limit exceeded",
	AlreadyTerminated:   "already terminated",
	InvalidStreamHeader: "invalid stream header",
	TextAtStreamLevel:   "text at stream level",
}

func (k ErrorKind) String() string {
	if s, ok := errorKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error implements error interface.
func (k ErrorKind) Error() string {
	return k.String()
}

// ParseError is the single, fatal error a Stream reports. It is delivered once through the
// Handler and returned from the Push call that caused it.
type ParseError struct {
	Kind ErrorKind
	// Offset is the number of bytes consumed when the error was detected, including the
	// offending byte.
	Offset int64
	// Line and Col locate the offending rune, both 1-based.
	Line int
	Col  int
	// Err is the underlying cause, if any.
	Err error
}

func (*ParseError) event() {}

// Error implements error interface.
func (e *ParseError) Error() string {
	var sb strings.Builder
	sb.WriteString("xmppstream: ")
	sb.WriteString(e.Kind.String())
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	if e.Line > 0 {
		fmt.Fprintf(&sb, " at row: %d col: %d", e.Line, e.Col)
	}
	return sb.String()
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *ParseError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
