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
	"unicode/utf8"
)

type tokState uint8

const (
	stateText tokState = iota
	stateMarkup
	stateTagName
	stateTagSpace
	stateAttrName
	stateAttrEq
	stateAttrQuote
	stateAttrValue
	stateAfterAttrValue
	stateSelfClose
	stateCloseName
	stateCloseSpace
	stateEntity
	stateBang
	stateCommentOpen
	stateComment
	stateCDataOpen
	stateCData
	stateDeclTarget
	stateDecl
	stateError
)

const cdataOpen = "[CDATA["

// Initial scratch sizes. Most names and values in XMPP traffic fit the smallest class.
const (
	nameHint  = 32
	valueHint = 32
	textHint  = 64
)

// tokenizer turns pushed bytes into Tokens. It holds no reference to the input: everything it
// needs to resume after a chunk boundary, including a partial UTF-8 sequence, lives in the
// struct or in rooted Arena scratch.
type tokenizer struct {
	arena *Arena
	state tokState
	err   error

	offset int64
	line   int
	col    int
	prevCR bool

	// Bytes of a multi-byte UTF-8 sequence split across chunks.
	utf  [utf8.UTFMax]byte
	nutf int

	// markAt is the offset of the '<' that opened the current markup.
	markAt int64

	// Scratch buffers for the token being lexed. They are rooted until the token is emitted.
	held []*Scratch
	name *Scratch
	text *Scratch

	entityReturn tokState
	ent          [maxEntityLen]byte
	nent         int

	quote rune
	// run counts consecutive '-' in a comment, ']' in CDATA, or '?' in the XML declaration.
	run int
	// match is the progress through "[CDATA[".
	match int
	// brackets counts consecutive literal ']' in text.
	brackets int

	attrs *attrBuffer
	attr  *RawAttr

	// The following are object buffers to save on allocations by reusing the same instance every
	// time a token is emitted.
	startTagBuf StartTag
	closeTagBuf CloseTag
	charDataBuf CharData
}

func newTokenizer(arena *Arena) *tokenizer {
	var attrBuf attrBuffer
	attrBuf.growBy(8)
	return &tokenizer{
		arena: arena,
		line:  1,
		attrs: &attrBuf,
	}
}

// reset returns the tokenizer to its initial state, keeping its buffers.
func (t *tokenizer) reset() {
	t.unhold()
	*t = tokenizer{
		arena: t.arena,
		line:  1,
		held:  t.held,
		attrs: t.attrs,
	}
	t.attrs.reset()
}

// dropSpace discards a pending text run made of whitespace only, so the scratch holding it can
// be released. It reports whether the tokenizer is now between tokens.
func (t *tokenizer) dropSpace() bool {
	if t.nutf > 0 || t.state != stateText {
		return false
	}
	if t.text != nil {
		if !isSpaceBytes(t.text.Bytes()) {
			return false
		}
		t.unhold()
	}
	return true
}

// feed lexes p and calls fn for every complete token, in document order.
//
// It returns the number of bytes consumed. It stops early when fn returns an error, returning
// that error unchanged, or when the input is malformed, returning a *ParseError. After a lexical
// error every later call fails with the same error.
func (t *tokenizer) feed(p []byte, fn func(Token) error) (int, error) {
	if t.state == stateError {
		return 0, t.err
	}
	for i, b := range p {
		t.offset++
		var r rune
		if t.nutf == 0 && b < utf8.RuneSelf {
			r = rune(b)
		} else {
			if b < utf8.RuneSelf {
				return i + 1, t.fail(InvalidUTF8)
			}
			t.utf[t.nutf] = b
			t.nutf++
			if !utf8.FullRune(t.utf[:t.nutf]) {
				continue
			}
			var size int
			r, size = utf8.DecodeRune(t.utf[:t.nutf])
			if r == utf8.RuneError && size <= 1 || size != t.nutf {
				t.nutf = 0
				return i + 1, t.fail(InvalidUTF8)
			}
			t.nutf = 0
		}

		crlf := r == '\n' && t.prevCR
		t.prevCR = r == '\r'
		t.next(r, crlf)
		if crlf {
			continue
		}
		if r == '\r' {
			r = '\n'
		}
		if !isXMLChar(r) {
			return i + 1, t.fail(fmt.Errorf("%w %U", InvalidChar, r))
		}
		if err := t.step(r, fn); err != nil {
			return i + 1, err
		}
	}
	return len(p), nil
}

// next updates row/col positions for better error messaging.
func (t *tokenizer) next(r rune, crlf bool) {
	switch {
	case crlf:
	case r == '\n' || r == '\r':
		t.col = 0
		t.line++
	default:
		t.col++
	}
}

// fail moves the tokenizer to its terminal error state.
func (t *tokenizer) fail(cause error) error {
	t.unhold()
	t.state = stateError
	t.err = &ParseError{
		Kind:   Malformed,
		Offset: t.offset,
		Line:   t.line,
		Col:    t.col,
		Err:    cause,
	}
	return t.err
}

// unexpectedChar is a utility function to attach the rune to the UnexpectedChar error.
func unexpectedChar(r rune) error {
	return fmt.Errorf("%w %q", UnexpectedChar, r)
}

func (t *tokenizer) alloc(hint int) *Scratch {
	s := t.arena.AllocScratch(hint)
	s.Root()
	t.held = append(t.held, s)
	return s
}

// unhold unroots every scratch of the current token, so the next release can reclaim them.
func (t *tokenizer) unhold() {
	for i, s := range t.held {
		s.Unroot()
		t.held[i] = nil
	}
	t.held = t.held[:0]
	t.name = nil
	t.text = nil
	t.attr = nil
}

func (t *tokenizer) emit(fn func(Token) error, tok Token) error {
	err := fn(tok)
	t.unhold()
	return err
}

func (t *tokenizer) textBuf() *Scratch {
	if t.text == nil {
		t.text = t.alloc(textHint)
	}
	return t.text
}

func (t *tokenizer) resetName() {
	if t.name == nil {
		t.name = t.alloc(nameHint)
	}
	t.name.Reset()
}

func (t *tokenizer) startName(r rune) {
	t.resetName()
	t.name.AppendRune(r)
}

func (t *tokenizer) internName() (*Name, error) {
	name, err := t.arena.intern(t.name.Bytes())
	if err != nil {
		return nil, t.fail(err)
	}
	return name, nil
}

// flushText emits the pending text run, if any. Text is only ever flushed when markup begins,
// so chunk boundaries never split a CharData token.
func (t *tokenizer) flushText(fn func(Token) error) error {
	if t.text == nil || t.text.Len() == 0 {
		return nil
	}
	t.charDataBuf.Data = t.text.Bytes()
	return t.emit(fn, &t.charDataBuf)
}

func (t *tokenizer) enterEntity() {
	t.entityReturn = t.state
	t.state = stateEntity
	t.nent = 0
}

func (t *tokenizer) step(r rune, fn func(Token) error) error {
	switch t.state {
	case stateText:
		switch r {
		case '<':
			t.markAt = t.offset - 1
			t.state = stateMarkup
		case '&':
			t.textBuf()
			t.enterEntity()
		case '>':
			if t.brackets >= 2 {
				return t.fail(fmt.Errorf("%w: ]]> outside CDATA", Forbidden))
			}
			t.textBuf().AppendRune(r)
		default:
			t.textBuf().AppendRune(r)
		}
		if r == ']' {
			t.brackets++
		} else {
			t.brackets = 0
		}
		return nil

	case stateMarkup:
		// StartTag
		// CloseTag
		// Comment
		// CDATA
		// XML declaration
		switch {
		case r == '/':
			if err := t.flushText(fn); err != nil {
				return err
			}
			t.resetName()
			t.state = stateCloseName
		case r == '!':
			t.state = stateBang
		case r == '?':
			// Only a declaration at the very beginning of the stream is tolerated.
			if t.markAt != 0 {
				return t.fail(fmt.Errorf("%w: processing instruction", Forbidden))
			}
			t.resetName()
			t.state = stateDeclTarget
		case isNameStartChar(r):
			if err := t.flushText(fn); err != nil {
				return err
			}
			t.attrs.reset()
			t.startName(r)
			t.state = stateTagName
		default:
			return t.fail(unexpectedChar(r))
		}
		return nil

	case stateTagName:
		switch {
		case isNameChar(r):
			t.name.AppendRune(r)
			return nil
		case isSpace(r), r == '>', r == '/':
			name, err := t.internName()
			if err != nil {
				return err
			}
			t.startTagBuf.Name = name
		default:
			return t.fail(fmt.Errorf("%w reading identifier", unexpectedChar(r)))
		}
		return t.tagSpace(r, fn)

	case stateTagSpace, stateAfterAttrValue:
		if t.state == stateAfterAttrValue && !isSpace(r) && r != '>' && r != '/' {
			return t.fail(fmt.Errorf("%w after attribute value on tag <%s>", unexpectedChar(r), t.startTagBuf.Name))
		}
		return t.tagSpace(r, fn)

	case stateAttrName:
		switch {
		case isNameChar(r):
			t.name.AppendRune(r)
			return nil
		case isSpace(r), r == '=':
			name, err := t.internName()
			if err != nil {
				return err
			}
			t.attr = t.attrs.add(name)
			t.state = stateAttrEq
			if r == '=' {
				t.state = stateAttrQuote
			}
			return nil
		}
		return t.fail(fmt.Errorf("%w for attribute on tag <%s>", unexpectedChar(r), t.startTagBuf.Name))

	case stateAttrEq:
		switch {
		case isSpace(r):
		case r == '=':
			t.state = stateAttrQuote
		default:
			return t.fail(fmt.Errorf("%w for attribute %s on tag <%s>", unexpectedChar(r), t.attr.Name, t.startTagBuf.Name))
		}
		return nil

	case stateAttrQuote:
		switch {
		case isSpace(r):
		case r == '"' || r == '\'':
			t.quote = r
			t.text = t.alloc(valueHint)
			t.state = stateAttrValue
		default:
			return t.fail(fmt.Errorf("%w, expected value for attribute %s on tag <%s>", unexpectedChar(r), t.attr.Name, t.startTagBuf.Name))
		}
		return nil

	case stateAttrValue:
		switch {
		case r == t.quote:
			t.attr.Value = t.text.Bytes()
			t.text = nil
			t.state = stateAfterAttrValue
		case r == '<':
			return t.fail(fmt.Errorf("%w reading attribute %s value on tag <%s>", unexpectedChar(r), t.attr.Name, t.startTagBuf.Name))
		case r == '&':
			t.enterEntity()
		case isSpace(r):
			t.text.AppendByte(' ')
		default:
			t.text.AppendRune(r)
		}
		return nil

	case stateSelfClose:
		if r != '>' {
			return t.fail(fmt.Errorf("%w, expected '>' for self-close tag", unexpectedChar(r)))
		}
		return t.emitStartTag(fn, true)

	case stateCloseName:
		switch {
		case t.name.Len() == 0:
			if !isNameStartChar(r) {
				return t.fail(fmt.Errorf("%w, expected closing tag", unexpectedChar(r)))
			}
			t.startName(r)
			return nil
		case isNameChar(r):
			t.name.AppendRune(r)
			return nil
		case isSpace(r), r == '>':
			name, err := t.internName()
			if err != nil {
				return err
			}
			t.closeTagBuf.Name = name
			t.state = stateCloseSpace
			return t.closeSpace(r, fn)
		}
		return t.fail(fmt.Errorf("%w, expected closing tag", unexpectedChar(r)))

	case stateCloseSpace:
		return t.closeSpace(r, fn)

	case stateEntity:
		switch {
		case r == ';':
			if err := appendEntity(t.text, t.ent[:t.nent]); err != nil {
				return t.fail(err)
			}
			t.state = t.entityReturn
		case t.nent == len(t.ent), r >= utf8.RuneSelf,
			!isASCIILetter(r) && !(r >= '0' && r <= '9') && r != '#':
			return t.fail(fmt.Errorf("%w &%s", InvalidEntity, t.ent[:t.nent]))
		default:
			t.ent[t.nent] = byte(r)
			t.nent++
		}
		return nil

	case stateBang:
		switch r {
		case '-':
			if err := t.flushText(fn); err != nil {
				return err
			}
			t.state = stateCommentOpen
		case '[':
			t.match = 1
			t.state = stateCDataOpen
		default:
			// <!DOCTYPE, <!ENTITY, <!ELEMENT, ...
			return t.fail(fmt.Errorf("%w: markup declaration", Forbidden))
		}
		return nil

	case stateCommentOpen:
		if r != '-' {
			return t.fail(fmt.Errorf("%w, expected '<!--'", unexpectedChar(r)))
		}
		t.run = 0
		t.state = stateComment
		return nil

	case stateComment:
		if t.run == 2 {
			if r != '>' {
				return t.fail(fmt.Errorf("%w, '--' must be followed by '>'", InvalidComment))
			}
			t.state = stateText
			return nil
		}
		if r == '-' {
			t.run++
		} else {
			t.run = 0
		}
		return nil

	case stateCDataOpen:
		if r != rune(cdataOpen[t.match]) {
			return t.fail(fmt.Errorf("%w: markup declaration", Forbidden))
		}
		t.match++
		if t.match == len(cdataOpen) {
			t.textBuf()
			t.run = 0
			t.state = stateCData
		}
		return nil

	case stateCData:
		if r == '>' && t.run >= 2 {
			t.text.Truncate(t.text.Len() - 2)
			t.state = stateText
			return nil
		}
		if r == ']' {
			t.run++
		} else {
			t.run = 0
		}
		t.text.AppendRune(r)
		return nil

	case stateDeclTarget:
		switch {
		case isNameChar(r):
			t.name.AppendRune(r)
		case isSpace(r) && string(t.name.Bytes()) == "xml":
			t.run = 0
			t.state = stateDecl
		default:
			return t.fail(fmt.Errorf("%w: processing instruction", Forbidden))
		}
		return nil

	case stateDecl:
		if r == '>' && t.run == 1 {
			t.unhold()
			t.state = stateText
			return nil
		}
		t.run = 0
		if r == '?' {
			t.run = 1
		}
		return nil
	}
	return t.err
}

// tagSpace handles the position between attributes inside a start tag.
func (t *tokenizer) tagSpace(r rune, fn func(Token) error) error {
	switch {
	case isSpace(r):
		t.state = stateTagSpace
	case r == '>':
		return t.emitStartTag(fn, false)
	case r == '/':
		t.state = stateSelfClose
	case t.state == stateTagSpace && isNameStartChar(r):
		t.startName(r)
		t.state = stateAttrName
	default:
		return t.fail(fmt.Errorf("%w on tag <%s>", unexpectedChar(r), t.startTagBuf.Name))
	}
	return nil
}

func (t *tokenizer) closeSpace(r rune, fn func(Token) error) error {
	switch {
	case isSpace(r):
		return nil
	case r == '>':
		t.state = stateText
		return t.emit(fn, &t.closeTagBuf)
	}
	return t.fail(fmt.Errorf("%w, expected '>' for closing tag </%s>", unexpectedChar(r), t.closeTagBuf.Name))
}

// emitStartTag emits the StartTag and, for <foo/>, the implied CloseTag.
func (t *tokenizer) emitStartTag(fn func(Token) error, selfClosing bool) error {
	t.state = stateText
	t.startTagBuf.Attr = t.attrs.get()
	t.startTagBuf.SelfClosing = selfClosing
	if err := t.emit(fn, &t.startTagBuf); err != nil {
		return err
	}
	if !selfClosing {
		return nil
	}
	t.closeTagBuf.Name = t.startTagBuf.Name
	return fn(&t.closeTagBuf)
}
