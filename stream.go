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
	"errors"
	"fmt"

	"github.com/golang/glog"
)

// State is the position of a Stream in its lifecycle.
type State uint8

const (
	// StateAwaitingOpen is the initial state, before the stream header.
	StateAwaitingOpen State = iota
	// StateOpen is the normal state between stanzas.
	StateOpen
	// StateInStanza is set while a stanza is being read.
	StateInStanza
	// StateClosed is terminal, after the stream footer or Close.
	StateClosed
	// StateFailed is terminal, after a ParseError.
	StateFailed
)

var stateNames = [...]string{
	StateAwaitingOpen: "awaiting open",
	StateOpen:         "open",
	StateInStanza:     "in stanza",
	StateClosed:       "closed",
	StateFailed:       "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminated reports whether the state is Closed or Failed.
func (s State) Terminated() bool {
	return s == StateClosed || s == StateFailed
}

// errHalt stops the tokenizer after the session closed or reset the stream from a handler.
var errHalt = errors.New("halt")

// frame is an open element.
type frame struct {
	raw *Name
	// el is nil for the stream root.
	el *Element
	// foreign is set when this element or an ancestor inside the stanza is outside the
	// stream's default namespace.
	foreign bool
}

// Stream parses one XMPP stream. Bytes go in through Push, events come out through the Handler.
//
// A Stream must not be pushed into from two goroutines at once, and since the Arena it uses is
// shared and unsynchronized, every Stream on the same Arena must be driven from the same
// goroutine.
type Stream struct {
	cfg   Config
	arena *Arena
	h     Handler
	tok   *tokenizer
	state State
	stack []frame
	ns    nsStack

	// consumed counts the bytes accepted by Push, for SizeLimit.
	consumed int64
	// mark is the tokenizer offset where the last complete top-level unit ended, for
	// StanzaLimit.
	mark int64

	events   int
	pushing  bool
	resetReq bool
	err      *ParseError
}

// New creates a Stream delivering events to h. When cfg.Context is nil the Stream is bound to
// the default Arena.
func New(h Handler, cfg Config) (*Stream, error) {
	if h == nil {
		return nil, errors.New("xmppstream: nil handler")
	}
	cfg, err := cfg.resolve()
	if err != nil {
		return nil, fmt.Errorf("xmppstream: %w", err)
	}
	if cfg.Context == nil {
		cfg.Context = DefaultContext()
	}
	s := &Stream{
		cfg:   cfg,
		arena: cfg.Context,
		h:     h,
		tok:   newTokenizer(cfg.Context),
	}
	if sc, ok := h.(SessionConfigurer); ok {
		sc.ConfigureSession(cfg.SessionOptions)
	}
	return s, nil
}

// Config returns the resolved configuration.
func (s *Stream) Config() Config { return s.cfg }

// Context returns the Arena the Stream allocates from.
func (s *Stream) Context() *Arena { return s.arena }

// SessionOptions returns Config.SessionOptions unmodified.
func (s *Stream) SessionOptions() any { return s.cfg.SessionOptions }

// State returns the current state.
func (s *Stream) State() State { return s.state }

// Err returns the error that failed the Stream, or nil.
func (s *Stream) Err() error {
	if s.err == nil {
		return nil
	}
	return s.err
}

// Depth returns the number of open elements, root included.
func (s *Stream) Depth() int { return len(s.stack) }

// Offset returns the number of bytes parsed since the Stream was created or reset.
func (s *Stream) Offset() int64 { return s.tok.offset }

// Pending returns the number of bytes parsed since the last complete top-level unit.
func (s *Stream) Pending() int64 { return s.tok.offset - s.mark }

// Push parses p and delivers the resulting events synchronously. It returns the number of
// events delivered during the call, including a final *ParseError.
//
// The returned error is nil or a *ParseError. On failure the Stream is Failed and the same error
// was delivered to the Handler. On a Closed or Failed Stream, Push delivers nothing and returns a
// ParseError of kind AlreadyTerminated.
//
// Chunk boundaries carry no meaning: any split of the same bytes yields the same events.
func (s *Stream) Push(p []byte) (int, error) {
	if s.state.Terminated() {
		return 0, &ParseError{
			Kind:   AlreadyTerminated,
			Offset: s.tok.offset,
			Err:    fmt.Errorf("stream is %s", s.state),
		}
	}
	s.events = 0
	s.pushing = true
	defer s.endPush()

	if lim := s.cfg.SizeLimit; lim > 0 && s.consumed+int64(len(p)) > lim {
		return s.events, s.fail(s.errorf(LimitExceeded, fmt.Errorf("size limit of %d bytes exceeded", lim)))
	}
	s.consumed += int64(len(p))

	for len(p) > 0 {
		chunk := p
		if lim := s.cfg.StanzaLimit; lim > 0 {
			room := s.mark + lim - s.tok.offset
			if room <= 0 {
				return s.events, s.fail(s.errorf(LimitExceeded, fmt.Errorf("stanza size limit of %d bytes exceeded", lim)))
			}
			if int64(len(chunk)) > room {
				chunk = chunk[:room]
			}
		}

		n, err := s.tok.feed(chunk, s.handleToken)
		p = p[n:]
		if err != nil && err != errHalt {
			var perr *ParseError
			if !errors.As(err, &perr) {
				perr = s.errorf(Malformed, err)
			}
			return s.events, s.fail(perr)
		}
		if s.resetReq {
			s.restart()
			s.consumed = int64(len(p))
			continue
		}
		if s.state.Terminated() {
			return s.events, nil
		}
	}
	return s.events, nil
}

func (s *Stream) endPush() {
	s.pushing = false
	if s.resetReq {
		s.restart()
	}
	// Whitespace pings between stanzas are done with once the push ends.
	if s.state == StateOpen && s.tok.dropSpace() {
		s.mark = s.tok.offset
	}
}

// Close terminates the Stream from the session side. Later pushes fail with AlreadyTerminated.
// Calling Close from a handler stops parsing right after the current event.
func (s *Stream) Close() {
	if s.state.Terminated() {
		return
	}
	s.state = StateClosed
	s.drop()
}

// Reset discards all parse state and starts over awaiting a stream header, with the same
// configuration. XMPP needs this after STARTTLS and SASL. When called from a handler, the rest
// of the chunk being pushed is parsed as the beginning of the new stream.
func (s *Stream) Reset() {
	if s.pushing {
		s.resetReq = true
		return
	}
	s.restart()
}

func (s *Stream) restart() {
	s.drop()
	s.tok.reset()
	s.state = StateAwaitingOpen
	s.consumed = 0
	s.mark = 0
	s.err = nil
	s.resetReq = false
}

// drop lets go of the element stack and the tokenizer's rooted scratch.
func (s *Stream) drop() {
	clear(s.stack)
	s.stack = s.stack[:0]
	s.ns.reset()
	s.tok.unhold()
}

func (s *Stream) errorf(kind ErrorKind, cause error) *ParseError {
	return &ParseError{
		Kind:   kind,
		Offset: s.tok.offset,
		Line:   s.tok.line,
		Col:    s.tok.col,
		Err:    cause,
	}
}

// fail moves the Stream to Failed and delivers err. Nothing is delivered after it.
func (s *Stream) fail(err *ParseError) *ParseError {
	s.state = StateFailed
	s.err = err
	s.drop()
	if glog.V(2) {
		glog.Infof("xmppstream: stream failed after %d bytes: %v", s.tok.offset, err)
	}
	s.events++
	s.h.HandleEvent(err)
	return err
}

// emit delivers ev and reports whether the handler closed or reset the Stream.
func (s *Stream) emit(ev Event) error {
	s.events++
	s.h.HandleEvent(ev)
	if s.resetReq || s.state.Terminated() {
		return errHalt
	}
	return nil
}

func (s *Stream) handleToken(tok Token) error {
	switch tok := tok.(type) {
	case *StartTag:
		return s.startTag(tok)
	case *CloseTag:
		return s.closeTag(tok)
	case *CharData:
		return s.charData(tok)
	}
	return nil
}

func (s *Stream) startTag(tok *StartTag) error {
	if len(s.stack) >= s.cfg.MaxDepth {
		return s.errorf(DepthOverflow, fmt.Errorf("<%s> nested deeper than %d", tok.Name, s.cfg.MaxDepth))
	}
	decls, err := s.ns.push(tok.Attr, nil)
	if err != nil {
		return s.errorf(Malformed, err)
	}
	name, err := s.ns.element(tok.Name)
	if err != nil {
		return s.errorf(Malformed, err)
	}
	attrs, err := s.resolveAttrs(tok.Attr)
	if err != nil {
		return s.errorf(Malformed, err)
	}

	switch s.state {
	case StateAwaitingOpen:
		return s.openStream(tok, name, attrs, decls)

	case StateOpen:
		foreign := name.Space != s.cfg.DefaultNamespace
		if !foreign {
			name.Space = ""
		}
		el := &Element{Name: name, Attr: attrs}
		s.stack = append(s.stack, frame{raw: tok.Name, el: el, foreign: foreign})
		s.state = StateInStanza
		return s.emit(&StanzaStart{Name: el.Name, Attr: el.Attr})

	default:
		parent := s.stack[len(s.stack)-1]
		foreign := parent.foreign || name.Space != s.cfg.DefaultNamespace
		if !foreign {
			name.Space = ""
		}
		el := &Element{Name: name, Attr: attrs}
		parent.el.Children = append(parent.el.Children, el)
		s.stack = append(s.stack, frame{raw: tok.Name, el: el, foreign: foreign})
		return nil
	}
}

func (s *Stream) openStream(tok *StartTag, name QName, attrs []Attr, decls []NamespaceDecl) error {
	if name.Space != s.cfg.StreamNamespace || name.Local != s.cfg.StreamLocal {
		return s.errorf(InvalidStreamHeader, fmt.Errorf("unexpected root element %s", name))
	}
	ev := &StreamOpen{Name: name, Namespaces: decls}
	for _, a := range attrs {
		switch a.Name {
		case QName{Local: "id"}:
			ev.ID = a.Value
		case QName{Local: "from"}:
			ev.From = a.Value
		case QName{Local: "to"}:
			ev.To = a.Value
		case QName{Local: "version"}:
			ev.Version = a.Value
		case QName{Space: NSXML, Local: "lang"}:
			ev.Lang = a.Value
		default:
			return s.errorf(InvalidStreamHeader, fmt.Errorf("unexpected attribute %s", a.Name))
		}
	}
	s.stack = append(s.stack, frame{raw: tok.Name})
	s.state = StateOpen
	s.mark = s.tok.offset
	if glog.V(3) {
		glog.Infof("xmppstream: stream opened id=%q from=%q to=%q", ev.ID, ev.From, ev.To)
	}
	return s.emit(ev)
}

func (s *Stream) resolveAttrs(raw []RawAttr) ([]Attr, error) {
	var attrs []Attr
	for i, ra := range raw {
		for _, prev := range raw[:i] {
			if prev.Name.equal(ra.Name) {
				return nil, fmt.Errorf("%w %s", DuplicateAttr, ra.Name)
			}
		}
		if isNamespaceDecl(ra.Name) {
			continue
		}
		name, err := s.ns.attr(ra.Name)
		if err != nil {
			return nil, err
		}
		for _, prev := range attrs {
			if prev.Name == name {
				return nil, fmt.Errorf("%w %s", DuplicateAttr, name)
			}
		}
		attrs = append(attrs, Attr{Name: name, Value: string(ra.Value)})
	}
	return attrs, nil
}

func (s *Stream) closeTag(tok *CloseTag) error {
	if len(s.stack) == 0 {
		return s.errorf(MismatchedTag, fmt.Errorf("unexpected close tag </%s>", tok.Name))
	}
	top := s.stack[len(s.stack)-1]
	if !top.raw.equal(tok.Name) {
		return s.errorf(MismatchedTag, fmt.Errorf("</%s> does not close <%s>", tok.Name, top.raw))
	}
	s.stack[len(s.stack)-1] = frame{}
	s.stack = s.stack[:len(s.stack)-1]
	s.ns.pop()

	switch len(s.stack) {
	case 0:
		s.state = StateClosed
		if glog.V(3) {
			glog.Infof("xmppstream: stream closed after %d bytes", s.tok.offset)
		}
		return s.emit(&StreamClose{})
	case 1:
		s.state = StateOpen
		s.mark = s.tok.offset
		if top.el.Name == (QName{Space: s.cfg.StreamNamespace, Local: s.cfg.ErrorLocal}) {
			return s.emit(&StreamError{Stanza: top.el})
		}
		return s.emit(&StanzaEnd{Stanza: top.el})
	}
	return nil
}

func (s *Stream) charData(tok *CharData) error {
	switch s.state {
	case StateAwaitingOpen:
		if !isSpaceBytes(tok.Data) {
			return s.errorf(Malformed, errors.New("text before stream header"))
		}
		return nil
	case StateOpen:
		if !isSpaceBytes(tok.Data) {
			return s.errorf(TextAtStreamLevel, nil)
		}
		s.mark = s.tok.markAt
		return nil
	}
	text := string(tok.Data)
	s.stack[len(s.stack)-1].el.appendText(text)
	if len(s.stack) == 2 {
		return s.emit(&Text{Data: text})
	}
	return nil
}
