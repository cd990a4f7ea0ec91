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

// Event is one of the events a Stream delivers, in strict document order:
//
// * *StreamOpen: the stream header was read
// * *StanzaStart: a first-level child of the stream began
// * *Text: a text run directly inside the current stanza
// * *StanzaEnd: the stanza is complete, carrying its whole tree
// * *StreamError: a complete <stream:error/>, delivered instead of StanzaEnd
// * *StreamClose: the stream footer was read
// * *ParseError: the stream failed; nothing follows it
type Event interface {
	event()
}

// StreamOpen reports the stream header.
type StreamOpen struct {
	Name    QName
	ID      string
	From    string
	To      string
	Version string
	// Lang is the xml:lang attribute.
	Lang string
	// Namespaces lists the declarations on the stream element.
	Namespaces []NamespaceDecl
}

func (*StreamOpen) event() {}

// StanzaStart reports the start tag of a stanza. Its children follow only as part of StanzaEnd.
type StanzaStart struct {
	Name QName
	Attr []Attr
}

func (*StanzaStart) event() {}

// Text is a text run that is a direct child of the stanza element.
type Text struct {
	Data string
}

func (*Text) event() {}

// StanzaEnd carries a complete stanza.
type StanzaEnd struct {
	Stanza *Element
}

func (*StanzaEnd) event() {}

// StreamError carries a complete stream-level error element.
type StreamError struct {
	Stanza *Element
}

func (*StreamError) event() {}

// StreamClose reports the stream footer.
type StreamClose struct{}

func (*StreamClose) event() {}

// Handler is the session side of a Stream.
//
// HandleEvent runs synchronously inside Push. It may call Close or Reset on the Stream that
// delivered the event. It must not call Push on that Stream, nor ReleaseTemporaries on its Arena.
type Handler interface {
	HandleEvent(ev Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ev Event)

// HandleEvent implements Handler.
func (f HandlerFunc) HandleEvent(ev Event) { f(ev) }

// Callbacks is a Handler with one optional callback per event. Nil callbacks drop their event,
// except OnStreamError which falls back to OnStanza.
type Callbacks struct {
	OnStreamOpen  func(*StreamOpen)
	OnStanzaStart func(*StanzaStart)
	OnText        func(string)
	OnStanza      func(*Element)
	OnStreamError func(*Element)
	OnStreamClose func()
	OnError       func(*ParseError)
}

// HandleEvent implements Handler.
func (c *Callbacks) HandleEvent(ev Event) {
	switch ev := ev.(type) {
	case *StreamOpen:
		if c.OnStreamOpen != nil {
			c.OnStreamOpen(ev)
		}
	case *StanzaStart:
		if c.OnStanzaStart != nil {
			c.OnStanzaStart(ev)
		}
	case *Text:
		if c.OnText != nil {
			c.OnText(ev.Data)
		}
	case *StanzaEnd:
		if c.OnStanza != nil {
			c.OnStanza(ev.Stanza)
		}
	case *StreamError:
		switch {
		case c.OnStreamError != nil:
			c.OnStreamError(ev.Stanza)
		case c.OnStanza != nil:
			c.OnStanza(ev.Stanza)
		}
	case *StreamClose:
		if c.OnStreamClose != nil {
			c.OnStreamClose()
		}
	case *ParseError:
		if c.OnError != nil {
			c.OnError(ev)
		}
	}
}

// SessionConfigurer is implemented by handlers that want Config.SessionOptions. New hands the
// options over before the Stream is returned.
type SessionConfigurer interface {
	ConfigureSession(opts any)
}
