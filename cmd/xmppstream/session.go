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

package main

import (
	"fmt"
	"io"

	"github.com/golang/glog"

	"github.com/Goodwine/go-xmppstream"
)

const nsStreamErrors = "urn:ietf:params:xml:ns:xmpp-streams"

// session is the peer side of one connection. It answers the stream header, logs stanzas and
// reports parse failures to the peer as stream errors.
type session struct {
	id       uint64 // connection number, for logs
	streamID string // announced to the peer
	w        io.WriteCloser
	domain   string
	m        *metrics

	stream  *xmppstream.Stream
	opened  bool
	done    bool
	stanzas int
}

// ConfigureSession receives the domain the server answers for.
func (s *session) ConfigureSession(opts any) {
	if domain, ok := opts.(string); ok {
		s.domain = domain
	}
}

func (s *session) HandleEvent(ev xmppstream.Event) {
	switch ev := ev.(type) {
	case *xmppstream.StreamOpen:
		s.m.events.WithLabelValues("open").Inc()
		glog.V(1).Infof("[%d] stream opened from=%q to=%q version=%q", s.id, ev.From, ev.To, ev.Version)
		s.writeHeader()
	case *xmppstream.StanzaStart:
		s.m.events.WithLabelValues("stanza_start").Inc()
	case *xmppstream.Text:
		s.m.events.WithLabelValues("text").Inc()
	case *xmppstream.StanzaEnd:
		s.m.events.WithLabelValues("stanza").Inc()
		s.stanzas++
		if glog.V(2) {
			glog.Infof("[%d] stanza %s", s.id, describe(ev.Stanza))
		}
	case *xmppstream.StreamError:
		s.m.events.WithLabelValues("stream_error").Inc()
		glog.Warningf("[%d] peer sent stream error %s", s.id, describe(ev.Stanza))
	case *xmppstream.StreamClose:
		s.m.events.WithLabelValues("close").Inc()
		glog.V(1).Infof("[%d] stream closed after %d stanzas", s.id, s.stanzas)
		s.write("</stream:stream>")
		s.done = true
	case *xmppstream.ParseError:
		s.m.events.WithLabelValues("error").Inc()
		s.m.parseErrors.WithLabelValues(ev.Kind.String()).Inc()
		glog.Warningf("[%d] %v", s.id, ev)
		s.fail(streamErrorCondition(ev.Kind))
	}
}

func (s *session) writeHeader() {
	if s.opened {
		return
	}
	s.opened = true
	ns := s.stream.Config().DefaultNamespace
	s.write(fmt.Sprintf("<?xml version='1.0'?><stream:stream xmlns='%s' xmlns:stream='%s' id='%s' from='%s' version='1.0'>",
		ns, xmppstream.NSStreams, s.streamID, s.domain))
}

// fail sends a stream error and ends the stream.
func (s *session) fail(condition string) {
	s.writeHeader()
	s.write(fmt.Sprintf("<stream:error><%s xmlns='%s'/></stream:error></stream:stream>", condition, nsStreamErrors))
	s.done = true
}

func (s *session) write(data string) {
	if _, err := io.WriteString(s.w, data); err != nil {
		glog.V(1).Infof("[%d] write: %v", s.id, err)
		s.done = true
	}
}

// streamErrorCondition maps a parse failure to the stream error reported to the peer.
func streamErrorCondition(kind xmppstream.ErrorKind) string {
	switch kind {
	case xmppstream.LimitExceeded:
		return "policy-violation"
	case xmppstream.InvalidStreamHeader:
		return "invalid-namespace"
	default:
		return "not-well-formed"
	}
}
