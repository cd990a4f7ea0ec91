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
	"cmp"
	"fmt"
)

const (
	// DefaultMaxDepth bounds element nesting, root included.
	DefaultMaxDepth = 256
	// DefaultStanzaLimit is the per-stanza budget used by the presets.
	DefaultStanzaLimit = 10 << 20

	defaultStreamLocal = "stream"
	defaultErrorLocal  = "error"
)

// Config configures a Stream. The zero value parses a stream in the standard streams namespace
// with no byte budgets, using the default Arena.
type Config struct {
	// Context is the Arena backing the Stream's scratch memory. Nil selects DefaultContext().
	Context *Arena

	// SizeLimit is the cumulative byte budget of the Stream. A Push that would take the total
	// past it fails with LimitExceeded before any of its bytes are parsed. Zero is unlimited.
	SizeLimit int64

	// StanzaLimit bounds the bytes read since the last complete top-level unit (stream
	// header, stanza or stream-level whitespace). Zero is unlimited.
	StanzaLimit int64

	// MaxDepth bounds element nesting, root included. Zero selects DefaultMaxDepth.
	MaxDepth int

	// StreamNamespace and StreamLocal name the root element. They default to NSStreams and
	// "stream". ErrorLocal names the stream error element in StreamNamespace, "error" by
	// default.
	StreamNamespace string
	StreamLocal     string
	ErrorLocal      string

	// DefaultNamespace is the content namespace of the stream, e.g. jabber:client. Stanza
	// elements in it are reported with an empty Space, so stanzas read from client and server
	// streams compare equal. Descendants of a foreign-namespace element keep their namespace.
	DefaultNamespace string

	// SessionOptions is an opaque payload forwarded verbatim to the session. See
	// SessionConfigurer.
	SessionOptions any
}

// ClientConfig returns the configuration for a client-to-server stream.
func ClientConfig() Config {
	return Config{
		DefaultNamespace: NSClient,
		StanzaLimit:      DefaultStanzaLimit,
	}
}

// ServerConfig returns the configuration for a server-to-server stream.
func ServerConfig() Config {
	return Config{
		DefaultNamespace: NSServer,
		StanzaLimit:      DefaultStanzaLimit,
	}
}

// resolve validates c and fills in defaults. The Arena is bound by New, not here.
func (c Config) resolve() (Config, error) {
	if c.SizeLimit < 0 {
		return c, fmt.Errorf("size limit must be >= 0, got %d", c.SizeLimit)
	}
	if c.StanzaLimit < 0 {
		return c, fmt.Errorf("stanza limit must be >= 0, got %d", c.StanzaLimit)
	}
	if c.MaxDepth < 0 {
		return c, fmt.Errorf("max depth must be >= 0, got %d", c.MaxDepth)
	}
	c.MaxDepth = cmp.Or(c.MaxDepth, DefaultMaxDepth)
	c.StreamNamespace = cmp.Or(c.StreamNamespace, NSStreams)
	c.StreamLocal = cmp.Or(c.StreamLocal, defaultStreamLocal)
	c.ErrorLocal = cmp.Or(c.ErrorLocal, defaultErrorLocal)
	return c, nil
}
