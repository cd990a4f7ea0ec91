// Package xmppstream is an incremental parser for XMPP XML streams.
//
// Bytes arrive in arbitrary chunks, as they come off a socket, and are handed to Stream.Push.
// The parser never blocks and never waits for more input: whatever it cannot complete is kept in
// the Stream and resumed on the next push. Any way of splitting the same bytes produces the same
// events.
//
// Events are delivered to a Handler synchronously, in document order: the stream header, the
// start of each stanza, the text directly inside it, the complete stanza tree, and finally the
// stream footer or a *ParseError. After a Stream is Closed or Failed it delivers nothing more.
//
// Temporary memory comes from an Arena shared by many streams. The owner of the event loop calls
// ReleaseTemporaries once per tick, outside of any Push. Everything the parser hands out in
// events is made of Go strings and stays valid after the release.
//
//	arena := xmppstream.NewContext()
//	cfg := xmppstream.ClientConfig()
//	cfg.Context = arena
//	s, err := xmppstream.New(&xmppstream.Callbacks{
//		OnStanza: func(el *xmppstream.Element) { ... },
//	}, cfg)
//	...
//	for chunk := range chunks {
//		s.Push(chunk)
//		arena.ReleaseTemporaries()
//	}
//
// The parser accepts the XML subset XMPP allows: no DTDs, no processing instructions except a
// leading XML declaration, no entities besides the five predefined ones and character
// references.
package xmppstream
