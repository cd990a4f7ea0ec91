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
	"context"
	"io"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/Goodwine/go-xmppstream"
)

// maxBatch bounds how many messages one tick handles before releasing temporaries.
const maxBatch = 64

// message is sent by connection goroutines to the loop. A message with w set announces a new
// connection, one with err set its end, anything else carries data.
type message struct {
	id   uint64
	w    io.WriteCloser
	data []byte
	err  error
}

// loop owns the arena and every stream parsing from it. Nothing else touches them.
type loop struct {
	arena    *xmppstream.Arena
	cfg      xmppstream.Config
	m        *metrics
	sessions map[uint64]*session
	in       chan message
}

func newLoop(cfg xmppstream.Config, domain string, m *metrics) *loop {
	arena := xmppstream.NewContext()
	cfg.Context = arena
	cfg.SessionOptions = domain
	return &loop{
		arena:    arena,
		cfg:      cfg,
		m:        m,
		sessions: make(map[uint64]*session),
		in:       make(chan message, maxBatch),
	}
}

// run handles messages until ctx is done, then closes every connection.
func (l *loop) run(ctx context.Context) error {
	defer l.closeAll()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-l.in:
			l.handle(msg)
		}
	drain:
		for i := 1; i < maxBatch; i++ {
			select {
			case msg := <-l.in:
				l.handle(msg)
			default:
				break drain
			}
		}
		l.tick()
	}
}

func (l *loop) handle(msg message) {
	sess, ok := l.sessions[msg.id]
	switch {
	case msg.w != nil:
		sess = &session{id: msg.id, streamID: uuid.NewString(), w: msg.w, m: l.m}
		stream, err := xmppstream.New(sess, l.cfg)
		if err != nil {
			glog.Errorf("[%d] creating stream: %v", msg.id, err)
			msg.w.Close()
			return
		}
		sess.stream = stream
		l.sessions[msg.id] = sess
		glog.V(1).Infof("[%d] connected, stream id %s", msg.id, sess.streamID)

	case !ok:
		// The session already ended; the connection goroutine has not noticed yet.

	case msg.err != nil:
		if msg.err != io.EOF {
			glog.V(1).Infof("[%d] read: %v", msg.id, msg.err)
		}
		l.end(sess)

	default:
		l.m.bytes.Add(float64(len(msg.data)))
		// A failure was already delivered to the session as an event.
		sess.stream.Push(msg.data)
		if sess.done {
			l.end(sess)
		}
	}
}

func (l *loop) end(sess *session) {
	sess.stream.Close()
	if err := sess.w.Close(); err != nil {
		glog.V(2).Infof("[%d] close: %v", sess.id, err)
	}
	delete(l.sessions, sess.id)
	glog.V(1).Infof("[%d] disconnected after %d stanzas", sess.id, sess.stanzas)
}

// tick runs between batches, when no Push is in progress.
func (l *loop) tick() {
	l.arena.ReleaseTemporaries()
	l.m.observeArena(l.arena.Stats())
	l.m.sessions.Set(float64(len(l.sessions)))
}

func (l *loop) closeAll() {
	for _, sess := range l.sessions {
		l.end(sess)
	}
	l.tick()
}
