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
	"bytes"
	"fmt"
	"unicode/utf8"

	"github.com/Goodwine/triemap"
)

const (
	// minScratchSize is the capacity of the smallest size class.
	minScratchSize = 64
	// numSizeClasses covers buffers from 64 B up to 64 KiB. Larger buffers are never pooled.
	numSizeClasses = 11
	maxPooledSize  = minScratchSize << (numSizeClasses - 1)

	// maxFreePerClass bounds how many idle buffers a size class keeps around.
	maxFreePerClass = 1024

	// maxInternedNames bounds the name table. Past it, the table is dropped on the next release.
	maxInternedNames = 4096
)

// Arena is a pool of short-lived parsing buffers shared by any number of Streams.
//
// Scratch buffers handed out by AllocScratch stay valid until the next call to
// ReleaseTemporaries, unless they are rooted, in which case they survive until unrooted and
// released again. Streams root the buffers backing a token they have not finished lexing, so a
// release between two Push calls never pulls data out from under a half-parsed tag.
//
// An Arena is not safe for concurrent use. All Streams sharing an Arena must be pushed from the
// same goroutine, or from goroutines that serialize through one owner. When parsing is spread
// over workers, give every worker its own Arena.
//
// ReleaseTemporaries must not be called while a Push on any Stream using this Arena is on the
// call stack, including from inside an event handler. Doing so is undefined behavior: the arena
// does not detect it and token data being dispatched may be overwritten.
type Arena struct {
	free  [numSizeClasses][][]byte
	live  []*Scratch
	spare []*Scratch

	names  triemap.RuneSliceMap
	nnames int

	allocs   uint64
	reuses   uint64
	releases uint64
}

// NewContext creates an independent Arena.
func NewContext() *Arena {
	return &Arena{}
}

// Scratch is a growable byte buffer owned by an Arena.
//
// There is no reference counting: once the owning Arena releases a scratch, its contents and the
// handle itself may be handed to a different caller.
type Scratch struct {
	buf    []byte
	rooted bool
}

// Bytes returns the buffer contents. The slice aliases arena memory.
func (s *Scratch) Bytes() []byte { return s.buf }

// Len returns the number of bytes written so far.
func (s *Scratch) Len() int { return len(s.buf) }

// AppendByte appends a single byte.
func (s *Scratch) AppendByte(b byte) { s.buf = append(s.buf, b) }

// Append appends p.
func (s *Scratch) Append(p []byte) { s.buf = append(s.buf, p...) }

// AppendRune appends the UTF-8 encoding of r.
func (s *Scratch) AppendRune(r rune) { s.buf = utf8.AppendRune(s.buf, r) }

// Truncate discards all but the first n bytes.
func (s *Scratch) Truncate(n int) { s.buf = s.buf[:n] }

// Reset empties the buffer but keeps its capacity.
func (s *Scratch) Reset() { s.buf = s.buf[:0] }

// Root marks the scratch as belonging to an in-progress parse so ReleaseTemporaries keeps it.
func (s *Scratch) Root() { s.rooted = true }

// Unroot makes the scratch reclaimable by the next ReleaseTemporaries.
func (s *Scratch) Unroot() { s.rooted = false }

// Rooted reports whether the scratch survives a release.
func (s *Scratch) Rooted() bool { return s.rooted }

// sizeClass returns the smallest class whose buffers hold n bytes, or -1 if n is too large to
// be pooled.
func sizeClass(n int) int {
	for c, size := 0, minScratchSize; c < numSizeClasses; c, size = c+1, size<<1 {
		if n <= size {
			return c
		}
	}
	return -1
}

// AllocScratch returns an empty scratch buffer with room for at least sizeHint bytes. It never
// fails: the pool grows when no released buffer fits.
func (a *Arena) AllocScratch(sizeHint int) *Scratch {
	a.allocs++
	var s *Scratch
	if n := len(a.spare); n > 0 {
		s = a.spare[n-1]
		a.spare[n-1] = nil
		a.spare = a.spare[:n-1]
	} else {
		s = &Scratch{}
	}
	s.rooted = false
	s.buf = a.get(sizeHint)
	a.live = append(a.live, s)
	return s
}

func (a *Arena) get(sizeHint int) []byte {
	c := sizeClass(sizeHint)
	if c < 0 {
		return make([]byte, 0, sizeHint)
	}
	if n := len(a.free[c]); n > 0 {
		buf := a.free[c][n-1]
		a.free[c][n-1] = nil
		a.free[c] = a.free[c][:n-1]
		a.reuses++
		return buf[:0]
	}
	return make([]byte, 0, minScratchSize<<c)
}

// put files buf under the largest class it can serve.
func (a *Arena) put(buf []byte) {
	size := cap(buf)
	if size < minScratchSize || size > maxPooledSize {
		return
	}
	c := numSizeClasses - 1
	for minScratchSize<<c > size {
		c--
	}
	if len(a.free[c]) >= maxFreePerClass {
		return
	}
	a.free[c] = append(a.free[c], buf[:0])
}

// ReleaseTemporaries reclaims every scratch buffer that is not rooted. Handles to reclaimed
// buffers must not be used afterwards.
//
// Call it only between Push calls, typically once per event-loop tick. See the Arena docs.
func (a *Arena) ReleaseTemporaries() {
	a.releases++
	kept := a.live[:0]
	for _, s := range a.live {
		if s.rooted {
			kept = append(kept, s)
			continue
		}
		a.put(s.buf)
		s.buf = nil
		a.spare = append(a.spare, s)
	}
	clear(a.live[len(kept):])
	a.live = kept

	if a.nnames > maxInternedNames {
		a.names = triemap.RuneSliceMap{}
		a.nnames = 0
	}
}

// intern returns the shared *Name for a raw, already validated `prefix:local` or `local` name.
func (a *Arena) intern(raw []byte) (*Name, error) {
	// Somehow implementing a []rune buffer is worse performing than casting to string
	runes := []rune(string(raw))
	if name, ok := a.names.Get(runes); ok {
		return name.(*Name), nil
	}

	var name *Name
	if i := bytes.IndexByte(raw, ':'); i >= 0 {
		prefix, local := raw[:i], raw[i+1:]
		if len(prefix) == 0 || len(local) == 0 || bytes.IndexByte(local, ':') >= 0 {
			return nil, fmt.Errorf("%w %q", InvalidName, raw)
		}
		if r, _ := utf8.DecodeRune(local); !isNameStartChar(r) {
			return nil, fmt.Errorf("%w %q", InvalidName, raw)
		}
		name = &Name{space: string(prefix), local: string(local)}
	} else {
		name = &Name{local: string(raw)}
	}
	a.names.Put(runes, name)
	a.nnames++
	return name, nil
}

// ArenaStats is a point-in-time view of an Arena's bookkeeping.
type ArenaStats struct {
	// Live is the number of scratch buffers handed out and not yet released.
	Live int
	// Rooted is the subset of Live that the next release will keep.
	Rooted int
	// LiveBytes is the capacity held by live buffers.
	LiveBytes int
	// FreeBuffers and FreeBytes describe released buffers waiting for reuse.
	FreeBuffers int
	FreeBytes   int
	// InternedNames is the size of the shared name table.
	InternedNames int

	Allocs   uint64
	Reuses   uint64
	Releases uint64
}

// Stats reports the Arena's current bookkeeping. Like every other Arena method it must be called
// from the owning goroutine.
func (a *Arena) Stats() ArenaStats {
	st := ArenaStats{
		Live:          len(a.live),
		InternedNames: a.nnames,
		Allocs:        a.allocs,
		Reuses:        a.reuses,
		Releases:      a.releases,
	}
	for _, s := range a.live {
		if s.rooted {
			st.Rooted++
		}
		st.LiveBytes += cap(s.buf)
	}
	for _, class := range a.free {
		st.FreeBuffers += len(class)
		for _, buf := range class {
			st.FreeBytes += cap(buf)
		}
	}
	return st
}
