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
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSizeClass(t *testing.T) {
	testCases := []struct {
		n    int
		want int
	}{
		{0, 0},
		{1, 0},
		{64, 0},
		{65, 1},
		{128, 1},
		{1000, 4},
		{64 << 10, numSizeClasses - 1},
		{64<<10 + 1, -1},
	}
	for _, tc := range testCases {
		if got := sizeClass(tc.n); got != tc.want {
			t.Errorf("sizeClass(%d) = %d, want %d", tc.n, got, tc.want)
		}
	}
}

func TestAllocScratch(t *testing.T) {
	a := NewContext()
	s := a.AllocScratch(100)
	if got := cap(s.Bytes()); got != 128 {
		t.Errorf("cap = %d, want 128", got)
	}
	if s.Rooted() {
		t.Error("new scratch is rooted")
	}
	s.Append([]byte("hello"))
	s.AppendByte(' ')
	s.AppendRune('€')
	if got, want := string(s.Bytes()), "hello €"; got != want {
		t.Errorf("Bytes() = %q, want %q", got, want)
	}
	s.Truncate(5)
	if got := s.Len(); got != 5 {
		t.Errorf("Len() after Truncate = %d, want 5", got)
	}
	s.Reset()
	if got := s.Len(); got != 0 {
		t.Errorf("Len() after Reset = %d, want 0", got)
	}
}

func TestReleaseTemporaries(t *testing.T) {
	a := NewContext()
	kept := a.AllocScratch(10)
	kept.Root()
	kept.Append([]byte("rooted"))
	for i := 0; i < 3; i++ {
		a.AllocScratch(10).Append([]byte("temp"))
	}

	a.ReleaseTemporaries()

	want := ArenaStats{
		Live:        1,
		Rooted:      1,
		LiveBytes:   64,
		FreeBuffers: 3,
		FreeBytes:   3 * 64,
		Allocs:      4,
		Releases:    1,
	}
	if diff := cmp.Diff(want, a.Stats()); diff != "" {
		t.Error("Stats diff (-want +got)\n", diff)
	}
	if got := string(kept.Bytes()); got != "rooted" {
		t.Errorf("rooted scratch = %q after release, want %q", got, "rooted")
	}

	// Released buffers are handed out again.
	a.AllocScratch(10)
	if got := a.Stats().Reuses; got != 1 {
		t.Errorf("Reuses = %d, want 1", got)
	}

	kept.Unroot()
	a.ReleaseTemporaries()
	if st := a.Stats(); st.Live != 0 || st.FreeBuffers != 4 {
		t.Errorf("Stats() = %+v, want no live and 4 free buffers", st)
	}
}

func TestReleaseLargeScratch(t *testing.T) {
	a := NewContext()
	s := a.AllocScratch(1 << 20)
	if got := cap(s.Bytes()); got < 1<<20 {
		t.Errorf("cap = %d, want >= %d", got, 1<<20)
	}
	a.ReleaseTemporaries()
	if st := a.Stats(); st.FreeBuffers != 0 {
		t.Errorf("FreeBuffers = %d, want oversized buffer dropped", st.FreeBuffers)
	}
}

func TestFreeListBound(t *testing.T) {
	a := NewContext()
	for i := 0; i < maxFreePerClass+10; i++ {
		a.AllocScratch(1)
	}
	a.ReleaseTemporaries()
	if got := a.Stats().FreeBuffers; got != maxFreePerClass {
		t.Errorf("FreeBuffers = %d, want %d", got, maxFreePerClass)
	}
}

func TestIntern(t *testing.T) {
	a := NewContext()
	n1, err := a.intern([]byte("stream:stream"))
	if err != nil {
		t.Fatal(err)
	}
	if n1.Prefix() != "stream" || n1.Local() != "stream" {
		t.Errorf("intern(stream:stream) = %q %q", n1.Prefix(), n1.Local())
	}
	n2, err := a.intern([]byte("stream:stream"))
	if err != nil {
		t.Fatal(err)
	}
	if n1 != n2 {
		t.Error("interning the same name twice returned different pointers")
	}
	if got := a.Stats().InternedNames; got != 1 {
		t.Errorf("InternedNames = %d, want 1", got)
	}

	for _, bad := range []string{":a", "a:", "a:b:c", "a:-b"} {
		if _, err := a.intern([]byte(bad)); !errors.Is(err, InvalidName) {
			t.Errorf("intern(%q) err = %v, want %v", bad, err, InvalidName)
		}
	}
}

func TestInternTableBound(t *testing.T) {
	a := NewContext()
	first, _ := a.intern([]byte("message"))
	for i := 0; i < maxInternedNames; i++ {
		if _, err := a.intern([]byte(fmt.Sprintf("n%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	a.ReleaseTemporaries()
	if got := a.Stats().InternedNames; got != 0 {
		t.Fatalf("InternedNames = %d after release, want 0", got)
	}
	again, _ := a.intern([]byte("message"))
	if again == first {
		t.Error("name table was not reset")
	}
	// Names handed out before the reset stay usable.
	if !first.equal(again) {
		t.Errorf("%v and %v should be equal", first, again)
	}
}
