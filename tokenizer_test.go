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
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var tokenOpts = cmp.Options{
	cmp.AllowUnexported(Name{}),
	cmp.Transformer("byteToString", func(in []byte) string { return string(in) }),
}

// tokenize feeds chunks to a fresh tokenizer and collects copies of every token.
func tokenize(arena *Arena, chunks ...string) ([]Token, error) {
	tok := newTokenizer(arena)
	var got []Token
	fn := func(tk Token) error {
		got = append(got, tk.Copy())
		return nil
	}
	for _, c := range chunks {
		if _, err := tok.feed([]byte(c), fn); err != nil {
			return got, err
		}
	}
	return got, nil
}

func TestToken(t *testing.T) {
	const input = `<a>
<foo > <!-- asd --> </bar>
    <foo class="start">a&amp;sd<![CDATA[<x>]]>
</lol:foo    ><yay attr="1&#x32;3"/>.`

	want := []Token{
		&StartTag{Name: &Name{local: "a"}},
		&CharData{Data: []byte("\n")},
		&StartTag{Name: &Name{local: "foo"}},
		&CharData{Data: []byte(" ")},
		&CharData{Data: []byte(" ")},
		&CloseTag{&Name{local: "bar"}},
		&CharData{Data: []byte("\n    ")},
		&StartTag{Name: &Name{local: "foo"}, Attr: []RawAttr{{&Name{local: "class"}, []byte("start")}}},
		&CharData{Data: []byte("a&sd<x>\n")},
		&CloseTag{&Name{local: "foo", space: "lol"}},
		&StartTag{Name: &Name{local: "yay"}, Attr: []RawAttr{{&Name{local: "attr"}, []byte("123")}}, SelfClosing: true},
		&CloseTag{&Name{local: "yay"}},
		// The trailing "." is held until markup follows.
	}

	got, err := tokenize(NewContext(), input)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got, tokenOpts); diff != "" {
		t.Error("Token diff (-want +got)\n", diff)
	}
}

func TestTokenText(t *testing.T) {
	testCases := []struct {
		desc  string
		input string
		want  string
	}{
		{"entities", "&lt;&gt;&amp;&apos;&quot;", `<>&'"`},
		{"char refs", "&#65;&#x42;&#x1D11E;", "AB\U0001D11E"},
		{"crlf", "a\r\nb\rc\n", "a\nb\nc\n"},
		{"cdata", "a<![CDATA[ ]]]]>b", "a ]]b"},
		{"comment splits run", "a<!-- x -->b", "a"},
		{"multibyte", "héllo €𝄞", "héllo €𝄞"},
		{"gt is text", "a > b", "a > b"},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			got, err := tokenize(NewContext(), "<r>"+tc.input+"</r>")
			if err != nil {
				t.Fatal(err)
			}
			cd, ok := got[1].(*CharData)
			if !ok {
				t.Fatalf("token[1] = %T, want *CharData", got[1])
			}
			if string(cd.Data) != tc.want {
				t.Errorf("CharData = %q, want %q", cd.Data, tc.want)
			}
		})
	}
}

func TestTokenAttributeValue(t *testing.T) {
	got, err := tokenize(NewContext(), "<a b='x\r\ny\tz&lt;' c=\"'\"\n d = 'e'/>")
	if err != nil {
		t.Fatal(err)
	}
	want := []Token{
		&StartTag{
			Name: &Name{local: "a"},
			Attr: []RawAttr{
				{&Name{local: "b"}, []byte("x y z<")},
				{&Name{local: "c"}, []byte("'")},
				{&Name{local: "d"}, []byte("e")},
			},
			SelfClosing: true,
		},
		&CloseTag{&Name{local: "a"}},
	}
	if diff := cmp.Diff(want, got, tokenOpts); diff != "" {
		t.Error("Token diff (-want +got)\n", diff)
	}
}

func TestTokenXMLDeclaration(t *testing.T) {
	got, err := tokenize(NewContext(), "<?xml version='1.0' encoding='UTF-8'?><a/>")
	if err != nil {
		t.Fatal(err)
	}
	want := []Token{
		&StartTag{Name: &Name{local: "a"}, SelfClosing: true},
		&CloseTag{&Name{local: "a"}},
	}
	if diff := cmp.Diff(want, got, tokenOpts); diff != "" {
		t.Error("Token diff (-want +got)\n", diff)
	}
}

func TestTokenErrors(t *testing.T) {
	testCases := []struct {
		desc  string
		input string
		want  string
	}{
		{"start colon", "<:foo>", `invalid name ":foo"`},
		{"end colon", "<foo:>", `invalid name "foo:"`},
		{"multi colon", "<f:o:o>", `invalid name "f:o:o"`},
		{"bad comment open", "<!- -->", "unexpected char ' ', expected '<!--'"},
		{"double dash in comment", "<!-- a -- b -->", "invalid comment, '--' must be followed by '>'"},
		{"doctype", "<!DOCTYPE foo>", "forbidden construct: markup declaration"},
		{"cdata end in text", "<m>a]]>b</m>", "forbidden construct: ]]> outside CDATA"},
		{"bad cdata open", "<![CDAT x", "forbidden construct: markup declaration"},
		{"processing instruction", "<?php echo ?>", "forbidden construct: processing instruction"},
		{"late xml declaration", "<a/><?xml version='1.0'?>", "forbidden construct: processing instruction"},
		{"unknown entity", "<a>&nbsp;</a>", "invalid entity reference &nbsp;"},
		{"unterminated entity", "<a>&amp </a>", "invalid entity reference &amp"},
		{"null char ref", "<a>&#0;</a>", "invalid character reference &#0;"},
		{"bad hex char ref", "<a>&#xZZ;</a>", "invalid character reference &#xZZ;"},
		{"lt in attribute", "<a b='<'/>", "unexpected char '<' reading attribute b value on tag <a>"},
		{"unquoted attribute", "<a b=c/>", "unexpected char 'c', expected value for attribute b on tag <a>"},
		{"no space between attributes", "<a b='1'c='2'/>", "unexpected char 'c' after attribute value on tag <a>"},
		{"space after lt slash", "</ a>", "unexpected char ' ', expected closing tag"},
		{"invalid utf8", "<a>\xff</a>", "invalid UTF-8"},
		{"truncated utf8", "<a>\xe2\x82a</a>", "invalid UTF-8"},
		{"control char", "<a>\x01</a>", "invalid XML character U+0001"},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := tokenize(NewContext(), tc.input)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err: '%s' want '%s'", err, tc.want)
			}
			if !errors.Is(err, Malformed) {
				t.Errorf("errors.Is(%v, Malformed) = false", err)
			}
		})
	}
}

func TestTokenErrorIsSticky(t *testing.T) {
	tok := newTokenizer(NewContext())
	fn := func(Token) error { return nil }
	_, err := tok.feed([]byte("<a b=c>"), fn)
	if err == nil {
		t.Fatal("expected error")
	}
	n, again := tok.feed([]byte("<ok/>"), fn)
	if n != 0 || again != err {
		t.Errorf("feed after error = %d, %v; want 0, %v", n, again, err)
	}
}

func TestErrorLineNumber(t *testing.T) {
	const input = "<foo>\n  <b c='x'<d/>\n</foo>"

	const want = "xmppstream: malformed: unexpected char '<' after attribute value on tag <b> at row: 2 col: 11"

	_, err := tokenize(NewContext(), input)
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != want {
		t.Fatalf("err: '%s' want '%s'", err, want)
	}
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("err is %T, want *ParseError", err)
	}
	if perr.Offset != 17 {
		t.Errorf("Offset = %d, want 17", perr.Offset)
	}
}

func TestTokenChunkBoundaries(t *testing.T) {
	const input = "<?xml version='1.0'?><msg to='rémi' xml:lang=\"fr\">café &amp; crème\r\n" +
		"<![CDATA[<b>]]><!-- c --><x:y xmlns:x='u'>\U0001F600</x:y></msg>"

	want, err := tokenize(NewContext(), input)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i <= len(input); i++ {
		got, err := tokenize(NewContext(), input[:i], input[i:])
		if err != nil {
			t.Fatalf("split at %d: %v", i, err)
		}
		if diff := cmp.Diff(want, got, tokenOpts); diff != "" {
			t.Fatalf("split at %d: Token diff (-want +got)\n%s", i, diff)
		}
	}

	bytewise := make([]string, len(input))
	for i := 0; i < len(input); i++ {
		bytewise[i] = input[i : i+1]
	}
	got, err := tokenize(NewContext(), bytewise...)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got, tokenOpts); diff != "" {
		t.Error("byte at a time: Token diff (-want +got)\n", diff)
	}
}

func TestTokenSurvivesRelease(t *testing.T) {
	arena := NewContext()
	tok := newTokenizer(arena)
	var got []Token
	fn := func(tk Token) error {
		got = append(got, tk.Copy())
		return nil
	}

	for _, chunk := range []string{"<message to='ju", "liet' ty", "pe='chat'>hel", "lo<", "/mess", "age>"} {
		if _, err := tok.feed([]byte(chunk), fn); err != nil {
			t.Fatal(err)
		}
		// Pollute every released buffer so stale reads would show up.
		arena.ReleaseTemporaries()
		for i := 0; i < 8; i++ {
			arena.AllocScratch(minScratchSize).Append([]byte(strings.Repeat("#", minScratchSize)))
		}
	}

	want := []Token{
		&StartTag{Name: &Name{local: "message"}, Attr: []RawAttr{
			{&Name{local: "to"}, []byte("juliet")},
			{&Name{local: "type"}, []byte("chat")},
		}},
		&CharData{Data: []byte("hello")},
		&CloseTag{&Name{local: "message"}},
	}
	if diff := cmp.Diff(want, got, tokenOpts); diff != "" {
		t.Error("Token diff (-want +got)\n", diff)
	}
}

func TestTokenUnrootsAfterEmit(t *testing.T) {
	arena := NewContext()
	tok := newTokenizer(arena)
	fn := func(Token) error { return nil }

	if _, err := tok.feed([]byte("<a b='c"), fn); err != nil {
		t.Fatal(err)
	}
	if st := arena.Stats(); st.Rooted == 0 {
		t.Errorf("mid-tag Stats().Rooted = 0, want > 0")
	}
	if _, err := tok.feed([]byte("'>"), fn); err != nil {
		t.Fatal(err)
	}
	if st := arena.Stats(); st.Rooted != 0 {
		t.Errorf("after emit Stats().Rooted = %d, want 0", st.Rooted)
	}
	if tok.state != stateText || len(tok.held) != 0 {
		t.Errorf("after a complete tag: state = %d, %d held scratch buffers", tok.state, len(tok.held))
	}
	arena.ReleaseTemporaries()
	if st := arena.Stats(); st.Live != 0 {
		t.Errorf("after release Stats().Live = %d, want 0", st.Live)
	}
}

func TestTokenCallbackError(t *testing.T) {
	stop := errors.New("stop")
	tok := newTokenizer(NewContext())
	var n int
	consumed, err := tok.feed([]byte("<a/><b/>"), func(Token) error {
		n++
		return stop
	})
	if err != stop {
		t.Fatalf("err = %v, want %v", err, stop)
	}
	if n != 1 || consumed != 4 {
		t.Errorf("callbacks = %d, consumed = %d; want 1, 4", n, consumed)
	}
}
