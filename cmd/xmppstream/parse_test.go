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
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/Goodwine/go-xmppstream"
)

const testStream = "<stream:stream xmlns='jabber:client' xmlns:stream='http://etherx.jabber.org/streams' " +
	"to='example.com' version='1.0'>\n" +
	"<message to='juliet@example.com' id='1'><body>hi</body></message>\n" +
	"<presence/>\n" +
	"</stream:stream>"

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestParseCommand(t *testing.T) {
	path := writeFile(t, "ok.xml", testStream)

	out, err := runCmd(t, "parse", "--chunk_size=7", path)
	require.NoError(t, err)

	want := []string{
		path + `: open {http://etherx.jabber.org/streams}stream id="" from="" to="example.com" version="1.0"`,
		path + `: stanza message to="juliet@example.com" id="1" [body]`,
		path + `: stanza presence`,
		path + `: close`,
		path + `: 2 stanzas, 211 B read`,
	}
	require.Equal(t, want, strings.Split(strings.TrimSpace(out), "\n"))
}

func TestParseCommandFailures(t *testing.T) {
	testCases := []struct {
		desc string
		data string
		args []string
		want string
	}{
		{
			desc: "mismatched tag",
			data: strings.Replace(testStream, "</message>", "</iq>", 1),
			want: "mismatched tag",
		},
		{
			desc: "truncated",
			data: testStream[:len(testStream)-5],
			want: "stream ended while open",
		},
		{
			desc: "stanza limit",
			data: testStream,
			args: []string{"--stanza_limit=90"},
			want: "limit exceeded",
		},
		{
			desc: "server mode",
			data: testStream,
			args: []string{"--mode=s2s", "--max_depth=2"},
			want: "depth overflow",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			path := writeFile(t, "bad.xml", tc.data)
			args := append([]string{"parse"}, tc.args...)
			out, err := runCmd(t, append(args, path)...)
			require.Error(t, err)
			require.Contains(t, err.Error(), "parsing "+path)
			require.Contains(t, err.Error(), tc.want)
			require.NotEmpty(t, out)
		})
	}
}

func TestParseCommandManyFiles(t *testing.T) {
	var paths []string
	for _, name := range []string{"a.xml", "b.xml", "c.xml"} {
		paths = append(paths, writeFile(t, name, testStream))
	}

	out, err := runCmd(t, append([]string{"parse", "--quiet", "--jobs=2"}, paths...)...)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, len(paths))
	for i, path := range paths {
		require.Equal(t, path+": 2 stanzas, 211 B read", lines[i])
	}
}

func TestParseCommandConfigFile(t *testing.T) {
	path := writeFile(t, "ok.xml", testStream)
	cfg := writeFile(t, "config.yaml", "quiet: true\nchunk_size: 1\n")

	out, err := runCmd(t, "parse", "--config", cfg, path)
	require.NoError(t, err)
	require.Equal(t, path+": 2 stanzas, 211 B read\n", out)
}

func TestParseCommandArgs(t *testing.T) {
	_, err := runCmd(t, "parse")
	require.Error(t, err)

	path := writeFile(t, "ok.xml", testStream)
	_, err = runCmd(t, "parse", "--chunk_size=0", path)
	require.ErrorContains(t, err, "--chunk_size must be positive")

	_, err = runCmd(t, "parse", "--mode=bosh", path)
	require.ErrorContains(t, err, `unknown mode "bosh"`)

	_, err = runCmd(t, "parse", filepath.Join(t.TempDir(), "missing.xml"))
	require.ErrorContains(t, err, "opening")
}

func TestStreamConfig(t *testing.T) {
	conf := viper.New()
	conf.Set("mode", "s2s")
	conf.Set("size_limit", "1 MiB")
	conf.Set("stanza_limit", "64KiB")
	conf.Set("max_depth", 10)

	cfg, err := streamConfig(conf)
	require.NoError(t, err)
	require.Equal(t, xmppstream.NSServer, cfg.DefaultNamespace)
	require.EqualValues(t, 1<<20, cfg.SizeLimit)
	require.EqualValues(t, 64<<10, cfg.StanzaLimit)
	require.Equal(t, 10, cfg.MaxDepth)

	conf.Set("stanza_limit", "lots")
	_, err = streamConfig(conf)
	require.ErrorContains(t, err, "invalid --stanza_limit")
}

func TestDescribe(t *testing.T) {
	el := &xmppstream.Element{
		Name: xmppstream.QName{Local: "iq"},
		Attr: []xmppstream.Attr{{Name: xmppstream.QName{Local: "type"}, Value: "get"}},
		Children: []xmppstream.Node{
			xmppstream.TextNode(" "),
			&xmppstream.Element{Name: xmppstream.QName{Space: "urn:xmpp:ping", Local: "ping"}},
		},
	}
	require.Equal(t, `iq type="get" [{urn:xmpp:ping}ping]`, describe(el))
}
