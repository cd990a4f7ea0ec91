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
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/Goodwine/go-xmppstream"
)

func newParseCmd() *subCommand {
	sc := &subCommand{EnvPrefix: "XMPPSTREAM_PARSE"}
	sc.Cmd = &cobra.Command{
		Use:   "parse [file...]",
		Short: "Parse captured XMPP streams",
		Long: `
Parse reads every file as one XMPP stream, feeding it to the parser in chunks,
and prints the events it produces. Use - to read from stdin. Files are parsed
in parallel, each worker with its own arena.
`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParse(cmd.Context(), sc.Conf, cmd.InOrStdin(), cmd.OutOrStdout(), args)
		},
	}

	flags := sc.Cmd.Flags()
	addStreamFlags(flags)
	flags.String("chunk_size", "4KiB", "Bytes handed to the parser per push.")
	flags.Int("jobs", runtime.NumCPU(), "Number of files parsed concurrently.")
	flags.Bool("quiet", false, "Only print one summary line per file.")
	return sc
}

type parseOptions struct {
	cfg       xmppstream.Config
	chunkSize int
	quiet     bool
}

func runParse(ctx context.Context, conf *viper.Viper, stdin io.Reader, out io.Writer, files []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := streamConfig(conf)
	if err != nil {
		return err
	}
	chunkSize, err := parseSize(conf, "chunk_size")
	if err != nil {
		return err
	}
	if chunkSize <= 0 {
		return errors.Errorf("--chunk_size must be positive")
	}
	opt := parseOptions{cfg: cfg, chunkSize: int(chunkSize), quiet: conf.GetBool("quiet")}

	outputs := make([]bytes.Buffer, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(conf.GetInt("jobs"), 1))
	for i, name := range files {
		g.Go(func() error {
			var r io.Reader = stdin
			if name != "-" {
				f, err := os.Open(name)
				if err != nil {
					return errors.Wrapf(err, "opening %s", name)
				}
				defer f.Close()
				r = f
			}
			return errors.Wrapf(parseStream(ctx, name, r, &outputs[i], opt), "parsing %s", name)
		})
	}
	err = g.Wait()

	for i := range outputs {
		if _, werr := outputs[i].WriteTo(out); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

// parseStream parses r as one stream with an arena of its own.
func parseStream(ctx context.Context, name string, r io.Reader, out io.Writer, opt parseOptions) error {
	arena := xmppstream.NewContext()
	cfg := opt.cfg
	cfg.Context = arena

	p := &printer{w: out, name: name, quiet: opt.quiet}
	s, err := xmppstream.New(p, cfg)
	if err != nil {
		return err
	}

	var read uint64
	buf := make([]byte, opt.chunkSize)
	for s.State() != xmppstream.StateClosed {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			read += uint64(n)
			if _, err := s.Push(buf[:n]); err != nil {
				return err
			}
			arena.ReleaseTemporaries()
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}

	st := arena.Stats()
	glog.V(1).Infof("%s: arena allocs=%d reuses=%d interned=%d", name, st.Allocs, st.Reuses, st.InternedNames)
	fmt.Fprintf(out, "%s: %d stanzas, %s read\n", name, p.stanzas, humanize.IBytes(read))
	if s.State() != xmppstream.StateClosed {
		return errors.Errorf("stream ended while %s", s.State())
	}
	return nil
}

// printer writes one line per event.
type printer struct {
	w       io.Writer
	name    string
	quiet   bool
	stanzas int
}

func (p *printer) printf(format string, args ...any) {
	if p.quiet {
		return
	}
	fmt.Fprintf(p.w, "%s: "+format+"\n", append([]any{p.name}, args...)...)
}

func (p *printer) HandleEvent(ev xmppstream.Event) {
	switch ev := ev.(type) {
	case *xmppstream.StreamOpen:
		p.printf("open %s id=%q from=%q to=%q version=%q", ev.Name, ev.ID, ev.From, ev.To, ev.Version)
	case *xmppstream.StanzaEnd:
		p.stanzas++
		p.printf("stanza %s", describe(ev.Stanza))
	case *xmppstream.StreamError:
		p.printf("stream-error %s", describe(ev.Stanza))
	case *xmppstream.StreamClose:
		p.printf("close")
	case *xmppstream.ParseError:
		p.printf("error %v", ev)
	}
}

// describe summarizes an element on one line: name, attributes and child element names.
func describe(el *xmppstream.Element) string {
	var sb strings.Builder
	sb.WriteString(el.Name.String())
	for _, a := range el.Attr {
		fmt.Fprintf(&sb, " %s=%q", a.Name, a.Value)
	}
	if children := el.Elements(); len(children) > 0 {
		sb.WriteString(" [")
		for i, c := range children {
			if i > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(c.Name.String())
		}
		sb.WriteByte(']')
	}
	return sb.String()
}
