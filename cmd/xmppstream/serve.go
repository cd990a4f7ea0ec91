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
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *subCommand {
	sc := &subCommand{EnvPrefix: "XMPPSTREAM_SERVE"}
	sc.Cmd = &cobra.Command{
		Use:   "serve",
		Short: "Accept XMPP connections and parse what peers send",
		Long: `
Serve listens for XMPP connections and parses every stream on a single event
loop sharing one arena. It answers stream headers, logs stanzas, and reports
malformed input to the peer as a stream error.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, sc.Conf)
		},
	}

	flags := sc.Cmd.Flags()
	addStreamFlags(flags)
	flags.String("addr", "localhost:5222", "Address to accept XMPP connections on.")
	flags.String("metrics_addr", "localhost:9090",
		"Address to serve prometheus metrics on. Empty disables metrics.")
	flags.String("domain", "localhost", "Domain announced in stream headers.")
	flags.String("read_size", "4KiB", "Buffer size for each connection read.")
	flags.Duration("write_timeout", 10*time.Second, "Deadline for writes to a peer.")
	return sc
}

type serveOptions struct {
	addr         string
	metricsAddr  string
	readSize     int
	writeTimeout time.Duration
}

func runServe(ctx context.Context, conf *viper.Viper) error {
	cfg, err := streamConfig(conf)
	if err != nil {
		return err
	}
	readSize, err := parseSize(conf, "read_size")
	if err != nil {
		return err
	}
	if readSize <= 0 {
		return errors.Errorf("--read_size must be positive")
	}
	opt := serveOptions{
		addr:         conf.GetString("addr"),
		metricsAddr:  conf.GetString("metrics_addr"),
		readSize:     int(readSize),
		writeTimeout: conf.GetDuration("write_timeout"),
	}

	reg := prometheus.NewRegistry()
	l := newLoop(cfg, conf.GetString("domain"), newMetrics(reg))

	ln, err := net.Listen("tcp", opt.addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", opt.addr)
	}
	glog.Infof("Accepting XMPP connections on %s, stanza limit %s", ln.Addr(),
		humanize.IBytes(uint64(cfg.StanzaLimit)))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.run(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})
	g.Go(func() error { return accept(ctx, ln, l.in, opt) })

	if opt.metricsAddr != "" {
		srv := &http.Server{
			Addr:    opt.metricsAddr,
			Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		}
		g.Go(func() error {
			glog.Infof("Serving metrics on %s", opt.metricsAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return errors.Wrap(err, "metrics server")
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Shutdown(context.Background())
		})
	}
	return g.Wait()
}

// accept hands every connection to the loop and starts its reader.
func accept(ctx context.Context, ln net.Listener, in chan<- message, opt serveOptions) error {
	var id uint64
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "accept")
		}
		id++
		select {
		case in <- message{id: id, w: &deadlineWriter{Conn: conn, timeout: opt.writeTimeout}}:
		case <-ctx.Done():
			conn.Close()
			return nil
		}
		go readConn(ctx, id, conn, in, opt.readSize)
	}
}

// readConn forwards everything read from conn to the loop. Every read gets a fresh buffer since
// the loop may still hold the previous one.
func readConn(ctx context.Context, id uint64, conn net.Conn, in chan<- message, size int) {
	for {
		buf := make([]byte, size)
		n, err := conn.Read(buf)
		if n > 0 {
			select {
			case in <- message{id: id, data: buf[:n]}:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			select {
			case in <- message{id: id, err: err}:
			case <-ctx.Done():
			}
			return
		}
	}
}

// deadlineWriter bounds how long the loop can block writing to a slow peer.
type deadlineWriter struct {
	net.Conn
	timeout time.Duration
}

func (w *deadlineWriter) Write(p []byte) (int, error) {
	if w.timeout > 0 {
		if err := w.Conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
			return 0, err
		}
	}
	return w.Conn.Write(p)
}
