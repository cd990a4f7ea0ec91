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
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Goodwine/go-xmppstream"
)

// subCommand pairs a cobra command with the viper instance holding its resolved options.
type subCommand struct {
	Cmd  *cobra.Command
	Conf *viper.Viper

	EnvPrefix string
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "xmppstream",
		Short: "Incremental XMPP stream parser",
		Long: `
xmppstream parses XMPP XML streams incrementally. It can check captured streams
from files, or accept live connections and report what every peer sends.
`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "",
		"Configuration file. Takes precedence over default values, but is "+
			"overridden to values set with environment variables and flags.")

	rootConf := viper.New()
	if err := rootConf.BindPFlags(root.PersistentFlags()); err != nil {
		panic(err)
	}

	subcommands := []*subCommand{newParseCmd(), newServeCmd()}
	for _, sc := range subcommands {
		root.AddCommand(sc.Cmd)
		sc.Conf = viper.New()
		if err := sc.Conf.BindPFlags(sc.Cmd.Flags()); err != nil {
			panic(err)
		}
		if err := sc.Conf.BindPFlags(root.PersistentFlags()); err != nil {
			panic(err)
		}
		sc.Conf.AutomaticEnv()
		sc.Conf.SetEnvPrefix(sc.EnvPrefix)
	}

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg := rootConf.GetString("config")
		if cfg == "" {
			return nil
		}
		for _, sc := range subcommands {
			sc.Conf.SetConfigFile(cfg)
			if err := sc.Conf.ReadInConfig(); err != nil {
				return errors.Wrapf(err, "reading config %s", cfg)
			}
		}
		return nil
	}
	return root
}

// addStreamFlags registers the parser options shared by every subcommand.
func addStreamFlags(flags *flag.FlagSet) {
	flags.String("mode", "c2s", "Stream type, one of [c2s, s2s].")
	flags.String("size_limit", "0",
		"Total bytes a stream may carry, e.g. 64MiB. 0 means unlimited.")
	flags.String("stanza_limit", humanize.IBytes(xmppstream.DefaultStanzaLimit),
		"Largest stanza accepted, e.g. 256KiB. 0 means unlimited.")
	flags.Int("max_depth", xmppstream.DefaultMaxDepth, "Deepest element nesting accepted.")
}

// streamConfig builds a parser configuration from the flags added by addStreamFlags.
func streamConfig(conf *viper.Viper) (xmppstream.Config, error) {
	var cfg xmppstream.Config
	switch mode := conf.GetString("mode"); mode {
	case "c2s":
		cfg = xmppstream.ClientConfig()
	case "s2s":
		cfg = xmppstream.ServerConfig()
	default:
		return cfg, errors.Errorf("unknown mode %q, want c2s or s2s", mode)
	}

	sizeLimit, err := parseSize(conf, "size_limit")
	if err != nil {
		return cfg, err
	}
	stanzaLimit, err := parseSize(conf, "stanza_limit")
	if err != nil {
		return cfg, err
	}
	cfg.SizeLimit = sizeLimit
	cfg.StanzaLimit = stanzaLimit
	cfg.MaxDepth = conf.GetInt("max_depth")
	return cfg, nil
}

func parseSize(conf *viper.Viper, key string) (int64, error) {
	v, err := humanize.ParseBytes(conf.GetString(key))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid --%s", key)
	}
	return int64(v), nil
}
