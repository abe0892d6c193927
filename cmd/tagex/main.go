/*
Package main is the entry point for the tagex command-line application.

tagex extracts tags (IPv4 and IPv6 addresses, URLs, hostnames, root domains,
MD5/SHA1/SHA256 digests and email addresses) from unstructured text read from
a file, standard input or an HTTP(S) URL, and prints one report line per
match:

	<report name>;<RFC3339 timestamp>;<tag>;"<match>"

Subcommands (`scan`, `extract`, `tags`, `domain`, `batch`) cover single-source
scanning, single-tag extraction, listing tags, decomposing domain names and
scanning many sources concurrently. Settings come from flags, TAGEX_*
environment variables and an optional YAML config file.

Exit codes: 0 success, 1 usage or other failure, 2 unknown tag, 3 input
unavailable.
*/
package main

/*
tagex — fast tool in Go for extracting tags from unstructured text
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/x-stp/tagex/internal/client"
	"github.com/x-stp/tagex/internal/config"
	"github.com/x-stp/tagex/internal/input"
	"github.com/x-stp/tagex/internal/logging"
	"github.com/x-stp/tagex/internal/metrics"
	"github.com/x-stp/tagex/internal/tags"
)

const (
	exitOK               = 0
	exitFailure          = 1
	exitUnknownTag       = 2
	exitInputUnavailable = 3
)

// flagKeys maps command-line flags onto config keys. Flags are bound for
// the command being run only, so scan and batch can both own --tag.
var flagKeys = map[string]string{
	"log-level":     "log.level",
	"log-format":    "log.format",
	"metrics-addr":  "metrics.addr",
	"metrics-file":  "metrics.file",
	"unique":        "extract.unique",
	"match-timeout": "extract.match_timeout",
	"tag":           "extract.tags",
	"max-bytes":     "input.max_bytes",
	"http-timeout":  "input.http_timeout",
	"output":        "output.path",
	"compress":      "output.compress",
	"output-dir":    "batch.output_dir",
	"workers":       "batch.workers",
	"queue-size":    "batch.queue_size",
	"rate-limit":    "batch.rate_limit",
	"burst":         "batch.burst",
	"affinity":      "batch.affinity",
}

// usageError marks bad invocations: wrong arguments or unparsable flags.
type usageError struct{ error }

func (e usageError) Unwrap() error { return e.error }

// app carries the state shared by every subcommand of one invocation.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time

	v        *viper.Viper
	cfgFile  string
	cfg      config.Config
	logger   *zap.Logger
	runID    string
	metrics  *metrics.Metrics
	tagDefs  []tags.Tag
	registry *tags.Registry
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{
		stdin:   stdin,
		stdout:  stdout,
		stderr:  stderr,
		now:     time.Now,
		v:       viper.New(),
		logger:  zap.NewNop(),
		tagDefs: tags.Builtin(),
	}
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes one invocation and returns the process exit code.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	return newApp(stdin, stdout, stderr).execute(args)
}

func (a *app) execute(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	cmd, err := root.ExecuteContextC(ctx)
	a.close()
	return a.report(cmd, err)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "tagex",
		Short: "tagex - extract IPs, hashes, emails, URLs and domains from unstructured text",
		Long: "tagex scans text from files, standard input (-) or HTTP(S) URLs for tags and\n" +
			"prints one line per match: <report>;<timestamp>;<tag>;\"<match>\".\n\n" +
			"Valid tags are: " + strings.Join(tags.Default().Names(), ","),
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	d := config.Defaults()
	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "Config file (default ./"+config.LocalConfigFile+" or ~/.config/tagex/config.yaml)")
	pf.String("log-level", d.Log.Level, "Log level: debug, info, warn, error")
	pf.String("log-format", d.Log.Format, "Log format: console or json")
	pf.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	pf.String("metrics-file", "", "Write metrics in text format to this file on exit")
	pf.Bool("unique", false, "Report each distinct match once per tag")
	pf.Duration("match-timeout", d.Extract.MatchTimeout, "Time limit for each lookaround pattern search (0 for none)")
	pf.Int64("max-bytes", d.Input.MaxBytes, "Maximum size of one input")
	pf.Duration("http-timeout", d.Input.HTTPTimeout, "Timeout for fetching URL inputs")
	pf.StringP("output", "o", "", "Write the report to this file instead of stdout")
	pf.Bool("compress", false, "gzip report files")

	root.AddCommand(newScanCmd(a), newExtractCmd(a), newTagsCmd(a), newDomainCmd(a), newBatchCmd(a))
	return root
}

// setup loads configuration and builds the logger, metrics and registry
// for the command about to run.
func (a *app) setup(cmd *cobra.Command) error {
	bindFlags(a.v, cmd.Flags())
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := logging.NewWithWriter(cfg.Log.Level, cfg.Log.Format, a.stderr)
	if err != nil {
		return err
	}
	a.runID = uuid.NewString()
	a.logger = logger.With(zap.String("run_id", a.runID))

	client.InitHTTPClient(&client.Config{
		RequestTimeout: cfg.Input.HTTPTimeout,
		UserAgent:      cfg.Input.UserAgent,
	})

	opts := []tags.Option{
		tags.WithLogger(a.logger),
		tags.WithMatchTimeout(cfg.Extract.MatchTimeout),
	}
	if cfg.Metrics.Addr != "" || cfg.Metrics.File != "" {
		metrics.EnableMetrics()
		a.metrics = metrics.GetMetrics()
		opts = append(opts, tags.WithObserver(a.metrics))
	}
	if cfg.Metrics.Addr != "" {
		if _, err := metrics.StartMetricsServer(cfg.Metrics.Addr, a.logger); err != nil {
			a.logger.Warn("failed to start metrics server", zap.String("addr", cfg.Metrics.Addr), zap.Error(err))
		}
	}

	a.registry, err = tags.NewRegistry(a.tagDefs, opts...)
	if err != nil {
		return err
	}
	a.logger.Debug("configuration loaded",
		zap.String("command", cmd.Name()),
		zap.String("config_file", a.v.ConfigFileUsed()))
	return nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			// BindPFlag only fails on a nil flag.
			_ = v.BindPFlag(key, f)
		}
	})
}

// close flushes metrics and logs. It runs whether or not the command failed.
func (a *app) close() {
	if a.metrics != nil && a.cfg.Metrics.File != "" {
		if err := a.metrics.WriteToTextfile(a.cfg.Metrics.File); err != nil {
			a.logger.Warn("failed to write metrics file", zap.String("path", a.cfg.Metrics.File), zap.Error(err))
		}
	}
	if a.cfg.Metrics.Addr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metrics.ShutdownMetricsServer(ctx); err != nil {
			a.logger.Warn("metrics server shutdown failed", zap.Error(err))
		}
	}
	_ = logging.Sync(a.logger)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, tags.ErrUnknownTag):
		return exitUnknownTag
	case errors.Is(err, input.ErrInputUnavailable):
		return exitInputUnavailable
	}
	return exitFailure
}

// report prints err and, for unknown tags, unreadable inputs and bad
// invocations, the usage of the failing command.
func (a *app) report(cmd *cobra.Command, err error) int {
	code := exitCode(err)
	if err == nil {
		return code
	}
	fmt.Fprintf(a.stderr, "Error: %v\n", err)

	var ue usageError
	if cmd != nil && (code == exitUnknownTag || code == exitInputUnavailable || errors.As(err, &ue)) {
		fmt.Fprintf(a.stderr, "\n%s", cmd.UsageString())
		fmt.Fprintf(a.stderr, "\nValid tags are: %s\n", strings.Join(tags.Default().Names(), ","))
	}
	return code
}

// exactArgs is cobra.ExactArgs reporting a usageError.
func exactArgs(n int, names ...string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usageError{fmt.Errorf("%s expects %d argument(s) <%s>, got %d",
				cmd.Name(), n, strings.Join(names, "> <"), len(args))}
		}
		return nil
	}
}
