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

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/x-stp/tagex/internal/domainname"
	"github.com/x-stp/tagex/internal/input"
	"github.com/x-stp/tagex/internal/report"
	"github.com/x-stp/tagex/internal/tags"
)

// DefaultExtractReport is the report name printed by extract.
const DefaultExtractReport = "tag"

func newScanCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <report-name> <source>",
		Short: "Scan a source for every tag (or the --tag subset)",
		Long: "Scan reads <source> (a file, - for stdin, or an http(s) URL), extracts every\n" +
			"registered tag and prints one line per match, labelled with <report-name>.",
		Args: exactArgs(2, "report-name", "source"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.scan(cmd.Context(), args[0], args[1], a.cfg.Extract.Tags)
		},
	}
	cmd.Flags().StringSliceP("tag", "t", nil, "Only scan these tags (repeatable or comma separated)")
	return cmd
}

func newExtractCmd(a *app) *cobra.Command {
	var reportName string
	cmd := &cobra.Command{
		Use:   "extract <tag> <source>",
		Short: "Extract a single tag from a source",
		Args:  exactArgs(2, "tag", "source"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.scan(cmd.Context(), reportName, args[1], []string{args[0]})
		},
	}
	cmd.Flags().StringVar(&reportName, "report", DefaultExtractReport, "Report name printed in the first column")
	return cmd
}

func newTagsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tags",
		Short: "List the valid tag names",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range a.registry.Names() {
				fmt.Fprintln(a.stdout, name)
			}
			return nil
		},
	}
}

func newDomainCmd(a *app) *cobra.Command {
	var rootOnly bool
	cmd := &cobra.Command{
		Use:   "domain <url-or-fqdn>...",
		Short: "Split domain names into subdomains, root and effective TLD",
		Long: "Domain prints subdomains|root|effective-tld for each argument, e.g.\n" +
			"http://www.google.co.uk/foo gives www|google|co.uk. No public suffix list is\n" +
			"consulted; country-code second levels such as co.uk are inferred.",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return usageError{errors.New("domain expects at least one <url-or-fqdn>")}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var errs []error
			for _, arg := range args {
				d, err := domainname.Parse(arg)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				if rootOnly {
					fmt.Fprintln(a.stdout, d.RootDomain())
				} else {
					fmt.Fprintln(a.stdout, d.String())
				}
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().BoolVar(&rootOnly, "root", false, "Print only the root domain")
	return cmd
}

// scan reads source, extracts the selected tags (all when names is empty)
// and writes the report. Tag names are resolved before any input is read.
func (a *app) scan(ctx context.Context, reportName, source string, names []string) error {
	for _, name := range names {
		if _, err := a.registry.Lookup(name); err != nil {
			return err
		}
	}
	// One timestamp for every line of this invocation.
	ts := report.Timestamp(a.now())

	r := input.Reader{Stdin: a.stdin, MaxBytes: a.cfg.Input.MaxBytes}
	text, err := r.Read(ctx, source)
	if err != nil {
		return err
	}
	a.metrics.AddInputBytes(input.KindOf(source).String(), len(text))

	var res tags.Result
	var scanErr error
	if len(names) == 0 {
		res, scanErr = a.registry.ExtractAll(text)
	} else {
		res, scanErr = a.registry.ExtractTags(names, text)
	}
	if res == nil {
		return scanErr
	}
	if a.cfg.Extract.Unique {
		res = tags.Unique(res)
	}

	w, err := a.openReport(ctx)
	if err != nil {
		return err
	}
	n, err := w.WriteResult(reportName, ts, res, a.registry.Names())
	if err != nil {
		if abortErr := w.Abort(); abortErr != nil {
			a.logger.Debug("discarding report failed", zap.Error(abortErr))
		}
		return fmt.Errorf("writing report: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing report: %w", err)
	}
	a.metrics.AddReportLines(n)
	a.logger.Debug("scan finished",
		zap.String("source", source),
		zap.String("report", reportName),
		zap.Int("matches", n))
	// Partial results are written before a scan error is returned.
	return scanErr
}

func (a *app) openReport(ctx context.Context) (*report.Writer, error) {
	path := a.cfg.Output.Path
	if path == "" || path == input.Stdin {
		return report.NewWriter(a.stdout), nil
	}
	return report.Create(ctx, path, a.cfg.Output.Compress, a.logger)
}
