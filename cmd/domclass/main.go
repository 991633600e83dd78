/*
Package main is the entry point for the domclass command-line application.

domclass extracts potential Internet domains from raw text and classifies them:
  - Extracting candidates, optionally restricted to known top-level domains.
  - Validating candidates against DNS in extended, compact or passive-DNS form.
  - Localizing validated domains by the country of their hosting network.
  - Ranking validated domains by the reputation of their origin ASN.
  - Filtering the working set with include/exclude patterns.
  - Serving the whole pipeline over HTTP.

Configuration comes from DOMCLASS_* environment variables, overridden by flags. Text is read
from --file, from the positional arguments, or from stdin. Results are written one per line
to stdout or to --output, as text or JSON.
*/
package main

/*
domclass — extract and classify Internet domains from raw text
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
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/x-stp/domclass/internal/cache"
	"github.com/x-stp/domclass/internal/classifier"
	"github.com/x-stp/domclass/internal/client"
	"github.com/x-stp/domclass/internal/config"
	"github.com/x-stp/domclass/internal/dnsclient"
	"github.com/x-stp/domclass/internal/metrics"
	"github.com/x-stp/domclass/internal/output"
	"github.com/x-stp/domclass/internal/ranking"
	"github.com/x-stp/domclass/internal/server"
	"github.com/x-stp/domclass/internal/tld"
	"github.com/x-stp/domclass/internal/validate"
)

// Flags shared by the pipeline commands.
type cliFlags struct {
	inputFile  string
	outputPath string
	format     string
	compress   bool
	validTLD   bool
	mode       string
	types      []string
	country    string
	include    string
	exclude    string
	validate   bool
	origins    bool
}

// app holds everything a command needs once configuration has been resolved.
type app struct {
	cfg   config.Config
	flags cliFlags
	deps  classifier.Deps
	tlds  *tld.Set
	store *cache.RedisStore
}

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{cfg: cfg}
	if err := a.rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "domclass",
		Short:         "domclass - extract and classify Internet domains from raw text",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.teardown()
		},
	}

	pf := root.PersistentFlags()
	pf.StringSliceVar(&a.cfg.Nameservers, "nameserver", a.cfg.Nameservers, "DNS server address (repeatable)")
	pf.IntVar(&a.cfg.Port, "dns-port", a.cfg.Port, "DNS server port")
	pf.DurationVar(&a.cfg.QueryTimeout, "query-timeout", a.cfg.QueryTimeout, "Per-query DNS timeout")
	pf.StringSliceVar(&a.cfg.RecordTypes, "record-types", a.cfg.RecordTypes, "Record types queried during validation")
	pf.DurationVar(&a.cfg.CacheTTL, "cache-ttl", a.cfg.CacheTTL, "Expiration of cached validation and origin results")
	pf.StringVar(&a.cfg.RedisURL, "redis", a.cfg.RedisURL, "Redis URL for the shared cache (empty keeps it in process)")
	pf.BoolVar(&a.cfg.NoCache, "no-cache", a.cfg.NoCache, "Disable result caching")
	pf.DurationVar(&a.cfg.ExtractTimeout, "extract-timeout", a.cfg.ExtractTimeout, "Deadline for candidate extraction (0 runs inline)")
	pf.IntVarP(&a.cfg.Workers, "workers", "w", a.cfg.Workers, "Parallel validation workers")
	pf.BoolVar(&a.cfg.PinWorkers, "pin-workers", a.cfg.PinWorkers, "Bind validation workers to CPU cores (Linux only)")
	pf.Float64Var(&a.cfg.QueriesPerSecond, "qps", a.cfg.QueriesPerSecond, "DNS queries per second per worker (0 for unlimited)")
	pf.StringVar(&a.cfg.TLDSourceURL, "tld-url", a.cfg.TLDSourceURL, "Source of the TLD list")
	pf.StringVar(&a.cfg.TLDCacheDir, "tld-cache-dir", a.cfg.TLDCacheDir, "Directory of the on-disk TLD list")
	pf.StringVar(&a.cfg.RankingURL, "ranking-url", a.cfg.RankingURL, "Base URL of the ASN ranking service")
	pf.StringVar(&a.cfg.MetricsAddr, "metrics-addr", a.cfg.MetricsAddr, "Prometheus metrics address (empty disables)")

	pf.StringVarP(&a.flags.inputFile, "file", "f", "", "Read text from file instead of arguments or stdin")
	pf.StringVarP(&a.flags.outputPath, "output", "o", "", "Write results to file instead of stdout")
	pf.StringVar(&a.flags.format, "format", "text", "Output format: text or json")
	pf.BoolVar(&a.flags.compress, "compress", false, "Gzip the output")
	pf.BoolVar(&a.flags.validTLD, "valid-tld", true, "Keep only candidates ending in a known TLD")

	root.AddCommand(
		a.extractCmd(),
		a.validateCmd(),
		a.localizeCmd(),
		a.rankCmd(),
		a.filterCmd(),
		a.ipsCmd(),
		a.fetchTLDsCmd(),
		a.serveCmd(),
	)
	return root
}

func (a *app) extractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract [text...]",
		Short: "List potential domains found in the text",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), args, func(ctx context.Context, c *classifier.Classifier, w *output.Writer) error {
				return writeAll(w, a.scan(ctx, c))
			})
		},
	}
}

func (a *app) validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [text...]",
		Short: "Resolve candidates and print those with DNS answers",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := validate.ParseMode(a.flags.mode)
			if err != nil {
				return err
			}
			types, err := typeCodes(a.flags.types)
			if err != nil {
				return err
			}
			return a.run(cmd.Context(), args, func(ctx context.Context, c *classifier.Classifier, w *output.Writer) error {
				a.scan(ctx, c)
				return writeAll(w, c.ValidDomains(ctx, mode, types))
			})
		},
	}
	cmd.Flags().StringVarP(&a.flags.mode, "mode", "m", "extended", "Projection: extended, compact or passive-dns")
	cmd.Flags().StringSliceVarP(&a.flags.types, "type", "t", nil, "Record types for this run (overrides --record-types)")
	return cmd
}

func (a *app) localizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "localize [text...]",
		Short: "Print validated domains hosted in a country",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), args, func(ctx context.Context, c *classifier.Classifier, w *output.Writer) error {
				a.scan(ctx, c)
				c.ValidDomains(ctx, validate.ModeExtended, nil)
				return writeAll(w, c.LocalizeDomains(ctx, a.flags.country))
			})
		},
	}
	cmd.Flags().StringVarP(&a.flags.country, "country", "c", "", "ISO 3166 country code, e.g. LU")
	cobra.CheckErr(cmd.MarkFlagRequired("country"))
	return cmd
}

func (a *app) rankCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rank [text...]",
		Short: "Rank validated domains by the reputation of their origin ASN",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), args, func(ctx context.Context, c *classifier.Classifier, w *output.Writer) error {
				a.scan(ctx, c)
				c.ValidDomains(ctx, validate.ModeExtended, nil)
				return writeAll(w, c.RankDomains(ctx))
			})
		},
	}
}

func (a *app) filterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filter [text...]",
		Short: "Print candidates (or validated domains) matching --include or not matching --exclude",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (a.flags.include == "") == (a.flags.exclude == "") {
				return errors.New("exactly one of --include or --exclude is required")
			}
			return a.run(cmd.Context(), args, func(ctx context.Context, c *classifier.Classifier, w *output.Writer) error {
				a.scan(ctx, c)
				if a.flags.validate {
					c.ValidDomains(ctx, validate.ModeExtended, nil)
				}
				var (
					domains []string
					err     error
				)
				if a.flags.include != "" {
					domains, err = c.Include(a.flags.include)
				} else {
					domains, err = c.Exclude(a.flags.exclude)
				}
				if err != nil {
					return err
				}
				return writeAll(w, domains)
			})
		},
	}
	cmd.Flags().StringVar(&a.flags.include, "include", "", "Keep domains matching this regular expression")
	cmd.Flags().StringVar(&a.flags.exclude, "exclude", "", "Keep domains not matching this regular expression")
	cmd.Flags().BoolVar(&a.flags.validate, "validate", false, "Filter validated domains instead of raw candidates")
	return cmd
}

func (a *app) ipsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ips [text...]",
		Short: "Print the distinct IPv4 addresses the candidates resolve to",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), args, func(ctx context.Context, c *classifier.Classifier, w *output.Writer) error {
				a.scan(ctx, c)
				if a.flags.origins {
					return writeAll(w, c.IPOrigins(ctx))
				}
				return writeAll(w, c.IPAddresses(ctx))
			})
		},
	}
	cmd.Flags().BoolVar(&a.flags.origins, "origins", false, "Attach the origin ASN, prefix and country of each address")
	return cmd
}

func (a *app) fetchTLDsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch-tlds",
		Short: "Download the TLD list and refresh the on-disk copy",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.tlds.Refresh(cmd.Context()); err != nil {
				return err
			}
			log.Printf("tld: saved %d TLDs to %s", a.tlds.Len(), a.tlds.CachePath())
			return nil
		},
	}
}

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the classifier over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srv := server.NewHTTPServer(a.cfg.ListenAddr, server.New(a.deps).Routes())

			errCh := make(chan error, 1)
			go func() {
				log.Printf("server: listening on %s", a.cfg.ListenAddr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			log.Println("server: shutting down...")
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&a.cfg.ListenAddr, "listen", a.cfg.ListenAddr, "HTTP listen address")
	return cmd
}

// setup validates the configuration and builds the shared pipeline dependencies.
func (a *app) setup(ctx context.Context) error {
	cfg := a.cfg
	if err := cfg.Validate(); err != nil {
		return err
	}
	types, err := cfg.RecordTypeCodes()
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		metrics.EnableMetrics()
		if err := metrics.StartMetricsServer(cfg.MetricsAddr); err != nil {
			log.Printf("Failed to start metrics server: %v", err)
		}
	}

	resolver, err := dnsclient.New(cfg.Nameservers, cfg.Port, cfg.QueryTimeout, cfg.QueriesPerSecond)
	if err != nil {
		return err
	}

	client.InitHTTPClient(nil)
	hc := client.GetHTTPClient()

	var c *cache.Cache
	switch {
	case cfg.NoCache:
	case cfg.RedisURL != "":
		store, err := cache.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		a.store = store
		c = cache.New(store)
	default:
		c = cache.New(cache.NewMemoryStore())
	}

	a.tlds = tld.NewSet(cfg.TLDCacheDir, tld.HTTPSource{URL: cfg.TLDSourceURL, Client: hc})
	a.deps = classifier.Deps{
		DNS:              resolver,
		Cache:            c,
		TLDs:             a.tlds,
		Ranker:           ranking.NewBGPRanking(cfg.RankingURL, hc),
		RecordTypes:      types,
		ExtractTimeout:   cfg.ExtractTimeout,
		CacheTTL:         cfg.CacheTTL,
		Workers:          cfg.Workers,
		QueriesPerSecond: cfg.QueriesPerSecond,
		PinWorkers:       cfg.PinWorkers,
	}
	return nil
}

func (a *app) teardown() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Printf("cache: close: %v", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metrics.ShutdownMetricsServer(ctx); err != nil {
		log.Printf("Metrics server shutdown: %v", err)
	}
}

// run reads the input text, hands a fresh classifier and an output writer to fn, and
// publishes the output only when fn succeeds.
func (a *app) run(ctx context.Context, args []string, fn func(context.Context, *classifier.Classifier, *output.Writer) error) error {
	text, err := a.readInput(args)
	if err != nil {
		return err
	}

	w, err := a.openOutput(ctx)
	if err != nil {
		return err
	}

	c := classifier.New(a.deps)
	c.Text(ctx, text)
	if err := fn(ctx, c, w); err != nil {
		w.Abort()
		return err
	}
	if err := ctx.Err(); err != nil {
		w.Abort()
		return err
	}
	return w.Close()
}

// scan returns the candidates of the current text. Text already scanned with the TLD
// filter on, so only --valid-tld=false needs a second pass.
func (a *app) scan(ctx context.Context, c *classifier.Classifier) []string {
	if a.flags.validTLD {
		return c.Candidates()
	}
	return c.PotentialDomains(ctx, false)
}

func (a *app) readInput(args []string) (string, error) {
	switch {
	case a.flags.inputFile != "":
		b, err := os.ReadFile(a.flags.inputFile)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", a.flags.inputFile, err)
		}
		return string(b), nil
	case len(args) > 0:
		return strings.Join(args, " "), nil
	default:
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(b), nil
	}
}

func (a *app) openOutput(ctx context.Context) (*output.Writer, error) {
	format, err := output.ParseFormat(a.flags.format)
	if err != nil {
		return nil, err
	}
	opts := output.DefaultOptions()
	opts.Format = format
	opts.Compressed = a.flags.compress

	if a.flags.outputPath == "" || a.flags.outputPath == "-" {
		return output.New(ctx, os.Stdout, opts), nil
	}
	return output.Create(ctx, a.flags.outputPath, opts)
}

func typeCodes(names []string) ([]uint16, error) {
	if len(names) == 0 {
		return nil, nil
	}
	return config.Config{RecordTypes: names}.RecordTypeCodes()
}

func writeAll[T any](w *output.Writer, values []T) error {
	for _, v := range values {
		if err := w.WriteValue(v); err != nil {
			return err
		}
	}
	return nil
}
