package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	// The mssql snapshot backend opens "sqlserver" connections but leaves
	// driver registration to the application binary.
	_ "github.com/microsoft/go-mssqldb"

	"presale/internal/aggregate"
	"presale/internal/assemble"
	"presale/internal/config"
	"presale/internal/enrich"
	"presale/internal/fetch"
	"presale/internal/metrics"
	"presale/internal/metrics/datadog"
	"presale/internal/storage"
	_ "presale/internal/storage/mssql"
	_ "presale/internal/storage/postgres"
	_ "presale/internal/storage/sqlite"
	"presale/internal/table"
)

// backendCloser is the minimal interface used by this command to manage a metrics backend.
type backendCloser interface {
	metrics.Backend
	Close() error
}

// deps are external seams for testability.
//
// When to use:
//   - Unit tests: inject a fake backend factory and capture stdout/stderr.
//   - Alternate runtimes: swap the metrics backend or output sinks.
//
// BackendFactory is only consulted when the datadog metrics backend is
// selected; it must be non-nil in that case.
type deps struct {
	Stdout io.Writer
	Stderr io.Writer

	BackendFactory func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (backendCloser, error)
	Now            func() time.Time
}

// runConfig holds the parsed flags for a run.
type runConfig struct {
	ConfigPath     string
	ValidateOnly   bool
	MetricsBackend string
	MetricsTags    string
	FlushEvery     time.Duration
	Stamp          string
}

// main is intentionally small: it wires real dependencies and exits with a code.
func main() {
	code := run(context.Background(), os.Args[1:], deps{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		BackendFactory: func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (backendCloser, error) {
			return datadog.NewBackend(ctx, datadog.Options{
				JobName:    jobName,
				Tags:       tags,
				FlushEvery: flushEvery,
			})
		},
		Now: time.Now,
	})
	os.Exit(code)
}

// run executes the pipeline command and returns an exit code.
//
// Exit codes:
//   - 0: success.
//   - 1: the pipeline started and failed (fetch, enrich, export, snapshot).
//   - 2: configuration/initialization error.
func run(ctx context.Context, args []string, d deps) int {
	if d.Stdout == nil {
		d.Stdout = io.Discard
	}
	if d.Stderr == nil {
		d.Stderr = io.Discard
	}
	if d.Now == nil {
		d.Now = time.Now
	}

	cfg, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}

	p, err := loadPipeline(cfg.ConfigPath)
	if err != nil {
		fmt.Fprintf(d.Stderr, "%v\n", err)
		return 2
	}

	hasError := false
	for _, issue := range config.ValidatePipeline(p) {
		fmt.Fprintf(d.Stderr, "%s: %s: %s\n", issue.Severity, issue.Path, issue.Message)
		if issue.Severity == config.SeverityError {
			hasError = true
		}
	}
	if hasError {
		return 2
	}
	if cfg.ValidateOnly {
		fmt.Fprintf(d.Stdout, "config ok: %s\n", cfg.ConfigPath)
		return 0
	}

	jobName := p.Job
	if jobName == "" {
		jobName = "presale"
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	switch cfg.MetricsBackend {
	case "", "none":
		// Default nop backend stays in place.
	case "datadog":
		if d.BackendFactory == nil {
			fmt.Fprintln(d.Stderr, "internal error: BackendFactory is nil")
			return 2
		}
		tagsCSV := cfg.MetricsTags
		if tagsCSV == "" {
			tagsCSV = os.Getenv("METRICS_TAGS")
		}
		backend, err := d.BackendFactory(ctx, jobName, datadog.ParseTagsCSV(tagsCSV), cfg.FlushEvery)
		if err != nil {
			fmt.Fprintf(d.Stderr, "datadog backend init failed: %v\n", err)
			return 2
		}
		metrics.SetBackend(backend)
		defer func() {
			_ = metrics.Flush()
			_ = backend.Close()
		}()
	default:
		fmt.Fprintf(d.Stderr, "unknown metrics backend %q, metrics disabled\n", cfg.MetricsBackend)
	}

	stamp := cfg.Stamp
	if stamp == "" {
		stamp = d.Now().Format("2006-01-02 15:04:05")
	}

	if err := runPipeline(ctx, p, jobName, stamp, d.Stdout); err != nil {
		fmt.Fprintf(d.Stderr, "%v\n", err)
		return 1
	}
	return 0
}

// runPipeline executes one full run: fetch and assemble both datasets, derive
// the enrichment columns, fold transaction statistics into the community
// table, export CSV, and snapshot to storage when configured.
//
// Steps run in a fixed order because later ones read columns earlier ones
// produce: enrichment needs the renamed source columns, aggregation needs
// sale_start and serial_list, dedupe needs the transaction counts, and date
// normalization must wait until nothing compares compact ROC dates anymore.
func runPipeline(ctx context.Context, p config.Pipeline, job, stamp string, out io.Writer) error {
	client := fetch.New(job, p.Fetch)

	var community *table.Table
	err := timed(job, "assemble_community", func() error {
		t, counts, err := assemble.Build(ctx, client, p.Community, stamp)
		if err != nil {
			return err
		}
		for _, c := range counts {
			fmt.Fprintf(out, "fetched %s: %d rows\n", c.Name, c.Rows)
		}
		community = t
		return nil
	})
	if err != nil {
		return err
	}
	metrics.RecordRecords(job, "community", community.Len())

	var transactions *table.Table
	if p.Transactions != nil {
		err := timed(job, "assemble_transactions", func() error {
			t, counts, err := assemble.Build(ctx, client, *p.Transactions, stamp)
			if err != nil {
				return err
			}
			for _, c := range counts {
				fmt.Fprintf(out, "fetched %s: %d rows\n", c.Name, c.Rows)
			}
			transactions = t
			return nil
		})
		if err != nil {
			return err
		}
		metrics.RecordRecords(job, "transactions", transactions.Len())
	}

	err = timed(job, "enrich", func() error {
		return enrich.Apply(community, enrichOptions(p))
	})
	if err != nil {
		return err
	}

	aopt := aggregateOptions(p)
	err = timed(job, "aggregate", func() error {
		if transactions != nil {
			stats := aggregate.TransactionStats(transactions, aopt)
			if err := aggregate.MergeStats(community, stats, aopt); err != nil {
				return err
			}
			aggregate.ClampSaleStart(community)
		}
		if p.Aggregate.Dedupe {
			if err := aggregate.DedupeCommunities(community, aopt); err != nil {
				return err
			}
		}
		if transactions != nil {
			if err := aggregate.AbsorptionRate(community, aopt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	assemble.NormalizeDates(community, p.Community.DateColumns)
	if transactions != nil {
		assemble.NormalizeDates(transactions, p.Transactions.DateColumns)
	}

	err = timed(job, "export", func() error {
		res, err := table.WriteCSVFile(p.Output.Path, community)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %s: %d rows, %d bytes, sha256 %s\n", p.Output.Path, res.Rows, res.Bytes, res.Digest)
		if p.Output.TransactionsPath != "" && transactions != nil {
			res, err := table.WriteCSVFile(p.Output.TransactionsPath, transactions)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "wrote %s: %d rows, %d bytes, sha256 %s\n", p.Output.TransactionsPath, res.Rows, res.Bytes, res.Digest)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if p.Storage.Kind != "" {
		err = timed(job, "snapshot", func() error {
			repo, err := storage.New(ctx, storage.Config{Kind: p.Storage.Kind, DSN: p.Storage.DSN})
			if err != nil {
				return err
			}
			defer repo.Close()

			n, err := repo.Save(ctx, p.Storage.Table, community)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "snapshot %s: %d rows\n", p.Storage.Table, n)
			if p.Storage.TransactionsTable != "" && transactions != nil {
				n, err := repo.Save(ctx, p.Storage.TransactionsTable, transactions)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "snapshot %s: %d rows\n", p.Storage.TransactionsTable, n)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// timed runs one pipeline step and records its duration and status.
func timed(job, step string, f func() error) error {
	start := time.Now()
	err := f()
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordStep(job, step, status, time.Since(start))
	return err
}

// enrichOptions maps the enrichment column configuration onto the derivation
// pass. An unset item separator falls back to the community dataset's
// array_join_separator parser option so serial extraction splits filing items
// on the same separator the parser joined them with.
func enrichOptions(p config.Pipeline) enrich.Options {
	opt := enrich.Options{
		AddressColumn:    p.Enrich.AddressColumn,
		SalePeriodColumn: p.Enrich.SalePeriodColumn,
		ReviewDateColumn: p.Enrich.ReviewDateColumn,
		PermitDateColumn: p.Enrich.PermitDateColumn,
		IDListColumn:     p.Enrich.IDListColumn,
		CodeColumn:       p.Enrich.CodeColumn,
		ItemSeparator:    p.Enrich.ItemSeparator,
	}
	if opt.ItemSeparator == "" {
		opt.ItemSeparator = strings.TrimSpace(p.Community.Parser.String("array_join_separator", ""))
	}
	return opt
}

func aggregateOptions(p config.Pipeline) aggregate.Options {
	return aggregate.Options{
		SerialColumn:     p.Aggregate.SerialColumn,
		SerialListColumn: p.Aggregate.SerialListColumn,
		CodeColumn:       p.Aggregate.CodeColumn,
		CityColumn:       p.Aggregate.CityColumn,
		DistrictColumn:   p.Aggregate.DistrictColumn,
		CommunityColumn:  p.Aggregate.CommunityColumn,
		DateColumn:       p.Aggregate.DateColumn,
		CancelColumn:     p.Aggregate.CancelColumn,
		PermitNoColumn:   p.Aggregate.PermitNoColumn,
		LongitudeColumn:  p.Aggregate.LongitudeColumn,
		HouseholdsColumn: p.Aggregate.HouseholdsColumn,
	}
}

// loadPipeline reads and decodes the pipeline configuration file.
func loadPipeline(path string) (config.Pipeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return config.Pipeline{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var p config.Pipeline
	if err := json.NewDecoder(f).Decode(&p); err != nil {
		return config.Pipeline{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	return p, nil
}

// parseFlags parses command arguments into a validated runConfig.
//
// Errors:
//   - Returns an error for invalid/missing required flags.
//   - Does not exit the process (caller decides exit code).
func parseFlags(args []string) (runConfig, error) {
	fs := flag.NewFlagSet("presale", flag.ContinueOnError)

	// Capture help/usage text instead of writing to stdout.
	var usageBuf strings.Builder
	fs.SetOutput(&usageBuf)

	fs.Usage = func() {
		fmt.Fprintf(&usageBuf, "Usage of %s:\n", fs.Name())
		fs.PrintDefaults()
	}

	var cfg runConfig
	fs.StringVar(&cfg.ConfigPath, "config", "", "Path to the pipeline configuration JSON")
	fs.BoolVar(&cfg.ValidateOnly, "validate", false, "Validate the configuration and exit")
	fs.StringVar(&cfg.MetricsBackend, "metrics", "none", "Metrics backend (none|datadog)")
	fs.StringVar(&cfg.MetricsTags, "metrics_tags", "", "Extra metrics tags CSV (defaults to $METRICS_TAGS)")
	fs.DurationVar(&cfg.FlushEvery, "metrics_flush", 1*time.Minute, "Metrics flush interval")
	fs.StringVar(&cfg.Stamp, "stamp", "", "input_time value recorded on every row (default: current time)")

	if err := fs.Parse(args); err != nil {
		// When -h / -help is passed, flag.Parse returns flag.ErrHelp.
		// Return the captured usage text so caller prints it.
		if errors.Is(err, flag.ErrHelp) {
			return runConfig{}, errors.New(usageBuf.String())
		}
		// For other parse errors, return the error plus usage (nice UX).
		return runConfig{}, fmt.Errorf("%v\n\n%s", err, usageBuf.String())
	}

	if cfg.ConfigPath == "" {
		return runConfig{}, errors.New("missing required -config <file>")
	}
	if cfg.FlushEvery <= 0 {
		return runConfig{}, errors.New("-metrics_flush must be > 0")
	}

	return cfg, nil
}
