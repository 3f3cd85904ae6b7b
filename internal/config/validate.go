package config

import "fmt"

// Severity classifies a validation finding.
type Severity string

const (
	SeverityError Severity = "error"
	SeverityWarn  Severity = "warn"
)

// Issue is one validation finding with a JSON-ish path to the offending field.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

// ValidatePipeline checks p for configurations that cannot run (errors) and
// ones that probably do not mean what the author intended (warnings).
//
// It never mutates p. A pipeline with no error-severity issues is runnable.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	issues = append(issues, validateDataset("community", p.Community)...)
	if p.Transactions != nil {
		issues = append(issues, validateDataset("transactions", *p.Transactions)...)
	}

	if p.Output.Path == "" {
		issues = append(issues, Issue{SeverityError, "output.path", "output path is required"})
	}
	if p.Output.TransactionsPath != "" && p.Transactions == nil {
		issues = append(issues, Issue{SeverityWarn, "output.transactions_path", "set but no transactions dataset is configured"})
	}

	switch p.Storage.Kind {
	case "", "sqlite", "postgres", "mssql":
	default:
		issues = append(issues, Issue{SeverityError, "storage.kind",
			fmt.Sprintf("unknown backend %q (want sqlite, postgres, or mssql)", p.Storage.Kind)})
	}
	if p.Storage.Kind != "" {
		if p.Storage.DSN == "" {
			issues = append(issues, Issue{SeverityError, "storage.dsn", "dsn is required when a storage kind is set"})
		}
		if p.Storage.Table == "" {
			issues = append(issues, Issue{SeverityError, "storage.table", "table name is required when a storage kind is set"})
		}
		if p.Storage.TransactionsTable != "" && p.Transactions == nil {
			issues = append(issues, Issue{SeverityWarn, "storage.transactions_table", "set but no transactions dataset is configured"})
		}
	}

	if p.Fetch.Attempts < 0 {
		issues = append(issues, Issue{SeverityError, "fetch.attempts", "attempts cannot be negative"})
	}
	if p.Fetch.RatePerSecond < 0 {
		issues = append(issues, Issue{SeverityError, "fetch.rate_per_second", "rate cannot be negative"})
	}

	if p.Aggregate.Dedupe && p.Transactions == nil {
		issues = append(issues, Issue{SeverityWarn, "aggregate.dedupe", "dedupe without a transactions dataset resolves ties by sale_start only"})
	}

	return issues
}

func validateDataset(path string, d Dataset) []Issue {
	var issues []Issue
	if d.BaseURL == "" {
		issues = append(issues, Issue{SeverityError, path + ".base_url", "base_url is required"})
	}
	if len(d.Fragments) == 0 {
		issues = append(issues, Issue{SeverityError, path + ".fragments", "at least one fragment is required"})
	}
	for i, f := range d.Fragments {
		if f.Suffix == "" {
			issues = append(issues, Issue{SeverityError, fmt.Sprintf("%s.fragments[%d].suffix", path, i), "suffix is required"})
		}
		if f.Name == "" {
			issues = append(issues, Issue{SeverityWarn, fmt.Sprintf("%s.fragments[%d].name", path, i), "empty display name leaves city_name blank"})
		}
	}
	if len(d.Rename) == 0 {
		issues = append(issues, Issue{SeverityWarn, path + ".rename", "no rename map; raw source column names pass through"})
	}
	return issues
}
