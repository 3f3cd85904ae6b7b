// Package config defines the pipeline configuration decoded from JSON.
//
// A pipeline describes up to two remote datasets (community filings and sale
// transactions), how their columns are renamed and cleaned, which columns the
// enrichment pass reads, where the exports go, and an optional snapshot
// storage target. Configuration is plain data: constructors elsewhere apply
// defaults for zero values, and nothing in this package reaches for globals.
package config

// Pipeline is the root configuration for one pipeline run.
type Pipeline struct {
	// Job is the logical job name used for metrics tags and reports.
	Job string `json:"job"`

	// Community is the pre-sale community filings dataset. Required.
	Community Dataset `json:"community"`

	// Transactions is the sale transactions dataset. Optional; when present,
	// per-community transaction statistics are aggregated and merged into the
	// community table.
	Transactions *Dataset `json:"transactions,omitempty"`

	Enrich    Enrich    `json:"enrich"`
	Aggregate Aggregate `json:"aggregate"`
	Output    Output    `json:"output"`
	Storage   Storage   `json:"storage"`
	Fetch     Fetch     `json:"fetch"`
}

// Dataset describes one remote fragment-addressed dataset.
type Dataset struct {
	// BaseURL is the endpoint root; fragment suffixes append to it verbatim.
	BaseURL string `json:"base_url"`

	// Fragments enumerate the per-city path suffixes and their display names.
	Fragments []Fragment `json:"fragments"`

	// Rename maps raw source column names to canonical names. Columns not in
	// the map keep their raw name.
	Rename map[string]string `json:"rename,omitempty"`

	// DateColumns are canonical column names normalized from ROC/AD forms to
	// ISO dates after renaming.
	DateColumns []string `json:"date_columns,omitempty"`

	// NumericColumns are canonical column names coerced to plain decimals
	// after renaming; unparseable values become "0".
	NumericColumns []string `json:"numeric_columns,omitempty"`

	// Parser holds format options (e.g. array_join_separator).
	Parser Options `json:"parser,omitempty"`
}

// Fragment is one path suffix plus the display name recorded in city_name.
type Fragment struct {
	Suffix string `json:"suffix"`
	Name   string `json:"name"`
}

// Enrich names the community-table columns the derivation pass reads.
// Empty fields fall back to the canonical defaults.
type Enrich struct {
	AddressColumn    string `json:"address_column,omitempty"`
	SalePeriodColumn string `json:"sale_period_column,omitempty"`
	ReviewDateColumn string `json:"review_date_column,omitempty"`
	PermitDateColumn string `json:"permit_date_column,omitempty"`
	IDListColumn     string `json:"id_list_column,omitempty"`
	CodeColumn       string `json:"code_column,omitempty"`

	// ItemSeparator splits id-list entries; defaults to the parser's
	// array join separator.
	ItemSeparator string `json:"item_separator,omitempty"`
}

// Aggregate names the columns used to join transactions onto communities.
// Empty fields fall back to the canonical defaults.
type Aggregate struct {
	// Dedupe enables duplicate-community resolution after the merge.
	Dedupe bool `json:"dedupe,omitempty"`

	SerialColumn     string `json:"serial_column,omitempty"`
	SerialListColumn string `json:"serial_list_column,omitempty"`
	CodeColumn       string `json:"code_column,omitempty"`
	CityColumn       string `json:"city_column,omitempty"`
	DistrictColumn   string `json:"district_column,omitempty"`
	CommunityColumn  string `json:"community_column,omitempty"`
	DateColumn       string `json:"date_column,omitempty"`
	CancelColumn     string `json:"cancel_column,omitempty"`
	PermitNoColumn   string `json:"permit_no_column,omitempty"`
	LongitudeColumn  string `json:"longitude_column,omitempty"`
	HouseholdsColumn string `json:"households_column,omitempty"`
}

// Output configures the CSV exports.
type Output struct {
	// Path is the community table CSV destination. Required.
	Path string `json:"path"`

	// TransactionsPath, when set, also exports the raw transactions table.
	TransactionsPath string `json:"transactions_path,omitempty"`
}

// Storage selects an optional snapshot backend.
type Storage struct {
	// Kind is "" (disabled), "sqlite", "postgres", or "mssql".
	Kind string `json:"kind,omitempty"`
	DSN  string `json:"dsn,omitempty"`

	// Table is the community snapshot table name.
	Table string `json:"table,omitempty"`

	// TransactionsTable, when set together with a transactions dataset,
	// snapshots the raw transactions as well.
	TransactionsTable string `json:"transactions_table,omitempty"`
}

// Fetch tunes the HTTP client. Zero values mean "use the client default".
type Fetch struct {
	TimeoutSeconds int     `json:"timeout_seconds,omitempty"`
	Attempts       int     `json:"attempts,omitempty"`
	BackoffMillis  int     `json:"backoff_ms,omitempty"`
	MaxBackoffMS   int     `json:"max_backoff_ms,omitempty"`
	RatePerSecond  float64 `json:"rate_per_second,omitempty"`
	Burst          int     `json:"burst,omitempty"`
	CacheTTLSecs   int     `json:"cache_ttl_seconds,omitempty"`
	UserAgent      string  `json:"user_agent,omitempty"`
}
