package types

import "time"

// HTTPConfig holds shared HTTP settings used by sources that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "evidence-harvester/0.1 (mailto:oral.research@xeradb.com)").
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// RateLimitConfig bounds the outbound request rate for the whole process.
// One limiter is shared by every source and worker.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained request rate ceiling.
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`

	// Burst is the token-bucket burst size (default 1).
	Burst int `json:"burst" yaml:"burst"`

	// MinInterval is the minimum gap between consecutive requests,
	// enforced in addition to the bucket rate.
	MinInterval time.Duration `json:"min_interval" yaml:"min_interval"`
}

// OpenAlexConfig holds settings for the OpenAlex works source.
type OpenAlexConfig struct {
	// Enabled controls whether OpenAlex partitions are planned.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Email is sent as the mailto parameter for polite pool access.
	Email string `json:"email,omitempty" yaml:"email,omitempty"`

	// PageSize is the per-page record count (default 200, the API maximum).
	PageSize int `json:"page_size" yaml:"page_size"`

	// Select is the comma-separated field list requested from the API.
	// Empty means the built-in default list.
	Select string `json:"select,omitempty" yaml:"select,omitempty"`
}

// PubMedConfig holds settings for the PubMed E-utilities source.
type PubMedConfig struct {
	// Enabled controls whether PubMed partitions are planned.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// APIKey is an optional NCBI API key for higher rate limits.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// Tool identifies this client to NCBI (sent as the tool parameter).
	Tool string `json:"tool,omitempty" yaml:"tool,omitempty"`

	// PageSize is the number of ids fetched per esearch/efetch round (default 200).
	PageSize int `json:"page_size" yaml:"page_size"`
}

// ClinicalTrialsConfig holds settings for the ClinicalTrials.gov source.
type ClinicalTrialsConfig struct {
	// Enabled controls whether ClinicalTrials.gov partitions are planned.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// PageSize is the per-page study count (default 100, the API maximum).
	PageSize int `json:"page_size" yaml:"page_size"`
}

// HarvestConfig groups all settings for a harvesting sweep.
type HarvestConfig struct {
	HTTPConfig `yaml:",inline"`

	// OutputDir is the corpus root (contains records/ and by_year/).
	OutputDir string `json:"output_dir" yaml:"output_dir"`

	// LedgerDir is the directory for the partition ledger database.
	// Empty means OutputDir.
	LedgerDir string `json:"ledger_dir,omitempty" yaml:"ledger_dir,omitempty"`

	// YearFrom and YearTo bound the sweep; one partition is planned per
	// source per year in [YearFrom, YearTo].
	YearFrom int `json:"year_from" yaml:"year_from"`
	YearTo   int `json:"year_to" yaml:"year_to"`

	// CutoverYear is the first year for which the controlled-vocabulary
	// query dialect is used; earlier partitions use the broad free-text
	// dialect (default 1966, when MEDLINE indexing began).
	CutoverYear int `json:"cutover_year" yaml:"cutover_year"`

	// Scope selects the searched fields for broad queries: title,
	// abstract, or both (default both).
	Scope string `json:"scope" yaml:"scope"`

	// VocabularyFile is an optional YAML term vocabulary; empty means the
	// built-in oral health vocabulary.
	VocabularyFile string `json:"vocabulary_file,omitempty" yaml:"vocabulary_file,omitempty"`

	// Workers is the number of concurrent partition workers (default 2).
	Workers int `json:"workers" yaml:"workers"`

	// RetryAttempts is the per-page retry budget for transient fetch
	// failures (default 3).
	RetryAttempts int `json:"retry_attempts" yaml:"retry_attempts"`

	// MaxRecords stops the sweep after this many stored records; zero
	// means unlimited.
	MaxRecords int `json:"max_records,omitempty" yaml:"max_records,omitempty"`

	RateLimit      RateLimitConfig      `json:"rate_limit" yaml:"rate_limit"`
	OpenAlex       OpenAlexConfig       `json:"openalex" yaml:"openalex"`
	PubMed         PubMedConfig         `json:"pubmed" yaml:"pubmed"`
	ClinicalTrials ClinicalTrialsConfig `json:"clinicaltrials" yaml:"clinicaltrials"`
}
