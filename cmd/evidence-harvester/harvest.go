// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/xeradb/evidence-harvester/internal/harvest"
	"github.com/xeradb/evidence-harvester/internal/ledger"
	"github.com/xeradb/evidence-harvester/internal/query"
	"github.com/xeradb/evidence-harvester/internal/ratelimit"
	"github.com/xeradb/evidence-harvester/internal/source"
	"github.com/xeradb/evidence-harvester/internal/stats"
	"github.com/xeradb/evidence-harvester/internal/store"
	"github.com/xeradb/evidence-harvester/pkg/types"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "evidence-harvester/0.1"
	defaultPageSize  = 200
)

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Run a harvesting sweep over the configured year window",
	Long: `Harvest plans one partition per source per year, skips partitions the
ledger already marks terminal, and fetches the rest page by page under a
shared rate limit. Records are stored once under their stable identifier;
re-running a sweep is a cheap no-op for records already on disk.

A sweep interrupted with Ctrl-C leaves in-flight partitions pending and
resumes them on the next run.`,
	RunE: runHarvest,
}

func init() {
	harvestCmd.Flags().String("corpus-dir", "corpus", "base directory for the corpus (contains records/, by_year/)")
	harvestCmd.Flags().String("ledger-dir", "", "directory for the partition ledger (default: corpus dir)")
	harvestCmd.Flags().Int("year-from", 0, "first publication year of the sweep (required)")
	harvestCmd.Flags().Int("year-to", 0, "last publication year of the sweep (required)")
	harvestCmd.Flags().Int("cutover-year", 0, "first year harvested with the controlled vocabulary (default 1966)")
	harvestCmd.Flags().String("scope", "both", "searched fields for broad queries: title, abstract, or both")
	harvestCmd.Flags().String("vocabulary", "", "YAML vocabulary file (default: built-in oral health vocabulary)")
	harvestCmd.Flags().String("sources", "openalex,pubmed", "comma-separated sources to harvest (openalex, pubmed, clinicaltrials)")
	harvestCmd.Flags().Int("workers", 2, "concurrent partition workers")
	harvestCmd.Flags().Int("retry-attempts", 3, "retry budget per page for transient fetch failures")
	harvestCmd.Flags().Int("max-records", 0, "stop after storing this many new records (0 = unlimited)")
	harvestCmd.Flags().Int("page-size", defaultPageSize, "records requested per page")
	harvestCmd.Flags().Float64("rps", 0, "sustained requests per second across all workers (0 = source-safe default)")
	harvestCmd.Flags().Duration("min-interval", 0, "minimum gap between consecutive requests")
	harvestCmd.Flags().Duration("timeout", 0, "HTTP request timeout (default 30s)")
	harvestCmd.Flags().String("email", "", "contact email sent to OpenAlex (or .secrets/openalex-email)")
	harvestCmd.Flags().String("ncbi-api-key", "", "NCBI API key for higher PubMed rate limits (or .secrets/ncbi-api-key)")

	rootCmd.AddCommand(harvestCmd)
}

func runHarvest(cmd *cobra.Command, args []string) error {
	cfg, err := harvestConfigFromFlags(cmd)
	if err != nil {
		return err
	}
	vocab, err := loadVocabulary(cfg.VocabularyFile)
	if err != nil {
		return err
	}
	scope, err := parseScope(cfg.Scope)
	if err != nil {
		return err
	}

	fileStore, err := store.NewFileStore(cfg.OutputDir)
	if err != nil {
		return err
	}
	ledgerDir := cfg.LedgerDir
	if ledgerDir == "" {
		ledgerDir = cfg.OutputDir
	}
	led, err := ledger.Open(ledgerDir)
	if err != nil {
		return err
	}
	defer led.Close()

	limiter := ratelimit.New(cfg.RateLimit)
	client := &http.Client{Timeout: cfg.Timeout}

	var backends []source.Backend
	if cfg.OpenAlex.Enabled {
		backends = append(backends, &source.OpenAlexBackend{
			Client:     client,
			HTTP:       cfg.HTTPConfig,
			Config:     cfg.OpenAlex,
			MaxRetries: cfg.RetryAttempts,
		})
	}
	if cfg.PubMed.Enabled {
		backends = append(backends, &source.PubMedBackend{
			Client:     client,
			HTTP:       cfg.HTTPConfig,
			Config:     cfg.PubMed,
			Gate:       limiter,
			MaxRetries: cfg.RetryAttempts,
		})
	}
	if cfg.ClinicalTrials.Enabled {
		backends = append(backends, &source.ClinicalTrialsBackend{
			Client:     client,
			HTTP:       cfg.HTTPConfig,
			Config:     cfg.ClinicalTrials,
			MaxRetries: cfg.RetryAttempts,
		})
	}
	if len(backends) == 0 {
		return fmt.Errorf("no sources enabled: use --sources with at least one of openalex, pubmed, clinicaltrials")
	}

	runID := uuid.NewString()
	orch := &harvest.Orchestrator{
		Config: harvest.HarvestSettings{
			OutputDir:     cfg.OutputDir,
			YearFrom:      cfg.YearFrom,
			YearTo:        cfg.YearTo,
			CutoverYear:   cfg.CutoverYear,
			Scope:         scope,
			Vocabulary:    vocab,
			Workers:       cfg.Workers,
			RetryAttempts: cfg.RetryAttempts,
			MaxRecords:    cfg.MaxRecords,
		},
		Backends: backends,
		Limiter:  limiter,
		Store:    fileStore,
		Ledger:   led,
		Stats:    stats.New(runID),
		Out:      os.Stdout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stdout, "run %s: years %d-%d, %d worker(s)\n", runID, cfg.YearFrom, cfg.YearTo, cfg.Workers)
	summary, err := orch.Run(ctx, runID)
	fmt.Fprintln(os.Stdout, summary.String())
	return err
}

func harvestConfigFromFlags(cmd *cobra.Command) (types.HarvestConfig, error) {
	yearFrom, _ := cmd.Flags().GetInt("year-from")
	yearTo, _ := cmd.Flags().GetInt("year-to")
	if yearFrom <= 0 || yearTo <= 0 {
		return types.HarvestConfig{}, fmt.Errorf("provide --year-from and --year-to")
	}
	if yearFrom > yearTo {
		return types.HarvestConfig{}, fmt.Errorf("--year-from %d is after --year-to %d", yearFrom, yearTo)
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout == 0 {
		timeout = defaultTimeout
	}
	corpusDir, _ := cmd.Flags().GetString("corpus-dir")
	ledgerDir, _ := cmd.Flags().GetString("ledger-dir")
	cutover, _ := cmd.Flags().GetInt("cutover-year")
	scope, _ := cmd.Flags().GetString("scope")
	vocabFile, _ := cmd.Flags().GetString("vocabulary")
	workers, _ := cmd.Flags().GetInt("workers")
	retries, _ := cmd.Flags().GetInt("retry-attempts")
	maxRecords, _ := cmd.Flags().GetInt("max-records")
	pageSize, _ := cmd.Flags().GetInt("page-size")
	rps, _ := cmd.Flags().GetFloat64("rps")
	minInterval, _ := cmd.Flags().GetDuration("min-interval")
	email, _ := cmd.Flags().GetString("email")
	apiKey, _ := cmd.Flags().GetString("ncbi-api-key")
	sources, _ := cmd.Flags().GetString("sources")

	enabled := map[string]bool{}
	for _, s := range strings.Split(sources, ",") {
		s = strings.ToLower(strings.TrimSpace(s))
		switch s {
		case "openalex", "pubmed", "clinicaltrials":
			enabled[s] = true
		case "":
		default:
			return types.HarvestConfig{}, fmt.Errorf("unknown source %q: use openalex, pubmed, or clinicaltrials", s)
		}
	}

	return types.HarvestConfig{
		HTTPConfig: types.HTTPConfig{
			Timeout:   timeout,
			UserAgent: defaultUserAgent,
		},
		OutputDir:      corpusDir,
		LedgerDir:      ledgerDir,
		YearFrom:       yearFrom,
		YearTo:         yearTo,
		CutoverYear:    cutover,
		Scope:          scope,
		VocabularyFile: vocabFile,
		Workers:        workers,
		RetryAttempts:  retries,
		MaxRecords:     maxRecords,
		RateLimit: types.RateLimitConfig{
			RequestsPerSecond: rps,
			MinInterval:       minInterval,
		},
		OpenAlex: types.OpenAlexConfig{
			Enabled:  enabled["openalex"],
			Email:    secretDefault("openalex-email", email),
			PageSize: pageSize,
		},
		PubMed: types.PubMedConfig{
			Enabled:  enabled["pubmed"],
			APIKey:   secretDefault("ncbi-api-key", apiKey),
			PageSize: pageSize,
		},
		ClinicalTrials: types.ClinicalTrialsConfig{
			Enabled:  enabled["clinicaltrials"],
			PageSize: pageSize,
		},
	}, nil
}

func loadVocabulary(path string) (query.Vocabulary, error) {
	if path == "" {
		return query.DefaultVocabulary(), nil
	}
	return query.ReadVocabularyFile(path)
}

func parseScope(s string) (query.FieldScope, error) {
	switch query.FieldScope(strings.ToLower(s)) {
	case query.ScopeTitle:
		return query.ScopeTitle, nil
	case query.ScopeAbstract:
		return query.ScopeAbstract, nil
	case query.ScopeBoth, "":
		return query.ScopeBoth, nil
	}
	return "", fmt.Errorf("unknown scope %q: use title, abstract, or both", s)
}
