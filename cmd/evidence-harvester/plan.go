// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xeradb/evidence-harvester/internal/harvest"
	"github.com/xeradb/evidence-harvester/internal/source"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Preview the partition plan without touching the network",
	Long: `Plan prints the partitions a harvest sweep would work through: one per
source per year, with the resolved query dialect and the exact query
expression each source would receive. Nothing is fetched or stored.`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().Int("year-from", 0, "first publication year of the sweep (required)")
	planCmd.Flags().Int("year-to", 0, "last publication year of the sweep (required)")
	planCmd.Flags().Int("cutover-year", 0, "first year planned with the controlled vocabulary (default 1966)")
	planCmd.Flags().String("scope", "both", "searched fields for broad queries: title, abstract, or both")
	planCmd.Flags().String("vocabulary", "", "YAML vocabulary file (default: built-in oral health vocabulary)")
	planCmd.Flags().String("sources", "openalex,pubmed", "comma-separated sources to plan (openalex, pubmed, clinicaltrials)")
	planCmd.Flags().Bool("json", false, "output the plan as JSON")

	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	yearFrom, _ := cmd.Flags().GetInt("year-from")
	yearTo, _ := cmd.Flags().GetInt("year-to")
	if yearFrom <= 0 || yearTo <= 0 {
		return fmt.Errorf("provide --year-from and --year-to")
	}
	if yearFrom > yearTo {
		return fmt.Errorf("--year-from %d is after --year-to %d", yearFrom, yearTo)
	}

	scopeFlag, _ := cmd.Flags().GetString("scope")
	scope, err := parseScope(scopeFlag)
	if err != nil {
		return err
	}
	vocabFile, _ := cmd.Flags().GetString("vocabulary")
	vocab, err := loadVocabulary(vocabFile)
	if err != nil {
		return err
	}
	cutover, _ := cmd.Flags().GetInt("cutover-year")
	sources, _ := cmd.Flags().GetString("sources")

	// Planning needs only Name and BuildQuery, so the backends carry no
	// HTTP client here.
	var backends []source.Backend
	for _, s := range strings.Split(sources, ",") {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "openalex":
			backends = append(backends, &source.OpenAlexBackend{})
		case "pubmed":
			backends = append(backends, &source.PubMedBackend{})
		case "clinicaltrials":
			backends = append(backends, &source.ClinicalTrialsBackend{})
		case "":
		default:
			return fmt.Errorf("unknown source %q: use openalex, pubmed, or clinicaltrials", s)
		}
	}

	orch := &harvest.Orchestrator{
		Config: harvest.HarvestSettings{
			YearFrom:    yearFrom,
			YearTo:      yearTo,
			CutoverYear: cutover,
			Scope:       scope,
			Vocabulary:  vocab,
		},
		Backends: backends,
	}
	partitions := orch.Plan()

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(partitions)
	}

	for _, p := range partitions {
		fmt.Fprintf(os.Stdout, "%-24s  %-10s  %s\n", p.Key(), p.Dialect, p.Query)
	}
	fmt.Fprintf(os.Stdout, "\n%d partitions\n", len(partitions))
	return nil
}
