// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xeradb/evidence-harvester/internal/ledger"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect or reset the partition ledger",
	Long: `Ledger manages the sweep state database. Use status to list every
partition with its state and record counts, reset to requeue failed
partitions, and reset --all to requeue everything.

Resetting never deletes stored records; refetched records that already
exist on disk are skipped.`,
}

// --- status subcommand ---

var ledgerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List partitions with their state and record counts",
	RunE:  runLedgerStatus,
}

func runLedgerStatus(cmd *cobra.Command, args []string) error {
	led, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer led.Close()

	rows, err := led.List()
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("Ledger is empty; no sweep has run here yet.")
		return nil
	}

	fmt.Fprintf(os.Stdout, "%-24s  %-10s  %-8s  %10s  %8s  %s\n",
		"Partition", "Dialect", "Status", "Matches", "Fetched", "Updated")
	for _, r := range rows {
		fmt.Fprintf(os.Stdout, "%-24s  %-10s  %-8s  %10d  %8d  %s\n",
			r.Key, r.Dialect, r.Status, r.TotalMatches, r.Fetched, r.UpdatedAt)
	}
	fmt.Fprintf(os.Stdout, "\n%d partitions\n", len(rows))
	return nil
}

// --- reset subcommand ---

var ledgerResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Requeue failed partitions (or all, with --all)",
	RunE:  runLedgerReset,
}

func runLedgerReset(cmd *cobra.Command, args []string) error {
	led, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer led.Close()

	all, _ := cmd.Flags().GetBool("all")
	var n int
	if all {
		n, err = led.ResetAll()
	} else {
		n, err = led.ResetFailed()
	}
	if err != nil {
		return err
	}
	fmt.Printf("reset %d partition(s) to pending\n", n)
	return nil
}

func openLedger(cmd *cobra.Command) (*ledger.Ledger, error) {
	dir, _ := cmd.Flags().GetString("ledger-dir")
	if dir == "" {
		dir, _ = cmd.Flags().GetString("corpus-dir")
	}
	return ledger.Open(dir)
}

func init() {
	ledgerCmd.PersistentFlags().String("corpus-dir", "corpus", "base directory for the corpus")
	ledgerCmd.PersistentFlags().String("ledger-dir", "", "directory of the partition ledger (default: corpus dir)")

	ledgerResetCmd.Flags().Bool("all", false, "reset every partition, not just failed ones")

	ledgerCmd.AddCommand(ledgerStatusCmd)
	ledgerCmd.AddCommand(ledgerResetCmd)

	rootCmd.AddCommand(ledgerCmd)
}
