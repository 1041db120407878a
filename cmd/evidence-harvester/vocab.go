// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xeradb/evidence-harvester/internal/query"
)

var vocabCmd = &cobra.Command{
	Use:   "vocab",
	Short: "Manage the topic vocabulary",
}

var vocabInitCmd = &cobra.Command{
	Use:   "init [file]",
	Short: "Write the built-in vocabulary to a YAML file for editing",
	Long: `Init writes the built-in oral health vocabulary to a YAML file. Edit the
terms and major topics, then pass the file to harvest or plan with
--vocabulary.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "vocabulary.yaml"
		if len(args) > 0 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists; remove it first", path)
		}
		if err := query.WriteVocabularyFile(path, query.DefaultVocabulary()); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", path)
		return nil
	},
}

func init() {
	vocabCmd.AddCommand(vocabInitCmd)
	rootCmd.AddCommand(vocabCmd)
}
