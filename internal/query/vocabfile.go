// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package query

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"
)

// ReadVocabularyFile loads a term vocabulary from a YAML file. A vocabulary
// needs at least one free-text term; major topics are optional because the
// broad dialect never uses them.
func ReadVocabularyFile(path string) (Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Vocabulary{}, fmt.Errorf("reading vocabulary file: %w", err)
	}
	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return Vocabulary{}, fmt.Errorf("parsing vocabulary file: %w", err)
	}
	if len(v.Terms) == 0 {
		return Vocabulary{}, fmt.Errorf("vocabulary file %s defines no terms", path)
	}
	return v, nil
}

// WriteVocabularyFile saves a vocabulary to a YAML file, e.g. as a starting
// point for customizing the built-in term set.
func WriteVocabularyFile(path string, v Vocabulary) error {
	data, err := yaml.Marshal(&v)
	if err != nil {
		return fmt.Errorf("marshaling vocabulary: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
