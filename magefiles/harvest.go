//go:build mage

package main

import (
	"fmt"
	"os"
	"os/exec"
)

// Sweep runs a harvest over the year window in YEAR_FROM/YEAR_TO.
func Sweep() error {
	yearFrom := os.Getenv("YEAR_FROM")
	yearTo := os.Getenv("YEAR_TO")
	if yearFrom == "" || yearTo == "" {
		return fmt.Errorf("set YEAR_FROM and YEAR_TO")
	}

	cmd := exec.Command("go", "run", "./cmd/evidence-harvester",
		"harvest", "--year-from", yearFrom, "--year-to", yearTo)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
