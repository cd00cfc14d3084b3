// Package main provides the catalog CLI: management commands for running
// metadata refreshes, the scheduled publisher, and maintenance sweeps
// directly against the catalog database.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opencoursehub/catalog/pkg/app"
	"github.com/opencoursehub/catalog/pkg/config"
)

var version = "dev"

// bootstrap builds the wired application from env config plus the
// partners file, when configured.
func bootstrap() (*app.App, error) {
	cfg := config.FromEnv()
	a, err := app.New(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.PartnersFile != "" {
		partners, err := config.LoadPartners(cfg.PartnersFile)
		if err != nil {
			return nil, err
		}
		if err := a.SyncPartners(partners); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:     "catalog",
		Short:   "Course catalog management CLI",
		Long:    "Management commands for the course catalog: refresh metadata from upstream sources, run the scheduled publisher, and sweep orphaned media.",
		Version: version,
	}

	rootCmd.AddCommand(newRefreshCmd())
	rootCmd.AddCommand(newPublishCmd())
	rootCmd.AddCommand(newSweepCmd())
	rootCmd.AddCommand(newStatusCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
