package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opencoursehub/catalog/pkg/store"
)

func newRefreshCmd() *cobra.Command {
	var (
		partnerCode string
		parallel    bool
		maxWorkers  int
	)

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Refresh course metadata from upstream sources",
		Long: `Refresh course metadata for one partner, or for every configured
partner when --partner is omitted. Loaders run in source order:
organizations, courses, e-commerce products, programs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			if parallel {
				a.Config.Refresh.Parallel = true
			}
			if maxWorkers > 0 {
				a.Config.Refresh.MaxWorkers = maxWorkers
			}

			var partners []store.Partner
			if partnerCode != "" {
				p, err := a.Store.GetPartnerByCode(partnerCode)
				if err != nil {
					return err
				}
				partners = []store.Partner{*p}
			} else {
				partners, err = a.Store.ListPartners()
				if err != nil {
					return err
				}
			}
			if len(partners) == 0 {
				return fmt.Errorf("no partners configured; set CATALOG_PARTNERS_FILE")
			}

			failed := 0
			for i := range partners {
				p := &partners[i]
				a.Logger.Info("refreshing partner", "partner", p.ShortCode)
				if err := a.RefreshPartner(cmd.Context(), p.ShortCode); err != nil {
					a.Logger.Error("refresh failed", "partner", p.ShortCode, "error", err)
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("refresh failed for %d of %d partners", failed, len(partners))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&partnerCode, "partner", "", "Partner short code (omit to refresh all)")
	cmd.Flags().BoolVar(&parallel, "parallel", false, "Run loaders concurrently")
	cmd.Flags().IntVar(&maxWorkers, "max-workers", 0, "Loader pool size in parallel mode")

	return cmd
}
