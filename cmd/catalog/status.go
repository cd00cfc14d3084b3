package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencoursehub/catalog/pkg/store"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print catalog record counts and the current cache timestamp",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			counts := []struct {
				label string
				model any
			}{
				{"partners", &store.Partner{}},
				{"organizations", &store.Organization{}},
				{"courses", &store.Course{}},
				{"course runs", &store.CourseRun{}},
				{"programs", &store.Program{}},
				{"seats", &store.Seat{}},
			}
			for _, c := range counts {
				var n int64
				if err := a.Store.DB().Model(c.model).Count(&n).Error; err != nil {
					return fmt.Errorf("counting %s: %w", c.label, err)
				}
				fmt.Fprintf(out, "%-14s %d\n", c.label, n)
			}

			var paired, draftOnly, officialOnly int
			err = a.Store.PairIterateCourseRuns(func(pair store.CourseRunPair) error {
				switch {
				case pair.Draft != nil && pair.Official != nil:
					paired++
				case pair.Draft != nil:
					draftOnly++
				default:
					officialOnly++
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("pairing course runs: %w", err)
			}
			fmt.Fprintf(out, "%-14s %d paired, %d draft-only, %d official-only\n",
				"run twins", paired, draftOnly, officialOnly)

			ts := a.Keys.Timestamp()
			fmt.Fprintf(out, "%-14s %d (%s)\n", "cache epoch", ts, time.Unix(0, ts).UTC().Format(time.RFC3339))
			return nil
		},
	}
}
