package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/opencoursehub/catalog/pkg/review"
)

func newPublishCmd() *cobra.Command {
	var republish bool

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish reviewed course runs whose go-live date has passed",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			act := a.WithActor("publish_to_marketing_site")
			pub := review.NewPublisher(act.Store, act.Logger)

			now := time.Now().UTC()
			published, err := pub.PublishDue(cmd.Context(), now)
			if err != nil {
				return err
			}
			act.Logger.Info("publish sweep finished", "published", published)

			if republish {
				republished, err := pub.RepublishEnded(cmd.Context(), now)
				if err != nil {
					return err
				}
				act.Logger.Info("republish sweep finished", "republished", republished)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&republish, "republish-ended", false, "also republish the next run of courses whose published run has ended")
	return cmd
}
