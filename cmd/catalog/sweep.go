package main

import (
	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete images and videos no longer referenced by any record",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			images, err := a.Store.DeleteOrphanImages()
			if err != nil {
				return err
			}
			videos, err := a.Store.DeleteOrphanVideos()
			if err != nil {
				return err
			}
			a.Logger.Info("sweep finished", "images", images, "videos", videos)
			return nil
		},
	}
}
