package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencoursehub/catalog/pkg/api"
	"github.com/opencoursehub/catalog/pkg/app"
	"github.com/opencoursehub/catalog/pkg/config"
	"github.com/opencoursehub/catalog/pkg/jobs"
	"github.com/opencoursehub/catalog/pkg/review"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		listenAddr      string
		publishInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:     "catalog-server",
		Short:   "Serve the course catalog read API",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			if listenAddr != "" {
				cfg.ListenAddr = listenAddr
			}

			a, err := app.New(cfg)
			if err != nil {
				return err
			}
			if cfg.PartnersFile != "" {
				partners, err := config.LoadPartners(cfg.PartnersFile)
				if err != nil {
					return err
				}
				if err := a.SyncPartners(partners); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if publishInterval > 0 {
				go runPublisher(ctx, a, publishInterval)
			}

			jobStore := jobs.NewJobStore(a.Store.DB())
			jobCfg := jobs.JobConfigFromEnv()
			go jobs.NewWorkerPool(jobStore, a, jobCfg, a.Logger).Run(ctx)

			router := api.NewServer(a.Store, a.Keys, a.Responses, a.Logger).Router()
			router.Mount("/api/v1/refresh_jobs", jobs.Router(jobStore))

			srv := &http.Server{
				Addr:         cfg.ListenAddr,
				Handler:      router,
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 30 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.Logger.Info("catalog server listening", "addr", cfg.ListenAddr, "version", version)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			a.Logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (overrides CATALOG_LISTEN_ADDR)")
	cmd.Flags().DurationVar(&publishInterval, "publish-interval", 0, "run the publisher sweep on this interval (0 disables)")
	return cmd
}

// runPublisher periodically publishes reviewed runs whose go-live date has
// passed and republishes courses whose published run has ended.
func runPublisher(ctx context.Context, a *app.App, interval time.Duration) {
	act := a.WithActor("publish_to_marketing_site")
	pub := review.NewPublisher(act.Store, act.Logger)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		now := time.Now().UTC()
		if n, err := pub.PublishDue(ctx, now); err != nil {
			act.Logger.Error("publish sweep failed", "error", err)
		} else if n > 0 {
			act.Logger.Info("publish sweep finished", "published", n)
		}
		if n, err := pub.RepublishEnded(ctx, now); err != nil {
			act.Logger.Error("republish sweep failed", "error", err)
		} else if n > 0 {
			act.Logger.Info("republish sweep finished", "republished", n)
		}
	}
}
