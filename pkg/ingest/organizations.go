package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opencoursehub/catalog/pkg/store"
	"github.com/opencoursehub/catalog/pkg/upstream"
)

// OrganizationLoader reconciles the organizations API. It runs before the
// other loaders so courses and programs can resolve their organizations.
type OrganizationLoader struct {
	store   *store.Store
	api     *upstream.Endpoints
	partner *store.Partner
	logger  *slog.Logger
}

// NewOrganizationLoader creates the organizations loader for one partner.
func NewOrganizationLoader(s *store.Store, api *upstream.Endpoints, partner *store.Partner, logger *slog.Logger) *OrganizationLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrganizationLoader{
		store:   s,
		api:     api,
		partner: partner,
		logger:  logger.With("loader", "organizations", "partner", partner.ShortCode),
	}
}

func (l *OrganizationLoader) Name() string { return "organizations" }

func (l *OrganizationLoader) Load(ctx context.Context) error {
	failed := 0
	total := 0
	err := l.api.Organizations().Each(ctx, func(rec upstream.OrganizationRecord) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		total++
		if rec.ShortName == "" {
			l.logger.Warn("skipping organization with empty short_name", "name", rec.Name)
			return nil
		}
		_, _, err := l.store.UpsertOrganization(&store.Organization{
			PartnerID:    l.partner.ID,
			Key:          rec.ShortName,
			Name:         rec.Name,
			Description:  rec.Description,
			LogoImageURL: rec.Logo,
		})
		if err != nil {
			l.logger.Error("organization reconciliation failed", "key", rec.ShortName, "error", err)
			failed++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("fetch organizations: %w", err)
	}
	l.logger.Info("organizations loader finished", "records", total, "failed", failed)
	if failed > 0 {
		return fmt.Errorf("organizations loader: %d of %d records failed", failed, total)
	}
	return nil
}
