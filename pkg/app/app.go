// Package app wires the catalog service together: database, store, change
// bus, cache-key service, and per-partner upstream clients. Both binaries
// bootstrap through it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/opencoursehub/catalog/pkg/cachekeys"
	"github.com/opencoursehub/catalog/pkg/config"
	"github.com/opencoursehub/catalog/pkg/events"
	"github.com/opencoursehub/catalog/pkg/ha"
	"github.com/opencoursehub/catalog/pkg/ingest"
	"github.com/opencoursehub/catalog/pkg/jobs"
	"github.com/opencoursehub/catalog/pkg/pipeline"
	"github.com/opencoursehub/catalog/pkg/store"
	"github.com/opencoursehub/catalog/pkg/upstream"
	"github.com/opencoursehub/catalog/pkg/validate"
)

// defaultSQLitePath is used when no database DSN is configured.
const defaultSQLitePath = "catalog.db"

// responseCacheSize bounds the API response cache.
const responseCacheSize = 4096

// App holds the wired service components.
type App struct {
	Config    *config.Config
	Store     *store.Store
	Bus       *events.Bus
	Keys      *cachekeys.Service
	Responses *cachekeys.Cache
	Logger    *slog.Logger
}

// New opens the database, migrates, seeds reference data, and wires the
// change bus to cache invalidation.
func New(cfg *config.Config) (*App, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	db, err := openDatabase(cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus(logger)
	s := store.New(db, bus, logger)

	// Serialize schema changes across replicas starting against the same
	// database.
	locker := ha.NewMigrationLocker(db)
	err = locker.WithLock(context.Background(), func() error {
		if err := s.AutoMigrate(); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		if err := jobs.NewJobStore(db).AutoMigrate(); err != nil {
			return fmt.Errorf("migrate jobs: %w", err)
		}
		if err := s.SeedDefaults(); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	keys := cachekeys.NewService(cachekeys.NewCache(64, 0))
	responses := cachekeys.NewCache(responseCacheSize, 0)

	// Out-of-ingest record changes invalidate the response cache. During a
	// refresh the bus is suppressed and the pipeline bumps once at the end.
	bus.Subscribe(events.KindAny, func(events.Event) error {
		keys.Bump()
		return nil
	})

	return &App{
		Config:    cfg,
		Store:     s,
		Bus:       bus,
		Keys:      keys,
		Responses: responses,
		Logger:    logger,
	}, nil
}

func openDatabase(dsn string) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}
	if dsn == "" {
		dsn = defaultSQLitePath
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err := gorm.Open(postgres.Open(dsn), gcfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return db, nil
	}
	db, err := gorm.Open(sqlite.Open(dsn), gcfg)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	return db, nil
}

// WithActor returns a copy of the app whose store records history under
// the given actor.
func (a *App) WithActor(actor string) *App {
	clone := *a
	clone.Store = a.Store.WithActor(actor)
	return &clone
}

// SyncPartners upserts partner rows from the partners file definitions.
func (a *App) SyncPartners(partners []config.PartnerEndpoints) error {
	for _, pe := range partners {
		p, err := a.Store.GetPartnerByCode(pe.Code)
		if err != nil {
			p = &store.Partner{ShortCode: pe.Code}
		}
		p.Name = pe.Name
		p.CoursesAPIURL = pe.CoursesURL
		p.EcommerceAPIURL = pe.ProductsURL
		p.ProgramsAPIURL = pe.ProgramsURL
		p.OrganizationsAPIURL = pe.OrganizationsURL
		p.OAuthTokenURL = pe.TokenURL
		p.OAuthClientID = pe.ClientID
		p.OAuthClientSecret = pe.ClientSecret
		p.PublisherManaged = pe.PublisherManaged
		if err := a.Store.SavePartner(p); err != nil {
			return fmt.Errorf("sync partner %s: %w", pe.Code, err)
		}
	}
	return nil
}

// EndpointsFor builds the authenticated upstream client for one partner.
func (a *App) EndpointsFor(p *store.Partner) *upstream.Endpoints {
	httpClient := &http.Client{Timeout: a.Config.Upstream.Timeout}
	var tokens *upstream.TokenSource
	if p.OAuthTokenURL != "" {
		tokens = upstream.NewTokenSource(p.OAuthTokenURL, p.OAuthClientID, p.OAuthClientSecret, httpClient)
	}
	client := upstream.NewClient(httpClient, tokens, upstream.RetryConfig{
		MaxAttempts: a.Config.Upstream.RetryMaxAttempts,
		BaseDelay:   a.Config.Upstream.RetryBackoff,
	}, a.Config.Upstream.RequestsPerSecond, a.Logger)

	return &upstream.Endpoints{
		Client:           client,
		CoursesURL:       p.CoursesAPIURL,
		ProductsURL:      p.EcommerceAPIURL,
		ProgramsURL:      p.ProgramsAPIURL,
		OrganizationsURL: p.OrganizationsAPIURL,
		PageSize:         a.Config.Upstream.PageSize,
	}
}

// AddCurriculumCourse attaches a course to a curriculum after checking
// that the course's runs keep their external keys unique within the
// curriculum's program graph.
func (a *App) AddCurriculumCourse(curriculumID, courseID uint) (*store.CurriculumCourseMembership, error) {
	m := &store.CurriculumCourseMembership{CurriculumID: curriculumID, CourseID: courseID}
	if err := validate.ExternalKeysForMembership(a.Store, m); err != nil {
		return nil, err
	}
	return a.Store.AddCurriculumCourse(curriculumID, courseID)
}

// SaveCurriculum persists a curriculum, re-validating external keys when
// the curriculum moves between programs.
func (a *App) SaveCurriculum(c *store.Curriculum) error {
	if err := validate.ExternalKeysForCurriculum(a.Store, c); err != nil {
		return err
	}
	return a.Store.SaveCurriculum(c)
}

// RefreshPartner runs the full loader pipeline for one partner. It
// satisfies jobs.Refresher, so queued refresh jobs drain through it.
func (a *App) RefreshPartner(ctx context.Context, partnerCode string) error {
	p, err := a.Store.GetPartnerByCode(partnerCode)
	if err != nil {
		return fmt.Errorf("refresh partner %s: %w", partnerCode, err)
	}
	act := a.WithActor("refresh_course_metadata")
	driver := pipeline.NewDriver(act.Store, act.Bus, act.Keys, pipeline.Options{
		Parallel:     act.Config.Refresh.Parallel,
		MaxWorkers:   act.Config.Refresh.MaxWorkers,
		SweepOrphans: act.Config.Refresh.SweepOrphans,
	}, act.Logger)
	return driver.Refresh(ctx, act.LoadersFor(p))
}

// LoadersFor builds the refresh loaders for one partner in pipeline order:
// organizations first, then courses, products, and programs.
func (a *App) LoadersFor(p *store.Partner) []ingest.Loader {
	api := a.EndpointsFor(p)
	publisherManaged := p.PublisherManaged || a.Config.Refresh.PublisherManaged(p.ShortCode)
	return []ingest.Loader{
		ingest.NewOrganizationLoader(a.Store, api, p, a.Logger),
		ingest.NewCourseLoader(a.Store, api, p, publisherManaged, a.Config.Refresh.ChangeThresholdFraction, a.Logger),
		ingest.NewProductLoader(a.Store, api, a.Logger),
		ingest.NewProgramLoader(a.Store, api, p, a.Logger),
	}
}
