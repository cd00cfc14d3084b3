package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/opencoursehub/catalog/pkg/store"
	"github.com/opencoursehub/catalog/pkg/upstream"
)

// bannerSize is the upstream rendition the catalog stores as the program
// banner source.
const bannerSize = "w1440h480"

// ProgramLoader reconciles the programs API: program records, their
// authoring organizations, their course membership derived from run modes,
// and the per-course excluded-run sets.
type ProgramLoader struct {
	store   *store.Store
	api     *upstream.Endpoints
	partner *store.Partner
	logger  *slog.Logger
}

// NewProgramLoader creates the programs loader for one partner.
func NewProgramLoader(s *store.Store, api *upstream.Endpoints, partner *store.Partner, logger *slog.Logger) *ProgramLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProgramLoader{
		store:   s,
		api:     api,
		partner: partner,
		logger:  logger.With("loader", "programs", "partner", partner.ShortCode),
	}
}

func (l *ProgramLoader) Name() string { return "programs" }

func (l *ProgramLoader) Load(ctx context.Context) error {
	failed := 0
	total := 0
	err := l.api.Programs().Each(ctx, func(rec upstream.ProgramRecord) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		total++
		if err := l.reconcile(ctx, &rec); err != nil {
			l.logger.Error("program reconciliation failed", "uuid", rec.UUID, "error", err)
			failed++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("fetch programs: %w", err)
	}
	l.logger.Info("programs loader finished", "records", total, "failed", failed)
	if failed > 0 {
		return fmt.Errorf("programs loader: %d of %d records failed", failed, total)
	}
	return nil
}

func (l *ProgramLoader) reconcile(ctx context.Context, rec *upstream.ProgramRecord) error {
	if rec.UUID == "" {
		return &ValidationError{Record: rec.Name, Reason: "program carries no uuid"}
	}

	program, err := l.store.GetProgramByUUID(l.partner.ID, rec.UUID)
	if errors.Is(err, store.ErrProgramNotFound) {
		program = &store.Program{PartnerID: l.partner.ID, UUID: rec.UUID}
	} else if err != nil {
		return err
	}

	program.Title = rec.Name
	program.Subtitle = rec.Subtitle
	program.MarketingSlug = rec.MarketingSlug
	program.Status = store.ProgramStatus(rec.Status)

	if rec.Category != "" {
		pt, err := l.store.GetProgramType(rec.Category)
		if err != nil {
			return &ValidationError{Record: rec.UUID, Reason: fmt.Sprintf("unknown program type %q", rec.Category)}
		}
		program.TypeID = &pt.ID
	}

	l.applyBanner(ctx, program, rec)

	program, _, err = l.store.SaveProgram(program)
	if err != nil {
		return err
	}

	if err := l.applyOrganizations(program, rec); err != nil {
		return err
	}
	return l.applyCourses(program, rec)
}

// applyBanner downloads a changed banner image. Failures leave the program
// with its previous banner and never abort the upsert.
func (l *ProgramLoader) applyBanner(ctx context.Context, program *store.Program, rec *upstream.ProgramRecord) {
	src := rec.BannerImageURLs[bannerSize]
	if src == "" || src == program.BannerImageURL {
		return
	}
	if _, err := l.api.Client.GetBytes(ctx, src); err != nil {
		ierr := &ImageError{URL: src, Err: err}
		l.logger.Warn("program banner download failed", "uuid", rec.UUID, "error", ierr)
		return
	}
	img, err := l.store.GetOrCreateImage(src, 1440, 480)
	if err != nil {
		l.logger.Warn("program banner store failed", "uuid", rec.UUID, "error", err)
		return
	}
	program.BannerImageURL = src
	program.BannerImageID = &img.ID
}

// applyOrganizations resolves the program's authoring organizations. An
// unknown organization empties the set so a half-attributed program is
// never published.
func (l *ProgramLoader) applyOrganizations(program *store.Program, rec *upstream.ProgramRecord) error {
	orgs := make([]store.Organization, 0, len(rec.Organizations))
	for _, key := range rec.Organizations {
		org, err := l.store.GetOrganization(l.partner.ID, key)
		if errors.Is(err, store.ErrOrganizationNotFound) {
			l.logger.Error("program references unknown organization",
				"uuid", rec.UUID, "organization", key)
			return l.store.SetProgramOrganizations(program, nil)
		}
		if err != nil {
			return err
		}
		orgs = append(orgs, *org)
	}
	return l.store.SetProgramOrganizations(program, orgs)
}

// applyCourses rebuilds the program's course membership from its run
// modes, and recomputes excluded_course_runs as each member course's runs
// not named upstream.
func (l *ProgramLoader) applyCourses(program *store.Program, rec *upstream.ProgramRecord) error {
	var runKeys []string
	for _, code := range rec.CourseCodes {
		for _, rm := range code.RunModes {
			runKeys = append(runKeys, rm.CourseKey)
		}
	}

	courses, err := l.store.CoursesByRunKeys(runKeys)
	if err != nil {
		return err
	}
	if err := l.store.SetProgramCourses(program, courses); err != nil {
		return err
	}

	courseIDs := make([]uint, len(courses))
	for i := range courses {
		courseIDs[i] = courses[i].ID
	}
	excluded, err := l.store.RunsOfCoursesExcept(courseIDs, runKeys)
	if err != nil {
		return err
	}
	return l.store.SetProgramExcludedRuns(program, excluded)
}
