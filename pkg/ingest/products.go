package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/opencoursehub/catalog/pkg/store"
	"github.com/opencoursehub/catalog/pkg/upstream"
)

// Product classes recognized by the e-commerce loader.
const (
	classSeat           = "Seat"
	classEnrollmentCode = "Enrollment Code"
	classEntitlement    = "Course Entitlement"
)

// ProductLoader reconciles the e-commerce products API into Seats and
// CourseEntitlements. E-commerce is the source of truth for pricing: seats
// and entitlements that stop appearing upstream are removed.
type ProductLoader struct {
	store  *store.Store
	api    *upstream.Endpoints
	logger *slog.Logger

	seenSeats        map[uint]map[store.SeatIdentity]bool
	seenRunKeys      map[uint]string
	seenEntitlements map[string]bool
	violations       []TypeViolation
}

// NewProductLoader creates the e-commerce loader.
func NewProductLoader(s *store.Store, api *upstream.Endpoints, logger *slog.Logger) *ProductLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProductLoader{
		store:  s,
		api:    api,
		logger: logger.With("loader", "products"),
	}
}

func (l *ProductLoader) Name() string { return "products" }

// Load pages the products API and reconciles every record, then removes
// seats and entitlements that did not reappear and upgrades empty run and
// course types from the observed seat sets. Seat types incompatible with
// an assigned run type are collected and raised at the end so every
// offender is reported.
func (l *ProductLoader) Load(ctx context.Context) error {
	l.seenSeats = make(map[uint]map[store.SeatIdentity]bool)
	l.seenRunKeys = make(map[uint]string)
	l.seenEntitlements = make(map[string]bool)
	l.violations = nil

	failed := 0
	err := l.api.Products("").Each(ctx, func(p upstream.ProductRecord) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.reconcile(&p); err != nil {
			l.logger.Error("product reconciliation failed", "product", p.Title, "id", p.ID, "error", err)
			failed++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("fetch products: %w", err)
	}

	if err := l.finish(); err != nil {
		return err
	}
	if len(l.violations) > 0 {
		return &TypeViolationError{Violations: l.violations}
	}
	if failed > 0 {
		return fmt.Errorf("products loader: %d records failed", failed)
	}
	return nil
}

func (l *ProductLoader) reconcile(p *upstream.ProductRecord) error {
	switch {
	case p.ProductClass == classEntitlement:
		return l.reconcileEntitlement(p)
	case p.Structure == "parent" && p.ProductClass == classSeat:
		return l.reconcileRunProducts(p)
	case p.Structure == "standalone" && p.ProductClass == classEnrollmentCode:
		return l.reconcileEnrollmentCode(p)
	case p.Structure == "parent":
		return nil
	default:
		// Bare children arrive inside their parent; anything else is an
		// upstream product class the catalog does not track.
		return nil
	}
}

// reconcileRunProducts handles a parent seat product and its child seats.
func (l *ProductLoader) reconcileRunProducts(p *upstream.ProductRecord) error {
	runKey := p.Attribute("course_key")
	if runKey == "" {
		return &ValidationError{Record: p.Title, Reason: "parent product carries no course_key attribute"}
	}
	run, err := l.store.GetCourseRunByKey(runKey, false)
	if errors.Is(err, store.ErrCourseRunNotFound) {
		l.logger.Warn("skipping products for unknown course run", "run", runKey)
		return nil
	}
	if err != nil {
		return err
	}

	if _, ok := l.seenSeats[run.ID]; !ok {
		l.seenSeats[run.ID] = make(map[store.SeatIdentity]bool)
		l.seenRunKeys[run.ID] = run.Key
	}

	for i := range p.Children {
		if err := l.reconcileSeat(run, &p.Children[i]); err != nil {
			l.logger.Warn("skipping seat", "run", runKey, "seat", p.Children[i].Title, "error", err)
		}
	}
	return nil
}

func (l *ProductLoader) reconcileSeat(run *store.CourseRun, child *upstream.ProductRecord) error {
	if len(child.StockRecords) == 0 {
		return &ValidationError{Record: child.Title, Reason: "seat product has no stockrecord"}
	}
	stock := child.StockRecords[0]

	if _, err := l.store.GetCurrency(stock.PriceCurrency); err != nil {
		// Unknown currency: the seat cannot be priced locally.
		l.logger.Warn("skipping seat with unknown currency",
			"run", run.Key, "currency", stock.PriceCurrency)
		return nil
	}

	price, err := decimal.NewFromString(stock.PriceExclTax)
	if err != nil {
		return &ValidationError{Record: child.Title, Reason: "unparseable price", Err: err}
	}

	seatType := child.Attribute("certificate_type")
	if seatType == "" {
		seatType = store.SeatAudit
	}

	seat := &store.Seat{
		CourseRunID:     run.ID,
		Type:            seatType,
		CreditProvider:  child.Attribute("credit_provider"),
		CurrencyCode:    stock.PriceCurrency,
		Price:           price,
		SKU:             stock.PartnerSKU,
		UpgradeDeadline: parseTime(child.ExpiresAt),
	}
	if hours := child.Attribute("credit_hours"); hours != "" {
		if n, err := strconv.Atoi(hours); err == nil {
			seat.CreditHours = &n
		}
	}

	stored, _, err := l.store.UpsertSeat(seat)
	if err != nil {
		return err
	}
	l.seenSeats[run.ID][stored.Identity()] = true
	return nil
}

// reconcileEnrollmentCode attaches a bulk purchase SKU to the matching
// seat of its run.
func (l *ProductLoader) reconcileEnrollmentCode(p *upstream.ProductRecord) error {
	runKey := p.Attribute("course_key")
	seatType := p.Attribute("seat_type")
	if runKey == "" || seatType == "" {
		return &ValidationError{Record: p.Title, Reason: "enrollment code lacks course_key or seat_type"}
	}
	if len(p.StockRecords) == 0 {
		return &ValidationError{Record: p.Title, Reason: "enrollment code has no stockrecord"}
	}

	run, err := l.store.GetCourseRunByKey(runKey, false)
	if errors.Is(err, store.ErrCourseRunNotFound) {
		l.logger.Warn("skipping enrollment code for unknown course run", "run", runKey)
		return nil
	}
	if err != nil {
		return err
	}
	return l.store.SetSeatBulkSKU(run.ID, seatType, p.StockRecords[0].PartnerSKU)
}

func (l *ProductLoader) reconcileEntitlement(p *upstream.ProductRecord) error {
	courseUUID := p.Attribute("UUID")
	if courseUUID == "" {
		return &ValidationError{Record: p.Title, Reason: "entitlement carries no course UUID attribute"}
	}
	course, err := l.store.GetCourseByUUID(courseUUID)
	if errors.Is(err, store.ErrCourseNotFound) {
		l.logger.Warn("skipping entitlement for unknown course", "uuid", courseUUID)
		return nil
	}
	if err != nil {
		return err
	}
	if len(p.StockRecords) == 0 {
		return &ValidationError{Record: p.Title, Reason: "entitlement has no stockrecord"}
	}
	stock := p.StockRecords[0]

	if _, err := l.store.GetCurrency(stock.PriceCurrency); err != nil {
		l.logger.Warn("skipping entitlement with unknown currency",
			"course", course.Key, "currency", stock.PriceCurrency)
		return nil
	}
	price, err := decimal.NewFromString(stock.PriceExclTax)
	if err != nil {
		return &ValidationError{Record: p.Title, Reason: "unparseable price", Err: err}
	}

	mode := p.Attribute("certificate_type")
	if mode == "" {
		mode = store.SeatVerified
	}
	ent := &store.CourseEntitlement{
		CourseID:     course.ID,
		Mode:         mode,
		CurrencyCode: stock.PriceCurrency,
		Price:        price,
		SKU:          stock.PartnerSKU,
		Expires:      parseTime(p.ExpiresAt),
	}
	if _, _, err := l.store.UpsertEntitlement(ent); err != nil {
		return err
	}
	if ent.SKU != "" {
		l.seenEntitlements[ent.SKU] = true
	}
	return nil
}

// finish removes stale seats and entitlements and resolves type upgrades
// for the runs touched in this ingest.
func (l *ProductLoader) finish() error {
	for runID, keep := range l.seenSeats {
		removed, err := l.store.DeleteSeatsExcept(runID, keep)
		if err != nil {
			return err
		}
		if removed > 0 {
			l.logger.Info("removed seats no longer sold upstream",
				"run", l.seenRunKeys[runID], "count", removed)
		}
		if err := l.resolveRunType(runID); err != nil {
			return err
		}
	}

	if _, err := l.store.DeleteEntitlementsExcept(l.seenEntitlements); err != nil {
		return err
	}
	return nil
}

// resolveRunType checks seat/run-type compatibility and upgrades empty
// types from the observed seat set.
func (l *ProductLoader) resolveRunType(runID uint) error {
	runKey := l.seenRunKeys[runID]
	run, err := l.store.GetCourseRunByKey(runKey, false)
	if err != nil {
		return err
	}
	seats, err := l.store.ListSeats(run.ID)
	if err != nil {
		return err
	}
	seatTypes := make([]string, 0, len(seats))
	for i := range seats {
		seatTypes = append(seatTypes, seats[i].Type)
	}

	var runType *store.CourseRunType
	if run.TypeID != nil {
		runType, err = l.store.GetCourseRunTypeByID(*run.TypeID)
		if err != nil {
			return err
		}
	}

	if runType != nil && !runType.Empty {
		allowed := make(map[string]bool, len(runType.Tracks))
		for _, track := range runType.Tracks {
			allowed[track.SeatTypeSlug] = true
		}
		for _, st := range seatTypes {
			if !allowed[st] {
				l.violations = append(l.violations, TypeViolation{
					RunKey:   run.Key,
					SeatType: st,
					RunType:  runType.Slug,
				})
			}
		}
		return nil
	}

	if len(seatTypes) == 0 {
		return nil
	}
	inferred, err := l.store.InferRunType(seatTypes)
	if errors.Is(err, store.ErrTypeNotFound) {
		// No unique match; the run keeps its empty placeholder.
		return nil
	}
	if err != nil {
		return err
	}
	run.TypeID = &inferred.ID
	if err := l.store.SaveCourseRun(run); err != nil {
		return err
	}
	return l.upgradeCourseType(run.CourseID, inferred)
}

func (l *ProductLoader) upgradeCourseType(courseID uint, runType *store.CourseRunType) error {
	var course store.Course
	if err := l.store.DB().First(&course, courseID).Error; err != nil {
		return err
	}
	if course.TypeID != nil {
		current, err := l.store.GetCourseType(store.TypeEmpty)
		if err != nil {
			return err
		}
		if *course.TypeID != current.ID {
			return nil
		}
	}
	courseType, err := l.store.InferCourseType(runType)
	if errors.Is(err, store.ErrTypeNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	course.TypeID = &courseType.ID
	return l.store.SaveCourse(&course)
}
