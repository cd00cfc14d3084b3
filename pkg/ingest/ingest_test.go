package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/opencoursehub/catalog/pkg/store"
	"github.com/opencoursehub/catalog/pkg/upstream"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	s := store.New(db, nil, nil)
	require.NoError(t, s.AutoMigrate())
	require.NoError(t, s.SeedDefaults())
	return s
}

func newTestPartner(t *testing.T, s *store.Store) *store.Partner {
	t.Helper()
	p := &store.Partner{ShortCode: "edx", Name: "edX"}
	require.NoError(t, s.SavePartner(p))
	return p
}

// jsonUpstream serves fixed JSON bodies by path, wrapping results in the
// standard pagination envelope.
func jsonUpstream(t *testing.T, bodies map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := bodies[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, body)
	}))
}

func testEndpoints(serverURL string) *upstream.Endpoints {
	client := upstream.NewClient(nil, nil, upstream.RetryConfig{
		MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond,
	}, 0, nil)
	return &upstream.Endpoints{
		Client:           client,
		CoursesURL:       serverURL + "/courses",
		ProductsURL:      serverURL + "/products",
		ProgramsURL:      serverURL + "/programs",
		OrganizationsURL: serverURL + "/organizations",
	}
}

func TestCourseLoaderCreatesCourseAndRun(t *testing.T) {
	srv := jsonUpstream(t, map[string]string{
		"/courses": `{"count":1,"next":"","results":[{
			"id":"course-v1:MITx+6.00x+1T2024","org":"MITx","number":"6.00x",
			"name":"Intro","start":"2024-01-01T00:00:00Z","end":"2024-04-01T00:00:00Z",
			"pacing":"self"}]}`,
	})
	defer srv.Close()

	s := newTestStore(t)
	p := newTestPartner(t, s)
	l := NewCourseLoader(s, testEndpoints(srv.URL), p, false, 0, nil)
	require.NoError(t, l.Load(context.Background()))

	org, err := s.GetOrganization(p.ID, "MITx")
	require.NoError(t, err)
	require.Equal(t, "MITx", org.Key)

	course, err := s.GetCourseByKey(p.ID, "MITx+6.00x", false)
	require.NoError(t, err)
	require.Equal(t, "Intro", course.Title)

	emptyType, err := s.GetCourseType(store.TypeEmpty)
	require.NoError(t, err)
	require.Equal(t, emptyType.ID, *course.TypeID)

	run, err := s.GetCourseRunByKey("course-v1:MITx+6.00x+1T2024", false)
	require.NoError(t, err)
	require.Equal(t, store.PacingSelf, run.PacingType)
	require.Equal(t, store.StatusPublished, run.Status)
	require.NotNil(t, course.CanonicalCourseRunID)
	require.Equal(t, run.ID, *course.CanonicalCourseRunID)
}

func TestCourseLoaderPublisherManagedKeepsEditorialFields(t *testing.T) {
	srv := jsonUpstream(t, map[string]string{
		"/courses": `{"count":1,"next":"","results":[{
			"id":"course-v1:MITx+6.00x+1T2024","org":"MITx","number":"6.00x",
			"name":"LMS title","start":"2024-01-01T00:00:00Z"}]}`,
	})
	defer srv.Close()

	s := newTestStore(t)
	p := newTestPartner(t, s)

	course := &store.Course{PartnerID: p.ID, Key: "MITx+6.00x", Title: "Editorial title"}
	require.NoError(t, s.CreateCourse(course))
	existing := &store.CourseRun{CourseID: course.ID, Key: "course-v1:MITx+6.00x+1T2024"}
	require.NoError(t, s.CreateCourseRun(existing))

	l := NewCourseLoader(s, testEndpoints(srv.URL), p, true, 0, nil)
	require.NoError(t, l.Load(context.Background()))

	got, err := s.GetCourseByKey(p.ID, "MITx+6.00x", false)
	require.NoError(t, err)
	require.Equal(t, "Editorial title", got.Title)

	run, err := s.GetCourseRunByKey(existing.Key, false)
	require.NoError(t, err)
	require.Equal(t, store.StatusUnpublished, run.Status)
	require.Empty(t, run.TitleOverride)
}

func TestCourseLoaderRejectsShrunkenUpstream(t *testing.T) {
	srv := jsonUpstream(t, map[string]string{
		"/courses": `{"count":0,"next":"","results":[]}`,
	})
	defer srv.Close()

	s := newTestStore(t)
	p := newTestPartner(t, s)
	course := &store.Course{PartnerID: p.ID, Key: "MITx+6.00x", Title: "Intro"}
	require.NoError(t, s.CreateCourse(course))
	for i := 0; i < 4; i++ {
		run := &store.CourseRun{CourseID: course.ID, Key: fmt.Sprintf("course-v1:MITx+6.00x+%dT2024", i+1)}
		require.NoError(t, s.CreateCourseRun(run))
	}

	l := NewCourseLoader(s, testEndpoints(srv.URL), p, false, 0.2, nil)
	err := l.Load(context.Background())
	var terr *ThresholdError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, 4, terr.Existing)
	require.Zero(t, terr.Fetched)
}

func TestCourseLoaderRealignsPaidSeatDeadlines(t *testing.T) {
	srv := jsonUpstream(t, map[string]string{
		"/courses": `{"count":1,"next":"","results":[{
			"id":"course-v1:MITx+6.00x+1T2024","org":"MITx","number":"6.00x",
			"name":"Intro","end":"2024-06-15T00:00:00Z"}]}`,
	})
	defer srv.Close()

	s := newTestStore(t)
	p := newTestPartner(t, s)
	course := &store.Course{PartnerID: p.ID, Key: "MITx+6.00x", Title: "Intro"}
	require.NoError(t, s.CreateCourse(course))
	oldEnd := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	run := &store.CourseRun{CourseID: course.ID, Key: "course-v1:MITx+6.00x+1T2024", End: &oldEnd}
	require.NoError(t, s.CreateCourseRun(run))

	deadline := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	verified := &store.Seat{
		CourseRunID: run.ID, Type: store.SeatVerified, CurrencyCode: "USD",
		Price: decimal.NewFromInt(49), UpgradeDeadline: &deadline,
	}
	_, _, err := s.UpsertSeat(verified)
	require.NoError(t, err)
	credit := &store.Seat{
		CourseRunID: run.ID, Type: store.SeatCredit, CreditProvider: "acme",
		CurrencyCode: "USD", Price: decimal.NewFromInt(300), UpgradeDeadline: &deadline,
	}
	_, _, err = s.UpsertSeat(credit)
	require.NoError(t, err)

	l := NewCourseLoader(s, testEndpoints(srv.URL), p, false, 0, nil)
	require.NoError(t, l.Load(context.Background()))

	seats, err := s.ListSeats(run.ID)
	require.NoError(t, err)
	newEnd := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	for _, seat := range seats {
		switch seat.Type {
		case store.SeatVerified:
			require.True(t, seat.UpgradeDeadline.Equal(newEnd), "verified deadline should follow run end")
		case store.SeatCredit:
			require.True(t, seat.UpgradeDeadline.Equal(deadline), "credit deadline must not move")
		}
	}
}

func TestProductLoaderVerifiedSeatUpgradesTypes(t *testing.T) {
	srv := jsonUpstream(t, map[string]string{
		"/products": `{"count":1,"next":"","results":[{
			"id":10,"structure":"parent","product_class":"Seat","title":"Run seats",
			"attribute_values":[{"name":"course_key","value":"course-v1:MITx+6.00x+1T2024"}],
			"children":[
				{"id":11,"structure":"child","product_class":"Seat","title":"verified",
				 "attribute_values":[{"name":"certificate_type","value":"verified"}],
				 "stockrecords":[{"partner_sku":"S1","price_currency":"USD","price_excl_tax":"49.00"}]},
				{"id":12,"structure":"child","product_class":"Seat","title":"audit",
				 "attribute_values":[{"name":"certificate_type","value":"audit"}],
				 "stockrecords":[{"partner_sku":"","price_currency":"USD","price_excl_tax":"0.00"}]}
			]}]}`,
	})
	defer srv.Close()

	s := newTestStore(t)
	p := newTestPartner(t, s)
	course := &store.Course{PartnerID: p.ID, Key: "MITx+6.00x", Title: "Intro"}
	require.NoError(t, s.CreateCourse(course))
	run := &store.CourseRun{CourseID: course.ID, Key: "course-v1:MITx+6.00x+1T2024"}
	require.NoError(t, s.CreateCourseRun(run))

	l := NewProductLoader(s, testEndpoints(srv.URL), nil)
	require.NoError(t, l.Load(context.Background()))

	seats, err := s.ListSeats(run.ID)
	require.NoError(t, err)
	require.Len(t, seats, 2)

	var verified *store.Seat
	for i := range seats {
		if seats[i].Type == store.SeatVerified {
			verified = &seats[i]
		}
	}
	require.NotNil(t, verified)
	require.Equal(t, "S1", verified.SKU)
	require.True(t, verified.Price.Equal(decimal.NewFromInt(49)))
	require.Equal(t, "USD", verified.CurrencyCode)

	got, err := s.GetCourseRunByKey(run.Key, false)
	require.NoError(t, err)
	va, err := s.GetCourseRunType(store.TypeVerifiedAudit)
	require.NoError(t, err)
	require.Equal(t, va.ID, *got.TypeID)

	gotCourse, err := s.GetCourseByKey(p.ID, course.Key, false)
	require.NoError(t, err)
	vaCourse, err := s.GetCourseType(store.TypeVerifiedAudit)
	require.NoError(t, err)
	require.Equal(t, vaCourse.ID, *gotCourse.TypeID)
}

func TestProductLoaderSkipsUnknownCurrencyAndRemovesStaleSeats(t *testing.T) {
	srv := jsonUpstream(t, map[string]string{
		"/products": `{"count":1,"next":"","results":[{
			"id":10,"structure":"parent","product_class":"Seat","title":"Run seats",
			"attribute_values":[{"name":"course_key","value":"course-v1:MITx+6.00x+1T2024"}],
			"children":[
				{"id":11,"structure":"child","product_class":"Seat","title":"verified",
				 "attribute_values":[{"name":"certificate_type","value":"verified"}],
				 "stockrecords":[{"partner_sku":"S1","price_currency":"XXX","price_excl_tax":"49.00"}]}
			]}]}`,
	})
	defer srv.Close()

	s := newTestStore(t)
	p := newTestPartner(t, s)
	course := &store.Course{PartnerID: p.ID, Key: "MITx+6.00x", Title: "Intro"}
	require.NoError(t, s.CreateCourse(course))
	run := &store.CourseRun{CourseID: course.ID, Key: "course-v1:MITx+6.00x+1T2024"}
	require.NoError(t, s.CreateCourseRun(run))

	stale := &store.Seat{
		CourseRunID: run.ID, Type: store.SeatProfessional, CurrencyCode: "USD",
		Price: decimal.NewFromInt(200),
	}
	_, _, err := s.UpsertSeat(stale)
	require.NoError(t, err)

	l := NewProductLoader(s, testEndpoints(srv.URL), nil)
	require.NoError(t, l.Load(context.Background()))

	// The unknown-currency seat was never stored and the stale
	// professional seat no longer appears upstream.
	seats, err := s.ListSeats(run.ID)
	require.NoError(t, err)
	require.Empty(t, seats)
}

func TestProductLoaderEntitlementAndBulkSKU(t *testing.T) {
	s := newTestStore(t)
	p := newTestPartner(t, s)
	course := &store.Course{PartnerID: p.ID, Key: "MITx+6.00x", Title: "Intro"}
	require.NoError(t, s.CreateCourse(course))
	run := &store.CourseRun{CourseID: course.ID, Key: "course-v1:MITx+6.00x+1T2024"}
	require.NoError(t, s.CreateCourseRun(run))
	seat := &store.Seat{
		CourseRunID: run.ID, Type: store.SeatVerified, CurrencyCode: "USD",
		Price: decimal.NewFromInt(49), SKU: "S1",
	}
	_, _, err := s.UpsertSeat(seat)
	require.NoError(t, err)

	srv := jsonUpstream(t, map[string]string{
		"/products": fmt.Sprintf(`{"count":2,"next":"","results":[
			{"id":20,"structure":"standalone","product_class":"Course Entitlement","title":"ent",
			 "attribute_values":[{"name":"UUID","value":%q},{"name":"certificate_type","value":"verified"}],
			 "stockrecords":[{"partner_sku":"E1","price_currency":"USD","price_excl_tax":"49.00"}]},
			{"id":21,"structure":"standalone","product_class":"Enrollment Code","title":"code",
			 "attribute_values":[{"name":"course_key","value":"course-v1:MITx+6.00x+1T2024"},{"name":"seat_type","value":"verified"}],
			 "stockrecords":[{"partner_sku":"B1","price_currency":"USD","price_excl_tax":"49.00"}]}
		]}`, course.UUID),
	})
	defer srv.Close()

	l := NewProductLoader(s, testEndpoints(srv.URL), nil)
	require.NoError(t, l.Load(context.Background()))

	var ent store.CourseEntitlement
	require.NoError(t, s.DB().Where("course_id = ?", course.ID).First(&ent).Error)
	require.Equal(t, store.SeatVerified, ent.Mode)
	require.Equal(t, "E1", ent.SKU)

	seats, err := s.ListSeats(run.ID)
	require.NoError(t, err)
	require.Len(t, seats, 1)
	require.Equal(t, "B1", seats[0].BulkSKU)
}

func TestProductLoaderReportsSeatTypeViolations(t *testing.T) {
	srv := jsonUpstream(t, map[string]string{
		"/products": `{"count":1,"next":"","results":[{
			"id":10,"structure":"parent","product_class":"Seat","title":"Run seats",
			"attribute_values":[{"name":"course_key","value":"course-v1:MITx+6.00x+1T2024"}],
			"children":[
				{"id":11,"structure":"child","product_class":"Seat","title":"professional",
				 "attribute_values":[{"name":"certificate_type","value":"professional"}],
				 "stockrecords":[{"partner_sku":"P1","price_currency":"USD","price_excl_tax":"500.00"}]}
			]}]}`,
	})
	defer srv.Close()

	s := newTestStore(t)
	p := newTestPartner(t, s)
	course := &store.Course{PartnerID: p.ID, Key: "MITx+6.00x", Title: "Intro"}
	require.NoError(t, s.CreateCourse(course))
	va, err := s.GetCourseRunType(store.TypeVerifiedAudit)
	require.NoError(t, err)
	run := &store.CourseRun{CourseID: course.ID, Key: "course-v1:MITx+6.00x+1T2024", TypeID: &va.ID}
	require.NoError(t, s.CreateCourseRun(run))

	l := NewProductLoader(s, testEndpoints(srv.URL), nil)
	err = l.Load(context.Background())
	var verr *TypeViolationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Violations, 1)
	require.Equal(t, store.SeatProfessional, verr.Violations[0].SeatType)
	require.Equal(t, store.TypeVerifiedAudit, verr.Violations[0].RunType)
}

func TestProgramLoaderRebuildsMembership(t *testing.T) {
	s := newTestStore(t)
	p := newTestPartner(t, s)
	_, _, err := s.UpsertOrganization(&store.Organization{PartnerID: p.ID, Key: "MITx", Name: "MITx"})
	require.NoError(t, err)

	course := &store.Course{PartnerID: p.ID, Key: "MITx+6.00x", Title: "Intro"}
	require.NoError(t, s.CreateCourse(course))
	included := &store.CourseRun{CourseID: course.ID, Key: "course-v1:MITx+6.00x+1T2024"}
	require.NoError(t, s.CreateCourseRun(included))
	excluded := &store.CourseRun{CourseID: course.ID, Key: "course-v1:MITx+6.00x+2T2024"}
	require.NoError(t, s.CreateCourseRun(excluded))

	// The banner URL must be absolute, so the body is filled in after the
	// server exists.
	bodies := map[string]string{"/banner.jpg": "image-bytes"}
	srv := jsonUpstream(t, bodies)
	defer srv.Close()
	bodies["/programs"] = fmt.Sprintf(`{"count":1,"next":"","results":[{
		"uuid":"11111111-2222-3333-4444-555555555555","name":"Analytics",
		"subtitle":"sub","category":"micromasters","status":"active",
		"marketing_slug":"analytics","organizations":["MITx"],
		"banner_image_urls":{"w1440h480":%q},
		"course_codes":[{"key":"6.00x","organization":"MITx",
			"run_modes":[{"course_key":"course-v1:MITx+6.00x+1T2024","mode_slug":"verified"}]}]}]}`,
		srv.URL+"/banner.jpg")

	l := NewProgramLoader(s, testEndpoints(srv.URL), p, nil)
	require.NoError(t, l.Load(context.Background()))

	program, err := s.GetProgramByUUID(p.ID, "11111111-2222-3333-4444-555555555555")
	require.NoError(t, err)
	require.Equal(t, "Analytics", program.Title)
	require.Equal(t, store.ProgramActive, program.Status)
	require.Len(t, program.Courses, 1)
	require.Equal(t, course.ID, program.Courses[0].ID)
	require.Len(t, program.ExcludedCourseRuns, 1)
	require.Equal(t, excluded.ID, program.ExcludedCourseRuns[0].ID)
	require.Len(t, program.AuthoringOrganizations, 1)
	require.Equal(t, srv.URL+"/banner.jpg", program.BannerImageURL)
}

func TestProgramLoaderUnknownOrganizationEmptiesSet(t *testing.T) {
	s := newTestStore(t)
	p := newTestPartner(t, s)

	srv := jsonUpstream(t, map[string]string{
		"/programs": `{"count":1,"next":"","results":[{
			"uuid":"11111111-2222-3333-4444-555555555555","name":"Analytics",
			"category":"micromasters","status":"unpublished",
			"organizations":["GhostU"],"course_codes":[]}]}`,
	})
	defer srv.Close()

	l := NewProgramLoader(s, testEndpoints(srv.URL), p, nil)
	require.NoError(t, l.Load(context.Background()))

	program, err := s.GetProgramByUUID(p.ID, "11111111-2222-3333-4444-555555555555")
	require.NoError(t, err)
	require.Empty(t, program.AuthoringOrganizations)
}

func TestOrganizationLoaderTrimsAndUpserts(t *testing.T) {
	srv := jsonUpstream(t, map[string]string{
		"/organizations": `{"count":2,"next":"","results":[
			{"short_name":" MITx ","name":" MIT ","description":"d","logo":"L"},
			{"short_name":"","name":"nameless"}]}`,
	})
	defer srv.Close()

	s := newTestStore(t)
	p := newTestPartner(t, s)
	l := NewOrganizationLoader(s, testEndpoints(srv.URL), p, nil)
	require.NoError(t, l.Load(context.Background()))

	org, err := s.GetOrganization(p.ID, "MITx")
	require.NoError(t, err)
	require.Equal(t, "MIT", org.Name)
	require.Equal(t, "L", org.LogoImageURL)
}
