// Package store implements the persistent catalog record model: draft and
// official twins of courses, course runs, seats, entitlements, programs and
// their supporting tables, with append-only history and change notification
// on commit.
package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// Record kinds used for change events and history rows.
const (
	KindOrganization = "organization"
	KindCourse       = "course"
	KindCourseRun    = "course_run"
	KindSeat         = "seat"
	KindEntitlement  = "course_entitlement"
	KindProgram      = "program"
	KindCurriculum   = "curriculum"
	KindPathway      = "pathway"
	KindImage        = "image"
	KindVideo        = "video"
)

// Partner is the tenant boundary. It owns the upstream service URLs and the
// credentials used to authenticate against them.
type Partner struct {
	ID        uint   `gorm:"primaryKey"`
	ShortCode string `gorm:"size:64;uniqueIndex"`
	Name      string `gorm:"size:255"`

	CoursesAPIURL       string `gorm:"size:512"`
	EcommerceAPIURL     string `gorm:"size:512"`
	ProgramsAPIURL      string `gorm:"size:512"`
	OrganizationsAPIURL string `gorm:"size:512"`
	MarketingSiteURL    string `gorm:"size:512"`

	OAuthTokenURL     string `gorm:"size:512"`
	OAuthClientID     string `gorm:"size:255"`
	OAuthClientSecret string `gorm:"size:255"`

	// PublisherManaged marks partners whose editorial fields are owned by an
	// external publishing system. Ingestion may only overwrite the fields it
	// owns (dates, seats, images) for these partners.
	PublisherManaged bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Currency is the local currency table consulted by the e-commerce
// reconciler. Products priced in an unknown currency are skipped.
type Currency struct {
	Code string `gorm:"primaryKey;size:8"`
	Name string `gorm:"size:64"`
}

// Image is a managed image resource. Unreferenced rows are removed by the
// orphan sweeper after a full ingest.
type Image struct {
	ID     uint   `gorm:"primaryKey"`
	Src    string `gorm:"size:512;uniqueIndex"`
	Width  int
	Height int
}

// Video is a managed video resource, optionally with a thumbnail image.
type Video struct {
	ID      uint   `gorm:"primaryKey"`
	Src     string `gorm:"size:512;uniqueIndex"`
	ImageID *uint
	Image   *Image
}

// Organization is an institution offering content, identified by a short
// key such as "MITx" within a partner.
type Organization struct {
	ID        uint `gorm:"primaryKey"`
	PartnerID uint `gorm:"uniqueIndex:idx_org_partner_key"`
	Partner   Partner
	Key       string `gorm:"size:255;uniqueIndex:idx_org_partner_key"`
	Name      string `gorm:"size:255"`

	Description  string
	LogoImageURL string `gorm:"size:512"`
	MarketingURL string `gorm:"size:512"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SeatType is a sellable mode slug (audit, verified, professional, credit,
// masters, honor).
type SeatType struct {
	Slug string `gorm:"primaryKey;size:64"`
	Name string `gorm:"size:64"`
}

// Seat type slugs.
const (
	SeatAudit        = "audit"
	SeatVerified     = "verified"
	SeatProfessional = "professional"
	SeatCredit       = "credit"
	SeatMasters      = "masters"
	SeatHonor        = "honor"
)

// PaidSeatTypes are seat types that require payment. Verified upgrade
// deadlines track the run end for these, credit excepted.
var PaidSeatTypes = map[string]bool{
	SeatVerified:     true,
	SeatProfessional: true,
	SeatCredit:       true,
	SeatMasters:      true,
}

// ProgramOnlySeatTypes are sold through a parent program only, never as an
// individually enrollable seat on the marketing site.
var ProgramOnlySeatTypes = map[string]bool{
	SeatMasters: true,
}

// Track binds a seat type into a CourseRunType's permitted set.
type Track struct {
	ID           uint     `gorm:"primaryKey"`
	SeatTypeSlug string   `gorm:"size:64;uniqueIndex"`
	SeatType     SeatType `gorm:"foreignKey:SeatTypeSlug;references:Slug"`
}

// CourseRunType enumerates the seat types a run may carry, via Tracks.
type CourseRunType struct {
	ID     uint    `gorm:"primaryKey"`
	Slug   string  `gorm:"size:64;uniqueIndex"`
	Name   string  `gorm:"size:255"`
	Tracks []Track `gorm:"many2many:course_run_type_tracks"`

	// Empty marks the placeholder type assigned until enough signal arrives
	// to infer a real one.
	Empty bool
}

// ProgramOnly reports whether every track of the run type is sold through
// a parent program (masters-style). Tracks must be preloaded.
func (t *CourseRunType) ProgramOnly() bool {
	if len(t.Tracks) == 0 {
		return false
	}
	for _, track := range t.Tracks {
		if !ProgramOnlySeatTypes[track.SeatTypeSlug] {
			return false
		}
	}
	return true
}

// CourseType enumerates the permitted entitlement modes and run types for a
// course.
type CourseType struct {
	ID               uint            `gorm:"primaryKey"`
	Slug             string          `gorm:"size:64;uniqueIndex"`
	Name             string          `gorm:"size:255"`
	EntitlementModes []SeatType      `gorm:"many2many:course_type_entitlement_modes"`
	RunTypes         []CourseRunType `gorm:"many2many:course_type_run_types"`
	Empty            bool
}

// Well-known type slugs seeded by SeedDefaults.
const (
	TypeEmpty         = "empty"
	TypeAudit         = "audit"
	TypeVerifiedAudit = "verified-audit"
	TypeProfessional  = "professional"
	TypeCredit        = "credit-verified-audit"
	TypeMasters       = "masters"
)

// Course is the stable unit of content, identified by (partner, key) where
// key is "ORG+NUMBER". Draft and official twins share the natural key and
// are discriminated by Draft.
type Course struct {
	ID        uint   `gorm:"primaryKey"`
	UUID      string `gorm:"size:36;index"`
	PartnerID uint   `gorm:"uniqueIndex:idx_course_partner_key_draft"`
	Partner   Partner
	Key       string `gorm:"size:255;uniqueIndex:idx_course_partner_key_draft"`
	Draft     bool   `gorm:"uniqueIndex:idx_course_partner_key_draft"`

	// DraftVersionOfID points from the draft twin to its official
	// counterpart.
	DraftVersionOfID *uint
	DraftVersionOf   *Course

	Title            string `gorm:"size:255"`
	ShortDescription string
	FullDescription  string
	Level            string `gorm:"size:64"`
	MobileAvailable  bool
	CardImageURL     string `gorm:"size:512"`
	ImageID          *uint
	Image            *Image

	TypeID *uint
	Type   *CourseType

	CanonicalCourseRunID *uint

	AuthoringOrganizations []Organization `gorm:"many2many:course_authoring_organizations"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CourseRunStatus is the editorial-review lifecycle state of a run.
type CourseRunStatus string

const (
	StatusUnpublished    CourseRunStatus = "unpublished"
	StatusLegalReview    CourseRunStatus = "review_by_legal"
	StatusInternalReview CourseRunStatus = "review_by_internal"
	StatusReviewed       CourseRunStatus = "reviewed"
	StatusPublished      CourseRunStatus = "published"
)

// ReviewStates are the states in which a draft's review-gated fields are
// frozen.
func ReviewStates() []CourseRunStatus {
	return []CourseRunStatus{StatusLegalReview, StatusInternalReview}
}

// CourseRunPacing values.
const (
	PacingInstructor = "instructor_paced"
	PacingSelf       = "self_paced"
)

// CourseRun is a scheduled instance of a Course, identified by a globally
// unique opaque key such as "course-v1:MITx+6.00x+1T2024".
type CourseRun struct {
	ID       uint   `gorm:"primaryKey"`
	UUID     string `gorm:"size:36;index"`
	CourseID uint   `gorm:"index"`
	Course   Course
	Key      string `gorm:"size:255;uniqueIndex:idx_run_key_draft"`
	Draft    bool   `gorm:"uniqueIndex:idx_run_key_draft"`

	DraftVersionOfID *uint
	DraftVersionOf   *CourseRun

	// ExternalKey is the institution-supplied alternate identifier; it must
	// be unique within the run's program graph.
	ExternalKey string `gorm:"size:255;index"`

	Status CourseRunStatus `gorm:"size:32;index"`

	Start           *time.Time
	End             *time.Time
	EnrollmentStart *time.Time
	EnrollmentEnd   *time.Time
	GoLiveDate      *time.Time
	Announcement    *time.Time

	PacingType               string `gorm:"size:32"`
	Hidden                   bool
	License                  string `gorm:"size:255"`
	TitleOverride            string `gorm:"size:255"`
	ShortDescriptionOverride string
	CardImageURL             string `gorm:"size:512"`
	Slug                     string `gorm:"size:255"`
	ContentLanguage          string `gorm:"size:16"`

	MinEffort       *int
	MaxEffort       *int
	WeeksToComplete *int

	VideoID *uint
	Video   *Video

	TypeID *uint
	Type   *CourseRunType

	Seats []Seat

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Seat is a sellable mode within a CourseRun. Composite identity within a
// run is (type, credit provider, currency).
type Seat struct {
	ID             uint   `gorm:"primaryKey"`
	CourseRunID    uint   `gorm:"uniqueIndex:idx_seat_identity"`
	Type           string `gorm:"size:64;uniqueIndex:idx_seat_identity"`
	CreditProvider string `gorm:"size:255;uniqueIndex:idx_seat_identity"`
	CurrencyCode   string `gorm:"size:8;uniqueIndex:idx_seat_identity"`
	Draft          bool   `gorm:"uniqueIndex:idx_seat_identity"`

	DraftVersionOfID *uint

	Price           decimal.Decimal `gorm:"type:decimal(10,2)"`
	UpgradeDeadline *time.Time
	SKU             string `gorm:"size:128"`
	BulkSKU         string `gorm:"size:128"`
	CreditHours     *int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CourseEntitlement is a run-independent sellable right to a Course in a
// given mode.
type CourseEntitlement struct {
	ID       uint   `gorm:"primaryKey"`
	CourseID uint   `gorm:"uniqueIndex:idx_entitlement_identity"`
	Mode     string `gorm:"size:64;uniqueIndex:idx_entitlement_identity"`
	Draft    bool   `gorm:"uniqueIndex:idx_entitlement_identity"`

	DraftVersionOfID *uint

	CurrencyCode string          `gorm:"size:8"`
	Price        decimal.Decimal `gorm:"type:decimal(10,2)"`
	SKU          string          `gorm:"size:128"`
	Expires      *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProgramStatus values.
type ProgramStatus string

const (
	ProgramUnpublished ProgramStatus = "unpublished"
	ProgramActive      ProgramStatus = "active"
	ProgramRetired     ProgramStatus = "retired"
	ProgramDeleted     ProgramStatus = "deleted"
)

// ProgramType is the marketing type of a program (MicroMasters, XSeries,
// Professional Certificate, Masters).
type ProgramType struct {
	ID   uint   `gorm:"primaryKey"`
	Slug string `gorm:"size:64;uniqueIndex"`
	Name string `gorm:"size:255"`
}

// Masters program type slug; masters programs are not marketed standalone.
const ProgramTypeMasters = "masters"

// Program is a bundle of Courses under a marketing type.
type Program struct {
	ID        uint   `gorm:"primaryKey"`
	UUID      string `gorm:"size:36;uniqueIndex:idx_program_partner_uuid"`
	PartnerID uint   `gorm:"uniqueIndex:idx_program_partner_uuid"`
	Partner   Partner

	Title         string `gorm:"size:255"`
	Subtitle      string
	MarketingSlug string        `gorm:"size:255"`
	Status        ProgramStatus `gorm:"size:32;index"`

	TypeID *uint
	Type   *ProgramType

	BannerImageURL string `gorm:"size:512"`
	BannerImageID  *uint
	BannerImage    *Image

	AuthoringOrganizations     []Organization `gorm:"many2many:program_authoring_organizations"`
	CreditBackingOrganizations []Organization `gorm:"many2many:program_credit_organizations"`

	Courses            []Course    `gorm:"many2many:program_courses"`
	ExcludedCourseRuns []CourseRun `gorm:"many2many:program_excluded_course_runs"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Curriculum is a set of course and nested-program memberships bound to
// exactly one parent program.
type Curriculum struct {
	ID        uint   `gorm:"primaryKey"`
	UUID      string `gorm:"size:36;uniqueIndex"`
	ProgramID *uint  `gorm:"index"`
	Program   *Program
	Name      string `gorm:"size:255"`
	IsActive  bool
}

// TableName pins the irregular plural used throughout the query layer.
func (Curriculum) TableName() string { return "curricula" }

// CurriculumCourseMembership associates a Course with a Curriculum.
type CurriculumCourseMembership struct {
	ID           uint `gorm:"primaryKey"`
	CurriculumID uint `gorm:"uniqueIndex:idx_curriculum_course"`
	Curriculum   Curriculum
	CourseID     uint `gorm:"uniqueIndex:idx_curriculum_course"`
	Course       Course
}

// CurriculumProgramMembership nests a Program inside a Curriculum.
type CurriculumProgramMembership struct {
	ID           uint `gorm:"primaryKey"`
	CurriculumID uint `gorm:"uniqueIndex:idx_curriculum_program"`
	Curriculum   Curriculum
	ProgramID    uint `gorm:"uniqueIndex:idx_curriculum_program"`
	Program      Program
}

// PathwayStatus values.
type PathwayStatus string

const (
	PathwayUnpublished PathwayStatus = "unpublished"
	PathwayPublished   PathwayStatus = "published"
)

// Pathway is an externally advertised path composed of Programs.
type Pathway struct {
	ID        uint   `gorm:"primaryKey"`
	UUID      string `gorm:"size:36;uniqueIndex"`
	PartnerID uint
	Partner   Partner
	Name      string        `gorm:"size:255"`
	Status    PathwayStatus `gorm:"size:32"`
	Programs  []Program     `gorm:"many2many:pathway_programs"`
}

// HistoryEntry is an append-only record of every catalog mutation.
type HistoryEntry struct {
	ID         uint      `gorm:"primaryKey"`
	EntityKind string    `gorm:"size:64;index:idx_history_entity"`
	EntityID   uint      `gorm:"index:idx_history_entity"`
	Action     string    `gorm:"size:16"`
	Actor      string    `gorm:"size:255"`
	ChangeTime time.Time `gorm:"index"`
}

// IsMarketable reports whether the run can be surfaced on marketing
// projections: its slug must be non-empty and it must either carry at least
// one enrollable paid seat or, for program-only run types, belong to an
// active program. Seats and Type must be preloaded.
func (r *CourseRun) IsMarketable(now time.Time, programActive bool) bool {
	if r.Slug == "" {
		return false
	}
	for _, seat := range r.Seats {
		if !PaidSeatTypes[seat.Type] || ProgramOnlySeatTypes[seat.Type] || seat.Price.IsZero() {
			continue
		}
		if seat.UpgradeDeadline == nil || seat.UpgradeDeadline.After(now) {
			return true
		}
	}
	if r.Type != nil && r.Type.ProgramOnly() {
		return programActive
	}
	return false
}

// HasEnded reports whether the run's end date has passed.
func (r *CourseRun) HasEnded(now time.Time) bool {
	return r.End != nil && r.End.Before(now)
}

// InReview reports whether the run is frozen for editorial review.
func (r *CourseRun) InReview() bool {
	return r.Status == StatusLegalReview || r.Status == StatusInternalReview
}
