// Package api serves the read-only catalog projection over HTTP. All GET
// responses are cached under keys derived from the global ingest
// timestamp, so a refresh invalidates every cached response at once.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/opencoursehub/catalog/pkg/cachekeys"
	"github.com/opencoursehub/catalog/pkg/store"
)

// Server exposes the catalog read API.
type Server struct {
	store  *store.Store
	keys   *cachekeys.Service
	cache  *cachekeys.Cache
	logger *slog.Logger
}

// NewServer creates the API server. responses is the response-body cache;
// keys derives its entries' keys.
func NewServer(s *store.Store, keys *cachekeys.Service, responses *cachekeys.Cache, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: s, keys: keys, cache: responses, logger: logger}
}

// Router builds the chi router.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(CacheMiddleware(s.keys, s.cache))
		r.Get("/courses", s.listCourses)
		r.Get("/courses/{uuid}", s.getCourse)
		r.Get("/course_runs", s.listCourseRuns)
		r.Get("/programs", s.listPrograms)
		r.Get("/programs/{uuid}", s.getProgram)
	})
	return r
}

type courseResponse struct {
	UUID             string `json:"uuid"`
	Key              string `json:"key"`
	Title            string `json:"title"`
	ShortDescription string `json:"short_description,omitempty"`
	CardImageURL     string `json:"card_image_url,omitempty"`
	Type             string `json:"type,omitempty"`
}

type courseRunResponse struct {
	UUID       string         `json:"uuid"`
	Key        string         `json:"key"`
	Status     string         `json:"status"`
	Start      *time.Time     `json:"start,omitempty"`
	End        *time.Time     `json:"end,omitempty"`
	PacingType string         `json:"pacing_type,omitempty"`
	Marketable bool           `json:"marketable"`
	Seats      []seatResponse `json:"seats"`
}

type seatResponse struct {
	Type     string `json:"type"`
	Price    string `json:"price"`
	Currency string `json:"currency"`
	SKU      string `json:"sku,omitempty"`
}

type programResponse struct {
	UUID          string `json:"uuid"`
	Title         string `json:"title"`
	Status        string `json:"status"`
	Type          string `json:"type,omitempty"`
	MarketingSlug string `json:"marketing_slug,omitempty"`
}

func (s *Server) listCourses(w http.ResponseWriter, r *http.Request) {
	partner, ok := s.partner(w, r)
	if !ok {
		return
	}
	courses, err := s.store.ListCoursesByPartner(partner.ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]courseResponse, len(courses))
	for i := range courses {
		out[i] = courseView(&courses[i])
	}
	s.respond(w, map[string]any{"count": len(out), "results": out})
}

func (s *Server) getCourse(w http.ResponseWriter, r *http.Request) {
	course, err := s.store.GetCourseByUUID(chi.URLParam(r, "uuid"))
	if errors.Is(err, store.ErrCourseNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, courseView(course))
}

func (s *Server) listCourseRuns(w http.ResponseWriter, r *http.Request) {
	courseUUID := r.URL.Query().Get("course")
	if courseUUID == "" {
		http.Error(w, "course query parameter is required", http.StatusBadRequest)
		return
	}
	course, err := s.store.GetCourseByUUID(courseUUID)
	if errors.Is(err, store.ErrCourseNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	runs, err := s.store.ListCourseRuns(course.ID, false)
	if err != nil {
		s.fail(w, err)
		return
	}
	programRuns, err := s.store.ActiveProgramRunIDs(course.ID)
	if err != nil {
		s.fail(w, err)
		return
	}

	now := time.Now().UTC()
	out := make([]courseRunResponse, len(runs))
	for i := range runs {
		out[i] = runView(&runs[i], now, programRuns[runs[i].ID])
	}
	s.respond(w, map[string]any{"count": len(out), "results": out})
}

func (s *Server) listPrograms(w http.ResponseWriter, r *http.Request) {
	partner, ok := s.partner(w, r)
	if !ok {
		return
	}
	programs, err := s.store.ListPrograms(partner.ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]programResponse, len(programs))
	for i := range programs {
		out[i] = programView(&programs[i])
	}
	s.respond(w, map[string]any{"count": len(out), "results": out})
}

func (s *Server) getProgram(w http.ResponseWriter, r *http.Request) {
	partner, ok := s.partner(w, r)
	if !ok {
		return
	}
	program, err := s.store.GetProgramByUUID(partner.ID, chi.URLParam(r, "uuid"))
	if errors.Is(err, store.ErrProgramNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, programView(program))
}

// partner resolves the partner query parameter, defaulting to the single
// configured partner when only one exists.
func (s *Server) partner(w http.ResponseWriter, r *http.Request) (*store.Partner, bool) {
	code := r.URL.Query().Get("partner")
	if code != "" {
		p, err := s.store.GetPartnerByCode(code)
		if errors.Is(err, store.ErrPartnerNotFound) {
			http.NotFound(w, r)
			return nil, false
		}
		if err != nil {
			s.fail(w, err)
			return nil, false
		}
		return p, true
	}

	partners, err := s.store.ListPartners()
	if err != nil {
		s.fail(w, err)
		return nil, false
	}
	if len(partners) != 1 {
		http.Error(w, "partner query parameter is required", http.StatusBadRequest)
		return nil, false
	}
	return &partners[0], true
}

func (s *Server) respond(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response failed", "error", err)
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	s.logger.Error("request failed", "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func courseView(c *store.Course) courseResponse {
	out := courseResponse{
		UUID:             c.UUID,
		Key:              c.Key,
		Title:            c.Title,
		ShortDescription: c.ShortDescription,
		CardImageURL:     c.CardImageURL,
	}
	if c.Type != nil {
		out.Type = c.Type.Slug
	}
	return out
}

func runView(r *store.CourseRun, now time.Time, programActive bool) courseRunResponse {
	out := courseRunResponse{
		UUID:       r.UUID,
		Key:        r.Key,
		Status:     string(r.Status),
		Start:      r.Start,
		End:        r.End,
		PacingType: r.PacingType,
		Marketable: r.IsMarketable(now, programActive),
		Seats:      make([]seatResponse, len(r.Seats)),
	}
	for i, seat := range r.Seats {
		out.Seats[i] = seatResponse{
			Type:     seat.Type,
			Price:    seat.Price.StringFixed(2),
			Currency: seat.CurrencyCode,
			SKU:      seat.SKU,
		}
	}
	return out
}

func programView(p *store.Program) programResponse {
	out := programResponse{
		UUID:          p.UUID,
		Title:         p.Title,
		Status:        string(p.Status),
		MarketingSlug: p.MarketingSlug,
	}
	if p.Type != nil {
		out.Type = p.Type.Slug
	}
	return out
}
