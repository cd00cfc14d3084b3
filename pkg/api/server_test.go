package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/opencoursehub/catalog/pkg/cachekeys"
	"github.com/opencoursehub/catalog/pkg/store"
)

type fixture struct {
	store  *store.Store
	keys   *cachekeys.Service
	server *httptest.Server
	course *store.Course
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	s := store.New(db, nil, nil)
	require.NoError(t, s.AutoMigrate())
	require.NoError(t, s.SeedDefaults())

	p := &store.Partner{ShortCode: "edx", Name: "edX"}
	require.NoError(t, s.SavePartner(p))
	course := &store.Course{PartnerID: p.ID, Key: "MITx+6.00x", Title: "Intro"}
	require.NoError(t, s.CreateCourse(course))
	run := &store.CourseRun{CourseID: course.ID, Key: "course-v1:MITx+6.00x+1T2024"}
	require.NoError(t, s.CreateCourseRun(run))

	keys := cachekeys.NewService(cachekeys.NewCache(128, 0))
	srv := NewServer(s, keys, cachekeys.NewCache(128, 0), nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &fixture{store: s, keys: keys, server: ts, course: course}
}

func get(t *testing.T, url, user string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("X-User", user)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestListCourses(t *testing.T) {
	f := newFixture(t)

	resp := get(t, f.server.URL+"/api/v1/courses", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Count   int `json:"count"`
		Results []struct {
			Key  string `json:"key"`
			Type string `json:"type"`
		} `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, 1, body.Count)
	require.Equal(t, "MITx+6.00x", body.Results[0].Key)
	require.Equal(t, store.TypeEmpty, body.Results[0].Type)
}

func TestGetCourseByUUID(t *testing.T) {
	f := newFixture(t)

	resp := get(t, f.server.URL+"/api/v1/courses/"+f.course.UUID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	missing := get(t, f.server.URL+"/api/v1/courses/00000000-0000-0000-0000-000000000000", "")
	require.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestCourseRunsRequireCourseParam(t *testing.T) {
	f := newFixture(t)

	resp := get(t, f.server.URL+"/api/v1/course_runs", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	ok := get(t, f.server.URL+"/api/v1/course_runs?course="+f.course.UUID, "")
	require.Equal(t, http.StatusOK, ok.StatusCode)
}

func TestCourseRunMarketability(t *testing.T) {
	f := newFixture(t)

	// A published run with a slug but no seats and no parent program must
	// not be marketable.
	bare := &store.CourseRun{
		CourseID: f.course.ID,
		Key:      "course-v1:MITx+6.00x+2T2024",
		Slug:     "intro-2t2024",
		Status:   store.StatusPublished,
	}
	require.NoError(t, f.store.CreateCourseRun(bare))

	// A masters run is marketable only through an active program.
	mastersType, err := f.store.GetCourseRunType(store.TypeMasters)
	require.NoError(t, err)
	masters := &store.CourseRun{
		CourseID: f.course.ID,
		Key:      "course-v1:MITx+6.00x+3T2024",
		Slug:     "intro-3t2024",
		Status:   store.StatusPublished,
		TypeID:   &mastersType.ID,
	}
	require.NoError(t, f.store.CreateCourseRun(masters))

	marketable := func() map[string]bool {
		resp := get(t, f.server.URL+"/api/v1/course_runs?course="+f.course.UUID, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body struct {
			Results []struct {
				Key        string `json:"key"`
				Marketable bool   `json:"marketable"`
			} `json:"results"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		out := make(map[string]bool, len(body.Results))
		for _, r := range body.Results {
			out[r.Key] = r.Marketable
		}
		return out
	}

	before := marketable()
	require.False(t, before[bare.Key])
	require.False(t, before[masters.Key])

	program := &store.Program{
		UUID:           "b1815fd0-6c05-4f78-9e9d-7be7d2e131b1",
		PartnerID:      f.course.PartnerID,
		Title:          "Python MicroMasters",
		Status:         store.ProgramActive,
		BannerImageURL: "https://media.example.com/banner.jpg",
	}
	_, _, err = f.store.SaveProgram(program)
	require.NoError(t, err)
	require.NoError(t, f.store.SetProgramCourses(program, []store.Course{*f.course}))

	f.keys.Bump()
	after := marketable()
	require.False(t, after[bare.Key], "seatless non-program run must stay unmarketable")
	require.True(t, after[masters.Key], "masters run in an active program is marketable")
}

func TestResponseCachingAndInvalidation(t *testing.T) {
	f := newFixture(t)
	url := f.server.URL + "/api/v1/courses"

	first := get(t, url, "")
	require.Equal(t, "MISS", first.Header.Get("X-Cache"))

	second := get(t, url, "")
	require.Equal(t, "HIT", second.Header.Get("X-Cache"))

	// A different user never sees another user's cached response.
	other := get(t, url, "alice")
	require.Equal(t, "MISS", other.Header.Get("X-Cache"))

	// Bumping the ingest timestamp invalidates everything.
	f.keys.Bump()
	after := get(t, url, "")
	require.Equal(t, "MISS", after.Header.Get("X-Cache"))
}

func TestCachedBodyMatchesOriginal(t *testing.T) {
	f := newFixture(t)
	url := f.server.URL + "/api/v1/courses"

	read := func(resp *http.Response) string {
		var buf [4096]byte
		n, _ := resp.Body.Read(buf[:])
		return string(buf[:n])
	}

	first := get(t, url, "")
	fresh := read(first)
	second := get(t, url, "")
	cached := read(second)
	require.JSONEq(t, fresh, cached)
	require.Equal(t, "application/json", second.Header.Get("Content-Type"))
}
