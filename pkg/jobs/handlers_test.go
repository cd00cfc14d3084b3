package jobs

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupJobsAPI(t *testing.T) (*httptest.Server, *JobStore) {
	t.Helper()
	store := NewJobStore(setupTestDB(t))
	srv := httptest.NewServer(Router(store))
	t.Cleanup(srv.Close)
	return srv, store
}

func TestEnqueueHandlerCreatesJob(t *testing.T) {
	srv, _ := setupJobsAPI(t)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/", strings.NewReader(`{"partner":"edx"}`))
	require.NoError(t, err)
	req.Header.Set("X-User", "staff@example.com")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var got jobResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "edx", got.Partner)
	assert.Equal(t, "staff@example.com", got.RequestedBy)
	assert.Equal(t, string(JobStateQueued), got.State)
}

func TestEnqueueHandlerCollapsesDuplicates(t *testing.T) {
	srv, _ := setupJobsAPI(t)

	enqueue := func() jobResponse {
		resp, err := http.Post(srv.URL+"/", "application/json", strings.NewReader(`{"partner":"edx"}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		var got jobResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		return got
	}

	first := enqueue()
	second := enqueue()
	assert.Equal(t, first.ID, second.ID)
}

func TestEnqueueHandlerRequiresPartner(t *testing.T) {
	srv, _ := setupJobsAPI(t)

	resp, err := http.Post(srv.URL+"/", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetJobHandler(t *testing.T) {
	srv, store := setupJobsAPI(t)

	job, err := store.Enqueue(newTestJob("edx"))
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/" + job.ID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got jobResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, job.ID, got.ID)

	missing, err := http.Get(srv.URL + "/no-such-job")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestListJobsHandlerFiltersByPartner(t *testing.T) {
	srv, store := setupJobsAPI(t)

	_, err := store.Enqueue(newTestJob("edx"))
	require.NoError(t, err)
	_, err = store.Enqueue(newTestJob("mitx"))
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/?partner=edx")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		Jobs      []jobResponse `json:"jobs"`
		TotalSize int           `json:"totalSize"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got.Jobs, 1)
	assert.Equal(t, "edx", got.Jobs[0].Partner)
	assert.Equal(t, 1, got.TotalSize)
}

func TestCancelJobHandler(t *testing.T) {
	srv, store := setupJobsAPI(t)

	job, err := store.Enqueue(newTestJob("edx"))
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/"+job.ID+"/cancel", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateCanceled, got.State)
}
