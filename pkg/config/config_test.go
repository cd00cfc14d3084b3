package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.False(t, cfg.Refresh.Parallel)
	require.Equal(t, 7, cfg.Refresh.MaxWorkers)
	require.True(t, cfg.Refresh.SweepOrphans)
	require.Equal(t, 5*time.Second, cfg.Upstream.Timeout)
	require.Equal(t, 5, cfg.Upstream.RetryMaxAttempts)
	require.Equal(t, 200*time.Millisecond, cfg.Upstream.RetryBackoff)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("CATALOG_REFRESH_PARALLEL", "true")
	t.Setenv("CATALOG_REFRESH_MAX_WORKERS", "12")
	t.Setenv("CATALOG_REFRESH_CHANGE_THRESHOLD", "0.25")
	t.Setenv("CATALOG_UPSTREAM_TIMEOUT_SECONDS", "30")
	t.Setenv("CATALOG_UPSTREAM_RETRY_BACKOFF_MS", "500")

	cfg := FromEnv()
	require.True(t, cfg.Refresh.Parallel)
	require.Equal(t, 12, cfg.Refresh.MaxWorkers)
	require.InDelta(t, 0.25, cfg.Refresh.ChangeThresholdFraction, 1e-9)
	require.Equal(t, 30*time.Second, cfg.Upstream.Timeout)
	require.Equal(t, 500*time.Millisecond, cfg.Upstream.RetryBackoff)
}

func TestPublisherManagedLookup(t *testing.T) {
	cfg := RefreshConfig{PublisherManagedPartners: []string{"edx", "mitxpro"}}
	require.True(t, cfg.PublisherManaged("edx"))
	require.False(t, cfg.PublisherManaged("openedx"))
}

func TestLoadPartners(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "partners.yaml")
	body := `partners:
  - code: edx
    name: edX
    courses_url: https://lms.example.com/api/courses/v1/courses/
    products_url: https://ecommerce.example.com/api/v2/products/
    programs_url: https://programs.example.com/api/v1/programs/
    organizations_url: https://lms.example.com/api/organizations/v0/organizations/
    token_url: https://lms.example.com/oauth2/access_token
    client_id: catalog
    client_secret: secret
    publisher_managed: true
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	partners, err := LoadPartners(path)
	require.NoError(t, err)
	require.Len(t, partners, 1)
	require.Equal(t, "edx", partners[0].Code)
	require.True(t, partners[0].PublisherManaged)
	require.Contains(t, partners[0].CoursesURL, "lms.example.com")
}

func TestLoadPartnersRequiresCode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "partners.yaml")
	require.NoError(t, os.WriteFile(path, []byte("partners:\n  - name: NoCode\n"), 0o600))

	_, err := LoadPartners(path)
	require.Error(t, err)
}
