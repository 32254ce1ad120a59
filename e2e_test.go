package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beiqi7/copernicus-cdsapi-webui/internal/app"
	"github.com/beiqi7/copernicus-cdsapi-webui/internal/config"
	"github.com/beiqi7/copernicus-cdsapi-webui/internal/reclaim"
	"github.com/beiqi7/copernicus-cdsapi-webui/internal/retrieval"
	"github.com/beiqi7/copernicus-cdsapi-webui/internal/store"
	"github.com/beiqi7/copernicus-cdsapi-webui/internal/tier"
)

type recordingRetriever struct {
	dir   string
	calls int
}

func (r *recordingRetriever) Retrieve(ctx context.Context, req retrieval.Request) (retrieval.Result, error) {
	r.calls++
	name := fmt.Sprintf("era5_e2e_%d.nc", r.calls)
	path := filepath.Join(r.dir, name)
	payload := []byte("simulated era5 result")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return retrieval.Result{}, err
	}
	return retrieval.Result{Filename: name, FilePath: path, SizeBytes: int64(len(payload))}, nil
}

func e2eConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.DownloadPath = filepath.Join(dir, "downloads")
	cfg.LinksFile = filepath.Join(dir, "data", "temp_links.json")
	cfg.CacheIndexPath = filepath.Join(dir, "data", "download_index.db")
	return cfg
}

func postRetrieve(t *testing.T, a *app.App) map[string]any {
	t.Helper()

	body := `{
		"product_type": "reanalysis",
		"variable": ["2m_temperature"],
		"year": ["2023"],
		"month": ["06"],
		"day": ["01"],
		"time": ["12:00"]
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/retrieve", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func get(a *app.App, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)
	return rec
}

func TestLinkLifecycle(t *testing.T) {
	cfg := e2eConfig(t)
	retriever := &recordingRetriever{dir: cfg.DownloadPath}

	a, err := app.New(cfg, retriever)
	require.NoError(t, err)

	resp := postRetrieve(t, a)
	token := resp["token"].(string)
	require.NotEmpty(t, token)

	rec := get(a, "/api/links/"+token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"valid":true`)

	for i := 0; i < 5; i++ {
		rec := get(a, "/download/"+token)
		require.Equal(t, http.StatusOK, rec.Code, "download %d", i+1)
		assert.Equal(t, "simulated era5 result", rec.Body.String())
	}

	rec = get(a, "/download/"+token)
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Contains(t, rec.Body.String(), "download limit reached")

	// The status endpoint reports the link as no longer redeemable, even
	// before the reclamation scheduler has swept it.
	rec = get(a, "/api/links/"+token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"valid":false`)

	require.NoError(t, a.Shutdown(context.Background()))
}

func TestLinksAndCacheSurviveRestart(t *testing.T) {
	cfg := e2eConfig(t)
	retriever := &recordingRetriever{dir: cfg.DownloadPath}

	a, err := app.New(cfg, retriever)
	require.NoError(t, err)

	resp := postRetrieve(t, a)
	token := resp["token"].(string)
	require.NoError(t, a.Shutdown(context.Background()))

	// Restart on the same data directory.
	restarted, err := app.New(cfg, retriever)
	require.NoError(t, err)
	defer restarted.Shutdown(context.Background())

	rec := get(restarted, "/api/links/"+token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"active"`)

	rec = get(restarted, "/download/"+token)
	assert.Equal(t, http.StatusOK, rec.Code)

	// The retrieval cache survived too: the same request reuses the file
	// without a second upstream fetch.
	again := postRetrieve(t, restarted)
	assert.Equal(t, true, again["cached"])
	assert.Equal(t, 1, retriever.calls)
}

func TestExhaustedLinkIsReclaimed(t *testing.T) {
	cfg := e2eConfig(t)
	retriever := &recordingRetriever{dir: cfg.DownloadPath}

	a, err := app.New(cfg, retriever)
	require.NoError(t, err)

	resp := postRetrieve(t, a)
	token := resp["token"].(string)

	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusOK, get(a, "/download/"+token).Code)
	}
	require.NoError(t, a.Shutdown(context.Background()))

	// Run a reclamation pass over the persisted state, the way a fresh
	// process would after restart.
	policy, err := tier.NewPolicy(cfg.Tiers, cfg.MaxDownloadsPerLink)
	require.NoError(t, err)
	st, err := store.New(cfg.LinksFile, policy)
	require.NoError(t, err)

	filePath := filepath.Join(cfg.DownloadPath, "era5_e2e_1.nc")
	require.FileExists(t, filePath)

	r := reclaim.New(st, time.Minute)
	assert.Equal(t, 1, r.RunOnce())
	assert.NoFileExists(t, filePath)

	_, err = st.Get(token)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
