package handler

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

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beiqi7/copernicus-cdsapi-webui/internal/cache"
	"github.com/beiqi7/copernicus-cdsapi-webui/internal/config"
	"github.com/beiqi7/copernicus-cdsapi-webui/internal/retrieval"
	"github.com/beiqi7/copernicus-cdsapi-webui/internal/store"
	"github.com/beiqi7/copernicus-cdsapi-webui/internal/tier"
)

// stubRetriever writes a fixed payload into the download directory and
// counts how often it is asked to fetch.
type stubRetriever struct {
	dir     string
	payload string
	calls   int
	err     error
}

func (s *stubRetriever) Retrieve(ctx context.Context, req retrieval.Request) (retrieval.Result, error) {
	s.calls++
	if s.err != nil {
		return retrieval.Result{}, s.err
	}

	name := fmt.Sprintf("era5_stub_%d.nc", s.calls)
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, []byte(s.payload), 0o644); err != nil {
		return retrieval.Result{}, err
	}
	return retrieval.Result{Filename: name, FilePath: path, SizeBytes: int64(len(s.payload))}, nil
}

func setupTestEnvironment(t *testing.T) (*Handler, *store.Store, *stubRetriever) {
	t.Helper()

	tempDir := t.TempDir()

	cfg := config.Default()
	cfg.BaseURL = "http://localhost:5000/"
	cfg.DownloadPath = tempDir
	cfg.LinksFile = filepath.Join(tempDir, "temp_links.json")
	cfg.CacheIndexPath = filepath.Join(tempDir, "download_index.db")

	policy, err := tier.NewPolicy(cfg.Tiers, cfg.MaxDownloadsPerLink)
	require.NoError(t, err)

	st, err := store.New(cfg.LinksFile, policy)
	require.NoError(t, err)

	idx, err := cache.Open(cfg.CacheIndexPath)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	retriever := &stubRetriever{dir: tempDir, payload: "pretend netcdf bytes"}
	return NewHandler(st, idx, retriever, cfg), st, retriever
}

func retrieveBody() string {
	return `{
		"product_type": "reanalysis",
		"variable": ["2m_temperature"],
		"year": ["2023"],
		"month": ["01"],
		"day": ["15"],
		"time": ["12:00"]
	}`
}

func doRetrieve(t *testing.T, h *Handler) map[string]any {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/retrieve", strings.NewReader(retrieveBody()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	require.NoError(t, h.HandleRetrieve(e.NewContext(req, rec)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func doDownload(t *testing.T, h *Handler, token string) *httptest.ResponseRecorder {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/download/"+token, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("token")
	c.SetParamValues(token)

	require.NoError(t, h.HandleDownload(c))
	return rec
}

func TestHandleRetrieveIssuesLink(t *testing.T) {
	h, st, retriever := setupTestEnvironment(t)

	resp := doRetrieve(t, h)

	token, _ := resp["token"].(string)
	require.NotEmpty(t, token)
	assert.Equal(t, "http://localhost:5000/download/"+token, resp["url"])
	assert.Equal(t, float64(5), resp["max_downloads"])
	assert.Equal(t, float64(2), resp["expires_in_hours"], "a tiny file gets the 2h tier")
	assert.Equal(t, false, resp["cached"])
	assert.Equal(t, 1, retriever.calls)

	rec, err := st.Get(token)
	require.NoError(t, err)
	assert.FileExists(t, rec.FilePath)
}

func TestHandleRetrieveReusesCachedResult(t *testing.T) {
	h, _, retriever := setupTestEnvironment(t)

	first := doRetrieve(t, h)
	second := doRetrieve(t, h)

	assert.Equal(t, 1, retriever.calls, "second request must hit the cache")
	assert.Equal(t, false, first["cached"])
	assert.Equal(t, true, second["cached"])
	assert.NotEqual(t, first["token"], second["token"], "each request gets its own link")
}

func TestHandleRetrieveRefetchesWhenCachedFileGone(t *testing.T) {
	h, st, retriever := setupTestEnvironment(t)

	first := doRetrieve(t, h)
	rec, err := st.Get(first["token"].(string))
	require.NoError(t, err)
	require.NoError(t, os.Remove(rec.FilePath))

	second := doRetrieve(t, h)
	assert.Equal(t, 2, retriever.calls)
	assert.Equal(t, false, second["cached"])
}

func TestHandleRetrieveValidation(t *testing.T) {
	h, _, _ := setupTestEnvironment(t)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/retrieve", strings.NewReader(`{"product_type": "reanalysis"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	require.NoError(t, h.HandleRetrieve(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRetrieveUpstreamFailure(t *testing.T) {
	h, _, retriever := setupTestEnvironment(t)
	retriever.err = fmt.Errorf("cds is down")

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/retrieve", strings.NewReader(retrieveBody()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	require.NoError(t, h.HandleRetrieve(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleDownloadServesFile(t *testing.T) {
	h, _, retriever := setupTestEnvironment(t)

	resp := doRetrieve(t, h)
	token := resp["token"].(string)

	rec := doDownload(t, h, token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, retriever.payload, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Equal(t, "4", rec.Header().Get("X-Downloads-Remaining"))
}

func TestHandleDownloadQuota(t *testing.T) {
	h, _, _ := setupTestEnvironment(t)

	resp := doRetrieve(t, h)
	token := resp["token"].(string)

	for i := 0; i < 5; i++ {
		rec := doDownload(t, h, token)
		require.Equal(t, http.StatusOK, rec.Code, "download %d", i+1)
	}

	rec := doDownload(t, h, token)
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Contains(t, rec.Body.String(), "download limit reached")
}

func TestHandleDownloadUnknownToken(t *testing.T) {
	h, _, _ := setupTestEnvironment(t)

	rec := doDownload(t, h, "no-such-token")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleLinkStatus(t *testing.T) {
	h, _, _ := setupTestEnvironment(t)

	resp := doRetrieve(t, h)
	token := resp["token"].(string)

	doDownload(t, h, token)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/links/"+token, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("token")
	c.SetParamValues(token)

	require.NoError(t, h.HandleLinkStatus(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "active", status["status"])
	assert.Equal(t, true, status["valid"])
	assert.Equal(t, float64(1), status["download_count"])
	assert.Equal(t, float64(5), status["max_downloads"])
	assert.Equal(t, float64(4), status["remaining_downloads"])
}

func TestHandleLinkStatusDoesNotConsumeQuota(t *testing.T) {
	h, st, _ := setupTestEnvironment(t)

	resp := doRetrieve(t, h)
	token := resp["token"].(string)

	e := echo.New()
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/links/"+token, nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("token")
		c.SetParamValues(token)
		require.NoError(t, h.HandleLinkStatus(c))
	}

	got, err := st.Get(token)
	require.NoError(t, err)
	assert.Equal(t, 0, got.DownloadCount)
}

func TestHandleLinkStatusUnknownToken(t *testing.T) {
	h, _, _ := setupTestEnvironment(t)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/links/nope", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("token")
	c.SetParamValues("nope")

	require.NoError(t, h.HandleLinkStatus(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleHomeAndHealth(t *testing.T) {
	h, _, _ := setupTestEnvironment(t)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, h.HandleHome(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "copernicus-cdsapi-webui")

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec = httptest.NewRecorder()
	require.NoError(t, h.HandleHealth(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}
