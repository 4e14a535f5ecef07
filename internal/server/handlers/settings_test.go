package handlers

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/tunegrab/internal/config"
	apperrors "github.com/3leaps/tunegrab/internal/errors"
)

func settingsRouter(t *testing.T) (http.Handler, *config.SettingsStore) {
	t.Helper()
	store, err := config.OpenSettingsStore(filepath.Join(t.TempDir(), "settings.json"), config.Settings{
		DownloadPath:           filepath.Join(t.TempDir(), "music"),
		MaxConcurrentDownloads: 3,
		OrganizeByArtist:       true,
	})
	require.NoError(t, err)

	h := NewSettingsHandlers(store, nil)
	r := chi.NewRouter()
	r.Get("/config", h.Get)
	r.Post("/config", h.Update)
	return r, store
}

func TestSettings_Get(t *testing.T) {
	router, store := settingsRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/config", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, store.Get().DownloadPath, got["download_path"])
	assert.Equal(t, float64(3), got["max_concurrent_downloads"])
	assert.Equal(t, false, got["organize_by_date"])
	assert.Equal(t, true, got["organize_by_artist"])
}

func TestSettings_UpdatePartial(t *testing.T) {
	router, store := settingsRouter(t)
	before := store.Get()

	rec := doRequest(t, router, http.MethodPost, "/config", `{"organize_by_date": true, "max_concurrent_downloads": 1}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var got config.Settings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.OrganizeByDate)
	assert.Equal(t, 1, got.MaxConcurrentDownloads)
	assert.Equal(t, before.DownloadPath, got.DownloadPath)
	assert.Equal(t, got, store.Get())
	assert.FileExists(t, store.Path())
}

func TestSettings_UpdateEmptyIsNoop(t *testing.T) {
	router, store := settingsRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/config", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NoFileExists(t, store.Path())
}

func TestSettings_UpdateRejected(t *testing.T) {
	router, store := settingsRouter(t)
	before := store.Get()

	for _, body := range []string{
		`{"max_concurrent_downloads": -1}`,
		`{"download_path": ""}`,
		`{"theme": "dark"}`,
		`not json`,
	} {
		rec := doRequest(t, router, http.MethodPost, "/config", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, apperrors.CodeInvalidInput, decodeError(t, rec).Code, body)
	}
	assert.Equal(t, before, store.Get())
}
