package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/3leaps/tunegrab/internal/config"
	apperrors "github.com/3leaps/tunegrab/internal/errors"
)

// SettingsService reads and updates the persisted settings document.
type SettingsService interface {
	Get() config.Settings
	Patch(p config.SettingsPatch) (config.Settings, error)
}

// SettingsHandlers serves /config.
type SettingsHandlers struct {
	settings SettingsService
	logger   *zap.Logger
}

// NewSettingsHandlers returns handlers backed by settings.
func NewSettingsHandlers(settings SettingsService, logger *zap.Logger) *SettingsHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsHandlers{settings: settings, logger: logger}
}

// Get serves GET /config.
func (h *SettingsHandlers) Get(w http.ResponseWriter, r *http.Request) {
	apperrors.WriteJSON(w, http.StatusOK, h.settings.Get())
}

// Update serves POST /config. Only the fields present in the body change;
// the full document is returned.
func (h *SettingsHandlers) Update(w http.ResponseWriter, r *http.Request) {
	var patch config.SettingsPatch
	if err := decodeJSON(r, &patch); err != nil {
		respondWithError(w, r, err)
		return
	}
	if patch.IsEmpty() {
		apperrors.WriteJSON(w, http.StatusOK, h.settings.Get())
		return
	}

	updated, err := h.settings.Patch(patch)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	h.logger.Info("Settings updated",
		zap.String("download_path", updated.DownloadPath),
		zap.Int("max_concurrent_downloads", updated.MaxConcurrentDownloads),
		zap.Bool("organize_by_date", updated.OrganizeByDate),
		zap.Bool("organize_by_artist", updated.OrganizeByArtist))
	apperrors.WriteJSON(w, http.StatusOK, updated)
}
