package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/3leaps/tunegrab/internal/errors"
	"github.com/3leaps/tunegrab/pkg/library"
)

// RootFunc returns the current download root.
type RootFunc func() string

// FileHandlers serves /files. The root is read on every request so
// download_path changes apply immediately.
type FileHandlers struct {
	root       RootFunc
	extensions []string
}

// NewFileHandlers lists files with the given extensions under root().
func NewFileHandlers(root RootFunc, extensions ...string) *FileHandlers {
	return &FileHandlers{root: root, extensions: extensions}
}

func (h *FileHandlers) library() (*library.Library, error) {
	lib, err := library.New(library.Config{Root: h.root(), Extensions: h.extensions})
	if err != nil {
		return nil, apperrors.NewServiceUnavailable(err.Error(), nil)
	}
	return lib, nil
}

// List serves GET /files[?pattern=glob], most recently modified first.
func (h *FileHandlers) List(w http.ResponseWriter, r *http.Request) {
	lib, err := h.library()
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	files, err := lib.List(r.Context(), r.URL.Query().Get("pattern"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, files)
}

// Serve serves GET /files/{path...} as the raw file.
func (h *FileHandlers) Serve(w http.ResponseWriter, r *http.Request) {
	lib, err := h.library()
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	full, err := lib.Resolve(chi.URLParam(r, "*"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	http.ServeFile(w, r, full)
}
