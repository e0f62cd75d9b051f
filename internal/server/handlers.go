package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/sceneforge/preview-api/internal/composer"
	"github.com/sceneforge/preview-api/internal/mediacache"
	"github.com/sceneforge/preview-api/internal/scene"
	"github.com/sceneforge/preview-api/internal/session"
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service   *session.Service
	validator *validator.Validate
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *session.Service, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		service:   service,
		validator: validator.New(),
		logger:    logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateSession handles POST /sessions requests.
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	var opts []session.CreateOption
	if req.Letterboxing != nil {
		opts = append(opts, session.WithLetterboxing(*req.Letterboxing))
	}

	view, err := h.service.CreatePreview(r.Context(), toScene(req.Scene), req.ProjectRatio, opts...)
	if err != nil {
		if errors.Is(err, session.ErrInvalidScene) {
			writeError(w, http.StatusBadRequest, err.Error(), "INVALID_SCENE")
			return
		}
		var dlErr *mediacache.DownloadError
		if errors.As(err, &dlErr) || errors.Is(err, mediacache.ErrDownloadTimeout) {
			h.logger.Warn("media download failed",
				slog.String("scene_id", req.Scene.ID),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusBadGateway, "media download failed", "MEDIA_DOWNLOAD_FAILED")
			return
		}
		h.logger.Error("failed to create session",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create session", "SESSION_CREATION_FAILED")
		return
	}

	writeJSON(w, http.StatusCreated, toSessionResponse(view))
}

// ListSessions handles GET /sessions requests.
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	views, err := h.service.ListSessions(r.Context())
	if err != nil {
		h.logger.Error("failed to list sessions",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list sessions", "SESSION_LIST_FAILED")
		return
	}

	resp := make([]SessionResponse, 0, len(views))
	for _, v := range views {
		resp = append(resp, toSessionResponse(v))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSession handles GET /sessions/{id} requests.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	view, ok := h.findSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(view))
}

// Play handles POST /sessions/{id}/play requests.
func (h *Handlers) Play(w http.ResponseWriter, r *http.Request) {
	h.transport(w, r, "play", h.service.Play)
}

// Pause handles POST /sessions/{id}/pause requests.
func (h *Handlers) Pause(w http.ResponseWriter, r *http.Request) {
	h.transport(w, r, "pause", h.service.Pause)
}

// Seek handles POST /sessions/{id}/seek requests.
func (h *Handlers) Seek(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session ID is required", "MISSING_SESSION_ID")
		return
	}

	var req SeekRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	view, err := h.service.Seek(r.Context(), sessionID, req.Time)
	if err != nil {
		h.writeSessionError(w, sessionID, "seek", err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(view))
}

// ExportFrame handles POST /sessions/{id}/export requests.
func (h *Handlers) ExportFrame(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session ID is required", "MISSING_SESSION_ID")
		return
	}

	url, err := h.service.ExportFrame(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found", "SESSION_NOT_FOUND")
			return
		}
		if errors.Is(err, composer.ErrInvalidState) {
			writeError(w, http.StatusConflict, "session is not ready for export", "SESSION_NOT_READY")
			return
		}
		if errors.Is(err, composer.ErrExportUnsupported) {
			writeError(w, http.StatusNotImplemented, "engine does not support frame export", "EXPORT_UNSUPPORTED")
			return
		}
		h.logger.Error("failed to export frame",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to export frame", "EXPORT_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, ExportResponse{URL: url})
}

// DeleteSession handles DELETE /sessions/{id} requests.
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session ID is required", "MISSING_SESSION_ID")
		return
	}

	if err := h.service.CloseSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found", "SESSION_NOT_FOUND")
			return
		}
		h.logger.Error("failed to close session",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to close session", "SESSION_CLOSE_FAILED")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// PrefetchProject handles POST /projects/{id}/prefetch requests.
func (h *Handlers) PrefetchProject(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "project ID is required", "MISSING_PROJECT_ID")
		return
	}

	var req PrefetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	scenes := make([]scene.Scene, 0, len(req.Scenes))
	for _, s := range req.Scenes {
		sc := toScene(s)
		sc.ProjectID = projectID
		scenes = append(scenes, sc)
	}

	cached := h.service.PrefetchProject(r.Context(), projectID, scenes)
	writeJSON(w, http.StatusOK, PrefetchResponse{CachedScenes: cached})
}

// CacheStats handles GET /cache/stats requests.
func (h *Handlers) CacheStats(w http.ResponseWriter, r *http.Request) {
	stats := h.service.CacheStats()
	writeJSON(w, http.StatusOK, CacheStatsResponse{
		Entries:    stats.Entries,
		InFlight:   stats.InFlight,
		TotalBytes: stats.TotalBytes,
	})
}

// transport runs one of the play/pause service operations sharing the
// path-value plumbing and error mapping.
func (h *Handlers) transport(w http.ResponseWriter, r *http.Request, op string, fn func(ctx context.Context, id string) (session.View, error)) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session ID is required", "MISSING_SESSION_ID")
		return
	}

	view, err := fn(r.Context(), sessionID)
	if err != nil {
		h.writeSessionError(w, sessionID, op, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(view))
}

// findSession resolves {id} to a session view, writing the error
// response itself when the lookup fails.
func (h *Handlers) findSession(w http.ResponseWriter, r *http.Request) (session.View, bool) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session ID is required", "MISSING_SESSION_ID")
		return session.View{}, false
	}

	view, err := h.service.GetSession(r.Context(), sessionID)
	if err != nil {
		h.writeSessionError(w, sessionID, "get", err)
		return session.View{}, false
	}
	return view, true
}

// writeSessionError maps service errors for session-scoped operations.
func (h *Handlers) writeSessionError(w http.ResponseWriter, sessionID, op string, err error) {
	if errors.Is(err, session.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found", "SESSION_NOT_FOUND")
		return
	}
	h.logger.Error("session operation failed",
		slog.String("session_id", sessionID),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "session operation failed", "SESSION_OPERATION_FAILED")
}

// toScene converts the request DTO to the domain scene.
func toScene(s SceneRequest) scene.Scene {
	return scene.Scene{
		ID:        s.ID,
		ProjectID: s.ProjectID,
		MediaURL:  s.MediaURL,
		MediaKind: scene.MediaKind(s.MediaKind),
		Width:     s.Width,
		Height:    s.Height,
	}
}

// toSessionResponse converts a session view to the response DTO.
func toSessionResponse(v session.View) SessionResponse {
	return SessionResponse{
		ID:          v.ID,
		SceneID:     v.SceneID,
		State:       string(v.State),
		Canvas:      CanvasResponse{Width: v.Canvas.Width, Height: v.Canvas.Height},
		Layout: LayoutResponse{
			Width:     v.Layout.Width,
			Height:    v.Layout.Height,
			ObjectFit: string(v.Layout.ObjectFit),
		},
		Duration:    v.Duration,
		CurrentTime: v.CurrentTime,
		Ready:       v.Ready,
		Error:       v.Error,
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
