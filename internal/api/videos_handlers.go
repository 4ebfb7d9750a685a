package api

import (
	"net/http"
	"strings"

	"bagurumba/internal/catalog"
	"bagurumba/internal/observability/logging"
)

type uploadURLResponse struct {
	UploadURL string `json:"uploadUrl"`
	VideoID   string `json:"videoId"`
}

type saveVideoRequest struct {
	VideoID string `json:"videoId"`
	Title   string `json:"title"`
}

type videoResponse struct {
	Video catalog.OwnVideo `json:"video"`
}

type videoStatusResponse struct {
	VideoID string `json:"videoId"`
	Status  string `json:"status"`
}

type ownVideosResponse struct {
	Videos []catalog.OwnVideo `json:"videos"`
}

type publicVideosResponse struct {
	Videos []catalog.PublicVideo `json:"videos"`
}

// UploadURL issues a direct-upload session to the caller.
func (h *Handler) UploadURL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	if h.Uploads == nil {
		WriteRequestError(w, ServiceUnavailableError("uploads unavailable"))
		return
	}
	session, err := h.Uploads.IssueUploadSession(r.Context(), user)
	if err != nil {
		h.respondError(r.Context(), w, err, errUploadSession, "issue upload session failed")
		return
	}
	writeJSON(w, http.StatusOK, uploadURLResponse{UploadURL: session.UploadURL, VideoID: session.CorrelationID})
}

// SaveVideo records an upload the caller finished. A repeated save returns
// the stored record with 200 instead of 201.
func (h *Handler) SaveVideo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	if h.Uploads == nil {
		WriteRequestError(w, ServiceUnavailableError("uploads unavailable"))
		return
	}
	var req saveVideoRequest
	if err := decodeJSON(w, r, h.MaxBodyBytes, &req); err != nil {
		WriteRequestError(w, ValidationError("invalid request body"))
		return
	}
	if strings.TrimSpace(req.VideoID) == "" {
		WriteRequestError(w, errInvalidVideoID)
		return
	}
	ctx := logging.ContextWithCorrelationID(r.Context(), strings.TrimSpace(req.VideoID))
	confirmation, err := h.Uploads.ConfirmUpload(ctx, user, req.VideoID, req.Title)
	if err != nil {
		h.respondError(ctx, w, err, errPersist, "confirm upload failed")
		return
	}
	status := http.StatusOK
	if confirmation.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, videoResponse{Video: catalog.NewOwnVideo(confirmation.Video)})
}

// MyVideos lists the caller's own uploads in every status.
func (h *Handler) MyVideos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	if h.Catalog == nil {
		WriteRequestError(w, ServiceUnavailableError("catalog unavailable"))
		return
	}
	videos, err := h.Catalog.ListOwnVideos(r.Context(), user.ID)
	if err != nil {
		h.respondError(r.Context(), w, err, errListVideos, "list own videos failed")
		return
	}
	writeJSON(w, http.StatusOK, ownVideosResponse{Videos: videos})
}

// VideoStatus reports the reconciled status of /api/videos/status/{videoId}.
func (h *Handler) VideoStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := h.requireAuthenticatedUser(w, r); !ok {
		return
	}
	if h.Reconciler == nil {
		WriteRequestError(w, ServiceUnavailableError("status unavailable"))
		return
	}
	videoID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/videos/status/"), "/")
	if videoID == "" || strings.Contains(videoID, "/") {
		WriteRequestError(w, errInvalidVideoID)
		return
	}
	ctx := logging.ContextWithCorrelationID(r.Context(), videoID)
	report, err := h.Reconciler.PullStatus(ctx, videoID)
	if err != nil {
		h.respondError(ctx, w, err, errStatusNotAvailable, "pull status failed")
		return
	}
	writeJSON(w, http.StatusOK, videoStatusResponse{VideoID: report.CorrelationID, Status: report.Status.String()})
}

// AllVideos is the public catalog, optionally filtered by ?category=.
func (h *Handler) AllVideos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	if h.Catalog == nil {
		WriteRequestError(w, ServiceUnavailableError("catalog unavailable"))
		return
	}
	videos, err := h.Catalog.ListPublicVideos(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		h.respondError(r.Context(), w, err, errListVideos, "list public videos failed")
		return
	}
	writeJSON(w, http.StatusOK, publicVideosResponse{Videos: videos})
}
