package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"videoflix/core/library"
	"videoflix/logger"
	"videoflix/model"
	"videoflix/repository"
)

const (
	uploadFileField    = "video_file"
	multipartMemoryMax = 32 << 20
)

// videoResponse is the list representation of a video.
type videoResponse struct {
	ID           uint      `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	ThumbnailURL string    `json:"thumbnail_url"`
	Category     string    `json:"category"`
}

// videoDetailResponse adds the playback URLs.
type videoDetailResponse struct {
	videoResponse
	MasterURL  string `json:"hls_master_url"`
	TrailerURL string `json:"trailer_url"`
	Ready      bool   `json:"ready"`
}

// baseURL prefers the configured public URL and otherwise derives one from
// the request.
func (h *APIHandler) baseURL(r *http.Request) string {
	if h.cfg.PublicBaseURL != "" {
		return strings.TrimRight(h.cfg.PublicBaseURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

func artifactURL(base string, id uint, ref, name string) string {
	if ref == "" {
		return ""
	}
	return fmt.Sprintf("%s/api/video/%d/%s", base, id, name)
}

func (h *APIHandler) toResponse(r *http.Request, v *model.Video) videoResponse {
	return videoResponse{
		ID:           v.ID,
		CreatedAt:    v.CreatedAt,
		Title:        v.Title,
		Description:  v.Description,
		ThumbnailURL: artifactURL(h.baseURL(r), v.ID, v.Thumbnail, "thumbnail.jpg"),
		Category:     v.Category,
	}
}

// ListVideosHandler returns all videos, newest first.
func (h *APIHandler) ListVideosHandler(w http.ResponseWriter, r *http.Request) {
	videos, err := h.videos.List(r.Context())
	if err != nil {
		logger.Error("Failed to list videos", logger.ErrorField(err))
		internalError(w)
		return
	}

	resp := make([]videoResponse, 0, len(videos))
	for _, v := range videos {
		resp = append(resp, h.toResponse(r, v))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetVideoHandler returns one video with its playback URLs.
func (h *APIHandler) GetVideoHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := videoIDFromVars(r)
	if !ok {
		notFound(w)
		return
	}
	video, err := h.videos.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrVideoNotFound) {
			notFound(w)
			return
		}
		logger.Error("Failed to load video", logger.VideoID(id), logger.ErrorField(err))
		internalError(w)
		return
	}

	base := h.baseURL(r)
	writeJSON(w, http.StatusOK, videoDetailResponse{
		videoResponse: h.toResponse(r, video),
		MasterURL:     artifactURL(base, video.ID, video.HLSMaster, "master.m3u8"),
		TrailerURL:    artifactURL(base, video.ID, video.Trailer, "trailer.mp4"),
		Ready:         video.HasHLS(),
	})
}

// UploadVideoHandler stores a multipart upload and schedules processing.
// The response is 202 because encoding happens in the background.
func (h *APIHandler) UploadVideoHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemoryMax); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "File too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(uploadFileField)
	if err != nil {
		http.Error(w, "Missing "+uploadFileField, http.StatusBadRequest)
		return
	}
	defer file.Close()

	video, err := h.lib.Ingest(r.Context(), library.Upload{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Category:    r.FormValue("category"),
		Filename:    header.Filename,
		Body:        file,
	})
	switch {
	case err == nil:
	case errors.Is(err, library.ErrInvalidInput), errors.Is(err, library.ErrUnsupportedFormat):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, repository.ErrDuplicateTitle):
		http.Error(w, "A video with this title already exists", http.StatusConflict)
		return
	case errors.Is(err, library.ErrEnqueueFailed):
		http.Error(w, "Video stored but processing could not be scheduled", http.StatusServiceUnavailable)
		return
	default:
		logger.Error("Upload failed", logger.ErrorField(err))
		internalError(w)
		return
	}

	username, _ := GetUsernameFromContext(r.Context())
	logger.Info("Upload accepted",
		logger.VideoID(video.ID),
		logger.String("username", username))
	writeJSON(w, http.StatusAccepted, h.toResponse(r, video))
}

// DeleteVideoHandler removes a video and every file derived from it.
func (h *APIHandler) DeleteVideoHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := videoIDFromVars(r)
	if !ok {
		notFound(w)
		return
	}
	if err := h.lib.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrVideoNotFound) {
			notFound(w)
			return
		}
		logger.Error("Delete failed", logger.VideoID(id), logger.ErrorField(err))
		internalError(w)
		return
	}

	username, _ := GetUsernameFromContext(r.Context())
	logger.Info("Video removed", logger.VideoID(id), logger.String("username", username))
	w.WriteHeader(http.StatusNoContent)
}
