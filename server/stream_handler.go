package server

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"videoflix/core/hls"
	"videoflix/core/mediapath"
	"videoflix/logger"
	"videoflix/model"
	"videoflix/repository"

	"github.com/gorilla/mux"
)

const (
	contentTypePlaylist = "application/vnd.apple.mpegurl"
	contentTypeSegment  = "video/MP2T"
	contentTypeMP4      = "video/mp4"
	contentTypeJPEG     = "image/jpeg"
)

// PlaylistHandler serves <root>/hls/<id>/<resolution>/index.m3u8.
func (h *APIHandler) PlaylistHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := videoIDFromVars(r)
	if !ok {
		notFound(w)
		return
	}
	resolution, err := mediapath.ValidateSegmentName(mux.Vars(r)["resolution"])
	if err != nil {
		notFound(w)
		return
	}
	h.serveMediaFile(w, r, contentTypePlaylist, "hls", idSegment(id), resolution, hls.PlaylistFilename)
}

// SegmentHandler serves <root>/hls/<id>/<resolution>/<segment>.
func (h *APIHandler) SegmentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := videoIDFromVars(r)
	if !ok {
		notFound(w)
		return
	}
	vars := mux.Vars(r)
	resolution, err := mediapath.ValidateSegmentName(vars["resolution"])
	if err != nil {
		notFound(w)
		return
	}
	segment, err := mediapath.ValidateSegmentName(vars["segment"])
	if err != nil {
		logger.Warn("Rejected segment name",
			logger.VideoID(id),
			logger.String("segment", vars["segment"]))
		notFound(w)
		return
	}
	h.serveMediaFile(w, r, contentTypeSegment, "hls", idSegment(id), resolution, segment)
}

// MasterHandler serves the master playlist recorded on the video.
func (h *APIHandler) MasterHandler(w http.ResponseWriter, r *http.Request) {
	h.serveArtifact(w, r, contentTypePlaylist, func(v *model.Video) string { return v.HLSMaster })
}

// TrailerHandler serves the trailer clip recorded on the video.
func (h *APIHandler) TrailerHandler(w http.ResponseWriter, r *http.Request) {
	h.serveArtifact(w, r, contentTypeMP4, func(v *model.Video) string { return v.Trailer })
}

// ThumbnailHandler serves the thumbnail recorded on the video.
func (h *APIHandler) ThumbnailHandler(w http.ResponseWriter, r *http.Request) {
	h.serveArtifact(w, r, contentTypeJPEG, func(v *model.Video) string { return v.Thumbnail })
}

func (h *APIHandler) serveArtifact(w http.ResponseWriter, r *http.Request, contentType string, ref func(*model.Video) string) {
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
	rel := ref(video)
	if rel == "" {
		notFound(w)
		return
	}
	h.serveMediaFile(w, r, contentType, filepath.FromSlash(rel))
}

// serveMediaFile resolves parts below the media root and streams the file.
// Every failure is reported as a plain 404 so no path information leaks.
func (h *APIHandler) serveMediaFile(w http.ResponseWriter, r *http.Request, contentType string, parts ...string) {
	p, err := mediapath.Resolve(h.cfg.MediaRoot, parts...)
	if err != nil {
		if errors.Is(err, mediapath.ErrPathEscape) {
			logger.Warn("Blocked path escape", logger.String("path", r.URL.Path))
		}
		notFound(w)
		return
	}

	f, err := os.Open(p)
	if err != nil {
		notFound(w)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		notFound(w)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=60")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func idSegment(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
