package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"videoflix/config"
	"videoflix/core/auth"
	"videoflix/core/library"
	"videoflix/logger"
	"videoflix/repository"

	"github.com/gorilla/mux"
)

// APIHandler 处理所有API请求
type APIHandler struct {
	cfg    *config.Config
	videos repository.VideoRepository
	users  repository.UserRepository
	lib    *library.Library
	tokens *auth.TokenManager
}

// NewAPIHandler 创建新的API处理器
func NewAPIHandler(
	cfg *config.Config,
	videos repository.VideoRepository,
	users repository.UserRepository,
	lib *library.Library,
	tokens *auth.TokenManager,
) *APIHandler {
	return &APIHandler{
		cfg:    cfg,
		videos: videos,
		users:  users,
		lib:    lib,
		tokens: tokens,
	}
}

// HealthHandler reports liveness.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to encode response", logger.ErrorField(err))
	}
}

// videoIDFromVars parses the {id} route variable.
func videoIDFromVars(r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func notFound(w http.ResponseWriter) {
	http.Error(w, "Not found", http.StatusNotFound)
}

func internalError(w http.ResponseWriter) {
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}
