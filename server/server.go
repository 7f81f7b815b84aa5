package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"videoflix/logger"

	"github.com/gorilla/mux"
)

// NewRouter wires every endpoint. Path cleaning is disabled so that dot
// segments reach the route matcher (and fail it) instead of being redirected.
func NewRouter(h *APIHandler) http.Handler {
	router := mux.NewRouter().SkipClean(true)

	router.HandleFunc("/health", h.HealthHandler).Methods(http.MethodGet)

	// 用户认证相关的API端点
	router.HandleFunc("/api/auth/login", h.LoginHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/me", h.AuthMiddleware(h.ProfileHandler)).Methods(http.MethodGet)

	// 视频相关的API端点
	router.HandleFunc("/api/video/", h.AuthMiddleware(h.ListVideosHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/video/", h.AuthMiddleware(h.UploadVideoHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/video/{id:[0-9]+}", h.AuthMiddleware(h.GetVideoHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/video/{id:[0-9]+}", h.AuthMiddleware(h.DeleteVideoHandler)).Methods(http.MethodDelete)

	// HLS 播放相关的API端点
	router.HandleFunc("/api/video/{id:[0-9]+}/master.m3u8", h.AuthMiddleware(h.MasterHandler)).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/api/video/{id:[0-9]+}/trailer.mp4", h.AuthMiddleware(h.TrailerHandler)).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/api/video/{id:[0-9]+}/thumbnail.jpg", h.AuthMiddleware(h.ThumbnailHandler)).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/api/video/{id:[0-9]+}/{resolution}/index.m3u8", h.AuthMiddleware(h.PlaylistHandler)).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/api/video/{id:[0-9]+}/{resolution}/{segment}", h.AuthMiddleware(h.SegmentHandler)).Methods(http.MethodGet, http.MethodHead)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		notFound(w)
	})

	// preflight requests are answered before route matching
	return loggingMiddleware(corsMiddleware(router))
}

// Run serves handler on addr until ctx ends, then shuts down gracefully.
func Run(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", logger.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}
