package server

import (
	"errors"
	"net/http"

	"videoflix/logger"
	"videoflix/repository"
)

// ProfileHandler 获取当前登录用户的资料
func (h *APIHandler) ProfileHandler(w http.ResponseWriter, r *http.Request) {
	// 从上下文中获取用户ID
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			// token outlived the account
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		logger.Error("获取用户信息失败", logger.Uint("user_id", userID), logger.ErrorField(err))
		internalError(w)
		return
	}
	if !user.IsActive {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":         user.ID,
		"username":   user.Username,
		"email":      user.Email,
		"created_at": user.CreatedAt,
	})
}
