// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groundsync

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// ClientAuthenticator extracts user and device identity from HTTP requests.
// Implementations should validate auth (e.g., JWT) and provide both identifiers.
type ClientAuthenticator interface {
	GetUserID(r *http.Request) (string, error)
	GetDeviceID(r *http.Request) (string, error)
}

// HTTPSyncHandlers provides the HTTP endpoints clients push mutations and
// media to.
type HTTPSyncHandlers struct {
	service       *SyncService
	authenticator ClientAuthenticator
	logger        *slog.Logger

	maxBodyBytes int64
}

// NewHTTPSyncHandlers creates a new instance of sync handlers
func NewHTTPSyncHandlers(service *SyncService, authenticator ClientAuthenticator, logger *slog.Logger) *HTTPSyncHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := int64(32 << 20) // 32 MiB covers field photos with headroom
	if service.config.MaxMediaBytes > 0 {
		maxBody = service.config.MaxMediaBytes
	}
	return &HTTPSyncHandlers{
		service:       service,
		authenticator: authenticator,
		logger:        logger,
		maxBodyBytes:  maxBody,
	}
}

// Register attaches the sync endpoints to mux.
func (h *HTTPSyncHandlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("/sync/mutations", h.HandleMutation)
	mux.HandleFunc("/sync/media", h.HandleMedia)
}

// HandleMutation processes a single mutation upload.
func (h *HTTPSyncHandlers) HandleMutation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST method is allowed")
		return
	}

	userID, err := h.authenticator.GetUserID(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return
	}

	var upload MutationUpload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes)).Decode(&upload); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse mutation upload")
		return
	}

	ack, err := h.service.ProcessMutation(r.Context(), userID, &upload)
	if err != nil {
		if strings.Contains(err.Error(), "invalid mutation upload") {
			h.writeError(w, http.StatusBadRequest, "invalid_mutation", err.Error())
			return
		}
		h.logger.Error("Failed to process mutation", "error", err, "mutation_id", upload.MutationID, "user_id", userID)
		h.writeError(w, http.StatusInternalServerError, "mutation_failed", "Failed to process mutation")
		return
	}

	h.writeJSON(w, ack)
}

// HandleMedia processes a single media blob upload. The destination key is
// passed in the key query parameter.
func (h *HTTPSyncHandlers) HandleMedia(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only PUT method is allowed")
		return
	}

	userID, err := h.authenticator.GetUserID(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return
	}

	key := r.URL.Query().Get("key")
	if key == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing key query parameter")
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusRequestEntityTooLarge, "media_too_large", "Media blob exceeds size limit")
		return
	}

	ack, err := h.service.StoreMedia(r.Context(), userID, key, data)
	if err != nil {
		h.logger.Error("Failed to store media", "error", err, "key", key, "user_id", userID)
		h.writeError(w, http.StatusInternalServerError, "media_failed", "Failed to store media")
		return
	}

	h.writeJSON(w, ack)
}

func (h *HTTPSyncHandlers) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *HTTPSyncHandlers) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: code, Message: message})
}
