// ABOUTME: Key management endpoints: issue, list, revoke, and admin tokens.
// ABOUTME: All routes require the admin capability on top of authentication.

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/openmcp/openmcp/internal/auth"
	"github.com/openmcp/openmcp/internal/store"
)

func (h *Handler) registerKeyRoutes(mux *http.ServeMux) {
	admin := func(fn http.HandlerFunc) http.Handler {
		return h.authMiddleware(auth.RequireAdmin(fn))
	}
	mux.Handle("POST /api/v1/auth/keys", admin(h.handleCreateKey))
	mux.Handle("GET /api/v1/auth/keys", admin(h.handleListKeys))
	mux.Handle("DELETE /api/v1/auth/keys/{id}", admin(h.handleRevokeKey))
	mux.Handle("POST /api/v1/auth/token", admin(h.handleIssueToken))
}

// createKeyRequest is the body of a key issuance call.
type createKeyRequest struct {
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
	TTL          string   `json:"ttl,omitempty"` // duration, empty = never expires
}

// keyRecord is the wire shape of one stored key. The secret never appears.
type keyRecord struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Capabilities []string   `json:"capabilities"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Revoked      bool       `json:"revoked"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
}

func toKeyRecord(k *store.APIKey) keyRecord {
	return keyRecord{
		ID:           k.ID,
		Name:         k.Name,
		Capabilities: k.Capabilities,
		CreatedAt:    k.CreatedAt,
		ExpiresAt:    k.ExpiresAt,
		Revoked:      k.Revoked,
		LastUsedAt:   k.LastUsedAt,
	}
}

func (h *Handler) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, MaxRequestBodySize)).Decode(&req); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		h.sendJSONError(w, http.StatusBadRequest, "name is required")
		return
	}
	if len(req.Capabilities) == 0 {
		h.sendJSONError(w, http.StatusBadRequest, "capabilities is required")
		return
	}

	var ttl time.Duration
	if req.TTL != "" {
		var err error
		ttl, err = time.ParseDuration(req.TTL)
		if err != nil {
			h.sendJSONError(w, http.StatusBadRequest, "invalid ttl")
			return
		}
	}

	credential, key, err := h.gate.IssueKey(r.Context(), req.Name, req.Capabilities, ttl)
	if err != nil {
		h.logger.Error("key issuance failed", "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "key issuance failed")
		return
	}

	h.logger.Info("api key issued", "key_id", key.ID, "name", key.Name)
	// The plaintext credential is shown exactly once.
	h.writeJSON(w, http.StatusCreated, map[string]any{
		"key":        credential,
		"key_record": toKeyRecord(key),
	})
}

func (h *Handler) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.gate.ListKeys(r.Context())
	if err != nil {
		h.logger.Error("key listing failed", "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "key listing failed")
		return
	}

	records := make([]keyRecord, 0, len(keys))
	for _, k := range keys {
		records = append(records, toKeyRecord(k))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"keys": records})
}

func (h *Handler) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.gate.RevokeKey(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.sendJSONError(w, http.StatusNotFound, "key not found")
			return
		}
		h.logger.Error("key revocation failed", "key_id", id, "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "key revocation failed")
		return
	}
	h.logger.Info("api key revoked", "key_id", id)
	h.writeJSON(w, http.StatusOK, map[string]any{"revoked": true})
}

// issueTokenRequest is the body of a short-lived token call.
type issueTokenRequest struct {
	TTL string `json:"ttl,omitempty"`
}

func (h *Handler) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, MaxRequestBodySize)).Decode(&req); err != nil {
			h.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	ttl := time.Hour
	if req.TTL != "" {
		var err error
		ttl, err = time.ParseDuration(req.TTL)
		if err != nil {
			h.sendJSONError(w, http.StatusBadRequest, "invalid ttl")
			return
		}
	}

	perms := auth.FromContext(r.Context())
	token, err := h.gate.IssueToken(perms, ttl)
	if err != nil {
		h.logger.Error("token issuance failed", "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "token issuance failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_in": ttl.String(),
	})
}
