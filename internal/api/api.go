// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoneGate Contributors

// Package api exposes the decision subsystem to the host transport layer over
// a small JSON HTTP surface. The host delivers connection attempts and login
// submissions here and routes players according to the typed decisions it
// gets back.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/stonegate-mc/stonegate/internal/admission"
	"github.com/stonegate-mc/stonegate/internal/auth"
	"github.com/stonegate-mc/stonegate/internal/authcache"
	"github.com/stonegate-mc/stonegate/internal/record"
)

// Records is the slice of the record coordinator the admin surface needs.
type Records interface {
	FindByKey(ctx context.Context, key string) (*record.PlayerRecord, error)
	Delete(ctx context.Context, key string) error
	Count(ctx context.Context) (int64, error)
	List(ctx context.Context, limit, offset int) ([]*record.PlayerRecord, error)
}

// Handler serves the decision API.
type Handler struct {
	admissions *admission.Service
	accounts   *auth.Service
	records    Records
	logger     *slog.Logger
}

// NewHandler creates the API handler.
func NewHandler(admissions *admission.Service, accounts *auth.Service, records Records, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		admissions: admissions,
		accounts:   accounts,
		records:    records,
		logger:     logger,
	}
}

// Router returns the HTTP routes.
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/admit", h.handleAdmit)
	mux.HandleFunc("POST /v1/register", h.handleRegister)
	mux.HandleFunc("POST /v1/login", h.handleLogin)
	mux.HandleFunc("POST /v1/logout", h.handleLogout)
	mux.HandleFunc("GET /v1/records", h.handleListRecords)
	mux.HandleFunc("DELETE /v1/records/{key}", h.handleDeleteRecord)
	return mux
}

type admitRequest struct {
	Name   string `json:"name"`
	Origin string `json:"origin"`
}

type sessionResponse struct {
	ID         string    `json:"id"`
	IdentityID string    `json:"identity_id"`
	Nickname   string    `json:"nickname"`
	StartedAt  time.Time `json:"started_at"`
	Premium    bool      `json:"premium"`
}

type admitResponse struct {
	Outcome       string           `json:"outcome"`
	Reason        string           `json:"reason"`
	Status        string           `json:"status"`
	IdentityID    string           `json:"identity_id,omitempty"`
	CanonicalName string           `json:"canonical_name,omitempty"`
	Session       *sessionResponse `json:"session,omitempty"`
}

func (h *Handler) handleAdmit(w http.ResponseWriter, r *http.Request) {
	var req admitRequest
	if !h.decode(w, r, &req) {
		return
	}

	d := h.admissions.Admit(r.Context(), req.Name, req.Origin)

	resp := admitResponse{
		Outcome:       d.Outcome.String(),
		Reason:        d.Reason,
		Status:        d.Identity.Status.String(),
		CanonicalName: d.Identity.CanonicalName,
	}
	if d.Identity.ID != uuid.Nil {
		resp.IdentityID = d.Identity.ID.String()
	}
	if d.Session != nil {
		resp.Session = toSessionResponse(d.Session)
	}
	h.respond(w, http.StatusOK, resp)
}

type credentialsRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
	Origin   string `json:"origin"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !h.decode(w, r, &req) {
		return
	}

	session, err := h.accounts.Register(r.Context(), req.Name, req.Password, req.Origin)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusCreated, toSessionResponse(session))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !h.decode(w, r, &req) {
		return
	}

	session, err := h.accounts.Login(r.Context(), req.Name, req.Password, req.Origin)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, toSessionResponse(session))
}

type logoutRequest struct {
	IdentityID string `json:"identity_id"`
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if !h.decode(w, r, &req) {
		return
	}

	id, err := uuid.Parse(req.IdentityID)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid identity id")
		return
	}
	h.accounts.Logout(id)
	w.WriteHeader(http.StatusNoContent)
}

type recordResponse struct {
	Nickname     string     `json:"nickname"`
	LowercaseKey string     `json:"lowercase_key"`
	Remote       bool       `json:"remote_confirmed"`
	ConflictMode bool       `json:"conflict_mode"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	RegisteredAt time.Time  `json:"registered_at"`
}

type listRecordsResponse struct {
	Total   int64            `json:"total"`
	Records []recordResponse `json:"records"`
}

func (h *Handler) handleListRecords(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	total, err := h.records.Count(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}

	records, err := h.records.List(r.Context(), limit, offset)
	if err != nil {
		h.fail(w, err)
		return
	}

	resp := listRecordsResponse{Total: total, Records: make([]recordResponse, 0, len(records))}
	for _, rec := range records {
		resp.Records = append(resp.Records, recordResponse{
			Nickname:     rec.Nickname,
			LowercaseKey: rec.LowercaseKey,
			Remote:       rec.IsRemoteConfirmed(),
			ConflictMode: rec.ConflictMode,
			LastLoginAt:  rec.LastLoginAt,
			RegisteredAt: rec.RegisteredAt,
		})
	}
	h.respond(w, http.StatusOK, resp)
}

func (h *Handler) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := h.records.Delete(r.Context(), key); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toSessionResponse(s *authcache.Session) *sessionResponse {
	return &sessionResponse{
		ID:         s.ID.String(),
		IdentityID: s.IdentityID.String(),
		Nickname:   s.Nickname,
		StartedAt:  s.StartedAt,
		Premium:    s.PremiumAtStart,
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.respondError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("response write failed", slog.String("error", err.Error()))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respond(w, status, map[string]string{"error": message})
}

// fail maps domain errors to HTTP statuses. Unrecognized errors are logged
// server-side and reported opaquely.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		h.respondError(w, http.StatusUnauthorized, "invalid name or password")
	case errors.Is(err, auth.ErrOriginBlocked):
		h.respondError(w, http.StatusTooManyRequests, "origin temporarily blocked")
	case errors.Is(err, auth.ErrAlreadyRegistered):
		h.respondError(w, http.StatusConflict, "name already registered")
	case errors.Is(err, auth.ErrRemoteOnlyAccount):
		h.respondError(w, http.StatusForbidden, "account has no local credentials")
	case errors.Is(err, record.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "record not found")
	case errors.Is(err, record.ErrStoreUnavailable):
		h.respondError(w, http.StatusServiceUnavailable, "record store unavailable")
	default:
		h.logger.Error("request failed", slog.String("error", err.Error()))
		h.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
