/**
 * @description
 * HTTP handlers for the payroll-service. Handlers resolve the caller, decode the
 * request, call the application service and map its error taxonomy onto status
 * codes in writeServiceError.
 *
 * @dependencies
 * - internal/app: service operations and error sentinels.
 * - internal/domain: request and response models.
 */
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/transfa/payroll-service/internal/app"
	"github.com/transfa/payroll-service/internal/domain"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	maxRequestBodyBytes  = 1 << 20
)

// PayrollService is the application surface the handlers call.
type PayrollService interface {
	ResolveInternalUserID(ctx context.Context, subject string) (uuid.UUID, error)

	CreateStream(ctx context.Context, actorID, organizationID uuid.UUID, idempotencyKey string, req domain.CreateStreamRequest) (*domain.PayrollStream, error)
	ListStreams(ctx context.Context, actorID, organizationID uuid.UUID) ([]domain.PayrollStream, error)
	GetTreasuryView(ctx context.Context, actorID, organizationID uuid.UUID) (*domain.TreasuryView, error)
	RefreshStreamStatus(ctx context.Context, actorID, streamID uuid.UUID) (*domain.StreamStatusView, error)
	PauseStream(ctx context.Context, actorID, streamID uuid.UUID) (*domain.PayrollStream, error)
	ResumeStream(ctx context.Context, actorID, streamID uuid.UUID) (*domain.PayrollStream, error)
	StopStream(ctx context.Context, actorID, streamID uuid.UUID) (*domain.PayrollStream, error)
	SyncStream(ctx context.Context, actorID, streamID uuid.UUID) (int, error)
	ListStreamRuns(ctx context.Context, actorID, streamID uuid.UUID) ([]domain.StreamRun, error)
	SyncActiveStreams(ctx context.Context) (*domain.SyncSummary, error)

	PrepareStake(ctx context.Context, ownerID uuid.UUID, idempotencyKey string, req domain.StakeRequest) (*domain.ProviderLedger, error)
	PrepareUnstake(ctx context.Context, ownerID uuid.UUID, idempotencyKey string, req domain.StakeRequest) (*domain.ProviderLedger, error)
	ExecuteLedger(ctx context.Context, ownerID, ledgerID uuid.UUID, req domain.ExecuteLedgerRequest) (*domain.ProviderLedger, error)
	ConfirmLedger(ctx context.Context, ownerID, ledgerID uuid.UUID, req domain.ConfirmLedgerRequest) (*domain.ProviderLedger, error)
	ListLedger(ctx context.Context, ownerID uuid.UUID, limit int) ([]domain.ProviderLedger, error)
}

// Handler holds the application service that handlers will interact with.
type Handler struct {
	service PayrollService
	logger  *slog.Logger
}

// NewHandler creates a new Handler with the given service.
func NewHandler(service PayrollService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger.With("component", "api")}
}

type syncStreamResponse struct {
	StreamID         uuid.UUID `json:"stream_id"`
	ExecutionsSynced int       `json:"executions_synced"`
}

func (h *Handler) handleCreateStream(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	orgID, ok := h.uuidParam(w, r, "orgID")
	if !ok {
		return
	}
	var req domain.CreateStreamRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	stream, err := h.service.CreateStream(r.Context(), actorID, orgID, r.Header.Get(idempotencyKeyHeader), req)
	if err != nil {
		h.writeServiceError(w, r, "create_stream", err)
		return
	}
	respondWithJSON(w, http.StatusCreated, stream)
}

func (h *Handler) handleListStreams(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	orgID, ok := h.uuidParam(w, r, "orgID")
	if !ok {
		return
	}

	streams, err := h.service.ListStreams(r.Context(), actorID, orgID)
	if err != nil {
		h.writeServiceError(w, r, "list_streams", err)
		return
	}
	respondWithJSON(w, http.StatusOK, streams)
}

func (h *Handler) handleGetTreasury(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	orgID, ok := h.uuidParam(w, r, "orgID")
	if !ok {
		return
	}

	view, err := h.service.GetTreasuryView(r.Context(), actorID, orgID)
	if err != nil {
		h.writeServiceError(w, r, "get_treasury", err)
		return
	}
	respondWithJSON(w, http.StatusOK, view)
}

func (h *Handler) handleGetStream(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	streamID, ok := h.uuidParam(w, r, "streamID")
	if !ok {
		return
	}

	view, err := h.service.RefreshStreamStatus(r.Context(), actorID, streamID)
	if err != nil {
		h.writeServiceError(w, r, "get_stream", err)
		return
	}
	respondWithJSON(w, http.StatusOK, view)
}

type streamTransition func(ctx context.Context, actorID, streamID uuid.UUID) (*domain.PayrollStream, error)

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request, op string, fn streamTransition) {
	actorID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	streamID, ok := h.uuidParam(w, r, "streamID")
	if !ok {
		return
	}

	stream, err := fn(r.Context(), actorID, streamID)
	if err != nil {
		h.writeServiceError(w, r, op, err)
		return
	}
	respondWithJSON(w, http.StatusOK, stream)
}

func (h *Handler) handlePauseStream(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, "pause_stream", h.service.PauseStream)
}

func (h *Handler) handleResumeStream(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, "resume_stream", h.service.ResumeStream)
}

func (h *Handler) handleStopStream(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, "stop_stream", h.service.StopStream)
}

func (h *Handler) handleSyncStream(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	streamID, ok := h.uuidParam(w, r, "streamID")
	if !ok {
		return
	}

	synced, err := h.service.SyncStream(r.Context(), actorID, streamID)
	if err != nil {
		h.writeServiceError(w, r, "sync_stream", err)
		return
	}
	respondWithJSON(w, http.StatusOK, syncStreamResponse{StreamID: streamID, ExecutionsSynced: synced})
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	streamID, ok := h.uuidParam(w, r, "streamID")
	if !ok {
		return
	}

	runs, err := h.service.ListStreamRuns(r.Context(), actorID, streamID)
	if err != nil {
		h.writeServiceError(w, r, "list_runs", err)
		return
	}
	respondWithJSON(w, http.StatusOK, runs)
}

func (h *Handler) handleSyncActiveStreams(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.SyncActiveStreams(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "sync_active_streams", err)
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

type prepareLedger func(ctx context.Context, ownerID uuid.UUID, idempotencyKey string, req domain.StakeRequest) (*domain.ProviderLedger, error)

func (h *Handler) handlePrepare(w http.ResponseWriter, r *http.Request, op string, fn prepareLedger) {
	ownerID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	var req domain.StakeRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	entry, err := fn(r.Context(), ownerID, r.Header.Get(idempotencyKeyHeader), req)
	if err != nil {
		h.writeServiceError(w, r, op, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, entry)
}

func (h *Handler) handleStake(w http.ResponseWriter, r *http.Request) {
	h.handlePrepare(w, r, "prepare_stake", h.service.PrepareStake)
}

func (h *Handler) handleUnstake(w http.ResponseWriter, r *http.Request) {
	h.handlePrepare(w, r, "prepare_unstake", h.service.PrepareUnstake)
}

func (h *Handler) handleExecuteLedger(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	ledgerID, ok := h.uuidParam(w, r, "ledgerID")
	if !ok {
		return
	}
	var req domain.ExecuteLedgerRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	entry, err := h.service.ExecuteLedger(r.Context(), ownerID, ledgerID, req)
	if err != nil {
		h.writeServiceError(w, r, "execute_ledger", err)
		return
	}
	respondWithJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleConfirmLedger(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	ledgerID, ok := h.uuidParam(w, r, "ledgerID")
	if !ok {
		return
	}
	var req domain.ConfirmLedgerRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	entry, err := h.service.ConfirmLedger(r.Context(), ownerID, ledgerID, req)
	if err != nil {
		h.writeServiceError(w, r, "confirm_ledger", err)
		return
	}
	respondWithJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleListLedger(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	entries, err := h.service.ListLedger(r.Context(), ownerID, limit)
	if err != nil {
		h.writeServiceError(w, r, "list_ledger", err)
		return
	}
	respondWithJSON(w, http.StatusOK, entries)
}

// currentUser resolves the token subject to the internal user id.
func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	subject, ok := SubjectFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return uuid.Nil, false
	}
	userID, err := h.service.ResolveInternalUserID(r.Context(), subject)
	if err != nil {
		h.writeServiceError(w, r, "resolve_user", err)
		return uuid.Nil, false
	}
	return userID, true
}

func (h *Handler) uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s", name))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return false
	}
	return true
}

// writeServiceError maps the service error taxonomy onto HTTP status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var rateErr *app.RateLimitError
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &rateErr):
		w.Header().Set("Retry-After", strconv.Itoa(rateErr.RetryAfterSeconds))
		status = http.StatusTooManyRequests
	case errors.Is(err, app.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, app.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, app.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, app.ErrInvalidTransition),
		errors.Is(err, app.ErrIdempotencyKeyConflict),
		errors.Is(err, app.ErrIdempotencyKeyInProgress):
		status = http.StatusConflict
	case errors.Is(err, app.ErrProviderUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, app.ErrProviderRequestFailed):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "op", op, "path", r.URL.Path, "error", err)
		writeError(w, status, "Internal server error")
		return
	}
	h.logger.Warn("request rejected", "op", op, "path", r.URL.Path, "status", status, "error", err)
	writeError(w, status, err.Error())
}

// respondWithJSON writes JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func writeError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
