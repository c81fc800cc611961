package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/railclaw/railclaw/internal/apperrors"
	"github.com/railclaw/railclaw/internal/logger"
	"github.com/railclaw/railclaw/internal/orchestrator"
	"github.com/railclaw/railclaw/internal/store"
	"github.com/railclaw/railclaw/pkg/responders"
)

type errorResponse struct {
	Error string              `json:"error"`
	Code  apperrors.ErrorCode `json:"code,omitempty"`
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	responders.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCreatePayment runs the orchestrator and maps its response status to
// an HTTP code: accepted payments are 200, rejections 422, not_ready 409.
func (h *handlers) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log := logger.FromContext(r.Context())

	var req orchestrator.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		responders.JSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body", Code: apperrors.ErrCodeInvalidBody})
		h.metrics.ObserveRequest("create_payment", "400", time.Since(start))
		return
	}
	if req.Token == "" || req.Chain == "" {
		responders.JSON(w, http.StatusBadRequest, errorResponse{Error: "token and chain are required", Code: apperrors.ErrCodeMissingField})
		h.metrics.ObserveRequest("create_payment", "400", time.Since(start))
		return
	}

	resp, err := h.orchestrator.Handle(r.Context(), req)
	if err != nil {
		log.Error().Err(err).Msg("request.create_payment_failed")
		responders.JSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Code: apperrors.ErrCodeInternalError})
		h.metrics.ObserveRequest("create_payment", "500", time.Since(start))
		return
	}

	status := http.StatusOK
	switch resp.Status {
	case "rejected":
		status = http.StatusUnprocessableEntity
	case "not_ready":
		status = http.StatusConflict
	}

	responders.JSON(w, status, resp)
	h.metrics.ObserveRequest("create_payment", strconv.Itoa(status), time.Since(start))
}

func (h *handlers) handleCheckPayment(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	paymentID := chi.URLParam(r, "paymentID")

	rec, err := h.orchestrator.CheckPayment(r.Context(), paymentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			responders.JSON(w, http.StatusNotFound, errorResponse{Error: "payment not found", Code: apperrors.ErrCodeRecordNotFound})
			h.metrics.ObserveRequest("check_payment", "404", time.Since(start))
			return
		}
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("request.check_payment_failed")
		responders.JSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Code: apperrors.ErrCodeInternalError})
		h.metrics.ObserveRequest("check_payment", "500", time.Since(start))
		return
	}

	responders.JSON(w, http.StatusOK, rec)
	h.metrics.ObserveRequest("check_payment", "200", time.Since(start))
}

func (h *handlers) handleListPayments(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := r.URL.Query()

	filter := store.Filter{
		BusinessID: q.Get("business_id"),
		Kind:       store.Kind(q.Get("kind")),
		Status:     store.Status(q.Get("status")),
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			responders.JSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit", Code: apperrors.ErrCodeInvalidBody})
			h.metrics.ObserveRequest("list_payments", "400", time.Since(start))
			return
		}
		filter.Limit = n
	}

	records, err := h.orchestrator.ListPayments(r.Context(), filter)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("request.list_payments_failed")
		responders.JSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Code: apperrors.ErrCodeInternalError})
		h.metrics.ObserveRequest("list_payments", "500", time.Since(start))
		return
	}
	if records == nil {
		records = []store.Record{}
	}

	responders.JSON(w, http.StatusOK, map[string]any{"payments": records})
	h.metrics.ObserveRequest("list_payments", "200", time.Since(start))
}

// handleDrainNotifications returns pending confirmations and deletes them.
// One consumer by convention; a second concurrent drain sees an empty list.
func (h *handlers) handleDrainNotifications(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	notifications, err := h.store.DrainNotifications(r.Context())
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("request.drain_notifications_failed")
		responders.JSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Code: apperrors.ErrCodeInternalError})
		h.metrics.ObserveRequest("drain_notifications", "500", time.Since(start))
		return
	}
	if notifications == nil {
		notifications = []store.Notification{}
	}

	responders.JSON(w, http.StatusOK, map[string]any{"notifications": notifications})
	h.metrics.ObserveRequest("drain_notifications", "200", time.Since(start))
}
