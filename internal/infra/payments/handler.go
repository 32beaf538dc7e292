package payments

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Spok95/resto-billing/internal/billing"
	subs "github.com/Spok95/resto-billing/internal/domain/subscriptions"
)

type Handler struct {
	log *slog.Logger
	svc *Service
}

func NewHandler(log *slog.Logger, svc *Service) *Handler {
	return &Handler{
		log: log,
		svc: svc,
	}
}

type response struct {
	Duplicate    bool               `json:"duplicate"`
	Subscription *subs.Subscription `json:"subscription,omitempty"`
	Error        string             `json:"error,omitempty"`
}

// ServeHTTP accepts POST /payments/approved with a JSON Approval body.
// Redelivered payment ids answer 200 with duplicate=true.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, response{Error: "method not allowed"})
		return
	}

	var a Approval
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&a); err != nil {
		writeJSON(w, http.StatusBadRequest, response{Error: "invalid JSON body"})
		return
	}

	sub, dup, err := h.svc.Approve(r.Context(), a)
	if err != nil {
		code := statusFor(err)
		if code >= http.StatusInternalServerError {
			h.log.Error("failed to apply payment",
				"payment_id", a.PaymentID,
				"restaurant_id", a.RestaurantID,
				"err", err,
			)
		}
		writeJSON(w, code, response{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, response{Duplicate: dup, Subscription: sub})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidApproval), errors.Is(err, billing.ErrInvalidParameters):
		return http.StatusBadRequest
	case errors.Is(err, billing.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
