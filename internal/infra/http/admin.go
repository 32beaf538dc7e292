package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Spok95/resto-billing/internal/billing"
	subs "github.com/Spok95/resto-billing/internal/domain/subscriptions"
	"github.com/Spok95/resto-billing/internal/infra/export"
)

// Admin is the engine surface exposed to operators.
type Admin interface {
	Ensure(ctx context.Context, restaurantID int64) (*subs.Subscription, error)
	Get(ctx context.Context, restaurantID int64) (*subs.Subscription, error)
	IsEntitledNow(ctx context.Context, restaurantID int64) (bool, error)
	ListEvents(ctx context.Context, restaurantID int64) ([]subs.Event, error)

	StartTrial(ctx context.Context, restaurantID int64) (*subs.Subscription, error)
	GrantDays(ctx context.Context, restaurantID int64, n int, source string, meta map[string]any) (*subs.Subscription, error)
	SetTrialDays(ctx context.Context, restaurantID int64, n int) (*subs.Subscription, error)
	SetPaidDays(ctx context.Context, restaurantID int64, n int) (*subs.Subscription, error)
	Suspend(ctx context.Context, restaurantID int64, reason string) (*subs.Subscription, error)
	Unsuspend(ctx context.Context, restaurantID int64) (*subs.Subscription, error)
	Cancel(ctx context.Context, restaurantID int64) (*subs.Subscription, error)
	ForceExpire(ctx context.Context, restaurantID int64, reason string) (*subs.Subscription, error)

	RunReconciliation(ctx context.Context, now time.Time) (billing.ReconcileResult, error)
	Audit(ctx context.Context, now time.Time) (billing.AuditReport, error)
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type adminAPI struct {
	billing Admin
	log     *slog.Logger
	now     func() time.Time
}

type commandBody struct {
	Days   int    `json:"days"`
	Source string `json:"source"`
	Reason string `json:"reason"`
}

type subscriptionResponse struct {
	Subscription *subs.Subscription `json:"subscription"`
	Entitled     bool               `json:"entitled"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func bearer(token string) func(http.Handler) http.Handler {
	want := []byte("Bearer " + token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("Authorization"))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *adminAPI) reconcile(w http.ResponseWriter, r *http.Request) {
	res, err := a.billing.RunReconciliation(r.Context(), a.now())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *adminAPI) audit(w http.ResponseWriter, r *http.Request) {
	rep, err := a.billing.Audit(r.Context(), a.now())
	if err != nil {
		a.fail(w, err)
		return
	}
	if r.URL.Query().Get("format") == "xlsx" {
		data, err := export.AuditReport(rep)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeFile(w, export.AuditFileName(rep.RunAt), data)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (a *adminAPI) subscription(w http.ResponseWriter, r *http.Request) {
	rid, ok := restaurantID(w, r)
	if !ok {
		return
	}
	sub, err := a.billing.Ensure(r.Context(), rid)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.respond(w, r, sub)
}

func (a *adminAPI) events(w http.ResponseWriter, r *http.Request) {
	rid, ok := restaurantID(w, r)
	if !ok {
		return
	}
	events, err := a.billing.ListEvents(r.Context(), rid)
	if err != nil {
		a.fail(w, err)
		return
	}
	if r.URL.Query().Get("format") == "xlsx" {
		sub, err := a.billing.Get(r.Context(), rid)
		if err != nil {
			a.fail(w, err)
			return
		}
		data, err := export.Events(sub, events)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeFile(w, export.EventsFileName(rid, a.now()), data)
		return
	}
	if events == nil {
		events = []subs.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (a *adminAPI) command(w http.ResponseWriter, r *http.Request) {
	rid, ok := restaurantID(w, r)
	if !ok {
		return
	}
	var body commandBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
			return
		}
	}

	ctx := r.Context()
	var (
		sub *subs.Subscription
		err error
	)
	switch r.PathValue("action") {
	case "trial":
		sub, err = a.billing.StartTrial(ctx, rid)
	case "grant":
		source := body.Source
		if source == "" {
			source = "ADMIN"
		}
		sub, err = a.billing.GrantDays(ctx, rid, body.Days, source, map[string]any{"via": "admin_http"})
	case "set-trial":
		sub, err = a.billing.SetTrialDays(ctx, rid, body.Days)
	case "set-paid":
		sub, err = a.billing.SetPaidDays(ctx, rid, body.Days)
	case "suspend":
		sub, err = a.billing.Suspend(ctx, rid, body.Reason)
	case "unsuspend":
		sub, err = a.billing.Unsuspend(ctx, rid)
	case "cancel":
		sub, err = a.billing.Cancel(ctx, rid)
	case "expire":
		sub, err = a.billing.ForceExpire(ctx, rid, body.Reason)
	default:
		writeJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("unknown action %q", r.PathValue("action"))})
		return
	}
	if err != nil {
		a.fail(w, err)
		return
	}
	a.log.Info("admin command applied",
		"restaurant_id", rid,
		"action", r.PathValue("action"),
		"status", sub.Status,
	)
	a.respond(w, r, sub)
}

func (a *adminAPI) respond(w http.ResponseWriter, r *http.Request, sub *subs.Subscription) {
	entitled, err := a.billing.IsEntitledNow(r.Context(), sub.RestaurantID)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subscriptionResponse{Subscription: sub, Entitled: entitled})
}

func (a *adminAPI) fail(w http.ResponseWriter, err error) {
	code, kind := statusFor(err)
	if code >= http.StatusInternalServerError {
		a.log.Error("admin request failed", "err", err)
	}
	writeJSON(w, code, errorResponse{Error: err.Error(), Kind: kind})
}

// statusFor maps engine failure kinds onto HTTP status codes.
func statusFor(err error) (int, string) {
	kinds := []struct {
		err  error
		code int
	}{
		{billing.ErrNotFound, http.StatusNotFound},
		{billing.ErrInvalidParameters, http.StatusBadRequest},
		{billing.ErrInvalidStateTransition, http.StatusConflict},
		{billing.ErrTrialAlreadyUsed, http.StatusConflict},
		{billing.ErrTrialDisabled, http.StatusConflict},
		{billing.ErrAlreadySuspended, http.StatusConflict},
		{billing.ErrNotSuspended, http.StatusConflict},
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.code, strings.TrimPrefix(k.err.Error(), "billing: ")
		}
	}
	return http.StatusInternalServerError, ""
}

func restaurantID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid restaurant id"})
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeFile(w http.ResponseWriter, name string, data []byte) {
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
