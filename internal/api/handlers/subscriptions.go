// Package handlers contains the HTTP handler implementations for the
// ReviewPulse subscription API. Subscriptions bind a recipient email to a
// Play Store application; creating one schedules an immediate first digest
// and enrolls the pair in the weekly run.
package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"reviewpulse/internal/clock"
	"reviewpulse/internal/core"
	"reviewpulse/internal/extract"
	"reviewpulse/internal/types"
)

// SubAppStore persists applications keyed by store ID.
type SubAppStore interface {
	GetOrCreate(ctx context.Context, storeID, name, url string) (*types.App, error)
}

// SubStore is the data access contract for subscription mutation. Mirrors
// the concrete db.SubscriptionRepository methods used by this handler.
type SubStore interface {
	Create(ctx context.Context, appID, email string, startDate time.Time, tokenHash string) (*types.Subscription, error)
	Get(ctx context.Context, id string) (*types.Subscription, error)
	GetUnsubscribeHash(ctx context.Context, id string) (string, error)
	Deactivate(ctx context.Context, id string, endDate time.Time) error
}

// AppNameResolver fetches the store listing title for a new application.
type AppNameResolver interface {
	AppName(ctx context.Context, storeID string) (string, error)
}

// DigestScheduler enqueues and cancels one-shot first-digest triggers.
type DigestScheduler interface {
	ScheduleImmediate(ctx context.Context, subscriptionID string) error
	CancelImmediate(ctx context.Context, subscriptionID string) error
}

// WelcomeSender delivers the one-time unsubscribe link to a new subscriber.
type WelcomeSender interface {
	SendUnsubscribeToken(ctx context.Context, appName, to, unsubscribeURL string) error
}

// CreateSubscriptionRequest is the request body for POST /v1/subscriptions.
type CreateSubscriptionRequest struct {
	Email  string `json:"email" validate:"required,email"`
	AppURL string `json:"app_url" validate:"required,playstore_url"`
}

// SubscriptionResponse is returned on creation. Token carries the plaintext
// unsubscribe token exactly once; only its bcrypt hash is stored.
type SubscriptionResponse struct {
	*types.Subscription
	App   *types.App `json:"app"`
	Token string     `json:"unsubscribe_token,omitempty"`
}

// SubscriptionHandler manages the subscription lifecycle.
type SubscriptionHandler struct {
	apps      SubAppStore
	subs      SubStore
	names     AppNameResolver
	scheduler DigestScheduler
	welcome   WelcomeSender
	validator *core.Validator
	logger    *slog.Logger
	publicURL string
	now       func() time.Time
}

// NewSubscriptionHandler creates a new SubscriptionHandler with the provided
// dependencies. publicURL is the externally reachable base URL used to build
// unsubscribe links.
func NewSubscriptionHandler(
	apps SubAppStore,
	subs SubStore,
	names AppNameResolver,
	scheduler DigestScheduler,
	welcome WelcomeSender,
	v *core.Validator,
	l *slog.Logger,
	publicURL string,
) *SubscriptionHandler {
	if l == nil {
		l = slog.Default()
	}
	return &SubscriptionHandler{
		apps:      apps,
		subs:      subs,
		names:     names,
		scheduler: scheduler,
		welcome:   welcome,
		validator: v,
		logger:    l,
		publicURL: publicURL,
		now:       time.Now,
	}
}

// WithNowFunc overrides the clock, for tests.
func (h *SubscriptionHandler) WithNowFunc(now func() time.Time) *SubscriptionHandler {
	h.now = now
	return h
}

// RegisterRoutes mounts subscription routes on the provided chi.Router.
func (h *SubscriptionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/subscriptions", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Delete("/", h.Delete)
		})
	})
}

// Create handles POST /v1/subscriptions.
//
//  1. Decode and validate the request (email format, Play Store URL shape).
//  2. Resolve the listing title from the store page.
//  3. Upsert the application row keyed by store ID.
//  4. Generate the unsubscribe token, store only its bcrypt hash.
//  5. Schedule the immediate first-digest trigger.
//  6. Send the welcome email carrying the unsubscribe link (best effort).
func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSubscriptionRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	storeID, err := extract.ParseAppURL(req.AppURL)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	appName, err := h.names.AppName(r.Context(), storeID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	app, err := h.apps.GetOrCreate(r.Context(), storeID, appName, req.AppURL)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	token, hash, err := newUnsubscribeToken()
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to generate unsubscribe token", err))
		return
	}

	y, m, d := h.now().In(clock.BusinessZone()).Date()
	startDate := time.Date(y, m, d, 0, 0, 0, 0, clock.BusinessZone())
	sub, err := h.subs.Create(r.Context(), app.ID, req.Email, startDate, hash)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.scheduler.ScheduleImmediate(r.Context(), sub.ID); err != nil {
		// The subscription exists; the weekly run will still pick it up.
		h.logger.WarnContext(r.Context(), "failed to schedule first digest",
			"subscription_id", sub.ID, "error", err)
	}

	unsubURL := unsubscribeURL(h.publicURL, sub.ID, token)
	if err := h.welcome.SendUnsubscribeToken(r.Context(), app.Name, sub.Email, unsubURL); err != nil {
		h.logger.WarnContext(r.Context(), "failed to send welcome email",
			"subscription_id", sub.ID, "error", err)
	}

	h.logger.InfoContext(r.Context(), "subscription created",
		"subscription_id", sub.ID, "app_id", app.ID, "store_id", app.StoreID)

	core.JSON(w, r, http.StatusCreated, SubscriptionResponse{
		Subscription: sub,
		App:          app,
		Token:        token,
	})
}

// Get handles GET /v1/subscriptions/{id}.
func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sub, err := h.subs.Get(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, SubscriptionResponse{Subscription: sub})
}

// Delete handles DELETE /v1/subscriptions/{id}. The caller must present the
// unsubscribe token issued at creation, via the "token" query parameter or
// the X-Unsubscribe-Token header.
func (h *SubscriptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("X-Unsubscribe-Token")
	}
	if token == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "unsubscribe token required", nil))
		return
	}

	hash, err := h.subs.GetUnsubscribeHash(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "unsubscribe token does not match", err))
		return
	}

	if err := h.subs.Deactivate(r.Context(), id, h.now().UTC()); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.scheduler.CancelImmediate(r.Context(), id); err != nil {
		h.logger.WarnContext(r.Context(), "failed to cancel pending first digest",
			"subscription_id", id, "error", err)
	}

	h.logger.InfoContext(r.Context(), "subscription deactivated", "subscription_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// newUnsubscribeToken returns a fresh 32-byte random token and its bcrypt
// hash. The plaintext is handed to the subscriber once and never stored.
func newUnsubscribeToken() (token, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	token = hex.EncodeToString(buf)

	// bcrypt caps input at 72 bytes; the 64-char hex token fits.
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}
	return token, string(h), nil
}

func unsubscribeURL(base, subscriptionID, token string) string {
	return base + "/v1/subscriptions/" + subscriptionID + "?token=" + token
}
