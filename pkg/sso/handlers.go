package sso

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/copperline/stile/pkg/httputil"
	"github.com/copperline/stile/pkg/login"
	"github.com/copperline/stile/pkg/observability"
	"github.com/copperline/stile/pkg/profile"
	"github.com/copperline/stile/pkg/sanity"
)

// LoginService completes a login from a verified identity assertion
type LoginService interface {
	Login(ctx context.Context, assertion *profile.Assertion) (*login.Result, error)
}

// Handlers serves the SSO HTTP surface: login initiation, IdP callbacks, and
// service provider metadata.
type Handlers struct {
	providers map[string]Provider
	relay     *RelayStateStore
	login     LoginService
	logger    *observability.Logger
	metrics   *observability.Metrics

	// studioURL is where the browser lands after claiming the session,
	// unless the login requested a different return URL
	studioURL string
}

// NewHandlers creates the SSO handlers
func NewHandlers(providers []Provider, relay *RelayStateStore, loginService LoginService, studioURL string, logger *observability.Logger, metrics *observability.Metrics) *Handlers {
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Handlers{
		providers: byName,
		relay:     relay,
		login:     loginService,
		logger:    logger,
		metrics:   metrics,
		studioURL: studioURL,
	}
}

// RegisterRoutes registers SSO routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/sso/{provider}/login", h.initiateLogin).Methods("GET")
	router.HandleFunc("/auth/sso/{provider}/callback", h.handleCallback).Methods("GET", "POST")
	router.HandleFunc("/sso/metadata/{provider}", h.serveMetadata).Methods("GET")
}

// initiateLogin handles GET /auth/sso/{provider}/login
func (h *Handlers) initiateLogin(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.providers[mux.Vars(r)["provider"]]
	if !ok {
		httputil.WriteNotFoundError(w, "unknown provider")
		return
	}

	state := &RelayState{
		Provider:  provider.Name(),
		ReturnURL: r.URL.Query().Get("returnTo"),
	}

	token, err := h.relay.Create(r.Context(), state)
	if err != nil {
		h.logger.WithError(err).Error("failed to create relay state")
		httputil.WriteInternalError(w, errors.New("failed to start login"))
		return
	}

	if err := provider.InitiateLogin(w, r, token); err != nil {
		h.logger.WithError(err).WithField("provider", provider.Name()).Error("failed to initiate login")
		httputil.WriteInternalError(w, errors.New("failed to start login"))
	}
}

// handleCallback handles GET/POST /auth/sso/{provider}/callback. SAML posts
// the relay token as RelayState; OIDC carries it in the state query param.
func (h *Handlers) handleCallback(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	providerName := mux.Vars(r)["provider"]
	provider, ok := h.providers[providerName]
	if !ok {
		httputil.WriteNotFoundError(w, "unknown provider")
		return
	}

	logger := observability.FromContext(r.Context()).WithField("provider", providerName)

	token := r.FormValue("RelayState")
	if token == "" {
		token = r.URL.Query().Get("state")
	}
	if token == "" {
		h.recordLogin(providerName, "invalid_state", start)
		httputil.WriteBadRequest(w, "missing relay state")
		return
	}

	state, err := h.relay.Consume(r.Context(), token)
	if err != nil {
		if errors.Is(err, ErrRelayStateNotFound) {
			h.recordLogin(providerName, "invalid_state", start)
			httputil.WriteBadRequest(w, "login expired, please retry")
			return
		}
		logger.WithError(err).Error("failed to consume relay state")
		httputil.WriteInternalError(w, errors.New("failed to complete login"))
		return
	}

	assertion, err := provider.HandleCallback(r)
	if err != nil {
		logger.WithError(err).Warn("callback verification failed")
		h.recordLogin(providerName, "invalid_assertion", start)
		httputil.WriteUnauthorized(w, "authentication failed")
		return
	}

	result, err := h.login.Login(r.Context(), assertion)
	if err != nil {
		var validationErr *profile.ValidationError
		var issuanceErr *sanity.IssuanceError
		switch {
		case errors.As(err, &validationErr):
			h.recordLogin(providerName, "invalid_profile", start)
			httputil.WriteBadRequest(w, validationErr.Error())
		case errors.As(err, &issuanceErr):
			logger.WithError(err).Error("session issuance failed")
			h.recordLogin(providerName, "issuance_failed", start)
			httputil.WriteBadGateway(w, "failed to create session")
		default:
			logger.WithError(err).Error("login failed")
			h.recordLogin(providerName, "error", start)
			httputil.WriteInternalError(w, errors.New("failed to complete login"))
		}
		return
	}

	destination := state.ReturnURL
	if destination == "" {
		destination = h.studioURL
	}

	h.recordLogin(providerName, "success", start)
	http.Redirect(w, r, result.Session.ClaimRedirectURL(destination), http.StatusFound)
}

// serveMetadata handles GET /sso/metadata/{provider}
func (h *Handlers) serveMetadata(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.providers[mux.Vars(r)["provider"]]
	if !ok {
		httputil.WriteNotFoundError(w, "unknown provider")
		return
	}

	samlProvider, ok := provider.(*SAMLProvider)
	if !ok {
		httputil.WriteNotFoundError(w, "provider has no metadata")
		return
	}

	metadata, err := samlProvider.Metadata()
	if err != nil {
		h.logger.WithError(err).Error("failed to generate metadata")
		httputil.WriteInternalError(w, errors.New("failed to generate metadata"))
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.Write(metadata)
}

func (h *Handlers) recordLogin(provider, status string, start time.Time) {
	if h.metrics == nil {
		return
	}
	h.metrics.LoginsTotal.WithLabelValues(provider, status).Inc()
	h.metrics.LoginDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
}
