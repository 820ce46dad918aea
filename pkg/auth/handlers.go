package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rhdesk/hrcore/pkg/audit"
	"github.com/rhdesk/hrcore/pkg/contextkeys"
	"github.com/rhdesk/hrcore/pkg/httputil"
	"github.com/rhdesk/hrcore/pkg/observability"
	"github.com/rhdesk/hrcore/pkg/rbac"
	"github.com/sirupsen/logrus"
)

// Handlers serves login and logout
type Handlers struct {
	service  *Service
	recorder *audit.Recorder
	log      logrus.FieldLogger
}

// NewHandlers creates new auth handlers
func NewHandlers(service *Service, recorder *audit.Recorder, log logrus.FieldLogger) *Handlers {
	return &Handlers{
		service:  service,
		recorder: recorder,
		log:      observability.OrDefault(log),
	}
}

// RegisterRoutes registers the auth routes. Middleware given here, such as a
// rate limiter, wraps the login endpoint only.
func (h *Handlers) RegisterRoutes(router *mux.Router, loginMiddleware ...func(http.Handler) http.Handler) {
	var login http.Handler = http.HandlerFunc(h.Login)
	for i := len(loginMiddleware) - 1; i >= 0; i-- {
		login = loginMiddleware[i](login)
	}
	router.Handle("/api/auth/login", login).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/logout", h.Logout).Methods(http.MethodPost)
}

// LoginRequest is the body of POST /api/auth/login
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned on a successful login
type LoginResponse struct {
	IssuedToken
	User *rbac.User `json:"user"`
}

// Login handles POST /api/auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		httputil.WriteBadRequest(w, "username and password are required")
		return
	}

	user, issued, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.recorder.LogLogin(r.Context(), user, r, false)
		if errors.Is(err, ErrInvalidCredentials) {
			httputil.WriteUnauthorized(w, "invalid credentials")
			return
		}
		h.log.WithError(err).WithField("username", req.Username).Error("login failed")
		httputil.WriteInternalError(w)
		return
	}

	ctx := contextkeys.WithSessionKey(r.Context(), issued.Prefix)
	audit.AttachUser(ctx, user, issued.Prefix)
	h.recorder.LogLogin(ctx, user, r, true)

	httputil.WriteSuccess(w, LoginResponse{IssuedToken: *issued, User: user})
}

// Logout handles POST /api/auth/logout, revoking the presented token
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	user := rbac.UserFromContext(r.Context())
	raw, ok := BearerToken(r)
	if user == nil || !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	if err := h.service.Logout(r.Context(), raw); err != nil {
		if errors.Is(err, ErrInvalidToken) {
			httputil.WriteUnauthorized(w, "invalid token")
			return
		}
		h.log.WithError(err).WithField("user_id", user.ID).Error("logout failed")
		httputil.WriteInternalError(w)
		return
	}

	h.recorder.LogLogout(r.Context(), user, r)
	httputil.WriteNoContent(w)
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" header
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
