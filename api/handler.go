package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/session"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// maxBodyBytes bounds every request body.
const maxBodyBytes = 64 << 10

// Engine is the part of *goSession.Engine the HTTP layer drives.
type Engine interface {
	CreateSession(ctx context.Context, userID string) (*goSession.SessionInfo, error)
	Refresh(ctx context.Context, refreshToken string) (goSession.RefreshResult, error)
	RevokeSession(ctx context.Context, handle string) error
	RevokeAllForUser(ctx context.Context, userID string) (int, error)
	GetSession(ctx context.Context, handle string) (*session.Session, error)
}

// Handler serves the session routes.
type Handler struct {
	engine   Engine
	cookies  CookiePolicy
	validate *requestValidator
	logger   *slog.Logger
}

// NewHandler validates cookies and binds the routes to engine. A nil logger
// discards.
func NewHandler(engine Engine, cookies CookiePolicy, logger *slog.Logger) (*Handler, error) {
	if engine == nil {
		return nil, errors.New("api: engine is nil")
	}
	if err := cookies.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		engine:   engine,
		cookies:  cookies,
		validate: newRequestValidator(),
		logger:   logger,
	}, nil
}

// Routes returns the router. Mount it at the site root.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.requestContext)

	r.Post("/session", h.createSession)
	r.Get("/session", h.getSession)
	r.Post("/session/refresh", h.refresh)
	r.Post("/session/remove", h.removeSessions)

	return r
}

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

type createRequest struct {
	UserID string `json:"userId" validate:"required,max=256"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required,max=4096"`
}

type removeRequest struct {
	SessionHandles []string `json:"sessionHandles" validate:"required_without=UserID,excluded_with=UserID,omitempty,min=1,dive,required,max=256"`
	UserID         string   `json:"userId" validate:"required_without=SessionHandles,omitempty,max=256"`
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	version, ok := h.version(w, r)
	if !ok {
		return
	}
	var req createRequest
	if !h.decode(w, r, &req) {
		return
	}

	info, err := h.engine.CreateSession(r.Context(), req.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.cookies.projectSession(version, info))
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	version, ok := h.version(w, r)
	if !ok {
		return
	}
	var req refreshRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	switch res.Outcome {
	case goSession.OutcomeOK:
		writeJSON(w, http.StatusOK, h.cookies.projectSession(version, res.Session))
	case goSession.OutcomeUnauthorised:
		writeJSON(w, http.StatusOK, statusResponse{Status: statusUnauthorised, Message: res.Message})
	case goSession.OutcomeTheftDetected:
		writeJSON(w, http.StatusOK, theftResponse{
			Status:  statusTheft,
			Session: sessionRef{Handle: res.Theft.Handle, UserID: res.Theft.UserID},
		})
	default:
		h.logger.Error("api: unknown refresh outcome", "outcome", res.Outcome.String())
		writeJSON(w, http.StatusInternalServerError, statusResponse{Status: statusInternal})
	}
}

func (h *Handler) removeSessions(w http.ResponseWriter, r *http.Request) {
	var req removeRequest
	if !h.decode(w, r, &req) {
		return
	}

	if req.UserID != "" {
		n, err := h.engine.RevokeAllForUser(r.Context(), req.UserID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, removeResponse{Status: statusOK, NumberOfSessionsRevoked: &n})
		return
	}

	revoked := make([]string, 0, len(req.SessionHandles))
	for _, handle := range req.SessionHandles {
		err := h.engine.RevokeSession(r.Context(), handle)
		switch {
		case err == nil:
			revoked = append(revoked, handle)
		case errors.Is(err, goSession.ErrUnauthorised):
			// unknown handle
		default:
			h.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, removeResponse{Status: statusOK, SessionHandlesRevoked: revoked})
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	handle := r.URL.Query().Get("sessionHandle")
	if handle == "" {
		writeJSON(w, http.StatusBadRequest, statusResponse{Status: statusBadRequest, Message: "sessionHandle is required"})
		return
	}

	sess, err := h.engine.GetSession(r.Context(), handle)
	if errors.Is(err, goSession.ErrUnauthorised) {
		writeJSON(w, http.StatusOK, statusResponse{Status: statusUnauthorised, Message: "session does not exist"})
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recordResponse(sess))
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// requestContext copies the caller's address and user agent into the request
// context for throttling and audit.
func (h *Handler) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ctx := goSession.WithClientIP(r.Context(), host)
		ctx = goSession.WithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) version(w http.ResponseWriter, r *http.Request) (Version, bool) {
	v, err := parseVersion(r.Header.Get(VersionHeader))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, statusResponse{Status: statusBadRequest, Message: err.Error()})
		return "", false
	}
	return v, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, statusResponse{Status: statusBadRequest, Message: "invalid JSON body"})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, statusResponse{Status: statusBadRequest, Message: err.Error()})
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, goSession.ErrInvalidUserID), errors.Is(err, goSession.ErrInvalidHandle):
		writeJSON(w, http.StatusBadRequest, statusResponse{Status: statusBadRequest, Message: err.Error()})
	case errors.Is(err, goSession.ErrUnauthorised):
		writeJSON(w, http.StatusOK, statusResponse{Status: statusUnauthorised, Message: "session does not exist"})
	case errors.Is(err, goSession.ErrRefreshRateLimited):
		writeJSON(w, http.StatusTooManyRequests, statusResponse{Status: statusRateLimited})
	default:
		h.logger.Error("api: request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, statusResponse{Status: statusInternal})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
