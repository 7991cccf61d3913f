package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/city-engagement/internal/catalog"
	"github.com/city-engagement/internal/domain"
	"github.com/city-engagement/internal/engine"
	"github.com/city-engagement/internal/service"
	"github.com/city-engagement/internal/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessCheck reports whether a dependency can serve traffic
type ReadinessCheck func(ctx context.Context) error

// Handler provides HTTP handlers for the engagement API
type Handler struct {
	service  *service.EngagementService
	hub      *websocket.Hub
	validate *validator.Validate
	checks   map[string]ReadinessCheck
	logger   *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(service *service.EngagementService, hub *websocket.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		hub:      hub,
		validate: validator.New(),
		checks:   make(map[string]ReadinessCheck),
		logger:   logger,
	}
}

// AddReadinessCheck registers a dependency checked by /ready
func (h *Handler) AddReadinessCheck(name string, check ReadinessCheck) {
	h.checks[name] = check
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// RecordActionRequest is the body of POST /api/v1/actions
type RecordActionRequest struct {
	UserID         string     `json:"user_id" validate:"required,max=64"`
	DisplayName    string     `json:"display_name" validate:"max=255"`
	Action         string     `json:"action" validate:"required,max=64"`
	OccurredAt     *time.Time `json:"occurred_at"`
	Points         *int64     `json:"points"`
	IdempotencyKey string     `json:"idempotency_key" validate:"max=255"`
}

// SpecialEventRequest is the body of POST /api/v1/profiles/{userID}/events
type SpecialEventRequest struct {
	EventID string `json:"event_id" validate:"required,max=64"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", h.HandleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/actions", h.RecordAction)

		r.Route("/profiles/{userID}", func(r chi.Router) {
			r.Get("/", h.GetProfile)
			r.Post("/events", h.GrantSpecialEvent)
		})

		r.Route("/leaderboards/{period}", func(r chi.Router) {
			r.Get("/", h.GetLeaderboard)
			r.Get("/users/{userID}", h.GetUserRank)
			r.Get("/around/{userID}", h.GetAroundUser)
		})

		r.Get("/catalog", h.GetCatalog)
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to encode response", "error", err)
	}
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeServiceError maps a service error to its HTTP status
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case domain.IsClientError(err):
		h.writeError(w, http.StatusBadRequest, err)
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	case domain.IsUnavailableError(err):
		w.Header().Set("Retry-After", "1")
		h.writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.writeError(w, http.StatusServiceUnavailable, domain.ErrServiceUnavailable)
	default:
		h.logger.Error("request failed", "op", op, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// decode reads and validates a JSON body
func (h *Handler) decode(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed body", domain.ErrInvalidRequest)
	}
	if err := h.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return nil
}

// queryInt parses a positive integer query parameter, 0 when absent or invalid
func queryInt(r *http.Request, name string) int {
	if raw := r.URL.Query().Get(name); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return 0
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.hub.Stats())
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck runs every registered readiness check
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	results := make(map[string]string, len(h.checks))
	ready := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("readiness check failed", "check", name, "error", err)
			results[name] = err.Error()
			ready = false
			continue
		}
		results[name] = "ok"
	}

	if !ready {
		h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{
			Success: false,
			Data:    map[string]interface{}{"status": "not_ready", "checks": results},
			Error:   domain.ErrServiceUnavailable.Error(),
		})
		return
	}
	h.writeSuccess(w, map[string]interface{}{"status": "ready", "checks": results})
}

// RecordAction handles action submission
func (h *Handler) RecordAction(w http.ResponseWriter, r *http.Request) {
	var req RecordActionRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	ev := domain.ActionEvent{
		UserID:         req.UserID,
		DisplayName:    req.DisplayName,
		Action:         domain.ActionType(req.Action),
		Points:         req.Points,
		IdempotencyKey: req.IdempotencyKey,
	}
	if req.OccurredAt != nil {
		ev.OccurredAt = *req.OccurredAt
	}

	result, err := h.service.RecordAction(r.Context(), ev)
	if err != nil {
		h.writeServiceError(w, "record_action", err)
		return
	}
	h.writeSuccess(w, result)
}

// GetProfile returns a user's profile
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.service.GetProfile(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeServiceError(w, "get_profile", err)
		return
	}
	h.writeSuccess(w, h.viewProfile(profile))
}

// profileView adds the distance to the next level to a profile
type profileView struct {
	*domain.Profile
	NextLevel         domain.Level `json:"next_level,omitempty"`
	PointsToNextLevel int64        `json:"points_to_next_level"`
}

func (h *Handler) viewProfile(p *domain.Profile) profileView {
	view := profileView{Profile: p}
	if next, remaining, ok := engine.NextLevel(p.Points, h.service.Catalog().Levels()); ok {
		view.NextLevel = next
		view.PointsToNextLevel = remaining
	}
	return view
}

// GrantSpecialEvent handles an out-of-band badge signal
func (h *Handler) GrantSpecialEvent(w http.ResponseWriter, r *http.Request) {
	var req SpecialEventRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.service.GrantSpecialEvent(r.Context(), chi.URLParam(r, "userID"), req.EventID)
	if err != nil {
		h.writeServiceError(w, "grant_special_event", err)
		return
	}
	h.writeSuccess(w, result)
}

// GetLeaderboard returns the top entries of a period
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	period := domain.Period(chi.URLParam(r, "period"))

	board, err := h.service.Leaderboards().GetLeaderboard(r.Context(), period, queryInt(r, "limit"))
	if err != nil {
		h.writeServiceError(w, "get_leaderboard", err)
		return
	}
	h.writeSuccess(w, board)
}

// GetUserRank returns a user's entry in a period. Unranked users get rank 0.
func (h *Handler) GetUserRank(w http.ResponseWriter, r *http.Request) {
	period := domain.Period(chi.URLParam(r, "period"))
	userID := chi.URLParam(r, "userID")

	entry, err := h.service.Leaderboards().GetUserEntry(r.Context(), period, userID)
	if errors.Is(err, domain.ErrUserNotRanked) {
		h.writeSuccess(w, domain.LeaderboardEntry{UserID: userID})
		return
	}
	if err != nil {
		h.writeServiceError(w, "get_user_rank", err)
		return
	}
	h.writeSuccess(w, entry)
}

// GetAroundUser returns the entries ranked near a user
func (h *Handler) GetAroundUser(w http.ResponseWriter, r *http.Request) {
	period := domain.Period(chi.URLParam(r, "period"))

	entries, err := h.service.Leaderboards().GetAroundUser(r.Context(), period, chi.URLParam(r, "userID"), queryInt(r, "range"))
	if err != nil {
		h.writeServiceError(w, "get_around_user", err)
		return
	}
	h.writeSuccess(w, entries)
}

type conditionView struct {
	Type      string          `json:"type"`
	Stat      domain.StatKind `json:"stat,omitempty"`
	Threshold int64           `json:"threshold,omitempty"`
	EventID   string          `json:"event_id,omitempty"`
}

type badgeView struct {
	domain.BadgeDefinition
	Condition conditionView `json:"condition"`
}

type catalogView struct {
	Version string                     `json:"version"`
	Levels  []domain.LevelThreshold    `json:"levels"`
	Actions []domain.PointActionConfig `json:"actions"`
	Badges  []badgeView                `json:"badges"`
}

func viewCondition(c domain.UnlockCondition) conditionView {
	view := conditionView{Type: domain.ConditionKind(c)}
	switch cond := c.(type) {
	case domain.ActionCount:
		view.Stat = cond.Stat
		view.Threshold = cond.Threshold
	case domain.PointsThreshold:
		view.Threshold = cond.Threshold
	case domain.StreakLength:
		view.Threshold = int64(cond.Threshold)
	case domain.SpecialEvent:
		view.EventID = cond.EventID
	}
	return view
}

func viewCatalog(c *catalog.Catalog) catalogView {
	badges := c.Badges()
	views := make([]badgeView, len(badges))
	for i, b := range badges {
		views[i] = badgeView{BadgeDefinition: b, Condition: viewCondition(b.Condition)}
	}
	return catalogView{
		Version: c.Version(),
		Levels:  c.Levels(),
		Actions: c.Actions(),
		Badges:  views,
	}
}

// GetCatalog returns the active levels, actions and badges
func (h *Handler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, viewCatalog(h.service.Catalog()))
}
