// Package admin serves the moderation and store management endpoints under /api/admin.
package admin

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"recipestore/internal/catalog"
	"recipestore/internal/data"
	"recipestore/internal/events"
	"recipestore/internal/logger"
	"recipestore/internal/middleware"
)

const maxReasonLength = 500

type ReviewRequest struct {
	Reason string `json:"reason"`
}

type RoleRequest struct {
	Role string `json:"role"`
}

// StatsResponse is the dashboard snapshot.
type StatsResponse struct {
	*data.StoreSummary
	Plans       map[string]interface{} `json:"plans"`
	GeneratedAt time.Time              `json:"generated_at"`
	ElapsedMS   int64                  `json:"elapsed_ms"`
}

type Service struct {
	catalog *catalog.Service
	events  events.Publisher
	now     func() time.Time
}

func NewService(cat *catalog.Service, pub events.Publisher) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{catalog: cat, events: pub, now: time.Now}
}

// =============================================================================
// DISHES
// =============================================================================

// ListDishesHandler lists dishes by review status, pending by default.
func (s *Service) ListDishesHandler(w http.ResponseWriter, r *http.Request) {
	status, ok := reviewStatus(w, r)
	if !ok {
		return
	}
	dishes, err := data.ListDishes(r.Context(), data.DishFilter{Status: status, Limit: 200})
	if err != nil {
		middleware.WriteInternalError(w, r, "Failed to load dishes", err)
		return
	}
	middleware.WriteAPISuccess(w, r, dishes)
}

func (s *Service) ApproveDishHandler(w http.ResponseWriter, r *http.Request) {
	s.reviewDish(w, r, data.StatusApproved, "")
}

// RejectDishHandler rejects a dish. A reason is required so the chef can fix it.
func (s *Service) RejectDishHandler(w http.ResponseWriter, r *http.Request) {
	reason, ok := parseReason(w, r)
	if !ok {
		return
	}
	s.reviewDish(w, r, data.StatusRejected, reason)
}

func (s *Service) reviewDish(w http.ResponseWriter, r *http.Request, status, reason string) {
	admin := middleware.UserFromContext(r.Context())
	id := chi.URLParam(r, "id")

	err := data.SetDishReview(r.Context(), id, status, reason)
	if errors.Is(err, data.ErrNotFound) {
		middleware.WriteAPIError(w, r, http.StatusNotFound, "dish_not_found", "Dish not found", "")
		return
	}
	if err != nil {
		middleware.WriteInternalError(w, r, "Failed to review dish", err)
		return
	}

	d, err := data.GetDishByID(r.Context(), id)
	if err != nil {
		middleware.WriteInternalError(w, r, "Failed to reload dish", err)
		return
	}

	logger.LogInfo("Admin %s set dish %s to %s", admin.ID, id, status)
	events.Emit(r.Context(), s.events, events.DishModerated, events.ModerationEvent{
		ID: id, Status: status, Reason: reason, ReviewerID: admin.ID,
	})
	middleware.WriteAPISuccess(w, r, d)
}

// =============================================================================
// CHEF APPLICATIONS
// =============================================================================

func (s *Service) ListApplicationsHandler(w http.ResponseWriter, r *http.Request) {
	status, ok := reviewStatus(w, r)
	if !ok {
		return
	}
	apps, err := data.ListChefApplications(r.Context(), status)
	if err != nil {
		middleware.WriteInternalError(w, r, "Failed to load applications", err)
		return
	}
	middleware.WriteAPISuccess(w, r, apps)
}

// ApproveApplicationHandler promotes the applicant to chef and creates their profile.
func (s *Service) ApproveApplicationHandler(w http.ResponseWriter, r *http.Request) {
	admin := middleware.UserFromContext(r.Context())
	id := chi.URLParam(r, "id")

	app, err := data.ApproveChefApplication(r.Context(), id, admin.ID)
	if !s.applicationErr(w, r, err) {
		return
	}

	logger.LogInfo("Admin %s approved chef application %s for user %s", admin.ID, id, app.UserID)
	events.Emit(r.Context(), s.events, events.ChefModerated, events.ModerationEvent{
		ID: app.UserID, Status: data.StatusApproved, ReviewerID: admin.ID,
	})
	middleware.WriteAPISuccess(w, r, app)
}

func (s *Service) RejectApplicationHandler(w http.ResponseWriter, r *http.Request) {
	admin := middleware.UserFromContext(r.Context())
	id := chi.URLParam(r, "id")

	reason, ok := parseReason(w, r)
	if !ok {
		return
	}
	if !s.applicationErr(w, r, data.RejectChefApplication(r.Context(), id, admin.ID, reason)) {
		return
	}

	app, err := data.GetChefApplication(r.Context(), id)
	if err != nil {
		middleware.WriteInternalError(w, r, "Failed to reload application", err)
		return
	}
	logger.LogInfo("Admin %s rejected chef application %s", admin.ID, id)
	events.Emit(r.Context(), s.events, events.ChefModerated, events.ModerationEvent{
		ID: app.UserID, Status: data.StatusRejected, Reason: reason, ReviewerID: admin.ID,
	})
	middleware.WriteAPISuccess(w, r, app)
}

// applicationErr writes the response for a failed review and reports whether err was nil.
func (s *Service) applicationErr(w http.ResponseWriter, r *http.Request, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, data.ErrNotFound):
		middleware.WriteAPIError(w, r, http.StatusNotFound, "application_not_found", "Application not found", "")
	case errors.Is(err, data.ErrAlreadyReviewed):
		middleware.WriteAPIError(w, r, http.StatusConflict, "already_reviewed", "Application has already been reviewed", "")
	default:
		middleware.WriteInternalError(w, r, "Failed to review application", err)
	}
	return false
}

// =============================================================================
// USERS
// =============================================================================

func (s *Service) ListUsersHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	role := q.Get("role")
	if role != "" && !validRole(role) {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_role", "Unknown role", role)
		return
	}
	users, err := data.ListUsers(r.Context(), data.UserFilter{Role: role, Query: strings.TrimSpace(q.Get("q"))})
	if err != nil {
		middleware.WriteInternalError(w, r, "Failed to load users", err)
		return
	}
	if users == nil {
		users = []data.User{}
	}
	middleware.WriteAPISuccess(w, r, users)
}

// SetRoleHandler changes a user's role. Admins cannot change their own.
func (s *Service) SetRoleHandler(w http.ResponseWriter, r *http.Request) {
	admin := middleware.UserFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req RoleRequest
	if err := middleware.ParseJSONRequest(r, &req); err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request", "Invalid request body", err.Error())
		return
	}
	if !validRole(req.Role) {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_role", "Role must be user, chef or admin", req.Role)
		return
	}
	if id == admin.ID {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "self_modification", "You cannot change your own role", "")
		return
	}

	if s.updateUser(w, r, id, func() error { return data.UpdateUserRole(r.Context(), id, req.Role) }) {
		logger.LogInfo("Admin %s set role of %s to %s", admin.ID, id, req.Role)
	}
}

func (s *Service) BanHandler(w http.ResponseWriter, r *http.Request) {
	s.setBanned(w, r, true)
}

func (s *Service) UnbanHandler(w http.ResponseWriter, r *http.Request) {
	s.setBanned(w, r, false)
}

func (s *Service) setBanned(w http.ResponseWriter, r *http.Request, banned bool) {
	admin := middleware.UserFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if id == admin.ID {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "self_modification", "You cannot ban yourself", "")
		return
	}
	if s.updateUser(w, r, id, func() error { return data.SetUserBanned(r.Context(), id, banned) }) {
		logger.LogInfo("Admin %s set banned=%t on user %s", admin.ID, banned, id)
	}
}

func (s *Service) updateUser(w http.ResponseWriter, r *http.Request, id string, apply func() error) bool {
	err := apply()
	if errors.Is(err, data.ErrNotFound) {
		middleware.WriteAPIError(w, r, http.StatusNotFound, "user_not_found", "User not found", "")
		return false
	}
	if err != nil {
		middleware.WriteInternalError(w, r, "Failed to update user", err)
		return false
	}
	u, err := data.GetUserByID(r.Context(), id)
	if err != nil {
		middleware.WriteInternalError(w, r, "Failed to reload user", err)
		return false
	}
	middleware.WriteAPISuccess(w, r, u)
	return true
}

// =============================================================================
// STATS
// =============================================================================

// StatsHandler returns store totals and revenue.
func (s *Service) StatsHandler(w http.ResponseWriter, r *http.Request) {
	start := s.now()

	summary, err := data.ComputeStoreSummary(r.Context(), start)
	if err != nil {
		middleware.WriteInternalError(w, r, "Failed to compute stats", err)
		return
	}

	resp := StatsResponse{
		StoreSummary: summary,
		GeneratedAt:  start.UTC(),
		ElapsedMS:    s.now().Sub(start).Milliseconds(),
	}
	if s.catalog != nil {
		resp.Plans = s.catalog.GetStats()
	}
	middleware.WriteAPISuccess(w, r, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

func reviewStatus(w http.ResponseWriter, r *http.Request) (string, bool) {
	status := r.URL.Query().Get("status")
	switch status {
	case "":
		return data.StatusPending, true
	case data.StatusPending, data.StatusApproved, data.StatusRejected:
		return status, true
	}
	middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_status", "status must be pending, approved or rejected", status)
	return "", false
}

func parseReason(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req ReviewRequest
	if err := middleware.ParseJSONRequest(r, &req); err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request", "Invalid request body", err.Error())
		return "", false
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" || len([]rune(reason)) > maxReasonLength {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "reason_required", "A rejection reason is required (max 500 characters)", "")
		return "", false
	}
	return reason, true
}

func validRole(role string) bool {
	return role == data.RoleUser || role == data.RoleChef || role == data.RoleAdmin
}
