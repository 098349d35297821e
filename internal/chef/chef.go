package chef

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"recipestore/internal/data"
	"recipestore/internal/logger"
	"recipestore/internal/middleware"
)

const (
	maxDisplayName = 80
	maxBio         = 2000
	maxSpecialty   = 120
)

type ApplyRequest struct {
	DisplayName string `json:"display_name"`
	Bio         string `json:"bio"`
	Specialty   string `json:"specialty"`
}

// ProfileResponse is a chef with their published dishes.
type ProfileResponse struct {
	*data.ChefProfile
	Dishes []data.Dish `json:"dishes"`
}

// ApplyHandler files a chef application for the caller.
func ApplyHandler(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user.Role != data.RoleUser {
		middleware.WriteAPIError(w, r, http.StatusConflict, "already_chef", "Only regular users can apply", user.Role)
		return
	}

	var req ApplyRequest
	if err := middleware.ParseJSONRequest(r, &req); err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request", "Invalid request body", err.Error())
		return
	}
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	req.Bio = strings.TrimSpace(req.Bio)
	req.Specialty = strings.TrimSpace(req.Specialty)

	switch {
	case req.DisplayName == "" || len([]rune(req.DisplayName)) > maxDisplayName:
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "validation_failed", "display_name is required (max 80 characters)", "")
		return
	case len([]rune(req.Bio)) > maxBio || len([]rune(req.Specialty)) > maxSpecialty:
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "validation_failed", "bio or specialty is too long", "")
		return
	}

	app := &data.ChefApplication{
		UserID:      user.ID,
		DisplayName: req.DisplayName,
		Bio:         req.Bio,
		Specialty:   req.Specialty,
	}
	if err := data.InsertChefApplication(r.Context(), app); err != nil {
		if errors.Is(err, data.ErrApplicationOpen) {
			middleware.WriteAPIError(w, r, http.StatusConflict, "application_pending", "You already have a pending application", "")
			return
		}
		middleware.WriteInternalError(w, r, "Failed to submit application", err)
		return
	}

	logger.LogInfo("User %s applied to become a chef (%s)", user.ID, app.ID)
	middleware.WriteAPIStatus(w, r, http.StatusCreated, app)
}

// ListHandler lists active chefs with their approved dish counts.
func ListHandler(w http.ResponseWriter, r *http.Request) {
	chefs, err := data.ListChefs(r.Context())
	if err != nil {
		middleware.WriteInternalError(w, r, "Failed to load chefs", err)
		return
	}
	middleware.WriteAPISuccess(w, r, chefs)
}

// GetHandler returns a chef profile and the chef's approved dishes.
func GetHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	profile, err := data.GetChefProfile(r.Context(), id)
	if errors.Is(err, data.ErrNotFound) {
		middleware.WriteAPIError(w, r, http.StatusNotFound, "chef_not_found", "Chef not found", "")
		return
	}
	if err != nil {
		middleware.WriteInternalError(w, r, "Failed to load chef", err)
		return
	}

	dishes, err := data.ListDishes(r.Context(), data.DishFilter{ChefID: id, Status: data.StatusApproved, Limit: 100})
	if err != nil {
		middleware.WriteInternalError(w, r, "Failed to load chef dishes", err)
		return
	}
	for i := range dishes {
		// Premium content is never part of a profile listing.
		if dishes[i].IsPremium {
			dishes[i].Ingredients, dishes[i].Steps = []string{}, []string{}
		}
	}
	middleware.WriteAPISuccess(w, r, ProfileResponse{ChefProfile: profile, Dishes: dishes})
}
