package dish

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"recipestore/internal/data"
	"recipestore/internal/logger"
	"recipestore/internal/middleware"
)

const (
	maxTitleLength   = 120
	maxSummaryLength = 1000
	maxListItems     = 100
	defaultPageSize  = 20
	maxPageSize      = 50
	maxPage          = 10000
)

// DishRequest is the body of chef create and update calls.
type DishRequest struct {
	Title       string          `json:"title"`
	Summary     string          `json:"summary"`
	Ingredients []string        `json:"ingredients"`
	Steps       []string        `json:"steps"`
	Cuisine     string          `json:"cuisine"`
	CookMinutes int             `json:"cook_minutes"`
	Price       decimal.Decimal `json:"price"`
	IsPremium   bool            `json:"is_premium"`
}

// View is a dish as shown to a particular viewer. Locked premium dishes carry no
// ingredients or steps.
type View struct {
	data.Dish
	Locked bool `json:"locked"`
}

type ListResponse struct {
	Dishes []View `json:"dishes"`
	Page   int    `json:"page"`
	Limit  int    `json:"limit"`
}

type Service struct {
	now func() time.Time
}

func NewService() *Service {
	return &Service{now: time.Now}
}

// CanViewFull reports whether viewer may see the whole of d. Owners and admins always may;
// premium dishes otherwise need an active premium plan.
func CanViewFull(viewer *data.User, d *data.Dish, at time.Time) bool {
	if !d.IsPremium {
		return true
	}
	if viewer == nil {
		return false
	}
	if viewer.Role == data.RoleAdmin || viewer.ID == d.ChefID {
		return true
	}
	return viewer.IsPremium(at)
}

// ViewFor returns d as viewer may see it.
func ViewFor(viewer *data.User, d data.Dish, at time.Time) View {
	if CanViewFull(viewer, &d, at) {
		return View{Dish: d}
	}
	d.Ingredients = []string{}
	d.Steps = []string{}
	return View{Dish: d, Locked: true}
}

func (s *Service) views(viewer *data.User, dishes []data.Dish) []View {
	now := s.now()
	out := make([]View, 0, len(dishes))
	for _, d := range dishes {
		out = append(out, ViewFor(viewer, d, now))
	}
	return out
}

// ListHandler serves GET /api/dishes: approved dishes, newest first.
func (s *Service) ListHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, limit, err := pagination(q.Get("page"), q.Get("limit"))
	if err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_pagination", err.Error(), "")
		return
	}

	filter := data.DishFilter{
		Status:  data.StatusApproved,
		ChefID:  q.Get("chef"),
		Cuisine: strings.TrimSpace(q.Get("cuisine")),
		Query:   strings.TrimSpace(q.Get("q")),
		Limit:   limit,
		Offset:  (page - 1) * limit,
	}
	if p := q.Get("premium"); p != "" {
		premium, err := strconv.ParseBool(p)
		if err != nil {
			middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_filter", "premium must be true or false", "")
			return
		}
		filter.Premium = &premium
	}

	dishes, err := data.ListDishes(r.Context(), filter)
	if err != nil {
		middleware.WriteInternalError(w, r, "Failed to load dishes", err)
		return
	}

	viewer := middleware.UserFromContext(r.Context())
	middleware.WriteAPISuccess(w, r, ListResponse{Dishes: s.views(viewer, dishes), Page: page, Limit: limit})
}

// GetHandler serves GET /api/dishes/{slug}. Unapproved dishes are visible only to
// their chef and admins.
func (s *Service) GetHandler(w http.ResponseWriter, r *http.Request) {
	viewer := middleware.UserFromContext(r.Context())

	d, ok := loadVisibleDish(w, r, viewer)
	if !ok {
		return
	}
	middleware.WriteAPISuccess(w, r, ViewFor(viewer, *d, s.now()))
}

// MineHandler lists the calling chef's dishes in every status.
func (s *Service) MineHandler(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	dishes, err := data.ListDishes(r.Context(), data.DishFilter{ChefID: user.ID, Limit: 500})
	if err != nil {
		middleware.WriteInternalError(w, r, "Failed to load dishes", err)
		return
	}
	middleware.WriteAPISuccess(w, r, dishes)
}

// CreateHandler submits a new dish for review.
func (s *Service) CreateHandler(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	req, ok := parseDishRequest(w, r)
	if !ok {
		return
	}

	d := &data.Dish{ID: uuid.NewString(), ChefID: user.ID, Status: data.StatusPending}
	req.applyTo(d)
	d.Slug = Slugify(d.Title, d.ID)

	if err := data.InsertDish(r.Context(), d); err != nil {
		middleware.WriteInternalError(w, r, "Failed to create dish", err)
		return
	}
	logger.LogInfo("Chef %s submitted dish %s (%s)", user.ID, d.ID, d.Slug)
	middleware.WriteAPIStatus(w, r, http.StatusCreated, d)
}

// UpdateHandler edits a dish and sends it back to review.
func (s *Service) UpdateHandler(w http.ResponseWriter, r *http.Request) {
	d, ok := loadOwnedDish(w, r)
	if !ok {
		return
	}
	req, ok := parseDishRequest(w, r)
	if !ok {
		return
	}

	req.applyTo(d)
	if err := data.UpdateDishContent(r.Context(), d); err != nil {
		middleware.WriteInternalError(w, r, "Failed to update dish", err)
		return
	}
	middleware.WriteAPISuccess(w, r, d)
}

func (s *Service) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	d, ok := loadOwnedDish(w, r)
	if !ok {
		return
	}
	if err := data.DeleteDish(r.Context(), d.ID); err != nil {
		middleware.WriteInternalError(w, r, "Failed to delete dish", err)
		return
	}
	logger.LogInfo("Dish %s deleted by %s", d.ID, middleware.UserFromContext(r.Context()).ID)
	middleware.WriteAPISuccess(w, r, map[string]string{"deleted": d.ID})
}

// AddFavoriteHandler and RemoveFavoriteHandler are idempotent.
func (s *Service) AddFavoriteHandler(w http.ResponseWriter, r *http.Request) {
	s.setFavorite(w, r, true)
}

func (s *Service) RemoveFavoriteHandler(w http.ResponseWriter, r *http.Request) {
	s.setFavorite(w, r, false)
}

func (s *Service) setFavorite(w http.ResponseWriter, r *http.Request, on bool) {
	user := middleware.UserFromContext(r.Context())

	d, ok := loadVisibleDish(w, r, user)
	if !ok {
		return
	}

	var err error
	if on {
		err = data.AddFavorite(r.Context(), user.ID, d.ID)
	} else {
		err = data.RemoveFavorite(r.Context(), user.ID, d.ID)
	}
	if err != nil {
		middleware.WriteInternalError(w, r, "Failed to update favorites", err)
		return
	}
	middleware.WriteAPISuccess(w, r, map[string]interface{}{"dish_id": d.ID, "favorite": on})
}

// FavoritesHandler lists the caller's favorite dishes.
func (s *Service) FavoritesHandler(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	dishes, err := data.ListFavoriteDishes(r.Context(), user.ID)
	if err != nil {
		middleware.WriteInternalError(w, r, "Failed to load favorites", err)
		return
	}
	middleware.WriteAPISuccess(w, r, s.views(user, dishes))
}

// =============================================================================
// HELPERS
// =============================================================================

func loadVisibleDish(w http.ResponseWriter, r *http.Request, viewer *data.User) (*data.Dish, bool) {
	d, err := data.GetDishBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil && !errors.Is(err, data.ErrNotFound) {
		middleware.WriteInternalError(w, r, "Failed to load dish", err)
		return nil, false
	}
	if err != nil || (d.Status != data.StatusApproved && !ownsOrAdmin(viewer, d)) {
		middleware.WriteAPIError(w, r, http.StatusNotFound, "dish_not_found", "Dish not found", "")
		return nil, false
	}
	return d, true
}

func loadOwnedDish(w http.ResponseWriter, r *http.Request) (*data.Dish, bool) {
	user := middleware.UserFromContext(r.Context())

	d, err := data.GetDishByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil && !errors.Is(err, data.ErrNotFound) {
		middleware.WriteInternalError(w, r, "Failed to load dish", err)
		return nil, false
	}
	if err != nil || !ownsOrAdmin(user, d) {
		middleware.WriteAPIError(w, r, http.StatusNotFound, "dish_not_found", "Dish not found", "")
		return nil, false
	}
	return d, true
}

func ownsOrAdmin(u *data.User, d *data.Dish) bool {
	return u != nil && (u.ID == d.ChefID || u.Role == data.RoleAdmin)
}

func parseDishRequest(w http.ResponseWriter, r *http.Request) (*DishRequest, bool) {
	var req DishRequest
	if err := middleware.ParseJSONRequest(r, &req); err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request", "Invalid request body", err.Error())
		return nil, false
	}
	req.normalize()
	if err := req.Validate(); err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "validation_failed", err.Error(), "")
		return nil, false
	}
	return &req, true
}

func (req *DishRequest) normalize() {
	req.Title = strings.TrimSpace(req.Title)
	req.Summary = strings.TrimSpace(req.Summary)
	req.Cuisine = strings.ToLower(strings.TrimSpace(req.Cuisine))
	req.Ingredients = compact(req.Ingredients)
	req.Steps = compact(req.Steps)
}

// Validate checks a normalized request.
func (req *DishRequest) Validate() error {
	switch {
	case req.Title == "":
		return errors.New("title is required")
	case len([]rune(req.Title)) > maxTitleLength:
		return fmt.Errorf("title must be at most %d characters", maxTitleLength)
	case len([]rune(req.Summary)) > maxSummaryLength:
		return fmt.Errorf("summary must be at most %d characters", maxSummaryLength)
	case len(req.Ingredients) == 0:
		return errors.New("at least one ingredient is required")
	case len(req.Steps) == 0:
		return errors.New("at least one step is required")
	case len(req.Ingredients) > maxListItems || len(req.Steps) > maxListItems:
		return fmt.Errorf("at most %d ingredients and %d steps are allowed", maxListItems, maxListItems)
	case req.Price.IsNegative():
		return errors.New("price cannot be negative")
	case req.CookMinutes < 0:
		return errors.New("cook_minutes cannot be negative")
	}
	return nil
}

func (req *DishRequest) applyTo(d *data.Dish) {
	d.Title = req.Title
	d.Summary = req.Summary
	d.Ingredients = req.Ingredients
	d.Steps = req.Steps
	d.Cuisine = req.Cuisine
	d.CookMinutes = req.CookMinutes
	d.Price = req.Price.Round(0)
	d.IsPremium = req.IsPremium
}

func compact(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}

// Slugify builds a URL slug from a title plus the first block of id.
func Slugify(title, id string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case r == 'đ':
			b.WriteRune('d')
			dash = false
		default:
			if base, ok := foldVietnamese(r); ok {
				b.WriteRune(base)
				dash = false
			} else if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
		if b.Len() >= 60 {
			break
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		slug = "dish"
	}
	suffix, _, _ := strings.Cut(id, "-")
	return slug + "-" + suffix
}

var vietnameseVowels = map[rune]string{
	'a': "àáảãạăằắẳẵặâầấẩẫậ",
	'e': "èéẻẽẹêềếểễệ",
	'i': "ìíỉĩị",
	'o': "òóỏõọôồốổỗộơờớởỡợ",
	'u': "ùúủũụưừứửữự",
	'y': "ỳýỷỹỵ",
}

func foldVietnamese(r rune) (rune, bool) {
	for base, variants := range vietnameseVowels {
		if strings.ContainsRune(variants, r) {
			return base, true
		}
	}
	return 0, false
}

func pagination(pageParam, limitParam string) (int, int, error) {
	page, limit := 1, defaultPageSize
	if pageParam != "" {
		p, err := strconv.Atoi(pageParam)
		if err != nil || p < 1 {
			return 0, 0, errors.New("page must be a positive integer")
		}
		if p > maxPage {
			return 0, 0, fmt.Errorf("page must be at most %d", maxPage)
		}
		page = p
	}
	if limitParam != "" {
		l, err := strconv.Atoi(limitParam)
		if err != nil || l < 1 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
		limit = min(l, maxPageSize)
	}
	return page, limit, nil
}
