package dish

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipestore/internal/data"
)

func TestSlugify(t *testing.T) {
	id := "1f0c2a9e-0000-4000-8000-000000000000"

	tests := []struct {
		title string
		want  string
	}{
		{"Phở Bò Hà Nội", "pho-bo-ha-noi-1f0c2a9e"},
		{"Bánh mì đặc biệt", "banh-mi-dac-biet-1f0c2a9e"},
		{"  Grilled -- Pork!! ", "grilled-pork-1f0c2a9e"},
		{"!!!", "dish-1f0c2a9e"},
		{"Chè 3 màu", "che-3-mau-1f0c2a9e"},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.want, Slugify(tt.title, id))
		})
	}

	long := Slugify(strings.Repeat("bun cha ", 30), id)
	assert.LessOrEqual(t, len(long), 60+1+8)
	assert.True(t, strings.HasSuffix(long, "-1f0c2a9e"))
	assert.NotContains(t, long, "--")
}

func TestValidate(t *testing.T) {
	valid := func() DishRequest {
		return DishRequest{
			Title:       "Cơm tấm",
			Ingredients: []string{"broken rice", "pork chop"},
			Steps:       []string{"grill the pork", "serve on rice"},
			Price:       decimal.NewFromInt(45000),
		}
	}

	tests := []struct {
		name   string
		mutate func(*DishRequest)
		errMsg string
	}{
		{name: "valid", mutate: func(*DishRequest) {}},
		{name: "no title", mutate: func(r *DishRequest) { r.Title = "" }, errMsg: "title is required"},
		{name: "long title", mutate: func(r *DishRequest) { r.Title = strings.Repeat("x", 121) }, errMsg: "title must be"},
		{name: "long summary", mutate: func(r *DishRequest) { r.Summary = strings.Repeat("x", 1001) }, errMsg: "summary must be"},
		{name: "no ingredients", mutate: func(r *DishRequest) { r.Ingredients = nil }, errMsg: "ingredient"},
		{name: "no steps", mutate: func(r *DishRequest) { r.Steps = []string{} }, errMsg: "step"},
		{name: "negative price", mutate: func(r *DishRequest) { r.Price = decimal.NewFromInt(-1) }, errMsg: "price"},
		{name: "negative time", mutate: func(r *DishRequest) { r.CookMinutes = -5 }, errMsg: "cook_minutes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(&req)
			err := req.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestNormalizeDropsBlankItems(t *testing.T) {
	req := DishRequest{
		Title:       "  Gỏi cuốn ",
		Cuisine:     " Vietnamese ",
		Ingredients: []string{" rice paper ", "", "   ", "shrimp"},
		Steps:       []string{"", "roll"},
	}
	req.normalize()

	assert.Equal(t, "Gỏi cuốn", req.Title)
	assert.Equal(t, "vietnamese", req.Cuisine)
	assert.Equal(t, []string{"rice paper", "shrimp"}, req.Ingredients)
	assert.Equal(t, []string{"roll"}, req.Steps)
}

func TestViewFor(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	premiumDish := data.Dish{ID: "d1", ChefID: "chef", IsPremium: true,
		Ingredients: []string{"secret"}, Steps: []string{"magic"}}
	freeDish := premiumDish
	freeDish.IsPremium = false

	tests := []struct {
		name   string
		viewer *data.User
		dish   data.Dish
		locked bool
	}{
		{name: "free dish, anonymous", viewer: nil, dish: freeDish},
		{name: "premium dish, anonymous", viewer: nil, dish: premiumDish, locked: true},
		{name: "premium dish, free user", viewer: &data.User{ID: "u", Role: data.RoleUser, Plan: data.PlanFree}, dish: premiumDish, locked: true},
		{name: "premium dish, lapsed premium", viewer: &data.User{ID: "u", Plan: data.PlanPremium, PremiumExpiresAt: &past}, dish: premiumDish, locked: true},
		{name: "premium dish, active premium", viewer: &data.User{ID: "u", Plan: data.PlanPremium, PremiumExpiresAt: &future}, dish: premiumDish},
		{name: "premium dish, owner", viewer: &data.User{ID: "chef", Role: data.RoleChef}, dish: premiumDish},
		{name: "premium dish, other chef", viewer: &data.User{ID: "other", Role: data.RoleChef}, dish: premiumDish, locked: true},
		{name: "premium dish, admin", viewer: &data.User{ID: "a", Role: data.RoleAdmin}, dish: premiumDish},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := ViewFor(tt.viewer, tt.dish, now)
			assert.Equal(t, tt.locked, v.Locked)
			if tt.locked {
				assert.Empty(t, v.Ingredients)
				assert.Empty(t, v.Steps)
				assert.NotNil(t, v.Ingredients)
			} else {
				assert.Equal(t, []string{"secret"}, v.Ingredients)
			}
		})
	}

	// The caller's dish is never modified.
	assert.Equal(t, []string{"secret"}, premiumDish.Ingredients)
}

func TestPagination(t *testing.T) {
	page, limit, err := pagination("", "")
	require.NoError(t, err)
	assert.Equal(t, 1, page)
	assert.Equal(t, defaultPageSize, limit)

	page, limit, err = pagination("3", "500")
	require.NoError(t, err)
	assert.Equal(t, 3, page)
	assert.Equal(t, maxPageSize, limit)

	page, _, err = pagination("10000", "")
	require.NoError(t, err)
	assert.Equal(t, maxPage, page)

	for _, bad := range [][2]string{{"0", ""}, {"x", ""}, {"", "-1"}, {"", "ten"}, {"10001", ""}, {"9223372036854775807", "50"}} {
		_, _, err := pagination(bad[0], bad[1])
		assert.Error(t, err, bad)
	}
}
