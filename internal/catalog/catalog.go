// Package catalog holds the premium plans offered for sale.
package catalog

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"recipestore/internal/logger"
	"recipestore/internal/middleware"
)

// ErrUnknownPlan is returned for plan IDs that are missing or not for sale.
var ErrUnknownPlan = errors.New("unknown or unavailable plan")

const defaultCurrency = "VND"

var hundred = decimal.NewFromInt(100)

type Plan struct {
	ID              string          `yaml:"id" json:"id"`
	Name            string          `yaml:"name" json:"name"`
	Description     string          `yaml:"description" json:"description"`
	Price           decimal.Decimal `yaml:"price" json:"price"`
	Currency        string          `yaml:"currency" json:"currency"`
	DurationDays    int             `yaml:"duration_days" json:"duration_days"`
	DiscountPercent int             `yaml:"discount_percent" json:"discount_percent"`
	Available       bool            `yaml:"available" json:"available"`
}

// FinalPrice applies the discount and rounds to whole currency units.
func (p Plan) FinalPrice() decimal.Decimal {
	return p.Price.Mul(decimal.NewFromInt(int64(100 - p.DiscountPercent))).Div(hundred).Round(0)
}

// Duration is the premium time the plan grants.
func (p Plan) Duration() time.Duration {
	return time.Duration(p.DurationDays) * 24 * time.Hour
}

// PlanView is a plan as shown to buyers.
type PlanView struct {
	Plan
	FinalPrice decimal.Decimal `json:"final_price"`
}

type catalogFile struct {
	Plans []Plan `yaml:"plans"`
}

type Service struct {
	plans      map[string]Plan
	path       string
	lastLoaded time.Time
	mutex      sync.RWMutex
}

func NewService() *Service {
	return &Service{plans: make(map[string]Plan)}
}

// Load reads the YAML catalog at path and replaces the current plans.
func (s *Service) Load(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read plans file: %w", err)
	}

	plans, err := Parse(raw)
	if err != nil {
		return fmt.Errorf("failed to parse plans file %s: %w", path, err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.plans = plans
	s.path = path
	s.lastLoaded = time.Now()

	logger.LogInfo("Loaded plans catalog from %s: %d plans", path, len(plans))
	return nil
}

// Reload re-reads the file last passed to Load.
func (s *Service) Reload() error {
	s.mutex.RLock()
	path := s.path
	s.mutex.RUnlock()

	if path == "" {
		return errors.New("catalog has not been loaded")
	}
	return s.Load(path)
}

// Parse validates a YAML catalog document.
func Parse(raw []byte) (map[string]Plan, error) {
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, err
	}

	plans := make(map[string]Plan, len(file.Plans))
	for i, p := range file.Plans {
		if p.ID == "" {
			return nil, fmt.Errorf("plan %d has no id", i)
		}
		if _, dup := plans[p.ID]; dup {
			return nil, fmt.Errorf("duplicate plan id %q", p.ID)
		}
		if p.DurationDays <= 0 {
			return nil, fmt.Errorf("plan %q: duration_days must be positive", p.ID)
		}
		if p.DiscountPercent < 0 || p.DiscountPercent >= 100 {
			return nil, fmt.Errorf("plan %q: discount_percent must be in [0, 100)", p.ID)
		}
		if !p.FinalPrice().IsPositive() {
			return nil, fmt.Errorf("plan %q: final price must be positive", p.ID)
		}
		if p.Currency == "" {
			p.Currency = defaultCurrency
		}
		plans[p.ID] = p
	}
	return plans, nil
}

// Get returns a plan that is currently for sale.
func (s *Service) Get(id string) (Plan, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	p, ok := s.plans[id]
	if !ok || !p.Available {
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownPlan, id)
	}
	return p, nil
}

// Amount returns the charge for a plan in whole currency units.
func (s *Service) Amount(id string) (int64, error) {
	p, err := s.Get(id)
	if err != nil {
		return 0, err
	}
	return p.FinalPrice().IntPart(), nil
}

// Lookup returns any known plan, whether or not it is still for sale.
func (s *Service) Lookup(id string) (Plan, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	p, ok := s.plans[id]
	return p, ok
}

// Duration resolves the premium time for any known plan, including ones
// withdrawn from sale after an order was placed.
func (s *Service) Duration(id string) (time.Duration, error) {
	p, ok := s.Lookup(id)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownPlan, id)
	}
	return p.Duration(), nil
}

// List returns the plans for sale, cheapest first.
func (s *Service) List() []PlanView {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	views := make([]PlanView, 0, len(s.plans))
	for _, p := range s.plans {
		if p.Available {
			views = append(views, PlanView{Plan: p, FinalPrice: p.FinalPrice()})
		}
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].FinalPrice.Equal(views[j].FinalPrice) {
			return views[i].ID < views[j].ID
		}
		return views[i].FinalPrice.LessThan(views[j].FinalPrice)
	})
	return views
}

func (s *Service) GetStats() map[string]interface{} {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return map[string]interface{}{
		"plans_count": len(s.plans),
		"last_loaded": s.lastLoaded,
		"cache_age":   time.Since(s.lastLoaded).String(),
	}
}

// PlansHandler serves GET /api/plans.
func (s *Service) PlansHandler(w http.ResponseWriter, r *http.Request) {
	middleware.WriteAPISuccess(w, r, s.List())
}
