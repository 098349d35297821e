package data

import (
	"time"

	"github.com/shopspring/decimal"
)

// Roles
const (
	RoleUser  = "user"
	RoleChef  = "chef"
	RoleAdmin = "admin"
)

// Plans
const (
	PlanFree    = "free"
	PlanPremium = "premium"
)

// Order statuses mirror the gateway's payment link statuses where they overlap.
const (
	OrderPending   = "PENDING"
	OrderPaid      = "PAID"
	OrderCancelled = "CANCELLED"
	OrderExpired   = "EXPIRED"
	OrderFailed    = "FAILED"
)

// Transaction log statuses
const (
	TxSuccess        = "success"
	TxFailed         = "failed"
	TxAmountMismatch = "amount_mismatch"
)

// Review statuses shared by dishes and chef applications
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Support conversation statuses
const (
	ConversationOpen   = "open"
	ConversationClosed = "closed"
)

type User struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	PasswordHash     string     `json:"-"`
	FullName         string     `json:"full_name"`
	Role             string     `json:"role"`
	Plan             string     `json:"plan"`
	PremiumExpiresAt *time.Time `json:"premium_expires_at,omitempty"`
	Banned           bool       `json:"banned"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// IsPremium reports whether the user holds an unexpired premium plan.
func (u *User) IsPremium(at time.Time) bool {
	return u.Plan == PlanPremium && u.PremiumExpiresAt != nil && u.PremiumExpiresAt.After(at)
}

// HasRole reports whether the user passes a guard for any of roles. Admins pass every guard.
func (u *User) HasRole(roles ...string) bool {
	if u.Role == RoleAdmin {
		return true
	}
	for _, r := range roles {
		if u.Role == r {
			return true
		}
	}
	return false
}

type Session struct {
	TokenDigest string
	UserID      string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

type Order struct {
	OrderCode     int64      `json:"order_code"`
	UserID        string     `json:"user_id"`
	PlanID        string     `json:"plan_id"`
	Amount        int64      `json:"amount"`
	Description   string     `json:"description"`
	Status        string     `json:"status"`
	PaymentLinkID string     `json:"payment_link_id,omitempty"`
	CheckoutURL   string     `json:"checkout_url,omitempty"`
	Reference     string     `json:"reference,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
}

type Transaction struct {
	ID         int64     `json:"id"`
	OrderCode  int64     `json:"order_code"`
	UserID     string    `json:"user_id"`
	Amount     int64     `json:"amount"`
	Reference  string    `json:"reference"`
	Status     string    `json:"status"`
	Source     string    `json:"source"`
	RawPayload string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

type ChefProfile struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Bio         string    `json:"bio"`
	Specialty   string    `json:"specialty"`
	DishCount   int       `json:"dish_count"`
	CreatedAt   time.Time `json:"created_at"`
}

type ChefApplication struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	DisplayName string     `json:"display_name"`
	Bio         string     `json:"bio"`
	Specialty   string     `json:"specialty"`
	Status      string     `json:"status"`
	Reason      string     `json:"reason,omitempty"`
	ReviewedBy  string     `json:"reviewed_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
}

type Dish struct {
	ID              string          `json:"id"`
	Slug            string          `json:"slug"`
	ChefID          string          `json:"chef_id"`
	Title           string          `json:"title"`
	Summary         string          `json:"summary"`
	Ingredients     []string        `json:"ingredients"`
	Steps           []string        `json:"steps"`
	Cuisine         string          `json:"cuisine"`
	CookMinutes     int             `json:"cook_minutes"`
	Price           decimal.Decimal `json:"price"`
	IsPremium       bool            `json:"is_premium"`
	Status          string          `json:"status"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Subject   string    `json:"subject"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderRole     string    `json:"sender_role"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
}
