package payment

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"recipestore/internal/catalog"
	"recipestore/internal/data"
	"recipestore/internal/email"
	"recipestore/internal/events"
	"recipestore/internal/logger"
	"recipestore/internal/metrics"
	"recipestore/internal/payos"
)

// Payment sources recorded on transaction rows.
const (
	SourceWebhook   = "webhook"
	SourceReconcile = "reconcile"
)

// maxOrderCode is the largest integer the gateway (and JavaScript clients) handle exactly.
const maxOrderCode = 1<<53 - 1

// Gateway is the subset of the PayOS client used by checkout and reconciliation.
type Gateway interface {
	CreatePaymentLink(ctx context.Context, req payos.PaymentRequest) (*payos.PaymentLink, error)
	GetPaymentLink(ctx context.Context, orderCode int64) (*payos.PaymentLinkInfo, error)
	CancelPaymentLink(ctx context.Context, orderCode int64, reason string) (*payos.PaymentLinkInfo, error)
}

// Notifier sends the emails that follow a payment.
type Notifier interface {
	SendPremiumActivation(ctx context.Context, d email.ActivationData) error
	SendAlert(ctx context.Context, subject, body string) error
}

// NewOrderCode returns a positive order code built from the clock and three random digits.
func NewOrderCode(now time.Time) (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000))
	if err != nil {
		return 0, err
	}
	code := now.UnixMilli()*1000 + n.Int64()
	if code > maxOrderCode {
		code = code%maxOrderCode + 1
	}
	return code, nil
}

// Fulfiller applies confirmed gateway outcomes to orders and users and fans out
// the side effects. Webhook and reconciliation share it.
type Fulfiller struct {
	catalog  *catalog.Service
	notifier Notifier
	events   events.Publisher
}

func NewFulfiller(cat *catalog.Service, notifier Notifier, pub events.Publisher) *Fulfiller {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Fulfiller{catalog: cat, notifier: notifier, events: pub}
}

// ApplyPaid records a confirmed payment. Repeated calls for the same order are no-ops.
func (f *Fulfiller) ApplyPaid(ctx context.Context, in data.PaymentInput) (*data.PaymentOutcome, error) {
	out, err := data.ApplyPayment(ctx, in, f.catalog.Duration)
	if err != nil {
		return nil, err
	}

	switch {
	case out.AlreadyProcessed:
		logger.LogInfo("Order %d already paid, ignoring %s confirmation", in.OrderCode, in.Source)
		return out, nil
	case out.MismatchSeen:
		logger.LogInfo("Order %d underpayment %s already on file", in.OrderCode, in.Reference)
		return out, nil
	case out.AmountMismatch:
		logger.LogWarn("Order %d paid %d, expected %d; left pending", in.OrderCode, in.Amount, out.Order.Amount)
		f.alert(ctx, fmt.Sprintf("Amount mismatch on order %d", in.OrderCode),
			fmt.Sprintf("Order %d expected %d but the gateway reported %d (reference %s, source %s).",
				in.OrderCode, out.Order.Amount, in.Amount, in.Reference, in.Source))
		return out, nil
	}

	logger.LogInfo("Order %d paid via %s; user %s premium until %s",
		in.OrderCode, in.Source, out.Order.UserID, out.PremiumExpiresAt.Format(time.RFC3339))
	metrics.PremiumActivations.WithLabelValues(out.Order.PlanID, in.Source).Inc()

	events.Emit(ctx, f.events, events.OrderPaid, events.OrderPaidEvent{
		OrderCode:        out.Order.OrderCode,
		UserID:           out.Order.UserID,
		PlanID:           out.Order.PlanID,
		Amount:           in.Amount,
		Source:           in.Source,
		PremiumExpiresAt: out.PremiumExpiresAt,
	})

	f.sendActivation(ctx, out)
	return out, nil
}

// ApplyFailure records a payment the gateway reported as failed.
func (f *Fulfiller) ApplyFailure(ctx context.Context, in data.PaymentInput, reason string) (*data.Order, error) {
	order, err := data.RecordPaymentFailure(ctx, in)
	if err != nil {
		return nil, err
	}

	logger.LogWarn("Order %d payment failed via %s: %s", in.OrderCode, in.Source, reason)
	events.Emit(ctx, f.events, events.OrderFailed, map[string]interface{}{
		"order_code": in.OrderCode,
		"user_id":    order.UserID,
		"reason":     reason,
	})
	f.alert(ctx, fmt.Sprintf("Payment failed for order %d", in.OrderCode),
		fmt.Sprintf("The gateway reported a failed payment for order %d: %s", in.OrderCode, reason))
	return order, nil
}

func (f *Fulfiller) sendActivation(ctx context.Context, out *data.PaymentOutcome) {
	if f.notifier == nil || out.User == nil {
		return
	}

	planName := out.Order.PlanID
	if plan, ok := f.catalog.Lookup(out.Order.PlanID); ok && plan.Name != "" {
		planName = plan.Name
	}

	err := f.notifier.SendPremiumActivation(ctx, email.ActivationData{
		FullName:         out.User.FullName,
		Email:            out.User.Email,
		PlanName:         planName,
		OrderCode:        out.Order.OrderCode,
		Amount:           out.Order.Amount,
		PremiumExpiresAt: out.PremiumExpiresAt,
	})
	if err != nil {
		logger.LogError("Activation email for order %d failed: %v", out.Order.OrderCode, err)
	}
}

func (f *Fulfiller) alert(ctx context.Context, subject, body string) {
	if f.notifier == nil {
		return
	}
	if err := f.notifier.SendAlert(ctx, subject, body); err != nil {
		logger.LogError("Alert email %q failed: %v", subject, err)
	}
}
