// Package events publishes domain events for other services to consume.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"recipestore/internal/logger"
)

// SubjectPrefix is prepended to every subject published.
const SubjectPrefix = "recipestore."

// Subjects
const (
	OrderPaid      = "orders.paid"
	OrderFailed    = "orders.failed"
	DishModerated  = "dishes.moderated"
	ChefModerated  = "chefs.moderated"
	SupportMessage = "support.messages"
)

// Publisher sends an event payload under subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, v interface{}) error
	Close() error
}

// Envelope wraps every payload on the wire.
type Envelope struct {
	Subject    string          `json:"subject"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

type OrderPaidEvent struct {
	OrderCode        int64     `json:"order_code"`
	UserID           string    `json:"user_id"`
	PlanID           string    `json:"plan_id"`
	Amount           int64     `json:"amount"`
	Source           string    `json:"source"`
	PremiumExpiresAt time.Time `json:"premium_expires_at"`
}

type ModerationEvent struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	ReviewerID string `json:"reviewer_id"`
}

// Nop discards events. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, interface{}) error { return nil }
func (Nop) Close() error                                       { return nil }

// NATSPublisher publishes JSON envelopes to a NATS server.
type NATSPublisher struct {
	conn *nats.Conn
	once sync.Once
}

// Connect dials url and returns a publisher. It retries the initial connection
// in the background so a broker restart does not block startup.
func Connect(url string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("recipestore"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.LogWarn("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.LogInfo("NATS reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSPublisher{conn: conn}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, subject string, v interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", subject, err)
	}
	msg, err := json.Marshal(Envelope{Subject: subject, OccurredAt: time.Now().UTC(), Payload: payload})
	if err != nil {
		return err
	}
	if err := p.conn.Publish(SubjectPrefix+subject, msg); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	var err error
	p.once.Do(func() {
		err = p.conn.Drain()
	})
	return err
}

// New returns a NATS publisher for url, or Nop when url is empty.
func New(url string) (Publisher, error) {
	if url == "" {
		logger.LogInfo("NATS_URL not set, domain events disabled")
		return Nop{}, nil
	}
	p, err := Connect(url)
	if err != nil {
		return nil, err
	}
	logger.LogInfo("Publishing domain events to NATS at %s", url)
	return p, nil
}

// Emit publishes and logs failures. Event delivery never fails the caller.
func Emit(ctx context.Context, p Publisher, subject string, v interface{}) {
	if p == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.Publish(ctx, subject, v); err != nil {
		logger.LogWarn("Failed to publish %s event: %v", subject, err)
	}
}

// Recorder keeps published events in memory. Tests use it in place of a broker.
type Recorder struct {
	mu     sync.Mutex
	Events []Envelope
}

func (r *Recorder) Publish(_ context.Context, subject string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, Envelope{Subject: subject, OccurredAt: time.Now().UTC(), Payload: payload})
	return nil
}

func (r *Recorder) Close() error { return nil }

// Subjects returns the subjects recorded so far.
func (r *Recorder) Subjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Events))
	for i, e := range r.Events {
		out[i] = e.Subject
	}
	return out
}
